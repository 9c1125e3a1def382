package safety

import (
	"context"
	"database/sql"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"failsafe/internal/domain"
	"failsafe/internal/repo"
)

// ErrBreakerOpen signals the vendor's circuit is open and the caller must
// reject the request with a service-unavailable class.
var ErrBreakerOpen = errBreakerOpen{}

type errBreakerOpen struct{}

func (errBreakerOpen) Error() string { return "circuit breaker open" }

// VendorDefaults holds the breaker parameters a Breaker applies to every
// vendor; the Breaker has no per-vendor override.
type VendorDefaults struct {
	FailureThreshold int
	CooldownSeconds  int
	ProbeCap         int
}

// Breaker implements the per-vendor three-state circuit breaker. State
// (breaker_state, breaker_failure_count, breaker_opened_at,
// breaker_probe_count) lives on the Vendor row in the relational store
// rather than in Redis: the store is transactional and already
// cross-instance-visible, satisfying the same "shared, distributed state"
// requirement the cache would, without a second source of truth for a value
// that is part of the Vendor entity itself.
type Breaker struct {
	Repo     repo.Repo
	Now      func() time.Time
	Defaults VendorDefaults
	cache    *lru.Cache[string, domain.Vendor]
}

func NewBreaker(r repo.Repo, now func() time.Time, defaults VendorDefaults) *Breaker {
	if now == nil {
		now = time.Now
	}
	c, _ := lru.New[string, domain.Vendor](1024)
	return &Breaker{Repo: r, Now: now, Defaults: defaults, cache: c}
}

func (b *Breaker) invalidate(tenantID, vendorID string) {
	if b.cache != nil {
		b.cache.Remove(tenantID + ":" + vendorID)
	}
}

func (b *Breaker) threshold(v domain.Vendor) int {
	if b.Defaults.FailureThreshold > 0 {
		return b.Defaults.FailureThreshold
	}
	return 5
}

func (b *Breaker) cooldown() time.Duration {
	if b.Defaults.CooldownSeconds > 0 {
		return time.Duration(b.Defaults.CooldownSeconds) * time.Second
	}
	return 60 * time.Second
}

func (b *Breaker) probeCap() int {
	if b.Defaults.ProbeCap > 0 {
		return b.Defaults.ProbeCap
	}
	return 1
}

// ProbeCap exposes the configured HALF_OPEN probe cap for callers deciding
// whether to admit a request without mutating breaker state (see Peek).
func (b *Breaker) ProbeCap() int {
	return b.probeCap()
}

// CheckStateTx reads current state, lazily transitioning OPEN -> HALF_OPEN
// once the cooldown has elapsed.
func (b *Breaker) CheckStateTx(ctx context.Context, tx *sql.Tx, tenantID, vendorID string) (domain.Vendor, error) {
	v, err := b.Repo.GetVendorTx(ctx, tx, tenantID, vendorID)
	if err != nil {
		return v, err
	}
	if v.BreakerState == domain.BreakerOpen && v.BreakerOpenedAt != nil {
		openedAt, perr := time.Parse(time.RFC3339, *v.BreakerOpenedAt)
		if perr == nil && b.Now().Sub(openedAt) >= b.cooldown() {
			v, err = b.Repo.UpdateBreakerStateTx(ctx, tx, tenantID, vendorID, domain.BreakerHalfOpen, nil)
			if err != nil {
				return v, err
			}
			b.invalidate(tenantID, vendorID)
		}
	}
	return v, nil
}

// ShouldAllowTx reports whether a request to vendorID should be admitted,
// per §4.3.1: OPEN blocks, CLOSED allows, HALF_OPEN allows up to probe_cap
// concurrent probes.
func (b *Breaker) ShouldAllowTx(ctx context.Context, tx *sql.Tx, tenantID, vendorID string) (bool, error) {
	v, err := b.CheckStateTx(ctx, tx, tenantID, vendorID)
	if err != nil {
		return false, err
	}
	switch v.BreakerState {
	case domain.BreakerOpen:
		return false, nil
	case domain.BreakerHalfOpen:
		if v.BreakerProbeCount >= b.probeCap() {
			return false, nil
		}
		_, err := b.Repo.IncrementBreakerProbeTx(ctx, tx, tenantID, vendorID)
		if err != nil {
			return false, err
		}
		b.invalidate(tenantID, vendorID)
		return true, nil
	default:
		return true, nil
	}
}

// RecordFailureTx increments the failure count and opens the breaker once
// the threshold is crossed; in HALF_OPEN, any failure reopens it.
func (b *Breaker) RecordFailureTx(ctx context.Context, tx *sql.Tx, tenantID, vendorID string) (string, error) {
	v, err := b.Repo.GetVendorTx(ctx, tx, tenantID, vendorID)
	if err != nil {
		return "", err
	}
	now := b.Now().UTC().Format(time.RFC3339)

	if v.BreakerState == domain.BreakerHalfOpen {
		v, err = b.Repo.UpdateBreakerStateTx(ctx, tx, tenantID, vendorID, domain.BreakerOpen, &now)
		if err != nil {
			return "", err
		}
		if _, err := b.Repo.IncrementBreakerFailureTx(ctx, tx, tenantID, vendorID); err != nil {
			return "", err
		}
		b.invalidate(tenantID, vendorID)
		return domain.BreakerOpen, nil
	}

	v, err = b.Repo.IncrementBreakerFailureTx(ctx, tx, tenantID, vendorID)
	if err != nil {
		return "", err
	}
	if v.BreakerState == domain.BreakerClosed && v.BreakerFailureCount >= b.threshold(v) {
		_, err := b.Repo.UpdateBreakerStateTx(ctx, tx, tenantID, vendorID, domain.BreakerOpen, &now)
		if err != nil {
			return "", err
		}
		b.invalidate(tenantID, vendorID)
		return domain.BreakerOpen, nil
	}
	b.invalidate(tenantID, vendorID)
	return v.BreakerState, nil
}

// Peek returns a cached, possibly slightly stale read of vendor breaker
// state without opening a transaction, for cheap pre-checks ahead of the
// authoritative Tx path (e.g. deciding whether an incident is even worth
// acting on before the action coordinator opens its transaction). It must
// never be used as the sole gate for a state mutation.
func (b *Breaker) Peek(ctx context.Context, tenantID, vendorID string) (domain.Vendor, error) {
	key := tenantID + ":" + vendorID
	if b.cache != nil {
		if v, ok := b.cache.Get(key); ok {
			return v, nil
		}
	}
	v, err := b.Repo.GetVendor(ctx, tenantID, vendorID)
	if err != nil {
		return v, err
	}
	if b.cache != nil {
		b.cache.Add(key, v)
	}
	return v, nil
}

// RecordSuccessTx resets counters; in HALF_OPEN, a successful probe closes
// the breaker.
func (b *Breaker) RecordSuccessTx(ctx context.Context, tx *sql.Tx, tenantID, vendorID string) (string, error) {
	v, err := b.Repo.GetVendorTx(ctx, tx, tenantID, vendorID)
	if err != nil {
		return "", err
	}
	if v.BreakerState == domain.BreakerHalfOpen {
		if err := b.Repo.ResetBreakerFailureTx(ctx, tx, tenantID, vendorID); err != nil {
			return "", err
		}
		if _, err := b.Repo.UpdateBreakerStateTx(ctx, tx, tenantID, vendorID, domain.BreakerClosed, nil); err != nil {
			return "", err
		}
		b.invalidate(tenantID, vendorID)
		return domain.BreakerClosed, nil
	}
	if v.BreakerState == domain.BreakerClosed {
		if err := b.Repo.ResetBreakerFailureTx(ctx, tx, tenantID, vendorID); err != nil {
			return "", err
		}
		b.invalidate(tenantID, vendorID)
	}
	return v.BreakerState, nil
}
