package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SlidingWindow admits requests against a true sliding window: the number
// of admissions returned true for key in any window-length interval never
// exceeds limit, regardless of where that interval falls relative to any
// fixed boundary. This is stricter than a fixed-window counter, which can
// admit up to 2*limit across a boundary, and is what the rate limiter's
// testable admission bound requires.
type SlidingWindow interface {
	// Admit records an attempt at "now" and reports whether it is within
	// limit for the trailing window ending at now. When not admitted,
	// retryAfter estimates the wait until the oldest entry in the window
	// expires. Implementations must fail open: an error means "admit".
	Admit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (allowed bool, retryAfter time.Duration, err error)
}

// RedisSlidingWindow implements SlidingWindow with a Redis sorted set per
// key: members are unique per-attempt tokens, scores are attempt
// timestamps. Each call evicts entries older than the window, counts what
// remains, and only keeps its own entry if under limit. Grounded in the
// pre-distillation rate limiter's Redis-backed admission check, generalized
// from its fixed-window INCR+EXPIRE to a sorted-set sliding window because
// the admission bound must hold over every window, not just calendar-aligned
// ones.
type RedisSlidingWindow struct {
	Client *redis.Client
	seq    uint64
	mu     sync.Mutex
}

func NewRedisSlidingWindow(client *redis.Client) *RedisSlidingWindow {
	return &RedisSlidingWindow{Client: client}
}

func (w *RedisSlidingWindow) nextMember(now time.Time) string {
	w.mu.Lock()
	w.seq++
	n := w.seq
	w.mu.Unlock()
	return fmt.Sprintf("%d-%d", now.UnixNano(), n)
}

func (w *RedisSlidingWindow) Admit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (bool, time.Duration, error) {
	member := w.nextMember(now)
	nowScore := float64(now.UnixNano())
	floor := float64(now.Add(-window).UnixNano())

	pipe := w.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%.0f", floor))
	pipe.ZAdd(ctx, key, redis.Z{Score: nowScore, Member: member})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, 0, err
	}

	if card.Val() <= int64(limit) {
		return true, 0, nil
	}

	w.Client.ZRem(ctx, key, member)
	oldest, err := w.Client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil || len(oldest) == 0 {
		return false, window, nil
	}
	oldestAt := time.Unix(0, int64(oldest[0].Score))
	wait := window - now.Sub(oldestAt)
	if wait < 0 {
		wait = 0
	}
	return false, wait, nil
}

// MemSlidingWindow is an in-process SlidingWindow for tests and for when no
// Redis URL is configured.
type MemSlidingWindow struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

func NewMemSlidingWindow() *MemSlidingWindow {
	return &MemSlidingWindow{entries: make(map[string][]time.Time)}
}

func (w *MemSlidingWindow) Admit(_ context.Context, key string, limit int, window time.Duration, now time.Time) (bool, time.Duration, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	floor := now.Add(-window)
	kept := w.entries[key][:0]
	for _, t := range w.entries[key] {
		if t.After(floor) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		wait := window - now.Sub(kept[0])
		if wait < 0 {
			wait = 0
		}
		w.entries[key] = kept
		return false, wait, nil
	}
	kept = append(kept, now)
	w.entries[key] = kept
	return true, 0, nil
}

// Limiter enforces the per-vendor and per-tenant admission limits described
// in the safety fabric, failing open on backend errors so a Redis outage
// degrades to unlimited admission rather than blocking all traffic.
type Limiter struct {
	Window SlidingWindow
	Now    func() time.Time
}

func NewLimiter(w SlidingWindow, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{Window: w, Now: now}
}

// AllowVendor checks the tenant+vendor key against the vendor's configured
// per-minute rate.
func (l *Limiter) AllowVendor(ctx context.Context, tenantID, vendorID string, perMinute int) (bool, time.Duration, error) {
	if perMinute <= 0 {
		return true, 0, nil
	}
	key := "rl:vendor:" + tenantID + ":" + vendorID
	allowed, retryAfter, err := l.Window.Admit(ctx, key, perMinute, time.Minute, l.Now())
	if err != nil {
		return true, 0, nil
	}
	return allowed, retryAfter, nil
}

// AllowTenant checks the tenant-wide admission key against its configured
// per-minute rate, independent of any vendor named in the request.
func (l *Limiter) AllowTenant(ctx context.Context, tenantID string, perMinute int) (bool, time.Duration, error) {
	if perMinute <= 0 {
		return true, 0, nil
	}
	key := "rl:tenant:" + tenantID
	allowed, retryAfter, err := l.Window.Admit(ctx, key, perMinute, time.Minute, l.Now())
	if err != nil {
		return true, 0, nil
	}
	return allowed, retryAfter, nil
}
