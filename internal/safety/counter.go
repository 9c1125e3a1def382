// Package safety implements the vendor protection fabric: circuit breaker,
// sliding-window rate limiter, retry-budget enforcer, and rules lookup.
//
// Breaker state lives in the relational store (it is part of the Vendor
// row and must be consistent with the rest of a transaction). Rate-limit
// and retry-budget counters live in the shared-state cache (Redis),
// exactly as the pre-distillation implementation's rate_limiter.py and
// limits.py do, because they are high-frequency, cross-instance counters
// that do not need relational consistency.
package safety

import (
	"context"
	"sync"
	"time"
)

// WindowCounter is a fixed-window counter with TTL: Incr bumps the count for
// key and (re)sets its expiry to window; Get reads the current count and
// remaining TTL without mutating it. Implementations must fail open: a
// Counter error is the caller's signal to treat the check as "allowed".
type WindowCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, err error)
	Get(ctx context.Context, key string) (count int64, ttl time.Duration, err error)
}

// MemCounter is an in-process WindowCounter, used in tests and when no
// Redis URL is configured.
type MemCounter struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	count     int64
	expiresAt time.Time
}

func NewMemCounter(now func() time.Time) *MemCounter {
	if now == nil {
		now = time.Now
	}
	return &MemCounter{entries: make(map[string]memEntry), now: now}
}

func (m *MemCounter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	e, ok := m.entries[key]
	if !ok || now.After(e.expiresAt) {
		e = memEntry{count: 0, expiresAt: now.Add(window)}
	}
	e.count++
	m.entries[key] = e
	return e.count, nil
}

func (m *MemCounter) Get(_ context.Context, key string) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	e, ok := m.entries[key]
	if !ok || now.After(e.expiresAt) {
		return 0, 0, nil
	}
	return e.count, e.expiresAt.Sub(now), nil
}
