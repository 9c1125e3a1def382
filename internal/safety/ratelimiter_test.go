package safety_test

import (
	"context"
	"testing"
	"time"

	"failsafe/internal/safety"
)

// TestSlidingWindowAdmissionBound verifies the admission bound that a fixed
// window counter cannot guarantee, straddling a boundary a fixed window
// would reset on. The attempts span one window plus a few milliseconds, so
// the first admission falls out of the trailing window of the later ones:
// a sliding window admits at most limit+1 here, a fixed window up to
// 2*limit.
func TestSlidingWindowAdmissionBound(t *testing.T) {
	w := safety.NewMemSlidingWindow()
	limit := 5
	window := 10 * time.Second
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	admitted := 0
	// Admit limit requests just before the boundary a fixed window would
	// reset on, then immediately after: a fixed-window counter would allow
	// 2*limit here since each half falls in a different calendar window.
	for i := 0; i < limit; i++ {
		now := base.Add(time.Duration(i) * time.Second)
		ok, _, err := w.Admit(context.Background(), "k", limit, window, now)
		if err != nil {
			t.Fatalf("admit: %v", err)
		}
		if ok {
			admitted++
		}
	}
	for i := 0; i < limit; i++ {
		now := base.Add(window).Add(time.Duration(i) * time.Millisecond)
		ok, _, err := w.Admit(context.Background(), "k", limit, window, now)
		if err != nil {
			t.Fatalf("admit: %v", err)
		}
		if ok {
			admitted++
		}
	}
	if admitted > limit+1 {
		t.Fatalf("sliding window admitted %d requests inside a %s span with limit %d", admitted, window, limit)
	}
}

func TestSlidingWindowRejectsOverLimitWithinWindow(t *testing.T) {
	w := safety.NewMemSlidingWindow()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ok, _, err := w.Admit(context.Background(), "k", 3, time.Minute, now)
		if err != nil || !ok {
			t.Fatalf("expected admission %d to succeed: ok=%v err=%v", i, ok, err)
		}
	}
	ok, retryAfter, err := w.Admit(context.Background(), "k", 3, time.Minute, now)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if ok {
		t.Fatalf("expected 4th admission within the same instant to be rejected")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected a positive retry-after, got %s", retryAfter)
	}
}

func TestSlidingWindowAdmitsAfterEntriesAge(t *testing.T) {
	w := safety.NewMemSlidingWindow()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		if ok, _, err := w.Admit(context.Background(), "k", 2, time.Minute, base); err != nil || !ok {
			t.Fatalf("seed admission failed: ok=%v err=%v", ok, err)
		}
	}
	if ok, _, err := w.Admit(context.Background(), "k", 2, time.Minute, base.Add(30*time.Second)); err != nil || ok {
		t.Fatalf("expected rejection before window elapses: ok=%v err=%v", ok, err)
	}
	if ok, _, err := w.Admit(context.Background(), "k", 2, time.Minute, base.Add(time.Minute+time.Second)); err != nil || !ok {
		t.Fatalf("expected admission once the oldest entry ages out: ok=%v err=%v", ok, err)
	}
}

func TestLimiterUnlimitedWhenPerMinuteZero(t *testing.T) {
	l := safety.NewLimiter(safety.NewMemSlidingWindow(), func() time.Time { return time.Now() })
	for i := 0; i < 1000; i++ {
		ok, _, err := l.AllowVendor(context.Background(), "t", "v", 0)
		if err != nil || !ok {
			t.Fatalf("expected unlimited vendor to always admit: ok=%v err=%v", ok, err)
		}
	}
}
