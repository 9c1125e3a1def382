package safety_test

import (
	"context"
	"testing"
	"time"

	"failsafe/internal/safety"
)

func TestBudgetPermitsUpToMaxThenBlocks(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	counter := safety.NewMemCounter(func() time.Time { return now })
	b := safety.NewBudget(counter, 3, 0)

	for i := 0; i < 3; i++ {
		permitted, err := b.PermitWorkflowRetry(context.Background(), "wf-1")
		if err != nil || !permitted {
			t.Fatalf("expected retry %d permitted: permitted=%v err=%v", i, permitted, err)
		}
		if err := b.ConsumeWorkflowRetry(context.Background(), "wf-1"); err != nil {
			t.Fatalf("consume: %v", err)
		}
	}
	permitted, err := b.PermitWorkflowRetry(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("permit: %v", err)
	}
	if permitted {
		t.Fatalf("expected retry budget exhausted at max_retries_per_workflow")
	}
}

func TestBudgetResetsAfterRollingHour(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	counter := safety.NewMemCounter(func() time.Time { return now })
	b := safety.NewBudget(counter, 1, 0)

	if err := b.ConsumeWorkflowRetry(context.Background(), "wf-1"); err != nil {
		t.Fatalf("consume: %v", err)
	}
	permitted, err := b.PermitWorkflowRetry(context.Background(), "wf-1")
	if err != nil || permitted {
		t.Fatalf("expected budget exhausted within the hour: permitted=%v err=%v", permitted, err)
	}

	now = now.Add(time.Hour + time.Second)
	permitted, err = b.PermitWorkflowRetry(context.Background(), "wf-1")
	if err != nil || !permitted {
		t.Fatalf("expected budget to reset after the rolling hour: permitted=%v err=%v", permitted, err)
	}
}

func TestBudgetUnboundedWhenMaxZero(t *testing.T) {
	counter := safety.NewMemCounter(time.Now)
	b := safety.NewBudget(counter, 0, 0)
	for i := 0; i < 100; i++ {
		if permitted, err := b.PermitWorkflowRetry(context.Background(), "wf-1"); err != nil || !permitted {
			t.Fatalf("expected unbounded budget to always permit: permitted=%v err=%v", permitted, err)
		}
		if err := b.ConsumeWorkflowRetry(context.Background(), "wf-1"); err != nil {
			t.Fatalf("consume: %v", err)
		}
	}
}
