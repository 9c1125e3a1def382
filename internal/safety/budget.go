package safety

import (
	"context"
	"time"
)

// Budget enforces bounded retry activity: at most N retries per workflow
// and at most M actions per vendor per rolling hour, backed by
// WindowCounter. Grounded in the pre-distillation safety-limits enforcer,
// which tracked both quotas as Redis INCR+EXPIRE counters and failed open
// on any Redis error.
type Budget struct {
	Counter             WindowCounter
	MaxRetriesPerWorkflow int
	MaxRetriesPerVendor   int
}

func NewBudget(c WindowCounter, maxPerWorkflow, maxPerVendor int) *Budget {
	return &Budget{Counter: c, MaxRetriesPerWorkflow: maxPerWorkflow, MaxRetriesPerVendor: maxPerVendor}
}

// PermitWorkflowRetry reports whether another retry may be attempted for
// workflowID. It consults only the workflow-wide counter, which bounds
// retry volume across all of the workflow's incidents within an hour; the
// incident's own retry_count is not taken into account here.
func (b *Budget) PermitWorkflowRetry(ctx context.Context, workflowID string) (bool, error) {
	if b.MaxRetriesPerWorkflow <= 0 {
		return true, nil
	}
	key := "budget:workflow:" + workflowID
	count, _, err := b.Counter.Get(ctx, key)
	if err != nil {
		return true, nil
	}
	return count < int64(b.MaxRetriesPerWorkflow), nil
}

// ConsumeWorkflowRetry records that a retry was scheduled for workflowID,
// counted against the rolling hour window.
func (b *Budget) ConsumeWorkflowRetry(ctx context.Context, workflowID string) error {
	if b.MaxRetriesPerWorkflow <= 0 {
		return nil
	}
	_, err := b.Counter.Incr(ctx, "budget:workflow:"+workflowID, time.Hour)
	return err
}

// PermitVendorActivity reports whether vendorID may absorb another
// remediation action within the current rolling hour.
func (b *Budget) PermitVendorActivity(ctx context.Context, tenantID, vendorID string) (bool, error) {
	if b.MaxRetriesPerVendor <= 0 {
		return true, nil
	}
	key := "budget:vendor:" + tenantID + ":" + vendorID
	count, _, err := b.Counter.Get(ctx, key)
	if err != nil {
		return true, nil
	}
	return count < int64(b.MaxRetriesPerVendor), nil
}

func (b *Budget) ConsumeVendorActivity(ctx context.Context, tenantID, vendorID string) error {
	if b.MaxRetriesPerVendor <= 0 {
		return nil
	}
	_, err := b.Counter.Incr(ctx, "budget:vendor:"+tenantID+":"+vendorID, time.Hour)
	return err
}
