package engine

import (
	"context"
	"fmt"

	"failsafe/internal/domain"
)

// CreateVendor registers a new vendor for the tenant with a closed breaker
// and the given rate limit.
func (e Engine) CreateVendor(ctx context.Context, tenantID, name string, rateLimitPerMinute int) (domain.Vendor, error) {
	v := domain.Vendor{
		ID:                 newID(),
		TenantID:           tenantID,
		Name:               name,
		BreakerState:       domain.BreakerClosed,
		RateLimitPerMinute: rateLimitPerMinute,
		CreatedAt:          e.nowString(),
	}
	if err := e.Repo.InsertVendor(ctx, v); err != nil {
		return domain.Vendor{}, fmt.Errorf("insert vendor: %w", err)
	}
	return v, nil
}

// CreateWorkflow registers a new workflow definition for the tenant.
func (e Engine) CreateWorkflow(ctx context.Context, tenantID, name string) (domain.Workflow, error) {
	w := domain.Workflow{
		ID:        newID(),
		TenantID:  tenantID,
		Name:      name,
		Active:    true,
		CreatedAt: e.nowString(),
	}
	if err := e.Repo.InsertWorkflow(ctx, w); err != nil {
		return domain.Workflow{}, fmt.Errorf("insert workflow: %w", err)
	}
	return w, nil
}
