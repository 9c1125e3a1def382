package engine

import (
	"context"
	"fmt"

	"failsafe/internal/domain"
)

// ActivateKillSwitch blocks ingestion for a tenant (workflowID == "") or a
// single workflow. The caller is responsible for having already checked
// the operator's killswitch:activate permission.
func (e Engine) ActivateKillSwitch(ctx context.Context, tenantID, workflowID, reason, operatorID string) (domain.KillSwitch, error) {
	now := e.nowString()
	ks := domain.KillSwitch{
		ID:          newID(),
		TenantID:    tenantID,
		Active:      true,
		Reason:      reason,
		ActivatedBy: operatorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if workflowID != "" {
		ks.WorkflowID = &workflowID
	}
	if err := e.Repo.InsertKillSwitch(ctx, ks); err != nil {
		return domain.KillSwitch{}, fmt.Errorf("insert kill switch: %w", err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.KillSwitch{}, err
	}
	defer tx.Rollback()
	if err := e.Audit.Append(ctx, tx, "killswitch.activated", tenantID, "kill_switch", ks.ID, operatorID, map[string]any{
		"workflow_id": workflowID, "reason": reason,
	}); err != nil {
		return domain.KillSwitch{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.KillSwitch{}, err
	}
	return ks, nil
}

// DeactivateKillSwitch turns off a previously-activated kill switch.
func (e Engine) DeactivateKillSwitch(ctx context.Context, tenantID, id, operatorID string) error {
	now := e.nowString()
	if err := e.Repo.SetKillSwitchActive(ctx, tenantID, id, false, now); err != nil {
		return fmt.Errorf("deactivate kill switch: %w", err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Audit.Append(ctx, tx, "killswitch.deactivated", tenantID, "kill_switch", id, operatorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}
