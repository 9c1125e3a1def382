package engine

import (
	"context"
	"errors"
	"fmt"

	"failsafe/internal/domain"
)

// ErrInvalidTransition is returned when a requested incident status change
// is not a legal move from its current status.
var ErrInvalidTransition = errors.New("invalid incident status transition")

// Resolve marks an incident RESOLVED, which (like IGNORED) frees its
// signature for a brand-new incident on the next matching event. Legal
// from any status except the already-terminal ones.
func (e Engine) Resolve(ctx context.Context, tenantID, incidentID, operatorID, note string) (domain.Incident, error) {
	return e.terminalTransition(ctx, tenantID, incidentID, operatorID, note, domain.IncidentStatusResolved)
}

// Ignore marks an incident IGNORED. Per the state machine this is reachable
// from any non-terminal status, including directly from NEW.
func (e Engine) Ignore(ctx context.Context, tenantID, incidentID, operatorID, note string) (domain.Incident, error) {
	return e.terminalTransition(ctx, tenantID, incidentID, operatorID, note, domain.IncidentStatusIgnored)
}

func (e Engine) terminalTransition(ctx context.Context, tenantID, incidentID, operatorID, note, newStatus string) (domain.Incident, error) {
	incident, err := e.Repo.GetIncident(ctx, tenantID, incidentID)
	if err != nil {
		return domain.Incident{}, fmt.Errorf("get incident: %w", err)
	}
	if incident.Status == domain.IncidentStatusResolved || incident.Status == domain.IncidentStatusIgnored {
		return domain.Incident{}, ErrInvalidTransition
	}

	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Incident{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.SetIncidentStatusTx(ctx, tx, incidentID, newStatus, now); err != nil {
		return domain.Incident{}, fmt.Errorf("set status: %w", err)
	}
	meta := incident.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	meta[newStatus+"_note"] = note
	meta[newStatus+"_by"] = operatorID
	if err := e.Repo.SetIncidentMetadataTx(ctx, tx, incidentID, meta, now); err != nil {
		return domain.Incident{}, fmt.Errorf("set metadata: %w", err)
	}
	if err := e.Audit.Append(ctx, tx, "incident."+newStatus, tenantID, "incident", incidentID, operatorID, map[string]any{
		"note": note,
	}); err != nil {
		return domain.Incident{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Incident{}, err
	}

	incident.Status = newStatus
	incident.Metadata = meta
	incident.UpdatedAt = now
	return incident, nil
}
