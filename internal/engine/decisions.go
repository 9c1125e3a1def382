package engine

import (
	"context"
	"fmt"

	"failsafe/internal/domain"
)

// Decide classifies an incident and records the classifier's output as an
// immutable Decision before any action is taken on it, per the
// decide-before-act ordering the action coordinator relies on.
func (e Engine) Decide(ctx context.Context, tenantID, incidentID string) (domain.Decision, ClassificationResult, error) {
	incident, err := e.Repo.GetIncident(ctx, tenantID, incidentID)
	if err != nil {
		return domain.Decision{}, ClassificationResult{}, fmt.Errorf("get incident: %w", err)
	}

	eventIDs, err := e.Repo.ListIncidentEventIDs(ctx, incidentID)
	if err != nil {
		return domain.Decision{}, ClassificationResult{}, fmt.Errorf("list incident events: %w", err)
	}
	recent := recentN(eventIDs, 20)
	events := make([]domain.Event, 0, len(recent))
	for _, id := range recent {
		ev, err := e.Repo.GetEvent(ctx, tenantID, id)
		if err != nil {
			return domain.Decision{}, ClassificationResult{}, fmt.Errorf("get event %s: %w", id, err)
		}
		events = append(events, ev)
	}

	result, err := e.Classifier.Classify(ctx, incident, events)
	if err != nil {
		result = classifierTimeoutResult
	}

	now := e.nowString()
	decision := domain.Decision{
		ID:         newID(),
		IncidentID: incidentID,
		Kind:       domain.DecisionKindRecommendation,
		Reasoning:  result.Reasoning,
		Confidence: result.Confidence,
		ModelTag:   result.ModelTag,
		CreatedAt:  now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Decision{}, ClassificationResult{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertDecisionTx(ctx, tx, decision); err != nil {
		return domain.Decision{}, ClassificationResult{}, fmt.Errorf("insert decision: %w", err)
	}
	if err := e.Audit.Append(ctx, tx, "incident.decided", tenantID, "incident", incidentID, "", map[string]any{
		"decision_id": decision.ID, "category": result.Category, "recommended": result.Recommended,
	}); err != nil {
		return domain.Decision{}, ClassificationResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Decision{}, ClassificationResult{}, err
	}

	return decision, result, nil
}

func recentN(ids []string, n int) []string {
	if len(ids) <= n {
		return ids
	}
	return ids[len(ids)-n:]
}
