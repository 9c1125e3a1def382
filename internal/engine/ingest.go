package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"failsafe/internal/domain"
	"failsafe/internal/repo"
	"failsafe/internal/safety"
)

// ErrKillSwitchActive is returned when ingestion is blocked by an active
// kill switch, tenant-wide or scoped to the event's workflow.
var ErrKillSwitchActive = errors.New("kill switch active")

// ErrTenantInactive is returned when the tenant has been deactivated.
var ErrTenantInactive = errors.New("tenant inactive")

// ErrWorkflowNotFound is returned when the submitted workflow_id does not
// resolve to a workflow under the tenant.
var ErrWorkflowNotFound = errors.New("workflow not found")

// ErrWorkflowDisabled is returned when the workflow exists but has been
// deactivated, independent of any kill switch.
var ErrWorkflowDisabled = errors.New("workflow disabled")

// RateLimitedError is returned when the admission-time sliding-window check
// rejects an event; RetryAfter is a hint the caller can act on.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e RateLimitedError) Error() string { return "rate limited" }

// IngestRequest is a single reported workflow-failure event.
type IngestRequest struct {
	TenantID       string
	WorkflowID     string
	VendorID       *string
	EventType      string
	ErrorCode      string
	Payload        map[string]any
	IdempotencyKey string
	OccurredAt     string
	CorrelationID  string
}

// IngestResult reports what ingestion did with the submitted event.
type IngestResult struct {
	Event     domain.Event
	Incident  domain.Incident
	Duplicate bool
	Escalated bool
}

// Ingest runs the event through the admission, idempotency, fingerprinting,
// and correlation pipeline, in the order a later step must not run if an
// earlier one rejects:
//  1. check for a prior event with the same idempotency key (fast path) —
//     a resubmitted duplicate is success-shaped even if the tenant or
//     workflow is later deactivated
//  2. confirm the tenant is active
//  3. confirm the workflow exists, is active, and carries no active kill
//     switch (tenant-wide or workflow-specific)
//  4. evaluate the sliding-window rate limiter, tenant-wide and, if the
//     payload names a vendor, additionally tenant+vendor
//  5. if the payload names a vendor, gate on its circuit breaker
//  6. persist the event and link it into the incident's correlation set,
//     falling back to the DB's unique constraint as the final duplicate
//     guard
//  7. dispatch to the classifier/decision/action pipeline, asynchronously
//     and best-effort, on incident creation or severity escalation
//
// Steps 2-6 run inside one transaction so a concurrent duplicate submission
// and a concurrent new-incident race both resolve deterministically.
func (e Engine) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	if existing, err := e.Repo.GetEventByIdempotencyKey(ctx, req.TenantID, req.IdempotencyKey); err == nil {
		incident, ierr := e.incidentForEvent(ctx, existing)
		if ierr != nil {
			return IngestResult{}, ierr
		}
		return IngestResult{Event: existing, Incident: incident, Duplicate: true}, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return IngestResult{}, fmt.Errorf("check idempotency key: %w", err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return IngestResult{}, err
	}
	defer tx.Rollback()

	tenant, err := e.Repo.GetTenantTx(ctx, tx, req.TenantID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("get tenant: %w", err)
	}
	if !tenant.Active {
		return IngestResult{}, ErrTenantInactive
	}

	workflow, err := e.Repo.GetWorkflowTx(ctx, tx, req.TenantID, req.WorkflowID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return IngestResult{}, ErrWorkflowNotFound
		}
		return IngestResult{}, fmt.Errorf("get workflow: %w", err)
	}
	if !workflow.Active {
		return IngestResult{}, ErrWorkflowDisabled
	}

	if _, blocked, err := e.Repo.ActiveKillSwitchTx(ctx, tx, req.TenantID, req.WorkflowID); err != nil {
		return IngestResult{}, fmt.Errorf("check kill switch: %w", err)
	} else if blocked {
		return IngestResult{}, ErrKillSwitchActive
	}

	if allowed, retryAfter, err := e.Limiter.AllowTenant(ctx, req.TenantID, e.Config.Safety.MaxEventsPerMinutePerTenant); err != nil {
		return IngestResult{}, fmt.Errorf("check tenant rate limit: %w", err)
	} else if !allowed {
		return IngestResult{}, RateLimitedError{RetryAfter: retryAfter}
	}

	if req.VendorID != nil {
		// Peek gives a cheap, possibly slightly stale read of breaker state
		// for this pre-check; the authoritative gate a retry actually pays
		// for is Breaker.ShouldAllowTx inside the action coordinator.
		vendor, verr := e.Breaker.Peek(ctx, req.TenantID, *req.VendorID)
		if verr != nil && !errors.Is(verr, repo.ErrNotFound) {
			return IngestResult{}, fmt.Errorf("get vendor: %w", verr)
		}
		if verr == nil {
			if allowed, retryAfter, lerr := e.Limiter.AllowVendor(ctx, req.TenantID, vendor.ID, vendor.RateLimitPerMinute); lerr != nil {
				return IngestResult{}, fmt.Errorf("check vendor rate limit: %w", lerr)
			} else if !allowed {
				return IngestResult{}, RateLimitedError{RetryAfter: retryAfter}
			}

			switch vendor.BreakerState {
			case domain.BreakerOpen:
				return IngestResult{}, safety.ErrBreakerOpen
			case domain.BreakerHalfOpen:
				if vendor.BreakerProbeCount >= e.Breaker.ProbeCap() {
					return IngestResult{}, safety.ErrBreakerOpen
				}
			}
		}
	}

	if existing, err := e.Repo.GetEventByIdempotencyKeyTx(ctx, tx, req.TenantID, req.IdempotencyKey); err == nil {
		incident, ierr := e.incidentForEventTx(ctx, tx, existing)
		if ierr != nil {
			return IngestResult{}, ierr
		}
		return IngestResult{Event: existing, Incident: incident, Duplicate: true}, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return IngestResult{}, fmt.Errorf("check idempotency key: %w", err)
	}

	now := e.nowString()
	occurredAt := req.OccurredAt
	if occurredAt == "" {
		occurredAt = now
	}
	event := domain.Event{
		ID:             newID(),
		TenantID:       req.TenantID,
		WorkflowID:     req.WorkflowID,
		VendorID:       req.VendorID,
		EventType:      req.EventType,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		OccurredAt:     occurredAt,
		ReceivedAt:     now,
		CorrelationID:  req.CorrelationID,
	}

	signature := Fingerprint(req.EventType, req.ErrorCode, req.WorkflowID)
	classification := e.Rules.Classify(req.ErrorCode)

	created := false
	incident, err := e.Repo.GetOpenIncidentBySignatureTx(ctx, tx, req.TenantID, req.WorkflowID, signature)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		incident = domain.Incident{
			ID:          newID(),
			TenantID:    req.TenantID,
			WorkflowID:  req.WorkflowID,
			Signature:   signature,
			Title:       fmt.Sprintf("%s (%s)", req.EventType, req.ErrorCode),
			Status:      domain.IncidentStatusNew,
			Severity:    classification.Severity,
			EventCount:  0,
			FirstSeenAt: now,
			LastSeenAt:  now,
			Metadata:    map[string]any{"error_code": req.ErrorCode, "retry_policy": classification.RetryPolicy, "retryable": classification.Retryable},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := e.Repo.InsertIncidentTx(ctx, tx, incident); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				incident, err = e.Repo.GetOpenIncidentBySignatureTx(ctx, tx, req.TenantID, req.WorkflowID, signature)
				if err != nil {
					return IngestResult{}, fmt.Errorf("reload incident after conflict: %w", err)
				}
			} else {
				return IngestResult{}, fmt.Errorf("insert incident: %w", err)
			}
		} else {
			created = true
		}
	case err != nil:
		return IngestResult{}, fmt.Errorf("lookup incident: %w", err)
	}

	if err := e.Repo.InsertEventTx(ctx, tx, event); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			existing, gerr := e.Repo.GetEventByIdempotencyKeyTx(ctx, tx, req.TenantID, req.IdempotencyKey)
			if gerr != nil {
				return IngestResult{}, fmt.Errorf("reload event after conflict: %w", gerr)
			}
			if cerr := tx.Commit(); cerr != nil {
				return IngestResult{}, cerr
			}
			existingIncident, ierr := e.incidentForEvent(ctx, existing)
			if ierr != nil {
				return IngestResult{}, ierr
			}
			return IngestResult{Event: existing, Incident: existingIncident, Duplicate: true}, nil
		}
		return IngestResult{}, fmt.Errorf("insert event: %w", err)
	}

	if err := e.Repo.LinkIncidentEventTx(ctx, tx, incident.ID, event.ID); err != nil {
		return IngestResult{}, fmt.Errorf("link incident event: %w", err)
	}

	eventCount := incident.EventCount + 1
	severity, escalated := escalateSeverity(incident, eventCount, now)
	status := incident.Status
	if status == domain.IncidentStatusResolved || status == domain.IncidentStatusIgnored {
		status = domain.IncidentStatusNew
	} else if status == domain.IncidentStatusNew {
		status = domain.IncidentStatusAnalyzing
	}
	if err := e.Repo.UpdateIncidentOnEventTx(ctx, tx, incident.ID, eventCount, now, severity, status, now); err != nil {
		return IngestResult{}, fmt.Errorf("update incident: %w", err)
	}
	incident.EventCount = eventCount
	incident.LastSeenAt = now
	incident.Severity = severity
	incident.Status = status
	incident.UpdatedAt = now

	if err := e.Audit.Append(ctx, tx, "event.ingested", req.TenantID, "incident", incident.ID, "", map[string]any{
		"event_id": event.ID, "signature": signature, "event_count": eventCount,
	}); err != nil {
		return IngestResult{}, fmt.Errorf("audit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return IngestResult{}, err
	}

	if created || escalated {
		e.dispatch(req.TenantID, incident.ID)
	}

	return IngestResult{Event: event, Incident: incident, Escalated: escalated}, nil
}

// dispatch hands a newly-created or newly-escalated incident to the
// classifier/decision/action pipeline. It runs detached from the request
// that triggered it: ingestion has already committed, and dispatch failure
// must not fail (or retry) the ingestion response. A failed dispatch is
// logged and not retried; the incident is dispatched again only on a later
// severity escalation, or decided and acted on through an explicit
// Decide/Act call. The scheduler does not re-dispatch incidents.
func (e Engine) dispatch(tenantID, incidentID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		decision, result, err := e.Decide(ctx, tenantID, incidentID)
		if err != nil {
			log.Printf("dispatch: decide incident %s failed: %v", incidentID, err)
			return
		}
		incident, err := e.Repo.GetIncident(ctx, tenantID, incidentID)
		if err != nil {
			log.Printf("dispatch: reload incident %s failed: %v", incidentID, err)
			return
		}
		if _, err := e.Act(ctx, tenantID, incident, decision, result.Recommended); err != nil {
			if errors.Is(err, ErrActionInFlight) {
				// An action is already PENDING or IN_PROGRESS for this incident;
				// Act already recorded the suppression note, nothing
				// further to do here.
				return
			}
			log.Printf("dispatch: act on incident %s failed: %v", incidentID, err)
		}
	}()
}

// escalateSeverity applies the combined escalation rule: event_count > 100,
// duration since first_seen_at exceeds one hour, correlated event count
// reaches 10, or the incident is already critical. Any one trigger bumps
// severity to at least "high" (the count/duration/correlation triggers) and
// critical never downgrades.
func escalateSeverity(incident domain.Incident, newEventCount int, now string) (string, bool) {
	if incident.Severity == domain.SeverityCritical {
		return domain.SeverityCritical, false
	}
	escalate := newEventCount > 100 || newEventCount >= 10
	longRunning := false
	if first, err := time.Parse(time.RFC3339, incident.FirstSeenAt); err == nil {
		if last, err := time.Parse(time.RFC3339, now); err == nil {
			longRunning = last.Sub(first) > time.Hour
		}
	}
	if escalate || longRunning {
		if incident.Severity == domain.SeverityLow || incident.Severity == domain.SeverityMedium {
			return domain.SeverityHigh, true
		}
	}
	return incident.Severity, false
}

func (e Engine) incidentForEvent(ctx context.Context, event domain.Event) (domain.Incident, error) {
	incidentID, err := e.Repo.IncidentIDForEvent(ctx, event.ID)
	if err != nil {
		return domain.Incident{}, fmt.Errorf("find incident for event: %w", err)
	}
	return e.Repo.GetIncident(ctx, event.TenantID, incidentID)
}

func (e Engine) incidentForEventTx(ctx context.Context, tx *sql.Tx, event domain.Event) (domain.Incident, error) {
	incidentID, err := e.Repo.IncidentIDForEventTx(ctx, tx, event.ID)
	if err != nil {
		return domain.Incident{}, fmt.Errorf("find incident for event: %w", err)
	}
	return e.Repo.GetIncidentTx(ctx, tx, event.TenantID, incidentID)
}
