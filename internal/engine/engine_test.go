package engine_test

import (
	"context"
	"testing"
	"time"

	"failsafe/internal/config"
	"failsafe/internal/db"
	"failsafe/internal/domain"
	"failsafe/internal/engine"
	"failsafe/internal/migrate"
	"failsafe/internal/safety"
)

type testEnv struct {
	Engine     engine.Engine
	TenantID   string
	WorkflowID string
	VendorID   string
}

func newTestEnv(t *testing.T, now func() time.Time) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg, safety.NewMemCounter(now), safety.NewMemSlidingWindow(), nil)
	eng.Now = now

	ctx := context.Background()
	tenantID := "tenant-1"
	if err := eng.Repo.InsertTenant(ctx, domain.Tenant{ID: tenantID, Name: "t", Active: true, CreatedAt: "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("insert tenant: %v", err)
	}
	workflowID := "workflow-1"
	if err := eng.Repo.InsertWorkflow(ctx, domain.Workflow{ID: workflowID, TenantID: tenantID, Name: "checkout", Active: true, CreatedAt: "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("insert workflow: %v", err)
	}
	vendorID := "vendor-1"
	if err := eng.Repo.InsertVendor(ctx, domain.Vendor{ID: vendorID, TenantID: tenantID, Name: "stripe", BreakerState: domain.BreakerClosed, CreatedAt: "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("insert vendor: %v", err)
	}
	return testEnv{Engine: eng, TenantID: tenantID, WorkflowID: workflowID, VendorID: vendorID}
}

func ingestOne(t *testing.T, env testEnv, idempotencyKey string) engine.IngestResult {
	t.Helper()
	res, err := env.Engine.Ingest(context.Background(), engine.IngestRequest{
		TenantID:       env.TenantID,
		WorkflowID:     env.WorkflowID,
		VendorID:       &env.VendorID,
		EventType:      "payment.failed",
		ErrorCode:      "timeout",
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return res
}

func TestIngestDuplicateIdempotencyKeyIsNoop(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env := newTestEnv(t, func() time.Time { return now })

	first := ingestOne(t, env, "idem-1")
	if first.Duplicate {
		t.Fatalf("expected first submission to not be a duplicate")
	}
	second := ingestOne(t, env, "idem-1")
	if !second.Duplicate {
		t.Fatalf("expected resubmission with the same idempotency key to be reported as a duplicate")
	}
	if second.Event.ID != first.Event.ID {
		t.Fatalf("expected duplicate submission to resolve to the original event")
	}
	if second.Incident.EventCount != 1 {
		t.Fatalf("expected duplicate submission not to bump event count, got %d", second.Incident.EventCount)
	}
}

func TestIngestSameSignatureCorrelatesIntoOneIncident(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env := newTestEnv(t, func() time.Time { return now })

	first := ingestOne(t, env, "idem-1")
	second := ingestOne(t, env, "idem-2")
	if second.Incident.ID != first.Incident.ID {
		t.Fatalf("expected events with the same event type, error code, and workflow to share one incident")
	}
	if second.Incident.EventCount != 2 {
		t.Fatalf("expected event count 2, got %d", second.Incident.EventCount)
	}
}

func TestIngestEscalatesSeverityAtCorrelatedThreshold(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env := newTestEnv(t, func() time.Time { return now })

	var last engine.IngestResult
	for i := 0; i < 10; i++ {
		last = ingestOne(t, env, "idem-"+string(rune('a'+i)))
	}
	if last.Incident.EventCount != 10 {
		t.Fatalf("expected 10 correlated events, got %d", last.Incident.EventCount)
	}
	if last.Incident.Severity != domain.SeverityHigh {
		t.Fatalf("expected severity escalated to high at the 10th correlated event, got %s", last.Incident.Severity)
	}
	if !last.Escalated {
		t.Fatalf("expected Escalated=true on the event that crossed the threshold")
	}
}

func TestIngestRejectedByActiveKillSwitch(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env := newTestEnv(t, func() time.Time { return now })

	if _, err := env.Engine.ActivateKillSwitch(context.Background(), env.TenantID, env.WorkflowID, "maintenance window", "operator-1"); err != nil {
		t.Fatalf("activate kill switch: %v", err)
	}
	_, err := env.Engine.Ingest(context.Background(), engine.IngestRequest{
		TenantID:       env.TenantID,
		WorkflowID:     env.WorkflowID,
		EventType:      "payment.failed",
		ErrorCode:      "timeout",
		IdempotencyKey: "idem-blocked",
	})
	if err != engine.ErrKillSwitchActive {
		t.Fatalf("expected ErrKillSwitchActive, got %v", err)
	}
}

func TestIngestRejectedForInactiveTenant(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env := newTestEnv(t, func() time.Time { return now })
	if _, err := env.Engine.DB.Exec(`UPDATE tenants SET active = 0 WHERE id = ?`, env.TenantID); err != nil {
		t.Fatalf("deactivate tenant: %v", err)
	}
	_, err := env.Engine.Ingest(context.Background(), engine.IngestRequest{
		TenantID:       env.TenantID,
		WorkflowID:     env.WorkflowID,
		EventType:      "payment.failed",
		ErrorCode:      "timeout",
		IdempotencyKey: "idem-x",
	})
	if err != engine.ErrTenantInactive {
		t.Fatalf("expected ErrTenantInactive, got %v", err)
	}
}

func TestDecideThenActIsSingleFlight(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env := newTestEnv(t, func() time.Time { return now })
	ingested := ingestOne(t, env, "idem-1")

	decision, result, err := env.Engine.Decide(context.Background(), env.TenantID, ingested.Incident.ID)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}

	incident, err := env.Engine.Repo.GetIncident(context.Background(), env.TenantID, ingested.Incident.ID)
	if err != nil {
		t.Fatalf("get incident: %v", err)
	}
	if _, err := env.Engine.Act(context.Background(), env.TenantID, incident, decision, result.Recommended); err != nil {
		t.Fatalf("act: %v", err)
	}
	if _, err := env.Engine.Act(context.Background(), env.TenantID, incident, decision, result.Recommended); err != engine.ErrActionInFlight {
		t.Fatalf("expected ErrActionInFlight on a second act against the same incident, got %v", err)
	}
}

func TestActRecommendsRetryWithinBudgetForMediumSeverity(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env := newTestEnv(t, func() time.Time { return now })
	ingested := ingestOne(t, env, "idem-1")

	decision, result, err := env.Engine.Decide(context.Background(), env.TenantID, ingested.Incident.ID)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if result.Recommended != domain.ActionKindRetry {
		t.Fatalf("expected a fresh medium-severity incident to be recommended for retry, got %s", result.Recommended)
	}

	incident, err := env.Engine.Repo.GetIncident(context.Background(), env.TenantID, ingested.Incident.ID)
	if err != nil {
		t.Fatalf("get incident: %v", err)
	}
	action, err := env.Engine.Act(context.Background(), env.TenantID, incident, decision, result.Recommended)
	if err != nil {
		t.Fatalf("act: %v", err)
	}
	if action.Kind != domain.ActionKindRetry {
		t.Fatalf("expected retry action, got %s", action.Kind)
	}
	if action.ScheduledFor == nil {
		t.Fatalf("expected a retry action to carry a scheduled_for")
	}
}

func TestActEscalatesWhenWorkflowRetryBudgetExhausted(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env := newTestEnv(t, func() time.Time { return now })
	env.Engine.Budget = safety.NewBudget(safety.NewMemCounter(func() time.Time { return now }), 1, 0)

	ingested := ingestOne(t, env, "idem-1")
	decision, result, err := env.Engine.Decide(context.Background(), env.TenantID, ingested.Incident.ID)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	incident, err := env.Engine.Repo.GetIncident(context.Background(), env.TenantID, ingested.Incident.ID)
	if err != nil {
		t.Fatalf("get incident: %v", err)
	}
	first, err := env.Engine.Act(context.Background(), env.TenantID, incident, decision, result.Recommended)
	if err != nil {
		t.Fatalf("act: %v", err)
	}
	if first.Kind != domain.ActionKindRetry {
		t.Fatalf("expected the first action to consume the single permitted retry, got %s", first.Kind)
	}

	second, err := env.Engine.Ingest(context.Background(), engine.IngestRequest{
		TenantID:       env.TenantID,
		WorkflowID:     env.WorkflowID,
		EventType:      "payment.declined",
		ErrorCode:      "connection_reset",
		IdempotencyKey: "idem-2",
	})
	if err != nil {
		t.Fatalf("ingest second: %v", err)
	}
	decision2, result2, err := env.Engine.Decide(context.Background(), env.TenantID, second.Incident.ID)
	if err != nil {
		t.Fatalf("decide second: %v", err)
	}
	incident2, err := env.Engine.Repo.GetIncident(context.Background(), env.TenantID, second.Incident.ID)
	if err != nil {
		t.Fatalf("get incident: %v", err)
	}
	action2, err := env.Engine.Act(context.Background(), env.TenantID, incident2, decision2, result2.Recommended)
	if err != nil {
		t.Fatalf("act second: %v", err)
	}
	if action2.Kind != domain.ActionKindEscalate {
		t.Fatalf("expected the second incident to escalate once the shared workflow retry budget is exhausted, got %s", action2.Kind)
	}
}

func TestIncidentResolveIsTerminalAndRejectsFurtherTransitions(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env := newTestEnv(t, func() time.Time { return now })
	ingested := ingestOne(t, env, "idem-1")

	resolved, err := env.Engine.Resolve(context.Background(), env.TenantID, ingested.Incident.ID, "operator-1", "fixed upstream")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != domain.IncidentStatusResolved {
		t.Fatalf("expected resolved status, got %s", resolved.Status)
	}

	if _, err := env.Engine.Resolve(context.Background(), env.TenantID, ingested.Incident.ID, "operator-1", "again"); err != engine.ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition resolving an already-resolved incident, got %v", err)
	}
	if _, err := env.Engine.Ignore(context.Background(), env.TenantID, ingested.Incident.ID, "operator-1", "noise"); err != engine.ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition ignoring an already-resolved incident, got %v", err)
	}
}

func TestIncidentIgnoreReachableDirectlyFromNew(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env := newTestEnv(t, func() time.Time { return now })
	ingested := ingestOne(t, env, "idem-1")

	ignored, err := env.Engine.Ignore(context.Background(), env.TenantID, ingested.Incident.ID, "operator-1", "known flake")
	if err != nil {
		t.Fatalf("ignore: %v", err)
	}
	if ignored.Status != domain.IncidentStatusIgnored {
		t.Fatalf("expected ignored status, got %s", ignored.Status)
	}
}

func TestKillSwitchBlocksOnlyScopedWorkflowUnlessTenantWide(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env := newTestEnv(t, func() time.Time { return now })

	otherWorkflow := "workflow-2"
	if err := env.Engine.Repo.InsertWorkflow(context.Background(), domain.Workflow{ID: otherWorkflow, TenantID: env.TenantID, Name: "refunds", Active: true, CreatedAt: "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("insert workflow: %v", err)
	}
	if _, err := env.Engine.ActivateKillSwitch(context.Background(), env.TenantID, env.WorkflowID, "scoped", "operator-1"); err != nil {
		t.Fatalf("activate kill switch: %v", err)
	}

	if _, err := env.Engine.Ingest(context.Background(), engine.IngestRequest{
		TenantID: env.TenantID, WorkflowID: otherWorkflow, EventType: "payment.failed", ErrorCode: "timeout", IdempotencyKey: "idem-other",
	}); err != nil {
		t.Fatalf("expected ingestion for an unaffected workflow to succeed, got %v", err)
	}
	if _, err := env.Engine.Ingest(context.Background(), engine.IngestRequest{
		TenantID: env.TenantID, WorkflowID: env.WorkflowID, EventType: "payment.failed", ErrorCode: "timeout", IdempotencyKey: "idem-scoped",
	}); err != engine.ErrKillSwitchActive {
		t.Fatalf("expected the kill-switched workflow to still be blocked, got %v", err)
	}

	if _, err := env.Engine.ActivateKillSwitch(context.Background(), env.TenantID, "", "tenant-wide", "operator-1"); err != nil {
		t.Fatalf("activate tenant-wide kill switch: %v", err)
	}
	if _, err := env.Engine.Ingest(context.Background(), engine.IngestRequest{
		TenantID: env.TenantID, WorkflowID: otherWorkflow, EventType: "payment.failed", ErrorCode: "timeout", IdempotencyKey: "idem-other-2",
	}); err != engine.ErrKillSwitchActive {
		t.Fatalf("expected a tenant-wide kill switch to block every workflow, got %v", err)
	}
}
