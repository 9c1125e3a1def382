// Package domain holds the plain data types shared across the store,
// engine, and HTTP layers.
package domain

// Tenant isolates all data and safety-fabric state below it.
type Tenant struct {
	ID        string `json:"id" format:"uuid"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Workflow identifies a distinct originating workflow definition within a tenant.
// It may be kill-switched independently of Active.
type Workflow struct {
	ID        string `json:"id" format:"uuid"`
	TenantID  string `json:"tenant_id" format:"uuid"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// KillSwitch blocks ingestion for a workflow, or tenant-wide when WorkflowID is nil.
type KillSwitch struct {
	ID          string  `json:"id" format:"uuid"`
	TenantID    string  `json:"tenant_id" format:"uuid"`
	WorkflowID  *string `json:"workflow_id,omitempty" format:"uuid"`
	Active      bool    `json:"active"`
	Reason      string  `json:"reason"`
	ActivatedBy string  `json:"activated_by"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

// Breaker states, per the three-state vendor gate.
const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half_open"
)

// Vendor is a downstream system that workflow steps call out to. Circuit
// breaker state lives here; it is tenant-scoped like everything else.
type Vendor struct {
	ID                 string  `json:"id" format:"uuid"`
	TenantID           string  `json:"tenant_id" format:"uuid"`
	Name               string  `json:"name"`
	BreakerState       string  `json:"breaker_state" enum:"closed,open,half_open"`
	BreakerFailureCount int    `json:"breaker_failure_count"`
	BreakerOpenedAt    *string `json:"breaker_opened_at,omitempty" format:"date-time"`
	BreakerProbeCount  int     `json:"breaker_probe_count"`
	RateLimitPerMinute int     `json:"rate_limit_per_minute"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
}

// Event is an immutable, append-only ingested workflow-failure event.
type Event struct {
	ID             string         `json:"id" format:"uuid"`
	TenantID       string         `json:"tenant_id" format:"uuid"`
	WorkflowID     string         `json:"workflow_id" format:"uuid"`
	VendorID       *string        `json:"vendor_id,omitempty" format:"uuid"`
	EventType      string         `json:"event_type"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	OccurredAt     string         `json:"occurred_at" format:"date-time"`
	ReceivedAt     string         `json:"received_at" format:"date-time"`
	CorrelationID  string         `json:"correlation_id"`
}

// Incident statuses, per spec.
const (
	IncidentStatusNew       = "new"
	IncidentStatusAnalyzing = "analyzing"
	IncidentStatusActioned  = "actioned"
	IncidentStatusResolved  = "resolved"
	IncidentStatusIgnored   = "ignored"
)

// Incident severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Incident groups correlated events sharing a signature within a tenant/workflow.
type Incident struct {
	ID            string         `json:"id" format:"uuid"`
	TenantID      string         `json:"tenant_id" format:"uuid"`
	WorkflowID    string         `json:"workflow_id" format:"uuid"`
	Signature     string         `json:"signature"`
	Title         string         `json:"title"`
	Status        string         `json:"status" enum:"new,analyzing,actioned,resolved,ignored"`
	Severity      string         `json:"severity" enum:"low,medium,high,critical"`
	EventCount    int            `json:"event_count"`
	FirstSeenAt   string         `json:"first_seen_at" format:"date-time"`
	LastSeenAt    string         `json:"last_seen_at" format:"date-time"`
	RetryCount    int            `json:"retry_count"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     string         `json:"created_at" format:"date-time"`
	UpdatedAt     string         `json:"updated_at" format:"date-time"`
}

// Decision kinds.
const (
	DecisionKindClassification = "classification"
	DecisionKindRCA            = "rca"
	DecisionKindRecommendation = "recommendation"
)

// Decision is an immutable record of why an action was (or was not) taken.
type Decision struct {
	ID         string  `json:"id" format:"uuid"`
	IncidentID string  `json:"incident_id" format:"uuid"`
	Kind       string  `json:"kind" enum:"classification,rca,recommendation"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
	ModelTag   string  `json:"model_tag,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

// Action statuses, per spec's legal transitions.
const (
	ActionStatusPending    = "pending"
	ActionStatusInProgress = "in_progress"
	ActionStatusSucceeded  = "succeeded"
	ActionStatusFailed     = "failed"
)

// Action kinds.
const (
	ActionKindRetry    = "retry"
	ActionKindEscalate = "escalate"
	ActionKindManual   = "manual"
	ActionKindReversal = "reversal"
)

// Action is a single remediation attempt against an incident.
type Action struct {
	ID             string         `json:"id" format:"uuid"`
	IncidentID     string         `json:"incident_id" format:"uuid"`
	DecisionID     string         `json:"decision_id" format:"uuid"`
	Kind           string         `json:"kind" enum:"retry,escalate,manual,reversal"`
	Status         string         `json:"status" enum:"pending,in_progress,succeeded,failed"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	Reversible     bool           `json:"reversible"`
	ReversalOf     *string        `json:"reversal_of,omitempty" format:"uuid"`
	AttemptNumber  int            `json:"attempt_number"`
	EscalationLevel int           `json:"escalation_level,omitempty"`
	ScheduledFor   *string        `json:"scheduled_for,omitempty" format:"date-time"`
	CreatedAt      string         `json:"created_at" format:"date-time"`
	CompletedAt    *string        `json:"completed_at,omitempty" format:"date-time"`
}

// OperatorRole gates manual kill-switch and incident-resolution actions.
type OperatorRole struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"tenant_id" format:"uuid"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}
