package server

import "failsafe/internal/domain"

// Request payloads

type SubmitEventRequest struct {
	WorkflowID     string         `json:"workflow_id"`
	VendorID       *string        `json:"vendor_id,omitempty"`
	EventType      string         `json:"event_type"`
	ErrorCode      string         `json:"error_code"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	OccurredAt     string         `json:"occurred_at,omitempty" format:"date-time"`
}

type ActivateKillSwitchRequest struct {
	WorkflowID string `json:"workflow_id,omitempty"`
	Reason     string `json:"reason"`
}

type ResolveIncidentRequest struct {
	Note string `json:"note,omitempty"`
}

type IgnoreIncidentRequest struct {
	Note string `json:"note,omitempty"`
}

type CreateVendorRequest struct {
	Name               string `json:"name"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute,omitempty"`
}

type CreateWorkflowRequest struct {
	Name string `json:"name"`
}

// Response payloads

type EventResponse struct {
	Event     domain.Event    `json:"event"`
	Incident  domain.Incident `json:"incident"`
	Duplicate bool            `json:"duplicate"`
	Escalated bool            `json:"escalated"`
}

type IncidentResponse struct {
	Incident domain.Incident `json:"incident"`
}

type IncidentListResponse struct {
	Incidents []domain.Incident `json:"incidents"`
}

type ActionResponse struct {
	Action domain.Action `json:"action"`
}

type ActionListResponse struct {
	Actions []domain.Action `json:"actions"`
}

type KillSwitchResponse struct {
	KillSwitch domain.KillSwitch `json:"kill_switch"`
}

type KillSwitchListResponse struct {
	KillSwitches []domain.KillSwitch `json:"kill_switches"`
}

type VendorResponse struct {
	Vendor domain.Vendor `json:"vendor"`
}

type VendorListResponse struct {
	Vendors []domain.Vendor `json:"vendors"`
}

type WorkflowResponse struct {
	Workflow domain.Workflow `json:"workflow"`
}

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}
