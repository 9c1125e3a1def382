// Package failsafesdk is a minimal HTTP client for the remediation API,
// following the teacher's project-scoped SDK shape adapted to tenant scoping.
package failsafesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal failsafe HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Event is the API's record of a submitted workflow-failure event.
type Event struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	WorkflowID     string         `json:"workflow_id"`
	VendorID       *string        `json:"vendor_id,omitempty"`
	EventType      string         `json:"event_type"`
	ErrorCode      string         `json:"error_code"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	OccurredAt     string         `json:"occurred_at"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
}

// Incident is the API's record of a correlated run of failures.
type Incident struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	WorkflowID  string         `json:"workflow_id"`
	Signature   string         `json:"signature"`
	Title       string         `json:"title"`
	Severity    string         `json:"severity"`
	Status      string         `json:"status"`
	EventCount  int            `json:"event_count"`
	RetryCount  int            `json:"retry_count"`
	FirstSeenAt string         `json:"first_seen_at"`
	LastSeenAt  string         `json:"last_seen_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Action is a single remediation attempt against an incident.
type Action struct {
	ID              string         `json:"id"`
	IncidentID      string         `json:"incident_id"`
	DecisionID      string         `json:"decision_id"`
	Kind            string         `json:"kind"`
	Status          string         `json:"status"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	Result          map[string]any `json:"result,omitempty"`
	Reversible      bool           `json:"reversible"`
	ReversalOf      *string        `json:"reversal_of,omitempty"`
	AttemptNumber   int            `json:"attempt_number"`
	EscalationLevel int            `json:"escalation_level"`
	ScheduledFor    *string        `json:"scheduled_for,omitempty"`
	CompletedAt     *string        `json:"completed_at,omitempty"`
	CreatedAt       string         `json:"created_at"`
}

// Vendor is an external dependency with a circuit breaker and rate limit.
type Vendor struct {
	ID                  string `json:"id"`
	TenantID            string `json:"tenant_id"`
	Name                string `json:"name"`
	BreakerState        string `json:"breaker_state"`
	BreakerFailureCount int    `json:"breaker_failure_count"`
	RateLimitPerMinute  int    `json:"rate_limit_per_minute"`
}

// Workflow identifies a distinct originating workflow definition.
type Workflow struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

// KillSwitch is a manual override blocking ingestion.
type KillSwitch struct {
	ID          string  `json:"id"`
	TenantID    string  `json:"tenant_id"`
	WorkflowID  *string `json:"workflow_id,omitempty"`
	Active      bool    `json:"active"`
	Reason      string  `json:"reason"`
	ActivatedBy string  `json:"activated_by"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SubmitEvent submits a workflow-failure event for ingestion and returns the
// correlated incident along with whether the submission was a duplicate or
// triggered a severity escalation.
func (c *Client) SubmitEvent(ctx context.Context, workflowID, eventType, errorCode, idempotencyKey string, opts ...func(*submitEventOpts)) (Event, Incident, bool, bool, error) {
	o := submitEventOpts{}
	for _, opt := range opts {
		opt(&o)
	}
	body := map[string]any{
		"workflow_id":     workflowID,
		"event_type":      eventType,
		"error_code":      errorCode,
		"idempotency_key": idempotencyKey,
	}
	if o.vendorID != "" {
		body["vendor_id"] = o.vendorID
	}
	if len(o.payload) > 0 {
		body["payload"] = o.payload
	}
	var resp struct {
		Event     Event    `json:"event"`
		Incident  Incident `json:"incident"`
		Duplicate bool     `json:"duplicate"`
		Escalated bool     `json:"escalated"`
	}
	err := c.doWithHeaders(ctx, http.MethodPost, "events", body, &resp, map[string]string{
		"X-Correlation-ID": o.correlationID,
	})
	return resp.Event, resp.Incident, resp.Duplicate, resp.Escalated, err
}

type submitEventOpts struct {
	vendorID      string
	correlationID string
	payload       map[string]any
}

// WithVendor attaches a vendor id to a SubmitEvent call.
func WithVendor(vendorID string) func(*submitEventOpts) {
	return func(o *submitEventOpts) { o.vendorID = vendorID }
}

// WithCorrelationID attaches a correlation id to a SubmitEvent call.
func WithCorrelationID(id string) func(*submitEventOpts) {
	return func(o *submitEventOpts) { o.correlationID = id }
}

// WithPayload attaches a free-form payload to a SubmitEvent call.
func WithPayload(payload map[string]any) func(*submitEventOpts) {
	return func(o *submitEventOpts) { o.payload = payload }
}

// ListIncidents returns all incidents for the caller's tenant.
func (c *Client) ListIncidents(ctx context.Context) ([]Incident, error) {
	var resp struct {
		Incidents []Incident `json:"incidents"`
	}
	err := c.do(ctx, http.MethodGet, "incidents", nil, &resp)
	return resp.Incidents, err
}

// GetIncident fetches a single incident by id.
func (c *Client) GetIncident(ctx context.Context, id string) (Incident, error) {
	var resp struct {
		Incident Incident `json:"incident"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("incidents/%s", url.PathEscape(id)), nil, &resp)
	return resp.Incident, err
}

// DecideIncident runs the classifier against an incident and schedules its
// next remediation action.
func (c *Client) DecideIncident(ctx context.Context, id string) (Action, error) {
	var resp struct {
		Action Action `json:"action"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("incidents/%s/decide", url.PathEscape(id)), nil, &resp)
	return resp.Action, err
}

// ResolveIncident marks an incident resolved.
func (c *Client) ResolveIncident(ctx context.Context, id, note string) (Incident, error) {
	var resp struct {
		Incident Incident `json:"incident"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("incidents/%s/resolve", url.PathEscape(id)), map[string]any{"note": note}, &resp)
	return resp.Incident, err
}

// IgnoreIncident marks an incident ignored.
func (c *Client) IgnoreIncident(ctx context.Context, id, note string) (Incident, error) {
	var resp struct {
		Incident Incident `json:"incident"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("incidents/%s/ignore", url.PathEscape(id)), map[string]any{"note": note}, &resp)
	return resp.Incident, err
}

// ListActions returns the actions recorded against an incident.
func (c *Client) ListActions(ctx context.Context, incidentID string) ([]Action, error) {
	var resp struct {
		Actions []Action `json:"actions"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("incidents/%s/actions", url.PathEscape(incidentID)), nil, &resp)
	return resp.Actions, err
}

// GetAction fetches a single action by id.
func (c *Client) GetAction(ctx context.Context, id string) (Action, error) {
	var resp struct {
		Action Action `json:"action"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("actions/%s", url.PathEscape(id)), nil, &resp)
	return resp.Action, err
}

// ReverseAction reverses a succeeded, reversible action.
func (c *Client) ReverseAction(ctx context.Context, id string) (Action, error) {
	var resp struct {
		Action Action `json:"action"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("actions/%s/reverse", url.PathEscape(id)), nil, &resp)
	return resp.Action, err
}

// ListKillSwitches returns the caller's tenant's kill switches.
func (c *Client) ListKillSwitches(ctx context.Context) ([]KillSwitch, error) {
	var resp struct {
		KillSwitches []KillSwitch `json:"kill_switches"`
	}
	err := c.do(ctx, http.MethodGet, "kill-switches", nil, &resp)
	return resp.KillSwitches, err
}

// ActivateKillSwitch activates a tenant-wide (workflowID == "") or
// single-workflow kill switch.
func (c *Client) ActivateKillSwitch(ctx context.Context, workflowID, reason string) (KillSwitch, error) {
	body := map[string]any{"reason": reason}
	if workflowID != "" {
		body["workflow_id"] = workflowID
	}
	var resp struct {
		KillSwitch KillSwitch `json:"kill_switch"`
	}
	err := c.do(ctx, http.MethodPost, "kill-switches", body, &resp)
	return resp.KillSwitch, err
}

// DeactivateKillSwitch turns off a previously-activated kill switch.
func (c *Client) DeactivateKillSwitch(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("kill-switches/%s/deactivate", url.PathEscape(id)), nil, nil)
}

// ListVendors returns the caller's tenant's vendors and their breaker state.
func (c *Client) ListVendors(ctx context.Context) ([]Vendor, error) {
	var resp struct {
		Vendors []Vendor `json:"vendors"`
	}
	err := c.do(ctx, http.MethodGet, "vendors", nil, &resp)
	return resp.Vendors, err
}

// CreateVendor registers a vendor with an initially closed breaker.
func (c *Client) CreateVendor(ctx context.Context, name string, rateLimitPerMinute int) (Vendor, error) {
	body := map[string]any{"name": name, "rate_limit_per_minute": rateLimitPerMinute}
	var resp struct {
		Vendor Vendor `json:"vendor"`
	}
	err := c.do(ctx, http.MethodPost, "vendors", body, &resp)
	return resp.Vendor, err
}

// ListWorkflows returns the caller's tenant's workflow definitions.
func (c *Client) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	var resp []Workflow
	err := c.do(ctx, http.MethodGet, "workflows", nil, &resp)
	return resp, err
}

// CreateWorkflow registers a workflow definition.
func (c *Client) CreateWorkflow(ctx context.Context, name string) (Workflow, error) {
	var resp struct {
		Workflow Workflow `json:"workflow"`
	}
	err := c.do(ctx, http.MethodPost, "workflows", map[string]any{"name": name}, &resp)
	return resp.Workflow, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	return c.doWithHeaders(ctx, method, endpoint, body, out, nil)
}

func (c *Client) doWithHeaders(ctx context.Context, method, endpoint string, body any, out any, headers map[string]string) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/v0"
}
