// Package server exposes the engine over HTTP using huma for schema
// validation/OpenAPI generation and chi for routing, following the
// teacher's request-envelope and auth-middleware conventions.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"failsafe/internal/domain"
	"failsafe/internal/engine"
	"failsafe/internal/engine/auth"
	"failsafe/internal/repo"
	"failsafe/internal/safety"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"operator lacks permission"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{status: status, Body: apiErrorBody{Code: code, Message: message, Details: details}}
}

// New returns an HTTP handler exposing the ingestion, incident, action, and
// kill-switch API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newCorrelationIDMiddleware())
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Failsafe Remediation API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerEvents(group, cfg.Engine)
	registerIncidents(group, cfg.Engine)
	registerActions(group, cfg.Engine)
	registerKillSwitches(group, cfg.Engine)
	registerVendors(group, cfg.Engine)
	registerWorkflows(group, cfg.Engine)

	return router, nil
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusServiceUnavailable:
		return "unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// handleError maps engine/repo/auth errors to the HTTP error envelope,
// following the rejection-code table: an active kill switch is 503
// kill_switch_active, breaker rejections are 503, an inactive tenant and a
// disabled workflow are 403, RBAC failures are 403, not-found is 404,
// rate-limit rejections are 429 with a retry-after hint, and store
// conflicts, single-flight, reversal and incident-transition rejections are
// 409. Duplicate submissions are not errors and never reach here.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrConflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrActionInFlight) {
		return newAPIError(http.StatusConflict, "action_in_flight", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrKillSwitchActive) {
		return newAPIError(http.StatusServiceUnavailable, "kill_switch_active", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrTenantInactive) {
		return newAPIError(http.StatusForbidden, "tenant_inactive", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrWorkflowNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrWorkflowDisabled) {
		return newAPIError(http.StatusForbidden, "workflow_disabled", err.Error(), nil)
	}
	if errors.Is(err, safety.ErrBreakerOpen) {
		return newAPIError(http.StatusServiceUnavailable, "breaker_open", err.Error(), nil)
	}
	var rle engine.RateLimitedError
	if errors.As(err, &rle) {
		return newAPIError(http.StatusTooManyRequests, "rate_limited", err.Error(), map[string]any{
			"retry_after_seconds": rle.RetryAfter.Seconds(),
		})
	}
	if errors.Is(err, engine.ErrNotReversible) {
		return newAPIError(http.StatusConflict, "not_reversible", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrInvalidTransition) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "required") || strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok"}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-event",
		Method:        http.MethodPost,
		Path:          "/events",
		Summary:       "Submit a workflow-failure event",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusTooManyRequests, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body SubmitEventRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		tenantID, authErr := tenantIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		if b.WorkflowID == "" || b.EventType == "" || b.IdempotencyKey == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "workflow_id, event_type, and idempotency_key are required", nil)
		}
		result, err := e.Ingest(ctx, engine.IngestRequest{
			TenantID:       tenantID,
			WorkflowID:     b.WorkflowID,
			VendorID:       b.VendorID,
			EventType:      b.EventType,
			ErrorCode:      b.ErrorCode,
			Payload:        b.Payload,
			IdempotencyKey: b.IdempotencyKey,
			OccurredAt:     b.OccurredAt,
			CorrelationID:  correlationIDFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: EventResponse{Event: result.Event, Incident: result.Incident, Duplicate: result.Duplicate, Escalated: result.Escalated}}, nil
	})
}

func registerIncidents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-incidents",
		Method:      http.MethodGet,
		Path:        "/incidents",
		Summary:     "List incidents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body IncidentListResponse `json:"body"`
	}, error) {
		tenantID, authErr := tenantIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListIncidents(ctx, tenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IncidentListResponse `json:"body"`
		}{Body: IncidentListResponse{Incidents: items}}, nil
	})

	type incidentPath struct {
		IncidentID string `path:"incident_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-incident",
		Method:      http.MethodGet,
		Path:        "/incidents/{incident_id}",
		Summary:     "Get an incident",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *incidentPath) (*struct {
		Body IncidentResponse `json:"body"`
	}, error) {
		tenantID, authErr := tenantIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		incident, err := e.Repo.GetIncident(ctx, tenantID, input.IncidentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IncidentResponse `json:"body"`
		}{Body: IncidentResponse{Incident: incident}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-incident",
		Method:      http.MethodPost,
		Path:        "/incidents/{incident_id}/resolve",
		Summary:     "Resolve an incident",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		IncidentID string                  `path:"incident_id"`
		Body       ResolveIncidentRequest  `json:"body"`
	}) (*struct {
		Body IncidentResponse `json:"body"`
	}, error) {
		tenantID, authErr := tenantIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.Require(ctx, tenantID, operatorID, "incident:resolve"); err != nil {
			return nil, handleError(err)
		}
		incident, err := e.Resolve(ctx, tenantID, input.IncidentID, operatorID, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IncidentResponse `json:"body"`
		}{Body: IncidentResponse{Incident: incident}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ignore-incident",
		Method:      http.MethodPost,
		Path:        "/incidents/{incident_id}/ignore",
		Summary:     "Ignore an incident",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		IncidentID string                 `path:"incident_id"`
		Body       IgnoreIncidentRequest  `json:"body"`
	}) (*struct {
		Body IncidentResponse `json:"body"`
	}, error) {
		tenantID, authErr := tenantIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.Require(ctx, tenantID, operatorID, "incident:ignore"); err != nil {
			return nil, handleError(err)
		}
		incident, err := e.Ignore(ctx, tenantID, input.IncidentID, operatorID, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IncidentResponse `json:"body"`
		}{Body: IncidentResponse{Incident: incident}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-incident",
		Method:      http.MethodPost,
		Path:        "/incidents/{incident_id}/decide",
		Summary:     "Run the classifier and record a decision",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *incidentPath) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		tenantID, authErr := tenantIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		decision, result, err := e.Decide(ctx, tenantID, input.IncidentID)
		if err != nil {
			return nil, handleError(err)
		}
		incident, err := e.Repo.GetIncident(ctx, tenantID, input.IncidentID)
		if err != nil {
			return nil, handleError(err)
		}
		action, err := e.Act(ctx, tenantID, incident, decision, result.Recommended)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActionResponse `json:"body"`
		}{Body: ActionResponse{Action: action}}, nil
	})
}

func registerActions(api huma.API, e engine.Engine) {
	type incidentPath struct {
		IncidentID string `path:"incident_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-actions",
		Method:      http.MethodGet,
		Path:        "/incidents/{incident_id}/actions",
		Summary:     "List actions for an incident",
	}, func(ctx context.Context, input *incidentPath) (*struct {
		Body ActionListResponse `json:"body"`
	}, error) {
		if _, authErr := tenantIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListActionsForIncident(ctx, input.IncidentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActionListResponse `json:"body"`
		}{Body: ActionListResponse{Actions: items}}, nil
	})

	type actionPath struct {
		ActionID string `path:"action_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-action",
		Method:      http.MethodGet,
		Path:        "/actions/{action_id}",
		Summary:     "Get an action",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *actionPath) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		if _, authErr := tenantIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		action, err := e.Repo.GetAction(ctx, input.ActionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActionResponse `json:"body"`
		}{Body: ActionResponse{Action: action}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reverse-action",
		Method:      http.MethodPost,
		Path:        "/actions/{action_id}/reverse",
		Summary:     "Reverse a succeeded, reversible action",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusForbidden},
	}, func(ctx context.Context, input *actionPath) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		tenantID, authErr := tenantIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.Require(ctx, tenantID, operatorID, "incident:resolve"); err != nil {
			return nil, handleError(err)
		}
		action, err := e.ReverseAction(ctx, tenantID, input.ActionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActionResponse `json:"body"`
		}{Body: ActionResponse{Action: action}}, nil
	})
}

func registerKillSwitches(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-kill-switches",
		Method:      http.MethodGet,
		Path:        "/kill-switches",
		Summary:     "List kill switches",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body KillSwitchListResponse `json:"body"`
	}, error) {
		tenantID, authErr := tenantIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListKillSwitches(ctx, tenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body KillSwitchListResponse `json:"body"`
		}{Body: KillSwitchListResponse{KillSwitches: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "activate-kill-switch",
		Method:        http.MethodPost,
		Path:          "/kill-switches",
		Summary:       "Activate a kill switch",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body ActivateKillSwitchRequest `json:"body"`
	}) (*struct {
		Body KillSwitchResponse `json:"body"`
	}, error) {
		tenantID, authErr := tenantIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.Require(ctx, tenantID, operatorID, "killswitch:activate"); err != nil {
			return nil, handleError(err)
		}
		if input.Body.Reason == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "reason is required", nil)
		}
		ks, err := e.ActivateKillSwitch(ctx, tenantID, input.Body.WorkflowID, input.Body.Reason, operatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body KillSwitchResponse `json:"body"`
		}{Body: KillSwitchResponse{KillSwitch: ks}}, nil
	})

	type killSwitchPath struct {
		KillSwitchID string `path:"kill_switch_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "deactivate-kill-switch",
		Method:      http.MethodPost,
		Path:        "/kill-switches/{kill_switch_id}/deactivate",
		Summary:     "Deactivate a kill switch",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *killSwitchPath) (*struct {
		Body struct{} `json:"body"`
	}, error) {
		tenantID, authErr := tenantIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.Require(ctx, tenantID, operatorID, "killswitch:deactivate"); err != nil {
			return nil, handleError(err)
		}
		if err := e.DeactivateKillSwitch(ctx, tenantID, input.KillSwitchID, operatorID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body struct{} `json:"body"`
		}{}, nil
	})
}

func registerVendors(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-vendors",
		Method:      http.MethodGet,
		Path:        "/vendors",
		Summary:     "List vendors",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body VendorListResponse `json:"body"`
	}, error) {
		tenantID, authErr := tenantIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListVendors(ctx, tenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VendorListResponse `json:"body"`
		}{Body: VendorListResponse{Vendors: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-vendor",
		Method:        http.MethodPost,
		Path:          "/vendors",
		Summary:       "Register a vendor",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateVendorRequest `json:"body"`
	}) (*struct {
		Body VendorResponse `json:"body"`
	}, error) {
		tenantID, authErr := tenantIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		v, err := e.CreateVendor(ctx, tenantID, input.Body.Name, input.Body.RateLimitPerMinute)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VendorResponse `json:"body"`
		}{Body: VendorResponse{Vendor: v}}, nil
	})
}

func registerWorkflows(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/workflows",
		Summary:     "List workflows",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Workflow `json:"body"`
	}, error) {
		tenantID, authErr := tenantIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListWorkflows(ctx, tenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Workflow `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-workflow",
		Method:        http.MethodPost,
		Path:          "/workflows",
		Summary:       "Register a workflow",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateWorkflowRequest `json:"body"`
	}) (*struct {
		Body WorkflowResponse `json:"body"`
	}, error) {
		tenantID, authErr := tenantIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		w, err := e.CreateWorkflow(ctx, tenantID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkflowResponse `json:"body"`
		}{Body: WorkflowResponse{Workflow: w}}, nil
	})
}
