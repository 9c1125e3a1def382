package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"failsafe/internal/config"
	"failsafe/internal/db"
	"failsafe/internal/domain"
	"failsafe/internal/engine"
	"failsafe/internal/migrate"
	"failsafe/internal/safety"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, engine.Engine, string) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	e := engine.New(conn, cfg, safety.NewMemCounter(time.Now), safety.NewMemSlidingWindow(), nil)

	tenantID := "tenant-1"
	if err := e.Repo.InsertTenant(context.Background(), domain.Tenant{ID: tenantID, Name: "t", Active: true, CreatedAt: "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("insert tenant: %v", err)
	}
	if err := e.Repo.InsertWorkflow(context.Background(), domain.Workflow{ID: "workflow-1", TenantID: tenantID, Name: "checkout", Active: true, CreatedAt: "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("insert workflow: %v", err)
	}
	admin := cfg.OperatorRoles["admin"]
	tx, err := conn.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := e.Repo.InsertOperatorRoleTx(context.Background(), tx, tenantID, "admin", admin.Description, admin.Permissions); err != nil {
		t.Fatalf("insert operator role: %v", err)
	}
	if err := e.Repo.AssignOperatorRoleTx(context.Background(), tx, tenantID, "operator-1", "admin"); err != nil {
		t.Fatalf("assign operator role: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testJWTSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, e, tenantID
}

func mintToken(t *testing.T, tenantID, operatorID string) string {
	t.Helper()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: tenantID},
		OperatorID:       operatorID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestHealthRequiresNoAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	defer srv.Close()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)
	defer srv.Close()
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/incidents", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}
}

func TestSubmitEventDecideActResolveFlow(t *testing.T) {
	srv, _, tenantID := newTestServer(t)
	defer srv.Close()
	client := srv.Client()
	operatorToken := mintToken(t, tenantID, "operator-1")
	headers := map[string]string{"Authorization": "Bearer " + operatorToken}

	submitRes, submitBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/events", map[string]any{
		"workflow_id":     "workflow-1",
		"event_type":      "payment.failed",
		"error_code":      "timeout",
		"idempotency_key": "idem-1",
	}, headers)
	if submitRes.StatusCode != http.StatusAccepted {
		t.Fatalf("submit event status %d: %s", submitRes.StatusCode, string(submitBody))
	}
	var submitted EventResponse
	if err := json.Unmarshal(submitBody, &submitted); err != nil {
		t.Fatalf("unmarshal event response: %v", err)
	}
	incidentID := submitted.Incident.ID

	decideRes, decideBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/incidents/"+incidentID+"/decide", nil, headers)
	if decideRes.StatusCode != http.StatusOK {
		t.Fatalf("decide status %d: %s", decideRes.StatusCode, string(decideBody))
	}
	var acted ActionResponse
	if err := json.Unmarshal(decideBody, &acted); err != nil {
		t.Fatalf("unmarshal action response: %v", err)
	}
	if acted.Action.IncidentID != incidentID {
		t.Fatalf("expected action scoped to the incident, got %s", acted.Action.IncidentID)
	}

	resolveRes, resolveBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/incidents/"+incidentID+"/resolve", map[string]any{
		"note": "fixed upstream",
	}, headers)
	if resolveRes.StatusCode != http.StatusOK {
		t.Fatalf("resolve status %d: %s", resolveRes.StatusCode, string(resolveBody))
	}
	var resolved IncidentResponse
	if err := json.Unmarshal(resolveBody, &resolved); err != nil {
		t.Fatalf("unmarshal incident response: %v", err)
	}
	if resolved.Incident.Status != domain.IncidentStatusResolved {
		t.Fatalf("expected resolved status, got %s", resolved.Incident.Status)
	}
}

func TestResolveIncidentWithoutOperatorIdentityForbidden(t *testing.T) {
	srv, _, tenantID := newTestServer(t)
	defer srv.Close()
	client := srv.Client()
	tenantOnlyToken := mintToken(t, tenantID, "")
	headers := map[string]string{"Authorization": "Bearer " + tenantOnlyToken}

	submitRes, submitBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/events", map[string]any{
		"workflow_id":     "workflow-1",
		"event_type":      "payment.failed",
		"error_code":      "timeout",
		"idempotency_key": "idem-1",
	}, headers)
	if submitRes.StatusCode != http.StatusAccepted {
		t.Fatalf("submit event status %d: %s", submitRes.StatusCode, string(submitBody))
	}
	var submitted EventResponse
	if err := json.Unmarshal(submitBody, &submitted); err != nil {
		t.Fatalf("unmarshal event response: %v", err)
	}

	resolveRes, _ := doJSON(t, client, http.MethodPost, srv.URL+"/v0/incidents/"+submitted.Incident.ID+"/resolve", map[string]any{
		"note": "n/a",
	}, headers)
	if resolveRes.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 resolving without an operator identity, got %d", resolveRes.StatusCode)
	}
}

func TestKillSwitchActivationRequiresReason(t *testing.T) {
	srv, _, tenantID := newTestServer(t)
	defer srv.Close()
	client := srv.Client()
	headers := map[string]string{"Authorization": "Bearer " + mintToken(t, tenantID, "operator-1")}

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/kill-switches", map[string]any{
		"workflow_id": "workflow-1",
	}, headers)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 activating a kill switch without a reason, got %d: %s", res.StatusCode, string(body))
	}
}

func TestActionInFlightConflictOnDoubleDecide(t *testing.T) {
	srv, _, tenantID := newTestServer(t)
	defer srv.Close()
	client := srv.Client()
	headers := map[string]string{"Authorization": "Bearer " + mintToken(t, tenantID, "operator-1")}

	_, submitBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/events", map[string]any{
		"workflow_id":     "workflow-1",
		"event_type":      "payment.failed",
		"error_code":      "timeout",
		"idempotency_key": "idem-1",
	}, headers)
	var submitted EventResponse
	if err := json.Unmarshal(submitBody, &submitted); err != nil {
		t.Fatalf("unmarshal event response: %v", err)
	}

	firstRes, firstBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/incidents/"+submitted.Incident.ID+"/decide", nil, headers)
	if firstRes.StatusCode != http.StatusOK {
		t.Fatalf("first decide status %d: %s", firstRes.StatusCode, string(firstBody))
	}
	secondRes, secondBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/incidents/"+submitted.Incident.ID+"/decide", nil, headers)
	if secondRes.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on a second decide against the same incident, got %d: %s", secondRes.StatusCode, string(secondBody))
	}
}
