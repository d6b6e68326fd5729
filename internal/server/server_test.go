package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"studioflow/internal/config"
	"studioflow/internal/db"
	"studioflow/internal/domain"
	"studioflow/internal/engine"
	"studioflow/internal/migrate"
	studioflowsdk "studioflow/sdk/go"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("studio")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitProject(context.Background(), engine.ProjectCreateOptions{ID: "studio", Name: "Studio", ActorID: "tester"}); err != nil {
		t.Fatalf("init project: %v", err)
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
	return testSrv, func() { testSrv.Close() }
}

func bearerFor(t *testing.T, actorID string, permissions ...string) map[string]string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": actorID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	if len(permissions) > 0 {
		claims["permissions"] = permissions
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
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

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, map[string]string{"Authorization": "Bearer garbage"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health must stay open, got %d", res.StatusCode)
	}
}

func TestApprovalFlowHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := bearerFor(t, "tester")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/team", map[string]any{
		"id":   "pm-1",
		"name": "Priya",
		"role": "Project Manager",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add member: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/studio/approvals", map[string]any{
		"entity_type": "task",
		"entity_id":   "task-1",
		"entity_name": "Order marble countertop",
		"configs": []map[string]any{
			{"approver_type": "specific-user", "approver_user_id": "pm-1", "required": true},
		},
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create approval: %d %s", res.StatusCode, string(data))
	}
	var created domain.ApprovalRequest
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal approval: %v", err)
	}
	if created.AssignedTo != "pm-1" || created.Status != domain.ApprovalPending {
		t.Fatalf("unexpected request: %+v", created)
	}

	// The wrong actor gets refused at the assignment check, not auth.
	other := bearerFor(t, "someone-else", "approval.decide")
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/approvals/"+created.ID+"/approve", map[string]any{}, other)
	if res.StatusCode == http.StatusOK {
		t.Fatalf("non-assignee approve must fail: %s", string(data))
	}

	pm := bearerFor(t, "pm-1", "approval.decide", "approval.read")
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/approvals/"+created.ID+"/approve", map[string]any{
		"comment": "approved over the phone",
	}, pm)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", res.StatusCode, string(data))
	}
	var decided domain.ApprovalRequest
	if err := json.Unmarshal(data, &decided); err != nil {
		t.Fatalf("unmarshal decided: %v", err)
	}
	if decided.Status != domain.ApprovalApproved {
		t.Fatalf("expected approved, got %s", decided.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/approvals/"+created.ID+"/history", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history: %d %s", res.StatusCode, string(data))
	}
	var history []domain.Event
	if err := json.Unmarshal(data, &history); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(history) < 2 {
		t.Fatalf("expected request and approve entries, got %d", len(history))
	}
}

func TestStageGateHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := bearerFor(t, "tester")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/studio/tasks", map[string]any{
		"stage": "Sales",
		"title": "Site visit",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/studio/stages/Sales/gate", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("gate: %d %s", res.StatusCode, string(data))
	}
	var gate domain.GateResult
	if err := json.Unmarshal(data, &gate); err != nil {
		t.Fatalf("unmarshal gate: %v", err)
	}
	if gate.Eligible || len(gate.Missing) == 0 {
		t.Fatalf("open task should block the gate: %+v", gate)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/studio/stages/Sales/complete", map[string]any{}, admin)
	if res.StatusCode == http.StatusOK {
		t.Fatalf("completion must be refused while the gate is blocked: %s", string(data))
	}

	for _, status := range []string{"in-progress", "completed"} {
		res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+task.ID, map[string]any{
			"status": status,
		}, admin)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("task to %s: %d %s", status, res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/studio/stages/Sales/complete", map[string]any{}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, string(data))
	}
	var stage domain.Stage
	if err := json.Unmarshal(data, &stage); err != nil {
		t.Fatalf("unmarshal stage: %v", err)
	}
	if stage.Status != "completed" {
		t.Fatalf("expected completed, got %s", stage.Status)
	}
}

func TestStatusConfigHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := bearerFor(t, "tester")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/statuses/task", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list statuses: %d %s", res.StatusCode, string(data))
	}
	var statuses []domain.StatusConfig
	if err := json.Unmarshal(data, &statuses); err != nil {
		t.Fatalf("unmarshal statuses: %v", err)
	}
	if len(statuses) == 0 {
		t.Fatalf("expected seeded task statuses")
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/statuses/task", map[string]any{
		"value": "waiting-client",
		"label": "Waiting on Client",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/statuses/task/transitions?from=todo", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transitions: %d %s", res.StatusCode, string(data))
	}
	var targets []domain.StatusConfig
	if err := json.Unmarshal(data, &targets); err != nil {
		t.Fatalf("unmarshal targets: %v", err)
	}
	seen := map[string]bool{}
	for _, sc := range targets {
		seen[sc.Value] = true
	}
	if !seen["in-progress"] || seen["review"] {
		t.Fatalf("unexpected targets from todo: %v", seen)
	}
}

func TestAPIKeyAuthHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := bearerFor(t, "tester")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/apikeys", map[string]any{
		"name": "ci",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key: %d %s", res.StatusCode, string(data))
	}
	var keyResp struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if err := json.Unmarshal(data, &keyResp); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if keyResp.Key == "" {
		t.Fatalf("plaintext key must be returned on creation")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects", nil, map[string]string{"X-Api-Key": keyResp.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key auth: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/apikeys/"+keyResp.ID, nil, admin)
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete key: %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects", nil, map[string]string{"X-Api-Key": keyResp.Key})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key must stop authenticating, got %d", res.StatusCode)
	}
}

func TestSDKApprovalRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	admin := bearerFor(t, "tester")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/team", map[string]any{
		"id":   "pm-1",
		"name": "Priya",
		"role": "Project Manager",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add member: %d %s", res.StatusCode, string(data))
	}

	c := studioflowsdk.New(srv.URL, "studio")
	c.BearerToken = strings.TrimPrefix(admin["Authorization"], "Bearer ")

	req, err := c.RequestApproval(context.Background(), "task", "task-9", "Order sofa fabric", "", []studioflowsdk.ApprovalConfig{
		{ApproverType: "specific-user", ApproverUserID: "pm-1", Required: true},
	})
	if err != nil {
		t.Fatalf("request approval via sdk: %v", err)
	}
	if req.AssignedTo != "pm-1" {
		t.Fatalf("approver id must survive the wire, assigned to %q", req.AssignedTo)
	}

	pm := studioflowsdk.New(srv.URL, "studio")
	pm.BearerToken = strings.TrimPrefix(bearerFor(t, "pm-1", "approval.decide", "approval.read")["Authorization"], "Bearer ")
	decided, err := pm.Approve(context.Background(), req.ID, "looks right")
	if err != nil {
		t.Fatalf("approve via sdk: %v", err)
	}
	if decided.Status != "approved" {
		t.Fatalf("expected approved, got %s", decided.Status)
	}

	evts, err := c.Events(context.Background(), 50)
	if err != nil {
		t.Fatalf("events via sdk: %v", err)
	}
	var requested bool
	for _, evt := range evts {
		if evt.Type != "approval.request" {
			continue
		}
		requested = true
		var payload map[string]any
		if err := json.Unmarshal([]byte(evt.Payload), &payload); err != nil {
			t.Fatalf("decode event payload: %v", err)
		}
		if payload["assigned_to"] != "pm-1" {
			t.Fatalf("event payload must decode, got %v", payload)
		}
	}
	if !requested {
		t.Fatalf("approval.request event not visible through the sdk")
	}
}
