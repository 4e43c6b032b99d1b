package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"taskforge/internal/app"
	"taskforge/internal/domain"
	"taskforge/internal/events"
	"taskforge/internal/repo"
	"taskforge/internal/strategy"
)

type testServer struct {
	URL     string
	Runtime *app.Runtime
	client  *http.Client
	close   func()
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	rt, err := app.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	handler, err := New(Config{Runtime: rt, BasePath: "/v1", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:     "http://" + ln.Addr().String(),
		Runtime: rt,
		client:  &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			rt.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
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

func TestSubmitAndFetchTask(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowAnonymous: true})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"name":       "Manual review",
		"category":   "human_prep",
		"priority":   20,
		"importance": 90,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	var created domain.Task
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if created.ID == 0 || created.Status != domain.TaskPending {
		t.Fatalf("created = %+v", created)
	}
	if created.Payload["submitted_by"] != "local-user" {
		t.Fatalf("payload = %v, want submitted_by stamped", created.Payload)
	}

	res, data = doJSON(t, client, http.MethodGet, fmt.Sprintf("%s/v1/tasks/%d", srv.URL, created.ID), nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/pending", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pending status %d: %s", res.StatusCode, string(data))
	}
	var pending []domain.Task
	if err := json.Unmarshal(data, &pending); err != nil {
		t.Fatalf("unmarshal pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != created.ID {
		t.Fatalf("pending = %+v", pending)
	}
}

func TestPipelineRunExpandsBlueprints(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowAnonymous: true})
	client := srv.Client()
	ctx := context.Background()

	strat := domain.Strategy{ExecutionFlow: []string{string(strategy.StepExecute), string(strategy.StepConfigure)}, RecommendedPriority: 10}
	bpID, err := srv.Runtime.Repo.InsertBlueprint(ctx, domain.Blueprint{
		Title:     "Automated stream",
		Strategy:  &strat,
		Status:    domain.BlueprintNew,
		CreatedAt: "2024-01-01T00:00:00Z",
		UpdatedAt: "2024-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("seed blueprint: %v", err)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/pipeline/run", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pipeline status %d: %s", res.StatusCode, string(data))
	}
	var out PipelineRunResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Expanded != 1 {
		t.Fatalf("expanded = %d, want 1", out.Expanded)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/blueprints?status=active", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("blueprints status %d: %s", res.StatusCode, string(data))
	}
	var bps []domain.Blueprint
	if err := json.Unmarshal(data, &bps); err != nil {
		t.Fatalf("unmarshal blueprints: %v", err)
	}
	if len(bps) != 1 || bps[0].ID != bpID {
		t.Fatalf("active blueprints = %+v", bps)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events/since?last_id=0", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page EventPage
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) == 0 || page.LastID == 0 {
		t.Fatalf("event page = %+v", page)
	}
}

func TestBlueprintReviewTransitions(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowAnonymous: true})
	client := srv.Client()
	ctx := context.Background()

	bpID, err := srv.Runtime.Repo.InsertBlueprint(ctx, domain.Blueprint{
		Title:     "Pending review",
		Status:    domain.BlueprintNew,
		CreatedAt: "2024-01-01T00:00:00Z",
		UpdatedAt: "2024-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("seed blueprint: %v", err)
	}

	res, data := doJSON(t, client, http.MethodPost, fmt.Sprintf("%s/v1/blueprints/%d/approve", srv.URL, bpID), nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}
	var bp domain.Blueprint
	if err := json.Unmarshal(data, &bp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if bp.Status != domain.BlueprintApproved {
		t.Fatalf("status = %s, want approved", bp.Status)
	}
	var approvals []domain.Event
	for _, e := range srv.Runtime.Bus.Since(0) {
		if e.Type == events.TypeBlueprintApproved {
			approvals = append(approvals, e)
		}
	}
	if len(approvals) != 1 || approvals[0].Payload["actor"] != "local-user" {
		t.Fatalf("approval events = %+v", approvals)
	}

	// approved blueprints cannot be rejected
	res, data = doJSON(t, client, http.MethodPost, fmt.Sprintf("%s/v1/blueprints/%d/reject", srv.URL, bpID), nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("reject after approve status %d: %s", res.StatusCode, string(data))
	}
}

func TestNotFoundEnvelope(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowAnonymous: true})
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tasks/999", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}
}

func TestAuthRequiredWithoutAnonymous(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: "secret"})
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", res.StatusCode)
	}

	// health stays open
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", res.StatusCode)
	}

	secret := uuid.NewString()
	err := srv.Runtime.Repo.InsertAPIKey(context.Background(), domain.APIKey{
		ID:      uuid.NewString(),
		ActorID: "tester",
		KeyHash: repo.HashAPIKey(secret),
	})
	if err != nil {
		t.Fatalf("insert key: %v", err)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks", nil, map[string]string{"X-Api-Key": secret})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key status %d: %s", res.StatusCode, string(data))
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowAnonymous: true})
	client := srv.Client()

	if _, err := srv.Runtime.Engine.SubmitTask(context.Background(), domain.Task{Name: "counted"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/status", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var out StatusResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.TaskCounts[domain.TaskPending] != 1 {
		t.Fatalf("task counts = %v", out.TaskCounts)
	}
	if out.LastEventID == 0 {
		t.Fatalf("last event id should reflect the submit event")
	}
}
