package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	cfhttp "github.com/Strob0t/CoachForge/internal/adapter/http"
	"github.com/Strob0t/CoachForge/internal/domain"
	"github.com/Strob0t/CoachForge/internal/domain/agentdef"
	"github.com/Strob0t/CoachForge/internal/domain/onboarding"
	"github.com/Strob0t/CoachForge/internal/middleware"
	"github.com/Strob0t/CoachForge/internal/registry"
)

type fakeDefinitions struct {
	defs map[string][]agentdef.Definition // newest first
}

func (f *fakeDefinitions) Latest(_ context.Context, id string) (*agentdef.Definition, error) {
	for _, d := range f.defs[id] {
		if d.IsActive {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("agent %s: %w", id, domain.ErrConfigurationNotFound)
}

func (f *fakeDefinitions) LatestAny(_ context.Context, id string) (*agentdef.Definition, error) {
	if len(f.defs[id]) == 0 {
		return nil, fmt.Errorf("agent %s: %w", id, domain.ErrConfigurationNotFound)
	}
	d := f.defs[id][0]
	return &d, nil
}

func (f *fakeDefinitions) History(_ context.Context, id string) ([]agentdef.Definition, error) {
	return f.defs[id], nil
}

func (f *fakeDefinitions) AgentIDs(context.Context) ([]string, error) {
	ids := make([]string, 0, len(f.defs))
	for id := range f.defs {
		ids = append(ids, id)
	}
	return ids, nil
}

type fakeWorkflows struct {
	recs map[string]onboarding.Record
}

func (f *fakeWorkflows) Inspect(_ context.Context, userID string) (*onboarding.Record, []onboarding.StepResult, error) {
	rec, ok := f.recs[userID]
	if !ok {
		return nil, nil, fmt.Errorf("workflow %s: %w", userID, domain.ErrNotFound)
	}
	return &rec, []onboarding.StepResult{{RunID: rec.RunID, Step: "loadData", Output: json.RawMessage(`{}`)}}, nil
}

func (f *fakeWorkflows) ListWorkflows(_ context.Context, status onboarding.Status, limit int) ([]onboarding.Record, error) {
	var out []onboarding.Record
	for _, r := range f.recs {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeTriggers struct {
	got []onboarding.Trigger
}

func (f *fakeTriggers) Publish(_ context.Context, trig onboarding.Trigger) error {
	f.got = append(f.got, trig)
	return nil
}

type fakeDrafts struct {
	data map[string]json.RawMessage
}

func (f *fakeDrafts) Put(ctx context.Context, data json.RawMessage) (string, error) {
	token := fmt.Sprintf("tok%d", len(f.data)+1)
	return token, f.Save(ctx, token, data)
}

func (f *fakeDrafts) Save(_ context.Context, token string, data json.RawMessage) error {
	if len(data) == 0 || data[0] != '{' {
		return fmt.Errorf("invalid draft: %w: payload must be a JSON object", domain.ErrInvalidInput)
	}
	f.data[token] = data
	return nil
}

func (f *fakeDrafts) Get(_ context.Context, token string) (json.RawMessage, error) {
	d, ok := f.data[token]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return d, nil
}

type fixture struct {
	handler  http.Handler
	triggers *fakeTriggers
	drafts   *fakeDrafts
}

func newFixture(t *testing.T, checks ...cfhttp.HealthCheck) *fixture {
	t.Helper()
	agents := registry.NewAgentRegistry()
	agents.MustRegister(registry.AgentConfig{
		ID:        "plan:generate",
		Tools:     []string{"user_profile"},
		Callbacks: []registry.CallbackBinding{{Name: "log_event", When: registry.Always}},
	})
	agents.MustRegister(registry.AgentConfig{ID: "week:generate"})

	f := &fixture{triggers: &fakeTriggers{}, drafts: &fakeDrafts{data: map[string]json.RawMessage{}}}
	wf := &fakeWorkflows{recs: map[string]onboarding.Record{
		"u1": {UserID: "u1", RunID: "r1", Status: onboarding.StatusCompleted, CurrentStepIndex: len(onboarding.Steps)},
		"u2": {UserID: "u2", RunID: "r2", Status: onboarding.StatusFailed, ErrorMessage: "boom"},
	}}
	h := &cfhttp.Handlers{
		Definitions: &fakeDefinitions{defs: map[string][]agentdef.Definition{
			"plan:generate": {
				{AgentID: "plan:generate", VersionID: "v2", Model: "anthropic/claude", IsActive: false},
				{AgentID: "plan:generate", VersionID: "v1", Model: "anthropic/claude", IsActive: true},
			},
			"legacy": {{AgentID: "legacy", VersionID: "v9", IsActive: true}},
		}},
		Agents:    agents,
		Workflows: wf,
		Lister:    wf,
		Triggers:  f.triggers,
		Drafts:    f.drafts,
		Checks:    checks,
		Breakers:  func() map[string]string { return map[string]string{"anthropic": "closed"} },
	}
	f.handler = cfhttp.NewRouter(h, cfhttp.RouterOptions{ServiceName: "coachforge-test"})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func TestHealth(t *testing.T) {
	ok := cfhttp.HealthCheck{Name: "store", Check: func(context.Context) error { return nil }}
	f := newFixture(t, ok)
	rec := f.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("request id header missing")
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}

	bad := cfhttp.HealthCheck{Name: "queue", Check: func(context.Context) error { return errors.New("disconnected") }}
	f = newFixture(t, ok, bad)
	rec = f.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	body = decode[map[string]any](t, rec)
	checks := body["checks"].(map[string]any)
	if checks["queue"] != "disconnected" || checks["store"] != "ok" {
		t.Errorf("checks = %v", checks)
	}
}

func TestGraph(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/graph", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[struct {
		Agents map[string]registry.GraphNode `json:"agents"`
	}](t, rec)
	node, ok := body.Agents["plan:generate"]
	if !ok || len(node.Tools) != 1 || node.CallbackNames[0] != "log_event" {
		t.Errorf("graph = %+v", body.Agents)
	}
}

func TestListAgents(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/agents", "")
	body := decode[[]struct {
		AgentID    string `json:"agent_id"`
		Registered bool   `json:"registered"`
		Stored     bool   `json:"stored"`
	}](t, rec)
	if len(body) != 3 {
		t.Fatalf("agents = %+v", body)
	}
	want := map[string][2]bool{
		"legacy":        {false, true},
		"plan:generate": {true, true},
		"week:generate": {true, false},
	}
	for _, a := range body {
		if w := want[a.AgentID]; w != [2]bool{a.Registered, a.Stored} {
			t.Errorf("%s: registered=%v stored=%v", a.AgentID, a.Registered, a.Stored)
		}
	}
}

func TestGetDefinition(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name        string
		path        string
		wantStatus  int
		wantVersion string
	}{
		{"latest active", "/api/v1/agents/plan:generate/definition", http.StatusOK, "v1"},
		{"latest any", "/api/v1/agents/plan:generate/definition?include_inactive=true", http.StatusOK, "v2"},
		{"unknown agent", "/api/v1/agents/nope/definition", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.path, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantVersion == "" {
				return
			}
			def := decode[agentdef.Definition](t, rec)
			if def.VersionID != tt.wantVersion {
				t.Errorf("version = %s, want %s", def.VersionID, tt.wantVersion)
			}
		})
	}

	rec := f.do(t, http.MethodGet, "/api/v1/agents/plan:generate/history", "")
	if hist := decode[[]agentdef.Definition](t, rec); len(hist) != 2 {
		t.Errorf("history = %d entries", len(hist))
	}
}

func TestWorkflows(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/workflows/u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[struct {
		Workflow onboarding.Record       `json:"workflow"`
		Steps    []onboarding.StepResult `json:"steps"`
	}](t, rec)
	if body.Workflow.RunID != "r1" || len(body.Steps) != 1 {
		t.Errorf("workflow = %+v", body)
	}

	if rec := f.do(t, http.MethodGet, "/api/v1/workflows/ghost", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown user status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/workflows?status=failed", "")
	if recs := decode[[]onboarding.Record](t, rec); len(recs) != 1 || recs[0].UserID != "u2" {
		t.Errorf("failed workflows = %+v", recs)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/workflows?status=bogus", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bogus status code = %d", rec.Code)
	}
}

func TestTriggerOnboarding(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/workflows/u7/trigger", `{"forceCreate":true,"eventId":"e1"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	if len(f.triggers.got) != 1 {
		t.Fatalf("published %d triggers", len(f.triggers.got))
	}
	got := f.triggers.got[0]
	if got.UserID != "u7" || !got.ForceCreate || got.EventID != "e1" {
		t.Errorf("trigger = %+v", got)
	}

	if rec := f.do(t, http.MethodPost, "/api/v1/workflows/u7/trigger", `{`); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", rec.Code)
	}
}

func TestDrafts(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/drafts", `{"goal":"5k"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	token := decode[map[string]string](t, rec)["token"]

	if rec := f.do(t, http.MethodPut, "/api/v1/drafts/"+token, `{"goal":"10k"}`); rec.Code != http.StatusOK {
		t.Errorf("update status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/v1/drafts/"+token, "")
	if rec.Code != http.StatusOK || rec.Body.String() != `{"goal":"10k"}` {
		t.Errorf("get = %d %s", rec.Code, rec.Body.String())
	}

	if rec := f.do(t, http.MethodPut, "/api/v1/drafts/missing", `{"goal":"x"}`); rec.Code != http.StatusNotFound {
		t.Errorf("update of a missing draft status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/v1/drafts", `[1]`); rec.Code != http.StatusBadRequest {
		t.Errorf("non-object draft status = %d", rec.Code)
	}
}

func TestWriteRoutesAreRateLimited(t *testing.T) {
	agents := registry.NewAgentRegistry()
	h := &cfhttp.Handlers{Agents: agents, Triggers: &fakeTriggers{}}
	r := cfhttp.NewRouter(h, cfhttp.RouterOptions{TriggerLimiter: middleware.NewRateLimiter(0.001, 1)})

	codes := make([]int, 0, 2)
	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows/u1/trigger", bytes.NewReader([]byte(`{}`)))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusAccepted || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}

	// Reads are not limited.
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/graph", http.NoBody)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("graph status = %d", rec.Code)
		}
	}
}
