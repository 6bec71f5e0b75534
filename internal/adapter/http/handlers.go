package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/Strob0t/CoachForge/internal/domain/agentdef"
	"github.com/Strob0t/CoachForge/internal/domain/onboarding"
	"github.com/Strob0t/CoachForge/internal/registry"
)

const (
	bodyLimit     = 1 << 20
	healthTimeout = 3 * time.Second
)

// DefinitionReader reads versioned agent definitions.
type DefinitionReader interface {
	Latest(ctx context.Context, agentID string) (*agentdef.Definition, error)
	LatestAny(ctx context.Context, agentID string) (*agentdef.Definition, error)
	History(ctx context.Context, agentID string) ([]agentdef.Definition, error)
	AgentIDs(ctx context.Context) ([]string, error)
}

// WorkflowReader reads onboarding instances.
type WorkflowReader interface {
	Inspect(ctx context.Context, userID string) (*onboarding.Record, []onboarding.StepResult, error)
}

// WorkflowLister lists onboarding instances.
type WorkflowLister interface {
	ListWorkflows(ctx context.Context, status onboarding.Status, limit int) ([]onboarding.Record, error)
}

// TriggerPublisher enqueues onboarding triggers.
type TriggerPublisher interface {
	Publish(ctx context.Context, trig onboarding.Trigger) error
}

// DraftStore holds signup drafts referenced by triggers.
type DraftStore interface {
	Put(ctx context.Context, data json.RawMessage) (string, error)
	Save(ctx context.Context, token string, data json.RawMessage) error
	Get(ctx context.Context, token string) (json.RawMessage, error)
}

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handlers holds the dependencies of the ops endpoints. Nil optional
// dependencies disable their routes' functionality with 503.
type Handlers struct {
	Definitions DefinitionReader
	Agents      *registry.AgentRegistry
	Workflows   WorkflowReader
	Lister      WorkflowLister
	Triggers    TriggerPublisher
	Drafts      DraftStore
	Checks      []HealthCheck
	Breakers    func() map[string]string
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

type healthResponse struct {
	Status   string            `json:"status"`
	Checks   map[string]string `json:"checks"`
	Breakers map[string]string `json:"breakers,omitempty"`
}

// Health runs every dependency check and reports 503 when one fails.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(h.Checks))}
	for _, c := range h.Checks {
		if err := c.Check(ctx); err != nil {
			resp.Checks[c.Name] = err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Checks[c.Name] = "ok"
	}
	if h.Breakers != nil {
		resp.Breakers = h.Breakers()
	}
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// ---------------------------------------------------------------------------
// Agents
// ---------------------------------------------------------------------------

type graphResponse struct {
	Agents map[string]registry.GraphNode `json:"agents"`
}

// Graph returns the static dependency graph of the registered agents.
func (h *Handlers) Graph(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, graphResponse{Agents: h.Agents.DependencyGraph()})
}

type agentSummary struct {
	AgentID    string `json:"agent_id"`
	Registered bool   `json:"registered"`
	Stored     bool   `json:"stored"`
}

// ListAgents merges registered agent configs with stored definitions.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	stored, err := h.Definitions.AgentIDs(r.Context())
	if err != nil {
		writeDomainError(w, r, err, "agents not found")
		return
	}
	byID := make(map[string]*agentSummary)
	get := func(id string) *agentSummary {
		s, ok := byID[id]
		if !ok {
			s = &agentSummary{AgentID: id}
			byID[id] = s
		}
		return s
	}
	for _, id := range stored {
		get(id).Stored = true
	}
	for _, id := range h.Agents.IDs() {
		get(id).Registered = true
	}
	out := make([]agentSummary, 0, len(byID))
	for _, s := range byID {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	writeJSON(w, http.StatusOK, out)
}

// GetDefinition returns the latest active definition, or the latest of any
// state with ?include_inactive=true.
func (h *Handlers) GetDefinition(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "agentID")
	var (
		def *agentdef.Definition
		err error
	)
	if r.URL.Query().Get("include_inactive") == "true" {
		def, err = h.Definitions.LatestAny(r.Context(), id)
	} else {
		def, err = h.Definitions.Latest(r.Context(), id)
	}
	if err != nil {
		writeDomainError(w, r, err, "definition not found")
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// DefinitionHistory lists every stored version, newest first.
func (h *Handlers) DefinitionHistory(w http.ResponseWriter, r *http.Request) {
	defs, err := h.Definitions.History(r.Context(), urlParam(r, "agentID"))
	if err != nil {
		writeDomainError(w, r, err, "definition not found")
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

// ---------------------------------------------------------------------------
// Onboarding
// ---------------------------------------------------------------------------

type workflowResponse struct {
	Workflow    *onboarding.Record      `json:"workflow"`
	CurrentStep string                  `json:"current_step,omitempty"`
	Steps       []onboarding.StepResult `json:"steps"`
}

// GetWorkflow returns a user's onboarding record and its cached step results.
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	rec, steps, err := h.Workflows.Inspect(r.Context(), urlParam(r, "userID"))
	if err != nil {
		writeDomainError(w, r, err, "workflow not found")
		return
	}
	if steps == nil {
		steps = []onboarding.StepResult{}
	}
	writeJSON(w, http.StatusOK, workflowResponse{Workflow: rec, CurrentStep: rec.CurrentStep(), Steps: steps})
}

// ListWorkflows lists onboarding records, optionally filtered by ?status=.
func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	status := onboarding.Status(r.URL.Query().Get("status"))
	switch status {
	case "", onboarding.StatusPending, onboarding.StatusInProgress, onboarding.StatusCompleted, onboarding.StatusFailed:
	default:
		writeError(w, http.StatusBadRequest, "unknown status "+string(status))
		return
	}
	recs, err := h.Lister.ListWorkflows(r.Context(), status, queryInt(r, "limit", 100, 500))
	if err != nil {
		writeDomainError(w, r, err, "workflows not found")
		return
	}
	if recs == nil {
		recs = []onboarding.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

type triggerRequest struct {
	ForceCreate bool   `json:"forceCreate"`
	EventID     string `json:"eventId"`
	DraftToken  string `json:"draftToken"`
}

// TriggerOnboarding enqueues an onboarding trigger for the user.
func (h *Handlers) TriggerOnboarding(w http.ResponseWriter, r *http.Request) {
	if h.Triggers == nil {
		writeError(w, http.StatusServiceUnavailable, "trigger queue is not configured")
		return
	}
	req, ok := readJSON[triggerRequest](w, r, bodyLimit)
	if !ok {
		return
	}
	trig := onboarding.Trigger{
		UserID:      urlParam(r, "userID"),
		ForceCreate: req.ForceCreate,
		EventID:     req.EventID,
		DraftToken:  req.DraftToken,
	}
	if err := h.Triggers.Publish(r.Context(), trig); err != nil {
		writeDomainError(w, r, err, "user not found")
		return
	}
	writeJSON(w, http.StatusAccepted, trig)
}

type draftResponse struct {
	Token string `json:"token"`
}

// CreateDraft stores a signup draft and returns its token.
func (h *Handlers) CreateDraft(w http.ResponseWriter, r *http.Request) {
	if h.Drafts == nil {
		writeError(w, http.StatusServiceUnavailable, "draft store is not configured")
		return
	}
	data, ok := readJSON[json.RawMessage](w, r, bodyLimit)
	if !ok {
		return
	}
	token, err := h.Drafts.Put(r.Context(), data)
	if err != nil {
		writeDomainError(w, r, err, "draft not found")
		return
	}
	writeJSON(w, http.StatusCreated, draftResponse{Token: token})
}

// UpdateDraft replaces the payload of an existing draft.
func (h *Handlers) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	if h.Drafts == nil {
		writeError(w, http.StatusServiceUnavailable, "draft store is not configured")
		return
	}
	data, ok := readJSON[json.RawMessage](w, r, bodyLimit)
	if !ok {
		return
	}
	token := urlParam(r, "token")
	if _, err := h.Drafts.Get(r.Context(), token); err != nil {
		writeDomainError(w, r, err, "draft not found")
		return
	}
	if err := h.Drafts.Save(r.Context(), token, data); err != nil {
		writeDomainError(w, r, err, "draft not found")
		return
	}
	writeJSON(w, http.StatusOK, draftResponse{Token: token})
}

// GetDraft returns a draft payload.
func (h *Handlers) GetDraft(w http.ResponseWriter, r *http.Request) {
	if h.Drafts == nil {
		writeError(w, http.StatusServiceUnavailable, "draft store is not configured")
		return
	}
	data, err := h.Drafts.Get(r.Context(), urlParam(r, "token"))
	if err != nil {
		writeDomainError(w, r, err, "draft not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
