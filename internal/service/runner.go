package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	cfotel "github.com/Strob0t/CoachForge/internal/adapter/otel"
	"github.com/Strob0t/CoachForge/internal/domain"
	"github.com/Strob0t/CoachForge/internal/domain/agentdef"
	"github.com/Strob0t/CoachForge/internal/domain/contexttpl"
	"github.com/Strob0t/CoachForge/internal/logger"
	"github.com/Strob0t/CoachForge/internal/port/llm"
	"github.com/Strob0t/CoachForge/internal/registry"
)

// RunState is a state of the agent execution state machine.
type RunState string

const (
	StateResolvingConfig  RunState = "resolving_config"
	StateRenderingContext RunState = "rendering_context"
	StateInvokingModel    RunState = "invoking_model"
	StateRunningSubAgents RunState = "running_sub_agents"
	StateValidating       RunState = "validating"
	StateDispatching      RunState = "dispatching"
	StateDone             RunState = "done"
	StateFailed           RunState = "failed"
)

const (
	defaultMaxIterations = 5
	defaultMaxDepth      = 6
	defaultRetryDelay    = 500 * time.Millisecond
)

// RunInput is one agent invocation request.
type RunInput struct {
	AgentID  string
	UserID   string
	RunID    string
	Timezone string
	// Message is free text from the caller; it is exposed to the user prompt
	// template as {{message}} and sent as-is when no template is declared.
	Message string
	// Params are extra values for the user prompt template.
	Params map[string]any
	// Contexts holds one pre-fetched payload per context type.
	Contexts map[string]any
	// ContextVariants selects a template variant per context type.
	ContextVariants map[string]string
	// Extensions overrides default extension keys by extension type.
	Extensions map[string]string
	// History is prior conversation placed before the new user turn.
	History []llm.Message
}

// EvalResult is the grade attached by the evaluation pass.
type EvalResult struct {
	Model string `json:"model"`
	Grade string `json:"grade"`
}

// RunResult is the outcome of a successful agent run.
type RunResult struct {
	AgentID   string                `json:"agent_id"`
	VersionID string                `json:"version_id"`
	RunID     string                `json:"run_id"`
	Text      string                `json:"text,omitempty"`
	Output    json.RawMessage       `json:"output,omitempty"`
	SubAgents map[string]*RunResult `json:"sub_agents,omitempty"`
	ToolCalls int                   `json:"tool_calls"`
	Usage     llm.Usage             `json:"usage"`
	Eval      *EvalResult           `json:"eval,omitempty"`
	States    []RunState            `json:"states"`
}

// Value returns the structured output decoded to generic JSON, or the text
// when the agent has no schema.
func (r *RunResult) Value() any {
	if len(r.Output) > 0 {
		var v any
		if err := json.Unmarshal(r.Output, &v); err == nil {
			return v
		}
	}
	return r.Text
}

// AgentRunner executes agents end to end. It never retries on its own;
// RunWithRetries is the opt-in retrying entry point.
type AgentRunner struct {
	defs       *DefinitionService
	resolver   *ExtensionResolver
	renderer   *ContextRenderer
	registries *registry.Set
	model      llm.Model
	schemas    *schemaValidator
	metrics    *cfotel.Metrics

	maxDepth   int
	retryDelay time.Duration
	now        func() time.Time
}

// RunnerOption configures an AgentRunner.
type RunnerOption func(*AgentRunner)

// WithRunnerMetrics attaches metric instruments.
func WithRunnerMetrics(m *cfotel.Metrics) RunnerOption {
	return func(r *AgentRunner) { r.metrics = m }
}

// WithRetryDelay sets the base delay between RunWithRetries attempts.
func WithRetryDelay(d time.Duration) RunnerOption {
	return func(r *AgentRunner) { r.retryDelay = d }
}

// WithClock overrides the time source handed to tools.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *AgentRunner) { r.now = now }
}

// NewAgentRunner creates a runner.
func NewAgentRunner(defs *DefinitionService, resolver *ExtensionResolver, renderer *ContextRenderer, regs *registry.Set, model llm.Model, opts ...RunnerOption) *AgentRunner {
	r := &AgentRunner{
		defs:       defs,
		resolver:   resolver,
		renderer:   renderer,
		registries: regs,
		model:      model,
		schemas:    newSchemaValidator(),
		maxDepth:   defaultMaxDepth,
		retryDelay: defaultRetryDelay,
		now:        time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes one agent invocation.
func (r *AgentRunner) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	if in.RunID == "" {
		in.RunID = uuid.NewString()
	}
	return r.run(ctx, in, 0)
}

// RunWithRetries runs the agent and retries model and validation failures up
// to the definition's max_retries.
func (r *AgentRunner) RunWithRetries(ctx context.Context, in RunInput) (*RunResult, error) {
	def, err := r.defs.Latest(ctx, in.AgentID)
	if err != nil {
		return nil, err
	}
	attempts := def.MaxRetries + 1
	delay := r.retryDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := r.Run(ctx, in)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !domain.IsRetryable(err) || attempt == attempts {
			break
		}
		slog.WarnContext(ctx, "agent run failed, retrying",
			"agent_id", in.AgentID, "attempt", attempt, "max_attempts", attempts, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, lastErr
}

// execution carries the per-run state through the state machine.
type execution struct {
	in     RunInput
	depth  int
	def    *agentdef.Definition
	cfg    *registry.AgentConfig
	states []RunState
	result *RunResult
}

func (e *execution) enter(s RunState) { e.states = append(e.states, s) }

func (e *execution) state() RunState {
	if len(e.states) == 0 {
		return ""
	}
	return e.states[len(e.states)-1]
}

func (r *AgentRunner) run(ctx context.Context, in RunInput, depth int) (*RunResult, error) {
	ctx, span := cfotel.StartAgentSpan(ctx, in.AgentID, in.RunID, depth)
	defer span.End()
	ctx = logger.WithRunID(ctx, in.RunID)
	start := time.Now()

	e := &execution{in: in, depth: depth}
	if cfg, ok := r.registries.Agents.Get(in.AgentID); ok {
		e.cfg = cfg
	} else {
		e.cfg = &registry.AgentConfig{ID: in.AgentID}
	}

	if r.metrics != nil {
		r.metrics.AgentRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("agent.id", in.AgentID)))
	}

	res, err := r.execute(ctx, e)
	if r.metrics != nil {
		r.metrics.AgentDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("agent.id", in.AgentID),
			attribute.Bool("agent.succeeded", err == nil),
		))
	}
	if err != nil {
		failedIn := e.state()
		e.enter(StateFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if r.metrics != nil {
			r.metrics.AgentFailures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("agent.id", in.AgentID),
				attribute.String("agent.state", string(failedIn)),
			))
		}
		slog.ErrorContext(ctx, "agent run failed",
			"agent_id", in.AgentID, "user_id", in.UserID, "state", failedIn, "depth", depth, "error", err)
		r.dispatch(ctx, e, nil, err)
		return nil, err
	}
	return res, nil
}

func (r *AgentRunner) execute(ctx context.Context, e *execution) (*RunResult, error) {
	if e.depth > r.maxDepth {
		return nil, fmt.Errorf("agent %s: sub-agent depth %d exceeds %d: %w", e.in.AgentID, e.depth, r.maxDepth, registry.ErrCycle)
	}

	// ResolvingConfig
	e.enter(StateResolvingConfig)
	def, err := r.defs.Latest(ctx, e.in.AgentID)
	if err != nil {
		return nil, err
	}
	e.def = def
	snippets, err := r.resolver.Resolve(ctx, def, e.in.Extensions)
	if err != nil {
		return nil, err
	}
	system := assembleSystemPrompt(def, snippets)

	// RenderingContext
	e.enter(StateRenderingContext)
	userPrompt, err := r.renderUserPrompt(ctx, e)
	if err != nil {
		return nil, err
	}

	// InvokingModel
	e.enter(StateInvokingModel)
	res, err := r.invoke(ctx, e, system, userPrompt)
	if err != nil {
		return nil, err
	}
	e.result = res

	// RunningSubAgents
	if layers := e.subAgentLayers(); len(layers) > 0 {
		e.enter(StateRunningSubAgents)
		subs, err := r.runSubAgents(ctx, e, layers)
		if err != nil {
			return nil, err
		}
		res.SubAgents = subs
	}

	// Validating
	e.enter(StateValidating)
	if err := r.validate(e); err != nil {
		return nil, err
	}
	if def.EvalPrompt != "" {
		res.Eval = r.evaluate(ctx, e)
	}

	// Dispatching
	e.enter(StateDispatching)
	r.dispatch(ctx, e, res, nil)

	e.enter(StateDone)
	res.States = e.states
	slog.InfoContext(ctx, "agent run completed",
		"agent_id", def.AgentID, "version_id", def.VersionID, "user_id", e.in.UserID,
		"tool_calls", res.ToolCalls, "sub_agents", len(res.SubAgents))
	return res, nil
}

// assembleSystemPrompt joins the base prompt, extension snippets in order and
// the few-shot examples.
func assembleSystemPrompt(def *agentdef.Definition, snippets []PromptSnippet) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(def.SystemPrompt))
	for _, s := range snippets {
		if text := strings.TrimSpace(s.Text); text != "" {
			b.WriteString("\n\n")
			b.WriteString(text)
		}
	}
	if len(def.Examples) > 0 {
		b.WriteString("\n\n## Examples")
		for i, ex := range def.Examples {
			fmt.Fprintf(&b, "\n\n### Example %d\nInput:\n%s\n\nOutput:\n%s", i+1, ex.Input, ex.Output)
		}
	}
	return b.String()
}

// renderUserPrompt renders every declared context and the user prompt
// template into the user turn.
func (r *AgentRunner) renderUserPrompt(ctx context.Context, e *execution) (string, error) {
	rendered := make(map[string]any, len(e.def.ContextTypes))
	sections := make([]string, 0, len(e.def.ContextTypes)+1)
	for _, ct := range e.def.ContextTypes {
		payload, ok := e.in.Contexts[ct]
		if !ok {
			slog.DebugContext(ctx, "no payload for declared context", "agent_id", e.def.AgentID, "context_type", ct)
		}
		text, err := r.renderer.Render(ctx, ct, e.in.ContextVariants[ct], payload)
		if err != nil {
			return "", err
		}
		rendered[ct] = text
		if text = strings.TrimSpace(text); text != "" {
			sections = append(sections, text)
		}
	}

	data := make(map[string]any, len(e.in.Params)+2)
	for k, v := range e.in.Params {
		data[k] = v
	}
	data["message"] = e.in.Message
	data["context"] = rendered

	prompt := e.in.Message
	if e.def.UserPromptTemplate != "" {
		prog, err := contexttpl.Parse(e.def.UserPromptTemplate)
		if err != nil {
			return "", fmt.Errorf("agent %s user prompt template: %w", e.def.AgentID, err)
		}
		norm, err := contexttpl.Normalize(data)
		if err != nil {
			return "", fmt.Errorf("agent %s prompt params: %w", e.def.AgentID, err)
		}
		if prompt, err = prog.Render(norm); err != nil {
			return "", fmt.Errorf("agent %s user prompt: %w", e.def.AgentID, err)
		}
	}
	if prompt = strings.TrimSpace(prompt); prompt != "" {
		sections = append(sections, prompt)
	}
	return strings.Join(sections, "\n\n"), nil
}

// invoke runs the model with tool binding. Tool calls are executed and fed
// back until the model answers or max_iterations is reached.
func (r *AgentRunner) invoke(ctx context.Context, e *execution, system, userPrompt string) (*RunResult, error) {
	def := e.def
	res := &RunResult{AgentID: def.AgentID, VersionID: def.VersionID, RunID: e.in.RunID}

	messages := append([]llm.Message(nil), e.in.History...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userPrompt})

	toolNames := def.ToolIDs
	if len(toolNames) == 0 {
		toolNames = e.cfg.Tools
	}
	var (
		tools  []registry.Tool
		byName map[string]registry.Tool
	)
	if len(toolNames) > 0 {
		var err error
		tools, err = r.registries.Tools.CreateTools(toolNames, registry.ToolContext{
			UserID:       e.in.UserID,
			RunID:        e.in.RunID,
			AgentID:      def.AgentID,
			Timezone:     e.in.Timezone,
			Now:          r.now,
			Conversation: messages,
		})
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", def.AgentID, err)
		}
		byName = make(map[string]registry.Tool, len(tools))
		for _, t := range tools {
			byName[t.Spec.Name] = t
		}
	}

	specs := make([]llm.ToolSpec, len(tools))
	for i, t := range tools {
		specs[i] = t.Spec
	}

	maxIter := def.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}

	for iter := 1; iter <= maxIter; iter++ {
		req := &llm.Request{
			Model:        def.Model,
			System:       system,
			Messages:     messages,
			Temperature:  def.Temperature,
			MaxTokens:    def.MaxTokens,
			Tools:        specs,
			OutputSchema: def.OutputSchema,
			OutputName:   outputName(def.AgentID),
		}
		if !def.HasOutputSchema() {
			req.OutputSchema = nil
		}

		mctx, span := cfotel.StartModelSpan(ctx, def.Model, iter)
		resp, err := r.model.Invoke(mctx, req)
		span.End()
		if err != nil {
			if !errors.Is(err, domain.ErrModelInvocation) {
				err = fmt.Errorf("%w: %w", domain.ErrModelInvocation, err)
			}
			return nil, fmt.Errorf("agent %s: %w", def.AgentID, err)
		}
		res.Usage.InputTokens += resp.Usage.InputTokens
		res.Usage.OutputTokens += resp.Usage.OutputTokens
		if r.metrics != nil {
			r.metrics.TokensUsed.Add(ctx, resp.Usage.InputTokens+resp.Usage.OutputTokens,
				metric.WithAttributes(attribute.String("model.name", def.Model)))
		}

		if len(resp.ToolCalls) == 0 {
			return r.finish(def, res, resp)
		}
		if iter == maxIter {
			break
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			messages = append(messages, r.runTool(ctx, def.AgentID, byName, call))
			res.ToolCalls++
		}
	}
	return nil, fmt.Errorf("agent %s: no final answer within %d iterations: %w", def.AgentID, maxIter, domain.ErrModelInvocation)
}

func (r *AgentRunner) finish(def *agentdef.Definition, res *RunResult, resp *llm.Response) (*RunResult, error) {
	res.Text = resp.Text
	if !def.HasOutputSchema() {
		return res, nil
	}
	out := resp.Structured
	if len(out) == 0 {
		out = extractJSON(resp.Text)
	}
	if len(out) == 0 {
		return nil, &domain.ValidationError{AgentID: def.AgentID, Problems: []string{"model returned no structured output"}}
	}
	res.Output = out
	return res, nil
}

func (r *AgentRunner) runTool(ctx context.Context, agentID string, byName map[string]registry.Tool, call llm.ToolCall) llm.Message {
	ctx, span := cfotel.StartToolCallSpan(ctx, call.ID, call.Name)
	defer span.End()
	if r.metrics != nil {
		r.metrics.ToolCalls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("tool.name", call.Name),
		))
	}

	tool, ok := byName[call.Name]
	if !ok {
		slog.WarnContext(ctx, "model called an unbound tool", "agent_id", agentID, "tool", call.Name)
		return llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: "tool " + call.Name + " is not available", IsError: true}
	}
	out, err := tool.Run(ctx, call.Input)
	if err != nil {
		span.RecordError(err)
		slog.WarnContext(ctx, "tool failed", "agent_id", agentID, "tool", call.Name, "error", err)
		return llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: err.Error(), IsError: true}
	}
	return llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: out}
}

func (e *execution) subAgentLayers() []agentdef.SubAgentLayer {
	if len(e.def.SubAgents) > 0 {
		return e.def.SubAgents
	}
	return e.cfg.SubAgents
}

// runSubAgents executes layers in order. Entries in a layer run concurrently
// and the next layer starts only after the whole layer finished.
func (r *AgentRunner) runSubAgents(ctx context.Context, e *execution, layers []agentdef.SubAgentLayer) (map[string]*RunResult, error) {
	results := make(map[string]*RunResult)
	var mu sync.Mutex

	parent := e.result.Value()
	for i, layer := range layers {
		prior := make(map[string]any, len(results))
		for k, v := range results {
			prior[k] = v.Value()
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, ref := range layer {
			g.Go(func() error {
				params := make(map[string]any, len(e.in.Params)+3)
				for k, v := range e.in.Params {
					params[k] = v
				}
				params["parent"] = parent
				params["parentText"] = e.result.Text
				params["results"] = prior

				sub := e.in
				sub.AgentID = ref.AgentID
				sub.Params = params
				sub.History = nil
				res, err := r.run(gctx, sub, e.depth+1)
				if err != nil {
					return fmt.Errorf("sub-agent %s (%s): %w", ref.Key, ref.AgentID, err)
				}
				mu.Lock()
				results[ref.Key] = res
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("agent %s layer %d: %w", e.def.AgentID, i, err)
		}
	}
	return results, nil
}

// validate applies the output schema, declarative rules and registered
// validators. All problems are collected before failing.
func (r *AgentRunner) validate(e *execution) error {
	var problems []string
	out := e.result.Output
	if e.def.HasOutputSchema() {
		if err := r.schemas.Validate(e.def.VersionID, e.def.OutputSchema, out); err != nil {
			problems = append(problems, err.Error())
		}
		problems = append(problems, agentdef.CheckRules(e.def.ValidationRules, out)...)
	}
	for _, v := range e.cfg.Validators {
		problems = append(problems, v(out, e.result.Text)...)
	}
	if len(problems) > 0 {
		return &domain.ValidationError{AgentID: e.def.AgentID, Problems: problems}
	}
	return nil
}

// evaluate grades the output with the eval model. Failures are logged and
// never fail the run.
func (r *AgentRunner) evaluate(ctx context.Context, e *execution) *EvalResult {
	model := e.def.EvalModel
	if model == "" {
		model = e.def.Model
	}
	answer := e.result.Text
	if len(e.result.Output) > 0 {
		answer = string(e.result.Output)
	}
	resp, err := r.model.Invoke(ctx, &llm.Request{
		Model:     model,
		System:    e.def.EvalPrompt,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: answer}},
		MaxTokens: 512,
	})
	if err != nil {
		slog.WarnContext(ctx, "evaluation failed", "agent_id", e.def.AgentID, "eval_model", model, "error", err)
		return nil
	}
	grade := strings.TrimSpace(resp.Text)
	slog.InfoContext(ctx, "agent output evaluated", "agent_id", e.def.AgentID, "version_id", e.def.VersionID, "grade", grade)
	return &EvalResult{Model: model, Grade: grade}
}

func (r *AgentRunner) dispatch(ctx context.Context, e *execution, res *RunResult, runErr error) {
	if len(e.cfg.Callbacks) == 0 {
		return
	}
	ev := registry.CallbackEvent{AgentID: e.in.AgentID, RunID: e.in.RunID, UserID: e.in.UserID, Err: runErr}
	if e.def != nil {
		ev.VersionID = e.def.VersionID
	}
	if res != nil {
		ev.Text, ev.Output = res.Text, res.Output
	}
	report := r.registries.Callbacks.ExecuteCallbacks(ctx, e.cfg.Callbacks, ev, runErr == nil)
	if r.metrics != nil {
		if n := len(report.Failed) + len(report.Unknown); n > 0 {
			r.metrics.CallbackFailures.Add(ctx, int64(n), metric.WithAttributes(attribute.String("agent.id", e.in.AgentID)))
		}
	}
}

// outputName turns an agent id into a schema name accepted by every vendor.
func outputName(agentID string) string {
	var b strings.Builder
	for _, c := range agentID {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String() + "_output"
}

// extractJSON pulls a JSON object out of free text, tolerating code fences.
func extractJSON(text string) json.RawMessage {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return nil
	}
	candidate := text[start:]
	if end := strings.LastIndexAny(candidate, "}]"); end >= 0 {
		candidate = candidate[:end+1]
	}
	if !json.Valid([]byte(candidate)) {
		return nil
	}
	return json.RawMessage(candidate)
}
