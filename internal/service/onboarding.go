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

	cfotel "github.com/Strob0t/CoachForge/internal/adapter/otel"
	"github.com/Strob0t/CoachForge/internal/config"
	"github.com/Strob0t/CoachForge/internal/domain"
	"github.com/Strob0t/CoachForge/internal/domain/fitness"
	"github.com/Strob0t/CoachForge/internal/domain/onboarding"
	"github.com/Strob0t/CoachForge/internal/logger"
	"github.com/Strob0t/CoachForge/internal/port/database"
	"github.com/Strob0t/CoachForge/internal/port/messenger"
)

const recentWorkoutLimit = 5

// OnboardingStore is the persistence the executor needs.
type OnboardingStore interface {
	database.WorkflowStore
	database.FitnessStore
	database.UserDirectory
}

// OnboardingState is what the steps have produced so far for one run.
// Entities are shared between states and must not be mutated.
type OnboardingState struct {
	RunID      string
	User       *fitness.User
	Signup     map[string]any
	Profile    *fitness.Profile
	Plan       *fitness.Plan
	Microcycle *fitness.Microcycle
	Workout    *fitness.Workout

	draftToken string
}

func (s *OnboardingState) clone() *OnboardingState {
	c := *s
	return &c
}

// entityOutcome is the cached output of a get-or-create step.
type entityOutcome[T any] struct {
	WasCreated bool `json:"was_created"`
	Entity     *T   `json:"entity"`
}

type sendOutcome struct {
	Sent     bool                 `json:"sent"`
	Reason   string               `json:"reason,omitempty"`
	Receipts []*messenger.Receipt `json:"receipts,omitempty"`
}

type onboardingStep struct {
	name    string
	run     func(ctx context.Context, rec *onboarding.Record, st *OnboardingState) (any, error)
	restore func(rec *onboarding.Record, st *OnboardingState, raw json.RawMessage) error
}

// OnboardingExecutor drives the onboarding workflow: a fixed sequence of
// idempotent steps whose outputs are cached per run so a redelivered trigger
// resumes at the first step without a result.
type OnboardingExecutor struct {
	store     OnboardingStore
	runner    *AgentRunner
	renderer  *ContextRenderer
	messenger messenger.Messenger
	drafts    *DraftArena
	metrics   *cfotel.Metrics
	cfg       config.Onboarding
	now       func() time.Time
	steps     []onboardingStep
	locks     userLocks
}

// OnboardingOption configures an OnboardingExecutor.
type OnboardingOption func(*OnboardingExecutor)

// WithOnboardingMetrics attaches metric instruments.
func WithOnboardingMetrics(m *cfotel.Metrics) OnboardingOption {
	return func(e *OnboardingExecutor) { e.metrics = m }
}

// WithDrafts enables merging draft-session answers referenced by a trigger.
func WithDrafts(a *DraftArena) OnboardingOption {
	return func(e *OnboardingExecutor) { e.drafts = a }
}

// WithOnboardingClock overrides the time source.
func WithOnboardingClock(now func() time.Time) OnboardingOption {
	return func(e *OnboardingExecutor) { e.now = now }
}

// NewOnboardingExecutor creates an executor.
func NewOnboardingExecutor(store OnboardingStore, runner *AgentRunner, renderer *ContextRenderer, m messenger.Messenger, cfg config.Onboarding, opts ...OnboardingOption) *OnboardingExecutor {
	e := &OnboardingExecutor{
		store:     store,
		runner:    runner,
		renderer:  renderer,
		messenger: m,
		cfg:       cfg,
		now:       time.Now,
		locks:     userLocks{m: make(map[string]*userLock)},
	}
	for _, o := range opts {
		o(e)
	}
	e.steps = []onboardingStep{
		{onboarding.StepLoadData, e.loadData, restoreSignup},
		{onboarding.StepGetOrCreateProfile, e.profileStep, restoreEntity(func(st *OnboardingState, p *fitness.Profile) { st.Profile = p })},
		{onboarding.StepGetOrCreatePlan, e.planStep, restoreEntity(func(st *OnboardingState, p *fitness.Plan) { st.Plan = p })},
		{onboarding.StepGetOrCreateMicrocycle, e.microcycleStep, restoreEntity(func(st *OnboardingState, m *fitness.Microcycle) { st.Microcycle = m })},
		{onboarding.StepGetOrCreateWorkout, e.workoutStep, restoreEntity(func(st *OnboardingState, w *fitness.Workout) { st.Workout = w })},
		{onboarding.StepMarkCompleted, e.markCompleted, restoreCompleted},
		{onboarding.StepSendMessages, e.sendMessages, func(*onboarding.Record, *OnboardingState, json.RawMessage) error { return nil }},
	}
	return e
}

// Drive runs the workflow for the trigger's user to completion. A failing
// step marks the record failed and returns a *domain.StepError.
func (e *OnboardingExecutor) Drive(ctx context.Context, trig onboarding.Trigger) (*onboarding.Record, error) {
	if err := trig.Validate(); err != nil {
		return nil, err
	}
	unlock := e.locks.lock(trig.UserID)
	defer unlock()

	user, err := e.store.GetUser(ctx, trig.UserID)
	if err != nil {
		return nil, fmt.Errorf("onboarding user %s: %w", trig.UserID, err)
	}
	rec, err := e.prepare(ctx, trig)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithRunID(ctx, rec.RunID)

	rec.Status = onboarding.StatusInProgress
	rec.ErrorMessage = ""
	rec.Attempts++
	if err := e.store.SaveWorkflowProgress(ctx, rec); err != nil {
		return nil, fmt.Errorf("onboarding %s start: %w", rec.UserID, err)
	}
	slog.InfoContext(ctx, "onboarding started",
		"user_id", rec.UserID, "run_id", rec.RunID, "force_create", rec.ForceCreate, "attempt", rec.Attempts)

	st := &OnboardingState{RunID: rec.RunID, User: user, draftToken: trig.DraftToken}
	for i, step := range e.steps {
		if err := e.runStep(ctx, rec, st, i, step); err != nil {
			return rec, e.fail(ctx, rec, step.name, err)
		}
	}

	rec.Status = onboarding.StatusCompleted
	rec.CurrentStepIndex = len(e.steps)
	if err := e.store.SaveWorkflowProgress(ctx, rec); err != nil {
		return rec, fmt.Errorf("onboarding %s finish: %w", rec.UserID, err)
	}
	slog.InfoContext(ctx, "onboarding completed", "user_id", rec.UserID, "run_id", rec.RunID)
	return rec, nil
}

// DriveWithAttempts re-drives the workflow after retryable failures, up to
// the configured number of attempts. The wait between attempts starts at
// the configured retry delay and doubles each time.
func (e *OnboardingExecutor) DriveWithAttempts(ctx context.Context, trig onboarding.Trigger) (*onboarding.Record, error) {
	delay := e.cfg.RetryDelay
	for attempt := 1; ; attempt++ {
		rec, err := e.Drive(ctx, trig)
		if err == nil || attempt >= e.cfg.MaxAttempts || !domain.IsRetryable(err) {
			return rec, err
		}
		slog.WarnContext(ctx, "onboarding attempt failed, re-driving",
			"user_id", trig.UserID, "attempt", attempt, "max_attempts", e.cfg.MaxAttempts,
			"delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// Inspect returns the user's record and the cached step results of its run.
func (e *OnboardingExecutor) Inspect(ctx context.Context, userID string) (*onboarding.Record, []onboarding.StepResult, error) {
	rec, err := e.store.GetWorkflow(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	results, err := e.store.ListStepResults(ctx, rec.RunID)
	if err != nil {
		return nil, nil, err
	}
	return rec, results, nil
}

// prepare loads or creates the record and opens a new run when the trigger
// asks for a fresh generation.
func (e *OnboardingExecutor) prepare(ctx context.Context, trig onboarding.Trigger) (*onboarding.Record, error) {
	rec, err := e.store.GetWorkflow(ctx, trig.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		rec = &onboarding.Record{
			UserID:      trig.UserID,
			RunID:       uuid.NewString(),
			LastEventID: trig.EventID,
			ForceCreate: trig.ForceCreate,
			Status:      onboarding.StatusPending,
		}
		err = e.store.CreateWorkflow(ctx, rec)
		if err == nil {
			slog.InfoContext(ctx, "onboarding record created", "user_id", rec.UserID, "run_id", rec.RunID)
			return rec, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("onboarding %s create: %w", trig.UserID, err)
		}
		rec, err = e.store.GetWorkflow(ctx, trig.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("onboarding %s load: %w", trig.UserID, err)
	}

	if opensNewRun(rec, trig) {
		prev := rec.RunID
		rec.RunID = uuid.NewString()
		rec.LastEventID = trig.EventID
		rec.ForceCreate = trig.ForceCreate
		rec.SignupData = nil
		if err := e.store.StartWorkflowRun(ctx, rec); err != nil {
			return nil, fmt.Errorf("onboarding %s new run: %w", trig.UserID, err)
		}
		slog.InfoContext(ctx, "onboarding run started",
			"user_id", rec.UserID, "run_id", rec.RunID, "previous_run_id", prev, "event_id", trig.EventID)
	}
	return rec, nil
}

// opensNewRun decides whether a trigger starts a new generation. Only forced
// triggers do; with an event id, a redelivery of the same event resumes.
func opensNewRun(rec *onboarding.Record, trig onboarding.Trigger) bool {
	if !trig.ForceCreate {
		return false
	}
	if trig.EventID != "" {
		return trig.EventID != rec.LastEventID
	}
	return !rec.ForceCreate || rec.Status == onboarding.StatusCompleted
}

func (e *OnboardingExecutor) runStep(ctx context.Context, rec *onboarding.Record, st *OnboardingState, idx int, step onboardingStep) error {
	stepAttr := metric.WithAttributes(attribute.String("onboarding.step", step.name))

	cached, err := e.store.GetStepResult(ctx, rec.RunID, step.name)
	switch {
	case err == nil:
		if err := step.restore(rec, st, cached.Output); err != nil {
			return fmt.Errorf("restore cached output: %w", err)
		}
		if idx+1 > rec.CurrentStepIndex {
			rec.CurrentStepIndex = idx + 1
		}
		if e.metrics != nil {
			e.metrics.StepsSkipped.Add(ctx, 1, stepAttr)
		}
		slog.DebugContext(ctx, "onboarding step skipped, result cached", "user_id", rec.UserID, "step", step.name)
		return nil
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("read cached result: %w", err)
	}

	ctx, span := cfotel.StartStepSpan(ctx, rec.UserID, rec.RunID, step.name)
	defer span.End()
	start := time.Now()

	out, err := step.run(ctx, rec, st)
	if e.metrics != nil {
		e.metrics.StepDuration.Record(ctx, time.Since(start).Seconds(), stepAttr)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode step output: %w", err)
	}
	if err := e.store.SaveStepResult(ctx, &onboarding.StepResult{RunID: rec.RunID, Step: step.name, Output: raw}); err != nil {
		return fmt.Errorf("save step result: %w", err)
	}
	rec.CurrentStepIndex = idx + 1
	if err := e.store.SaveWorkflowProgress(ctx, rec); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	if e.metrics != nil {
		e.metrics.StepsExecuted.Add(ctx, 1, stepAttr)
	}
	slog.InfoContext(ctx, "onboarding step completed",
		"user_id", rec.UserID, "run_id", rec.RunID, "step", step.name, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (e *OnboardingExecutor) fail(ctx context.Context, rec *onboarding.Record, step string, cause error) error {
	stepErr := &domain.StepError{Step: step, Err: cause}
	rec.Status = onboarding.StatusFailed
	rec.ErrorMessage = stepErr.Error()
	if err := e.store.SaveWorkflowProgress(ctx, rec); err != nil {
		slog.ErrorContext(ctx, "failed to persist onboarding failure", "user_id", rec.UserID, "step", step, "error", err)
	}
	if e.metrics != nil {
		e.metrics.WorkflowsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("onboarding.step", step)))
	}
	slog.ErrorContext(ctx, "onboarding step failed",
		"user_id", rec.UserID, "run_id", rec.RunID, "step", step, "retryable", domain.IsRetryable(cause), "error", cause)
	return stepErr
}

// --- Steps ---

func (e *OnboardingExecutor) loadData(ctx context.Context, rec *onboarding.Record, st *OnboardingState) (any, error) {
	signup := map[string]any{}
	if len(rec.SignupData) > 0 {
		if err := json.Unmarshal(rec.SignupData, &signup); err != nil {
			return nil, fmt.Errorf("decode signup data: %w", err)
		}
	}
	if st.draftToken != "" {
		if e.drafts == nil {
			return nil, errors.New("trigger carries a draft token but no draft arena is configured")
		}
		raw, err := e.drafts.Get(ctx, st.draftToken)
		if err != nil {
			return nil, err
		}
		var draft map[string]any
		if err := json.Unmarshal(raw, &draft); err != nil {
			return nil, fmt.Errorf("decode draft: %w", err)
		}
		for k, v := range draft {
			signup[k] = v
		}
	}

	merged, err := json.Marshal(signup)
	if err != nil {
		return nil, fmt.Errorf("encode signup data: %w", err)
	}
	rec.SignupData = merged
	st.Signup = signup
	return map[string]any{"signup": signup}, nil
}

func restoreSignup(_ *onboarding.Record, st *OnboardingState, raw json.RawMessage) error {
	var out struct {
		Signup map[string]any `json:"signup"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	st.Signup = out.Signup
	return nil
}

func restoreEntity[T any](set func(*OnboardingState, *T)) func(*onboarding.Record, *OnboardingState, json.RawMessage) error {
	return func(_ *onboarding.Record, st *OnboardingState, raw json.RawMessage) error {
		var out entityOutcome[T]
		if err := json.Unmarshal(raw, &out); err != nil {
			return err
		}
		if out.Entity == nil {
			return errors.New("cached step output has no entity")
		}
		set(st, out.Entity)
		return nil
	}
}

func (e *OnboardingExecutor) profileStep(ctx context.Context, rec *onboarding.Record, st *OnboardingState) (any, error) {
	next, created, err := e.GetOrCreateProfile(ctx, st, rec.ForceCreate)
	if err != nil {
		return nil, err
	}
	*st = *next
	return entityOutcome[fitness.Profile]{WasCreated: created, Entity: next.Profile}, nil
}

func (e *OnboardingExecutor) planStep(ctx context.Context, rec *onboarding.Record, st *OnboardingState) (any, error) {
	next, created, err := e.GetOrCreatePlan(ctx, st, rec.ForceCreate)
	if err != nil {
		return nil, err
	}
	*st = *next
	return entityOutcome[fitness.Plan]{WasCreated: created, Entity: next.Plan}, nil
}

func (e *OnboardingExecutor) microcycleStep(ctx context.Context, rec *onboarding.Record, st *OnboardingState) (any, error) {
	next, created, err := e.GetOrCreateMicrocycle(ctx, st, rec.ForceCreate)
	if err != nil {
		return nil, err
	}
	*st = *next
	return entityOutcome[fitness.Microcycle]{WasCreated: created, Entity: next.Microcycle}, nil
}

func (e *OnboardingExecutor) workoutStep(ctx context.Context, rec *onboarding.Record, st *OnboardingState) (any, error) {
	next, created, err := e.GetOrCreateWorkout(ctx, st, rec.ForceCreate)
	if err != nil {
		return nil, err
	}
	*st = *next
	return entityOutcome[fitness.Workout]{WasCreated: created, Entity: next.Workout}, nil
}

func (e *OnboardingExecutor) markCompleted(_ context.Context, rec *onboarding.Record, _ *OnboardingState) (any, error) {
	rec.Status = onboarding.StatusCompleted
	return map[string]any{"completed_at": e.now().UTC()}, nil
}

func restoreCompleted(rec *onboarding.Record, _ *OnboardingState, _ json.RawMessage) error {
	rec.Status = onboarding.StatusCompleted
	return nil
}

// sendMessages claims the send-once flag before delivering. A failed
// delivery releases the claim together with the count of messages that did
// go out, so the next attempt sends only the remainder.
func (e *OnboardingExecutor) sendMessages(ctx context.Context, rec *onboarding.Record, st *OnboardingState) (any, error) {
	claimed, err := e.store.ClaimMessagesSent(ctx, rec.UserID, rec.RunID)
	if err != nil {
		return nil, fmt.Errorf("claim send flag: %w", err)
	}
	if !claimed {
		slog.InfoContext(ctx, "program messages already sent", "user_id", rec.UserID, "run_id", rec.RunID)
		return sendOutcome{Reason: onboarding.ErrMessagesAlreadySent.Error()}, nil
	}

	receipts, err := e.deliver(ctx, st, rec.MessagesDelivered)
	if err != nil {
		delivered := rec.MessagesDelivered + len(receipts)
		if relErr := e.store.ReleaseMessagesSent(ctx, rec.UserID, rec.RunID, delivered); relErr != nil {
			slog.ErrorContext(ctx, "failed to release send flag", "user_id", rec.UserID, "error", relErr)
		} else {
			rec.MessagesDelivered = delivered
		}
		return nil, err
	}
	rec.ProgramMessagesSent = true
	if !e.cfg.SendMessages {
		return sendOutcome{Sent: true, Reason: "delivery disabled"}, nil
	}
	return sendOutcome{Sent: true, Receipts: receipts}, nil
}

// deliver sends the composed messages after the first skip, which were
// delivered by an earlier attempt. On error the receipts of the messages
// that did go out are returned alongside it.
func (e *OnboardingExecutor) deliver(ctx context.Context, st *OnboardingState, skip int) ([]*messenger.Receipt, error) {
	messages, err := e.composeMessages(ctx, st)
	if err != nil {
		return nil, err
	}
	if !e.cfg.SendMessages {
		slog.InfoContext(ctx, "message delivery disabled, skipping send", "user_id", st.User.ID, "messages", len(messages))
		return nil, nil
	}
	if skip > 0 {
		slog.InfoContext(ctx, "resuming partial delivery", "user_id", st.User.ID, "already_delivered", skip, "messages", len(messages))
		messages = messages[min(skip, len(messages)):]
	}

	receipts := make([]*messenger.Receipt, 0, len(messages))
	for _, msg := range messages {
		r, err := e.messenger.Send(ctx, st.User, msg)
		if err != nil {
			return receipts, fmt.Errorf("send program message: %w", err)
		}
		receipts = append(receipts, r)
		if e.metrics != nil {
			e.metrics.MessagesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("message.channel", r.Channel)))
		}
	}
	return receipts, nil
}

func (e *OnboardingExecutor) composeMessages(ctx context.Context, st *OnboardingState) ([]string, error) {
	data := map[string]any{"user": userPayload(st.User, e.clock(st.User), st.Signup)}
	if st.Plan != nil {
		data["plan"] = planPayload(st.Plan)
	}
	if st.Microcycle != nil {
		data["microcycle"] = microcyclePayload(st.Microcycle)
	}
	if st.Workout != nil {
		data["workout"] = workoutPayload(st.Workout)
	}
	welcome, err := e.renderer.Render(ctx, onboarding.WelcomeContextType, "", data)
	if err != nil {
		return nil, err
	}

	var messages []string
	for _, m := range []string{welcome, workoutMessage(st.Workout)} {
		if m = strings.TrimSpace(m); m != "" {
			messages = append(messages, m)
		}
	}
	return messages, nil
}

func workoutMessage(w *fitness.Workout) string {
	if w == nil {
		return ""
	}
	return w.Message
}

// --- Get-or-create ---

// GetOrCreateProfile returns the user's current profile unless force is set
// or none exists, in which case the profile agent writes a new version.
func (e *OnboardingExecutor) GetOrCreateProfile(ctx context.Context, prior *OnboardingState, force bool) (*OnboardingState, bool, error) {
	next := prior.clone()
	if !force {
		p, err := e.store.LatestProfile(ctx, prior.User.ID)
		if err == nil {
			next.Profile = p
			return next, false, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, false, err
		}
	}

	res, err := e.runner.RunWithRetries(ctx, e.runInput(ctx, next, onboarding.AgentProfileUpdate, nil))
	if err != nil {
		return nil, false, err
	}
	var out struct {
		Summary string `json:"summary"`
	}
	decodeResult(ctx, res, &out)

	p, err := e.store.InsertProfile(ctx, &fitness.Profile{
		UserID:  prior.User.ID,
		RunID:   prior.RunID,
		Summary: firstNonEmpty(out.Summary, res.Text),
		Data:    res.Output,
	})
	if err != nil {
		return nil, false, fmt.Errorf("insert profile: %w", err)
	}
	next.Profile = p
	return next, true, nil
}

// GetOrCreatePlan returns the user's current plan or generates one.
func (e *OnboardingExecutor) GetOrCreatePlan(ctx context.Context, prior *OnboardingState, force bool) (*OnboardingState, bool, error) {
	next := prior.clone()
	if !force {
		p, err := e.store.LatestPlan(ctx, prior.User.ID)
		if err == nil {
			next.Plan = p
			return next, false, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, false, err
		}
	}

	res, err := e.runner.RunWithRetries(ctx, e.runInput(ctx, next, onboarding.AgentPlanGenerate, nil))
	if err != nil {
		return nil, false, err
	}
	var out struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Structure   json.RawMessage `json:"structure"`
	}
	decodeResult(ctx, res, &out)

	p, err := e.store.InsertPlan(ctx, &fitness.Plan{
		UserID:      prior.User.ID,
		RunID:       prior.RunID,
		Name:        firstNonEmpty(out.Name, "Training plan"),
		Description: firstNonEmpty(out.Description, res.Text),
		Structure:   out.Structure,
		StartDate:   fitness.WeekStart(e.clock(prior.User)),
	})
	if err != nil {
		return nil, false, fmt.Errorf("insert plan: %w", err)
	}
	next.Plan = p
	return next, true, nil
}

// GetOrCreateMicrocycle returns the current week of the current plan or
// generates it. A week belonging to an older plan does not count.
func (e *OnboardingExecutor) GetOrCreateMicrocycle(ctx context.Context, prior *OnboardingState, force bool) (*OnboardingState, bool, error) {
	if prior.Plan == nil {
		return nil, false, errors.New("microcycle requires a plan")
	}
	next := prior.clone()
	now := e.clock(prior.User)
	if !force {
		m, err := e.store.LatestMicrocycle(ctx, prior.User.ID)
		if err == nil && m.PlanID == prior.Plan.ID {
			next.Microcycle = m
			return next, false, nil
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, false, err
		}
	}

	week := weekNumber(prior.Plan.StartDate, now)
	res, err := e.runner.RunWithRetries(ctx, e.runInput(ctx, next, onboarding.AgentWeekGenerate, map[string]any{
		"weekNumber": week,
		"weekStart":  fitness.WeekStart(now).Format(dateLayout),
	}))
	if err != nil {
		return nil, false, err
	}
	var out struct {
		Summary string   `json:"summary"`
		Days    []string `json:"days"`
	}
	decodeResult(ctx, res, &out)

	m, err := e.store.InsertMicrocycle(ctx, &fitness.Microcycle{
		UserID:     prior.User.ID,
		PlanID:     prior.Plan.ID,
		RunID:      prior.RunID,
		WeekNumber: week,
		StartDate:  fitness.WeekStart(now),
		Days:       normalizeDays(out.Days),
		Summary:    firstNonEmpty(out.Summary, res.Text),
		Details:    res.Output,
	})
	if err != nil {
		return nil, false, fmt.Errorf("insert microcycle: %w", err)
	}
	next.Microcycle = m
	return next, true, nil
}

// GetOrCreateWorkout returns today's workout of the current week or
// generates it.
func (e *OnboardingExecutor) GetOrCreateWorkout(ctx context.Context, prior *OnboardingState, force bool) (*OnboardingState, bool, error) {
	if prior.Microcycle == nil {
		return nil, false, errors.New("workout requires a microcycle")
	}
	next := prior.clone()
	now := e.clock(prior.User)
	today := now.Format(dateLayout)
	if !force {
		w, err := e.store.LatestWorkout(ctx, prior.User.ID)
		if err == nil && w.MicrocycleID == prior.Microcycle.ID && w.Date.Format(dateLayout) == today {
			next.Workout = w
			return next, false, nil
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, false, err
		}
	}

	day := fitness.DayIndex(now)
	res, err := e.runner.RunWithRetries(ctx, e.runInput(ctx, next, onboarding.AgentWorkoutGenerate, map[string]any{
		"date":     today,
		"dayName":  weekdayNames[day],
		"dayFocus": normalizeDays(prior.Microcycle.Days)[day],
	}))
	if err != nil {
		return nil, false, err
	}
	var out struct {
		Title   string          `json:"title"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	}
	decodeResult(ctx, res, &out)

	y, mo, d := now.Date()
	w, err := e.store.InsertWorkout(ctx, &fitness.Workout{
		UserID:       prior.User.ID,
		MicrocycleID: prior.Microcycle.ID,
		RunID:        prior.RunID,
		Date:         time.Date(y, mo, d, 0, 0, 0, 0, now.Location()),
		Title:        firstNonEmpty(out.Title, weekdayNames[day]+" session"),
		Message:      firstNonEmpty(out.Message, res.Text),
		Details:      out.Details,
	})
	if err != nil {
		return nil, false, fmt.Errorf("insert workout: %w", err)
	}
	next.Workout = w
	return next, true, nil
}

// runInput assembles the runner request with every context payload the
// state can provide. Agents render only the contexts they declare.
func (e *OnboardingExecutor) runInput(ctx context.Context, st *OnboardingState, agentID string, params map[string]any) RunInput {
	now := e.clock(st.User)
	contexts := map[string]any{"user": userPayload(st.User, now, st.Signup)}
	if st.Profile != nil {
		contexts["profile"] = profilePayload(st.Profile)
	}
	if st.Plan != nil {
		contexts["plan"] = planPayload(st.Plan)
	}
	if st.Microcycle != nil {
		contexts["microcycle"] = microcyclePayload(st.Microcycle)
	}
	if recent, err := e.store.RecentWorkouts(ctx, st.User.ID, recentWorkoutLimit); err == nil {
		contexts["recentWorkouts"] = recentWorkoutsPayload(recent)
	} else {
		slog.WarnContext(ctx, "recent workouts unavailable", "user_id", st.User.ID, "error", err)
	}

	return RunInput{
		AgentID:  agentID,
		UserID:   st.User.ID,
		Timezone: now.Location().String(),
		Params:   params,
		Contexts: contexts,
	}
}

func (e *OnboardingExecutor) clock(u *fitness.User) time.Time {
	tz := u.Timezone
	if tz == "" {
		tz = e.cfg.Timezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	return e.now().In(loc)
}

func weekNumber(planStart, now time.Time) int {
	days := int(fitness.WeekStart(now).Sub(fitness.WeekStart(planStart.In(now.Location()))).Hours() / 24)
	if days < 0 {
		return 1
	}
	return days/7 + 1
}

// normalizeDays pads or trims to seven entries, Monday first.
func normalizeDays(days []string) []string {
	out := make([]string, 7)
	for i := range out {
		out[i] = "rest"
		if i < len(days) && strings.TrimSpace(days[i]) != "" {
			out[i] = strings.TrimSpace(days[i])
		}
	}
	return out
}

// decodeResult fills dst from the structured output. A shape mismatch is
// logged and leaves dst partially filled; callers fall back to the text.
func decodeResult(ctx context.Context, res *RunResult, dst any) {
	if len(res.Output) == 0 {
		return
	}
	if err := json.Unmarshal(res.Output, dst); err != nil {
		slog.WarnContext(ctx, "agent output did not match the expected shape",
			"agent_id", res.AgentID, "version_id", res.VersionID, "error", err)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// --- Per-user serialization ---

type userLock struct {
	mu   sync.Mutex
	refs int
}

// userLocks serializes drives for the same user within the process.
type userLocks struct {
	mu sync.Mutex
	m  map[string]*userLock
}

func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	ul, ok := l.m[userID]
	if !ok {
		ul = &userLock{}
		l.m[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.m, userID)
		}
		l.mu.Unlock()
	}
}
