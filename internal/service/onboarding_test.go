package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/CoachForge/internal/adapter/memstore"
	"github.com/Strob0t/CoachForge/internal/config"
	"github.com/Strob0t/CoachForge/internal/domain"
	"github.com/Strob0t/CoachForge/internal/domain/agentdef"
	"github.com/Strob0t/CoachForge/internal/domain/contexttpl"
	"github.com/Strob0t/CoachForge/internal/domain/fitness"
	"github.com/Strob0t/CoachForge/internal/domain/onboarding"
	"github.com/Strob0t/CoachForge/internal/port/llm"
	"github.com/Strob0t/CoachForge/internal/port/messenger"
	"github.com/Strob0t/CoachForge/internal/registry"
)

var _ messenger.Messenger = (*fakeMessenger)(nil)

type fakeMessenger struct {
	mu     sync.Mutex
	sent   []string
	fails  int
	failOn int // 1-based call number that fails once
	calls  int
}

func (m *fakeMessenger) Send(_ context.Context, u *fitness.User, content string) (*messenger.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failOn == m.calls {
		return nil, errors.New("carrier dropped the connection")
	}
	if m.fails > 0 {
		m.fails--
		return nil, errors.New("carrier unavailable")
	}
	m.sent = append(m.sent, u.ID+": "+content)
	return &messenger.Receipt{ID: "r" + string(rune('0'+len(m.sent))), Channel: "fake"}, nil
}

func (m *fakeMessenger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// statusRecorder captures every status written for a user.
type statusRecorder struct {
	*memstore.Store
	mu       sync.Mutex
	statuses []onboarding.Status
}

func (s *statusRecorder) CreateWorkflow(ctx context.Context, r *onboarding.Record) error {
	s.record(r.Status)
	return s.Store.CreateWorkflow(ctx, r)
}

func (s *statusRecorder) SaveWorkflowProgress(ctx context.Context, r *onboarding.Record) error {
	s.record(r.Status)
	return s.Store.SaveWorkflowProgress(ctx, r)
}

func (s *statusRecorder) record(st onboarding.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.statuses); n == 0 || s.statuses[n-1] != st {
		s.statuses = append(s.statuses, st)
	}
}

type onboardingFixture struct {
	store     *memstore.Store
	model     *scriptedModel
	messenger *fakeMessenger
	drafts    *DraftArena
	exec      *OnboardingExecutor
	calls     map[string]int
	callsMu   sync.Mutex
	failAgent map[string]int
}

var onboardingNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) // a Wednesday

func newOnboardingFixture(t *testing.T, store OnboardingStore, mem *memstore.Store, cfg config.Onboarding) *onboardingFixture {
	t.Helper()
	f := &onboardingFixture{
		store:     mem,
		messenger: &fakeMessenger{},
		calls:     make(map[string]int),
		failAgent: make(map[string]int),
	}
	f.model = &scriptedModel{answer: func(req *llm.Request, _ int) (*llm.Response, error) {
		agent := strings.SplitN(req.System, "\n", 2)[0]
		f.callsMu.Lock()
		f.calls[agent]++
		if f.failAgent[agent] > 0 {
			f.failAgent[agent]--
			f.callsMu.Unlock()
			return nil, errors.New("provider timeout")
		}
		n := f.calls[agent]
		f.callsMu.Unlock()

		switch agent {
		case onboarding.AgentProfileUpdate:
			return &llm.Response{Text: "Beginner runner, 3 days a week"}, nil
		case onboarding.AgentPlanGenerate:
			return &llm.Response{Structured: json.RawMessage(`{"name":"Base Builder","description":"Eight weeks of easy mileage","structure":{"weeks":8}}`)}, nil
		case onboarding.AgentWeekGenerate:
			return &llm.Response{Structured: json.RawMessage(`{"summary":"Week one","days":["easy run","rest","intervals","rest","easy run"]}`)}, nil
		case onboarding.AgentWorkoutGenerate:
			msg := "Today: intervals, 6x400m"
			if n > 1 {
				msg += " (v" + string(rune('0'+n)) + ")"
			}
			return &llm.Response{Structured: json.RawMessage(`{"title":"Intervals","message":"` + msg + `"}`)}, nil
		}
		return nil, errors.New("unexpected agent " + agent)
	}}

	ctx := context.Background()
	defs := NewDefinitionService(mem, mem, nil, 0)
	object := json.RawMessage(`{"type":"object"}`)
	for _, d := range []agentdef.Definition{
		{AgentID: onboarding.AgentProfileUpdate, ContextTypes: []string{"user"}},
		{AgentID: onboarding.AgentPlanGenerate, ContextTypes: []string{"user", "profile"}, OutputSchema: object},
		{AgentID: onboarding.AgentWeekGenerate, ContextTypes: []string{"plan"}, OutputSchema: object, UserPromptTemplate: "Week {{weekNumber}} from {{weekStart}}"},
		{AgentID: onboarding.AgentWorkoutGenerate, ContextTypes: []string{"microcycle"}, OutputSchema: object, UserPromptTemplate: "{{dayName}}: {{dayFocus}}"},
	} {
		d.SystemPrompt = d.AgentID
		d.Model = "anthropic/test"
		d.IsActive = true
		d.MaxRetries = 1
		if _, err := defs.Create(ctx, &d); err != nil {
			t.Fatal(err)
		}
	}
	for ct, body := range map[string]string{
		"user":                        "{{firstName}} on {{today}}",
		"profile":                     "{{summary}}",
		"plan":                        "{{name}}: {{description}}",
		"microcycle":                  "{{#days}}{{name}}={{focus}} {{/days}}",
		onboarding.WelcomeContextType: "Welcome {{user.firstName}}! Your plan: {{plan.name}}.",
	} {
		if _, err := mem.InsertTemplate(ctx, &contexttpl.Template{ContextType: ct, Variant: contexttpl.DefaultVariant, Body: body}); err != nil {
			t.Fatal(err)
		}
	}
	mem.PutUser(fitness.User{ID: "u1", FirstName: "Ada", Phone: "+15550100", Timezone: "UTC"})

	clock := func() time.Time { return onboardingNow }
	runner := NewAgentRunner(defs, NewExtensionResolver(mem, nil), NewContextRenderer(mem), registry.NewSet(), f.model,
		WithRetryDelay(time.Millisecond), WithClock(clock))
	f.drafts = NewDraftArena(newMapCache(), time.Minute)
	f.exec = NewOnboardingExecutor(store, runner, NewContextRenderer(mem), f.messenger, cfg,
		WithOnboardingClock(clock), WithDrafts(f.drafts))
	return f
}

func defaultOnboardingConfig() config.Onboarding {
	return config.Onboarding{MaxAttempts: 3, RetryDelay: time.Millisecond, Timezone: "America/New_York", SendMessages: true}
}

func (f *onboardingFixture) agentCalls(agent string) int {
	f.callsMu.Lock()
	defer f.callsMu.Unlock()
	return f.calls[agent]
}

func TestOnboarding_EndToEnd(t *testing.T) {
	mem := memstore.New()
	rec := &statusRecorder{Store: mem}
	f := newOnboardingFixture(t, rec, mem, defaultOnboardingConfig())
	ctx := context.Background()

	got, err := f.exec.Drive(ctx, onboarding.Trigger{UserID: "u1"})
	if err != nil {
		t.Fatalf("Drive: %v", err)
	}
	if got.Status != onboarding.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.CurrentStepIndex != len(onboarding.Steps) {
		t.Errorf("current step index = %d, want %d", got.CurrentStepIndex, len(onboarding.Steps))
	}

	want := []onboarding.Status{onboarding.StatusPending, onboarding.StatusInProgress, onboarding.StatusCompleted}
	if len(rec.statuses) != len(want) {
		t.Fatalf("status transitions = %v, want %v", rec.statuses, want)
	}
	for i := range want {
		if rec.statuses[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, rec.statuses[i], want[i])
		}
	}

	stored, err := mem.GetWorkflow(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !stored.ProgramMessagesSent {
		t.Error("programMessagesSent should be true after completion")
	}

	if f.messenger.count() != 2 {
		t.Fatalf("expected welcome and workout messages, got %v", f.messenger.sent)
	}
	if f.messenger.sent[0] != "u1: Welcome Ada! Your plan: Base Builder." {
		t.Errorf("welcome message = %q", f.messenger.sent[0])
	}
	if f.messenger.sent[1] != "u1: Today: intervals, 6x400m" {
		t.Errorf("workout message = %q", f.messenger.sent[1])
	}

	profiles, plans, weeks, workouts := mem.Counts("u1")
	if profiles != 1 || plans != 1 || weeks != 1 || workouts != 1 {
		t.Errorf("entity counts = %d/%d/%d/%d, want 1 each", profiles, plans, weeks, workouts)
	}

	mc, err := mem.LatestMicrocycle(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(mc.Days) != 7 || mc.Days[6] != "rest" || mc.WeekNumber != 1 {
		t.Errorf("microcycle not normalized: %+v", mc)
	}
	if !mc.StartDate.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("microcycle should start on Monday, got %v", mc.StartDate)
	}
	if turn := f.model.lastUserTurn(onboarding.AgentWorkoutGenerate); !strings.HasSuffix(turn, "Wednesday: intervals") {
		t.Errorf("workout prompt should name today's focus, got %q", turn)
	}

	_, results, err := f.exec.Inspect(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != len(onboarding.Steps) {
		t.Errorf("expected a cached result per step, got %d", len(results))
	}
}

func TestOnboarding_GetOrCreateProfileTwice(t *testing.T) {
	mem := memstore.New()
	f := newOnboardingFixture(t, mem, mem, defaultOnboardingConfig())
	ctx := context.Background()
	user, _ := mem.GetUser(ctx, "u1")
	st := &OnboardingState{RunID: "run-1", User: user}

	first, created, err := f.exec.GetOrCreateProfile(ctx, st, false)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("first call should create")
	}
	second, created, err := f.exec.GetOrCreateProfile(ctx, first, false)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("second call should reuse the existing profile")
	}
	if first.Profile.ID != second.Profile.ID {
		t.Errorf("expected the same profile, got %s and %s", first.Profile.ID, second.Profile.ID)
	}
	if f.agentCalls(onboarding.AgentProfileUpdate) != 1 {
		t.Errorf("agent should run once, ran %d times", f.agentCalls(onboarding.AgentProfileUpdate))
	}
	if st.Profile != nil {
		t.Error("prior state must not be mutated")
	}
}

func TestOnboarding_GetOrCreateForcedTwice(t *testing.T) {
	mem := memstore.New()
	f := newOnboardingFixture(t, mem, mem, defaultOnboardingConfig())
	ctx := context.Background()
	user, _ := mem.GetUser(ctx, "u1")
	st := &OnboardingState{RunID: "run-1", User: user}

	first, created1, err := f.exec.GetOrCreateProfile(ctx, st, true)
	if err != nil {
		t.Fatal(err)
	}
	second, created2, err := f.exec.GetOrCreateProfile(ctx, first, true)
	if err != nil {
		t.Fatal(err)
	}
	if !created1 || !created2 {
		t.Fatal("forced calls should always create")
	}
	if first.Profile.ID == second.Profile.ID {
		t.Fatal("forced calls should create distinct profiles")
	}
	latest, err := mem.LatestProfile(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != second.Profile.ID {
		t.Error("the most recent profile should be the second one")
	}
	if profiles, _, _, _ := mem.Counts("u1"); profiles != 2 {
		t.Errorf("prior versions must be preserved, got %d profiles", profiles)
	}
}

func TestOnboarding_ForcedTriggersOpenNewRuns(t *testing.T) {
	mem := memstore.New()
	f := newOnboardingFixture(t, mem, mem, defaultOnboardingConfig())
	ctx := context.Background()

	first, err := f.exec.Drive(ctx, onboarding.Trigger{UserID: "u1", ForceCreate: true, EventID: "evt-1"})
	if err != nil {
		t.Fatal(err)
	}
	// Redelivery of the same event resumes the same run.
	again, err := f.exec.Drive(ctx, onboarding.Trigger{UserID: "u1", ForceCreate: true, EventID: "evt-1"})
	if err != nil {
		t.Fatal(err)
	}
	if again.RunID != first.RunID {
		t.Error("redelivered event should not open a new run")
	}
	second, err := f.exec.Drive(ctx, onboarding.Trigger{UserID: "u1", ForceCreate: true, EventID: "evt-2"})
	if err != nil {
		t.Fatal(err)
	}
	if second.RunID == first.RunID {
		t.Fatal("a new forced event should open a new run")
	}

	profiles, plans, weeks, workouts := mem.Counts("u1")
	if profiles != 2 || plans != 2 || weeks != 2 || workouts != 2 {
		t.Errorf("entity counts = %d/%d/%d/%d, want 2 each", profiles, plans, weeks, workouts)
	}
	if f.messenger.count() != 4 {
		t.Errorf("each generation sends once: got %d messages", f.messenger.count())
	}
	w, _ := mem.LatestWorkout(ctx, "u1")
	if !strings.HasSuffix(w.Message, "(v2)") {
		t.Errorf("latest workout should be from the second run, got %q", w.Message)
	}
}

// crashBeforeStep fails the first cached-result lookup of one step without
// persisting the failure, like a process dying between two steps.
type crashBeforeStep struct {
	*memstore.Store
	step    string
	crashed bool
}

func (s *crashBeforeStep) GetStepResult(ctx context.Context, runID, step string) (*onboarding.StepResult, error) {
	if step == s.step && !s.crashed {
		s.crashed = true
		return nil, errors.New("process killed")
	}
	return s.Store.GetStepResult(ctx, runID, step)
}

func (s *crashBeforeStep) SaveWorkflowProgress(ctx context.Context, r *onboarding.Record) error {
	if r.Status == onboarding.StatusFailed && s.crashed {
		return errors.New("process killed")
	}
	return s.Store.SaveWorkflowProgress(ctx, r)
}

func TestOnboarding_ResumeAfterCrash(t *testing.T) {
	mem := memstore.New()
	crash := &crashBeforeStep{Store: mem, step: onboarding.StepGetOrCreateWorkout}
	f := newOnboardingFixture(t, crash, mem, defaultOnboardingConfig())
	ctx := context.Background()

	if _, err := f.exec.Drive(ctx, onboarding.Trigger{UserID: "u1"}); err == nil {
		t.Fatal("expected the simulated crash to surface")
	}
	stored, _ := mem.GetWorkflow(ctx, "u1")
	if stored.Status != onboarding.StatusInProgress {
		t.Fatalf("crashed run should be left in_progress, got %s", stored.Status)
	}
	if stored.CurrentStepIndex != onboarding.StepIndex(onboarding.StepGetOrCreateWorkout) {
		t.Fatalf("progress should point at the workout step, got %d", stored.CurrentStepIndex)
	}

	rec, err := f.exec.Drive(ctx, onboarding.Trigger{UserID: "u1"})
	if err != nil {
		t.Fatalf("re-drive: %v", err)
	}
	if rec.RunID != stored.RunID {
		t.Error("re-drive should resume the same run")
	}
	for _, agent := range []string{onboarding.AgentProfileUpdate, onboarding.AgentPlanGenerate, onboarding.AgentWeekGenerate} {
		if n := f.agentCalls(agent); n != 1 {
			t.Errorf("%s should not be re-invoked, ran %d times", agent, n)
		}
	}
	if n := f.agentCalls(onboarding.AgentWorkoutGenerate); n != 1 {
		t.Errorf("workout agent should run once after resume, ran %d times", n)
	}
	profiles, plans, weeks, workouts := mem.Counts("u1")
	if profiles != 1 || plans != 1 || weeks != 1 || workouts != 1 {
		t.Errorf("entity counts = %d/%d/%d/%d, want 1 each", profiles, plans, weeks, workouts)
	}
}

func TestOnboarding_SendMessagesOnce(t *testing.T) {
	mem := memstore.New()
	f := newOnboardingFixture(t, mem, mem, defaultOnboardingConfig())
	ctx := context.Background()

	if _, err := f.exec.Drive(ctx, onboarding.Trigger{UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.exec.Drive(ctx, onboarding.Trigger{UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	if f.messenger.count() != 2 {
		t.Errorf("re-driving a completed workflow must not resend, got %d messages", f.messenger.count())
	}

	// Invoking the step directly also honors the flag.
	rec, _ := mem.GetWorkflow(ctx, "u1")
	out, err := f.exec.sendMessages(ctx, rec, &OnboardingState{User: &fitness.User{ID: "u1"}})
	if err != nil {
		t.Fatal(err)
	}
	if so := out.(sendOutcome); so.Sent {
		t.Error("second sendMessages should report already sent")
	}
	if f.messenger.count() != 2 {
		t.Errorf("expected exactly one dispatch, got %d messages", f.messenger.count())
	}
}

func TestOnboarding_FailedSendIsRetried(t *testing.T) {
	mem := memstore.New()
	f := newOnboardingFixture(t, mem, mem, defaultOnboardingConfig())
	f.messenger.fails = 1
	ctx := context.Background()

	_, err := f.exec.Drive(ctx, onboarding.Trigger{UserID: "u1"})
	var se *domain.StepError
	if !errors.As(err, &se) || se.Step != onboarding.StepSendMessages {
		t.Fatalf("expected sendMessages StepError, got %v", err)
	}
	stored, _ := mem.GetWorkflow(ctx, "u1")
	if stored.Status != onboarding.StatusFailed || stored.ProgramMessagesSent {
		t.Fatalf("failed send should leave status failed and flag released: %+v", stored)
	}
	if !strings.Contains(stored.ErrorMessage, "carrier unavailable") {
		t.Errorf("error message = %q", stored.ErrorMessage)
	}

	rec, err := f.exec.Drive(ctx, onboarding.Trigger{UserID: "u1"})
	if err != nil {
		t.Fatalf("re-drive: %v", err)
	}
	if rec.Status != onboarding.StatusCompleted {
		t.Errorf("failed workflow should move back to completed, got %s", rec.Status)
	}
	if f.messenger.count() != 2 {
		t.Errorf("expected both messages once after retry, got %d", f.messenger.count())
	}
}

func TestOnboarding_PartialDeliveryResumes(t *testing.T) {
	mem := memstore.New()
	f := newOnboardingFixture(t, mem, mem, defaultOnboardingConfig())
	f.messenger.failOn = 2
	ctx := context.Background()

	if _, err := f.exec.Drive(ctx, onboarding.Trigger{UserID: "u1"}); !errors.Is(err, domain.ErrStepExecution) {
		t.Fatalf("expected the second send to fail the step, got %v", err)
	}
	stored, _ := mem.GetWorkflow(ctx, "u1")
	if stored.ProgramMessagesSent || stored.MessagesDelivered != 1 {
		t.Fatalf("partial delivery should release the flag and record one message: %+v", stored)
	}

	if _, err := f.exec.Drive(ctx, onboarding.Trigger{UserID: "u1"}); err != nil {
		t.Fatalf("re-drive: %v", err)
	}
	f.messenger.mu.Lock()
	sent := append([]string(nil), f.messenger.sent...)
	f.messenger.mu.Unlock()
	want := []string{"u1: Welcome Ada! Your plan: Base Builder.", "u1: Today: intervals, 6x400m"}
	if len(sent) != len(want) || sent[0] != want[0] || sent[1] != want[1] {
		t.Fatalf("each message should go out exactly once, got %q", sent)
	}
}

func TestOnboarding_StepFailureMarksFailed(t *testing.T) {
	mem := memstore.New()
	f := newOnboardingFixture(t, mem, mem, defaultOnboardingConfig())
	f.failAgent[onboarding.AgentPlanGenerate] = 2 // exhausts max_retries=1
	ctx := context.Background()

	_, err := f.exec.Drive(ctx, onboarding.Trigger{UserID: "u1"})
	if !errors.Is(err, domain.ErrStepExecution) || !errors.Is(err, domain.ErrModelInvocation) {
		t.Fatalf("expected step error wrapping a model failure, got %v", err)
	}
	stored, _ := mem.GetWorkflow(ctx, "u1")
	if stored.Status != onboarding.StatusFailed {
		t.Errorf("status = %s, want failed", stored.Status)
	}
	if !strings.HasPrefix(stored.ErrorMessage, "step getOrCreatePlan") {
		t.Errorf("error message should name the step: %q", stored.ErrorMessage)
	}
}

func TestOnboarding_DriveWithAttempts(t *testing.T) {
	mem := memstore.New()
	f := newOnboardingFixture(t, mem, mem, defaultOnboardingConfig())
	f.failAgent[onboarding.AgentWeekGenerate] = 2
	ctx := context.Background()

	rec, err := f.exec.DriveWithAttempts(ctx, onboarding.Trigger{UserID: "u1"})
	if err != nil {
		t.Fatalf("DriveWithAttempts: %v", err)
	}
	if rec.Status != onboarding.StatusCompleted || rec.Attempts != 2 {
		t.Errorf("expected completion on the second attempt, got %s after %d", rec.Status, rec.Attempts)
	}
	if n := f.agentCalls(onboarding.AgentProfileUpdate); n != 1 {
		t.Errorf("completed steps should not rerun, profile agent ran %d times", n)
	}
}

func TestOnboarding_DriveWithAttemptsHonorsCancel(t *testing.T) {
	mem := memstore.New()
	cfg := defaultOnboardingConfig()
	cfg.RetryDelay = time.Hour
	f := newOnboardingFixture(t, mem, mem, cfg)
	f.failAgent[onboarding.AgentWeekGenerate] = 2
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	rec, err := f.exec.DriveWithAttempts(ctx, onboarding.Trigger{UserID: "u1"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the backoff wait to end with the context, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("backoff ignored cancellation, waited %s", elapsed)
	}
	if rec == nil || rec.Attempts != 1 {
		t.Errorf("expected one attempt before cancellation, got %+v", rec)
	}
}

func TestOnboarding_DeliveryDisabledKeepsFlag(t *testing.T) {
	mem := memstore.New()
	cfg := defaultOnboardingConfig()
	cfg.SendMessages = false
	f := newOnboardingFixture(t, mem, mem, cfg)
	ctx := context.Background()

	if _, err := f.exec.Drive(ctx, onboarding.Trigger{UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	if f.messenger.count() != 0 {
		t.Errorf("delivery disabled, got %d messages", f.messenger.count())
	}
	stored, _ := mem.GetWorkflow(ctx, "u1")
	if !stored.ProgramMessagesSent {
		t.Error("flag logic should still run with delivery disabled")
	}
}

func TestOnboarding_DraftMergedIntoSignup(t *testing.T) {
	mem := memstore.New()
	f := newOnboardingFixture(t, mem, mem, defaultOnboardingConfig())
	ctx := context.Background()

	token, err := f.drafts.Put(ctx, json.RawMessage(`{"goal":"first 10k","daysPerWeek":3}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.exec.Drive(ctx, onboarding.Trigger{UserID: "u1", DraftToken: token}); err != nil {
		t.Fatal(err)
	}
	stored, _ := mem.GetWorkflow(ctx, "u1")
	var signup map[string]any
	if err := json.Unmarshal(stored.SignupData, &signup); err != nil {
		t.Fatal(err)
	}
	if signup["goal"] != "first 10k" {
		t.Errorf("draft not merged: %v", signup)
	}

	_, err = f.exec.Drive(ctx, onboarding.Trigger{UserID: "u1", ForceCreate: true, EventID: "e2", DraftToken: "expired"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing draft should fail loadData with ErrNotFound, got %v", err)
	}
}

func TestOnboarding_UnknownUser(t *testing.T) {
	mem := memstore.New()
	f := newOnboardingFixture(t, mem, mem, defaultOnboardingConfig())
	_, err := f.exec.Drive(context.Background(), onboarding.Trigger{UserID: "nobody"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpensNewRun(t *testing.T) {
	tests := []struct {
		name string
		rec  onboarding.Record
		trig onboarding.Trigger
		want bool
	}{
		{"not forced", onboarding.Record{Status: onboarding.StatusCompleted}, onboarding.Trigger{EventID: "e2"}, false},
		{"same event", onboarding.Record{LastEventID: "e1", ForceCreate: true}, onboarding.Trigger{ForceCreate: true, EventID: "e1"}, false},
		{"new event", onboarding.Record{LastEventID: "e1", ForceCreate: true}, onboarding.Trigger{ForceCreate: true, EventID: "e2"}, true},
		{"no event, forced run in progress", onboarding.Record{ForceCreate: true, Status: onboarding.StatusInProgress}, onboarding.Trigger{ForceCreate: true}, false},
		{"no event, forced run completed", onboarding.Record{ForceCreate: true, Status: onboarding.StatusCompleted}, onboarding.Trigger{ForceCreate: true}, true},
		{"no event, unforced run", onboarding.Record{Status: onboarding.StatusFailed}, onboarding.Trigger{ForceCreate: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := opensNewRun(&tt.rec, tt.trig); got != tt.want {
				t.Errorf("opensNewRun = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeDays(t *testing.T) {
	got := normalizeDays([]string{"run", " ", "lift"})
	want := []string{"run", "rest", "lift", "rest", "rest", "rest", "rest"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("normalizeDays = %v, want %v", got, want)
		}
	}
	if len(normalizeDays(make([]string, 9))) != 7 {
		t.Error("long input should be trimmed to seven days")
	}
}

func TestWeekNumber(t *testing.T) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		now  time.Time
		want int
	}{
		{time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC), 1},
		{time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), 2},
		{time.Date(2026, 3, 29, 23, 0, 0, 0, time.UTC), 4},
		{time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC), 1},
	}
	for _, tt := range tests {
		if got := weekNumber(start, tt.now); got != tt.want {
			t.Errorf("weekNumber(%v) = %d, want %d", tt.now, got, tt.want)
		}
	}
}

func TestDecodeResult_LogsShapeMismatch(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	var out struct {
		Days []string `json:"days"`
	}
	res := &RunResult{AgentID: "week:generate", Output: json.RawMessage(`{"days":"monday"}`), Text: "fallback"}
	decodeResult(context.Background(), res, &out)

	if !strings.Contains(buf.String(), `"level":"WARN"`) || !strings.Contains(buf.String(), `"agent_id":"week:generate"`) {
		t.Errorf("expected a warning naming the agent, got %s", buf.String())
	}
	if len(out.Days) != 0 {
		t.Errorf("mismatched field should stay empty, got %v", out.Days)
	}

	buf.Reset()
	decodeResult(context.Background(), &RunResult{Output: json.RawMessage(`{"days":["mon"]}`)}, &out)
	if buf.Len() != 0 || len(out.Days) != 1 {
		t.Errorf("well-formed output should decode silently: log %q, days %v", buf.String(), out.Days)
	}
}
