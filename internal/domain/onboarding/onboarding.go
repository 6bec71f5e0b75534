// Package onboarding defines the onboarding workflow instance, its fixed step
// catalog and the trigger event that drives it.
package onboarding

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state of a workflow instance.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further step will run without a new trigger.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Step names in execution order.
const (
	StepLoadData              = "loadData"
	StepGetOrCreateProfile    = "getOrCreateProfile"
	StepGetOrCreatePlan       = "getOrCreatePlan"
	StepGetOrCreateMicrocycle = "getOrCreateMicrocycle"
	StepGetOrCreateWorkout    = "getOrCreateWorkout"
	StepMarkCompleted         = "markCompleted"
	StepSendMessages          = "sendMessages"
)

// Steps is the fixed step sequence.
var Steps = []string{
	StepLoadData,
	StepGetOrCreateProfile,
	StepGetOrCreatePlan,
	StepGetOrCreateMicrocycle,
	StepGetOrCreateWorkout,
	StepMarkCompleted,
	StepSendMessages,
}

// Agents invoked by the get-or-create steps.
const (
	AgentProfileUpdate   = "profile:update"
	AgentPlanGenerate    = "plan:generate"
	AgentWeekGenerate    = "week:generate"
	AgentWorkoutGenerate = "workout:generate"
)

// WelcomeContextType is the context template rendered into the first
// program message.
const WelcomeContextType = "welcome_message"

// StepIndex returns the position of step in Steps, or -1.
func StepIndex(step string) int {
	for i, s := range Steps {
		if s == step {
			return i
		}
	}
	return -1
}

// Record is the persisted onboarding instance for one user.
type Record struct {
	UserID              string          `json:"user_id"`
	RunID               string          `json:"run_id"`
	LastEventID         string          `json:"last_event_id,omitempty"`
	ForceCreate         bool            `json:"force_create"`
	Status              Status          `json:"status"`
	SignupData          json.RawMessage `json:"signup_data,omitempty"`
	CurrentStepIndex    int             `json:"current_step_index"`
	ErrorMessage        string          `json:"error_message,omitempty"`
	ProgramMessagesSent bool            `json:"program_messages_sent"`
	MessagesDelivered   int             `json:"messages_delivered"`
	Attempts            int             `json:"attempts"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// CurrentStep names the step the instance will run next.
func (r *Record) CurrentStep() string {
	if r.CurrentStepIndex < 0 || r.CurrentStepIndex >= len(Steps) {
		return ""
	}
	return Steps[r.CurrentStepIndex]
}

// StepResult is the cached output of a completed step for one run.
type StepResult struct {
	RunID     string          `json:"run_id"`
	Step      string          `json:"step"`
	Output    json.RawMessage `json:"output"`
	CreatedAt time.Time       `json:"created_at"`
}

// Trigger starts or re-drives the onboarding workflow for a user. Delivery is
// at-least-once; EventID identifies one logical request across redeliveries.
type Trigger struct {
	UserID      string `json:"userId"`
	ForceCreate bool   `json:"forceCreate,omitempty"`
	EventID     string `json:"eventId,omitempty"`
	DraftToken  string `json:"draftToken,omitempty"`
}

// Validate checks required fields.
func (t *Trigger) Validate() error {
	if t.UserID == "" {
		return errors.New("trigger: userId is required")
	}
	return nil
}

// ErrMessagesAlreadySent reports that the send-once flag was already claimed.
var ErrMessagesAlreadySent = errors.New("program messages already sent")
