// Package catalog registers the concrete tools, callbacks and agent
// configurations of the coaching engine at process start.
package catalog

import (
	"errors"
	"fmt"

	"github.com/Strob0t/CoachForge/internal/domain/agentdef"
	"github.com/Strob0t/CoachForge/internal/domain/onboarding"
	"github.com/Strob0t/CoachForge/internal/port/database"
	"github.com/Strob0t/CoachForge/internal/port/messenger"
	"github.com/Strob0t/CoachForge/internal/port/notifier"
	"github.com/Strob0t/CoachForge/internal/registry"
)

// Agent ids beyond the onboarding step agents.
const (
	AgentPlanOverview = "plan:overview"
)

// Tool names.
const (
	ToolCurrentDatetime = "current_datetime"
	ToolUserProfile     = "user_profile"
	ToolRecentWorkouts  = "recent_workouts"
)

// Callback names.
const (
	CallbackLogEvent      = "log_event"
	CallbackRecordFailure = "record_failure"
	CallbackSendSMS       = "send_sms"
)

// Deps are the ports the catalog's tools and callbacks close over.
type Deps struct {
	Fitness   database.FitnessStore
	Users     database.UserDirectory
	Messenger messenger.Messenger
	Alerts    notifier.Notifier // optional
}

func (d Deps) validate() error {
	var errs []error
	if d.Fitness == nil {
		errs = append(errs, errors.New("fitness store is required"))
	}
	if d.Users == nil {
		errs = append(errs, errors.New("user directory is required"))
	}
	if d.Messenger == nil {
		errs = append(errs, errors.New("messenger is required"))
	}
	return errors.Join(errs...)
}

// Register populates set with every tool, callback and agent, verifies the
// references between them and freezes the registries.
func Register(set *registry.Set, deps Deps) error {
	if err := deps.validate(); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	for _, def := range tools(deps) {
		if err := set.Tools.Register(def); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
	}
	for _, def := range callbacks(deps) {
		if err := set.Callbacks.Register(def); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
	}
	for _, cfg := range Agents() {
		if err := set.Agents.Register(cfg); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
	}
	if err := set.Verify(); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	if err := registry.CheckAcyclic(set.Agents.DependencyGraph()); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	set.Freeze()
	return nil
}

var (
	logAlways      = registry.CallbackBinding{Name: CallbackLogEvent, When: registry.Always}
	recordFailures = registry.CallbackBinding{Name: CallbackRecordFailure, When: registry.OnFailure}
)

// Agents returns the code-side configuration of every agent.
func Agents() []registry.AgentConfig {
	return []registry.AgentConfig{
		{
			ID:          onboarding.AgentProfileUpdate,
			Description: "Distills signup answers into a structured fitness profile.",
			Tools:       []string{ToolCurrentDatetime},
			Callbacks:   []registry.CallbackBinding{logAlways, recordFailures},
		},
		{
			ID:          onboarding.AgentPlanGenerate,
			Description: "Designs the long-range training plan from the profile.",
			Tools:       []string{ToolCurrentDatetime, ToolUserProfile},
			SubAgents: []agentdef.SubAgentLayer{
				{{Key: "overview", AgentID: AgentPlanOverview}},
			},
			Callbacks:  []registry.CallbackBinding{logAlways, recordFailures},
			Validators: []registry.ValidatorFunc{planHasPhases},
		},
		{
			ID:          AgentPlanOverview,
			Description: "Condenses a generated plan into a short text-message overview.",
			Validators:  []registry.ValidatorFunc{fitsSMS},
		},
		{
			ID:          onboarding.AgentWeekGenerate,
			Description: "Schedules the focus of each day of one training week.",
			Tools:       []string{ToolCurrentDatetime, ToolUserProfile, ToolRecentWorkouts},
			Callbacks:   []registry.CallbackBinding{logAlways, recordFailures},
			Validators:  []registry.ValidatorFunc{weekHasSevenDays},
		},
		{
			ID:          onboarding.AgentWorkoutGenerate,
			Description: "Writes today's session and the message announcing it.",
			Tools:       []string{ToolCurrentDatetime, ToolRecentWorkouts},
			Callbacks:   []registry.CallbackBinding{logAlways, recordFailures},
			Validators:  []registry.ValidatorFunc{workoutHasMessage},
		},
	}
}
