package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Strob0t/CoachForge/internal/domain"
)

// Trigger decides when a callback binding fires.
type Trigger string

const (
	OnSuccess Trigger = "on_success"
	OnFailure Trigger = "on_failure"
	Always    Trigger = "always"
)

// Fires reports whether a binding with this trigger runs for the outcome.
func (t Trigger) Fires(succeeded bool) bool {
	switch t {
	case Always:
		return true
	case OnFailure:
		return !succeeded
	default:
		return succeeded
	}
}

// CallbackEvent is the payload handed to callbacks after an agent run.
type CallbackEvent struct {
	AgentID   string
	VersionID string
	RunID     string
	UserID    string
	Text      string
	Output    json.RawMessage
	Err       error
	Succeeded bool
}

// CallbackFunc performs a side effect.
type CallbackFunc func(ctx context.Context, ev CallbackEvent) error

// CallbackDefinition is a registered callback. DefaultTrigger applies to
// bindings that do not name one; empty means on_success.
type CallbackDefinition struct {
	Name           string
	Description    string
	DefaultTrigger Trigger
	Run            CallbackFunc
}

// CallbackBinding attaches a callback to an agent.
type CallbackBinding struct {
	Name string  `json:"name" yaml:"name"`
	When Trigger `json:"when,omitempty" yaml:"when,omitempty"`
}

// DispatchReport summarizes one ExecuteCallbacks call.
type DispatchReport struct {
	Fired   []string
	Failed  []string
	Unknown []string
}

// CallbackRegistry maps callback names to definitions.
type CallbackRegistry struct {
	mu     sync.RWMutex
	defs   map[string]CallbackDefinition
	frozen bool
}

// NewCallbackRegistry returns an empty registry.
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{defs: make(map[string]CallbackDefinition)}
}

// Register adds def. Registering a name twice is a configuration error.
func (r *CallbackRegistry) Register(def CallbackDefinition) error {
	if def.Name == "" || def.Run == nil {
		return fmt.Errorf("callback registry: name and run are required")
	}
	switch def.DefaultTrigger {
	case "", OnSuccess, OnFailure, Always:
	default:
		return fmt.Errorf("callback %q: invalid trigger %q", def.Name, def.DefaultTrigger)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("callback %q: %w", def.Name, ErrFrozen)
	}
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("callback %q: %w", def.Name, domain.ErrDuplicateRegistration)
	}
	r.defs[def.Name] = def
	return nil
}

// MustRegister is Register for boot code; it panics on error.
func (r *CallbackRegistry) MustRegister(def CallbackDefinition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Replace overwrites or adds def. Test harnesses only.
func (r *CallbackRegistry) Replace(def CallbackDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("callback %q: %w", def.Name, ErrFrozen)
	}
	r.defs[def.Name] = def
	return nil
}

// Reset removes every definition. Test harnesses only.
func (r *CallbackRegistry) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	r.defs = make(map[string]CallbackDefinition)
	return nil
}

// Freeze rejects further mutation.
func (r *CallbackRegistry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Has reports whether name is registered.
func (r *CallbackRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[name]
	return ok
}

// Names returns registered names sorted alphabetically.
func (r *CallbackRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ExecuteCallbacks runs the bindings that fire for the outcome, sequentially
// in binding order. Failures and unknown names are logged and skipped; they
// never stop later callbacks.
func (r *CallbackRegistry) ExecuteCallbacks(ctx context.Context, bindings []CallbackBinding, ev CallbackEvent, succeeded bool) DispatchReport {
	var report DispatchReport
	ev.Succeeded = succeeded
	for _, b := range bindings {
		r.mu.RLock()
		def, ok := r.defs[b.Name]
		r.mu.RUnlock()
		if !ok {
			slog.ErrorContext(ctx, "callback not registered", "callback", b.Name, "agent_id", ev.AgentID)
			report.Unknown = append(report.Unknown, b.Name)
			continue
		}

		when := b.When
		if when == "" {
			when = def.DefaultTrigger
		}
		if !when.Fires(succeeded) {
			continue
		}

		report.Fired = append(report.Fired, b.Name)
		if err := runCallback(ctx, def, ev); err != nil {
			slog.ErrorContext(ctx, "callback failed", "callback", b.Name, "agent_id", ev.AgentID, "run_id", ev.RunID, "error", err)
			report.Failed = append(report.Failed, b.Name)
		}
	}
	return report
}

// runCallback converts a panicking callback into an error.
func runCallback(ctx context.Context, def CallbackDefinition, ev CallbackEvent) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("callback %s panicked: %v", def.Name, p)
		}
	}()
	return def.Run(ctx, ev)
}
