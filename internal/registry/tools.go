package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/CoachForge/internal/domain"
	"github.com/Strob0t/CoachForge/internal/port/llm"
)

// ToolContext is the execution context every tool instance is closed over.
type ToolContext struct {
	UserID   string
	RunID    string
	AgentID  string
	Timezone string
	Now      func() time.Time
	// Conversation is the message history at the time tools were bound.
	Conversation []llm.Message
}

// Location returns the caller's timezone, UTC when unknown.
func (tc ToolContext) Location() *time.Location {
	if tc.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tc.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Clock returns the current time in the caller's timezone.
func (tc ToolContext) Clock() time.Time {
	now := time.Now
	if tc.Now != nil {
		now = tc.Now
	}
	return now().In(tc.Location())
}

// ToolFunc executes one tool call.
type ToolFunc func(ctx context.Context, tc ToolContext, input json.RawMessage) (string, error)

// ToolDefinition is a registered tool. Lower Priority sorts first.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Priority    int
	Execute     ToolFunc
}

// Tool is a definition bound to a ToolContext.
type Tool struct {
	Spec     llm.ToolSpec
	Priority int
	exec     ToolFunc
	tc       ToolContext
}

// Run executes the tool with the bound context.
func (t Tool) Run(ctx context.Context, input json.RawMessage) (string, error) {
	return t.exec(ctx, t.tc, input)
}

// ToolRegistry maps tool names to definitions.
type ToolRegistry struct {
	mu     sync.RWMutex
	defs   map[string]ToolDefinition
	frozen bool
}

// NewToolRegistry returns an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{defs: make(map[string]ToolDefinition)}
}

// Register adds def. Registering a name twice is a configuration error.
func (r *ToolRegistry) Register(def ToolDefinition) error {
	if def.Name == "" || def.Execute == nil {
		return fmt.Errorf("tool registry: name and execute are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("tool %q: %w", def.Name, ErrFrozen)
	}
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("tool %q: %w", def.Name, domain.ErrDuplicateRegistration)
	}
	if len(def.InputSchema) == 0 {
		def.InputSchema = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	r.defs[def.Name] = def
	return nil
}

// MustRegister is Register for boot code; it panics on error.
func (r *ToolRegistry) MustRegister(def ToolDefinition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Replace overwrites or adds def. Test harnesses only.
func (r *ToolRegistry) Replace(def ToolDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("tool %q: %w", def.Name, ErrFrozen)
	}
	r.defs[def.Name] = def
	return nil
}

// Reset removes every definition. Test harnesses only.
func (r *ToolRegistry) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	r.defs = make(map[string]ToolDefinition)
	return nil
}

// Freeze rejects further mutation.
func (r *ToolRegistry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Has reports whether name is registered.
func (r *ToolRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[name]
	return ok
}

// Names returns registered names sorted alphabetically.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CreateTools binds the named tools to tc and returns them sorted by
// ascending priority; ties keep request order. Any unknown name fails the
// whole call.
func (r *ToolRegistry) CreateTools(names []string, tc ToolContext) ([]Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		def, ok := r.defs[name]
		if !ok {
			return nil, fmt.Errorf("tool %q not registered: %w", name, domain.ErrUnknownCapability)
		}
		tools = append(tools, Tool{
			Spec:     llm.ToolSpec{Name: def.Name, Description: def.Description, InputSchema: def.InputSchema},
			Priority: def.Priority,
			exec:     def.Execute,
			tc:       tc,
		})
	}
	sort.SliceStable(tools, func(i, j int) bool { return tools[i].Priority < tools[j].Priority })
	return tools, nil
}
