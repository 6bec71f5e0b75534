package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Strob0t/CoachForge/internal/domain"
	"github.com/Strob0t/CoachForge/internal/domain/agentdef"
)

// ErrCycle reports a sub-agent dependency cycle.
var ErrCycle = errors.New("sub-agent dependencies contain a cycle")

// ValidatorFunc checks an agent's output and returns one problem per failure.
// output is the structured result when the agent has a schema, else nil.
type ValidatorFunc func(output json.RawMessage, text string) []string

// AgentConfig is the code-side half of an agent: what it may call and what
// runs after it. Prompts and models live in the versioned definition store;
// Tools and SubAgents here apply when the stored definition declares none.
type AgentConfig struct {
	ID          string
	Description string
	Tools       []string
	SubAgents   []agentdef.SubAgentLayer
	Callbacks   []CallbackBinding
	Validators  []ValidatorFunc
}

// GraphNode is the flattened dependency view of one agent.
type GraphNode struct {
	Tools         []string `json:"tools"`
	SubAgentIDs   []string `json:"sub_agent_ids"`
	CallbackNames []string `json:"callback_names"`
}

// AgentRegistry maps agent ids to configs.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]*AgentConfig
	frozen bool
}

// NewAgentRegistry returns an empty registry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{agents: make(map[string]*AgentConfig)}
}

// Register adds cfg. Registering an id twice is a fatal configuration error.
func (r *AgentRegistry) Register(cfg AgentConfig) error {
	if cfg.ID == "" {
		return errors.New("agent registry: id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("agent %q: %w", cfg.ID, ErrFrozen)
	}
	if _, exists := r.agents[cfg.ID]; exists {
		return fmt.Errorf("agent %q: %w", cfg.ID, domain.ErrDuplicateRegistration)
	}
	c := cfg
	r.agents[cfg.ID] = &c
	return nil
}

// MustRegister is Register for boot code; it panics on error.
func (r *AgentRegistry) MustRegister(cfg AgentConfig) {
	if err := r.Register(cfg); err != nil {
		panic(err)
	}
}

// Replace overwrites or adds cfg. Test harnesses only.
func (r *AgentRegistry) Replace(cfg AgentConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("agent %q: %w", cfg.ID, ErrFrozen)
	}
	c := cfg
	r.agents[cfg.ID] = &c
	return nil
}

// Reset removes every config. Test harnesses only.
func (r *AgentRegistry) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	r.agents = make(map[string]*AgentConfig)
	return nil
}

// Freeze rejects further mutation.
func (r *AgentRegistry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Get returns the config for id.
func (r *AgentRegistry) Get(id string) (*AgentConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.agents[id]
	return c, ok
}

// IDs returns registered agent ids sorted alphabetically.
func (r *AgentRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DependencyGraph returns the flattened view of every registered agent.
func (r *AgentRegistry) DependencyGraph() map[string]GraphNode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	graph := make(map[string]GraphNode, len(r.agents))
	for id, c := range r.agents {
		graph[id] = nodeFor(c.Tools, c.SubAgents, c.Callbacks)
	}
	return graph
}

// NodeFor builds a graph node from its parts.
func NodeFor(tools []string, layers []agentdef.SubAgentLayer, callbacks []CallbackBinding) GraphNode {
	return nodeFor(tools, layers, callbacks)
}

func nodeFor(tools []string, layers []agentdef.SubAgentLayer, callbacks []CallbackBinding) GraphNode {
	n := GraphNode{
		Tools:         append([]string{}, tools...),
		SubAgentIDs:   []string{},
		CallbackNames: make([]string, 0, len(callbacks)),
	}
	d := agentdef.Definition{SubAgents: layers}
	n.SubAgentIDs = append(n.SubAgentIDs, d.SubAgentIDs()...)
	for _, b := range callbacks {
		n.CallbackNames = append(n.CallbackNames, b.Name)
	}
	return n
}

// Verify checks every agent's tool and callback references.
func (r *AgentRegistry) Verify(tools *ToolRegistry, callbacks *CallbackRegistry) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for _, id := range sortedKeys(r.agents) {
		c := r.agents[id]
		for _, t := range c.Tools {
			if !tools.Has(t) {
				errs = append(errs, fmt.Errorf("agent %s: tool %q: %w", id, t, domain.ErrUnknownCapability))
			}
		}
		for _, b := range c.Callbacks {
			if !callbacks.Has(b.Name) {
				errs = append(errs, fmt.Errorf("agent %s: callback %q: %w", id, b.Name, domain.ErrUnknownCapability))
			}
			if !b.When.valid() {
				errs = append(errs, fmt.Errorf("agent %s: callback %q: invalid trigger %q", id, b.Name, b.When))
			}
		}
	}
	return errors.Join(errs...)
}

func (t Trigger) valid() bool {
	switch t {
	case "", OnSuccess, OnFailure, Always:
		return true
	}
	return false
}

// CheckAcyclic verifies that sub-agent edges form a DAG using Kahn's
// algorithm. Sub-agents missing from graph are treated as leaves.
func CheckAcyclic(graph map[string]GraphNode) error {
	inDegree := make(map[string]int, len(graph))
	adj := make(map[string][]string, len(graph))
	for id, node := range graph {
		if _, ok := inDegree[id]; !ok {
			inDegree[id] = 0
		}
		for _, sub := range node.SubAgentIDs {
			if sub == id {
				return fmt.Errorf("agent %s calls itself: %w", id, ErrCycle)
			}
			adj[id] = append(adj[id], sub)
			inDegree[sub]++
		}
	}

	queue := make([]string, 0, len(inDegree))
	for id, d := range inDegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adj[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(inDegree) {
		var stuck []string
		for id, d := range inDegree {
			if d > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return fmt.Errorf("%w: %s", ErrCycle, strings.Join(stuck, ", "))
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
