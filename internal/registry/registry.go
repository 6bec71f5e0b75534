// Package registry holds the process-local catalogs of tools, callbacks and
// agent configurations. Each registry is populated once during boot and then
// frozen; Replace and Reset exist for test harnesses and are refused after
// Freeze.
package registry

import "errors"

// ErrFrozen is returned by mutating calls after Freeze.
var ErrFrozen = errors.New("registry is frozen")

// Set bundles the three registries passed to the runner.
type Set struct {
	Tools     *ToolRegistry
	Callbacks *CallbackRegistry
	Agents    *AgentRegistry
}

// NewSet returns empty registries.
func NewSet() *Set {
	return &Set{
		Tools:     NewToolRegistry(),
		Callbacks: NewCallbackRegistry(),
		Agents:    NewAgentRegistry(),
	}
}

// Freeze freezes all three registries.
func (s *Set) Freeze() {
	s.Tools.Freeze()
	s.Callbacks.Freeze()
	s.Agents.Freeze()
}

// Verify checks that every agent references only registered tools and callbacks.
func (s *Set) Verify() error {
	return s.Agents.Verify(s.Tools, s.Callbacks)
}
