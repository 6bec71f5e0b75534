// Package agentdef defines the versioned agent configuration entities:
// agent definitions and prompt extensions. Rows are append-only; the
// "current" configuration for a key is the most recently inserted row.
package agentdef

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Strob0t/CoachForge/internal/domain"
)

// SubAgentRef names one sub-agent invocation inside a dependency layer.
// Key is the name under which the sub-agent's result is exposed.
type SubAgentRef struct {
	Key     string `json:"key" yaml:"key"`
	AgentID string `json:"agent_id" yaml:"agent_id"`
}

// SubAgentLayer is a group of sub-agents that may run concurrently.
// Layers run strictly in order.
type SubAgentLayer []SubAgentRef

// ValidationRule is a declarative check applied to structured output.
type ValidationRule struct {
	Field string `json:"field" yaml:"field"` // dot path into the output object
	Rule  string `json:"rule" yaml:"rule"`   // required | non_empty | min_items | max_items | enum
	Value any    `json:"value,omitempty" yaml:"value,omitempty"`
}

// Example is a few-shot input/output pair appended to the system prompt.
type Example struct {
	Input  string `json:"input" yaml:"input"`
	Output string `json:"output" yaml:"output"`
}

// Definition is one immutable version of an agent's configuration.
type Definition struct {
	VersionID          string            `json:"version_id"`
	Seq                int64             `json:"seq"`
	AgentID            string            `json:"agent_id"`
	SystemPrompt       string            `json:"system_prompt"`
	UserPromptTemplate string            `json:"user_prompt_template"`
	Model              string            `json:"model"`
	Temperature        *float64          `json:"temperature,omitempty"` // nil leaves the provider default
	MaxTokens          int               `json:"max_tokens"`
	MaxIterations      int               `json:"max_iterations"`
	MaxRetries         int               `json:"max_retries"`
	Description        string            `json:"description"`
	IsActive           bool              `json:"is_active"`
	ToolIDs            []string          `json:"tool_ids"`
	ContextTypes       []string          `json:"context_types"`
	OutputSchema       json.RawMessage   `json:"output_schema,omitempty"`
	ValidationRules    []ValidationRule  `json:"validation_rules,omitempty"`
	Examples           []Example         `json:"examples,omitempty"`
	SubAgents          []SubAgentLayer   `json:"sub_agents,omitempty"`
	EvalPrompt         string            `json:"eval_prompt,omitempty"`
	EvalModel          string            `json:"eval_model,omitempty"`
	DefaultExtensions  ExtensionDefaults `json:"default_extensions,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// HasOutputSchema reports whether model output must be structured.
func (d *Definition) HasOutputSchema() bool {
	return len(d.OutputSchema) > 0 && string(d.OutputSchema) != "null"
}

// SubAgentIDs returns every sub-agent id across all layers, in declaration order.
func (d *Definition) SubAgentIDs() []string {
	var ids []string
	for _, layer := range d.SubAgents {
		for _, ref := range layer {
			ids = append(ids, ref.AgentID)
		}
	}
	return ids
}

// Clone returns a deep copy so callers can never mutate a row another reader holds.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	c := *d
	if d.Temperature != nil {
		t := *d.Temperature
		c.Temperature = &t
	}
	c.ToolIDs = append([]string(nil), d.ToolIDs...)
	c.ContextTypes = append([]string(nil), d.ContextTypes...)
	c.OutputSchema = append(json.RawMessage(nil), d.OutputSchema...)
	c.ValidationRules = append([]ValidationRule(nil), d.ValidationRules...)
	c.Examples = append([]Example(nil), d.Examples...)
	if d.SubAgents != nil {
		c.SubAgents = make([]SubAgentLayer, len(d.SubAgents))
		for i, layer := range d.SubAgents {
			c.SubAgents[i] = append(SubAgentLayer(nil), layer...)
		}
	}
	c.DefaultExtensions = d.DefaultExtensions.Clone()
	return &c
}

// Extension is one immutable version of a prompt-snippet overlay for an
// (agent, extension type, extension key) triple.
type Extension struct {
	VersionID     string            `json:"version_id"`
	Seq           int64             `json:"seq"`
	AgentID       string            `json:"agent_id"`
	ExtensionType string            `json:"extension_type"`
	ExtensionKey  string            `json:"extension_key"`
	SystemPrompt  string            `json:"system_prompt"`
	Description   string            `json:"description"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// VersionStamp implements domain.Versioned.
func (d *Definition) VersionStamp() domain.Stamp {
	return domain.Stamp{CreatedAt: d.CreatedAt, Seq: d.Seq}
}

// VersionStamp implements domain.Versioned.
func (e *Extension) VersionStamp() domain.Stamp {
	return domain.Stamp{CreatedAt: e.CreatedAt, Seq: e.Seq}
}

// Clone returns a deep copy.
func (e *Extension) Clone() *Extension {
	if e == nil {
		return nil
	}
	c := *e
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// SameContent reports whether two extensions carry the same snippet payload,
// ignoring row identity.
func (e *Extension) SameContent(o *Extension) bool {
	if e.SystemPrompt != o.SystemPrompt || e.Description != o.Description || len(e.Metadata) != len(o.Metadata) {
		return false
	}
	for k, v := range e.Metadata {
		if o.Metadata[k] != v {
			return false
		}
	}
	return true
}

// IsActiveDefinition is the lookup predicate used by the runner.
func IsActiveDefinition(d *Definition) bool { return d.IsActive }

// SameContent reports whether two definitions are equal ignoring row identity.
func (d *Definition) SameContent(o *Definition) bool {
	a, errA := contentJSON(d)
	b, errB := contentJSON(o)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

func contentJSON(d *Definition) ([]byte, error) {
	c := d.Clone()
	c.VersionID, c.Seq, c.CreatedAt = "", 0, time.Time{}
	if len(c.OutputSchema) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, c.OutputSchema); err != nil {
			return nil, err
		}
		c.OutputSchema = buf.Bytes()
	}
	return json.Marshal(c)
}

// Validate checks structural invariants a row must satisfy before insert.
func (d *Definition) Validate() error {
	if d.AgentID == "" {
		return errors.New("agent_id is required")
	}
	if d.Model == "" {
		return fmt.Errorf("agent %s: model is required", d.AgentID)
	}
	if d.MaxTokens < 0 || d.MaxIterations < 0 || d.MaxRetries < 0 {
		return fmt.Errorf("agent %s: max_tokens, max_iterations and max_retries must not be negative", d.AgentID)
	}
	if d.HasOutputSchema() && !json.Valid(d.OutputSchema) {
		return fmt.Errorf("agent %s: output_schema is not valid JSON", d.AgentID)
	}
	keys := make(map[string]struct{})
	for i, layer := range d.SubAgents {
		if len(layer) == 0 {
			return fmt.Errorf("agent %s: sub-agent layer %d is empty", d.AgentID, i)
		}
		for _, ref := range layer {
			if ref.Key == "" || ref.AgentID == "" {
				return fmt.Errorf("agent %s: sub-agent in layer %d needs key and agent_id", d.AgentID, i)
			}
			if ref.AgentID == d.AgentID {
				return fmt.Errorf("agent %s: cannot be its own sub-agent", d.AgentID)
			}
			if _, dup := keys[ref.Key]; dup {
				return fmt.Errorf("agent %s: duplicate sub-agent key %q", d.AgentID, ref.Key)
			}
			keys[ref.Key] = struct{}{}
		}
	}
	return nil
}
