// Package seed loads the built-in agent configuration and applies it to the
// versioned stores. A row is inserted only when its content differs from the
// newest stored version, so applying the same file twice is a no-op.
package seed

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/CoachForge/internal/domain"
	"github.com/Strob0t/CoachForge/internal/domain/agentdef"
	"github.com/Strob0t/CoachForge/internal/domain/contexttpl"
)

//go:embed default.yaml
var defaultFile []byte

// File is the YAML document shape.
type File struct {
	Agents     []Agent     `yaml:"agents"`
	Extensions []Extension `yaml:"extensions"`
	Templates  []Template  `yaml:"templates"`
}

// Agent is the seed form of an agent definition.
type Agent struct {
	ID                 string                     `yaml:"id"`
	Description        string                     `yaml:"description"`
	Model              string                     `yaml:"model"`
	Temperature        *float64                   `yaml:"temperature"`
	MaxTokens          int                        `yaml:"max_tokens"`
	MaxIterations      int                        `yaml:"max_iterations"`
	MaxRetries         int                        `yaml:"max_retries"`
	Inactive           bool                       `yaml:"inactive"`
	Tools              []string                   `yaml:"tools"`
	Contexts           []string                   `yaml:"contexts"`
	SystemPrompt       string                     `yaml:"system_prompt"`
	UserPromptTemplate string                     `yaml:"user_prompt_template"`
	OutputSchema       map[string]any             `yaml:"output_schema"`
	ValidationRules    []agentdef.ValidationRule  `yaml:"validation_rules"`
	Examples           []agentdef.Example         `yaml:"examples"`
	SubAgents          []agentdef.SubAgentLayer   `yaml:"sub_agents"`
	EvalPrompt         string                     `yaml:"eval_prompt"`
	EvalModel          string                     `yaml:"eval_model"`
	DefaultExtensions  agentdef.ExtensionDefaults `yaml:"default_extensions"`
}

// Extension is the seed form of a prompt extension.
type Extension struct {
	AgentID      string            `yaml:"agent_id"`
	Type         string            `yaml:"type"`
	Key          string            `yaml:"key"`
	Description  string            `yaml:"description"`
	SystemPrompt string            `yaml:"system_prompt"`
	Metadata     map[string]string `yaml:"metadata"`
}

// Template is the seed form of a context template.
type Template struct {
	ContextType string `yaml:"context_type"`
	Variant     string `yaml:"variant"`
	Description string `yaml:"description"`
	Body        string `yaml:"template"`
}

// Definition converts the seed entry into an unsaved definition row.
func (a *Agent) Definition() (*agentdef.Definition, error) {
	d := &agentdef.Definition{
		AgentID:            a.ID,
		SystemPrompt:       a.SystemPrompt,
		UserPromptTemplate: a.UserPromptTemplate,
		Model:              a.Model,
		Temperature:        a.Temperature,
		MaxTokens:          a.MaxTokens,
		MaxIterations:      a.MaxIterations,
		MaxRetries:         a.MaxRetries,
		Description:        a.Description,
		IsActive:           !a.Inactive,
		ToolIDs:            a.Tools,
		ContextTypes:       a.Contexts,
		ValidationRules:    a.ValidationRules,
		Examples:           a.Examples,
		SubAgents:          a.SubAgents,
		EvalPrompt:         a.EvalPrompt,
		EvalModel:          a.EvalModel,
		DefaultExtensions:  a.DefaultExtensions,
	}
	if a.OutputSchema != nil {
		raw, err := json.Marshal(a.OutputSchema)
		if err != nil {
			return nil, fmt.Errorf("agent %s: output_schema: %w", a.ID, err)
		}
		d.OutputSchema = raw
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Row converts the seed entry into an unsaved extension row.
func (e *Extension) Row() *agentdef.Extension {
	return &agentdef.Extension{
		AgentID:       e.AgentID,
		ExtensionType: e.Type,
		ExtensionKey:  e.Key,
		SystemPrompt:  e.SystemPrompt,
		Description:   e.Description,
		Metadata:      e.Metadata,
	}
}

// Row converts the seed entry into an unsaved template row.
func (t *Template) Row() *contexttpl.Template {
	return &contexttpl.Template{
		ContextType: t.ContextType,
		Variant:     contexttpl.VariantOrDefault(t.Variant),
		Body:        t.Body,
		Description: t.Description,
	}
}

// --- Loading ---

// Default returns the embedded configuration.
func Default() (*File, error) {
	return Parse(defaultFile)
}

// Parse decodes and validates one seed document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	return &f, nil
}

// Load returns the embedded configuration with the file at path layered on
// top. Entries in the overlay replace embedded entries with the same key.
// An empty path returns the embedded configuration alone.
func Load(path string) (*File, error) {
	base, err := Default()
	if err != nil {
		return nil, fmt.Errorf("embedded seed: %w", err)
	}
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read seed file %s: %w", path, err)
	}
	overlay, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	return Merge(base, overlay), nil
}

// Merge returns base with every overlay entry replacing the base entry of
// the same key, or appended when the key is new.
func Merge(base, overlay *File) *File {
	return &File{
		Agents:     mergeBy(base.Agents, overlay.Agents, func(a Agent) string { return a.ID }),
		Extensions: mergeBy(base.Extensions, overlay.Extensions, Extension.key),
		Templates:  mergeBy(base.Templates, overlay.Templates, Template.key),
	}
}

func mergeBy[T any](base, overlay []T, key func(T) string) []T {
	out := append([]T(nil), base...)
	index := make(map[string]int, len(out))
	for i, v := range out {
		index[key(v)] = i
	}
	for _, v := range overlay {
		if i, ok := index[key(v)]; ok {
			out[i] = v
			continue
		}
		index[key(v)] = len(out)
		out = append(out, v)
	}
	return out
}

func (e Extension) key() string { return e.AgentID + "/" + e.Type + "/" + e.Key }

func (t Template) key() string { return t.ContextType + "/" + contexttpl.VariantOrDefault(t.Variant) }

// Validate checks every entry and reports all problems at once.
func (f *File) Validate() error {
	var errs []error
	agents := make(map[string]struct{}, len(f.Agents))
	for i := range f.Agents {
		a := &f.Agents[i]
		if _, dup := agents[a.ID]; dup {
			errs = append(errs, fmt.Errorf("agent %s: declared twice", a.ID))
		}
		agents[a.ID] = struct{}{}
		if _, err := a.Definition(); err != nil {
			errs = append(errs, err)
		}
	}

	exts := make(map[string]struct{}, len(f.Extensions))
	for _, e := range f.Extensions {
		if e.AgentID == "" || e.Type == "" || e.Key == "" {
			errs = append(errs, fmt.Errorf("extension %q: agent_id, type and key are required", e.key()))
			continue
		}
		if _, dup := exts[e.key()]; dup {
			errs = append(errs, fmt.Errorf("extension %s: declared twice", e.key()))
		}
		exts[e.key()] = struct{}{}
	}

	tpls := make(map[string]struct{}, len(f.Templates))
	for _, t := range f.Templates {
		if t.ContextType == "" {
			errs = append(errs, errors.New("template: context_type is required"))
			continue
		}
		if _, dup := tpls[t.key()]; dup {
			errs = append(errs, fmt.Errorf("template %s: declared twice", t.key()))
		}
		tpls[t.key()] = struct{}{}
		if _, err := contexttpl.Parse(t.Body); err != nil {
			errs = append(errs, fmt.Errorf("template %s: %w", t.key(), err))
		}
	}
	return errors.Join(errs...)
}

// CheckTools reports agents that reference a tool the process has not
// registered. known is typically the tool registry's Has method.
func (f *File) CheckTools(known func(string) bool) error {
	var errs []error
	for _, a := range f.Agents {
		for _, t := range a.Tools {
			if !known(t) {
				errs = append(errs, fmt.Errorf("agent %s: tool %s: %w", a.ID, t, domain.ErrUnknownCapability))
			}
		}
	}
	return errors.Join(errs...)
}
