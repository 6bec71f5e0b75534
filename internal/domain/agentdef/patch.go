package agentdef

import (
	"encoding/json"
	"time"
)

// Patch is a partial update to a Definition. Nil fields keep the value of the
// current row; Apply produces the next version without touching the input.
type Patch struct {
	SystemPrompt       *string            `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	UserPromptTemplate *string            `json:"user_prompt_template,omitempty" yaml:"user_prompt_template,omitempty"`
	Model              *string            `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature        *float64           `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens          *int               `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	MaxIterations      *int               `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	MaxRetries         *int               `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	Description        *string            `json:"description,omitempty" yaml:"description,omitempty"`
	IsActive           *bool              `json:"is_active,omitempty" yaml:"is_active,omitempty"`
	ToolIDs            *[]string          `json:"tool_ids,omitempty" yaml:"tool_ids,omitempty"`
	ContextTypes       *[]string          `json:"context_types,omitempty" yaml:"context_types,omitempty"`
	OutputSchema       *json.RawMessage   `json:"output_schema,omitempty" yaml:"-"`
	ValidationRules    *[]ValidationRule  `json:"validation_rules,omitempty" yaml:"validation_rules,omitempty"`
	Examples           *[]Example         `json:"examples,omitempty" yaml:"examples,omitempty"`
	SubAgents          *[]SubAgentLayer   `json:"sub_agents,omitempty" yaml:"sub_agents,omitempty"`
	EvalPrompt         *string            `json:"eval_prompt,omitempty" yaml:"eval_prompt,omitempty"`
	EvalModel          *string            `json:"eval_model,omitempty" yaml:"eval_model,omitempty"`
	DefaultExtensions  *ExtensionDefaults `json:"default_extensions,omitempty" yaml:"default_extensions,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p *Patch) IsEmpty() bool {
	return p == nil || (p.SystemPrompt == nil && p.UserPromptTemplate == nil && p.Model == nil &&
		p.Temperature == nil && p.MaxTokens == nil && p.MaxIterations == nil && p.MaxRetries == nil &&
		p.Description == nil && p.IsActive == nil && p.ToolIDs == nil && p.ContextTypes == nil &&
		p.OutputSchema == nil && p.ValidationRules == nil && p.Examples == nil && p.SubAgents == nil &&
		p.EvalPrompt == nil && p.EvalModel == nil && p.DefaultExtensions == nil)
}

// Apply returns a new Definition built from base with the patch applied.
// Row identity (VersionID, Seq, CreatedAt) is cleared; the store assigns it on insert.
func (p *Patch) Apply(base *Definition) *Definition {
	next := base.Clone()
	next.VersionID = ""
	next.Seq = 0
	next.CreatedAt = time.Time{}
	if p == nil {
		return next
	}
	setIf(&next.SystemPrompt, p.SystemPrompt)
	setIf(&next.UserPromptTemplate, p.UserPromptTemplate)
	setIf(&next.Model, p.Model)
	if p.Temperature != nil {
		t := *p.Temperature
		next.Temperature = &t
	}
	setIf(&next.MaxTokens, p.MaxTokens)
	setIf(&next.MaxIterations, p.MaxIterations)
	setIf(&next.MaxRetries, p.MaxRetries)
	setIf(&next.Description, p.Description)
	setIf(&next.IsActive, p.IsActive)
	setIf(&next.EvalPrompt, p.EvalPrompt)
	setIf(&next.EvalModel, p.EvalModel)
	if p.ToolIDs != nil {
		next.ToolIDs = append([]string(nil), (*p.ToolIDs)...)
	}
	if p.ContextTypes != nil {
		next.ContextTypes = append([]string(nil), (*p.ContextTypes)...)
	}
	if p.OutputSchema != nil {
		next.OutputSchema = append(json.RawMessage(nil), (*p.OutputSchema)...)
	}
	if p.ValidationRules != nil {
		next.ValidationRules = append([]ValidationRule(nil), (*p.ValidationRules)...)
	}
	if p.Examples != nil {
		next.Examples = append([]Example(nil), (*p.Examples)...)
	}
	if p.SubAgents != nil {
		tmp := Definition{SubAgents: *p.SubAgents}
		next.SubAgents = tmp.Clone().SubAgents
	}
	if p.DefaultExtensions != nil {
		next.DefaultExtensions = p.DefaultExtensions.Clone()
	}
	return next
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
