package agentdef

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"gopkg.in/yaml.v3"
)

func sampleDefinition() *Definition {
	return &Definition{
		VersionID:         "v1",
		Seq:               1,
		AgentID:           "plan:generate",
		SystemPrompt:      "You are a coach.",
		Model:             "anthropic/claude-sonnet-4-5",
		MaxTokens:         2048,
		IsActive:          true,
		ToolIDs:           []string{"current_datetime"},
		ContextTypes:      []string{"user"},
		OutputSchema:      json.RawMessage(`{"type":"object"}`),
		SubAgents:         []SubAgentLayer{{{Key: "summary", AgentID: "plan:summary"}}},
		DefaultExtensions: ExtensionDefaults{{Type: "dayFormat", Key: "standard"}, {Type: "tone", Key: "friendly"}},
		CreatedAt:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestExtensionDefaults_JSONKeepsOrder(t *testing.T) {
	var e ExtensionDefaults
	if err := json.Unmarshal([]byte(`{"zeta":"a","alpha":"b","mid":"c"}`), &e); err != nil {
		t.Fatal(err)
	}
	want := []string{"zeta", "alpha", "mid"}
	for i, b := range e {
		if b.Type != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, b.Type, want[i])
		}
	}
	out, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"zeta":"a","alpha":"b","mid":"c"}` {
		t.Errorf("unexpected encoding %s", out)
	}
}

func TestExtensionDefaults_YAMLKeepsOrder(t *testing.T) {
	var doc struct {
		Ext ExtensionDefaults `yaml:"ext"`
	}
	if err := yaml.Unmarshal([]byte("ext:\n  tone: calm\n  dayFormat: short\n"), &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Ext) != 2 || doc.Ext[0].Type != "tone" || doc.Ext[1].Key != "short" {
		t.Fatalf("unexpected bindings %+v", doc.Ext)
	}
}

func TestExtensionDefaults_JSONRejectsArray(t *testing.T) {
	var e ExtensionDefaults
	if err := json.Unmarshal([]byte(`["a"]`), &e); err == nil {
		t.Fatal("expected error for non-object")
	}
}

func TestExtensionDefaults_Merge(t *testing.T) {
	defaults := ExtensionDefaults{{Type: "dayFormat", Key: "standard"}, {Type: "tone", Key: "friendly"}}
	merged := defaults.Merge(map[string]string{"tone": "strict", "goal": "strength"}, []string{"goal", "tone"})

	if len(merged) != 3 {
		t.Fatalf("expected 3 bindings, got %+v", merged)
	}
	if merged[0] != (ExtensionBinding{"dayFormat", "standard"}) {
		t.Errorf("non-overridden type changed: %+v", merged[0])
	}
	if merged[1] != (ExtensionBinding{"tone", "strict"}) {
		t.Errorf("caller override lost: %+v", merged[1])
	}
	if merged[2] != (ExtensionBinding{"goal", "strength"}) {
		t.Errorf("caller-only type not appended: %+v", merged[2])
	}
	if k, _ := defaults.Get("tone"); k != "friendly" {
		t.Error("merge mutated the defaults")
	}
}

func TestPatchApply(t *testing.T) {
	base := sampleDefinition()
	prompt := "You are a strict coach."
	tools := []string{"current_datetime", "recent_workouts"}
	next := (&Patch{SystemPrompt: &prompt, ToolIDs: &tools}).Apply(base)

	if next.SystemPrompt != prompt || len(next.ToolIDs) != 2 {
		t.Fatalf("patch not applied: %+v", next)
	}
	if next.Model != base.Model || next.MaxTokens != base.MaxTokens || len(next.SubAgents) != 1 {
		t.Error("unpatched fields must be copied from base")
	}
	if next.VersionID != "" || next.Seq != 0 || !next.CreatedAt.IsZero() {
		t.Error("row identity must be cleared for the store to assign")
	}
	if base.SystemPrompt != "You are a coach." || len(base.ToolIDs) != 1 {
		t.Error("base definition was mutated")
	}
	tools[0] = "mutated"
	if next.ToolIDs[0] != "current_datetime" {
		t.Error("patched slice aliases caller memory")
	}
}

func TestPatchIsEmpty(t *testing.T) {
	var p *Patch
	if !p.IsEmpty() || !(&Patch{}).IsEmpty() {
		t.Error("nil and zero patches are empty")
	}
	v := false
	if (&Patch{IsActive: &v}).IsEmpty() {
		t.Error("patch with a field is not empty")
	}
}

// Applying any patch never changes the base definition.
func TestPatchApply_ImmutableProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("base is untouched by Apply", prop.ForAll(
		func(prompt string, maxTokens int, tool string) bool {
			base := sampleDefinition()
			before, _ := json.Marshal(base)
			tools := []string{tool}
			next := (&Patch{SystemPrompt: &prompt, MaxTokens: &maxTokens, ToolIDs: &tools}).Apply(base)
			next.SubAgents[0][0].Key = "changed"
			next.DefaultExtensions[0].Key = "changed"
			after, _ := json.Marshal(base)
			return string(before) == string(after)
		},
		gen.AlphaString(),
		gen.IntRange(0, 8192),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

func TestSameContent(t *testing.T) {
	a := sampleDefinition()
	b := a.Clone()
	b.VersionID, b.Seq, b.CreatedAt = "v2", 2, time.Now()
	b.OutputSchema = json.RawMessage("{ \"type\" : \"object\" }")
	if !a.SameContent(b) {
		t.Error("identity and whitespace differences should not count")
	}
	hot, zero := 0.9, 0.0
	b.Temperature = &hot
	if a.SameContent(b) {
		t.Error("temperature change should count")
	}
	b.Temperature = &zero
	if a.SameContent(b) {
		t.Error("an explicit zero temperature differs from an unset one")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Definition)
		wantErr string
	}{
		{"ok", func(*Definition) {}, ""},
		{"missing agent id", func(d *Definition) { d.AgentID = "" }, "agent_id"},
		{"missing model", func(d *Definition) { d.Model = "" }, "model"},
		{"negative retries", func(d *Definition) { d.MaxRetries = -1 }, "negative"},
		{"bad schema", func(d *Definition) { d.OutputSchema = json.RawMessage(`{"type":`) }, "output_schema"},
		{"empty layer", func(d *Definition) { d.SubAgents = []SubAgentLayer{{}} }, "empty"},
		{"self reference", func(d *Definition) { d.SubAgents[0][0].AgentID = d.AgentID }, "own sub-agent"},
		{"duplicate key", func(d *Definition) {
			d.SubAgents = append(d.SubAgents, SubAgentLayer{{Key: "summary", AgentID: "other"}})
		}, "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := sampleDefinition()
			tt.mutate(d)
			err := d.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
