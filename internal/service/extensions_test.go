package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Strob0t/CoachForge/internal/adapter/memstore"
	"github.com/Strob0t/CoachForge/internal/domain"
	"github.com/Strob0t/CoachForge/internal/domain/agentdef"
	"github.com/Strob0t/CoachForge/internal/domain/contexttpl"
)

func seedExtensions(t *testing.T, store *memstore.Store, exts ...agentdef.Extension) {
	t.Helper()
	for i := range exts {
		if _, err := store.InsertExtension(context.Background(), &exts[i]); err != nil {
			t.Fatal(err)
		}
	}
}

func TestExtensionResolver_CallerOverridesOneType(t *testing.T) {
	store := memstore.New()
	seedExtensions(t, store,
		agentdef.Extension{AgentID: "coach", ExtensionType: "tone", ExtensionKey: "warm", SystemPrompt: "warm"},
		agentdef.Extension{AgentID: "coach", ExtensionType: "tone", ExtensionKey: "blunt", SystemPrompt: "blunt"},
		agentdef.Extension{AgentID: "coach", ExtensionType: "sport", ExtensionKey: "running", SystemPrompt: "running"},
	)
	def := &agentdef.Definition{
		AgentID: "coach",
		DefaultExtensions: agentdef.ExtensionDefaults{
			{Type: "tone", Key: "warm"},
			{Type: "sport", Key: "running"},
		},
	}
	r := NewExtensionResolver(store, nil)

	defaults, err := r.Resolve(context.Background(), def, nil)
	if err != nil {
		t.Fatal(err)
	}
	overridden, err := r.Resolve(context.Background(), def, map[string]string{"tone": "blunt"})
	if err != nil {
		t.Fatal(err)
	}
	if len(defaults) != 2 || len(overridden) != 2 {
		t.Fatalf("expected 2 snippets each, got %d and %d", len(defaults), len(overridden))
	}
	if defaults[0].Key != "warm" || overridden[0].Key != "blunt" || overridden[0].Text != "blunt" {
		t.Errorf("tone should change from warm to blunt: %+v -> %+v", defaults[0], overridden[0])
	}
	if defaults[1] != overridden[1] {
		t.Errorf("non-overridden sport snippet changed: %+v -> %+v", defaults[1], overridden[1])
	}
}

func TestExtensionResolver_UsesLatestVersion(t *testing.T) {
	store := memstore.New()
	seedExtensions(t, store,
		agentdef.Extension{AgentID: "coach", ExtensionType: "tone", ExtensionKey: "warm", SystemPrompt: "v1"},
		agentdef.Extension{AgentID: "coach", ExtensionType: "tone", ExtensionKey: "warm", SystemPrompt: "v2"},
	)
	def := &agentdef.Definition{AgentID: "coach", DefaultExtensions: agentdef.ExtensionDefaults{{Type: "tone", Key: "warm"}}}

	got, err := NewExtensionResolver(store, nil).Resolve(context.Background(), def, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Text != "v2" {
		t.Errorf("expected latest version text v2, got %+v", got)
	}
}

func TestExtensionResolver_MissingKeyIsSkipped(t *testing.T) {
	store := memstore.New()
	seedExtensions(t, store,
		agentdef.Extension{AgentID: "coach", ExtensionType: "sport", ExtensionKey: "running", SystemPrompt: "running"},
	)
	def := &agentdef.Definition{
		AgentID:           "coach",
		DefaultExtensions: agentdef.ExtensionDefaults{{Type: "sport", Key: "running"}, {Type: "tone", Key: ""}},
	}

	got, err := NewExtensionResolver(store, nil).Resolve(context.Background(), def, map[string]string{"level": "elite", "goal": "marathon"})
	if err != nil {
		t.Fatalf("missing extensions must not fail resolution: %v", err)
	}
	if len(got) != 1 || got[0].Type != "sport" {
		t.Errorf("expected only the sport snippet, got %+v", got)
	}
}

func TestContextRenderer(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	for _, tpl := range []contexttpl.Template{
		{ContextType: "plan", Variant: contexttpl.DefaultVariant, Body: "Plan {{name}}"},
		{ContextType: "plan", Variant: "short", Body: "{{name}}"},
		{ContextType: "plan", Variant: contexttpl.DefaultVariant, Body: "Plan: {{name}} ({{weeks}} weeks)"},
		{ContextType: "broken", Variant: contexttpl.DefaultVariant, Body: "{{#open}}"},
	} {
		if _, err := store.InsertTemplate(ctx, &tpl); err != nil {
			t.Fatal(err)
		}
	}
	r := NewContextRenderer(store)

	type plan struct {
		Name  string `json:"name"`
		Weeks int    `json:"weeks"`
	}
	tests := []struct {
		name     string
		ctxType  string
		variant  string
		data     any
		want     string
		wantErr  error
		anyError bool
	}{
		{"latest default variant", "plan", "", plan{"Base", 8}, "Plan: Base (8 weeks)", nil, false},
		{"named variant", "plan", "short", map[string]any{"name": "Peak"}, "Peak", nil, false},
		{"nil payload", "plan", "short", nil, "", nil, false},
		{"missing template", "nutrition", "", nil, "", domain.ErrConfigurationNotFound, false},
		{"missing variant", "plan", "long", nil, "", domain.ErrConfigurationNotFound, false},
		{"unparseable template", "broken", "", nil, "", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Render(ctx, tt.ctxType, tt.variant, tt.data)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			case tt.anyError:
				if err == nil {
					t.Fatal("expected an error")
				}
			default:
				if err != nil {
					t.Fatal(err)
				}
				if got != tt.want {
					t.Errorf("Render = %q, want %q", got, tt.want)
				}
			}
		})
	}
}
