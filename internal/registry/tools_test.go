package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/CoachForge/internal/domain"
)

func echoTool(name string, priority int) ToolDefinition {
	return ToolDefinition{
		Name:     name,
		Priority: priority,
		Execute: func(_ context.Context, tc ToolContext, _ json.RawMessage) (string, error) {
			return name + ":" + tc.UserID, nil
		},
	}
}

func TestCreateTools_SortedByPriority(t *testing.T) {
	r := NewToolRegistry()
	r.MustRegister(echoTool("a", 2))
	r.MustRegister(echoTool("b", 1))

	tools, err := r.CreateTools([]string{"b", "a"}, ToolContext{UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tools) != 2 || tools[0].Spec.Name != "b" || tools[1].Spec.Name != "a" {
		t.Fatalf("expected [b a], got %+v", tools)
	}

	tools, err = r.CreateTools([]string{"a", "b"}, ToolContext{UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if tools[0].Spec.Name != "b" {
		t.Fatalf("priority must win over request order, got %s first", tools[0].Spec.Name)
	}
}

func TestCreateTools_TiesKeepRequestOrder(t *testing.T) {
	r := NewToolRegistry()
	r.MustRegister(echoTool("x", 5))
	r.MustRegister(echoTool("y", 5))
	tools, err := r.CreateTools([]string{"y", "x", "y"}, ToolContext{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tools) != 2 || tools[0].Spec.Name != "y" || tools[1].Spec.Name != "x" {
		t.Fatalf("expected [y x], got %+v", tools)
	}
}

func TestCreateTools_UnknownFailsFast(t *testing.T) {
	r := NewToolRegistry()
	r.MustRegister(echoTool("a", 1))
	tools, err := r.CreateTools([]string{"a", "missing"}, ToolContext{})
	if !errors.Is(err, domain.ErrUnknownCapability) {
		t.Fatalf("expected ErrUnknownCapability, got %v", err)
	}
	if tools != nil {
		t.Fatal("no partial tool set may be returned")
	}
}

func TestCreateTools_ClosedOverContext(t *testing.T) {
	r := NewToolRegistry()
	r.MustRegister(echoTool("who", 0))
	tools, err := r.CreateTools([]string{"who"}, ToolContext{UserID: "u42"})
	if err != nil {
		t.Fatal(err)
	}
	out, err := tools[0].Run(context.Background(), nil)
	if err != nil || out != "who:u42" {
		t.Fatalf("got %q, %v", out, err)
	}
	if string(tools[0].Spec.InputSchema) == "" {
		t.Error("default input schema should be filled in")
	}
}

func TestToolRegister_Duplicate(t *testing.T) {
	r := NewToolRegistry()
	r.MustRegister(echoTool("a", 1))
	if err := r.Register(echoTool("a", 3)); !errors.Is(err, domain.ErrDuplicateRegistration) {
		t.Fatalf("expected ErrDuplicateRegistration, got %v", err)
	}
	if err := r.Replace(echoTool("a", 3)); err != nil {
		t.Fatalf("replace should be allowed before freeze: %v", err)
	}
	tools, _ := r.CreateTools([]string{"a"}, ToolContext{})
	if tools[0].Priority != 3 {
		t.Error("replace did not take effect")
	}
}

func TestToolRegistry_Freeze(t *testing.T) {
	r := NewToolRegistry()
	r.MustRegister(echoTool("a", 1))
	r.Freeze()
	if err := r.Register(echoTool("b", 1)); !errors.Is(err, ErrFrozen) {
		t.Errorf("register after freeze: %v", err)
	}
	if err := r.Replace(echoTool("a", 1)); !errors.Is(err, ErrFrozen) {
		t.Errorf("replace after freeze: %v", err)
	}
	if err := r.Reset(); !errors.Is(err, ErrFrozen) {
		t.Errorf("reset after freeze: %v", err)
	}
	if !r.Has("a") {
		t.Error("frozen registry lost its contents")
	}
}

func TestToolContext_Clock(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tc := ToolContext{Timezone: "Not/AZone", Now: func() time.Time { return fixed }}
	if tc.Location() != time.UTC {
		t.Error("invalid timezone should fall back to UTC")
	}
	if !tc.Clock().Equal(fixed) {
		t.Error("clock should use injected now")
	}
}
