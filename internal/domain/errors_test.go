package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestValidationError(t *testing.T) {
	err := fmt.Errorf("run: %w", &ValidationError{AgentID: "plan:generate", Problems: []string{"weeks: required", "name: must not be empty"}})
	if !errors.Is(err, ErrValidation) {
		t.Fatal("expected errors.Is ErrValidation")
	}
	if !strings.Contains(err.Error(), "weeks: required (and 1 more)") {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !IsRetryable(err) {
		t.Error("validation errors should be retryable")
	}
}

func TestStepError(t *testing.T) {
	cause := fmt.Errorf("invoke: %w", ErrModelInvocation)
	err := &StepError{Step: "getOrCreatePlan", Err: cause}
	if !errors.Is(err, ErrStepExecution) || !errors.Is(err, ErrModelInvocation) {
		t.Fatal("step error should unwrap to both sentinel and cause")
	}
	if err.Error() != "step getOrCreatePlan: invoke: model invocation failed" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("x: %w", ErrModelInvocation), true},
		{fmt.Errorf("x: %w", ErrConfigurationNotFound), false},
		{fmt.Errorf("x: %w", ErrUnknownCapability), false},
		{fmt.Errorf("x: %w", ErrInvalidInput), false},
		{errors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
