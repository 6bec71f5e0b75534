// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"strconv"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// Engine error taxonomy. Registry and configuration errors are fatal and local;
// model and validation errors are recoverable by a retrying caller.
var (
	// ErrConfigurationNotFound: no agent definition or context template exists for a required id.
	ErrConfigurationNotFound = errors.New("configuration not found")

	// ErrDuplicateRegistration: a tool, callback or agent name was registered twice.
	ErrDuplicateRegistration = errors.New("duplicate registration")

	// ErrUnknownCapability: a definition references a tool or callback that was never registered.
	ErrUnknownCapability = errors.New("unknown capability")

	// ErrModelInvocation: the model provider call failed or timed out.
	ErrModelInvocation = errors.New("model invocation failed")

	// ErrValidation: structured output failed a registered validator.
	ErrValidation = errors.New("output validation failed")

	// ErrStepExecution: a workflow step failed.
	ErrStepExecution = errors.New("workflow step failed")

	// ErrInvalidInput: caller-supplied data is malformed. Retrying the same input cannot help.
	ErrInvalidInput = errors.New("invalid input")
)

// ValidationError lists the problems found while validating an agent's output.
type ValidationError struct {
	AgentID  string
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return "agent " + e.AgentID + ": " + ErrValidation.Error()
	}
	msg := "agent " + e.AgentID + ": " + ErrValidation.Error() + ": " + e.Problems[0]
	if n := len(e.Problems) - 1; n > 0 {
		msg += " (and " + strconv.Itoa(n) + " more)"
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// StepError wraps a failure raised by a named workflow step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return "step " + e.Step + ": " + e.Err.Error()
}

// Unwrap exposes both the step sentinel and the underlying cause to errors.Is.
func (e *StepError) Unwrap() []error { return []error{ErrStepExecution, e.Err} }

// IsRetryable reports whether err is worth retrying at the workflow layer.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrModelInvocation) || errors.Is(err, ErrValidation)
}
