// Package llm defines the model provider port: a uniform request/response
// contract with optional tool binding and schema-constrained output.
package llm

import (
	"context"
	"encoding/json"
	"strconv"
)

// Role of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of the conversation sent to the model.
// Assistant turns may carry tool calls; tool turns answer one call by ID.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// ToolSpec advertises a callable tool to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolCall is a model request to run a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Request is a single model invocation.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Temperature *float64 // nil leaves the provider default; 0 is sent as is
	MaxTokens   int
	Tools       []ToolSpec
	// OutputSchema, when set, constrains the final answer to a JSON document
	// matching the schema. OutputName labels the schema for vendors that need one.
	OutputSchema json.RawMessage
	OutputName   string
}

// Usage reports token consumption.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Response is the model's answer. When ToolCalls is non-empty the caller is
// expected to run them and invoke again. Structured is set only for requests
// with an OutputSchema.
type Response struct {
	Text       string
	Structured json.RawMessage
	ToolCalls  []ToolCall
	StopReason string
	Usage      Usage
}

// Model is implemented by every vendor adapter.
type Model interface {
	Invoke(ctx context.Context, req *Request) (*Response, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, req *Request) (*Response, error)

// Invoke calls f.
func (f ModelFunc) Invoke(ctx context.Context, req *Request) (*Response, error) { return f(ctx, req) }

// ProviderError is returned by vendor adapters when the API call fails.
// StatusCode is zero for transport failures.
type ProviderError struct {
	Vendor     string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return e.Vendor + ": " + e.Err.Error()
	}
	return e.Vendor + ": status " + strconv.Itoa(e.StatusCode) + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Temporary reports whether the upstream itself is at fault: transport
// errors, rate limits and server errors.
func (e *ProviderError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}
