// Package anthropic implements llm.Model on the Anthropic Messages API.
// Schema-constrained output is obtained by advertising the schema as a tool
// the model is forced to call.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Strob0t/CoachForge/internal/port/llm"
)

const (
	vendor           = "anthropic"
	defaultMaxTokens = 4096
	outputToolDesc   = "Return the final answer as structured data by calling this tool exactly once."
)

// MessagesClient is the subset of the SDK used here; *sdk.MessageService
// satisfies it.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Model invokes Claude models.
type Model struct {
	msg       MessagesClient
	maxTokens int
}

var _ llm.Model = (*Model)(nil)

// New wraps a messages client. maxTokens is used when a request sets none.
func New(msg MessagesClient, maxTokens int) (*Model, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Model{msg: msg, maxTokens: maxTokens}, nil
}

// NewFromAPIKey builds a model on the default SDK HTTP client.
func NewFromAPIKey(apiKey string, opts ...option.RequestOption) (*Model, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	c := sdk.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return New(&c.Messages, 0)
}

// Invoke sends one Messages request.
func (m *Model) Invoke(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	params, err := m.encode(req)
	if err != nil {
		return nil, err
	}
	msg, err := m.msg.New(ctx, *params)
	if err != nil {
		return nil, providerError(err)
	}
	return decode(msg, req), nil
}

func (m *Model) encode(req *llm.Request) (*sdk.MessageNewParams, error) {
	if req.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}
	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = m.maxTokens
	}
	params := &sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	for _, spec := range req.Tools {
		tool, err := encodeTool(spec.Name, spec.Description, spec.InputSchema)
		if err != nil {
			return nil, err
		}
		params.Tools = append(params.Tools, tool)
	}
	if len(req.OutputSchema) > 0 {
		if req.OutputName == "" {
			return nil, errors.New("anthropic: output name is required with an output schema")
		}
		tool, err := encodeTool(req.OutputName, outputToolDesc, req.OutputSchema)
		if err != nil {
			return nil, err
		}
		params.Tools = append(params.Tools, tool)
		if len(req.Tools) == 0 {
			params.ToolChoice = sdk.ToolChoiceParamOfTool(req.OutputName)
		} else {
			// The model may still call real tools, but every turn ends in a tool call.
			params.ToolChoice = sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}
		}
	}
	return params, nil
}

func encodeTool(name, description string, schema json.RawMessage) (sdk.ToolUnionParam, error) {
	var input sdk.ToolInputSchemaParam
	if len(schema) > 0 {
		var fields map[string]any
		if err := json.Unmarshal(schema, &fields); err != nil {
			return sdk.ToolUnionParam{}, fmt.Errorf("anthropic: tool %s schema: %w", name, err)
		}
		input.ExtraFields = fields
	}
	u := sdk.ToolUnionParamOfTool(input, name)
	if u.OfTool != nil && description != "" {
		u.OfTool.Description = sdk.String(description)
	}
	return u, nil
}

// encodeMessages maps the conversation onto alternating user/assistant turns.
// Tool results travel in user turns, so consecutive tool and user messages
// are merged.
func encodeMessages(in []llm.Message) ([]sdk.MessageParam, error) {
	var (
		out     []sdk.MessageParam
		pending []sdk.ContentBlockParamUnion
	)
	flushUser := func() {
		if len(pending) > 0 {
			out = append(out, sdk.NewUserMessage(pending...))
			pending = nil
		}
	}
	for _, m := range in {
		switch m.Role {
		case llm.RoleUser:
			if m.Content != "" {
				pending = append(pending, sdk.NewTextBlock(m.Content))
			}
		case llm.RoleTool:
			pending = append(pending, sdk.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError))
		case llm.RoleAssistant:
			flushUser()
			var blocks []sdk.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				input := call.Input
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, sdk.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(blocks) > 0 {
				out = append(out, sdk.NewAssistantMessage(blocks...))
			}
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	flushUser()
	if len(out) == 0 {
		return nil, errors.New("anthropic: at least one message is required")
	}
	return out, nil
}

func decode(msg *sdk.Message, req *llm.Request) *llm.Response {
	resp := &llm.Response{
		StopReason: string(msg.StopReason),
		Usage: llm.Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			if req.OutputName != "" && block.Name == req.OutputName {
				resp.Structured = append(json.RawMessage(nil), block.Input...)
				continue
			}
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: append(json.RawMessage(nil), block.Input...),
			})
		}
	}
	if resp.Structured != nil {
		// The structured answer is final; sibling tool calls are dropped.
		resp.ToolCalls = nil
	}
	return resp
}

func providerError(err error) error {
	pe := &llm.ProviderError{Vendor: vendor, Err: err}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		pe.StatusCode = apiErr.StatusCode
	}
	return pe
}
