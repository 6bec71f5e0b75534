// Package openai implements llm.Model on the OpenAI Chat Completions API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/Strob0t/CoachForge/internal/port/llm"
)

const vendor = "openai"

// CompletionsClient is the subset of the SDK used here;
// *sdk.ChatCompletionService satisfies it.
type CompletionsClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

// Model invokes OpenAI chat models.
type Model struct {
	chat CompletionsClient
}

var _ llm.Model = (*Model)(nil)

// New wraps a completions client.
func New(chat CompletionsClient) (*Model, error) {
	if chat == nil {
		return nil, errors.New("openai: completions client is required")
	}
	return &Model{chat: chat}, nil
}

// NewFromAPIKey builds a model on the default SDK HTTP client.
func NewFromAPIKey(apiKey string, opts ...option.RequestOption) (*Model, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := sdk.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return New(&c.Chat.Completions)
}

// Invoke sends one chat completion request.
func (m *Model) Invoke(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	params, err := encode(req)
	if err != nil {
		return nil, err
	}
	out, err := m.chat.New(ctx, *params)
	if err != nil {
		return nil, providerError(err)
	}
	return decode(out, req)
}

func encode(req *llm.Request) (*sdk.ChatCompletionNewParams, error) {
	if req.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	msgs, err := encodeMessages(req.System, req.Messages)
	if err != nil {
		return nil, err
	}
	params := &sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	for _, spec := range req.Tools {
		fn := shared.FunctionDefinitionParam{Name: spec.Name}
		if spec.Description != "" {
			fn.Description = sdk.String(spec.Description)
		}
		if len(spec.InputSchema) > 0 {
			var schema shared.FunctionParameters
			if err := json.Unmarshal(spec.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("openai: tool %s schema: %w", spec.Name, err)
			}
			fn.Parameters = schema
		}
		params.Tools = append(params.Tools, sdk.ChatCompletionToolParam{Function: fn})
	}
	if len(req.OutputSchema) > 0 {
		if req.OutputName == "" {
			return nil, errors.New("openai: output name is required with an output schema")
		}
		var schema map[string]any
		if err := json.Unmarshal(req.OutputSchema, &schema); err != nil {
			return nil, fmt.Errorf("openai: output schema: %w", err)
		}
		// Not strict: strict mode rejects schemas without additionalProperties=false
		// and the caller validates the result anyway.
		params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.OutputName,
					Schema: schema,
				},
			},
		}
	}
	return params, nil
}

func encodeMessages(system string, in []llm.Message) ([]sdk.ChatCompletionMessageParamUnion, error) {
	var out []sdk.ChatCompletionMessageParamUnion
	if system != "" {
		out = append(out, sdk.SystemMessage(system))
	}
	for _, m := range in {
		switch m.Role {
		case llm.RoleUser:
			out = append(out, sdk.UserMessage(m.Content))
		case llm.RoleTool:
			content := m.Content
			if m.IsError {
				content = "error: " + content
			}
			out = append(out, sdk.ToolMessage(content, m.ToolCallID))
		case llm.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, sdk.AssistantMessage(m.Content))
				continue
			}
			asst := &sdk.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = sdk.String(m.Content)
			}
			for _, call := range m.ToolCalls {
				args := string(call.Input)
				if args == "" {
					args = "{}"
				}
				asst.ToolCalls = append(asst.ToolCalls, sdk.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: sdk.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: args,
					},
				})
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: asst})
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	if len(in) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}
	return out, nil
}

func decode(out *sdk.ChatCompletion, req *llm.Request) (*llm.Response, error) {
	if len(out.Choices) == 0 {
		return nil, &llm.ProviderError{Vendor: vendor, Err: errors.New("response has no choices")}
	}
	choice := out.Choices[0]
	resp := &llm.Response{
		Text:       choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage: llm.Usage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
		},
	}
	for _, call := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: json.RawMessage(call.Function.Arguments),
		})
	}
	if len(req.OutputSchema) > 0 && len(resp.ToolCalls) == 0 && resp.Text != "" {
		if !json.Valid([]byte(resp.Text)) {
			return nil, fmt.Errorf("openai: structured output is not valid JSON")
		}
		resp.Structured = json.RawMessage(resp.Text)
	}
	return resp, nil
}

func providerError(err error) error {
	pe := &llm.ProviderError{Vendor: vendor, Err: err}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		pe.StatusCode = apiErr.StatusCode
	}
	return pe
}
