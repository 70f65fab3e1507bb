// Package openai adapts github.com/openai/openai-go's Chat Completions API
// into the model.Client contract, mirroring the structure of the Anthropic
// adapter in internal/llm/provider/anthropic.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/jervis-ai/jervis/internal/model"
)

// ChatClient captures the subset of the openai-go client this adapter
// needs, letting tests substitute a fake.
type ChatClient interface {
	New(ctx context.Context, body oai.ChatCompletionNewParams, opts ...option.RequestOption) (*oai.ChatCompletion, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// Client implements model.Client via OpenAI's Chat Completions API.
type Client struct {
	chat         ChatClient
	defaultModel string
	maxTokens    int
	temperature  float64
}

// New builds a Client from an already-constructed openai-go chat
// completions service.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{
		chat:         chat,
		defaultModel: opts.DefaultModel,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a Client using the default openai-go HTTP
// client configured with apiKey.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	cl := oai.NewClient(option.WithAPIKey(apiKey))
	return New(&cl.Chat.Completions, Options{DefaultModel: defaultModel})
}

// Complete issues a Chat Completions request and translates the response
// into the provider-agnostic Response shape.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		return nil, fmt.Errorf("openai chat.completions.new: %w", err)
	}
	return translateResponse(resp)
}

// Stream is not implemented: Jervis addresses providers through the
// unary LLM Gateway only; no transport in this module consumes
// incremental chunks.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func (c *Client) prepareRequest(req *model.Request) (*oai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if strings.TrimSpace(modelID) == "" {
		modelID = c.defaultModel
	}

	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}

	params := oai.ChatCompletionNewParams{
		Model:    modelID,
		Messages: messages,
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if maxTokens := req.MaxTokens; maxTokens > 0 {
		params.MaxTokens = oai.Int(int64(maxTokens))
	} else if c.maxTokens > 0 {
		params.MaxTokens = oai.Int(int64(c.maxTokens))
	}
	if t := req.Temperature; t > 0 {
		params.Temperature = oai.Float(float64(t))
	} else if c.temperature > 0 {
		params.Temperature = oai.Float(c.temperature)
	}
	return &params, nil
}

func encodeMessages(msgs []*model.Message) ([]oai.ChatCompletionMessageParamUnion, error) {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		text := flattenText(m.Parts)
		switch m.Role {
		case model.ConversationRoleSystem:
			if text != "" {
				out = append(out, oai.SystemMessage(text))
			}
		case model.ConversationRoleUser:
			out = append(out, userMessage(m, text))
		case model.ConversationRoleAssistant:
			out = append(out, assistantMessage(m, text))
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}
	return out, nil
}

func userMessage(m *model.Message, text string) oai.ChatCompletionMessageParamUnion {
	for _, p := range m.Parts {
		if tr, ok := p.(model.ToolResultPart); ok {
			content := stringifyToolResult(tr)
			return oai.ToolMessage(content, tr.ToolUseID)
		}
	}
	return oai.UserMessage(text)
}

func assistantMessage(m *model.Message, text string) oai.ChatCompletionMessageParamUnion {
	msg := oai.ChatCompletionAssistantMessageParam{}
	if text != "" {
		msg.Content.OfString = oai.String(text)
	}
	for _, p := range m.Parts {
		if tu, ok := p.(model.ToolUsePart); ok {
			msg.ToolCalls = append(msg.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tu.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tu.Name,
					Arguments: string(tu.Input),
				},
			})
		}
	}
	return oai.ChatCompletionMessageParamUnion{OfAssistant: &msg}
}

func flattenText(parts []model.Part) string {
	var b strings.Builder
	for _, p := range parts {
		if tp, ok := p.(model.TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

func stringifyToolResult(tr model.ToolResultPart) string {
	switch c := tr.Content.(type) {
	case nil:
		return ""
	case string:
		return c
	case []byte:
		return string(c)
	default:
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Sprintf("%v", c)
		}
		return string(data)
	}
}

func encodeTools(defs []*model.ToolDefinition) ([]oai.ChatCompletionToolParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]oai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		params, err := toFunctionParameters(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("openai: tool %q schema: %w", def.Name, err)
		}
		tools = append(tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: oai.String(def.Description),
				Parameters:  params,
			},
		})
	}
	return tools, nil
}

func toFunctionParameters(schema any) (shared.FunctionParameters, error) {
	if schema == nil {
		return shared.FunctionParameters{}, nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var params shared.FunctionParameters
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, err
	}
	return params, nil
}

func translateResponse(resp *oai.ChatCompletion) (*model.Response, error) {
	if resp == nil {
		return nil, errors.New("openai: response is nil")
	}
	out := &model.Response{
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}
	for _, choice := range resp.Choices {
		out.StopReason = string(choice.FinishReason)
		if text := choice.Message.Content; text != "" {
			out.Content = append(out.Content, model.Message{
				Role:  model.ConversationRoleAssistant,
				Parts: []model.Part{model.TextPart{Text: text}},
			})
		}
		for _, call := range choice.Message.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				Name:    call.Function.Name,
				Payload: json.RawMessage(call.Function.Arguments),
				ID:      call.ID,
			})
		}
	}
	return out, nil
}
