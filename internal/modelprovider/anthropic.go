package modelprovider

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicMessages captures the subset of *sdk.MessageService the adapter
// calls, mirroring the teacher's MessagesClient seam so tests can substitute
// a fake (features/model/anthropic/client.go).
type anthropicMessages interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicClient adapts the Anthropic Messages API to Client.
type AnthropicClient struct {
	msg           anthropicMessages
	model         string
	maxTokens     int
	contextWindow int
}

// NewAnthropicClient constructs a Client from an API key, default model
// identifier, and the provider's context window size.
func NewAnthropicClient(apiKey, model string, maxTokens, contextWindow int) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("modelprovider: anthropic api key is required")
	}
	if model == "" {
		return nil, errors.New("modelprovider: anthropic model identifier is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{msg: &client.Messages, model: model, maxTokens: maxTokens, contextWindow: contextWindow}, nil
}

// ContextWindow implements Client.
func (c *AnthropicClient) ContextWindow() int { return c.contextWindow }

// Complete implements Client by translating req into a Messages.New call and
// mapping the result back (mirrors translateResponse in the teacher's
// anthropic adapter, collapsed to this package's flatter Message shape).
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	params, err := c.encodeRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("modelprovider: anthropic messages.new: %w", err)
	}
	return decodeAnthropicMessage(msg), nil
}

func (c *AnthropicClient) encodeRequest(req Request) (sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return sdk.MessageNewParams{}, errors.New("modelprovider: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens <= 0 {
		return sdk.MessageNewParams{}, errors.New("modelprovider: max_tokens must be positive")
	}

	var system []sdk.TextBlockParam
	conversation := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			if m.Text != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Text})
			}
			continue
		}
		blocks := encodeBlocks(m)
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		}
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  conversation,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	return params, nil
}

func encodeBlocks(m Message) []sdk.ContentBlockParamUnion {
	var blocks []sdk.ContentBlockParamUnion
	if m.Text != "" {
		blocks = append(blocks, sdk.NewTextBlock(m.Text))
	}
	for _, r := range m.ToolResults {
		blocks = append(blocks, sdk.NewToolResultBlock(r.ToolCallID, r.Content, r.IsError))
	}
	return blocks
}

func encodeTools(defs []ToolDefinition) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: d.InputSchema}, d.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(d.Description)
		}
		out = append(out, u)
	}
	return out
}

func decodeAnthropicMessage(msg *sdk.Message) *Response {
	resp := &Response{Message: Message{Role: RoleAssistant}, StopReason: string(msg.StopReason)}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Message.Text += block.Text
		case "tool_use":
			input, _ := block.Input.(map[string]any)
			resp.Message.ToolCalls = append(resp.Message.ToolCalls, ToolCall{
				ID: block.ID, Name: block.Name, Input: input,
			})
		}
	}
	resp.Usage = Usage{InputTokens: int(msg.Usage.InputTokens), OutputTokens: int(msg.Usage.OutputTokens)}
	return resp
}
