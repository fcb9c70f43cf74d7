package modelprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// chatCompletions captures the subset of openai.Client.Chat.Completions the
// adapter calls, mirroring the teacher's ChatClient seam (features/model/
// openai/client.go) so tests can substitute a fake.
type chatCompletions interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIClient adapts the Chat Completions API to Client.
type OpenAIClient struct {
	chat          chatCompletions
	model         string
	maxTokens     int
	contextWindow int
}

// NewOpenAIClient constructs a Client from an API key and default model.
func NewOpenAIClient(apiKey, model string, maxTokens, contextWindow int) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("modelprovider: openai api key is required")
	}
	if model == "" {
		return nil, errors.New("modelprovider: openai model identifier is required")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIClient{chat: client.Chat.Completions, model: model, maxTokens: maxTokens, contextWindow: contextWindow}, nil
}

// ContextWindow implements Client.
func (c *OpenAIClient) ContextWindow() int { return c.contextWindow }

// Complete implements Client over the Chat Completions API.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("modelprovider: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}

	params := openai.ChatCompletionNewParams{
		Model:    modelID,
		Messages: encodeOpenAIMessages(req.Messages),
	}
	if maxTokens := req.MaxTokens; maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	} else if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeOpenAITools(req.Tools)
	}

	completion, err := c.chat.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("modelprovider: openai chat.completions.new: %w", err)
	}
	return decodeOpenAICompletion(completion), nil
}

func encodeOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Text))
		case RoleUser:
			out = append(out, openai.UserMessage(m.Text))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Text))
		}
		for _, r := range m.ToolResults {
			out = append(out, openai.ToolMessage(r.Content, r.ToolCallID))
		}
	}
	return out
}

func encodeOpenAITools(defs []ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  d.InputSchema,
			},
		})
	}
	return out
}

func decodeOpenAICompletion(completion *openai.ChatCompletion) *Response {
	resp := &Response{Message: Message{Role: RoleAssistant}}
	if len(completion.Choices) == 0 {
		return resp
	}
	choice := completion.Choices[0]
	resp.Message.Text = choice.Message.Content
	resp.StopReason = string(choice.FinishReason)
	for _, tc := range choice.Message.ToolCalls {
		var input map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		resp.Message.ToolCalls = append(resp.Message.ToolCalls, ToolCall{
			ID: tc.ID, Name: tc.Function.Name, Input: input,
		})
	}
	resp.Usage = Usage{
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
	}
	return resp
}
