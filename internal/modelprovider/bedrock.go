package modelprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// converseAPI captures the subset of *bedrockruntime.Client the adapter
// calls, mirroring the teacher's RuntimeClient seam (features/model/bedrock/
// client.go) so tests can substitute a fake.
type converseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockClient adapts the AWS Bedrock Converse API to Client.
type BedrockClient struct {
	runtime       converseAPI
	modelID       string
	maxTokens     int
	contextWindow int
}

// NewBedrockClient constructs a Client over an existing bedrockruntime
// client (callers supply one built from aws config so credentials/region
// resolution follows the standard AWS SDK chain).
func NewBedrockClient(runtime *bedrockruntime.Client, modelID string, maxTokens, contextWindow int) (*BedrockClient, error) {
	if runtime == nil {
		return nil, errors.New("modelprovider: bedrock runtime client is required")
	}
	if modelID == "" {
		return nil, errors.New("modelprovider: bedrock model id is required")
	}
	return &BedrockClient{runtime: runtime, modelID: modelID, maxTokens: maxTokens, contextWindow: contextWindow}, nil
}

// ContextWindow implements Client.
func (c *BedrockClient) ContextWindow() int { return c.contextWindow }

// Complete implements Client over the Bedrock Converse API.
func (c *BedrockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("modelprovider: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.modelID
	}

	var system []brtypes.SystemContentBlock
	var conversation []brtypes.Message
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			if m.Text != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Text})
			}
			continue
		}
		role := brtypes.ConversationRoleUser
		if m.Role == RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		var blocks []brtypes.ContentBlock
		if m.Text != "" {
			blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: m.Text})
		}
		for _, r := range m.ToolResults {
			status := brtypes.ToolResultStatusSuccess
			if r.IsError {
				status = brtypes.ToolResultStatusError
			}
			blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{
				Value: brtypes.ToolResultBlock{
					ToolUseId: aws.String(r.ToolCallID),
					Status:    status,
					Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: r.Content}},
				},
			})
		}
		if len(blocks) == 0 {
			continue
		}
		conversation = append(conversation, brtypes.Message{Role: role, Content: blocks})
	}
	if len(conversation) == 0 {
		return nil, errors.New("modelprovider: at least one user/assistant message is required")
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: conversation,
		System:   system,
	}
	if maxTokens := firstPositive(req.MaxTokens, c.maxTokens); maxTokens > 0 {
		input.InferenceConfig = &brtypes.InferenceConfiguration{MaxTokens: aws.Int32(int32(maxTokens))}
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = encodeBedrockTools(req.Tools)
	}

	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("modelprovider: bedrock converse: %w", err)
	}
	return decodeBedrockOutput(out), nil
}

func lazyDocument(v any) document.Interface {
	if v == nil {
		v = map[string]any{"type": "object"}
	}
	return document.NewLazyDocument(&v)
}

func decodeDocument(doc document.Interface) map[string]any {
	if doc == nil {
		return nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil || len(data) == 0 {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	return m
}

func firstPositive(vs ...int) int {
	for _, v := range vs {
		if v > 0 {
			return v
		}
	}
	return 0
}

func encodeBedrockTools(defs []ToolDefinition) *brtypes.ToolConfiguration {
	tools := make([]brtypes.Tool, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(d.Name),
				Description: aws.String(d.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: lazyDocument(d.InputSchema)},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: tools}
}

func decodeBedrockOutput(out *bedrockruntime.ConverseOutput) *Response {
	resp := &Response{Message: Message{Role: RoleAssistant}}
	if msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch b := block.(type) {
			case *brtypes.ContentBlockMemberText:
				resp.Message.Text += b.Value
			case *brtypes.ContentBlockMemberToolUse:
				resp.Message.ToolCalls = append(resp.Message.ToolCalls, ToolCall{
					ID:    aws.ToString(b.Value.ToolUseId),
					Name:  aws.ToString(b.Value.Name),
					Input: decodeDocument(b.Value.Input),
				})
			}
		}
	}
	resp.StopReason = string(out.StopReason)
	if out.Usage != nil {
		resp.Usage = Usage{InputTokens: int(aws.ToInt32(out.Usage.InputTokens)), OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens))}
	}
	return resp
}
