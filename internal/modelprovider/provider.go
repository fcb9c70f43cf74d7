// Package modelprovider defines the provider-agnostic model.Client port the
// safety harness calls each turn, plus adapters over the Anthropic, OpenAI,
// and Bedrock SDKs, grounded on the teacher's features/model/{anthropic,
// openai,bedrock} adapters (SPEC_FULL.md [HARNESS] / [CONTINUATION]).
package modelprovider

import "context"

// Role is a message's conversation role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolDefinition describes one tool the model may call, surfaced to the
// harness from the dispatcher's resolved tool artifacts.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolCall is a model-issued invocation of one ToolDefinition.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResult is the harness's reply to a ToolCall, appended to the next
// Request's Messages as a tool-role message.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// Message is one turn in the conversation transcript.
type Message struct {
	Role        Role
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// Usage reports token consumption for one model call (spec §4.6
// "cost.add(response.usage)").
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total is the combined input+output token count.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Request captures one harness model call.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
}

// Response is one non-streaming model invocation's result.
type Response struct {
	Message    Message
	Usage      Usage
	StopReason string
}

// Client is the provider-agnostic model port the harness's per-turn loop
// calls (spec §4.6: "response := model.call(messages)").
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	// ContextWindow reports the provider's context window size in tokens,
	// used to compute the handoff context_ratio (spec §4.6/§4.7).
	ContextWindow() int
}
