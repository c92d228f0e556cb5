package providers

import "context"

// Message is one entry in a conversation transcript. Assistant messages
// may carry tool calls; tool messages carry the ToolCallID they answer.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type ToolCall struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Function *FunctionCall `json:"function,omitempty"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ToolDefinition struct {
	Type     string                 `json:"type"`
	Function ToolFunctionDefinition `json:"function"`
}

type ToolFunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ParsedToolCall is a tool call with its arguments decoded.
type ParsedToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// Response is what the model returned for one chat call: either final
// content, or a batch of tool calls to execute, or both.
type Response struct {
	Content   string
	ToolCalls []ParsedToolCall
}

// LLMProvider is the remote model collaborator. Implementations are
// expected to be slow and occasionally failing; callers own retries.
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*Response, error)
}
