package assistant

import (
	"context"
)

// LLMClient defines the interface for the language model behind the assistant
type LLMClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest carries one model invocation: the system instructions, the
// working transcript and the tools the model may call
type CompletionRequest struct {
	System   string
	Messages []Message
	Tools    []ToolDefinition
}

// Message represents one entry in the working transcript
type Message struct {
	Role    string // "user", "assistant" or "tool"
	Content string
	// ToolCalls is set on assistant messages that requested tool execution
	ToolCalls []ToolCall
	// ToolName is set on tool messages and names the tool that produced Content
	ToolName string
}

// ToolCall is a single tool invocation requested by the model
type ToolCall struct {
	Name string
	Args map[string]interface{}
}

// ToolDefinition describes a callable tool to the model
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  []ToolParam
}

// ToolParam describes one tool argument
type ToolParam struct {
	Name        string
	Type        string // "string", "integer"
	Description string
	Required    bool
}

// Usage reports token consumption for one model invocation
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// CompletionResponse is the model's reply: either tool calls to execute or
// final text for the shopper
type CompletionResponse struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}
