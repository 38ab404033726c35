// Package llm provides chat-completion clients for the model endpoints the
// agents talk to. Wire formats stay inside each provider file; everything
// above this package sees only the types declared here.
package llm

import (
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a chat sequence.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Name are set on tool results and reference the call
	// being answered.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// ToolCall is a model request to run a named tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its arguments as a raw JSON
// object string, exactly as the model produced it.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition declares a callable function to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolChoiceAuto lets the model decide whether to call a tool.
const ToolChoiceAuto = "auto"

// ChatRequest is a provider-neutral chat completion request.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	ToolChoice  string

	// Temperature is omitted from the request when nil, leaving the
	// provider's default.
	Temperature *float64
	MaxTokens   int
}

// ChatResponse is the unified response from any provider.
type ChatResponse struct {
	Model        string
	CreatedAt    time.Time
	Message      Message
	FinishReason string

	InputTokens  int
	OutputTokens int
}
