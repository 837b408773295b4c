package llm

import (
	"context"
	"fmt"
)

// Message represents a chat message on the wire
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set when Role == "tool"
	Name       string     `json:"name,omitempty"`         // tool name for tool responses
}

// ToolCall is a structured request from the model to invoke a named tool
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its raw JSON arguments
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// InvalidToolCall records a tool call whose accumulated arguments never became
// valid JSON. It fails that call only, not the surrounding stream.
type InvalidToolCall struct {
	ID           string
	Name         string
	RawArguments string
	Err          error
}

// ChatRequest is the outbound request body for the chat completions endpoint
type ChatRequest struct {
	Model       string                   `json:"model"`
	Messages    []*Message               `json:"messages"`
	Tools       []map[string]interface{} `json:"tools,omitempty"`
	ToolChoice  string                   `json:"tool_choice,omitempty"`
	Stream      bool                     `json:"stream"`
	Temperature float64                  `json:"temperature,omitempty"`
	MaxTokens   int                      `json:"max_tokens,omitempty"`
}

// StreamResult is the aggregate outcome of one streamed model response
type StreamResult struct {
	Content      string
	ToolCalls    []ToolCall
	InvalidCalls []InvalidToolCall
	FinishReason string
}

// HasToolCalls reports whether the response requested any tool invocation,
// valid or not.
func (r *StreamResult) HasToolCalls() bool {
	return len(r.ToolCalls) > 0 || len(r.InvalidCalls) > 0
}

// Client is the interface for streaming LLM clients
type Client interface {
	// Stream sends a chat request and streams the response. Content deltas
	// are forwarded to onContent as they arrive; tool calls are assembled
	// across chunks and returned once the stream ends.
	Stream(ctx context.Context, req *ChatRequest, onContent func(delta string) error) (*StreamResult, error)

	// ModelName returns the configured model name
	ModelName() string
}

// HTTPError reports a non-2xx response from the model endpoint
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("model endpoint returned status %d: %s", e.StatusCode, e.Body)
}
