package domain

import "context"

// LLMProvider is a synchronous chat completion backend.
type LLMProvider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
}

// StreamDelta is one increment of a streaming chat completion.
// ToolCalls fragments arrive indexed; accumulate Arguments by index.
type StreamDelta struct {
	Content   string
	ToolCalls []ToolCall
	Done      bool
	Usage     *Usage
	Err       error // terminal stream error, delivered with Done=true
}

// StreamingLLMProvider is implemented by providers that support
// token-by-token streaming. The returned channel is closed after the
// final delta (Done=true).
type StreamingLLMProvider interface {
	LLMProvider
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error)
}
