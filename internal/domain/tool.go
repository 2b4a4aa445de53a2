package domain

import (
	"context"
	"encoding/json"
)

// ToolSchema describes a tool to the reasoning model.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema for the arguments object
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of executing one tool call.
type ToolResult struct {
	ToolCallID  string `json:"tool_call_id,omitempty"`
	Content     string `json:"content"`
	IsError     bool   `json:"is_error,omitempty"`
	IsRetryable bool   `json:"is_retryable,omitempty"`
}

// Tool is the uniform surface every capability exposes to a graph.
// Execute must not panic and must not return tool-level failures as
// errors: those are reported inside the ToolResult with IsError set.
// A non-nil error is reserved for infrastructure faults.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolExecutor resolves and enumerates a fixed set of tools.
type ToolExecutor interface {
	// Get returns the named tool or ErrToolNotFound.
	Get(name string) (Tool, error)
	// Schemas returns schemas for every registered tool.
	Schemas() []ToolSchema
}
