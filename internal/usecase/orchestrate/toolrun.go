package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"conductor-ai/internal/domain"
	"conductor-ai/internal/usecase/graph"
)

// toolset is a fixed name -> tool map. Lookup misses report
// ErrToolNotFound so callers can fold them into error results.
type toolset struct {
	byName map[string]domain.Tool
	order  []string
}

func newToolset(tools []domain.Tool) *toolset {
	ts := &toolset{byName: make(map[string]domain.Tool, len(tools))}
	for _, t := range tools {
		if _, dup := ts.byName[t.Name()]; !dup {
			ts.order = append(ts.order, t.Name())
		}
		ts.byName[t.Name()] = t
	}
	return ts
}

func (ts *toolset) get(name string) (domain.Tool, error) {
	t, ok := ts.byName[name]
	if !ok {
		return nil, domain.NewDomainError("toolset.get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

func (ts *toolset) schemas() []domain.ToolSchema {
	out := make([]domain.ToolSchema, 0, len(ts.order))
	for _, name := range ts.order {
		out = append(out, ts.byName[name].Schema())
	}
	return out
}

// runToolCalls executes the calls of one assistant turn sequentially,
// in emitted order, and returns one tool-role message per call. Every
// failure mode -- unknown tool, returned error, error result, panic --
// is folded into an "Error in <tool>: ..." result so nothing escapes
// the graph.
func runToolCalls(ctx context.Context, ts *toolset, calls []domain.ToolCall, logger *slog.Logger) []domain.Message {
	msgs := make([]domain.Message, 0, len(calls))
	for _, call := range calls {
		msgs = append(msgs, runOneTool(ctx, ts, call, logger))
	}
	return msgs
}

func runOneTool(ctx context.Context, ts *toolset, call domain.ToolCall, logger *slog.Logger) domain.Message {
	id := graph.NewID()
	domain.EmitRunEvent(ctx, domain.RunEvent{
		Type:    domain.RunToolStarted,
		ID:      id,
		Name:    call.Name,
		Content: argumentsJSON(call.Arguments),
	})

	content := invokeTool(ctx, ts, call, logger)

	domain.EmitRunEvent(ctx, domain.RunEvent{
		Type:    domain.RunToolEnded,
		ID:      id,
		Name:    call.Name,
		Content: quoteJSON(content),
	})

	return domain.Message{
		Role:       domain.RoleTool,
		Name:       call.Name,
		ToolCallID: call.ID,
		Content:    content,
	}
}

// invokeTool runs one call with full failure isolation.
func invokeTool(ctx context.Context, ts *toolset, call domain.ToolCall, logger *slog.Logger) (content string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("tool panicked", "tool", call.Name, "panic", r)
			content = toolError(call.Name, fmt.Sprintf("panic: %v", r))
		}
	}()

	tool, err := ts.get(call.Name)
	if err != nil {
		return toolError(call.Name, err.Error())
	}

	result, err := tool.Execute(ctx, call.Arguments)
	switch {
	case err != nil:
		logger.Warn("tool failed", "tool", call.Name, "error", err)
		return toolError(call.Name, err.Error())
	case result == nil:
		return toolError(call.Name, "tool returned no result")
	case result.IsError:
		return toolError(call.Name, result.Content)
	}
	return result.Content
}

// toolError formats a failure the way sub-agent transcripts expect;
// callers may already have the prefix when results bubble through
// layers, so it is applied at most once.
func toolError(name, msg string) string {
	prefix := fmt.Sprintf("Error in %s: ", name)
	if strings.HasPrefix(msg, prefix) {
		return msg
	}
	return prefix + msg
}

// argumentsJSON normalizes raw tool-call arguments for event content.
func argumentsJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

// quoteJSON serializes a plain string as a JSON value for event
// content, matching the wire rule that non-stream payload content is
// JSON-serialized.
func quoteJSON(s string) string {
	data, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(data)
}
