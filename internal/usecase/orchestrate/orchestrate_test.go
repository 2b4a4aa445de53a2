package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"conductor-ai/internal/domain"
	"conductor-ai/internal/usecase/graph"
)

// --- Mocks ---

// scriptedLLM returns canned responses in order and records each
// request for assertions.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []domain.ChatResponse
	requests  []domain.ChatRequest
	idx       int
}

func (m *scriptedLLM) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.idx >= len(m.responses) {
		return &domain.ChatResponse{
			Message: domain.Message{Role: domain.RoleAssistant, Content: "fallback"},
		}, nil
	}
	idx := m.idx
	m.idx++
	return new(m.responses[idx]), nil
}

func (m *scriptedLLM) Name() string { return "scripted" }

func (m *scriptedLLM) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idx
}

func (m *scriptedLLM) Requests() []domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ChatRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// scriptedStreamLLM plays one delta slice per ChatStream call.
type scriptedStreamLLM struct {
	mu      sync.Mutex
	streams [][]domain.StreamDelta
	idx     int
}

func (m *scriptedStreamLLM) Chat(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
	return &domain.ChatResponse{
		Message: domain.Message{Role: domain.RoleAssistant, Content: "sync fallback"},
	}, nil
}

func (m *scriptedStreamLLM) Name() string { return "scripted-stream" }

func (m *scriptedStreamLLM) ChatStream(_ context.Context, _ domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.idx >= len(m.streams) {
		ch := make(chan domain.StreamDelta, 1)
		ch <- domain.StreamDelta{Content: "stream fallback", Done: true}
		close(ch)
		return ch, nil
	}
	deltas := m.streams[m.idx]
	m.idx++

	ch := make(chan domain.StreamDelta, len(deltas))
	for _, d := range deltas {
		ch <- d
	}
	close(ch)
	return ch, nil
}

// errorLLM always fails.
type errorLLM struct{ msg string }

func (m *errorLLM) Chat(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
	return nil, fmt.Errorf("%s", m.msg)
}

func (m *errorLLM) Name() string { return "error-llm" }

type staticTool struct {
	name   string
	result string
	calls  int
}

func (t *staticTool) Name() string        { return t.name }
func (t *staticTool) Description() string { return "static test tool" }
func (t *staticTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name, Description: t.Description(), Parameters: json.RawMessage(`{"type":"object"}`)}
}
func (t *staticTool) Execute(_ context.Context, _ json.RawMessage) (*domain.ToolResult, error) {
	t.calls++
	return &domain.ToolResult{Content: t.result}, nil
}

type errorTool struct{ name string }

func (t *errorTool) Name() string        { return t.name }
func (t *errorTool) Description() string { return "error test tool" }
func (t *errorTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name}
}
func (t *errorTool) Execute(_ context.Context, _ json.RawMessage) (*domain.ToolResult, error) {
	return nil, fmt.Errorf("tool execution failed")
}

type panicTool struct{ name string }

func (t *panicTool) Name() string        { return t.name }
func (t *panicTool) Description() string { return "panic test tool" }
func (t *panicTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name}
}
func (t *panicTool) Execute(_ context.Context, _ json.RawMessage) (*domain.ToolResult, error) {
	panic("boom")
}

// errResultTool reports failure through the result instead of the
// error return.
type errResultTool struct{ name string }

func (t *errResultTool) Name() string        { return t.name }
func (t *errResultTool) Description() string { return "isError test tool" }
func (t *errResultTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name}
}
func (t *errResultTool) Execute(_ context.Context, _ json.RawMessage) (*domain.ToolResult, error) {
	return &domain.ToolResult{Content: "backend unreachable", IsError: true}, nil
}

// recordingEmitter captures run events in order.
type recordingEmitter struct {
	mu     sync.Mutex
	events []domain.RunEvent
}

func (r *recordingEmitter) Emit(ev domain.RunEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEmitter) Events() []domain.RunEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RunEvent, len(r.events))
	copy(out, r.events)
	return out
}

// recordingBus captures process bus publishes.
type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *recordingBus) Close()                                                 {}

func (b *recordingBus) Events() []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Event, len(b.events))
	copy(out, b.events)
	return out
}

func newTestLogger() *slog.Logger { return slog.Default() }

// --- Builders ---

// callTo builds an assistant message invoking one tool.
func callTo(callID, tool, args string) domain.Message {
	return domain.Message{
		Role: domain.RoleAssistant,
		ToolCalls: []domain.ToolCall{
			{ID: callID, Name: tool, Arguments: json.RawMessage(args)},
		},
	}
}

func answer(text string) domain.Message {
	return domain.Message{Role: domain.RoleAssistant, Content: text}
}

// testWorker compiles a worker whose model immediately answers with
// the given text.
func testWorker(t *testing.T, id, reply string) *graph.Compiled {
	t.Helper()
	g, err := BuildWorker(WorkerConfig{
		ID:          id,
		DisplayName: id,
		Provider: &scriptedLLM{responses: []domain.ChatResponse{
			{Message: answer(reply)},
		}},
		Model:  "test-model",
		Logger: newTestLogger(),
	})
	if err != nil {
		t.Fatalf("BuildWorker(%s): %v", id, err)
	}
	return g
}

// testRegistry registers descriptors for the given agent ids, each
// with a worker that echoes "<id> done".
func testRegistry(t *testing.T, ids ...string) *Registry {
	t.Helper()
	reg := NewRegistry(newTestLogger())
	for _, id := range ids {
		reg.Register(AgentDescriptor{
			ID:              id,
			DisplayName:     id + " Agent",
			RoutingToolName: "delegate_to_" + id,
			RoutingToolDesc: "Delegate to " + id,
			TaskPrefix:      "[" + id + "]",
			Graph:           testWorker(t, id, id+" done"),
		})
	}
	return reg
}

func userMsg(text string) []domain.Message {
	return []domain.Message{{Role: domain.RoleUser, Content: text}}
}
