package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies a process-wide event on the bus. Run-stream
// events are mirrored under the "run." prefix for observers; the
// per-run channel remains the ordered source of truth.
type EventType string

const (
	// Run lifecycle (mirrored RunEvents).
	EventRunAgentStarted EventType = "run.agent_started"
	EventRunAgentEnded   EventType = "run.agent_ended"
	EventRunAgentStream  EventType = "run.agent_stream"
	EventRunAgentError   EventType = "run.agent_error"
	EventRunToolStarted  EventType = "run.tool_started"
	EventRunToolEnded    EventType = "run.tool_ended"

	// Provider activity.
	EventLLMCallStarted   EventType = "llm.call.started"
	EventLLMCallCompleted EventType = "llm.call.completed"
	EventLLMCallFailed    EventType = "llm.call.failed"

	// Sessions.
	EventSessionCreated EventType = "session.created"
	EventSessionDeleted EventType = "session.deleted"

	// Code index maintenance.
	EventIndexRescan EventType = "index.rescan"
)

// Event is a process-wide notification published on the EventBus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	RunID     string          `json:"run_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler processes a single event. Handlers run on their own
// goroutines and must tolerate concurrent invocation.
type EventHandler func(ctx context.Context, ev Event)

// EventBus is an in-process publish/subscribe fabric. Publish never
// blocks on slow handlers; a panicking handler is recovered and must
// not take the bus down.
type EventBus interface {
	Publish(ctx context.Context, ev Event)
	// Subscribe registers a handler for one event type and returns an
	// unsubscribe function.
	Subscribe(t EventType, h EventHandler) func()
	// SubscribeAll registers a handler for every event type.
	SubscribeAll(h EventHandler) func()
	// Close stops dispatch and waits for in-flight handlers.
	Close()
}
