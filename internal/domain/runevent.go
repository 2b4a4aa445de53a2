package domain

import (
	"context"
	"encoding/json"
)

// RunEventType enumerates the closed set of run-stream event types.
// The names are wire-stable: clients switch on them.
type RunEventType string

const (
	RunAgentStarted RunEventType = "agent_started"
	RunAgentEnded   RunEventType = "agent_ended"
	RunAgentStream  RunEventType = "agent_stream"
	RunAgentError   RunEventType = "agent_error"
	RunToolStarted  RunEventType = "tool_started"
	RunToolEnded    RunEventType = "tool_ended"
)

// RunEvent is one entry in the ordered event log of a single run.
// ID is the invocation identifier of the node or tool call the event
// belongs to; started/ended pairs share the same ID. Content carries
// the raw token chunk for agent_stream and a JSON-serialized string
// for every other type.
type RunEvent struct {
	Type    RunEventType `json:"type"`
	ID      string       `json:"id,omitempty"`
	Name    string       `json:"name"`
	Content string       `json:"content"`
}

// MessagesJSON serializes a message list for use as started/ended
// event content. Marshal failures degrade to an empty list rather
// than dropping the event.
func MessagesJSON(msgs []Message) string {
	data, err := json.Marshal(msgs)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// RunEmitter receives run events in emission order. Implementations
// must not block for long: the run loop is sequential and every
// emission happens on its critical path.
type RunEmitter interface {
	Emit(ev RunEvent)
}

// RunEmitterFunc adapts a function to the RunEmitter interface.
type RunEmitterFunc func(RunEvent)

// Emit implements RunEmitter.
func (f RunEmitterFunc) Emit(ev RunEvent) { f(ev) }

type emitterCtxKey struct{}

// ContextWithRunEmitter attaches the per-run emitter to the context so
// graph nodes can report tool and stream activity without plumbing.
func ContextWithRunEmitter(ctx context.Context, em RunEmitter) context.Context {
	return context.WithValue(ctx, emitterCtxKey{}, em)
}

// EmitRunEvent sends ev to the context's emitter. A context without an
// emitter discards the event, which keeps graphs runnable in tests
// that don't care about the stream.
func EmitRunEvent(ctx context.Context, ev RunEvent) {
	if em, ok := ctx.Value(emitterCtxKey{}).(RunEmitter); ok && em != nil {
		em.Emit(ev)
	}
}
