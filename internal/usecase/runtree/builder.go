// Package runtree reconstructs the execution tree of a run from its
// ordered event stream. Clients that render progress (the web UI, the
// CLI) consume the flat stream; the builder gives inspection and
// history endpoints the nested agent/tool view plus the accumulated
// answer.
package runtree

import (
	"encoding/json"
	"strings"
	"time"

	"conductor-ai/internal/domain"
)

// NameResolver maps an agent id extracted from a subgraph node name to
// its display name. Returning "" keeps the raw node name.
type NameResolver func(agentID string) string

// agentNodePrefix is how the orchestrator graph qualifies sub-agent
// nodes; the id after the colon is the registry key.
const agentNodePrefix = "agent:"

// Builder folds run events into an ExecutionStep tree. Feed events in
// stream order; the builder is not safe for concurrent use.
type Builder struct {
	resolve NameResolver
	root    *domain.ExecutionStep
	stack   []*domain.ExecutionStep
	answer  strings.Builder
	errMsg  string
}

// NewBuilder creates a tree builder. resolve may be nil.
func NewBuilder(resolve NameResolver) *Builder {
	return &Builder{resolve: resolve}
}

// Feed applies one event to the tree.
func (b *Builder) Feed(ev domain.RunEvent) {
	switch ev.Type {
	case domain.RunAgentStarted:
		b.push(ev, domain.StepAgent)
	case domain.RunToolStarted:
		b.push(ev, domain.StepTool)
	case domain.RunAgentEnded, domain.RunToolEnded:
		b.pop(ev)
	case domain.RunAgentStream:
		b.answer.WriteString(ev.Content)
	case domain.RunAgentError:
		b.markError(ev)
	}
}

// FeedAll drains a run channel through Feed and returns the builder
// for chaining.
func (b *Builder) FeedAll(events <-chan domain.RunEvent) *Builder {
	for ev := range events {
		b.Feed(ev)
	}
	return b
}

// Tree returns the root step, or nil when no step ever started.
func (b *Builder) Tree() *domain.ExecutionStep { return b.root }

// Answer returns the streamed answer. When nothing streamed (a
// non-streaming provider), it falls back to the root step's output.
func (b *Builder) Answer() string {
	if b.answer.Len() > 0 {
		return b.answer.String()
	}
	if b.root != nil && b.root.Status == domain.StepCompleted {
		return b.root.Output
	}
	return ""
}

// Err returns the last agent_error message, or "".
func (b *Builder) Err() string { return b.errMsg }

func (b *Builder) push(ev domain.RunEvent, kind domain.StepKind) {
	step := &domain.ExecutionStep{
		ID:        ev.ID,
		Kind:      kind,
		Name:      b.displayName(ev.Name),
		Status:    domain.StepRunning,
		StartedAt: time.Now(),
		Input:     unwrapContent(ev.Content),
	}

	switch {
	case len(b.stack) > 0:
		top := b.stack[len(b.stack)-1]
		top.Children = append(top.Children, step)
	case b.root == nil:
		b.root = step
	default:
		// A second top-level step after the root closed; keep the
		// tree single-rooted.
		b.root.Children = append(b.root.Children, step)
	}
	b.stack = append(b.stack, step)
}

func (b *Builder) pop(ev domain.RunEvent) {
	if len(b.stack) == 0 {
		return
	}

	// Usually the top; a missed ended event leaves orphans above,
	// which stay running in the tree.
	idx := len(b.stack) - 1
	if ev.ID != "" && b.stack[idx].ID != ev.ID {
		for i := len(b.stack) - 1; i >= 0; i-- {
			if b.stack[i].ID == ev.ID {
				idx = i
				break
			}
		}
		if b.stack[idx].ID != ev.ID {
			return
		}
	}

	step := b.stack[idx]
	now := time.Now()
	step.EndedAt = &now
	step.Output = unwrapContent(ev.Content)
	if step.Status == domain.StepRunning {
		step.Status = domain.StepCompleted
	}
	b.stack = b.stack[:idx]
}

func (b *Builder) markError(ev domain.RunEvent) {
	b.errMsg = ev.Content
	if len(b.stack) == 0 {
		if b.root != nil {
			b.root.Status = domain.StepError
			b.root.Output = ev.Content
		}
		return
	}
	top := b.stack[len(b.stack)-1]
	top.Status = domain.StepError
	top.Output = ev.Content
}

func (b *Builder) displayName(name string) string {
	id, ok := strings.CutPrefix(name, agentNodePrefix)
	if !ok || b.resolve == nil {
		return name
	}
	if display := b.resolve(id); display != "" {
		return display
	}
	return name
}

// unwrapContent reduces an event payload to display text. Agent
// payloads are JSON message lists (bare or under a "messages" key):
// show the last message's content. Tool payloads are JSON-serialized
// strings. Anything else passes through opaque.
func unwrapContent(content string) string {
	if content == "" {
		return ""
	}

	var msgs []domain.Message
	if err := json.Unmarshal([]byte(content), &msgs); err == nil {
		return lastContent(msgs)
	}

	var wrapped struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := json.Unmarshal([]byte(content), &wrapped); err == nil && len(wrapped.Messages) > 0 {
		return lastContent(wrapped.Messages)
	}

	var s string
	if err := json.Unmarshal([]byte(content), &s); err == nil {
		return s
	}

	return content
}

func lastContent(msgs []domain.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Content
}

// Build folds a finished event slice into (tree, answer) in one call.
func Build(events []domain.RunEvent, resolve NameResolver) (*domain.ExecutionStep, string) {
	b := NewBuilder(resolve)
	for _, ev := range events {
		b.Feed(ev)
	}
	return b.Tree(), b.Answer()
}
