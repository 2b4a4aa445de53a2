package graph

import "conductor-ai/internal/domain"

// State is the conversation state threaded through graph nodes. Each
// run owns its State exclusively: nodes receive a value, return a
// value, and never share slices across runs.
type State struct {
	Messages []domain.Message

	// Turns counts reasoning entries during this run. Routers use it
	// to enforce round-trip caps.
	Turns int

	// Handoff is the staged input for the next subgraph node, set by a
	// prepare node and cleared when the subgraph consumes it.
	Handoff *Handoff
}

// Handoff carries a reframed task from a parent graph to a subgraph.
type Handoff struct {
	AgentID  string
	CallID   string // tool call the delegation answers, for transcript integrity
	ToolName string
	Messages []domain.Message
}

// Append returns a copy of s with msgs appended. The message slice is
// copied so earlier snapshots stay valid.
func (s State) Append(msgs ...domain.Message) State {
	out := make([]domain.Message, 0, len(s.Messages)+len(msgs))
	out = append(out, s.Messages...)
	out = append(out, msgs...)
	s.Messages = out
	return s
}

// Last returns the final message, or a zero Message when empty.
func (s State) Last() domain.Message {
	if len(s.Messages) == 0 {
		return domain.Message{}
	}
	return s.Messages[len(s.Messages)-1]
}
