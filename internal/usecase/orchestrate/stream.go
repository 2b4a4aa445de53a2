package orchestrate

import (
	"strings"
	"time"

	"conductor-ai/internal/domain"
)

// maxToolCallFragments bounds tool-call fragments accepted per delta,
// guarding against a malformed stream growing the slice without end.
const maxToolCallFragments = 50

// streamAccumulator folds streaming deltas into one assistant message.
// Tool-call fragments arrive positionally: the fragment at index i
// extends the i-th call, with ID and Name taken from the first
// fragment and Arguments concatenated across fragments.
type streamAccumulator struct {
	content   strings.Builder
	toolCalls []domain.ToolCall
	usage     *domain.Usage
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{}
}

func (a *streamAccumulator) add(d domain.StreamDelta) {
	a.content.WriteString(d.Content)
	if d.Usage != nil {
		a.usage = d.Usage
	}

	n := len(d.ToolCalls)
	if n > maxToolCallFragments {
		n = maxToolCallFragments
	}
	for i := 0; i < n; i++ {
		frag := d.ToolCalls[i]
		if i >= len(a.toolCalls) {
			args := make([]byte, len(frag.Arguments))
			copy(args, frag.Arguments)
			a.toolCalls = append(a.toolCalls, domain.ToolCall{
				ID:        frag.ID,
				Name:      frag.Name,
				Arguments: args,
			})
			continue
		}
		if a.toolCalls[i].ID == "" {
			a.toolCalls[i].ID = frag.ID
		}
		if a.toolCalls[i].Name == "" {
			a.toolCalls[i].Name = frag.Name
		}
		a.toolCalls[i].Arguments = append(a.toolCalls[i].Arguments, frag.Arguments...)
	}
}

// build finalizes the message. Usage is the last value the stream
// reported, or nil.
func (a *streamAccumulator) build() (domain.Message, *domain.Usage) {
	calls := make([]domain.ToolCall, 0, len(a.toolCalls))
	for _, tc := range a.toolCalls {
		if tc.Name == "" && tc.ID == "" {
			continue
		}
		calls = append(calls, tc)
	}
	msg := domain.Message{
		Role:      domain.RoleAssistant,
		Content:   a.content.String(),
		ToolCalls: calls,
		Timestamp: time.Now(),
	}
	return msg, a.usage
}
