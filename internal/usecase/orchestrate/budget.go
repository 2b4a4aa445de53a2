package orchestrate

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"

	"conductor-ai/internal/domain"
)

// perMessageOverhead approximates the wire framing tokens the chat
// format spends per message (role markers, separators).
const perMessageOverhead = 4

// Budget trims conversation history to a model context budget before
// each reasoning call. The system prompt and the newest messages
// survive; the oldest turns are dropped first.
type Budget struct {
	maxTokens int
	encoding  *tiktoken.Tiktoken
	logger    *slog.Logger
}

// NewBudget builds a token budget for the given model. Unknown models
// fall back to the cl100k_base encoding; if that also fails the budget
// estimates four bytes per token.
func NewBudget(model string, maxTokens int, logger *slog.Logger) *Budget {
	if logger == nil {
		logger = slog.Default()
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			logger.Warn("token encoding unavailable, using byte estimate", "model", model, "error", err)
			enc = nil
		}
	}
	return &Budget{maxTokens: maxTokens, encoding: enc, logger: logger}
}

// Count returns the token count of a single string.
func (b *Budget) Count(text string) int {
	if b.encoding == nil {
		return len(text) / 4
	}
	return len(b.encoding.Encode(text, nil, nil))
}

// CountMessage returns the token cost of one message including framing
// overhead and serialized tool calls.
func (b *Budget) CountMessage(m domain.Message) int {
	n := perMessageOverhead + b.Count(m.Content)
	for _, tc := range m.ToolCalls {
		n += b.Count(tc.Name) + b.Count(string(tc.Arguments))
	}
	return n
}

// Fit returns the suffix of msgs that fits the budget. A leading
// system message is always retained. When even the newest message
// alone exceeds the budget, Fit still returns it so the caller can
// surface the provider's overflow error instead of sending nothing.
func (b *Budget) Fit(msgs []domain.Message) []domain.Message {
	if b == nil || b.maxTokens <= 0 || len(msgs) == 0 {
		return msgs
	}

	var system *domain.Message
	rest := msgs
	if msgs[0].Role == domain.RoleSystem {
		system = &msgs[0]
		rest = msgs[1:]
	}

	budget := b.maxTokens
	if system != nil {
		budget -= b.CountMessage(*system)
	}

	total := 0
	for _, m := range rest {
		total += b.CountMessage(m)
	}
	if total <= budget {
		return msgs
	}

	// Drop oldest-first until the remainder fits. Always keep the
	// final message.
	start := 0
	for start < len(rest)-1 && total > budget {
		total -= b.CountMessage(rest[start])
		start++
	}

	// Never let the transcript open with an orphaned tool result:
	// providers reject tool messages whose call is missing.
	for start < len(rest)-1 && rest[start].Role == domain.RoleTool {
		start++
	}

	if start > 0 {
		b.logger.Debug("history trimmed to token budget",
			"dropped", start, "kept", len(rest)-start, "budget", b.maxTokens)
	}

	out := make([]domain.Message, 0, 1+len(rest)-start)
	if system != nil {
		out = append(out, *system)
	}
	out = append(out, rest[start:]...)
	return out
}
