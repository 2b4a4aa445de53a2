package orchestrate

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor-ai/internal/domain"
)

func TestStreamAccumulatorContentAndFragments(t *testing.T) {
	acc := newStreamAccumulator()

	acc.add(domain.StreamDelta{Content: "Hello"})
	acc.add(domain.StreamDelta{Content: " world"})

	// Fragmented arguments for one call.
	acc.add(domain.StreamDelta{
		ToolCalls: []domain.ToolCall{
			{ID: "c1", Name: "search", Arguments: json.RawMessage(`{"q":`)},
		},
	})
	acc.add(domain.StreamDelta{
		ToolCalls: []domain.ToolCall{
			{Arguments: json.RawMessage(`"test"}`)},
		},
	})

	acc.add(domain.StreamDelta{
		Done:  true,
		Usage: &domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	})

	msg, usage := acc.build()

	assert.Equal(t, "Hello world", msg.Content)
	assert.Equal(t, domain.RoleAssistant, msg.Role)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "c1", msg.ToolCalls[0].ID)
	assert.Equal(t, "search", msg.ToolCalls[0].Name)
	assert.Equal(t, `{"q":"test"}`, string(msg.ToolCalls[0].Arguments))
	require.NotNil(t, usage)
	assert.Equal(t, 15, usage.TotalTokens)
}

func TestStreamAccumulatorMultipleCallsInOneDelta(t *testing.T) {
	acc := newStreamAccumulator()

	acc.add(domain.StreamDelta{
		ToolCalls: []domain.ToolCall{
			{ID: "c1", Name: "search", Arguments: json.RawMessage(`{"q":"a"}`)},
			{ID: "c2", Name: "fetch", Arguments: json.RawMessage(`{"url":"b"}`)},
		},
		Done: true,
	})

	msg, _ := acc.build()
	require.Len(t, msg.ToolCalls, 2)
	assert.Equal(t, "search", msg.ToolCalls[0].Name)
	assert.Equal(t, "fetch", msg.ToolCalls[1].Name)
}

func TestStreamAccumulatorFragmentBound(t *testing.T) {
	acc := newStreamAccumulator()

	calls := make([]domain.ToolCall, maxToolCallFragments+10)
	for i := range calls {
		calls[i] = domain.ToolCall{
			ID:        fmt.Sprintf("c%d", i),
			Name:      fmt.Sprintf("tool%d", i),
			Arguments: json.RawMessage(`{}`),
		}
	}

	acc.add(domain.StreamDelta{ToolCalls: calls, Done: true})
	msg, _ := acc.build()

	assert.Len(t, msg.ToolCalls, maxToolCallFragments)
	assert.Equal(t, "tool0", msg.ToolCalls[0].Name)
}

func TestStreamAccumulatorDropsEmptyCalls(t *testing.T) {
	acc := newStreamAccumulator()

	// A gap fragment that never receives an ID or name.
	acc.add(domain.StreamDelta{
		ToolCalls: []domain.ToolCall{
			{ID: "c1", Name: "real", Arguments: json.RawMessage(`{}`)},
			{Arguments: json.RawMessage(`{}`)},
		},
		Done: true,
	})

	msg, _ := acc.build()
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "real", msg.ToolCalls[0].Name)
}

func TestStreamAccumulatorUsageLastWins(t *testing.T) {
	acc := newStreamAccumulator()

	acc.add(domain.StreamDelta{Usage: &domain.Usage{TotalTokens: 7}})
	acc.add(domain.StreamDelta{Usage: &domain.Usage{TotalTokens: 15}})

	_, usage := acc.build()
	require.NotNil(t, usage)
	assert.Equal(t, 15, usage.TotalTokens)
}

func TestStreamAccumulatorEmpty(t *testing.T) {
	acc := newStreamAccumulator()

	msg, usage := acc.build()
	assert.Equal(t, "", msg.Content)
	assert.Empty(t, msg.ToolCalls)
	assert.Nil(t, usage)
}
