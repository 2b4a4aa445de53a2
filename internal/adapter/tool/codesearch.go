package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"conductor-ai/internal/adapter/search"
	"conductor-ai/internal/domain"
	"conductor-ai/internal/infra/tracer"
)

// CodeSearchTool exposes the code index to an agent.
type CodeSearchTool struct {
	index  *search.Index
	logger *slog.Logger
}

// NewCodeSearchTool wraps the index as the "code_search" tool.
func NewCodeSearchTool(index *search.Index, logger *slog.Logger) *CodeSearchTool {
	return &CodeSearchTool{index: index, logger: logger}
}

func (t *CodeSearchTool) Name() string { return "code_search" }
func (t *CodeSearchTool) Description() string {
	return "Search the indexed codebase by meaning or keyword. Returns ranked source chunks with file path and line range."
}

func (t *CodeSearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "What to look for: a symbol, phrase, or natural-language description"},
				"limit": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Max results (default 5)"}
			},
			"required": ["query"]
		}`),
	}
}

type codeSearchParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (t *CodeSearchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.code_search", t.logger, params,
		func(ctx context.Context, span trace.Span, p codeSearchParams) (any, error) {
			if err := RequireField("query", p.Query); err != nil {
				return nil, err
			}
			limit := p.Limit
			if limit <= 0 {
				limit = 5
			}
			if limit > 20 {
				limit = 20
			}

			chunks, err := t.index.Search(ctx, p.Query, limit)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.IntAttr("search.results", len(chunks)))
			if len(chunks) == 0 {
				return "No matches in the code index.", nil
			}
			return formatChunks(chunks), nil
		},
	)
}

// formatChunks renders results as readable text rather than raw JSON:
// the reasoning model quotes these back to the user.
func formatChunks(chunks []search.Chunk) string {
	var b strings.Builder
	for i, c := range chunks {
		fmt.Fprintf(&b, "%d. %s:%d-%d\n", i+1, c.Path, c.StartLine, c.EndLine)
		for _, line := range strings.Split(c.Content, "\n") {
			b.WriteString("   ")
			b.WriteString(line)
			b.WriteByte('\n')
		}
		if i < len(chunks)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

var _ domain.Tool = (*CodeSearchTool)(nil)
