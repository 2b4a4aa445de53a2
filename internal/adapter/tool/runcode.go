package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"conductor-ai/internal/adapter/sandbox"
	"conductor-ai/internal/domain"
	"conductor-ai/internal/infra/tracer"
)

// RunCodeTool executes short programs through the sandbox pool.
type RunCodeTool struct {
	pool      *sandbox.Pool
	languages []string
	logger    *slog.Logger
}

// NewRunCodeTool wraps the pool as the "run_code" tool. languages is
// the allowlist surfaced in the schema.
func NewRunCodeTool(pool *sandbox.Pool, languages []string, logger *slog.Logger) *RunCodeTool {
	langs := make([]string, len(languages))
	copy(langs, languages)
	sort.Strings(langs)
	return &RunCodeTool{pool: pool, languages: langs, logger: logger}
}

func (t *RunCodeTool) Name() string { return "run_code" }
func (t *RunCodeTool) Description() string {
	return "Execute a short program in an isolated sandbox and return its stdout, stderr and exit status. Available languages: " +
		strings.Join(t.languages, ", ") + "."
}

func (t *RunCodeTool) Schema() domain.ToolSchema {
	enum, _ := json.Marshal(t.languages)
	params := `{
		"type": "object",
		"properties": {
			"language": {"type": "string", "enum": ` + string(enum) + `, "description": "Interpreter to run the code with"},
			"code": {"type": "string", "description": "The program source"},
			"stdin": {"type": "string", "description": "Optional standard input"}
		},
		"required": ["language", "code"]
	}`
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  json.RawMessage(params),
	}
}

type runCodeParams struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Stdin    string `json:"stdin,omitempty"`
}

func (t *RunCodeTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.run_code", t.logger, params,
		func(ctx context.Context, span trace.Span, p runCodeParams) (any, error) {
			if err := RequireFields("language", p.Language, "code", p.Code); err != nil {
				return nil, err
			}
			span.SetAttributes(
				tracer.StringAttr("sandbox.language", p.Language),
				tracer.IntAttr("sandbox.code_bytes", len(p.Code)),
			)

			res, err := t.pool.Exec(ctx, sandbox.ExecRequest{
				Language: p.Language,
				Code:     p.Code,
				Stdin:    p.Stdin,
			})
			if err != nil {
				return nil, err
			}
			return res, nil
		},
	)
}

var _ domain.Tool = (*RunCodeTool)(nil)
