package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"conductor-ai/internal/domain"
	"conductor-ai/internal/infra/tracer"
)

// Execute is the shared pipeline every tool invocation goes through:
// parse params, open a trace span, run the handler, shape the outcome into
// a ToolResult the orchestrator can hand back to the model.
//
// Handler return values are shaped as follows:
//   - (*domain.ToolResult, nil) — passed through untouched
//   - (string, nil) — plain-text success
//   - (any other value, nil) — marshaled to indented JSON
//   - (nil, error) — error ToolResult; transient failures are flagged
//     retryable so the orchestrator knows a re-invocation may succeed
func Execute[P any](
	ctx context.Context,
	spanName string,
	logger *slog.Logger,
	rawParams json.RawMessage,
	handler func(ctx context.Context, span trace.Span, params P) (any, error),
) (*domain.ToolResult, error) {
	ctx, span := tracer.StartSpan(ctx, spanName,
		trace.WithAttributes(tracer.StringAttr("tool.name", spanName)),
	)
	defer span.End()

	var p P
	if err := json.Unmarshal(rawParams, &p); err != nil {
		tracer.RecordError(span, err)
		return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("invalid params: %v", err)}, nil
	}

	start := time.Now()
	result, err := handler(ctx, span, p)
	elapsed := time.Since(start)
	span.SetAttributes(tracer.IntAttr("tool.duration_ms", int(elapsed.Milliseconds())))

	if err != nil {
		tracer.RecordError(span, err)
		logger.Warn(spanName+" failed", "error", err, "duration", elapsed)
		return errorResult(err), nil
	}

	logger.Debug(spanName+" completed", "duration", elapsed)
	return shapeResult(span, result)
}

// errorResult turns a handler error into a ToolResult, marking transient
// failures so the orchestrator can schedule a retry instead of giving up.
func errorResult(err error) *domain.ToolResult {
	retryable := classifyToolError(err)
	content := err.Error()
	if retryable {
		content += " (transient error, may succeed on retry)"
	}
	return &domain.ToolResult{IsError: true, IsRetryable: retryable, Content: content}
}

// shapeResult converts a handler's success value into a ToolResult.
func shapeResult(span trace.Span, result any) (*domain.ToolResult, error) {
	switch v := result.(type) {
	case *domain.ToolResult:
		if v.IsError {
			tracer.RecordError(span, fmt.Errorf("%s", v.Content))
		} else {
			tracer.SetOK(span)
		}
		return v, nil
	case string:
		tracer.SetOK(span)
		return &domain.ToolResult{Content: v}, nil
	default:
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			tracer.RecordError(span, err)
			return &domain.ToolResult{
				IsError: true,
				Content: fmt.Sprintf("failed to format response: %v", err),
			}, nil
		}
		tracer.SetOK(span)
		return &domain.ToolResult{Content: string(data)}, nil
	}
}

// ErrResult creates an error ToolResult for validation failures that should
// go straight back to the model without a warning log.
func ErrResult(format string, args ...any) (*domain.ToolResult, error) {
	return &domain.ToolResult{
		IsError: true,
		Content: fmt.Sprintf(format, args...),
	}, nil
}

// JSONResult marshals v as indented JSON into a success ToolResult.
func JSONResult(v any) (*domain.ToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &domain.ToolResult{Content: string(data)}, nil
}

// TextResult creates a plain text success ToolResult.
func TextResult(s string) *domain.ToolResult {
	return &domain.ToolResult{Content: s}
}

// BadAction returns an error for an unknown action with a hint listing valid actions.
func BadAction(got string, valid ...string) error {
	return fmt.Errorf("unknown action %q (want: %s)", got, joinComma(valid))
}

func joinComma(ss []string) string {
	switch len(ss) {
	case 0:
		return ""
	case 1:
		return ss[0]
	}
	out := ss[0]
	for _, s := range ss[1:] {
		out += ", " + s
	}
	return out
}
