package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"conductor-ai/internal/domain"
)

// schemaCheckedTool rejects malformed calls before they reach the tool.
// The parameter schema a tool advertises is the contract the model plans
// against; enforcing it here means a bad call comes back as a correction
// instead of a half-executed tool run.
type schemaCheckedTool struct {
	inner  domain.Tool
	schema *jsonschema.Schema
}

// WithSchemaValidation compiles the tool's advertised parameter schema and
// wraps Execute so incoming params are checked against it first. Tools that
// advertise no schema are returned unwrapped. A schema that fails to compile
// is a registration-time error, not a runtime one.
func WithSchemaValidation(t domain.Tool) (domain.Tool, error) {
	raw := t.Schema().Parameters
	if len(raw) == 0 || string(raw) == "null" {
		return t, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", t.Name(), err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", t.Name(), err)
	}

	return &schemaCheckedTool{inner: t, schema: compiled}, nil
}

func (s *schemaCheckedTool) Name() string              { return s.inner.Name() }
func (s *schemaCheckedTool) Description() string       { return s.inner.Description() }
func (s *schemaCheckedTool) Schema() domain.ToolSchema { return s.inner.Schema() }

func (s *schemaCheckedTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var v any
	if err := json.Unmarshal(params, &v); err != nil {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("invalid JSON: %v", err),
		}, nil
	}
	if err := s.schema.Validate(v); err != nil {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("schema validation failed: %v", err),
		}, nil
	}
	return s.inner.Execute(ctx, params)
}
