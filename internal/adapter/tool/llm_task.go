package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/kaptinlin/jsonschema"

	"conductor-ai/internal/adapter/llm"
	"conductor-ai/internal/domain"
	"conductor-ai/internal/infra/tracer"
)

// LLMTaskTool runs a one-shot delegated model call on behalf of the
// orchestrator. Unlike routing to a sub-agent, the call carries no tools and
// must answer with exactly one JSON value, so the orchestrator can splice the
// answer straight back into its delegation flow. The answer is optionally
// checked against a caller-supplied JSON Schema before it is returned.
type LLMTaskTool struct {
	fallback  domain.LLMProvider
	providers *llm.Registry
	logger    *slog.Logger
	cfg       LLMTaskConfig
	allowed   map[string]struct{}
}

// LLMTaskConfig bounds delegated model calls.
type LLMTaskConfig struct {
	AllowedModels []string      // "provider/model" keys; empty allows any
	DefaultModel  string        // used when the caller names no model
	MaxTokens     int           // hard cap on the response budget
	Timeout       time.Duration // hard cap on the call duration
	MaxPromptSize int           // task instruction cap in bytes
	MaxInputSize  int           // context payload cap in bytes
}

// NewLLMTaskTool builds the delegated-call tool. Zero config fields fall back
// to conservative defaults.
func NewLLMTaskTool(
	fallback domain.LLMProvider,
	providers *llm.Registry,
	cfg LLMTaskConfig,
	logger *slog.Logger,
) *LLMTaskTool {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxPromptSize <= 0 {
		cfg.MaxPromptSize = 32 * 1024
	}
	if cfg.MaxInputSize <= 0 {
		cfg.MaxInputSize = 256 * 1024
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedModels))
	for _, key := range cfg.AllowedModels {
		allowed[key] = struct{}{}
	}
	return &LLMTaskTool{
		fallback:  fallback,
		providers: providers,
		logger:    logger,
		cfg:       cfg,
		allowed:   allowed,
	}
}

func (t *LLMTaskTool) Name() string { return "llm_task" }
func (t *LLMTaskTool) Description() string {
	return "Delegate a self-contained side task to a model without handing over the conversation. The model answers with a single JSON value (optionally validated against a JSON Schema); the result reports the answer plus the provider and model that produced it."
}

func (t *LLMTaskTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"prompt": {
					"type": "string",
					"description": "Task instruction for the delegated call. Describe the JSON shape you want back."
				},
				"input": {
					"description": "Optional context payload (any JSON value) handed to the model alongside the task."
				},
				"schema": {
					"type": "object",
					"description": "Optional JSON Schema the model's answer must satisfy."
				},
				"provider": {
					"type": "string",
					"description": "Registered provider to delegate to instead of the default (e.g. 'openai', 'anthropic')."
				},
				"model": {
					"type": "string",
					"description": "Model ID override (e.g. 'gpt-4o', 'claude-sonnet-4-5-20250929')."
				},
				"temperature": {
					"type": "number",
					"minimum": 0,
					"maximum": 2.0,
					"description": "Sampling temperature (0.0 - 2.0)."
				},
				"max_tokens": {
					"type": "integer",
					"minimum": 1,
					"description": "Response budget; capped at the configured maximum."
				},
				"timeout_ms": {
					"type": "integer",
					"minimum": 1,
					"description": "Call timeout in milliseconds; capped at the configured maximum."
				}
			},
			"required": ["prompt"]
		}`),
	}
}

type llmTaskParams struct {
	Prompt      string          `json:"prompt"`
	Input       json.RawMessage `json:"input,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	Provider    string          `json:"provider,omitempty"`
	Model       string          `json:"model,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	TimeoutMs   *int            `json:"timeout_ms,omitempty"`
}

// llmTaskResult is what the orchestrator receives back: the model's JSON
// answer plus the provider/model that produced it, so the run records where
// a delegated answer came from.
type llmTaskResult struct {
	Output   json.RawMessage `json:"output"`
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
}

// delegationSystemPrompt frames the call as a side task inside an
// orchestration run. The JSON-only contract is what lets the orchestrator
// consume the answer mechanically.
const delegationSystemPrompt = "You are handling a task delegated from an agent orchestration run. " +
	"Answer the task below and nothing else. " +
	"Reply with exactly one JSON value: JSON-only, no markdown fences, no surrounding prose. " +
	"Do not call tools."

func (t *LLMTaskTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.llm_task", t.logger, params,
		func(ctx context.Context, span trace.Span, p llmTaskParams) (any, error) {
			task := strings.TrimSpace(p.Prompt)
			if err := RequireField("prompt", task); err != nil {
				return nil, err
			}
			if len(task) > t.cfg.MaxPromptSize {
				return nil, fmt.Errorf("%w: task instruction is %d bytes (cap %d)",
					domain.ErrInvalidInput, len(task), t.cfg.MaxPromptSize)
			}
			if len(p.Input) > t.cfg.MaxInputSize {
				return nil, fmt.Errorf("%w: context payload is %d bytes (cap %d)",
					domain.ErrInvalidInput, len(p.Input), t.cfg.MaxInputSize)
			}

			provider, model, err := t.resolveTarget(p.Provider, p.Model)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(
				tracer.StringAttr("llm.provider", provider.Name()),
				tracer.StringAttr("llm.model", model),
			)

			req := t.buildRequest(task, p, model)

			callCtx, cancel := context.WithTimeout(ctx, t.callTimeout(p.TimeoutMs))
			defer cancel()

			t.logger.Info("delegating side task to model",
				"provider", provider.Name(),
				"model", model,
				"task_bytes", len(task),
			)

			resp, err := provider.Chat(callCtx, req)
			if err != nil {
				return nil, fmt.Errorf("delegated model call failed: %v", err)
			}

			raw, decoded, err := decodeModelJSON(resp.Message.Content)
			if err != nil {
				return nil, err
			}

			if len(p.Schema) > 0 && !bytes.Equal(p.Schema, []byte("null")) {
				if err := checkOutputSchema(p.Schema, decoded); err != nil {
					return nil, err
				}
			}

			return JSONResult(llmTaskResult{
				Output:   raw,
				Provider: provider.Name(),
				Model:    model,
			})
		},
	)
}

// resolveTarget picks the provider and model for a delegated call and
// enforces the allowlist against the combined "provider/model" key.
func (t *LLMTaskTool) resolveTarget(providerName, model string) (domain.LLMProvider, string, error) {
	provider := t.fallback
	if providerName != "" {
		p, err := t.providers.Get(providerName)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %q is not a registered provider", domain.ErrProviderNotFound, providerName)
		}
		provider = p
	}
	if model == "" {
		model = t.cfg.DefaultModel
	}
	if len(t.allowed) > 0 && model != "" {
		key := provider.Name() + "/" + model
		if _, ok := t.allowed[key]; !ok {
			return nil, "", fmt.Errorf("model %q not in allowlist; allowed: %s",
				key, strings.Join(t.cfg.AllowedModels, ", "))
		}
	}
	return provider, model, nil
}

// buildRequest assembles the two-message delegated call. No tools are
// attached: a delegated side task must answer, not act.
func (t *LLMTaskTool) buildRequest(task string, p llmTaskParams, model string) domain.ChatRequest {
	var user strings.Builder
	user.WriteString("Delegated task:\n")
	user.WriteString(task)
	if len(p.Input) > 0 && !bytes.Equal(p.Input, []byte("null")) {
		user.WriteString("\n\nContext payload (JSON):\n")
		user.Write(p.Input)
	}
	return domain.ChatRequest{
		Model: model,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: delegationSystemPrompt},
			{Role: domain.RoleUser, Content: user.String()},
		},
		MaxTokens:   t.clampTokens(p.MaxTokens),
		Temperature: clampTemperature(p.Temperature),
	}
}

func (t *LLMTaskTool) clampTokens(override *int) int {
	if override == nil || *override <= 0 {
		return t.cfg.MaxTokens
	}
	if *override > t.cfg.MaxTokens {
		return t.cfg.MaxTokens
	}
	return *override
}

func clampTemperature(override *float64) float64 {
	if override == nil {
		return 0
	}
	switch {
	case *override < 0:
		return 0
	case *override > 2.0:
		return 2.0
	}
	return *override
}

func (t *LLMTaskTool) callTimeout(ms *int) time.Duration {
	if ms == nil || *ms <= 0 {
		return t.cfg.Timeout
	}
	d := time.Duration(*ms) * time.Millisecond
	if d > t.cfg.Timeout {
		return t.cfg.Timeout
	}
	return d
}

// decodeModelJSON extracts the single JSON value a delegated call must
// answer with, tolerating a markdown fence the model was told not to emit.
func decodeModelJSON(content string) (json.RawMessage, any, error) {
	raw := stripCodeFences(strings.TrimSpace(content))
	if raw == "" {
		return nil, nil, fmt.Errorf("model returned no output")
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, nil, fmt.Errorf("model answered with invalid JSON: %v\noutput was: %s", err, truncate(raw, 500))
	}
	return json.RawMessage(raw), decoded, nil
}

// checkOutputSchema validates a decoded answer against a caller-supplied
// JSON Schema.
func checkOutputSchema(schemaBytes json.RawMessage, decoded any) error {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(schemaBytes)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	if result := schema.Validate(decoded); !result.IsValid() {
		return fmt.Errorf("model output did not match schema: %s", result.Error())
	}
	return nil
}

// stripCodeFences unwraps a ```/```json fence if the model wrapped its
// answer in one anyway.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 6 || !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") {
		return s
	}
	body := s[3 : len(s)-3]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		tag := strings.TrimSpace(body[:nl])
		if tag == "" || strings.EqualFold(tag, "json") {
			body = body[nl+1:]
		}
	}
	return strings.TrimSpace(body)
}

// truncate shortens a string to maxLen bytes on a clean UTF-8 boundary,
// appending "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	end := 0
	for i := range s {
		if i > maxLen {
			break
		}
		end = i
	}
	return s[:end] + "..."
}
