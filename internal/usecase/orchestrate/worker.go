package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"conductor-ai/internal/domain"
	"conductor-ai/internal/usecase/graph"
)

const (
	// defaultWorkerIterations caps reason/tool round trips inside one
	// sub-agent run.
	defaultWorkerIterations = 8

	// emptyReplyFallback substitutes for a reasoning result with no
	// content and no tool calls.
	emptyReplyFallback = "I could not produce a response. Please try rephrasing your request."

	// iterationCapNotice terminates a run that hit the round-trip cap.
	iterationCapNotice = "I had to stop before finishing: the task needed more tool steps than allowed."
)

// WorkerConfig describes one sub-agent's fixed runtime.
type WorkerConfig struct {
	ID            string
	DisplayName   string
	SystemPrompt  string
	Provider      domain.LLMProvider
	Model         string
	Tools         []domain.Tool
	MaxIterations int // 0 = defaultWorkerIterations
	MaxTokens     int
	Temperature   float64
	Logger        *slog.Logger
}

// BuildWorker compiles the two-node reason/tools cycle for one
// sub-agent. The graph is immutable and shared across runs; all
// per-run data lives in the State.
func BuildWorker(cfg WorkerConfig) (*graph.Compiled, error) {
	if cfg.Provider == nil {
		return nil, domain.NewDomainError("BuildWorker", domain.ErrInvalidInput,
			fmt.Sprintf("agent %q has no provider", cfg.ID))
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultWorkerIterations
	}

	ts := newToolset(cfg.Tools)

	b := graph.New("worker:" + cfg.ID).
		AddNode("reason", workerReason(cfg, ts)).
		AddNode("tools", func(ctx context.Context, s graph.State) (graph.State, error) {
			results := runToolCalls(ctx, ts, s.Last().ToolCalls, cfg.Logger)
			return s.Append(results...), nil
		}).
		SetEntry("reason").
		AddConditionalEdge("reason", func(_ context.Context, s graph.State) string {
			if s.Turns >= maxIter {
				return graph.End
			}
			if s.Last().HasToolCalls() {
				return "tools"
			}
			return graph.End
		}).
		AddEdge("tools", "reason")

	return b.Compile()
}

// workerReason returns the reason node: one provider call over the
// sub-agent's own prompt, transcript and toolset.
func workerReason(cfg WorkerConfig, ts *toolset) graph.NodeFunc {
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultWorkerIterations
	}

	return func(ctx context.Context, s graph.State) (graph.State, error) {
		s.Turns++

		req := domain.ChatRequest{
			Model:       cfg.Model,
			Messages:    withSystemPrompt(cfg.SystemPrompt, s.Messages),
			Tools:       ts.schemas(),
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}

		resp, err := cfg.Provider.Chat(ctx, req)
		if err != nil {
			// Reasoning failures become part of the transcript instead
			// of aborting the run; with no tool calls attached, the
			// router terminates and the message is the answer.
			cfg.Logger.Warn("reasoning failed", "agent", cfg.ID, "error", err)
			return s.Append(domain.Message{
				Role:      domain.RoleAssistant,
				Content:   fmt.Sprintf("Error: %s", err.Error()),
				Timestamp: time.Now(),
			}), nil
		}

		msg := resp.Message
		msg.Role = domain.RoleAssistant
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}

		if msg.Content == "" && !msg.HasToolCalls() {
			msg.Content = emptyReplyFallback
		}
		if s.Turns >= maxIter && msg.HasToolCalls() {
			// Cap reached: drop the pending calls and close out.
			msg.ToolCalls = nil
			if msg.Content == "" {
				msg.Content = iterationCapNotice
			}
		}

		return s.Append(msg), nil
	}
}

// withSystemPrompt prepends the system prompt unless the transcript
// already starts with one.
func withSystemPrompt(prompt string, msgs []domain.Message) []domain.Message {
	if prompt == "" {
		return msgs
	}
	if len(msgs) > 0 && msgs[0].Role == domain.RoleSystem {
		return msgs
	}
	out := make([]domain.Message, 0, len(msgs)+1)
	out = append(out, domain.Message{Role: domain.RoleSystem, Content: prompt})
	out = append(out, msgs...)
	return out
}
