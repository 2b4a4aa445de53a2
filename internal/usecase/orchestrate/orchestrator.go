package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"conductor-ai/internal/domain"
	"conductor-ai/internal/usecase/graph"
)

// defaultMaxRounds caps orchestrator reasoning entries per run. Each
// delegation costs one round trip, so chains stay possible while
// runaway loops do not.
const defaultMaxRounds = 6

// OrchestratorConfig describes the root agent.
type OrchestratorConfig struct {
	SystemPrompt string
	Provider     domain.LLMProvider
	Model        string
	Registry     *Registry
	GenericTools []domain.Tool // non-delegation tools the root may call directly
	MaxRounds    int           // 0 = defaultMaxRounds
	MaxTokens    int
	Temperature  float64
	Budget       *Budget // optional transcript token budget
	Logger       *slog.Logger
}

// BuildOrchestrator compiles the root graph: a streaming reason node,
// a prepare/subgraph pair per registered capability, and a generic
// tool-execution node. The router inspects the reasoning result:
//
//	no tool calls                         -> End (direct answer)
//	first call matching a routing tool    -> prepare:<agent> -> agent:<agent> -> reason
//	call naming a known generic tool      -> tools -> reason
//	anything else                         -> End
func BuildOrchestrator(cfg OrchestratorConfig) (*graph.Compiled, error) {
	if cfg.Provider == nil {
		return nil, domain.NewDomainError("BuildOrchestrator", domain.ErrInvalidInput, "no provider")
	}
	if cfg.Registry == nil {
		return nil, domain.NewDomainError("BuildOrchestrator", domain.ErrInvalidInput, "no registry")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}

	// The model sees routing tools and generic tools as one flat list.
	modelTools := append(DelegationTools(cfg.Registry), cfg.GenericTools...)
	modelSet := newToolset(modelTools)
	genericSet := newToolset(cfg.GenericTools)

	b := graph.New(RootAgentName).
		AddNode("reason", orchestratorReason(cfg, modelSet, maxRounds)).
		AddNode("tools", func(ctx context.Context, s graph.State) (graph.State, error) {
			results := runToolCalls(ctx, genericSet, s.Last().ToolCalls, cfg.Logger)
			return s.Append(results...), nil
		}).
		SetEntry("reason").
		AddEdge("tools", "reason")

	for _, d := range cfg.Registry.All() {
		d := d
		b.AddNode("prepare:"+d.ID, prepareTask(d)).
			AddSubgraph("agent:"+d.ID, d.Graph, handoffIn, mergeSubAnswer(d)).
			AddEdge("prepare:"+d.ID, "agent:"+d.ID).
			AddEdge("agent:"+d.ID, "reason")
	}

	b.AddConditionalEdge("reason", func(_ context.Context, s graph.State) string {
		last := s.Last()
		if !last.HasToolCalls() {
			return graph.End
		}
		if s.Turns >= maxRounds {
			return graph.End
		}
		for _, call := range last.ToolCalls {
			if d := cfg.Registry.ByToolName(call.Name); d != nil {
				return "prepare:" + d.ID
			}
		}
		for _, call := range last.ToolCalls {
			if _, err := genericSet.get(call.Name); err == nil {
				return "tools"
			}
		}
		// Unknown tool names fall through to a direct end rather than
		// failing the run.
		cfg.Logger.Warn("reasoning requested unknown tools, ending run",
			"first_tool", last.ToolCalls[0].Name)
		return graph.End
	})

	return b.Compile()
}

// orchestratorReason returns the root reason node. Token deltas are
// streamed as agent_stream events; sub-agents reason synchronously, so
// everything the client accumulates belongs to the root answer.
func orchestratorReason(cfg OrchestratorConfig, ts *toolset, maxRounds int) graph.NodeFunc {
	return func(ctx context.Context, s graph.State) (graph.State, error) {
		s.Turns++

		msgs := withSystemPrompt(cfg.SystemPrompt, s.Messages)
		if cfg.Budget != nil {
			msgs = cfg.Budget.Fit(msgs)
		}

		req := domain.ChatRequest{
			Model:       cfg.Model,
			Messages:    msgs,
			Tools:       ts.schemas(),
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}

		msg, err := reasonOnce(ctx, cfg.Provider, req, cfg.Logger)
		if err != nil {
			cfg.Logger.Warn("orchestrator reasoning failed", "error", err)
			return s.Append(domain.Message{
				Role:      domain.RoleAssistant,
				Content:   fmt.Sprintf("Error: %s", err.Error()),
				Timestamp: time.Now(),
			}), nil
		}

		if msg.Content == "" && !msg.HasToolCalls() {
			msg.Content = emptyReplyFallback
		}
		if s.Turns >= maxRounds && msg.HasToolCalls() {
			msg.ToolCalls = nil
			if msg.Content == "" {
				msg.Content = iterationCapNotice
			}
		}

		return s.Append(msg), nil
	}
}

// reasonOnce performs one provider call, streaming when the provider
// supports it.
func reasonOnce(ctx context.Context, provider domain.LLMProvider, req domain.ChatRequest, logger *slog.Logger) (domain.Message, error) {
	sp, ok := provider.(domain.StreamingLLMProvider)
	if !ok {
		resp, err := provider.Chat(ctx, req)
		if err != nil {
			return domain.Message{}, err
		}
		msg := resp.Message
		msg.Role = domain.RoleAssistant
		msg.Timestamp = time.Now()
		return msg, nil
	}

	req.Stream = true
	deltas, err := sp.ChatStream(ctx, req)
	if err != nil {
		return domain.Message{}, err
	}

	acc := newStreamAccumulator()
	for delta := range deltas {
		if delta.Err != nil {
			return domain.Message{}, delta.Err
		}
		if delta.Content != "" {
			domain.EmitRunEvent(ctx, domain.RunEvent{
				Type:    domain.RunAgentStream,
				Name:    RootAgentName,
				Content: delta.Content,
			})
		}
		acc.add(delta)
	}

	msg, usage := acc.build()
	if usage != nil {
		logger.Debug("reasoning completed",
			"prompt_tokens", usage.PromptTokens,
			"completion_tokens", usage.CompletionTokens)
	}
	return msg, nil
}

// prepareTask extracts the delegated task and stages the sub-agent's
// fresh input: exactly one user message, task prefix applied, the
// orchestrator's own context intentionally discarded.
func prepareTask(d *AgentDescriptor) graph.NodeFunc {
	return func(_ context.Context, s graph.State) (graph.State, error) {
		task := fmt.Sprintf("Help with %s", d.DisplayName)
		callID := ""
		for _, call := range s.Last().ToolCalls {
			if call.Name == d.RoutingToolName {
				task = taskArgument(call.Arguments, d.DisplayName)
				callID = call.ID
				break
			}
		}

		framed := task
		if d.TaskPrefix != "" {
			framed = strings.TrimSpace(d.TaskPrefix + " " + task)
		}

		s.Handoff = &graph.Handoff{
			AgentID:  d.ID,
			CallID:   callID,
			ToolName: d.RoutingToolName,
			Messages: []domain.Message{{
				Role:      domain.RoleUser,
				Content:   framed,
				Timestamp: time.Now(),
			}},
		}
		return s, nil
	}
}

// handoffIn gives the subgraph the staged messages as its whole state.
func handoffIn(parent graph.State) graph.State {
	if parent.Handoff == nil {
		return graph.State{}
	}
	return graph.State{Messages: parent.Handoff.Messages}
}

// mergeSubAnswer folds the sub-agent's final answer back into the
// orchestrator transcript as the routing call's tool result, keeping
// the transcript well-formed for the next reasoning step. Sibling
// calls from the same assistant turn are answered with a skip notice
// so no call dangles.
func mergeSubAnswer(d *AgentDescriptor) graph.SubgraphOut {
	return func(parent, child graph.State) graph.State {
		answer := domain.LastAssistant(child.Messages)
		if answer == "" {
			answer = emptyReplyFallback
		}

		handoff := parent.Handoff
		parent.Handoff = nil

		var callID, toolName string
		if handoff != nil {
			callID, toolName = handoff.CallID, handoff.ToolName
		}

		var results []domain.Message
		for _, call := range parent.Last().ToolCalls {
			switch {
			case call.ID == callID || (callID == "" && call.Name == toolName):
				results = append(results, domain.Message{
					Role:       domain.RoleTool,
					Name:       toolName,
					ToolCallID: call.ID,
					Content:    answer,
				})
			default:
				results = append(results, domain.Message{
					Role:       domain.RoleTool,
					Name:       call.Name,
					ToolCallID: call.ID,
					Content:    fmt.Sprintf("Skipped: this turn was delegated to %s.", d.DisplayName),
				})
			}
		}
		if len(results) == 0 {
			// No recorded calls (defensive): still surface the answer.
			results = append(results, domain.Message{
				Role:    domain.RoleAssistant,
				Content: answer,
			})
		}

		return parent.Append(results...)
	}
}
