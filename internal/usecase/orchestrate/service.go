package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"conductor-ai/internal/domain"
	"conductor-ai/internal/usecase/graph"
)

// RootAgentName labels the orchestrator in run events. Consumers that need
// to spot the end of a run (the gateway, tree reconstruction) key off this
// name, so it is exported rather than duplicated.
const RootAgentName = "orchestrator"

// runChannelBuffer decouples graph progress from slow consumers for a
// short burst; the emitter still blocks when the buffer fills, which
// preserves strict event order.
const runChannelBuffer = 64

// Service executes runs against the compiled orchestrator graph and
// exposes each run as an ordered event stream. Runs are independent:
// concurrency exists across runs, never inside one.
type Service struct {
	graph    *graph.Compiled
	registry *Registry
	bus      domain.EventBus // optional; mirrors run events for observers
	logger   *slog.Logger
}

// NewService wires the run service. bus may be nil.
func NewService(g *graph.Compiled, reg *Registry, bus domain.EventBus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{graph: g, registry: reg, bus: bus, logger: logger}
}

// Registry exposes the capability registry for display-name lookups.
func (s *Service) Registry() *Registry { return s.registry }

// Run starts one orchestration over the given history and returns the
// ordered event stream. The channel always delivers a terminating root
// agent_ended (after an agent_error when the run failed) and is then
// closed. The caller owns history; Run copies it.
func (s *Service) Run(ctx context.Context, history []domain.Message) <-chan domain.RunEvent {
	ch := make(chan domain.RunEvent, runChannelBuffer)
	runID := graph.NewID()

	msgs := make([]domain.Message, len(history))
	copy(msgs, history)

	go func() {
		defer close(ch)
		started := time.Now()

		emit := func(ev domain.RunEvent) {
			ch <- ev
			s.mirror(ctx, runID, ev)
		}

		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("run panicked", "run_id", runID, "panic", r)
				emit(domain.RunEvent{
					Type:    domain.RunAgentError,
					ID:      runID,
					Name:    RootAgentName,
					Content: fmt.Sprintf("internal error: %v", r),
				})
				emit(domain.RunEvent{
					Type:    domain.RunAgentEnded,
					ID:      runID,
					Name:    RootAgentName,
					Content: domain.MessagesJSON(msgs),
				})
			}
		}()

		runCtx := domain.ContextWithRunID(ctx, runID)
		runCtx = domain.ContextWithRunEmitter(runCtx, domain.RunEmitterFunc(emit))

		emit(domain.RunEvent{
			Type:    domain.RunAgentStarted,
			ID:      runID,
			Name:    RootAgentName,
			Content: domain.MessagesJSON(msgs),
		})

		final, err := s.graph.Run(runCtx, graph.State{Messages: msgs})
		if err != nil {
			// Stream-level failure: report once at root scope, then
			// terminate the stream unconditionally.
			s.logger.Error("run failed", "run_id", runID, "error", err)
			emit(domain.RunEvent{
				Type:    domain.RunAgentError,
				ID:      runID,
				Name:    RootAgentName,
				Content: err.Error(),
			})
			emit(domain.RunEvent{
				Type:    domain.RunAgentEnded,
				ID:      runID,
				Name:    RootAgentName,
				Content: domain.MessagesJSON(final.Messages),
			})
			return
		}

		msgs = final.Messages
		s.logger.Info("run completed",
			"run_id", runID,
			"turns", final.Turns,
			"messages", len(final.Messages),
			"duration", time.Since(started))

		emit(domain.RunEvent{
			Type:    domain.RunAgentEnded,
			ID:      runID,
			Name:    RootAgentName,
			Content: domain.MessagesJSON(final.Messages),
		})
	}()

	return ch
}

// RunSync drives a run to completion and returns the final transcript
// and answer. Used by callers that don't need the stream.
func (s *Service) RunSync(ctx context.Context, history []domain.Message) ([]domain.Message, string, error) {
	var transcript []domain.Message
	for ev := range s.Run(ctx, history) {
		if ev.Type == domain.RunAgentEnded && ev.Name == RootAgentName {
			if err := json.Unmarshal([]byte(ev.Content), &transcript); err != nil {
				return nil, "", domain.WrapOp("RunSync", err)
			}
		}
	}
	return transcript, domain.LastAssistant(transcript), nil
}

// mirror republishes a run event on the process bus.
func (s *Service) mirror(ctx context.Context, runID string, ev domain.RunEvent) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.bus.Publish(ctx, domain.Event{
		Type:      domain.EventType("run." + string(ev.Type)),
		Timestamp: time.Now(),
		RunID:     runID,
		Payload:   payload,
	})
}
