// Package orchestrate wires the root orchestrator agent and its
// delegated sub-agents: a capability registry, synthesized routing
// tools, the per-agent worker graph, and the orchestrator graph that
// answers directly or hands a reframed task to one sub-agent at a time.
package orchestrate

import (
	"log/slog"
	"sync"

	"conductor-ai/internal/usecase/graph"
)

// AgentDescriptor describes one delegatable capability.
type AgentDescriptor struct {
	ID              string // stable id, e.g. "github"
	DisplayName     string // human-readable name used in event payloads
	RoutingToolName string // tool name the orchestrator's model calls to delegate
	RoutingToolDesc string // description shown to the model
	TaskPrefix      string // prepended to the reframed task message
	Graph           *graph.Compiled
}

// Registry holds every registered capability. It is populated during
// startup and read-only afterwards; registration order is preserved
// because All feeds tool-schema lists, and routing must not depend on
// that order.
type Registry struct {
	mu     sync.Mutex
	byID   map[string]*AgentDescriptor
	order  []string
	logger *slog.Logger
}

// NewRegistry creates an empty capability registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		byID:   make(map[string]*AgentDescriptor),
		logger: logger,
	}
}

// Register adds a capability. Registering an existing ID overwrites
// the previous descriptor with a warning; last registration wins and
// the original ordering slot is kept.
func (r *Registry) Register(d AgentDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[d.ID]; exists {
		r.logger.Warn("capability re-registered, previous descriptor replaced",
			"agent_id", d.ID, "routing_tool", d.RoutingToolName)
	} else {
		r.order = append(r.order, d.ID)
	}
	r.byID[d.ID] = &d
}

// All returns descriptors in registration order.
func (r *Registry) All() []*AgentDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*AgentDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// ByToolName returns the descriptor whose routing tool matches name,
// or nil.
func (r *Registry) ByToolName(name string) *AgentDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		if d := r.byID[id]; d.RoutingToolName == name {
			return d
		}
	}
	return nil
}

// ByID returns the descriptor for id, or nil.
func (r *Registry) ByID(id string) *AgentDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
