package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"

	"conductor-ai/internal/domain"
)

// delegationSchema is the fixed argument schema of every routing tool:
// a single required free-text task.
const delegationSchema = `{
	"type": "object",
	"properties": {
		"task": {
			"type": "string",
			"description": "The task to hand to this agent, phrased as a self-contained instruction"
		}
	},
	"required": ["task"]
}`

// DelegationTool is the synthesized no-op routing tool for one
// capability. Calling it performs no work: the orchestrator's router
// inspects the call request itself to pick the sub-agent, so the
// model's tool-calling ability doubles as an intent classifier. The
// echo result only ever surfaces if a transcript inspects it.
type DelegationTool struct {
	desc *AgentDescriptor
}

// NewDelegationTool builds the routing tool for a descriptor.
func NewDelegationTool(d *AgentDescriptor) *DelegationTool {
	return &DelegationTool{desc: d}
}

// Name implements domain.Tool.
func (t *DelegationTool) Name() string { return t.desc.RoutingToolName }

// Description implements domain.Tool.
func (t *DelegationTool) Description() string { return t.desc.RoutingToolDesc }

// Schema implements domain.Tool.
func (t *DelegationTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.desc.RoutingToolName,
		Description: t.desc.RoutingToolDesc,
		Parameters:  json.RawMessage(delegationSchema),
	}
}

// Execute implements domain.Tool. It echoes the delegation instead of
// doing anything.
func (t *DelegationTool) Execute(_ context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	task := taskArgument(params, t.desc.DisplayName)
	return &domain.ToolResult{
		Content: fmt.Sprintf("Delegating to %s: %s", t.desc.DisplayName, task),
	}, nil
}

// taskArgument extracts the task string from routing-tool arguments,
// falling back to a generic task when the model omitted or mangled it.
func taskArgument(params json.RawMessage, displayName string) string {
	var p struct {
		Task string `json:"task"`
	}
	if len(params) > 0 {
		_ = json.Unmarshal(params, &p)
	}
	if p.Task == "" {
		return fmt.Sprintf("Help with %s", displayName)
	}
	return p.Task
}

// DelegationTools synthesizes routing tools for every registered
// capability, in registration order.
func DelegationTools(reg *Registry) []domain.Tool {
	descs := reg.All()
	tools := make([]domain.Tool, 0, len(descs))
	for _, d := range descs {
		tools = append(tools, NewDelegationTool(d))
	}
	return tools
}

var _ domain.Tool = (*DelegationTool)(nil)
