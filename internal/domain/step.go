package domain

import "time"

// StepKind distinguishes agent invocations from tool invocations in
// the reconstructed execution tree.
type StepKind string

const (
	StepAgent StepKind = "agent"
	StepTool  StepKind = "tool"
)

// StepStatus is the lifecycle state of one execution step.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepError     StepStatus = "error"
)

// ExecutionStep is one node of the execution tree reconstructed from a
// run's event log. ID is the invocation identifier shared by the
// step's started/ended events. The tree is append-only: children are
// added in event order and never reordered.
type ExecutionStep struct {
	ID        string           `json:"id"`
	Kind      StepKind         `json:"kind"`
	Name      string           `json:"name"`
	Status    StepStatus       `json:"status"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   *time.Time       `json:"ended_at,omitempty"`
	Input     string           `json:"input,omitempty"`
	Output    string           `json:"output,omitempty"`
	Children  []*ExecutionStep `json:"children,omitempty"`
}
