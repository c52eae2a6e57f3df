package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not been assigned yet.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusAssigned indicates the task has an agent but has not run.
	TaskStatusAssigned TaskStatus = "assigned"
	// TaskStatusInFlight indicates the task's batch is awaiting a provider response.
	TaskStatusInFlight TaskStatus = "in_flight"
	// TaskStatusSucceeded indicates the task produced output.
	TaskStatusSucceeded TaskStatus = "succeeded"
	// TaskStatusFailed indicates the task reached a terminal failure.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusSplit indicates the task's batch was bisected and the task
	// was reissued under new IDs.
	TaskStatusSplit TaskStatus = "split"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusAssigned, TaskStatusInFlight,
		TaskStatusSucceeded, TaskStatusFailed, TaskStatusSplit:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status will never change again.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusSplit:
		return true
	default:
		return false
	}
}

// Phase identifies which execution phase a task belongs to.
type Phase int

const (
	// PhaseFocus covers the per-focus tasks generated from the focus tree.
	PhaseFocus Phase = iota + 1
	// PhaseAnalysis covers cross-cutting tasks that consume phase-one output.
	PhaseAnalysis
)

// Task represents one unit of work dispatched to the provider.
type Task struct {
	// ID is the unique, stable identifier for this task within a run.
	ID string `json:"id"`
	// FocusPath is the ordered lineage from root focus to leaf focus.
	FocusPath []string `json:"focus_path"`
	// Prompt is the fully rendered prompt text for this task.
	Prompt string `json:"prompt"`
	// EstimatedTokens is the planner's token estimate. It is derived from
	// template length, not measured at the provider.
	EstimatedTokens int `json:"estimated_tokens"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// AgentID is the ID of the agent that owns this task.
	AgentID string `json:"agent_id,omitempty"`
	// Phase is the execution phase this task belongs to.
	Phase Phase `json:"phase"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
}

// Leaf returns the innermost focus of the task's path, or "" for an
// empty path.
func (t *Task) Leaf() string {
	if len(t.FocusPath) == 0 {
		return ""
	}
	return t.FocusPath[len(t.FocusPath)-1]
}
