package models

import "time"

// SubtaskStatus represents the current state of a subtask.
type SubtaskStatus string

const (
	// SubtaskStatusPending indicates the subtask has not started.
	SubtaskStatusPending SubtaskStatus = "pending"
	// SubtaskStatusInProgress indicates the subtask is being worked on.
	SubtaskStatusInProgress SubtaskStatus = "in_progress"
	// SubtaskStatusBlocked indicates the subtask is waiting on another department.
	SubtaskStatusBlocked SubtaskStatus = "blocked"
	// SubtaskStatusDone indicates the subtask completed.
	SubtaskStatusDone SubtaskStatus = "done"
	// SubtaskStatusCancelled indicates the subtask was cancelled.
	SubtaskStatusCancelled SubtaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s SubtaskStatus) Valid() bool {
	switch s {
	case SubtaskStatusPending, SubtaskStatusInProgress, SubtaskStatusBlocked,
		SubtaskStatusDone, SubtaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Open returns true if the subtask still needs work.
func (s SubtaskStatus) Open() bool {
	return s == SubtaskStatusPending || s == SubtaskStatusInProgress || s == SubtaskStatusBlocked
}

// Subtask represents a sub-work-item extracted from an agent's output
// or seeded by a meeting outcome.
type Subtask struct {
	// ID is the unique identifier for this subtask.
	ID string `json:"id"`
	// TaskID is the parent task this subtask belongs to.
	TaskID string `json:"task_id"`
	// Title is the short description of the subtask.
	Title string `json:"title"`
	// Description provides detailed information about the subtask.
	Description string `json:"description,omitempty"`
	// Status is the current state of the subtask.
	Status SubtaskStatus `json:"status"`
	// AgentID is the agent assigned to this subtask, if any.
	AgentID string `json:"agent_id,omitempty"`
	// TargetDepartmentID is non-empty when the subtask needs cross-department
	// work owned by a department other than the parent task's.
	TargetDepartmentID string `json:"target_department_id,omitempty"`
	// BlockedReason explains why the subtask is blocked.
	BlockedReason string `json:"blocked_reason,omitempty"`
	// DelegatedTaskID links to the child task created to perform delegated work.
	DelegatedTaskID string `json:"delegated_task_id,omitempty"`
	// CorrelationID is the provider-local identifier used to match streamed
	// sub-agent start/stop events back to this row.
	CorrelationID string `json:"correlation_id,omitempty"`
	// CreatedAt is when the subtask was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the subtask reached done, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
