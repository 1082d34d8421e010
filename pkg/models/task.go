package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusInbox indicates the task has been created but not planned.
	TaskStatusInbox TaskStatus = "inbox"
	// TaskStatusPlanned indicates the task has an approved-or-pending plan.
	TaskStatusPlanned TaskStatus = "planned"
	// TaskStatusCollaborating indicates the task is waiting on cross-department work.
	TaskStatusCollaborating TaskStatus = "collaborating"
	// TaskStatusInProgress indicates an agent is actively executing the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusReview indicates the task output is under review.
	TaskStatusReview TaskStatus = "review"
	// TaskStatusDone indicates the task completed successfully.
	TaskStatusDone TaskStatus = "done"
	// TaskStatusPending indicates the task was paused; its session is preserved.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusCancelled indicates the task was cancelled and torn down.
	TaskStatusCancelled TaskStatus = "cancelled"
	// TaskStatusFailed indicates execution failed and was not retried.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusInbox, TaskStatusPlanned, TaskStatusCollaborating,
		TaskStatusInProgress, TaskStatusReview, TaskStatusDone,
		TaskStatusPending, TaskStatusCancelled, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Active returns true if the status represents a task that may own an
// execution session, process, or worktree.
func (s TaskStatus) Active() bool {
	switch s {
	case TaskStatusPlanned, TaskStatusCollaborating, TaskStatusInProgress, TaskStatusReview:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status ends the task's lifecycle.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusDone || s == TaskStatusCancelled || s == TaskStatusFailed
}

// Task represents a unit of work executed by an agent.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// AgentID is the ID of the agent assigned to this task.
	AgentID string `json:"agent_id,omitempty"`
	// DepartmentID is the department that owns this task.
	DepartmentID string `json:"department_id,omitempty"`
	// ProjectPath is the path to the project checkout the task operates on.
	ProjectPath string `json:"project_path,omitempty"`
	// ParentTaskID links a delegated child task back to its parent.
	ParentTaskID string `json:"parent_task_id,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when execution first began, if ever.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// UpdatedAt is when any field last changed.
	UpdatedAt time.Time `json:"updated_at"`
	// Error contains the error message if the task failed.
	Error string `json:"error,omitempty"`
}

// taskTransitions defines the allowed task status transitions.
// Pause (pending) and cancel are reachable from any active state.
var taskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskStatusInbox: {
		TaskStatusPlanned:    true,
		TaskStatusInProgress: true,
		TaskStatusCancelled:  true,
	},
	TaskStatusPlanned: {
		TaskStatusCollaborating: true,
		TaskStatusInProgress:    true,
		TaskStatusPending:       true,
		TaskStatusCancelled:     true,
		TaskStatusFailed:        true,
	},
	TaskStatusCollaborating: {
		TaskStatusInProgress: true,
		TaskStatusReview:     true,
		TaskStatusPending:    true,
		TaskStatusCancelled:  true,
		TaskStatusFailed:     true,
	},
	TaskStatusInProgress: {
		TaskStatusCollaborating: true,
		TaskStatusReview:        true,
		TaskStatusDone:          true,
		TaskStatusPending:       true,
		TaskStatusCancelled:     true,
		TaskStatusFailed:        true,
	},
	TaskStatusReview: {
		TaskStatusCollaborating: true,
		TaskStatusInProgress:    true,
		TaskStatusDone:          true,
		TaskStatusPending:       true,
		TaskStatusCancelled:     true,
		TaskStatusFailed:        true,
	},
	TaskStatusPending: {
		TaskStatusPlanned:       true,
		TaskStatusCollaborating: true,
		TaskStatusInProgress:    true,
		TaskStatusReview:        true,
		TaskStatusCancelled:     true,
	},
}

// CanTransition returns true if a task may move from one status to another.
func CanTransition(from, to TaskStatus) bool {
	return taskTransitions[from][to]
}
