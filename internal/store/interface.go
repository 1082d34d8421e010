// Package store provides the narrow repository contract the orchestration
// core consumes, plus an SQLite implementation.
package store

import (
	"errors"

	"github.com/bureaulab/bureau/pkg/models"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("row not found")

// TaskStore reads and writes task rows.
type TaskStore interface {
	CreateTask(t *models.Task) error
	GetTask(id string) (*models.Task, error)
	UpdateTask(t *models.Task) error
	ListTasksByStatus(statuses ...models.TaskStatus) ([]*models.Task, error)
	// ListChildTasks returns tasks delegated from the given parent.
	ListChildTasks(parentID string) ([]*models.Task, error)
}

// SubtaskStore reads and writes subtask rows.
type SubtaskStore interface {
	CreateSubtask(s *models.Subtask) error
	GetSubtask(id string) (*models.Subtask, error)
	// GetSubtaskByCorrelation finds a task's subtask by provider correlation id.
	GetSubtaskByCorrelation(taskID, correlationID string) (*models.Subtask, error)
	UpdateSubtask(s *models.Subtask) error
	ListSubtasks(taskID string) ([]*models.Subtask, error)
	// ListSubtasksByDelegatedTask returns subtasks linked to a delegated child task.
	ListSubtasksByDelegatedTask(childTaskID string) ([]*models.Subtask, error)
}

// AgentStore reads agent and department rows.
type AgentStore interface {
	GetAgent(id string) (*models.Agent, error)
	UpdateAgent(a *models.Agent) error
	ListAgents() ([]*models.Agent, error)
	GetDepartment(id string) (*models.Department, error)
	ListDepartments() ([]*models.Department, error)
	// LeaderOf returns the team leader agent of a department.
	LeaderOf(departmentID string) (*models.Agent, error)
}

// OAuthStore reads and writes oauth account rows.
type OAuthStore interface {
	ListOAuthAccounts(provider models.Provider) ([]*models.OAuthAccount, error)
	UpdateOAuthAccount(a *models.OAuthAccount) error
}

// SessionStore persists execution sessions across process restarts.
type SessionStore interface {
	GetSession(taskID string) (*models.ExecutionSession, error)
	PutSession(s *models.ExecutionSession) error
	DeleteSession(taskID string) error
}

// Store is the complete repository contract.
type Store interface {
	TaskStore
	SubtaskStore
	AgentStore
	OAuthStore
	SessionStore
}
