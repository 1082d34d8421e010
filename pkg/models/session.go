package models

import "time"

// ExecutionSession binds a task to an owning agent and provider for the
// duration of one or more runs. The session id is stable across pause and
// resume so downstream prompts can signal continued ownership.
type ExecutionSession struct {
	// TaskID is the task this session belongs to.
	TaskID string `json:"task_id"`
	// AgentID is the agent that owns this session.
	AgentID string `json:"agent_id"`
	// Provider is the execution backend bound to this session.
	Provider Provider `json:"provider"`
	// SessionID is the stable identifier carried across runs.
	SessionID string `json:"session_id"`
	// OpenedAt is when the session was first opened.
	OpenedAt time.Time `json:"opened_at"`
	// LastTouchedAt is when the session last saw activity.
	LastTouchedAt time.Time `json:"last_touched_at"`
	// Activity is a compact record of what happened in prior runs,
	// used to build the continuation brief on resume.
	Activity string `json:"activity,omitempty"`
}
