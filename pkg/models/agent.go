package models

import "time"

// Provider identifies the execution backend for an agent.
type Provider string

const (
	// ProviderClaudeCLI runs the task through the local claude CLI.
	ProviderClaudeCLI Provider = "claude-cli"
	// ProviderCodexCLI runs the task through the local codex CLI.
	ProviderCodexCLI Provider = "codex-cli"
	// ProviderGeminiCLI runs the task through the local gemini CLI.
	ProviderGeminiCLI Provider = "gemini-cli"
	// ProviderAnthropic streams from the hosted Anthropic API via OAuth accounts.
	ProviderAnthropic Provider = "anthropic"
	// ProviderOpenAI streams from the hosted OpenAI API via OAuth accounts.
	ProviderOpenAI Provider = "openai"
	// ProviderGemini streams from the hosted Gemini API.
	ProviderGemini Provider = "gemini"
	// ProviderAPI streams from an arbitrary OpenAI-compatible endpoint
	// configured by the user. Requires an explicit model.
	ProviderAPI Provider = "api"
)

// Valid returns true if the provider is a known value.
func (p Provider) Valid() bool {
	switch p {
	case ProviderClaudeCLI, ProviderCodexCLI, ProviderGeminiCLI,
		ProviderAnthropic, ProviderOpenAI, ProviderGemini, ProviderAPI:
		return true
	default:
		return false
	}
}

// CLI returns true if the provider is a local command-line family.
func (p Provider) CLI() bool {
	switch p {
	case ProviderClaudeCLI, ProviderCodexCLI, ProviderGeminiCLI:
		return true
	default:
		return false
	}
}

// AgentRole is the virtual organizational role of an agent.
type AgentRole string

const (
	// RoleTeamLeader leads a department and speaks in meetings.
	RoleTeamLeader AgentRole = "team_leader"
	// RoleSenior is an experienced worker agent.
	RoleSenior AgentRole = "senior"
	// RoleJunior is a standard worker agent.
	RoleJunior AgentRole = "junior"
	// RoleIntern is an entry-level worker agent.
	RoleIntern AgentRole = "intern"
)

// AgentStatus represents the current availability of an agent.
type AgentStatus string

const (
	// AgentStatusIdle indicates the agent is available for work.
	AgentStatusIdle AgentStatus = "idle"
	// AgentStatusWorking indicates the agent is executing a task.
	AgentStatusWorking AgentStatus = "working"
	// AgentStatusMeeting indicates the agent is seated in a meeting.
	AgentStatusMeeting AgentStatus = "meeting"
	// AgentStatusOffline indicates the agent is unavailable.
	AgentStatusOffline AgentStatus = "offline"
)

// Agent represents a virtual worker bound to a department and a provider.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Name is the display name of the agent.
	Name string `json:"name"`
	// Role is the agent's organizational role.
	Role AgentRole `json:"role"`
	// DepartmentID is the department this agent belongs to.
	DepartmentID string `json:"department_id"`
	// Provider is the execution backend for this agent.
	Provider Provider `json:"provider"`
	// Status is the agent's current availability.
	Status AgentStatus `json:"status"`
	// CurrentTaskID is the task the agent is working on, if any.
	CurrentTaskID string `json:"current_task_id,omitempty"`
	// Model overrides the provider's default model for this agent.
	Model string `json:"model,omitempty"`
	// CreatedAt is when the agent was created.
	CreatedAt time.Time `json:"created_at"`
}

// Department groups agents under a team leader.
type Department struct {
	// ID is the unique identifier for this department.
	ID string `json:"id"`
	// Name is the display name of the department.
	Name string `json:"name"`
	// Aliases are alternative names matched during department detection.
	Aliases []string `json:"aliases,omitempty"`
	// Keywords are scored during keyword-frequency department detection.
	Keywords []string `json:"keywords,omitempty"`
	// LeaderAgentID is the team leader of this department.
	LeaderAgentID string `json:"leader_agent_id,omitempty"`
}
