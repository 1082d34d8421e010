// Package session manages execution sessions: the binding of a task to an
// owning agent and provider that survives pause and resume.
package session

import (
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/bureaulab/bureau/internal/store"
	"github.com/bureaulab/bureau/pkg/models"
)

// maxActivityLen bounds the stored activity record so the continuation brief
// stays compact.
const maxActivityLen = 4096

// Manager opens, touches, and closes execution sessions. Sessions are
// persisted through the Store so ownership survives a process restart.
type Manager struct {
	store  store.SessionStore
	logger *slog.Logger

	mu      sync.Mutex
	entropy *rand.Rand
	now     func() time.Time
}

// NewManager creates a session manager.
func NewManager(st store.SessionStore, logger *slog.Logger) *Manager {
	return &Manager{
		store:   st,
		logger:  logger,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
	}
}

// EnsureSession returns the open session for a task, opening a new one with
// a fresh id if none exists. Idempotent per task: the session id is stable
// across pause and resume.
func (m *Manager) EnsureSession(taskID, agentID string, provider models.Provider) (*models.ExecutionSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.store.GetSession(taskID)
	if err == nil {
		existing.AgentID = agentID
		existing.Provider = provider
		existing.LastTouchedAt = m.now()
		if err := m.store.PutSession(existing); err != nil {
			return nil, fmt.Errorf("touch session: %w", err)
		}
		return existing, nil
	}
	if err != store.ErrNotFound {
		return nil, fmt.Errorf("lookup session: %w", err)
	}

	now := m.now()
	s := &models.ExecutionSession{
		TaskID:        taskID,
		AgentID:       agentID,
		Provider:      provider,
		SessionID:     ulid.MustNew(ulid.Timestamp(now), m.entropy).String(),
		OpenedAt:      now,
		LastTouchedAt: now,
	}
	if err := m.store.PutSession(s); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	m.logger.Debug("session opened", "task_id", taskID, "session_id", s.SessionID)
	return s, nil
}

// RecordActivity appends a line to the session's activity record, trimming
// from the front when the record grows past its bound. Missing sessions are
// ignored: activity is advisory.
func (m *Manager) RecordActivity(taskID, line string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.store.GetSession(taskID)
	if err != nil {
		return
	}

	if s.Activity != "" {
		s.Activity += "\n"
	}
	s.Activity += line
	if len(s.Activity) > maxActivityLen {
		cut := s.Activity[len(s.Activity)-maxActivityLen:]
		if i := strings.IndexByte(cut, '\n'); i >= 0 {
			cut = cut[i+1:]
		}
		s.Activity = cut
	}
	s.LastTouchedAt = m.now()

	if err := m.store.PutSession(s); err != nil {
		m.logger.Warn("failed to record session activity", "task_id", taskID, "error", err)
	}
}

// EndSession closes and removes the session for a task. Safe to call when
// none exists.
func (m *Manager) EndSession(taskID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.store.GetSession(taskID); err == store.ErrNotFound {
		return nil
	}
	if err := m.store.DeleteSession(taskID); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	m.logger.Debug("session ended", "task_id", taskID, "reason", reason)
	return nil
}

// ContinuationContext produces a compact brief from the prior session's
// activity, used on resume so the agent does not re-explore the project.
// Returns "" when there is no session or no recorded activity.
func (m *Manager) ContinuationContext(taskID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.store.GetSession(taskID)
	if err != nil || s.Activity == "" {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("You are resuming a task you already started. Same session, same ownership; ")
	sb.WriteString("do not restart narration or re-explore the project.\n")
	sb.WriteString("What happened so far:\n")
	for _, line := range strings.Split(s.Activity, "\n") {
		sb.WriteString("- ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}
