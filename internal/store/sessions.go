package store

import (
	"database/sql"
	"fmt"

	"github.com/bureaulab/bureau/pkg/models"
)

// GetSession returns the execution session bound to a task.
func (db *DB) GetSession(taskID string) (*models.ExecutionSession, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var (
		s        models.ExecutionSession
		activity sql.NullString
	)
	row := db.conn.QueryRow(`
		SELECT task_id, agent_id, provider, session_id, opened_at, last_touched_at, activity
		FROM sessions WHERE task_id = ?`, taskID)
	err := row.Scan(&s.TaskID, &s.AgentID, &s.Provider, &s.SessionID,
		&s.OpenedAt, &s.LastTouchedAt, &activity)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	s.Activity = activity.String
	return &s, nil
}

// PutSession inserts or replaces the session for a task.
func (db *DB) PutSession(s *models.ExecutionSession) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO sessions (task_id, agent_id, provider, session_id, opened_at, last_touched_at, activity)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			agent_id = excluded.agent_id,
			provider = excluded.provider,
			session_id = excluded.session_id,
			last_touched_at = excluded.last_touched_at,
			activity = excluded.activity`,
		s.TaskID, s.AgentID, s.Provider, s.SessionID,
		s.OpenedAt, s.LastTouchedAt, nullStr(s.Activity))
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// DeleteSession removes the session for a task. Missing rows are not an error.
func (db *DB) DeleteSession(taskID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.Exec(`DELETE FROM sessions WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
