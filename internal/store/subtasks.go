package store

import (
	"database/sql"
	"fmt"

	"github.com/bureaulab/bureau/pkg/models"
)

const subtaskColumns = `id, task_id, title, description, status, agent_id,
	target_department_id, blocked_reason, delegated_task_id, correlation_id,
	created_at, completed_at`

func scanSubtask(row interface{ Scan(...any) error }) (*models.Subtask, error) {
	var (
		s                          models.Subtask
		desc, agent, dept          sql.NullString
		blocked, delegated, corrID sql.NullString
		completed                  sql.NullTime
	)
	err := row.Scan(&s.ID, &s.TaskID, &s.Title, &desc, &s.Status, &agent,
		&dept, &blocked, &delegated, &corrID, &s.CreatedAt, &completed)
	if err != nil {
		return nil, err
	}
	s.Description = desc.String
	s.AgentID = agent.String
	s.TargetDepartmentID = dept.String
	s.BlockedReason = blocked.String
	s.DelegatedTaskID = delegated.String
	s.CorrelationID = corrID.String
	if completed.Valid {
		s.CompletedAt = &completed.Time
	}
	return &s, nil
}

// CreateSubtask inserts a subtask row.
func (db *DB) CreateSubtask(s *models.Subtask) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO subtasks (`+subtaskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.TaskID, s.Title, nullStr(s.Description), s.Status,
		nullStr(s.AgentID), nullStr(s.TargetDepartmentID), nullStr(s.BlockedReason),
		nullStr(s.DelegatedTaskID), nullStr(s.CorrelationID), s.CreatedAt,
		nullTime(s.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert subtask: %w", err)
	}
	return nil
}

// GetSubtask returns a subtask by id.
func (db *DB) GetSubtask(id string) (*models.Subtask, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	row := db.conn.QueryRow(`SELECT `+subtaskColumns+` FROM subtasks WHERE id = ?`, id)
	s, err := scanSubtask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subtask: %w", err)
	}
	return s, nil
}

// GetSubtaskByCorrelation finds a task's subtask by provider correlation id.
func (db *DB) GetSubtaskByCorrelation(taskID, correlationID string) (*models.Subtask, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	row := db.conn.QueryRow(
		`SELECT `+subtaskColumns+` FROM subtasks WHERE task_id = ? AND correlation_id = ?`,
		taskID, correlationID)
	s, err := scanSubtask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subtask by correlation: %w", err)
	}
	return s, nil
}

// UpdateSubtask persists all mutable subtask fields.
func (db *DB) UpdateSubtask(s *models.Subtask) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.Exec(`
		UPDATE subtasks SET title = ?, description = ?, status = ?, agent_id = ?,
			target_department_id = ?, blocked_reason = ?, delegated_task_id = ?,
			correlation_id = ?, completed_at = ?
		WHERE id = ?`,
		s.Title, nullStr(s.Description), s.Status, nullStr(s.AgentID),
		nullStr(s.TargetDepartmentID), nullStr(s.BlockedReason),
		nullStr(s.DelegatedTaskID), nullStr(s.CorrelationID),
		nullTime(s.CompletedAt), s.ID)
	if err != nil {
		return fmt.Errorf("update subtask: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSubtasks returns all subtasks of a task in creation order.
func (db *DB) ListSubtasks(taskID string) ([]*models.Subtask, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.conn.Query(
		`SELECT `+subtaskColumns+` FROM subtasks WHERE task_id = ? ORDER BY created_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}
	defer rows.Close()

	var out []*models.Subtask
	for rows.Next() {
		s, err := scanSubtask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subtask: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListSubtasksByDelegatedTask returns subtasks linked to a delegated child task.
func (db *DB) ListSubtasksByDelegatedTask(childTaskID string) ([]*models.Subtask, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.conn.Query(
		`SELECT `+subtaskColumns+` FROM subtasks WHERE delegated_task_id = ?`, childTaskID)
	if err != nil {
		return nil, fmt.Errorf("list subtasks by delegated task: %w", err)
	}
	defer rows.Close()

	var out []*models.Subtask
	for rows.Next() {
		s, err := scanSubtask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subtask: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
