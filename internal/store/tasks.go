package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/bureaulab/bureau/pkg/models"
)

// nullStr converts an empty string to NULL.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullTime converts a nil time pointer to NULL.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	var (
		t                            models.Task
		agent, dept, project, parent sql.NullString
		started, completed           sql.NullTime
		errMsg                       sql.NullString
		desc                         sql.NullString
	)
	err := row.Scan(&t.ID, &t.Title, &desc, &t.Status, &agent, &dept, &project,
		&parent, &t.CreatedAt, &started, &completed, &t.UpdatedAt, &errMsg)
	if err != nil {
		return nil, err
	}
	t.Description = desc.String
	t.AgentID = agent.String
	t.DepartmentID = dept.String
	t.ProjectPath = project.String
	t.ParentTaskID = parent.String
	if started.Valid {
		t.StartedAt = &started.Time
	}
	if completed.Valid {
		t.CompletedAt = &completed.Time
	}
	t.Error = errMsg.String
	return &t, nil
}

const taskColumns = `id, title, description, status, agent_id, department_id,
	project_path, parent_task_id, created_at, started_at, completed_at, updated_at, error`

// CreateTask inserts a task row.
func (db *DB) CreateTask(t *models.Task) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, nullStr(t.Description), t.Status, nullStr(t.AgentID),
		nullStr(t.DepartmentID), nullStr(t.ProjectPath), nullStr(t.ParentTaskID),
		t.CreatedAt, nullTime(t.StartedAt), nullTime(t.CompletedAt), t.UpdatedAt,
		nullStr(t.Error))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask returns a task by id.
func (db *DB) GetTask(id string) (*models.Task, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	row := db.conn.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// UpdateTask persists all mutable task fields.
func (db *DB) UpdateTask(t *models.Task) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	t.UpdatedAt = time.Now()
	res, err := db.conn.Exec(`
		UPDATE tasks SET title = ?, description = ?, status = ?, agent_id = ?,
			department_id = ?, project_path = ?, parent_task_id = ?,
			started_at = ?, completed_at = ?, updated_at = ?, error = ?
		WHERE id = ?`,
		t.Title, nullStr(t.Description), t.Status, nullStr(t.AgentID),
		nullStr(t.DepartmentID), nullStr(t.ProjectPath), nullStr(t.ParentTaskID),
		nullTime(t.StartedAt), nullTime(t.CompletedAt), t.UpdatedAt,
		nullStr(t.Error), t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTasksByStatus returns tasks in any of the given statuses.
func (db *DB) ListTasksByStatus(statuses ...models.TaskStatus) ([]*models.Task, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}

	rows, err := db.conn.Query(
		`SELECT `+taskColumns+` FROM tasks WHERE status IN (`+placeholders+`) ORDER BY created_at`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListChildTasks returns tasks delegated from the given parent.
func (db *DB) ListChildTasks(parentID string) ([]*models.Task, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.conn.Query(
		`SELECT `+taskColumns+` FROM tasks WHERE parent_task_id = ? ORDER BY created_at`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list child tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
