package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/bureaulab/bureau/pkg/models"
)

func scanAgent(row interface{ Scan(...any) error }) (*models.Agent, error) {
	var (
		a              models.Agent
		current, model sql.NullString
	)
	err := row.Scan(&a.ID, &a.Name, &a.Role, &a.DepartmentID, &a.Provider,
		&a.Status, &current, &model, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.CurrentTaskID = current.String
	a.Model = model.String
	return &a, nil
}

const agentColumns = `id, name, role, department_id, provider, status, current_task_id, model, created_at`

// CreateAgent inserts a new agent row.
func (db *DB) CreateAgent(a *models.Agent) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Role, a.DepartmentID, a.Provider, a.Status,
		nullStr(a.CurrentTaskID), nullStr(a.Model), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

// GetAgent returns an agent by id.
func (db *DB) GetAgent(id string) (*models.Agent, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	row := db.conn.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// UpdateAgent persists all mutable agent fields.
func (db *DB) UpdateAgent(a *models.Agent) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.Exec(`
		UPDATE agents SET name = ?, role = ?, department_id = ?, provider = ?,
			status = ?, current_task_id = ?, model = ?
		WHERE id = ?`,
		a.Name, a.Role, a.DepartmentID, a.Provider, a.Status,
		nullStr(a.CurrentTaskID), nullStr(a.Model), a.ID)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAgents returns all agents.
func (db *DB) ListAgents() ([]*models.Agent, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.conn.Query(`SELECT ` + agentColumns + ` FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanDepartment(row interface{ Scan(...any) error }) (*models.Department, error) {
	var (
		d                       models.Department
		aliases, keywords, lead sql.NullString
	)
	if err := row.Scan(&d.ID, &d.Name, &aliases, &keywords, &lead); err != nil {
		return nil, err
	}
	if aliases.Valid && aliases.String != "" {
		if err := json.Unmarshal([]byte(aliases.String), &d.Aliases); err != nil {
			return nil, fmt.Errorf("decode aliases: %w", err)
		}
	}
	if keywords.Valid && keywords.String != "" {
		if err := json.Unmarshal([]byte(keywords.String), &d.Keywords); err != nil {
			return nil, fmt.Errorf("decode keywords: %w", err)
		}
	}
	d.LeaderAgentID = lead.String
	return &d, nil
}

// CreateDepartment inserts a new department row. Aliases and keywords are
// stored as JSON arrays.
func (db *DB) CreateDepartment(d *models.Department) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	aliases, err := json.Marshal(d.Aliases)
	if err != nil {
		return fmt.Errorf("encode aliases: %w", err)
	}
	keywords, err := json.Marshal(d.Keywords)
	if err != nil {
		return fmt.Errorf("encode keywords: %w", err)
	}
	_, err = db.conn.Exec(`
		INSERT INTO departments (id, name, aliases, keywords, leader_agent_id)
		VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.Name, string(aliases), string(keywords), nullStr(d.LeaderAgentID))
	if err != nil {
		return fmt.Errorf("create department: %w", err)
	}
	return nil
}

// UpdateDepartment replaces a department's routing vocabulary and leader.
func (db *DB) UpdateDepartment(d *models.Department) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	aliases, err := json.Marshal(d.Aliases)
	if err != nil {
		return fmt.Errorf("encode aliases: %w", err)
	}
	keywords, err := json.Marshal(d.Keywords)
	if err != nil {
		return fmt.Errorf("encode keywords: %w", err)
	}
	res, err := db.conn.Exec(`
		UPDATE departments SET name = ?, aliases = ?, keywords = ?, leader_agent_id = ?
		WHERE id = ?`,
		d.Name, string(aliases), string(keywords), nullStr(d.LeaderAgentID), d.ID)
	if err != nil {
		return fmt.Errorf("update department: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetDepartment returns a department by id.
func (db *DB) GetDepartment(id string) (*models.Department, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	row := db.conn.QueryRow(
		`SELECT id, name, aliases, keywords, leader_agent_id FROM departments WHERE id = ?`, id)
	d, err := scanDepartment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get department: %w", err)
	}
	return d, nil
}

// ListDepartments returns all departments.
func (db *DB) ListDepartments() ([]*models.Department, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.conn.Query(`SELECT id, name, aliases, keywords, leader_agent_id FROM departments`)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	defer rows.Close()

	var out []*models.Department
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// LeaderOf returns the team leader agent of a department.
func (db *DB) LeaderOf(departmentID string) (*models.Agent, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	row := db.conn.QueryRow(
		`SELECT `+agentColumns+` FROM agents WHERE department_id = ? AND role = ? LIMIT 1`,
		departmentID, models.RoleTeamLeader)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get department leader: %w", err)
	}
	return a, nil
}
