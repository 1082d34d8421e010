package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// DB is the SQLite-backed Store implementation.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.Mutex
}

// Verify DB implements Store at compile time.
var _ Store = (*DB)(nil)

// DefaultDBPath returns the default database location under XDG data home.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "bureau", "bureau.db")
}

// Open opens an SQLite database at the given path, creating parent
// directories as needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Tasks},
		{2, migrationV2Subtasks},
		{3, migrationV3Agents},
		{4, migrationV4OAuth},
		{5, migrationV5Sessions},
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Tasks = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT,
	status TEXT NOT NULL DEFAULT 'inbox',
	agent_id TEXT,
	department_id TEXT,
	project_path TEXT,
	parent_task_id TEXT,
	created_at DATETIME NOT NULL,
	started_at DATETIME,
	completed_at DATETIME,
	updated_at DATETIME NOT NULL,
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_task_id);
`

const migrationV2Subtasks = `
CREATE TABLE IF NOT EXISTS subtasks (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	agent_id TEXT,
	target_department_id TEXT,
	blocked_reason TEXT,
	delegated_task_id TEXT,
	correlation_id TEXT,
	created_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_subtasks_task_id ON subtasks(task_id);
CREATE INDEX IF NOT EXISTS idx_subtasks_correlation ON subtasks(task_id, correlation_id);
CREATE INDEX IF NOT EXISTS idx_subtasks_delegated ON subtasks(delegated_task_id);
`

const migrationV3Agents = `
CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	role TEXT NOT NULL,
	department_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'idle',
	current_task_id TEXT,
	model TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agents_department ON agents(department_id);

CREATE TABLE IF NOT EXISTS departments (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	aliases TEXT,
	keywords TEXT,
	leader_agent_id TEXT
);
`

const migrationV4OAuth = `
CREATE TABLE IF NOT EXISTS oauth_accounts (
	id TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	access_token TEXT NOT NULL,
	refresh_token TEXT,
	expires_at DATETIME,
	priority INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'active',
	failure_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	last_success_at DATETIME,
	model TEXT
);

CREATE INDEX IF NOT EXISTS idx_oauth_provider ON oauth_accounts(provider, priority);
`

const migrationV5Sessions = `
CREATE TABLE IF NOT EXISTS sessions (
	task_id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	session_id TEXT NOT NULL,
	opened_at DATETIME NOT NULL,
	last_touched_at DATETIME NOT NULL,
	activity TEXT
);
`
