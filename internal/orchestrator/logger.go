// Package orchestrator coordinates task execution end to end: the state
// machine, agent assignment, worktree isolation, session continuity, and the
// stop/resume control surface.
package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TaskLogger provides per-task file logging for execution runs.
// It wraps file-based logging with thread-safe access.
type TaskLogger struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewTaskLogger creates a logger writing to the specified path.
// If the path is empty, returns a no-op logger.
// Creates parent directories if they don't exist.
func NewTaskLogger(logPath string) (*TaskLogger, error) {
	if logPath == "" {
		return &TaskLogger{}, nil
	}

	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logger := &TaskLogger{path: logPath, file: f}
	logger.Log("=== Task log started at %s ===", time.Now().Format(time.RFC3339))
	return logger, nil
}

// NewTaskLoggerForProject creates a task logger under the project's
// .bureau/logs directory. Returns a no-op logger if the file cannot be
// created.
func NewTaskLoggerForProject(projectPath, taskID string) *TaskLogger {
	logPath := filepath.Join(projectPath, ".bureau", "logs", "task-"+taskID+".log")
	logger, err := NewTaskLogger(logPath)
	if err != nil {
		return &TaskLogger{}
	}
	return logger
}

// Path returns the log file path, or empty for a no-op logger.
func (l *TaskLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Log writes a timestamped message to the task log.
// If the logger is nil or has no file, this is a no-op.
func (l *TaskLogger) Log(format string, args ...interface{}) {
	if l == nil || l.file == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(l.file, "[%s] %s\n", timestamp, msg)
	l.file.Sync()
}

// Close closes the log file.
// Safe to call on nil logger or logger without file.
func (l *TaskLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}
