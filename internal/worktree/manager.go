// Package worktree provides per-task git worktree isolation, merge,
// rollback, and cleanup.
package worktree

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bureaulab/bureau/internal/git"
)

// branchPrefix names task branches so orphan detection can recognize them.
const branchPrefix = "bureau-task-"

// Binding records a live worktree for a task. At most one binding exists
// per task id at any instant.
type Binding struct {
	// TaskID is the task this worktree isolates.
	TaskID string
	// BranchName is the branch checked out in the worktree.
	BranchName string
	// Path is the absolute path to the worktree directory.
	Path string
	// ProjectPath is the main repository the worktree was created from.
	ProjectPath string
	// CreatedAt is when the worktree was created.
	CreatedAt time.Time
}

// MergeResult reports the outcome of merging a task branch.
type MergeResult struct {
	// Success indicates the merge completed without conflicts.
	Success bool
	// Message is a human-readable summary of the outcome.
	Message string
	// Conflicts lists conflicted files when the merge could not complete.
	Conflicts []string
}

// RunnerFactory creates a git runner rooted at the given directory.
type RunnerFactory func(dir string) git.Runner

// Manager handles git worktree lifecycle for task isolation.
type Manager struct {
	baseDir    string
	newRunner  RunnerFactory
	logger     *slog.Logger

	mu       sync.Mutex
	bindings map[string]*Binding // taskID -> binding
}

// NewManager creates a worktree Manager. baseDir is where worktrees are
// created; it defaults to ~/.cache/bureau/worktrees.
func NewManager(baseDir string, logger *slog.Logger) (*Manager, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".cache", "bureau", "worktrees")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create worktree base directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		baseDir:   baseDir,
		newRunner: func(dir string) git.Runner { return git.NewRunner(dir) },
		logger:    logger,
		bindings:  make(map[string]*Binding),
	}, nil
}

// NewManagerWithRunner creates a Manager with a custom runner factory (for testing).
func NewManagerWithRunner(baseDir string, logger *slog.Logger, factory RunnerFactory) (*Manager, error) {
	m, err := NewManager(baseDir, logger)
	if err != nil {
		return nil, err
	}
	m.newRunner = factory
	return m, nil
}

// BranchFor returns the deterministic branch name for a task.
func BranchFor(taskID string) string {
	return branchPrefix + taskID
}

// Create creates an isolated worktree and branch for the task. It returns
// the worktree path, or "" when the project is not a git repository or
// creation fails; in that case the caller runs directly in the project path.
func (m *Manager) Create(projectPath, taskID, agentName string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.bindings[taskID]; ok {
		return existing.Path
	}

	repo := m.newRunner(projectPath)
	if !repo.IsRepo() {
		m.logger.Warn("project is not a git repository, running directly",
			"task_id", taskID, "project", projectPath)
		return ""
	}

	branch := BranchFor(taskID)
	path := filepath.Join(m.baseDir, branch)

	if err := repo.WorktreeAddNewBranch(path, branch); err != nil {
		m.logger.Warn("worktree creation failed, running directly",
			"task_id", taskID, "error", err)
		return ""
	}

	m.bindings[taskID] = &Binding{
		TaskID:      taskID,
		BranchName:  branch,
		Path:        path,
		ProjectPath: projectPath,
		CreatedAt:   time.Now(),
	}
	m.logger.Info("worktree created",
		"task_id", taskID, "agent", agentName, "path", path)
	return path
}

// Binding returns the live binding for a task, or nil.
func (m *Manager) Binding(taskID string) *Binding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bindings[taskID]
}

// Diff returns the uncommitted diff inside the task's worktree.
func (m *Manager) Diff(taskID string) (string, error) {
	b := m.Binding(taskID)
	if b == nil {
		return "", fmt.Errorf("no worktree for task %s", taskID)
	}
	wt := m.newRunner(b.Path)
	return wt.Diff("HEAD")
}

// Merge commits any outstanding work on the task branch, then merges it into
// the project's current branch. Conflicts are reported, never auto-resolved.
func (m *Manager) Merge(projectPath, taskID string) MergeResult {
	b := m.Binding(taskID)
	if b == nil {
		return MergeResult{Message: "no worktree for task"}
	}

	wt := m.newRunner(b.Path)
	if changed, err := wt.HasChanges(); err == nil && changed {
		if err := wt.Add("-A"); err == nil {
			_ = wt.Commit("bureau: task " + taskID + " work")
		}
	}

	repo := m.newRunner(projectPath)
	if err := repo.Merge(b.BranchName); err != nil {
		conflicted, cfErr := repo.ConflictedFiles()
		if cfErr == nil && len(conflicted) > 0 {
			// Leave the tree clean; the conflict report is the deliverable.
			_ = repo.MergeAbort()
			return MergeResult{
				Message:   fmt.Sprintf("merge of %s has conflicts", b.BranchName),
				Conflicts: conflicted,
			}
		}
		return MergeResult{Message: fmt.Sprintf("merge failed: %v", err)}
	}

	return MergeResult{Success: true, Message: fmt.Sprintf("merged %s", b.BranchName)}
}

// Rollback discards uncommitted changes inside the task's worktree so
// cancellation never leaves a dirty tree. Returns false when no worktree
// exists or the discard failed. Pausing must not call this.
func (m *Manager) Rollback(taskID, reason string) bool {
	b := m.Binding(taskID)
	if b == nil {
		return false
	}

	wt := m.newRunner(b.Path)
	if err := wt.ResetHard(); err != nil {
		m.logger.Error("rollback reset failed", "task_id", taskID, "error", err)
		return false
	}
	if err := wt.CleanUntracked(); err != nil {
		m.logger.Error("rollback clean failed", "task_id", taskID, "error", err)
		return false
	}
	m.logger.Info("worktree rolled back", "task_id", taskID, "reason", reason)
	return true
}

// Cleanup removes the worktree directory and its local branch after merge
// or discard, and drops the binding.
func (m *Manager) Cleanup(taskID string) error {
	m.mu.Lock()
	b := m.bindings[taskID]
	delete(m.bindings, taskID)
	m.mu.Unlock()

	if b == nil {
		return nil
	}

	repo := m.newRunner(b.ProjectPath)
	if err := repo.WorktreeRemoveForce(b.Path); err != nil {
		// Fall back to removing the directory and pruning the entry.
		if rmErr := os.RemoveAll(b.Path); rmErr != nil {
			return fmt.Errorf("remove worktree: %w", err)
		}
		_ = repo.WorktreePruneExpireNow()
	}
	if exists, err := repo.BranchExists(b.BranchName); err == nil && exists {
		_ = repo.DeleteBranch(b.BranchName)
	}
	return nil
}

// ActiveTaskIDs returns the task ids with live bindings.
func (m *Manager) ActiveTaskIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.bindings))
	for id := range m.bindings {
		ids = append(ids, id)
	}
	return ids
}

// CleanupOrphans removes bureau-managed worktrees whose task is no longer
// active. Called at startup to recover from crashes. Returns the number of
// worktrees removed.
func (m *Manager) CleanupOrphans(projectPath string, activeTaskIDs []string) (int, error) {
	active := make(map[string]bool, len(activeTaskIDs))
	for _, id := range activeTaskIDs {
		active[id] = true
	}

	repo := m.newRunner(projectPath)
	out, err := repo.WorktreeListPorcelain()
	if err != nil {
		return 0, fmt.Errorf("list worktrees: %w", err)
	}

	removed := 0
	for _, wt := range parsePorcelain(out) {
		if !strings.HasPrefix(wt.branch, branchPrefix) {
			continue
		}
		taskID := strings.TrimPrefix(wt.branch, branchPrefix)
		if active[taskID] {
			continue
		}
		if err := repo.WorktreeRemoveForce(wt.path); err != nil {
			if rmErr := os.RemoveAll(wt.path); rmErr != nil {
				continue
			}
		}
		_ = repo.DeleteBranch(wt.branch)
		removed++
	}
	_ = repo.WorktreePruneExpireNow()
	return removed, nil
}

type porcelainEntry struct {
	path   string
	branch string
}

// parsePorcelain parses the output of 'git worktree list --porcelain'.
func parsePorcelain(out string) []porcelainEntry {
	var entries []porcelainEntry
	var current porcelainEntry

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if current.path != "" {
				entries = append(entries, current)
				current = porcelainEntry{}
			}
		case strings.HasPrefix(line, "worktree "):
			current.path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "branch "):
			ref := strings.TrimPrefix(line, "branch ")
			current.branch = strings.TrimPrefix(ref, "refs/heads/")
		}
	}
	if current.path != "" {
		entries = append(entries, current)
	}
	return entries
}
