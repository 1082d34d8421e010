// Package git provides an interface for the git operations used by
// worktree isolation, merge, and rollback.
package git

// Runner defines the git operations consumed by the worktree manager.
// A fake implementation backs the worktree tests.
type Runner interface {
	// IsRepo returns true if the runner's directory is inside a git repository.
	IsRepo() bool
	// CurrentBranch returns the name of the current branch.
	CurrentBranch() (string, error)
	// BranchExists returns true if the branch exists.
	BranchExists(name string) (bool, error)
	// DeleteBranch force-deletes the specified branch.
	DeleteBranch(name string) error

	// Status returns the output of git status --porcelain.
	Status() (string, error)
	// HasChanges returns true if there are uncommitted changes.
	HasChanges() (bool, error)
	// Diff returns the diff of the working tree against the given base.
	Diff(base string) (string, error)
	// ConflictedFiles returns files with unmerged changes.
	ConflictedFiles() ([]string, error)

	// Add stages the specified paths for commit.
	Add(paths ...string) error
	// Commit creates a new commit with the given message.
	Commit(message string) error
	// Merge merges the specified branch into the current branch.
	Merge(branch string) error
	// MergeAbort aborts an in-progress merge.
	MergeAbort() error
	// HasConflicts returns true if the working tree has merge conflicts.
	HasConflicts() (bool, error)

	// ResetHard discards all tracked changes back to HEAD.
	ResetHard() error
	// CleanUntracked removes untracked files and directories.
	CleanUntracked() error

	// WorktreeAddNewBranch creates a worktree at path with a new branch.
	WorktreeAddNewBranch(path, branch string) error
	// WorktreeRemoveForce removes the worktree even with uncommitted changes.
	WorktreeRemoveForce(path string) error
	// WorktreeListPorcelain returns raw porcelain output for parsing.
	WorktreeListPorcelain() (string, error)
	// WorktreePruneExpireNow prunes stale worktree entries immediately.
	WorktreePruneExpireNow() error

	// Run executes an arbitrary git command and returns its output.
	Run(args ...string) (string, error)
}
