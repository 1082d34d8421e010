package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// ExecRunner implements Runner using exec.Command.
type ExecRunner struct {
	dir string
}

// Verify ExecRunner implements Runner at compile time.
var _ Runner = (*ExecRunner)(nil)

// NewRunner creates a git runner operating in the given directory.
func NewRunner(dir string) *ExecRunner {
	return &ExecRunner{dir: dir}
}

// run executes a git command and returns its trimmed combined output.
func (r *ExecRunner) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// runSilent executes a git command and discards its output.
func (r *ExecRunner) runSilent(args ...string) error {
	_, err := r.run(args...)
	return err
}

// Run executes an arbitrary git command and returns its output.
func (r *ExecRunner) Run(args ...string) (string, error) {
	return r.run(args...)
}

// IsRepo returns true if the runner's directory is inside a git repository.
func (r *ExecRunner) IsRepo() bool {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = r.dir
	return cmd.Run() == nil
}

// CurrentBranch returns the name of the current branch.
func (r *ExecRunner) CurrentBranch() (string, error) {
	return r.run("rev-parse", "--abbrev-ref", "HEAD")
}

// BranchExists returns true if the branch exists.
func (r *ExecRunner) BranchExists(name string) (bool, error) {
	cmd := exec.Command("git", "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	cmd.Dir = r.dir
	err := cmd.Run()
	if err != nil {
		// Exit code 1 means the branch doesn't exist; not an error.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, fmt.Errorf("check branch exists: %w", err)
	}
	return true, nil
}

// DeleteBranch force-deletes the specified branch.
func (r *ExecRunner) DeleteBranch(name string) error {
	return r.runSilent("branch", "-D", name)
}

// Status returns the output of git status --porcelain.
func (r *ExecRunner) Status() (string, error) {
	return r.run("status", "--porcelain")
}

// HasChanges returns true if there are uncommitted changes.
func (r *ExecRunner) HasChanges() (bool, error) {
	status, err := r.Status()
	if err != nil {
		return false, err
	}
	return len(status) > 0, nil
}

// Diff returns the diff of the working tree against the given base.
func (r *ExecRunner) Diff(base string) (string, error) {
	return r.run("diff", base)
}

// ConflictedFiles returns files with unmerged changes.
func (r *ExecRunner) ConflictedFiles() ([]string, error) {
	out, err := r.run("diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// Add stages the specified paths for commit.
func (r *ExecRunner) Add(paths ...string) error {
	args := append([]string{"add"}, paths...)
	return r.runSilent(args...)
}

// Commit creates a new commit with the given message.
func (r *ExecRunner) Commit(message string) error {
	return r.runSilent("commit", "-m", message)
}

// Merge merges the specified branch into the current branch.
func (r *ExecRunner) Merge(branch string) error {
	return r.runSilent("merge", "--no-ff", branch)
}

// MergeAbort aborts an in-progress merge.
func (r *ExecRunner) MergeAbort() error {
	return r.runSilent("merge", "--abort")
}

// HasConflicts returns true if the working tree has merge conflicts.
func (r *ExecRunner) HasConflicts() (bool, error) {
	status, err := r.Status()
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(status, "\n") {
		if len(line) >= 2 {
			prefix := line[:2]
			if prefix == "UU" || prefix == "AA" || prefix == "DD" ||
				prefix == "AU" || prefix == "UA" || prefix == "DU" || prefix == "UD" {
				return true, nil
			}
		}
	}
	return false, nil
}

// ResetHard discards all tracked changes back to HEAD.
func (r *ExecRunner) ResetHard() error {
	return r.runSilent("reset", "--hard", "HEAD")
}

// CleanUntracked removes untracked files and directories.
func (r *ExecRunner) CleanUntracked() error {
	return r.runSilent("clean", "-fd")
}

// WorktreeAddNewBranch creates a worktree at path with a new branch.
func (r *ExecRunner) WorktreeAddNewBranch(path, branch string) error {
	return r.runSilent("worktree", "add", path, "-b", branch)
}

// WorktreeRemoveForce removes the worktree even with uncommitted changes.
func (r *ExecRunner) WorktreeRemoveForce(path string) error {
	return r.runSilent("worktree", "remove", "--force", path)
}

// WorktreeListPorcelain returns raw porcelain output for parsing.
func (r *ExecRunner) WorktreeListPorcelain() (string, error) {
	return r.run("worktree", "list", "--porcelain")
}

// WorktreePruneExpireNow prunes stale worktree entries immediately.
func (r *ExecRunner) WorktreePruneExpireNow() error {
	return r.runSilent("worktree", "prune", "--expire", "now")
}
