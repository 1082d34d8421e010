package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bureaulab/bureau/internal/store"
	"github.com/bureaulab/bureau/internal/worktree"
	"github.com/bureaulab/bureau/pkg/models"
)

var (
	cleanupDryRun   bool
	cleanupSessions bool
	cleanupProject  string
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned worktrees and stale sessions",
	Long: `Clean up orphaned task worktrees and stale session data.

This command:
  - Lists Bureau-created worktrees in the project
  - Removes worktrees whose task is no longer active
  - Runs git worktree prune

With --sessions flag:
  - Deletes execution sessions for terminal tasks

Use this after a crash or interrupted run to clean up.

Examples:
  bureau cleanup               # Clean the current project
  bureau cleanup --dry-run     # Show what would be removed
  bureau cleanup --sessions    # Also purge sessions of finished tasks`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without removing it")
	cleanupCmd.Flags().BoolVar(&cleanupSessions, "sessions", false, "Also purge sessions of finished tasks")
	cleanupCmd.Flags().StringVar(&cleanupProject, "project", "", "Project path (default: current directory)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	logger := newConsoleLogger()

	projectPath := cleanupProject
	if projectPath == "" {
		var err error
		if projectPath, err = os.Getwd(); err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
	}

	db, err := store.Open(store.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	active, err := db.ListTasksByStatus(
		models.TaskStatusPlanned, models.TaskStatusCollaborating,
		models.TaskStatusInProgress, models.TaskStatusReview, models.TaskStatusPending,
	)
	if err != nil {
		return fmt.Errorf("list active tasks: %w", err)
	}
	activeIDs := make([]string, 0, len(active))
	for _, t := range active {
		activeIDs = append(activeIDs, t.ID)
	}

	if cleanupDryRun {
		fmt.Printf("Would prune worktrees in %s not belonging to %d active tasks\n",
			projectPath, len(activeIDs))
	} else {
		trees, err := worktree.NewManager("", logger)
		if err != nil {
			return fmt.Errorf("worktree manager: %w", err)
		}
		removed, err := trees.CleanupOrphans(projectPath, activeIDs)
		if err != nil {
			return fmt.Errorf("cleanup worktrees: %w", err)
		}
		fmt.Printf("Removed %d orphaned worktree(s)\n", removed)
	}

	if !cleanupSessions {
		return nil
	}

	terminal, err := db.ListTasksByStatus(
		models.TaskStatusDone, models.TaskStatusCancelled, models.TaskStatusFailed,
	)
	if err != nil {
		return fmt.Errorf("list finished tasks: %w", err)
	}
	purged := 0
	for _, t := range terminal {
		if _, err := db.GetSession(t.ID); err != nil {
			continue
		}
		if cleanupDryRun {
			purged++
			continue
		}
		if err := db.DeleteSession(t.ID); err == nil {
			purged++
		}
	}
	verb := "Purged"
	if cleanupDryRun {
		verb = "Would purge"
	}
	fmt.Printf("%s %d stale session(s)\n", verb, purged)
	return nil
}
