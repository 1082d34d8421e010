package main

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

var rootVerbose bool

var rootCmd = &cobra.Command{
	Use:   "bureau",
	Short: "Virtual-office agent execution orchestrator",
	Long: `Bureau runs a virtual office of coding agents grouped into departments.

Tasks are executed by agents backed by local CLI tools (claude, codex,
gemini) or hosted HTTP providers with OAuth account rotation. Each run is
isolated in a git worktree, supervised with idle and hard timeouts, and its
streamed output is parsed into subtasks that can be routed across
departments. Plans are approved and results reviewed in simulated leader
meetings.

Core capabilities:
- Supervises CLI subprocesses with signal-escalation termination
- Streams hosted providers over SSE with multi-account failover
- Isolates every run in a task-scoped git worktree
- Extracts sub-work-items from agent output streams
- Delegates cross-department work through an advancement queue
- Recovers stalled delegation from persisted state`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newConsoleLogger builds the process logger with a tinted console handler.
func newConsoleLogger() *slog.Logger {
	level := slog.LevelInfo
	if rootVerbose {
		level = slog.LevelDebug
	}
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level: level,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
}
