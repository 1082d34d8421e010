package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bureaulab/bureau/internal/meeting"
	"github.com/bureaulab/bureau/internal/orchestrator"
	"github.com/bureaulab/bureau/pkg/models"
)

var servePollInterval time.Duration

// meetingRetryInterval limits how often a held or failing meeting is
// re-convened for the same task.
const meetingRetryInterval = time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the office daemon",
	Long: `Run the Bureau daemon.

The daemon conducts plan-approval meetings for planned tasks, dispatches
approved and queued tasks to their agents, conducts review meetings for
finished work, advances cross-department delegation, and periodically
reconciles delegation state from the database so crashed hand-offs recover.
Stop it with Ctrl-C; active runs are paused, not killed.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&servePollInterval, "poll", 5*time.Second,
		"How often to scan for dispatchable tasks")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newConsoleLogger()
	a, err := newApp(logger)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Runs get their own context so a shutdown signal cannot hard-kill a
	// subprocess while the pause path is interrupting it gently. It is
	// cancelled only after every active task has been paused.
	runCtx, stopRuns := context.WithCancel(context.Background())
	defer stopRuns()

	if err := a.queue.Start(ctx); err != nil {
		return fmt.Errorf("start delegation queue: %w", err)
	}
	defer a.queue.Close()

	logger.Info("bureau daemon started", "db", a.db.Path(), "poll", servePollInterval)

	ticker := time.NewTicker(servePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			a.orch.PauseActive()
			stopRuns()
			return nil
		case <-ticker.C:
			a.dispatchQueued(runCtx)
			a.reviewFinished(runCtx)
		}
	}
}

// dispatchQueued starts every queued task that already has an agent. A
// planned top-level task goes through its plan-approval meeting first; a
// hold leaves it planned for a later round.
func (a *app) dispatchQueued(ctx context.Context) {
	tasks, err := a.db.ListTasksByStatus(models.TaskStatusInbox, models.TaskStatusPlanned)
	if err != nil {
		a.logger.Error("scanning for queued tasks failed", "error", err)
		return
	}
	for _, task := range tasks {
		if task.AgentID == "" {
			continue
		}
		if task.Status == models.TaskStatusPlanned && task.ParentTaskID == "" {
			if !a.kickoffApproved(ctx, task) {
				continue
			}
		}
		_, err := a.orch.RunTask(ctx, task.ID)
		switch {
		case err == nil:
			a.logger.Info("task dispatched", "task_id", task.ID, "agent_id", task.AgentID)
		case errors.Is(err, orchestrator.ErrAgentBusy):
			// Leave it queued; the next scan retries.
		default:
			a.logger.Warn("task dispatch failed", "task_id", task.ID, "error", err)
		}
	}
}

// kickoffApproved conducts the plan-approval meeting for a planned task,
// rate-limited per task so a held plan is not re-litigated every poll.
func (a *app) kickoffApproved(ctx context.Context, task *models.Task) bool {
	if !a.meetingDue(task.ID) {
		return false
	}
	res, err := a.orch.ConductKickoff(ctx, task.ID)
	if err != nil {
		a.logger.Warn("kickoff meeting failed", "task_id", task.ID, "error", err)
		return false
	}
	if res.Outcome != meeting.OutcomeApproved {
		a.logger.Info("plan held", "task_id", task.ID, "outcome", res.Outcome)
		return false
	}
	return true
}

// reviewFinished conducts review meetings for tasks whose runs completed.
// Approval completes the task; a revision request seeds the notes and
// re-runs it.
func (a *app) reviewFinished(ctx context.Context) {
	tasks, err := a.db.ListTasksByStatus(models.TaskStatusReview)
	if err != nil {
		a.logger.Error("scanning for reviewable tasks failed", "error", err)
		return
	}
	for _, task := range tasks {
		if !a.meetingDue(task.ID) {
			continue
		}
		res, err := a.orch.ConductReview(ctx, task.ID)
		switch {
		case errors.Is(err, orchestrator.ErrAwaitingDelegation):
			// Delegated work is still in flight; the queue advances it.
		case err != nil:
			a.logger.Warn("review meeting failed", "task_id", task.ID, "error", err)
		default:
			a.logger.Info("review finished",
				"task_id", task.ID, "outcome", res.Outcome, "seeded", res.Seeded)
		}
	}
}

// meetingDue rate-limits meetings per task. The serve loop is the only
// caller, so no locking is needed.
func (a *app) meetingDue(taskID string) bool {
	if t, ok := a.lastMeeting[taskID]; ok && time.Since(t) < meetingRetryInterval {
		return false
	}
	a.lastMeeting[taskID] = time.Now()
	return true
}
