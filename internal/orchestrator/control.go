package orchestrator

import (
	"context"
	"fmt"

	"github.com/bureaulab/bureau/internal/broadcast"
	"github.com/bureaulab/bureau/internal/delegation"
	"github.com/bureaulab/bureau/internal/worktree"
	"github.com/bureaulab/bureau/pkg/models"
)

// StopTask halts a task's execution. Pause interrupts the run gently and
// preserves the session and worktree so the task can resume later. Cancel
// kills the run, ends the session, rolls the worktree back, and cancels any
// delegated children.
func (o *Orchestrator) StopTask(taskID string, mode StopMode) error {
	task, err := o.store.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}

	switch mode {
	case StopPause:
		return o.pauseTask(task)
	case StopCancel:
		return o.cancelTask(task)
	default:
		return fmt.Errorf("unknown stop mode %q", mode)
	}
}

func (o *Orchestrator) pauseTask(task *models.Task) error {
	if !models.CanTransition(task.Status, models.TaskStatusPending) {
		return fmt.Errorf("cannot pause task in status %s", task.Status)
	}

	// Status first: the completion handler sees pending and leaves the
	// stop's bookkeeping alone.
	task.Status = models.TaskStatusPending
	task.UpdatedAt = o.now()
	if err := o.store.UpdateTask(task); err != nil {
		return fmt.Errorf("persist pause: %w", err)
	}

	if h := o.registry.Get(task.ID); h != nil {
		h.Pause()
	}
	o.freeAgent(task.AgentID)
	o.broadcaster.Broadcast(broadcast.EventTaskUpdated, task)
	o.logger.Info("task paused", "task_id", task.ID)
	return nil
}

func (o *Orchestrator) cancelTask(task *models.Task) error {
	if task.Status.Terminal() {
		return nil
	}
	if !models.CanTransition(task.Status, models.TaskStatusCancelled) {
		return fmt.Errorf("cannot cancel task in status %s", task.Status)
	}

	task.Status = models.TaskStatusCancelled
	done := o.now()
	task.CompletedAt = &done
	task.UpdatedAt = done
	if err := o.store.UpdateTask(task); err != nil {
		return fmt.Errorf("persist cancel: %w", err)
	}

	if h := o.registry.Get(task.ID); h != nil {
		h.Cancel()
	}
	o.sessions.EndSession(task.ID, "cancelled")
	if o.tracker != nil {
		o.tracker.ForgetTask(task.ID)
	}
	if o.worktrees != nil {
		// Rollback drops the dirty state, Cleanup removes the worktree
		// directory and branch. A cancelled task keeps neither.
		o.worktrees.Rollback(task.ID, "task cancelled")
		if err := o.worktrees.Cleanup(task.ID); err != nil {
			o.logger.Warn("worktree cleanup after cancel failed",
				"task_id", task.ID, "error", err)
		}
	}
	o.freeAgent(task.AgentID)
	o.closeTaskLogger(task.ID)

	o.cancelChildren(task.ID)
	if o.queue != nil && task.ParentTaskID != "" {
		if err := o.queue.ChildFinished(task.ID, delegation.OutcomeCancelled); err != nil {
			o.logger.Error("delegation cancel propagation failed", "task_id", task.ID, "error", err)
		}
	}

	o.broadcaster.Broadcast(broadcast.EventTaskUpdated, task)
	o.logger.Info("task cancelled", "task_id", task.ID)
	return nil
}

// PauseActive pauses every task with a live execution. Shutdown calls this
// before cancelling any run context, so subprocesses get the interrupt
// ladder and a chance to persist state instead of a hard kill.
func (o *Orchestrator) PauseActive() {
	for _, taskID := range o.registry.ActiveTaskIDs() {
		if err := o.StopTask(taskID, StopPause); err != nil {
			o.logger.Warn("pausing active task failed", "task_id", taskID, "error", err)
		}
	}
}

// cancelChildren cancels every non-terminal delegated child of a task.
func (o *Orchestrator) cancelChildren(taskID string) {
	children, err := o.store.ListChildTasks(taskID)
	if err != nil {
		o.logger.Warn("listing child tasks failed", "task_id", taskID, "error", err)
		return
	}
	for _, child := range children {
		if child.Status.Terminal() {
			continue
		}
		if err := o.StopTask(child.ID, StopCancel); err != nil {
			o.logger.Warn("cancelling child task failed",
				"task_id", taskID, "child_task_id", child.ID, "error", err)
		}
	}
}

// ResumeTask restores a paused task. When the previously assigned agent is
// still available, execution re-triggers automatically after a short
// randomized delay; the original session id is preserved either way. A task
// whose agent is gone or offline waits for manual reassignment.
func (o *Orchestrator) ResumeTask(ctx context.Context, taskID string) error {
	task, err := o.store.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task.Status != models.TaskStatusPending {
		return fmt.Errorf("%w: status %s", ErrNotPending, task.Status)
	}

	task.Status = models.TaskStatusInProgress
	task.UpdatedAt = o.now()
	if err := o.store.UpdateTask(task); err != nil {
		return fmt.Errorf("persist resume: %w", err)
	}
	o.broadcaster.Broadcast(broadcast.EventTaskUpdated, task)

	agent := o.availableAgent(task.AgentID)
	if agent == nil {
		o.logger.Info("task resumed without auto-restart", "task_id", taskID)
		return nil
	}

	delay := o.resumeDelay()
	o.logger.Info("task resuming", "task_id", taskID, "agent_id", agent.ID, "delay", delay)
	o.wg.Go(func() {
		o.sleep(delay)
		if _, err := o.RunTask(ctx, taskID); err != nil {
			o.logger.Warn("auto-resume run failed", "task_id", taskID, "error", err)
		}
	})
	return nil
}

// availableAgent returns the agent when it still exists, is not offline,
// and is not busy elsewhere.
func (o *Orchestrator) availableAgent(agentID string) *models.Agent {
	if agentID == "" {
		return nil
	}
	agent, err := o.store.GetAgent(agentID)
	if err != nil {
		return nil
	}
	if agent.Status == models.AgentStatusOffline {
		return nil
	}
	if busyOn := o.registry.AgentBusy(agent.ID); busyOn != "" {
		return nil
	}
	return agent
}

func (o *Orchestrator) freeAgent(agentID string) {
	if agentID == "" {
		return
	}
	agent, err := o.store.GetAgent(agentID)
	if err != nil {
		return
	}
	o.setAgentState(agent, models.AgentStatusIdle, "")
}

// WorktreeDiff returns the task worktree's diff against its base branch.
func (o *Orchestrator) WorktreeDiff(taskID string) (string, error) {
	if o.worktrees == nil {
		return "", fmt.Errorf("worktree isolation is disabled")
	}
	return o.worktrees.Diff(taskID)
}

// WorktreeMerge merges the task branch back into the project and cleans the
// worktree up on success.
func (o *Orchestrator) WorktreeMerge(taskID string) (worktree.MergeResult, error) {
	if o.worktrees == nil {
		return worktree.MergeResult{}, fmt.Errorf("worktree isolation is disabled")
	}
	task, err := o.store.GetTask(taskID)
	if err != nil {
		return worktree.MergeResult{}, fmt.Errorf("load task %s: %w", taskID, err)
	}
	res := o.worktrees.Merge(task.ProjectPath, taskID)
	if res.Success {
		if err := o.worktrees.Cleanup(taskID); err != nil {
			o.logger.Warn("worktree cleanup after merge failed",
				"task_id", taskID, "error", err)
		}
		o.broadcaster.Broadcast(broadcast.EventWorktreeUpdated, map[string]string{
			"task_id": taskID, "action": "merged",
		})
	}
	return res, nil
}

// WorktreeDiscard rolls the task's worktree back, dropping its changes.
func (o *Orchestrator) WorktreeDiscard(taskID string) error {
	if o.worktrees == nil {
		return fmt.Errorf("worktree isolation is disabled")
	}
	if !o.worktrees.Rollback(taskID, "discarded by operator") {
		return fmt.Errorf("no worktree for task %s", taskID)
	}
	o.broadcaster.Broadcast(broadcast.EventWorktreeUpdated, map[string]string{
		"task_id": taskID, "action": "discarded",
	})
	return nil
}
