package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bureaulab/bureau/internal/broadcast"
	"github.com/bureaulab/bureau/internal/delegation"
	"github.com/bureaulab/bureau/internal/runner"
	"github.com/bureaulab/bureau/internal/stream"
	"github.com/bureaulab/bureau/pkg/models"
)

// RunTask starts executing a task with its assigned agent. The run itself is
// asynchronous; the returned SpawnResult reflects the state at launch. All
// preconditions (runnable status, free agent, no live execution for the
// task) are checked before any side effect.
func (o *Orchestrator) RunTask(ctx context.Context, taskID string) (*SpawnResult, error) {
	task, err := o.store.GetTask(taskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task.Status != models.TaskStatusInProgress && !models.CanTransition(task.Status, models.TaskStatusInProgress) {
		return nil, fmt.Errorf("%w: status %s", ErrTaskNotRunnable, task.Status)
	}
	if task.AgentID == "" {
		return nil, ErrNoAgentAssigned
	}
	agent, err := o.store.GetAgent(task.AgentID)
	if err != nil {
		return nil, fmt.Errorf("load agent %s: %w", task.AgentID, err)
	}
	if busyOn := o.registry.AgentBusy(agent.ID); busyOn != "" && busyOn != task.ID {
		return nil, fmt.Errorf("%w: %s is on task %s", ErrAgentBusy, agent.Name, busyOn)
	}

	// Claim the task's execution slot before touching anything else; a
	// concurrent RunTask for the same task loses here, with no side effects
	// to unwind. The runner's own registration upgrades the claim.
	if err := o.registry.Reserve(task.ID, agent.ID); err != nil {
		return nil, fmt.Errorf("task %s: %w", task.ID, err)
	}
	launched := false
	defer func() {
		if !launched {
			o.registry.Release(task.ID)
		}
	}()

	// Isolate the run. On any worktree failure Create falls back to the
	// project path itself, so the run always has a working directory.
	workDir := task.ProjectPath
	var worktreePath string
	if o.worktrees != nil && task.ProjectPath != "" {
		workDir = o.worktrees.Create(task.ProjectPath, task.ID, agent.Name)
		if workDir != task.ProjectPath {
			worktreePath = workDir
		}
	}

	sess, err := o.sessions.EnsureSession(task.ID, agent.ID, agent.Provider)
	if err != nil {
		return nil, fmt.Errorf("ensure session for %s: %w", task.ID, err)
	}

	if task.Status != models.TaskStatusInProgress {
		task.Status = models.TaskStatusInProgress
	}
	if task.StartedAt == nil {
		started := o.now()
		task.StartedAt = &started
	}
	task.UpdatedAt = o.now()
	if err := o.store.UpdateTask(task); err != nil {
		return nil, fmt.Errorf("persist task %s: %w", task.ID, err)
	}
	o.setAgentState(agent, models.AgentStatusWorking, task.ID)
	o.broadcaster.Broadcast(broadcast.EventTaskUpdated, task)

	taskLog := o.taskLogger(task)
	taskLog.Log("run starting: agent=%s provider=%s session=%s dir=%s",
		agent.Name, agent.Provider, sess.SessionID, workDir)

	req := runner.Request{
		Task:      task,
		Agent:     agent,
		Prompt:    o.buildPrompt(task),
		SessionID: sess.SessionID,
		WorkDir:   workDir,
		AutoSwap:  true,
	}
	run := o.runnerFor(agent)

	launched = true
	o.wg.Go(func() {
		// A spawn failure inside the runner leaves the reservation in
		// place; drop it once the run is over either way.
		defer o.registry.Release(task.ID)
		completion, err := run.Execute(ctx, req, runner.Hooks{
			Output: func(streamName, text string) {
				o.sessions.RecordActivity(task.ID, text)
				taskLog.Log("[%s] %s", streamName, strings.TrimRight(text, "\n"))
				o.broadcaster.Broadcast(broadcast.EventCLIOutput, map[string]string{
					"task_id": task.ID,
					"stream":  streamName,
					"text":    text,
				})
			},
			Event: func(ev stream.SubtaskEvent) {
				if o.tracker != nil {
					o.tracker.HandleEvent(task.ID, task.DepartmentID, ev)
				}
			},
		})
		if err != nil {
			o.logger.Error("run rejected", "task_id", task.ID, "error", err)
			taskLog.Log("run rejected: %v", err)
			return
		}
		o.finishRun(task.ID, agent.ID, completion)
	})

	res := &SpawnResult{
		OK:       true,
		Status:   models.TaskStatusInProgress,
		LogPath:  taskLog.Path(),
		CWD:      workDir,
		Worktree: worktreePath,
	}
	res.PID = o.awaitPID(task.ID)
	return res, nil
}

// SpawnForAgent assigns a task to the agent and starts it. It is the
// API-facing entry point; precondition failures come back as a not-OK
// result with the reason in Status left unchanged.
func (o *Orchestrator) SpawnForAgent(ctx context.Context, agentID, taskID string) (*SpawnResult, error) {
	task, err := o.store.GetTask(taskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task.AgentID != agentID {
		agent, err := o.store.GetAgent(agentID)
		if err != nil {
			return nil, fmt.Errorf("load agent %s: %w", agentID, err)
		}
		task.AgentID = agent.ID
		if task.DepartmentID == "" {
			task.DepartmentID = agent.DepartmentID
		}
		task.UpdatedAt = o.now()
		if err := o.store.UpdateTask(task); err != nil {
			return nil, fmt.Errorf("assign agent: %w", err)
		}
	}
	return o.RunTask(ctx, taskID)
}

// awaitPID polls briefly for the run's registered pid so callers get one
// when the subprocess spawns quickly. Zero is not an error; HTTP runs
// register with pid 0 and slow spawns report status only.
func (o *Orchestrator) awaitPID(taskID string) int {
	grace := 5
	for i := 0; i < 50; i++ {
		if pid, ok := o.registry.PID(taskID); ok {
			if pid > 0 {
				return pid
			}
			// Registered but no pid yet: either an HTTP run (never gets
			// one) or a subprocess mid-start. A few more polls settle it.
			if grace == 0 {
				return 0
			}
			grace--
		}
		o.sleep(20 * time.Millisecond)
	}
	return 0
}

// buildPrompt assembles the run prompt from the task and, when prior
// activity exists, the continuation brief that replaces native session
// resume for providers without one.
func (o *Orchestrator) buildPrompt(task *models.Task) string {
	var b strings.Builder
	b.WriteString(task.Title)
	if task.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(task.Description)
	}
	if brief := o.sessions.ContinuationContext(task.ID); brief != "" {
		b.WriteString("\n\n")
		b.WriteString(brief)
	}
	return b.String()
}

// finishRun applies a completion to the state machine. Stop paths may have
// already moved the task to pending or cancelled; in that case the
// completion only closes out bookkeeping and must not override the status.
func (o *Orchestrator) finishRun(taskID, agentID string, c runner.Completion) {
	defer o.closeTaskLogger(taskID)

	task, err := o.store.GetTask(taskID)
	if err != nil {
		o.logger.Error("completion for unknown task", "task_id", taskID, "error", err)
		return
	}
	if agent, err := o.store.GetAgent(agentID); err == nil {
		o.setAgentState(agent, models.AgentStatusIdle, "")
	}

	if task.Status == models.TaskStatusPending || task.Status.Terminal() {
		o.logger.Info("run finished after stop", "task_id", taskID, "reason", c.Reason)
		return
	}

	switch {
	case c.Success && task.ParentTaskID != "":
		// Delegated children skip their own review round; the parent's
		// review covers the merged result, and finishing here is what
		// advances the parent's delegation queue.
		task.Status = models.TaskStatusDone
		task.Error = ""
		done := o.now()
		task.CompletedAt = &done
		o.sessions.EndSession(taskID, "completed")
		if o.tracker != nil {
			o.tracker.ForgetTask(taskID)
		}
	case c.Success:
		task.Status = models.TaskStatusReview
		task.Error = ""
	case c.Reason == "aborted":
		// The stop path owns the status; nothing more to record.
		o.logger.Info("run aborted", "task_id", taskID)
		return
	default:
		task.Status = models.TaskStatusFailed
		task.Error = c.Reason
		done := o.now()
		task.CompletedAt = &done
		o.sessions.EndSession(taskID, c.Reason)
		if o.tracker != nil {
			o.tracker.ForgetTask(taskID)
		}
	}
	task.UpdatedAt = o.now()
	if err := o.store.UpdateTask(task); err != nil {
		o.logger.Error("persist completion failed", "task_id", taskID, "error", err)
		return
	}
	o.broadcaster.Broadcast(broadcast.EventTaskUpdated, task)
	o.logger.Info("run finished",
		"task_id", taskID, "success", c.Success, "status", task.Status, "reason", c.Reason)

	o.notifyParent(task)
}

// notifyParent feeds a finished child task into the delegation queue so the
// parent's queue advances.
func (o *Orchestrator) notifyParent(task *models.Task) {
	if o.queue == nil || task.ParentTaskID == "" || !task.Status.Terminal() {
		return
	}
	outcome := delegation.OutcomeDone
	switch task.Status {
	case models.TaskStatusFailed:
		outcome = delegation.OutcomeFailed
	case models.TaskStatusCancelled:
		outcome = delegation.OutcomeCancelled
	}
	if err := o.queue.ChildFinished(task.ID, outcome); err != nil {
		o.logger.Error("delegation advancement failed", "task_id", task.ID, "error", err)
	}
}

func (o *Orchestrator) setAgentState(agent *models.Agent, status models.AgentStatus, currentTaskID string) {
	agent.Status = status
	agent.CurrentTaskID = currentTaskID
	if err := o.store.UpdateAgent(agent); err != nil {
		o.logger.Warn("persist agent state failed", "agent_id", agent.ID, "error", err)
		return
	}
	o.broadcaster.Broadcast(broadcast.EventAgentStatus, agent)
}
