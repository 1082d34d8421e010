package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureaulab/bureau/internal/broadcast"
	"github.com/bureaulab/bureau/internal/meeting"
	"github.com/bureaulab/bureau/pkg/models"
)

var (
	// ErrMeetingsDisabled is returned when no consensus engine is attached.
	ErrMeetingsDisabled = errors.New("meetings are disabled")
	// ErrAwaitingDelegation is returned when a review meeting is requested
	// while delegated cross-department work is still open.
	ErrAwaitingDelegation = errors.New("task is waiting on delegated work")
)

// ConductKickoff runs the planned-approval meeting for a task. The task must
// be planned. On approval the caller dispatches it; a hold leaves it planned
// for the next round.
func (o *Orchestrator) ConductKickoff(ctx context.Context, taskID string) (*meeting.Result, error) {
	if o.meetings == nil {
		return nil, ErrMeetingsDisabled
	}
	task, err := o.store.GetTask(taskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task.Status != models.TaskStatusPlanned {
		return nil, fmt.Errorf("task %s is not awaiting plan approval (status %s)", taskID, task.Status)
	}
	return o.meetings.ConductKickoff(ctx, taskID)
}

// ConductReview runs the review meeting for a finished task and applies the
// verdict: approval completes the task, a revision request seeds the noted
// subtasks and re-runs the task on its preserved session.
func (o *Orchestrator) ConductReview(ctx context.Context, taskID string) (*meeting.Result, error) {
	if o.meetings == nil {
		return nil, ErrMeetingsDisabled
	}
	task, err := o.store.GetTask(taskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task.Status != models.TaskStatusReview {
		return nil, fmt.Errorf("task %s is not under review (status %s)", taskID, task.Status)
	}
	if o.delegationOpen(taskID) {
		return nil, ErrAwaitingDelegation
	}

	res, err := o.meetings.ConductReview(ctx, taskID)
	if err != nil {
		return nil, err
	}

	switch res.Outcome {
	case meeting.OutcomeApproved:
		task.Status = models.TaskStatusDone
		task.Error = ""
		done := o.now()
		task.CompletedAt = &done
		task.UpdatedAt = done
		if err := o.store.UpdateTask(task); err != nil {
			return res, fmt.Errorf("persist approval: %w", err)
		}
		o.sessions.EndSession(taskID, "completed")
		if o.tracker != nil {
			o.tracker.ForgetTask(taskID)
		}
		o.broadcaster.Broadcast(broadcast.EventTaskUpdated, task)
		o.logger.Info("review approved", "task_id", taskID)
		o.notifyParent(task)
	case meeting.OutcomeRevision:
		// The engine already seeded the revision subtasks; the re-run picks
		// them up with the continuation brief from the preserved session.
		if _, err := o.RunTask(ctx, taskID); err != nil {
			o.logger.Warn("revision re-run failed", "task_id", taskID, "error", err)
		}
	}
	return res, nil
}

// delegationOpen reports whether any open subtask is delegated to a child
// task that has not finished.
func (o *Orchestrator) delegationOpen(taskID string) bool {
	subs, err := o.store.ListSubtasks(taskID)
	if err != nil {
		o.logger.Warn("listing subtasks failed", "task_id", taskID, "error", err)
		return false
	}
	for _, s := range subs {
		if s.DelegatedTaskID != "" && s.Status.Open() {
			return true
		}
	}
	return false
}
