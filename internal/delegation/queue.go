// Package delegation drives cross-department child task dispatch. A parent
// task delegates at most one child at a time; when the child reaches a
// terminal state an advancement event is published on an in-process bus and
// the parent's next queued subtask is dispatched. A periodic recovery sweep
// rebuilds dispatch from persisted subtask state so a crash between child
// completion and advancement never stalls a parent permanently.
package delegation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/bureaulab/bureau/internal/broadcast"
	"github.com/bureaulab/bureau/internal/store"
	"github.com/bureaulab/bureau/pkg/models"
)

const topicAdvancement = "delegation.advancement"

// defaultSweepInterval is how often the recovery sweep reconciles
// persisted subtask state with the dispatch markers.
const defaultSweepInterval = 30 * time.Second

// Outcome describes how a delegated child task ended.
type Outcome string

const (
	// OutcomeDone indicates the child completed successfully.
	OutcomeDone Outcome = "done"
	// OutcomeCancelled indicates the child was cancelled or force-killed.
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeFailed indicates the child execution failed.
	OutcomeFailed Outcome = "failed"
)

// Advancement is the event published when a delegated child task finishes.
// Consuming it advances the parent's delegation queue.
type Advancement struct {
	ParentTaskID string  `json:"parent_task_id"`
	ChildTaskID  string  `json:"child_task_id"`
	Outcome      Outcome `json:"outcome"`
}

// QueueStore is the repository surface the queue needs.
type QueueStore interface {
	store.TaskStore
	store.SubtaskStore
	store.AgentStore
}

// Queue dispatches delegated child tasks and advances parents when children
// finish. Advancement travels over a durable-enough in-process pub/sub rather
// than one-shot callbacks, so a missed hand-off is always recoverable from
// the store.
type Queue struct {
	store       QueueStore
	bus         *gochannel.GoChannel
	broadcaster broadcast.Broadcaster
	logger      *slog.Logger

	// onDispatch, when set, is invoked after a child task row is created so
	// the orchestrator can start executing it.
	onDispatch func(child *models.Task)

	mu sync.Mutex
	// inFlight maps a parent task id to the child task currently dispatched
	// on its behalf. At most one delegated child runs per parent.
	inFlight map[string]string

	sweepInterval time.Duration
	now           func() time.Time

	wg     conc.WaitGroup
	cancel context.CancelFunc
}

// NewQueue creates a delegation queue. Call Start before publishing.
func NewQueue(qs QueueStore, b broadcast.Broadcaster, logger *slog.Logger) *Queue {
	if b == nil {
		b = broadcast.Noop{}
	}
	return &Queue{
		store:         qs,
		bus:           gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{}),
		broadcaster:   b,
		logger:        logger,
		inFlight:      make(map[string]string),
		sweepInterval: defaultSweepInterval,
		now:           time.Now,
	}
}

// SetOnDispatch registers the hook invoked whenever a child task is created.
// Must be called before Start.
func (q *Queue) SetOnDispatch(fn func(child *models.Task)) {
	q.onDispatch = fn
}

// Start subscribes to advancement events and begins the recovery sweep.
func (q *Queue) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	msgs, err := q.bus.Subscribe(ctx, topicAdvancement)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe advancement topic: %w", err)
	}

	q.wg.Go(func() {
		for msg := range msgs {
			q.consume(msg)
			msg.Ack()
		}
	})
	q.wg.Go(func() {
		ticker := time.NewTicker(q.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.Sweep()
			}
		}
	})
	return nil
}

// Close stops the sweep and drains the bus.
func (q *Queue) Close() error {
	if q.cancel != nil {
		q.cancel()
	}
	err := q.bus.Close()
	q.wg.Wait()
	return err
}

// ChildFinished records the terminal outcome of a delegated child task,
// updates the subtasks linked to it, and publishes the advancement event
// that unsticks the parent's queue.
func (q *Queue) ChildFinished(childTaskID string, outcome Outcome) error {
	child, err := q.store.GetTask(childTaskID)
	if err != nil {
		return fmt.Errorf("load child task %s: %w", childTaskID, err)
	}
	if child.ParentTaskID == "" {
		return nil
	}
	if err := q.applyOutcome(child, outcome); err != nil {
		return err
	}
	return q.publish(Advancement{
		ParentTaskID: child.ParentTaskID,
		ChildTaskID:  child.ID,
		Outcome:      outcome,
	})
}

// applyOutcome resolves the subtasks linked to a finished child. Success
// completes them; cancellation and failure force them to blocked so the
// unfinished work stays visible instead of being silently dropped.
func (q *Queue) applyOutcome(child *models.Task, outcome Outcome) error {
	linked, err := q.store.ListSubtasksByDelegatedTask(child.ID)
	if err != nil {
		return fmt.Errorf("list subtasks for child %s: %w", child.ID, err)
	}
	for _, s := range linked {
		if !s.Status.Open() {
			continue
		}
		switch outcome {
		case OutcomeDone:
			s.Status = models.SubtaskStatusDone
			s.BlockedReason = ""
			done := q.now()
			s.CompletedAt = &done
		case OutcomeCancelled:
			s.Status = models.SubtaskStatusBlocked
			s.BlockedReason = "delegated task was cancelled"
		case OutcomeFailed:
			s.Status = models.SubtaskStatusBlocked
			s.BlockedReason = "delegated task failed"
		}
		if err := q.store.UpdateSubtask(s); err != nil {
			return fmt.Errorf("update subtask %s: %w", s.ID, err)
		}
		q.broadcaster.Broadcast(broadcast.EventSubtaskUpdated, s)
	}
	return nil
}

func (q *Queue) publish(adv Advancement) error {
	payload, err := json.Marshal(adv)
	if err != nil {
		return fmt.Errorf("marshal advancement: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := q.bus.Publish(topicAdvancement, msg); err != nil {
		return fmt.Errorf("publish advancement: %w", err)
	}
	return nil
}

func (q *Queue) consume(msg *message.Message) {
	var adv Advancement
	if err := json.Unmarshal(msg.Payload, &adv); err != nil {
		q.logger.Warn("discarding malformed advancement event", "error", err)
		return
	}
	q.clearMarker(adv.ParentTaskID, adv.ChildTaskID)
	if _, err := q.DispatchNext(adv.ParentTaskID); err != nil {
		q.logger.Error("delegation advancement dispatch failed",
			"parent_task_id", adv.ParentTaskID, "error", err)
	}
}

// clearMarker removes the parent's in-flight marker once the recorded child
// has finished, or once no delegated children remain active at all.
func (q *Queue) clearMarker(parentID, childID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight[parentID] == childID {
		delete(q.inFlight, parentID)
		return
	}
	children, err := q.store.ListChildTasks(parentID)
	if err != nil {
		q.logger.Warn("listing child tasks failed", "parent_task_id", parentID, "error", err)
		return
	}
	for _, c := range children {
		if c.Status.Active() || c.Status == models.TaskStatusInbox {
			return
		}
	}
	delete(q.inFlight, parentID)
}

// DispatchNext creates a child task for the parent's next undelegated
// cross-department subtask. It is a no-op when a child is already in flight,
// the parent is terminal, or no subtask is waiting on another department.
// The created child (if any) is returned.
func (q *Queue) DispatchNext(parentID string) (*models.Task, error) {
	parent, err := q.store.GetTask(parentID)
	if err != nil {
		return nil, fmt.Errorf("load parent task %s: %w", parentID, err)
	}
	if parent.Status.Terminal() {
		return nil, nil
	}

	q.mu.Lock()
	if _, busy := q.inFlight[parentID]; busy {
		q.mu.Unlock()
		return nil, nil
	}
	q.mu.Unlock()

	subs, err := q.store.ListSubtasks(parentID)
	if err != nil {
		return nil, fmt.Errorf("list subtasks for %s: %w", parentID, err)
	}

	for _, s := range subs {
		if s.TargetDepartmentID == "" || s.DelegatedTaskID != "" || !s.Status.Open() {
			continue
		}
		child, err := q.dispatch(parent, s)
		if err != nil {
			q.logger.Warn("delegation dispatch skipped",
				"subtask_id", s.ID, "department_id", s.TargetDepartmentID, "error", err)
			continue
		}
		return child, nil
	}

	// Nothing left to delegate. A parent parked in collaborating with no
	// active children returns to review so its outcome can be judged.
	if parent.Status == models.TaskStatusCollaborating && !q.hasActiveChild(parent.ID) {
		parent.Status = models.TaskStatusReview
		parent.UpdatedAt = q.now()
		if err := q.store.UpdateTask(parent); err != nil {
			return nil, fmt.Errorf("persist collaboration end: %w", err)
		}
		q.broadcaster.Broadcast(broadcast.EventTaskUpdated, parent)
		q.logger.Info("collaboration finished", "task_id", parent.ID)
	}
	return nil, nil
}

// dispatch creates the child task row for one subtask and links them.
func (q *Queue) dispatch(parent *models.Task, s *models.Subtask) (*models.Task, error) {
	leader, err := q.store.LeaderOf(s.TargetDepartmentID)
	if err != nil {
		return nil, fmt.Errorf("no leader for department %s: %w", s.TargetDepartmentID, err)
	}

	nowTS := q.now()
	child := &models.Task{
		ID:           uuid.NewString(),
		Title:        s.Title,
		Description:  s.Description,
		Status:       models.TaskStatusInbox,
		AgentID:      leader.ID,
		DepartmentID: s.TargetDepartmentID,
		ProjectPath:  parent.ProjectPath,
		ParentTaskID: parent.ID,
		CreatedAt:    nowTS,
		UpdatedAt:    nowTS,
	}
	if err := q.store.CreateTask(child); err != nil {
		return nil, fmt.Errorf("create child task: %w", err)
	}

	s.DelegatedTaskID = child.ID
	s.Status = models.SubtaskStatusBlocked
	if s.BlockedReason == "" {
		s.BlockedReason = fmt.Sprintf("delegated to %s", leader.Name)
	}
	if err := q.store.UpdateSubtask(s); err != nil {
		return nil, fmt.Errorf("link subtask %s: %w", s.ID, err)
	}

	q.mu.Lock()
	q.inFlight[parent.ID] = child.ID
	q.mu.Unlock()

	// The parent is waiting on another department now; surface that.
	if models.CanTransition(parent.Status, models.TaskStatusCollaborating) {
		parent.Status = models.TaskStatusCollaborating
		parent.UpdatedAt = nowTS
		if err := q.store.UpdateTask(parent); err != nil {
			q.logger.Warn("persist collaborating status failed",
				"task_id", parent.ID, "error", err)
		} else {
			q.broadcaster.Broadcast(broadcast.EventTaskUpdated, parent)
		}
	}

	q.broadcaster.Broadcast(broadcast.EventDelegationMoved, child)
	q.broadcaster.Broadcast(broadcast.EventSubtaskUpdated, s)
	q.logger.Info("delegated subtask dispatched",
		"parent_task_id", parent.ID, "child_task_id", child.ID,
		"department_id", s.TargetDepartmentID)

	if q.onDispatch != nil {
		q.onDispatch(child)
	}
	return child, nil
}

// Sweep reconciles dispatch state from the store. It resolves subtasks whose
// delegated child already reached a terminal state without an advancement
// event being consumed, and restarts dispatch for parents that have queued
// cross-department work but nothing in flight.
func (q *Queue) Sweep() {
	parents, err := q.store.ListTasksByStatus(
		models.TaskStatusPlanned,
		models.TaskStatusCollaborating,
		models.TaskStatusInProgress,
		models.TaskStatusReview,
	)
	if err != nil {
		q.logger.Error("delegation sweep aborted", "error", err)
		return
	}
	for _, parent := range parents {
		if err := q.sweepParent(parent); err != nil {
			q.logger.Warn("delegation sweep failed for task",
				"task_id", parent.ID, "error", err)
		}
	}
}

func (q *Queue) sweepParent(parent *models.Task) error {
	subs, err := q.store.ListSubtasks(parent.ID)
	if err != nil {
		return err
	}

	for _, s := range subs {
		if s.DelegatedTaskID == "" || !s.Status.Open() {
			continue
		}
		child, err := q.store.GetTask(s.DelegatedTaskID)
		if err != nil {
			q.logger.Warn("delegated child task missing",
				"subtask_id", s.ID, "child_task_id", s.DelegatedTaskID, "error", err)
			continue
		}
		if !child.Status.Terminal() {
			continue
		}
		// The child finished but the linked subtask never advanced: the
		// hand-off was lost. Replay it.
		if err := q.applyOutcome(child, outcomeForStatus(child.Status)); err != nil {
			return err
		}
		q.clearMarker(parent.ID, child.ID)
	}

	if q.hasActiveChild(parent.ID) {
		return nil
	}
	q.mu.Lock()
	delete(q.inFlight, parent.ID)
	q.mu.Unlock()
	_, err = q.DispatchNext(parent.ID)
	return err
}

func (q *Queue) hasActiveChild(parentID string) bool {
	children, err := q.store.ListChildTasks(parentID)
	if err != nil {
		q.logger.Warn("listing child tasks failed", "parent_task_id", parentID, "error", err)
		return true
	}
	for _, c := range children {
		if c.Status.Active() || c.Status == models.TaskStatusInbox {
			return true
		}
	}
	return false
}

func outcomeForStatus(s models.TaskStatus) Outcome {
	switch s {
	case models.TaskStatusDone:
		return OutcomeDone
	case models.TaskStatusFailed:
		return OutcomeFailed
	default:
		return OutcomeCancelled
	}
}
