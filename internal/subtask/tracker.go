// Package subtask maintains sub-work-item rows from structured events found
// in agent output streams.
package subtask

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureaulab/bureau/internal/broadcast"
	"github.com/bureaulab/bureau/internal/store"
	"github.com/bureaulab/bureau/internal/stream"
	"github.com/bureaulab/bureau/pkg/models"
)

// threadTTL bounds how long a spawn's thread-id mapping is kept waiting for
// its close event.
const threadTTL = time.Hour

// DepartmentDetector is the routing surface the tracker consults when a new
// subtask's title mentions another department.
type DepartmentDetector interface {
	DetectDepartment(text, ownerDeptID string) string
	CollaborationReason(deptID string) string
}

type threadEntry struct {
	correlationID string
	addedAt       time.Time
}

// Tracker creates and completes Subtask rows from stream events.
type Tracker struct {
	store       store.SubtaskStore
	router      DepartmentDetector
	broadcaster broadcast.Broadcaster
	logger      *slog.Logger

	mu      sync.Mutex
	threads map[string]threadEntry
	now     func() time.Time
}

// NewTracker creates a tracker.
func NewTracker(st store.SubtaskStore, router DepartmentDetector, b broadcast.Broadcaster, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:       st,
		router:      router,
		broadcaster: b,
		logger:      logger,
		threads:     make(map[string]threadEntry),
		now:         time.Now,
	}
}

// HandleEvent applies one decoded stream event for a task. ownerDeptID is
// the department of the task's owning agent, used for detection.
func (t *Tracker) HandleEvent(taskID, ownerDeptID string, ev stream.SubtaskEvent) {
	switch ev.Kind {
	case stream.SubtaskStarted:
		if ev.ThreadID != "" {
			t.rememberThread(taskID, ev.ThreadID, ev.CorrelationID)
		}
		if _, err := t.CreateFromStream(taskID, ownerDeptID, ev.CorrelationID, ev.Title); err != nil {
			t.logger.Warn("subtask create failed", "task_id", taskID,
				"correlation_id", ev.CorrelationID, "error", err)
		}
	case stream.SubtaskCompleted:
		correlationID := ev.CorrelationID
		if correlationID == "" && ev.ThreadID != "" {
			correlationID = t.resolveThread(taskID, ev.ThreadID)
		}
		if correlationID == "" {
			return
		}
		if err := t.CompleteFromStream(taskID, correlationID); err != nil {
			t.logger.Warn("subtask complete failed", "task_id", taskID,
				"correlation_id", correlationID, "error", err)
		}
	}
}

// CreateFromStream creates a subtask for a streamed start event. Idempotent:
// a second start with the same correlation id returns the existing row. When
// the title mentions another department, the subtask is created already
// blocked with a collaboration-pending reason.
func (t *Tracker) CreateFromStream(taskID, ownerDeptID, correlationID, title string) (*models.Subtask, error) {
	if correlationID == "" {
		return nil, fmt.Errorf("empty correlation id")
	}

	if existing, err := t.store.GetSubtaskByCorrelation(taskID, correlationID); err == nil {
		return existing, nil
	} else if err != store.ErrNotFound {
		return nil, fmt.Errorf("correlation lookup: %w", err)
	}

	if title == "" {
		title = "Sub-agent " + correlationID
	}

	s := &models.Subtask{
		ID:            uuid.NewString(),
		TaskID:        taskID,
		Title:         title,
		Status:        models.SubtaskStatusInProgress,
		CorrelationID: correlationID,
		CreatedAt:     t.now(),
	}

	if dept := t.router.DetectDepartment(title, ownerDeptID); dept != "" {
		s.Status = models.SubtaskStatusBlocked
		s.TargetDepartmentID = dept
		s.BlockedReason = t.router.CollaborationReason(dept)
	}

	if err := t.store.CreateSubtask(s); err != nil {
		return nil, fmt.Errorf("create subtask: %w", err)
	}

	t.logger.Debug("subtask created", "task_id", taskID, "subtask_id", s.ID,
		"correlation_id", correlationID, "status", s.Status)
	t.broadcaster.Broadcast(broadcast.EventSubtaskUpdated, s)
	return s, nil
}

// CompleteFromStream marks the subtask matching a correlation id done.
// No-op when unmatched or already done.
func (t *Tracker) CompleteFromStream(taskID, correlationID string) error {
	s, err := t.store.GetSubtaskByCorrelation(taskID, correlationID)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("correlation lookup: %w", err)
	}
	if s.Status == models.SubtaskStatusDone {
		return nil
	}

	now := t.now()
	s.Status = models.SubtaskStatusDone
	s.CompletedAt = &now
	s.BlockedReason = ""
	if err := t.store.UpdateSubtask(s); err != nil {
		return fmt.Errorf("complete subtask: %w", err)
	}

	t.logger.Debug("subtask completed", "task_id", taskID, "subtask_id", s.ID)
	t.broadcaster.Broadcast(broadcast.EventSubtaskUpdated, s)
	return nil
}

// ForgetTask drops any thread-id mappings for a task, used when its run ends.
func (t *Tracker) ForgetTask(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prefix := taskID + "/"
	for k := range t.threads {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(t.threads, k)
		}
	}
}

func (t *Tracker) rememberThread(taskID, threadID, correlationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneThreadsLocked()
	t.threads[taskID+"/"+threadID] = threadEntry{
		correlationID: correlationID,
		addedAt:       t.now(),
	}
}

func (t *Tracker) resolveThread(taskID, threadID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := taskID + "/" + threadID
	entry, ok := t.threads[key]
	if !ok {
		return ""
	}
	delete(t.threads, key)
	return entry.correlationID
}

func (t *Tracker) pruneThreadsLocked() {
	cutoff := t.now().Add(-threadTTL)
	for k, entry := range t.threads {
		if entry.addedAt.Before(cutoff) {
			delete(t.threads, k)
		}
	}
}
