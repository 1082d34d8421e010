package subtask

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bureaulab/bureau/internal/broadcast"
	"github.com/bureaulab/bureau/internal/store"
	"github.com/bureaulab/bureau/internal/stream"
	"github.com/bureaulab/bureau/pkg/models"
)

type memSubtaskStore struct {
	mu       sync.Mutex
	subtasks map[string]*models.Subtask
	creates  int
}

func newMemSubtaskStore() *memSubtaskStore {
	return &memSubtaskStore{subtasks: make(map[string]*models.Subtask)}
}

func (m *memSubtaskStore) CreateSubtask(s *models.Subtask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.subtasks[s.ID] = &cp
	m.creates++
	return nil
}

func (m *memSubtaskStore) GetSubtask(id string) (*models.Subtask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subtasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSubtaskStore) GetSubtaskByCorrelation(taskID, correlationID string) (*models.Subtask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subtasks {
		if s.TaskID == taskID && s.CorrelationID == correlationID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memSubtaskStore) UpdateSubtask(s *models.Subtask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subtasks[s.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *s
	m.subtasks[s.ID] = &cp
	return nil
}

func (m *memSubtaskStore) ListSubtasks(taskID string) ([]*models.Subtask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Subtask
	for _, s := range m.subtasks {
		if s.TaskID == taskID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSubtaskStore) ListSubtasksByDelegatedTask(childTaskID string) ([]*models.Subtask, error) {
	return nil, nil
}

type stubDetector struct {
	dept string
}

func (d stubDetector) DetectDepartment(text, ownerDeptID string) string { return d.dept }
func (d stubDetector) CollaborationReason(deptID string) string {
	return deptID + " collaboration pending"
}

func newTestTracker(st *memSubtaskStore, dept string) *Tracker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewTracker(st, stubDetector{dept: dept}, broadcast.Noop{}, logger)
}

func TestCreateFromStreamIdempotent(t *testing.T) {
	st := newMemSubtaskStore()
	tr := newTestTracker(st, "")

	first, err := tr.CreateFromStream("t1", "eng", "a1", "Write migration")
	if err != nil {
		t.Fatalf("CreateFromStream: %v", err)
	}
	second, err := tr.CreateFromStream("t1", "eng", "a1", "Write migration")
	if err != nil {
		t.Fatalf("CreateFromStream again: %v", err)
	}

	if st.creates != 1 {
		t.Errorf("creates = %d, want exactly 1", st.creates)
	}
	if first.ID != second.ID {
		t.Errorf("ids differ: %q vs %q", first.ID, second.ID)
	}
	if first.Status != models.SubtaskStatusInProgress {
		t.Errorf("status = %q, want in_progress", first.Status)
	}
}

func TestCreateFromStreamDetectsDepartment(t *testing.T) {
	st := newMemSubtaskStore()
	tr := newTestTracker(st, "design")

	s, err := tr.CreateFromStream("t1", "eng", "a1", "Ask design for a new mockup")
	if err != nil {
		t.Fatalf("CreateFromStream: %v", err)
	}

	if s.Status != models.SubtaskStatusBlocked {
		t.Errorf("status = %q, want blocked", s.Status)
	}
	if s.TargetDepartmentID != "design" {
		t.Errorf("target = %q, want design", s.TargetDepartmentID)
	}
	if s.BlockedReason != "design collaboration pending" {
		t.Errorf("reason = %q", s.BlockedReason)
	}
}

func TestCompleteFromStream(t *testing.T) {
	st := newMemSubtaskStore()
	tr := newTestTracker(st, "")

	created, _ := tr.CreateFromStream("t1", "eng", "a1", "Write migration")
	if err := tr.CompleteFromStream("t1", "a1"); err != nil {
		t.Fatalf("CompleteFromStream: %v", err)
	}

	got, _ := st.GetSubtask(created.ID)
	if got.Status != models.SubtaskStatusDone {
		t.Errorf("status = %q, want done", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	// Second completion and unknown ids are no-ops.
	if err := tr.CompleteFromStream("t1", "a1"); err != nil {
		t.Errorf("repeat complete: %v", err)
	}
	if err := tr.CompleteFromStream("t1", "ghost"); err != nil {
		t.Errorf("unmatched complete: %v", err)
	}
}

func TestTwoStepThreadProtocol(t *testing.T) {
	st := newMemSubtaskStore()
	tr := newTestTracker(st, "")

	tr.HandleEvent("t1", "eng", stream.SubtaskEvent{
		Kind:          stream.SubtaskStarted,
		CorrelationID: "a1",
		ThreadID:      "t7",
		Title:         "Refactor parser",
	})
	tr.HandleEvent("t1", "eng", stream.SubtaskEvent{
		Kind:     stream.SubtaskCompleted,
		ThreadID: "t7",
	})

	got, err := st.GetSubtaskByCorrelation("t1", "a1")
	if err != nil {
		t.Fatalf("subtask not found: %v", err)
	}
	if got.Status != models.SubtaskStatusDone {
		t.Errorf("status = %q, want done", got.Status)
	}
}

func TestThreadMappingIsPerTask(t *testing.T) {
	st := newMemSubtaskStore()
	tr := newTestTracker(st, "")

	tr.HandleEvent("t1", "eng", stream.SubtaskEvent{
		Kind: stream.SubtaskStarted, CorrelationID: "a1", ThreadID: "t7", Title: "X",
	})
	// A close for the same thread id on another task resolves nothing.
	tr.HandleEvent("t2", "eng", stream.SubtaskEvent{
		Kind: stream.SubtaskCompleted, ThreadID: "t7",
	})

	got, _ := st.GetSubtaskByCorrelation("t1", "a1")
	if got.Status != models.SubtaskStatusInProgress {
		t.Errorf("status = %q, want in_progress", got.Status)
	}
}

func TestThreadMappingExpires(t *testing.T) {
	st := newMemSubtaskStore()
	tr := newTestTracker(st, "")

	current := time.Now()
	tr.now = func() time.Time { return current }

	tr.rememberThread("t1", "t7", "a1")
	current = current.Add(threadTTL + time.Minute)
	tr.rememberThread("t1", "t8", "a2")

	if got := tr.resolveThread("t1", "t7"); got != "" {
		t.Errorf("expired thread resolved to %q", got)
	}
	if got := tr.resolveThread("t1", "t8"); got != "a2" {
		t.Errorf("resolve t8 = %q, want a2", got)
	}
}

func TestForgetTask(t *testing.T) {
	st := newMemSubtaskStore()
	tr := newTestTracker(st, "")

	tr.rememberThread("t1", "t7", "a1")
	tr.ForgetTask("t1")
	if got := tr.resolveThread("t1", "t7"); got != "" {
		t.Errorf("resolved after forget: %q", got)
	}
}
