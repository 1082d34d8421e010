package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureaulab/bureau/internal/proc"
	"github.com/bureaulab/bureau/internal/runner"
	"github.com/bureaulab/bureau/internal/session"
	"github.com/bureaulab/bureau/internal/store"
	"github.com/bureaulab/bureau/pkg/models"
)

// fakeRunner registers a registry handle like the real runner families and
// blocks until released or cancelled.
type fakeRunner struct {
	registry *proc.Registry
	pid      int

	mu      sync.Mutex
	calls   int
	release chan runner.Completion
}

func newFakeRunner(reg *proc.Registry, pid int) *fakeRunner {
	return &fakeRunner{registry: reg, pid: pid, release: make(chan runner.Completion, 1)}
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeRunner) Execute(ctx context.Context, req runner.Request, hooks runner.Hooks) (runner.Completion, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	h := &proc.Handle{TaskID: req.Task.ID, AgentID: req.Agent.ID, PID: f.pid, Cancel: cancel}
	if err := f.registry.Register(h); err != nil {
		return runner.Completion{}, err
	}
	defer f.registry.Remove(req.Task.ID)

	select {
	case c := <-f.release:
		c.TaskID = req.Task.ID
		return c, nil
	case <-runCtx.Done():
		return runner.Completion{TaskID: req.Task.ID, Reason: "aborted"}, nil
	}
}

type fixture struct {
	orch *Orchestrator
	db   *store.DB
	run  *fakeRunner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "bureau.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := proc.NewRegistry()
	// The fixture's own pid keeps the registered handle alive under the
	// registry's stale-pid self-heal.
	fr := newFakeRunner(reg, os.Getpid())
	sessions := session.NewManager(db, logger)

	orch := New(db, reg, fr, fr, sessions, nil, nil, nil, logger,
		WithResumeDelay(time.Millisecond, 2*time.Millisecond))
	t.Cleanup(orch.Wait)

	seedAgent(t, db, "a1", models.AgentStatusIdle)
	seedTask(t, db, "t1", "a1", models.TaskStatusPlanned)
	return &fixture{orch: orch, db: db, run: fr}
}

func seedAgent(t *testing.T, db *store.DB, id string, status models.AgentStatus) {
	t.Helper()
	err := db.CreateAgent(&models.Agent{
		ID:           id,
		Name:         "Agent " + id,
		Role:         models.RoleSenior,
		DepartmentID: "eng",
		Provider:     models.ProviderClaudeCLI,
		Status:       status,
		CreatedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("seed agent: %v", err)
	}
}

func seedTask(t *testing.T, db *store.DB, id, agentID string, status models.TaskStatus) {
	t.Helper()
	err := db.CreateTask(&models.Task{
		ID:        id,
		Title:     "task " + id,
		Status:    status,
		AgentID:   agentID,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRunTaskLifecycle(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.RunTask(context.Background(), "t1")
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if !res.OK || res.Status != models.TaskStatusInProgress {
		t.Fatalf("spawn result = %+v", res)
	}
	if res.PID != f.run.pid {
		t.Errorf("pid = %d, want %d", res.PID, f.run.pid)
	}

	task, _ := f.db.GetTask("t1")
	if task.Status != models.TaskStatusInProgress || task.StartedAt == nil {
		t.Errorf("task after start = %q startedAt=%v", task.Status, task.StartedAt)
	}
	agent, _ := f.db.GetAgent("a1")
	if agent.Status != models.AgentStatusWorking || agent.CurrentTaskID != "t1" {
		t.Errorf("agent after start = %q on %q", agent.Status, agent.CurrentTaskID)
	}
	if _, err := f.db.GetSession("t1"); err != nil {
		t.Errorf("session missing after start: %v", err)
	}

	f.run.release <- runner.Completion{Success: true, Output: "all done"}
	waitFor(t, "task to reach review", func() bool {
		task, _ := f.db.GetTask("t1")
		return task.Status == models.TaskStatusReview
	})
	waitFor(t, "agent to be freed", func() bool {
		agent, _ := f.db.GetAgent("a1")
		return agent.Status == models.AgentStatusIdle && agent.CurrentTaskID == ""
	})
}

func TestRunTaskFailureMarksFailed(t *testing.T) {
	f := newFixture(t)

	if _, err := f.orch.RunTask(context.Background(), "t1"); err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	f.run.release <- runner.Completion{Success: false, Reason: "exit code 3"}

	waitFor(t, "task to fail", func() bool {
		task, _ := f.db.GetTask("t1")
		return task.Status == models.TaskStatusFailed
	})
	task, _ := f.db.GetTask("t1")
	if task.Error != "exit code 3" || task.CompletedAt == nil {
		t.Errorf("failed task = error %q completedAt %v", task.Error, task.CompletedAt)
	}
	if _, err := f.db.GetSession("t1"); err != store.ErrNotFound {
		t.Errorf("session should be ended on failure, got %v", err)
	}
}

func TestRunTaskGuards(t *testing.T) {
	f := newFixture(t)

	seedTask(t, f.db, "t-done", "a1", models.TaskStatusDone)
	if _, err := f.orch.RunTask(context.Background(), "t-done"); err == nil {
		t.Error("running a done task must fail")
	}

	seedTask(t, f.db, "t2", "a1", models.TaskStatusPlanned)
	if _, err := f.orch.RunTask(context.Background(), "t1"); err != nil {
		t.Fatalf("RunTask t1: %v", err)
	}
	waitFor(t, "t1 to register", func() bool { return f.run.callCount() == 1 })

	// a1 is now busy on t1; t2 must be rejected before any side effect.
	if _, err := f.orch.RunTask(context.Background(), "t2"); err == nil {
		t.Error("second task on a busy agent must be rejected")
	}
	task2, _ := f.db.GetTask("t2")
	if task2.Status != models.TaskStatusPlanned {
		t.Errorf("rejected task status = %q, want planned untouched", task2.Status)
	}

	f.run.release <- runner.Completion{Success: true}
}

func TestPausePreservesSession(t *testing.T) {
	f := newFixture(t)

	if _, err := f.orch.RunTask(context.Background(), "t1"); err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	waitFor(t, "run to register", func() bool { return f.run.callCount() == 1 })

	if err := f.orch.StopTask("t1", StopPause); err != nil {
		t.Fatalf("StopTask pause: %v", err)
	}

	task, _ := f.db.GetTask("t1")
	if task.Status != models.TaskStatusPending {
		t.Fatalf("paused task status = %q", task.Status)
	}
	waitFor(t, "run slot to release", func() bool { return f.orch.registry.Get("t1") == nil })

	if _, err := f.db.GetSession("t1"); err != nil {
		t.Errorf("pause must preserve the session, got %v", err)
	}
	agent, _ := f.db.GetAgent("a1")
	if agent.Status != models.AgentStatusIdle {
		t.Errorf("agent after pause = %q, want idle", agent.Status)
	}
}

func TestCancelTearsDown(t *testing.T) {
	f := newFixture(t)

	if _, err := f.orch.RunTask(context.Background(), "t1"); err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	waitFor(t, "run to register", func() bool { return f.run.callCount() == 1 })

	if err := f.orch.StopTask("t1", StopCancel); err != nil {
		t.Fatalf("StopTask cancel: %v", err)
	}

	task, _ := f.db.GetTask("t1")
	if task.Status != models.TaskStatusCancelled || task.CompletedAt == nil {
		t.Errorf("cancelled task = %q completedAt %v", task.Status, task.CompletedAt)
	}
	if _, err := f.db.GetSession("t1"); err != store.ErrNotFound {
		t.Errorf("cancel must end the session, got %v", err)
	}
}

func TestCancelCascadesToChildren(t *testing.T) {
	f := newFixture(t)
	err := f.db.CreateTask(&models.Task{
		ID:           "child",
		Title:        "delegated work",
		Status:       models.TaskStatusInbox,
		ParentTaskID: "t1",
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("seed child: %v", err)
	}

	if err := f.orch.StopTask("t1", StopCancel); err != nil {
		t.Fatalf("StopTask cancel: %v", err)
	}
	child, _ := f.db.GetTask("child")
	if child.Status != models.TaskStatusCancelled {
		t.Errorf("child status = %q, want cancelled", child.Status)
	}
}

func TestResumeAutoRestartsWithAvailableAgent(t *testing.T) {
	f := newFixture(t)
	seedTask(t, f.db, "t-paused", "a1", models.TaskStatusPending)

	if err := f.orch.ResumeTask(context.Background(), "t-paused"); err != nil {
		t.Fatalf("ResumeTask: %v", err)
	}
	task, _ := f.db.GetTask("t-paused")
	if task.Status != models.TaskStatusInProgress {
		t.Errorf("resumed status = %q, want in_progress", task.Status)
	}
	waitFor(t, "auto-restart to execute", func() bool { return f.run.callCount() == 1 })
	f.run.release <- runner.Completion{Success: true}
}

func TestResumeSkipsOfflineAgent(t *testing.T) {
	f := newFixture(t)
	seedAgent(t, f.db, "a-offline", models.AgentStatusOffline)
	seedTask(t, f.db, "t-paused", "a-offline", models.TaskStatusPending)

	if err := f.orch.ResumeTask(context.Background(), "t-paused"); err != nil {
		t.Fatalf("ResumeTask: %v", err)
	}
	task, _ := f.db.GetTask("t-paused")
	if task.Status != models.TaskStatusInProgress {
		t.Errorf("resumed status = %q, want in_progress", task.Status)
	}
	// Give any stray auto-restart a moment to show itself.
	time.Sleep(50 * time.Millisecond)
	if got := f.run.callCount(); got != 0 {
		t.Errorf("offline agent auto-restarted %d times, want 0", got)
	}
}

func TestResumeRejectsNonPending(t *testing.T) {
	f := newFixture(t)
	if err := f.orch.ResumeTask(context.Background(), "t1"); err == nil {
		t.Error("resuming a non-pending task must fail")
	}
}
