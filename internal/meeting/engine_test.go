package meeting

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureaulab/bureau/internal/department"
	"github.com/bureaulab/bureau/internal/llm"
	"github.com/bureaulab/bureau/internal/store"
	"github.com/bureaulab/bureau/pkg/models"
)

type memEngineStore struct {
	mu       sync.Mutex
	tasks    map[string]*models.Task
	subtasks map[string]*models.Subtask
	agents   []*models.Agent
}

func newMemEngineStore() *memEngineStore {
	return &memEngineStore{
		tasks:    make(map[string]*models.Task),
		subtasks: make(map[string]*models.Subtask),
	}
}

func (m *memEngineStore) CreateTask(t *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *memEngineStore) GetTask(id string) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memEngineStore) UpdateTask(t *models.Task) error { return m.CreateTask(t) }

func (m *memEngineStore) ListTasksByStatus(statuses ...models.TaskStatus) ([]*models.Task, error) {
	return nil, nil
}

func (m *memEngineStore) ListChildTasks(parentID string) ([]*models.Task, error) { return nil, nil }

func (m *memEngineStore) CreateSubtask(s *models.Subtask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.subtasks[s.ID] = &cp
	return nil
}

func (m *memEngineStore) GetSubtask(id string) (*models.Subtask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subtasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memEngineStore) GetSubtaskByCorrelation(taskID, correlationID string) (*models.Subtask, error) {
	return nil, store.ErrNotFound
}

func (m *memEngineStore) UpdateSubtask(s *models.Subtask) error { return m.CreateSubtask(s) }

func (m *memEngineStore) ListSubtasks(taskID string) ([]*models.Subtask, error) {
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

func (m *memEngineStore) ListSubtasksByDelegatedTask(childTaskID string) ([]*models.Subtask, error) {
	return nil, nil
}

func (m *memEngineStore) GetAgent(id string) (*models.Agent, error) { return nil, store.ErrNotFound }
func (m *memEngineStore) UpdateAgent(a *models.Agent) error        { return nil }

func (m *memEngineStore) ListAgents() ([]*models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.Agent(nil), m.agents...), nil
}

func (m *memEngineStore) GetDepartment(id string) (*models.Department, error) {
	return nil, store.ErrNotFound
}
func (m *memEngineStore) ListDepartments() ([]*models.Department, error) { return nil, nil }
func (m *memEngineStore) LeaderOf(departmentID string) (*models.Agent, error) {
	return nil, store.ErrNotFound
}

type fakeRerouter struct {
	mu    sync.Mutex
	calls []department.ReroutePhase
}

func (f *fakeRerouter) RerouteAsync(taskID, ownerDeptID string, phase department.ReroutePhase) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, phase)
}

func (f *fakeRerouter) phases() []department.ReroutePhase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]department.ReroutePhase(nil), f.calls...)
}

// scriptedSpeaker returns each leader's canned turn, keyed on the system
// prompt containing the leader's name.
func scriptedSpeaker(turns map[string]string) llm.OneShot {
	return llm.OneShotFunc(func(ctx context.Context, system, prompt string) (string, error) {
		for name, text := range turns {
			if strings.Contains(system, name) {
				return text, nil
			}
		}
		return "", nil
	})
}

func newEngineFixture(t *testing.T, turns map[string]string) (*Engine, *memEngineStore, *fakeRerouter) {
	t.Helper()
	ms := newMemEngineStore()
	ms.tasks["t1"] = &models.Task{
		ID:           "t1",
		Title:        "Launch the billing service",
		Status:       models.TaskStatusPlanned,
		DepartmentID: "eng",
	}
	ms.agents = []*models.Agent{
		{ID: "lead-eng", Name: "Ava", Role: models.RoleTeamLeader, DepartmentID: "eng"},
		{ID: "lead-ops", Name: "Noor", Role: models.RoleTeamLeader, DepartmentID: "ops"},
		{ID: "jr-1", Name: "Kim", Role: models.RoleJunior, DepartmentID: "eng"},
	}
	rr := &fakeRerouter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewEngine(ms, scriptedSpeaker(turns), rr, nil, logger, 12, 8)
	return e, ms, rr
}

func TestKickoffApprovedSeedsActionItems(t *testing.T) {
	e, ms, rr := newEngineFixture(t, map[string]string{
		"Ava":  "Approve.\n- write the payment schema\n- add retry logic",
		"Noor": "Looks good.\n- write the Payment Schema!\n- provision the staging cluster",
	})

	res, err := e.ConductKickoff(context.Background(), "t1")
	if err != nil {
		t.Fatalf("ConductKickoff: %v", err)
	}
	if res.Outcome != OutcomeApproved {
		t.Fatalf("outcome = %q, want approved", res.Outcome)
	}
	// "write the payment schema" appears twice with different casing and
	// punctuation; it must be seeded once.
	if res.Seeded != 3 {
		t.Errorf("seeded = %d, want 3", res.Seeded)
	}
	subs, _ := ms.ListSubtasks("t1")
	if len(subs) != 3 {
		t.Fatalf("subtask rows = %d, want 3", len(subs))
	}
	for _, s := range subs {
		if s.Status != models.SubtaskStatusPending {
			t.Errorf("seeded subtask %q status = %q, want pending", s.Title, s.Status)
		}
	}

	phases := rr.phases()
	if len(phases) != 1 || phases[0] != department.PhasePlanning {
		t.Errorf("reroute calls = %v, want one planning reroute", phases)
	}
}

func TestKickoffBlockHolds(t *testing.T) {
	e, ms, rr := newEngineFixture(t, map[string]string{
		"Ava":  "Approve.\n- write the payment schema",
		"Noor": "I must block this until security reviews the token flow.",
	})

	res, err := e.ConductKickoff(context.Background(), "t1")
	if err != nil {
		t.Fatalf("ConductKickoff: %v", err)
	}
	if res.Outcome != OutcomeHold {
		t.Errorf("outcome = %q, want hold", res.Outcome)
	}
	if res.Seeded != 0 {
		t.Errorf("seeded = %d, want 0 on hold", res.Seeded)
	}
	subs, _ := ms.ListSubtasks("t1")
	if len(subs) != 0 {
		t.Errorf("subtask rows = %d, want none", len(subs))
	}
	if len(rr.phases()) != 0 {
		t.Error("hold must not trigger a reroute")
	}
}

func TestKickoffAmbiguousTurnNeverApproves(t *testing.T) {
	e, _, _ := newEngineFixture(t, map[string]string{
		"Ava":  "Approve.",
		"Noor": "The diagrams are very colorful.",
	})

	res, err := e.ConductKickoff(context.Background(), "t1")
	if err != nil {
		t.Fatalf("ConductKickoff: %v", err)
	}
	if res.Outcome != OutcomeHold {
		t.Errorf("outcome = %q, want hold for an ambiguous turn", res.Outcome)
	}
}

func TestReviewDissentSeedsRevisionNotes(t *testing.T) {
	e, ms, rr := newEngineFixture(t, map[string]string{
		"Ava":  "Sign off from me.\n- polish the README",
		"Noor": "Hold off.\n- fix the flaky integration test\n- double-check the rollback path",
	})
	// An open subtask with a matching normalized title suppresses re-seeding.
	ms.subtasks["existing"] = &models.Subtask{
		ID:     "existing",
		TaskID: "t1",
		Title:  "Fix the flaky integration test",
		Status: models.SubtaskStatusInProgress,
	}

	res, err := e.ConductReview(context.Background(), "t1")
	if err != nil {
		t.Fatalf("ConductReview: %v", err)
	}
	if res.Outcome != OutcomeRevision {
		t.Fatalf("outcome = %q, want revision_requested", res.Outcome)
	}
	// Only the dissenting turn's notes are seeded, and the duplicate of the
	// open subtask is skipped.
	if res.Seeded != 1 {
		t.Errorf("seeded = %d, want 1", res.Seeded)
	}
	subs, _ := ms.ListSubtasks("t1")
	if len(subs) != 2 {
		t.Errorf("subtask rows = %d, want existing + 1 new", len(subs))
	}

	phases := rr.phases()
	if len(phases) != 1 || phases[0] != department.PhaseReview {
		t.Errorf("reroute calls = %v, want one review reroute", phases)
	}
}

func TestReviewDoneSubtaskDoesNotSuppressReseed(t *testing.T) {
	e, _, _ := newEngineFixture(t, map[string]string{
		"Ava":  "Sign off.",
		"Noor": "Hold off.\n- fix the flaky integration test",
	})
	e.store.(*memEngineStore).subtasks["done"] = &models.Subtask{
		ID:     "done",
		TaskID: "t1",
		Title:  "Fix the flaky integration test",
		Status: models.SubtaskStatusDone,
	}

	res, err := e.ConductReview(context.Background(), "t1")
	if err != nil {
		t.Fatalf("ConductReview: %v", err)
	}
	if res.Seeded != 1 {
		t.Errorf("seeded = %d, want 1: a done subtask must not suppress a new revision", res.Seeded)
	}
}

func TestSeedApprovedPlanCapsFanOut(t *testing.T) {
	e, ms, _ := newEngineFixture(t, nil)
	e.maxActionItems = 3

	items := []string{"one", "two", "three", "four", "five"}
	task, _ := ms.GetTask("t1")
	n, err := e.SeedApprovedPlanSubtasks(task, items)
	if err != nil {
		t.Fatalf("SeedApprovedPlanSubtasks: %v", err)
	}
	if n != 3 {
		t.Errorf("seeded = %d, want cap of 3", n)
	}
}

func TestSpeakerFailureCountsAsAmbiguous(t *testing.T) {
	e, _, _ := newEngineFixture(t, nil)
	e.speaker = llm.OneShotFunc(func(ctx context.Context, system, prompt string) (string, error) {
		return "", context.DeadlineExceeded
	})

	res, err := e.ConductKickoff(context.Background(), "t1")
	if err != nil {
		t.Fatalf("ConductKickoff: %v", err)
	}
	if res.Outcome != OutcomeHold {
		t.Errorf("outcome = %q, want hold when leaders cannot speak", res.Outcome)
	}
}

func TestPresenceSeatsAndDismissal(t *testing.T) {
	table := NewPresenceTable()
	a := table.Seat("lead-a", "t1", PhaseReview)
	b := table.Seat("lead-b", "t1", PhaseReview)
	if a.Seat == b.Seat {
		t.Errorf("seats collide: %d and %d", a.Seat, b.Seat)
	}
	if a.Decision != DecisionReviewing || b.Decision != DecisionReviewing {
		t.Error("new seats must start in reviewing")
	}

	again := table.Seat("lead-a", "t1", PhaseReview)
	if again.Seat != a.Seat {
		t.Errorf("re-seating moved lead-a from seat %d to %d", a.Seat, again.Seat)
	}

	table.SetDecision("lead-a", DecisionApproved)
	snap := table.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot size = %d, want 2", len(snap))
	}
	if snap[0].AgentID != "lead-a" || snap[0].Decision != DecisionApproved {
		t.Errorf("snapshot[0] = %+v, want lead-a approved", snap[0])
	}

	table.Dismiss("t1")
	if got := len(table.Snapshot()); got != 0 {
		t.Errorf("seats after dismissal = %d, want 0", got)
	}
}

func TestPresenceExpiry(t *testing.T) {
	table := NewPresenceTable()
	current := time.Now()
	table.now = func() time.Time { return current }

	table.Seat("lead-a", "t1", PhaseKickoff)
	current = current.Add(presenceTTL + time.Minute)
	if got := len(table.Snapshot()); got != 0 {
		t.Errorf("expired seats in snapshot = %d, want 0", got)
	}
}
