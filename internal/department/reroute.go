package department

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bureaulab/bureau/internal/llm"
	"github.com/bureaulab/bureau/internal/store"
	"github.com/bureaulab/bureau/pkg/models"
)

// ReroutePhase names the workflow moment that triggered a reroute.
type ReroutePhase string

const (
	// PhasePlanning reroutes subtasks seeded from an approved plan.
	PhasePlanning ReroutePhase = "planning"
	// PhaseReview reroutes revision subtasks seeded from a review meeting.
	PhaseReview ReroutePhase = "review"
)

const rerouteSystemPrompt = `You are the planning team leader of a virtual office.
You assign sub-work-items to departments. Reply with JSON only, in the shape
{"assignments":[{"subtask_id":"...","target_department_id":"..."|null}]}.
Use null when the owning department should keep the item. Never invent ids.`

// RouterStore is the persistence surface the router needs.
type RouterStore interface {
	store.SubtaskStore
	store.AgentStore
}

// Router applies LLM-assisted subtask-to-department reassignment.
type Router struct {
	store    RouterStore
	detector *Detector
	planner  llm.OneShot
	logger   *slog.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewRouter creates a router. The detector supplies the local heuristic;
// the planner handles ambiguous cases.
func NewRouter(st RouterStore, detector *Detector, planner llm.OneShot, logger *slog.Logger) *Router {
	return &Router{
		store:    st,
		detector: detector,
		planner:  planner,
		logger:   logger,
		inFlight: make(map[string]bool),
	}
}

// DetectDepartment runs the local heuristic. See Detector.Detect.
func (r *Router) DetectDepartment(text, ownerDeptID string) string {
	return r.detector.Detect(text, ownerDeptID)
}

type rerouteAssignment struct {
	SubtaskID          string  `json:"subtask_id"`
	TargetDepartmentID *string `json:"target_department_id"`
}

type rerouteResponse struct {
	Assignments []rerouteAssignment `json:"assignments"`
}

// RerouteViaPlanningLeader asks the planner to assign each of the task's
// pending or blocked subtasks to a department. Unknown subtask or department
// ids in the reply are dropped; only rows whose routing fields actually
// change are written. Concurrent reroutes for the same (phase, task) pair
// are collapsed: the later call returns immediately.
func (r *Router) RerouteViaPlanningLeader(ctx context.Context, taskID, ownerDeptID string, phase ReroutePhase) error {
	key := string(phase) + "/" + taskID
	r.mu.Lock()
	if r.inFlight[key] {
		r.mu.Unlock()
		r.logger.Debug("reroute already in flight", "task_id", taskID, "phase", phase)
		return nil
	}
	r.inFlight[key] = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.inFlight, key)
		r.mu.Unlock()
	}()

	subtasks, err := r.store.ListSubtasks(taskID)
	if err != nil {
		return fmt.Errorf("list subtasks: %w", err)
	}
	var open []*models.Subtask
	for _, s := range subtasks {
		if s.Status == models.SubtaskStatusPending || s.Status == models.SubtaskStatusBlocked {
			open = append(open, s)
		}
	}
	if len(open) == 0 {
		return nil
	}

	departments, err := r.store.ListDepartments()
	if err != nil {
		return fmt.Errorf("list departments: %w", err)
	}

	reply, err := r.planner.Complete(ctx, rerouteSystemPrompt, buildReroutePrompt(open, departments, ownerDeptID))
	if err != nil {
		return fmt.Errorf("planner reroute: %w", err)
	}

	resp, err := parseRerouteResponse(reply)
	if err != nil {
		// A reply that cannot be parsed is skipped, never guessed at.
		r.logger.Warn("reroute response unparseable, skipping",
			"task_id", taskID, "phase", phase, "error", err)
		return nil
	}

	byID := make(map[string]*models.Subtask, len(open))
	for _, s := range open {
		byID[s.ID] = s
	}
	validDept := make(map[string]bool, len(departments))
	for _, d := range departments {
		validDept[d.ID] = true
	}

	applied := 0
	for _, a := range resp.Assignments {
		s, ok := byID[a.SubtaskID]
		if !ok {
			r.logger.Debug("reroute names unknown subtask, dropped", "subtask_id", a.SubtaskID)
			continue
		}

		target := ""
		if a.TargetDepartmentID != nil {
			target = *a.TargetDepartmentID
		}
		if target == ownerDeptID {
			// Assigning back to the owner means local work.
			target = ""
		}
		if target != "" && !validDept[target] {
			r.logger.Debug("reroute names unknown department, dropped",
				"subtask_id", a.SubtaskID, "department_id", target)
			continue
		}

		if err := r.applyAssignment(s, target); err != nil {
			r.logger.Warn("reroute apply failed", "subtask_id", s.ID, "error", err)
			continue
		}
		applied++
	}

	r.logger.Info("reroute applied", "task_id", taskID, "phase", phase,
		"assignments", len(resp.Assignments), "applied", applied)
	return nil
}

// applyAssignment writes the routing fields for one subtask if they change.
func (r *Router) applyAssignment(s *models.Subtask, target string) error {
	var (
		status  models.SubtaskStatus
		reason  string
		agentID string
	)
	if target == "" {
		status = models.SubtaskStatusPending
	} else {
		status = models.SubtaskStatusBlocked
		reason = collaborationPendingReason(r.store, target)
		if leader, err := r.store.LeaderOf(target); err == nil {
			agentID = leader.ID
		}
	}

	if s.TargetDepartmentID == target && s.Status == status &&
		s.BlockedReason == reason && s.AgentID == agentID {
		return nil
	}

	s.TargetDepartmentID = target
	s.Status = status
	s.BlockedReason = reason
	s.AgentID = agentID
	return r.store.UpdateSubtask(s)
}

// collaborationPendingReason builds the human-readable blocked reason for a
// cross-department subtask.
func collaborationPendingReason(st store.AgentStore, deptID string) string {
	name := deptID
	if d, err := st.GetDepartment(deptID); err == nil {
		name = d.Name
	}
	return fmt.Sprintf("%s collaboration pending", name)
}

// CollaborationReason is the blocked reason used when detection routes a
// subtask to another department.
func (r *Router) CollaborationReason(deptID string) string {
	return collaborationPendingReason(r.store, deptID)
}

func buildReroutePrompt(open []*models.Subtask, departments []*models.Department, ownerDeptID string) string {
	var sb strings.Builder
	sb.WriteString("Departments:\n")
	for _, d := range departments {
		fmt.Fprintf(&sb, "- %s: %s\n", d.ID, d.Name)
	}
	fmt.Fprintf(&sb, "\nOwning department: %s\n\nSubtasks:\n", ownerDeptID)
	for _, s := range open {
		fmt.Fprintf(&sb, "- %s: %s", s.ID, s.Title)
		if s.Description != "" {
			fmt.Fprintf(&sb, " — %s", s.Description)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nAssign each subtask to the department that should perform it, or null to keep it local.")
	return sb.String()
}

// parseRerouteResponse accepts the planner reply as bare JSON or inside a
// fenced code block.
func parseRerouteResponse(reply string) (*rerouteResponse, error) {
	text := strings.TrimSpace(reply)

	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			text = strings.TrimSpace(rest[:j])
		}
	}

	// Fall back to the outermost object if the reply has prose around it.
	if !strings.HasPrefix(text, "{") {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("no JSON object in reply")
		}
		text = text[start : end+1]
	}

	var resp rerouteResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("decode assignments: %w", err)
	}
	return &resp, nil
}

// rerouteTimeout bounds a single planner call.
const rerouteTimeout = 60 * time.Second

// RerouteAsync runs a reroute in the background with a bounded deadline.
func (r *Router) RerouteAsync(taskID, ownerDeptID string, phase ReroutePhase) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), rerouteTimeout)
		defer cancel()
		if err := r.RerouteViaPlanningLeader(ctx, taskID, ownerDeptID, phase); err != nil {
			r.logger.Warn("background reroute failed", "task_id", taskID, "error", err)
		}
	}()
}
