package meeting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/bureaulab/bureau/internal/broadcast"
	"github.com/bureaulab/bureau/internal/department"
	"github.com/bureaulab/bureau/internal/llm"
	"github.com/bureaulab/bureau/internal/store"
	"github.com/bureaulab/bureau/pkg/models"
)

// Outcome is the final verdict of a meeting round.
type Outcome string

const (
	// OutcomeApproved means every leader agreed.
	OutcomeApproved Outcome = "approved"
	// OutcomeHold means a kickoff round failed to reach consensus.
	OutcomeHold Outcome = "hold"
	// OutcomeRevision means a review round requested changes.
	OutcomeRevision Outcome = "revision_requested"
)

// Turn is one leader's contribution to a round.
type Turn struct {
	AgentID string
	Text    string
	Signal  Signal
}

// Result summarizes a finished meeting round.
type Result struct {
	Outcome Outcome
	Turns   []Turn
	// Seeded is the number of subtasks created from the round's outcome.
	Seeded int
}

// EngineStore is the repository surface the engine needs.
type EngineStore interface {
	store.TaskStore
	store.SubtaskStore
	store.AgentStore
}

// Rerouter re-routes a task's open subtasks after seeding.
type Rerouter interface {
	RerouteAsync(taskID, ownerDeptID string, phase department.ReroutePhase)
}

// Engine conducts planned-approval and review meetings among department
// leaders and seeds the subtasks those meetings produce.
type Engine struct {
	store       EngineStore
	presence    *PresenceTable
	speaker     llm.OneShot
	rerouter    Rerouter
	broadcaster broadcast.Broadcaster
	logger      *slog.Logger

	maxActionItems     int
	maxRevisionSignals int
	now                func() time.Time
}

// NewEngine creates a meeting engine. Caps bound subtask fan-out per round.
func NewEngine(st EngineStore, speaker llm.OneShot, rerouter Rerouter,
	b broadcast.Broadcaster, logger *slog.Logger,
	maxActionItems, maxRevisionSignals int) *Engine {
	if b == nil {
		b = broadcast.Noop{}
	}
	return &Engine{
		store:              st,
		presence:           NewPresenceTable(),
		speaker:            speaker,
		rerouter:           rerouter,
		broadcaster:        b,
		logger:             logger,
		maxActionItems:     maxActionItems,
		maxRevisionSignals: maxRevisionSignals,
		now:                time.Now,
	}
}

// Presence exposes the live seat table for observers.
func (e *Engine) Presence() []*Presence {
	return e.presence.Snapshot()
}

// ConductKickoff runs the planned-approval round for a task. Every leader
// speaks once; the plan is approved only when all of them agree, otherwise
// the task stays on hold. On approval the turns' action items are seeded as
// subtasks and routing runs immediately.
func (e *Engine) ConductKickoff(ctx context.Context, taskID string) (*Result, error) {
	task, leaders, err := e.convene(taskID, PhaseKickoff)
	if err != nil {
		return nil, err
	}
	defer e.dismiss(taskID)

	res := &Result{Outcome: OutcomeApproved}
	for _, leader := range leaders {
		turn := e.speak(ctx, leader, kickoffPrompt(task))
		res.Turns = append(res.Turns, turn)
		if turn.Signal != SignalAgree {
			res.Outcome = OutcomeHold
		}
	}

	if res.Outcome == OutcomeApproved {
		items := collectActionItems(res.Turns)
		n, err := e.SeedApprovedPlanSubtasks(task, items)
		if err != nil {
			return res, err
		}
		res.Seeded = n
	}
	e.logger.Info("kickoff meeting finished",
		"task_id", taskID, "outcome", res.Outcome, "seeded", res.Seeded)
	return res, nil
}

// ConductReview runs the review round for a task. Any block or deferral
// requests revision; the revision notes from dissenting turns are seeded as
// subtasks.
func (e *Engine) ConductReview(ctx context.Context, taskID string) (*Result, error) {
	task, leaders, err := e.convene(taskID, PhaseReview)
	if err != nil {
		return nil, err
	}
	defer e.dismiss(taskID)

	res := &Result{Outcome: OutcomeApproved}
	var dissent []Turn
	for _, leader := range leaders {
		turn := e.speak(ctx, leader, reviewPrompt(task))
		res.Turns = append(res.Turns, turn)
		if turn.Signal != SignalAgree {
			res.Outcome = OutcomeRevision
			dissent = append(dissent, turn)
		}
	}

	if res.Outcome == OutcomeRevision {
		notes := collectActionItems(dissent)
		n, err := e.SeedReviewRevisionSubtasks(task, notes)
		if err != nil {
			return res, err
		}
		res.Seeded = n
	}
	e.logger.Info("review meeting finished",
		"task_id", taskID, "outcome", res.Outcome, "seeded", res.Seeded)
	return res, nil
}

// convene loads the task and seats every department leader.
func (e *Engine) convene(taskID string, phase Phase) (*models.Task, []*models.Agent, error) {
	task, err := e.store.GetTask(taskID)
	if err != nil {
		return nil, nil, fmt.Errorf("load task %s: %w", taskID, err)
	}
	agents, err := e.store.ListAgents()
	if err != nil {
		return nil, nil, fmt.Errorf("list agents: %w", err)
	}
	var leaders []*models.Agent
	for _, a := range agents {
		if a.Role == models.RoleTeamLeader {
			leaders = append(leaders, a)
		}
	}
	if len(leaders) == 0 {
		return nil, nil, fmt.Errorf("no team leaders available for task %s", taskID)
	}
	for _, l := range leaders {
		e.presence.Seat(l.ID, taskID, phase)
	}
	e.broadcaster.Broadcast(broadcast.EventMeetingUpdated, e.presence.Snapshot())
	return task, leaders, nil
}

// speak asks one leader for its turn and records the classified decision.
// An LLM failure is treated as an ambiguous turn, never as approval.
func (e *Engine) speak(ctx context.Context, leader *models.Agent, prompt string) Turn {
	text, err := e.speaker.Complete(ctx, leaderSystemPrompt(leader), prompt)
	if err != nil {
		e.logger.Warn("meeting turn failed", "agent_id", leader.ID, "error", err)
		text = ""
	}
	turn := Turn{AgentID: leader.ID, Text: text, Signal: ClassifyTurn(text)}
	e.presence.SetDecision(leader.ID, decisionFor(turn.Signal))
	e.broadcaster.Broadcast(broadcast.EventMeetingUpdated, e.presence.Snapshot())
	return turn
}

func (e *Engine) dismiss(taskID string) {
	e.presence.Dismiss(taskID)
	e.broadcaster.Broadcast(broadcast.EventMeetingUpdated, e.presence.Snapshot())
}

// SeedApprovedPlanSubtasks expands an approved round's action items into
// subtask rows. Items are deduplicated by normalized text against both the
// batch and the task's existing subtasks, and capped per round. Routing runs
// immediately after seeding.
func (e *Engine) SeedApprovedPlanSubtasks(task *models.Task, items []string) (int, error) {
	existing, err := e.store.ListSubtasks(task.ID)
	if err != nil {
		return 0, fmt.Errorf("list subtasks for %s: %w", task.ID, err)
	}
	seen := make(map[string]bool)
	for _, s := range existing {
		seen[normalizeItem(s.Title)] = true
	}

	created := 0
	for _, item := range items {
		if created >= e.maxActionItems {
			e.logger.Warn("action item cap reached", "task_id", task.ID, "cap", e.maxActionItems)
			break
		}
		norm := normalizeItem(item)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		if err := e.createSeed(task.ID, item); err != nil {
			return created, err
		}
		created++
	}

	if created > 0 && e.rerouter != nil {
		e.rerouter.RerouteAsync(task.ID, task.DepartmentID, department.PhasePlanning)
	}
	return created, nil
}

// SeedReviewRevisionSubtasks expands revision notes into subtask rows. A
// note is skipped when an open (non-done) subtask with the same normalized
// title already exists, so repeated review rounds do not duplicate work.
func (e *Engine) SeedReviewRevisionSubtasks(task *models.Task, notes []string) (int, error) {
	existing, err := e.store.ListSubtasks(task.ID)
	if err != nil {
		return 0, fmt.Errorf("list subtasks for %s: %w", task.ID, err)
	}
	open := make(map[string]bool)
	for _, s := range existing {
		if s.Status.Open() {
			open[normalizeItem(s.Title)] = true
		}
	}

	created := 0
	for _, note := range notes {
		if created >= e.maxRevisionSignals {
			e.logger.Warn("revision signal cap reached", "task_id", task.ID, "cap", e.maxRevisionSignals)
			break
		}
		norm := normalizeItem(note)
		if norm == "" || open[norm] {
			continue
		}
		open[norm] = true
		if err := e.createSeed(task.ID, note); err != nil {
			return created, err
		}
		created++
	}

	if created > 0 && e.rerouter != nil {
		e.rerouter.RerouteAsync(task.ID, task.DepartmentID, department.PhaseReview)
	}
	return created, nil
}

func (e *Engine) createSeed(taskID, title string) error {
	s := &models.Subtask{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Title:     strings.TrimSpace(title),
		Status:    models.SubtaskStatusPending,
		CreatedAt: e.now(),
	}
	if err := e.store.CreateSubtask(s); err != nil {
		return fmt.Errorf("seed subtask: %w", err)
	}
	e.broadcaster.Broadcast(broadcast.EventSubtaskUpdated, s)
	return nil
}

// collectActionItems pulls bullet and numbered lines out of meeting turns.
func collectActionItems(turns []Turn) []string {
	var items []string
	for _, t := range turns {
		for _, line := range strings.Split(t.Text, "\n") {
			line = strings.TrimSpace(line)
			if item, ok := stripBullet(line); ok {
				items = append(items, item)
			}
		}
	}
	return items
}

// stripBullet returns the content of a "- ", "* " or "1. " style line.
func stripBullet(line string) (string, bool) {
	if after, ok := strings.CutPrefix(line, "- "); ok {
		return strings.TrimSpace(after), true
	}
	if after, ok := strings.CutPrefix(line, "* "); ok {
		return strings.TrimSpace(after), true
	}
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line)-1 && (line[i] == '.' || line[i] == ')') && line[i+1] == ' ' {
		return strings.TrimSpace(line[i+2:]), true
	}
	return "", false
}

// normalizeItem lowercases, strips punctuation, and collapses whitespace so
// trivially reworded duplicates collide.
func normalizeItem(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}

func leaderSystemPrompt(leader *models.Agent) string {
	return fmt.Sprintf("You are %s, a department team leader in a planning meeting. "+
		"State your verdict plainly (approve, hold, or block) and list any "+
		"action items as bullet points.", leader.Name)
}

func kickoffPrompt(task *models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The team proposes to start the following task.\n\nTitle: %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", task.Description)
	}
	b.WriteString("\nDo you approve the plan? List concrete action items as bullets.")
	return b.String()
}

func reviewPrompt(task *models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The following task is finished and under review.\n\nTitle: %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", task.Description)
	}
	b.WriteString("\nDo you sign off? If not, list the required revisions as bullets.")
	return b.String()
}
