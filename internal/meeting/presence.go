// Package meeting drives the simulated leader consensus rounds that approve
// plans and review finished work, and seeds the follow-up subtasks those
// rounds produce.
package meeting

import (
	"sort"
	"sync"
	"time"
)

// Phase identifies which kind of meeting an agent is seated in.
type Phase string

const (
	// PhaseKickoff is the planned-approval meeting before execution.
	PhaseKickoff Phase = "kickoff"
	// PhaseReview is the post-execution review meeting.
	PhaseReview Phase = "review"
)

// Decision is a leader's current stance within a review round.
type Decision string

const (
	// DecisionReviewing means the leader has not spoken yet.
	DecisionReviewing Decision = "reviewing"
	// DecisionApproved means the leader signed off.
	DecisionApproved Decision = "approved"
	// DecisionHold means the leader blocked or deferred.
	DecisionHold Decision = "hold"
)

// presenceTTL bounds how long a seat survives without being refreshed.
// Crashed rounds are garbage-collected instead of pinning seats forever.
const presenceTTL = 10 * time.Minute

// Presence is one leader's transient seat in a meeting.
type Presence struct {
	AgentID   string    `json:"agent_id"`
	TaskID    string    `json:"task_id"`
	Seat      int       `json:"seat"`
	Phase     Phase     `json:"phase"`
	Decision  Decision  `json:"decision"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PresenceTable tracks who is seated in which meeting. All mutations are
// check-then-set under one lock so a leader never holds two seats for the
// same task.
type PresenceTable struct {
	mu      sync.Mutex
	entries map[string]*Presence // keyed by agent id
	ttl     time.Duration
	now     func() time.Time
}

// NewPresenceTable creates an empty presence table.
func NewPresenceTable() *PresenceTable {
	return &PresenceTable{
		entries: make(map[string]*Presence),
		ttl:     presenceTTL,
		now:     time.Now,
	}
}

// Seat places an agent in the given task's meeting, assigning the next free
// seat index. Re-seating an already present agent refreshes its expiry and
// keeps its seat.
func (p *PresenceTable) Seat(agentID, taskID string, phase Phase) *Presence {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expireLocked()

	if e, ok := p.entries[agentID]; ok && e.TaskID == taskID {
		e.ExpiresAt = p.now().Add(p.ttl)
		return e.clone()
	}

	seat := 0
	for _, e := range p.entries {
		if e.TaskID == taskID && e.Seat >= seat {
			seat = e.Seat + 1
		}
	}
	e := &Presence{
		AgentID:   agentID,
		TaskID:    taskID,
		Seat:      seat,
		Phase:     phase,
		Decision:  DecisionReviewing,
		ExpiresAt: p.now().Add(p.ttl),
	}
	p.entries[agentID] = e
	return e.clone()
}

// SetDecision records a seated agent's stance and refreshes its expiry.
// Unknown agents are ignored.
func (p *PresenceTable) SetDecision(agentID string, d Decision) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[agentID]; ok {
		e.Decision = d
		e.ExpiresAt = p.now().Add(p.ttl)
	}
}

// Leave removes an agent's seat.
func (p *PresenceTable) Leave(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, agentID)
}

// Dismiss clears all seats for a task, ending its meeting.
func (p *PresenceTable) Dismiss(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, e := range p.entries {
		if e.TaskID == taskID {
			delete(p.entries, id)
		}
	}
}

// Snapshot returns the live seats, ordered by task id then seat index.
// Expired seats are garbage-collected first.
func (p *PresenceTable) Snapshot() []*Presence {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expireLocked()

	out := make([]*Presence, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TaskID != out[j].TaskID {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].Seat < out[j].Seat
	})
	return out
}

func (p *PresenceTable) expireLocked() {
	cutoff := p.now()
	for id, e := range p.entries {
		if e.ExpiresAt.Before(cutoff) {
			delete(p.entries, id)
		}
	}
}

func (e *Presence) clone() *Presence {
	cp := *e
	return &cp
}
