// Package proc supervises CLI agent subprocesses: spawn, idle and hard
// timeout enforcement, signal-escalation termination, and the single
// active-process-per-task registry.
package proc

import (
	"errors"
	"sync"
	"time"
)

// ErrTaskBusy indicates a task already owns an active process or stream.
var ErrTaskBusy = errors.New("task already has an active process")

// Handle identifies a task's single active execution.
type Handle struct {
	// TaskID is the task that owns this execution.
	TaskID string
	// AgentID is the agent performing the execution.
	AgentID string
	// PID is the OS process id, or 0 for HTTP streams.
	PID int
	// StartedAt is when the execution was registered.
	StartedAt time.Time
	// Cancel stops the execution. Never nil.
	Cancel func()
	// Interrupt stops the execution gently, giving it a chance to persist
	// state (the pause path). Falls back to Cancel when nil.
	Interrupt func()
}

// Pause invokes Interrupt when available, Cancel otherwise.
func (h *Handle) Pause() {
	if h.Interrupt != nil {
		h.Interrupt()
		return
	}
	h.Cancel()
}

// Registry is the process-wide table of active executions, keyed by task id.
// All mutations are check-then-set under one lock so concurrent run/stop/
// resume calls for a task serialize and double dispatch is impossible.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Handle
	// reserved maps task ids to agent ids for slots claimed before the
	// process or stream exists. Register upgrades a reservation in place.
	reserved map[string]string

	// alive reports whether an OS pid is still running; replaced in tests.
	alive func(pid int) bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:  make(map[string]*Handle),
		reserved: make(map[string]string),
		alive:    pidAlive,
	}
}

// Reserve claims the task's slot before any side effect of starting a run.
// The runner's later Register upgrades the reservation to a live handle.
func (r *Registry) Reserve(taskID, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.slotFreeLocked(taskID) {
		return ErrTaskBusy
	}
	r.reserved[taskID] = agentID
	return nil
}

// Release drops a reservation that never became a live execution. Live
// handles are untouched; those are released by Remove.
func (r *Registry) Release(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reserved, taskID)
}

// Register claims the task's execution slot. If a previous handle references
// a dead pid it is cleared (self-heal) and the claim succeeds. Returns
// ErrTaskBusy when a live execution already owns the slot.
func (r *Registry) Register(h *Handle) error {
	if h.Cancel == nil {
		h.Cancel = func() {}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// A reservation for this task is the claim being upgraded, not a
	// conflict.
	delete(r.reserved, h.TaskID)

	if !r.slotFreeLocked(h.TaskID) {
		return ErrTaskBusy
	}
	if h.StartedAt.IsZero() {
		h.StartedAt = time.Now()
	}
	r.entries[h.TaskID] = h
	return nil
}

// slotFreeLocked reports whether the task's slot can be claimed, clearing a
// stale handle from a crashed run along the way. Caller holds the lock.
func (r *Registry) slotFreeLocked(taskID string) bool {
	if _, ok := r.reserved[taskID]; ok {
		return false
	}
	existing, ok := r.entries[taskID]
	if !ok {
		return true
	}
	if existing.PID > 0 && !r.alive(existing.PID) {
		delete(r.entries, taskID)
		return true
	}
	return false
}

// SetPID fills in the OS pid once the claimed slot's process exists.
func (r *Registry) SetPID(taskID string, pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.entries[taskID]; ok {
		h.PID = pid
	}
}

// PID reports the pid of the task's active execution. The second return is
// false when no execution is registered.
func (r *Registry) PID(taskID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.entries[taskID]
	if !ok {
		return 0, false
	}
	return h.PID, true
}

// Get returns the active handle for a task, or nil.
func (r *Registry) Get(taskID string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[taskID]
}

// Remove releases the task's slot. Returns true only for the call that
// actually removed the handle, so completion paths run exactly once.
func (r *Registry) Remove(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[taskID]; !ok {
		return false
	}
	delete(r.entries, taskID)
	return true
}

// AgentBusy returns the task id the agent is currently executing or reserved
// for, or "".
func (r *Registry) AgentBusy(agentID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.entries {
		if h.AgentID == agentID {
			return h.TaskID
		}
	}
	for taskID, reservedAgent := range r.reserved {
		if reservedAgent == agentID {
			return taskID
		}
	}
	return ""
}

// ActiveTaskIDs returns the task ids with registered executions.
func (r *Registry) ActiveTaskIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}
