package orchestrator

import (
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/bureaulab/bureau/internal/broadcast"
	"github.com/bureaulab/bureau/internal/delegation"
	"github.com/bureaulab/bureau/internal/meeting"
	"github.com/bureaulab/bureau/internal/proc"
	"github.com/bureaulab/bureau/internal/runner"
	"github.com/bureaulab/bureau/internal/session"
	"github.com/bureaulab/bureau/internal/store"
	"github.com/bureaulab/bureau/internal/subtask"
	"github.com/bureaulab/bureau/internal/worktree"
	"github.com/bureaulab/bureau/pkg/models"
)

var (
	// ErrAgentBusy is returned when the target agent is already executing a
	// different task.
	ErrAgentBusy = errors.New("agent is busy on another task")
	// ErrTaskNotRunnable is returned when the task's status does not allow
	// starting a run.
	ErrTaskNotRunnable = errors.New("task is not in a runnable state")
	// ErrNotPending is returned when resuming a task that is not paused.
	ErrNotPending = errors.New("task is not paused")
	// ErrNoAgentAssigned is returned when a run is requested for a task
	// without an agent.
	ErrNoAgentAssigned = errors.New("task has no agent assigned")
)

// StopMode selects how StopTask terminates a run.
type StopMode string

const (
	// StopPause interrupts gracefully; the session and worktree survive.
	StopPause StopMode = "pause"
	// StopCancel kills the run, ends the session, and rolls the worktree
	// back.
	StopCancel StopMode = "cancel"
)

// SpawnResult reports the observable state of a freshly started run.
type SpawnResult struct {
	OK       bool              `json:"ok"`
	PID      int               `json:"pid,omitempty"`
	Status   models.TaskStatus `json:"status"`
	LogPath  string            `json:"log_path,omitempty"`
	CWD      string            `json:"cwd,omitempty"`
	Worktree string            `json:"worktree,omitempty"`
}

// Orchestrator owns the task state machine and wires every execution
// collaborator together. One instance serves the whole process.
type Orchestrator struct {
	store       store.Store
	registry    *proc.Registry
	cliRunner   runner.Runner
	httpRunner  runner.Runner
	sessions    *session.Manager
	worktrees   *worktree.Manager
	tracker     *subtask.Tracker
	queue       *delegation.Queue
	meetings    *meeting.Engine
	broadcaster broadcast.Broadcaster
	logger      *slog.Logger

	resumeMin time.Duration
	resumeMax time.Duration

	// sleep and now are replaced in tests.
	sleep func(time.Duration)
	now   func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	wg conc.WaitGroup

	// taskLoggers tracks open per-task log files so stop paths can close
	// them.
	logMu       sync.Mutex
	taskLoggers map[string]*TaskLogger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithResumeDelay bounds the randomized delay before an auto-resumed task
// re-triggers execution.
func WithResumeDelay(min, max time.Duration) Option {
	return func(o *Orchestrator) {
		o.resumeMin = min
		o.resumeMax = max
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSleeper replaces the delay function, for tests.
func WithSleeper(sleep func(time.Duration)) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithMeetings attaches the consensus engine.
func WithMeetings(e *meeting.Engine) Option {
	return func(o *Orchestrator) { o.meetings = e }
}

// WithDelegation attaches the delegation queue.
func WithDelegation(q *delegation.Queue) Option {
	return func(o *Orchestrator) { o.queue = q }
}

// New creates an Orchestrator.
func New(st store.Store, registry *proc.Registry, cliRunner, httpRunner runner.Runner,
	sessions *session.Manager, worktrees *worktree.Manager, tracker *subtask.Tracker,
	b broadcast.Broadcaster, logger *slog.Logger, opts ...Option) *Orchestrator {
	if b == nil {
		b = broadcast.Noop{}
	}
	o := &Orchestrator{
		store:       st,
		registry:    registry,
		cliRunner:   cliRunner,
		httpRunner:  httpRunner,
		sessions:    sessions,
		worktrees:   worktrees,
		tracker:     tracker,
		broadcaster: b,
		logger:      logger,
		resumeMin:   1500 * time.Millisecond,
		resumeMax:   4500 * time.Millisecond,
		sleep:       time.Sleep,
		now:         time.Now,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		taskLoggers: make(map[string]*TaskLogger),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Wait blocks until all in-flight runs have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// MeetingPresence exposes the live meeting seat table.
func (o *Orchestrator) MeetingPresence() []*meeting.Presence {
	if o.meetings == nil {
		return nil
	}
	return o.meetings.Presence()
}

// resumeDelay picks a randomized delay so simultaneously resumed tasks do
// not restart in lockstep.
func (o *Orchestrator) resumeDelay() time.Duration {
	if o.resumeMax <= o.resumeMin {
		return o.resumeMin
	}
	o.rngMu.Lock()
	defer o.rngMu.Unlock()
	return o.resumeMin + time.Duration(o.rng.Int63n(int64(o.resumeMax-o.resumeMin)))
}

// runnerFor selects the runner family for an agent.
func (o *Orchestrator) runnerFor(agent *models.Agent) runner.Runner {
	if agent.Provider.CLI() {
		return o.cliRunner
	}
	return o.httpRunner
}

func (o *Orchestrator) taskLogger(task *models.Task) *TaskLogger {
	o.logMu.Lock()
	defer o.logMu.Unlock()
	if l, ok := o.taskLoggers[task.ID]; ok {
		return l
	}
	l := NewTaskLoggerForProject(task.ProjectPath, task.ID)
	o.taskLoggers[task.ID] = l
	return l
}

func (o *Orchestrator) closeTaskLogger(taskID string) {
	o.logMu.Lock()
	l := o.taskLoggers[taskID]
	delete(o.taskLoggers, taskID)
	o.logMu.Unlock()
	if l != nil {
		l.Close()
	}
}
