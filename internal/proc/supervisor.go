package proc

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// strippedEnvVars are ambient variables removed from the child environment.
// Conflicting agent markers confuse nested CLIs, and TTY/color signaling
// makes output nondeterministic for parsing.
var strippedEnvVars = []string{
	"CLAUDECODE",
	"CLAUDE_CODE_ENTRYPOINT",
	"CODEX_SANDBOX",
	"GEMINI_CLI",
	"FORCE_COLOR",
	"CLICOLOR_FORCE",
	"COLORTERM",
}

// OutputChunk is a raw piece of subprocess output.
type OutputChunk struct {
	// Stream is "stdout" or "stderr".
	Stream string
	// Data is the raw bytes read.
	Data []byte
}

// RunState describes how a run ended.
type RunState int

const (
	// RunClosed means the process exited on its own.
	RunClosed RunState = iota
	// RunErrored means the process could not be started or waited on.
	RunErrored
	// RunTimedOut means an idle or hard timeout killed the process.
	RunTimedOut
)

// RunResult is the outcome of one supervised subprocess run.
type RunResult struct {
	// State is how the run ended.
	State RunState
	// ExitCode is the process exit code when State is RunClosed.
	ExitCode int
	// Reason is the timeout reason when State is RunTimedOut.
	Reason string
	// Err is the underlying error when State is RunErrored.
	Err error
}

// SpawnSpec describes a subprocess to supervise.
type SpawnSpec struct {
	// TaskID is the task this run belongs to.
	TaskID string
	// AgentID is the agent performing the run.
	AgentID string
	// Command is the executable name.
	Command string
	// Args are the command arguments.
	Args []string
	// Dir is the working directory (worktree or project path).
	Dir string
	// Prompt is written to the subprocess stdin and to a side-channel file
	// for CLIs that read prompts from disk.
	Prompt string
	// IdleTimeout kills the run after this long with no output. Zero disables.
	IdleTimeout time.Duration
	// HardTimeout kills the run after this long regardless of output. Zero disables.
	HardTimeout time.Duration
}

// Run is a single supervised subprocess execution.
type Run struct {
	spec       SpawnSpec
	cmd        *exec.Cmd
	supervisor *Supervisor
	promptFile string

	output chan OutputChunk
	done   chan struct{}

	mu       sync.Mutex
	timedOut bool
	reason   string
	idle     *time.Timer
	hard     *time.Timer
	finished bool
	// stoppedEarly records a Terminate that arrived before the process
	// existed; Spawn kills the process right after starting it.
	stoppedEarly bool
}

// Supervisor spawns subprocesses and enforces the active-process invariant.
type Supervisor struct {
	registry   *Registry
	terminator Terminator
	logger     *slog.Logger
}

// NewSupervisor creates a Supervisor using the platform terminator.
func NewSupervisor(registry *Registry, logger *slog.Logger) *Supervisor {
	return NewSupervisorWithTerminator(registry, NewTerminator(), logger)
}

// NewSupervisorWithTerminator creates a Supervisor with a custom terminator
// (for testing against a fake process tree).
func NewSupervisorWithTerminator(registry *Registry, t Terminator, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{registry: registry, terminator: t, logger: logger}
}

// Spawn starts the subprocess, registers it as the task's single active
// process, and begins streaming output. The caller consumes Output() until
// closed, then calls Wait(). The registry slot is claimed before the prompt
// file is written or the process starts, so a concurrent spawn for the same
// task never produces a second live process.
func (s *Supervisor) Spawn(spec SpawnSpec) (*Run, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = sanitizedEnv(os.Environ())
	cmd.Stdin = strings.NewReader(spec.Prompt)
	setProcessGroup(cmd)

	run := &Run{
		spec:       spec,
		cmd:        cmd,
		supervisor: s,
		output:     make(chan OutputChunk, 128),
		done:       make(chan struct{}),
	}

	if err := s.registry.Register(&Handle{
		TaskID:    spec.TaskID,
		AgentID:   spec.AgentID,
		Cancel:    func() { run.Terminate(ModeKill, "cancelled") },
		Interrupt: func() { run.Terminate(ModeInterrupt, "paused") },
	}); err != nil {
		return nil, err
	}

	promptFile, err := writePromptFile(spec.Dir, spec.TaskID, spec.Prompt)
	if err != nil {
		s.registry.Remove(spec.TaskID)
		return nil, fmt.Errorf("write prompt file: %w", err)
	}
	run.promptFile = promptFile

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.registry.Remove(spec.TaskID)
		_ = os.Remove(promptFile)
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.registry.Remove(spec.TaskID)
		_ = os.Remove(promptFile)
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		s.registry.Remove(spec.TaskID)
		_ = os.Remove(promptFile)
		return nil, fmt.Errorf("start process: %w", err)
	}
	s.registry.SetPID(spec.TaskID, cmd.Process.Pid)

	// A stop that raced the spawn lands here instead of on a live pid.
	run.mu.Lock()
	earlyStop := run.stoppedEarly
	run.mu.Unlock()
	if earlyStop {
		_ = s.terminator.TerminateTree(cmd.Process.Pid, ModeKill)
	}

	run.startTimers()

	var readers sync.WaitGroup
	readers.Add(2)
	go run.readPipe("stdout", stdout, &readers)
	go run.readPipe("stderr", stderr, &readers)
	go func() {
		readers.Wait()
		close(run.output)
	}()

	s.logger.Info("process spawned",
		"task_id", spec.TaskID, "pid", cmd.Process.Pid, "command", spec.Command)
	return run, nil
}

// sanitizedEnv strips ambient agent and color variables and disables TTY
// signaling so output is deterministic for parsing.
func sanitizedEnv(env []string) []string {
	out := make([]string, 0, len(env)+2)
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		stripped := false
		for _, bad := range strippedEnvVars {
			if name == bad {
				stripped = true
				break
			}
		}
		if !stripped {
			out = append(out, kv)
		}
	}
	out = append(out, "NO_COLOR=1", "TERM=dumb")
	return out
}

// writePromptFile writes the prompt to a side-channel file next to the run's
// working directory. Some provider CLIs read prompts from disk as well as stdin.
func writePromptFile(dir, taskID, prompt string) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf(".bureau-prompt-%s.md", taskID))
	if err := os.WriteFile(path, []byte(prompt), 0600); err != nil {
		return "", err
	}
	return path, nil
}

// Output returns the channel of raw output chunks. Closed when both pipes
// are drained.
func (r *Run) Output() <-chan OutputChunk {
	return r.output
}

// PID returns the subprocess pid.
func (r *Run) PID() int {
	if r.cmd.Process == nil {
		return 0
	}
	return r.cmd.Process.Pid
}

// readPipe reads raw chunks from one pipe, resetting the idle timer on every
// read.
func (r *Run) readPipe(name string, pipe io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()

	buf := make([]byte, 32*1024)
	for {
		n, err := pipe.Read(buf)
		if n > 0 {
			r.touchIdle()
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			r.output <- OutputChunk{Stream: name, Data: chunk}
		}
		if err != nil {
			return
		}
	}
}

// startTimers arms the idle and hard timers.
func (r *Run) startTimers() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d := r.spec.IdleTimeout; d > 0 {
		r.idle = time.AfterFunc(d, func() {
			r.timeout(fmt.Sprintf("no output for %.0fs", d.Seconds()))
		})
	}
	if d := r.spec.HardTimeout; d > 0 {
		r.hard = time.AfterFunc(d, func() {
			r.timeout(fmt.Sprintf("exceeded max runtime %.0fs", d.Seconds()))
		})
	}
}

// touchIdle resets the idle timer after output activity.
func (r *Run) touchIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.idle != nil && !r.finished {
		r.idle.Reset(r.spec.IdleTimeout)
	}
}

// timeout marks the run timed out and kills the process tree. A timer firing
// on an already-finished run does nothing.
func (r *Run) timeout(reason string) {
	r.mu.Lock()
	if r.finished || r.timedOut {
		r.mu.Unlock()
		return
	}
	r.timedOut = true
	r.reason = reason
	r.mu.Unlock()

	r.supervisor.logger.Warn("RUN TIMEOUT",
		"task_id", r.spec.TaskID, "reason", reason, "pid", r.PID())
	_ = r.supervisor.terminator.TerminateTree(r.PID(), ModeKill)
}

// Terminate stops the run with the given mode. Interrupt is the pause path;
// kill is the cancel path.
func (r *Run) Terminate(mode TerminateMode, reason string) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	if r.cmd.Process == nil {
		r.stoppedEarly = true
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.supervisor.logger.Info("terminating process tree",
		"task_id", r.spec.TaskID, "pid", r.PID(), "reason", reason, "interrupt", mode == ModeInterrupt)
	_ = r.supervisor.terminator.TerminateTree(r.PID(), mode)
}

// Wait blocks until the process exits, then cleans up the prompt file and
// releases the task's registry slot exactly once.
func (r *Run) Wait() RunResult {
	err := r.cmd.Wait()

	r.mu.Lock()
	r.finished = true
	if r.idle != nil {
		r.idle.Stop()
	}
	if r.hard != nil {
		r.hard.Stop()
	}
	timedOut := r.timedOut
	reason := r.reason
	r.mu.Unlock()

	_ = os.Remove(r.promptFile)
	r.supervisor.registry.Remove(r.spec.TaskID)
	close(r.done)

	if timedOut {
		return RunResult{State: RunTimedOut, Reason: reason}
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return RunResult{State: RunClosed, ExitCode: exitErr.ExitCode()}
		}
		return RunResult{State: RunErrored, Err: err}
	}
	return RunResult{State: RunClosed, ExitCode: 0}
}
