package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureaulab/bureau/internal/llm"
	"github.com/bureaulab/bureau/internal/proc"
	"github.com/bureaulab/bureau/internal/stream"
	"github.com/bureaulab/bureau/pkg/models"
)

// CLIRunner executes tasks through local provider CLIs under the process
// supervisor.
type CLIRunner struct {
	supervisor *proc.Supervisor
	normalizer *stream.Normalizer
	logger     *slog.Logger

	idleTimeout time.Duration
	hardTimeout time.Duration

	// invoke builds the CLI command line; replaced in tests.
	invoke func(provider models.Provider, model, sessionID string) (*llm.Invocation, error)
}

// Verify CLIRunner implements Runner at compile time.
var _ Runner = (*CLIRunner)(nil)

// NewCLIRunner creates a CLI runner with the given supervision timeouts.
func NewCLIRunner(sup *proc.Supervisor, idle, hard time.Duration, logger *slog.Logger) *CLIRunner {
	return &CLIRunner{
		supervisor:  sup,
		normalizer:  stream.NewNormalizer(),
		logger:      logger,
		idleTimeout: idle,
		hardTimeout: hard,
		invoke:      llm.BuildCLIInvocation,
	}
}

// Execute spawns the provider CLI, streams and normalizes its output, and
// reports the run outcome. A spawn failure is reported as a failed
// Completion; only a busy task slot is an error.
func (r *CLIRunner) Execute(ctx context.Context, req Request, hooks Hooks) (Completion, error) {
	taskID := req.Task.ID

	inv, err := r.invoke(req.Agent.Provider, req.Agent.Model, req.SessionID)
	if err != nil {
		return Completion{}, err
	}

	run, err := r.supervisor.Spawn(proc.SpawnSpec{
		TaskID:      taskID,
		AgentID:     req.Agent.ID,
		Command:     inv.Command,
		Args:        inv.Args,
		Dir:         req.WorkDir,
		Prompt:      req.Prompt,
		IdleTimeout: r.idleTimeout,
		HardTimeout: r.hardTimeout,
	})
	if err == proc.ErrTaskBusy {
		return Completion{}, err
	}
	if err != nil {
		r.logger.Error("spawn failed", "task_id", taskID, "command", inv.Command, "error", err)
		return Completion{
			TaskID: taskID,
			Reason: fmt.Sprintf("spawn failed: %v", err),
		}, nil
	}

	// Cancel the run if the context is aborted while streaming.
	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			run.Terminate(proc.ModeKill, "context cancelled")
		case <-stopWatch:
		}
	}()

	planScan := stream.NewPlanScanner()
	var tail tailBuffer

	for chunk := range run.Output() {
		text, ok := r.normalizer.Normalize(taskID, chunk.Stream, string(chunk.Data))
		if !ok {
			continue
		}
		hooks.emitOutput(chunk.Stream, text)
		tail.WriteString(text)

		for _, ev := range stream.ScanMarkers(text) {
			hooks.emitEvent(ev)
		}
		for _, ev := range planScan.Feed(text) {
			hooks.emitEvent(ev)
		}
	}

	res := run.Wait()
	close(stopWatch)
	r.normalizer.Forget(taskID)

	c := Completion{TaskID: taskID, Output: tail.String()}
	switch res.State {
	case proc.RunClosed:
		if res.ExitCode == 0 {
			c.Success = true
		} else {
			c.Reason = fmt.Sprintf("exit code %d", res.ExitCode)
		}
	case proc.RunTimedOut:
		c.Reason = res.Reason
	case proc.RunErrored:
		c.Reason = fmt.Sprintf("process error: %v", res.Err)
	}
	return c, nil
}
