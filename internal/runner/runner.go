// Package runner drives one execution attempt to completion: CLI providers
// through the process supervisor, hosted providers through the credential
// pool and SSE decoders. Both report through the same Completion shape.
package runner

import (
	"context"

	"github.com/bureaulab/bureau/internal/stream"
	"github.com/bureaulab/bureau/pkg/models"
)

// Completion is the shared outcome shape for all runner families.
type Completion struct {
	// TaskID is the task the attempt belonged to.
	TaskID string
	// Success is true when the attempt finished cleanly.
	Success bool
	// Reason describes the failure or termination cause.
	Reason string
	// Output is the tail of the attempt's textual output.
	Output string
}

// Hooks receive streaming progress during an attempt. Either hook may be nil.
type Hooks struct {
	// Output receives normalized text as it arrives. streamName is
	// "stdout" or "stderr".
	Output func(streamName, text string)
	// Event receives subtask lifecycle events decoded from the stream.
	Event func(ev stream.SubtaskEvent)
}

func (h Hooks) emitOutput(streamName, text string) {
	if h.Output != nil {
		h.Output(streamName, text)
	}
}

func (h Hooks) emitEvent(ev stream.SubtaskEvent) {
	if h.Event != nil {
		h.Event(ev)
	}
}

// Request describes one execution attempt.
type Request struct {
	// Task is the task being executed.
	Task *models.Task
	// Agent is the executing agent; its provider selects the runner family.
	Agent *models.Agent
	// Prompt is the full prompt for this attempt.
	Prompt string
	// SessionID, when non-empty, resumes a prior provider conversation.
	SessionID string
	// WorkDir is the working directory (worktree or project path).
	WorkDir string
	// PinnedAccountID forces a specific OAuth account to the front.
	PinnedAccountID string
	// AutoSwap retries the prompt on the next account after a failure.
	AutoSwap bool
}

// Runner executes one attempt. Errors are reserved for preconditions (task
// busy, configuration errors); run outcomes are reported in the Completion.
type Runner interface {
	Execute(ctx context.Context, req Request, hooks Hooks) (Completion, error)
}

// outputTailLimit bounds the Output field of a Completion.
const outputTailLimit = 16 * 1024

// tailBuffer accumulates text, keeping only the last outputTailLimit bytes.
type tailBuffer struct {
	data []byte
}

func (b *tailBuffer) WriteString(s string) {
	b.data = append(b.data, s...)
	if len(b.data) > outputTailLimit {
		b.data = b.data[len(b.data)-outputTailLimit:]
	}
}

func (b *tailBuffer) String() string {
	return string(b.data)
}
