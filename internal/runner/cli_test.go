package runner

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/bureaulab/bureau/internal/llm"
	"github.com/bureaulab/bureau/internal/proc"
	"github.com/bureaulab/bureau/internal/stream"
	"github.com/bureaulab/bureau/pkg/models"
)

func newCLIFixture(t *testing.T, script string) (*CLIRunner, *proc.Registry) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test scripts require a POSIX shell")
	}

	registry := proc.NewRegistry()
	sup := proc.NewSupervisor(registry, quietLogger())
	r := NewCLIRunner(sup, 30*time.Second, time.Minute, quietLogger())
	r.invoke = func(provider models.Provider, model, sessionID string) (*llm.Invocation, error) {
		return &llm.Invocation{Command: "sh", Args: []string{"-c", script}}, nil
	}
	return r, registry
}

func cliRequest(t *testing.T) Request {
	return Request{
		Task:    &models.Task{ID: "t1"},
		Agent:   &models.Agent{ID: "a1", Provider: models.ProviderClaudeCLI},
		Prompt:  "do the thing",
		WorkDir: t.TempDir(),
	}
}

func TestCLIExecuteSuccess(t *testing.T) {
	script := `printf '{"type":"subagent_start","id":"a1","title":"Write migration"}\n'; printf 'hello world\n'`
	r, _ := newCLIFixture(t, script)

	var outputs []string
	var events []stream.SubtaskEvent
	hooks := Hooks{
		Output: func(streamName, text string) { outputs = append(outputs, text) },
		Event:  func(ev stream.SubtaskEvent) { events = append(events, ev) },
	}

	c, err := r.Execute(context.Background(), cliRequest(t), hooks)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !c.Success {
		t.Fatalf("completion = %+v, want success", c)
	}
	if !strings.Contains(strings.Join(outputs, ""), "hello world") {
		t.Errorf("outputs missing stdout text: %v", outputs)
	}
	if len(events) != 1 || events[0].CorrelationID != "a1" || events[0].Kind != stream.SubtaskStarted {
		t.Errorf("events = %+v", events)
	}
	if !strings.Contains(c.Output, "hello world") {
		t.Errorf("completion output = %q", c.Output)
	}
}

func TestCLIExecuteNonZeroExit(t *testing.T) {
	r, _ := newCLIFixture(t, "exit 3")

	c, err := r.Execute(context.Background(), cliRequest(t), Hooks{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if c.Success {
		t.Fatal("expected failure")
	}
	if c.Reason != "exit code 3" {
		t.Errorf("reason = %q", c.Reason)
	}
}

func TestCLIExecuteBusy(t *testing.T) {
	r, registry := newCLIFixture(t, "sleep 5")

	if err := registry.Register(&proc.Handle{TaskID: "t1", AgentID: "other", PID: -1}); err != nil {
		t.Fatalf("seed registry: %v", err)
	}

	req := cliRequest(t)
	if _, err := r.Execute(context.Background(), req, Hooks{}); err != proc.ErrTaskBusy {
		t.Errorf("err = %v, want ErrTaskBusy", err)
	}
}

func TestCLIExecuteReleasesRegistry(t *testing.T) {
	r, registry := newCLIFixture(t, "printf done")

	if _, err := r.Execute(context.Background(), cliRequest(t), Hooks{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := registry.Get("t1"); got != nil {
		t.Errorf("registry still holds handle: %+v", got)
	}
}
