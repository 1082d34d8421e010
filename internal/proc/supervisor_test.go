package proc

import (
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeTerminator records termination calls instead of signalling.
type fakeTerminator struct {
	mu    sync.Mutex
	calls []TerminateMode
}

func (f *fakeTerminator) TerminateTree(pid int, mode TerminateMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, mode)
	return nil
}

func (f *fakeTerminator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestSanitizedEnv(t *testing.T) {
	env := []string{
		"PATH=/usr/bin",
		"CLAUDECODE=1",
		"FORCE_COLOR=1",
		"HOME=/home/u",
		"COLORTERM=truecolor",
	}

	got := sanitizedEnv(env)
	joined := strings.Join(got, "\n")
	for _, bad := range []string{"CLAUDECODE=", "FORCE_COLOR=", "COLORTERM="} {
		if strings.Contains(joined, bad) {
			t.Errorf("sanitized env still contains %s", bad)
		}
	}
	for _, want := range []string{"PATH=/usr/bin", "HOME=/home/u", "NO_COLOR=1", "TERM=dumb"} {
		if !strings.Contains(joined, want) {
			t.Errorf("sanitized env missing %s", want)
		}
	}
}

func TestWritePromptFile(t *testing.T) {
	dir := t.TempDir()
	path, err := writePromptFile(dir, "t1", "do the thing")
	if err != nil {
		t.Fatalf("writePromptFile: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("prompt file %q not in %q", path, dir)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read prompt file: %v", err)
	}
	if string(data) != "do the thing" {
		t.Errorf("prompt file content = %q", data)
	}
}

// newIdleRun builds a Run wired to a fake terminator without starting a
// process, for exercising the timeout path in isolation.
func newIdleRun(term Terminator, idle time.Duration) *Run {
	reg := NewRegistry()
	s := NewSupervisorWithTerminator(reg, term, slog.Default())
	return &Run{
		spec:       SpawnSpec{TaskID: "t1", IdleTimeout: idle},
		cmd:        exec.Command("true"),
		supervisor: s,
		output:     make(chan OutputChunk, 1),
		done:       make(chan struct{}),
	}
}

func TestTimeoutFiresExactlyOnce(t *testing.T) {
	term := &fakeTerminator{}
	r := newIdleRun(term, time.Minute)

	r.timeout("no output for 60s")
	r.timeout("no output for 60s")

	if term.count() != 1 {
		t.Errorf("terminator called %d times, want 1", term.count())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.timedOut || r.reason != "no output for 60s" {
		t.Errorf("timedOut=%v reason=%q", r.timedOut, r.reason)
	}
}

func TestTimeoutOnFinishedRunIsNoOp(t *testing.T) {
	term := &fakeTerminator{}
	r := newIdleRun(term, time.Minute)

	r.mu.Lock()
	r.finished = true
	r.mu.Unlock()

	r.timeout("no output for 60s")
	if term.count() != 0 {
		t.Errorf("terminator called %d times on finished run, want 0", term.count())
	}
}

func TestTouchIdleResetsTimer(t *testing.T) {
	term := &fakeTerminator{}
	r := newIdleRun(term, 40*time.Millisecond)
	r.startTimers()

	// Keep touching past the idle window; timer must not fire.
	for i := 0; i < 4; i++ {
		time.Sleep(20 * time.Millisecond)
		r.touchIdle()
	}
	if term.count() != 0 {
		t.Fatalf("timer fired despite activity")
	}

	// Stop touching; the idle timer should now fire.
	time.Sleep(120 * time.Millisecond)
	if term.count() != 1 {
		t.Errorf("terminator called %d times after idling, want 1", term.count())
	}
}

func TestSpawnBusySlotLeavesNoTrace(t *testing.T) {
	reg := NewRegistry()
	s := NewSupervisorWithTerminator(reg, &fakeTerminator{}, slog.Default())
	if err := reg.Register(&Handle{TaskID: "t1", PID: os.Getpid()}); err != nil {
		t.Fatalf("register: %v", err)
	}

	dir := t.TempDir()
	_, err := s.Spawn(SpawnSpec{TaskID: "t1", Command: "true", Dir: dir, Prompt: "p"})
	if err != ErrTaskBusy {
		t.Fatalf("Spawn = %v, want ErrTaskBusy", err)
	}

	// Losing the claim must happen before any side effect.
	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		t.Fatalf("readdir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Errorf("rejected spawn wrote %d files, want none", len(entries))
	}
}
