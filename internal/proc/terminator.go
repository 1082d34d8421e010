package proc

import "time"

// TerminateMode selects the signal discipline used to stop a process tree.
type TerminateMode int

const (
	// ModeKill is the cancel path: SIGTERM, then SIGKILL after a grace period.
	ModeKill TerminateMode = iota
	// ModeInterrupt is the pause path: SIGINT first so the subprocess can
	// persist its own state, then SIGTERM, then SIGKILL.
	ModeInterrupt
)

// Escalation timings. The interrupt ladder gives the subprocess a longer
// window before forceful termination.
const (
	killGrace      = 1200 * time.Millisecond
	interruptTerm  = 1200 * time.Millisecond
	interruptKill  = 2600 * time.Millisecond
)

// Terminator terminates an OS process tree. The real implementations are
// platform-specific; tests use a fake.
type Terminator interface {
	// TerminateTree stops the process group rooted at pid using the
	// escalation discipline for the given mode.
	TerminateTree(pid int, mode TerminateMode) error
}
