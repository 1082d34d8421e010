//go:build !windows

package proc

import (
	"os/exec"
	"syscall"
	"time"
)

// setProcessGroup places the child in its own process group so the whole
// tree can be signalled with one negative-pid kill.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// unixTerminator kills process trees with POSIX signal escalation. Signals
// are sent to both the process group (negative pid) and the process itself,
// since some CLIs re-parent their children.
type unixTerminator struct{}

// NewTerminator returns the platform terminator.
func NewTerminator() Terminator {
	return unixTerminator{}
}

func (unixTerminator) TerminateTree(pid int, mode TerminateMode) error {
	if pid <= 0 {
		return nil
	}

	switch mode {
	case ModeInterrupt:
		signalTree(pid, syscall.SIGINT)
		if waitGone(pid, interruptTerm) {
			return nil
		}
		signalTree(pid, syscall.SIGTERM)
		if waitGone(pid, interruptKill) {
			return nil
		}
	default:
		signalTree(pid, syscall.SIGTERM)
		if waitGone(pid, killGrace) {
			return nil
		}
	}

	signalTree(pid, syscall.SIGKILL)
	return nil
}

// signalTree delivers sig to the process group and the process.
func signalTree(pid int, sig syscall.Signal) {
	_ = syscall.Kill(-pid, sig)
	_ = syscall.Kill(pid, sig)
}

// waitGone polls until the process exits or the deadline passes.
func waitGone(pid int, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if !pidAlive(pid) {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return !pidAlive(pid)
}

// pidAlive reports whether a process with the given pid exists.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}
