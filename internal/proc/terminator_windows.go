//go:build windows

package proc

import (
	"os"
	"os/exec"
	"strconv"
)

// setProcessGroup is a no-op on Windows; taskkill walks the tree itself.
func setProcessGroup(cmd *exec.Cmd) {}

// windowsTerminator delegates tree termination to taskkill, which walks the
// child process tree on our behalf. Windows has no SIGINT/SIGTERM ladder,
// so both modes force-kill the tree.
type windowsTerminator struct{}

// NewTerminator returns the platform terminator.
func NewTerminator() Terminator {
	return windowsTerminator{}
}

func (windowsTerminator) TerminateTree(pid int, mode TerminateMode) error {
	if pid <= 0 {
		return nil
	}
	return exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)).Run()
}

// pidAlive reports whether a process with the given pid exists.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p
	return true
}
