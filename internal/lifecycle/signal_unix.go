//go:build !windows

package lifecycle

import "syscall"

// signalTerm sends SIGTERM to the process group, falling back to the single
// process when no group exists.
func signalTerm(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGTERM); err == nil {
		return nil
	}
	return syscall.Kill(pid, syscall.SIGTERM)
}

// signalKill sends SIGKILL to the process group, falling back to the single
// process when no group exists.
func signalKill(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err == nil {
		return nil
	}
	return syscall.Kill(pid, syscall.SIGKILL)
}
