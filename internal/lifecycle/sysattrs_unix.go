//go:build !windows

package lifecycle

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in a new process group so the whole
// tree can be signaled together during termination.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// isExpectedShutdown reports exit errors produced by our own termination
// signals, which are not worth surfacing.
func isExpectedShutdown(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return msg == "signal: terminated" || msg == "signal: killed" || msg == "signal: interrupt"
}
