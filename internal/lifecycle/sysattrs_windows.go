//go:build windows

package lifecycle

import (
	"os/exec"
	"syscall"
)

const createNewProcessGroup = 0x00000200

// configureSysProcAttr places the child in a new process group so the whole
// tree can be signaled together during termination.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}

func isExpectedShutdown(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return msg == "exit status 1" || msg == "signal: killed"
}
