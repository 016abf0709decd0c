//go:build windows

package inspect

import "syscall"

var (
	kernel32        = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess = kernel32.NewProc("OpenProcess")
	procCloseHandle = kernel32.NewProc("CloseHandle")
)

const processQueryInformation = 0x0400

// ProcessExists reports whether a process with the given PID is alive.
func ProcessExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	handle, _, _ := procOpenProcess.Call(uintptr(processQueryInformation), 0, uintptr(uint32(pid)))
	if handle == 0 {
		return false
	}
	_, _, _ = procCloseHandle.Call(handle)
	return true
}
