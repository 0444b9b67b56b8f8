//go:build windows

package process

import "syscall"

// terminate ends the process. The runtime host is a GUI process with no
// console to deliver CTRL_BREAK to, so it is the same as kill.
func terminate(pid int) error { return kill(pid) }

// kill terminates the process by PID. A PID that cannot be opened has already exited.
func kill(pid int) error {
	if pid <= 0 {
		return nil
	}
	h, err := syscall.OpenProcess(syscall.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return nil
	}
	defer func() { _ = syscall.CloseHandle(h) }()
	return syscall.TerminateProcess(h, 1)
}
