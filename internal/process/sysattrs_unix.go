//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr makes the child a group leader so terminate and kill
// reach its whole tree. Detached uses a new session instead, which also
// leads a group and drops the controlling terminal.
func configureSysProcAttr(cmd *exec.Cmd, spec Spec) {
	if spec.Detached {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
		return
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
