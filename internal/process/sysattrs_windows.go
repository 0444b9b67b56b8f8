//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

const (
	createNewProcessGroup = 0x00000200
	detachedProcess       = 0x00000008
)

// configureSysProcAttr starts the child in its own process group; Detached
// also drops the inherited console so the runtime outlives the launcher.
func configureSysProcAttr(cmd *exec.Cmd, spec Spec) {
	flags := uint32(createNewProcessGroup)
	if spec.Detached {
		flags |= detachedProcess
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: flags}
}
