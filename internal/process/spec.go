package process

import (
	"io"
	"os/exec"
)

// Spec describes a process to be launched and tracked.
// The executable is run directly; no shell is involved.
type Spec struct {
	Name     string   `json:"name"`
	Path     string   `json:"path"`     // executable path or bare command name
	Args     []string `json:"args"`     // arguments after the executable
	WorkDir  string   `json:"work_dir"` // optional working dir
	Env      []string `json:"env"`      // full environment; empty inherits the parent's
	PIDFile  string   `json:"pid_file"` // optional pidfile path
	Detached bool     `json:"detached"` // start in a new session so the child outlives us

	// Output receives combined stdout and stderr. Nil discards output.
	// The process closes it after the child exits.
	Output io.WriteCloser `json:"-"`
}

// BuildCommand constructs an *exec.Cmd for the spec.
func (s *Spec) BuildCommand() *exec.Cmd {
	// #nosec G204
	cmd := exec.Command(s.Path, s.Args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if len(s.Env) > 0 {
		cmd.Env = s.Env
	}
	configureSysProcAttr(cmd, *s)
	return cmd
}
