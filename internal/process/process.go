package process

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"
)

// Process tracks one launched child. A Process is started once.
type Process struct {
	spec     Spec
	mu       sync.Mutex
	cmd      *exec.Cmd
	status   Status
	stopping bool
	waitDone chan struct{} // closed when cmd.Wait returns
}

func New(spec Spec) *Process { return &Process{spec: spec} }

var ErrAlreadyStarted = errors.New("process already started")

// Start launches the child, writes the PID file and begins waiting for exit in
// the background. Output is routed to Spec.Output.
func (r *Process) Start() error {
	r.mu.Lock()
	if r.cmd != nil {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	spec := r.spec
	r.mu.Unlock()

	cmd := spec.BuildCommand()
	if spec.Output != nil {
		cmd.Stdout = spec.Output
		cmd.Stderr = spec.Output
	}
	if err := cmd.Start(); err != nil {
		if spec.Output != nil {
			_ = spec.Output.Close()
		}
		return err
	}

	r.mu.Lock()
	r.cmd = cmd
	r.waitDone = make(chan struct{})
	r.status = Status{Name: spec.Name, Running: true, PID: cmd.Process.Pid, StartedAt: time.Now()}
	done := r.waitDone
	r.mu.Unlock()

	_ = WritePIDFile(spec.PIDFile, cmd.Process.Pid)
	go r.monitor(cmd, spec.Output, done)
	return nil
}

func (r *Process) monitor(cmd *exec.Cmd, out io.Closer, done chan struct{}) {
	err := cmd.Wait()
	code := 0
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	r.mu.Lock()
	r.status.Running = false
	r.status.StoppedAt = time.Now()
	r.status.ExitCode = code
	if !r.stopping {
		r.status.ExitErr = err
	}
	pidFile := r.spec.PIDFile
	r.mu.Unlock()

	if out != nil {
		_ = out.Close()
	}
	if pidFile != "" {
		_ = removeFile(pidFile)
	}
	close(done)
}

// Snapshot returns a copy of the current status.
func (r *Process) Snapshot() Status {
	r.mu.Lock()
	s := r.status
	r.mu.Unlock()
	return s
}

// Alive probes liveness by PID. It reports false before Start and after the
// child has been reaped.
func (r *Process) Alive() bool {
	r.mu.Lock()
	running, pid := r.status.Running, r.status.PID
	r.mu.Unlock()
	return running && pidAlive(pid)
}

// Wait blocks until the child exits or ctx is done.
func (r *Process) Wait(ctx context.Context) (Status, error) {
	r.mu.Lock()
	done := r.waitDone
	r.mu.Unlock()
	if done == nil {
		return r.Snapshot(), nil
	}
	select {
	case <-done:
		return r.Snapshot(), nil
	case <-ctx.Done():
		return r.Snapshot(), ctx.Err()
	}
}

// Stop asks the child to exit and force-kills it when it is still running after wait.
func (r *Process) Stop(wait time.Duration) error {
	r.mu.Lock()
	cmd, done, running := r.cmd, r.waitDone, r.status.Running
	if running {
		r.stopping = true
	}
	r.mu.Unlock()
	if !running || cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	_ = terminate(pid)
	select {
	case <-done:
		return nil
	case <-time.After(wait):
	}
	if err := kill(pid); err != nil {
		return err
	}
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		// best-effort
	}
	return nil
}
