// Package updater runs the external update helper and turns its line
// protocol into progress notifications and a terminal outcome.
package updater

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/gokrun/internal/env"
	"github.com/loykin/gokrun/internal/history"
	"github.com/loykin/gokrun/internal/layout"
	"github.com/loykin/gokrun/internal/logger"
	"github.com/loykin/gokrun/internal/metrics"
	"github.com/loykin/gokrun/internal/settings"
)

var (
	// ErrBusy is reported when a run is requested while another is active.
	ErrBusy = errors.New("update already in progress")
	// ErrHelperNotFound is a configuration error; nothing is spawned.
	ErrHelperNotFound = errors.New("update helper not found")
)

// OutcomeKind is the terminal classification of a run.
type OutcomeKind string

const (
	OutcomeSuccess  OutcomeKind = "success"
	OutcomeNoUpdate OutcomeKind = "no_update"
	OutcomeFailure  OutcomeKind = "failure"
)

// Exit codes of the helper.
const (
	ExitSuccess  = 0
	ExitNoUpdate = 2
)

// Outcome is the result of one run.
type Outcome struct {
	Kind     OutcomeKind `json:"kind"`
	ExitCode int         `json:"exit_code"`
	// ApplyAndExit asks the caller to terminate shortly so the helper can
	// replace files out of process.
	ApplyAndExit bool          `json:"apply_and_exit"`
	Hint         Hint          `json:"hint,omitempty"`
	Message      string        `json:"message"`
	LogPath      string        `json:"log_path,omitempty"`
	Duration     time.Duration `json:"duration"`
	Err          error         `json:"-"`
}

// Options configure an Orchestrator.
type Options struct {
	Layout       layout.Layout
	HelperTokens []string
	// Env replaces the OS environment for credential lookup and the child's
	// base environment. Nil uses the OS.
	Env         map[string]string
	RestartArgs []string
	// AutoRestart treats every successful run as apply-and-exit.
	AutoRestart bool
	// PID is passed as --waitpid; zero uses the current process.
	PID     int
	Logger  *slog.Logger
	LineLog io.Writer
	History *history.Recorder
}

// Orchestrator drives at most one helper run at a time.
type Orchestrator struct {
	opts Options
	log  *slog.Logger
	busy atomic.Bool

	mu      sync.Mutex
	current Status
	last    *Outcome
}

func New(opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{opts: opts, log: log.With("component", "updater")}
}

// Busy reports whether a run is active.
func (o *Orchestrator) Busy() bool { return o.busy.Load() }

// Current returns the status of the active or most recent run.
func (o *Orchestrator) Current() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Last returns the outcome of the most recent finished run.
func (o *Orchestrator) Last() (Outcome, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return Outcome{}, false
	}
	return *o.last, true
}

// Run performs one helper run and blocks until the helper exits.
// onStatus, when set, is called for every protocol line and for the terminal status.
func (o *Orchestrator) Run(ctx context.Context, onStatus func(Status)) Outcome {
	if !o.busy.CompareAndSwap(false, true) {
		return o.rejected()
	}
	return o.run(ctx, onStatus)
}

// Start performs one run in the background and hands the outcome to onDone.
// It returns ErrBusy without starting anything when a run is active.
func (o *Orchestrator) Start(ctx context.Context, onStatus func(Status), onDone func(Outcome)) error {
	if !o.busy.CompareAndSwap(false, true) {
		o.rejected()
		return ErrBusy
	}
	go func() {
		out := o.run(ctx, onStatus)
		if onDone != nil {
			onDone(out)
		}
	}()
	return nil
}

func (o *Orchestrator) rejected() Outcome {
	metrics.IncUpdateRejected()
	return Outcome{Kind: OutcomeFailure, ExitCode: -1, Message: "An update is already in progress.", Err: ErrBusy}
}

// run requires busy to be held and always releases it.
func (o *Orchestrator) run(ctx context.Context, onStatus func(Status)) (out Outcome) {
	started := time.Now()
	notify := func(s Status) {
		o.mu.Lock()
		o.current = s
		o.mu.Unlock()
		if onStatus != nil {
			onStatus(s)
		}
	}
	defer o.busy.Store(false)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("update orchestration panic: %v", r)
			o.log.Error("update failed", "error", err)
			out = Outcome{Kind: OutcomeFailure, ExitCode: -1, Message: "Update failed: " + err.Error(), Err: err}
		}
		out.Duration = time.Since(started)
		o.finish(ctx, out)
		notify(Status{Phase: PhaseDone, Percent: o.Current().Percent, ApplyAndExit: out.ApplyAndExit, Text: out.Message})
	}()

	notify(Status{Phase: PhaseIdle})
	return o.execute(notify)
}

func (o *Orchestrator) execute(notify func(Status)) Outcome {
	l := o.opts.Layout
	helper, err := FindHelper(o.opts.HelperTokens, l)
	if err != nil {
		o.log.Warn("update helper missing", "payload", l.Payload)
		return Outcome{Kind: OutcomeFailure, ExitCode: -1, Message: "Updater helper not found. Reinstall from the latest release.", Err: err}
	}

	// #nosec G204
	cmd := exec.Command(helper, HelperArgs(l, o.opts.PID, o.opts.RestartArgs)...)
	cmd.Dir = l.Install
	cmd.Env = o.childEnv()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return o.spawnFailed(err)
	}
	cmd.Stderr = cmd.Stdout

	o.log.Info("starting update helper", "helper", helper)
	if err := cmd.Start(); err != nil {
		return o.spawnFailed(err)
	}

	reaped := false
	defer func() {
		if !reaped {
			_, _ = io.Copy(io.Discard, stdout)
			_ = cmd.Wait()
		}
	}()

	lines, st := o.consume(stdout, notify)
	waitErr := cmd.Wait()
	reaped = true

	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		o.log.Error("update helper wait failed", "error", waitErr)
		return Outcome{Kind: OutcomeFailure, ExitCode: code, Message: "Update failed: " + waitErr.Error(), Err: waitErr}
	}
	o.log.Info("update finished", "exit_code", code)
	return o.outcome(code, lines, st)
}

func (o *Orchestrator) spawnFailed(err error) Outcome {
	err = fmt.Errorf("start update helper: %w", err)
	o.log.Error("update failed", "error", err)
	return Outcome{Kind: OutcomeFailure, ExitCode: -1, Message: "Update failed: " + err.Error(), Err: err}
}

func (o *Orchestrator) childEnv() []string {
	l := o.opts.Layout
	e := env.New()
	if o.opts.Env != nil {
		kvs := make([]string, 0, len(o.opts.Env))
		for k, v := range o.opts.Env {
			kvs = append(kvs, k+"="+v)
		}
		e.FromList(kvs)
	} else {
		e.FromOS()
	}
	if tok, ok := settings.UpdateToken(l.Payload, l.Install, o.opts.Env); ok {
		e.SetAll(tok.Value, settings.EnvUpdateGithubToken, settings.EnvUpdateToken)
		o.log.Info("update token loaded", "source", tok.Source)
	} else {
		o.log.Info("no update token found")
	}
	return e.Merge(nil)
}

const maxLineBytes = 1 << 20

// consume reads helper output until the stream closes.
func (o *Orchestrator) consume(r io.Reader, notify func(Status)) ([]string, Status) {
	lineLog := logger.Safe(o.opts.LineLog)
	var lines []string
	var st Status
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
		_, _ = io.WriteString(lineLog, line+"\n")
		o.log.Debug("update helper output", "line", line)
		if st.Advance(ParseLine(line)) {
			if st.Phase == PhaseDownloading {
				metrics.SetUpdateProgress(st.Percent)
			}
			notify(st)
		}
	}
	if err := sc.Err(); err != nil {
		o.log.Warn("update helper output unreadable", "error", err)
	}
	// keep the child from blocking on a full pipe
	_, _ = io.Copy(io.Discard, r)
	return lines, st
}

func (o *Orchestrator) outcome(code int, lines []string, st Status) Outcome {
	switch code {
	case ExitSuccess:
		if st.ApplyAndExit || o.opts.AutoRestart {
			o.log.Info("update applying, exit requested")
			return Outcome{Kind: OutcomeSuccess, ApplyAndExit: true, Message: "Update ready. Restarting automatically..."}
		}
		return Outcome{Kind: OutcomeSuccess, Message: "Update downloaded. Restart to apply."}
	case ExitNoUpdate:
		return Outcome{Kind: OutcomeNoUpdate, ExitCode: code, Message: "Game is up to date."}
	}
	install := o.opts.Layout.Install
	combined := strings.Join(lines, "\n")
	logPath := FindHelperLog(install)
	if logPath != "" {
		combined += "\n" + ReadTail(logPath, LogTailChars)
	}
	hint := Classify(combined)
	return Outcome{
		Kind:     OutcomeFailure,
		ExitCode: code,
		Hint:     hint,
		Message:  failureMessage(code, hint, logPath, install),
		LogPath:  logPath,
		Err:      fmt.Errorf("update helper exited with code %d", code),
	}
}

func (o *Orchestrator) finish(ctx context.Context, out Outcome) {
	o.mu.Lock()
	o.last = &out
	o.mu.Unlock()

	metrics.IncUpdateRun(string(out.Kind))
	metrics.ObserveUpdateDuration(out.Duration.Seconds())
	detail := string(out.Hint)
	if detail == "" {
		detail = out.Message
	}
	o.opts.History.Record(ctx, history.Event{
		Type:     history.EventUpdateOutcome,
		Subject:  "update_helper",
		Status:   string(out.Kind),
		Detail:   detail,
		ExitCode: out.ExitCode,
	})
}
