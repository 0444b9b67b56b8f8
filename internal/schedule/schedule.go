// Package schedule fires update checks on a cron schedule. A tick that lands
// while an update session is active is skipped, never queued.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/gokrun/internal/metrics"
	"github.com/loykin/gokrun/internal/updater"
	"github.com/robfig/cron/v3"
)

// Runner starts one update session in the background.
// *updater.Orchestrator satisfies it.
type Runner interface {
	Start(ctx context.Context, onStatus func(updater.Status), onDone func(updater.Outcome)) error
}

// Status summarizes what the scheduler has done so far.
type Status struct {
	Scheduled   bool             `json:"scheduled"`
	Next        time.Time        `json:"next,omitempty"`
	LastTick    *time.Time       `json:"last_tick,omitempty"`
	LastOutcome *updater.Outcome `json:"last_outcome,omitempty"`
	Started     int              `json:"started"`
	Skipped     int              `json:"skipped"`
	Failed      int              `json:"failed"`
}

// Scheduler owns one cron entry bound to a Runner.
type Scheduler struct {
	mu     sync.RWMutex
	spec   Spec
	runner Runner
	log    *slog.Logger
	onDone func(updater.Outcome)

	ctx         context.Context
	cancel      context.CancelFunc
	cron        *cron.Cron
	entryID     cron.EntryID
	isScheduled bool
	status      Status
}

// New validates spec and prepares a scheduler. Nothing fires until Start.
// onDone, when set, receives the outcome of every session the scheduler started.
func New(spec Spec, runner Runner, log *slog.Logger, onDone func(updater.Outcome)) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("schedule: runner is required")
	}
	spec.GetDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		spec:   spec,
		runner: runner,
		log:    log.With("schedule", spec.Name),
		onDone: onDone,
		ctx:    ctx,
		cancel: cancel,
		cron:   cron.New(cron.WithParser(parser), cron.WithLocation(spec.location())),
	}, nil
}

// Start registers the cron entry and starts the cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isScheduled {
		return fmt.Errorf("schedule %s is already running", s.spec.Name)
	}
	if s.spec.Suspend {
		s.log.Info("schedule is suspended, not scheduling")
		return nil
	}
	id, err := s.cron.AddFunc(s.spec.Schedule, s.Tick)
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", s.spec.Name, err)
	}
	s.entryID = id
	s.isScheduled = true
	s.status.Scheduled = true
	s.cron.Start()
	s.publishNext()
	s.log.Info("update checks scheduled", "expr", s.spec.Schedule, "next", s.status.Next)
	return nil
}

// Stop halts future ticks. A session already started keeps running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isScheduled {
		s.mu.Unlock()
		return
	}
	s.isScheduled = false
	s.status.Scheduled = false
	s.status.Next = time.Time{}
	s.cancel()
	c := s.cron
	s.mu.Unlock()
	<-c.Stop().Done()
	s.log.Info("update checks stopped")
}

// Tick runs one scheduled check. It is exported so callers can trigger the
// same skip-if-busy path outside the cron loop.
func (s *Scheduler) Tick() {
	now := time.Now()
	s.mu.Lock()
	s.status.LastTick = &now
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	err := s.runner.Start(ctx, nil, s.done)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err == nil:
		s.status.Started++
		metrics.IncScheduleTick("started")
		s.log.Info("scheduled update check started")
	case errors.Is(err, updater.ErrBusy):
		s.status.Skipped++
		metrics.IncScheduleTick("skipped")
		s.log.Info("skipping scheduled update check, session active")
	default:
		s.status.Failed++
		metrics.IncScheduleTick("failed")
		s.log.Warn("scheduled update check failed to start", "error", err)
	}
	s.publishNext()
}

func (s *Scheduler) done(out updater.Outcome) {
	s.mu.Lock()
	s.status.LastOutcome = &out
	s.mu.Unlock()
	s.log.Info("scheduled update check finished", "outcome", out.Kind, "exit_code", out.ExitCode)
	if s.onDone != nil {
		s.onDone(out)
	}
}

// publishNext refreshes the next-run time. Callers hold s.mu.
func (s *Scheduler) publishNext() {
	if !s.isScheduled {
		return
	}
	next := s.cron.Entry(s.entryID).Next
	if next.IsZero() {
		// The cron loop fills Next asynchronously after Start.
		if sch, err := parser.Parse(s.spec.Schedule); err == nil {
			next = sch.Next(time.Now().In(s.spec.location()))
		}
	}
	s.status.Next = next
	if !next.IsZero() {
		metrics.SetScheduleNext(float64(next.Unix()))
	}
}

// Spec returns the validated spec.
func (s *Scheduler) Spec() Spec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spec
}

// Status returns a copy of the scheduler status.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	if st.LastOutcome != nil {
		o := *st.LastOutcome
		st.LastOutcome = &o
	}
	return st
}

// IsScheduled reports whether the cron entry is live.
func (s *Scheduler) IsScheduled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isScheduled
}
