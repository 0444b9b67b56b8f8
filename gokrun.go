// Package gokrun wires the launcher supervisor: update sessions, the runtime
// host and the backend event stream, plus the optional schedule, history and
// local status API.
package gokrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/loykin/gokrun/internal/auth"
	"github.com/loykin/gokrun/internal/backend"
	cfg "github.com/loykin/gokrun/internal/config"
	"github.com/loykin/gokrun/internal/events"
	"github.com/loykin/gokrun/internal/history"
	"github.com/loykin/gokrun/internal/history/factory"
	"github.com/loykin/gokrun/internal/layout"
	"github.com/loykin/gokrun/internal/logger"
	"github.com/loykin/gokrun/internal/metrics"
	"github.com/loykin/gokrun/internal/process"
	"github.com/loykin/gokrun/internal/runtimehost"
	"github.com/loykin/gokrun/internal/schedule"
	iapi "github.com/loykin/gokrun/internal/server"
	"github.com/loykin/gokrun/internal/settings"
	itls "github.com/loykin/gokrun/internal/tls"
	"github.com/loykin/gokrun/internal/updater"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.

type Config = cfg.FileConfig

type HistoryConfig = cfg.HistoryConfig

type EventsConfig = cfg.EventsConfig

type ServerConfig = cfg.ServerConfig

type Probe = layout.Probe

type Layout = layout.Layout

type UpdateStatus = updater.Status

type UpdateOutcome = updater.Outcome

type StreamEvent = events.Event

type RuntimePlan = runtimehost.Plan

// ExitGrace is how long ScheduleExit waits so the helper can take over.
const ExitGrace = 750 * time.Millisecond

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// Supervisor owns every long-lived component of one launcher process.
type Supervisor struct {
	cfg    *Config
	layout layout.Layout
	env    map[string]string
	log    *slog.Logger
	logCfg logger.Config

	sink    factory.Sink
	history *history.Recorder
	lineLog io.WriteCloser

	updater  *updater.Orchestrator
	launcher *runtimehost.Launcher
	backend  *backend.Client

	mu      sync.Mutex
	runtime *process.Process

	closeOnce sync.Once
	closeErr  error
	exitOnce  sync.Once
	exit      func(int)
}

// New builds a supervisor from c. Zero probe fields are filled from the OS.
func New(c *Config, probe Probe) (*Supervisor, error) {
	if c == nil {
		c = &Config{}
	}
	env, err := c.GlobalEnv()
	if err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	if probe.Env == nil {
		probe.Env = env
	}
	l := c.Layout(probe)
	logCfg := c.LoggerConfig(l.Logs())
	log := logCfg.NewSlogger()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	s := &Supervisor{
		cfg:    c,
		layout: l,
		env:    env,
		log:    log,
		logCfg: logCfg,
		exit:   os.Exit,
	}

	var sinks []history.Sink
	if c.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(c.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		s.sink = sink
		sinks = append(sinks, sink)
	}
	s.history = history.NewRecorder(log, sinks...)

	s.lineLog = logCfg.File.Writer("update")
	var lineLog io.Writer
	if s.lineLog != nil {
		lineLog = logger.Safe(s.lineLog)
	}
	s.updater = updater.New(updater.Options{
		Layout:       l,
		HelperTokens: c.Update.Helper,
		Env:          env,
		RestartArgs:  c.Update.RestartArgs,
		AutoRestart:  c.Update.AutoRestart,
		Logger:       log,
		LineLog:      lineLog,
		History:      s.history,
	})
	s.launcher = &runtimehost.Launcher{
		Layout:  l,
		Env:     env,
		Logs:    logCfg.File,
		Logger:  log,
		History: s.history,
	}
	s.backend = backend.New(backend.Config{
		BaseURL:       c.Backend.BaseURL,
		ClientVersion: c.Backend.ClientVersion,
		Timeout:       c.Backend.Timeout,
		Logger:        log,
	})
	return s, nil
}

// Close releases the history store and the update line log.
func (s *Supervisor) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.lineLog != nil {
			errs = append(errs, s.lineLog.Close())
		}
		if s.sink != nil {
			errs = append(errs, s.sink.Close())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func (s *Supervisor) Logger() *slog.Logger { return s.log }

func (s *Supervisor) Layout() Layout { return s.layout }

func (s *Supervisor) Updater() *updater.Orchestrator { return s.updater }

func (s *Supervisor) Launcher() *runtimehost.Launcher { return s.launcher }

// History lists recent events; it returns nil without a configured store.
func (s *Supervisor) History() history.Querier {
	if s.sink == nil {
		return nil
	}
	return s.sink
}

// Update runs one update session. When the outcome asks for apply-and-exit,
// the process exits after ExitGrace.
func (s *Supervisor) Update(ctx context.Context, onStatus func(UpdateStatus)) UpdateOutcome {
	out := s.updater.Run(ctx, onStatus)
	if out.ApplyAndExit {
		s.ScheduleExit(0)
	}
	return out
}

// ScheduleExit terminates the process with code after ExitGrace. Only the
// first call has an effect.
func (s *Supervisor) ScheduleExit(code int) {
	s.exitOnce.Do(func() {
		s.log.Info("exiting so the update can be applied", "grace", ExitGrace)
		time.AfterFunc(ExitGrace, func() {
			_ = s.Close()
			s.exit(code)
		})
	})
}

// Launch starts the runtime host and tracks it.
func (s *Supervisor) Launch(ctx context.Context, bootstrap string) (*process.Process, RuntimePlan, error) {
	p, plan, err := s.launcher.Launch(ctx, bootstrap)
	if err != nil {
		return nil, plan, err
	}
	s.mu.Lock()
	s.runtime = p
	s.mu.Unlock()
	return p, plan, nil
}

// RuntimeStatus reports the tracked runtime host, if any.
func (s *Supervisor) RuntimeStatus() (process.Status, bool) {
	s.mu.Lock()
	p := s.runtime
	s.mu.Unlock()
	if p == nil {
		return process.Status{}, false
	}
	st := p.Snapshot()
	st.Running = st.Running && p.Alive()
	return st, true
}

// StreamURL picks the event stream URL provider: the configured static URL,
// else a fresh backend ticket per attempt using the configured access token.
func (s *Supervisor) StreamURL() events.URLProvider {
	if s.cfg.Events.URL != "" {
		return events.StaticURL(s.cfg.Events.URL)
	}
	token := s.cfg.Backend.AccessToken
	return s.backend.EventStreamURL(func() string { return token })
}

// EventStream builds a client for the backend event stream. It is not started.
func (s *Supervisor) EventStream(onEvent func(StreamEvent), onDisconnect func(string)) *events.Client {
	ec := s.cfg.Events
	return events.New(events.Options{
		URL:              s.StreamURL(),
		CloseDelay:       ec.CloseDelay,
		ConnectFailDelay: ec.ConnectFailDelay,
		PingInterval:     ec.PingInterval,
		HandshakeTimeout: ec.HandshakeTimeout,
		OnEvent:          onEvent,
		OnDisconnect:     onDisconnect,
		Logger:           s.log,
		History:          s.history,
	})
}

// Resolution describes what the supervisor would run, with provenance.
type Resolution struct {
	Layout       Layout                       `json:"layout"`
	Helper       string                       `json:"helper,omitempty"`
	HelperError  string                       `json:"helper_error,omitempty"`
	TokenSource  string                       `json:"token_source,omitempty"`
	RuntimeHost  settings.RuntimeHostSettings `json:"runtime_host"`
	Runtime      *RuntimePlan                 `json:"runtime,omitempty"`
	RuntimeError string                       `json:"runtime_error,omitempty"`
}

// Resolve reports helper, credential source and runtime plan without
// starting anything. bootstrap may be a placeholder path.
func (s *Supervisor) Resolve(bootstrap string) Resolution {
	r := Resolution{Layout: s.layout, RuntimeHost: s.launcher.Settings()}
	if h, err := updater.FindHelper(s.cfg.Update.Helper, s.layout); err != nil {
		r.HelperError = err.Error()
	} else {
		r.Helper = h
	}
	if v, ok := settings.UpdateToken(s.layout.Payload, s.layout.Install, s.env); ok {
		r.TokenSource = v.Source
	}
	if plan, err := s.launcher.Plan(bootstrap); err != nil {
		r.RuntimeError = err.Error()
	} else {
		r.Runtime = &plan
	}
	return r
}

// ServeOptions select the long-running components of Serve.
type ServeOptions struct {
	// Stream connects the backend event stream.
	Stream bool
	// OnEvent receives stream events.
	OnEvent func(StreamEvent)
	// Ready, when set, receives the local API address once listening.
	Ready func(addr string)
}

// Serve runs until ctx is done: the event stream, the configured update
// schedule and the local status API when server.listen is set.
func (s *Supervisor) Serve(ctx context.Context, opts ServeOptions) error {
	var stream *events.Client
	if opts.Stream {
		stream = s.EventStream(opts.OnEvent, func(reason string) {
			s.log.Info("event stream disconnected", "reason", reason)
		})
		stream.Start()
		defer stream.Stop()
	}

	var sched *schedule.Scheduler
	if spec, ok := s.cfg.ScheduleSpec(); ok {
		sc, err := schedule.New(spec, s.updater, s.log, func(out updater.Outcome) {
			if out.ApplyAndExit {
				s.ScheduleExit(0)
			}
		})
		if err != nil {
			return err
		}
		if err := sc.Start(); err != nil {
			return err
		}
		defer sc.Stop()
		sched = sc
	}

	if s.cfg.Server.Listen != "" {
		deps := iapi.Deps{
			Updater: s.updater,
			History: s.History(),
			Runtime: s.RuntimeStatus,
			Logger:  s.log,
			OnOutcome: func(out updater.Outcome) {
				if out.ApplyAndExit {
					s.ScheduleExit(0)
				}
			},
		}
		if stream != nil {
			deps.Stream = stream
		}
		if sched != nil {
			deps.Schedule = sched
		}
		mw, err := auth.NewMiddleware(s.cfg.Server.Auth)
		if err != nil {
			return fmt.Errorf("status api auth: %w", err)
		}
		deps.Auth = mw
		tlsCfg, err := itls.Setup(s.cfg.Server.TLS)
		if err != nil {
			return fmt.Errorf("status api tls: %w", err)
		}
		srv, err := iapi.NewServer(ctx, s.cfg.Server.Listen, s.cfg.Server.BasePath, tlsCfg, deps)
		if err != nil {
			return fmt.Errorf("status api: %w", err)
		}
		s.log.Info("status api listening", "addr", srv.Addr)
		if opts.Ready != nil {
			opts.Ready(srv.Addr)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Warn("status api shutdown", "error", err)
			}
		}()
	}

	<-ctx.Done()
	return nil
}
