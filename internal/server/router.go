package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/gokrun/internal/auth"
	"github.com/loykin/gokrun/internal/events"
	"github.com/loykin/gokrun/internal/history"
	"github.com/loykin/gokrun/internal/metrics"
	"github.com/loykin/gokrun/internal/process"
	"github.com/loykin/gokrun/internal/schedule"
	"github.com/loykin/gokrun/internal/updater"
)

// Router provides embeddable HTTP handlers for the local status API.
// Endpoints:
//   GET  {basePath}/status    supervisor snapshot
//   POST {basePath}/update    start one update session; 409 while one is active
//   GET  {basePath}/history   query: limit=N (optional)
//   GET  {basePath}/metrics   Prometheus exposition
// basePath may be empty or start with '/'; no trailing slash.

// Updater is the part of the update orchestrator the API drives.
type Updater interface {
	Busy() bool
	Current() updater.Status
	Last() (updater.Outcome, bool)
	Start(ctx context.Context, onStatus func(updater.Status), onDone func(updater.Outcome)) error
}

// Stream reports the event stream connection state.
type Stream interface {
	State() events.State
}

// Deps are the components the API reports on. Only Updater is required.
type Deps struct {
	Updater  Updater
	Stream   Stream
	History  history.Querier
	Schedule interface{ Status() schedule.Status }
	Runtime  func() (process.Status, bool)
	Logger   *slog.Logger
	// Auth, when enabled, guards every endpoint.
	Auth *auth.Middleware

	// OnOutcome receives the outcome of sessions started over HTTP.
	OnOutcome func(updater.Outcome)
}

type Router struct {
	deps     Deps
	basePath string
	ctx      context.Context
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(deps Deps, basePath string) *Router {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Router{deps: deps, basePath: basePathPrefix(basePath), ctx: context.Background()}
}

// WithContext sets the context update sessions started over HTTP run under.
func (r *Router) WithContext(ctx context.Context) *Router {
	r.ctx = ctx
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	if r.deps.Auth.Enabled() {
		group.Use(r.deps.Auth.GinAuth())
	}
	group.GET("/status", r.handleStatus)
	group.POST("/update", r.handleUpdate)
	group.GET("/history", r.handleHistory)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer listens on addr and serves the router in the background. Update
// sessions started over HTTP run under ctx. A non-nil tlsCfg serves HTTPS.
// Listen errors are returned; Shutdown or Close on the result stops it.
func NewServer(ctx context.Context, addr, basePath string, tlsCfg *tls.Config, deps Deps) (*http.Server, error) {
	r := NewRouter(deps, basePath).WithContext(ctx)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		TLSConfig:         tlsCfg,
	}
	go func() {
		var err error
		if tlsCfg != nil {
			err = server.ServeTLS(ln, "", "")
		} else {
			err = server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.deps.Logger.Error("status api stopped", "error", err)
		}
	}()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type updateView struct {
	Busy   bool             `json:"busy"`
	Status updater.Status   `json:"status"`
	Last   *updater.Outcome `json:"last,omitempty"`
}

type runtimeView struct {
	Tracked bool           `json:"tracked"`
	Alive   bool           `json:"alive"`
	Status  process.Status `json:"status"`
}

type statusResp struct {
	Update   updateView       `json:"update"`
	Stream   string           `json:"stream,omitempty"`
	Runtime  *runtimeView     `json:"runtime,omitempty"`
	Schedule *schedule.Status `json:"schedule,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	u := r.deps.Updater
	resp := statusResp{Update: updateView{Busy: u.Busy(), Status: u.Current()}}
	if last, ok := u.Last(); ok {
		resp.Update.Last = &last
	}
	if r.deps.Stream != nil {
		resp.Stream = r.deps.Stream.State().String()
	}
	if r.deps.Runtime != nil {
		st, ok := r.deps.Runtime()
		resp.Runtime = &runtimeView{Tracked: ok, Alive: ok && st.Running, Status: st}
	}
	if r.deps.Schedule != nil {
		st := r.deps.Schedule.Status()
		resp.Schedule = &st
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) handleUpdate(c *gin.Context) {
	log := r.deps.Logger
	err := r.deps.Updater.Start(r.ctx, nil, func(out updater.Outcome) {
		log.Info("update requested over api finished", "outcome", out.Kind, "exit_code", out.ExitCode)
		if r.deps.OnOutcome != nil {
			r.deps.OnOutcome(out)
		}
	})
	if errors.Is(err, updater.ErrBusy) {
		c.JSON(http.StatusConflict, errorResp{Error: "An update is already in progress."})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, okResp{OK: true})
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.deps.History == nil {
		c.JSON(http.StatusServiceUnavailable, errorResp{Error: "history is not configured"})
		return
	}
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, errorResp{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	evs, err := r.deps.History.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if evs == nil {
		evs = []history.Event{}
	}
	c.JSON(http.StatusOK, evs)
}
