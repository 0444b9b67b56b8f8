// Package events keeps a websocket event stream to the backend connected.
//
// All connect, reconnect and heartbeat scheduling runs on one goroutine per
// started session. Socket reads happen on a per-connection goroutine and are
// handed to the scheduler as messages, so transitions never race.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loykin/gokrun/internal/history"
	"github.com/loykin/gokrun/internal/metrics"
)

const (
	DefaultCloseDelay       = 3 * time.Second
	DefaultConnectFailDelay = 4 * time.Second
	DefaultPingInterval     = 12 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 10 * time.Second
	closeGrace              = 2 * time.Second
	pingText                = "ping"
)

// Disconnect reason prefixes.
const (
	ReasonURIFailed     = "event_stream_uri_failed"
	ReasonConnectFailed = "event_stream_connect_failed"
	ReasonClosed        = "event_stream_closed"
	ReasonError         = "event_stream_error"
)

// URLProvider returns the URL to dial. It is called before every attempt so
// short-lived tickets can be refreshed.
type URLProvider func(ctx context.Context) (string, error)

// StaticURL always dials u.
func StaticURL(u string) URLProvider {
	return func(context.Context) (string, error) { return u, nil }
}

// Event is one inbound JSON frame.
type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
	Raw     json.RawMessage
}

// Options configure a Client. Zero durations use the defaults.
type Options struct {
	URL              URLProvider
	Dialer           *websocket.Dialer
	CloseDelay       time.Duration
	ConnectFailDelay time.Duration
	PingInterval     time.Duration
	HandshakeTimeout time.Duration

	// OnEvent is called on the connection's read goroutine, in frame order.
	OnEvent func(Event)
	// OnDisconnect is called on the scheduler with a reason such as
	// "event_stream_closed:1006".
	OnDisconnect func(reason string)
	// OnState is called after every state change.
	OnState func(State)

	Logger  *slog.Logger
	History *history.Recorder
}

func (o Options) withDefaults() Options {
	if o.CloseDelay <= 0 {
		o.CloseDelay = DefaultCloseDelay
	}
	if o.ConnectFailDelay <= 0 {
		o.ConnectFailDelay = DefaultConnectFailDelay
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.Dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = o.HandshakeTimeout
		o.Dialer = &d
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Client is a reconnecting event stream client. The zero value is not usable;
// create one with New.
type Client struct {
	opts Options
	log  *slog.Logger

	running atomic.Bool
	state   atomic.Int32

	mu        sync.Mutex
	sess      *session
	conn      *websocket.Conn
	pingTimer *time.Timer
	retry     *time.Timer

	writeMu sync.Mutex // serialises all conn writes
}

func New(opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{opts: opts, log: opts.Logger.With("component", "events")}
}

// session is the scheduler of one Start..Stop span.
type session struct {
	cmds   chan func()
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	gen    uint64 // current connection generation; scheduler only
}

func (s *session) loop() {
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case <-s.done:
			return
		}
	}
}

// post hands fn to the scheduler. It reports false once the session is stopped.
func (s *session) post(fn func()) bool {
	select {
	case s.cmds <- fn:
		return true
	case <-s.done:
		return false
	}
}

func (s *session) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// State returns the current connection state.
func (c *Client) State() State { return State(c.state.Load()) }

// Running reports whether Start has been called without a matching Stop.
func (c *Client) Running() bool { return c.running.Load() }

// Start begins connecting. Calling Start while running is a no-op.
func (c *Client) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{cmds: make(chan func()), done: make(chan struct{}), ctx: ctx, cancel: cancel}
	if !c.begin(s) {
		return
	}
	go s.loop()
	c.log.Info("event stream starting")
	s.post(func() { c.connect(s) })
}

// begin flips running and installs s in one step under c.mu, so a racing
// Stop either sees s or runs entirely before it. On failure s is released.
func (c *Client) begin(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running.CompareAndSwap(false, true) {
		s.cancel()
		close(s.done)
		return false
	}
	c.sess = s
	return true
}

// Stop cancels the heartbeat, closes the live connection gracefully (or
// aborts it) and releases the scheduler. Safe from any goroutine; idempotent.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running.CompareAndSwap(true, false) {
		c.mu.Unlock()
		return
	}
	s, conn := c.sess, c.conn
	c.sess, c.conn = nil, nil
	if c.pingTimer != nil {
		c.pingTimer.Stop()
		c.pingTimer = nil
	}
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.mu.Unlock()

	if conn != nil {
		c.transition(nil, StateClosing)
		c.closeConn(conn)
	}
	if s != nil {
		s.cancel()
		close(s.done)
	}
	c.transition(nil, StateDisconnected)
	c.log.Info("event stream stopped")
}

func (c *Client) closeConn(conn *websocket.Conn) {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown")
	err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()
	if err != nil {
		_ = conn.Close()
		return
	}
	// the read goroutine closes conn once the peer answers; bound the wait
	time.AfterFunc(closeGrace, func() { _ = conn.Close() })
}

// SendJSON marshals v and sends it as a text frame. It reports whether the
// send was attempted over a live connection; write errors are not reported.
func (c *Client) SendJSON(v any) bool {
	if c.State() != StateConnected {
		return false
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false
	}
	b, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("event stream send marshal failed", "error", err)
		return false
	}
	if err := c.write(conn, websocket.TextMessage, b); err != nil {
		c.log.Debug("event stream send failed", "error", err)
	}
	return true
}

func (c *Client) write(conn *websocket.Conn, mt int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(mt, data)
}

// transition moves to st. Scheduler callers pass their session and are
// refused once Stop has detached it; Stop passes nil.
func (c *Client) transition(s *session, st State) bool {
	c.mu.Lock()
	if s != nil && c.sess != s {
		c.mu.Unlock()
		return false
	}
	prev := State(c.state.Swap(int32(st)))
	c.mu.Unlock()
	if prev == st {
		return true
	}
	metrics.SetStreamState(st.String(), stateNames())
	if c.opts.OnState != nil {
		c.opts.OnState(st)
	}
	return true
}

// The methods below run on the scheduler goroutine.

func (c *Client) connect(s *session) {
	if !c.running.Load() || s.stopped() {
		return
	}
	if st := c.State(); st == StateConnecting || st == StateConnected {
		return
	}
	if c.transition(s, StateConnecting) {
		go c.dial(s)
	}
}

// dial runs off the scheduler so a slow handshake never delays other work.
func (c *Client) dial(s *session) {
	url, err := c.resolveURL(s.ctx)
	if err != nil {
		s.post(func() { c.connectFailed(s, ReasonURIFailed+":"+err.Error()) })
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, c.opts.HandshakeTimeout)
	defer cancel()
	conn, resp, err := c.opts.Dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.log.Warn("event stream connect failed", "error", err)
		s.post(func() { c.connectFailed(s, ReasonConnectFailed) })
		return
	}
	if !s.post(func() { c.connected(s, conn) }) {
		_ = conn.Close()
	}
}

func (c *Client) resolveURL(ctx context.Context) (string, error) {
	if c.opts.URL == nil {
		return "", errors.New("no url provider")
	}
	u, err := c.opts.URL(ctx)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(u) == "" {
		return "", errors.New("empty url")
	}
	return u, nil
}

func (c *Client) connected(s *session, conn *websocket.Conn) {
	if !c.running.Load() || s.stopped() {
		// stopped while the handshake was in flight
		_ = conn.Close()
		return
	}
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()
	if !c.transition(s, StateConnected) {
		return // Stop took conn and closes it
	}
	s.gen++
	gen := s.gen
	c.schedulePing(s, conn, gen)
	metrics.IncStreamConnect()
	c.opts.History.Record(s.ctx, history.Event{Type: history.EventStreamState, Subject: "event_stream", Status: StateConnected.String()})
	c.log.Info("event stream connected")
	go c.readLoop(s, conn, gen)
}

func (c *Client) schedulePing(s *session, conn *websocket.Conn, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != s {
		return
	}
	if c.pingTimer != nil {
		c.pingTimer.Stop()
	}
	c.pingTimer = time.AfterFunc(c.opts.PingInterval, func() {
		s.post(func() { c.ping(s, conn, gen) })
	})
}

func (c *Client) ping(s *session, conn *websocket.Conn, gen uint64) {
	if !c.running.Load() || gen != s.gen || c.State() != StateConnected {
		return
	}
	if err := c.write(conn, websocket.TextMessage, []byte(pingText)); err != nil {
		// the read side notices a dead connection and reconnects
		c.log.Debug("event stream ping failed", "error", err)
	}
	c.schedulePing(s, conn, gen)
}

func (c *Client) readLoop(s *session, conn *websocket.Conn, gen uint64) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			reason := disconnectReason(err)
			if !s.post(func() { c.connectionLost(s, conn, gen, reason) }) {
				_ = conn.Close()
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		ev, err := ParseEvent(data)
		if err != nil {
			c.log.Debug("event stream frame ignored", "error", err)
			continue
		}
		metrics.IncStreamEvent()
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(ev)
		}
	}
}

func (c *Client) connectionLost(s *session, conn *websocket.Conn, gen uint64, reason string) {
	_ = conn.Close()
	if gen != s.gen {
		return
	}
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	if c.pingTimer != nil {
		c.pingTimer.Stop()
		c.pingTimer = nil
	}
	c.mu.Unlock()
	if !c.running.Load() {
		return
	}
	c.disconnected(s, reason, c.opts.CloseDelay)
}

func (c *Client) connectFailed(s *session, reason string) {
	if !c.running.Load() || s.stopped() {
		return
	}
	c.disconnected(s, reason, c.opts.ConnectFailDelay)
}

func (c *Client) disconnected(s *session, reason string, delay time.Duration) {
	if !c.transition(s, StateDisconnected) {
		return
	}
	class, _, _ := strings.Cut(reason, ":")
	metrics.IncStreamDisconnect(class)
	c.opts.History.Record(s.ctx, history.Event{Type: history.EventStreamState, Subject: "event_stream", Status: StateDisconnected.String(), Detail: reason})
	c.log.Warn("event stream disconnected", "reason", reason, "retry_in", delay)
	if c.opts.OnDisconnect != nil {
		c.opts.OnDisconnect(reason)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != s {
		return
	}
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = time.AfterFunc(delay, func() {
		s.post(func() { c.connect(s) })
	})
}

func disconnectReason(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ReasonClosed + ":" + strconv.Itoa(ce.Code)
	}
	return ReasonError + ":" + err.Error()
}

// ParseEvent decodes one frame. The frame must be a JSON object; "type" is
// copied out when it is a string.
func ParseEvent(data []byte) (Event, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return Event{}, err
	}
	if payload == nil {
		return Event{}, errors.New("null frame")
	}
	ev := Event{Payload: payload, Raw: append(json.RawMessage(nil), data...)}
	if t, ok := payload["type"].(string); ok {
		ev.Type = t
	}
	return ev, nil
}
