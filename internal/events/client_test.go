package events

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsServer struct {
	srv   *httptest.Server
	conns atomic.Int32
}

func newWSServer(t *testing.T, onConn func(n int32, c *websocket.Conn)) *wsServer {
	t.Helper()
	s := &wsServer{}
	up := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = c.Close() }()
		onConn(s.conns.Add(1), c)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string { return "ws" + strings.TrimPrefix(s.srv.URL, "http") }

// drain reads until the client goes away.
func drain(c *websocket.Conn) {
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

type recorder struct {
	mu      sync.Mutex
	events  []Event
	reasons []string
}

func (r *recorder) event(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) disconnect(reason string) {
	r.mu.Lock()
	r.reasons = append(r.reasons, reason)
	r.mu.Unlock()
}

func (r *recorder) snapshot() ([]Event, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...), append([]string(nil), r.reasons...)
}

func fastOptions(u URLProvider, rec *recorder) Options {
	return Options{
		URL:              u,
		CloseDelay:       30 * time.Millisecond,
		ConnectFailDelay: 40 * time.Millisecond,
		PingInterval:     time.Hour,
		HandshakeTimeout: 2 * time.Second,
		OnEvent:          rec.event,
		OnDisconnect:     rec.disconnect,
	}
}

func TestStartTwiceOpensOneConnection(t *testing.T) {
	srv := newWSServer(t, func(_ int32, c *websocket.Conn) { drain(c) })
	rec := &recorder{}
	c := New(fastOptions(StaticURL(srv.url()), rec))
	defer c.Stop()

	c.Start()
	c.Start()
	require.Eventually(t, func() bool { return c.State() == StateConnected }, 3*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), srv.conns.Load())
	assert.True(t, c.Running())
}

func TestMalformedFrameDoesNotDisconnect(t *testing.T) {
	srv := newWSServer(t, func(_ int32, c *websocket.Conn) {
		_ = c.WriteMessage(websocket.TextMessage, []byte("{not json"))
		_ = c.WriteMessage(websocket.TextMessage, []byte(`[1,2]`))
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat.message","text":"hi"}`))
		drain(c)
	})
	rec := &recorder{}
	c := New(fastOptions(StaticURL(srv.url()), rec))
	defer c.Stop()
	c.Start()

	require.Eventually(t, func() bool {
		evs, _ := rec.snapshot()
		return len(evs) == 1
	}, 3*time.Second, 5*time.Millisecond)
	evs, reasons := rec.snapshot()
	assert.Equal(t, "chat.message", evs[0].Type)
	assert.Equal(t, "hi", evs[0].Payload["text"])
	assert.Empty(t, reasons)
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, int32(1), srv.conns.Load())
}

func TestReconnectsAfterServerClose(t *testing.T) {
	srv := newWSServer(t, func(n int32, c *websocket.Conn) {
		if n == 1 {
			msg := websocket.FormatCloseMessage(4000, "bye")
			_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
		drain(c)
	})
	rec := &recorder{}
	c := New(fastOptions(StaticURL(srv.url()), rec))
	defer c.Stop()
	c.Start()

	require.Eventually(t, func() bool { return srv.conns.Load() == 2 && c.State() == StateConnected }, 3*time.Second, 5*time.Millisecond)
	_, reasons := rec.snapshot()
	require.NotEmpty(t, reasons)
	assert.Equal(t, "event_stream_closed:4000", reasons[0])
}

func TestStopPreventsReconnect(t *testing.T) {
	srv := newWSServer(t, func(_ int32, c *websocket.Conn) {})
	rec := &recorder{}
	opts := fastOptions(StaticURL(srv.url()), rec)
	opts.CloseDelay = 80 * time.Millisecond
	c := New(opts)
	c.Start()

	require.Eventually(t, func() bool {
		_, reasons := rec.snapshot()
		return len(reasons) >= 1
	}, 3*time.Second, 5*time.Millisecond)
	c.Stop()
	c.Stop()
	n := srv.conns.Load()
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, n, srv.conns.Load(), "no connection attempts after Stop")
	assert.Equal(t, StateDisconnected, c.State())
	assert.False(t, c.Running())
}

func TestConnectFailureReasonAndRetry(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	rec := &recorder{}
	c := New(fastOptions(StaticURL(u), rec))
	defer c.Stop()
	c.Start()

	require.Eventually(t, func() bool {
		_, reasons := rec.snapshot()
		return len(reasons) >= 2
	}, 3*time.Second, 5*time.Millisecond)
	_, reasons := rec.snapshot()
	assert.Equal(t, ReasonConnectFailed, reasons[0])
	assert.False(t, c.SendJSON(map[string]string{"type": "x"}))
}

func TestURLProviderFailure(t *testing.T) {
	rec := &recorder{}
	var calls atomic.Int32
	c := New(fastOptions(func(context.Context) (string, error) {
		calls.Add(1)
		return "", errors.New("ticket denied")
	}, rec))
	defer c.Stop()
	c.Start()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 3*time.Second, 5*time.Millisecond)
	_, reasons := rec.snapshot()
	require.NotEmpty(t, reasons)
	assert.Equal(t, "event_stream_uri_failed:ticket denied", reasons[0])
}

func TestSendJSONOnlyWhenConnected(t *testing.T) {
	got := make(chan string, 4)
	srv := newWSServer(t, func(_ int32, c *websocket.Conn) {
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			got <- string(data)
		}
	})
	rec := &recorder{}
	c := New(fastOptions(StaticURL(srv.url()), rec))
	assert.False(t, c.SendJSON(map[string]string{"type": "early"}))

	c.Start()
	defer c.Stop()
	require.Eventually(t, func() bool { return c.State() == StateConnected }, 3*time.Second, 5*time.Millisecond)
	assert.True(t, c.SendJSON(map[string]any{"type": "chat.send", "text": "hello"}))
	select {
	case msg := <-got:
		assert.JSONEq(t, `{"type":"chat.send","text":"hello"}`, msg)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not receive message")
	}
	assert.False(t, c.SendJSON(func() {}), "unmarshalable payload is not sent")
}

func TestHeartbeatPing(t *testing.T) {
	got := make(chan string, 8)
	srv := newWSServer(t, func(_ int32, c *websocket.Conn) {
		for {
			mt, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage {
				got <- string(data)
			}
		}
	})
	rec := &recorder{}
	opts := fastOptions(StaticURL(srv.url()), rec)
	opts.PingInterval = 20 * time.Millisecond
	c := New(opts)
	defer c.Stop()
	c.Start()

	for i := 0; i < 2; i++ {
		select {
		case msg := <-got:
			assert.Equal(t, "ping", msg)
		case <-time.After(3 * time.Second):
			t.Fatal("no heartbeat received")
		}
	}
}

func TestStopSendsNormalClose(t *testing.T) {
	closed := make(chan *websocket.CloseError, 1)
	srv := newWSServer(t, func(_ int32, c *websocket.Conn) {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					closed <- ce
				}
				return
			}
		}
	})
	rec := &recorder{}
	var states []State
	var mu sync.Mutex
	opts := fastOptions(StaticURL(srv.url()), rec)
	opts.OnState = func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}
	c := New(opts)
	c.Start()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 2
	}, 3*time.Second, 5*time.Millisecond)
	c.Stop()

	select {
	case ce := <-closed:
		assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
		assert.Equal(t, "shutdown", ce.Text)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not see close frame")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateClosing, StateDisconnected}, states)
}

func TestRestartAfterStop(t *testing.T) {
	srv := newWSServer(t, func(_ int32, c *websocket.Conn) { drain(c) })
	rec := &recorder{}
	c := New(fastOptions(StaticURL(srv.url()), rec))
	c.Start()
	require.Eventually(t, func() bool { return c.State() == StateConnected }, 3*time.Second, 5*time.Millisecond)
	c.Stop()
	c.Start()
	defer c.Stop()
	require.Eventually(t, func() bool { return c.State() == StateConnected && srv.conns.Load() == 2 }, 3*time.Second, 5*time.Millisecond)
}

func newSession() *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{cmds: make(chan func()), done: make(chan struct{}), ctx: ctx, cancel: cancel}
}

func TestBeginWhileRunningReleasesSession(t *testing.T) {
	c := New(fastOptions(StaticURL("ws://127.0.0.1:1"), &recorder{}))

	first := newSession()
	require.True(t, c.begin(first))
	assert.True(t, c.Running())
	assert.Same(t, first, c.sess)

	late := newSession()
	assert.False(t, c.begin(late))
	assert.True(t, late.stopped())
	assert.Error(t, late.ctx.Err())
	assert.Same(t, first, c.sess)
	assert.False(t, first.stopped())

	c.Stop()
	assert.True(t, first.stopped())
	assert.Nil(t, c.sess)
	assert.False(t, c.Running())

	// running and the session are swapped together, so a fresh begin succeeds
	next := newSession()
	require.True(t, c.begin(next))
	c.Stop()
	assert.True(t, next.stopped())
}

func TestConcurrentStartStopNeverStrands(t *testing.T) {
	c := New(fastOptions(StaticURL("ws://127.0.0.1:1"), &recorder{}))
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); c.Start() }()
		go func() { defer wg.Done(); c.Stop() }()
	}
	wg.Wait()
	c.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.False(t, c.running.Load())
	assert.Nil(t, c.sess)
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"presence.update","payload":{"online":3}}`))
	require.NoError(t, err)
	assert.Equal(t, "presence.update", ev.Type)
	assert.JSONEq(t, `{"type":"presence.update","payload":{"online":3}}`, string(ev.Raw))

	ev, err = ParseEvent([]byte(`{"type":5}`))
	require.NoError(t, err)
	assert.Equal(t, "", ev.Type)

	_, err = ParseEvent([]byte(`null`))
	assert.Error(t, err)
	_, err = ParseEvent([]byte(`"ping"`))
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, []string{"disconnected", "connecting", "connected", "closing"}, stateNames())
	assert.Equal(t, "unknown", State(42).String())
}
