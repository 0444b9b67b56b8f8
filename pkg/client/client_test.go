package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/loykin/gokrun/internal/auth"
	"github.com/loykin/gokrun/internal/history"
	"github.com/loykin/gokrun/internal/server"
	itls "github.com/loykin/gokrun/internal/tls"
	"github.com/loykin/gokrun/internal/updater"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUpdater struct {
	mu      sync.Mutex
	busy    bool
	started int
}

func (s *stubUpdater) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

func (s *stubUpdater) Current() updater.Status {
	return updater.Status{Phase: updater.PhaseDownloading, Percent: 40, Text: "Downloading update... 40%"}
}

func (s *stubUpdater) Last() (updater.Outcome, bool) { return updater.Outcome{}, false }

func (s *stubUpdater) Start(context.Context, func(updater.Status), func(updater.Outcome)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return updater.ErrBusy
	}
	s.busy = true
	s.started++
	return nil
}

type stubHistory struct{ events []history.Event }

func (s stubHistory) Recent(_ context.Context, limit int) ([]history.Event, error) {
	if limit > 0 && limit < len(s.events) {
		return s.events[:limit], nil
	}
	return s.events, nil
}

func newAPI(t *testing.T, deps server.Deps) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ts := httptest.NewServer(server.NewRouter(deps, "/api").Handler())
	t.Cleanup(ts.Close)
	c, err := New(Config{BaseURL: ts.URL + "/api"})
	require.NoError(t, err)
	return c
}

func TestStatus(t *testing.T) {
	c := newAPI(t, server.Deps{Updater: &stubUpdater{}})
	assert.True(t, c.IsReachable(context.Background()))

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "downloading", st.Update.Status.Phase)
	assert.Equal(t, 40, st.Update.Status.Percent)
	assert.Nil(t, st.Update.Last)
	assert.Nil(t, st.Runtime)
}

func TestTriggerUpdateConflict(t *testing.T) {
	up := &stubUpdater{}
	c := newAPI(t, server.Deps{Updater: up})

	require.NoError(t, c.TriggerUpdate(context.Background()))
	err := c.TriggerUpdate(context.Background())
	assert.ErrorIs(t, err, ErrUpdateInProgress)
	assert.Equal(t, 1, up.started)
}

func TestHistory(t *testing.T) {
	h := stubHistory{events: []history.Event{
		{Type: history.EventUpdateOutcome, Subject: "update", Status: "success"},
		{Type: history.EventRuntimeLaunch, Subject: "godot", Status: "launched"},
	}}
	c := newAPI(t, server.Deps{Updater: &stubUpdater{}, History: h})

	evs, err := c.History(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "success", evs[0].Status)
}

func TestHistoryNotConfigured(t *testing.T) {
	c := newAPI(t, server.Deps{Updater: &stubUpdater{}})
	_, err := c.History(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history is not configured")
}

func TestUnreachable(t *testing.T) {
	c, err := New(Config{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	assert.False(t, c.IsReachable(context.Background()))
	_, err = c.Status(context.Background())
	assert.Error(t, err)
}

func TestNewBadCACert(t *testing.T) {
	_, err := New(Config{TLS: &TLSClientConfig{Enabled: true, CACert: "/does/not/exist.crt"}})
	assert.Error(t, err)
}

func TestStatusOverTLS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	tlsCfg, err := itls.Setup(itls.Config{Enabled: true, Dir: dir, AutoGenerate: true})
	require.NoError(t, err)

	srv, err := server.NewServer(context.Background(), "127.0.0.1:0", "", tlsCfg, server.Deps{Updater: &stubUpdater{}})
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	c, err := New(Config{
		BaseURL: "https://" + srv.Addr,
		TLS:     &TLSClientConfig{Enabled: true, CACert: filepath.Join(dir, "tls_ca.crt")},
	})
	require.NoError(t, err)
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "downloading", st.Update.Status.Phase)

	plain, err := New(Config{BaseURL: "https://" + srv.Addr})
	require.NoError(t, err)
	_, err = plain.Status(context.Background())
	assert.Error(t, err)
}

func TestHandleErrorResponseUndecodable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer ts.Close()
	c, err := New(Config{BaseURL: ts.URL})
	require.NoError(t, err)
	_, err = c.Status(context.Background())
	require.Error(t, err)
	assert.Equal(t, "HTTP 500", err.Error())
}

func TestBasicAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)
	mw, err := auth.NewMiddleware(auth.Config{Enabled: true, Username: "ops", PasswordHash: hash})
	require.NoError(t, err)
	ts := httptest.NewServer(server.NewRouter(server.Deps{Updater: &stubUpdater{}, Auth: mw}, "").Handler())
	defer ts.Close()

	anon, err := New(Config{BaseURL: ts.URL})
	require.NoError(t, err)
	_, err = anon.Status(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)

	authed, err := New(Config{BaseURL: ts.URL, Username: "ops", Password: "s3cret"})
	require.NoError(t, err)
	_, err = authed.Status(context.Background())
	assert.NoError(t, err)
}
