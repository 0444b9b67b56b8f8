// Package backend holds the shared REST envelope for the game backend and the
// event stream URL provider built on it.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	EnvBaseURL       = "GOK_API_BASE_URL"
	DefaultTimeout   = 15 * time.Second
	DefaultBaseURL   = "https://karaxas-backend-rss3xj2ixq-ew.a.run.app"
	headerClientVer  = "X-Client-Version"
	ticketPath       = "/auth/ws-ticket"
	eventsPath       = "/events/ws"
	maxErrorBodySize = 64 << 10
)

// APIError is a non-2xx backend response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return fmt.Sprintf("%d: %s", e.Status, e.Message) }

// Config holds client configuration.
type Config struct {
	BaseURL       string
	ClientVersion string
	Timeout       time.Duration
	Logger        *slog.Logger
	HTTPClient    *http.Client
}

// Client talks to the backend REST API.
type Client struct {
	baseURL       string
	clientVersion string
	client        *http.Client
	logger        *slog.Logger
}

// New creates a backend client. A blank BaseURL falls back to DefaultBaseURL;
// trailing slashes are dropped.
func New(config Config) *Client {
	base := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	hc := config.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: config.Timeout}
	}
	return &Client{baseURL: base, clientVersion: config.ClientVersion, client: hc, logger: config.Logger}
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Do sends one request. body, when not nil, is sent as JSON; out, when not
// nil, receives the decoded JSON response. accessToken may be empty.
func (c *Client) Do(ctx context.Context, method, path, accessToken string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.clientVersion != "" {
		req.Header.Set(headerClientVer, c.clientVersion)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		apiErr := &APIError{Status: resp.StatusCode, Message: extractError(b)}
		c.logger.Debug("backend request failed", "method", method, "path", path, "status", resp.StatusCode)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Ticket is a short-lived event stream credential.
type Ticket struct {
	Value     string `json:"ws_ticket"`
	ExpiresAt string `json:"expires_at"`
}

// WSTicket exchanges an access token for an event stream ticket.
func (c *Client) WSTicket(ctx context.Context, accessToken string) (Ticket, error) {
	var t Ticket
	if err := c.Do(ctx, http.MethodPost, ticketPath, accessToken, nil, &t); err != nil {
		return Ticket{}, err
	}
	if strings.TrimSpace(t.Value) == "" {
		return Ticket{}, errors.New("backend returned an empty ws ticket")
	}
	return t, nil
}

// EventsURL builds the event stream URL for ticket.
func (c *Client) EventsURL(ticket string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + eventsPath
	q := url.Values{}
	q.Set("ticket", ticket)
	if c.clientVersion != "" {
		q.Set("client_version", c.clientVersion)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// EventStreamURL returns a provider that fetches a fresh ticket before every
// connection attempt. token supplies the current access token.
func (c *Client) EventStreamURL(token func() string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		access := ""
		if token != nil {
			access = strings.TrimSpace(token())
		}
		if access == "" {
			return "", errors.New("no access token")
		}
		t, err := c.WSTicket(ctx, access)
		if err != nil {
			return "", err
		}
		return c.EventsURL(t.Value)
	}
}
