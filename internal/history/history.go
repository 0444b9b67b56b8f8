package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType defines the kind of recorded event.
type EventType string

const (
	EventUpdateOutcome EventType = "update_outcome"
	EventStreamState   EventType = "stream_state"
	EventRuntimeLaunch EventType = "runtime_launch"
)

// Event is one history entry. Subject names what the event is about (helper
// path, stream URL host, runtime executable); Status is a short machine value
// such as "success", "no_update", "connected".
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Subject    string    `json:"subject"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	ExitCode   int       `json:"exit_code"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Querier lists recent events, newest first.
type Querier interface {
	Recent(ctx context.Context, limit int) ([]Event, error)
}

const defaultSendTimeout = 2 * time.Second

// Recorder fans events out to sinks. Send failures are logged and dropped;
// recording never fails the caller. A nil *Recorder is valid and records nothing.
type Recorder struct {
	sinks   []Sink
	timeout time.Duration
	log     *slog.Logger
}

func NewRecorder(log *slog.Logger, sinks ...Sink) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Recorder{sinks: out, timeout: defaultSendTimeout, log: log}
}

// Record stamps e (when OccurredAt is zero) and sends it to every sink.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil || len(r.sinks) == 0 {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	for _, s := range r.sinks {
		if err := s.Send(ctx, e); err != nil {
			r.log.Warn("history send failed", "type", e.Type, "error", err)
		}
	}
}
