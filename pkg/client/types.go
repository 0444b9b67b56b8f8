package client

import "time"

// UpdateStatus is the latest progress reported by the running update helper.
type UpdateStatus struct {
	Phase          string `json:"phase"`
	Percent        int    `json:"percent"`
	BytesPerSecond int64  `json:"bytes_per_second,omitempty"`
	Mode           string `json:"mode,omitempty"`
	Packages       int    `json:"packages,omitempty"`
	ApplyAndExit   bool   `json:"apply_and_exit"`
	Text           string `json:"text"`
}

// UpdateOutcome is the result of a finished update session.
type UpdateOutcome struct {
	Kind         string        `json:"kind"`
	ExitCode     int           `json:"exit_code"`
	ApplyAndExit bool          `json:"apply_and_exit"`
	Hint         string        `json:"hint,omitempty"`
	Message      string        `json:"message"`
	LogPath      string        `json:"log_path,omitempty"`
	Duration     time.Duration `json:"duration"`
}

type UpdateView struct {
	Busy   bool           `json:"busy"`
	Status UpdateStatus   `json:"status"`
	Last   *UpdateOutcome `json:"last,omitempty"`
}

// ProcessStatus represents the status of the tracked runtime process
type ProcessStatus struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	ExitCode  int       `json:"exit_code,omitempty"`
}

type RuntimeView struct {
	Tracked bool          `json:"tracked"`
	Alive   bool          `json:"alive"`
	Status  ProcessStatus `json:"status"`
}

type ScheduleView struct {
	Scheduled   bool           `json:"scheduled"`
	Next        time.Time      `json:"next,omitempty"`
	LastTick    *time.Time     `json:"last_tick,omitempty"`
	LastOutcome *UpdateOutcome `json:"last_outcome,omitempty"`
	Started     int            `json:"started"`
	Skipped     int            `json:"skipped"`
	Failed      int            `json:"failed"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Update   UpdateView    `json:"update"`
	Stream   string        `json:"stream,omitempty"`
	Runtime  *RuntimeView  `json:"runtime,omitempty"`
	Schedule *ScheduleView `json:"schedule,omitempty"`
}

// HistoryEvent is one row of GET /history.
type HistoryEvent struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Subject    string    `json:"subject"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	ExitCode   int       `json:"exit_code"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
