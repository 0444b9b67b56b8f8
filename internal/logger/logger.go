package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings, lumberjack semantics.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// SlogConfig controls the supervisor's own structured logger.
type SlogConfig struct {
	Level      Level  `mapstructure:"level"`
	Format     Format `mapstructure:"format"`
	Color      bool   `mapstructure:"color"`
	TimeStamps bool   `mapstructure:"timestamps"`
}

// FileConfig describes where rotating log files live.
// Every named log ends up at Dir/<name>.log.
type FileConfig struct {
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Config bundles console and file logging settings.
type Config struct {
	Slog SlogConfig `mapstructure:"slog"`
	File FileConfig `mapstructure:"file"`
}

// Path returns the file path used for the named log, or "" when Dir is unset.
func (c FileConfig) Path(name string) string {
	if c.Dir == "" {
		return ""
	}
	return filepath.Join(c.Dir, fmt.Sprintf("%s.log", name))
}

// Writer returns a rotating writer for the named log. It returns nil when
// no directory is configured.
func (c FileConfig) Writer(name string) io.WriteCloser {
	p := c.Path(name)
	if p == "" {
		return nil
	}
	_ = os.MkdirAll(c.Dir, 0o750)
	return &lj.Logger{
		Filename:   p,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// NewSlogger builds the application logger. Console output goes to stderr;
// when File.Dir is set, records are also appended to launcher.log.
func (c Config) NewSlogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Slog.Level.slogLevel()}
	if !c.Slog.TimeStamps {
		opts.ReplaceAttr = dropTime
	}
	var console slog.Handler
	switch {
	case c.Slog.Format == FormatJSON:
		console = slog.NewJSONHandler(os.Stderr, opts)
	case c.Slog.Color:
		console = NewColorTextHandler(os.Stderr, opts, c.Slog.TimeStamps)
	default:
		console = slog.NewTextHandler(os.Stderr, opts)
	}
	w := c.File.Writer("launcher")
	if w == nil {
		return slog.New(console)
	}
	file := slog.NewTextHandler(Safe(w), &slog.HandlerOptions{Level: opts.Level})
	return slog.New(fanout{console, file})
}

func (l Level) slogLevel() slog.Level {
	switch Level(strings.ToLower(string(l))) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

// Safe wraps w so that write failures are swallowed. Logging must never abort
// the operation that produced the line.
func Safe(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return &safeWriter{w: w}
}

type safeWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *safeWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	_, _ = s.w.Write(p)
	s.mu.Unlock()
	return len(p), nil
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
