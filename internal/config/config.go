package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/gokrun/internal/auth"
	"github.com/loykin/gokrun/internal/backend"
	"github.com/loykin/gokrun/internal/events"
	"github.com/loykin/gokrun/internal/layout"
	"github.com/loykin/gokrun/internal/logger"
	"github.com/loykin/gokrun/internal/schedule"
	itls "github.com/loykin/gokrun/internal/tls"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides: backend.base_url is read
// from GOK_BACKEND_BASE_URL.
const EnvPrefix = "GOK"

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	PayloadRoot string        `toml:"payload_root" mapstructure:"payload_root"`
	InstallRoot string        `toml:"install_root" mapstructure:"install_root"`
	Env         []string      `toml:"env" mapstructure:"env"`
	EnvFiles    []string      `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv    bool          `toml:"use_os_env" mapstructure:"use_os_env"`
	Log         logger.Config `toml:"log" mapstructure:"log"`
	Backend     BackendConfig `toml:"backend" mapstructure:"backend"`
	Update      UpdateConfig  `toml:"update" mapstructure:"update"`
	Events      EventsConfig  `toml:"events" mapstructure:"events"`
	Server      ServerConfig  `toml:"server" mapstructure:"server"`
	History     HistoryConfig `toml:"history" mapstructure:"history"`
}

type BackendConfig struct {
	BaseURL       string        `toml:"base_url" mapstructure:"base_url"`
	ClientVersion string        `toml:"client_version" mapstructure:"client_version"`
	AccessToken   string        `toml:"access_token" mapstructure:"access_token"`
	Timeout       time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type UpdateConfig struct {
	Helper      []string `toml:"helper" mapstructure:"helper"`
	RestartArgs []string `toml:"restart_args" mapstructure:"restart_args"`
	AutoRestart bool     `toml:"auto_restart" mapstructure:"auto_restart"`
	Schedule    string   `toml:"schedule" mapstructure:"schedule"`
	TimeZone    string   `toml:"time_zone" mapstructure:"time_zone"`
}

// EventsConfig tunes the event stream. URL, when set, replaces the
// ticket-based URL from the backend.
type EventsConfig struct {
	URL              string        `toml:"url" mapstructure:"url"`
	CloseDelay       time.Duration `toml:"close_delay" mapstructure:"close_delay"`
	ConnectFailDelay time.Duration `toml:"connect_fail_delay" mapstructure:"connect_fail_delay"`
	PingInterval     time.Duration `toml:"ping_interval" mapstructure:"ping_interval"`
	HandshakeTimeout time.Duration `toml:"handshake_timeout" mapstructure:"handshake_timeout"`
}

type ServerConfig struct {
	Listen   string      `toml:"listen" mapstructure:"listen"`
	BasePath string      `toml:"base_path" mapstructure:"base_path"`
	TLS      itls.Config `toml:"tls" mapstructure:"tls"`
	Auth     auth.Config `toml:"auth" mapstructure:"auth"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// legacyEnv maps keys to extra environment names kept from earlier launchers.
var legacyEnv = map[string]string{
	"backend.base_url":     backend.EnvBaseURL,
	"backend.access_token": "GOK_ACCESS_TOKEN",
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults make every key visible to AutomaticEnv during Unmarshal.
	v.SetDefault("payload_root", "")
	v.SetDefault("install_root", "")
	v.SetDefault("use_os_env", true)
	v.SetDefault("log.slog.level", string(logger.LevelInfo))
	v.SetDefault("log.slog.format", string(logger.FormatText))
	v.SetDefault("log.slog.color", false)
	v.SetDefault("log.slog.timestamps", true)
	v.SetDefault("log.file.dir", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)
	v.SetDefault("backend.base_url", "")
	v.SetDefault("backend.client_version", "")
	v.SetDefault("backend.access_token", "")
	v.SetDefault("backend.timeout", "15s")
	v.SetDefault("update.auto_restart", false)
	v.SetDefault("update.schedule", "")
	v.SetDefault("update.time_zone", "")
	v.SetDefault("events.url", "")
	v.SetDefault("events.close_delay", events.DefaultCloseDelay.String())
	v.SetDefault("events.connect_fail_delay", events.DefaultConnectFailDelay.String())
	v.SetDefault("events.ping_interval", events.DefaultPingInterval.String())
	v.SetDefault("events.handshake_timeout", events.DefaultHandshakeTimeout.String())
	v.SetDefault("server.listen", "")
	v.SetDefault("server.base_path", "")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.min_version", "")
	v.SetDefault("server.tls.max_version", "")
	v.SetDefault("server.auth.enabled", false)
	v.SetDefault("server.auth.username", "")
	v.SetDefault("server.auth.password_hash", "")
	v.SetDefault("server.auth.anonymous_read", false)
	v.SetDefault("history.dsn", "")

	for key, name := range legacyEnv {
		envName := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, envName, name)
	}
	return v
}

// Load reads path (TOML) and applies GOK_* environment overrides. An empty
// path yields defaults plus environment.
func Load(path string) (*FileConfig, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Validate checks values that would otherwise fail late.
func (c *FileConfig) Validate() error {
	if spec, ok := c.ScheduleSpec(); ok {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("update.schedule: %w", err)
		}
	}
	for name, d := range map[string]time.Duration{
		"events.close_delay":        c.Events.CloseDelay,
		"events.connect_fail_delay": c.Events.ConnectFailDelay,
		"events.ping_interval":      c.Events.PingInterval,
		"events.handshake_timeout":  c.Events.HandshakeTimeout,
		"backend.timeout":           c.Backend.Timeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if err := c.Server.Auth.Validate(); err != nil {
		return fmt.Errorf("server.auth: %w", err)
	}
	return nil
}

// Layout discovers the roots and applies payload_root/install_root.
func (c *FileConfig) Layout(p layout.Probe) layout.Layout {
	return layout.Discover(p).WithOverrides(c.PayloadRoot, c.InstallRoot)
}

// LoggerConfig returns the logging config with the file directory defaulted
// to logsDir when unset.
func (c *FileConfig) LoggerConfig(logsDir string) logger.Config {
	lc := c.Log
	if lc.File.Dir == "" {
		lc.File.Dir = logsDir
	}
	return lc
}

// ScheduleSpec reports the periodic update check, if one is configured.
func (c *FileConfig) ScheduleSpec() (schedule.Spec, bool) {
	if strings.TrimSpace(c.Update.Schedule) == "" {
		return schedule.Spec{}, false
	}
	s := schedule.Spec{Schedule: c.Update.Schedule, TimeZone: c.Update.TimeZone}
	s.GetDefaults()
	return s, true
}

// GlobalEnv merges the environment handed to helpers and settings lookups:
// the OS env (when use_os_env) as base, then env_files in order, then the
// top-level env list. It returns nil when nothing is configured, which means
// "inherit the OS environment".
func (c *FileConfig) GlobalEnv() (map[string]string, error) {
	if len(c.Env) == 0 && len(c.EnvFiles) == 0 {
		return nil, nil
	}
	m := make(map[string]string)
	if c.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range c.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m, nil
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
