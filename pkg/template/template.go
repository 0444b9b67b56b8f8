// Package template renders starter TOML configs for common launcher setups.
package template

import (
	"fmt"
	"sort"

	"github.com/pelletier/go-toml/v2"
)

// TemplateType represents the type of template to generate
type TemplateType string

const (
	TypeMinimal  TemplateType = "minimal"
	TypeBasic    TemplateType = "basic"
	TypeServe    TemplateType = "serve"
	TypeDaemon   TemplateType = "daemon"
	TypeGodot    TemplateType = "godot"
	TypeDev      TemplateType = "dev"
	TypeHardened TemplateType = "hardened"
)

// ConfigTemplate mirrors the subset of config keys a starter file sets.
type ConfigTemplate struct {
	PayloadRoot string         `toml:"payload_root,omitempty"`
	InstallRoot string         `toml:"install_root,omitempty"`
	Env         []string       `toml:"env,omitempty"`
	Log         *LogConfig     `toml:"log,omitempty"`
	Backend     *BackendConfig `toml:"backend,omitempty"`
	Update      *UpdateConfig  `toml:"update,omitempty"`
	Server      *ServerConfig  `toml:"server,omitempty"`
	History     *HistoryConfig `toml:"history,omitempty"`
	Events      *EventsConfig  `toml:"events,omitempty"`
}

type LogConfig struct {
	Slog *SlogConfig `toml:"slog,omitempty"`
	File *FileConfig `toml:"file,omitempty"`
}

type SlogConfig struct {
	Level  string `toml:"level,omitempty"`
	Format string `toml:"format,omitempty"`
	Color  bool   `toml:"color,omitempty"`
}

type FileConfig struct {
	Dir        string `toml:"dir,omitempty"`
	MaxSizeMB  int    `toml:"max_size_mb,omitempty"`
	MaxBackups int    `toml:"max_backups,omitempty"`
	Compress   bool   `toml:"compress,omitempty"`
}

type BackendConfig struct {
	BaseURL       string `toml:"base_url"`
	ClientVersion string `toml:"client_version,omitempty"`
	Timeout       string `toml:"timeout,omitempty"`
}

type UpdateConfig struct {
	Schedule    string `toml:"schedule,omitempty"`
	TimeZone    string `toml:"time_zone,omitempty"`
	AutoRestart bool   `toml:"auto_restart,omitempty"`
}

type ServerConfig struct {
	Listen   string      `toml:"listen"`
	BasePath string      `toml:"base_path,omitempty"`
	TLS      *TLSConfig  `toml:"tls,omitempty"`
	Auth     *AuthConfig `toml:"auth,omitempty"`
}

type TLSConfig struct {
	Enabled      bool   `toml:"enabled"`
	Dir          string `toml:"dir"`
	AutoGenerate bool   `toml:"auto_generate"`
}

type AuthConfig struct {
	Enabled       bool   `toml:"enabled"`
	Username      string `toml:"username"`
	PasswordHash  string `toml:"password_hash"`
	AnonymousRead bool   `toml:"anonymous_read,omitempty"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn"`
}

type EventsConfig struct {
	URL string `toml:"url,omitempty"`
}

// Generator provides template generation functionality
type Generator struct {
	BaseURL string
	// PasswordHash fills server.auth.password_hash in the hardened template.
	PasswordHash string
}

// NewGenerator creates a new template generator
func NewGenerator(baseURL string) *Generator {
	if baseURL == "" {
		baseURL = "https://api.example.com"
	}
	return &Generator{BaseURL: baseURL}
}

var generators = map[TemplateType]func(*Generator) *ConfigTemplate{
	TypeMinimal:  (*Generator).minimal,
	TypeBasic:    (*Generator).minimal,
	TypeServe:    (*Generator).serve,
	TypeDaemon:   (*Generator).serve,
	TypeGodot:    (*Generator).godot,
	TypeDev:      (*Generator).dev,
	TypeHardened: (*Generator).hardened,
}

// Generate creates a config template of the given type.
func (g *Generator) Generate(templateType TemplateType) (*ConfigTemplate, error) {
	fn, ok := generators[templateType]
	if !ok {
		return nil, fmt.Errorf("unsupported template type: %s", templateType)
	}
	return fn(g), nil
}

// GenerateTOML renders the template as TOML.
func (g *Generator) GenerateTOML(templateType TemplateType) ([]byte, error) {
	t, err := g.Generate(templateType)
	if err != nil {
		return nil, err
	}
	b, err := toml.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return b, nil
}

// GetSupportedTypes returns the supported template types, sorted.
func (g *Generator) GetSupportedTypes() []string {
	out := make([]string, 0, len(generators))
	for t := range generators {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}

func (g *Generator) backend() *BackendConfig {
	return &BackendConfig{BaseURL: g.BaseURL, Timeout: "15s"}
}

func (g *Generator) minimal() *ConfigTemplate {
	return &ConfigTemplate{
		Backend: g.backend(),
		Log: &LogConfig{
			Slog: &SlogConfig{Level: "info", Format: "text"},
		},
	}
}

func (g *Generator) serve() *ConfigTemplate {
	t := g.minimal()
	t.Update = &UpdateConfig{Schedule: "@every 30m"}
	t.Server = &ServerConfig{Listen: "127.0.0.1:7001"}
	t.History = &HistoryConfig{DSN: "sqlite://history.db"}
	return t
}

func (g *Generator) godot() *ConfigTemplate {
	t := g.serve()
	t.Env = []string{"GOK_RUNTIME_HOST=godot", "GOK_GODOT_PROJECT_PATH=game-client"}
	return t
}

func (g *Generator) dev() *ConfigTemplate {
	t := g.serve()
	t.Backend.BaseURL = "http://127.0.0.1:8000"
	t.Backend.ClientVersion = "dev"
	t.Log.Slog = &SlogConfig{Level: "debug", Format: "text", Color: true}
	t.Update.Schedule = ""
	t.Server.Listen = "127.0.0.1:0"
	return t
}

func (g *Generator) hardened() *ConfigTemplate {
	t := g.serve()
	t.Log.File = &FileConfig{MaxSizeMB: 10, MaxBackups: 5, Compress: true}
	t.Server.TLS = &TLSConfig{Enabled: true, Dir: "tls", AutoGenerate: true}
	hash := g.PasswordHash
	if hash == "" {
		hash = "<output of gokrun hash-password>"
	}
	t.Server.Auth = &AuthConfig{
		Enabled:       true,
		Username:      "launcher",
		PasswordHash:  hash,
		AnonymousRead: true,
	}
	return t
}
