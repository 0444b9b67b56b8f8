// Package settings resolves configuration values from an ordered list of
// named providers. The first provider yielding a non-blank value wins.
package settings

import (
	"os"
	"path/filepath"
	"strings"
)

// Provider is one named source of configuration values.
type Provider interface {
	Name() string
	Lookup(key string) (string, bool)
}

// Value is a resolved setting together with the provider that supplied it.
type Value struct {
	Value  string
	Source string
}

// Layers evaluates providers in order.
type Layers []Provider

// Get returns the first non-blank value for key.
func (l Layers) Get(key string) (Value, bool) {
	for _, p := range l {
		if p == nil {
			continue
		}
		v, ok := p.Lookup(key)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		return Value{Value: v, Source: p.Name()}, true
	}
	return Value{}, false
}

// All returns every non-blank value for key in provider order.
func (l Layers) All(key string) []Value {
	var out []Value
	for _, p := range l {
		if p == nil {
			continue
		}
		v, ok := p.Lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		out = append(out, Value{Value: strings.TrimSpace(v), Source: p.Name()})
	}
	return out
}

// GetOr returns the resolved value or def with source "default".
func (l Layers) GetOr(key, def string) Value {
	if v, ok := l.Get(key); ok {
		return v
	}
	return Value{Value: def, Source: "default"}
}

// EnvProvider reads environment variables. A nil Env map means the OS
// environment; tests inject a map.
type EnvProvider struct {
	Env  map[string]string
	Keys map[string][]string // logical key -> env var names, tried in order
}

func (e EnvProvider) Name() string { return "env" }

func (e EnvProvider) Lookup(key string) (string, bool) {
	names, ok := e.Keys[key]
	if !ok {
		names = []string{key}
	}
	for _, n := range names {
		var v string
		var found bool
		if e.Env != nil {
			v, found = e.Env[n]
		} else {
			v, found = os.LookupEnv(n)
		}
		if found && strings.TrimSpace(v) != "" {
			return v, true
		}
	}
	return "", false
}

// StaticProvider serves bundled defaults.
type StaticProvider struct {
	Label  string
	Values map[string]string
}

func (s StaticProvider) Name() string {
	if s.Label == "" {
		return "default"
	}
	return s.Label
}

func (s StaticProvider) Lookup(key string) (string, bool) {
	v, ok := s.Values[key]
	return v, ok
}

// FileProvider serves the trimmed content of a single file for one key.
// Missing or unreadable files yield nothing.
type FileProvider struct {
	Key  string
	Path string
}

func (f FileProvider) Name() string { return "file:" + f.Path }

func (f FileProvider) Lookup(key string) (string, bool) {
	if key != f.Key || f.Path == "" {
		return "", false
	}
	b, err := os.ReadFile(filepath.Clean(f.Path))
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(string(b))
	return v, v != ""
}
