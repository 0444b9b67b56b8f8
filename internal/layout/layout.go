// Package layout locates the payload and install roots of an installed client.
package layout

import (
	"os"
	"path/filepath"
	"strings"
)

const appDirName = "GardensOfKaraxas"

// Layout holds the two roots everything else is resolved against.
// Payload is where the shipped files live; Install is its parent when the
// payload sits in a "current" directory.
type Layout struct {
	Payload string
	Install string
}

// Probe carries the inputs of discovery. Zero fields are filled from the OS.
type Probe struct {
	Env        map[string]string
	Executable string
	Cwd        string
	Home       string
}

func (p Probe) getenv(k string) string {
	if p.Env != nil {
		return strings.TrimSpace(p.Env[k])
	}
	return strings.TrimSpace(os.Getenv(k))
}

func (p Probe) fill() Probe {
	if p.Executable == "" {
		if exe, err := os.Executable(); err == nil {
			p.Executable = exe
		}
	}
	if p.Cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			p.Cwd = wd
		}
	}
	if p.Home == "" {
		if h, err := os.UserHomeDir(); err == nil {
			p.Home = h
		}
	}
	return p
}

// Discover picks the payload root: the first candidate holding game/, else the
// first holding app/, else the executable's directory, else the working dir.
func Discover(p Probe) Layout {
	p = p.fill()
	var exeDir string
	if p.Executable != "" {
		exeDir = filepath.Dir(abs(p.Executable))
		if filepath.Base(exeDir) == "app" {
			exeDir = filepath.Dir(exeDir)
		}
	}
	var candidates []string
	if v := p.getenv("VELOPACK_APPROOT"); v != "" {
		candidates = append(candidates, abs(v))
	}
	if v := p.getenv("LOCALAPPDATA"); v != "" {
		candidates = append(candidates, abs(filepath.Join(v, appDirName)))
	}
	if p.Home != "" {
		candidates = append(candidates, abs(filepath.Join(p.Home, "AppData", "Local", appDirName)))
	}
	if exeDir != "" {
		candidates = append(candidates, exeDir)
	}
	if p.Cwd != "" {
		candidates = append(candidates, abs(p.Cwd))
	}

	payload := firstWith(candidates, "game")
	if payload == "" {
		payload = firstWith(candidates, "app")
	}
	if payload == "" {
		payload = exeDir
	}
	if payload == "" {
		payload = abs(p.Cwd)
	}
	return FromPayload(payload)
}

// FromPayload derives the install root from a known payload root.
func FromPayload(payload string) Layout {
	payload = abs(payload)
	install := payload
	if strings.EqualFold(filepath.Base(payload), "current") {
		install = filepath.Dir(payload)
	}
	return Layout{Payload: payload, Install: install}
}

// WithOverrides replaces roots with explicitly configured values.
func (l Layout) WithOverrides(payload, install string) Layout {
	if payload != "" {
		l = FromPayload(payload)
	}
	if install != "" {
		l.Install = abs(install)
	}
	return l
}

// Logs returns <install>/logs, creating it best-effort.
func (l Layout) Logs() string {
	dir := filepath.Join(l.Install, "logs")
	_ = os.MkdirAll(dir, 0o750)
	return dir
}

// BaseDirs returns the prioritized directories for relative lookups:
// payload, install, then the working directory.
func (l Layout) BaseDirs() []string {
	dirs := []string{l.Payload}
	if l.Install != l.Payload {
		dirs = append(dirs, l.Install)
	}
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd)
	}
	return dirs
}

func firstWith(candidates []string, child string) string {
	for _, c := range candidates {
		if st, err := os.Stat(filepath.Join(c, child)); err == nil && st.IsDir() {
			return c
		}
	}
	return ""
}

func abs(p string) string {
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return filepath.Clean(p)
}
