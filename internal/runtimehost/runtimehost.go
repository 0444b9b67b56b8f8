// Package runtimehost plans and starts the game runtime: the Godot engine with
// a bootstrap file, or the legacy game executable.
package runtimehost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/loykin/gokrun/internal/history"
	"github.com/loykin/gokrun/internal/layout"
	"github.com/loykin/gokrun/internal/logger"
	"github.com/loykin/gokrun/internal/metrics"
	"github.com/loykin/gokrun/internal/process"
	"github.com/loykin/gokrun/internal/resolve"
	"github.com/loykin/gokrun/internal/settings"
)

var (
	ErrExecutableNotConfigured = errors.New("runtime executable is not configured")
	ErrProjectNotFound         = errors.New("game-client project was not found")
	ErrGameNotFound            = errors.New("game executable not found")
	ErrNoBootstrap             = errors.New("bootstrap file is required")
)

const (
	ProjectMarker = "project.godot"
	LegacyGameExe = "GardensOfKaraxas.exe"
	PIDFileName   = "runtime.pid"
	GameLogName   = "game"
)

// Plan is everything needed to start the runtime.
type Plan struct {
	Host       settings.RuntimeHost `json:"host"`
	Executable string               `json:"executable"`
	Args       []string             `json:"args"`
	WorkDir    string               `json:"work_dir"`
	Project    string               `json:"project,omitempty"`
	Source     string               `json:"source"`
}

// Launcher resolves and starts the runtime host.
type Launcher struct {
	Layout  layout.Layout
	Env     map[string]string // nil reads the OS environment
	Logs    logger.FileConfig // game.log destination; zero Dir discards output
	Logger  *slog.Logger
	History *history.Recorder

	// GOOS and Cwd override runtime.GOOS and the working directory.
	GOOS string
	Cwd  string
}

func (l *Launcher) log() *slog.Logger {
	if l.Logger == nil {
		return slog.Default().With("component", "runtimehost")
	}
	return l.Logger.With("component", "runtimehost")
}

func (l *Launcher) goos() string {
	if l.GOOS != "" {
		return l.GOOS
	}
	return runtime.GOOS
}

func (l *Launcher) cwd() string {
	if l.Cwd != "" {
		return l.Cwd
	}
	wd, _ := os.Getwd()
	return wd
}

func (l *Launcher) getenv(k string) string {
	if l.Env != nil {
		return strings.TrimSpace(l.Env[k])
	}
	return strings.TrimSpace(os.Getenv(k))
}

// Settings resolves the runtime host settings snapshot.
func (l *Launcher) Settings() settings.RuntimeHostSettings {
	return settings.ResolveRuntimeHost(l.Layout.Payload, l.Layout.Install, l.Env)
}

// Plan decides what to run. bootstrap is required for the Godot host only.
func (l *Launcher) Plan(bootstrap string) (Plan, error) {
	st := l.Settings()
	if st.Host == settings.HostGodot {
		return l.planGodot(st, bootstrap)
	}
	return l.planLegacy(st)
}

func (l *Launcher) planGodot(st settings.RuntimeHostSettings, bootstrap string) (Plan, error) {
	if strings.TrimSpace(bootstrap) == "" {
		return Plan{}, ErrNoBootstrap
	}
	boot, err := filepath.Abs(bootstrap)
	if err != nil {
		return Plan{}, fmt.Errorf("bootstrap path: %w", err)
	}

	candidates := st.ProjectCandidates
	if len(candidates) == 0 {
		candidates = []string{st.GodotProject}
	}
	project, err := resolve.ProjectDir(candidates, l.projectBaseDirs(), ProjectMarker)
	if err != nil {
		return Plan{}, fmt.Errorf("%w; set %s", ErrProjectNotFound, settings.EnvGodotProject)
	}

	tokens := []string{st.GodotExecutable}
	if st.GodotExecutable == settings.DefaultGodotExecutable {
		tokens = append(l.bundledGodot(project), tokens...)
	}
	baseDirs := []string{project, l.Layout.Install, l.Layout.Payload, l.cwd()}
	exe, err := resolve.Executable(tokens, baseDirs, []string{"godot4", "godot"})
	if err != nil {
		return Plan{}, fmt.Errorf("%w; set %s", ErrExecutableNotConfigured, settings.EnvGodotExecutable)
	}
	return Plan{
		Host:       settings.HostGodot,
		Executable: exe,
		Args:       []string{"--path", project, "--", "--bootstrap=" + boot},
		WorkDir:    project,
		Project:    project,
		Source:     st.Source,
	}, nil
}

// projectBaseDirs lists where a relative project path is looked up.
func (l *Launcher) projectBaseDirs() []string {
	dirs := []string{l.Layout.Payload, l.Layout.Install}
	if wd := l.cwd(); wd != "" {
		dirs = append(dirs, wd, filepath.Dir(wd))
	}
	return dirs
}

// bundledGodot lists engine binaries shipped next to the project.
func (l *Launcher) bundledGodot(project string) []string {
	osDir, name := "linux", "godot4"
	switch l.goos() {
	case "windows":
		osDir, name = "windows", "godot4.exe"
	case "darwin":
		osDir = "macos"
	}
	return []string{
		filepath.Join(project, "runtime", osDir, name),
		filepath.Join(l.Layout.Install, settings.DefaultGodotProject, "runtime", osDir, name),
	}
}

func (l *Launcher) planLegacy(st settings.RuntimeHostSettings) (Plan, error) {
	exe := l.getenv(settings.EnvGameExe)
	if exe == "" {
		exe = filepath.Join(l.Layout.Payload, "game", LegacyGameExe)
	}
	abs, err := filepath.Abs(exe)
	if err != nil {
		abs = exe
	}
	if fi, err := os.Stat(abs); err != nil || fi.IsDir() {
		return Plan{}, fmt.Errorf("%w: %s", ErrGameNotFound, abs)
	}
	return Plan{
		Host:       settings.HostLegacy,
		Executable: abs,
		WorkDir:    filepath.Dir(abs),
		Source:     st.Source,
	}, nil
}

// Launch plans and starts the runtime. Output goes to game.log and the PID is
// recorded under the logs directory.
func (l *Launcher) Launch(ctx context.Context, bootstrap string) (*process.Process, Plan, error) {
	plan, err := l.Plan(bootstrap)
	if err != nil {
		l.log().Warn("runtime launch not possible", "error", err)
		return nil, Plan{}, err
	}
	spec := process.Spec{
		Name:     string(plan.Host),
		Path:     plan.Executable,
		Args:     plan.Args,
		WorkDir:  plan.WorkDir,
		PIDFile:  filepath.Join(l.Layout.Logs(), PIDFileName),
		Detached: true,
	}
	if w := l.Logs.Writer(GameLogName); w != nil {
		spec.Output = w
	}
	p := process.New(spec)
	if err := p.Start(); err != nil {
		err = fmt.Errorf("start %s runtime: %w", plan.Host, err)
		l.log().Error("runtime launch failed", "error", err)
		l.record(ctx, plan, "failed", err.Error())
		return nil, plan, err
	}
	metrics.IncRuntimeLaunch(string(plan.Host))
	l.record(ctx, plan, "launched", "")
	l.log().Info("runtime launched", "host", plan.Host, "executable", plan.Executable, "pid", p.Snapshot().PID, "source", plan.Source)
	return p, plan, nil
}

func (l *Launcher) record(ctx context.Context, plan Plan, status, detail string) {
	l.History.Record(ctx, history.Event{
		Type:    history.EventRuntimeLaunch,
		Subject: plan.Executable,
		Status:  status,
		Detail:  detail,
	})
}
