package runtimehost

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/loykin/gokrun/internal/history"
	"github.com/loykin/gokrun/internal/layout"
	"github.com/loykin/gokrun/internal/logger"
	"github.com/loykin/gokrun/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

func (m *memSink) all() []history.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]history.Event(nil), m.events...)
}

func touch(t *testing.T, path string, mode os.FileMode) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), mode))
}

func newProject(t *testing.T, root string) string {
	t.Helper()
	dir := filepath.Join(root, settings.DefaultGodotProject)
	touch(t, filepath.Join(dir, ProjectMarker), 0o644)
	return dir
}

func godotEnv(extra map[string]string) map[string]string {
	env := map[string]string{settings.EnvRuntimeHost: "godot"}
	for k, v := range extra {
		env[k] = v
	}
	return env
}

func TestPlanLegacyDefaultExecutable(t *testing.T) {
	payload := t.TempDir()
	exe := filepath.Join(payload, "game", LegacyGameExe)
	touch(t, exe, 0o755)

	l := &Launcher{Layout: layout.FromPayload(payload), Env: map[string]string{}, Cwd: t.TempDir()}
	plan, err := l.Plan("")
	require.NoError(t, err)
	assert.Equal(t, settings.HostLegacy, plan.Host)
	assert.Equal(t, exe, plan.Executable)
	assert.Equal(t, filepath.Dir(exe), plan.WorkDir)
	assert.Empty(t, plan.Args)
	assert.Equal(t, "default", plan.Source)
}

func TestPlanLegacyEnvOverride(t *testing.T) {
	payload := t.TempDir()
	exe := filepath.Join(t.TempDir(), "bin", "game.exe")
	touch(t, exe, 0o755)

	l := &Launcher{Layout: layout.FromPayload(payload), Env: map[string]string{settings.EnvGameExe: exe}}
	plan, err := l.Plan("")
	require.NoError(t, err)
	assert.Equal(t, exe, plan.Executable)
}

func TestPlanLegacyMissingExecutable(t *testing.T) {
	payload := t.TempDir()
	l := &Launcher{Layout: layout.FromPayload(payload), Env: map[string]string{}}
	_, err := l.Plan("")
	require.ErrorIs(t, err, ErrGameNotFound)
	assert.Contains(t, err.Error(), filepath.Join(payload, "game", LegacyGameExe))
}

func TestPlanGodotRequiresBootstrap(t *testing.T) {
	l := &Launcher{Layout: layout.FromPayload(t.TempDir()), Env: godotEnv(nil)}
	_, err := l.Plan("  ")
	require.ErrorIs(t, err, ErrNoBootstrap)
}

func TestPlanGodotProjectNotFound(t *testing.T) {
	l := &Launcher{Layout: layout.FromPayload(t.TempDir()), Env: godotEnv(nil), Cwd: t.TempDir()}
	_, err := l.Plan("boot.json")
	require.ErrorIs(t, err, ErrProjectNotFound)
	assert.Contains(t, err.Error(), settings.EnvGodotProject)
}

func TestPlanGodotPrefersBundledEngine(t *testing.T) {
	payload := t.TempDir()
	project := newProject(t, payload)
	osDir, name := "linux", "godot4"
	engine := filepath.Join(project, "runtime", osDir, name)
	touch(t, engine, 0o755)

	l := &Launcher{Layout: layout.FromPayload(payload), Env: godotEnv(nil), GOOS: "linux", Cwd: t.TempDir()}
	boot := filepath.Join(t.TempDir(), "runtime_bootstrap_1.json")
	plan, err := l.Plan(boot)
	require.NoError(t, err)
	assert.Equal(t, settings.HostGodot, plan.Host)
	assert.Equal(t, engine, plan.Executable)
	assert.Equal(t, project, plan.Project)
	assert.Equal(t, project, plan.WorkDir)
	assert.Equal(t, []string{"--path", project, "--", "--bootstrap=" + boot}, plan.Args)
	assert.Equal(t, "env", plan.Source)
}

func TestPlanGodotFallsBackToSearchPath(t *testing.T) {
	payload := t.TempDir()
	newProject(t, payload)

	l := &Launcher{Layout: layout.FromPayload(payload), Env: godotEnv(nil), GOOS: "windows", Cwd: t.TempDir()}
	plan, err := l.Plan("boot.json")
	require.NoError(t, err)
	assert.Equal(t, settings.DefaultGodotExecutable, plan.Executable)
	abs, _ := filepath.Abs("boot.json")
	assert.Equal(t, "--bootstrap="+abs, plan.Args[3])
}

func TestPlanGodotConfiguredExecutableRelativeToInstall(t *testing.T) {
	install := t.TempDir()
	payload := filepath.Join(install, "current")
	newProject(t, payload)
	engine := filepath.Join(install, "engines", "godot.bin")
	touch(t, engine, 0o755)

	l := &Launcher{
		Layout: layout.FromPayload(payload),
		Env:    godotEnv(map[string]string{settings.EnvGodotExecutable: "engines/godot.bin"}),
		Cwd:    t.TempDir(),
	}
	plan, err := l.Plan("boot.json")
	require.NoError(t, err)
	assert.Equal(t, engine, plan.Executable)
}

func TestPlanGodotStaleOverrideFallsThrough(t *testing.T) {
	payload := t.TempDir()
	project := newProject(t, payload)
	stale := t.TempDir()
	props := filepath.Join(payload, settings.PropertiesFileName)
	require.NoError(t, os.WriteFile(props, []byte("godot_project_path=missing-dir\n"), 0o644))

	l := &Launcher{
		Layout: layout.FromPayload(payload),
		Env:    godotEnv(map[string]string{settings.EnvGodotProject: stale}),
		Cwd:    t.TempDir(),
	}
	plan, err := l.Plan("boot.json")
	require.NoError(t, err)
	assert.Equal(t, project, plan.Project)
}

func TestPlanGodotProjectFromCwdParent(t *testing.T) {
	root := t.TempDir()
	project := newProject(t, root)
	cwd := filepath.Join(root, "launcher")
	require.NoError(t, os.MkdirAll(cwd, 0o755))

	l := &Launcher{Layout: layout.FromPayload(t.TempDir()), Env: godotEnv(nil), Cwd: cwd}
	plan, err := l.Plan("boot.json")
	require.NoError(t, err)
	assert.Equal(t, project, plan.Project)
}

func TestLaunchLegacyWritesGameLog(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
	payload := t.TempDir()
	script := filepath.Join(payload, "game", "run.sh")
	require.NoError(t, os.MkdirAll(filepath.Dir(script), 0o755))
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho game-started\n"), 0o755))

	sink := &memSink{}
	logDir := t.TempDir()
	l := &Launcher{
		Layout:  layout.FromPayload(payload),
		Env:     map[string]string{settings.EnvGameExe: script},
		Logs:    logger.FileConfig{Dir: logDir},
		History: history.NewRecorder(nil, sink),
	}
	p, plan, err := l.Launch(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, script, plan.Executable)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := p.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.ExitCode)

	data, err := os.ReadFile(filepath.Join(logDir, GameLogName+".log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "game-started")

	_, err = os.Stat(filepath.Join(payload, "logs", PIDFileName))
	assert.True(t, os.IsNotExist(err), "pid file should be removed after exit")

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, history.EventRuntimeLaunch, events[0].Type)
	assert.Equal(t, "launched", events[0].Status)
}

func TestLaunchPlanFailureIsNotRecorded(t *testing.T) {
	sink := &memSink{}
	l := &Launcher{
		Layout:  layout.FromPayload(t.TempDir()),
		Env:     map[string]string{},
		History: history.NewRecorder(nil, sink),
	}
	p, _, err := l.Launch(context.Background(), "")
	require.ErrorIs(t, err, ErrGameNotFound)
	assert.Nil(t, p)
	assert.Empty(t, sink.all())
}
