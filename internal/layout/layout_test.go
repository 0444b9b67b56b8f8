package layout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkdir(t *testing.T, p string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(p, 0o755))
	return p
}

func TestDiscoverPrefersRootWithGame(t *testing.T) {
	appRoot := mkdir(t, filepath.Join(t.TempDir(), "approot"))
	mkdir(t, filepath.Join(appRoot, "app"))
	cwd := t.TempDir()
	mkdir(t, filepath.Join(cwd, "game"))

	l := Discover(Probe{
		Env:        map[string]string{"VELOPACK_APPROOT": appRoot},
		Executable: filepath.Join(t.TempDir(), "bin", "gokrun"),
		Cwd:        cwd,
		Home:       t.TempDir(),
	})
	assert.Equal(t, cwd, l.Payload)
	assert.Equal(t, cwd, l.Install)
}

func TestDiscoverFallsBackToApp(t *testing.T) {
	appRoot := mkdir(t, filepath.Join(t.TempDir(), "approot"))
	mkdir(t, filepath.Join(appRoot, "app"))
	l := Discover(Probe{
		Env:        map[string]string{"VELOPACK_APPROOT": appRoot},
		Executable: filepath.Join(t.TempDir(), "gokrun"),
		Cwd:        t.TempDir(),
		Home:       t.TempDir(),
	})
	assert.Equal(t, appRoot, l.Payload)
}

func TestDiscoverExecutableInAppDir(t *testing.T) {
	root := t.TempDir()
	exe := filepath.Join(mkdir(t, filepath.Join(root, "current", "app")), "gokrun")
	l := Discover(Probe{Env: map[string]string{}, Executable: exe, Cwd: t.TempDir(), Home: t.TempDir()})
	assert.Equal(t, filepath.Join(root, "current"), l.Payload)
	assert.Equal(t, root, l.Install)
}

func TestFromPayloadCurrent(t *testing.T) {
	root := t.TempDir()
	l := FromPayload(filepath.Join(root, "Current"))
	assert.Equal(t, root, l.Install)
	l = FromPayload(root)
	assert.Equal(t, root, l.Install)
}

func TestWithOverridesAndLogs(t *testing.T) {
	root := t.TempDir()
	install := t.TempDir()
	l := Layout{}.WithOverrides(filepath.Join(root, "current"), install)
	assert.Equal(t, filepath.Join(root, "current"), l.Payload)
	assert.Equal(t, install, l.Install)

	logs := l.Logs()
	st, err := os.Stat(logs)
	require.NoError(t, err)
	assert.True(t, st.IsDir())
	assert.Equal(t, filepath.Join(install, "logs"), logs)
	assert.Equal(t, []string{l.Payload, l.Install}, l.BaseDirs()[:2])
}
