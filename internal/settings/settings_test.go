package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLayersFirstNonBlankWins(t *testing.T) {
	l := Layers{
		EnvProvider{Env: map[string]string{"K": "   "}},
		StaticProvider{Label: "file", Values: map[string]string{"K": " from-file "}},
		StaticProvider{Values: map[string]string{"K": "from-default"}},
	}
	v, ok := l.Get("K")
	require.True(t, ok)
	assert.Equal(t, "from-file", v.Value)
	assert.Equal(t, "file", v.Source)

	_, ok = l.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, Value{Value: "x", Source: "default"}, l.GetOr("missing", "x"))
}

func TestEnvProviderAliasesInOrder(t *testing.T) {
	p := EnvProvider{
		Env:  map[string]string{"B": "second"},
		Keys: map[string][]string{"tok": {"A", "B"}},
	}
	v, ok := p.Lookup("tok")
	require.True(t, ok)
	assert.Equal(t, "second", v)

	p.Env["A"] = "first"
	v, _ = p.Lookup("tok")
	assert.Equal(t, "first", v)
}

func TestPropertiesParsing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.properties")
	writeFile(t, path, `
# comment
! also comment
Runtime_Host = godot
runtime_host=ignored-second
godot_executable: custom-godot
url=http://host:8080/path
novalue
=orphan
`)
	p := NewPropertiesProvider(path)
	require.True(t, p.Exists())

	v, ok := p.Lookup("RUNTIME_HOST")
	require.True(t, ok)
	assert.Equal(t, "godot", v)

	v, _ = p.Lookup("godot_executable")
	assert.Equal(t, "custom-godot", v)

	v, _ = p.Lookup("url")
	assert.Equal(t, "http://host:8080/path", v)

	_, ok = p.Lookup("novalue")
	assert.False(t, ok)
}

func TestPropertiesMissingFile(t *testing.T) {
	p := NewPropertiesProvider(filepath.Join(t.TempDir(), "nope"))
	assert.False(t, p.Exists())
	_, ok := p.Lookup("runtime_host")
	assert.False(t, ok)
}

func TestResolveRuntimeHostDefaults(t *testing.T) {
	root := t.TempDir()
	s := ResolveRuntimeHost(root, root, map[string]string{})
	assert.Equal(t, HostLegacy, s.Host)
	assert.Equal(t, "godot4", s.GodotExecutable)
	assert.Equal(t, "game-client", s.GodotProject)
	assert.Equal(t, "default", s.Source)
}

func TestResolveRuntimeHostEnv(t *testing.T) {
	root := t.TempDir()
	s := ResolveRuntimeHost(root, root, map[string]string{EnvRuntimeHost: " GODOT "})
	assert.Equal(t, HostGodot, s.Host)
	assert.Equal(t, "env", s.Source)
}

func TestResolveRuntimeHostProperties(t *testing.T) {
	payload := t.TempDir()
	install := t.TempDir()
	writeFile(t, filepath.Join(install, PropertiesFileName), "runtime_host=godot\ngodot_executable=custom-godot\ngodot_project_path=game-client\n")
	writeFile(t, filepath.Join(payload, PropertiesFileName), "godot_executable=payload-godot\n")

	s := ResolveRuntimeHost(payload, install, map[string]string{})
	assert.Equal(t, HostGodot, s.Host)
	assert.Equal(t, "payload-godot", s.GodotExecutable)
	assert.Equal(t, "game-client", s.GodotProject)
	assert.Equal(t, "properties:"+filepath.Join(install, PropertiesFileName), s.Source)

	s = ResolveRuntimeHost(payload, install, map[string]string{EnvGodotExecutable: "env-godot"})
	assert.Equal(t, "env-godot", s.GodotExecutable)
}

func TestResolveRuntimeHostProjectCandidates(t *testing.T) {
	payload := t.TempDir()
	install := t.TempDir()
	writeFile(t, filepath.Join(payload, PropertiesFileName), "godot_project_path=from-payload\n")
	writeFile(t, filepath.Join(install, PropertiesFileName), "godot_project_path=from-install\n")

	s := ResolveRuntimeHost(payload, install, map[string]string{EnvGodotProject: "from-env"})
	assert.Equal(t, "from-env", s.GodotProject)
	assert.Equal(t, []string{"from-env", "from-payload", "from-install", DefaultGodotProject}, s.ProjectCandidates)

	s = ResolveRuntimeHost(t.TempDir(), "", map[string]string{})
	assert.Equal(t, []string{DefaultGodotProject}, s.ProjectCandidates)
}

func TestUpdateToken(t *testing.T) {
	payload := t.TempDir()
	install := t.TempDir()

	_, ok := UpdateToken(payload, install, map[string]string{})
	assert.False(t, ok)

	writeFile(t, filepath.Join(install, TokenFileName), "  install-token\n")
	v, ok := UpdateToken(payload, install, map[string]string{})
	require.True(t, ok)
	assert.Equal(t, "install-token", v.Value)

	writeFile(t, filepath.Join(payload, TokenFileName), "\n\n")
	v, _ = UpdateToken(payload, install, map[string]string{})
	assert.Equal(t, "install-token", v.Value, "blank token file is skipped")

	v, _ = UpdateToken(payload, install, map[string]string{EnvUpdateGithubToken: "gh"})
	assert.Equal(t, "gh", v.Value)
	assert.Equal(t, "env", v.Source)

	v, _ = UpdateToken(payload, install, map[string]string{EnvUpdateGithubToken: "gh", EnvUpdateToken: "vp"})
	assert.Equal(t, "vp", v.Value)
}
