package settings

import (
	"path/filepath"
	"strings"
)

// RuntimeHost selects which runtime the launcher starts.
type RuntimeHost string

const (
	HostLegacy RuntimeHost = "launcher_legacy"
	HostGodot  RuntimeHost = "godot"
)

// Environment variables and property keys for runtime host settings.
const (
	EnvRuntimeHost     = "GOK_RUNTIME_HOST"
	EnvGodotExecutable = "GOK_GODOT_EXECUTABLE"
	EnvGodotProject    = "GOK_GODOT_PROJECT_PATH"
	EnvGameExe         = "GOK_GAME_EXE"

	KeyRuntimeHost     = "runtime_host"
	KeyGodotExecutable = "godot_executable"
	KeyGodotProject    = "godot_project_path"

	PropertiesFileName = "runtime_host.properties"

	DefaultGodotExecutable = "godot4"
	DefaultGodotProject    = "game-client"
)

// RuntimeHostSettings is an immutable snapshot resolved once per launch.
type RuntimeHostSettings struct {
	Host            RuntimeHost
	GodotExecutable string
	GodotProject    string
	Source          string

	// ProjectCandidates lists every configured project path in precedence
	// order, ending with DefaultGodotProject.
	ProjectCandidates []string
}

// RuntimeHostLayers builds env > properties (payload, install) > defaults.
// A nil env reads the OS environment.
func RuntimeHostLayers(payloadRoot, installRoot string, env map[string]string) Layers {
	layers := Layers{
		EnvProvider{Env: env, Keys: map[string][]string{
			KeyRuntimeHost:     {EnvRuntimeHost},
			KeyGodotExecutable: {EnvGodotExecutable},
			KeyGodotProject:    {EnvGodotProject},
		}},
	}
	seen := map[string]bool{}
	for _, root := range []string{payloadRoot, installRoot} {
		if root == "" {
			continue
		}
		p := filepath.Clean(filepath.Join(root, PropertiesFileName))
		if seen[p] {
			continue
		}
		seen[p] = true
		layers = append(layers, NewPropertiesProvider(p))
	}
	layers = append(layers, StaticProvider{Values: map[string]string{
		KeyRuntimeHost:     string(HostLegacy),
		KeyGodotExecutable: DefaultGodotExecutable,
		KeyGodotProject:    DefaultGodotProject,
	}})
	return layers
}

// ResolveRuntimeHost produces the settings snapshot for one launch.
func ResolveRuntimeHost(payloadRoot, installRoot string, env map[string]string) RuntimeHostSettings {
	l := RuntimeHostLayers(payloadRoot, installRoot, env)
	host := l.GetOr(KeyRuntimeHost, string(HostLegacy))
	var candidates []string
	for _, v := range l.All(KeyGodotProject) {
		candidates = append(candidates, v.Value)
	}
	return RuntimeHostSettings{
		Host:              ParseRuntimeHost(host.Value),
		GodotExecutable:   l.GetOr(KeyGodotExecutable, DefaultGodotExecutable).Value,
		GodotProject:      l.GetOr(KeyGodotProject, DefaultGodotProject).Value,
		Source:            host.Source,
		ProjectCandidates: candidates,
	}
}

// ParseRuntimeHost maps anything other than "godot" to the legacy host.
func ParseRuntimeHost(s string) RuntimeHost {
	if strings.EqualFold(strings.TrimSpace(s), string(HostGodot)) {
		return HostGodot
	}
	return HostLegacy
}
