package settings

import "path/filepath"

const (
	EnvUpdateToken       = "VELOPACK_TOKEN"
	EnvUpdateGithubToken = "VELOPACK_GITHUB_TOKEN"
	KeyUpdateToken       = "update_token"
	TokenFileName        = "update_token.txt"
)

// UpdateTokenLayers resolves the update credential: env aliases first, then
// update_token.txt under the payload root and the install root.
func UpdateTokenLayers(payloadRoot, installRoot string, env map[string]string) Layers {
	layers := Layers{
		EnvProvider{Env: env, Keys: map[string][]string{
			KeyUpdateToken: {EnvUpdateToken, EnvUpdateGithubToken},
		}},
	}
	for _, root := range []string{payloadRoot, installRoot} {
		if root == "" {
			continue
		}
		layers = append(layers, FileProvider{Key: KeyUpdateToken, Path: filepath.Join(root, TokenFileName)})
	}
	return layers
}

// UpdateToken returns the credential and whether one was found. Absence is
// not an error; unauthenticated checks are attempted.
func UpdateToken(payloadRoot, installRoot string, env map[string]string) (Value, bool) {
	return UpdateTokenLayers(payloadRoot, installRoot, env).Get(KeyUpdateToken)
}
