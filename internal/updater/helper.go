package updater

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/loykin/gokrun/internal/layout"
	"github.com/loykin/gokrun/internal/resolve"
	"github.com/loykin/gokrun/internal/settings"
)

const (
	RepoFileName  = "update_repo.txt"
	HelperLogName = "velopack.log"
)

// DefaultHelperTokens are tried against the layout's base directories.
var DefaultHelperTokens = []string{"UpdateHelper.exe", "./UpdateHelper"}

// FindHelper locates the update helper. Path-like tokens must exist; a bare
// command name must be found on the search path.
func FindHelper(tokens []string, l layout.Layout) (string, error) {
	if len(resolve.Dedupe(tokens)) == 0 {
		tokens = DefaultHelperTokens
	}
	p, err := resolve.Executable(tokens, l.BaseDirs(), nil)
	if err != nil {
		return "", ErrHelperNotFound
	}
	if filepath.IsAbs(p) {
		return p, nil
	}
	found, err := exec.LookPath(p)
	if err != nil {
		return "", ErrHelperNotFound
	}
	return found, nil
}

// HelperArgs builds the helper's argv after the executable.
func HelperArgs(l layout.Layout, pid int, restartArgs []string) []string {
	if pid <= 0 {
		pid = os.Getpid()
	}
	args := []string{
		"--repo-file", filepath.Join(l.Payload, RepoFileName),
		"--token-file", filepath.Join(l.Payload, settings.TokenFileName),
		"--log-file", filepath.Join(l.Logs(), HelperLogName),
		"--waitpid", strconv.Itoa(pid),
	}
	if len(restartArgs) > 0 {
		args = append(args, "--restart-args", strings.Join(restartArgs, " "))
	}
	return args
}
