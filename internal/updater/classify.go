package updater

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Hint is a best-effort explanation of a failed update run.
type Hint string

const (
	HintNone       Hint = ""
	HintAuth       Hint = "auth"
	HintNotFound   Hint = "not_found"
	HintRateLimit  Hint = "rate_limited"
	HintTimeout    Hint = "timeout"
	HintFilesInUse Hint = "files_in_use"
)

// Text is the user-facing sentence for h.
func (h Hint) Text() string {
	switch h {
	case HintAuth:
		return "Authentication failed. Check VELOPACK_TOKEN."
	case HintNotFound:
		return "Release feed not found."
	case HintRateLimit:
		return "Rate limited by GitHub."
	case HintTimeout:
		return "Network timeout."
	case HintFilesInUse:
		return "Files are in use. Close the launcher/game and retry."
	default:
		return ""
	}
}

// hintRules are evaluated in order; the first rule with a matching needle wins.
var hintRules = []struct {
	hint    Hint
	needles []string
}{
	{HintAuth, []string{"401", "403", "unauthorized", "forbidden"}},
	{HintNotFound, []string{"404", "not found"}},
	{HintRateLimit, []string{"429", "rate limit"}},
	{HintTimeout, []string{"timeout", "timed out"}},
	{HintFilesInUse, []string{"failed to remove directory", "access is denied"}},
}

// Classify scans text case-insensitively for known failure signatures.
func Classify(text string) Hint {
	lower := strings.ToLower(text)
	for _, r := range hintRules {
		for _, n := range r.needles {
			if strings.Contains(lower, n) {
				return r.hint
			}
		}
	}
	return HintNone
}

// LogTailChars bounds how much of the helper log is scanned.
const LogTailChars = 4000

var helperLogNames = []string{"Velopack.log", "velopack.log", "velopack.txt"}

// FindHelperLog returns the first existing helper log under <install>/logs or
// <install>, or "" when there is none.
func FindHelperLog(installRoot string) string {
	for _, dir := range []string{filepath.Join(installRoot, "logs"), installRoot} {
		for _, name := range helperLogNames {
			p := filepath.Join(dir, name)
			if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
				return p
			}
		}
	}
	return ""
}

// ReadTail returns the last n bytes of the file at path. Read errors yield "".
func ReadTail(path string, n int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil {
		return ""
	}
	if off := fi.Size() - int64(n); off > 0 {
		if _, err := f.Seek(off, io.SeekStart); err != nil {
			return ""
		}
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return ""
	}
	return string(b)
}

// failureMessage builds the reported text for a non-zero, non-two exit.
func failureMessage(exitCode int, hint Hint, logPath, installRoot string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Update failed (exit %d).", exitCode)
	if t := hint.Text(); t != "" {
		b.WriteString(" ")
		b.WriteString(t)
	}
	if logPath == "" {
		abs, err := filepath.Abs(installRoot)
		if err != nil {
			abs = installRoot
		}
		fmt.Fprintf(&b, " No Velopack log found in %s.", abs)
	} else {
		b.WriteString(" See Velopack log for details.")
	}
	return b.String()
}
