// Package resolve decides which executable or project directory to use from
// an ordered list of configured tokens.
//
// Tokens are tried against base directories first and kept only when the
// resulting file exists. Bare command names that do not resolve are kept as
// literal commands for the OS search path and tried last.
package resolve

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no token, literal command or fallback is usable.
var ErrNotFound = errors.New("resolve: no usable candidate")

var execExtensions = []string{".exe", ".bat", ".cmd", ".com", ".sh"}

// IsPathLike reports whether token denotes a filesystem path by its shape:
// it contains a path separator, a drive-letter colon, or ends in an
// executable extension.
func IsPathLike(token string) bool {
	t := unquote(strings.TrimSpace(token))
	if strings.ContainsAny(t, `/\`) {
		return true
	}
	if len(t) >= 2 && t[1] == ':' && isLetter(t[0]) {
		return true
	}
	lower := strings.ToLower(t)
	for _, ext := range execExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Executable resolves the binary to run.
//
// The first token whose path exists (absolute as-is, relative against each
// base directory in order) is returned as a cleaned absolute path. Otherwise
// the first bare command token is returned verbatim, then the first fallback.
func Executable(tokens, baseDirs, fallbacks []string) (string, error) {
	var literal []string
	for _, tok := range Dedupe(tokens) {
		if p, ok := firstExisting(tok, baseDirs, isFile); ok {
			return p, nil
		}
		if !IsPathLike(tok) {
			literal = append(literal, tok)
		}
	}
	if len(literal) > 0 {
		return literal[0], nil
	}
	if fb := Dedupe(fallbacks); len(fb) > 0 {
		return fb[0], nil
	}
	return "", ErrNotFound
}

// ProjectDir resolves a directory that contains marker. Tokens follow the same
// absolute/relative rules as Executable but there is no bare-command phase.
func ProjectDir(tokens, baseDirs []string, marker string) (string, error) {
	hasMarker := func(dir string) bool { return isFile(filepath.Join(dir, marker)) }
	for _, tok := range Dedupe(tokens) {
		if p, ok := firstExisting(tok, baseDirs, hasMarker); ok {
			return p, nil
		}
	}
	return "", ErrNotFound
}

// Dedupe trims and unquotes tokens, drops blanks and keeps first occurrences.
func Dedupe(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		t = unquote(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func firstExisting(tok string, baseDirs []string, exists func(string) bool) (string, bool) {
	if filepath.IsAbs(tok) {
		p := normalize(tok)
		return p, exists(p)
	}
	for _, dir := range baseDirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		p := normalize(filepath.Join(dir, tok))
		if exists(p) {
			return p, true
		}
	}
	return "", false
}

func normalize(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

func isFile(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

func unquote(s string) string {
	for len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
			continue
		}
		break
	}
	return s
}

func isLetter(b byte) bool { return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') }
