package settings

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// PropertiesProvider reads a line-oriented key=value or key:value file.
// Keys are case-insensitive and the first occurrence of a key wins. Lines
// starting with '#' or '!' are comments. The file is read once on first
// lookup; a missing file behaves as empty.
type PropertiesProvider struct {
	Path string

	once   sync.Once
	values map[string]string
}

func NewPropertiesProvider(path string) *PropertiesProvider {
	return &PropertiesProvider{Path: path}
}

func (p *PropertiesProvider) Name() string { return "properties:" + p.Path }

func (p *PropertiesProvider) Lookup(key string) (string, bool) {
	p.once.Do(func() { p.values = readProperties(p.Path) })
	v, ok := p.values[strings.ToLower(strings.TrimSpace(key))]
	return v, ok
}

// Exists reports whether the backing file is present.
func (p *PropertiesProvider) Exists() bool {
	st, err := os.Stat(p.Path)
	return err == nil && !st.IsDir()
}

func readProperties(path string) map[string]string {
	out := make(map[string]string)
	if path == "" {
		return out
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return out
	}
	defer func() { _ = f.Close() }()
	s := bufio.NewScanner(f)
	for s.Scan() {
		k, v, ok := parsePropertyLine(s.Text())
		if !ok {
			continue
		}
		if _, seen := out[k]; seen {
			continue
		}
		out[k] = v
	}
	return out
}

// parsePropertyLine splits on the first '=' or ':', whichever comes first.
func parsePropertyLine(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return "", "", false
	}
	i := strings.IndexAny(line, "=:")
	if i <= 0 {
		return "", "", false
	}
	k := strings.ToLower(strings.TrimSpace(line[:i]))
	v := strings.TrimSpace(line[i+1:])
	if k == "" {
		return "", "", false
	}
	return k, v, true
}
