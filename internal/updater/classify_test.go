package updater

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPriority(t *testing.T) {
	cases := []struct {
		text string
		want Hint
	}{
		{"HTTP 403 Forbidden", HintAuth},
		{"request returned 401", HintAuth},
		{"UNAUTHORIZED", HintAuth},
		{"got 404 from feed", HintNotFound},
		{"releases.json Not Found", HintNotFound},
		{"404 then 403", HintAuth},
		{"429 Too Many Requests", HintRateLimit},
		{"API Rate Limit exceeded", HintRateLimit},
		{"operation Timed Out", HintTimeout},
		{"connect timeout", HintTimeout},
		{"Failed to remove directory C:\\x", HintFilesInUse},
		{"Access is denied.", HintFilesInUse},
		{"something else broke", HintNone},
		{"", HintNone},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.text), c.text)
	}
}

func TestHintText(t *testing.T) {
	assert.Contains(t, HintAuth.Text(), "VELOPACK_TOKEN")
	assert.Equal(t, "", HintNone.Text())
	for _, h := range []Hint{HintAuth, HintNotFound, HintRateLimit, HintTimeout, HintFilesInUse} {
		assert.NotEmpty(t, h.Text(), h)
	}
}

func TestFindHelperLogOrder(t *testing.T) {
	root := t.TempDir()
	assert.Equal(t, "", FindHelperLog(root))

	require.NoError(t, os.WriteFile(filepath.Join(root, "velopack.log"), []byte("root"), 0o600))
	assert.Equal(t, filepath.Join(root, "velopack.log"), FindHelperLog(root))

	logs := filepath.Join(root, "logs")
	require.NoError(t, os.MkdirAll(logs, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(logs, "velopack.txt"), []byte("txt"), 0o600))
	assert.Equal(t, filepath.Join(logs, "velopack.txt"), FindHelperLog(root))
}

func TestReadTail(t *testing.T) {
	p := filepath.Join(t.TempDir(), "v.log")
	content := strings.Repeat("a", 5000) + "TAIL"
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))

	tail := ReadTail(p, LogTailChars)
	assert.Len(t, tail, LogTailChars)
	assert.True(t, strings.HasSuffix(tail, "TAIL"))

	assert.Equal(t, "short", func() string {
		q := filepath.Join(t.TempDir(), "s.log")
		require.NoError(t, os.WriteFile(q, []byte("short"), 0o600))
		return ReadTail(q, LogTailChars)
	}())
	assert.Equal(t, "", ReadTail(filepath.Join(t.TempDir(), "missing"), 10))
}

func TestFailureMessage(t *testing.T) {
	msg := failureMessage(1, HintAuth, "/x/logs/velopack.log", "/x")
	assert.Equal(t, "Update failed (exit 1). Authentication failed. Check VELOPACK_TOKEN. See Velopack log for details.", msg)

	msg = failureMessage(5, HintNone, "/x/logs/velopack.log", "/x")
	assert.Equal(t, "Update failed (exit 5). See Velopack log for details.", msg)

	root := t.TempDir()
	msg = failureMessage(7, HintNone, "", root)
	assert.Equal(t, "Update failed (exit 7). No Velopack log found in "+root+".", msg)
}
