package tls

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDisabled(t *testing.T) {
	cfg, err := Setup(Config{})
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestSetupAutoGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tls")
	cfg, err := Setup(Config{Enabled: true, Dir: dir, AutoGenerate: true})
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)

	for _, name := range []string{tlsCrt, tlsKey, tlsCaCrt} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
	cert, err := cfg.GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	assert.NotEmpty(t, cert.Certificate)
}

func TestSetupDirWithoutAutoGenerate(t *testing.T) {
	_, err := Setup(Config{Enabled: true, Dir: t.TempDir()})
	assert.Error(t, err)
}

func TestSetupCertFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, GenerateSelfSignedCert(CertConfig{
		CommonName:   "localhost",
		Organization: "test",
		NotAfter:     time.Now().Add(time.Hour),
		CertPath:     filepath.Join(dir, "c.pem"),
		KeyPath:      filepath.Join(dir, "k.pem"),
	}))
	cfg, err := Setup(Config{
		Enabled:    true,
		CertFile:   filepath.Join(dir, "c.pem"),
		KeyFile:    filepath.Join(dir, "k.pem"),
		MinVersion: "1.2",
	})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MaxVersion)
}

func TestSetupMissingCertFiles(t *testing.T) {
	_, err := Setup(Config{Enabled: true, CertFile: "/nope/c.pem", KeyFile: "/nope/k.pem"})
	assert.Error(t, err)
}

func TestSetupNothingConfigured(t *testing.T) {
	_, err := Setup(Config{Enabled: true})
	assert.Error(t, err)
}

func TestSetupVersionOrder(t *testing.T) {
	_, err := Setup(Config{Enabled: true, Dir: t.TempDir(), AutoGenerate: true, MinVersion: "1.3", MaxVersion: "1.2"})
	assert.Error(t, err)
}

func TestParseTLSVersion(t *testing.T) {
	v, ok := parseTLSVersion("tls1.2")
	assert.True(t, ok)
	assert.Equal(t, uint16(tls.VersionTLS12), v)
	_, ok = parseTLSVersion("ssl3")
	assert.False(t, ok)
	_, ok = parseTLSVersion("")
	assert.False(t, ok)
}
