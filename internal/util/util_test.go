package util

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanOldLogs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"partybeacon_2026-01-01.log",
		"partybeacon_2026-01-03.log",
		"partybeacon_2026-01-02.log",
		"other.log",
		"partybeacon_notes.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	removed := cleanOldLogs(dir, 2)
	assert.Equal(t, []string{"partybeacon_2026-01-01.log"}, removed)
	assert.NoFileExists(t, filepath.Join(dir, "partybeacon_2026-01-01.log"))
	assert.FileExists(t, filepath.Join(dir, "partybeacon_2026-01-03.log"))
	assert.FileExists(t, filepath.Join(dir, "other.log"))

	assert.Nil(t, cleanOldLogs(dir, 0))
}

func TestInitLogger(t *testing.T) {
	cfg := DefaultLogConfig()
	cfg.Directory = filepath.Join(t.TempDir(), "logs")
	cfg.Console = false
	cfg.Level = "bogus"

	closer, err := InitLogger(cfg)
	require.NoError(t, err)
	defer closer.Close()

	entries, err := os.ReadDir(cfg.Directory)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), logFilePrefix)
}

func TestGetSystemInfo(t *testing.T) {
	info := GetSystemInfo()
	assert.Equal(t, runtime.GOARCH, info.Architecture)
	assert.Equal(t, runtime.NumCPU(), info.CPUThreads)
	assert.NotEmpty(t, info.LocalIP)
}

func TestEnsureSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "tls", "cert.pem")
	keyFile := filepath.Join(dir, "tls", "key.pem")

	generated, err := EnsureSelfSignedCert(certFile, keyFile, "beacon.example", "10.1.2.3")
	require.NoError(t, err)
	assert.True(t, generated)

	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(pair.Certificate[0])
	require.NoError(t, err)
	assert.NoError(t, cert.VerifyHostname("localhost"))
	assert.NoError(t, cert.VerifyHostname("beacon.example"))
	assert.NoError(t, cert.VerifyHostname("10.1.2.3"))

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	generated, err = EnsureSelfSignedCert(certFile, keyFile)
	require.NoError(t, err)
	assert.False(t, generated, "existing files are kept")
}
