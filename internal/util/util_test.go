package util

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanOldLogsKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	for day := 1; day <= 5; day++ {
		name := fmt.Sprintf("%s2024-01-0%d.log", logFilePrefix, day)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.log"), nil, 0644))

	assert.Equal(t, 3, cleanOldLogs(dir, 2))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var left []string
	for _, e := range entries {
		left = append(left, e.Name())
	}
	assert.ElementsMatch(t, []string{
		logFilePrefix + "2024-01-04.log",
		logFilePrefix + "2024-01-05.log",
		"other.log",
	}, left)
}

func TestInitLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	closer, err := InitLogger(LogConfig{Level: "debug", Directory: dir, MaxBackups: 3})
	require.NoError(t, err)
	defer closer.Close()

	matches, err := filepath.Glob(filepath.Join(dir, logFilePrefix+"*.log"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestGetUsageReportsRuntime(t *testing.T) {
	u := GetUsage(t.TempDir())
	assert.Positive(t, u.Goroutines)
	assert.NotEmpty(t, u.Uptime)
	assert.NotEmpty(t, GetLocalIP())
}

func TestLoadOrCreateCertificate(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "tls", "admin.crt")
	keyFile := filepath.Join(dir, "tls", "admin.key")

	first, err := LoadOrCreateCertificate(certFile, keyFile)
	require.NoError(t, err)
	require.NotEmpty(t, first.Certificate)

	// Second call loads the files written by the first.
	second, err := LoadOrCreateCertificate(certFile, keyFile)
	require.NoError(t, err)
	assert.Equal(t, first.Certificate[0], second.Certificate[0])
}
