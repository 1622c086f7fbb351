package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint64(0x100001DEADBEEF), cfg.MasterServerID)
	assert.Equal(t, ":47584", cfg.ListenAddr)
}

func TestValidateRejectsZeroTimeouts(t *testing.T) {
	cfg := Default()
	cfg.PeerTimeout = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "not-a-level"
	assert.Error(t, cfg.Validate())
}

func TestLoaderReadsFileOverDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nlobby_query_limit: 25\n"), 0o644))

	l, err := NewLoader(path)
	require.NoError(t, err)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 25, cfg.LobbyQueryLimit)
	// Untouched keys keep their defaults.
	assert.Equal(t, ":47584", cfg.ListenAddr)
}

func TestLoaderEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o644))

	t.Setenv("GMS_LOG_LEVEL", "warn")

	l, err := NewLoader(path)
	require.NoError(t, err)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}
