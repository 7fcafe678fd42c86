package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.MonitorURL)
	assert.Equal(t, ":9188", cfg.Listen)
	assert.Empty(t, cfg.Username)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.EqualValues(t, 10, cfg.BootAttempts)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.NoStream)
}

func TestLoadConfigFlagsBeatEnv(t *testing.T) {
	t.Setenv("SIPMON_MONITOR_URL", "http://from-env:1")
	t.Setenv("SIPMON_USERNAME", "ops")
	t.Setenv("SIPMON_LOG_LEVEL", "debug")

	cfg, err := loadConfig([]string{
		"--monitor-url", "http://from-flag:2",
		"--poll-interval", "5s",
		"--no-stream",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://from-flag:2", cfg.MonitorURL)
	assert.Equal(t, "ops", cfg.Username)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.True(t, cfg.NoStream)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sipmon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"monitor_url: http://from-file:3\nusername: admin\npoll_interval: 45s\n"), 0o644))

	cfg, err := loadConfig([]string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, "http://from-file:3", cfg.MonitorURL)
	assert.Equal(t, "admin", cfg.Username)
	assert.Equal(t, 45*time.Second, cfg.PollInterval)
	assert.Equal(t, ":9188", cfg.Listen)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := loadConfig([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	_, err := loadConfig([]string{"--log-level", "verbose"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log_level")

	_, err = loadConfig([]string{"--monitor-url", ""})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitor_url")
}

func TestSlogLevel(t *testing.T) {
	for name, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	} {
		assert.Equal(t, want, config{LogLevel: name}.slogLevel(), "level %q", name)
	}
}