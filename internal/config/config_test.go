package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "timelock.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.APIPort)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "30s", cfg.Usage.TickInterval)
	assert.Equal(t, "120s", cfg.Usage.PowerSaveTickInterval)
	assert.Equal(t, "00:00", cfg.Usage.DailyResetTime)
	assert.Equal(t, 30, cfg.Usage.RetentionDays)
	assert.Equal(t, 7, cfg.Usage.PurgeDays)
	assert.Equal(t, "500ms", cfg.Enforcement.Debounce)
	assert.Equal(t, "2s", cfg.Enforcement.Cooldown)
	assert.Equal(t, "5s", cfg.Enforcement.Countdown)
	assert.True(t, cfg.Enforcement.OverlayEnabled)
	assert.Equal(t, 512, cfg.Notifications.DedupSize)
	assert.Empty(t, cfg.Policy.RegoDir)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
server:
  api_port: 9000
storage:
  type: redis
  redis:
    host: redis.local
usage:
  daily_reset_time: "04:30"
`)
	t.Setenv("TIMELOCK_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.APIPort)
	assert.Equal(t, "redis", cfg.Storage.Type)
	assert.Equal(t, "redis.local", cfg.Storage.Redis.Host)
	assert.Equal(t, 6379, cfg.Storage.Redis.Port)
	assert.Equal(t, "04:30", cfg.Usage.DailyResetTime)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad port", "server:\n  api_port: 70000\n"},
		{"bad storage type", "storage:\n  type: bolt\n"},
		{"bad duration", "enforcement:\n  cooldown: soon\n"},
		{"bad reset time", "usage:\n  daily_reset_time: \"25:00\"\n"},
		{"bad retention", "usage:\n  retention_days: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("07:05")
	require.NoError(t, err)
	assert.Equal(t, 7, h)
	assert.Equal(t, 5, m)

	_, _, err = ParseClock("7h")
	assert.Error(t, err)
	_, _, err = ParseClock("12:60")
	assert.Error(t, err)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 80*time.Millisecond, Duration("80ms", time.Second))
	assert.Equal(t, time.Second, Duration("", time.Second))
}

func TestWatcher_ReloadNotifiesAndRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server:\n  api_port: 9000\n")

	initial, err := Load(path)
	require.NoError(t, err)

	w := NewWatcher(path, initial, zerolog.Nop())
	ch := make(chan *Config, 1)
	w.Subscribe(ch)

	writeConfig(t, dir, "server:\n  api_port: 9100\n")
	require.NoError(t, w.Reload())
	assert.Equal(t, 9100, w.Current().Server.APIPort)

	select {
	case cfg := <-ch:
		assert.Equal(t, 9100, cfg.Server.APIPort)
	default:
		t.Fatal("Expected listener to receive reloaded config")
	}

	writeConfig(t, dir, "server:\n  api_port: -1\n")
	assert.Error(t, w.Reload())
	assert.Equal(t, 9100, w.Current().Server.APIPort)
}

func TestWatcher_FileChangeTriggersReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server:\n  api_port: 9000\n")

	initial, err := Load(path)
	require.NoError(t, err)

	w := NewWatcher(path, initial, zerolog.Nop())
	w.debounce = 10 * time.Millisecond
	ch := make(chan *Config, 1)
	w.Subscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the file
	time.Sleep(50 * time.Millisecond)
	writeConfig(t, dir, "server:\n  api_port: 9200\n")

	select {
	case cfg := <-ch:
		assert.Equal(t, 9200, cfg.Server.APIPort)
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}

	cancel()
	require.NoError(t, <-done)
}
