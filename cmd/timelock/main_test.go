package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/johnivansn/timelock/internal/config"
	"github.com/johnivansn/timelock/internal/enforcement"
	"github.com/johnivansn/timelock/internal/storage"
	"github.com/johnivansn/timelock/internal/storage/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestParseCheckTime(t *testing.T) {
	// Wednesday
	now := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		day     string
		clock   string
		want    time.Time
		wantErr bool
	}{
		{"time only", "", "22:15", time.Date(2026, 10, 14, 22, 15, 0, 0, time.UTC), false},
		{"same day", "wed", "", time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC), false},
		{"later this week", "Saturday", "08:00", time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC), false},
		{"wraps to next week", "monday", "12:00", time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC), false},
		{"bad day", "someday", "", time.Time{}, true},
		{"bad time", "", "25:00", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCheckTime(now, tt.day, tt.clock)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zerolog.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("info"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("verbose"))
}

func TestFindUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  api_port: 8181
  grpc_port: 9000
usage:
  tick_interval: 15s
enforcment:
  debounce: 1s
`), 0o600))

	unknown, err := findUnknownKeys(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"enforcment.debounce", "server.grpc_port"}, unknown)
}

func TestDumpConfigHighlightsChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  api_port: 8181\nstorage:\n  redis:\n    password: hunter2\n"), 0o600))

	loaded := config.New(path)
	require.NoError(t, loaded.ReadInConfig())

	var buf bytes.Buffer
	dumpConfig(&buf, loaded, config.New(""))

	out := buf.String()
	assert.Contains(t, out, "[server]")
	assert.Contains(t, out, "api_port = 8181  (modified from default: 8080)")
	assert.Contains(t, out, "metrics_port = 9090\n")
	assert.Contains(t, out, "[storage.redis]")
	assert.Contains(t, out, "password = ***REDACTED***")
	assert.NotContains(t, out, "hunter2")
}

func TestEnforcementOptions(t *testing.T) {
	opts := enforcementOptions(config.EnforcementConfig{
		SelfPackage:        "com.example.timelock",
		OverlayEnabled:     true,
		Debounce:           "1s",
		Cooldown:           "bogus",
		MaxConcurrentEvals: 2,
	})

	assert.Equal(t, "com.example.timelock", opts.SelfPackage)
	assert.True(t, opts.OverlayEnabled)
	assert.Equal(t, time.Second, opts.Debounce)
	assert.Equal(t, enforcement.DefaultCooldown, opts.Cooldown)
	assert.Equal(t, enforcement.DefaultCountdown, opts.Countdown)
	assert.Equal(t, int64(2), opts.MaxEvaluations)
}

func TestOpenStorage(t *testing.T) {
	store, err := openStorage(config.StorageConfig{Type: "sqlite", Path: filepath.Join(t.TempDir(), "t.db")})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = openStorage(config.StorageConfig{Type: "bolt"})
	assert.ErrorContains(t, err, "unsupported storage type")
}

func TestPrintUsage(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Restrictions().Upsert(ctx, storage.Restriction{
		ID: "r1", PackageName: "com.example.game", AppName: "Game",
		DailyQuotaMinutes: 60, Enabled: true, LimitType: storage.LimitDaily, DailyMode: storage.DailySame,
	}))
	require.NoError(t, store.Restrictions().Upsert(ctx, storage.Restriction{
		ID: "r2", PackageName: "com.example.video", AppName: "Video",
		WeeklyQuotaMinutes: 300, Enabled: false, LimitType: storage.LimitWeekly,
	}))
	require.NoError(t, store.Usage().Upsert(ctx, storage.DailyUsage{
		PackageName: "com.example.game", Date: "2026-10-14", UsedMinutes: 75, Blocked: true,
	}))

	var buf bytes.Buffer
	require.NoError(t, printUsage(ctx, &buf, store, "2026-10-14"))

	out := buf.String()
	assert.Contains(t, out, "Usage for 2026-10-14")
	assert.Regexp(t, `com\.example\.game\s+Game\s+1h 15m\s+1h 0m\s+blocked`, out)
	assert.Regexp(t, `com\.example\.video\s+Video\s+0m\s+5h 0m/week\s+disabled`, out)
}
