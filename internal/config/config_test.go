package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
database: /var/lib/resgraph/graph.db
log_level: debug
heartbeat: 250ms
clock:
  rate: 60
  start: "2024-01-01T00:00:00Z"
executor:
  workers: 0
security:
  policy: policy.yaml
  cache_ttl: 30s
tracing:
  enabled: true
  exporter: none
`)
	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/resgraph/graph.db", cfg.Database)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 250*time.Millisecond, cfg.Heartbeat)
	assert.Equal(t, 60.0, cfg.Clock.Rate)
	assert.Zero(t, cfg.Executor.Workers)
	assert.Equal(t, "policy.yaml", cfg.Security.Policy)
	assert.True(t, cfg.Security.Watch, "unset keys keep defaults")
	assert.Equal(t, 30*time.Second, cfg.Security.CacheTTL)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "none", cfg.Tracing.Exporter)
	assert.Equal(t, "resgraph", cfg.Tracing.ServiceName)

	start, ok := cfg.ClockStart()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), start)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "clock:\n  rate: 60\n")
	t.Setenv("RESGRAPH_CLOCK_RATE", "2.5")
	t.Setenv("RESGRAPH_DATABASE", "env.db")
	t.Setenv("RESGRAPH_EXECUTOR_WORKERS", "8")

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, 2.5, cfg.Clock.Rate)
	assert.Equal(t, "env.db", cfg.Database)
	assert.Equal(t, 8, cfg.Executor.Workers)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"log level": "log_level: chatty\n",
		"heartbeat": "heartbeat: 0s\n",
		"rate":      "clock:\n  rate: -1\n",
		"start":     "clock:\n  start: yesterday\n",
		"workers":   "executor:\n  workers: -2\n",
		"bad yaml":  "clock: [\n",
		"cache ttl": "security:\n  cache_ttl: -1s\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(NewViper(), writeConfig(t, doc))
			assert.Error(t, err)
		})
	}

	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "explicit path must exist")
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
