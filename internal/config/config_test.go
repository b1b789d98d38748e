package config

import (
	"testing"
	"time"

	"github.com/logkeeper/logkeeper/pkg/bytesize"
	"github.com/logkeeper/logkeeper/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	content := `
name: "car-01"
log_level: debug
paths:
  internal_root: /data/media/0/realdata
eviction:
  min_free_percent: 15
  min_free_bytes: 2Gi
  action_delay: 250ms
  idle_delay: 1m
  low_priority: [boot, crash, swaglog]
  lock_suffix: .busy
preserve:
  budget: 3
external:
  enabled: false
  mount_point: /data_external
  layout: logs
  poll_interval: 10s
metrics:
  listen: "127.0.0.1:9464"
`
	path := testutil.TempFile(t, dir, "logkeeper.yaml", content)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "car-01", cfg.Name)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 0.15, cfg.MinFreeRatio())
	assert.Equal(t, 2*bytesize.GB, cfg.Eviction.MinFreeBytes.Bytes())
	assert.Equal(t, 250*time.Millisecond, cfg.ActionDelay())
	assert.Equal(t, time.Minute, cfg.IdleDelay())
	assert.Equal(t, []string{"boot", "crash", "swaglog"}, cfg.Eviction.LowPriority)
	assert.Equal(t, ".busy", cfg.Eviction.LockSuffix)
	assert.Equal(t, 3, cfg.PreserveBudget())
	assert.False(t, cfg.ExternalEnabled())
	assert.Equal(t, "/data_external/logs", cfg.ExternalRoot())
	assert.Equal(t, 10*time.Second, cfg.PollInterval())
	assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.Listen)
}

func TestLoad_Defaults(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	path := testutil.TempFile(t, dir, "logkeeper.yaml", "name: dev\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultInternalRoot, cfg.Paths.InternalRoot)
	assert.Equal(t, 0.10, cfg.MinFreeRatio())
	assert.Equal(t, 5*bytesize.GB, cfg.Eviction.MinFreeBytes.Bytes())
	assert.Equal(t, 100*time.Millisecond, cfg.ActionDelay())
	assert.Equal(t, 30*time.Second, cfg.IdleDelay())
	assert.Equal(t, []string{"boot", "crash"}, cfg.Eviction.LowPriority)
	assert.Equal(t, ".lock", cfg.Eviction.LockSuffix)
	assert.Equal(t, 5, cfg.PreserveBudget())
	assert.True(t, cfg.ExternalEnabled())
	assert.Equal(t, "/data/external/media/0/realdata", cfg.ExternalRoot())
	assert.Equal(t, "ext4", cfg.External.FSType)
	assert.Empty(t, cfg.Metrics.Listen)
}

func TestLoad_ZeroPreserveBudget(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	path := testutil.TempFile(t, dir, "logkeeper.yaml", "preserve:\n  budget: 0\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0, cfg.PreserveBudget())
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.NotEmpty(t, cfg.Name)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	path := testutil.TempFile(t, dir, "logkeeper.yaml", "paths: [invalid yaml\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_InvalidSize(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	path := testutil.TempFile(t, dir, "logkeeper.yaml", "eviction:\n  min_free_bytes: plenty\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative internal root", func(c *Config) { c.Paths.InternalRoot = "data" }},
		{"percent too high", func(c *Config) { c.Eviction.MinFreePercent = 100 }},
		{"negative percent", func(c *Config) { c.Eviction.MinFreePercent = -1 }},
		{"bad action delay", func(c *Config) { c.Eviction.ActionDelay = "soon" }},
		{"negative idle delay", func(c *Config) { c.Eviction.IdleDelay = "-1s" }},
		{"bad poll interval", func(c *Config) { c.External.PollInterval = "often" }},
		{"relative mount point", func(c *Config) { c.External.MountPoint = "mnt" }},
		{"absolute layout", func(c *Config) { c.External.Layout = "/media" }},
		{"escaping layout", func(c *Config) { c.External.Layout = "../media" }},
		{"mount inside internal", func(c *Config) { c.External.MountPoint = "/data/media/0/realdata/ext" }},
		{"internal inside mount", func(c *Config) { c.External.MountPoint = "/data" }},
		{"negative budget", func(c *Config) { n := -1; c.Preserve.Budget = &n }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyLogLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(prev)

	assert.False(t, ApplyLogLevel(""))
	assert.False(t, ApplyLogLevel("loud"))
	assert.True(t, ApplyLogLevel("warn"))
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}
