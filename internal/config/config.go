// Package config handles configuration loading and validation for logkeeper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/logkeeper/logkeeper/pkg/bytesize"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Defaults for a recorder with a single data partition.
const (
	DefaultInternalRoot   = "/data/media/0/realdata"
	DefaultMountPoint     = "/data/external"
	DefaultLayout         = "media/0/realdata"
	DefaultMinFreePercent = 10
	DefaultMinFreeBytes   = 5 * bytesize.GB
	DefaultActionDelay    = "100ms"
	DefaultIdleDelay      = "30s"
	DefaultPollInterval   = "30s"
	DefaultLockSuffix     = ".lock"
	DefaultPreserveBudget = 5
	DefaultFSType         = "ext4"
)

// DefaultLowPriority lists entries deleted only after every ordinary segment.
var DefaultLowPriority = []string{"boot", "crash"}

// PathsConfig holds the internal storage root.
type PathsConfig struct {
	InternalRoot string `yaml:"internal_root"`
}

// EvictionConfig holds the thresholds and pacing of the eviction engine.
type EvictionConfig struct {
	MinFreePercent float64       `yaml:"min_free_percent"` // Out of space below this percentage
	MinFreeBytes   bytesize.Size `yaml:"min_free_bytes"`   // Out of space below this many bytes, e.g. "5Gi"
	ActionDelay    string        `yaml:"action_delay"`     // Pause after each delete or move
	IdleDelay      string        `yaml:"idle_delay"`       // Pause when there is enough space
	LowPriority    []string      `yaml:"low_priority"`     // Names evicted after ordinary segments
	LockSuffix     string        `yaml:"lock_suffix"`      // Marker files that pin a directory
}

// PreserveConfig holds the preservation budget.
type PreserveConfig struct {
	Budget *int `yaml:"budget"` // Number of most recent flagged segments honored (default: 5, 0 disables)
}

// ExternalConfig holds configuration for removable storage.
type ExternalConfig struct {
	Enabled      *bool  `yaml:"enabled"`       // Run the volume manager (default: true)
	MountPoint   string `yaml:"mount_point"`   // Where the removable partition is mounted
	Layout       string `yaml:"layout"`        // Data directory inside the volume; its presence marks an initialized volume
	PollInterval string `yaml:"poll_interval"` // How often the mount is rechecked
	FSType       string `yaml:"fs_type"`       // Filesystem created on first use
}

// MetricsConfig holds configuration for the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // e.g. "127.0.0.1:9464"; empty disables the endpoint
}

// Config is the logkeeper daemon configuration.
type Config struct {
	Name     string         `yaml:"name"` // Device name used as a metric label
	LogLevel string         `yaml:"log_level"`
	Paths    PathsConfig    `yaml:"paths"`
	Eviction EvictionConfig `yaml:"eviction"`
	Preserve PreserveConfig `yaml:"preserve"`
	External ExternalConfig `yaml:"external"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		if host, err := os.Hostname(); err == nil {
			c.Name = host
		} else {
			c.Name = "logkeeper"
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Paths.InternalRoot == "" {
		c.Paths.InternalRoot = DefaultInternalRoot
	}
	c.Paths.InternalRoot = expandHome(c.Paths.InternalRoot)

	if c.Eviction.MinFreePercent == 0 {
		c.Eviction.MinFreePercent = DefaultMinFreePercent
	}
	if c.Eviction.MinFreeBytes == 0 {
		c.Eviction.MinFreeBytes = bytesize.Size(DefaultMinFreeBytes)
	}
	if c.Eviction.ActionDelay == "" {
		c.Eviction.ActionDelay = DefaultActionDelay
	}
	if c.Eviction.IdleDelay == "" {
		c.Eviction.IdleDelay = DefaultIdleDelay
	}
	if c.Eviction.LowPriority == nil {
		c.Eviction.LowPriority = append([]string(nil), DefaultLowPriority...)
	}
	if c.Eviction.LockSuffix == "" {
		c.Eviction.LockSuffix = DefaultLockSuffix
	}

	if c.Preserve.Budget == nil {
		budget := DefaultPreserveBudget
		c.Preserve.Budget = &budget
	}

	// External storage enabled by default
	if c.External.Enabled == nil {
		enabled := true
		c.External.Enabled = &enabled
	}
	if c.External.MountPoint == "" {
		c.External.MountPoint = DefaultMountPoint
	}
	if c.External.Layout == "" {
		c.External.Layout = DefaultLayout
	}
	if c.External.PollInterval == "" {
		c.External.PollInterval = DefaultPollInterval
	}
	if c.External.FSType == "" {
		c.External.FSType = DefaultFSType
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if !filepath.IsAbs(c.Paths.InternalRoot) {
		return fmt.Errorf("paths.internal_root must be absolute")
	}
	if c.Eviction.MinFreePercent <= 0 || c.Eviction.MinFreePercent >= 100 {
		return fmt.Errorf("eviction.min_free_percent must be between 0 and 100")
	}
	if c.Eviction.MinFreeBytes < 0 {
		return fmt.Errorf("eviction.min_free_bytes must not be negative")
	}
	for field, v := range map[string]string{
		"eviction.action_delay":  c.Eviction.ActionDelay,
		"eviction.idle_delay":    c.Eviction.IdleDelay,
		"external.poll_interval": c.External.PollInterval,
	} {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", field, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", field)
		}
	}
	if c.PreserveBudget() < 0 {
		return fmt.Errorf("preserve.budget must not be negative")
	}
	if !filepath.IsAbs(c.External.MountPoint) {
		return fmt.Errorf("external.mount_point must be absolute")
	}
	if filepath.IsAbs(c.External.Layout) || strings.HasPrefix(filepath.Clean(c.External.Layout), "..") {
		return fmt.Errorf("external.layout must be relative to the mount point")
	}
	if isWithin(c.Paths.InternalRoot, c.External.MountPoint) || isWithin(c.External.MountPoint, c.Paths.InternalRoot) {
		return fmt.Errorf("paths.internal_root and external.mount_point must not overlap")
	}
	return nil
}

// ExternalEnabled reports whether the volume manager should run.
func (c *Config) ExternalEnabled() bool {
	return c.External.Enabled == nil || *c.External.Enabled
}

// PreserveBudget returns how many flagged segments are honored.
func (c *Config) PreserveBudget() int {
	if c.Preserve.Budget == nil {
		return DefaultPreserveBudget
	}
	return *c.Preserve.Budget
}

// ExternalRoot returns the directory segments are migrated into.
func (c *Config) ExternalRoot() string {
	return filepath.Join(c.External.MountPoint, c.External.Layout)
}

// ActionDelay returns the pause after each delete or move.
func (c *Config) ActionDelay() time.Duration {
	return mustDuration(c.Eviction.ActionDelay, 100*time.Millisecond)
}

// IdleDelay returns the pause while there is enough space.
func (c *Config) IdleDelay() time.Duration {
	return mustDuration(c.Eviction.IdleDelay, 30*time.Second)
}

// PollInterval returns how often the volume manager rechecks the mount.
func (c *Config) PollInterval() time.Duration {
	return mustDuration(c.External.PollInterval, 30*time.Second)
}

// MinFreeRatio returns the free-space threshold as a fraction.
func (c *Config) MinFreeRatio() float64 {
	return c.Eviction.MinFreePercent / 100
}

// ApplyLogLevel sets the global zerolog level. Returns false if level is not recognized.
func ApplyLogLevel(level string) bool {
	if level == "" {
		return false
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return false
	}
	zerolog.SetGlobalLevel(parsed)
	return true
}

func mustDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// isWithin reports whether path is dir or below it.
func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// expandHome expands a leading "~/" to the user's home directory.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}
