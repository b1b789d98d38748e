// Package volume detects, initializes and mounts the removable volume that
// recorded segments are offloaded to.
//
// The manager polls. When nothing is mounted at the mount point it looks for
// exactly one attached USB or NVMe disk, mounts it, and initializes it only
// when the expected directory layout is missing. Any failure is logged and
// retried on the next poll.
package volume

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/logkeeper/logkeeper/internal/config"
	"github.com/logkeeper/logkeeper/internal/metrics"
	"github.com/logkeeper/logkeeper/internal/mounttable"
	"github.com/rs/zerolog/log"
)

// State is the manager's view of the external volume.
type State int

const (
	NoDevice State = iota
	Mounted
	Formatting
	Mounting
)

// States lists every state name, for metrics.
var States = []string{
	NoDevice.String(),
	Mounted.String(),
	Formatting.String(),
	Mounting.String(),
}

func (s State) String() string {
	switch s {
	case NoDevice:
		return "no_device"
	case Mounted:
		return "mounted"
	case Formatting:
		return "formatting"
	case Mounting:
		return "mounting"
	default:
		return "unknown"
	}
}

// Options configures a Manager.
type Options struct {
	MountPoint   string
	Layout       string
	FSType       string
	PollInterval time.Duration
	// DeviceDir is watched for new disk nodes so a plugged-in drive is
	// picked up before the next poll. Empty disables the watch.
	DeviceDir string
}

// OptionsFromConfig builds manager options from the daemon configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MountPoint:   cfg.External.MountPoint,
		Layout:       cfg.External.Layout,
		FSType:       cfg.External.FSType,
		PollInterval: cfg.PollInterval(),
		DeviceDir:    DefaultDeviceDir,
	}
}

// Manager keeps the external volume mounted.
type Manager struct {
	opts    Options
	ops     Ops
	metrics *metrics.KeeperMetrics
}

// NewManager creates a manager using the real system operations. m may be nil.
func NewManager(opts Options, m *metrics.KeeperMetrics) *Manager {
	return newManager(opts, SystemOps(), m)
}

func newManager(opts Options, ops Ops, m *metrics.KeeperMetrics) *Manager {
	if opts.FSType == "" {
		opts.FSType = config.DefaultFSType
	}
	return &Manager{opts: opts, ops: ops, metrics: m}
}

// Root returns the directory segments are written to on the volume.
func (m *Manager) Root() string {
	return filepath.Join(m.opts.MountPoint, m.opts.Layout)
}

// Run polls until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	log.Info().
		Str("mount_point", m.opts.MountPoint).
		Str("layout", m.opts.Layout).
		Msg("volume manager started")

	var wake <-chan struct{}
	if m.opts.DeviceDir != "" {
		w, err := watchDevices(ctx, m.opts.DeviceDir)
		if err != nil {
			log.Warn().Err(err).Msg("hotplug watch unavailable, polling only")
		} else {
			wake = w
		}
	}

	for ctx.Err() == nil {
		m.safeTick(ctx)

		timer := time.NewTimer(m.opts.PollInterval)
		select {
		case <-ctx.Done():
		case <-timer.C:
		case _, ok := <-wake:
			if !ok {
				wake = nil
			}
		}
		timer.Stop()
	}

	log.Info().Msg("volume manager stopped")
	return nil
}

func (m *Manager) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("volume tick panicked")
		}
	}()

	state, err := m.Tick(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoCandidate):
		log.Debug().Msg("no external storage device detected")
	default:
		log.Warn().Err(err).Str("state", state.String()).Msg("external volume not ready")
	}
}

// Tick runs one pass and returns the resulting state. The error explains why
// the volume is not mounted; the next tick retries.
func (m *Manager) Tick(ctx context.Context) (State, error) {
	state, err := m.tick(ctx)
	m.metrics.RecordVolumeState(States, state.String())
	return state, err
}

func (m *Manager) tick(ctx context.Context) (State, error) {
	mounted, err := m.checkMounted()
	if err != nil {
		return NoDevice, err
	}
	if mounted {
		return Mounted, nil
	}

	cands, err := Detect(ctx, m.ops, m.opts.MountPoint)
	if err != nil {
		m.metrics.RecordVolumeError("detect")
		return NoDevice, fmt.Errorf("list block devices: %w", err)
	}
	switch len(cands) {
	case 0:
		return NoDevice, ErrNoCandidate
	case 1:
	default:
		devices := make([]string, len(cands))
		for i, c := range cands {
			devices[i] = c.Device
		}
		log.Warn().Strs("devices", devices).Msg("multiple external storage devices attached, connect only one")
		m.metrics.RecordVolumeEvent("ambiguous")
		return NoDevice, ErrAmbiguousDevice
	}

	return m.attach(ctx, cands[0])
}

// checkMounted reports whether the mount point is mounted and readable. A
// mount that is listed but unreadable belongs to a device that was pulled; it
// is force-unmounted and reported as an error so the next tick starts clean.
func (m *Manager) checkMounted() (bool, error) {
	entries, err := m.ops.ListMounts()
	if err != nil {
		m.metrics.RecordVolumeError("list_mounts")
		return false, err
	}
	if !mounttable.Contains(entries, m.opts.MountPoint) {
		return false, nil
	}
	if mounttable.Readable(m.opts.MountPoint) {
		return true, nil
	}

	log.Warn().Str("mount_point", m.opts.MountPoint).Msg("mount point unreadable, forcing unmount")
	m.metrics.RecordVolumeEvent("forced_unmount")
	if err := m.ops.Unmount(m.opts.MountPoint, true); err != nil {
		log.Warn().Err(err).Msg("forced unmount failed")
		m.metrics.RecordVolumeError("unmount")
	}
	return false, fmt.Errorf("stale mount at %s", m.opts.MountPoint)
}

// attach mounts c, initializing it first if it does not carry the layout.
// A failed mount leads to initialization only when the node exists and no
// filesystem was found on it.
func (m *Manager) attach(ctx context.Context, c Candidate) (State, error) {
	log.Info().Str("device", c.Device).Str("partition", c.Partition).Str("fs_type", c.FSType).Str("model", c.Model).
		Msg("mounting external storage device")
	m.metrics.RecordVolumeState(States, Mounting.String())

	if err := os.MkdirAll(m.opts.MountPoint, 0755); err != nil {
		m.metrics.RecordVolumeError("mount")
		return Mounting, fmt.Errorf("create mount point: %w", err)
	}

	fsType := c.FSType
	if fsType == "" {
		fsType = m.opts.FSType
	}
	err := m.ops.Mount(c.Partition, m.opts.MountPoint, fsType)
	switch {
	case err == nil:
		if m.hasLayout() {
			m.metrics.RecordVolumeEvent("mount")
			log.Info().Str("root", m.Root()).Msg("external volume mounted")
			return Mounted, nil
		}
		log.Warn().Str("device", c.Device).Msg("device has no segment layout")
		if err := m.ops.Unmount(m.opts.MountPoint, false); err != nil {
			log.Debug().Err(err).Msg("unmount before format failed")
		}
	case errors.Is(err, ErrUnformatted) && c.FSType == "":
		log.Warn().Err(err).Str("device", c.Device).Msg("device has no usable filesystem")
	case errors.Is(err, ErrUnformatted):
		m.metrics.RecordVolumeError("mount")
		return Mounting, fmt.Errorf("mount %s with %s filesystem: %w", c.Partition, c.FSType, err)
	default:
		m.metrics.RecordVolumeError("mount")
		return Mounting, fmt.Errorf("mount %s: %w", c.Partition, err)
	}

	return m.initialize(ctx, c)
}

func (m *Manager) hasLayout() bool {
	info, err := os.Stat(m.Root())
	return err == nil && info.IsDir()
}

// initialize repartitions and formats c, then mounts it and creates the
// layout. It is only reached when the layout was not observed on the device.
func (m *Manager) initialize(ctx context.Context, c Candidate) (State, error) {
	m.metrics.RecordVolumeState(States, Formatting.String())
	log.Warn().Str("device", c.Device).Str("fs_type", m.opts.FSType).Msg("initializing external storage device, all data on it will be erased")

	if err := m.ops.Partition(ctx, c.Device); err != nil {
		m.metrics.RecordVolumeError("partition")
		return Formatting, fmt.Errorf("partition %s: %w", c.Device, err)
	}
	part := partitionPath(c.Device)
	if err := m.ops.Format(ctx, part, m.opts.FSType); err != nil {
		m.metrics.RecordVolumeError("format")
		return Formatting, fmt.Errorf("format %s: %w", part, err)
	}
	m.metrics.RecordVolumeEvent("format")

	if err := m.ops.Mount(part, m.opts.MountPoint, m.opts.FSType); err != nil {
		m.metrics.RecordVolumeError("mount")
		return Formatting, fmt.Errorf("mount %s: %w", part, err)
	}
	if err := os.MkdirAll(m.Root(), 0755); err != nil {
		m.metrics.RecordVolumeError("layout")
		return Formatting, fmt.Errorf("create layout: %w", err)
	}

	m.metrics.RecordVolumeEvent("mount")
	log.Info().Str("device", c.Device).Str("root", m.Root()).Msg("external volume initialized and mounted")
	return Mounted, nil
}
