// Package eviction keeps the internal recording root below its fill limits.
//
// Each tick probes the internal root. When it is short on space the engine
// either deletes the least valuable segment, or, when an external volume is
// live, offloads that segment to it after making room there first. A tick
// performs at most one deletion and at most one move.
package eviction

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/logkeeper/logkeeper/internal/capacity"
	"github.com/logkeeper/logkeeper/internal/config"
	"github.com/logkeeper/logkeeper/internal/metrics"
	"github.com/logkeeper/logkeeper/internal/mounttable"
	"github.com/logkeeper/logkeeper/internal/preserve"
	"github.com/logkeeper/logkeeper/internal/segment"
	"github.com/rs/zerolog/log"
)

// Root labels used in logs and metrics.
const (
	rootInternal = "internal"
	rootExternal = "external"
)

// FlagReader reports whether an internal directory carries the preserve flag.
type FlagReader interface {
	IsPreserved(dir string) bool
}

// Options configures an Engine.
type Options struct {
	InternalRoot string
	ExternalRoot string
	MountPoint   string
	// ExternalEnabled turns offloading on. When false the engine only deletes.
	ExternalEnabled bool

	Thresholds     capacity.Thresholds
	ActionDelay    time.Duration
	IdleDelay      time.Duration
	LowPriority    []string
	LockSuffix     string
	PreserveBudget int
}

// OptionsFromConfig builds engine options from the daemon configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		InternalRoot:    cfg.Paths.InternalRoot,
		ExternalRoot:    cfg.ExternalRoot(),
		MountPoint:      cfg.External.MountPoint,
		ExternalEnabled: cfg.ExternalEnabled(),
		Thresholds: capacity.Thresholds{
			MinFreeRatio: cfg.MinFreeRatio(),
			MinFreeBytes: cfg.Eviction.MinFreeBytes.Bytes(),
		},
		ActionDelay:    cfg.ActionDelay(),
		IdleDelay:      cfg.IdleDelay(),
		LowPriority:    cfg.Eviction.LowPriority,
		LockSuffix:     cfg.Eviction.LockSuffix,
		PreserveBudget: cfg.PreserveBudget(),
	}
}

// Result describes one tick.
type Result struct {
	State State
	// Deleted is the full path removed this tick, if any.
	Deleted string
	// Moved is the full internal path offloaded this tick, if any.
	Moved string
	// Wait is how long the caller should pause before the next tick.
	Wait time.Duration
}

// Engine runs the eviction loop.
type Engine struct {
	opts    Options
	flags   FlagReader
	metrics *metrics.KeeperMetrics

	probe capacity.Prober
	list  func(root string) ([]string, error)
	live  func(mountPoint, root string) bool
}

// New creates an engine that probes and lists the real filesystem. m may be nil.
func New(opts Options, flags FlagReader, m *metrics.KeeperMetrics) *Engine {
	if opts.LockSuffix == "" {
		opts.LockSuffix = config.DefaultLockSuffix
	}
	return &Engine{
		opts:    opts,
		flags:   flags,
		metrics: m,
		probe:   capacity.System,
		list:    segment.ListByCreation,
		live:    mounttable.IsLive,
	}
}

// Run ticks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	log.Info().
		Str("internal", e.opts.InternalRoot).
		Str("external", e.opts.ExternalRoot).
		Bool("offload", e.opts.ExternalEnabled).
		Msg("eviction engine started")

	for {
		if ctx.Err() != nil {
			break
		}
		res := e.safeTick(ctx)
		if !sleep(ctx, res.Wait) {
			break
		}
	}

	log.Info().Msg("eviction engine stopped")
	return nil
}

// safeTick runs one tick and turns a panic into an idle result so the loop
// keeps going.
func (e *Engine) safeTick(ctx context.Context) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("eviction tick panicked")
			res = Result{State: Idle, Wait: e.opts.IdleDelay}
		}
	}()
	return e.Tick(ctx)
}

// Tick runs one pass of the eviction policy.
func (e *Engine) Tick(ctx context.Context) Result {
	if !e.outOfSpace(rootInternal, e.opts.InternalRoot) {
		return e.finish(Result{State: Idle, Wait: e.opts.IdleDelay})
	}

	if !e.externalLive() {
		res := Result{State: DeletingInternal, Wait: e.opts.ActionDelay}
		res.Deleted = e.deleteInternal()
		return e.finish(res)
	}

	var res Result
	if e.outOfSpace(rootExternal, e.opts.ExternalRoot) {
		res.Deleted = e.deleteExternal()
		if !sleep(ctx, e.opts.ActionDelay) {
			res.State = DeletingExternal
			return res
		}
	}

	res.State = MigratingToExternal
	res.Moved = e.migrate()
	res.Wait = e.opts.ActionDelay
	return e.finish(res)
}

func (e *Engine) finish(res Result) Result {
	e.metrics.RecordEngineState(States, res.State.String())
	return res
}

func (e *Engine) outOfSpace(label, root string) bool {
	r := e.probe.Probe(root)
	e.metrics.RecordCapacity(label, r.Available, r.Ratio, r.Bytes)
	if !r.Available {
		log.Warn().Err(r.Err).Str("root", root).Msg("capacity probe failed, assuming out of space")
	}
	return e.opts.Thresholds.OutOfSpace(r)
}

func (e *Engine) externalLive() bool {
	if !e.opts.ExternalEnabled {
		return false
	}
	return e.live(e.opts.MountPoint, e.opts.ExternalRoot)
}

// internalCandidates lists the internal root in eviction order. Preserved
// entries sort last within their priority, or are dropped unless
// withPreserved is set.
func (e *Engine) internalCandidates(withPreserved bool) ([]string, bool) {
	dirs, err := e.list(e.opts.InternalRoot)
	if err != nil {
		log.Error().Err(err).Str("root", e.opts.InternalRoot).Msg("failed to list internal root")
		return nil, false
	}

	keep := preserve.Resolve(dirs, e.isFlagged, e.opts.PreserveBudget)
	e.metrics.RecordPreserved(len(keep))

	var names []string
	for _, c := range segment.EvictionOrder(dirs, e.opts.LowPriority, keep) {
		if c.Preserved && !withPreserved {
			continue
		}
		names = append(names, c.Name)
	}
	return names, true
}

func (e *Engine) isFlagged(dir string) bool {
	if e.flags == nil {
		return false
	}
	return e.flags.IsPreserved(dir)
}

func (e *Engine) deleteInternal() string {
	names, ok := e.internalCandidates(true)
	if !ok {
		e.metrics.RecordActionFailure("list")
		return ""
	}
	return e.deleteFirst(rootInternal, e.opts.InternalRoot, names)
}

func (e *Engine) deleteExternal() string {
	names, err := e.list(e.opts.ExternalRoot)
	if err != nil {
		log.Error().Err(err).Str("root", e.opts.ExternalRoot).Msg("failed to list external root")
		e.metrics.RecordActionFailure("list")
		return ""
	}
	return e.deleteFirst(rootExternal, e.opts.ExternalRoot, names)
}

// deleteFirst removes the first unlocked entry of names under root and
// returns its path. A failed removal ends the attempt.
func (e *Engine) deleteFirst(label, root string, names []string) string {
	for _, name := range names {
		path := filepath.Join(root, name)
		if !e.unlocked(path) {
			continue
		}

		log.Info().Str("root", label).Str("path", path).Msg("deleting")
		if err := segment.Remove(path); err != nil {
			log.Error().Err(err).Str("path", path).Msg("delete failed")
			e.metrics.RecordActionFailure("delete")
			return ""
		}
		e.metrics.RecordDeletion(label)
		return path
	}

	log.Warn().Str("root", label).Msg("nothing eligible to delete")
	return ""
}

// migrate moves the first unlocked, unpreserved internal candidate to the
// external root. A candidate already present there is what a cross-device
// move leaves behind when removing the source failed; its internal copy is
// removed instead.
func (e *Engine) migrate() string {
	names, ok := e.internalCandidates(false)
	if !ok {
		e.metrics.RecordActionFailure("list")
		return ""
	}

	for _, name := range names {
		src := filepath.Join(e.opts.InternalRoot, name)
		dst := filepath.Join(e.opts.ExternalRoot, name)

		if !e.unlocked(src) {
			continue
		}

		if _, err := os.Lstat(dst); err == nil {
			log.Warn().Str("src", src).Str("dst", dst).Msg("already on external volume, removing internal copy")
			if err := segment.Remove(src); err != nil {
				log.Error().Err(err).Str("src", src).Msg("remove failed")
				e.metrics.RecordActionFailure("move")
				return ""
			}
			e.metrics.RecordMove()
			return src
		}

		log.Info().Str("src", src).Str("dst", dst).Msg("moving to external volume")
		if err := segment.Move(src, dst); err != nil {
			log.Error().Err(err).Str("src", src).Msg("move failed")
			e.metrics.RecordActionFailure("move")
			return ""
		}
		e.metrics.RecordMove()
		return src
	}

	log.Debug().Msg("nothing eligible to move")
	return ""
}

// unlocked checks path right before it is altered. An entry that vanished or
// cannot be read is left alone.
func (e *Engine) unlocked(path string) bool {
	locked, err := segment.IsLocked(path, e.opts.LockSuffix)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("cannot inspect entry, treating as locked")
			e.metrics.RecordLockedSkip()
		}
		return false
	}
	if locked {
		log.Debug().Str("path", path).Msg("locked, skipping")
		e.metrics.RecordLockedSkip()
		return false
	}
	return true
}

// sleep waits for d or until ctx is done, reporting whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
