package volume

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDeviceDir is where the kernel publishes block device nodes.
const DefaultDeviceDir = "/dev"

// isDiskNode reports whether name looks like a USB or NVMe disk node.
func isDiskNode(name string) bool {
	return strings.HasPrefix(name, "sd") || strings.HasPrefix(name, "nvme")
}

// watchDevices signals on the returned channel whenever a disk node appears in
// or disappears from dir. Signals are coalesced; the channel closes when ctx
// is done or the watcher fails.
func watchDevices(ctx context.Context, dir string) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create device watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer close(wake)
		defer func() { _ = watcher.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
					continue
				}
				if !isDiskNode(filepath.Base(event.Name)) {
					continue
				}
				log.Debug().Str("node", event.Name).Str("op", event.Op.String()).Msg("block device change")
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("device watcher error")
			}
		}
	}()
	return wake, nil
}

// waitForNode waits until path exists, backing off between checks, for at
// most maxWait.
func waitForNode(ctx context.Context, path string, maxWait time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = maxWait

	check := func() error {
		_, err := os.Stat(path)
		return err
	}
	notify := func(err error, d time.Duration) {
		log.Debug().Err(err).Dur("retry_in", d).Str("node", path).Msg("waiting for device node")
	}
	if err := backoff.RetryNotify(check, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("device node %s did not appear: %w", path, err)
	}
	return nil
}
