// Package capacity reports free space on a storage root.
//
// A probe never fails its caller. A root that is missing or whose statistics
// cannot be read yields an Unavailable result, and each call site picks the
// default it wants to substitute. The eviction engine always substitutes a
// value that reads as out of space.
package capacity

import (
	"fmt"
)

// Result is the outcome of probing a storage root.
type Result struct {
	// Available is false when the root could not be probed.
	Available bool
	// Ratio is the fraction of blocks available to unprivileged users, 0..1.
	Ratio float64
	// Bytes is the number of bytes available to unprivileged users.
	Bytes int64
	// Err holds the reason the probe failed, if it did.
	Err error
}

// Unavailable returns a failed probe result.
func Unavailable(err error) Result {
	return Result{Err: err}
}

// Measured returns a successful probe result.
func Measured(ratio float64, bytes int64) Result {
	return Result{Available: true, Ratio: ratio, Bytes: bytes}
}

// RatioOr returns the free ratio, or def if the probe failed.
func (r Result) RatioOr(def float64) float64 {
	if !r.Available {
		return def
	}
	return r.Ratio
}

// BytesOr returns the free byte count, or def if the probe failed.
func (r Result) BytesOr(def int64) int64 {
	if !r.Available {
		return def
	}
	return r.Bytes
}

// String returns a short description for logs.
func (r Result) String() string {
	if !r.Available {
		return fmt.Sprintf("unavailable (%v)", r.Err)
	}
	return fmt.Sprintf("%.1f%% free, %d bytes", r.Ratio*100, r.Bytes)
}

// Prober queries filesystem statistics for a path.
type Prober interface {
	Probe(path string) Result
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(path string) Result

// Probe calls f(path).
func (f ProberFunc) Probe(path string) Result {
	return f(path)
}

// Thresholds define when a root counts as out of space.
type Thresholds struct {
	MinFreeRatio float64
	MinFreeBytes int64
}

// OutOfSpace reports whether r is below either threshold. A failed probe is
// treated as scarce: the defaults substituted here sit just under each limit.
func (t Thresholds) OutOfSpace(r Result) bool {
	ratio := r.RatioOr(t.MinFreeRatio - 1)
	bytes := r.BytesOr(t.MinFreeBytes - 1)
	return ratio < t.MinFreeRatio || bytes < t.MinFreeBytes
}

// System probes the real filesystem.
var System Prober = ProberFunc(Probe)

// Probe returns free space statistics for path.
func Probe(path string) Result {
	total, available, err := volumeStats(path)
	if err != nil {
		return Unavailable(err)
	}
	if total <= 0 {
		return Unavailable(fmt.Errorf("statfs %s: zero-sized volume", path))
	}
	return Measured(float64(available)/float64(total), available)
}
