// Package metrics provides Prometheus metrics for logkeeper.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry is the Prometheus registry for all logkeeper metrics.
var Registry = prometheus.NewRegistry()

func init() {
	// Register standard Go metrics
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// KeeperMetrics holds all Prometheus metrics for the daemon. A nil
// *KeeperMetrics is valid and records nothing.
type KeeperMetrics struct {
	// Capacity gauges, labeled by root ("internal", "external")
	FreeRatio     *prometheus.GaugeVec
	FreeBytes     *prometheus.GaugeVec
	ProbeFailures *prometheus.CounterVec

	// Eviction engine
	EngineState    *prometheus.GaugeVec   // 1 for the current state, 0 otherwise; label: state
	Deletions      *prometheus.CounterVec // label: root
	Moves          prometheus.Counter
	ActionFailures *prometheus.CounterVec // label: action
	LockedSkipped  prometheus.Counter
	PreservedCount prometheus.Gauge
	Ticks          prometheus.Counter

	// Volume manager
	VolumeState     *prometheus.GaugeVec // label: state
	VolumeFormats   prometheus.Counter
	VolumeMounts    prometheus.Counter
	VolumeUnmounts  prometheus.Counter
	VolumeAmbiguous prometheus.Counter
	VolumeErrors    *prometheus.CounterVec // label: op

	// Build info
	Info *prometheus.GaugeVec // labels: version
}

// InitMetrics initializes all metrics with the given device name as a constant label.
func InitMetrics(deviceName, version string) *KeeperMetrics {
	constLabels := prometheus.Labels{
		"device": deviceName,
	}
	f := promauto.With(Registry)

	m := &KeeperMetrics{
		FreeRatio: f.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "logkeeper_free_ratio",
			Help:        "Fraction of the storage root available to unprivileged writers",
			ConstLabels: constLabels,
		}, []string{"root"}),
		FreeBytes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "logkeeper_free_bytes",
			Help:        "Bytes of the storage root available to unprivileged writers",
			ConstLabels: constLabels,
		}, []string{"root"}),
		ProbeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "logkeeper_probe_failures_total",
			Help:        "Capacity probes that could not read filesystem statistics",
			ConstLabels: constLabels,
		}, []string{"root"}),

		EngineState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "logkeeper_engine_state",
			Help:        "Current eviction engine state (1 = active)",
			ConstLabels: constLabels,
		}, []string{"state"}),
		Deletions: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "logkeeper_deletions_total",
			Help:        "Entries deleted by the eviction engine",
			ConstLabels: constLabels,
		}, []string{"root"}),
		Moves: f.NewCounter(prometheus.CounterOpts{
			Name:        "logkeeper_moves_total",
			Help:        "Entries migrated from internal to external storage",
			ConstLabels: constLabels,
		}),
		ActionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "logkeeper_action_failures_total",
			Help:        "Delete or move attempts that failed",
			ConstLabels: constLabels,
		}, []string{"action"}),
		LockedSkipped: f.NewCounter(prometheus.CounterOpts{
			Name:        "logkeeper_locked_skipped_total",
			Help:        "Entries skipped because they hold a lock marker",
			ConstLabels: constLabels,
		}),
		PreservedCount: f.NewGauge(prometheus.GaugeOpts{
			Name:        "logkeeper_preserved_entries",
			Help:        "Entry names currently protected by preserve flags",
			ConstLabels: constLabels,
		}),
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Name:        "logkeeper_engine_ticks_total",
			Help:        "Eviction engine ticks evaluated",
			ConstLabels: constLabels,
		}),

		VolumeState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "logkeeper_volume_state",
			Help:        "Current external volume manager state (1 = active)",
			ConstLabels: constLabels,
		}, []string{"state"}),
		VolumeFormats: f.NewCounter(prometheus.CounterOpts{
			Name:        "logkeeper_volume_formats_total",
			Help:        "Removable devices repartitioned and formatted",
			ConstLabels: constLabels,
		}),
		VolumeMounts: f.NewCounter(prometheus.CounterOpts{
			Name:        "logkeeper_volume_mounts_total",
			Help:        "Successful mounts of the removable volume",
			ConstLabels: constLabels,
		}),
		VolumeUnmounts: f.NewCounter(prometheus.CounterOpts{
			Name:        "logkeeper_volume_forced_unmounts_total",
			Help:        "Forced unmounts of a stale removable volume",
			ConstLabels: constLabels,
		}),
		VolumeAmbiguous: f.NewCounter(prometheus.CounterOpts{
			Name:        "logkeeper_volume_ambiguous_total",
			Help:        "Ticks skipped because more than one removable device was attached",
			ConstLabels: constLabels,
		}),
		VolumeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "logkeeper_volume_errors_total",
			Help:        "Failed volume operations",
			ConstLabels: constLabels,
		}, []string{"op"}),

		Info: f.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "logkeeper_info",
			Help:        "Build information",
			ConstLabels: constLabels,
		}, []string{"version"}),
	}

	m.Info.WithLabelValues(version).Set(1)
	return m
}

// SetState marks state as the active one among states on vec.
func SetState(vec *prometheus.GaugeVec, states []string, state string) {
	for _, s := range states {
		if s == state {
			vec.WithLabelValues(s).Set(1)
		} else {
			vec.WithLabelValues(s).Set(0)
		}
	}
}

// RecordCapacity records a probe of root.
func (m *KeeperMetrics) RecordCapacity(root string, available bool, ratio float64, bytes int64) {
	if m == nil {
		return
	}
	if !available {
		m.ProbeFailures.WithLabelValues(root).Inc()
		return
	}
	m.FreeRatio.WithLabelValues(root).Set(ratio)
	m.FreeBytes.WithLabelValues(root).Set(float64(bytes))
}

// RecordEngineState records the eviction engine state.
func (m *KeeperMetrics) RecordEngineState(states []string, state string) {
	if m == nil {
		return
	}
	m.Ticks.Inc()
	SetState(m.EngineState, states, state)
}

// RecordDeletion records a successful delete under root.
func (m *KeeperMetrics) RecordDeletion(root string) {
	if m == nil {
		return
	}
	m.Deletions.WithLabelValues(root).Inc()
}

// RecordMove records a successful migration.
func (m *KeeperMetrics) RecordMove() {
	if m == nil {
		return
	}
	m.Moves.Inc()
}

// RecordActionFailure records a failed delete or move.
func (m *KeeperMetrics) RecordActionFailure(action string) {
	if m == nil {
		return
	}
	m.ActionFailures.WithLabelValues(action).Inc()
}

// RecordLockedSkip records an entry passed over because of a lock marker.
func (m *KeeperMetrics) RecordLockedSkip() {
	if m == nil {
		return
	}
	m.LockedSkipped.Inc()
}

// RecordPreserved records the size of the protected set.
func (m *KeeperMetrics) RecordPreserved(n int) {
	if m == nil {
		return
	}
	m.PreservedCount.Set(float64(n))
}

// RecordVolumeState records the volume manager state.
func (m *KeeperMetrics) RecordVolumeState(states []string, state string) {
	if m == nil {
		return
	}
	SetState(m.VolumeState, states, state)
}

// RecordVolumeEvent increments the counter for a volume event:
// "format", "mount", "forced_unmount" or "ambiguous".
func (m *KeeperMetrics) RecordVolumeEvent(event string) {
	if m == nil {
		return
	}
	switch event {
	case "format":
		m.VolumeFormats.Inc()
	case "mount":
		m.VolumeMounts.Inc()
	case "forced_unmount":
		m.VolumeUnmounts.Inc()
	case "ambiguous":
		m.VolumeAmbiguous.Inc()
	}
}

// RecordVolumeError records a failed volume operation.
func (m *KeeperMetrics) RecordVolumeError(op string) {
	if m == nil {
		return
	}
	m.VolumeErrors.WithLabelValues(op).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("listen", addr).Msg("metrics endpoint started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
