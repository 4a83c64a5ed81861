// Package metrics exposes Prometheus metrics for the display core.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/1broseidon/dispcore/internal/display"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dispcore"

// Recorder records core operations. A nil *Recorder is valid and records
// nothing.
type Recorder struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	liveDisplays      *prometheus.GaugeVec
	topology          *prometheus.GaugeVec
	snapshotVersion   prometheus.Gauge
	softFailures      *prometheus.CounterVec
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Core operations by result",
			},
			[]string{"operation", "result"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of core operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		liveDisplays: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_displays",
				Help:      "Display objects currently created, by type",
			},
			[]string{"type"},
		),
		topology: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "hardware_displays",
				Help:      "Displays in the cached status snapshot, by type and connection",
			},
			[]string{"type", "connected"},
		),
		snapshotVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "snapshot_version",
				Help:      "Version of the cached display status snapshot",
			},
		),
		softFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "init_soft_failures_total",
				Help:      "Non-fatal init steps that failed",
			},
			[]string{"step"},
		),
	}
	r.registry.MustRegister(
		r.operationsTotal,
		r.operationDuration,
		r.liveDisplays,
		r.topology,
		r.snapshotVersion,
		r.softFailures,
	)
	return r
}

// Registry returns the registry the recorder's collectors live in.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the recorder's metrics together with the Go runtime
// collectors from the default registry.
func (r *Recorder) Handler() http.Handler {
	g := prometheus.Gatherers{prometheus.DefaultGatherer}
	if r != nil {
		g = append(g, r.registry)
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveOperation records the outcome of op started at start.
func (r *Recorder) ObserveOperation(op string, start time.Time, err error) {
	if r == nil {
		return
	}
	r.operationsTotal.WithLabelValues(op, Result(err)).Inc()
	r.operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// DisplayCreated and DisplayDestroyed track live display objects.
func (r *Recorder) DisplayCreated(t display.Type) {
	if r == nil {
		return
	}
	r.liveDisplays.WithLabelValues(t.String()).Inc()
}

func (r *Recorder) DisplayDestroyed(t display.Type) {
	if r == nil {
		return
	}
	r.liveDisplays.WithLabelValues(t.String()).Dec()
}

// SetSnapshot replaces the topology gauges with the contents of a snapshot.
func (r *Recorder) SetSnapshot(version uint64, status map[int32]display.Status) {
	if r == nil {
		return
	}
	r.snapshotVersion.Set(float64(version))
	r.topology.Reset()
	for _, s := range status {
		connected := "false"
		if s.Connected {
			connected = "true"
		}
		r.topology.WithLabelValues(s.Type.String(), connected).Inc()
	}
}

// SoftFailure counts a non-fatal init step failure.
func (r *Recorder) SoftFailure(step string) {
	if r == nil {
		return
	}
	r.softFailures.WithLabelValues(step).Inc()
}

// Result maps an error to a low-cardinality label value.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	var de *display.Error
	if errors.As(err, &de) {
		switch de.Kind {
		case display.KindUndefined:
			return "undefined"
		case display.KindNotSupported:
			return "not_supported"
		case display.KindParameters:
			return "parameters"
		case display.KindMemory:
			return "memory"
		case display.KindResources:
			return "resources"
		case display.KindHardware:
			return "hardware"
		}
	}
	return "error"
}
