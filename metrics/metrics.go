// Package metrics exposes Prometheus instrumentation for the server
// and the storage engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kivi/kivi"
)

const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Metrics holds the request-path collectors.
type Metrics struct {
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	activeConnections prometheus.Gauge
}

// New registers the request collectors with reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kivi_requests_total",
				Help: "Total number of requests by op and outcome",
			},
			[]string{"op", "outcome"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kivi_request_duration_seconds",
				Help:    "Duration of engine calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		activeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kivi_active_connections",
				Help: "Number of currently open client connections",
			},
		),
	}
}

// ObserveRequest records one dispatched request.
func (m *Metrics) ObserveRequest(op string, outcome string, start time.Time) {
	m.requestTotal.WithLabelValues(op, outcome).Inc()
	m.requestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ConnOpened() {
	m.activeConnections.Inc()
}

func (m *Metrics) ConnClosed() {
	m.activeConnections.Dec()
}

// RegisterStoreStats exports engine statistics as gauges evaluated at
// scrape time.
func RegisterStoreStats(reg prometheus.Registerer, db *kivi.DB) {
	factory := promauto.With(reg)
	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "kivi_keys_total",
			Help: "Number of live keys in the keydir",
		},
		func() float64 { return float64(db.Stats().KeyCount) },
	)
	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "kivi_segments_total",
			Help: "Number of data files on disk",
		},
		func() float64 { return float64(db.Stats().SegmentCount) },
	)
	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "kivi_disk_size_bytes",
			Help: "Total size of all data files in bytes",
		},
		func() float64 { return float64(db.Stats().DiskSize) },
	)
	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "kivi_stale_bytes",
			Help: "Bytes superseded since the last compaction",
		},
		func() float64 { return float64(db.Stats().StaleBytes) },
	)
	factory.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "kivi_compactions_total",
			Help: "Total number of completed compaction passes",
		},
		func() float64 { return float64(db.Stats().MergeCount) },
	)
}
