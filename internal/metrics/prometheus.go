// Package metrics exposes Prometheus collectors for snapshot refreshes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder records refresh outcomes. A nil *Recorder is a no-op.
type Recorder struct {
	registry         *prometheus.Registry
	sourceRuns       *prometheus.CounterVec
	snapshots        *prometheus.CounterVec
	snapshotDuration prometheus.Histogram
	priceRequests    *prometheus.CounterVec
	pricesResolved   *prometheus.CounterVec
	coverage         prometheus.Gauge
}

// New creates a recorder with its own registry
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		sourceRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refresher_source_runs_total",
				Help: "Source runs by source key and terminal status",
			},
			[]string{"source", "status"},
		),
		snapshots: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refresher_snapshots_total",
				Help: "Finalized snapshots by status",
			},
			[]string{"status"},
		),
		snapshotDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "refresher_snapshot_duration_seconds",
				Help:    "Wall time from snapshot creation to finalization",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
			},
		),
		priceRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refresher_price_requests_total",
				Help: "Price API requests by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		pricesResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refresher_prices_resolved_total",
				Help: "Prices resolved by source tag",
			},
			[]string{"source"},
		),
		coverage: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "refresher_last_priced_coverage_pct",
				Help: "Priced coverage of the most recently finalized snapshot",
			},
		),
	}
	r.registry.MustRegister(
		r.sourceRuns,
		r.snapshots,
		r.snapshotDuration,
		r.priceRequests,
		r.pricesResolved,
		r.coverage,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordSourceRun counts a terminal source run
func (r *Recorder) RecordSourceRun(source, status string) {
	if r == nil {
		return
	}
	r.sourceRuns.WithLabelValues(source, status).Inc()
}

// RecordSnapshot counts a finalized snapshot and observes its duration
func (r *Recorder) RecordSnapshot(status string, duration time.Duration, coveragePct float64) {
	if r == nil {
		return
	}
	r.snapshots.WithLabelValues(status).Inc()
	r.snapshotDuration.Observe(duration.Seconds())
	r.coverage.Set(coveragePct)
}

// RecordPriceRequest counts one HTTP call to the price API
func (r *Recorder) RecordPriceRequest(endpoint, outcome string) {
	if r == nil {
		return
	}
	r.priceRequests.WithLabelValues(endpoint, outcome).Inc()
}

// RecordPricesResolved adds n prices obtained from source
func (r *Recorder) RecordPricesResolved(source string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.pricesResolved.WithLabelValues(source).Add(float64(n))
}
