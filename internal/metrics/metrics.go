// Package metrics exposes grantbook's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

type Metrics struct {
	batchesProcessed *prometheus.CounterVec
	batchEvents      *prometheus.CounterVec
	batchDuration    *prometheus.HistogramVec
	batchesFailed    *prometheus.CounterVec
	deadLettered     *prometheus.CounterVec

	eventsApplied *prometheus.CounterVec
	eventsSkipped *prometheus.CounterVec

	snapshotDuration *prometheus.HistogramVec
	snapshotFailed   *prometheus.CounterVec
	snapshotCache    *prometheus.CounterVec

	logsIngested *prometheus.CounterVec
	ingestFailed *prometheus.CounterVec
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		batchesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grantbook_projection_batches_total",
			Help: "Event batches applied per subscriber",
		}, []string{"subscriber"}),
		batchEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grantbook_projection_events_total",
			Help: "Events applied per subscriber",
		}, []string{"subscriber"}),
		batchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grantbook_projection_batch_duration_seconds",
			Help:    "Time to apply one batch and save its checkpoint",
			Buckets: durationBuckets,
		}, []string{"subscriber"}),
		batchesFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grantbook_projection_batch_failures_total",
			Help: "Batches rolled back after a subscriber error",
		}, []string{"subscriber"}),
		deadLettered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grantbook_projection_dead_letters_total",
			Help: "Subscribers stopped after exhausting retries",
		}, []string{"subscriber"}),

		eventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grantbook_recipient_events_applied_total",
			Help: "Registry events reconciled into the recipient read model",
		}, []string{"event"}),
		eventsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grantbook_recipient_events_skipped_total",
			Help: "Registry events ignored by the recipient read model",
		}, []string{"event", "reason"}),

		snapshotDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grantbook_snapshot_duration_seconds",
			Help:    "Snapshot query latency including chain fetches",
			Buckets: durationBuckets,
		}, []string{"op"}),
		snapshotFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grantbook_snapshot_failures_total",
			Help: "Snapshot queries failed by a chain fetch error",
		}, []string{"op"}),
		snapshotCache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grantbook_snapshot_cache_lookups_total",
			Help: "Snapshot list cache lookups",
		}, []string{"hit"}),

		logsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grantbook_ingested_logs_total",
			Help: "Registry logs read from the chain",
		}, []string{"registry"}),
		ingestFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grantbook_ingest_failures_total",
			Help: "Failed ingest passes per registry",
		}, []string{"registry"}),
	}
}

func (m *Metrics) BatchProcessed(subscriber string, events int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.batchesProcessed.WithLabelValues(subscriber).Inc()
	m.batchEvents.WithLabelValues(subscriber).Add(float64(events))
	m.batchDuration.WithLabelValues(subscriber).Observe(elapsed.Seconds())
}

func (m *Metrics) BatchFailed(subscriber string) {
	if m == nil {
		return
	}
	m.batchesFailed.WithLabelValues(subscriber).Inc()
}

func (m *Metrics) DeadLettered(subscriber string) {
	if m == nil {
		return
	}
	m.deadLettered.WithLabelValues(subscriber).Inc()
}

func (m *Metrics) EventApplied(eventType string) {
	if m == nil {
		return
	}
	m.eventsApplied.WithLabelValues(eventType).Inc()
}

func (m *Metrics) EventSkipped(eventType, reason string) {
	if m == nil {
		return
	}
	m.eventsSkipped.WithLabelValues(eventType, reason).Inc()
}

func (m *Metrics) SnapshotServed(op string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.snapshotDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) SnapshotFailed(op string) {
	if m == nil {
		return
	}
	m.snapshotFailed.WithLabelValues(op).Inc()
}

func (m *Metrics) SnapshotCache(hit bool) {
	if m == nil {
		return
	}
	m.snapshotCache.WithLabelValues(strconv.FormatBool(hit)).Inc()
}

func (m *Metrics) LogsIngested(registry string, n int) {
	if m == nil {
		return
	}
	m.logsIngested.WithLabelValues(registry).Add(float64(n))
}

func (m *Metrics) IngestFailed(registry string) {
	if m == nil {
		return
	}
	m.ingestFailed.WithLabelValues(registry).Inc()
}
