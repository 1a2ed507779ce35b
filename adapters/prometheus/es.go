package prometheus

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ledgerline/ledgerline/core/es"
	"github.com/ledgerline/ledgerline/core/metrics"
)

// esMetrics implements es.ESMetrics using Prometheus.
type esMetrics struct {
	storeLoadDuration   *prometheus.HistogramVec
	storeAppendDuration *prometheus.HistogramVec
	eventsAppended      *prometheus.CounterVec

	repoLoadDuration     *prometheus.HistogramVec
	repoSaveDuration     *prometheus.HistogramVec
	concurrencyConflicts *prometheus.CounterVec

	snapshotLoadDuration *prometheus.HistogramVec
	snapshotSaveDuration *prometheus.HistogramVec

	eventsPublished *prometheus.CounterVec
	relayLag        *prometheus.GaugeVec

	deliveryDuration    *prometheus.HistogramVec
	deliveryOutcomes    *prometheus.CounterVec
	duplicateDeliveries *prometheus.CounterVec
}

// NewESMetrics creates a Prometheus implementation of es.ESMetrics.
func NewESMetrics(reg prometheus.Registerer) es.ESMetrics {
	m := &esMetrics{
		storeLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledgerline_store_load_duration_seconds",
			Help:    "Event store load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		storeAppendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledgerline_store_append_duration_seconds",
			Help:    "Event store append latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerline_events_appended_total",
			Help: "Total number of events appended",
		}, []string{"aggregate_type"}),

		repoLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledgerline_repo_load_duration_seconds",
			Help:    "Repository load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		repoSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledgerline_repo_save_duration_seconds",
			Help:    "Repository save latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerline_concurrency_conflicts_total",
			Help: "Total number of optimistic lock failures",
		}, []string{"aggregate_type"}),

		snapshotLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledgerline_snapshot_load_duration_seconds",
			Help:    "Snapshot load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		snapshotSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledgerline_snapshot_save_duration_seconds",
			Help:    "Snapshot save latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerline_events_published_total",
			Help: "Total number of publish attempts",
		}, []string{"event_type", "success"}),

		relayLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledgerline_relay_lag",
			Help: "Events loaded but held back by the relay in the last sweep",
		}, []string{"publisher"}),

		deliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledgerline_delivery_duration_seconds",
			Help:    "End-to-end processing time per delivery in seconds",
			Buckets: defaultBuckets,
		}, []string{"projector", "event_type"}),

		deliveryOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerline_delivery_outcomes_total",
			Help: "Deliveries by terminal acknowledgment action",
		}, []string{"projector", "outcome"}),

		duplicateDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerline_duplicate_deliveries_total",
			Help: "Deliveries short-circuited by the idempotency ledger",
		}, []string{"projector"}),
	}

	reg.MustRegister(
		m.storeLoadDuration,
		m.storeAppendDuration,
		m.eventsAppended,
		m.repoLoadDuration,
		m.repoSaveDuration,
		m.concurrencyConflicts,
		m.snapshotLoadDuration,
		m.snapshotSaveDuration,
		m.eventsPublished,
		m.relayLag,
		m.deliveryDuration,
		m.deliveryOutcomes,
		m.duplicateDeliveries,
	)

	return m
}

func (m *esMetrics) StoreLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.storeLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) StoreAppendDuration(aggType string) metrics.Timer {
	return newTimer(m.storeAppendDuration.WithLabelValues(aggType))
}

func (m *esMetrics) EventsAppended(aggType string, count int) {
	m.eventsAppended.WithLabelValues(aggType).Add(float64(count))
}

func (m *esMetrics) RepoLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.repoLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) RepoSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.repoSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) SnapshotLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) SnapshotSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) EventPublished(eventType string, success bool) {
	m.eventsPublished.WithLabelValues(eventType, strconv.FormatBool(success)).Inc()
}

func (m *esMetrics) RelayLag(publisher string, lag int64) {
	m.relayLag.WithLabelValues(publisher).Set(float64(lag))
}

func (m *esMetrics) DeliveryDuration(projector, eventType string) metrics.Timer {
	return newTimer(m.deliveryDuration.WithLabelValues(projector, eventType))
}

func (m *esMetrics) DeliveryOutcome(projector, outcome string) {
	m.deliveryOutcomes.WithLabelValues(projector, outcome).Inc()
}

func (m *esMetrics) DuplicateDelivery(projector string) {
	m.duplicateDeliveries.WithLabelValues(projector).Inc()
}

var _ es.ESMetrics = (*esMetrics)(nil)
