package es

import "github.com/ledgerline/ledgerline/core/metrics"

// ESMetrics is the instrumentation surface of the engine. Implementations
// must be safe for concurrent use.
type ESMetrics interface {
	// Store operations
	StoreLoadDuration(aggType string) metrics.Timer
	StoreAppendDuration(aggType string) metrics.Timer
	EventsAppended(aggType string, count int)

	// Repository operations
	RepoLoadDuration(aggType string) metrics.Timer
	RepoSaveDuration(aggType string) metrics.Timer
	ConcurrencyConflict(aggType string)

	// Snapshots
	SnapshotLoadDuration(aggType string) metrics.Timer
	SnapshotSaveDuration(aggType string) metrics.Timer

	// Publishing
	EventPublished(eventType string, success bool)
	RelayLag(publisher string, lag int64)

	// Delivery
	DeliveryDuration(projector, eventType string) metrics.Timer
	DeliveryOutcome(projector, outcome string)
	DuplicateDelivery(projector string)
}

type nopESMetrics struct{}

func (nopESMetrics) StoreLoadDuration(string) metrics.Timer   { return metrics.NopTimer() }
func (nopESMetrics) StoreAppendDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) EventsAppended(string, int)               {}

func (nopESMetrics) RepoLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) RepoSaveDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) ConcurrencyConflict(string)            {}

func (nopESMetrics) SnapshotLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) SnapshotSaveDuration(string) metrics.Timer { return metrics.NopTimer() }

func (nopESMetrics) EventPublished(string, bool) {}
func (nopESMetrics) RelayLag(string, int64)      {}

func (nopESMetrics) DeliveryDuration(string, string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) DeliveryOutcome(string, string)                {}
func (nopESMetrics) DuplicateDelivery(string)                      {}

// NopESMetrics returns a no-op ESMetrics implementation.
func NopESMetrics() ESMetrics { return nopESMetrics{} }

// MetricsOption sets the metrics implementation for engine components.
type MetricsOption valueOption[ESMetrics]

// WithMetrics sets the metrics implementation for engine components.
func WithMetrics(m ESMetrics) MetricsOption { return MetricsOption{m} }
