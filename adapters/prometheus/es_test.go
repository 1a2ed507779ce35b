package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestESMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewESMetrics(reg)

	m.EventsAppended("order", 3)
	m.ConcurrencyConflict("order")
	m.EventPublished("order.placed", true)
	m.EventPublished("order.placed", false)
	m.RelayLag("relay", 7)
	m.DeliveryOutcome("orders", "ack")
	m.DuplicateDelivery("orders")

	m.StoreAppendDuration("order").ObserveDuration()
	m.StoreLoadDuration("order").ObserveDuration()
	m.RepoLoadDuration("order").ObserveDuration()
	m.RepoSaveDuration("order").ObserveDuration()
	m.SnapshotLoadDuration("order").ObserveDuration()
	m.SnapshotSaveDuration("order").ObserveDuration()
	m.DeliveryDuration("orders", "order.placed").ObserveDuration()

	n, err := testutil.GatherAndCount(reg,
		"ledgerline_events_appended_total",
		"ledgerline_concurrency_conflicts_total",
		"ledgerline_events_published_total",
		"ledgerline_relay_lag",
		"ledgerline_delivery_outcomes_total",
		"ledgerline_duplicate_deliveries_total",
		"ledgerline_store_append_duration_seconds",
		"ledgerline_store_load_duration_seconds",
		"ledgerline_repo_load_duration_seconds",
		"ledgerline_repo_save_duration_seconds",
		"ledgerline_snapshot_load_duration_seconds",
		"ledgerline_snapshot_save_duration_seconds",
		"ledgerline_delivery_duration_seconds",
	)
	require.NoError(t, err)
	// events_published carries two label combinations
	require.Equal(t, 14, n)

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "ledgerline_events_appended_total" {
			require.Equal(t, float64(3), mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
}
