package nats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubjectFor(t *testing.T) {
	require.Equal(t, "events.t1.order.order_placed", subjectFor("events", "t1", "order", "order.placed"))

	// unsafe tokens are sanitized, not rejected
	require.Equal(t, "events.acme_corp.order.placed", subjectFor("events", "acme corp", "order", "placed"))
	require.Equal(t, "events.t1._.order_placed", subjectFor("events", "t1", ">", "order placed"))
}

func TestSubjectFilter(t *testing.T) {
	require.Equal(t, "events.*.*.*", SubjectFilter("", "", "", ""))
	require.Equal(t, "events.t1.*.*", SubjectFilter("", "t1", "", ""))
	require.Equal(t, "ledger.t1.order.*", SubjectFilter("ledger", "t1", "order", ""))
	require.Equal(t, "events.t1.order.order_placed", SubjectFilter("", "t1", "order", "order.placed"))
}

func TestDurableName(t *testing.T) {
	require.Equal(t, "orders", durableName("orders"))
	require.Equal(t, "orders_read_model", durableName("orders.read/model"))
}
