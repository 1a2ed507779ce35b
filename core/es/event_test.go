package es

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type namedEvent struct {
	X int `json:"x"`
}

func (namedEvent) EventType() string { return "order.named" }

type plainEvent struct {
	Y string `json:"y"`
}

func TestEventTypeOf(t *testing.T) {
	require.Equal(t, "order.named", EventTypeOf(namedEvent{}))
	require.Equal(t, "order.named", EventTypeOf(&namedEvent{}))
	require.Contains(t, EventTypeOf(plainEvent{}), "plainEvent")
	require.Equal(t, EventTypeOf(plainEvent{}), EventTypeOf(&plainEvent{}))
}

func TestEventRegistry(t *testing.T) {
	r := NewRegistry()
	RegisterEvents(r, Event[namedEvent](), Event[plainEvent]())

	t.Run("decode routes by event type", func(t *testing.T) {
		decoded, err := r.Decode(DomainEvent{EventType: "order.named", Payload: []byte(`{"x":7}`)})
		require.NoError(t, err)
		require.Equal(t, &namedEvent{X: 7}, decoded)
	})

	t.Run("every decode is a fresh instance", func(t *testing.T) {
		a, err := r.Decode(DomainEvent{EventType: "order.named", Payload: []byte(`{"x":1}`)})
		require.NoError(t, err)
		b, err := r.Decode(DomainEvent{EventType: "order.named", Payload: []byte(`{"x":2}`)})
		require.NoError(t, err)
		require.NotSame(t, a, b)
		require.Equal(t, 1, a.(*namedEvent).X)
		require.Equal(t, 2, b.(*namedEvent).X)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := r.Decode(DomainEvent{EventType: "order.unknown"})
		require.ErrorIs(t, err, ErrUnknownEventType)
	})

	t.Run("nil payload decodes the zero value", func(t *testing.T) {
		decoded, err := r.Decode(DomainEvent{EventType: "order.named"})
		require.NoError(t, err)
		require.Equal(t, &namedEvent{}, decoded)
	})
}

func TestDomainEvent_Validate(t *testing.T) {
	valid := testEvent("e1", "t1", "o1", 1)
	require.NoError(t, valid.Validate())

	for name, mutate := range map[string]func(*DomainEvent){
		"missing event id":       func(e *DomainEvent) { e.EventID = "" },
		"missing tenant":         func(e *DomainEvent) { e.TenantID = "" },
		"missing aggregate id":   func(e *DomainEvent) { e.AggregateID = "" },
		"missing aggregate type": func(e *DomainEvent) { e.AggregateType = "" },
		"missing event type":     func(e *DomainEvent) { e.EventType = "" },
		"zero sequence":          func(e *DomainEvent) { e.SequenceNumber = 0 },
		"zero occurred at":       func(e *DomainEvent) { e.OccurredAt = time.Time{} },
	} {
		t.Run(name, func(t *testing.T) {
			e := valid
			mutate(&e)
			require.Error(t, e.Validate())
		})
	}
}

func TestStreamID(t *testing.T) {
	require.Equal(t, "order-o1", StreamID("order", "o1"))
	e := testEvent("e1", "t1", "o1", 1)
	require.Equal(t, "order-o1", e.StreamID())
}
