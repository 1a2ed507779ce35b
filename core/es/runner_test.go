package es

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type runnerEvent struct {
	Total int `json:"total"`
}

func runnerRegistry() *EventRegistry {
	r := NewRegistry()
	RegisterEvents(r, Event[runnerEvent]())
	return r
}

func runnerDomainEvent(id string) DomainEvent {
	return DomainEvent{
		EventID:        id,
		TenantID:       "t1",
		AggregateType:  "order",
		AggregateID:    "o1",
		SequenceNumber: 1,
		EventType:      EventTypeOf(runnerEvent{}),
		Payload:        []byte(`{"total":10}`),
		OccurredAt:     time.Now().UTC(),
	}
}

func TestRunner_Dispatch(t *testing.T) {
	t.Run("success marks then acks", func(t *testing.T) {
		processed := NewMemoryProcessedStore()
		handled := 0
		r := NewRunner(
			NewProjector("orders", func(ctx context.Context, event any, d *Delivery) error {
				handled++
				require.Equal(t, 10, event.(*runnerEvent).Total)
				return nil
			}),
			processed,
			runnerRegistry(),
		)

		a := &fakeAcker{}
		require.NoError(t, r.Dispatch(t.Context(), NewDelivery(a, runnerDomainEvent("e1"), "", nil, 0)))
		require.Equal(t, 1, handled)
		require.Equal(t, 1, a.acked)

		seen, err := processed.Seen(t.Context(), "orders", "e1")
		require.NoError(t, err)
		require.True(t, seen)
	})

	t.Run("duplicate is acked without the handler", func(t *testing.T) {
		processed := NewMemoryProcessedStore()
		require.NoError(t, processed.Mark(t.Context(), ProcessedRecord{
			ProjectorName: "orders",
			EventID:       "e1",
			TenantID:      "t1",
			ProcessedAt:   time.Now().UTC(),
		}))

		handled := 0
		r := NewRunner(
			NewProjector("orders", func(ctx context.Context, event any, d *Delivery) error {
				handled++
				return nil
			}),
			processed,
			runnerRegistry(),
		)

		a := &fakeAcker{}
		require.NoError(t, r.Dispatch(t.Context(), NewDelivery(a, runnerDomainEvent("e1"), "", nil, 1)))
		require.Zero(t, handled)
		require.Equal(t, 1, a.acked)
	})

	t.Run("retryable error naks with its delay", func(t *testing.T) {
		r := NewRunner(
			NewProjector("orders", func(ctx context.Context, event any, d *Delivery) error {
				return Retryable(errors.New("read model busy"), 7*time.Second)
			}),
			NewMemoryProcessedStore(),
			runnerRegistry(),
		)

		a := &fakeAcker{}
		err := r.Dispatch(t.Context(), NewDelivery(a, runnerDomainEvent("e1"), "", nil, 0))
		require.Error(t, err)
		require.Equal(t, 1, a.naked)
		require.Equal(t, 7*time.Second, a.nakDelay)
	})

	t.Run("unclassified error naks with the default delay", func(t *testing.T) {
		r := NewRunner(
			NewProjector("orders", func(ctx context.Context, event any, d *Delivery) error {
				return errors.New("boom")
			}),
			NewMemoryProcessedStore(),
			runnerRegistry(),
			WithDefaultNakDelay(2*time.Second),
		)

		a := &fakeAcker{}
		require.Error(t, r.Dispatch(t.Context(), NewDelivery(a, runnerDomainEvent("e1"), "", nil, 0)))
		require.Equal(t, 1, a.naked)
		require.Equal(t, 2*time.Second, a.nakDelay)
	})

	t.Run("poison error terminates", func(t *testing.T) {
		r := NewRunner(
			NewProjector("orders", func(ctx context.Context, event any, d *Delivery) error {
				return Poison(errors.New("malformed business data"))
			}),
			NewMemoryProcessedStore(),
			runnerRegistry(),
		)

		a := &fakeAcker{}
		require.Error(t, r.Dispatch(t.Context(), NewDelivery(a, runnerDomainEvent("e1"), "", nil, 0)))
		require.Equal(t, 1, a.termed)
		require.Zero(t, a.naked)
	})

	t.Run("exhausted redelivery budget terminates", func(t *testing.T) {
		r := NewRunner(
			NewProjector("orders", func(ctx context.Context, event any, d *Delivery) error {
				return Retryable(errors.New("still failing"), time.Second)
			}),
			NewMemoryProcessedStore(),
			runnerRegistry(),
			WithMaxDeliver(3),
		)

		// third delivery of the same message
		a := &fakeAcker{}
		require.Error(t, r.Dispatch(t.Context(), NewDelivery(a, runnerDomainEvent("e1"), "", nil, 2)))
		require.Equal(t, 1, a.termed)
		require.Zero(t, a.naked)
	})

	t.Run("cancellation takes no action", func(t *testing.T) {
		r := NewRunner(
			NewProjector("orders", func(ctx context.Context, event any, d *Delivery) error {
				return ctx.Err()
			}),
			NewMemoryProcessedStore(),
			runnerRegistry(),
		)

		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		a := &fakeAcker{}
		d := NewDelivery(a, runnerDomainEvent("e1"), "", nil, 0)
		require.ErrorIs(t, r.Dispatch(ctx, d), context.Canceled)
		require.Equal(t, Delivered, d.State())
		require.Zero(t, a.acked)
		require.Zero(t, a.naked)
		require.Zero(t, a.termed)
	})

	t.Run("unknown event type is retried", func(t *testing.T) {
		r := NewRunner(
			NewProjector("orders", func(ctx context.Context, event any, d *Delivery) error {
				t.Fatal("handler must not run")
				return nil
			}),
			NewMemoryProcessedStore(),
			NewRegistry(), // nothing registered
		)

		a := &fakeAcker{}
		err := r.Dispatch(t.Context(), NewDelivery(a, runnerDomainEvent("e1"), "", nil, 0))
		require.ErrorIs(t, err, ErrUnknownEventType)
		require.Equal(t, 1, a.naked)
	})

	t.Run("handler self-ack is honored", func(t *testing.T) {
		processed := NewMemoryProcessedStore()
		r := NewRunner(
			NewProjector("orders", func(ctx context.Context, event any, d *Delivery) error {
				return d.Ack()
			}),
			processed,
			runnerRegistry(),
		)

		a := &fakeAcker{}
		require.NoError(t, r.Dispatch(t.Context(), NewDelivery(a, runnerDomainEvent("e1"), "", nil, 0)))
		require.Equal(t, 1, a.acked)

		// the ledger entry is still written
		seen, err := processed.Seen(t.Context(), "orders", "e1")
		require.NoError(t, err)
		require.True(t, seen)
	})

	t.Run("manual ack mode naks when the handler takes no action", func(t *testing.T) {
		r := NewRunner(
			NewProjector("orders", func(ctx context.Context, event any, d *Delivery) error {
				return nil
			}),
			NewMemoryProcessedStore(),
			runnerRegistry(),
			WithAutoAck(false),
		)

		a := &fakeAcker{}
		require.NoError(t, r.Dispatch(t.Context(), NewDelivery(a, runnerDomainEvent("e1"), "", nil, 0)))
		require.Equal(t, 1, a.naked)
		require.Zero(t, a.acked)
	})

	t.Run("handler nak despite nil return is honored", func(t *testing.T) {
		processed := NewMemoryProcessedStore()
		r := NewRunner(
			NewProjector("orders", func(ctx context.Context, event any, d *Delivery) error {
				require.NoError(t, d.Nak())
				return nil
			}),
			processed,
			runnerRegistry(),
		)

		a := &fakeAcker{}
		require.NoError(t, r.Dispatch(t.Context(), NewDelivery(a, runnerDomainEvent("e1"), "", nil, 0)))
		require.Equal(t, 1, a.naked)
		require.Zero(t, a.acked)

		// a nak'd message is not recorded as processed
		seen, err := processed.Seen(t.Context(), "orders", "e1")
		require.NoError(t, err)
		require.False(t, seen)
	})

	t.Run("ledger failure after side effects naks", func(t *testing.T) {
		r := NewRunner(
			NewProjector("orders", func(ctx context.Context, event any, d *Delivery) error {
				return nil
			}),
			failingProcessedStore{},
			runnerRegistry(),
		)

		a := &fakeAcker{}
		require.Error(t, r.Dispatch(t.Context(), NewDelivery(a, runnerDomainEvent("e1"), "", nil, 0)))
		require.Equal(t, 1, a.naked)
		require.Zero(t, a.acked)
	})
}

type failingProcessedStore struct{}

func (failingProcessedStore) Seen(context.Context, string, string) (bool, error) { return false, nil }
func (failingProcessedStore) Mark(context.Context, ProcessedRecord) error {
	return errors.New("ledger unavailable")
}
