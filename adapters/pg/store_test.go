package pg

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/ledgerline/core/es"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Connect(t.Context(), NewTestContainer(t))
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.EnsureSchema(t.Context()))
	require.NoError(t, db.Ready(t.Context()))
	return db
}

func pgEvent(tenantID, aggID string, seq es.Version) es.DomainEvent {
	return es.DomainEvent{
		EventID:        uuid.NewString(),
		TenantID:       tenantID,
		AggregateType:  "order",
		AggregateID:    aggID,
		SequenceNumber: seq,
		EventType:      "order.placed",
		Payload:        []byte(`{"total":10}`),
		OccurredAt:     time.Now().UTC(),
	}
}

func TestEventStore(t *testing.T) {
	var (
		db    = newTestDB(t)
		store = NewEventStore(db)
	)

	t.Run("append and load roundtrip", func(t *testing.T) {
		ev := pgEvent("t1", "rt", 1)
		ev.Metadata = map[string]string{"correlation_id": "abc"}

		res, err := store.Append(t.Context(), "t1", "order", "rt", 0, []es.DomainEvent{ev})
		require.NoError(t, err)
		require.Equal(t, es.Version(1), res.LastVersion)
		require.NotZero(t, res.LastGlobalSeq)

		events, err := store.LoadStream(t.Context(), "t1", "order", "rt")
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.Equal(t, ev.EventID, events[0].EventID)
		require.Equal(t, res.LastGlobalSeq, events[0].GlobalSeq)
		require.JSONEq(t, `{"total":10}`, string(events[0].Payload))
		require.Equal(t, map[string]string{"correlation_id": "abc"}, events[0].Metadata)
		require.False(t, events[0].OccurredAt.IsZero())
	})

	t.Run("stale expected version conflicts", func(t *testing.T) {
		_, err := store.Append(t.Context(), "t1", "order", "occ", 0, []es.DomainEvent{pgEvent("t1", "occ", 1)})
		require.NoError(t, err)

		_, err = store.Append(t.Context(), "t1", "order", "occ", 0, []es.DomainEvent{pgEvent("t1", "occ", 1)})
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)

		// an expectation past the head must not create a gap
		_, err = store.Append(t.Context(), "t1", "order", "occ", 9, []es.DomainEvent{pgEvent("t1", "occ", 10)})
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)
	})

	t.Run("concurrent writers: exactly one wins", func(t *testing.T) {
		const writers = 8

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			conflicts int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Append(t.Context(), "t1", "order", "race", 0, []es.DomainEvent{pgEvent("t1", "race", 1)})

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, es.ErrConcurrencyConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		require.Equal(t, 1, wins)
		require.Equal(t, writers-1, conflicts)

		events, err := store.LoadStream(t.Context(), "t1", "order", "race")
		require.NoError(t, err)
		require.Len(t, events, 1)
	})

	t.Run("batch is atomic", func(t *testing.T) {
		first := pgEvent("t1", "atomic", 1)
		second := pgEvent("t1", "atomic", 2)
		second.EventID = first.EventID // duplicate event id, insert fails

		_, err := store.Append(t.Context(), "t1", "order", "atomic", 0, []es.DomainEvent{first, second})
		require.Error(t, err)

		_, err = store.LoadStream(t.Context(), "t1", "order", "atomic")
		require.ErrorIs(t, err, es.ErrAggregateNotFound)
	})

	t.Run("load options", func(t *testing.T) {
		for i := 1; i <= 4; i++ {
			_, err := store.Append(t.Context(), "t1", "order", "opts", es.Version(i-1), []es.DomainEvent{
				pgEvent("t1", "opts", es.Version(i)),
			})
			require.NoError(t, err)
		}

		events, err := store.LoadStream(t.Context(), "t1", "order", "opts", es.WithAfterVersion(2))
		require.NoError(t, err)
		require.Len(t, events, 2)
		require.Equal(t, es.Version(3), events[0].SequenceNumber)

		events, err = store.LoadStream(t.Context(), "t1", "order", "opts", es.WithLimit(1))
		require.NoError(t, err)
		require.Len(t, events, 1)
	})

	t.Run("global order is ascending", func(t *testing.T) {
		events, err := store.LoadGlobal(t.Context())
		require.NoError(t, err)
		require.NotEmpty(t, events)
		for i := 1; i < len(events); i++ {
			require.Greater(t, events[i].GlobalSeq, events[i-1].GlobalSeq)
		}
	})

	t.Run("load by type is tenant scoped", func(t *testing.T) {
		ev := pgEvent("t2", "other", 1)
		_, err := store.Append(t.Context(), "t2", "order", "other", 0, []es.DomainEvent{ev})
		require.NoError(t, err)

		events, err := store.LoadByType(t.Context(), "t2", "order.placed")
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.Equal(t, ev.EventID, events[0].EventID)
	})

	t.Run("unknown stream", func(t *testing.T) {
		_, err := store.LoadStream(t.Context(), "t1", "order", "nope")
		require.ErrorIs(t, err, es.ErrAggregateNotFound)
	})
}
