package es

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	published []DomainEvent
	failAfter int // fail once this many events were published; 0 disables
}

func (p *capturePublisher) Publish(_ context.Context, event DomainEvent) error {
	if p.failAfter > 0 && len(p.published) >= p.failAfter {
		return errors.New("transport down")
	}
	p.published = append(p.published, event)
	return nil
}

func relayStore(t *testing.T, n int) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	for i := 1; i <= n; i++ {
		_, err := s.Append(t.Context(), "t1", "order", "o1", Version(i-1), []DomainEvent{
			testEvent(fmt.Sprintf("e%d", i), "t1", "o1", Version(i)),
		})
		require.NoError(t, err)
	}
	return s
}

func TestRelay_Sweep(t *testing.T) {
	t.Run("publishes in global order and advances the cursor", func(t *testing.T) {
		var (
			store  = relayStore(t, 3)
			pub    = &capturePublisher{}
			cursor = NewMemoryCursorStore()
		)
		relay := NewRelay("relay", store, pub, cursor)

		n, err := relay.Sweep(t.Context())
		require.NoError(t, err)
		require.Equal(t, 3, n)
		require.Len(t, pub.published, 3)
		for i, ev := range pub.published {
			require.Equal(t, uint64(i+1), ev.GlobalSeq)
		}

		pos, err := cursor.Get(t.Context(), "relay")
		require.NoError(t, err)
		require.Equal(t, uint64(3), pos)

		// a second sweep finds nothing new
		n, err = relay.Sweep(t.Context())
		require.NoError(t, err)
		require.Zero(t, n)
		require.Len(t, pub.published, 3)
	})

	t.Run("resumes past the cursor", func(t *testing.T) {
		var (
			store  = relayStore(t, 4)
			pub    = &capturePublisher{}
			cursor = NewMemoryCursorStore()
		)
		require.NoError(t, cursor.Set(t.Context(), "relay", 2))

		relay := NewRelay("relay", store, pub, cursor)
		n, err := relay.Sweep(t.Context())
		require.NoError(t, err)
		require.Equal(t, 2, n)
		require.Equal(t, uint64(3), pub.published[0].GlobalSeq)
	})

	t.Run("publish failure stops mid-batch without losing position", func(t *testing.T) {
		var (
			store  = relayStore(t, 3)
			pub    = &capturePublisher{failAfter: 1}
			cursor = NewMemoryCursorStore()
		)
		relay := NewRelay("relay", store, pub, cursor)

		n, err := relay.Sweep(t.Context())
		require.Error(t, err)
		require.Equal(t, 1, n)

		pos, err := cursor.Get(t.Context(), "relay")
		require.NoError(t, err)
		require.Equal(t, uint64(1), pos)

		// the next sweep picks up exactly where the failure left off
		pub.failAfter = 0
		n, err = relay.Sweep(t.Context())
		require.NoError(t, err)
		require.Equal(t, 2, n)
		require.Equal(t, uint64(2), pub.published[1].GlobalSeq)
	})

	t.Run("batch size caps one pass", func(t *testing.T) {
		var (
			store  = relayStore(t, 5)
			pub    = &capturePublisher{}
			cursor = NewMemoryCursorStore()
		)
		relay := NewRelay("relay", store, pub, cursor, WithRelayBatchSize(2))

		n, err := relay.Sweep(t.Context())
		require.NoError(t, err)
		require.Equal(t, 2, n)

		n, err = relay.Sweep(t.Context())
		require.NoError(t, err)
		require.Equal(t, 2, n)

		n, err = relay.Sweep(t.Context())
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})

	t.Run("safety lag holds back fresh events", func(t *testing.T) {
		var (
			store  = relayStore(t, 2)
			pub    = &capturePublisher{}
			cursor = NewMemoryCursorStore()
		)
		relay := NewRelay("relay", store, pub, cursor, WithRelaySafetyLag(time.Hour))

		n, err := relay.Sweep(t.Context())
		require.NoError(t, err)
		require.Zero(t, n)

		pos, err := cursor.Get(t.Context(), "relay")
		require.NoError(t, err)
		require.Zero(t, pos)
	})
}

func TestRelay_Run(t *testing.T) {
	var (
		store  = relayStore(t, 2)
		pub    = &capturePublisher{}
		cursor = NewMemoryCursorStore()
	)
	relay := NewRelay("relay", store, pub, cursor, WithRelayInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		pos, err := cursor.Get(context.Background(), "relay")
		return err == nil && pos == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
