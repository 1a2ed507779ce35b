package perstream

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduler_Go(t *testing.T) {
	t.Run("serial per key", func(t *testing.T) {
		s := New()
		defer s.Close()

		var (
			mu  sync.Mutex
			got []int
			wg  sync.WaitGroup
		)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			require.NoError(t, s.Go("k1", func() {
				defer wg.Done()
				mu.Lock()
				got = append(got, i)
				mu.Unlock()
			}))
		}
		wg.Wait()

		require.Len(t, got, 50)
		for i, v := range got {
			require.Equal(t, i, v)
		}
	})

	t.Run("keys run concurrently", func(t *testing.T) {
		s := New()
		defer s.Close()

		var (
			wg      sync.WaitGroup
			release = make(chan struct{})
			entered = make(chan string, 2)
		)
		for _, key := range []string{"k1", "k2"} {
			wg.Add(1)
			require.NoError(t, s.Go(key, func() {
				defer wg.Done()
				entered <- key
				<-release
			}))
		}

		// both lanes reach their task even though neither finished
		seen := map[string]bool{}
		for i := 0; i < 2; i++ {
			select {
			case k := <-entered:
				seen[k] = true
			case <-time.After(2 * time.Second):
				t.Fatal("lanes did not run concurrently")
			}
		}
		require.Len(t, seen, 2)
		close(release)
		wg.Wait()
	})

	t.Run("small queue preserves order", func(t *testing.T) {
		s := New(WithQueueSize(1))
		defer s.Close()

		var (
			mu  sync.Mutex
			got []int
			wg  sync.WaitGroup
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			require.NoError(t, s.Go("k1", func() {
				defer wg.Done()
				time.Sleep(time.Millisecond)
				mu.Lock()
				got = append(got, i)
				mu.Unlock()
			}))
		}
		wg.Wait()

		for i, v := range got {
			require.Equal(t, i, v)
		}
	})
}

func TestScheduler_Close(t *testing.T) {
	t.Run("rejects work after close", func(t *testing.T) {
		s := New()
		require.NoError(t, s.Go("k1", func() {}))
		s.Close()

		require.ErrorIs(t, s.Go("k1", func() {}), ErrClosed)

		// closing twice is fine
		s.Close()
	})

	t.Run("waits for queued tasks", func(t *testing.T) {
		s := New()

		started := make(chan struct{})
		var finished atomic.Bool
		require.NoError(t, s.Go("k1", func() {
			close(started)
			time.Sleep(200 * time.Millisecond)
			finished.Store(true)
		}))
		require.NoError(t, s.Go("k2", func() {
			time.Sleep(100 * time.Millisecond)
		}))

		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("task never started")
		}

		s.Close()
		require.True(t, finished.Load(), "Close returned before queued work finished")
	})
}
