package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type (
	// CursorStore persists how far a named publisher has swept the global
	// order. Get returns 0 when no cursor exists yet.
	CursorStore interface {
		Get(ctx context.Context, publisherName string) (uint64, error)
		Set(ctx context.Context, publisherName string, globalSeq uint64) error
	}

	relayOpts struct {
		interval  time.Duration
		batchSize int
		safetyLag time.Duration
		log       *slog.Logger
		metrics   ESMetrics
	}

	RelayOption interface{ applyToRelayOpts(*relayOpts) }

	relayIntervalOption  valueOption[time.Duration]
	relayBatchSizeOption valueOption[int]
	relaySafetyLagOption valueOption[time.Duration]
)

func (o relayIntervalOption) applyToRelayOpts(r *relayOpts)  { r.interval = o.v }
func (o relayBatchSizeOption) applyToRelayOpts(r *relayOpts) { r.batchSize = o.v }
func (o relaySafetyLagOption) applyToRelayOpts(r *relayOpts) { r.safetyLag = o.v }
func (o LogOption) applyToRelayOpts(r *relayOpts)            { r.log = o.v }
func (o MetricsOption) applyToRelayOpts(r *relayOpts)        { r.metrics = o.v }

// WithRelayInterval sets the pause between sweep passes.
func WithRelayInterval(d time.Duration) RelayOption { return relayIntervalOption{d} }

// WithRelayBatchSize caps how many events one pass loads.
func WithRelayBatchSize(n int) RelayOption { return relayBatchSizeOption{n} }

// WithRelaySafetyLag holds back events younger than d. Store-assigned global
// sequences can become visible out of commit order for a short window;
// sweeping only past the lag keeps the cursor from skipping a sequence that
// has not surfaced yet.
func WithRelaySafetyLag(d time.Duration) RelayOption { return relaySafetyLagOption{d} }

// Relay repairs the publish-after-commit gap: events whose post-commit
// publish was lost (crash, transport outage) are re-published by sweeping
// the global order past a persisted cursor. Publish dedupe on the transport
// (message id = event id) makes overlap with direct publishes harmless.
type Relay struct {
	name      string
	store     EventStore
	publisher Publisher
	cursor    CursorStore
	interval  time.Duration
	batchSize int
	safetyLag time.Duration
	log       *slog.Logger
	metrics   ESMetrics
}

func NewRelay(
	name string,
	store EventStore,
	publisher Publisher,
	cursor CursorStore,
	opts ...RelayOption,
) *Relay {
	options := relayOpts{
		interval:  2 * time.Second,
		batchSize: 256,
		log:       slog.Default(),
		metrics:   NopESMetrics(),
	}
	for _, opt := range opts {
		opt.applyToRelayOpts(&options)
	}
	return &Relay{
		name:      name,
		store:     store,
		publisher: publisher,
		cursor:    cursor,
		interval:  options.interval,
		batchSize: options.batchSize,
		safetyLag: options.safetyLag,
		log:       options.log.With(slog.String("relay", name)),
		metrics:   options.metrics,
	}
}

// Sweep performs one pass: load events past the cursor, publish them in
// global order, advance the cursor after each successful publish. It returns
// the number of events published.
func (r *Relay) Sweep(ctx context.Context) (int, error) {
	from, err := r.cursor.Get(ctx, r.name)
	if err != nil {
		return 0, fmt.Errorf("failed to read cursor: %w", err)
	}

	events, err := r.store.LoadGlobal(ctx, WithAfterGlobalSeq(from), WithLimit(r.batchSize))
	if err != nil {
		return 0, fmt.Errorf("failed to load global order: %w", err)
	}

	cutoff := time.Now().Add(-r.safetyLag)
	published := 0
	for _, ev := range events {
		if r.safetyLag > 0 && ev.OccurredAt.After(cutoff) {
			break
		}
		if err := r.publisher.Publish(ctx, ev); err != nil {
			r.metrics.EventPublished(ev.EventType, false)
			return published, fmt.Errorf("failed to publish global_seq=%d: %w", ev.GlobalSeq, err)
		}
		r.metrics.EventPublished(ev.EventType, true)
		if err := r.cursor.Set(ctx, r.name, ev.GlobalSeq); err != nil {
			return published, fmt.Errorf("failed to advance cursor: %w", err)
		}
		published++
	}

	if len(events) > published {
		r.metrics.RelayLag(r.name, int64(len(events)-published))
	} else {
		r.metrics.RelayLag(r.name, 0)
	}

	if published > 0 {
		r.log.Debug("swept", slog.Int("published", published), slog.Uint64("cursor", events[published-1].GlobalSeq))
	}
	return published, nil
}

// Run sweeps until ctx is cancelled. Sweep failures are logged and retried on
// the next tick; they never stop the loop.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info("starting relay", slog.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					continue
				}
				r.log.Error("sweep failed", slog.Any("error", err))
			}
		}
	}
}

// === In-Memory CursorStore ===

type MemoryCursorStore struct {
	mu      sync.RWMutex
	cursors map[string]uint64
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{cursors: map[string]uint64{}}
}

func (m *MemoryCursorStore) Get(_ context.Context, publisherName string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cursors[publisherName], nil
}

func (m *MemoryCursorStore) Set(_ context.Context, publisherName string, globalSeq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[publisherName] = globalSeq
	return nil
}

var _ CursorStore = (*MemoryCursorStore)(nil)
