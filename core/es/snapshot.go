package es

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type (
	// Snapshot is a point-in-time compacted projection of one aggregate's
	// state. At most one snapshot exists per (tenant, aggregate); saving
	// replaces the prior one. A snapshot is never authoritative on its own:
	// readers continue replay from LastSeq+1 through the event store.
	Snapshot struct {
		TenantID      string    `json:"tenant_id"`
		AggregateType string    `json:"aggregate_type"`
		AggregateID   string    `json:"aggregate_id"`
		// LastSeq is the sequence number of the newest event folded in.
		LastSeq       Version   `json:"last_seq"`
		Payload       []byte    `json:"payload"`
		SchemaVersion int       `json:"schema_version"`
		CreatedAt     time.Time `json:"created_at"`
	}

	// Snapshottable lets an aggregate control its snapshot serialization.
	// Aggregates without it fall back to JSON marshaling.
	Snapshottable interface {
		Snapshot() (data []byte, err error)
		RestoreSnapshot(data []byte) error
	}

	// SnapshotStore persists snapshots with upsert semantics keyed by
	// (tenant, aggregate). Save must not roll LastSeq backwards.
	SnapshotStore interface {
		Save(ctx context.Context, snapshot *Snapshot) error
		Load(ctx context.Context, tenantID, aggregateType, aggregateID string) (*Snapshot, error)
	}
)

func (s *Snapshot) logAttrs() slog.Attr {
	return slog.Group(
		"snapshot",
		slog.String("tenant_id", s.TenantID),
		slog.String("aggregate_type", s.AggregateType),
		slog.String("aggregate_id", s.AggregateID),
		s.LastSeq.SlogAttrWithKey("last_seq"),
		slog.Int("schema_version", s.SchemaVersion),
		slog.Int("size", len(s.Payload)),
	)
}

// CreateSnapshot serializes agg into a snapshot at its current version.
func CreateSnapshot(agg Aggregate, schemaVersion int) (*Snapshot, error) {
	var (
		data []byte
		err  error
	)
	if s, ok := any(agg).(Snapshottable); ok {
		data, err = s.Snapshot()
	} else {
		data, err = json.Marshal(agg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	return &Snapshot{
		TenantID:      agg.GetTenantID(),
		AggregateType: agg.GetAggType(),
		AggregateID:   agg.GetID(),
		LastSeq:       agg.GetVersion(),
		Payload:       data,
		SchemaVersion: schemaVersion,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// RestoreFromSnapshot loads the aggregate's snapshot and applies it.
// A schema version different from want is reported as
// ErrSnapshotSchemaMismatch so callers fall back to full replay.
func RestoreFromSnapshot(ctx context.Context, store SnapshotStore, agg Aggregate, want int) error {
	ss, err := store.Load(ctx, agg.GetTenantID(), agg.GetAggType(), agg.GetID())
	if err != nil {
		return err
	}
	if ss.SchemaVersion != want {
		return fmt.Errorf("%w: have %d, want %d", ErrSnapshotSchemaMismatch, ss.SchemaVersion, want)
	}
	if s, ok := any(agg).(Snapshottable); ok {
		err = s.RestoreSnapshot(ss.Payload)
	} else {
		err = json.Unmarshal(ss.Payload, agg)
	}
	if err != nil {
		return fmt.Errorf("failed to restore snapshot: %w", err)
	}
	agg.setVersion(ss.LastSeq)
	return nil
}

// === In-Memory SnapshotStore ===

type MemorySnapshotStore struct {
	mu        sync.Mutex
	log       *slog.Logger
	snapshots map[string]*Snapshot
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{
		log:       slog.Default().With(slog.String("snapshot_store", "memory")),
		snapshots: map[string]*Snapshot{},
	}
}

func (m *MemorySnapshotStore) key(tenantID, aggregateType, aggregateID string) string {
	return tenantID + "/" + StreamID(aggregateType, aggregateID)
}

func (m *MemorySnapshotStore) Save(_ context.Context, snapshot *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := m.key(snapshot.TenantID, snapshot.AggregateType, snapshot.AggregateID)
	if prior, ok := m.snapshots[k]; ok && prior.LastSeq > snapshot.LastSeq {
		return fmt.Errorf("refusing to roll snapshot back from %d to %d", prior.LastSeq, snapshot.LastSeq)
	}
	m.snapshots[k] = snapshot
	m.log.Debug("snapshot saved", snapshot.logAttrs())
	return nil
}

func (m *MemorySnapshotStore) Load(_ context.Context, tenantID, aggregateType, aggregateID string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.snapshots[m.key(tenantID, aggregateType, aggregateID)]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return s, nil
}

var _ SnapshotStore = (*MemorySnapshotStore)(nil)
