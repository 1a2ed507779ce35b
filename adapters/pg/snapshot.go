package pg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/ledgerline/ledgerline/core/es"
)

// SnapshotStore upserts one snapshot row per (tenant, aggregate). The upsert
// is guarded against rolling the snapshot backwards: a save with a lower
// last_sequence_number than the stored row leaves the row unchanged.
type SnapshotStore struct {
	db  *DB
	log *slog.Logger
}

func NewSnapshotStore(db *DB, opts ...StoreOption) *SnapshotStore {
	options := storeOpts{log: slog.Default(), metrics: es.NopESMetrics()}
	for _, opt := range opts {
		opt.applyToStoreOpts(&options)
	}
	return &SnapshotStore{
		db:  db,
		log: options.log.With(slog.String("snapshot_store", "pg")),
	}
}

func (s *SnapshotStore) Save(ctx context.Context, snapshot *es.Snapshot) error {
	if snapshot.TenantID == "" {
		return errors.New("tenant id is empty")
	}
	if snapshot.AggregateID == "" {
		return errors.New("aggregate id is empty")
	}

	tag, err := s.db.Pool.Exec(
		ctx,
		`INSERT INTO aggregate_snapshots
		 (aggregate_id, tenant_id, aggregate_type, last_sequence_number,
		  snapshot_payload, version, timestamp_utc)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT ON CONSTRAINT aggregate_snapshots_key DO UPDATE SET
		   aggregate_type = EXCLUDED.aggregate_type,
		   last_sequence_number = EXCLUDED.last_sequence_number,
		   snapshot_payload = EXCLUDED.snapshot_payload,
		   version = EXCLUDED.version,
		   timestamp_utc = EXCLUDED.timestamp_utc
		 WHERE aggregate_snapshots.last_sequence_number <= EXCLUDED.last_sequence_number`,
		snapshot.AggregateID, snapshot.TenantID, snapshot.AggregateType,
		int64(snapshot.LastSeq), snapshot.Payload, snapshot.SchemaVersion, snapshot.CreatedAt,
	)
	if err != nil {
		return mapStoreErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("refusing to roll snapshot back (tenant_id=%s agg_id=%s last_seq=%d)",
			snapshot.TenantID, snapshot.AggregateID, snapshot.LastSeq)
	}

	s.log.Debug(
		"snapshot saved",
		slog.String("tenant_id", snapshot.TenantID),
		slog.String("aggregate_id", snapshot.AggregateID),
		snapshot.LastSeq.SlogAttrWithKey("last_seq"),
	)
	return nil
}

func (s *SnapshotStore) Load(ctx context.Context, tenantID, aggregateType, aggregateID string) (*es.Snapshot, error) {
	ss := &es.Snapshot{}
	var lastSeq int64
	err := s.db.Pool.QueryRow(
		ctx,
		`SELECT aggregate_id, tenant_id, aggregate_type, last_sequence_number,
		        snapshot_payload, version, timestamp_utc
		 FROM aggregate_snapshots
		 WHERE tenant_id = $1 AND aggregate_id = $2`,
		tenantID, aggregateID,
	).Scan(
		&ss.AggregateID, &ss.TenantID, &ss.AggregateType, &lastSeq,
		&ss.Payload, &ss.SchemaVersion, &ss.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, es.ErrSnapshotNotFound
		}
		return nil, mapStoreErr(err)
	}
	ss.LastSeq = es.Version(lastSeq)
	return ss, nil
}

var _ es.SnapshotStore = (*SnapshotStore)(nil)
