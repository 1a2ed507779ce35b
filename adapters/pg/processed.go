package pg

import (
	"context"
	"log/slog"

	"github.com/ledgerline/ledgerline/core/es"
)

// ProcessedStore is the idempotency ledger on PostgreSQL. The unique
// constraint on (projector_name, event_id) makes Mark idempotent; a handler
// running inside its own transaction can use MarkTx to commit its side
// effects and the ledger entry atomically.
type ProcessedStore struct {
	db  *DB
	log *slog.Logger
}

func NewProcessedStore(db *DB, opts ...StoreOption) *ProcessedStore {
	options := storeOpts{log: slog.Default(), metrics: es.NopESMetrics()}
	for _, opt := range opts {
		opt.applyToStoreOpts(&options)
	}
	return &ProcessedStore{
		db:  db,
		log: options.log.With(slog.String("processed_store", "pg")),
	}
}

func (p *ProcessedStore) Seen(ctx context.Context, projectorName, eventID string) (bool, error) {
	var exists bool
	err := p.db.Pool.QueryRow(
		ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM processed_events
		   WHERE projector_name = $1 AND event_id = $2
		 )`,
		projectorName, eventID,
	).Scan(&exists)
	if err != nil {
		return false, mapStoreErr(err)
	}
	return exists, nil
}

func (p *ProcessedStore) Mark(ctx context.Context, rec es.ProcessedRecord) error {
	_, err := p.db.Pool.Exec(
		ctx,
		`INSERT INTO processed_events (projector_name, event_id, tenant_id, processed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT ON CONSTRAINT processed_events_key DO NOTHING`,
		rec.ProjectorName, rec.EventID, rec.TenantID, rec.ProcessedAt,
	)
	return mapStoreErr(err)
}

// MarkTx inserts the ledger entry on tx so it commits atomically with the
// handler's own writes.
func (p *ProcessedStore) MarkTx(ctx context.Context, tx Execer, rec es.ProcessedRecord) error {
	_, err := tx.Exec(
		ctx,
		`INSERT INTO processed_events (projector_name, event_id, tenant_id, processed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT ON CONSTRAINT processed_events_key DO NOTHING`,
		rec.ProjectorName, rec.EventID, rec.TenantID, rec.ProcessedAt,
	)
	return mapStoreErr(err)
}

var _ es.ProcessedStore = (*ProcessedStore)(nil)
