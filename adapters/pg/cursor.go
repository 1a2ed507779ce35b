package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ledgerline/ledgerline/core/es"
)

// CursorStore persists relay publish cursors, one row per publisher name.
type CursorStore struct {
	db *DB
}

func NewCursorStore(db *DB) *CursorStore { return &CursorStore{db: db} }

func (c *CursorStore) Get(ctx context.Context, publisherName string) (uint64, error) {
	var last int64
	err := c.db.Pool.QueryRow(
		ctx,
		`SELECT last_global_sequence FROM publisher_cursors WHERE publisher_name = $1`,
		publisherName,
	).Scan(&last)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, mapStoreErr(err)
	}
	return uint64(last), nil
}

func (c *CursorStore) Set(ctx context.Context, publisherName string, globalSeq uint64) error {
	_, err := c.db.Pool.Exec(
		ctx,
		`INSERT INTO publisher_cursors (publisher_name, last_global_sequence, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (publisher_name) DO UPDATE SET
		   last_global_sequence = EXCLUDED.last_global_sequence,
		   updated_at = EXCLUDED.updated_at`,
		publisherName, int64(globalSeq), time.Now().UTC(),
	)
	return mapStoreErr(err)
}

var _ es.CursorStore = (*CursorStore)(nil)
