package pg

import "context"

// Bootstrap DDL. Idempotent so tests and fresh deployments can call
// EnsureSchema unconditionally; versioned migration tooling is a deployment
// concern outside this package.
const schema = `
CREATE TABLE IF NOT EXISTS domain_events (
    global_sequence_id  BIGSERIAL PRIMARY KEY,
    event_id            UUID UNIQUE NOT NULL,
    stream_id           TEXT NOT NULL,
    aggregate_id        TEXT NOT NULL,
    aggregate_type      TEXT NOT NULL,
    sequence_number     BIGINT NOT NULL,
    tenant_id           TEXT NOT NULL,
    event_type          TEXT NOT NULL,
    payload             JSON NOT NULL,
    metadata            JSON,
    timestamp_utc       TIMESTAMPTZ NOT NULL,
    CONSTRAINT domain_events_stream_version_key UNIQUE (tenant_id, aggregate_id, sequence_number)
);

CREATE INDEX IF NOT EXISTS domain_events_stream_idx
    ON domain_events (tenant_id, stream_id, sequence_number);
CREATE INDEX IF NOT EXISTS domain_events_type_idx
    ON domain_events (tenant_id, event_type, global_sequence_id);

CREATE TABLE IF NOT EXISTS aggregate_snapshots (
    aggregate_id          TEXT NOT NULL,
    tenant_id             TEXT NOT NULL,
    aggregate_type        TEXT NOT NULL,
    last_sequence_number  BIGINT NOT NULL,
    snapshot_payload      JSON NOT NULL,
    version               INT NOT NULL,
    timestamp_utc         TIMESTAMPTZ NOT NULL,
    CONSTRAINT aggregate_snapshots_key UNIQUE (tenant_id, aggregate_id)
);

CREATE TABLE IF NOT EXISTS processed_events (
    projector_name  TEXT NOT NULL,
    event_id        UUID NOT NULL,
    tenant_id       TEXT NOT NULL,
    processed_at    TIMESTAMPTZ NOT NULL,
    CONSTRAINT processed_events_key UNIQUE (projector_name, event_id)
);

CREATE TABLE IF NOT EXISTS publisher_cursors (
    publisher_name       TEXT PRIMARY KEY,
    last_global_sequence BIGINT NOT NULL,
    updated_at           TIMESTAMPTZ NOT NULL
);
`

// EnsureSchema creates the tables and indexes if they do not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, schema)
	return mapStoreErr(err)
}
