package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ledgerline/ledgerline/core/es"
)

type (
	storeOpts struct {
		log     *slog.Logger
		metrics es.ESMetrics
	}

	StoreOption interface{ applyToStoreOpts(*storeOpts) }

	logOption     struct{ v *slog.Logger }
	metricsOption struct{ v es.ESMetrics }
)

func (o logOption) applyToStoreOpts(s *storeOpts)     { s.log = o.v }
func (o metricsOption) applyToStoreOpts(s *storeOpts) { s.metrics = o.v }

func WithLog(l *slog.Logger) StoreOption     { return logOption{l} }
func WithMetrics(m es.ESMetrics) StoreOption { return metricsOption{m} }

// EventStore is the PostgreSQL implementation of es.EventStore. The
// BIGSERIAL primary key assigns the global order; the unique constraint on
// (tenant_id, aggregate_id, sequence_number) enforces optimistic concurrency.
type EventStore struct {
	db      *DB
	log     *slog.Logger
	metrics es.ESMetrics
}

func NewEventStore(db *DB, opts ...StoreOption) *EventStore {
	options := storeOpts{log: slog.Default(), metrics: es.NopESMetrics()}
	for _, opt := range opts {
		opt.applyToStoreOpts(&options)
	}
	return &EventStore{
		db:      db,
		log:     options.log.With(slog.String("store", "pg")),
		metrics: options.metrics,
	}
}

const selectColumns = `global_sequence_id, event_id, aggregate_id, aggregate_type,
sequence_number, tenant_id, event_type, payload, metadata, timestamp_utc`

// Append inserts all events inside one transaction. Sequence numbers continue
// at expectedVersion+1. A concurrent writer that committed first trips the
// unique constraint; the transaction rolls back with nothing written and the
// caller gets ErrConcurrencyConflict.
func (s *EventStore) Append(
	ctx context.Context,
	tenantID, aggregateType, aggregateID string,
	expectedVersion es.Version,
	events []es.DomainEvent,
) (res *es.AppendResult, err error) {
	if len(events) == 0 {
		return nil, es.ErrStoreNoEvents
	}
	if tenantID == "" {
		return nil, errors.New("tenant id is empty")
	}
	if aggregateType == "" {
		return nil, errors.New("aggregate type is empty")
	}
	if aggregateID == "" {
		return nil, errors.New("aggregate id is empty")
	}

	defer s.metrics.StoreAppendDuration(aggregateType).ObserveDuration()

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// cheap early check: an expected version past the stream head would
	// insert a gap instead of colliding, so it must be rejected here
	var head uint64
	err = tx.QueryRow(
		ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM domain_events
		 WHERE tenant_id = $1 AND aggregate_id = $2`,
		tenantID, aggregateID,
	).Scan(&head)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if es.Version(head) != expectedVersion {
		return nil, fmt.Errorf(
			"%w: expected version %d, stream at %d (tenant_id=%s agg_id=%s)",
			es.ErrConcurrencyConflict, expectedVersion, head, tenantID, aggregateID,
		)
	}

	appended := make([]es.DomainEvent, 0, len(events))
	next := expectedVersion
	for _, e := range events {
		next++
		e.TenantID = tenantID
		e.AggregateType = aggregateType
		e.AggregateID = aggregateID
		e.SequenceNumber = next
		if e.OccurredAt.IsZero() {
			e.OccurredAt = time.Now().UTC()
		}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("failed to validate event: %w", err)
		}

		var metadata []byte
		if e.Metadata != nil {
			if metadata, err = json.Marshal(e.Metadata); err != nil {
				return nil, err
			}
		}

		err = tx.QueryRow(
			ctx,
			`INSERT INTO domain_events
			 (event_id, stream_id, aggregate_id, aggregate_type, sequence_number,
			  tenant_id, event_type, payload, metadata, timestamp_utc)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 RETURNING global_sequence_id`,
			e.EventID, e.StreamID(), e.AggregateID, e.AggregateType, int64(e.SequenceNumber),
			e.TenantID, e.EventType, []byte(e.Payload), metadata, e.OccurredAt,
		).Scan(&e.GlobalSeq)
		if err != nil {
			if isUniqueViolation(err, "domain_events_stream_version_key") {
				// another writer committed first
				return nil, fmt.Errorf(
					"%w: version %d already committed (tenant_id=%s agg_id=%s)",
					es.ErrConcurrencyConflict, e.SequenceNumber, tenantID, aggregateID,
				)
			}
			return nil, mapStoreErr(err)
		}
		appended = append(appended, e)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, mapStoreErr(err)
	}

	last := appended[len(appended)-1]
	s.metrics.EventsAppended(aggregateType, len(appended))
	s.log.Debug(
		"append",
		slog.String("tenant_id", tenantID),
		slog.String("stream_id", last.StreamID()),
		slog.Uint64("last_global_seq", last.GlobalSeq),
		slog.Int("num_events", len(appended)),
	)

	return &es.AppendResult{
		Events:        appended,
		LastVersion:   last.SequenceNumber,
		LastGlobalSeq: last.GlobalSeq,
	}, nil
}

func (s *EventStore) LoadStream(
	ctx context.Context,
	tenantID, aggregateType, aggregateID string,
	opts ...es.StoreLoadOption,
) ([]es.DomainEvent, error) {
	if tenantID == "" {
		return nil, errors.New("tenant id is empty")
	}
	if aggregateID == "" {
		return nil, errors.New("aggregate id is empty")
	}

	defer s.metrics.StoreLoadDuration(aggregateType).ObserveDuration()

	options := es.NewLoadOptions(opts...)

	q := fmt.Sprintf(
		`SELECT %s FROM domain_events
		 WHERE tenant_id = $1 AND stream_id = $2 AND sequence_number > $3
		 ORDER BY sequence_number ASC %s`,
		selectColumns, limitClause(options.Limit, 4),
	)
	args := []any{tenantID, es.StreamID(aggregateType, aggregateID), int64(options.AfterVersion)}
	if options.Limit > 0 {
		args = append(args, options.Limit)
	}

	events, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 && options.AfterVersion == 0 {
		return nil, es.ErrAggregateNotFound
	}
	return events, nil
}

func (s *EventStore) LoadByType(
	ctx context.Context,
	tenantID, eventType string,
	opts ...es.StoreLoadOption,
) ([]es.DomainEvent, error) {
	if tenantID == "" {
		return nil, errors.New("tenant id is empty")
	}
	if eventType == "" {
		return nil, errors.New("event type is empty")
	}

	options := es.NewLoadOptions(opts...)

	q := fmt.Sprintf(
		`SELECT %s FROM domain_events
		 WHERE tenant_id = $1 AND event_type = $2 AND global_sequence_id > $3
		 ORDER BY global_sequence_id ASC %s`,
		selectColumns, limitClause(options.Limit, 4),
	)
	args := []any{tenantID, eventType, int64(options.AfterGlobalSeq)}
	if options.Limit > 0 {
		args = append(args, options.Limit)
	}
	return s.query(ctx, q, args...)
}

func (s *EventStore) LoadGlobal(ctx context.Context, opts ...es.StoreLoadOption) ([]es.DomainEvent, error) {
	options := es.NewLoadOptions(opts...)

	q := fmt.Sprintf(
		`SELECT %s FROM domain_events
		 WHERE global_sequence_id > $1
		 ORDER BY global_sequence_id ASC %s`,
		selectColumns, limitClause(options.Limit, 2),
	)
	args := []any{int64(options.AfterGlobalSeq)}
	if options.Limit > 0 {
		args = append(args, options.Limit)
	}
	return s.query(ctx, q, args...)
}

func limitClause(limit, arg int) string {
	if limit > 0 {
		return fmt.Sprintf("LIMIT $%d", arg)
	}
	return ""
}

func (s *EventStore) query(ctx context.Context, q string, args ...any) ([]es.DomainEvent, error) {
	rows, err := s.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	defer rows.Close()

	out := make([]es.DomainEvent, 0)
	for rows.Next() {
		var (
			e        es.DomainEvent
			seq      int64
			payload  []byte
			metadata []byte
		)
		if err := rows.Scan(
			&e.GlobalSeq, &e.EventID, &e.AggregateID, &e.AggregateType,
			&seq, &e.TenantID, &e.EventType, &payload, &metadata, &e.OccurredAt,
		); err != nil {
			return nil, mapStoreErr(err)
		}
		e.SequenceNumber = es.Version(seq)
		e.Payload = payload
		if metadata != nil {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapStoreErr(err)
	}
	return out, nil
}

var _ es.EventStore = (*EventStore)(nil)
