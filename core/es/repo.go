package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"
)

type (
	repoOptions struct {
		snapshots     SnapshotStore
		snapshotEvery Version
		schemaVersion int
		metrics       ESMetrics
	}

	RepositoryOption interface{ applyToRepository(*repoOptions) }

	snapshotStoreOption valueOption[SnapshotStore]
	snapshotEveryOption valueOption[Version]
	schemaVersionOption valueOption[int]

	// Repository rehydrates aggregates from their event stream and persists
	// new events with optimistic concurrency.
	Repository interface {
		Load(ctx context.Context, agg Aggregate) error
		Save(ctx context.Context, agg Aggregate) (*AppendResult, error)
	}
)

func (o snapshotStoreOption) applyToRepository(r *repoOptions) { r.snapshots = o.v }
func (o snapshotEveryOption) applyToRepository(r *repoOptions) { r.snapshotEvery = o.v }
func (o schemaVersionOption) applyToRepository(r *repoOptions) { r.schemaVersion = o.v }
func (o MetricsOption) applyToRepository(r *repoOptions)       { r.metrics = o.v }

// WithSnapshots enables snapshot-assisted loads backed by store.
func WithSnapshots(store SnapshotStore) RepositoryOption { return snapshotStoreOption{store} }

// WithSnapshotEvery writes a new snapshot whenever a save pushes the
// aggregate version across a multiple of n. Zero disables the policy.
func WithSnapshotEvery(n Version) RepositoryOption { return snapshotEveryOption{n} }

// WithSnapshotSchemaVersion pins the snapshot payload schema. Loads ignore
// snapshots written under a different schema version.
func WithSnapshotSchemaVersion(v int) RepositoryOption { return schemaVersionOption{v} }

type repository struct {
	log           *slog.Logger
	store         EventStore
	registry      *EventRegistry
	snapshots     SnapshotStore
	snapshotEvery Version
	schemaVersion int
	metrics       ESMetrics
}

func NewRepository(
	log *slog.Logger,
	store EventStore,
	registry *EventRegistry,
	opts ...RepositoryOption,
) Repository {
	options := repoOptions{schemaVersion: 1, metrics: NopESMetrics()}
	for _, opt := range opts {
		opt.applyToRepository(&options)
	}
	return &repository{
		log:           log.With(slog.String("repo", fmt.Sprintf("%T", store))),
		store:         store,
		registry:      registry,
		snapshots:     options.snapshots,
		snapshotEvery: options.snapshotEvery,
		schemaVersion: options.schemaVersion,
		metrics:       options.metrics,
	}
}

// Load rehydrates agg from the store, restoring a snapshot first when one is
// configured and usable. A missing or schema-incompatible snapshot falls back
// to full replay; it is never fatal.
func (r *repository) Load(ctx context.Context, agg Aggregate) (err error) {
	aggType := agg.GetAggType()
	if aggType == "" {
		return errors.New("aggregate type is empty")
	}
	aggID := agg.GetID()
	if aggID == "" {
		return errors.New("aggregate id is empty")
	}
	tenantID := agg.GetTenantID()
	if tenantID == "" {
		return errors.New("tenant id is empty")
	}
	if len(agg.Uncommitted()) != 0 {
		return errors.New("aggregate has uncommitted events")
	}

	defer r.metrics.RepoLoadDuration(aggType).ObserveDuration()

	log := r.log.With(
		slog.Group(
			"agg",
			slog.String("tenant_id", tenantID),
			slog.String("type", aggType),
			slog.String("id", aggID),
		),
	)

	if r.snapshots != nil {
		err = RestoreFromSnapshot(ctx, r.snapshots, agg, r.schemaVersion)
		switch {
		case err == nil:
			log.Debug("snapshot restored", agg.GetVersion().SlogAttr())
		case errors.Is(err, ErrSnapshotNotFound), errors.Is(err, ErrSnapshotSchemaMismatch):
			// full replay
		default:
			return fmt.Errorf("failed to restore snapshot: %w", err)
		}
	}

	loaded, err := r.store.LoadStream(
		ctx,
		tenantID,
		aggType,
		aggID,
		WithAfterVersion(agg.GetVersion()),
	)
	if err != nil {
		if errors.Is(err, ErrAggregateNotFound) && agg.GetVersion() > 0 {
			// snapshot covered the whole stream
			return nil
		}
		return err
	}

	for _, e := range loaded {
		expect := agg.GetVersion() + 1
		if e.SequenceNumber != expect {
			return fmt.Errorf("stream gap: expect version %d, got %d", expect, e.SequenceNumber)
		}
		evt, err := r.registry.Decode(e)
		if err != nil {
			return err
		}
		if err := agg.Apply(evt); err != nil {
			return err
		}
		agg.setVersion(e.SequenceNumber)
	}

	if agg.GetVersion() == 0 {
		return ErrAggregateNotFound
	}
	return nil
}

// Save appends agg's uncommitted events with the expected-version check and,
// on success, applies the snapshot-every-N policy.
func (r *repository) Save(ctx context.Context, agg Aggregate) (*AppendResult, error) {
	uncommitted := agg.Uncommitted()
	if len(uncommitted) == 0 {
		return &AppendResult{LastVersion: agg.GetVersion()}, nil
	}
	aggType := agg.GetAggType()
	if aggType == "" {
		return nil, errors.New("aggregate type is empty")
	}
	aggID := agg.GetID()
	if aggID == "" {
		return nil, errors.New("aggregate id is empty")
	}
	tenantID := agg.GetTenantID()
	if tenantID == "" {
		return nil, errors.New("tenant id is empty")
	}

	defer r.metrics.RepoSaveDuration(aggType).ObserveDuration()

	expect := agg.GetVersion()
	events := make([]DomainEvent, 0, len(uncommitted))
	v := expect
	for _, ev := range uncommitted {
		payload, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		v++
		events = append(events, DomainEvent{
			EventID:        uuid.NewString(),
			TenantID:       tenantID,
			AggregateType:  aggType,
			AggregateID:    aggID,
			SequenceNumber: v,
			EventType:      EventTypeOf(ev),
			Payload:        payload,
			OccurredAt:     time.Now().UTC(),
		})
	}

	res, err := r.store.Append(ctx, tenantID, aggType, aggID, expect, events)
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			r.metrics.ConcurrencyConflict(aggType)
		}
		return nil, fmt.Errorf("failed to save tenant_id=%s agg_type=%s agg_id=%s: %w", tenantID, aggType, aggID, err)
	}

	agg.setVersion(v)
	agg.ClearUncommitted()

	if r.shouldSnapshot(expect, v) {
		if err := r.snapshot(ctx, agg); err != nil {
			return nil, err
		}
	}

	r.log.Debug(
		"saved",
		slog.Group(
			"agg",
			slog.String("tenant_id", tenantID),
			slog.String("type", aggType),
			slog.String("id", aggID),
			agg.GetVersion().SlogAttr(),
		),
		slog.Int("num_events", len(events)),
	)

	return res, nil
}

// shouldSnapshot reports whether the save crossed a snapshot boundary.
func (r *repository) shouldSnapshot(before, after Version) bool {
	if r.snapshots == nil || r.snapshotEvery == 0 {
		return false
	}
	return after/r.snapshotEvery > before/r.snapshotEvery
}

func (r *repository) snapshot(ctx context.Context, agg Aggregate) error {
	defer r.metrics.SnapshotSaveDuration(agg.GetAggType()).ObserveDuration()

	ss, err := CreateSnapshot(agg, r.schemaVersion)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	if err := r.snapshots.Save(ctx, ss); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	r.log.Debug("snapshot saved", ss.logAttrs())
	return nil
}

var _ Repository = (*repository)(nil)

// === TypedRepository ===

type TypedRepository[T Aggregate] interface {
	New(tenantID, id string) T
	GetByID(ctx context.Context, tenantID, id string) (T, error)
	GetOrCreate(ctx context.Context, tenantID, id string) (T, error)
	Load(ctx context.Context, agg T) error
	Save(ctx context.Context, agg T) (*AppendResult, error)
}

type typedRepo[T Aggregate] struct {
	r   Repository
	log *slog.Logger
}

func NewTypedRepository[T Aggregate](
	log *slog.Logger,
	store EventStore,
	registry *EventRegistry,
	opts ...RepositoryOption,
) TypedRepository[T] {
	return NewTypedRepositoryFrom[T](log, NewRepository(log, store, registry, opts...))
}

func NewTypedRepositoryFrom[T Aggregate](log *slog.Logger, r Repository) TypedRepository[T] {
	return &typedRepo[T]{r: r, log: log.With(slog.String("repo", fmt.Sprintf("%T", *new(T))))}
}

func (t *typedRepo[T]) New(tenantID, id string) T {
	var a T
	rt := reflect.TypeOf((*T)(nil)).Elem()
	if rt.Kind() == reflect.Pointer {
		a = reflect.New(rt.Elem()).Interface().(T)
	} else {
		a = *new(T)
	}
	a.SetID(id)
	a.SetTenantID(tenantID)
	return a
}

func (t *typedRepo[T]) GetByID(ctx context.Context, tenantID, id string) (a T, err error) {
	if id == "" {
		return a, errors.New("aggregate id is empty")
	}
	a = t.New(tenantID, id)
	if err = t.r.Load(ctx, a); err != nil {
		return
	}
	return a, nil
}

func (t *typedRepo[T]) GetOrCreate(ctx context.Context, tenantID, id string) (a T, err error) {
	if id == "" {
		return a, errors.New("aggregate id is empty")
	}
	a = t.New(tenantID, id)
	err = t.r.Load(ctx, a)
	if err != nil {
		if !errors.Is(err, ErrAggregateNotFound) {
			return a, err
		}
		if c, ok := any(a).(interface{ Create(id string) error }); ok {
			if err = c.Create(id); err != nil {
				return a, err
			}
		} else {
			return a, fmt.Errorf("aggregate %T cannot self-create", a)
		}
		if _, err = t.Save(ctx, a); err != nil {
			return a, err
		}
		t.log.Debug("created", slog.String("tenant_id", tenantID), slog.String("id", id))
	}
	return a, nil
}

func (t *typedRepo[T]) Load(ctx context.Context, agg T) error { return t.r.Load(ctx, agg) }

func (t *typedRepo[T]) Save(ctx context.Context, agg T) (*AppendResult, error) {
	return t.r.Save(ctx, agg)
}
