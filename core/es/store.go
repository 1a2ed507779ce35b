package es

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type (
	valueOption[T any] struct{ v T }

	afterVersionOption   valueOption[Version]
	afterGlobalSeqOption valueOption[uint64]
	limitOption          valueOption[int]

	// LoadOptionsReceiver is implemented by store adapters to receive load
	// option values.
	LoadOptionsReceiver interface {
		SetAfterVersion(Version)
		SetAfterGlobalSeq(uint64)
		SetLimit(int)
	}

	// StoreLoadOption narrows what LoadStream, LoadByType and LoadGlobal
	// return.
	StoreLoadOption interface {
		ApplyToLoadOptions(LoadOptionsReceiver)
	}

	// LoadOptions is the default LoadOptionsReceiver.
	LoadOptions struct {
		AfterVersion   Version
		AfterGlobalSeq uint64
		Limit          int
	}
)

func (l *LoadOptions) SetAfterVersion(v Version)    { l.AfterVersion = v }
func (l *LoadOptions) SetAfterGlobalSeq(seq uint64) { l.AfterGlobalSeq = seq }
func (l *LoadOptions) SetLimit(n int)               { l.Limit = n }

func (o afterVersionOption) ApplyToLoadOptions(r LoadOptionsReceiver)   { r.SetAfterVersion(o.v) }
func (o afterGlobalSeqOption) ApplyToLoadOptions(r LoadOptionsReceiver) { r.SetAfterGlobalSeq(o.v) }
func (o limitOption) ApplyToLoadOptions(r LoadOptionsReceiver)          { r.SetLimit(o.v) }

// WithAfterVersion starts a stream load at version v+1. Used to continue
// replay past a snapshot.
func WithAfterVersion(v Version) StoreLoadOption { return afterVersionOption{v} }

// WithAfterGlobalSeq starts a global-order load past the given sequence.
func WithAfterGlobalSeq(seq uint64) StoreLoadOption { return afterGlobalSeqOption{seq} }

// WithLimit caps the number of returned events. Zero means no cap.
func WithLimit(n int) StoreLoadOption { return limitOption{n} }

// NewLoadOptions folds opts into a LoadOptions value.
func NewLoadOptions(opts ...StoreLoadOption) LoadOptions {
	var l LoadOptions
	for _, opt := range opts {
		opt.ApplyToLoadOptions(&l)
	}
	return l
}

type (
	// AppendResult reports the outcome of a committed append. Events carries
	// the appended events with their store-assigned global sequences, in
	// stream order, so callers can publish them after commit.
	AppendResult struct {
		Events        []DomainEvent
		LastVersion   Version
		LastGlobalSeq uint64
	}

	// EventStore is the durable, append-only, per-tenant event log.
	//
	// Append is atomic: either every event is committed with strictly
	// increasing sequence numbers starting at expectedVersion+1, or nothing
	// is written. A stale expectedVersion fails with ErrConcurrencyConflict.
	//
	// LoadStream returns one aggregate's events ascending by sequence
	// number. LoadByType and LoadGlobal return events ascending by global
	// sequence; once committed and visible to a reader, a global sequence
	// value is never skipped or duplicated.
	EventStore interface {
		Append(ctx context.Context, tenantID, aggregateType, aggregateID string, expectedVersion Version, events []DomainEvent) (*AppendResult, error)
		LoadStream(ctx context.Context, tenantID, aggregateType, aggregateID string, opts ...StoreLoadOption) ([]DomainEvent, error)
		LoadByType(ctx context.Context, tenantID, eventType string, opts ...StoreLoadOption) ([]DomainEvent, error)
		LoadGlobal(ctx context.Context, opts ...StoreLoadOption) ([]DomainEvent, error)
	}
)

// AppendEvents marshals raw event values into DomainEvents and appends them.
// Event IDs are fresh UUIDs; sequence numbers continue after expect.
func AppendEvents(
	ctx context.Context,
	store EventStore,
	tenantID, aggregateType, aggregateID string,
	expect Version,
	events ...any,
) (*AppendResult, error) {
	if len(events) == 0 {
		return nil, ErrStoreNoEvents
	}
	out := make([]DomainEvent, 0, len(events))
	for i, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		out = append(out, DomainEvent{
			EventID:        uuid.NewString(),
			TenantID:       tenantID,
			AggregateType:  aggregateType,
			AggregateID:    aggregateID,
			SequenceNumber: expect + Version(i+1),
			EventType:      EventTypeOf(ev),
			Payload:        payload,
			OccurredAt:     time.Now().UTC(),
		})
	}
	return store.Append(ctx, tenantID, aggregateType, aggregateID, expect, out)
}
