package es

import (
	"context"
	"log/slog"
	"sync"
)

// MemoryStore is a simple, correct (optimistic) store for tests and
// development. All three read paths share one global slice so global
// sequences are gap-free by construction.
type MemoryStore struct {
	mu      sync.Mutex
	log     *slog.Logger
	global  []DomainEvent
	streams map[string][]DomainEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		log:     slog.Default().With(slog.String("store", "memory")),
		streams: map[string][]DomainEvent{},
	}
}

func (s *MemoryStore) streamKey(tenantID, aggregateType, aggregateID string) string {
	return tenantID + "/" + StreamID(aggregateType, aggregateID)
}

func (s *MemoryStore) Append(
	ctx context.Context,
	tenantID, aggregateType, aggregateID string,
	expectedVersion Version,
	events []DomainEvent,
) (*AppendResult, error) {
	if len(events) == 0 {
		return nil, ErrStoreNoEvents
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		sk         = s.streamKey(tenantID, aggregateType, aggregateID)
		curStream  = s.streams[sk]
		curVersion Version
	)
	if len(curStream) > 0 {
		curVersion = curStream[len(curStream)-1].SequenceNumber
	}
	if curVersion != expectedVersion {
		return nil, ErrConcurrencyConflict
	}

	// validate before mutating anything so a bad batch writes nothing
	appended := make([]DomainEvent, 0, len(events))
	next := expectedVersion
	for _, e := range events {
		next++
		e.TenantID = tenantID
		e.AggregateType = aggregateType
		e.AggregateID = aggregateID
		e.SequenceNumber = next
		e.GlobalSeq = uint64(len(s.global) + len(appended) + 1)
		if err := e.Validate(); err != nil {
			return nil, err
		}
		appended = append(appended, e)
	}

	s.global = append(s.global, appended...)
	s.streams[sk] = append(curStream, appended...)

	last := appended[len(appended)-1]
	s.log.Debug(
		"append",
		slog.Uint64("last_global_seq", last.GlobalSeq),
		slog.Int("num_events", len(appended)),
	)

	return &AppendResult{
		Events:        appended,
		LastVersion:   last.SequenceNumber,
		LastGlobalSeq: last.GlobalSeq,
	}, nil
}

func (s *MemoryStore) LoadStream(
	ctx context.Context,
	tenantID, aggregateType, aggregateID string,
	opts ...StoreLoadOption,
) ([]DomainEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	options := NewLoadOptions(opts...)

	events, ok := s.streams[s.streamKey(tenantID, aggregateType, aggregateID)]
	if !ok {
		return nil, ErrAggregateNotFound
	}

	out := make([]DomainEvent, 0, len(events))
	for _, e := range events {
		if e.SequenceNumber <= options.AfterVersion {
			continue
		}
		if e.GlobalSeq <= options.AfterGlobalSeq {
			continue
		}
		out = append(out, e)
		if options.Limit > 0 && len(out) == options.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) LoadByType(
	ctx context.Context,
	tenantID, eventType string,
	opts ...StoreLoadOption,
) ([]DomainEvent, error) {
	return s.loadGlobalFiltered(ctx, func(e DomainEvent) bool {
		return e.TenantID == tenantID && e.EventType == eventType
	}, opts...)
}

func (s *MemoryStore) LoadGlobal(ctx context.Context, opts ...StoreLoadOption) ([]DomainEvent, error) {
	return s.loadGlobalFiltered(ctx, func(DomainEvent) bool { return true }, opts...)
}

func (s *MemoryStore) loadGlobalFiltered(
	ctx context.Context,
	keep func(DomainEvent) bool,
	opts ...StoreLoadOption,
) ([]DomainEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	options := NewLoadOptions(opts...)

	out := make([]DomainEvent, 0)
	for _, e := range s.global {
		if e.GlobalSeq <= options.AfterGlobalSeq {
			continue
		}
		if !keep(e) {
			continue
		}
		out = append(out, e)
		if options.Limit > 0 && len(out) == options.Limit {
			break
		}
	}
	return out, nil
}

var _ EventStore = (*MemoryStore)(nil)
