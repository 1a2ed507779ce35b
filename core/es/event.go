package es

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ledgerline/ledgerline/internal/typename"
)

// DomainEvent is the unit of storage and routing: one immutable fact with
// everything needed to replay, decode and deliver it.
type DomainEvent struct {
	// EventID is the globally unique identifier of this event.
	EventID string `json:"event_id"`
	// GlobalSeq is the store-assigned position in the total order across
	// all tenants and streams. Zero until the event is committed.
	GlobalSeq uint64 `json:"global_seq"`
	// TenantID scopes the event. Tenants never see each other's streams.
	TenantID string `json:"tenant_id"`
	// AggregateType identifies the kind of aggregate this event belongs to.
	AggregateType string `json:"aggregate_type"`
	// AggregateID identifies the aggregate instance.
	AggregateID string `json:"aggregate_id"`
	// SequenceNumber is the position within the aggregate stream (1, 2, ...).
	// The tuple (tenant, aggregate, sequence) is unique in the store.
	SequenceNumber Version `json:"sequence_number"`
	// EventType names the payload schema for deserialization routing.
	EventType string `json:"event_type"`
	// Payload is the JSON-encoded event body.
	Payload json.RawMessage `json:"payload"`
	// Metadata carries free-form key/value pairs (correlation ids etc).
	Metadata map[string]string `json:"metadata,omitempty"`
	// OccurredAt is the UTC creation time of the event.
	OccurredAt time.Time `json:"occurred_at"`
}

// StreamID derives the stream identity from aggregate type and id.
func (e DomainEvent) StreamID() string { return StreamID(e.AggregateType, e.AggregateID) }

func StreamID(aggregateType, aggregateID string) string {
	return aggregateType + "-" + aggregateID
}

func (e DomainEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event id is empty")
	}
	if e.TenantID == "" {
		return fmt.Errorf("tenant id is empty")
	}
	if e.AggregateID == "" {
		return fmt.Errorf("aggregate id is empty")
	}
	if e.AggregateType == "" {
		return fmt.Errorf("aggregate type is empty")
	}
	if e.EventType == "" {
		return fmt.Errorf("event type is empty")
	}
	if e.SequenceNumber == 0 {
		return fmt.Errorf("sequence number is zero")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred at is zero")
	}
	return nil
}

// EventRegistry maps event type names to constructors so persisted events can
// be decoded back into their Go types.
type EventRegistry struct {
	mu   sync.RWMutex
	news map[string]func() any
}

func NewRegistry() *EventRegistry {
	return &EventRegistry{news: map[string]func() any{}}
}

func (r *EventRegistry) Register(eventType string, ctor func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.news[eventType] = ctor
}

func (r *EventRegistry) Decode(ev DomainEvent) (any, error) {
	r.mu.RLock()
	ctor, ok := r.news[ev.EventType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, ev.EventType)
	}
	out := ctor()
	if ev.Payload != nil {
		if err := json.Unmarshal(ev.Payload, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type Decoder interface {
	Decode(ev DomainEvent) (any, error)
}

type Registrar interface {
	Register(eventType string, ctor func() any)
}

// Event returns a reflection-free constructor for an event of type T.
func Event[T any]() func() any { return func() any { return new(T) } }

// RegisterEvents registers event constructors. Each constructor is invoked
// once to derive the event type name; future decodes call the constructor
// again so every decode produces a fresh instance.
func RegisterEvents(r Registrar, ctors ...func() any) {
	for _, ctor := range ctors {
		sample := ctor()
		r.Register(EventTypeOf(sample), ctor)
	}
}

// EventTypeOf resolves the wire name of an event value. Types may implement
// EventType() string to pick their own name; otherwise the Go type name is
// used.
func EventTypeOf(ev any) string {
	if t, ok := ev.(interface{ EventType() string }); ok {
		return t.EventType()
	}
	return typename.Of(ev)
}
