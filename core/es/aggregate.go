package es

import (
	"errors"
	"fmt"
	"time"
)

// Applier is the interface for types that apply events to update their state.
type Applier interface {
	Apply(event any) error
}

// Aggregate is the contract for event-sourced domain objects. An aggregate is
// a consistency boundary identified by (tenant, id); its state is derived
// solely from its event stream.
//
// The typical lifecycle is:
//  1. Create a new aggregate or load an existing one via Repository
//  2. Execute domain logic that calls Raise() to record events
//  3. Apply() updates internal state from each event
//  4. Save via Repository, which appends uncommitted events with a
//     concurrency check and calls ClearUncommitted()
type Aggregate interface {
	// GetAggType returns the aggregate type name used for stream identity.
	GetAggType() string
	// GetID returns the unique identifier of this aggregate instance.
	GetID() string
	SetID(string)
	// GetTenantID returns the tenant this aggregate belongs to.
	GetTenantID() string
	SetTenantID(string)

	// GetVersion returns the current version (number of events applied).
	GetVersion() Version
	setVersion(Version)

	// Raise records an event as uncommitted without applying it.
	Raise(event any)
	// Apply updates the aggregate state from an event.
	Apply(event any) error

	// Uncommitted returns a copy of events raised but not yet persisted.
	Uncommitted() []any
	// ClearUncommitted removes all uncommitted events after a save.
	ClearUncommitted()
}

// AggregateCreated is the first event of every aggregate created through the
// repository helpers.
type AggregateCreated struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

func (e AggregateCreated) Validate() error {
	if e.ID == "" {
		return errors.New("id is required")
	}
	if e.CreatedAt.IsZero() {
		return errors.New("created at time is zero")
	}
	return nil
}

// BaseAggregate is an embeddable helper that tracks identity, version and
// uncommitted events.
type BaseAggregate struct {
	CreatedAt time.Time `json:"created_at"`

	id          string
	tenantID    string
	version     Version
	uncommitted []any
}

func (b *BaseAggregate) Apply(evt any) error {
	switch e := evt.(type) {
	case *AggregateCreated:
		b.CreatedAt = e.CreatedAt
		b.id = e.ID
		return nil
	}
	return fmt.Errorf("unknown base aggregate event: %T", evt)
}

func (b *BaseAggregate) IsCreated() bool { return !b.CreatedAt.IsZero() }

func (b *BaseAggregate) Create(id string) error {
	if b.IsCreated() {
		return fmt.Errorf("aggregate already created")
	}
	if id == "" {
		return fmt.Errorf("id is required")
	}
	return RaiseAndApply(b, &AggregateCreated{ID: id, CreatedAt: time.Now().UTC()})
}

func (b *BaseAggregate) GetID() string          { return b.id }
func (b *BaseAggregate) SetID(id string)        { b.id = id }
func (b *BaseAggregate) GetTenantID() string    { return b.tenantID }
func (b *BaseAggregate) SetTenantID(tid string) { b.tenantID = tid }
func (b *BaseAggregate) GetVersion() Version    { return b.version }
func (b *BaseAggregate) setVersion(v Version)   { b.version = v }

func (b *BaseAggregate) Raise(event any)   { b.uncommitted = append(b.uncommitted, event) }
func (b *BaseAggregate) ClearUncommitted() { b.uncommitted = nil }
func (b *BaseAggregate) Uncommitted() []any {
	out := make([]any, len(b.uncommitted))
	copy(out, b.uncommitted)
	return out
}

// === Helpers ===

type raiseApplier interface {
	Raise(event any)
	Apply(event any) error
}

// RaiseAndApply records each event as uncommitted and applies it.
func RaiseAndApply(a raiseApplier, events ...any) (err error) {
	for _, e := range events {
		if ev, ok := e.(interface{ Validate() error }); ok {
			if err = ev.Validate(); err != nil {
				return fmt.Errorf("invalid event %T: %w", ev, err)
			}
		}
	}
	for _, e := range events {
		a.Raise(e)
		if err = a.Apply(e); err != nil {
			return
		}
	}
	return
}
