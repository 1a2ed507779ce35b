// Package es provides a tenant-scoped event sourcing engine: an append-only
// event store with optimistic concurrency control, a snapshot store, an event
// publisher and an idempotent, retry-aware delivery protocol for projectors.
//
// # Overview
//
// State is stored as an immutable sequence of events per aggregate. A command
// handler loads an aggregate by replaying its stream (optionally starting from
// a snapshot), produces new events and appends them with a concurrency check.
// Committed events are published to a tenant-scoped subject; projectors consume
// them through a delivery context that enforces exactly one terminal
// acknowledgment per message.
//
// # Core Components
//
// EventStore: persistence for events. [EventStore.Append] inserts events
// atomically with strictly increasing per-stream sequence numbers and fails
// with [ErrConcurrencyConflict] when another writer committed first.
// [EventStore.LoadStream] replays one aggregate, [EventStore.LoadByType] and
// [EventStore.LoadGlobal] serve cross-aggregate projections in global order.
// Use [NewMemoryStore] for tests or the adapters/pg implementation for
// production storage.
//
// Aggregate: the domain object that raises events and applies them to update
// internal state. Embed [BaseAggregate] to get version and uncommitted-event
// tracking:
//
//	type Account struct {
//	    es.BaseAggregate
//	    Balance int64
//	}
//
// Repository: loads and saves aggregates. Use [NewTypedRepository] for
// type-safe access:
//
//	repo := es.NewTypedRepository[*Account](log, store, registry)
//	acc, err := repo.GetByID(ctx, tenant, "acc-1")
//
// Publisher: emits a committed event as one wire message on a subject derived
// from tenant, aggregate type and event type. Publishing happens after the
// append commits; the [Relay] sweeps the global order past a persisted cursor
// so a crash between commit and publish cannot hide events forever.
//
// Runner: drives a [Projector] from incoming deliveries. It checks the
// [ProcessedStore] idempotency ledger before invoking the handler, records
// successful handling in the ledger, and maps handler errors to the
// acknowledgment protocol: [RetryableError] naks with a delay, [PoisonError]
// terminates the message, anything else is treated as retryable.
//
// # Event Registration
//
// Events must be registered with an [EventRegistry] before they can be
// decoded:
//
//	registry := es.NewRegistry()
//	es.RegisterEvents(registry, es.Event[AccountOpened](), es.Event[MoneyDeposited]())
//
// # Concurrency Control
//
// The tuple (tenant, aggregate, sequence number) is unique in the store. An
// append with a stale expected version returns [ErrConcurrencyConflict] and
// leaves the stream unchanged; the caller reloads and retries. There are no
// locks or leases anywhere else.
package es
