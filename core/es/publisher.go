package es

import "context"

// Publisher emits one committed event as one wire message. The routing
// subject is derived deterministically from tenant, aggregate type and event
// type, so tenant isolation is encoded in the subject rather than left to
// consumer-side filtering.
//
// Publish happens only after the corresponding append has committed. A crash
// between commit and publish is tolerated by downstream idempotency and
// repaired by the Relay sweep; it is not prevented here. Publish failures are
// always surfaced to the caller.
type Publisher interface {
	Publish(ctx context.Context, event DomainEvent) error
}

// Standard transport header names carried on every published message.
const (
	HeaderEventID       = "x-event-id"
	HeaderEventType     = "x-event-type"
	HeaderTenantID      = "x-tenant-id"
	HeaderAggregateType = "x-aggregate-type"
	HeaderAggregateID   = "x-aggregate-id"
	HeaderSequence      = "x-sequence-number"
)
