package es

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConcurrencyConflict is returned by Append when the expected version
	// does not match the stream head. The caller must reload and retry.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrStoreUnavailable wraps connectivity failures of the underlying
	// storage. An append either commits or returns an error, never both.
	ErrStoreUnavailable = errors.New("event store unavailable")

	ErrAggregateNotFound = errors.New("aggregate not found")
	ErrUnknownEventType  = errors.New("unknown event type")
	ErrStoreNoEvents     = errors.New("no events to store")

	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrSnapshotSchemaMismatch marks a snapshot whose schema version no
	// longer matches what the reader expects. Callers treat it like
	// ErrSnapshotNotFound and fall back to full replay.
	ErrSnapshotSchemaMismatch = errors.New("snapshot schema mismatch")

	// ErrDeliveryCompleted is returned when a second terminal acknowledgment
	// action is attempted on a Delivery.
	ErrDeliveryCompleted = errors.New("delivery already completed")
)

// RetryableError signals a transient handler failure. The runner naks the
// message so the transport redelivers it after Delay (or the runner default
// when Delay is zero).
type RetryableError struct {
	Delay time.Duration
	Cause error
}

func (e RetryableError) Error() string {
	if e.Cause == nil {
		return "retryable handler failure"
	}
	return fmt.Sprintf("retryable handler failure: %v", e.Cause)
}

func (e RetryableError) Unwrap() error { return e.Cause }

// Retryable wraps err as a RetryableError with the given redelivery delay.
func Retryable(err error, delay time.Duration) error {
	return RetryableError{Delay: delay, Cause: err}
}

// PoisonError signals that a message can never be processed successfully.
// The runner terminates the message so the transport dead-letters it.
type PoisonError struct {
	Cause error
}

func (e PoisonError) Error() string {
	if e.Cause == nil {
		return "poison message"
	}
	return fmt.Sprintf("poison message: %v", e.Cause)
}

func (e PoisonError) Unwrap() error { return e.Cause }

// Poison wraps err as a PoisonError.
func Poison(err error) error { return PoisonError{Cause: err} }
