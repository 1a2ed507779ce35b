package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type (
	// Projector is a named handler that consumes events to build a read
	// model or trigger side effects. The name identifies the projector in
	// the idempotency ledger; renaming a projector resets its ledger.
	Projector interface {
		Name() string
		Handle(ctx context.Context, event any, d *Delivery) error
	}

	projectorFunc struct {
		name string
		fn   func(ctx context.Context, event any, d *Delivery) error
	}
)

func (p projectorFunc) Name() string { return p.name }
func (p projectorFunc) Handle(ctx context.Context, event any, d *Delivery) error {
	return p.fn(ctx, event, d)
}

// NewProjector wraps fn as a named Projector.
func NewProjector(name string, fn func(ctx context.Context, event any, d *Delivery) error) Projector {
	return projectorFunc{name: name, fn: fn}
}

type (
	runnerOpts struct {
		autoAck         bool
		defaultNakDelay time.Duration
		maxDeliver      uint64
		log             *slog.Logger
		metrics         ESMetrics
	}

	RunnerOption interface{ applyToRunnerOpts(*runnerOpts) }

	autoAckOption    valueOption[bool]
	nakDelayOption   valueOption[time.Duration]
	maxDeliverOption valueOption[uint64]
)

func (o autoAckOption) applyToRunnerOpts(r *runnerOpts)    { r.autoAck = o.v }
func (o nakDelayOption) applyToRunnerOpts(r *runnerOpts)   { r.defaultNakDelay = o.v }
func (o maxDeliverOption) applyToRunnerOpts(r *runnerOpts) { r.maxDeliver = o.v }
func (o LogOption) applyToRunnerOpts(r *runnerOpts)        { r.log = o.v }
func (o MetricsOption) applyToRunnerOpts(r *runnerOpts)    { r.metrics = o.v }

// WithAutoAck controls acknowledgment on handler success. Enabled (the
// default), the runner acks after recording the event in the ledger.
// Disabled, the handler must ack explicitly; returning without a terminal
// action naks the message.
func WithAutoAck(enabled bool) RunnerOption { return autoAckOption{enabled} }

// WithDefaultNakDelay sets the redelivery delay used when a RetryableError
// carries no delay of its own.
func WithDefaultNakDelay(d time.Duration) RunnerOption { return nakDelayOption{d} }

// WithMaxDeliver sets the redelivery budget. A retryable failure on the
// final permitted delivery terminates the message instead of nak'ing it.
// Zero means no budget (the transport's own ceiling still applies).
func WithMaxDeliver(n uint64) RunnerOption { return maxDeliverOption{n} }

// Runner drives a Projector from incoming deliveries: it enforces idempotent
// handling via the ProcessedStore, decodes events, and maps handler outcomes
// to the acknowledgment protocol.
type Runner struct {
	projector       Projector
	processed       ProcessedStore
	decoder         Decoder
	log             *slog.Logger
	metrics         ESMetrics
	autoAck         bool
	defaultNakDelay time.Duration
	maxDeliver      uint64
}

func NewRunner(
	projector Projector,
	processed ProcessedStore,
	decoder Decoder,
	opts ...RunnerOption,
) *Runner {
	options := runnerOpts{
		autoAck:         true,
		defaultNakDelay: 5 * time.Second,
		log:             slog.Default(),
		metrics:         NopESMetrics(),
	}
	for _, opt := range opts {
		opt.applyToRunnerOpts(&options)
	}
	return &Runner{
		projector:       projector,
		processed:       processed,
		decoder:         decoder,
		log:             options.log.With(slog.String("projector", projector.Name())),
		metrics:         options.metrics,
		autoAck:         options.autoAck,
		defaultNakDelay: options.defaultNakDelay,
		maxDeliver:      options.maxDeliver,
	}
}

// Dispatch processes one delivery end to end. It guarantees at most one
// terminal acknowledgment action, with one exception: a cancelled context
// takes no action at all, leaving redelivery to the transport.
func (r *Runner) Dispatch(ctx context.Context, d *Delivery) error {
	ev := d.Event()

	log := r.log.With(
		slog.Group(
			"event",
			slog.String("id", ev.EventID),
			slog.String("tenant_id", ev.TenantID),
			slog.String("type", ev.EventType),
			slog.String("aggregate_id", ev.AggregateID),
			ev.SequenceNumber.SlogAttr(),
		),
	)

	defer r.metrics.DeliveryDuration(r.projector.Name(), ev.EventType).ObserveDuration()

	// duplicate deliveries are acked without invoking the handler
	seen, err := r.processed.Seen(ctx, r.projector.Name(), ev.EventID)
	if err != nil {
		return r.retry(d, log, fmt.Errorf("idempotency check failed: %w", err))
	}
	if seen {
		r.metrics.DuplicateDelivery(r.projector.Name())
		log.Debug("duplicate delivery, acking")
		if err := d.Ack(); err != nil && !errors.Is(err, ErrDeliveryCompleted) {
			return err
		}
		return nil
	}

	decoded, err := r.decoder.Decode(ev)
	if err != nil {
		return r.retry(d, log, fmt.Errorf("failed to decode event: %w", err))
	}

	err = r.projector.Handle(ctx, decoded, d)

	// a cancelled invocation stays un-acked so the transport's redelivery
	// policy takes over; cancellation never turns into an implicit ack
	if ctxErr := ctx.Err(); ctxErr != nil && err != nil &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		log.Debug("handler cancelled, leaving delivery unacknowledged")
		return err
	}

	if err == nil {
		return r.succeed(ctx, d, log, ev)
	}

	var poison PoisonError
	if errors.As(err, &poison) {
		r.metrics.DeliveryOutcome(r.projector.Name(), "term")
		log.Warn("poison message, terminating", slog.Any("error", err))
		if termErr := d.Term(); termErr != nil && !errors.Is(termErr, ErrDeliveryCompleted) {
			return termErr
		}
		return err
	}

	// anything unclassified is transient until proven otherwise
	return r.retry(d, log, err)
}

func (r *Runner) succeed(ctx context.Context, d *Delivery, log *slog.Logger, ev DomainEvent) error {
	switch {
	case d.State() == Acked:
		// handler acked itself; record the effect
	case d.Completed():
		// handler nak'd or term'd despite returning nil; honor its choice
		r.metrics.DeliveryOutcome(r.projector.Name(), d.State().String())
		return nil
	case !r.autoAck:
		// manual-ack mode and the handler took no action
		r.metrics.DeliveryOutcome(r.projector.Name(), "nak")
		log.Warn("handler returned without acknowledgment, naking")
		return d.Nak()
	}

	// ledger write strictly after the handler's side effects, so a crash
	// in between re-delivers instead of dropping
	if err := r.processed.Mark(ctx, ProcessedRecord{
		ProjectorName: r.projector.Name(),
		EventID:       ev.EventID,
		TenantID:      ev.TenantID,
		ProcessedAt:   time.Now().UTC(),
	}); err != nil {
		return r.retry(d, log, fmt.Errorf("failed to mark processed: %w", err))
	}

	if d.State() != Acked {
		if err := d.Ack(); err != nil {
			return err
		}
	}
	r.metrics.DeliveryOutcome(r.projector.Name(), "ack")
	log.Debug("handled")
	return nil
}

func (r *Runner) retry(d *Delivery, log *slog.Logger, err error) error {
	if d.Completed() {
		return err
	}

	// the attempt that just failed counts against the budget
	if r.maxDeliver > 0 && d.Redelivered()+1 >= r.maxDeliver {
		r.metrics.DeliveryOutcome(r.projector.Name(), "term")
		log.Error("redelivery budget exhausted, terminating", slog.Any("error", err))
		if termErr := d.Term(); termErr != nil && !errors.Is(termErr, ErrDeliveryCompleted) {
			return termErr
		}
		return err
	}

	delay := r.defaultNakDelay
	var retryable RetryableError
	if errors.As(err, &retryable) && retryable.Delay > 0 {
		delay = retryable.Delay
	}

	r.metrics.DeliveryOutcome(r.projector.Name(), "nak")
	log.Warn("handler failed, naking", slog.Any("error", err), slog.Duration("delay", delay))
	if nakErr := d.NakWithDelay(delay); nakErr != nil && !errors.Is(nakErr, ErrDeliveryCompleted) {
		return nakErr
	}
	return err
}
