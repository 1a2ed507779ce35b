package es

import (
	"sync"
	"time"
)

// DeliveryState tracks the acknowledgment state of one received message.
type DeliveryState int

const (
	// Delivered means no terminal action has been taken yet.
	Delivered DeliveryState = iota
	// Acked means the message was processed and removed from the queue.
	Acked
	// Naked means the message was negatively acknowledged and will be
	// redelivered (immediately or after the requested delay).
	Naked
	// Terminated means the message was permanently removed and will never
	// be redelivered.
	Terminated
)

func (s DeliveryState) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case Acked:
		return "acked"
	case Naked:
		return "naked"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// Acker is the transport-side acknowledgment surface of one message.
type Acker interface {
	Ack() error
	Nak() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

// Delivery wraps one received message with its decoded event and manual
// acknowledgment controls. Exactly one terminal action may be taken; any
// further action fails with ErrDeliveryCompleted. Terminal states are
// absorbing.
type Delivery struct {
	mu    sync.Mutex
	state DeliveryState
	acker Acker

	event       DomainEvent
	subject     string
	headers     map[string]string
	redelivered uint64
}

// NewDelivery builds a delivery context for one message. redelivered counts
// prior delivery attempts (0 for the first delivery).
func NewDelivery(acker Acker, event DomainEvent, subject string, headers map[string]string, redelivered uint64) *Delivery {
	return &Delivery{
		acker:       acker,
		event:       event,
		subject:     subject,
		headers:     headers,
		redelivered: redelivered,
	}
}

func (d *Delivery) Event() DomainEvent { return d.event }
func (d *Delivery) TenantID() string   { return d.event.TenantID }
func (d *Delivery) EventID() string    { return d.event.EventID }
func (d *Delivery) Subject() string    { return d.subject }

// Header returns the named transport header, or "" when absent.
func (d *Delivery) Header(key string) string { return d.headers[key] }

// Redelivered returns how many times this message was delivered before the
// current attempt.
func (d *Delivery) Redelivered() uint64 { return d.redelivered }

// State returns the current acknowledgment state.
func (d *Delivery) State() DeliveryState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Completed reports whether a terminal action has been taken.
func (d *Delivery) Completed() bool { return d.State() != Delivered }

// Ack acknowledges the message as successfully processed.
func (d *Delivery) Ack() error {
	return d.transition(Acked, func() error { return d.acker.Ack() })
}

// Nak requests immediate redelivery.
func (d *Delivery) Nak() error {
	return d.transition(Naked, func() error { return d.acker.Nak() })
}

// NakWithDelay requests redelivery after delay.
func (d *Delivery) NakWithDelay(delay time.Duration) error {
	return d.transition(Naked, func() error { return d.acker.NakWithDelay(delay) })
}

// Term permanently removes the message from the working queue. The transport
// moves it to its dead-letter destination; it is never redelivered.
func (d *Delivery) Term() error {
	return d.transition(Terminated, func() error { return d.acker.Term() })
}

func (d *Delivery) transition(to DeliveryState, action func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Delivered {
		return ErrDeliveryCompleted
	}
	if err := action(); err != nil {
		return err
	}
	d.state = to
	return nil
}
