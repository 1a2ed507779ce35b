package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/ledgerline/ledgerline/core/es"
	"github.com/ledgerline/ledgerline/internal/perstream"
)

type ConsumerConfig struct {
	Connect       Connector    // Connect creates the NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	StreamName    string       // StreamName of the JetStream stream to consume
	SubjectPrefix string       // SubjectPrefix for filters, defaults to "events"

	// TenantID, AggregateType and EventType narrow the subscription. Empty
	// values wildcard that subject level.
	TenantID      string
	AggregateType string
	EventType     string

	// MaxDeliver bounds delivery attempts per message. When the budget is
	// exhausted the message is terminated instead of redelivered.
	MaxDeliver int
	// AckWait is how long the server waits for an acknowledgment before
	// redelivering. Defaults to 30s.
	AckWait time.Duration
	// NakDelay is the default redelivery delay for retryable failures.
	NakDelay time.Duration
	// AutoAck acks on handler success (default true when unset via
	// ManualAck=false). Set ManualAck to require explicit acks.
	ManualAck bool
	// QueueSize bounds queued dispatches per aggregate stream (default 64).
	QueueSize int

	Metrics es.ESMetrics
}

// Consumer subscribes a Projector to a JetStream stream in manual
// acknowledgment mode. Messages are dispatched through a per-stream scheduler
// so each aggregate stream is processed in delivery order while distinct
// streams proceed in parallel; one slow stream never starves another
// tenant's deliveries.
type Consumer struct {
	nc        *natsgo.Conn
	closeNc   closeFunc
	js        jetstream.JetStream
	cfg       ConsumerConfig
	runner    *es.Runner
	projector es.Projector
	sched     *perstream.Scheduler
	log       *slog.Logger

	mu sync.Mutex
	cc jetstream.ConsumeContext

	closeOnce sync.Once
	done      chan struct{}
}

func NewConsumer(
	cfg ConsumerConfig,
	projector es.Projector,
	processed es.ProcessedStore,
	decoder es.Decoder,
) (*Consumer, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNatsCon, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "LEDGERLINE_EVENTS"
	}
	cfg.StreamName = strings.ToUpper(cfg.StreamName)
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = defaultSubjectPrefix
	}
	if cfg.AckWait == 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.NakDelay == 0 {
		cfg.NakDelay = 5 * time.Second
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = es.NopESMetrics()
	}

	log = log.With(
		slog.String("consumer", projector.Name()),
		slog.String("stream", cfg.StreamName),
	)

	runner := es.NewRunner(
		projector,
		processed,
		decoder,
		es.WithLog(log),
		es.WithMetrics(metrics),
		es.WithAutoAck(!cfg.ManualAck),
		es.WithDefaultNakDelay(cfg.NakDelay),
		es.WithMaxDeliver(uint64(max(cfg.MaxDeliver, 0))),
	)

	return &Consumer{
		nc:        nc,
		closeNc:   closeNatsCon,
		js:        js,
		cfg:       cfg,
		runner:    runner,
		projector: projector,
		sched:     perstream.New(perstream.WithQueueSize(cfg.QueueSize)),
		log:       log,
		done:      make(chan struct{}),
	}, nil
}

// Start creates (or updates) the durable consumer and begins dispatching.
// The durable name is derived from the projector name, so the projector's
// delivery state survives restarts.
func (c *Consumer) Start(ctx context.Context) error {
	stream, err := c.js.Stream(ctx, c.cfg.StreamName)
	if err != nil {
		return fmt.Errorf("failed to look up stream %s: %w", c.cfg.StreamName, err)
	}

	filter := SubjectFilter(c.cfg.SubjectPrefix, c.cfg.TenantID, c.cfg.AggregateType, c.cfg.EventType)

	consumerCfg := jetstream.ConsumerConfig{
		Durable:        durableName(c.projector.Name()),
		AckPolicy:      jetstream.AckExplicitPolicy,
		AckWait:        c.cfg.AckWait,
		FilterSubjects: []string{filter},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
	if c.cfg.MaxDeliver > 0 {
		consumerCfg.MaxDeliver = c.cfg.MaxDeliver
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, consumerCfg)
	if err != nil {
		return fmt.Errorf("failed to create consumer filter=%s: %w", filter, err)
	}

	c.log.Info("subscribing", slog.String("filter", filter))

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		c.dispatch(ctx, msg)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.cc = cc
	c.mu.Unlock()
	return nil
}

// dispatch decodes one message and hands it to the runner on the message's
// stream lane. Decode failures before a Delivery exists are terminated
// directly: without an event id there is nothing to retry idempotently.
func (c *Consumer) dispatch(ctx context.Context, msg jetstream.Msg) {
	var event es.DomainEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		c.log.Error("failed to decode message, terminating", slog.Any("error", err))
		if termErr := msg.Term(); termErr != nil {
			c.log.Error("failed to term message", slog.Any("error", termErr))
		}
		return
	}

	var redelivered uint64
	if md, err := msg.Metadata(); err == nil && md.NumDelivered > 0 {
		redelivered = md.NumDelivered - 1
	}

	headers := map[string]string{}
	for k, vs := range msg.Headers() {
		if len(vs) > 0 {
			headers[k] = vs[0]
		}
	}

	d := es.NewDelivery(jsAcker{msg: msg}, event, msg.Subject(), headers, redelivered)

	err := c.sched.Go(event.StreamID(), func() {
		if err := c.runner.Dispatch(ctx, d); err != nil {
			c.log.Debug("dispatch finished with error", slog.Any("error", err))
		}
	})
	if err != nil {
		// shutting down; leave the message un-acked for redelivery
		c.log.Debug("scheduler closed, leaving message unacknowledged")
	}
}

// Stop drains the subscription, waits for queued work and closes the
// connection. In-flight messages finish their acknowledgment before the
// connection goes away.
func (c *Consumer) Stop() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		cc := c.cc
		c.mu.Unlock()
		if cc != nil {
			// Drain only signals; Closed fires once buffered messages have
			// passed through the consume callback
			cc.Drain()
			<-cc.Closed()
		}
		c.sched.Close()
		c.closeNc()
		c.log.Info("stopped")
		close(c.done)
	})
}

func durableName(projectorName string) string {
	// durable names share token restrictions with subjects
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '/':
			return '_'
		}
		return r
	}, projectorName)
}

// jsAcker adapts a jetstream message to the es.Acker surface.
type jsAcker struct {
	msg jetstream.Msg
}

func (a jsAcker) Ack() error { return a.msg.Ack() }
func (a jsAcker) Nak() error { return a.msg.Nak() }
func (a jsAcker) NakWithDelay(delay time.Duration) error {
	return a.msg.NakWithDelay(delay)
}
func (a jsAcker) Term() error { return a.msg.Term() }

var _ es.Acker = jsAcker{}
