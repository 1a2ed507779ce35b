package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/ledgerline/ledgerline/core/es"
)

type PublisherConfig struct {
	Connect       Connector    // Connect creates the NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	SubjectPrefix string       // SubjectPrefix for event subjects, defaults to "events"
	StreamName    string       // StreamName of the JetStream stream fed by this publisher
	Metrics       es.ESMetrics
}

// Publisher emits committed events to a JetStream stream. Duplicate publishes
// of the same event id within the stream's dedupe window are dropped by the
// server, which is what makes the relay sweep safe to overlap with direct
// post-commit publishes.
type Publisher struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
	streamName    string
	metrics       es.ESMetrics
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
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
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = es.NopESMetrics()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = "LEDGERLINE_EVENTS"
	}
	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	log = log.With(
		slog.String("publisher", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subject_prefix", subjectPrefix),
	)

	log.Debug("ensuring stream")
	stream, err := ensureStream(js, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Duplicates: 2 * time.Minute,
		FirstSeq:   1,
	})
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	return &Publisher{
		nc:            nc,
		closeNc:       closeNatsCon,
		js:            js,
		stream:        stream,
		log:           log,
		subjectPrefix: subjectPrefix,
		streamName:    streamName,
		metrics:       metrics,
	}, nil
}

func (p *Publisher) Close() error {
	p.closeNc()
	p.log.Debug("closed publisher")
	return nil
}

// Publish sends one event as one message. Errors are returned to the caller:
// a failed publish with a committed event must never be swallowed, because
// downstream consumers would otherwise never learn of state the store
// already considers true.
func (p *Publisher) Publish(ctx context.Context, event es.DomainEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("refusing to publish invalid event: %w", err)
	}

	subject := subjectFor(p.subjectPrefix, event.TenantID, event.AggregateType, event.EventType)

	msg := natsgo.NewMsg(subject)
	msg.Header.Set(es.HeaderEventID, event.EventID)
	msg.Header.Set(es.HeaderEventType, event.EventType)
	msg.Header.Set(es.HeaderTenantID, event.TenantID)
	msg.Header.Set(es.HeaderAggregateType, event.AggregateType)
	msg.Header.Set(es.HeaderAggregateID, event.AggregateID)
	msg.Header.Set(es.HeaderSequence, strconv.FormatUint(event.SequenceNumber.Uint64(), 10))

	var err error
	msg.Data, err = json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = p.js.PublishMsg(ctx, msg, jetstream.WithMsgID(event.EventID))
	if err != nil {
		p.metrics.EventPublished(event.EventType, false)
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	p.metrics.EventPublished(event.EventType, true)
	p.log.Debug(
		"published",
		slog.String("subject", subject),
		slog.String("event_id", event.EventID),
		slog.Uint64("global_seq", event.GlobalSeq),
	)
	return nil
}

func ensureStream(js jetstream.JetStream, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	defer cancel()

	s, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

var _ es.Publisher = (*Publisher)(nil)
