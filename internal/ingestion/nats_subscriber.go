package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds events
// into the deterministic core via the eventChan.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawEvent is the untyped event from NATS or the admin ingest, ready for
// the shell to parse into a typed event.Event before sending to the core.
type RawEvent struct {
	Subject   string
	EventType string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK once the core consumed the event
	NakFunc   func() // Call to NAK on failure (will be redelivered)
	TermFunc  func() // Call to stop redelivery of a malformed message
}

// SubjectConfig maps a subject filter onto a durable consumer. The event
// type is the last subject token, e.g. cover.claim.ClaimInitiated.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
}

// One stream per source stream, so each producer's numbering arrives in
// order on a single consumer.
const (
	StreamPools     = "COVER_POOLS"
	StreamPositions = "COVER_POSITIONS"
	StreamCovers    = "COVER_COVERS"
	StreamClaims    = "COVER_CLAIMS"
	StreamStrategy  = "COVER_STRATEGY"
)

func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "cover.pool.*", ConsumerName: "ledger-pools", StreamName: StreamPools},
		{Subject: "cover.position.*", ConsumerName: "ledger-positions", StreamName: StreamPositions},
		{Subject: "cover.cover.*", ConsumerName: "ledger-covers", StreamName: StreamCovers},
		{Subject: "cover.claim.*", ConsumerName: "ledger-claims", StreamName: StreamClaims},
		{Subject: "cover.strategy.*", ConsumerName: "ledger-strategy", StreamName: StreamStrategy},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s and one message
// in flight so source order is kept.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			MaxAckPending: 1,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				EventType: EventTypeFromSubject(msg.Subject()),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc: func() {
					if err := msg.Ack(); err != nil {
						ns.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("ack failed")
					}
				},
				NakFunc: func() {
					if err := msg.Nak(); err != nil {
						ns.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("nak failed")
					}
				},
				TermFunc: func() {
					if err := msg.Term(); err != nil {
						ns.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("term failed")
					}
				},
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the inbound JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	for _, cfg := range DefaultSubjects() {
		sc := jetstream.StreamConfig{
			Name:      cfg.StreamName,
			Subjects:  []string{cfg.Subject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		}
		if _, err := js.CreateOrUpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream %s: %w", sc.Name, err)
		}
		logger.Info().Str("stream", sc.Name).Msg("ensured stream")
	}
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("coverledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
