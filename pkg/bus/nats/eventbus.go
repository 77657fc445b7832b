// Package nats provides a NATS JetStream implementation of the event bus,
// giving cross-process subscribers the same contract as the in-process bus.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// EventBus is a NATS-based implementation of eventsourcing.EventBus.
// Events are published to JetStream with the event ID as the message ID,
// so republishing after a retried commit deduplicates instead of doubling.
// Subscribers are durable consumers; a handler error naks the message and
// JetStream redelivers it.
type EventBus struct {
	nc         *nats.Conn
	js         nats.JetStreamContext
	streamName string
	logger     *slog.Logger
	mu         sync.RWMutex
	subs       map[string]*nats.Subscription
}

// Config holds configuration for the NATS event bus.
type Config struct {
	// URL is the NATS server URL
	URL string

	// StreamName is the JetStream stream name for events
	StreamName string

	// StreamSubjects are the subjects the stream captures (default: "events.>")
	StreamSubjects []string

	// MaxAge is how long to retain events in the stream
	MaxAge time.Duration

	// MaxBytes is the maximum bytes the stream can store
	MaxBytes int64
}

// DefaultConfig returns sensible defaults for the NATS event bus.
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		StreamName:     "EVENTS",
		StreamSubjects: []string{"events.>"},
		MaxAge:         7 * 24 * time.Hour,
		MaxBytes:       1024 * 1024 * 1024, // 1 GB
	}
}

// Option configures an EventBus.
type Option func(*EventBus)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *EventBus) {
		b.logger = logger
	}
}

// NewEventBus connects to NATS and ensures the event stream exists.
func NewEventBus(config Config, opts ...Option) (*EventBus, error) {
	nc, err := nats.Connect(config.URL)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	bus := &EventBus{
		nc:         nc,
		js:         js,
		streamName: config.StreamName,
		logger:     slog.Default(),
		subs:       make(map[string]*nats.Subscription),
	}
	for _, opt := range opts {
		opt(bus)
	}

	if err := bus.ensureStream(config); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensuring stream %s: %w", config.StreamName, err)
	}

	return bus, nil
}

// ensureStream creates the JetStream stream, or updates its retention
// settings if it already exists with different limits.
func (b *EventBus) ensureStream(config Config) error {
	streamConfig := &nats.StreamConfig{
		Name:      config.StreamName,
		Subjects:  config.StreamSubjects,
		Retention: nats.InterestPolicy,
		MaxAge:    config.MaxAge,
		MaxBytes:  config.MaxBytes,
		Storage:   nats.FileStorage,
		Replicas:  1,
	}

	stream, err := b.js.StreamInfo(config.StreamName)
	if err != nil {
		if _, err := b.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("creating stream: %w", err)
		}
		return nil
	}

	if stream.Config.MaxAge != config.MaxAge || stream.Config.MaxBytes != config.MaxBytes {
		if _, err := b.js.UpdateStream(streamConfig); err != nil {
			return fmt.Errorf("updating stream: %w", err)
		}
	}

	return nil
}

// Publish publishes events to JetStream under
// events.<AggregateType>.<EventType>, using the event ID for deduplication.
func (b *EventBus) Publish(ctx context.Context, events []*eventsourcing.Event) error {
	if len(events) == 0 {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("encoding event %s: %w", event.ID, err)
		}

		subject := fmt.Sprintf("events.%s.%s", event.AggregateType, event.EventType)

		_, err = b.js.Publish(subject, data, nats.MsgId(event.ID), nats.Context(ctx))
		if err != nil {
			return fmt.Errorf("publishing event %s: %w", event.ID, err)
		}
	}

	return nil
}

// Subscribe creates a durable consumer for events matching the filter.
// Filters that map to a single subject are filtered server side; anything
// broader consumes the whole stream and drops non-matching events locally.
func (b *EventBus) Subscribe(filter eventsourcing.EventFilter, handler eventsourcing.EventHandler) (eventsourcing.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subject := buildSubject(filter)
	consumerName := fmt.Sprintf("consumer_%s", eventsourcing.GenerateID()[:8])

	sub, err := b.js.QueueSubscribe(
		subject,
		consumerName,
		func(msg *nats.Msg) {
			var event eventsourcing.Event
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				// Undecodable messages can never succeed; terminate
				// instead of naking into a redelivery loop.
				b.logger.Warn("Terminating undecodable event message",
					slog.String("subject", msg.Subject),
					slog.String("error", err.Error()),
				)
				msg.Term()
				return
			}

			if !filter.Matches(&event) {
				msg.Ack()
				return
			}

			if err := handler(&event); err != nil {
				b.logger.Warn("Event handler failed, message will be redelivered",
					slog.String("event_id", event.ID),
					slog.String("event_type", event.EventType),
					slog.String("error", err.Error()),
				)
				msg.Nak()
				return
			}

			msg.Ack()
		},
		nats.Durable(consumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
	)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	b.subs[consumerName] = sub

	return &subscription{
		bus:          b,
		sub:          sub,
		consumerName: consumerName,
	}, nil
}

// buildSubject maps an event filter onto a NATS subject.
func buildSubject(filter eventsourcing.EventFilter) string {
	if len(filter.AggregateTypes) == 1 && len(filter.EventTypes) == 1 {
		return fmt.Sprintf("events.%s.%s", filter.AggregateTypes[0], filter.EventTypes[0])
	}
	if len(filter.AggregateTypes) == 1 && len(filter.EventTypes) == 0 {
		return fmt.Sprintf("events.%s.>", filter.AggregateTypes[0])
	}
	return "events.>"
}

// Close unsubscribes all consumers and closes the NATS connection.
func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		sub.Unsubscribe()
	}
	b.subs = make(map[string]*nats.Subscription)

	b.nc.Close()
	return nil
}

type subscription struct {
	bus          *EventBus
	sub          *nats.Subscription
	consumerName string
}

func (s *subscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	delete(s.bus.subs, s.consumerName)
	return s.sub.Unsubscribe()
}

var _ eventsourcing.EventBus = (*EventBus)(nil)
