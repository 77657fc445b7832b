// Package bus provides the in-process event bus. Delivery is synchronous
// push on the publisher's goroutine and strictly best effort: a failing
// handler is logged and skipped. Consumers that need every event pull from
// the event store with a checkpoint instead of subscribing here.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// InProcessBus fans committed events out to filtered subscribers inside a
// single process. Each subscriber observes events in publish order; ordering
// across subscribers is unspecified.
type InProcessBus struct {
	mu     sync.RWMutex
	subs   map[string]*inprocSubscription
	closed bool
	logger *slog.Logger
}

// Option configures an InProcessBus.
type Option func(*InProcessBus)

// WithLogger sets the logger used to report handler failures.
// Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *InProcessBus) {
		b.logger = logger
	}
}

// NewInProcessBus creates an event bus with no subscribers.
func NewInProcessBus(opts ...Option) *InProcessBus {
	b := &InProcessBus{
		subs:   make(map[string]*inprocSubscription),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers each event to every subscriber whose filter matches.
// Handler errors are logged, never returned and never retried, so one bad
// subscriber cannot fail the publish or starve the others.
func (b *InProcessBus) Publish(ctx context.Context, events []*eventsourcing.Event) error {
	if len(events) == 0 {
		return nil
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("event bus is closed")
	}
	subs := make([]*inprocSubscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, sub := range subs {
			if !sub.filter.Matches(event) {
				continue
			}
			if err := sub.handler(event); err != nil {
				b.logger.WarnContext(ctx, "Event handler failed",
					slog.String("event_id", event.ID),
					slog.String("event_type", event.EventType),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return nil
}

// Subscribe registers a handler for events matching the filter.
func (b *InProcessBus) Subscribe(filter eventsourcing.EventFilter, handler eventsourcing.EventHandler) (eventsourcing.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}

	sub := &inprocSubscription{
		bus:     b,
		id:      eventsourcing.GenerateID(),
		filter:  filter,
		handler: handler,
	}
	b.subs[sub.id] = sub
	return sub, nil
}

// Close drops all subscriptions. Subsequent publishes and subscribes fail.
func (b *InProcessBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.subs = make(map[string]*inprocSubscription)
	return nil
}

type inprocSubscription struct {
	bus     *InProcessBus
	id      string
	filter  eventsourcing.EventFilter
	handler eventsourcing.EventHandler
}

func (s *inprocSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	delete(s.bus.subs, s.id)
	return nil
}

var _ eventsourcing.EventBus = (*InProcessBus)(nil)
