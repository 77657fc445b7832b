// Package memory implements the event store contracts in process, for tests
// and examples. Nothing is durable and there is no archive partition.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// EventStore is an in-memory eventsourcing.EventStore.
type EventStore struct {
	mu      sync.RWMutex
	streams map[string][]*eventsourcing.Event
	global  []*eventsourcing.Event
	owners  map[string]string // constraint key -> owning aggregate ID
	nextSeq int64

	bus    eventsourcing.EventBus
	logger *slog.Logger
}

// EventStoreOption configures an EventStore.
type EventStoreOption func(*EventStore)

// WithEventBus publishes committed events on the given bus after each append.
func WithEventBus(bus eventsourcing.EventBus) EventStoreOption {
	return func(s *EventStore) {
		s.bus = bus
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) EventStoreOption {
	return func(s *EventStore) {
		s.logger = logger
	}
}

// NewEventStore creates an empty in-memory event store.
func NewEventStore(opts ...EventStoreOption) *EventStore {
	s := &EventStore{
		streams: make(map[string][]*eventsourcing.Event),
		owners:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// AppendToStream appends events to a stream with the same semantics as the
// durable adapters: optimistic version check, unique-value validation, and
// commit-assigned global sequence, all under one lock.
func (s *EventStore) AppendToStream(ctx context.Context, streamID string, expectedVersion int64, events []*eventsourcing.Event) (int64, error) {
	if len(events) == 0 {
		return expectedVersion, nil
	}
	for i, event := range events {
		if event.EventType == "" {
			return 0, fmt.Errorf("%w: event %d has no type", eventsourcing.ErrInvalidEvent, i)
		}
		want := expectedVersion + int64(i) + 1
		if event.Version != 0 && event.Version != want {
			return 0, fmt.Errorf("%w: event %s carries version %d, want %d",
				eventsourcing.ErrInvalidEvent, event.EventType, event.Version, want)
		}
	}

	s.mu.Lock()

	current := s.streamVersionLocked(streamID)
	if current != expectedVersion {
		s.mu.Unlock()
		return 0, &eventsourcing.VersionConflictError{
			StreamID: streamID,
			Expected: expectedVersion,
			Actual:   current,
		}
	}

	// Validate claims against a staged overlay first so a rejected batch
	// leaves the constraint table untouched.
	staged := make(map[string]*string)
	for _, event := range events {
		if err := s.stageUniqueValues(staged, event); err != nil {
			s.mu.Unlock()
			return 0, err
		}
	}
	for key, owner := range staged {
		if owner == nil {
			delete(s.owners, key)
		} else {
			s.owners[key] = *owner
		}
	}

	committedAt := eventsourcing.Now()
	newVersion := expectedVersion
	for _, event := range events {
		newVersion++
		s.nextSeq++
		event.StreamID = streamID
		event.Version = newVersion
		event.GlobalSequence = s.nextSeq
		if event.Timestamp.IsZero() {
			event.Timestamp = committedAt
		}
		if event.PayloadVersion == 0 {
			event.PayloadVersion = 1
		}
		if len(event.Payload) == 0 {
			event.Payload = []byte("{}")
		}

		stored := *event
		s.streams[streamID] = append(s.streams[streamID], &stored)
		s.global = append(s.global, &stored)
	}
	s.mu.Unlock()

	if s.bus != nil {
		if err := s.bus.Publish(ctx, events); err != nil {
			s.logger.WarnContext(ctx, "Publishing committed events failed",
				slog.Int("events_count", len(events)),
				slog.String("error", err.Error()),
			)
		}
	}
	return newVersion, nil
}

// stageUniqueValues validates one event's claims and releases against the
// current owners plus the batch's staged changes. Caller holds the lock.
func (s *EventStore) stageUniqueValues(staged map[string]*string, event *eventsourcing.Event) error {
	for _, uv := range event.UniqueValues {
		key := uv.Index + "\x00" + uv.Value
		switch uv.Operation {
		case eventsourcing.UniqueClaim:
			owner, claimed := s.owners[key]
			if pending, ok := staged[key]; ok {
				claimed = pending != nil
				if pending != nil {
					owner = *pending
				}
			}
			if claimed && owner != event.AggregateID {
				return eventsourcing.NewUniqueValueError(uv.Index, uv.Value, owner)
			}
			id := event.AggregateID
			staged[key] = &id

		case eventsourcing.UniqueRelease:
			owner, claimed := s.owners[key]
			if claimed && owner == event.AggregateID {
				staged[key] = nil
			}

		default:
			return fmt.Errorf("%w: unknown unique value operation %q", eventsourcing.ErrInvalidEvent, uv.Operation)
		}
	}
	return nil
}

// ReadStream reads one stream's events after fromVersion in version order.
func (s *EventStore) ReadStream(_ context.Context, streamID string, fromVersion int64, limit int) ([]*eventsourcing.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*eventsourcing.Event
	for _, event := range s.streams[streamID] {
		if event.Version <= fromVersion {
			continue
		}
		copied := *event
		events = append(events, &copied)
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	return events, nil
}

// ReadAllFrom reads events across all streams after fromSequence in global order.
func (s *EventStore) ReadAllFrom(_ context.Context, fromSequence int64, limit int) ([]*eventsourcing.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*eventsourcing.Event
	for _, event := range s.global {
		if event.GlobalSequence <= fromSequence {
			continue
		}
		copied := *event
		events = append(events, &copied)
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	return events, nil
}

// ReadByType reads events of one type after fromSequence in global order.
func (s *EventStore) ReadByType(_ context.Context, eventType string, fromSequence int64, limit int) ([]*eventsourcing.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*eventsourcing.Event
	for _, event := range s.global {
		if event.EventType != eventType || event.GlobalSequence <= fromSequence {
			continue
		}
		copied := *event
		events = append(events, &copied)
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	return events, nil
}

// StreamVersion returns the current version of a stream, 0 if it doesn't exist.
func (s *EventStore) StreamVersion(_ context.Context, streamID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamVersionLocked(streamID), nil
}

func (s *EventStore) streamVersionLocked(streamID string) int64 {
	events := s.streams[streamID]
	if len(events) == 0 {
		return 0
	}
	return events[len(events)-1].Version
}

// HeadSequence returns the highest assigned global sequence, 0 if empty.
func (s *EventStore) HeadSequence(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextSeq, nil
}

// UniqueValueOwner returns the aggregate owning a claimed value, "" if free.
func (s *EventStore) UniqueValueOwner(_ context.Context, index, value string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owners[index+"\x00"+value], nil
}

// Close is a no-op.
func (s *EventStore) Close() error {
	return nil
}

var _ eventsourcing.EventStore = (*EventStore)(nil)
