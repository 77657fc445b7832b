package eventsourcing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Event represents a domain event that has occurred in the system.
// Events are immutable facts about state changes.
type Event struct {
	// ID is the unique identifier for this event (deterministic when produced by a command)
	ID string

	// StreamID identifies the stream this event belongs to
	// ("aggregate-<uuid>" for domain aggregates, "saga-<uuid>" for saga logs)
	StreamID string

	// AggregateID is the identifier of the aggregate this event belongs to
	AggregateID string

	// AggregateType is the type name of the aggregate (e.g., "Product", "Order")
	AggregateType string

	// EventType is the type name of the event (e.g., "ProductCreated")
	EventType string

	// Version is the stream version of the aggregate after applying this event
	Version int64

	// GlobalSequence is the store-wide position assigned at commit.
	// Zero until the event has been committed.
	GlobalSequence int64

	// Timestamp is when the event was created
	Timestamp time.Time

	// Payload is the JSON-encoded event payload
	Payload []byte

	// PayloadVersion is the schema version of the payload.
	// The registry migrates older versions at read time.
	PayloadVersion int

	// Metadata contains additional contextual information
	Metadata EventMetadata

	// UniqueValues are the unique-value claims or releases carried by this event.
	// These are validated atomically with event persistence.
	UniqueValues []UniqueValue
}

// EventMetadata contains contextual information about an event.
type EventMetadata struct {
	// CommandID is the ID of the command that caused this event
	CommandID string

	// CorrelationID is used to trace related events across aggregates
	CorrelationID string

	// CausationID is the ID of the message that directly caused this event
	CausationID string

	// Actor is the identifier of the principal (user, service, saga) who triggered this event
	Actor string

	// Custom allows for application-specific metadata
	Custom map[string]string
}

// UnmarshalPayload unmarshals the raw JSON payload into target.
// Callers replaying old streams should route through the registry instead so
// payload migrations run first.
func (e *Event) UnmarshalPayload(target any) error {
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return fmt.Errorf("unmarshaling %s payload: %w", e.EventType, err)
	}
	return nil
}

// UniqueValue represents a uniqueness claim or release on a value.
type UniqueValue struct {
	// Index identifies the constraint (e.g., "category_name")
	Index string

	// Value is the unique value being claimed or released
	Value string

	// Operation specifies whether to claim or release this value
	Operation UniqueValueOperation
}

// UniqueValueOperation defines operations on unique values.
type UniqueValueOperation string

const (
	// UniqueClaim claims a unique value for this aggregate.
	UniqueClaim UniqueValueOperation = "claim"

	// UniqueRelease releases a unique value previously claimed.
	UniqueRelease UniqueValueOperation = "release"
)

// EventStore defines the interface for persisting and retrieving events.
type EventStore interface {
	// AppendToStream appends events to a stream atomically and returns the
	// new stream version. Validates unique values before persisting.
	// Returns a VersionConflictError if expectedVersion doesn't match the
	// stream's current version, and ErrInvalidEvent if any event is malformed.
	AppendToStream(ctx context.Context, streamID string, expectedVersion int64, events []*Event) (int64, error)

	// ReadStream reads events for one stream starting after fromVersion,
	// ordered by stream version. limit <= 0 means no limit.
	ReadStream(ctx context.Context, streamID string, fromVersion int64, limit int) ([]*Event, error)

	// ReadAllFrom reads committed events across all streams with
	// global_sequence > fromSequence, ordered by global sequence.
	ReadAllFrom(ctx context.Context, fromSequence int64, limit int) ([]*Event, error)

	// ReadByType reads committed events of one event type with
	// global_sequence > fromSequence, ordered by global sequence.
	ReadByType(ctx context.Context, eventType string, fromSequence int64, limit int) ([]*Event, error)

	// StreamVersion returns the current version of a stream.
	// Returns 0 if the stream doesn't exist.
	StreamVersion(ctx context.Context, streamID string) (int64, error)

	// Close closes the event store and releases resources.
	Close() error
}

// Archiver is implemented by stores that can move old events to an archive
// partition. Active and archive tables together always hold the full history.
type Archiver interface {
	// Archive moves events older than the given number of days into the
	// archive table in batches, one transaction per batch.
	// Returns the number of events moved.
	Archive(ctx context.Context, olderThanDays int) (int64, error)
}

// EventBus defines the interface for publishing and subscribing to events.
// Publication is best effort; durable consumers pull from the EventStore.
type EventBus interface {
	// Publish publishes events to all matching subscribers.
	Publish(ctx context.Context, events []*Event) error

	// Subscribe subscribes to events matching the filter.
	// The handler is called for each event.
	Subscribe(filter EventFilter, handler EventHandler) (Subscription, error)

	// Close closes the event bus and releases resources.
	Close() error
}

// EventFilter defines criteria for filtering events.
type EventFilter struct {
	// AggregateTypes filters by aggregate type (empty = all types)
	AggregateTypes []string

	// EventTypes filters by event type (empty = all types)
	EventTypes []string
}

// Matches reports whether an event passes the filter.
func (f EventFilter) Matches(event *Event) bool {
	if len(f.AggregateTypes) > 0 && !contains(f.AggregateTypes, event.AggregateType) {
		return false
	}
	if len(f.EventTypes) > 0 && !contains(f.EventTypes, event.EventType) {
		return false
	}
	return true
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

// EventHandler processes an event delivered by the bus.
// A non-nil error marks the delivery failed; whether it is retried
// depends on the bus implementation.
type EventHandler func(event *Event) error

// Subscription represents an active event subscription.
type Subscription interface {
	// Unsubscribe stops receiving events and cleans up resources.
	Unsubscribe() error
}

const (
	aggregateStreamPrefix = "aggregate-"
	sagaStreamPrefix      = "saga-"
)

// AggregateStreamID returns the stream name for a domain aggregate.
func AggregateStreamID(aggregateID string) string {
	return aggregateStreamPrefix + aggregateID
}

// SagaStreamID returns the stream name for a saga's event log.
func SagaStreamID(sagaID string) string {
	return sagaStreamPrefix + sagaID
}

// GenerateDeterministicEventID generates a deterministic event ID from command context.
// This ensures the same command always produces the same event IDs (idempotency).
func GenerateDeterministicEventID(commandID, aggregateID string, sequence int) string {
	h := sha256.New()
	h.Write([]byte(fmt.Sprintf("%s:%s:%d", commandID, aggregateID, sequence)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
