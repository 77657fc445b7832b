package eventsourcing

import (
	"encoding/json"
	"fmt"
)

// Aggregate defines the interface that all aggregates must implement.
type Aggregate interface {
	// ID returns the unique identifier of the aggregate.
	ID() string

	// Type returns the type name of the aggregate.
	Type() string

	// Version returns the current version of the aggregate.
	Version() int64

	// ApplyEvent applies a committed event to the aggregate's state.
	// This is called when loading events from the event store.
	ApplyEvent(event *Event) error

	// UncommittedEvents returns events that have been recorded but not yet persisted.
	UncommittedEvents() []*Event

	// ClearUncommittedEvents clears the uncommitted events after they've been persisted.
	ClearUncommittedEvents()
}

// Snapshotter is implemented by aggregates that support snapshotting.
type Snapshotter interface {
	// SnapshotState returns the JSON-encoded state for a snapshot.
	SnapshotState() ([]byte, error)

	// RestoreSnapshot restores state from a snapshot taken at the given version.
	RestoreSnapshot(version int64, state []byte) error
}

// AggregateRoot provides base functionality for all aggregates.
// Use this as an embedded type in your aggregate implementations.
type AggregateRoot struct {
	id                string
	aggregateType     string
	version           int64
	uncommittedEvents []*Event
	commandID         string
	metadata          EventMetadata
	applier           func(*Event) error
}

// NewAggregateRoot creates a new aggregate root with the given ID and type.
func NewAggregateRoot(id, aggregateType string) AggregateRoot {
	return AggregateRoot{
		id:                id,
		aggregateType:     aggregateType,
		version:           0,
		uncommittedEvents: make([]*Event, 0),
	}
}

// ID returns the aggregate's unique identifier.
func (a *AggregateRoot) ID() string {
	return a.id
}

// Type returns the aggregate's type name.
func (a *AggregateRoot) Type() string {
	return a.aggregateType
}

// Version returns the aggregate's current version.
func (a *AggregateRoot) Version() int64 {
	return a.version
}

// StreamID returns the event stream name for this aggregate.
func (a *AggregateRoot) StreamID() string {
	return AggregateStreamID(a.id)
}

// UncommittedEvents returns events that haven't been persisted yet.
func (a *AggregateRoot) UncommittedEvents() []*Event {
	return a.uncommittedEvents
}

// ClearUncommittedEvents clears the uncommitted events list.
func (a *AggregateRoot) ClearUncommittedEvents() {
	a.uncommittedEvents = make([]*Event, 0)
}

// Bind connects the root to the aggregate embedding it. Once bound, every
// recorded event is folded into the aggregate's state through ApplyEvent,
// so command methods observe the effects of earlier events in the same
// command. Constructors call this once.
func (a *AggregateRoot) Bind(aggregate Aggregate) {
	a.applier = aggregate.ApplyEvent
}

// SetCommandContext stamps the command being processed onto the root.
// The command ID seeds deterministic event IDs; the metadata is copied onto
// every event recorded until the next call.
func (a *AggregateRoot) SetCommandContext(commandID string, metadata EventMetadata) {
	a.commandID = commandID
	a.metadata = metadata
	a.metadata.CommandID = commandID
	if a.metadata.CausationID == "" {
		a.metadata.CausationID = commandID
	}
}

const defaultPayloadVersion = 1

// Record records a new event against the aggregate.
// The payload is JSON-encoded at the current schema version, the event is
// folded into the aggregate's state and the version advances by one.
func (a *AggregateRoot) Record(eventType string, payload any) error {
	return a.RecordUnique(eventType, payload, nil)
}

// RecordUnique records a new event carrying unique-value claims or releases.
// The values are validated atomically when the event is persisted.
func (a *AggregateRoot) RecordUnique(eventType string, payload any, values []UniqueValue) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", eventType, err)
	}

	var eventID string
	if a.commandID != "" {
		eventID = GenerateDeterministicEventID(a.commandID, a.id, len(a.uncommittedEvents))
	} else {
		eventID = generateRandomEventID()
	}

	evt := &Event{
		ID:             eventID,
		StreamID:       AggregateStreamID(a.id),
		AggregateID:    a.id,
		AggregateType:  a.aggregateType,
		EventType:      eventType,
		Version:        a.version + 1,
		Timestamp:      Now(),
		Payload:        data,
		PayloadVersion: defaultPayloadVersion,
		Metadata:       a.metadata,
		UniqueValues:   values,
	}

	a.uncommittedEvents = append(a.uncommittedEvents, evt)

	if a.applier != nil {
		if err := a.applier(evt); err != nil {
			a.uncommittedEvents = a.uncommittedEvents[:len(a.uncommittedEvents)-1]
			return err
		}
		return nil
	}

	a.version++
	return nil
}

// Advance moves the version forward for an event applied from history.
// Returns ErrInvalidEvent if the event version is not exactly version+1.
func (a *AggregateRoot) Advance(event *Event) error {
	if event.Version != a.version+1 {
		return fmt.Errorf("%w: event version %d does not follow aggregate version %d",
			ErrInvalidEvent, event.Version, a.version)
	}
	a.version = event.Version
	return nil
}

// RestoreVersion sets the version directly, used when restoring from a snapshot.
func (a *AggregateRoot) RestoreVersion(version int64) {
	a.version = version
}
