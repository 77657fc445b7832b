package eventsourcing

import (
	"encoding/json"
	"fmt"
	"sync"
)

// PayloadUpgrade migrates a raw JSON payload from one schema version to the
// next. Upgrades are chained until the payload reaches the registered version.
type PayloadUpgrade func(payload []byte) ([]byte, error)

type registryEntry struct {
	version  int
	factory  func() any
	upgrades map[int]PayloadUpgrade
}

// EventRegistry maps event type tags to payload prototypes and migration
// functions. Registration is explicit at startup; decoding an unregistered
// type fails with ErrUnknownEventType.
type EventRegistry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
}

// NewEventRegistry creates an empty registry.
func NewEventRegistry() *EventRegistry {
	return &EventRegistry{entries: make(map[string]*registryEntry)}
}

// Register registers an event type at its current payload version.
// factory must return a pointer to a fresh payload value.
// Panics if the type is already registered.
func (r *EventRegistry) Register(eventType string, payloadVersion int, factory func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[eventType]; exists {
		panic(fmt.Sprintf("event type already registered: %s", eventType))
	}
	if payloadVersion < 1 {
		panic(fmt.Sprintf("payload version must be >= 1 for %s", eventType))
	}

	r.entries[eventType] = &registryEntry{
		version:  payloadVersion,
		factory:  factory,
		upgrades: make(map[int]PayloadUpgrade),
	}
}

// RegisterUpgrade installs a migration from fromVersion to fromVersion+1.
// Every version below the registered one needs an upgrade before events of
// that age can be decoded.
func (r *EventRegistry) RegisterUpgrade(eventType string, fromVersion int, upgrade PayloadUpgrade) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[eventType]
	if !exists {
		panic(fmt.Sprintf("cannot register upgrade for unknown event type: %s", eventType))
	}
	if fromVersion < 1 || fromVersion >= entry.version {
		panic(fmt.Sprintf("upgrade from version %d out of range for %s (current %d)",
			fromVersion, eventType, entry.version))
	}
	entry.upgrades[fromVersion] = upgrade
}

// Known reports whether an event type is registered.
func (r *EventRegistry) Known(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.entries[eventType]
	return exists
}

// Version returns the registered payload version for an event type.
func (r *EventRegistry) Version(eventType string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[eventType]
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	return entry.version, nil
}

// Upgrade migrates an event's payload to the registered version.
// Returns the event unchanged when it is already current; otherwise returns
// a copy carrying the migrated payload and version. A payload version ahead
// of the registry is a fatal condition.
func (r *EventRegistry) Upgrade(event *Event) (*Event, error) {
	r.mu.RLock()
	entry, exists := r.entries[event.EventType]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, event.EventType)
	}

	version := event.PayloadVersion
	if version == 0 {
		version = 1
	}
	if version == entry.version {
		return event, nil
	}
	if version > entry.version {
		return nil, Fatal(fmt.Errorf("event %s has payload version %d, registry knows %d",
			event.ID, version, entry.version))
	}

	payload := event.Payload
	for version < entry.version {
		upgrade, ok := entry.upgrades[version]
		if !ok {
			return nil, Fatal(fmt.Errorf("no payload upgrade from version %d for %s", version, event.EventType))
		}
		upgraded, err := upgrade(payload)
		if err != nil {
			return nil, Fatal(fmt.Errorf("upgrading %s payload from version %d: %w", event.EventType, version, err))
		}
		payload = upgraded
		version++
	}

	migrated := *event
	migrated.Payload = payload
	migrated.PayloadVersion = entry.version
	return &migrated, nil
}

// Decode migrates the event payload to the registered version and unmarshals
// it into a fresh value from the factory.
func (r *EventRegistry) Decode(event *Event) (any, error) {
	r.mu.RLock()
	entry, exists := r.entries[event.EventType]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, event.EventType)
	}

	current, err := r.Upgrade(event)
	if err != nil {
		return nil, err
	}

	value := entry.factory()
	if err := json.Unmarshal(current.Payload, value); err != nil {
		return nil, Fatal(fmt.Errorf("decoding %s payload: %w", event.EventType, err))
	}
	return value, nil
}

// DecodeInto migrates the event payload and unmarshals it into target.
func (r *EventRegistry) DecodeInto(event *Event, target any) error {
	current, err := r.Upgrade(event)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(current.Payload, target); err != nil {
		return Fatal(fmt.Errorf("decoding %s payload: %w", event.EventType, err))
	}
	return nil
}
