package eventsourcing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widgetAdded struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
	Label string `json:"label"`
}

func TestRegistryDecode(t *testing.T) {
	registry := NewEventRegistry()
	registry.Register("WidgetAdded", 1, func() any { return &widgetAdded{} })

	payload, _ := json.Marshal(widgetAdded{Name: "w1", Count: 3})
	event := &Event{EventType: "WidgetAdded", Payload: payload, PayloadVersion: 1}

	decoded, err := registry.Decode(event)
	require.NoError(t, err)

	added, ok := decoded.(*widgetAdded)
	require.True(t, ok)
	assert.Equal(t, "w1", added.Name)
	assert.Equal(t, 3, added.Count)
}

func TestRegistryUnknownType(t *testing.T) {
	registry := NewEventRegistry()

	_, err := registry.Decode(&Event{EventType: "Mystery"})
	require.ErrorIs(t, err, ErrUnknownEventType)
}

func TestRegistryUpgradeChain(t *testing.T) {
	registry := NewEventRegistry()
	registry.Register("WidgetAdded", 3, func() any { return &widgetAdded{} })

	// v1 -> v2 renames "n" to "name"
	registry.RegisterUpgrade("WidgetAdded", 1, func(payload []byte) ([]byte, error) {
		var old map[string]any
		if err := json.Unmarshal(payload, &old); err != nil {
			return nil, err
		}
		old["name"] = old["n"]
		delete(old, "n")
		return json.Marshal(old)
	})

	// v2 -> v3 adds a default label
	registry.RegisterUpgrade("WidgetAdded", 2, func(payload []byte) ([]byte, error) {
		var old map[string]any
		if err := json.Unmarshal(payload, &old); err != nil {
			return nil, err
		}
		old["label"] = "unlabeled"
		return json.Marshal(old)
	})

	event := &Event{
		EventType:      "WidgetAdded",
		Payload:        []byte(`{"n":"legacy","count":7}`),
		PayloadVersion: 1,
	}

	decoded, err := registry.Decode(event)
	require.NoError(t, err)

	added := decoded.(*widgetAdded)
	assert.Equal(t, "legacy", added.Name)
	assert.Equal(t, 7, added.Count)
	assert.Equal(t, "unlabeled", added.Label)

	// the original event is untouched
	assert.Equal(t, 1, event.PayloadVersion)
}

func TestRegistryUpgradeReturnsCurrentEventUnchanged(t *testing.T) {
	registry := NewEventRegistry()
	registry.Register("WidgetAdded", 1, func() any { return &widgetAdded{} })

	event := &Event{EventType: "WidgetAdded", Payload: []byte(`{}`), PayloadVersion: 1}
	upgraded, err := registry.Upgrade(event)
	require.NoError(t, err)
	assert.Same(t, event, upgraded)
}

func TestRegistryPayloadVersionAheadIsFatal(t *testing.T) {
	registry := NewEventRegistry()
	registry.Register("WidgetAdded", 1, func() any { return &widgetAdded{} })

	event := &Event{EventType: "WidgetAdded", Payload: []byte(`{}`), PayloadVersion: 2}
	_, err := registry.Decode(event)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestRegistryMissingUpgradeIsFatal(t *testing.T) {
	registry := NewEventRegistry()
	registry.Register("WidgetAdded", 2, func() any { return &widgetAdded{} })

	event := &Event{EventType: "WidgetAdded", Payload: []byte(`{}`), PayloadVersion: 1}
	_, err := registry.Decode(event)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestRegistryDuplicateRegistrationPanics(t *testing.T) {
	registry := NewEventRegistry()
	registry.Register("WidgetAdded", 1, func() any { return &widgetAdded{} })

	assert.Panics(t, func() {
		registry.Register("WidgetAdded", 1, func() any { return &widgetAdded{} })
	})
}
