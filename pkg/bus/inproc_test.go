package bus

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

func newEvent(id, aggregateType, eventType string) *eventsourcing.Event {
	return &eventsourcing.Event{
		ID:            id,
		StreamID:      eventsourcing.AggregateStreamID("agg-" + id),
		AggregateID:   "agg-" + id,
		AggregateType: aggregateType,
		EventType:     eventType,
		Version:       1,
		Payload:       []byte(`{}`),
	}
}

func TestInProcessBusPublishAndSubscribe(t *testing.T) {
	bus := NewInProcessBus()
	defer bus.Close()

	var received []*eventsourcing.Event
	sub, err := bus.Subscribe(eventsourcing.EventFilter{}, func(event *eventsourcing.Event) error {
		received = append(received, event)
		return nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	events := []*eventsourcing.Event{
		newEvent("e1", "Product", "ProductCreated"),
		newEvent("e2", "Product", "ProductPriceChanged"),
	}
	require.NoError(t, bus.Publish(context.Background(), events))

	require.Len(t, received, 2)
	assert.Equal(t, "e1", received[0].ID)
	assert.Equal(t, "e2", received[1].ID)
}

func TestInProcessBusFiltersByAggregateType(t *testing.T) {
	bus := NewInProcessBus()
	defer bus.Close()

	var received []*eventsourcing.Event
	_, err := bus.Subscribe(eventsourcing.EventFilter{
		AggregateTypes: []string{"Order"},
	}, func(event *eventsourcing.Event) error {
		received = append(received, event)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), []*eventsourcing.Event{
		newEvent("e1", "Product", "ProductCreated"),
		newEvent("e2", "Order", "OrderPlaced"),
		newEvent("e3", "Order", "OrderPaid"),
	}))

	require.Len(t, received, 2)
	assert.Equal(t, "e2", received[0].ID)
	assert.Equal(t, "e3", received[1].ID)
}

func TestInProcessBusFiltersByEventType(t *testing.T) {
	bus := NewInProcessBus()
	defer bus.Close()

	var received []*eventsourcing.Event
	_, err := bus.Subscribe(eventsourcing.EventFilter{
		EventTypes: []string{"OrderPlaced"},
	}, func(event *eventsourcing.Event) error {
		received = append(received, event)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), []*eventsourcing.Event{
		newEvent("e1", "Order", "OrderPlaced"),
		newEvent("e2", "Order", "OrderCancelled"),
	}))

	require.Len(t, received, 1)
	assert.Equal(t, "e1", received[0].ID)
}

func TestInProcessBusHandlerErrorDoesNotStopDelivery(t *testing.T) {
	bus := NewInProcessBus()
	defer bus.Close()

	_, err := bus.Subscribe(eventsourcing.EventFilter{}, func(event *eventsourcing.Event) error {
		return fmt.Errorf("handler exploded")
	})
	require.NoError(t, err)

	var received []*eventsourcing.Event
	_, err = bus.Subscribe(eventsourcing.EventFilter{}, func(event *eventsourcing.Event) error {
		received = append(received, event)
		return nil
	})
	require.NoError(t, err)

	// The failing subscriber is logged and skipped; publish still succeeds
	// and the healthy subscriber sees every event.
	require.NoError(t, bus.Publish(context.Background(), []*eventsourcing.Event{
		newEvent("e1", "Product", "ProductCreated"),
		newEvent("e2", "Product", "ProductArchived"),
	}))
	assert.Len(t, received, 2)
}

func TestInProcessBusUnsubscribe(t *testing.T) {
	bus := NewInProcessBus()
	defer bus.Close()

	var received []*eventsourcing.Event
	sub, err := bus.Subscribe(eventsourcing.EventFilter{}, func(event *eventsourcing.Event) error {
		received = append(received, event)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), []*eventsourcing.Event{newEvent("e1", "Product", "ProductCreated")}))
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, bus.Publish(context.Background(), []*eventsourcing.Event{newEvent("e2", "Product", "ProductCreated")}))

	assert.Len(t, received, 1)
}

func TestInProcessBusEmptyPublishIsNoOp(t *testing.T) {
	bus := NewInProcessBus()
	defer bus.Close()

	assert.NoError(t, bus.Publish(context.Background(), nil))
}

func TestInProcessBusClose(t *testing.T) {
	bus := NewInProcessBus()

	_, err := bus.Subscribe(eventsourcing.EventFilter{}, func(event *eventsourcing.Event) error {
		t.Fatal("subscriber should not run after close")
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Close())

	err = bus.Publish(context.Background(), []*eventsourcing.Event{newEvent("e1", "Product", "ProductCreated")})
	assert.Error(t, err)

	_, err = bus.Subscribe(eventsourcing.EventFilter{}, func(event *eventsourcing.Event) error { return nil })
	assert.Error(t, err)
}

func TestInProcessBusCancelledContext(t *testing.T) {
	bus := NewInProcessBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := bus.Publish(ctx, []*eventsourcing.Event{newEvent("e1", "Product", "ProductCreated")})
	assert.ErrorIs(t, err, context.Canceled)
}
