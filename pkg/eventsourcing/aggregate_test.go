package eventsourcing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	AggregateRoot
	Total int
}

type counterBumped struct {
	By int `json:"by"`
}

func newCounter(id string) *counter {
	c := &counter{AggregateRoot: NewAggregateRoot(id, "Counter")}
	c.Bind(c)
	return c
}

func (c *counter) Bump(by int) error {
	return c.Record("CounterBumped", counterBumped{By: by})
}

func (c *counter) ApplyEvent(event *Event) error {
	if err := c.Advance(event); err != nil {
		return err
	}
	var payload counterBumped
	if err := event.UnmarshalPayload(&payload); err != nil {
		return err
	}
	c.Total += payload.By
	return nil
}

func TestAggregateRecordAdvancesVersion(t *testing.T) {
	c := newCounter("c1")
	require.Equal(t, int64(0), c.Version())

	require.NoError(t, c.Bump(1))
	require.NoError(t, c.Bump(2))

	assert.Equal(t, int64(2), c.Version())

	events := c.UncommittedEvents()
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].Version)
	assert.Equal(t, int64(2), events[1].Version)
	assert.Equal(t, "aggregate-c1", events[0].StreamID)
	assert.Equal(t, "Counter", events[0].AggregateType)

	c.ClearUncommittedEvents()
	assert.Empty(t, c.UncommittedEvents())
	assert.Equal(t, int64(2), c.Version())
}

func TestAggregateDeterministicEventIDs(t *testing.T) {
	first := newCounter("c1")
	first.SetCommandContext("cmd-1", EventMetadata{Actor: "tester"})
	require.NoError(t, first.Bump(1))
	require.NoError(t, first.Bump(2))

	second := newCounter("c1")
	second.SetCommandContext("cmd-1", EventMetadata{Actor: "tester"})
	require.NoError(t, second.Bump(1))
	require.NoError(t, second.Bump(2))

	firstEvents := first.UncommittedEvents()
	secondEvents := second.UncommittedEvents()
	assert.Equal(t, firstEvents[0].ID, secondEvents[0].ID)
	assert.Equal(t, firstEvents[1].ID, secondEvents[1].ID)
	assert.NotEqual(t, firstEvents[0].ID, firstEvents[1].ID)
}

func TestAggregateCommandContextStampsMetadata(t *testing.T) {
	c := newCounter("c1")
	c.SetCommandContext("cmd-9", EventMetadata{CorrelationID: "corr-1", Actor: "u1"})
	require.NoError(t, c.Bump(5))

	meta := c.UncommittedEvents()[0].Metadata
	assert.Equal(t, "cmd-9", meta.CommandID)
	assert.Equal(t, "cmd-9", meta.CausationID)
	assert.Equal(t, "corr-1", meta.CorrelationID)
	assert.Equal(t, "u1", meta.Actor)
}

func TestAggregateReplayEqualsFold(t *testing.T) {
	source := newCounter("c1")
	require.NoError(t, source.Bump(3))
	require.NoError(t, source.Bump(4))
	require.NoError(t, source.Bump(5))
	history := source.UncommittedEvents()

	replayed := newCounter("c1")
	for _, event := range history {
		require.NoError(t, replayed.ApplyEvent(event))
	}

	assert.Equal(t, source.Total, replayed.Total)
	assert.Equal(t, source.Version(), replayed.Version())
}

func TestAggregateAdvanceRejectsGaps(t *testing.T) {
	c := newCounter("c1")
	err := c.ApplyEvent(&Event{Version: 2, Payload: []byte(`{}`)})
	require.ErrorIs(t, err, ErrInvalidEvent)
}
