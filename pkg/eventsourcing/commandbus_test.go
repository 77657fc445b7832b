package eventsourcing

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCommand struct {
	id          string
	aggregateID string
	commandType string
}

func (c testCommand) CommandID() string   { return c.id }
func (c testCommand) AggregateID() string { return c.aggregateID }
func (c testCommand) CommandType() string { return c.commandType }

func TestCommandBusDispatch(t *testing.T) {
	bus := NewCommandBus()

	var handled *CommandEnvelope
	bus.Register("TestCommand", CommandHandlerFunc(func(ctx context.Context, cmd *CommandEnvelope) ([]*Event, error) {
		handled = cmd
		return []*Event{{ID: "evt-1", EventType: "TestHappened"}}, nil
	}))

	cmd := testCommand{id: "cmd-1", aggregateID: "agg-1", commandType: "TestCommand"}
	result, err := bus.Dispatch(context.Background(), NewEnvelope(cmd))
	require.NoError(t, err)

	require.NotNil(t, handled)
	assert.Equal(t, "cmd-1", handled.Metadata.CommandID)
	assert.Len(t, result.Events, 1)
	assert.Equal(t, "TestHappened", result.Events[0].EventType)
}

func TestCommandBusUnknownCommand(t *testing.T) {
	bus := NewCommandBus()

	cmd := testCommand{id: "cmd-1", commandType: "Nope"}
	_, err := bus.Dispatch(context.Background(), NewEnvelope(cmd))
	require.ErrorIs(t, err, ErrCommandNotFound)
}

func TestCommandBusDuplicateRegistrationPanics(t *testing.T) {
	bus := NewCommandBus()
	handler := CommandHandlerFunc(func(ctx context.Context, cmd *CommandEnvelope) ([]*Event, error) {
		return nil, nil
	})

	bus.Register("TestCommand", handler)
	assert.Panics(t, func() {
		bus.Register("TestCommand", handler)
	})
}

type typedTestHandler struct{}

func (typedTestHandler) CommandTypes() []string { return []string{"A", "B"} }
func (typedTestHandler) Handle(ctx context.Context, cmd *CommandEnvelope) ([]*Event, error) {
	return nil, nil
}

func TestCommandBusRegisterHandler(t *testing.T) {
	bus := NewCommandBus()
	bus.RegisterHandler(typedTestHandler{})

	types := bus.RegisteredTypes()
	assert.ElementsMatch(t, []string{"A", "B"}, types)
}

func TestCommandBusMiddlewareOrder(t *testing.T) {
	bus := NewCommandBus()

	var order []string
	mw := func(name string) CommandMiddleware {
		return func(next CommandHandler) CommandHandler {
			return CommandHandlerFunc(func(ctx context.Context, cmd *CommandEnvelope) ([]*Event, error) {
				order = append(order, name+":before")
				events, err := next.Handle(ctx, cmd)
				order = append(order, name+":after")
				return events, err
			})
		}
	}

	bus.Use(mw("outer"))
	bus.Use(mw("inner"))
	bus.Register("TestCommand", CommandHandlerFunc(func(ctx context.Context, cmd *CommandEnvelope) ([]*Event, error) {
		order = append(order, "handler")
		return nil, nil
	}))

	cmd := testCommand{id: "cmd-1", commandType: "TestCommand"}
	_, err := bus.Dispatch(context.Background(), NewEnvelope(cmd))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"outer:before", "inner:before", "handler", "inner:after", "outer:after",
	}, order)
}

type recordingBus struct {
	published []*Event
}

func (b *recordingBus) Publish(ctx context.Context, events []*Event) error {
	b.published = append(b.published, events...)
	return nil
}

func (b *recordingBus) Subscribe(filter EventFilter, handler EventHandler) (Subscription, error) {
	return nil, nil
}

func (b *recordingBus) Close() error { return nil }

func TestCommandBusPublishesProducedEvents(t *testing.T) {
	eb := &recordingBus{}
	bus := NewCommandBus(WithEventBus(eb))

	bus.Register("TestCommand", CommandHandlerFunc(func(ctx context.Context, cmd *CommandEnvelope) ([]*Event, error) {
		return []*Event{{ID: "evt-1"}, {ID: "evt-2"}}, nil
	}))

	cmd := testCommand{id: "cmd-1", commandType: "TestCommand"}
	_, err := bus.Dispatch(context.Background(), NewEnvelope(cmd))
	require.NoError(t, err)
	assert.Len(t, eb.published, 2)
}

type fakeIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*CommandResult
	gets    int
	puts    int
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{entries: map[string]*CommandResult{}}
}

func (s *fakeIdempotencyStore) Get(_ context.Context, key string) (*CommandResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	result, ok := s.entries[key]
	return result, ok, nil
}

func (s *fakeIdempotencyStore) Put(_ context.Context, key string, result *CommandResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	s.entries[key] = result
	return nil
}

func TestCommandBusIdempotentReplay(t *testing.T) {
	store := newFakeIdempotencyStore()
	bus := NewCommandBus(WithIdempotencyStore(store))

	executions := 0
	bus.Register("TestCommand", CommandHandlerFunc(func(ctx context.Context, cmd *CommandEnvelope) ([]*Event, error) {
		executions++
		return []*Event{{ID: "evt-1", EventType: "TestHappened"}}, nil
	}))

	envelope := func() *CommandEnvelope {
		env := NewEnvelope(testCommand{id: "cmd-1", commandType: "TestCommand"})
		env.Metadata.IdempotencyKey = "order-42"
		return env
	}

	first, err := bus.Dispatch(context.Background(), envelope())
	require.NoError(t, err)
	assert.False(t, first.AlreadyProcessed)

	second, err := bus.Dispatch(context.Background(), envelope())
	require.NoError(t, err)
	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, first.CommandID, second.CommandID)
	assert.Len(t, second.Events, 1)

	assert.Equal(t, 1, executions, "replay must not re-execute")
}

func TestCommandBusIdempotencySkipsFailures(t *testing.T) {
	store := newFakeIdempotencyStore()
	bus := NewCommandBus(WithIdempotencyStore(store))

	attempts := 0
	bus.Register("TestCommand", CommandHandlerFunc(func(ctx context.Context, cmd *CommandEnvelope) ([]*Event, error) {
		attempts++
		if attempts == 1 {
			return nil, NewDomainError("not_ready", "first try fails")
		}
		return nil, nil
	}))

	envelope := func() *CommandEnvelope {
		env := NewEnvelope(testCommand{id: "cmd-1", commandType: "TestCommand"})
		env.Metadata.IdempotencyKey = "order-42"
		return env
	}

	_, err := bus.Dispatch(context.Background(), envelope())
	require.Error(t, err)
	assert.Equal(t, 0, store.puts, "failures are not cached")

	result, err := bus.Dispatch(context.Background(), envelope())
	require.NoError(t, err)
	assert.False(t, result.AlreadyProcessed)
	assert.Equal(t, 2, attempts)
}

func TestCommandBusWithoutKeyBypassesIdempotency(t *testing.T) {
	store := newFakeIdempotencyStore()
	bus := NewCommandBus(WithIdempotencyStore(store))

	executions := 0
	bus.Register("TestCommand", CommandHandlerFunc(func(ctx context.Context, cmd *CommandEnvelope) ([]*Event, error) {
		executions++
		return nil, nil
	}))

	for i := 0; i < 2; i++ {
		_, err := bus.Dispatch(context.Background(), NewEnvelope(testCommand{id: "cmd-1", commandType: "TestCommand"}))
		require.NoError(t, err)
	}

	assert.Equal(t, 2, executions)
	assert.Equal(t, 0, store.gets)
}

func TestCommandBusConcurrentSameKeyExecutesOnce(t *testing.T) {
	store := newFakeIdempotencyStore()
	bus := NewCommandBus(WithIdempotencyStore(store))

	var executions atomic.Int64
	bus.Register("TestCommand", CommandHandlerFunc(func(ctx context.Context, cmd *CommandEnvelope) ([]*Event, error) {
		executions.Add(1)
		time.Sleep(5 * time.Millisecond)
		return nil, nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env := NewEnvelope(testCommand{id: "cmd-1", commandType: "TestCommand"})
			env.Metadata.IdempotencyKey = "order-42"
			_, err := bus.Dispatch(context.Background(), env)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), executions.Load())
}
