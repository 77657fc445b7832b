package eventsourcing

import (
	"context"
	"fmt"
	"sync"
)

// CommandBus routes commands to their handlers.
type CommandBus interface {
	// Dispatch sends a command through the middleware chain to its handler
	// and returns the produced events.
	Dispatch(ctx context.Context, cmd *CommandEnvelope) (*CommandResult, error)

	// Register registers a handler for a command type.
	Register(commandType string, handler CommandHandler)

	// RegisterHandler registers a handler for every type it announces.
	RegisterHandler(handler TypedHandler)

	// Use adds middleware to the command processing pipeline.
	Use(middleware CommandMiddleware)
}

// IdempotencyStore caches command results by idempotency key.
// pkg/idempotency provides memory- and Redis-backed implementations.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*CommandResult, bool, error)
	Put(ctx context.Context, key string, result *CommandResult) error
}

// DefaultCommandBus is the in-memory implementation of CommandBus.
type DefaultCommandBus struct {
	handlers    map[string]CommandHandler
	middleware  []CommandMiddleware
	eventBus    EventBus         // optional, for best-effort publication after handling
	idempotency IdempotencyStore // optional, for key-based command deduplication
	mu          sync.RWMutex

	keyMu    sync.Mutex
	keyLocks map[string]*sync.Mutex
}

// CommandBusOption configures a DefaultCommandBus.
type CommandBusOption func(*DefaultCommandBus)

// WithEventBus publishes produced events on the bus after each dispatch.
// Publication is best effort; durable consumers pull from the store.
func WithEventBus(bus EventBus) CommandBusOption {
	return func(b *DefaultCommandBus) {
		b.eventBus = bus
	}
}

// WithIdempotencyStore deduplicates commands that carry an idempotency key.
// A replay of a processed key returns the cached result, marked
// AlreadyProcessed, without re-executing or re-publishing.
func WithIdempotencyStore(store IdempotencyStore) CommandBusOption {
	return func(b *DefaultCommandBus) {
		b.idempotency = store
	}
}

// NewCommandBus creates a new command bus instance.
func NewCommandBus(opts ...CommandBusOption) *DefaultCommandBus {
	b := &DefaultCommandBus{
		handlers:   make(map[string]CommandHandler),
		middleware: make([]CommandMiddleware, 0),
		keyLocks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register registers a handler for a specific command type.
// Panics on duplicate registration; command sets are closed at startup.
func (b *DefaultCommandBus) Register(commandType string, handler CommandHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[commandType]; exists {
		panic(fmt.Sprintf("handler already registered for command type: %s", commandType))
	}
	b.handlers[commandType] = handler
}

// RegisterHandler registers a handler under every command type it announces.
func (b *DefaultCommandBus) RegisterHandler(handler TypedHandler) {
	for _, commandType := range handler.CommandTypes() {
		b.Register(commandType, handler)
	}
}

// Use adds middleware to the command processing pipeline.
// Middleware runs in the order it was added (first added = outermost).
func (b *DefaultCommandBus) Use(middleware CommandMiddleware) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.middleware = append(b.middleware, middleware)
}

// Dispatch sends a command to its registered handler.
func (b *DefaultCommandBus) Dispatch(ctx context.Context, cmd *CommandEnvelope) (*CommandResult, error) {
	if cmd == nil || cmd.Command == nil {
		return nil, ErrInvalidCommand
	}
	if cmd.Metadata.CommandID == "" {
		cmd.Metadata.CommandID = cmd.Command.CommandID()
	}
	if cmd.Metadata.Timestamp.IsZero() {
		cmd.Metadata.Timestamp = Now()
	}

	if key := cmd.Metadata.IdempotencyKey; key != "" && b.idempotency != nil {
		// Same-key dispatches serialize so at most one executes.
		unlock := b.lockKey(key)
		defer unlock()

		if cached, ok, err := b.idempotency.Get(ctx, key); err == nil && ok {
			replay := *cached
			replay.AlreadyProcessed = true
			return &replay, nil
		}
		// Store errors fall through to execution; receivers must tolerate
		// re-execution under at-least-once delivery anyway.
	}

	commandType := cmd.Command.CommandType()

	b.mu.RLock()
	handler, exists := b.handlers[commandType]
	middleware := b.middleware
	b.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCommandNotFound, commandType)
	}

	// Build the chain in reverse so the first added middleware is outermost.
	finalHandler := handler
	for i := len(middleware) - 1; i >= 0; i-- {
		finalHandler = middleware[i](finalHandler)
	}

	events, err := finalHandler.Handle(ctx, cmd)
	if err != nil {
		return nil, err
	}

	if b.eventBus != nil && len(events) > 0 {
		// Best effort: the store, not the bus, is the delivery boundary.
		_ = b.eventBus.Publish(ctx, events)
	}

	result := &CommandResult{
		CommandID:   cmd.Metadata.CommandID,
		Events:      events,
		ProcessedAt: Now(),
	}

	if key := cmd.Metadata.IdempotencyKey; key != "" && b.idempotency != nil {
		// Only successes are cached; a failed command may be retried.
		_ = b.idempotency.Put(ctx, key, result)
	}

	return result, nil
}

// lockKey serializes dispatches sharing an idempotency key. The returned
// function releases the lock and drops it from the map once unused.
func (b *DefaultCommandBus) lockKey(key string) func() {
	b.keyMu.Lock()
	lock, ok := b.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		b.keyLocks[key] = lock
	}
	b.keyMu.Unlock()

	lock.Lock()
	return func() {
		lock.Unlock()
		b.keyMu.Lock()
		if current, ok := b.keyLocks[key]; ok && current == lock {
			delete(b.keyLocks, key)
		}
		b.keyMu.Unlock()
	}
}

// RegisteredTypes returns the registered command types.
func (b *DefaultCommandBus) RegisteredTypes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	types := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		types = append(types, t)
	}
	return types
}
