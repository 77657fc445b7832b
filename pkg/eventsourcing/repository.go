package eventsourcing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Repository provides persistence operations for aggregates.
type Repository[T Aggregate] interface {
	// Load loads an aggregate by ID, replaying its stream from the latest
	// snapshot when one exists. Returns an empty aggregate at version 0 when
	// the stream doesn't exist.
	Load(ctx context.Context, id string) (T, error)

	// Save persists an aggregate's uncommitted events with the optimistic
	// concurrency check, then takes a snapshot when the strategy asks for one.
	Save(ctx context.Context, aggregate T) error

	// Exists reports whether an aggregate has any committed events.
	Exists(ctx context.Context, id string) (bool, error)
}

// BaseRepository is the standard Repository implementation.
type BaseRepository[T Aggregate] struct {
	store     EventStore
	snapshots SnapshotStore
	strategy  SnapshotStrategy
	registry  *EventRegistry
	factory   func(id string) T
}

// RepositoryOption configures a BaseRepository.
type RepositoryOption[T Aggregate] func(*BaseRepository[T])

// WithSnapshots enables snapshot-accelerated loads using the given store and strategy.
func WithSnapshots[T Aggregate](snapshots SnapshotStore, strategy SnapshotStrategy) RepositoryOption[T] {
	return func(r *BaseRepository[T]) {
		r.snapshots = snapshots
		r.strategy = strategy
	}
}

// WithRegistry migrates old payload versions through the registry during Load.
func WithRegistry[T Aggregate](registry *EventRegistry) RepositoryOption[T] {
	return func(r *BaseRepository[T]) {
		r.registry = registry
	}
}

// NewRepository creates a repository for one aggregate type.
// factory creates an empty aggregate instance for the given id.
func NewRepository[T Aggregate](store EventStore, factory func(id string) T, opts ...RepositoryOption[T]) *BaseRepository[T] {
	r := &BaseRepository[T]{
		store:    store,
		strategy: NeverSnapshot{},
		factory:  factory,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load loads an aggregate by ID from the event store.
func (r *BaseRepository[T]) Load(ctx context.Context, id string) (T, error) {
	aggregate := r.factory(id)

	fromVersion := int64(0)
	if r.snapshots != nil {
		snap, err := r.snapshots.Latest(ctx, id)
		switch {
		case err == nil:
			restorer, ok := any(aggregate).(Snapshotter)
			if !ok {
				return aggregate, fmt.Errorf("aggregate %s does not support snapshots", aggregate.Type())
			}
			if err := restorer.RestoreSnapshot(snap.Version, snap.State); err != nil {
				return aggregate, fmt.Errorf("restoring snapshot at version %d: %w", snap.Version, err)
			}
			fromVersion = snap.Version
		case errors.Is(err, ErrSnapshotNotFound):
			// replay from the beginning
		default:
			return aggregate, fmt.Errorf("loading snapshot: %w", err)
		}
	}

	events, err := r.store.ReadStream(ctx, AggregateStreamID(id), fromVersion, 0)
	if err != nil {
		return aggregate, fmt.Errorf("reading stream: %w", err)
	}

	for _, event := range events {
		if r.registry != nil {
			event, err = r.registry.Upgrade(event)
			if err != nil {
				return aggregate, err
			}
		}
		if err := aggregate.ApplyEvent(event); err != nil {
			return aggregate, fmt.Errorf("applying event %s at version %d: %w", event.EventType, event.Version, err)
		}
	}

	return aggregate, nil
}

// Save persists an aggregate's uncommitted events.
func (r *BaseRepository[T]) Save(ctx context.Context, aggregate T) error {
	uncommitted := aggregate.UncommittedEvents()
	if len(uncommitted) == 0 {
		return nil
	}

	expectedVersion := aggregate.Version() - int64(len(uncommitted))

	if _, err := r.store.AppendToStream(ctx, AggregateStreamID(aggregate.ID()), expectedVersion, uncommitted); err != nil {
		return err
	}
	aggregate.ClearUncommittedEvents()

	r.maybeSnapshot(ctx, aggregate)
	return nil
}

// maybeSnapshot takes a snapshot when the strategy asks for one.
// Snapshot failures are advisory and never fail the save.
func (r *BaseRepository[T]) maybeSnapshot(ctx context.Context, aggregate T) {
	if r.snapshots == nil {
		return
	}
	snapshotter, ok := any(aggregate).(Snapshotter)
	if !ok {
		return
	}

	lastVersion := int64(0)
	lastTaken := time.Time{}
	if snap, err := r.snapshots.Latest(ctx, aggregate.ID()); err == nil {
		lastVersion = snap.Version
		lastTaken = snap.CreatedAt
	}

	if !r.strategy.ShouldSnapshot(aggregate.Version(), lastVersion, lastTaken) {
		return
	}

	state, err := snapshotter.SnapshotState()
	if err != nil {
		return
	}
	_ = r.snapshots.Save(ctx, &Snapshot{
		AggregateID:   aggregate.ID(),
		AggregateType: aggregate.Type(),
		Version:       aggregate.Version(),
		State:         state,
		CreatedAt:     Now(),
	})
}

// Exists checks if an aggregate exists in the event store.
func (r *BaseRepository[T]) Exists(ctx context.Context, id string) (bool, error) {
	version, err := r.store.StreamVersion(ctx, AggregateStreamID(id))
	if err != nil {
		return false, fmt.Errorf("checking stream version: %w", err)
	}
	return version > 0, nil
}
