// Package postgres implements the event store contracts on PostgreSQL via
// jackc/pgx/v5. Appends take a global advisory lock so rows commit in
// global_sequence order, which pull consumers rely on; deployments that
// outgrow a single serialized writer should partition stores, not drop the
// lock.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// DefaultVersionCacheSize bounds the advisory stream version cache.
const DefaultVersionCacheSize = 4096

// appendLockKey is the advisory lock serializing append transactions.
// Held for the transaction only (pg_advisory_xact_lock).
const appendLockKey = int64(0x73686f7073747265)

// EventStore is a PostgreSQL-backed eventsourcing.EventStore.
type EventStore struct {
	pool     *pgxpool.Pool
	bus      eventsourcing.EventBus
	logger   *slog.Logger
	versions *lru.Cache[string, int64]
}

type eventStoreConfig struct {
	ensureSchema     bool
	versionCacheSize int
	bus              eventsourcing.EventBus
	logger           *slog.Logger
}

// EventStoreOption configures an EventStore.
type EventStoreOption func(*eventStoreConfig)

// WithEnsureSchema creates the event store tables on startup.
func WithEnsureSchema(enabled bool) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.ensureSchema = enabled
	}
}

// WithVersionCacheSize bounds the advisory stream version cache.
func WithVersionCacheSize(n int) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.versionCacheSize = n
	}
}

// WithEventBus publishes committed events on the given bus after each append.
// Publication is best effort; durable consumers pull from the store instead.
func WithEventBus(bus eventsourcing.EventBus) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.bus = bus
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.logger = logger
	}
}

// Connect opens a pgx pool and verifies the connection.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eventsourcing.Transient(fmt.Errorf("pinging postgres: %w", err))
	}
	return pool, nil
}

// NewEventStore creates an event store on the given pool and by default
// ensures the schema exists.
func NewEventStore(ctx context.Context, pool *pgxpool.Pool, opts ...EventStoreOption) (*EventStore, error) {
	config := eventStoreConfig{
		ensureSchema:     true,
		versionCacheSize: DefaultVersionCacheSize,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.logger == nil {
		config.logger = slog.Default()
	}

	versions, err := lru.New[string, int64](config.versionCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating version cache: %w", err)
	}

	store := &EventStore{
		pool:     pool,
		bus:      config.bus,
		logger:   config.logger,
		versions: versions,
	}

	if config.ensureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// AppendToStream appends events to a stream atomically.
//
// Semantics match the SQLite adapter: version check against the full history
// (active and archived rows), unique-value validation, inserts with
// server-assigned global sequence, all in one transaction. The advisory lock
// keeps sequence assignment aligned with commit order.
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

	if cached, ok := s.versions.Get(streamID); ok && cached > expectedVersion {
		return 0, &eventsourcing.VersionConflictError{
			StreamID: streamID,
			Expected: expectedVersion,
			Actual:   cached,
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eventsourcing.Transient(fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
		return 0, eventsourcing.Transient(fmt.Errorf("acquiring append lock: %w", err))
	}

	current, err := streamVersionTx(ctx, tx, streamID)
	if err != nil {
		return 0, fmt.Errorf("reading current version: %w", err)
	}
	if current != expectedVersion {
		return 0, &eventsourcing.VersionConflictError{
			StreamID: streamID,
			Expected: expectedVersion,
			Actual:   current,
		}
	}

	for _, event := range events {
		if err := applyUniqueValues(ctx, tx, event); err != nil {
			return 0, err
		}
	}

	committedAt := eventsourcing.Now()
	newVersion := expectedVersion
	for _, event := range events {
		newVersion++
		event.StreamID = streamID
		event.Version = newVersion
		if event.Timestamp.IsZero() {
			event.Timestamp = committedAt
		}
		if event.PayloadVersion == 0 {
			event.PayloadVersion = 1
		}
		if len(event.Payload) == 0 {
			event.Payload = []byte("{}")
		}

		metadataJSON, err := json.Marshal(event.Metadata)
		if err != nil {
			return 0, fmt.Errorf("marshaling metadata: %w", err)
		}
		var uniqueValues []byte
		if len(event.UniqueValues) > 0 {
			if uniqueValues, err = json.Marshal(event.UniqueValues); err != nil {
				return 0, fmt.Errorf("marshaling unique values: %w", err)
			}
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO events (
				event_id, stream_id, stream_version, aggregate_id, aggregate_type,
				event_type, payload, payload_version, metadata, unique_values,
				occurred_at, committed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING global_sequence
		`,
			event.ID, event.StreamID, event.Version, event.AggregateID, event.AggregateType,
			event.EventType, event.Payload, event.PayloadVersion, metadataJSON, uniqueValues,
			event.Timestamp, committedAt,
		).Scan(&event.GlobalSequence)
		if err != nil {
			return 0, fmt.Errorf("inserting event %s: %w", event.EventType, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eventsourcing.Transient(fmt.Errorf("committing append: %w", err))
	}
	s.versions.Add(streamID, newVersion)

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

// applyUniqueValues validates and applies the event's unique-value claims
// and releases inside the append transaction.
func applyUniqueValues(ctx context.Context, tx pgx.Tx, event *eventsourcing.Event) error {
	for _, uv := range event.UniqueValues {
		switch uv.Operation {
		case eventsourcing.UniqueClaim:
			var ownerID string
			err := tx.QueryRow(ctx,
				`SELECT owner_id FROM unique_constraints WHERE index_name = $1 AND value = $2`,
				uv.Index, uv.Value,
			).Scan(&ownerID)
			switch {
			case errors.Is(err, pgx.ErrNoRows):
				// free to claim
			case err != nil:
				return fmt.Errorf("checking unique value: %w", err)
			case ownerID == event.AggregateID:
				continue // already ours
			default:
				return eventsourcing.NewUniqueValueError(uv.Index, uv.Value, ownerID)
			}

			if _, err := tx.Exec(ctx,
				`INSERT INTO unique_constraints (index_name, value, owner_id, created_at) VALUES ($1, $2, $3, $4)`,
				uv.Index, uv.Value, event.AggregateID, eventsourcing.Now(),
			); err != nil {
				return fmt.Errorf("claiming unique value: %w", err)
			}

		case eventsourcing.UniqueRelease:
			if _, err := tx.Exec(ctx,
				`DELETE FROM unique_constraints WHERE index_name = $1 AND value = $2 AND owner_id = $3`,
				uv.Index, uv.Value, event.AggregateID,
			); err != nil {
				return fmt.Errorf("releasing unique value: %w", err)
			}

		default:
			return fmt.Errorf("%w: unknown unique value operation %q", eventsourcing.ErrInvalidEvent, uv.Operation)
		}
	}
	return nil
}

// UniqueValueOwner returns the aggregate owning a claimed value, "" if free.
func (s *EventStore) UniqueValueOwner(ctx context.Context, index, value string) (string, error) {
	var ownerID string
	err := s.pool.QueryRow(ctx,
		`SELECT owner_id FROM unique_constraints WHERE index_name = $1 AND value = $2`,
		index, value,
	).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading unique value owner: %w", err)
	}
	return ownerID, nil
}

// Pool exposes the underlying pool, mainly for tests and maintenance jobs.
func (s *EventStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the pool.
func (s *EventStore) Close() error {
	s.pool.Close()
	return nil
}

var (
	_ eventsourcing.EventStore = (*EventStore)(nil)
	_ eventsourcing.Archiver   = (*EventStore)(nil)
)
