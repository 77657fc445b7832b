// Package sqlite implements the event store contracts on SQLite via the
// pure-Go modernc.org/sqlite driver. It is the default adapter: ACID appends
// with optimistic concurrency, unique-value claims checked inside the append
// transaction, snapshots, checkpoints, and batch archival.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// DefaultVersionCacheSize bounds the advisory stream version cache.
const DefaultVersionCacheSize = 4096

// EventStore is a SQLite-backed eventsourcing.EventStore.
type EventStore struct {
	db       *sql.DB
	bus      eventsourcing.EventBus
	logger   *slog.Logger
	versions *lru.Cache[string, int64]
}

type eventStoreConfig struct {
	dsn              string
	maxOpenConns     int
	maxIdleConns     int
	walMode          bool
	autoMigrate      bool
	versionCacheSize int
	bus              eventsourcing.EventBus
	logger           *slog.Logger
}

func defaultEventStoreConfig() eventStoreConfig {
	return eventStoreConfig{
		dsn:              "shopstream.db",
		maxOpenConns:     25,
		maxIdleConns:     5,
		walMode:          true,
		autoMigrate:      true,
		versionCacheSize: DefaultVersionCacheSize,
	}
}

// EventStoreOption configures an EventStore.
type EventStoreOption func(*eventStoreConfig)

// WithDSN sets the data source name (file path or ":memory:" for in-memory).
func WithDSN(dsn string) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.dsn = dsn
	}
}

// WithMemoryDatabase uses an in-memory database, mainly for tests.
func WithMemoryDatabase() EventStoreOption {
	return func(c *eventStoreConfig) {
		c.dsn = ":memory:"
	}
}

// WithMaxOpenConns sets the maximum number of open connections.
func WithMaxOpenConns(n int) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.maxOpenConns = n
	}
}

// WithMaxIdleConns sets the maximum number of idle connections.
func WithMaxIdleConns(n int) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.maxIdleConns = n
	}
}

// WithWALMode enables write-ahead logging for better concurrency.
// Not available for :memory: databases.
func WithWALMode(enabled bool) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.walMode = enabled
	}
}

// WithAutoMigrate runs pending migrations on startup.
func WithAutoMigrate(enabled bool) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.autoMigrate = enabled
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

// NewEventStore opens (and by default migrates) a SQLite event store.
//
//	store, err := sqlite.NewEventStore(sqlite.WithDSN("shopstream.db"))
//
//	// In-memory database for tests
//	store, err := sqlite.NewEventStore(
//	    sqlite.WithMemoryDatabase(),
//	    sqlite.WithWALMode(false),
//	)
func NewEventStore(opts ...EventStoreOption) (*EventStore, error) {
	config := defaultEventStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.logger == nil {
		config.logger = slog.Default()
	}

	db, err := sql.Open("sqlite", config.dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A :memory: database exists per connection, so the pool must be
	// restricted to one or each connection sees its own empty schema.
	if config.dsn == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(config.maxOpenConns)
		db.SetMaxIdleConns(config.maxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	versions, err := lru.New[string, int64](config.versionCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating version cache: %w", err)
	}

	store := &EventStore{
		db:       db,
		bus:      config.bus,
		logger:   config.logger,
		versions: versions,
	}

	if config.walMode {
		if err := store.setWALMode(); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting WAL mode: %w", err)
		}
	}

	if config.autoMigrate {
		if err := runMigrations(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating event store: %w", err)
		}
	}

	return store, nil
}

func (s *EventStore) setWALMode() error {
	_, err := s.db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA foreign_keys = ON;
	`)
	return err
}

// AppendToStream appends events to a stream atomically.
//
// One transaction: version check against the full history (active and
// archived rows), unique-value validation, inserts with server-assigned
// global sequence. The version cache is advisory; it can fail a doomed
// append early but the transaction remains authoritative.
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

	// Stream versions only ever grow, so a cached version above the
	// expectation proves the append lost the race without touching the db.
	if cached, ok := s.versions.Get(streamID); ok && cached > expectedVersion {
		return 0, &eventsourcing.VersionConflictError{
			StreamID: streamID,
			Expected: expectedVersion,
			Actual:   cached,
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eventsourcing.Transient(fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

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

		seq, err := insertEvent(ctx, tx, event, committedAt)
		if err != nil {
			return 0, err
		}
		event.GlobalSequence = seq
	}

	if err := tx.Commit(); err != nil {
		return 0, eventsourcing.Transient(fmt.Errorf("committing append: %w", err))
	}
	s.versions.Add(streamID, newVersion)

	s.publish(ctx, events)
	return newVersion, nil
}

// publish broadcasts committed events. Failures are logged, never surfaced;
// the store is the delivery guarantee boundary, not the bus.
func (s *EventStore) publish(ctx context.Context, events []*eventsourcing.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, events); err != nil {
		s.logger.WarnContext(ctx, "Publishing committed events failed",
			slog.Int("events_count", len(events)),
			slog.String("error", err.Error()),
		)
	}
}

func insertEvent(ctx context.Context, tx *sql.Tx, event *eventsourcing.Event, committedAt time.Time) (int64, error) {
	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return 0, fmt.Errorf("marshaling metadata: %w", err)
	}

	var uniqueValues sql.NullString
	if len(event.UniqueValues) > 0 {
		raw, err := json.Marshal(event.UniqueValues)
		if err != nil {
			return 0, fmt.Errorf("marshaling unique values: %w", err)
		}
		uniqueValues = sql.NullString{String: string(raw), Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (
			event_id, stream_id, stream_version, aggregate_id, aggregate_type,
			event_type, payload, payload_version, metadata, unique_values,
			occurred_at, committed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID, event.StreamID, event.Version, event.AggregateID, event.AggregateType,
		event.EventType, event.Payload, event.PayloadVersion, string(metadataJSON), uniqueValues,
		event.Timestamp.Unix(), committedAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting event %s: %w", event.EventType, err)
	}

	// global_sequence is the rowid, so LastInsertId returns it directly.
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading assigned sequence: %w", err)
	}
	return seq, nil
}

// applyUniqueValues validates and applies the event's unique-value claims
// and releases inside the append transaction.
func applyUniqueValues(ctx context.Context, tx *sql.Tx, event *eventsourcing.Event) error {
	for _, uv := range event.UniqueValues {
		switch uv.Operation {
		case eventsourcing.UniqueClaim:
			var ownerID string
			err := tx.QueryRowContext(ctx,
				`SELECT owner_id FROM unique_constraints WHERE index_name = ? AND value = ?`,
				uv.Index, uv.Value,
			).Scan(&ownerID)
			switch {
			case err == sql.ErrNoRows:
				// free to claim
			case err != nil:
				return fmt.Errorf("checking unique value: %w", err)
			case ownerID == event.AggregateID:
				continue // already ours
			default:
				return eventsourcing.NewUniqueValueError(uv.Index, uv.Value, ownerID)
			}

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO unique_constraints (index_name, value, owner_id, created_at) VALUES (?, ?, ?, ?)`,
				uv.Index, uv.Value, event.AggregateID, eventsourcing.Now().Unix(),
			); err != nil {
				return fmt.Errorf("claiming unique value: %w", err)
			}

		case eventsourcing.UniqueRelease:
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM unique_constraints WHERE index_name = ? AND value = ? AND owner_id = ?`,
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
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id FROM unique_constraints WHERE index_name = ? AND value = ?`,
		index, value,
	).Scan(&ownerID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading unique value owner: %w", err)
	}
	return ownerID, nil
}

// DB exposes the underlying database so checkpoint stores and projections
// can share it for single-transaction updates.
func (s *EventStore) DB() *sql.DB {
	return s.db
}

// Close closes the event store and releases resources.
func (s *EventStore) Close() error {
	return s.db.Close()
}

var (
	_ eventsourcing.EventStore = (*EventStore)(nil)
	_ eventsourcing.Archiver   = (*EventStore)(nil)
)
