package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// SnapshotStore implements eventsourcing.SnapshotStore on SQLite.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore creates a snapshot store on an already migrated database,
// typically the event store's own (pass eventStore.DB()).
func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save persists a snapshot. Saving the same version twice overwrites.
func (s *SnapshotStore) Save(ctx context.Context, snapshot *eventsourcing.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (aggregate_id, aggregate_type, version, state, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (aggregate_id, version) DO UPDATE SET
			aggregate_type = excluded.aggregate_type,
			state = excluded.state,
			created_at = excluded.created_at
	`, snapshot.AggregateID, snapshot.AggregateType, snapshot.Version, snapshot.State, snapshot.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot for an aggregate.
func (s *SnapshotStore) Latest(ctx context.Context, aggregateID string) (*eventsourcing.Snapshot, error) {
	var (
		snapshot  eventsourcing.Snapshot
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT aggregate_id, aggregate_type, version, state, created_at
		FROM snapshots
		WHERE aggregate_id = ?
		ORDER BY version DESC
		LIMIT 1
	`, aggregateID).Scan(
		&snapshot.AggregateID, &snapshot.AggregateType, &snapshot.Version,
		&snapshot.State, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, eventsourcing.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest snapshot: %w", err)
	}

	snapshot.CreatedAt = time.Unix(createdAt, 0)
	return &snapshot, nil
}

// DeleteOlderThan removes an aggregate's snapshots below the given version.
func (s *SnapshotStore) DeleteOlderThan(ctx context.Context, aggregateID string, version int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM snapshots WHERE aggregate_id = ? AND version < ?
	`, aggregateID, version)
	if err != nil {
		return 0, fmt.Errorf("deleting old snapshots: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted snapshots: %w", err)
	}
	return deleted, nil
}

var _ eventsourcing.SnapshotStore = (*SnapshotStore)(nil)
