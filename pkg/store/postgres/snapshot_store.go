package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// SnapshotStore implements eventsourcing.SnapshotStore on PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a snapshot store on an already migrated pool,
// typically the event store's own (pass eventStore.Pool()).
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Save persists a snapshot. Saving the same version twice overwrites.
func (s *SnapshotStore) Save(ctx context.Context, snapshot *eventsourcing.Snapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO snapshots (aggregate_id, aggregate_type, version, state, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (aggregate_id, version) DO UPDATE SET
			aggregate_type = excluded.aggregate_type,
			state = excluded.state,
			created_at = excluded.created_at
	`, snapshot.AggregateID, snapshot.AggregateType, snapshot.Version, snapshot.State, snapshot.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot for an aggregate.
func (s *SnapshotStore) Latest(ctx context.Context, aggregateID string) (*eventsourcing.Snapshot, error) {
	var snapshot eventsourcing.Snapshot
	err := s.pool.QueryRow(ctx, `
		SELECT aggregate_id, aggregate_type, version, state, created_at
		FROM snapshots
		WHERE aggregate_id = $1
		ORDER BY version DESC
		LIMIT 1
	`, aggregateID).Scan(
		&snapshot.AggregateID, &snapshot.AggregateType, &snapshot.Version,
		&snapshot.State, &snapshot.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eventsourcing.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest snapshot: %w", err)
	}
	return &snapshot, nil
}

// DeleteOlderThan removes an aggregate's snapshots below the given version.
func (s *SnapshotStore) DeleteOlderThan(ctx context.Context, aggregateID string, version int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM snapshots WHERE aggregate_id = $1 AND version < $2
	`, aggregateID, version)
	if err != nil {
		return 0, fmt.Errorf("deleting old snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ eventsourcing.SnapshotStore = (*SnapshotStore)(nil)
