package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/corefold/shopstream/pkg/store"
)

// CheckpointStore is a SQLite-backed store.CheckpointStore.
//
// It can share the event store's database (pass eventStore.DB()) or use a
// separate one so read models scale independently of the event log. SaveInTx
// lets the projection engine advance the checkpoint in the same transaction
// as the read model write.
type CheckpointStore struct {
	db *sql.DB
}

type checkpointStoreConfig struct {
	autoMigrate bool
}

// CheckpointStoreOption configures a CheckpointStore.
type CheckpointStoreOption func(*checkpointStoreConfig)

// WithCheckpointAutoMigrate runs pending checkpoint migrations on startup.
func WithCheckpointAutoMigrate(enabled bool) CheckpointStoreOption {
	return func(c *checkpointStoreConfig) {
		c.autoMigrate = enabled
	}
}

// NewCheckpointStore creates a checkpoint store on the given database.
func NewCheckpointStore(db *sql.DB, opts ...CheckpointStoreOption) (*CheckpointStore, error) {
	config := checkpointStoreConfig{autoMigrate: true}
	for _, opt := range opts {
		opt(&config)
	}

	if config.autoMigrate {
		if err := runCheckpointMigrations(db); err != nil {
			return nil, fmt.Errorf("migrating checkpoint store: %w", err)
		}
	}
	return &CheckpointStore{db: db}, nil
}

// DB returns the underlying database for creating transactions.
func (s *CheckpointStore) DB() *sql.DB {
	return s.db
}

// Save saves a checkpoint in its own transaction.
// For atomic projection updates use SaveInTx instead.
func (s *CheckpointStore) Save(ctx context.Context, checkpoint *store.ProjectionCheckpoint) error {
	_, err := s.db.ExecContext(ctx, saveCheckpointSQL,
		checkpoint.ProjectionName, checkpoint.Position, checkpoint.LastEventID, checkpoint.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

// SaveInTx saves a checkpoint within the provided transaction.
func (s *CheckpointStore) SaveInTx(tx *sql.Tx, checkpoint *store.ProjectionCheckpoint) error {
	_, err := tx.Exec(saveCheckpointSQL,
		checkpoint.ProjectionName, checkpoint.Position, checkpoint.LastEventID, checkpoint.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("saving checkpoint in transaction: %w", err)
	}
	return nil
}

const saveCheckpointSQL = `
	INSERT INTO projection_checkpoints (projection_name, position, last_event_id, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (projection_name) DO UPDATE SET
		position = excluded.position,
		last_event_id = excluded.last_event_id,
		updated_at = excluded.updated_at
`

// Load loads a checkpoint for a projection.
func (s *CheckpointStore) Load(ctx context.Context, projectionName string) (*store.ProjectionCheckpoint, error) {
	var (
		checkpoint store.ProjectionCheckpoint
		updatedAt  int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT projection_name, position, last_event_id, updated_at
		FROM projection_checkpoints
		WHERE projection_name = ?
	`, projectionName).Scan(
		&checkpoint.ProjectionName, &checkpoint.Position, &checkpoint.LastEventID, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}

	checkpoint.UpdatedAt = time.Unix(updatedAt, 0)
	return &checkpoint, nil
}

// Delete deletes a checkpoint (for rebuilding).
func (s *CheckpointStore) Delete(ctx context.Context, projectionName string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM projection_checkpoints WHERE projection_name = ?`, projectionName,
	); err != nil {
		return fmt.Errorf("deleting checkpoint: %w", err)
	}
	return nil
}

// DeleteInTx deletes a checkpoint within the provided transaction.
func (s *CheckpointStore) DeleteInTx(tx *sql.Tx, projectionName string) error {
	if _, err := tx.Exec(
		`DELETE FROM projection_checkpoints WHERE projection_name = ?`, projectionName,
	); err != nil {
		return fmt.Errorf("deleting checkpoint in transaction: %w", err)
	}
	return nil
}

var _ store.CheckpointStore = (*CheckpointStore)(nil)
