package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/corefold/shopstream/pkg/store"
)

// StatusStore persists projection health in the checkpoint database so
// operators can see rebuild progress and staleness without touching the
// event log.
type StatusStore struct {
	db *sql.DB
}

// NewStatusStore creates a status store. The projection_status table is
// created by the checkpoint migrations, so this store shares a database
// with a CheckpointStore.
func NewStatusStore(db *sql.DB) *StatusStore {
	return &StatusStore{db: db}
}

// Save upserts the state for a projection.
func (s *StatusStore) Save(ctx context.Context, state *store.ProjectionState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projection_status (projection_name, status, message, lag, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (projection_name) DO UPDATE SET
			status = excluded.status,
			message = excluded.message,
			lag = excluded.lag,
			updated_at = excluded.updated_at
	`, state.ProjectionName, string(state.Status), state.Message, state.Lag, state.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("saving projection status: %w", err)
	}
	return nil
}

// Load returns the state for a projection. A projection with no row
// reports as ready: status rows only exist once an engine has touched
// the projection.
func (s *StatusStore) Load(ctx context.Context, projectionName string) (*store.ProjectionState, error) {
	var (
		state     store.ProjectionState
		status    string
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT projection_name, status, message, lag, updated_at
		FROM projection_status
		WHERE projection_name = ?
	`, projectionName).Scan(&state.ProjectionName, &status, &state.Message, &state.Lag, &updatedAt)
	if err == sql.ErrNoRows {
		return &store.ProjectionState{
			ProjectionName: projectionName,
			Status:         store.ProjectionStatusReady,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading projection status: %w", err)
	}

	state.Status = store.ProjectionStatus(status)
	state.UpdatedAt = time.Unix(updatedAt, 0)
	return &state, nil
}

var _ store.ProjectionStatusStore = (*StatusStore)(nil)
