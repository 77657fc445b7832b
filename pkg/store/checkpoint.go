// Package store holds the persistence contracts shared by the event store
// adapters and the projection engine.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrCheckpointNotFound is returned when a projection has no checkpoint yet.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// ProjectionCheckpoint tracks how far a projection has consumed the global
// event sequence. Position never regresses except through an explicit reset.
type ProjectionCheckpoint struct {
	ProjectionName string
	Position       int64
	LastEventID    string
	UpdatedAt      time.Time
}

// CheckpointStore persists projection checkpoints.
//
// SaveInTx exists so the projection update and the checkpoint advance can
// commit in the same transaction; saving them separately reintroduces the
// dual-write problem the checkpoint is there to prevent.
type CheckpointStore interface {
	// Save saves a checkpoint in its own transaction.
	Save(ctx context.Context, checkpoint *ProjectionCheckpoint) error

	// SaveInTx saves a checkpoint within the provided transaction.
	SaveInTx(tx *sql.Tx, checkpoint *ProjectionCheckpoint) error

	// Load loads a checkpoint for a projection.
	// Returns ErrCheckpointNotFound if the projection has never saved one.
	Load(ctx context.Context, projectionName string) (*ProjectionCheckpoint, error)

	// Delete deletes a checkpoint (for rebuilding).
	Delete(ctx context.Context, projectionName string) error

	// DeleteInTx deletes a checkpoint within the provided transaction.
	DeleteInTx(tx *sql.Tx, projectionName string) error
}
