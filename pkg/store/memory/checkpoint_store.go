package memory

import (
	"context"
	"database/sql"
	"sync"

	"github.com/corefold/shopstream/pkg/store"
)

// CheckpointStore is an in-memory store.CheckpointStore. The InTx variants
// ignore the transaction: there is no database to couple to, so tests that
// need real checkpoint atomicity should use the sqlite store.
type CheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]store.ProjectionCheckpoint
}

// NewCheckpointStore creates an empty in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		checkpoints: make(map[string]store.ProjectionCheckpoint),
	}
}

// Save saves a checkpoint.
func (s *CheckpointStore) Save(_ context.Context, checkpoint *store.ProjectionCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[checkpoint.ProjectionName] = *checkpoint
	return nil
}

// SaveInTx saves a checkpoint, ignoring the transaction.
func (s *CheckpointStore) SaveInTx(_ *sql.Tx, checkpoint *store.ProjectionCheckpoint) error {
	return s.Save(context.Background(), checkpoint)
}

// Load loads a checkpoint for a projection.
func (s *CheckpointStore) Load(_ context.Context, projectionName string) (*store.ProjectionCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	checkpoint, ok := s.checkpoints[projectionName]
	if !ok {
		return nil, store.ErrCheckpointNotFound
	}
	return &checkpoint, nil
}

// Delete deletes a checkpoint.
func (s *CheckpointStore) Delete(_ context.Context, projectionName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, projectionName)
	return nil
}

// DeleteInTx deletes a checkpoint, ignoring the transaction.
func (s *CheckpointStore) DeleteInTx(_ *sql.Tx, projectionName string) error {
	return s.Delete(context.Background(), projectionName)
}

var _ store.CheckpointStore = (*CheckpointStore)(nil)

// StatusStore is an in-memory store.ProjectionStatusStore.
type StatusStore struct {
	mu     sync.RWMutex
	states map[string]store.ProjectionState
}

// NewStatusStore creates an empty in-memory status store.
func NewStatusStore() *StatusStore {
	return &StatusStore{
		states: make(map[string]store.ProjectionState),
	}
}

// Save upserts the state for a projection.
func (s *StatusStore) Save(_ context.Context, state *store.ProjectionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ProjectionName] = *state
	return nil
}

// Load returns the state for a projection; ready if never saved.
func (s *StatusStore) Load(_ context.Context, projectionName string) (*store.ProjectionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[projectionName]
	if !ok {
		return &store.ProjectionState{
			ProjectionName: projectionName,
			Status:         store.ProjectionStatusReady,
		}, nil
	}
	return &state, nil
}

var _ store.ProjectionStatusStore = (*StatusStore)(nil)
