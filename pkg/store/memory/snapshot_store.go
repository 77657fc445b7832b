package memory

import (
	"context"
	"sync"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// SnapshotStore is an in-memory eventsourcing.SnapshotStore.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string][]*eventsourcing.Snapshot // aggregate ID -> ascending by version
}

// NewSnapshotStore creates an empty in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		snapshots: make(map[string][]*eventsourcing.Snapshot),
	}
}

// Save persists a snapshot. Saving the same version twice overwrites.
func (s *SnapshotStore) Save(_ context.Context, snapshot *eventsourcing.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *snapshot
	existing := s.snapshots[snapshot.AggregateID]
	for i, sn := range existing {
		if sn.Version == snapshot.Version {
			existing[i] = &stored
			return nil
		}
	}

	// Insert keeping the slice ordered by version.
	pos := len(existing)
	for i, sn := range existing {
		if sn.Version > snapshot.Version {
			pos = i
			break
		}
	}
	existing = append(existing, nil)
	copy(existing[pos+1:], existing[pos:])
	existing[pos] = &stored
	s.snapshots[snapshot.AggregateID] = existing
	return nil
}

// Latest returns the most recent snapshot for an aggregate.
func (s *SnapshotStore) Latest(_ context.Context, aggregateID string) (*eventsourcing.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	existing := s.snapshots[aggregateID]
	if len(existing) == 0 {
		return nil, eventsourcing.ErrSnapshotNotFound
	}
	copied := *existing[len(existing)-1]
	return &copied, nil
}

// DeleteOlderThan removes an aggregate's snapshots below the given version.
func (s *SnapshotStore) DeleteOlderThan(_ context.Context, aggregateID string, version int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.snapshots[aggregateID]
	kept := existing[:0]
	var deleted int64
	for _, sn := range existing {
		if sn.Version < version {
			deleted++
			continue
		}
		kept = append(kept, sn)
	}
	if len(kept) == 0 {
		delete(s.snapshots, aggregateID)
	} else {
		s.snapshots[aggregateID] = kept
	}
	return deleted, nil
}

var _ eventsourcing.SnapshotStore = (*SnapshotStore)(nil)
