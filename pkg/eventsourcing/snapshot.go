package eventsourcing

import (
	"context"
	"time"
)

// Snapshot is frozen aggregate state at a known version.
type Snapshot struct {
	AggregateID   string
	AggregateType string
	Version       int64
	State         []byte
	CreatedAt     time.Time
}

// SnapshotStore persists aggregate snapshots.
// At most one snapshot per (aggregate_id, version); the latest wins on load.
type SnapshotStore interface {
	// Save persists a snapshot. Saving the same version twice overwrites.
	Save(ctx context.Context, snapshot *Snapshot) error

	// Latest returns the most recent snapshot for an aggregate.
	// Returns ErrSnapshotNotFound if none exists.
	Latest(ctx context.Context, aggregateID string) (*Snapshot, error)

	// DeleteOlderThan removes snapshots below the given version for an
	// aggregate, keeping history bounded. Returns the number deleted.
	DeleteOlderThan(ctx context.Context, aggregateID string, version int64) (int64, error)
}

// SnapshotStrategy decides when a repository should take a new snapshot.
type SnapshotStrategy interface {
	// ShouldSnapshot is consulted after a successful append.
	// version is the aggregate version after the append; lastVersion and
	// lastTaken describe the previous snapshot (0 and zero time if none).
	ShouldSnapshot(version, lastVersion int64, lastTaken time.Time) bool
}

// EventCountStrategy snapshots every N events.
type EventCountStrategy struct {
	Frequency int64
}

// ShouldSnapshot implements SnapshotStrategy.
func (s EventCountStrategy) ShouldSnapshot(version, lastVersion int64, _ time.Time) bool {
	if s.Frequency <= 0 {
		return false
	}
	return version-lastVersion >= s.Frequency
}

// TimeIntervalStrategy snapshots when the last one is older than the interval.
type TimeIntervalStrategy struct {
	Interval time.Duration
}

// ShouldSnapshot implements SnapshotStrategy.
func (s TimeIntervalStrategy) ShouldSnapshot(version, lastVersion int64, lastTaken time.Time) bool {
	if s.Interval <= 0 || version == lastVersion {
		return false
	}
	if lastTaken.IsZero() {
		return true
	}
	return Now().Sub(lastTaken) >= s.Interval
}

// CompositeStrategy snapshots when any of its strategies says so.
type CompositeStrategy []SnapshotStrategy

// ShouldSnapshot implements SnapshotStrategy.
func (s CompositeStrategy) ShouldSnapshot(version, lastVersion int64, lastTaken time.Time) bool {
	for _, strategy := range s {
		if strategy.ShouldSnapshot(version, lastVersion, lastTaken) {
			return true
		}
	}
	return false
}

// NeverSnapshot disables snapshotting.
type NeverSnapshot struct{}

// ShouldSnapshot implements SnapshotStrategy.
func (NeverSnapshot) ShouldSnapshot(int64, int64, time.Time) bool { return false }
