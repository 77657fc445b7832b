package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// archiveBatchSize bounds how many events one archival transaction moves.
const archiveBatchSize = 1000

// Archive moves events committed more than olderThanDays ago into the
// events_archive table, one transaction per batch. Reads union both tables,
// so the visible history is unchanged by archival.
func (s *EventStore) Archive(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		return 0, fmt.Errorf("archive horizon must be positive, got %d days", olderThanDays)
	}
	cutoff := eventsourcing.Now().AddDate(0, 0, -olderThanDays)

	var moved int64
	for {
		n, err := s.archiveBatch(ctx, cutoff)
		if err != nil {
			return moved, err
		}
		moved += n
		if n < archiveBatchSize {
			break
		}
	}

	if moved > 0 {
		s.logger.InfoContext(ctx, "Archived events",
			slog.Int64("events_moved", moved),
			slog.Int("older_than_days", olderThanDays),
		)
	}
	return moved, nil
}

func (s *EventStore) archiveBatch(ctx context.Context, cutoff any) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eventsourcing.Transient(fmt.Errorf("beginning archive transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	// Delete the window and insert the returned rows in one statement, so
	// active and archive stay disjoint while together holding the history.
	tag, err := tx.Exec(ctx, `
		WITH moved AS (
			DELETE FROM events
			WHERE global_sequence IN (
				SELECT global_sequence FROM events
				WHERE committed_at < $1
				ORDER BY global_sequence
				LIMIT $2
			)
			RETURNING global_sequence, event_id, stream_id, stream_version,
				aggregate_id, aggregate_type, event_type, payload, payload_version,
				metadata, unique_values, occurred_at, committed_at
		)
		INSERT INTO events_archive (
			global_sequence, event_id, stream_id, stream_version,
			aggregate_id, aggregate_type, event_type, payload, payload_version,
			metadata, unique_values, occurred_at, committed_at, archived_at
		)
		SELECT global_sequence, event_id, stream_id, stream_version,
			aggregate_id, aggregate_type, event_type, payload, payload_version,
			metadata, unique_values, occurred_at, committed_at, $3
		FROM moved
	`, cutoff, archiveBatchSize, eventsourcing.Now())
	if err != nil {
		return 0, fmt.Errorf("moving events to archive: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eventsourcing.Transient(fmt.Errorf("committing archive batch: %w", err))
	}
	return tag.RowsAffected(), nil
}
