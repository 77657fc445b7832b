package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// eventColumns is the shared projection for both the active and the archive
// table, so every read sees the full history regardless of archival state.
const eventColumns = `global_sequence, event_id, stream_id, stream_version,
	aggregate_id, aggregate_type, event_type, payload, payload_version,
	metadata, unique_values, occurred_at`

// ReadStream reads one stream's events after fromVersion in version order.
func (s *EventStore) ReadStream(ctx context.Context, streamID string, fromVersion int64, limit int) ([]*eventsourcing.Event, error) {
	query := fmt.Sprintf(`
		SELECT %[1]s FROM events WHERE stream_id = $1 AND stream_version > $2
		UNION ALL
		SELECT %[1]s FROM events_archive WHERE stream_id = $1 AND stream_version > $2
		ORDER BY stream_version ASC`, eventColumns)
	args := []any{streamID, fromVersion}

	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	return s.queryEvents(ctx, query, args...)
}

// ReadAllFrom reads committed events across all streams with
// global_sequence > fromSequence, in global order.
func (s *EventStore) ReadAllFrom(ctx context.Context, fromSequence int64, limit int) ([]*eventsourcing.Event, error) {
	query := fmt.Sprintf(`
		SELECT %[1]s FROM events WHERE global_sequence > $1
		UNION ALL
		SELECT %[1]s FROM events_archive WHERE global_sequence > $1
		ORDER BY global_sequence ASC`, eventColumns)
	args := []any{fromSequence}

	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	return s.queryEvents(ctx, query, args...)
}

// ReadByType reads committed events of one type with
// global_sequence > fromSequence, in global order.
func (s *EventStore) ReadByType(ctx context.Context, eventType string, fromSequence int64, limit int) ([]*eventsourcing.Event, error) {
	query := fmt.Sprintf(`
		SELECT %[1]s FROM events WHERE event_type = $1 AND global_sequence > $2
		UNION ALL
		SELECT %[1]s FROM events_archive WHERE event_type = $1 AND global_sequence > $2
		ORDER BY global_sequence ASC`, eventColumns)
	args := []any{eventType, fromSequence}

	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	return s.queryEvents(ctx, query, args...)
}

// StreamVersion returns the current version of a stream, 0 if it doesn't exist.
func (s *EventStore) StreamVersion(ctx context.Context, streamID string) (int64, error) {
	var version int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(v), 0) FROM (
			SELECT MAX(stream_version) AS v FROM events WHERE stream_id = $1
			UNION ALL
			SELECT MAX(stream_version) AS v FROM events_archive WHERE stream_id = $1
		) versions`, streamID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("reading stream version: %w", err)
	}
	return version, nil
}

// HeadSequence returns the highest assigned global sequence, 0 if empty.
func (s *EventStore) HeadSequence(ctx context.Context) (int64, error) {
	var head int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(v), 0) FROM (
			SELECT MAX(global_sequence) AS v FROM events
			UNION ALL
			SELECT MAX(global_sequence) AS v FROM events_archive
		) sequences`,
	).Scan(&head)
	if err != nil {
		return 0, fmt.Errorf("reading head sequence: %w", err)
	}
	return head, nil
}

func (s *EventStore) queryEvents(ctx context.Context, query string, args ...any) ([]*eventsourcing.Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*eventsourcing.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanEvent(rows pgx.Rows) (*eventsourcing.Event, error) {
	var (
		event        eventsourcing.Event
		metadata     []byte
		uniqueValues []byte
	)

	if err := rows.Scan(
		&event.GlobalSequence, &event.ID, &event.StreamID, &event.Version,
		&event.AggregateID, &event.AggregateType, &event.EventType,
		&event.Payload, &event.PayloadVersion, &metadata, &uniqueValues,
		&event.Timestamp,
	); err != nil {
		return nil, fmt.Errorf("scanning event row: %w", err)
	}

	if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
		return nil, eventsourcing.Fatal(fmt.Errorf("corrupt metadata on event %s: %w", event.ID, err))
	}
	if len(uniqueValues) > 0 {
		if err := json.Unmarshal(uniqueValues, &event.UniqueValues); err != nil {
			return nil, eventsourcing.Fatal(fmt.Errorf("corrupt unique values on event %s: %w", event.ID, err))
		}
	}
	return &event, nil
}

// streamVersionTx reads the stream version inside the append transaction,
// counting archived rows so an aged-out stream can't restart at version 1.
func streamVersionTx(ctx context.Context, tx pgx.Tx, streamID string) (int64, error) {
	var version int64
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(v), 0) FROM (
			SELECT MAX(stream_version) AS v FROM events WHERE stream_id = $1
			UNION ALL
			SELECT MAX(stream_version) AS v FROM events_archive WHERE stream_id = $1
		) versions`, streamID,
	).Scan(&version)
	return version, err
}
