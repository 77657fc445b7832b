package postgres

import (
	"context"
	"fmt"
)

// EnsureSchema creates the event store tables if they don't exist.
// global_sequence is BIGSERIAL; with appends serialized by the advisory
// lock, sequence order equals commit order.
func (s *EventStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			global_sequence BIGSERIAL PRIMARY KEY,
			event_id        TEXT        NOT NULL UNIQUE,
			stream_id       TEXT        NOT NULL,
			stream_version  BIGINT      NOT NULL,
			aggregate_id    TEXT        NOT NULL,
			aggregate_type  TEXT        NOT NULL,
			event_type      TEXT        NOT NULL,
			payload         JSONB       NOT NULL,
			payload_version INT         NOT NULL DEFAULT 1,
			metadata        JSONB       NOT NULL DEFAULT '{}',
			unique_values   JSONB,
			occurred_at     TIMESTAMPTZ NOT NULL,
			committed_at    TIMESTAMPTZ NOT NULL,
			UNIQUE (stream_id, stream_version)
		);

		CREATE INDEX IF NOT EXISTS idx_events_event_type
			ON events (event_type, global_sequence);
		CREATE INDEX IF NOT EXISTS idx_events_aggregate
			ON events (aggregate_id, stream_version);
		CREATE INDEX IF NOT EXISTS idx_events_committed_at
			ON events (committed_at);

		CREATE TABLE IF NOT EXISTS events_archive (
			global_sequence BIGINT      PRIMARY KEY,
			event_id        TEXT        NOT NULL UNIQUE,
			stream_id       TEXT        NOT NULL,
			stream_version  BIGINT      NOT NULL,
			aggregate_id    TEXT        NOT NULL,
			aggregate_type  TEXT        NOT NULL,
			event_type      TEXT        NOT NULL,
			payload         JSONB       NOT NULL,
			payload_version INT         NOT NULL DEFAULT 1,
			metadata        JSONB       NOT NULL DEFAULT '{}',
			unique_values   JSONB,
			occurred_at     TIMESTAMPTZ NOT NULL,
			committed_at    TIMESTAMPTZ NOT NULL,
			archived_at     TIMESTAMPTZ NOT NULL,
			UNIQUE (stream_id, stream_version)
		);

		CREATE INDEX IF NOT EXISTS idx_events_archive_stream
			ON events_archive (stream_id, stream_version);

		CREATE TABLE IF NOT EXISTS snapshots (
			aggregate_id   TEXT        NOT NULL,
			aggregate_type TEXT        NOT NULL,
			version        BIGINT      NOT NULL,
			state          JSONB       NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (aggregate_id, version)
		);

		CREATE TABLE IF NOT EXISTS unique_constraints (
			index_name TEXT        NOT NULL,
			value      TEXT        NOT NULL,
			owner_id   TEXT        NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (index_name, value)
		);
	`)
	if err != nil {
		return fmt.Errorf("ensuring event store schema: %w", err)
	}
	return nil
}
