package sqlite

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/corefold/shopstream/pkg/store/sqlite/migrate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

//go:embed checkpoint_migrations/*.sql
var checkpointMigrationsFS embed.FS

// runMigrations applies the event store schema.
func runMigrations(db *sql.DB) error {
	m := migrate.New(db, "schema_migrations")

	if err := m.LoadFromFS(migrationsFS, "migrations"); err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	if err := m.Up(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// runCheckpointMigrations applies the checkpoint and status schema. It uses
// its own tracking table so the checkpoint store can share the event store's
// database or live on a separate one.
func runCheckpointMigrations(db *sql.DB) error {
	m := migrate.New(db, "checkpoint_schema_migrations")

	if err := m.LoadFromFS(checkpointMigrationsFS, "checkpoint_migrations"); err != nil {
		return fmt.Errorf("loading checkpoint migrations: %w", err)
	}
	if err := m.Up(); err != nil {
		return fmt.Errorf("running checkpoint migrations: %w", err)
	}
	return nil
}

// MigrationVersion returns the highest applied event store migration.
func (s *EventStore) MigrationVersion() (int, error) {
	m := migrate.New(s.db, "schema_migrations")
	return m.Version()
}
