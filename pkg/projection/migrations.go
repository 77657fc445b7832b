package projection

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/corefold/shopstream/pkg/store/sqlite/migrate"
)

//go:embed product_view_migrations/*.sql
var productViewMigrationsFS embed.FS

//go:embed category_view_migrations/*.sql
var categoryViewMigrationsFS embed.FS

//go:embed order_view_migrations/*.sql
var orderViewMigrationsFS embed.FS

// runViewMigrations applies one view's schema with its own tracking table,
// so views register independently while sharing the read model database.
func runViewMigrations(db *sql.DB, fsys embed.FS, dir, table string) error {
	m := migrate.New(db, table)
	if err := m.LoadFromFS(fsys, dir); err != nil {
		return fmt.Errorf("loading %s migrations: %w", dir, err)
	}
	if err := m.Up(); err != nil {
		return fmt.Errorf("running %s migrations: %w", dir, err)
	}
	return nil
}
