package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/corefold/shopstream/pkg/domain/category"
	"github.com/corefold/shopstream/pkg/domain/product"
	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// CategoryView maintains the category tree read model: one category_view row
// per category carrying its materialized path, depth, and live product count.
// Product events move counts between categories through the category_products
// map table, so re-applying an event never double-counts.
type CategoryView struct{}

// NewCategoryView ensures the category_view schema and returns the projection.
func NewCategoryView(db *sql.DB) (*CategoryView, error) {
	if err := runViewMigrations(db, categoryViewMigrationsFS, "category_view_migrations", "category_view_schema_migrations"); err != nil {
		return nil, err
	}
	return &CategoryView{}, nil
}

// Name implements Projection.
func (*CategoryView) Name() string {
	return "category-view"
}

// Filter implements Projection. Product events feed the per-category counts.
func (*CategoryView) Filter() eventsourcing.EventFilter {
	return eventsourcing.EventFilter{
		AggregateTypes: []string{category.AggregateType, product.AggregateType},
	}
}

// Apply implements Projection.
func (v *CategoryView) Apply(ctx context.Context, tx *sql.Tx, event *eventsourcing.Event) error {
	ts := event.Timestamp.Unix()

	switch event.EventType {
	case category.EventCreated:
		var payload category.CreatedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO category_view (category_id, name, parent_id, path, depth, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (category_id) DO UPDATE SET
				name = excluded.name,
				parent_id = excluded.parent_id,
				path = excluded.path,
				depth = excluded.depth,
				updated_at = excluded.updated_at
		`, payload.CategoryID, payload.Name, payload.ParentID, payload.Path, payload.Depth, ts, ts)
		if err != nil {
			return fmt.Errorf("inserting category row: %w", err)
		}

	case category.EventRenamed:
		var payload category.RenamedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE category_view SET name = ?, updated_at = ? WHERE category_id = ?
		`, payload.NewName, ts, payload.CategoryID)
		if err != nil {
			return fmt.Errorf("renaming category row: %w", err)
		}

	case category.EventMoved:
		var payload category.MovedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE category_view
			SET parent_id = ?, path = ?, depth = ?, updated_at = ?
			WHERE category_id = ?
		`, payload.NewParentID, payload.NewPath, payload.NewDepth, ts, payload.CategoryID)
		if err != nil {
			return fmt.Errorf("moving category row: %w", err)
		}
		// Descendants keep their suffix under the new path; depth shifts by
		// the same delta as the moved node.
		prefix := payload.OldPath + "/"
		_, err = tx.ExecContext(ctx, `
			UPDATE category_view
			SET path = ? || substr(path, ?),
				depth = depth + ?,
				updated_at = ?
			WHERE substr(path, 1, ?) = ?
		`, payload.NewPath, len(payload.OldPath)+1, payload.NewDepth-payload.OldDepth,
			ts, len(prefix), prefix)
		if err != nil {
			return fmt.Errorf("rewriting descendant paths: %w", err)
		}

	case category.EventDeleted:
		var payload category.DeletedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM category_view WHERE category_id = ?`, payload.CategoryID)
		if err != nil {
			return fmt.Errorf("deleting category row: %w", err)
		}

	case product.EventCreated:
		var payload product.CreatedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		return v.trackProduct(ctx, tx, payload.ProductID, payload.CategoryID, ts)

	case product.EventUpdated:
		var payload product.UpdatedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		return v.trackProduct(ctx, tx, payload.ProductID, payload.CategoryID, ts)

	case product.EventDeleted:
		var payload product.DeletedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		return v.trackProduct(ctx, tx, payload.ProductID, "", ts)
	}
	return nil
}

// trackProduct moves a product between categories in the map table and
// shifts the counts accordingly. A product already in the target category is
// a no-op, which is what makes count maintenance idempotent per event.
func (v *CategoryView) trackProduct(ctx context.Context, tx *sql.Tx, productID, categoryID string, ts int64) error {
	var current string
	err := tx.QueryRowContext(ctx,
		`SELECT category_id FROM category_products WHERE product_id = ?`, productID,
	).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("reading product category: %w", err)
	}
	if current == categoryID {
		return nil
	}

	if current != "" {
		_, err := tx.ExecContext(ctx, `
			UPDATE category_view
			SET product_count = product_count - 1, updated_at = ?
			WHERE category_id = ? AND product_count > 0
		`, ts, current)
		if err != nil {
			return fmt.Errorf("decrementing product count: %w", err)
		}
	}

	if categoryID == "" {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM category_products WHERE product_id = ?`, productID,
		); err != nil {
			return fmt.Errorf("removing product mapping: %w", err)
		}
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO category_products (product_id, category_id)
		VALUES (?, ?)
		ON CONFLICT (product_id) DO UPDATE SET category_id = excluded.category_id
	`, productID, categoryID)
	if err != nil {
		return fmt.Errorf("recording product mapping: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE category_view
		SET product_count = product_count + 1, updated_at = ?
		WHERE category_id = ?
	`, ts, categoryID)
	if err != nil {
		return fmt.Errorf("incrementing product count: %w", err)
	}
	return nil
}

// Reset implements Projection.
func (*CategoryView) Reset(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM category_products`); err != nil {
		return fmt.Errorf("truncating category_products: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM category_view`); err != nil {
		return fmt.Errorf("truncating category_view: %w", err)
	}
	return nil
}

var _ Projection = (*CategoryView)(nil)
