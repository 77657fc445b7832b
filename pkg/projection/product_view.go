package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/corefold/shopstream/pkg/domain/product"
	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// ProductView maintains the product_view table, one row per live product.
// Deleted products drop their row.
type ProductView struct{}

// NewProductView ensures the product_view schema and returns the projection.
func NewProductView(db *sql.DB) (*ProductView, error) {
	if err := runViewMigrations(db, productViewMigrationsFS, "product_view_migrations", "product_view_schema_migrations"); err != nil {
		return nil, err
	}
	return &ProductView{}, nil
}

// Name implements Projection.
func (*ProductView) Name() string {
	return "product-view"
}

// Filter implements Projection.
func (*ProductView) Filter() eventsourcing.EventFilter {
	return eventsourcing.EventFilter{AggregateTypes: []string{product.AggregateType}}
}

// Apply implements Projection.
func (*ProductView) Apply(ctx context.Context, tx *sql.Tx, event *eventsourcing.Event) error {
	ts := event.Timestamp.Unix()

	switch event.EventType {
	case product.EventCreated:
		var payload product.CreatedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO product_view (product_id, name, description, sku, price, category_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (product_id) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				sku = excluded.sku,
				price = excluded.price,
				category_id = excluded.category_id,
				updated_at = excluded.updated_at
		`, payload.ProductID, payload.Name, payload.Description, payload.SKU,
			payload.Price.String(), payload.CategoryID, ts, ts)
		if err != nil {
			return fmt.Errorf("inserting product row: %w", err)
		}

	case product.EventUpdated:
		var payload product.UpdatedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE product_view
			SET name = ?, description = ?, category_id = ?, updated_at = ?
			WHERE product_id = ?
		`, payload.Name, payload.Description, payload.CategoryID, ts, payload.ProductID)
		if err != nil {
			return fmt.Errorf("updating product row: %w", err)
		}

	case product.EventPriceChanged:
		var payload product.PriceChangedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE product_view SET price = ?, updated_at = ? WHERE product_id = ?
		`, payload.NewPrice.String(), ts, payload.ProductID)
		if err != nil {
			return fmt.Errorf("updating product price: %w", err)
		}

	case product.EventDeleted:
		var payload product.DeletedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM product_view WHERE product_id = ?`, payload.ProductID)
		if err != nil {
			return fmt.Errorf("deleting product row: %w", err)
		}
	}
	return nil
}

// Reset implements Projection.
func (*ProductView) Reset(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM product_view`); err != nil {
		return fmt.Errorf("truncating product_view: %w", err)
	}
	return nil
}

var _ Projection = (*ProductView)(nil)
