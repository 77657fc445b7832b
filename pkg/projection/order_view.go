package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/corefold/shopstream/pkg/domain/order"
	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// OrderView maintains the order read model: one order_view row per order
// with its status and money totals, plus the order_view_items lines. Status
// follows the aggregate's own transitions, so the view never re-derives the
// status machine.
type OrderView struct{}

// NewOrderView ensures the order_view schema and returns the projection.
func NewOrderView(db *sql.DB) (*OrderView, error) {
	if err := runViewMigrations(db, orderViewMigrationsFS, "order_view_migrations", "order_view_schema_migrations"); err != nil {
		return nil, err
	}
	return &OrderView{}, nil
}

// Name implements Projection.
func (*OrderView) Name() string {
	return "order-view"
}

// Filter implements Projection.
func (*OrderView) Filter() eventsourcing.EventFilter {
	return eventsourcing.EventFilter{AggregateTypes: []string{order.AggregateType}}
}

// Apply implements Projection. Reservation and release facts are saga
// plumbing and do not surface in the view.
func (v *OrderView) Apply(ctx context.Context, tx *sql.Tx, event *eventsourcing.Event) error {
	ts := event.Timestamp.Unix()

	switch event.EventType {
	case order.EventCreated:
		var payload order.CreatedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_view (order_id, user_id, status, item_count, subtotal, tax, shipping, total, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (order_id) DO UPDATE SET
				user_id = excluded.user_id,
				status = excluded.status,
				item_count = excluded.item_count,
				subtotal = excluded.subtotal,
				tax = excluded.tax,
				shipping = excluded.shipping,
				total = excluded.total,
				updated_at = excluded.updated_at
		`, payload.OrderID, payload.UserID, string(order.StatusPending), len(payload.Items),
			payload.Totals.Subtotal.String(), payload.Totals.Tax.String(),
			payload.Totals.Shipping.String(), payload.Totals.Total.String(), ts, ts)
		if err != nil {
			return fmt.Errorf("inserting order row: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM order_view_items WHERE order_id = ?`, payload.OrderID,
		); err != nil {
			return fmt.Errorf("clearing order items: %w", err)
		}
		for _, item := range payload.Items {
			if err := v.upsertItem(ctx, tx, payload.OrderID, item); err != nil {
				return err
			}
		}

	case order.EventItemAdded:
		var payload order.ItemAddedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		if err := v.upsertItem(ctx, tx, payload.OrderID, payload.Item); err != nil {
			return err
		}
		return v.setTotals(ctx, tx, payload.OrderID, payload.Totals, ts)

	case order.EventItemRemoved:
		var payload order.ItemRemovedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM order_view_items WHERE order_id = ? AND product_id = ?`,
			payload.OrderID, payload.ProductID)
		if err != nil {
			return fmt.Errorf("deleting order item: %w", err)
		}
		return v.setTotals(ctx, tx, payload.OrderID, payload.Totals, ts)

	case order.EventPaymentProcessed:
		var payload order.PaymentProcessedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE order_view SET payment_id = ?, status = ?, updated_at = ? WHERE order_id = ?
		`, payload.PaymentID, string(order.StatusProcessing), ts, payload.OrderID)
		if err != nil {
			return fmt.Errorf("recording order payment: %w", err)
		}

	case order.EventPaymentFailed:
		var payload order.PaymentFailedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		return v.setStatus(ctx, tx, payload.OrderID, order.StatusPaymentFailed, ts)

	case order.EventPaymentRefunded:
		var payload order.PaymentRefundedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE order_view SET refunded = 1, updated_at = ? WHERE order_id = ?
		`, ts, payload.OrderID)
		if err != nil {
			return fmt.Errorf("recording order refund: %w", err)
		}

	case order.EventShippingArranged:
		var payload order.ShippingArrangedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE order_view SET shipment_id = ?, carrier = ?, status = ?, updated_at = ? WHERE order_id = ?
		`, payload.ShipmentID, payload.Carrier, string(order.StatusShipped), ts, payload.OrderID)
		if err != nil {
			return fmt.Errorf("recording order shipment: %w", err)
		}

	case order.EventStatusChanged:
		var payload order.StatusChangedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		return v.setStatus(ctx, tx, payload.OrderID, payload.To, ts)

	case order.EventCompleted:
		var payload order.CompletedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		return v.setStatus(ctx, tx, payload.OrderID, order.StatusCompleted, ts)

	case order.EventCancelled:
		var payload order.CancelledPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		return v.setStatus(ctx, tx, payload.OrderID, order.StatusCancelled, ts)
	}
	return nil
}

func (*OrderView) upsertItem(ctx context.Context, tx *sql.Tx, orderID string, item order.Item) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_view_items (order_id, product_id, name, quantity, unit_price)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (order_id, product_id) DO UPDATE SET
			name = excluded.name,
			quantity = excluded.quantity,
			unit_price = excluded.unit_price
	`, orderID, item.ProductID, item.Name, item.Quantity, item.UnitPrice.String())
	if err != nil {
		return fmt.Errorf("upserting order item: %w", err)
	}
	return nil
}

// setTotals refreshes the money columns and recounts the line items inside
// the same transaction that changed them.
func (*OrderView) setTotals(ctx context.Context, tx *sql.Tx, orderID string, totals order.Totals, ts int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE order_view
		SET subtotal = ?, tax = ?, shipping = ?, total = ?,
			item_count = (SELECT COUNT(*) FROM order_view_items WHERE order_id = ?),
			updated_at = ?
		WHERE order_id = ?
	`, totals.Subtotal.String(), totals.Tax.String(), totals.Shipping.String(),
		totals.Total.String(), orderID, ts, orderID)
	if err != nil {
		return fmt.Errorf("updating order totals: %w", err)
	}
	return nil
}

func (*OrderView) setStatus(ctx context.Context, tx *sql.Tx, orderID string, status order.Status, ts int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE order_view SET status = ?, updated_at = ? WHERE order_id = ?`,
		string(status), ts, orderID)
	if err != nil {
		return fmt.Errorf("updating order status: %w", err)
	}
	return nil
}

// Reset implements Projection.
func (*OrderView) Reset(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM order_view_items`); err != nil {
		return fmt.Errorf("truncating order_view_items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM order_view`); err != nil {
		return fmt.Errorf("truncating order_view: %w", err)
	}
	return nil
}

var _ Projection = (*OrderView)(nil)
