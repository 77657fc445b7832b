package projection_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/corefold/shopstream/pkg/domain/category"
	"github.com/corefold/shopstream/pkg/domain/order"
	"github.com/corefold/shopstream/pkg/domain/product"
	"github.com/corefold/shopstream/pkg/eventsourcing"
	"github.com/corefold/shopstream/pkg/projection"
)

var viewEventTime = time.Unix(1700000000, 0)

func openViewDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

var eventSerial int

func viewEvent(t *testing.T, aggregateType, eventType, aggregateID string, payload any) *eventsourcing.Event {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	eventSerial++
	return &eventsourcing.Event{
		ID:             fmt.Sprintf("view-event-%d", eventSerial),
		StreamID:       eventsourcing.AggregateStreamID(aggregateID),
		AggregateID:    aggregateID,
		AggregateType:  aggregateType,
		EventType:      eventType,
		Timestamp:      viewEventTime,
		Payload:        data,
		PayloadVersion: 1,
	}
}

// applyEvents commits each event in its own transaction, the way the engine
// commits batches.
func applyEvents(t *testing.T, db *sql.DB, p projection.Projection, events ...*eventsourcing.Event) {
	t.Helper()
	ctx := context.Background()
	for _, event := range events {
		tx, err := db.BeginTx(ctx, nil)
		require.NoError(t, err)
		require.NoError(t, p.Apply(ctx, tx, event))
		require.NoError(t, tx.Commit())
	}
}

func TestProductViewLifecycle(t *testing.T) {
	db := openViewDB(t)
	view, err := projection.NewProductView(db)
	require.NoError(t, err)

	created := viewEvent(t, product.AggregateType, product.EventCreated, "prod-1", product.CreatedPayload{
		ProductID:   "prod-1",
		Name:        "Keyboard",
		Description: "Tenkeyless",
		SKU:         "SKU-KB",
		Price:       decimal.NewFromInt(2499),
		CategoryID:  "cat-1",
	})
	applyEvents(t, db, view, created)

	var name, description, sku, price, categoryID string
	row := func() {
		require.NoError(t, db.QueryRow(`
			SELECT name, description, sku, price, category_id FROM product_view WHERE product_id = 'prod-1'
		`).Scan(&name, &description, &sku, &price, &categoryID))
	}
	row()
	assert.Equal(t, "Keyboard", name)
	assert.Equal(t, "Tenkeyless", description)
	assert.Equal(t, "SKU-KB", sku)
	assert.Equal(t, "2499", price)
	assert.Equal(t, "cat-1", categoryID)

	// Applying the same event again converges on the same single row.
	applyEvents(t, db, view, created)
	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM product_view`).Scan(&count))
	assert.Equal(t, 1, count)

	applyEvents(t, db, view,
		viewEvent(t, product.AggregateType, product.EventUpdated, "prod-1", product.UpdatedPayload{
			ProductID:  "prod-1",
			Name:       "Mechanical Keyboard",
			CategoryID: "cat-2",
		}),
		viewEvent(t, product.AggregateType, product.EventPriceChanged, "prod-1", product.PriceChangedPayload{
			ProductID: "prod-1",
			OldPrice:  decimal.NewFromInt(2499),
			NewPrice:  decimal.RequireFromString("1999.90"),
		}),
	)
	row()
	assert.Equal(t, "Mechanical Keyboard", name)
	assert.Equal(t, "", description)
	assert.Equal(t, "1999.9", price)
	assert.Equal(t, "cat-2", categoryID)

	applyEvents(t, db, view,
		viewEvent(t, product.AggregateType, product.EventDeleted, "prod-1", product.DeletedPayload{
			ProductID: "prod-1",
		}),
	)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM product_view`).Scan(&count))
	assert.Zero(t, count)
}

func TestCategoryViewMoveRewritesDescendants(t *testing.T) {
	db := openViewDB(t)
	view, err := projection.NewCategoryView(db)
	require.NoError(t, err)

	applyEvents(t, db, view,
		viewEvent(t, category.AggregateType, category.EventCreated, "cat-a", category.CreatedPayload{
			CategoryID: "cat-a", Name: "Audio", Path: "/cat-a", Depth: 1,
		}),
		viewEvent(t, category.AggregateType, category.EventCreated, "cat-b", category.CreatedPayload{
			CategoryID: "cat-b", Name: "Headphones", ParentID: "cat-a", Path: "/cat-a/cat-b", Depth: 2,
		}),
		viewEvent(t, category.AggregateType, category.EventCreated, "cat-c", category.CreatedPayload{
			CategoryID: "cat-c", Name: "Wireless", ParentID: "cat-b", Path: "/cat-a/cat-b/cat-c", Depth: 3,
		}),
		viewEvent(t, category.AggregateType, category.EventCreated, "cat-d", category.CreatedPayload{
			CategoryID: "cat-d", Name: "Accessories", Path: "/cat-d", Depth: 1,
		}),
	)

	// Moving a subtree rewrites every descendant's path and depth.
	applyEvents(t, db, view,
		viewEvent(t, category.AggregateType, category.EventMoved, "cat-b", category.MovedPayload{
			CategoryID:  "cat-b",
			OldParentID: "cat-a",
			NewParentID: "cat-d",
			OldPath:     "/cat-a/cat-b",
			NewPath:     "/cat-d/cat-b",
			OldDepth:    2,
			NewDepth:    2,
		}),
	)

	path, depth := categoryRow(t, db, "cat-b")
	assert.Equal(t, "/cat-d/cat-b", path)
	assert.Equal(t, 2, depth)
	path, depth = categoryRow(t, db, "cat-c")
	assert.Equal(t, "/cat-d/cat-b/cat-c", path)
	assert.Equal(t, 3, depth)
	path, depth = categoryRow(t, db, "cat-a")
	assert.Equal(t, "/cat-a", path)
	assert.Equal(t, 1, depth)

	// A move that changes depth shifts the subtree by the same delta.
	applyEvents(t, db, view,
		viewEvent(t, category.AggregateType, category.EventMoved, "cat-c", category.MovedPayload{
			CategoryID:  "cat-c",
			OldParentID: "cat-b",
			NewParentID: "",
			OldPath:     "/cat-d/cat-b/cat-c",
			NewPath:     "/cat-c",
			OldDepth:    3,
			NewDepth:    1,
		}),
	)
	path, depth = categoryRow(t, db, "cat-c")
	assert.Equal(t, "/cat-c", path)
	assert.Equal(t, 1, depth)

	applyEvents(t, db, view,
		viewEvent(t, category.AggregateType, category.EventRenamed, "cat-b", category.RenamedPayload{
			CategoryID: "cat-b", OldName: "Headphones", NewName: "Headsets", ParentID: "cat-d",
		}),
	)
	var name string
	require.NoError(t, db.QueryRow(`SELECT name FROM category_view WHERE category_id = 'cat-b'`).Scan(&name))
	assert.Equal(t, "Headsets", name)

	applyEvents(t, db, view,
		viewEvent(t, category.AggregateType, category.EventDeleted, "cat-c", category.DeletedPayload{
			CategoryID: "cat-c", Name: "Wireless",
		}),
	)
	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM category_view`).Scan(&count))
	assert.Equal(t, 3, count)
}

func TestCategoryViewProductCounts(t *testing.T) {
	db := openViewDB(t)
	view, err := projection.NewCategoryView(db)
	require.NoError(t, err)

	applyEvents(t, db, view,
		viewEvent(t, category.AggregateType, category.EventCreated, "cat-a", category.CreatedPayload{
			CategoryID: "cat-a", Name: "Audio", Path: "/cat-a", Depth: 1,
		}),
		viewEvent(t, category.AggregateType, category.EventCreated, "cat-b", category.CreatedPayload{
			CategoryID: "cat-b", Name: "Video", Path: "/cat-b", Depth: 1,
		}),
	)

	created := viewEvent(t, product.AggregateType, product.EventCreated, "prod-1", product.CreatedPayload{
		ProductID: "prod-1", Name: "Speaker", SKU: "SKU-SP", Price: decimal.NewFromInt(4999), CategoryID: "cat-a",
	})
	applyEvents(t, db, view, created)
	assert.Equal(t, int64(1), productCount(t, db, "cat-a"))
	assert.Equal(t, int64(0), productCount(t, db, "cat-b"))

	// Same event again: the mapping already points at cat-a, nothing moves.
	applyEvents(t, db, view, created)
	assert.Equal(t, int64(1), productCount(t, db, "cat-a"))

	moved := viewEvent(t, product.AggregateType, product.EventUpdated, "prod-1", product.UpdatedPayload{
		ProductID: "prod-1", Name: "Speaker", CategoryID: "cat-b",
	})
	applyEvents(t, db, view, moved)
	assert.Equal(t, int64(0), productCount(t, db, "cat-a"))
	assert.Equal(t, int64(1), productCount(t, db, "cat-b"))

	applyEvents(t, db, view, moved)
	assert.Equal(t, int64(1), productCount(t, db, "cat-b"))

	applyEvents(t, db, view,
		viewEvent(t, product.AggregateType, product.EventCreated, "prod-2", product.CreatedPayload{
			ProductID: "prod-2", Name: "Projector", SKU: "SKU-PJ", Price: decimal.NewFromInt(89900), CategoryID: "cat-b",
		}),
	)
	assert.Equal(t, int64(2), productCount(t, db, "cat-b"))

	applyEvents(t, db, view,
		viewEvent(t, product.AggregateType, product.EventDeleted, "prod-1", product.DeletedPayload{
			ProductID: "prod-1",
		}),
	)
	assert.Equal(t, int64(1), productCount(t, db, "cat-b"))

	// Uncategorized products never enter the map.
	applyEvents(t, db, view,
		viewEvent(t, product.AggregateType, product.EventCreated, "prod-3", product.CreatedPayload{
			ProductID: "prod-3", Name: "Cable", SKU: "SKU-CB", Price: decimal.NewFromInt(299),
		}),
	)
	var mappings int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM category_products`).Scan(&mappings))
	assert.Equal(t, 1, mappings)
}

func TestOrderViewLifecycle(t *testing.T) {
	db := openViewDB(t)
	view, err := projection.NewOrderView(db)
	require.NoError(t, err)

	items := []order.Item{
		{ProductID: "prod-1", Name: "Keyboard", Quantity: 2, UnitPrice: decimal.NewFromInt(1200)},
		{ProductID: "prod-2", Name: "Mouse", Quantity: 1, UnitPrice: decimal.NewFromInt(899)},
	}
	totals := order.ComputeTotals(items)

	applyEvents(t, db, view,
		viewEvent(t, order.AggregateType, order.EventCreated, "order-1", order.CreatedPayload{
			OrderID: "order-1", UserID: "user-1", Items: items, Totals: totals,
		}),
	)

	var status, total string
	var itemCount int
	orderRow := func() {
		require.NoError(t, db.QueryRow(`
			SELECT status, total, item_count FROM order_view WHERE order_id = 'order-1'
		`).Scan(&status, &total, &itemCount))
	}
	orderRow()
	assert.Equal(t, string(order.StatusPending), status)
	assert.Equal(t, totals.Total.String(), total)
	assert.Equal(t, 2, itemCount)

	extended := append(append([]order.Item(nil), items...),
		order.Item{ProductID: "prod-3", Name: "Mat", Quantity: 1, UnitPrice: decimal.NewFromInt(350)})
	extendedTotals := order.ComputeTotals(extended)
	applyEvents(t, db, view,
		viewEvent(t, order.AggregateType, order.EventItemAdded, "order-1", order.ItemAddedPayload{
			OrderID: "order-1", Item: extended[2], Totals: extendedTotals,
		}),
	)
	orderRow()
	assert.Equal(t, 3, itemCount)
	assert.Equal(t, extendedTotals.Total.String(), total)

	applyEvents(t, db, view,
		viewEvent(t, order.AggregateType, order.EventItemRemoved, "order-1", order.ItemRemovedPayload{
			OrderID: "order-1", ProductID: "prod-3", Totals: totals,
		}),
	)
	orderRow()
	assert.Equal(t, 2, itemCount)
	assert.Equal(t, totals.Total.String(), total)

	applyEvents(t, db, view,
		viewEvent(t, order.AggregateType, order.EventStatusChanged, "order-1", order.StatusChangedPayload{
			OrderID: "order-1", From: order.StatusPending, To: order.StatusPaymentPending, Reason: "items_reserved",
		}),
		viewEvent(t, order.AggregateType, order.EventPaymentProcessed, "order-1", order.PaymentProcessedPayload{
			OrderID: "order-1", PaymentID: "pay-77", Amount: totals.Total,
		}),
		viewEvent(t, order.AggregateType, order.EventShippingArranged, "order-1", order.ShippingArrangedPayload{
			OrderID: "order-1", ShipmentID: "ship-12", Carrier: "DHL",
		}),
		viewEvent(t, order.AggregateType, order.EventStatusChanged, "order-1", order.StatusChangedPayload{
			OrderID: "order-1", From: order.StatusShipped, To: order.StatusDelivered, Reason: "delivery_confirmed",
		}),
		viewEvent(t, order.AggregateType, order.EventCompleted, "order-1", order.CompletedPayload{
			OrderID: "order-1", Total: totals.Total,
		}),
	)
	orderRow()
	assert.Equal(t, string(order.StatusCompleted), status)

	var paymentID, shipmentID, carrier string
	require.NoError(t, db.QueryRow(`
		SELECT payment_id, shipment_id, carrier FROM order_view WHERE order_id = 'order-1'
	`).Scan(&paymentID, &shipmentID, &carrier))
	assert.Equal(t, "pay-77", paymentID)
	assert.Equal(t, "ship-12", shipmentID)
	assert.Equal(t, "DHL", carrier)

	applyEvents(t, db, view,
		viewEvent(t, order.AggregateType, order.EventPaymentRefunded, "order-1", order.PaymentRefundedPayload{
			OrderID: "order-1", PaymentID: "pay-77", Amount: totals.Total,
		}),
	)
	var refunded int
	require.NoError(t, db.QueryRow(`SELECT refunded FROM order_view WHERE order_id = 'order-1'`).Scan(&refunded))
	assert.Equal(t, 1, refunded)

	// Reservation plumbing never surfaces in the view.
	applyEvents(t, db, view,
		viewEvent(t, order.AggregateType, order.EventItemReserved, "order-1", order.ItemReservedPayload{
			OrderID: "order-1", ProductID: "prod-1", Quantity: 2, ReservationID: "res-1",
		}),
	)
	orderRow()
	assert.Equal(t, 2, itemCount)
}

func TestOrderViewCancellation(t *testing.T) {
	db := openViewDB(t)
	view, err := projection.NewOrderView(db)
	require.NoError(t, err)

	items := []order.Item{{ProductID: "prod-1", Quantity: 1, UnitPrice: decimal.NewFromInt(1500)}}
	applyEvents(t, db, view,
		viewEvent(t, order.AggregateType, order.EventCreated, "order-2", order.CreatedPayload{
			OrderID: "order-2", UserID: "user-1", Items: items, Totals: order.ComputeTotals(items),
		}),
		viewEvent(t, order.AggregateType, order.EventCancelled, "order-2", order.CancelledPayload{
			OrderID: "order-2", From: order.StatusPending, Reason: "changed my mind",
		}),
	)

	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM order_view WHERE order_id = 'order-2'`).Scan(&status))
	assert.Equal(t, string(order.StatusCancelled), status)
}

func categoryRow(t *testing.T, db *sql.DB, categoryID string) (path string, depth int) {
	t.Helper()
	require.NoError(t, db.QueryRow(
		`SELECT path, depth FROM category_view WHERE category_id = ?`, categoryID,
	).Scan(&path, &depth))
	return path, depth
}

func productCount(t *testing.T, db *sql.DB, categoryID string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.QueryRow(
		`SELECT product_count FROM category_view WHERE category_id = ?`, categoryID,
	).Scan(&count))
	return count
}
