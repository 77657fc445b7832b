package handlers

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/corefold/shopstream/pkg/domain/order"
)

// InventoryGateway reserves and releases stock for order lines.
// Implementations must be idempotent per reservation ID.
type InventoryGateway interface {
	// Reserve holds stock for every line under the given reservation ID.
	// Reserving the same reservation ID again succeeds without holding more.
	// Insufficient stock is a domain violation with code "insufficient_stock".
	Reserve(ctx context.Context, reservationID, orderID string, items []order.Item) error

	// Release frees whatever the reservation still holds. Releasing an
	// unknown or already released reservation succeeds.
	Release(ctx context.Context, reservationID string) error
}

// PaymentGateway charges and refunds order totals.
// Implementations must be idempotent per charge reference.
type PaymentGateway interface {
	// Charge debits amount for the order. The reference deduplicates
	// redelivered charges: the same reference returns the original receipt.
	// A declined card is a domain violation with code "payment_declined".
	Charge(ctx context.Context, reference, orderID string, amount decimal.Decimal) (order.PaymentReceipt, error)

	// Refund returns the captured amount for a payment. Refunding an unknown
	// or already refunded payment succeeds.
	Refund(ctx context.Context, paymentID string, amount decimal.Decimal) error
}

// ShippingGateway books and cancels shipments.
type ShippingGateway interface {
	// Arrange books a shipment for the order's lines. Booking the same order
	// again returns the original shipment.
	Arrange(ctx context.Context, orderID string, items []order.Item) (order.Shipment, error)

	// CancelShipment voids a booking. Cancelling an unknown or already
	// cancelled shipment succeeds.
	CancelShipment(ctx context.Context, shipmentID string) error
}
