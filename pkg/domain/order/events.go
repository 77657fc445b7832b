package order

import (
	"github.com/shopspring/decimal"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// AggregateType is stamped on every event recorded by the order aggregate.
const AggregateType = "Order"

// Event types emitted by the order aggregate.
const (
	EventCreated           = "OrderCreated"
	EventItemAdded         = "OrderItemAdded"
	EventItemRemoved       = "OrderItemRemoved"
	EventItemReserved      = "OrderItemReserved"
	EventItemReleased      = "OrderItemReleased"
	EventPaymentProcessed  = "OrderPaymentProcessed"
	EventPaymentFailed     = "OrderPaymentFailed"
	EventPaymentRefunded   = "OrderPaymentRefunded"
	EventShippingArranged  = "OrderShippingArranged"
	EventShipmentCancelled = "OrderShipmentCancelled"
	EventStatusChanged     = "OrderStatusChanged"
	EventCompleted         = "OrderCompleted"
	EventCancelled         = "OrderCancelled"
)

// CreatedPayload is the OrderCreated event payload. Totals are computed at
// creation time and travel with the event so projections never re-price.
type CreatedPayload struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Items   []Item `json:"items"`
	Totals  Totals `json:"totals"`
}

// ItemAddedPayload is the OrderItemAdded event payload.
type ItemAddedPayload struct {
	OrderID string `json:"order_id"`
	Item    Item   `json:"item"`
	Totals  Totals `json:"totals"`
}

// ItemRemovedPayload is the OrderItemRemoved event payload.
type ItemRemovedPayload struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Totals    Totals `json:"totals"`
}

// ItemReservedPayload is the OrderItemReserved event payload, one per line.
type ItemReservedPayload struct {
	OrderID       string `json:"order_id"`
	ProductID     string `json:"product_id"`
	Quantity      int64  `json:"quantity"`
	ReservationID string `json:"reservation_id"`
}

// ItemReleasedPayload is the OrderItemReleased event payload, one per line.
type ItemReleasedPayload struct {
	OrderID       string `json:"order_id"`
	ProductID     string `json:"product_id"`
	Quantity      int64  `json:"quantity"`
	ReservationID string `json:"reservation_id"`
}

// PaymentProcessedPayload is the OrderPaymentProcessed event payload.
type PaymentProcessedPayload struct {
	OrderID   string          `json:"order_id"`
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// PaymentFailedPayload is the OrderPaymentFailed event payload.
type PaymentFailedPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// PaymentRefundedPayload is the OrderPaymentRefunded event payload. The
// refund is a money fact; it does not move the order status by itself.
type PaymentRefundedPayload struct {
	OrderID   string          `json:"order_id"`
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// ShippingArrangedPayload is the OrderShippingArranged event payload.
type ShippingArrangedPayload struct {
	OrderID    string `json:"order_id"`
	ShipmentID string `json:"shipment_id"`
	Carrier    string `json:"carrier,omitempty"`
}

// ShipmentCancelledPayload is the OrderShipmentCancelled event payload.
type ShipmentCancelledPayload struct {
	OrderID    string `json:"order_id"`
	ShipmentID string `json:"shipment_id"`
}

// StatusChangedPayload is the OrderStatusChanged event payload. From and To
// always form a legal edge of the status machine.
type StatusChangedPayload struct {
	OrderID string `json:"order_id"`
	From    Status `json:"from"`
	To      Status `json:"to"`
	Reason  string `json:"reason,omitempty"`
}

// CompletedPayload is the OrderCompleted event payload.
type CompletedPayload struct {
	OrderID string          `json:"order_id"`
	Total   decimal.Decimal `json:"total"`
}

// CancelledPayload is the OrderCancelled event payload.
type CancelledPayload struct {
	OrderID string `json:"order_id"`
	From    Status `json:"from"`
	Reason  string `json:"reason,omitempty"`
}

// RegisterEvents registers every order event payload with the registry.
func RegisterEvents(registry *eventsourcing.EventRegistry) {
	registry.Register(EventCreated, 1, func() any { return &CreatedPayload{} })
	registry.Register(EventItemAdded, 1, func() any { return &ItemAddedPayload{} })
	registry.Register(EventItemRemoved, 1, func() any { return &ItemRemovedPayload{} })
	registry.Register(EventItemReserved, 1, func() any { return &ItemReservedPayload{} })
	registry.Register(EventItemReleased, 1, func() any { return &ItemReleasedPayload{} })
	registry.Register(EventPaymentProcessed, 1, func() any { return &PaymentProcessedPayload{} })
	registry.Register(EventPaymentFailed, 1, func() any { return &PaymentFailedPayload{} })
	registry.Register(EventPaymentRefunded, 1, func() any { return &PaymentRefundedPayload{} })
	registry.Register(EventShippingArranged, 1, func() any { return &ShippingArrangedPayload{} })
	registry.Register(EventShipmentCancelled, 1, func() any { return &ShipmentCancelledPayload{} })
	registry.Register(EventStatusChanged, 1, func() any { return &StatusChangedPayload{} })
	registry.Register(EventCompleted, 1, func() any { return &CompletedPayload{} })
	registry.Register(EventCancelled, 1, func() any { return &CancelledPayload{} })
}
