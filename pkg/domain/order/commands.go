package order

import (
	"github.com/corefold/shopstream/pkg/validators"
)

// Command types handled by the order aggregate.
const (
	CommandCreate         = "CreateOrder"
	CommandAddItem        = "AddOrderItem"
	CommandRemoveItem     = "RemoveOrderItem"
	CommandReserveItems   = "ReserveOrderItems"
	CommandReleaseItems   = "ReleaseOrderItems"
	CommandProcessPayment = "ProcessOrderPayment"
	CommandRefundPayment  = "RefundOrderPayment"
	CommandArrangeShip    = "ArrangeOrderShipping"
	CommandCancelShip     = "CancelOrderShipment"
	CommandConfirm        = "ConfirmOrder"
	CommandCancel         = "CancelOrder"
	CommandUpdateStatus   = "UpdateOrderStatus"
)

const maxItemNameLength = 200

func validateItems(v *validators.Errors, items []Item) {
	if len(items) == 0 {
		v.Add("items", "at least one item is required")
		return
	}
	for _, item := range items {
		v.UUID("items.product_id", item.ProductID)
		v.MaxLength("items.name", item.Name, maxItemNameLength)
		v.PositiveInt("items.quantity", item.Quantity)
		v.Positive("items.unit_price", item.UnitPrice)
	}
}

// CreateOrder opens a new order with an initial set of items.
type CreateOrder struct {
	ID      string
	OrderID string
	UserID  string
	Items   []Item
}

func (c CreateOrder) CommandID() string   { return c.ID }
func (c CreateOrder) AggregateID() string { return c.OrderID }
func (c CreateOrder) CommandType() string { return CommandCreate }

func (c CreateOrder) Validate() error {
	v := validators.New()
	v.UUID("order_id", c.OrderID)
	v.UUID("user_id", c.UserID)
	validateItems(v, c.Items)
	return v.Err()
}

// AddOrderItem appends a line to a pending order.
type AddOrderItem struct {
	ID      string
	OrderID string
	Item    Item
}

func (c AddOrderItem) CommandID() string   { return c.ID }
func (c AddOrderItem) AggregateID() string { return c.OrderID }
func (c AddOrderItem) CommandType() string { return CommandAddItem }

func (c AddOrderItem) Validate() error {
	v := validators.New()
	v.UUID("order_id", c.OrderID)
	validateItems(v, []Item{c.Item})
	return v.Err()
}

// RemoveOrderItem drops a line from a pending order.
type RemoveOrderItem struct {
	ID        string
	OrderID   string
	ProductID string
}

func (c RemoveOrderItem) CommandID() string   { return c.ID }
func (c RemoveOrderItem) AggregateID() string { return c.OrderID }
func (c RemoveOrderItem) CommandType() string { return CommandRemoveItem }

func (c RemoveOrderItem) Validate() error {
	v := validators.New()
	v.UUID("order_id", c.OrderID)
	v.UUID("product_id", c.ProductID)
	return v.Err()
}

// ReserveOrderItems marks every line reserved against inventory and moves
// the order to payment_pending. Dispatched by the fulfilment saga.
type ReserveOrderItems struct {
	ID            string
	OrderID       string
	ReservationID string
}

func (c ReserveOrderItems) CommandID() string   { return c.ID }
func (c ReserveOrderItems) AggregateID() string { return c.OrderID }
func (c ReserveOrderItems) CommandType() string { return CommandReserveItems }

func (c ReserveOrderItems) Validate() error {
	v := validators.New()
	v.UUID("order_id", c.OrderID)
	v.Require("reservation_id", c.ReservationID)
	return v.Err()
}

// ReleaseOrderItems is the compensation for ReserveOrderItems. It frees
// every still-reserved line and cancels the order where the status machine
// permits. Releasing an order with nothing reserved succeeds with no events.
type ReleaseOrderItems struct {
	ID      string
	OrderID string
	Reason  string
}

func (c ReleaseOrderItems) CommandID() string   { return c.ID }
func (c ReleaseOrderItems) AggregateID() string { return c.OrderID }
func (c ReleaseOrderItems) CommandType() string { return CommandReleaseItems }

func (c ReleaseOrderItems) Validate() error {
	v := validators.New()
	v.UUID("order_id", c.OrderID)
	return v.Err()
}

// ProcessOrderPayment charges the order total. Dispatched by the fulfilment
// saga; the handler consults the payment gateway and records the outcome.
type ProcessOrderPayment struct {
	ID      string
	OrderID string
}

func (c ProcessOrderPayment) CommandID() string   { return c.ID }
func (c ProcessOrderPayment) AggregateID() string { return c.OrderID }
func (c ProcessOrderPayment) CommandType() string { return CommandProcessPayment }

func (c ProcessOrderPayment) Validate() error {
	v := validators.New()
	v.UUID("order_id", c.OrderID)
	return v.Err()
}

// RefundOrderPayment is the compensation for ProcessOrderPayment. Refunding
// an order that never charged, or one already refunded, succeeds with no
// events.
type RefundOrderPayment struct {
	ID      string
	OrderID string
	Reason  string
}

func (c RefundOrderPayment) CommandID() string   { return c.ID }
func (c RefundOrderPayment) AggregateID() string { return c.OrderID }
func (c RefundOrderPayment) CommandType() string { return CommandRefundPayment }

func (c RefundOrderPayment) Validate() error {
	v := validators.New()
	v.UUID("order_id", c.OrderID)
	return v.Err()
}

// ArrangeOrderShipping books a shipment for a paid order and moves it to
// shipped. Dispatched by the fulfilment saga.
type ArrangeOrderShipping struct {
	ID      string
	OrderID string
}

func (c ArrangeOrderShipping) CommandID() string   { return c.ID }
func (c ArrangeOrderShipping) AggregateID() string { return c.OrderID }
func (c ArrangeOrderShipping) CommandType() string { return CommandArrangeShip }

func (c ArrangeOrderShipping) Validate() error {
	v := validators.New()
	v.UUID("order_id", c.OrderID)
	return v.Err()
}

// CancelOrderShipment is the compensation for ArrangeOrderShipping.
// Cancelling a shipment that was never booked, or one already cancelled,
// succeeds with no events.
type CancelOrderShipment struct {
	ID      string
	OrderID string
	Reason  string
}

func (c CancelOrderShipment) CommandID() string   { return c.ID }
func (c CancelOrderShipment) AggregateID() string { return c.OrderID }
func (c CancelOrderShipment) CommandType() string { return CommandCancelShip }

func (c CancelOrderShipment) Validate() error {
	v := validators.New()
	v.UUID("order_id", c.OrderID)
	return v.Err()
}

// ConfirmOrder records delivery and closes the order as completed. The
// final step of the fulfilment saga.
type ConfirmOrder struct {
	ID      string
	OrderID string
}

func (c ConfirmOrder) CommandID() string   { return c.ID }
func (c ConfirmOrder) AggregateID() string { return c.OrderID }
func (c ConfirmOrder) CommandType() string { return CommandConfirm }

func (c ConfirmOrder) Validate() error {
	v := validators.New()
	v.UUID("order_id", c.OrderID)
	return v.Err()
}

// CancelOrder is the customer-facing cancellation. Only orders not yet in
// active fulfilment can be cancelled this way.
type CancelOrder struct {
	ID      string
	OrderID string
	Reason  string
}

func (c CancelOrder) CommandID() string   { return c.ID }
func (c CancelOrder) AggregateID() string { return c.OrderID }
func (c CancelOrder) CommandType() string { return CommandCancel }

func (c CancelOrder) Validate() error {
	v := validators.New()
	v.UUID("order_id", c.OrderID)
	return v.Err()
}

// UpdateOrderStatus walks the order one edge along the status machine.
// Used by back-office flows such as marking a shipped order delivered or a
// delivered order returned.
type UpdateOrderStatus struct {
	ID        string
	OrderID   string
	NewStatus Status
	Reason    string
}

func (c UpdateOrderStatus) CommandID() string   { return c.ID }
func (c UpdateOrderStatus) AggregateID() string { return c.OrderID }
func (c UpdateOrderStatus) CommandType() string { return CommandUpdateStatus }

func (c UpdateOrderStatus) Validate() error {
	v := validators.New()
	v.UUID("order_id", c.OrderID)
	v.Require("new_status", string(c.NewStatus))
	return v.Err()
}
