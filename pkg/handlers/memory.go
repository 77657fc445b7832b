package handlers

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/corefold/shopstream/pkg/domain/order"
	"github.com/corefold/shopstream/pkg/eventsourcing"
	"github.com/corefold/shopstream/pkg/idgen"
)

// MemoryInventoryGateway is an in-process InventoryGateway holding stock
// levels in a map. Tests and the demo runtime use it; the failure hooks
// inject transient outages for resilience scenarios.
type MemoryInventoryGateway struct {
	mu           sync.Mutex
	stock        map[string]int64
	reservations map[string]map[string]int64
	failNext     int
}

// NewMemoryInventoryGateway creates an inventory gateway with no stock.
func NewMemoryInventoryGateway() *MemoryInventoryGateway {
	return &MemoryInventoryGateway{
		stock:        make(map[string]int64),
		reservations: make(map[string]map[string]int64),
	}
}

// SetStock sets the available quantity for a product.
func (g *MemoryInventoryGateway) SetStock(productID string, quantity int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stock[productID] = quantity
}

// Stock returns the available quantity for a product.
func (g *MemoryInventoryGateway) Stock(productID string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stock[productID]
}

// FailNext makes the next n calls fail with a transient error.
func (g *MemoryInventoryGateway) FailNext(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = n
}

// Reserve implements InventoryGateway.
func (g *MemoryInventoryGateway) Reserve(ctx context.Context, reservationID, orderID string, items []order.Item) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failNext > 0 {
		g.failNext--
		return eventsourcing.Transient(errors.New("inventory service unreachable"))
	}
	if _, ok := g.reservations[reservationID]; ok {
		return nil
	}

	for _, item := range items {
		if g.stock[item.ProductID] < item.Quantity {
			return eventsourcing.NewDomainError("insufficient_stock",
				"product %s has %d in stock, %d requested", item.ProductID, g.stock[item.ProductID], item.Quantity)
		}
	}

	held := make(map[string]int64, len(items))
	for _, item := range items {
		g.stock[item.ProductID] -= item.Quantity
		held[item.ProductID] += item.Quantity
	}
	g.reservations[reservationID] = held
	return nil
}

// Release implements InventoryGateway.
func (g *MemoryInventoryGateway) Release(ctx context.Context, reservationID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failNext > 0 {
		g.failNext--
		return eventsourcing.Transient(errors.New("inventory service unreachable"))
	}

	held, ok := g.reservations[reservationID]
	if !ok {
		return nil
	}
	for productID, quantity := range held {
		g.stock[productID] += quantity
	}
	delete(g.reservations, reservationID)
	return nil
}

// MemoryPaymentGateway is an in-process PaymentGateway. Charges are
// deduplicated by reference so command retries never double-charge.
type MemoryPaymentGateway struct {
	mu          sync.Mutex
	charges     map[string]order.PaymentReceipt
	refunded    map[string]bool
	failNext    int
	declineNext int
}

// NewMemoryPaymentGateway creates a payment gateway that approves every charge.
func NewMemoryPaymentGateway() *MemoryPaymentGateway {
	return &MemoryPaymentGateway{
		charges:  make(map[string]order.PaymentReceipt),
		refunded: make(map[string]bool),
	}
}

// FailNext makes the next n calls fail with a transient error.
func (g *MemoryPaymentGateway) FailNext(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = n
}

// DeclineNext makes the next n charges come back declined.
func (g *MemoryPaymentGateway) DeclineNext(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.declineNext = n
}

// ChargeCount returns how many distinct charges were captured.
func (g *MemoryPaymentGateway) ChargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.charges)
}

// Refunded reports whether a payment has been refunded.
func (g *MemoryPaymentGateway) Refunded(paymentID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refunded[paymentID]
}

// Charge implements PaymentGateway.
func (g *MemoryPaymentGateway) Charge(ctx context.Context, reference, orderID string, amount decimal.Decimal) (order.PaymentReceipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failNext > 0 {
		g.failNext--
		return order.PaymentReceipt{}, eventsourcing.Transient(errors.New("payment service unreachable"))
	}
	if receipt, ok := g.charges[reference]; ok {
		return receipt, nil
	}
	if g.declineNext > 0 {
		g.declineNext--
		return order.PaymentReceipt{}, eventsourcing.NewDomainError("payment_declined",
			"charge of %s for order %s was declined", amount, orderID)
	}

	receipt := order.PaymentReceipt{
		PaymentID: idgen.MustGenerateSortableID(),
		Amount:    amount,
	}
	g.charges[reference] = receipt
	return receipt, nil
}

// Refund implements PaymentGateway.
func (g *MemoryPaymentGateway) Refund(ctx context.Context, paymentID string, amount decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failNext > 0 {
		g.failNext--
		return eventsourcing.Transient(errors.New("payment service unreachable"))
	}
	g.refunded[paymentID] = true
	return nil
}

// MemoryShippingGateway is an in-process ShippingGateway. Bookings are
// deduplicated by order so command retries never book twice.
type MemoryShippingGateway struct {
	mu        sync.Mutex
	shipments map[string]order.Shipment
	cancelled map[string]bool
	failNext  int
	carrier   string
}

// NewMemoryShippingGateway creates a shipping gateway with a fixed carrier.
func NewMemoryShippingGateway() *MemoryShippingGateway {
	return &MemoryShippingGateway{
		shipments: make(map[string]order.Shipment),
		cancelled: make(map[string]bool),
		carrier:   "standard",
	}
}

// FailNext makes the next n calls fail with a transient error.
func (g *MemoryShippingGateway) FailNext(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = n
}

// Cancelled reports whether a shipment has been cancelled.
func (g *MemoryShippingGateway) Cancelled(shipmentID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancelled[shipmentID]
}

// Arrange implements ShippingGateway.
func (g *MemoryShippingGateway) Arrange(ctx context.Context, orderID string, items []order.Item) (order.Shipment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failNext > 0 {
		g.failNext--
		return order.Shipment{}, eventsourcing.Transient(errors.New("shipping service unreachable"))
	}
	if shipment, ok := g.shipments[orderID]; ok {
		return shipment, nil
	}

	shipment := order.Shipment{
		ShipmentID: idgen.MustGenerateSortableID(),
		Carrier:    g.carrier,
	}
	g.shipments[orderID] = shipment
	return shipment, nil
}

// CancelShipment implements ShippingGateway.
func (g *MemoryShippingGateway) CancelShipment(ctx context.Context, shipmentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failNext > 0 {
		g.failNext--
		return eventsourcing.Transient(errors.New("shipping service unreachable"))
	}
	g.cancelled[shipmentID] = true
	return nil
}
