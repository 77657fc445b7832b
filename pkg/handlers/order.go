package handlers

import (
	"context"
	"fmt"

	"github.com/corefold/shopstream/pkg/domain/order"
	"github.com/corefold/shopstream/pkg/domain/product"
	"github.com/corefold/shopstream/pkg/eventsourcing"
	"github.com/corefold/shopstream/pkg/resilience"
)

// Breaker endpoints for the order handler's gateway calls.
const (
	EndpointInventory = "inventory"
	EndpointPayments  = "payments"
	EndpointShipping  = "shipping"
)

// OrderHandler serves the order aggregate's commands. Gateway calls run
// through the resilient client before anything is persisted, so an order
// never records work a gateway refused to do.
type OrderHandler struct {
	orders    eventsourcing.Repository[*order.Order]
	products  eventsourcing.Repository[*product.Product]
	inventory InventoryGateway
	payments  PaymentGateway
	shipping  ShippingGateway
	client    *resilience.Client
}

// NewOrderHandler creates the order command handler.
func NewOrderHandler(
	orders eventsourcing.Repository[*order.Order],
	products eventsourcing.Repository[*product.Product],
	inventory InventoryGateway,
	payments PaymentGateway,
	shipping ShippingGateway,
	client *resilience.Client,
) *OrderHandler {
	return &OrderHandler{
		orders:    orders,
		products:  products,
		inventory: inventory,
		payments:  payments,
		shipping:  shipping,
		client:    client,
	}
}

// CommandTypes implements eventsourcing.TypedHandler.
func (h *OrderHandler) CommandTypes() []string {
	return []string{
		order.CommandCreate,
		order.CommandAddItem,
		order.CommandRemoveItem,
		order.CommandReserveItems,
		order.CommandReleaseItems,
		order.CommandProcessPayment,
		order.CommandRefundPayment,
		order.CommandArrangeShip,
		order.CommandCancelShip,
		order.CommandConfirm,
		order.CommandCancel,
		order.CommandUpdateStatus,
	}
}

// Handle implements eventsourcing.CommandHandler.
func (h *OrderHandler) Handle(ctx context.Context, env *eventsourcing.CommandEnvelope) ([]*eventsourcing.Event, error) {
	o, err := h.orders.Load(ctx, env.Command.AggregateID())
	if err != nil {
		return nil, err
	}
	o.SetCommandContext(env.Metadata.CommandID, env.Metadata.EventMetadata())

	switch cmd := env.Command.(type) {
	case order.CreateOrder:
		items, err := h.resolveItems(ctx, cmd.Items)
		if err != nil {
			return nil, err
		}
		cmd.Items = items
		if err := o.Create(cmd); err != nil {
			return nil, err
		}

	case order.AddOrderItem:
		items, err := h.resolveItems(ctx, []order.Item{cmd.Item})
		if err != nil {
			return nil, err
		}
		cmd.Item = items[0]
		if err := o.AddItem(cmd); err != nil {
			return nil, err
		}

	case order.RemoveOrderItem:
		if err := o.RemoveItem(cmd); err != nil {
			return nil, err
		}

	case order.ReserveOrderItems:
		if err := o.ReserveItems(cmd); err != nil {
			return nil, err
		}
		if len(o.UncommittedEvents()) == 0 {
			// Same reservation redelivered, inventory already holds it.
			return nil, nil
		}
		err := h.client.Call(ctx, EndpointInventory, func(ctx context.Context) error {
			return h.inventory.Reserve(ctx, cmd.ReservationID, cmd.OrderID, o.Items)
		}, resilience.WithOperation("reserve"))
		if err != nil {
			return nil, err
		}

	case order.ReleaseOrderItems:
		reservationID := o.ReservationID
		hadReserved := len(o.Reserved) > 0
		if err := o.ReleaseItems(cmd); err != nil {
			return nil, err
		}
		if hadReserved {
			err := h.client.Call(ctx, EndpointInventory, func(ctx context.Context) error {
				return h.inventory.Release(ctx, reservationID)
			}, resilience.WithOperation("release"))
			if err != nil {
				return nil, err
			}
		}

	case order.ProcessOrderPayment:
		if o.Status == order.StatusProcessing && o.PaymentID != "" {
			// Charge already captured by an earlier delivery.
			return nil, nil
		}
		if err := o.PaymentDue(); err != nil {
			return nil, err
		}
		if err := h.chargePayment(ctx, env.Metadata.CommandID, o); err != nil {
			return nil, err
		}

	case order.RefundOrderPayment:
		paymentID, amount := o.PaymentID, o.PaymentAmount
		if err := o.RefundPayment(cmd); err != nil {
			return nil, err
		}
		if len(o.UncommittedEvents()) > 0 {
			err := h.client.Call(ctx, EndpointPayments, func(ctx context.Context) error {
				return h.payments.Refund(ctx, paymentID, amount)
			}, resilience.WithOperation("refund"))
			if err != nil {
				return nil, err
			}
		}

	case order.ArrangeOrderShipping:
		if o.Status == order.StatusShipped && o.ShipmentID != "" {
			return nil, nil
		}
		if err := o.ShippingDue(); err != nil {
			return nil, err
		}
		var shipment order.Shipment
		err := h.client.Call(ctx, EndpointShipping, func(ctx context.Context) error {
			s, err := h.shipping.Arrange(ctx, cmd.OrderID, o.Items)
			if err != nil {
				return err
			}
			shipment = s
			return nil
		}, resilience.WithOperation("arrange"))
		if err != nil {
			return nil, err
		}
		if err := o.ArrangeShipping(shipment); err != nil {
			return nil, err
		}

	case order.CancelOrderShipment:
		shipmentID := o.ShipmentID
		if err := o.CancelShipment(cmd); err != nil {
			return nil, err
		}
		if len(o.UncommittedEvents()) > 0 {
			err := h.client.Call(ctx, EndpointShipping, func(ctx context.Context) error {
				return h.shipping.CancelShipment(ctx, shipmentID)
			}, resilience.WithOperation("cancel"))
			if err != nil {
				return nil, err
			}
		}

	case order.ConfirmOrder:
		if err := o.Confirm(cmd); err != nil {
			return nil, err
		}

	case order.CancelOrder:
		if err := o.Cancel(cmd); err != nil {
			return nil, err
		}

	case order.UpdateOrderStatus:
		if err := o.UpdateStatus(cmd); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: order handler got %s", eventsourcing.ErrCommandNotFound, env.Command.CommandType())
	}

	return persist(ctx, h.orders, o)
}

// chargePayment runs the charge and records the outcome on the order.
// A declined charge is a recorded fact, not a handler error; the saga reads
// it from the produced events. The command ID is the gateway reference, so
// a retried command settles on the original receipt.
func (h *OrderHandler) chargePayment(ctx context.Context, commandID string, o *order.Order) error {
	var receipt order.PaymentReceipt
	err := h.client.Call(ctx, EndpointPayments, func(ctx context.Context) error {
		r, err := h.payments.Charge(ctx, commandID, o.ID(), o.Totals.Total)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	}, resilience.WithOperation("charge"))

	switch {
	case err == nil:
		return o.RecordPaymentProcessed(receipt)
	case eventsourcing.IsDomainViolation(err):
		reason := eventsourcing.DomainErrorCode(err)
		if reason == "" {
			reason = err.Error()
		}
		return o.RecordPaymentFailed(reason)
	default:
		return err
	}
}

// resolveItems verifies every line references a live product and fills
// names left empty from the catalog.
func (h *OrderHandler) resolveItems(ctx context.Context, items []order.Item) ([]order.Item, error) {
	resolved := make([]order.Item, len(items))
	for i, item := range items {
		p, err := h.products.Load(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		if p.Version() == 0 {
			return nil, eventsourcing.NewDomainError("product_not_found",
				"product %s does not exist", item.ProductID)
		}
		if p.Deleted {
			return nil, eventsourcing.NewDomainError("product_deleted",
				"product %s is deleted", item.ProductID)
		}
		if item.Name == "" {
			item.Name = p.Name
		}
		resolved[i] = item
	}
	return resolved, nil
}
