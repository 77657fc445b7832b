package saga

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/corefold/shopstream/pkg/domain/order"
	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// OrderFulfilmentType names the order fulfilment saga.
const OrderFulfilmentType = "order-fulfilment"

// Order fulfilment step names, recorded in the saga log.
const (
	StepReserveInventory = "ReserveInventory"
	StepProcessPayment   = "ProcessPayment"
	StepArrangeShipping  = "ArrangeShipping"
	StepConfirmOrder     = "ConfirmOrder"
)

// OrderFulfilmentData is the initial data for an order fulfilment saga.
type OrderFulfilmentData struct {
	OrderID string `json:"order_id"`
}

// OrderFulfilment builds the fulfilment workflow: reserve inventory, charge
// payment, arrange shipping, confirm. The saga id doubles as the inventory
// reservation id, and each step's command id derives from the saga id, so
// redispatches after a crash land on the idempotency cache instead of the
// gateways.
func OrderFulfilment() *Definition {
	return &Definition{
		Type:        OrderFulfilmentType,
		TriggeredBy: order.EventCreated,
		TriggerData: func(event *eventsourcing.Event) (json.RawMessage, error) {
			return json.Marshal(OrderFulfilmentData{OrderID: event.AggregateID})
		},
		Steps: []Step{
			{
				Name: StepReserveInventory,
				Command: func(inst *Instance) (eventsourcing.Command, error) {
					data, err := orderData(inst)
					if err != nil {
						return nil, err
					}
					return order.ReserveOrderItems{
						ID:            stepCommandID(inst, "reserve"),
						OrderID:       data.OrderID,
						ReservationID: inst.ID(),
					}, nil
				},
				Compensation: func(inst *Instance) (eventsourcing.Command, error) {
					data, err := orderData(inst)
					if err != nil {
						return nil, err
					}
					return order.ReleaseOrderItems{
						ID:      stepCommandID(inst, "release"),
						OrderID: data.OrderID,
						Reason:  inst.FailureReason,
					}, nil
				},
				SucceedsOn: []string{order.EventItemReserved},
			},
			{
				Name: StepProcessPayment,
				Command: func(inst *Instance) (eventsourcing.Command, error) {
					data, err := orderData(inst)
					if err != nil {
						return nil, err
					}
					return order.ProcessOrderPayment{
						ID:      stepCommandID(inst, "payment"),
						OrderID: data.OrderID,
					}, nil
				},
				Compensation: func(inst *Instance) (eventsourcing.Command, error) {
					data, err := orderData(inst)
					if err != nil {
						return nil, err
					}
					return order.RefundOrderPayment{
						ID:      stepCommandID(inst, "refund"),
						OrderID: data.OrderID,
						Reason:  inst.FailureReason,
					}, nil
				},
				SucceedsOn: []string{order.EventPaymentProcessed},
				FailsOn:    []string{order.EventPaymentFailed},
			},
			{
				Name: StepArrangeShipping,
				Command: func(inst *Instance) (eventsourcing.Command, error) {
					data, err := orderData(inst)
					if err != nil {
						return nil, err
					}
					return order.ArrangeOrderShipping{
						ID:      stepCommandID(inst, "shipping"),
						OrderID: data.OrderID,
					}, nil
				},
				Compensation: func(inst *Instance) (eventsourcing.Command, error) {
					data, err := orderData(inst)
					if err != nil {
						return nil, err
					}
					return order.CancelOrderShipment{
						ID:      stepCommandID(inst, "cancel-shipment"),
						OrderID: data.OrderID,
						Reason:  inst.FailureReason,
					}, nil
				},
				SucceedsOn: []string{order.EventShippingArranged},
			},
			{
				Name: StepConfirmOrder,
				Command: func(inst *Instance) (eventsourcing.Command, error) {
					data, err := orderData(inst)
					if err != nil {
						return nil, err
					}
					return order.ConfirmOrder{
						ID:      stepCommandID(inst, "confirm"),
						OrderID: data.OrderID,
					}, nil
				},
				SucceedsOn: []string{order.EventCompleted},
			},
		},
	}
}

// StartOrderFulfilment starts a fulfilment saga for the given order.
func StartOrderFulfilment(ctx context.Context, c *Coordinator, orderID string) (string, error) {
	data, err := json.Marshal(OrderFulfilmentData{OrderID: orderID})
	if err != nil {
		return "", err
	}
	return c.StartSaga(ctx, OrderFulfilmentType, data)
}

func orderData(inst *Instance) (OrderFulfilmentData, error) {
	var data OrderFulfilmentData
	if err := json.Unmarshal(inst.Data, &data); err != nil {
		return data, fmt.Errorf("decoding fulfilment data: %w", err)
	}
	if data.OrderID == "" {
		return data, fmt.Errorf("fulfilment data has no order id")
	}
	return data, nil
}

// stepCommandID derives a stable command id for a saga phase. Stability is
// what makes redispatch safe all the way down to the gateways.
func stepCommandID(inst *Instance, phase string) string {
	return inst.ID() + ":" + phase
}
