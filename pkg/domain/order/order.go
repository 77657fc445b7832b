// Package order implements the write-side order aggregate.
//
// Orders walk a fixed status machine from pending to a terminal state.
// The fulfilment saga drives the happy path (reserve, pay, ship, confirm)
// and the compensation commands undo it step by step. Compensations are
// idempotent: undoing work that never happened, or was already undone,
// succeeds without recording anything.
package order

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// PaymentReceipt is the payment gateway's answer to a charge.
type PaymentReceipt struct {
	PaymentID string
	Amount    decimal.Decimal
}

// Shipment is the shipping gateway's answer to a booking.
type Shipment struct {
	ShipmentID string
	Carrier    string
}

// Order is the event-sourced order aggregate.
type Order struct {
	eventsourcing.AggregateRoot

	UserID string
	Items  []Item
	Totals Totals
	Status Status

	ReservationID string
	Reserved      map[string]int64

	PaymentID       string
	PaymentAmount   decimal.Decimal
	PaymentRefunded bool

	ShipmentID        string
	Carrier           string
	ShipmentCancelled bool

	CancelReason string
}

// New returns an empty order aggregate at version 0.
func New(id string) *Order {
	o := &Order{
		AggregateRoot: eventsourcing.NewAggregateRoot(id, AggregateType),
		Reserved:      make(map[string]int64),
	}
	o.Bind(o)
	return o
}

// Create handles CreateOrder. The order must not exist yet.
func (o *Order) Create(cmd CreateOrder) error {
	if o.Version() > 0 {
		return eventsourcing.NewDomainError("already_exists", "order %s already exists", o.ID())
	}
	if err := requireDistinctProducts(cmd.Items); err != nil {
		return err
	}
	return o.Record(EventCreated, CreatedPayload{
		OrderID: o.ID(),
		UserID:  cmd.UserID,
		Items:   cmd.Items,
		Totals:  ComputeTotals(cmd.Items),
	})
}

// AddItem handles AddOrderItem. Lines can only change while pending.
func (o *Order) AddItem(cmd AddOrderItem) error {
	if err := o.requireStatus(StatusPending, "add items"); err != nil {
		return err
	}
	if o.hasItem(cmd.Item.ProductID) {
		return eventsourcing.NewDomainError("item_exists",
			"order %s already contains product %s", o.ID(), cmd.Item.ProductID)
	}
	items := append(append([]Item(nil), o.Items...), cmd.Item)
	return o.Record(EventItemAdded, ItemAddedPayload{
		OrderID: o.ID(),
		Item:    cmd.Item,
		Totals:  ComputeTotals(items),
	})
}

// RemoveItem handles RemoveOrderItem. Lines can only change while pending.
func (o *Order) RemoveItem(cmd RemoveOrderItem) error {
	if err := o.requireStatus(StatusPending, "remove items"); err != nil {
		return err
	}
	if !o.hasItem(cmd.ProductID) {
		return eventsourcing.NewDomainError("item_not_found",
			"order %s does not contain product %s", o.ID(), cmd.ProductID)
	}
	remaining := make([]Item, 0, len(o.Items)-1)
	for _, item := range o.Items {
		if item.ProductID != cmd.ProductID {
			remaining = append(remaining, item)
		}
	}
	return o.Record(EventItemRemoved, ItemRemovedPayload{
		OrderID:   o.ID(),
		ProductID: cmd.ProductID,
		Totals:    ComputeTotals(remaining),
	})
}

// ReserveItems handles ReserveOrderItems: one reservation fact per line,
// then the move to payment_pending. Redelivery of the same reservation is
// a no-op.
func (o *Order) ReserveItems(cmd ReserveOrderItems) error {
	if o.Status == StatusPaymentPending && o.ReservationID == cmd.ReservationID {
		return nil
	}
	if err := o.requireStatus(StatusPending, "reserve items"); err != nil {
		return err
	}
	if len(o.Items) == 0 {
		return eventsourcing.NewDomainError("empty_order", "order %s has no items to reserve", o.ID())
	}
	for _, item := range o.Items {
		err := o.Record(EventItemReserved, ItemReservedPayload{
			OrderID:       o.ID(),
			ProductID:     item.ProductID,
			Quantity:      item.Quantity,
			ReservationID: cmd.ReservationID,
		})
		if err != nil {
			return err
		}
	}
	return o.Record(EventStatusChanged, StatusChangedPayload{
		OrderID: o.ID(),
		From:    StatusPending,
		To:      StatusPaymentPending,
		Reason:  "items_reserved",
	})
}

// PaymentDue reports whether the order is awaiting payment. The handler
// checks this before charging so a rejected order never reaches the gateway.
func (o *Order) PaymentDue() error {
	return o.requireStatus(StatusPaymentPending, "process payment")
}

// ShippingDue reports whether the order is paid and awaiting shipment.
func (o *Order) ShippingDue() error {
	return o.requireStatus(StatusProcessing, "arrange shipping")
}

// RecordPaymentProcessed handles a successful charge from the payment
// gateway. Seeing the same receipt again is a no-op.
func (o *Order) RecordPaymentProcessed(receipt PaymentReceipt) error {
	if o.Status == StatusProcessing && o.PaymentID == receipt.PaymentID {
		return nil
	}
	if err := o.requireStatus(StatusPaymentPending, "process payment"); err != nil {
		return err
	}
	return o.Record(EventPaymentProcessed, PaymentProcessedPayload{
		OrderID:   o.ID(),
		PaymentID: receipt.PaymentID,
		Amount:    receipt.Amount,
	})
}

// RecordPaymentFailed handles a declined charge from the payment gateway.
func (o *Order) RecordPaymentFailed(reason string) error {
	if o.Status == StatusPaymentFailed {
		return nil
	}
	if err := o.requireStatus(StatusPaymentPending, "fail payment"); err != nil {
		return err
	}
	return o.Record(EventPaymentFailed, PaymentFailedPayload{
		OrderID: o.ID(),
		Reason:  reason,
	})
}

// RefundPayment handles RefundOrderPayment. Nothing charged, or already
// refunded, means nothing to do.
func (o *Order) RefundPayment(cmd RefundOrderPayment) error {
	if err := o.requireExists(); err != nil {
		return err
	}
	if o.PaymentID == "" || o.PaymentRefunded {
		return nil
	}
	return o.Record(EventPaymentRefunded, PaymentRefundedPayload{
		OrderID:   o.ID(),
		PaymentID: o.PaymentID,
		Amount:    o.PaymentAmount,
	})
}

// ArrangeShipping handles the shipping gateway's booking. Rebooking the
// same shipment is a no-op.
func (o *Order) ArrangeShipping(shipment Shipment) error {
	if o.Status == StatusShipped && o.ShipmentID == shipment.ShipmentID {
		return nil
	}
	if err := o.requireStatus(StatusProcessing, "arrange shipping"); err != nil {
		return err
	}
	return o.Record(EventShippingArranged, ShippingArrangedPayload{
		OrderID:    o.ID(),
		ShipmentID: shipment.ShipmentID,
		Carrier:    shipment.Carrier,
	})
}

// CancelShipment handles CancelOrderShipment. No booking, or an already
// cancelled one, means nothing to do.
func (o *Order) CancelShipment(cmd CancelOrderShipment) error {
	if err := o.requireExists(); err != nil {
		return err
	}
	if o.ShipmentID == "" || o.ShipmentCancelled {
		return nil
	}
	return o.Record(EventShipmentCancelled, ShipmentCancelledPayload{
		OrderID:    o.ID(),
		ShipmentID: o.ShipmentID,
	})
}

// Confirm handles ConfirmOrder: delivery is acknowledged and the order
// closes as completed. Confirming a completed order is a no-op.
func (o *Order) Confirm(cmd ConfirmOrder) error {
	if o.Status == StatusCompleted {
		return nil
	}
	if err := o.requireStatus(StatusShipped, "confirm"); err != nil {
		return err
	}
	err := o.Record(EventStatusChanged, StatusChangedPayload{
		OrderID: o.ID(),
		From:    StatusShipped,
		To:      StatusDelivered,
		Reason:  "delivery_confirmed",
	})
	if err != nil {
		return err
	}
	return o.Record(EventCompleted, CompletedPayload{
		OrderID: o.ID(),
		Total:   o.Totals.Total,
	})
}

// ReleaseItems handles ReleaseOrderItems. Every still-reserved line is
// released, then the order is cancelled wherever the status machine has a
// path to cancelled. Orders past fulfilment keep their status; the release
// facts alone record the compensation.
func (o *Order) ReleaseItems(cmd ReleaseOrderItems) error {
	if err := o.requireExists(); err != nil {
		return err
	}
	if len(o.Reserved) == 0 && o.Status.Terminal() {
		return nil
	}

	for _, item := range o.Items {
		quantity, ok := o.Reserved[item.ProductID]
		if !ok {
			continue
		}
		err := o.Record(EventItemReleased, ItemReleasedPayload{
			OrderID:       o.ID(),
			ProductID:     item.ProductID,
			Quantity:      quantity,
			ReservationID: o.ReservationID,
		})
		if err != nil {
			return err
		}
	}

	switch o.Status {
	case StatusPending, StatusPaymentFailed, StatusProcessing:
		return o.recordCancelled(o.Status, cmd.Reason)
	case StatusPaymentPending:
		err := o.Record(EventStatusChanged, StatusChangedPayload{
			OrderID: o.ID(),
			From:    StatusPaymentPending,
			To:      StatusPaymentFailed,
			Reason:  cmd.Reason,
		})
		if err != nil {
			return err
		}
		return o.recordCancelled(StatusPaymentFailed, cmd.Reason)
	default:
		return nil
	}
}

// Cancel handles the customer-facing CancelOrder. Orders in active
// fulfilment cannot be cancelled this way; the saga's compensations own
// that path.
func (o *Order) Cancel(cmd CancelOrder) error {
	if err := o.requireOpen(); err != nil {
		return err
	}
	switch o.Status {
	case StatusPending, StatusPaymentFailed:
		return o.recordCancelled(o.Status, cmd.Reason)
	default:
		return eventsourcing.NewDomainError("cancellation_not_allowed",
			"order %s is %s and cannot be cancelled by the customer", o.ID(), o.Status)
	}
}

// UpdateStatus handles UpdateOrderStatus, walking one legal edge.
func (o *Order) UpdateStatus(cmd UpdateOrderStatus) error {
	if err := o.requireOpen(); err != nil {
		return err
	}
	if !TransitionAllowed(o.Status, cmd.NewStatus) {
		return eventsourcing.NewDomainError("invalid_status_transition",
			"order %s cannot move from %s to %s", o.ID(), o.Status, cmd.NewStatus)
	}

	switch cmd.NewStatus {
	case StatusCancelled:
		return o.recordCancelled(o.Status, cmd.Reason)
	case StatusCompleted:
		return o.Record(EventCompleted, CompletedPayload{
			OrderID: o.ID(),
			Total:   o.Totals.Total,
		})
	case StatusRefunded:
		if !o.PaymentRefunded {
			return eventsourcing.NewDomainError("refund_not_recorded",
				"order %s has no recorded refund", o.ID())
		}
	}

	return o.Record(EventStatusChanged, StatusChangedPayload{
		OrderID: o.ID(),
		From:    o.Status,
		To:      cmd.NewStatus,
		Reason:  cmd.Reason,
	})
}

func (o *Order) recordCancelled(from Status, reason string) error {
	return o.Record(EventCancelled, CancelledPayload{
		OrderID: o.ID(),
		From:    from,
		Reason:  reason,
	})
}

func (o *Order) hasItem(productID string) bool {
	for _, item := range o.Items {
		if item.ProductID == productID {
			return true
		}
	}
	return false
}

func requireDistinctProducts(items []Item) error {
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, dup := seen[item.ProductID]; dup {
			return eventsourcing.NewDomainError("item_exists",
				"product %s appears more than once", item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
	}
	return nil
}

func (o *Order) requireExists() error {
	if o.Version() == 0 {
		return eventsourcing.NewDomainError("not_found", "order %s does not exist", o.ID())
	}
	return nil
}

func (o *Order) requireOpen() error {
	if err := o.requireExists(); err != nil {
		return err
	}
	if o.Status.Terminal() {
		return eventsourcing.NewDomainError("order_closed", "order %s is %s", o.ID(), o.Status)
	}
	return nil
}

func (o *Order) requireStatus(want Status, action string) error {
	if err := o.requireExists(); err != nil {
		return err
	}
	if o.Status != want {
		return eventsourcing.NewDomainError("invalid_order_state",
			"order %s is %s, cannot %s", o.ID(), o.Status, action)
	}
	return nil
}

// ApplyEvent folds a committed event into the aggregate state.
func (o *Order) ApplyEvent(event *eventsourcing.Event) error {
	if err := o.Advance(event); err != nil {
		return err
	}

	switch event.EventType {
	case EventCreated:
		var payload CreatedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		o.UserID = payload.UserID
		o.Items = payload.Items
		o.Totals = payload.Totals
		o.Status = StatusPending

	case EventItemAdded:
		var payload ItemAddedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		o.Items = append(o.Items, payload.Item)
		o.Totals = payload.Totals

	case EventItemRemoved:
		var payload ItemRemovedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		remaining := make([]Item, 0, len(o.Items))
		for _, item := range o.Items {
			if item.ProductID != payload.ProductID {
				remaining = append(remaining, item)
			}
		}
		o.Items = remaining
		o.Totals = payload.Totals

	case EventItemReserved:
		var payload ItemReservedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		if o.Reserved == nil {
			o.Reserved = make(map[string]int64)
		}
		o.Reserved[payload.ProductID] = payload.Quantity
		o.ReservationID = payload.ReservationID

	case EventItemReleased:
		var payload ItemReleasedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		delete(o.Reserved, payload.ProductID)

	case EventPaymentProcessed:
		var payload PaymentProcessedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		o.PaymentID = payload.PaymentID
		o.PaymentAmount = payload.Amount
		o.Status = StatusProcessing

	case EventPaymentFailed:
		o.Status = StatusPaymentFailed

	case EventPaymentRefunded:
		o.PaymentRefunded = true

	case EventShippingArranged:
		var payload ShippingArrangedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		o.ShipmentID = payload.ShipmentID
		o.Carrier = payload.Carrier
		o.Status = StatusShipped

	case EventShipmentCancelled:
		o.ShipmentCancelled = true

	case EventStatusChanged:
		var payload StatusChangedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		o.Status = payload.To

	case EventCompleted:
		o.Status = StatusCompleted

	case EventCancelled:
		var payload CancelledPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		o.Status = StatusCancelled
		o.CancelReason = payload.Reason

	default:
		return eventsourcing.Fatal(fmt.Errorf("unknown order event type %q", event.EventType))
	}

	return nil
}

type snapshotState struct {
	UserID            string           `json:"user_id"`
	Items             []Item           `json:"items"`
	Totals            Totals           `json:"totals"`
	Status            Status           `json:"status"`
	ReservationID     string           `json:"reservation_id,omitempty"`
	Reserved          map[string]int64 `json:"reserved,omitempty"`
	PaymentID         string           `json:"payment_id,omitempty"`
	PaymentAmount     decimal.Decimal  `json:"payment_amount"`
	PaymentRefunded   bool             `json:"payment_refunded,omitempty"`
	ShipmentID        string           `json:"shipment_id,omitempty"`
	Carrier           string           `json:"carrier,omitempty"`
	ShipmentCancelled bool             `json:"shipment_cancelled,omitempty"`
	CancelReason      string           `json:"cancel_reason,omitempty"`
}

// SnapshotState returns the aggregate state for snapshotting.
func (o *Order) SnapshotState() ([]byte, error) {
	return json.Marshal(snapshotState{
		UserID:            o.UserID,
		Items:             o.Items,
		Totals:            o.Totals,
		Status:            o.Status,
		ReservationID:     o.ReservationID,
		Reserved:          o.Reserved,
		PaymentID:         o.PaymentID,
		PaymentAmount:     o.PaymentAmount,
		PaymentRefunded:   o.PaymentRefunded,
		ShipmentID:        o.ShipmentID,
		Carrier:           o.Carrier,
		ShipmentCancelled: o.ShipmentCancelled,
		CancelReason:      o.CancelReason,
	})
}

// RestoreSnapshot rebuilds the aggregate from a snapshot taken at version.
func (o *Order) RestoreSnapshot(version int64, state []byte) error {
	var snap snapshotState
	if err := json.Unmarshal(state, &snap); err != nil {
		return eventsourcing.Fatal(fmt.Errorf("decoding order snapshot: %w", err))
	}
	o.UserID = snap.UserID
	o.Items = snap.Items
	o.Totals = snap.Totals
	o.Status = snap.Status
	o.ReservationID = snap.ReservationID
	o.Reserved = snap.Reserved
	if o.Reserved == nil {
		o.Reserved = make(map[string]int64)
	}
	o.PaymentID = snap.PaymentID
	o.PaymentAmount = snap.PaymentAmount
	o.PaymentRefunded = snap.PaymentRefunded
	o.ShipmentID = snap.ShipmentID
	o.Carrier = snap.Carrier
	o.ShipmentCancelled = snap.ShipmentCancelled
	o.CancelReason = snap.CancelReason
	o.RestoreVersion(version)
	return nil
}
