package product

import (
	"github.com/shopspring/decimal"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// AggregateType is stamped on every event recorded by the product aggregate.
const AggregateType = "Product"

// Event types emitted by the product aggregate.
const (
	EventCreated      = "ProductCreated"
	EventUpdated      = "ProductUpdated"
	EventPriceChanged = "ProductPriceChanged"
	EventDeleted      = "ProductDeleted"
)

// CreatedPayload is the ProductCreated event payload.
type CreatedPayload struct {
	ProductID   string          `json:"product_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	SKU         string          `json:"sku"`
	Price       decimal.Decimal `json:"price"`
	CategoryID  string          `json:"category_id,omitempty"`
}

// UpdatedPayload is the ProductUpdated event payload.
type UpdatedPayload struct {
	ProductID   string `json:"product_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CategoryID  string `json:"category_id,omitempty"`
}

// PriceChangedPayload is the ProductPriceChanged event payload.
type PriceChangedPayload struct {
	ProductID string          `json:"product_id"`
	OldPrice  decimal.Decimal `json:"old_price"`
	NewPrice  decimal.Decimal `json:"new_price"`
}

// DeletedPayload is the ProductDeleted event payload.
type DeletedPayload struct {
	ProductID string `json:"product_id"`
}

// RegisterEvents registers every product event payload with the registry.
func RegisterEvents(registry *eventsourcing.EventRegistry) {
	registry.Register(EventCreated, 1, func() any { return &CreatedPayload{} })
	registry.Register(EventUpdated, 1, func() any { return &UpdatedPayload{} })
	registry.Register(EventPriceChanged, 1, func() any { return &PriceChangedPayload{} })
	registry.Register(EventDeleted, 1, func() any { return &DeletedPayload{} })
}
