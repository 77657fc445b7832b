// Package product implements the write-side product aggregate.
//
// Products move through {absent, active, deleted}. Deletion is terminal;
// every command against a deleted product fails with a domain error.
package product

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// Product is the event-sourced product aggregate.
type Product struct {
	eventsourcing.AggregateRoot

	Name        string
	Description string
	SKU         string
	Price       decimal.Decimal
	CategoryID  string
	Deleted     bool
}

// New returns an empty product aggregate at version 0.
func New(id string) *Product {
	p := &Product{AggregateRoot: eventsourcing.NewAggregateRoot(id, AggregateType)}
	p.Bind(p)
	return p
}

// Create handles CreateProduct. The product must not exist yet.
func (p *Product) Create(cmd CreateProduct) error {
	if p.Version() > 0 {
		return eventsourcing.NewDomainError("already_exists", "product %s already exists", p.ID())
	}
	return p.Record(EventCreated, CreatedPayload{
		ProductID:   p.ID(),
		Name:        cmd.Name,
		Description: cmd.Description,
		SKU:         cmd.SKU,
		Price:       cmd.Price,
		CategoryID:  cmd.CategoryID,
	})
}

// Update handles UpdateProduct, replacing the descriptive fields.
func (p *Product) Update(cmd UpdateProduct) error {
	if err := p.requireActive(); err != nil {
		return err
	}
	return p.Record(EventUpdated, UpdatedPayload{
		ProductID:   p.ID(),
		Name:        cmd.Name,
		Description: cmd.Description,
		CategoryID:  cmd.CategoryID,
	})
}

// ChangePrice handles ChangeProductPrice. Setting the current price again
// records nothing and leaves the version unchanged.
func (p *Product) ChangePrice(cmd ChangeProductPrice) error {
	if err := p.requireActive(); err != nil {
		return err
	}
	if cmd.NewPrice.Equal(p.Price) {
		return nil
	}
	return p.Record(EventPriceChanged, PriceChangedPayload{
		ProductID: p.ID(),
		OldPrice:  p.Price,
		NewPrice:  cmd.NewPrice,
	})
}

// Delete handles DeleteProduct, tombstoning the product.
func (p *Product) Delete(cmd DeleteProduct) error {
	if err := p.requireActive(); err != nil {
		return err
	}
	return p.Record(EventDeleted, DeletedPayload{ProductID: p.ID()})
}

func (p *Product) requireActive() error {
	if p.Version() == 0 {
		return eventsourcing.NewDomainError("not_found", "product %s does not exist", p.ID())
	}
	if p.Deleted {
		return eventsourcing.NewDomainError("product_deleted", "product %s is deleted", p.ID())
	}
	return nil
}

// ApplyEvent folds a committed event into the aggregate state.
func (p *Product) ApplyEvent(event *eventsourcing.Event) error {
	if err := p.Advance(event); err != nil {
		return err
	}

	switch event.EventType {
	case EventCreated:
		var payload CreatedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		p.Name = payload.Name
		p.Description = payload.Description
		p.SKU = payload.SKU
		p.Price = payload.Price
		p.CategoryID = payload.CategoryID

	case EventUpdated:
		var payload UpdatedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		p.Name = payload.Name
		p.Description = payload.Description
		p.CategoryID = payload.CategoryID

	case EventPriceChanged:
		var payload PriceChangedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return eventsourcing.Fatal(err)
		}
		p.Price = payload.NewPrice

	case EventDeleted:
		p.Deleted = true

	default:
		return eventsourcing.Fatal(fmt.Errorf("unknown product event type %q", event.EventType))
	}

	return nil
}

type snapshotState struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	SKU         string          `json:"sku"`
	Price       decimal.Decimal `json:"price"`
	CategoryID  string          `json:"category_id,omitempty"`
	Deleted     bool            `json:"deleted,omitempty"`
}

// SnapshotState returns the aggregate state for snapshotting.
func (p *Product) SnapshotState() ([]byte, error) {
	return json.Marshal(snapshotState{
		Name:        p.Name,
		Description: p.Description,
		SKU:         p.SKU,
		Price:       p.Price,
		CategoryID:  p.CategoryID,
		Deleted:     p.Deleted,
	})
}

// RestoreSnapshot rebuilds the aggregate from a snapshot taken at version.
func (p *Product) RestoreSnapshot(version int64, state []byte) error {
	var snap snapshotState
	if err := json.Unmarshal(state, &snap); err != nil {
		return eventsourcing.Fatal(fmt.Errorf("decoding product snapshot: %w", err))
	}
	p.Name = snap.Name
	p.Description = snap.Description
	p.SKU = snap.SKU
	p.Price = snap.Price
	p.CategoryID = snap.CategoryID
	p.Deleted = snap.Deleted
	p.RestoreVersion(version)
	return nil
}
