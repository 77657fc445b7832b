package handlers

import (
	"context"
	"fmt"

	"github.com/corefold/shopstream/pkg/domain/category"
	"github.com/corefold/shopstream/pkg/domain/product"
	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// ProductHandler serves the product aggregate's commands.
type ProductHandler struct {
	products   eventsourcing.Repository[*product.Product]
	categories eventsourcing.Repository[*category.Category]
}

// NewProductHandler creates the product command handler. The category
// repository backs the referential check on assignment.
func NewProductHandler(
	products eventsourcing.Repository[*product.Product],
	categories eventsourcing.Repository[*category.Category],
) *ProductHandler {
	return &ProductHandler{products: products, categories: categories}
}

// CommandTypes implements eventsourcing.TypedHandler.
func (h *ProductHandler) CommandTypes() []string {
	return []string{
		product.CommandCreate,
		product.CommandUpdate,
		product.CommandChangePrice,
		product.CommandDelete,
	}
}

// Handle implements eventsourcing.CommandHandler.
func (h *ProductHandler) Handle(ctx context.Context, env *eventsourcing.CommandEnvelope) ([]*eventsourcing.Event, error) {
	p, err := h.products.Load(ctx, env.Command.AggregateID())
	if err != nil {
		return nil, err
	}
	p.SetCommandContext(env.Metadata.CommandID, env.Metadata.EventMetadata())

	switch cmd := env.Command.(type) {
	case product.CreateProduct:
		if err := h.requireCategory(ctx, cmd.CategoryID); err != nil {
			return nil, err
		}
		if err := p.Create(cmd); err != nil {
			return nil, err
		}

	case product.UpdateProduct:
		if err := h.requireCategory(ctx, cmd.CategoryID); err != nil {
			return nil, err
		}
		if err := p.Update(cmd); err != nil {
			return nil, err
		}

	case product.ChangeProductPrice:
		if err := p.ChangePrice(cmd); err != nil {
			return nil, err
		}

	case product.DeleteProduct:
		if err := p.Delete(cmd); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: product handler got %s", eventsourcing.ErrCommandNotFound, env.Command.CommandType())
	}

	return persist(ctx, h.products, p)
}

// requireCategory verifies the referenced category exists and is not deleted.
// An empty ID means uncategorized and always passes.
func (h *ProductHandler) requireCategory(ctx context.Context, categoryID string) error {
	if categoryID == "" {
		return nil
	}
	cat, err := h.categories.Load(ctx, categoryID)
	if err != nil {
		return err
	}
	if cat.Version() == 0 || cat.Deleted {
		return eventsourcing.NewDomainError("category_not_found", "category %s does not exist", categoryID)
	}
	return nil
}
