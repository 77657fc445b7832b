package product

import (
	"github.com/shopspring/decimal"

	"github.com/corefold/shopstream/pkg/validators"
)

// Command types handled by the product aggregate.
const (
	CommandCreate      = "CreateProduct"
	CommandUpdate      = "UpdateProduct"
	CommandChangePrice = "ChangeProductPrice"
	CommandDelete      = "DeleteProduct"
)

const maxNameLength = 200

// CreateProduct creates a new product in the catalog.
type CreateProduct struct {
	ID          string
	ProductID   string
	Name        string
	Description string
	SKU         string
	Price       decimal.Decimal
	CategoryID  string
}

func (c CreateProduct) CommandID() string   { return c.ID }
func (c CreateProduct) AggregateID() string { return c.ProductID }
func (c CreateProduct) CommandType() string { return CommandCreate }

func (c CreateProduct) Validate() error {
	v := validators.New()
	v.UUID("product_id", c.ProductID)
	v.Require("name", c.Name)
	v.MaxLength("name", c.Name, maxNameLength)
	v.Require("sku", c.SKU)
	v.Positive("price", c.Price)
	v.OptionalUUID("category_id", c.CategoryID)
	return v.Err()
}

// UpdateProduct changes a product's descriptive fields.
type UpdateProduct struct {
	ID          string
	ProductID   string
	Name        string
	Description string
	CategoryID  string
}

func (c UpdateProduct) CommandID() string   { return c.ID }
func (c UpdateProduct) AggregateID() string { return c.ProductID }
func (c UpdateProduct) CommandType() string { return CommandUpdate }

func (c UpdateProduct) Validate() error {
	v := validators.New()
	v.UUID("product_id", c.ProductID)
	v.Require("name", c.Name)
	v.MaxLength("name", c.Name, maxNameLength)
	v.OptionalUUID("category_id", c.CategoryID)
	return v.Err()
}

// ChangeProductPrice sets a new price on a product.
type ChangeProductPrice struct {
	ID        string
	ProductID string
	NewPrice  decimal.Decimal
}

func (c ChangeProductPrice) CommandID() string   { return c.ID }
func (c ChangeProductPrice) AggregateID() string { return c.ProductID }
func (c ChangeProductPrice) CommandType() string { return CommandChangePrice }

func (c ChangeProductPrice) Validate() error {
	v := validators.New()
	v.UUID("product_id", c.ProductID)
	v.Positive("new_price", c.NewPrice)
	return v.Err()
}

// DeleteProduct removes a product from the catalog.
type DeleteProduct struct {
	ID        string
	ProductID string
}

func (c DeleteProduct) CommandID() string   { return c.ID }
func (c DeleteProduct) AggregateID() string { return c.ProductID }
func (c DeleteProduct) CommandType() string { return CommandDelete }

func (c DeleteProduct) Validate() error {
	v := validators.New()
	v.UUID("product_id", c.ProductID)
	return v.Err()
}
