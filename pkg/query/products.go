package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product is the product read model row.
type Product struct {
	ProductID   string
	Name        string
	Description string
	SKU         string
	Price       decimal.Decimal
	CategoryID  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProductFilter narrows a product listing. Zero fields do not filter.
type ProductFilter struct {
	// CategoryID matches exactly.
	CategoryID string
	// Name matches as a case-insensitive substring.
	Name string
}

// Price sorts numerically even though the column stores decimal text.
var productSortFields = map[string]string{
	"name":       "name",
	"sku":        "sku",
	"price":      "CAST(price AS REAL)",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

const productColumns = `product_id, name, description, sku, price, category_id, created_at, updated_at`

// GetProduct returns one product by id.
func (s *Service) GetProduct(ctx context.Context, productID string) (*Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM product_view WHERE product_id = ?`, productID)
	product, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading product %s: %w", productID, err)
	}
	return product, nil
}

// ListProducts returns one page of products matching the filter. The default
// order is name ascending.
func (s *Service) ListProducts(ctx context.Context, filter ProductFilter, page Page, sortBy Sort) (*Result[Product], error) {
	page = page.normalize()
	orderBy, err := sortBy.orderBy(productSortFields, "name ASC")
	if err != nil {
		return nil, err
	}

	var clauses []string
	var args []any
	if filter.CategoryID != "" {
		clauses = append(clauses, "category_id = ?")
		args = append(args, filter.CategoryID)
	}
	if filter.Name != "" {
		// instr instead of LIKE: filter text must never act as a pattern.
		clauses = append(clauses, "instr(lower(name), lower(?)) > 0")
		args = append(args, filter.Name)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM product_view`+where, args...,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting products: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM product_view`+where+
			` ORDER BY `+orderBy+`, product_id LIMIT ? OFFSET ?`,
		append(args, page.Size, page.offset())...,
	)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	defer rows.Close()

	result := &Result[Product]{Total: total, Page: page.Number, PageSize: page.Size}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("listing products: %w", err)
		}
		result.Items = append(result.Items, *product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return result, nil
}

func scanProduct(row rowScanner) (*Product, error) {
	var (
		product          Product
		price            string
		created, updated int64
	)
	if err := row.Scan(
		&product.ProductID, &product.Name, &product.Description, &product.SKU,
		&price, &product.CategoryID, &created, &updated,
	); err != nil {
		return nil, err
	}
	var err error
	if product.Price, err = parseMoney("price", price); err != nil {
		return nil, err
	}
	product.CreatedAt = unixTime(created)
	product.UpdatedAt = unixTime(updated)
	return &product, nil
}
