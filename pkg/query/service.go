// Package query serves the read side: lookups, filtered listings, and
// aggregations over the tables the projections maintain. It never touches the
// event store; every answer is consistent as of the owning projection's
// checkpoint.
package query

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// ErrNotFound is returned by the get-by-id accessors when no row exists.
var ErrNotFound = errors.New("not found")

// Pagination bounds. Requests above the cap are clamped, not rejected.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Service answers queries against the read-model database. It only ever
// reads; the projection engine owns every table it touches.
type Service struct {
	db *sql.DB
}

// NewService creates a query service over the read-model database.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Page selects one page of a listing. The zero value means the first page at
// the default size.
type Page struct {
	Number int
	Size   int
}

func (p Page) normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

func (p Page) offset() int {
	return (p.Number - 1) * p.Size
}

// Sort orders a listing by one whitelisted field. The zero value uses the
// listing's default order.
type Sort struct {
	Field string
	Desc  bool
}

// orderBy resolves the sort against a listing's whitelist. Unknown fields are
// a validation error, never interpolated.
func (s Sort) orderBy(fields map[string]string, fallback string) (string, error) {
	if s.Field == "" {
		return fallback, nil
	}
	expr, ok := fields[s.Field]
	if !ok {
		return "", eventsourcing.NewValidationError("sort", fmt.Sprintf("unknown sort field %q", s.Field))
	}
	if s.Desc {
		return expr + " DESC", nil
	}
	return expr + " ASC", nil
}

// Result is one page of a listing plus the unpaged total.
type Result[T any] struct {
	Items    []T
	Total    int64
	Page     int
	PageSize int
}

type rowScanner interface {
	Scan(dest ...any) error
}

// parseMoney decodes a TEXT money column written by the projections.
func parseMoney(column, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parsing %s %q: %w", column, value, err)
	}
	return d, nil
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
