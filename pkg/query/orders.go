package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// Order is the order read model row. Items are loaded by GetOrder only;
// listings carry the item count.
type Order struct {
	OrderID    string
	UserID     string
	Status     string
	ItemCount  int
	Items      []OrderItem
	Subtotal   decimal.Decimal
	Tax        decimal.Decimal
	Shipping   decimal.Decimal
	Total      decimal.Decimal
	PaymentID  string
	ShipmentID string
	Carrier    string
	Refunded   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderItem is one line of an order read model row.
type OrderItem struct {
	ProductID string
	Name      string
	Quantity  int64
	UnitPrice decimal.Decimal
}

// OrderFilter narrows an order listing. Zero fields do not filter.
type OrderFilter struct {
	UserID string
	Status string
}

var orderSortFields = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"total":      "CAST(total AS REAL)",
	"status":     "status",
}

const orderColumns = `order_id, user_id, status, item_count, subtotal, tax, shipping, total,
	payment_id, shipment_id, carrier, refunded, created_at, updated_at`

// GetOrder returns one order with its items.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM order_view WHERE order_id = ?`, orderID)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading order %s: %w", orderID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT product_id, name, quantity, unit_price FROM order_view_items
		 WHERE order_id = ? ORDER BY product_id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("loading order %s items: %w", orderID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var item OrderItem
		var unitPrice string
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Quantity, &unitPrice); err != nil {
			return nil, fmt.Errorf("loading order %s items: %w", orderID, err)
		}
		if item.UnitPrice, err = parseMoney("unit_price", unitPrice); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading order %s items: %w", orderID, err)
	}
	return order, nil
}

// ListOrders returns one page of orders matching the filter, most recent
// first by default.
func (s *Service) ListOrders(ctx context.Context, filter OrderFilter, page Page, sortBy Sort) (*Result[Order], error) {
	page = page.normalize()
	orderBy, err := sortBy.orderBy(orderSortFields, "created_at DESC")
	if err != nil {
		return nil, err
	}

	var clauses []string
	var args []any
	if filter.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM order_view`+where, args...,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting orders: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM order_view`+where+
			` ORDER BY `+orderBy+`, order_id LIMIT ? OFFSET ?`,
		append(args, page.Size, page.offset())...,
	)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	result := &Result[Order]{Total: total, Page: page.Number, PageSize: page.Size}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("listing orders: %w", err)
		}
		result.Items = append(result.Items, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return result, nil
}

// StatsPeriod is the bucket granularity for order statistics.
type StatsPeriod string

// Supported stats granularities.
const (
	StatsDaily   StatsPeriod = "day"
	StatsWeekly  StatsPeriod = "week"
	StatsMonthly StatsPeriod = "month"
)

// strftime formats per granularity; the bucket labels sort chronologically.
var statsFormats = map[StatsPeriod]string{
	StatsDaily:   "%Y-%m-%d",
	StatsWeekly:  "%Y-W%W",
	StatsMonthly: "%Y-%m",
}

// StatsOptions shapes an OrderStats aggregation.
type StatsOptions struct {
	// Period is the bucket granularity. Required.
	Period StatsPeriod
	// From and To bound order creation time as a half-open window; zero
	// values leave the window open on that side.
	From time.Time
	To   time.Time
	// GroupByStatus splits each bucket per order status.
	GroupByStatus bool
}

// StatsBucket is one row of an order statistics report.
type StatsBucket struct {
	Period  string
	Status  string
	Orders  int64
	Revenue decimal.Decimal
}

// OrderStats aggregates order counts and revenue into period buckets,
// chronologically ordered. Revenue sums order totals as written, cancelled
// orders included; group by status to separate them. Totals are folded in
// the exact decimal domain rather than summed in SQL.
func (s *Service) OrderStats(ctx context.Context, opts StatsOptions) ([]StatsBucket, error) {
	format, ok := statsFormats[opts.Period]
	if !ok {
		return nil, eventsourcing.NewValidationError("period", fmt.Sprintf("unknown stats period %q", opts.Period))
	}

	clauses := []string{}
	args := []any{format}
	if !opts.From.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, opts.From.Unix())
	}
	if !opts.To.IsZero() {
		clauses = append(clauses, "created_at < ?")
		args = append(args, opts.To.Unix())
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT strftime(?, created_at, 'unixepoch'), status, total FROM order_view`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("reading order stats: %w", err)
	}
	defer rows.Close()

	type bucketKey struct {
		period string
		status string
	}
	buckets := make(map[bucketKey]*StatsBucket)
	for rows.Next() {
		var period, status, total string
		if err := rows.Scan(&period, &status, &total); err != nil {
			return nil, fmt.Errorf("reading order stats: %w", err)
		}
		revenue, err := parseMoney("total", total)
		if err != nil {
			return nil, err
		}
		key := bucketKey{period: period}
		if opts.GroupByStatus {
			key.status = status
		}
		bucket, ok := buckets[key]
		if !ok {
			bucket = &StatsBucket{Period: key.period, Status: key.status}
			buckets[key] = bucket
		}
		bucket.Orders++
		bucket.Revenue = bucket.Revenue.Add(revenue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading order stats: %w", err)
	}

	report := make([]StatsBucket, 0, len(buckets))
	for _, bucket := range buckets {
		report = append(report, *bucket)
	}
	sort.Slice(report, func(i, j int) bool {
		if report[i].Period != report[j].Period {
			return report[i].Period < report[j].Period
		}
		return report[i].Status < report[j].Status
	})
	return report, nil
}

func scanOrder(row rowScanner) (*Order, error) {
	var (
		order                          Order
		subtotal, tax, shipping, total string
		refunded                       int
		created, updated               int64
	)
	if err := row.Scan(
		&order.OrderID, &order.UserID, &order.Status, &order.ItemCount,
		&subtotal, &tax, &shipping, &total,
		&order.PaymentID, &order.ShipmentID, &order.Carrier, &refunded,
		&created, &updated,
	); err != nil {
		return nil, err
	}
	var err error
	if order.Subtotal, err = parseMoney("subtotal", subtotal); err != nil {
		return nil, err
	}
	if order.Tax, err = parseMoney("tax", tax); err != nil {
		return nil, err
	}
	if order.Shipping, err = parseMoney("shipping", shipping); err != nil {
		return nil, err
	}
	if order.Total, err = parseMoney("total", total); err != nil {
		return nil, err
	}
	order.Refunded = refunded != 0
	order.CreatedAt = unixTime(created)
	order.UpdatedAt = unixTime(updated)
	return &order, nil
}
