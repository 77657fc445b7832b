package order

import "github.com/shopspring/decimal"

// Item is one order line.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name,omitempty"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Totals is the money summary of an order. Amounts are minor units.
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
}

var (
	taxRate               = decimal.NewFromFloat(0.10)
	shippingFee           = decimal.NewFromInt(500)
	freeShippingThreshold = decimal.NewFromInt(5000)
)

// ComputeTotals prices an item set. Tax is 10% of the subtotal; orders with
// a subtotal under the free-shipping threshold pay a flat shipping fee.
func ComputeTotals(items []Item) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity)))
	}

	tax := subtotal.Mul(taxRate)
	shipping := decimal.Zero
	if subtotal.Sign() > 0 && subtotal.LessThan(freeShippingThreshold) {
		shipping = shippingFee
	}

	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Total:    subtotal.Add(tax).Add(shipping),
	}
}
