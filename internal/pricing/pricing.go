// Package pricing computes cart and order totals. It is pure: no I/O, no
// clock, no randomness. The same engine runs when quoting a cart and when
// re-verifying an order total before charging, so a tampered client-side
// total is never honored.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidLineItem = errors.New("invalid line item")
	ErrEmptyCart       = errors.New("cart is empty")
)

type LineItem struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

type Policy struct {
	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	ShippingFee           decimal.Decimal
}

// Compute derives totals for a checkout-time line-item list. All money values
// are rounded half-up to 2 decimal places at each computation boundary; tax is
// taken from the rounded subtotal, not accumulated per line.
func Compute(items []LineItem, discount decimal.Decimal, p Policy) (Totals, error) {
	if len(items) == 0 {
		return Totals{}, ErrEmptyCart
	}
	if discount.IsNegative() {
		return Totals{}, ErrInvalidLineItem
	}

	subtotal := decimal.Zero
	for _, it := range items {
		if it.Quantity <= 0 || it.UnitPrice.IsNegative() {
			return Totals{}, ErrInvalidLineItem
		}
		subtotal = subtotal.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	subtotal = subtotal.Round(2)

	tax := subtotal.Mul(p.TaxRate).Round(2)

	shipping := decimal.Zero
	if subtotal.LessThan(p.FreeShippingThreshold) {
		shipping = p.ShippingFee.Round(2)
	}

	total := subtotal.Add(tax).Add(shipping).Sub(discount.Round(2))

	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Discount: discount.Round(2),
		Total:    total,
	}, nil
}

// LineTotal is the rounded extended price of a single line.
func LineTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
}
