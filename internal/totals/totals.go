package totals

import (
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

// Summary holds money figures derived from a set of line items.
type Summary struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

type Calculator struct {
	taxRate decimal.Decimal
}

func NewCalculator(taxRate decimal.Decimal) Calculator {
	if taxRate.IsNegative() {
		taxRate = decimal.Zero
	}
	return Calculator{taxRate: taxRate}
}

func (c Calculator) TaxRate() decimal.Decimal {
	return c.taxRate
}

// Recompute returns a copy of cart with every derived figure rebuilt from its items.
// The cart's Discount is treated as an external input.
func (c Calculator) Recompute(cart domain.Cart) domain.Cart {
	s := c.summarize(lineTotals(cart.Items), cart.Discount)
	cart.Subtotal = s.Subtotal
	cart.Tax = s.Tax
	cart.Shipping = s.Shipping
	cart.Discount = s.Discount
	cart.Total = s.Total
	return cart
}

// Summarize computes totals over frozen order items, without discount or shipping.
func (c Calculator) Summarize(items []domain.OrderItem) Summary {
	lines := make([]decimal.Decimal, len(items))
	for i, item := range items {
		lines[i] = item.LineTotal()
	}
	return c.summarize(lines, decimal.Zero)
}

func (c Calculator) summarize(lines []decimal.Decimal, discount decimal.Decimal) Summary {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l)
	}
	tax := subtotal.Mul(c.taxRate).Round(2)
	// shipping is quoted by the external shipping step, never estimated here
	shipping := decimal.Zero

	gross := subtotal.Add(tax).Add(shipping)
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(gross) {
		discount = gross
	}

	return Summary{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Discount: discount,
		Total:    gross.Sub(discount),
	}
}

func lineTotals(items []domain.CartItem) []decimal.Decimal {
	lines := make([]decimal.Decimal, len(items))
	for i, item := range items {
		lines[i] = item.LineTotal()
	}
	return lines
}
