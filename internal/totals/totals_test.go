package totals

import (
	"testing"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRecompute_ConcreteScenario(t *testing.T) {
	calc := NewCalculator(dec("0.05"))
	cart := domain.Cart{
		Items: []domain.CartItem{
			{ID: "a", ProductID: "A", UnitPrice: dec("19.00"), Quantity: 1},
			{ID: "b", ProductID: "B", UnitPrice: dec("35.00"), Quantity: 2},
		},
	}

	got := calc.Recompute(cart)

	assert.True(t, dec("89.00").Equal(got.Subtotal), "subtotal %s", got.Subtotal)
	assert.True(t, dec("4.45").Equal(got.Tax), "tax %s", got.Tax)
	assert.True(t, got.Shipping.IsZero())
	assert.True(t, got.Discount.IsZero())
	assert.True(t, dec("93.45").Equal(got.Total), "total %s", got.Total)
}

func TestRecompute_EmptyCartIsZero(t *testing.T) {
	got := NewCalculator(dec("0.05")).Recompute(domain.Cart{Items: []domain.CartItem{}})
	assert.True(t, got.Subtotal.IsZero())
	assert.True(t, got.Total.IsZero())
}

func TestRecompute_DoesNotMutateInput(t *testing.T) {
	cart := domain.Cart{Items: []domain.CartItem{{UnitPrice: dec("10"), Quantity: 1}}}
	_ = NewCalculator(dec("0.1")).Recompute(cart)
	assert.True(t, cart.Total.IsZero())
}

func TestRecompute_DiscountClampedSoTotalNeverNegative(t *testing.T) {
	calc := NewCalculator(dec("0.10"))
	cart := domain.Cart{
		Items:    []domain.CartItem{{UnitPrice: dec("10.00"), Quantity: 1}},
		Discount: dec("50.00"),
	}

	got := calc.Recompute(cart)

	assert.True(t, got.Total.IsZero())
	assert.True(t, got.Subtotal.Add(got.Tax).Add(got.Shipping).Sub(got.Discount).Equal(got.Total))
}

func TestRecompute_InvariantHoldsAcrossSequence(t *testing.T) {
	calc := NewCalculator(dec("0.0725"))
	cart := domain.Cart{Items: []domain.CartItem{}, Discount: dec("3.10")}
	prices := []string{"0.99", "12.49", "7.00", "199.95", "3.33"}

	check := func(c domain.Cart) {
		require.True(t, c.Subtotal.Add(c.Tax).Add(c.Shipping).Sub(c.Discount).Equal(c.Total))
		require.False(t, c.Total.IsNegative())
	}

	for i, p := range prices {
		cart.Items = append(cart.Items, domain.CartItem{UnitPrice: dec(p), Quantity: i + 1})
		cart = calc.Recompute(cart)
		check(cart)
	}
	for len(cart.Items) > 0 {
		cart.Items = cart.Items[1:]
		cart = calc.Recompute(cart)
		check(cart)
	}
}

func TestSummarize_OrderItems(t *testing.T) {
	calc := NewCalculator(dec("0.05"))
	s := calc.Summarize([]domain.OrderItem{
		{UnitPrice: dec("35.00"), Quantity: 2},
	})
	assert.True(t, dec("70.00").Equal(s.Subtotal))
	assert.True(t, dec("3.50").Equal(s.Tax))
	assert.True(t, dec("73.50").Equal(s.Total))
}

func TestNewCalculator_NegativeRateIsZero(t *testing.T) {
	assert.True(t, NewCalculator(dec("-0.2")).TaxRate().IsZero())
}
