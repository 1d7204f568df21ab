package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestOrderStatus_Transitions(t *testing.T) {
	allowed := map[OrderStatus][]OrderStatus{
		OrderStatusPending:    {OrderStatusConfirmed, OrderStatusFailed, OrderStatusCancelled},
		OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
		OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
		OrderStatusShipped:    {OrderStatusDelivered},
	}
	all := []OrderStatus{OrderStatusPending, OrderStatusConfirmed, OrderStatusFailed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestOrderStatus_Terminal(t *testing.T) {
	for _, s := range []OrderStatus{OrderStatusDelivered, OrderStatusCancelled, OrderStatusFailed} {
		assert.True(t, s.IsTerminal(), s)
		assert.Empty(t, orderTransitions[s])
	}
	assert.False(t, OrderStatusShipped.IsTerminal())
	assert.False(t, OrderStatus("lost").Valid())
}

func TestOrder_Clone(t *testing.T) {
	cost := decimal.NewFromInt(5)
	o := &Order{ID: "o", Items: []OrderItem{{ProductID: "p", Quantity: 1}}, ShippingCost: &cost}

	cp := o.Clone()
	cp.Items[0].Quantity = 9
	*cp.ShippingCost = decimal.NewFromInt(7)

	assert.Equal(t, 1, o.Items[0].Quantity)
	assert.True(t, o.ShippingCost.Equal(decimal.NewFromInt(5)))
}

func TestProduct_VariantFor(t *testing.T) {
	p := Product{ID: "tee", SizePrices: []SizePrice{{Size: "L", Price: decimal.NewFromInt(21)}}}

	v, ok := p.VariantFor("L")
	assert.True(t, ok)
	assert.True(t, v.Price.Equal(decimal.NewFromInt(21)))

	_, ok = p.VariantFor("XL")
	assert.False(t, ok)
}
