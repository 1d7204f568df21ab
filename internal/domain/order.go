package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
}

// CanTransitionTo reports whether an order may move from s to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled || s == OrderStatusFailed
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusFailed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

type ShippingInfo struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// OrderItem is a frozen copy of a cart line taken at order creation.
type OrderItem struct {
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name"`
	ProductImage string          `json:"product_image"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Quantity     int             `json:"quantity"`
	Size         string          `json:"size,omitempty"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID               string           `json:"id"`
	Owner            OwnerRef         `json:"owner"`
	Items            []OrderItem      `json:"items"`
	Shipping         ShippingInfo     `json:"shipping"`
	Currency         string           `json:"currency"`
	ExchangeRate     decimal.Decimal  `json:"exchange_rate"`
	// ChargeCurrency is what the payment processor bills in; ChargeRate
	// converts base prices into it and is frozen with the order.
	ChargeCurrency   string           `json:"charge_currency"`
	ChargeRate       decimal.Decimal  `json:"charge_rate"`
	Subtotal         decimal.Decimal  `json:"subtotal"`
	Tax              decimal.Decimal  `json:"tax"`
	ShippingCost     *decimal.Decimal `json:"shipping_cost,omitempty"`
	Total            decimal.Decimal  `json:"total"`
	PaymentStatus    PaymentStatus    `json:"payment_status"`
	OrderStatus      OrderStatus      `json:"order_status"`
	PaymentSessionID string           `json:"payment_session_id,omitempty"`
	PaymentRef       string           `json:"payment_ref,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Clone deep-copies the order.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Items = append([]OrderItem(nil), o.Items...)
	if o.ShippingCost != nil {
		sc := *o.ShippingCost
		cp.ShippingCost = &sc
	}
	return &cp
}
