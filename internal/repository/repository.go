package repository

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

var (
	ErrCartNotFound   = errors.New("cart not found")
	ErrOrderNotFound  = errors.New("order not found")
	ErrDuplicateOrder = errors.New("order already exists")
	ErrStatusConflict = errors.New("order status changed concurrently")
	ErrPaymentSettled = errors.New("order payment already settled")
	ErrWrongOwnerKind = errors.New("backend does not store carts for this owner kind")
)

// CartBackend persists whole carts for one kind of owner. Consumers pick the
// backend by owner kind; the service never branches on authentication itself.
type CartBackend interface {
	Load(ctx context.Context, owner domain.OwnerRef) (*domain.Cart, error)
	Save(ctx context.Context, cart *domain.Cart) error
	// Delete returns ErrCartNotFound when there is nothing to delete.
	Delete(ctx context.Context, owner domain.OwnerRef) error
}

type OrderRepository interface {
	// CreateOrder writes the order and all its items, or nothing.
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrdersByAccount(ctx context.Context, accountID string) ([]*domain.Order, error)
	// AttachPaymentSession records the processor's session id while payment is pending.
	AttachPaymentSession(ctx context.Context, id, sessionID string) error
	// SettlePayment moves a pending payment to its outcome. The order status
	// follows only while the order is still pending, so a payment landing on a
	// cancelled order is recorded without reviving it. It returns
	// ErrPaymentSettled when the payment had already left pending.
	SettlePayment(ctx context.Context, id string, payment domain.PaymentStatus, status domain.OrderStatus, ref string) error
	// UpdateOrderStatus applies from -> to, or ErrStatusConflict if the order is no longer in from.
	UpdateOrderStatus(ctx context.Context, id string, from, to domain.OrderStatus) error
}
