package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

// MemoryCartBackend keeps carts in process memory. It accepts either owner
// kind unless restricted with an expected kind, which lets it stand in for the
// Mongo or Redis backend.
type MemoryCartBackend struct {
	mu        sync.RWMutex
	carts     map[string]*domain.Cart // owner key -> cart
	anonymous *bool
}

func NewMemoryCartBackend() *MemoryCartBackend {
	return &MemoryCartBackend{carts: make(map[string]*domain.Cart)}
}

// NewMemoryAccountBackend only stores account carts.
func NewMemoryAccountBackend() *MemoryCartBackend {
	b := NewMemoryCartBackend()
	anon := false
	b.anonymous = &anon
	return b
}

// NewMemorySessionBackend only stores anonymous session carts.
func NewMemorySessionBackend() *MemoryCartBackend {
	b := NewMemoryCartBackend()
	anon := true
	b.anonymous = &anon
	return b
}

func (m *MemoryCartBackend) accepts(owner domain.OwnerRef) bool {
	return m.anonymous == nil || *m.anonymous == owner.IsAnonymous()
}

func (m *MemoryCartBackend) Load(_ context.Context, owner domain.OwnerRef) (*domain.Cart, error) {
	if !m.accepts(owner) {
		return nil, ErrWrongOwnerKind
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	cart, ok := m.carts[owner.Key()]
	if !ok {
		return nil, ErrCartNotFound
	}
	return cart.Clone(), nil
}

func (m *MemoryCartBackend) Save(_ context.Context, cart *domain.Cart) error {
	if !m.accepts(cart.Owner) {
		return ErrWrongOwnerKind
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := cart.Clone()
	if existing, ok := m.carts[cart.Owner.Key()]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	stored.UpdatedAt = time.Now()
	m.carts[cart.Owner.Key()] = stored
	return nil
}

func (m *MemoryCartBackend) Delete(_ context.Context, owner domain.OwnerRef) error {
	if !m.accepts(owner) {
		return ErrWrongOwnerKind
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.carts[owner.Key()]; !ok {
		return ErrCartNotFound
	}
	delete(m.carts, owner.Key())
	return nil
}

// MemoryOrderRepository is an OrderRepository for development and tests.
type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[string]*domain.Order)}
}

func (m *MemoryOrderRepository) CreateOrder(_ context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[order.ID]; ok {
		return ErrDuplicateOrder
	}
	stored := order.Clone()
	now := time.Now()
	stored.CreatedAt, stored.UpdatedAt = now, now
	m.orders[order.ID] = stored
	return nil
}

func (m *MemoryOrderRepository) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (m *MemoryOrderRepository) ListOrdersByAccount(_ context.Context, accountID string) ([]*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var orders []*domain.Order
	for _, o := range m.orders {
		if o.Owner.AccountID == accountID {
			orders = append(orders, o.Clone())
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

func (m *MemoryOrderRepository) AttachPaymentSession(_ context.Context, id, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		return ErrPaymentSettled
	}
	order.PaymentSessionID = sessionID
	order.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryOrderRepository) SettlePayment(_ context.Context, id string, payment domain.PaymentStatus, status domain.OrderStatus, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		return ErrPaymentSettled
	}
	order.PaymentStatus = payment
	if order.OrderStatus == domain.OrderStatusPending {
		order.OrderStatus = status
	}
	order.PaymentRef = ref
	order.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryOrderRepository) UpdateOrderStatus(_ context.Context, id string, from, to domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if order.OrderStatus != from {
		return ErrStatusConflict
	}
	order.OrderStatus = to
	order.UpdatedAt = time.Now()
	return nil
}
