package repository

import (
	"context"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCartBackend_IsolatesCopies(t *testing.T) {
	backend := NewMemoryCartBackend()
	ctx := context.Background()

	cart := sessionCart("s1")
	require.NoError(t, backend.Save(ctx, cart))

	cart.Items[0].Quantity = 99
	loaded, err := backend.Load(ctx, cart.Owner)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Items[0].Quantity)

	loaded.Items[0].Quantity = 50
	again, err := backend.Load(ctx, cart.Owner)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Items[0].Quantity)
}

func TestMemoryCartBackend_OwnerKinds(t *testing.T) {
	ctx := context.Background()

	accounts := NewMemoryAccountBackend()
	assert.ErrorIs(t, accounts.Save(ctx, sessionCart("s")), ErrWrongOwnerKind)
	assert.NoError(t, accounts.Save(ctx, accountCart("a")))

	sessions := NewMemorySessionBackend()
	assert.ErrorIs(t, sessions.Save(ctx, accountCart("a")), ErrWrongOwnerKind)

	// same bare id, different owner kinds
	both := NewMemoryCartBackend()
	require.NoError(t, both.Save(ctx, sessionCart("x")))
	require.NoError(t, both.Save(ctx, accountCart("x")))
	s, err := both.Load(ctx, domain.SessionOwner("x"))
	require.NoError(t, err)
	assert.Equal(t, "mug", s.Items[0].ProductID)
}

func TestMemoryCartBackend_Delete(t *testing.T) {
	backend := NewMemoryCartBackend()
	ctx := context.Background()

	assert.ErrorIs(t, backend.Delete(ctx, domain.SessionOwner("none")), ErrCartNotFound)
	require.NoError(t, backend.Save(ctx, sessionCart("s")))
	require.NoError(t, backend.Delete(ctx, domain.SessionOwner("s")))
	_, err := backend.Load(ctx, domain.SessionOwner("s"))
	assert.ErrorIs(t, err, ErrCartNotFound)
}

func memoryOrder(id, account string) *domain.Order {
	return &domain.Order{
		ID:            id,
		Owner:         domain.AccountOwner(account),
		Items:         []domain.OrderItem{{ProductID: "p", Quantity: 1, UnitPrice: decimal.NewFromInt(10)}},
		Currency:      "USD",
		ExchangeRate:  decimal.NewFromInt(1),
		Subtotal:      decimal.NewFromInt(10),
		Total:         decimal.NewFromInt(10),
		PaymentStatus: domain.PaymentStatusPending,
		OrderStatus:   domain.OrderStatusPending,
	}
}

func TestMemoryOrderRepository_Lifecycle(t *testing.T) {
	repo := NewMemoryOrderRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateOrder(ctx, memoryOrder("o1", "acct")))
	assert.ErrorIs(t, repo.CreateOrder(ctx, memoryOrder("o1", "acct")), ErrDuplicateOrder)

	require.NoError(t, repo.AttachPaymentSession(ctx, "o1", "o1"))
	require.NoError(t, repo.SettlePayment(ctx, "o1", domain.PaymentStatusPaid, domain.OrderStatusConfirmed, "tx-1"))
	assert.ErrorIs(t, repo.SettlePayment(ctx, "o1", domain.PaymentStatusFailed, domain.OrderStatusFailed, ""), ErrPaymentSettled)

	assert.ErrorIs(t, repo.UpdateOrderStatus(ctx, "o1", domain.OrderStatusPending, domain.OrderStatusCancelled), ErrStatusConflict)
	require.NoError(t, repo.UpdateOrderStatus(ctx, "o1", domain.OrderStatusConfirmed, domain.OrderStatusProcessing))

	got, err := repo.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, got.PaymentStatus)
	assert.Equal(t, domain.OrderStatusProcessing, got.OrderStatus)
	assert.Equal(t, "tx-1", got.PaymentRef)

	_, err = repo.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestMemoryOrderRepository_SettleKeepsCancelled(t *testing.T) {
	repo := NewMemoryOrderRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateOrder(ctx, memoryOrder("o1", "acct")))
	require.NoError(t, repo.UpdateOrderStatus(ctx, "o1", domain.OrderStatusPending, domain.OrderStatusCancelled))
	require.NoError(t, repo.SettlePayment(ctx, "o1", domain.PaymentStatusPaid, domain.OrderStatusConfirmed, "tx-1"))

	got, err := repo.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.OrderStatus)
	assert.Equal(t, domain.PaymentStatusPaid, got.PaymentStatus)
	assert.Equal(t, "tx-1", got.PaymentRef)
}

func TestMemoryOrderRepository_ListNewestFirst(t *testing.T) {
	repo := NewMemoryOrderRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateOrder(ctx, memoryOrder("old", "acct")))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, repo.CreateOrder(ctx, memoryOrder("new", "acct")))
	require.NoError(t, repo.CreateOrder(ctx, memoryOrder("other", "someone-else")))

	orders, err := repo.ListOrdersByAccount(ctx, "acct")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "new", orders[0].ID)
	assert.Equal(t, "old", orders[1].ID)
}
