package repository

import (
	"context"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestPostgres(t *testing.T) (*PostgresOrderRepository, func()) {
	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Host:     host,
		Port:     port.Int(),
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
	}

	repo, err := NewPostgresOrderRepository(ctx, creds)
	require.NoError(t, err)

	require.NoError(t, repo.RunMigrations())

	cleanup := func() {
		repo.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return repo, cleanup
}

func newTestOrder(accountID string) *domain.Order {
	return &domain.Order{
		ID:    uuid.NewString(),
		Owner: domain.AccountOwner(accountID),
		Items: []domain.OrderItem{
			{ProductID: "tee", ProductName: "Tee", UnitPrice: decimal.RequireFromString("19.50"), Quantity: 2, Size: "M"},
			{ProductID: "mug", ProductName: "Mug", UnitPrice: decimal.RequireFromString("50.00"), Quantity: 1},
		},
		Shipping: domain.ShippingInfo{
			Name: "Ada", Phone: "+1 555 0100", Address: "1 Loop Rd", City: "Springfield", PostalCode: "12345", Country: "US",
		},
		Currency:       "EUR",
		ExchangeRate:   decimal.RequireFromString("0.92"),
		ChargeCurrency: "IDR",
		ChargeRate:     decimal.RequireFromString("15650"),
		Subtotal:       decimal.RequireFromString("89.00"),
		Tax:            decimal.RequireFromString("4.45"),
		Total:          decimal.RequireFromString("93.45"),
		PaymentStatus:  domain.PaymentStatusPending,
		OrderStatus:    domain.OrderStatusPending,
	}
}

func TestCreateOrder_Success(t *testing.T) {
	repo, cleanup := setupTestPostgres(t)
	defer cleanup()
	ctx := context.Background()

	order := newTestOrder("user-123")
	require.NoError(t, repo.CreateOrder(ctx, order))

	fetched, err := repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, fetched.ID)
	assert.Equal(t, "user-123", fetched.Owner.AccountID)
	assert.Empty(t, fetched.Owner.SessionID)
	assert.Equal(t, "EUR", fetched.Currency)
	assert.True(t, order.ExchangeRate.Equal(fetched.ExchangeRate))
	assert.Equal(t, "IDR", fetched.ChargeCurrency)
	assert.True(t, order.ChargeRate.Equal(fetched.ChargeRate))
	assert.True(t, order.Total.Equal(fetched.Total))
	assert.Nil(t, fetched.ShippingCost)
	assert.Equal(t, order.Shipping, fetched.Shipping)
	require.Len(t, fetched.Items, 2)
	assert.Equal(t, "tee", fetched.Items[0].ProductID)
	assert.Equal(t, "M", fetched.Items[0].Size)
	assert.Equal(t, "mug", fetched.Items[1].ProductID)
	assert.False(t, fetched.CreatedAt.IsZero())
}

func TestCreateOrder_Duplicate(t *testing.T) {
	repo, cleanup := setupTestPostgres(t)
	defer cleanup()
	ctx := context.Background()

	order := newTestOrder("user-123")
	require.NoError(t, repo.CreateOrder(ctx, order))

	assert.ErrorIs(t, repo.CreateOrder(ctx, order), ErrDuplicateOrder)
}

func TestCreateOrder_ItemFailureRollsBack(t *testing.T) {
	repo, cleanup := setupTestPostgres(t)
	defer cleanup()
	ctx := context.Background()

	order := newTestOrder("user-123")
	order.Items[1].Quantity = 0 // violates the quantity check

	require.Error(t, repo.CreateOrder(ctx, order))

	_, err := repo.GetOrder(ctx, order.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestGetOrder_NotFound(t *testing.T) {
	repo, cleanup := setupTestPostgres(t)
	defer cleanup()
	ctx := context.Background()

	_, err := repo.GetOrder(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = repo.GetOrder(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestListOrdersByAccount(t *testing.T) {
	repo, cleanup := setupTestPostgres(t)
	defer cleanup()
	ctx := context.Background()

	first := newTestOrder("user-1")
	require.NoError(t, repo.CreateOrder(ctx, first))
	time.Sleep(10 * time.Millisecond)
	second := newTestOrder("user-1")
	require.NoError(t, repo.CreateOrder(ctx, second))
	require.NoError(t, repo.CreateOrder(ctx, newTestOrder("user-2")))

	orders, err := repo.ListOrdersByAccount(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.ID, orders[0].ID)
	assert.Equal(t, first.ID, orders[1].ID)
	assert.Len(t, orders[0].Items, 2)

	none, err := repo.ListOrdersByAccount(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSettlePayment_OnlyFromPending(t *testing.T) {
	repo, cleanup := setupTestPostgres(t)
	defer cleanup()
	ctx := context.Background()

	order := newTestOrder("user-1")
	require.NoError(t, repo.CreateOrder(ctx, order))
	require.NoError(t, repo.AttachPaymentSession(ctx, order.ID, order.ID))

	require.NoError(t, repo.SettlePayment(ctx, order.ID, domain.PaymentStatusPaid, domain.OrderStatusConfirmed, "tx-9"))
	assert.ErrorIs(t,
		repo.SettlePayment(ctx, order.ID, domain.PaymentStatusFailed, domain.OrderStatusFailed, ""),
		ErrPaymentSettled)

	fetched, err := repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, fetched.PaymentStatus)
	assert.Equal(t, domain.OrderStatusConfirmed, fetched.OrderStatus)
	assert.Equal(t, "tx-9", fetched.PaymentRef)
	assert.Equal(t, order.ID, fetched.PaymentSessionID)

	assert.ErrorIs(t,
		repo.SettlePayment(ctx, uuid.NewString(), domain.PaymentStatusPaid, domain.OrderStatusConfirmed, ""),
		ErrOrderNotFound)
}

func TestSettlePayment_KeepsCancelledStatus(t *testing.T) {
	repo, cleanup := setupTestPostgres(t)
	defer cleanup()
	ctx := context.Background()

	order := newTestOrder("user-1")
	require.NoError(t, repo.CreateOrder(ctx, order))
	require.NoError(t, repo.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusCancelled))
	require.NoError(t, repo.SettlePayment(ctx, order.ID, domain.PaymentStatusPaid, domain.OrderStatusConfirmed, "tx-3"))

	fetched, err := repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, fetched.OrderStatus)
	assert.Equal(t, domain.PaymentStatusPaid, fetched.PaymentStatus)
	assert.Equal(t, "tx-3", fetched.PaymentRef)
}

func TestUpdateOrderStatus_Conditional(t *testing.T) {
	repo, cleanup := setupTestPostgres(t)
	defer cleanup()
	ctx := context.Background()

	order := newTestOrder("user-1")
	require.NoError(t, repo.CreateOrder(ctx, order))

	require.NoError(t, repo.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusCancelled))
	assert.ErrorIs(t,
		repo.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusConfirmed),
		ErrStatusConflict)
}
