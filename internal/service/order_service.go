package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/currency"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/fjod/go_cart/storefront/internal/totals"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RateSource supplies base to display currency rates.
type RateSource interface {
	Base() string
	Rate(ctx context.Context, from, to string) decimal.Decimal
}

// PaymentProcessor starts and verifies a hosted payment for an order.
type PaymentProcessor interface {
	// Currency is the ISO code the processor charges in.
	Currency() string
	BeginCheckout(ctx context.Context, order *domain.Order) (redirectURL, sessionID string, err error)
	// Verify reports the processor's view of the payment and its reference.
	Verify(ctx context.Context, sessionID string) (domain.PaymentStatus, string, error)
}

// OrderService freezes selected cart lines into orders and drives their
// payment and fulfilment lifecycle.
type OrderService struct {
	orders   repository.OrderRepository
	totals   totals.Calculator
	rates    RateSource
	payments PaymentProcessor

	now          func() time.Time
	newID        func() string
	storeTimeout time.Duration
	logger       *zap.Logger
}

type OrderOption func(*OrderService)

func WithOrderClock(now func() time.Time) OrderOption {
	return func(s *OrderService) { s.now = now }
}

func WithOrderIDGenerator(newID func() string) OrderOption {
	return func(s *OrderService) { s.newID = newID }
}

func WithOrderStoreTimeout(d time.Duration) OrderOption {
	return func(s *OrderService) { s.storeTimeout = d }
}

func WithOrderLogger(logger *zap.Logger) OrderOption {
	return func(s *OrderService) { s.logger = logger }
}

func NewOrderService(orders repository.OrderRepository, calc totals.Calculator, rates RateSource, payments PaymentProcessor, opts ...OrderOption) *OrderService {
	s := &OrderService{
		orders:       orders,
		totals:       calc,
		rates:        rates,
		payments:     payments,
		now:          time.Now,
		newID:        uuid.NewString,
		storeTimeout: DefaultStoreTimeout,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder snapshots items into a new pending order and returns its id.
// Later changes to the cart or the rate table never reach the order.
func (s *OrderService) CreateOrder(ctx context.Context, owner domain.OwnerRef, items []domain.CartItem, shipping domain.ShippingInfo, displayCurrency string) (string, error) {
	if err := validateOwner(owner); err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", &ValidationError{Field: "items", Reason: "at least one item is required"}
	}
	if err := validateShipping(shipping); err != nil {
		return "", err
	}
	code := strings.ToUpper(strings.TrimSpace(displayCurrency))
	if !currency.IsISO(code) {
		return "", &ValidationError{Field: "currency", Reason: fmt.Sprintf("%q is not an ISO 4217 code", displayCurrency)}
	}

	frozen := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			return "", &ValidationError{Field: "items", Reason: fmt.Sprintf("line %s has no quantity", item.ID)}
		}
		oi := domain.OrderItem{
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			ProductImage: item.ProductImage,
			UnitPrice:    item.UnitPrice,
			Quantity:     item.Quantity,
		}
		if item.Variant != nil {
			oi.Size = item.Variant.Size
		}
		frozen = append(frozen, oi)
	}

	summary := s.totals.Summarize(frozen)
	base := s.rates.Base()
	charge := s.payments.Currency()
	now := s.now()
	order := &domain.Order{
		ID:             s.newID(),
		Owner:          owner,
		Items:          frozen,
		Shipping:       shipping,
		Currency:       code,
		ExchangeRate:   s.rates.Rate(ctx, base, code),
		ChargeCurrency: charge,
		ChargeRate:     s.rates.Rate(ctx, base, charge),
		Subtotal:       summary.Subtotal,
		Tax:            summary.Tax,
		Total:          summary.Total,
		PaymentStatus:  domain.PaymentStatusPending,
		OrderStatus:    domain.OrderStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.orders.CreateOrder(storeCtx, order); err != nil {
		s.logger.Error("order creation failed", zap.String("owner", owner.Key()), zap.Error(err))
		return "", &OrderCreationError{Err: err}
	}

	s.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("owner", owner.Key()),
		zap.String("currency", code),
		zap.String("total", order.Total.String()))
	return order.ID, nil
}

func validateShipping(sh domain.ShippingInfo) error {
	required := []struct {
		field string
		value string
	}{
		{"shipping.name", sh.Name},
		{"shipping.phone", sh.Phone},
		{"shipping.address", sh.Address},
		{"shipping.city", sh.City},
		{"shipping.postal_code", sh.PostalCode},
		{"shipping.country", sh.Country},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ValidationError{Field: r.field, Reason: "required"}
		}
	}
	return nil
}

// BeginPayment opens a hosted payment session and returns where to send the shopper.
func (s *OrderService) BeginPayment(ctx context.Context, orderID string) (string, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		return "", fmt.Errorf("%w: payment already %s", ErrIllegalTransition, order.PaymentStatus)
	}
	if order.OrderStatus != domain.OrderStatusPending {
		return "", fmt.Errorf("%w: order is %s", ErrIllegalTransition, order.OrderStatus)
	}

	redirectURL, sessionID, err := s.payments.BeginCheckout(ctx, order)
	if err != nil {
		s.logger.Error("payment checkout failed", zap.String("order_id", orderID), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrPaymentProcessor, err)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.orders.AttachPaymentSession(storeCtx, orderID, sessionID); err != nil {
		return "", s.orderError("order.attach_payment", err)
	}

	return redirectURL, nil
}

// ConfirmPayment settles a pending payment from the processor's verdict. It is
// safe to call any number of times; a settled order is returned unchanged. A
// verdict for an order that was cancelled meanwhile is recorded on the payment
// only, leaving the order status alone.
func (s *OrderService) ConfirmPayment(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		return order, nil
	}
	if order.PaymentSessionID == "" {
		return nil, ErrPaymentNotStarted
	}

	outcome, ref, err := s.payments.Verify(ctx, order.PaymentSessionID)
	if err != nil {
		s.logger.Warn("payment verification failed", zap.String("order_id", orderID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPaymentProcessor, err)
	}

	var next domain.OrderStatus
	switch outcome {
	case domain.PaymentStatusPaid:
		next = domain.OrderStatusConfirmed
	case domain.PaymentStatusFailed:
		next = domain.OrderStatusFailed
	default:
		return order, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	err = s.orders.SettlePayment(storeCtx, orderID, outcome, next, ref)
	if err != nil && !errors.Is(err, repository.ErrPaymentSettled) {
		return nil, s.orderError("order.settle_payment", err)
	}
	if err == nil && order.OrderStatus != domain.OrderStatusPending {
		s.logger.Warn("payment settled on a closed order",
			zap.String("order_id", orderID),
			zap.String("order_status", string(order.OrderStatus)),
			zap.String("payment_status", string(outcome)),
			zap.String("payment_ref", ref))
	} else if err == nil {
		s.logger.Info("payment settled",
			zap.String("order_id", orderID),
			zap.String("payment_status", string(outcome)),
			zap.String("payment_ref", ref))
	}

	return s.GetOrder(ctx, orderID)
}

// UpdateStatus applies a fulfilment transition. Payment outcomes only arrive
// through ConfirmPayment.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID string, next domain.OrderStatus) (*domain.Order, error) {
	if !next.Valid() {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", next)}
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	from := order.OrderStatus
	if !from.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, next)
	}
	if from == domain.OrderStatusPending && next != domain.OrderStatusCancelled {
		return nil, fmt.Errorf("%w: %s -> %s needs a payment outcome", ErrIllegalTransition, from, next)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.orders.UpdateOrderStatus(storeCtx, orderID, from, next); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, fmt.Errorf("%w: order changed concurrently", ErrIllegalTransition)
		}
		return nil, s.orderError("order.update_status", err)
	}

	return s.GetOrder(ctx, orderID)
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if orderID == "" {
		return nil, &ValidationError{Field: "order_id", Reason: "required"}
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, s.orderError("order.get", err)
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, accountID string) ([]*domain.Order, error) {
	if accountID == "" {
		return nil, &ValidationError{Field: "account_id", Reason: "required"}
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	orders, err := s.orders.ListOrdersByAccount(ctx, accountID)
	if err != nil {
		return nil, s.orderError("order.list", err)
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	return orders, nil
}

func (s *OrderService) orderError(op string, err error) error {
	if errors.Is(err, repository.ErrOrderNotFound) {
		return ErrOrderNotFound
	}
	if errors.Is(err, repository.ErrPaymentSettled) {
		return fmt.Errorf("%w: payment already settled", ErrIllegalTransition)
	}
	return storeError(op, err)
}
