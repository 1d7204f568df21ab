package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/payment"
	"github.com/fjod/go_cart/storefront/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const roleAdmin = "admin"

// NotificationVerifier authenticates payment processor callbacks.
type NotificationVerifier interface {
	VerifyNotification(n payment.Notification) error
}

// OrderHandler handles checkout, order and payment requests.
type OrderHandler struct {
	carts    *service.CartService
	orders   *service.OrderService
	verifier NotificationVerifier
	timeout  time.Duration
	logger   *zap.Logger
}

func NewOrderHandler(carts *service.CartService, orders *service.OrderService, verifier NotificationVerifier, timeout time.Duration, logger *zap.Logger) *OrderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderHandler{carts: carts, orders: orders, verifier: verifier, timeout: timeout, logger: logger}
}

type CheckoutRequest struct {
	Shipping domain.ShippingInfo `json:"shipping"`
	Currency string              `json:"currency"`
}

type CheckoutResponse struct {
	OrderID     string `json:"order_id"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

type PaymentResponse struct {
	OrderID     string `json:"order_id"`
	RedirectURL string `json:"redirect_url"`
}

type UpdateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

// Checkout handles POST /api/v1/checkout. It orders the selected lines,
// removes them from the cart and opens a payment session. When the payment
// processor fails the order still exists and payment can be retried through
// POST /api/v1/orders/{id}/payment.
func (h *OrderHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "no cart owner")
		return
	}

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sel, err := h.carts.Selected(ctx, id.Owner)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	orderID, err := h.orders.CreateOrder(ctx, id.Owner, sel.Items, req.Shipping, req.Currency)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	ordered := make([]string, 0, len(sel.Items))
	for _, item := range sel.Items {
		ordered = append(ordered, item.ID)
	}
	if _, err := h.carts.RemoveItems(ctx, id.Owner, ordered); err != nil {
		h.logger.Warn("ordered lines left in cart",
			zap.String("order_id", orderID),
			zap.String("owner", id.Owner.Key()),
			zap.Error(err))
	}

	redirectURL, err := h.orders.BeginPayment(ctx, orderID)
	if err != nil {
		h.logger.Warn("payment not started at checkout", zap.String("order_id", orderID), zap.Error(err))
		respondJSON(w, http.StatusAccepted, CheckoutResponse{OrderID: orderID})
		return
	}

	respondJSON(w, http.StatusCreated, CheckoutResponse{OrderID: orderID, RedirectURL: redirectURL})
}

// ListOrders handles GET /api/v1/orders
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok || !id.Authenticated() {
		respondError(w, http.StatusUnauthorized, "unauthorized", "order history requires a signed-in account")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orders, err := h.orders.ListOrders(ctx, id.Owner.AccountID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

// GetOrder handles GET /api/v1/orders/{order_id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	order, ok := h.ownedOrder(ctx, w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// StartPayment handles POST /api/v1/orders/{order_id}/payment
func (h *OrderHandler) StartPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	order, ok := h.ownedOrder(ctx, w, r)
	if !ok {
		return
	}

	redirectURL, err := h.orders.BeginPayment(ctx, order.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, PaymentResponse{OrderID: order.ID, RedirectURL: redirectURL})
}

// ConfirmPayment handles POST /api/v1/orders/{order_id}/confirm, used by the
// storefront after the shopper returns from the hosted payment page.
func (h *OrderHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	order, ok := h.ownedOrder(ctx, w, r)
	if !ok {
		return
	}

	order, err := h.orders.ConfirmPayment(ctx, order.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// UpdateStatus handles PATCH /api/v1/orders/{order_id}/status. Owners may
// only cancel; other transitions need the admin role.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "no cart owner")
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var orderID string
	if id.Role == roleAdmin {
		orderID = chi.URLParam(r, "order_id")
	} else {
		if req.Status != domain.OrderStatusCancelled {
			respondError(w, http.StatusForbidden, "forbidden", "only cancellation is allowed")
			return
		}
		order, ok := h.ownedOrder(ctx, w, r)
		if !ok {
			return
		}
		orderID = order.ID
	}

	order, err := h.orders.UpdateStatus(ctx, orderID, req.Status)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// PaymentNotification handles POST /api/v1/payments/notification from the
// processor. Only the order id is trusted from the body; the outcome is
// re-read from the processor. It answers 200 for anything it has handled or
// deliberately ignored and 5xx when a retry could succeed.
func (h *OrderHandler) PaymentNotification(w http.ResponseWriter, r *http.Request) {
	var n payment.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid notification body")
		return
	}
	if err := h.verifier.VerifyNotification(n); err != nil {
		h.logger.Warn("rejected payment notification", zap.String("order_id", n.OrderID), zap.Error(err))
		respondError(w, http.StatusUnauthorized, "invalid_signature", "invalid notification signature")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	order, err := h.orders.ConfirmPayment(ctx, n.OrderID)
	switch {
	case err == nil:
		h.logger.Info("payment notification processed",
			zap.String("order_id", order.ID),
			zap.String("payment_status", string(order.PaymentStatus)))
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case isIgnorableNotification(err):
		h.logger.Warn("payment notification ignored", zap.String("order_id", n.OrderID), zap.Error(err))
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	default:
		handleServiceError(w, err)
	}
}

func isIgnorableNotification(err error) bool {
	return isAny(err, service.ErrOrderNotFound, service.ErrPaymentNotStarted)
}

// ownedOrder loads the path's order and writes 404 unless the caller owns it.
func (h *OrderHandler) ownedOrder(ctx context.Context, w http.ResponseWriter, r *http.Request) (*domain.Order, bool) {
	id, ok := identityFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "no cart owner")
		return nil, false
	}

	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "order_id"))
	if err != nil {
		handleServiceError(w, err)
		return nil, false
	}
	if order.Owner != id.Owner && id.Role != roleAdmin {
		handleServiceError(w, service.ErrOrderNotFound)
		return nil, false
	}
	return order, true
}
