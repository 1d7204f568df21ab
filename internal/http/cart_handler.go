package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/currency"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// ProductCatalog resolves products for add and variant requests.
type ProductCatalog interface {
	ListProducts(ctx context.Context) ([]*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

// CartHandler handles HTTP requests for cart operations
type CartHandler struct {
	carts     *service.CartService
	merges    *service.MergeService
	catalog   ProductCatalog
	rates     RateSource
	converter *currency.Converter
	timeout   time.Duration
}

func NewCartHandler(carts *service.CartService, merges *service.MergeService, catalog ProductCatalog, rates RateSource, timeout time.Duration) *CartHandler {
	return &CartHandler{
		carts:     carts,
		merges:    merges,
		catalog:   catalog,
		rates:     rates,
		converter: currency.NewConverter(rates),
		timeout:   timeout,
	}
}

// AddItemRequest represents the request body for adding an item
type AddItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size,omitempty"`
}

type UpdateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type UpdateVariantRequest struct {
	Size string `json:"size"`
}

// CartResponse is a cart plus, when requested, its totals in a display currency.
type CartResponse struct {
	*domain.Cart
	Display *DisplayTotals `json:"display,omitempty"`
}

type DisplayTotals struct {
	Currency string          `json:"currency"`
	Rate     decimal.Decimal `json:"rate"`
	Subtotal string          `json:"subtotal"`
	Tax      string          `json:"tax"`
	Total    string          `json:"total"`
}

type ToggleResponse struct {
	ItemID    string            `json:"item_id"`
	Selected  bool              `json:"selected"`
	Selection service.Selection `json:"selection"`
}

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "no cart owner")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.Get(ctx, id.Owner)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	display := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("currency")))
	if display != "" && !currency.IsISO(display) {
		respondError(w, http.StatusBadRequest, "invalid_argument", "currency must be an ISO 4217 code")
		return
	}
	h.respondCart(ctx, w, http.StatusOK, cart, display)
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "no cart owner")
		return
	}

	var req AddItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "invalid_argument", "product_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	product, err := h.catalog.GetProduct(ctx, req.ProductID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	cart, err := h.carts.AddItem(ctx, id.Owner, *product, req.Quantity, req.Size)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.respondCart(ctx, w, http.StatusCreated, cart, "")
}

// UpdateQuantity handles PUT /api/v1/cart/items/{item_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "no cart owner")
		return
	}

	var req UpdateQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.UpdateQuantity(ctx, id.Owner, chi.URLParam(r, "item_id"), req.Quantity)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.respondCart(ctx, w, http.StatusOK, cart, "")
}

// UpdateVariant handles PUT /api/v1/cart/items/{item_id}/variant. The size
// price comes from the catalog, never from the client.
func (h *CartHandler) UpdateVariant(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "no cart owner")
		return
	}

	var req UpdateVariantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	itemID := chi.URLParam(r, "item_id")

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.Get(ctx, id.Owner)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	idx := cart.FindItem(itemID)
	if idx < 0 {
		handleServiceError(w, service.ErrItemNotFound)
		return
	}

	product, err := h.catalog.GetProduct(ctx, cart.Items[idx].ProductID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	variant, ok := product.VariantFor(req.Size)
	if !ok {
		handleServiceError(w, &service.ValidationError{Field: "size", Reason: "not offered for this product"})
		return
	}

	cart, err = h.carts.UpdateVariant(ctx, id.Owner, itemID, variant)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.respondCart(ctx, w, http.StatusOK, cart, "")
}

// RemoveItem handles DELETE /api/v1/cart/items/{item_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "no cart owner")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.RemoveItem(ctx, id.Owner, chi.URLParam(r, "item_id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.respondCart(ctx, w, http.StatusOK, cart, "")
}

// ClearCart handles DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "no cart owner")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.Clear(ctx, id.Owner)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.respondCart(ctx, w, http.StatusOK, cart, "")
}

// GetSelection handles GET /api/v1/cart/selection
func (h *CartHandler) GetSelection(w http.ResponseWriter, r *http.Request) {
	h.selection(w, r, h.carts.Selected)
}

// SelectAll handles POST /api/v1/cart/selection/all
func (h *CartHandler) SelectAll(w http.ResponseWriter, r *http.Request) {
	h.selection(w, r, h.carts.SelectAll)
}

// DeselectAll handles DELETE /api/v1/cart/selection
func (h *CartHandler) DeselectAll(w http.ResponseWriter, r *http.Request) {
	h.selection(w, r, h.carts.DeselectAll)
}

func (h *CartHandler) selection(w http.ResponseWriter, r *http.Request, op func(context.Context, domain.OwnerRef) (service.Selection, error)) {
	id, ok := identityFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "no cart owner")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sel, err := op(ctx, id.Owner)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sel)
}

// ToggleSelection handles POST /api/v1/cart/selection/{item_id}
func (h *CartHandler) ToggleSelection(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "no cart owner")
		return
	}
	itemID := chi.URLParam(r, "item_id")

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	selected, err := h.carts.ToggleSelection(ctx, id.Owner, itemID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	sel, err := h.carts.Selected(ctx, id.Owner)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ToggleResponse{ItemID: itemID, Selected: selected, Selection: sel})
}

// MergeCart handles POST /api/v1/cart/merge. It folds the caller's anonymous
// session cart into their account cart and is safe to repeat.
func (h *CartHandler) MergeCart(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok || !id.Authenticated() {
		respondError(w, http.StatusUnauthorized, "unauthorized", "merge requires a signed-in account")
		return
	}
	if id.SessionID == "" {
		respondError(w, http.StatusBadRequest, "invalid_argument", "no anonymous session to merge")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.merges.Merge(ctx, id.SessionID, id.Owner.AccountID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.respondCart(ctx, w, http.StatusOK, cart, "")
}

func (h *CartHandler) respondCart(ctx context.Context, w http.ResponseWriter, status int, cart *domain.Cart, display string) {
	resp := CartResponse{Cart: cart}
	if display != "" {
		base := h.rates.Base()
		resp.Display = &DisplayTotals{
			Currency: display,
			Rate:     h.rates.Rate(ctx, base, display),
			Subtotal: currency.Format(h.converter.Convert(ctx, cart.Subtotal, base, display), display),
			Tax:      currency.Format(h.converter.Convert(ctx, cart.Tax, base, display), display),
			Total:    currency.Format(h.converter.Convert(ctx, cart.Total, base, display), display),
		}
	}
	respondJSON(w, status, resp)
}
