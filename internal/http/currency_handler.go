package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/currency"
	"github.com/shopspring/decimal"
)

// RateSource is satisfied by currency.RateCache.
type RateSource interface {
	Base() string
	Rate(ctx context.Context, from, to string) decimal.Decimal
	Supported(ctx context.Context) []string
}

type CurrencyHandler struct {
	rates     RateSource
	converter *currency.Converter
	timeout   time.Duration
}

func NewCurrencyHandler(rates RateSource, timeout time.Duration) *CurrencyHandler {
	return &CurrencyHandler{rates: rates, converter: currency.NewConverter(rates), timeout: timeout}
}

type RatesResponse struct {
	Base       string   `json:"base"`
	Currencies []string `json:"currencies"`
}

type ConversionResponse struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Rate      decimal.Decimal `json:"rate"`
	Converted decimal.Decimal `json:"converted"`
	Formatted string          `json:"formatted"`
}

// ListCurrencies handles GET /api/v1/currencies
func (h *CurrencyHandler) ListCurrencies(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	respondJSON(w, http.StatusOK, RatesResponse{
		Base:       h.rates.Base(),
		Currencies: h.rates.Supported(ctx),
	})
}

// Convert handles GET /api/v1/currencies/convert?amount=&from=&to=. from
// defaults to the base currency.
func (h *CurrencyHandler) Convert(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_argument", "amount must be a decimal number")
		return
	}
	from := strings.ToUpper(strings.TrimSpace(q.Get("from")))
	if from == "" {
		from = h.rates.Base()
	}
	to := strings.ToUpper(strings.TrimSpace(q.Get("to")))
	if !currency.IsISO(from) || !currency.IsISO(to) {
		respondError(w, http.StatusBadRequest, "invalid_argument", "from and to must be ISO 4217 codes")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	converted := h.converter.Convert(ctx, amount, from, to)
	respondJSON(w, http.StatusOK, ConversionResponse{
		From:      from,
		To:        to,
		Amount:    amount,
		Rate:      h.rates.Rate(ctx, from, to),
		Converted: converted,
		Formatted: currency.Format(converted, to),
	})
}
