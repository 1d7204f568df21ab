package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
}

type Handlers struct {
	Cart     *CartHandler
	Orders   *OrderHandler
	Products *ProductHandler
	Currency *CurrencyHandler
}

func NewRouter(cfg RouterConfig, handlers Handlers, auth *Authenticator, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.RequestSize(cfg.MaxRequestBodySize))
	r.Use(middleware.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", handlers.Products.ListProducts)
		r.Get("/products/{product_id}", handlers.Products.GetProduct)
		r.Get("/currencies", handlers.Currency.ListCurrencies)
		r.Get("/currencies/convert", handlers.Currency.Convert)

		// the processor signs its callbacks, so no shopper identity here
		r.Post("/payments/notification", handlers.Orders.PaymentNotification)

		r.Group(func(r chi.Router) {
			r.Use(IdentityMiddleware(auth))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", handlers.Cart.GetCart)
				r.Delete("/", handlers.Cart.ClearCart)
				r.Post("/items", handlers.Cart.AddItem)
				r.Put("/items/{item_id}", handlers.Cart.UpdateQuantity)
				r.Put("/items/{item_id}/variant", handlers.Cart.UpdateVariant)
				r.Delete("/items/{item_id}", handlers.Cart.RemoveItem)
				r.Get("/selection", handlers.Cart.GetSelection)
				r.Delete("/selection", handlers.Cart.DeselectAll)
				r.Post("/selection/all", handlers.Cart.SelectAll)
				r.Post("/selection/{item_id}", handlers.Cart.ToggleSelection)
				r.Post("/merge", handlers.Cart.MergeCart)
			})

			r.Post("/checkout", handlers.Orders.Checkout)

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", handlers.Orders.ListOrders)
				r.Get("/{order_id}", handlers.Orders.GetOrder)
				r.Post("/{order_id}/payment", handlers.Orders.StartPayment)
				r.Post("/{order_id}/confirm", handlers.Orders.ConfirmPayment)
				r.Patch("/{order_id}/status", handlers.Orders.UpdateStatus)
			})
		})
	})

	return otelhttp.NewHandler(r, "storefront")
}
