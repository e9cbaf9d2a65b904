/**
 * @description
 * This file sets up the HTTP router for the service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes creates and returns the service router. jwksURL backs the caller auth
// middleware; internalAPIKey guards the operator surface.
func Routes(h *Handlers, jwksURL, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require caller authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		r.Post("/purchase", h.PurchaseHandler)

		r.Get("/orders/{orderID}", h.OrderStatusHandler)
		r.Get("/orders/{orderID}/messages", h.OrderMessagesHandler)
		r.Post("/orders/{orderID}/cancel", h.CancelOrderHandler)

		r.Get("/accounts/{accountID}/balance", h.BalanceHandler)
		r.Get("/accounts/{accountID}/ledger", h.LedgerHandler)
	})

	// Operator surface, guarded by the shared internal key.
	r.Group(func(r chi.Router) {
		r.Use(InternalKeyMiddleware(internalAPIKey))

		r.Post("/internal/reconcile", h.ReconcileHandler)
		r.Get("/internal/replay/{accountID}", h.ReplayHandler)
		r.Post("/internal/reversal", h.ReversalHandler)
		r.Post("/internal/accounts", h.CreateAccountHandler)
		r.Post("/internal/accounts/{accountID}/deactivate", h.DeactivateAccountHandler)
	})

	return r
}
