/**
 * @description
 * This file sets up the HTTP router for the ledger service. It defines the API
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

// LedgerRoutes creates and returns a new router for the ledger service.
func LedgerRoutes(h *LedgerHandlers, jwtSecret string) http.Handler {
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

	// Public endpoints: registration, login, and the Stripe webhook (which
	// authenticates with its own signature).
	r.Post("/auth/register/initiate", h.RegisterInitiateHandler)
	r.Post("/auth/register/confirm", h.RegisterConfirmHandler)
	r.Post("/auth/login", h.LoginHandler)
	r.Post("/webhooks/stripe", h.StripeWebhookHandler)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		r.Get("/accounts/me", h.GetAccountHandler)
		r.Put("/accounts/me/pin", h.SetPINHandler)

		r.Post("/withdrawals", h.CreateWithdrawalHandler)
		r.Get("/withdrawals", h.ListWithdrawalsHandler)

		r.Get("/transactions", h.ListTransactionsHandler)
	})

	return r
}
