/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions. This
  is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     request logging
  2. Recoverer:  panic recovery (500 instead of crash)
  3. RequestID:  unique id per request for tracing
  4. CORS:       cross-origin requests for the SPA frontend

ROUTE GROUPS:
  /api/days/*         per-day views (summary, balances, transfers, opening)
  /api/sessions/*     session registration and deletion
  /api/packages/*     package purchases
  /api/expenses/*     drawer expenses
  /api/settlements/*  per-therapist confirm/revert protocol
  /api/credits/*      prepaid credit lookups
  /api/transfers/*    transfer line confirmation
  /api/admin/*        retention sweep

SEE ALSO:
  - handlers.go: handler implementations
  - cmd/server/main.go: server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/days/{date}", func(r chi.Router) {
			r.Get("/summary", h.GetDaySummary)
			r.Get("/balance", h.GetBalance)
			r.Get("/therapists", h.ListTherapists)
			r.Get("/transfers", h.GetTransfers)
			r.Get("/initial-balance", h.GetInitialBalance)
			r.Put("/initial-balance", h.SetInitialBalance)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.RegisterSession)
			r.Post("/credit", h.RegisterCreditSession)
			r.Delete("/{id}", h.DeleteSession)
		})

		r.Route("/packages", func(r chi.Router) {
			r.Post("/", h.CreatePackage)
			r.Delete("/{id}", h.DeletePackage)
		})

		r.Route("/expenses", func(r chi.Router) {
			r.Post("/", h.AddExpense)
			r.Delete("/{id}", h.DeleteExpense)
		})

		r.Route("/settlements/{date}/{therapist}", func(r chi.Router) {
			r.Get("/", h.GetSettlement)
			r.Post("/confirm", h.ConfirmSettlement)
			r.Post("/revert", h.RevertSettlement)
		})

		r.Route("/credits", func(r chi.Router) {
			r.Get("/", h.ListPatientsWithCredit)
			r.Get("/{patient}/{therapist}", h.GetCredits)
		})

		r.Post("/transfers/{id}/toggle", h.ToggleTransfer)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
		})
	})

	return r
}
