/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/workspaces/{ws}/*  Per-workspace requests, balances, accruals, reports
  /api/requests/*         Leave request by ID
  /api/accruals/*         Accrual setting by ID
  /api/scenarios/*        Demo workspaces (dev only)

SECURITY NOTE:
  No authentication middleware. Route authorization is the job of the
  surrounding gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured. allowedOrigins
// feeds the CORS middleware.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/workspaces/{ws}", func(r chi.Router) {
			r.Get("/requests", h.ListRequests)
			r.Post("/requests", h.CreateRequest)
			r.Get("/balances", h.ListBalances)

			r.Route("/users/{user}", func(r chi.Router) {
				r.Get("/balance", h.GetBalance)
				r.Get("/audit", h.GetAudit)
				r.Put("/buckets/{type}", h.SetBucket)
				r.Post("/buckets/{type}/grant", h.GrantBucket)
			})

			r.Get("/accruals", h.ListAccruals)
			r.Post("/accruals", h.CreateAccrual)

			r.Post("/reconciliations", h.RunReconciliation)
			r.Get("/reports/{year}/{month}", h.GetReport)

			r.Get("/members", h.ListMembers)
			r.Put("/members/{user}", h.PutMember)
			r.Put("/working-rule", h.PutWorkingRule)
			r.Get("/holidays", h.ListHolidays)
			r.Post("/holidays", h.CreateHoliday)
			r.Post("/time-entries", h.AddTimeEntry)
		})

		// Request routes
		r.Route("/requests/{id}", func(r chi.Router) {
			r.Get("/", h.GetRequest)
			r.Put("/", h.UpdateRequest)
			r.Delete("/", h.DeleteRequest)
			r.Post("/approve", h.ApproveRequest)
			r.Post("/reject", h.RejectRequest)
		})

		// Accrual routes
		r.Route("/accruals/{id}", func(r chi.Router) {
			r.Put("/", h.UpdateAccrual)
			r.Delete("/", h.DeleteAccrual)
			r.Post("/enable", h.EnableAccrual)
			r.Post("/disable", h.DisableAccrual)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
