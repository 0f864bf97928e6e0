// Package routes wires the ops API. The surface is read-only: routing runs
// through the library, not over HTTP.
package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/stratoslabs/llm-router/app"
	"github.com/stratoslabs/llm-router/handlers"
)

// SetupRoutes configures all ops API routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	healthHandler := handlers.NewHealthHandler(deps.DB.DB, deps.Logger)
	budgetHandler := handlers.NewBudgetHandler(deps.Ledger, deps.Logger)
	decisionHandler := handlers.NewDecisionHandler(deps.Decisions, deps.AuditLogs, deps.Logger)

	// Health check endpoints
	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/health/ready", healthHandler.HandleReadiness)

	// API v1 routes (require authentication when enabled)
	r.Route("/v1", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireAuth)

		r.Route("/budget", func(r chi.Router) {
			r.Get("/", budgetHandler.HandleListState)
			r.Get("/envelopes", budgetHandler.HandleListEnvelopes)
			r.Get("/spend", budgetHandler.HandleAggregateSpend)
			r.Get("/{category}", budgetHandler.HandleGetState)
		})

		r.Route("/decisions", func(r chi.Router) {
			r.Get("/", decisionHandler.HandleListDecisions)
			r.Get("/stats", decisionHandler.HandleRouteClassStats)
			r.Get("/{id}", decisionHandler.HandleGetDecision)
			r.Get("/{id}/audit", decisionHandler.HandleDecisionAudit)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not_found","message":"Route not found"}`))
	})

	return r
}
