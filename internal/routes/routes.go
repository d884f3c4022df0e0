package routes

import (
	"github.com/go-chi/chi/v5"

	"warden/internal/auth"
	"warden/internal/handlers"
	"warden/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	attemptsHandler *handlers.AttemptsHandler,
	adminHandler *handlers.AdminHandler,
	tokenManager *auth.TokenManager,
	adminRateLimit middleware.RateLimitConfig,
) {
	// Ingest routes - called by applications on every login attempt,
	// no authentication required
	router.Post("/v1/attempts", attemptsHandler.RecordAttempt)
	router.Get("/v1/verdict", attemptsHandler.GetVerdict)
	router.Post("/v1/logout", attemptsHandler.RecordLogout)

	// Operator routes - admin token required
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireOperator(tokenManager))
		r.Use(middleware.RateLimitByOperator(adminRateLimit))

		r.Get("/v1/attempts", adminHandler.ListAttempts)
		r.Post("/v1/reset", adminHandler.ResetAttempts)
		r.Delete("/v1/trust", adminHandler.ResetTrust)
		r.Get("/v1/access-log", adminHandler.ListAccessLog)
		r.Delete("/v1/access-log", adminHandler.PruneAccessLog)
	})
}
