package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/mpreston/gatekeeper/internal/handlers"
	"github.com/mpreston/gatekeeper/internal/middleware"
)

// RegisterRoutes registers the operator API routes
func RegisterRoutes(router chi.Router, statusHandler *handlers.StatusHandler) {
	// Rate limiting config for mutating endpoints
	rateLimitConfig := middleware.DefaultMutationRateLimit()

	router.Get("/health", statusHandler.HealthCheck)

	router.Route("/v1", func(r chi.Router) {
		r.Get("/stats", statusHandler.GetStats)
		r.Get("/ignored", statusHandler.ListIgnored)
		r.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/ignored", statusHandler.AddIgnored)
	})
}
