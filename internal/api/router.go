// Package api provides the HTTP API for the reliability control plane.
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/mirrorbuddy/reliability/internal/api/handler"
	"github.com/mirrorbuddy/reliability/internal/api/middleware"
	"github.com/mirrorbuddy/reliability/internal/auth"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	Flags  handler.FlagRegistry
	Engine handler.DegradationEngine

	// Tokens validates operator tokens on admin routes. Nil disables
	// authentication.
	Tokens *auth.TokenService

	// PublicRateLimit is the per-IP budget per minute for flag evaluation.
	// Zero uses the default.
	PublicRateLimit int
	RequireTLS      bool
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "reliabilityd"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(middleware.SecurityHeaders)            // Security headers
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement behind a proxy
	r.Use(middleware.ContentTypeJSON)            // JSON content type
	r.Use(middleware.RequireJSON)                // JSON request bodies

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.Flags, cfg.Engine)
	flagsHandler := handler.NewFeatureFlagsHandler(cfg.Flags, cfg.Engine, cfg.Logger)
	degradationHandler := handler.NewDegradationHandler(cfg.Engine, cfg.Logger)

	viewer := middleware.RequireRole(cfg.Tokens, auth.RoleViewer)
	operator := middleware.RequireRole(cfg.Tokens, auth.RoleOperator)

	publicLimit := middleware.EvaluationRateLimit
	if cfg.PublicRateLimit > 0 {
		publicLimit = middleware.RateLimitConfig{RequestLimit: cfg.PublicRateLimit, WindowLength: time.Minute}
	}
	// One limiter shared by both admin groups so viewer and operator calls
	// draw from the same per-operator budget.
	adminLimit := middleware.RateLimitByOperator(middleware.AdminRateLimit)

	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		// Flag evaluation (public) - per-IP rate limiting
		r.With(middleware.RateLimitByIP(publicLimit)).Get("/flags/{featureId}", flagsHandler.Evaluate)

		r.Route("/admin", func(r chi.Router) {
			// Read-only admin endpoints
			r.Group(func(r chi.Router) {
				r.Use(viewer)
				r.Use(adminLimit)
				r.Get("/feature-flags", flagsHandler.ListFeatureFlags)
				r.Get("/degradation", degradationHandler.GetState)
				r.Get("/degradation/events", degradationHandler.ListEvents)
				r.Get("/degradation/rules", degradationHandler.ListRules)
			})

			// Mutating admin endpoints
			r.Group(func(r chi.Router) {
				r.Use(operator)
				r.Use(adminLimit)
				r.Post("/feature-flags", flagsHandler.MutateFeatureFlag)
				r.Delete("/feature-flags", flagsHandler.EmergencyKillSwitch)
				r.Post("/feature-flags/reload", flagsHandler.Reload)
				r.Put("/degradation/rules", degradationHandler.PutRule)
				r.Post("/degradation/{featureId}", degradationHandler.DegradeFeature)
				r.Delete("/degradation/{featureId}", degradationHandler.RecoverFeature)
				r.Post("/health-checks", degradationHandler.RecordHealthCheck)
			})
		})
	})

	return r
}
