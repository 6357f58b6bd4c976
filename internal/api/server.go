package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/mndd/notifier/internal/api/handler"
	"github.com/mndd/notifier/internal/config"
)

// NewRouter builds the notifier's HTTP surface: health checks and docs at the root,
// triggers and intake under /api/v1 behind the trigger token.
func NewRouter(deps handler.Deps, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, TimingMiddleware)
	r.Use(corslib.New(corsOptions(cfg)).Handler)
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	h := handler.New(deps)

	r.Get("/", h.Root)
	r.Get("/health", h.HealthCheck)
	r.Get("/health/db", h.HealthCheckDB)
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/docs/doc.json")))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RequireToken(cfg.TriggerToken))
		mountTriggers(r, h)
		r.Post("/notify", h.Notify)
		r.Get("/runs/{evaluator}", h.RecentRuns)
	})

	return r
}

// mountTriggers accepts GET as well as POST so plain cron pingers can call
// an evaluator.
func mountTriggers(r chi.Router, h *handler.Handler) {
	r.Get("/triggers", h.ListEvaluators)
	r.Get("/triggers/{evaluator}", h.Trigger)
	r.Post("/triggers/{evaluator}", h.Trigger)
}

func corsOptions(cfg *config.Config) corslib.Options {
	return corslib.Options{
		AllowedOrigins: cfg.CORSAllowOrigins,
		AllowedMethods: []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Process-Time", "X-Request-Id"},
	}
}
