package routes

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/upb/answer-engine/app"
	"github.com/upb/answer-engine/handlers"
	appmiddleware "github.com/upb/answer-engine/middleware"
	"github.com/upb/answer-engine/utils"
)

// requestTimeout bounds a single request, including provider retries
const requestTimeout = 60 * time.Second

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appmiddleware.RequestLogger(deps.Logger))
	r.Use(appmiddleware.Recoverer(deps.Logger))
	r.Use(middleware.Timeout(requestTimeout))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(deps),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoints
	health := newHealthHandler(deps)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.MetricsRegistry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.MetricsRegistry, promhttp.HandlerOpts{
			Registry: deps.MetricsRegistry,
		}))
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", statusHandler(deps))

		if deps.AnswerService != nil {
			answers := handlers.NewAnswerHandler(deps.AnswerService, deps.Logger)
			r.Route("/agents/{agentID}", func(r chi.Router) {
				r.Post("/answer", answers.HandleAnswer)
				r.Post("/context", answers.HandleContext)
			})
		}
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r
}

func allowedOrigins(deps *app.Dependencies) []string {
	if deps.Config == nil || len(deps.Config.Server.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return deps.Config.Server.AllowedOrigins
}

func newHealthHandler(deps *app.Dependencies) *handlers.HealthHandler {
	var db *sql.DB
	if deps.DB != nil {
		db = deps.DB.DB
	}
	// A nil *cache.AnswerCache must not become a non-nil Pinger.
	var cachePinger handlers.Pinger
	if deps.AnswerCache != nil {
		cachePinger = deps.AnswerCache
	}
	return handlers.NewHealthHandler(db, cachePinger, deps.Logger)
}

func statusHandler(deps *app.Dependencies) http.HandlerFunc {
	environment := ""
	if deps.Config != nil {
		environment = deps.Config.Environment
	}
	var providers handlers.ProviderLister
	if deps.ProviderRegistry != nil {
		providers = deps.ProviderRegistry
	}
	return handlers.StatusHandler(app.Version, environment, providers)
}
