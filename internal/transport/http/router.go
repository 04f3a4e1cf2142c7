// Package http assembles the service's route tree.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pulse/internal/platform/config"
	"pulse/internal/platform/middleware"
	"pulse/internal/transport/http/shared"
)

// Registrar is anything that can mount routes on a router; each domain
// handler implements it.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// NewRouter assembles the full route tree: platform middleware, the API-key
// and rate-limit gates in front of /api/v1, and the operational endpoints.
func NewRouter(cfg config.ServerConfig, logger *slog.Logger, checks map[string]HealthCheck, handlers ...Registrar) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(30 * time.Second))
		api.Use(middleware.ContentTypeJSON)
		api.Use(middleware.APIKey(cfg.APIKey, logger))
		api.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateLimitWindow))
		for _, h := range handlers {
			h.Register(api)
		}
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", healthHandler(checks))

	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		body := make(map[string]string, len(checks)+1)
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body[name] = err.Error()
				continue
			}
			body[name] = "ok"
		}
		if status == http.StatusOK {
			body["status"] = "ok"
		} else {
			body["status"] = "degraded"
		}
		shared.WriteJSON(w, status, body)
	}
}
