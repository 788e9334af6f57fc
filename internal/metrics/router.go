// Package metrics serves the worker's operational HTTP endpoints: Prometheus
// metrics, liveness and readiness.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

// NewRouter creates a chi.Mux serving /metrics, /healthz and /readyz.
// checks are run by /readyz, keyed by dependency name.
func NewRouter(log zerolog.Logger, checks map[string]Check) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(CorrelationIDMiddleware(log))
	r.Use(AccessLog)

	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(checks))
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// NewServer creates the ops HTTP server on addr.
func NewServer(addr string, log zerolog.Logger, checks map[string]Check) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      NewRouter(log, checks),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
