// Package server wires the HTTP routes and runs the listener.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/zonalstats/internal/core/config"
	"github.com/mohammed-shakir/zonalstats/internal/core/health"
	"github.com/mohammed-shakir/zonalstats/internal/core/middleware"
	"github.com/mohammed-shakir/zonalstats/internal/core/router"
)

type Options struct {
	// Metrics is served at MetricsPath; nil falls back to the default
	// Prometheus gatherer.
	Metrics     http.Handler
	MetricsPath string
	StaticDir   string
	Rasters     func() int
	Ready       map[string]health.ReadinessReporter
}

// NewHandler builds the full route tree around api.
func NewHandler(logger *slog.Logger, api *router.API, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS())

	metricsPath := opts.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	metricsHandler := opts.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(opts.Rasters, opts.Ready))
	r.Method(http.MethodGet, metricsPath, metricsHandler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", api.Status)
		r.Post("/upload", api.Upload)
		r.Get("/rasters", api.ListRasters)
		r.Get("/rasters/{id}", api.GetRaster)
		r.Delete("/unload/{id}", api.Unload)
		r.Post("/query/{kind}", api.Query)
		r.Post("/export/csv", api.ExportCSV)
		r.Post("/export/xlsx", api.ExportXLSX)
	})

	if opts.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(opts.StaticDir)))
	}
	return r
}

// Run serves handler on cfg.Addr until ctx is done.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
