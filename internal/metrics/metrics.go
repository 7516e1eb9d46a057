// Package metrics exposes the Prometheus registry over HTTP.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/zonalstats/internal/core/observability"
)

type BuildInfo struct {
	Version   string
	Revision  string
	Branch    string
	BuildDate string
}

type Config struct {
	Enabled bool
	// Addr is the dedicated metrics listener; empty serves only through
	// Handler on the API router.
	Addr  string
	Path  string
	Build BuildInfo
}

// Provider gathers the process-wide collectors plus build details.
type Provider struct {
	cfg Config
	reg *prometheus.Registry
}

func Init(cfg Config) *Provider {
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	reg := prometheus.NewRegistry()

	details := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_details",
			Help: "Build details for this binary (value is always 1).",
		},
		[]string{"revision", "branch", "build_date"},
	)
	reg.MustRegister(details)
	v := cfg.Build
	details.WithLabelValues(v.Revision, v.Branch, v.BuildDate).Set(1)
	observability.ExposeBuildInfo(v.Version)

	return &Provider{cfg: cfg, reg: reg}
}

func (p *Provider) Path() string { return p.cfg.Path }

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.Gatherers{prometheus.DefaultGatherer, p.reg}, promhttp.HandlerOpts{})
}

func (p *Provider) Register(cs ...prometheus.Collector) {
	for _, c := range cs {
		p.reg.MustRegister(c)
	}
}

// Serve runs the dedicated metrics listener until ctx is done. It returns
// nil at once when no listener is configured.
func (p *Provider) Serve(ctx context.Context) error {
	if !p.cfg.Enabled || p.cfg.Addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(p.cfg.Path, p.Handler())

	srv := &http.Server{
		Addr:              p.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
