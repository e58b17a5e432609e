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

	"github.com/mohammed-shakir/geodata-retrieval/internal/core/health"
	middleware "github.com/mohammed-shakir/geodata-retrieval/internal/core/middleware"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/model"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/router"
)

type Deps struct {
	Datasets []model.Dataset
	Layers   router.LayerSource
	Fetcher  router.Fetcher
	// Metrics serves /metrics; nil means the default Prometheus registry
	Metrics http.Handler
	Ready   map[string]health.Check
}

func Routes(logger *slog.Logger, d Deps) http.Handler {
	metrics := d.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Ready))
	r.Method(http.MethodGet, "/metrics", metrics)
	r.Get("/datasets", router.HandleDatasets(d.Datasets))
	r.Get("/datasets/{name}/layers", router.HandleLayers(d.Datasets, d.Layers))
	r.Post("/fetch", router.HandleFetch(logger, d.Datasets, d.Layers, d.Fetcher))
	return r
}

// Run serves handler on addr until ctx is done
func Run(ctx context.Context, addr string, logger *slog.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// paging through a large layer takes a while
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
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
