// Package server wires the HTTP router and runs the listener.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/geonav-cache/internal/core/config"
	"github.com/mohammed-shakir/geonav-cache/internal/core/health"
	middleware "github.com/mohammed-shakir/geonav-cache/internal/core/middleware"
	"github.com/mohammed-shakir/geonav-cache/internal/core/router"
)

// Handler builds the full route tree. A nil metrics handler leaves
// /metrics unmounted, for when it has a listener of its own.
func Handler(cfg config.Config, logger *slog.Logger, api *router.API, metrics http.Handler, checks ...health.Check) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.AppOrigin))

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(checks...))
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	api.Mount(r)
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, h http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
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
