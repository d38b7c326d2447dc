package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lionelramela/deafcare/internal/health"
	"github.com/lionelramela/deafcare/internal/observe"
	"github.com/lionelramela/deafcare/internal/resilience"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Handler returns the observability mux: /metrics, /healthz and /readyz,
// wrapped in the metrics middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	health.New(a.readinessChecks()...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) readinessChecks() []health.Checker {
	return []health.Checker{
		{
			Name: "store",
			Check: func(ctx context.Context) error {
				_, err := a.store.Load(ctx, a.cfg.Cache.AlphabetSlot)
				return err
			},
		},
		{
			Name:     "inference",
			Optional: len(a.providers.TextFallbacks) > 0,
			Check: func(context.Context) error {
				if st, ok := a.text.State(primaryName); ok && st == resilience.StateOpen {
					return fmt.Errorf("%s circuit is open", primaryName)
				}
				return nil
			},
		},
	}
}

// Serve listens on addr until ctx is cancelled, then shuts the listener down
// gracefully.
func (a *App) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("observability server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: shutdown server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
