// Package app provides the top-level application lifecycle management for
// the band keeper. It wires together the venue adapter, price feed,
// order-book manager and keeper loop, and runs them until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/quantshed/bandkeeper/internal/config"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies and runs the refresh loop, the price feed and
// the keeper loop until the context is cancelled. The keeper's shutdown
// handling (cancel-all) happens inside its own Run.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting keeper",
		slog.String("venue", a.cfg.Venue.BaseURL),
		slog.String("bands_file", a.cfg.BandsFile),
	)

	deps, cleanup, err := Wire(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	g, gctx := errgroup.WithContext(ctx)

	// The keeper's shutdown flatten confirms book emptiness through the
	// background refresh loop, so the book must keep refreshing after the
	// run context is cancelled. It stops once the keeper has returned.
	bookCtx, stopBook := context.WithCancel(context.Background())
	defer stopBook()

	g.Go(func() error {
		err := deps.Book.Run(bookCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error { return deps.Feed.Run(gctx) })
	g.Go(func() error {
		defer stopBook()
		return deps.Keeper.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
