package app

import (
	"log/slog"

	"github.com/quantshed/bandkeeper/internal/book"
	"github.com/quantshed/bandkeeper/internal/config"
	"github.com/quantshed/bandkeeper/internal/feed"
	"github.com/quantshed/bandkeeper/internal/keeper"
	"github.com/quantshed/bandkeeper/internal/venue/rest"
)

// Dependencies bundles the long-lived components the application runs.
type Dependencies struct {
	Book   *book.Manager
	Feed   *feed.WSFeed
	Keeper *keeper.Keeper
}

// Wire constructs the concrete dependency graph from the configuration and
// returns it together with a cleanup function for shutdown.
func Wire(cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	venue := rest.NewClient(cfg.Venue.BaseURL, &rest.HMACAuth{
		Key:    cfg.Venue.APIKey,
		Secret: cfg.Venue.APISecret,
	}, cfg.Venue.Timeout.Duration)

	priceFeed := feed.NewWSFeed(cfg.Feed.WSURL, cfg.Feed.Expiry.Duration, logger)

	bookManager := book.NewManager(venue, cfg.Book.RefreshInterval.Duration, cfg.Book.MaxInFlight, logger)

	k := keeper.New(cfg, bookManager, venue, priceFeed, logger)

	return &Dependencies{
		Book:   bookManager,
		Feed:   priceFeed,
		Keeper: k,
	}, cleanup, nil
}
