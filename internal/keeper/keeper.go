// Package keeper runs the per-tick decision loop: read the order book, ask
// the band engine what to cancel, cancel, ask what to place, place.
package keeper

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/quantshed/bandkeeper/internal/band"
	"github.com/quantshed/bandkeeper/internal/book"
	"github.com/quantshed/bandkeeper/internal/config"
	"github.com/quantshed/bandkeeper/internal/domain"
	"github.com/quantshed/bandkeeper/internal/feed"
	"github.com/quantshed/bandkeeper/internal/limiter"
)

// Keeper ties the order-book manager, band engine and price feed together.
// Bands are rebuilt from the bands file whenever it changes on disk; the
// limiter histories persist across rebuilds so throughput caps keep their
// memory.
type Keeper struct {
	cfg    config.KeeperConfig
	venueC config.VenueConfig

	bandsPath string
	book      *book.Manager
	venue     domain.VenueAdapter
	source    feed.Source
	logger    *slog.Logger

	buyHistory  *limiter.History
	sellHistory *limiter.History

	bands        *band.Bands
	bandsModTime time.Time
}

// New creates a Keeper. The bands file is loaded on the first tick; a broken
// file at startup is fatal.
func New(cfg *config.Config, bk *book.Manager, venue domain.VenueAdapter, source feed.Source, logger *slog.Logger) *Keeper {
	return &Keeper{
		cfg:         cfg.Keeper,
		venueC:      cfg.Venue,
		bandsPath:   cfg.BandsFile,
		book:        bk,
		venue:       venue,
		source:      source,
		logger:      logger.With(slog.String("component", "keeper")),
		buyHistory:  limiter.NewHistory(),
		sellHistory: limiter.NewHistory(),
	}
}

// Run executes the tick loop until ctx is cancelled, then optionally cancels
// every outstanding order before returning.
func (k *Keeper) Run(ctx context.Context) error {
	if err := k.reloadBands(); err != nil {
		return fmt.Errorf("keeper: load bands: %w", err)
	}

	ticker := time.NewTicker(k.cfg.TickInterval.Duration)
	defer ticker.Stop()

	k.logger.Info("keeper started",
		slog.Duration("tick_interval", k.cfg.TickInterval.Duration))

	for {
		select {
		case <-ctx.Done():
			return k.shutdown()
		case <-ticker.C:
			if err := k.tick(ctx); err != nil {
				if ctx.Err() != nil {
					return k.shutdown()
				}
				k.logger.Warn("tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

// shutdown flattens the book on exit when configured to. It runs on a fresh
// context because the run context is already cancelled.
func (k *Keeper) shutdown() error {
	if !k.cfg.CancelOnShutdown {
		k.logger.Info("keeper stopped, leaving orders in place")
		return nil
	}
	k.logger.Info("keeper stopping, cancelling all orders")

	timeout := k.cfg.ShutdownTimeout.Duration
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := k.book.CancelAllOrders(ctx, k.cancelOrder, k.cfg.FinalWaitTime.Duration); err != nil {
		return fmt.Errorf("keeper: cancel all on shutdown: %w", err)
	}
	return nil
}

// tick performs one decision cycle.
func (k *Keeper) tick(ctx context.Context) error {
	if err := k.reloadBands(); err != nil {
		// Keep quoting with the last good configuration.
		k.logger.Warn("bands reload failed, keeping previous bands",
			slog.String("error", err.Error()))
	}

	snap, err := k.book.GetOrderBook(ctx)
	if err != nil {
		return err
	}
	if snap.OrdersBeingPlaced || snap.OrdersBeingCancelled {
		k.logger.Debug("orders in flight, skipping tick")
		return nil
	}

	target := k.source.TargetPrice(time.Now())
	buyOrders := snap.BuyOrders()
	sellOrders := snap.SellOrders()

	cancels := k.bands.CancellableOrders(buyOrders, sellOrders, target)
	if len(cancels) > 0 {
		k.logger.Info("cancelling orders", slog.Int("count", len(cancels)))
		k.book.CancelOrders(ctx, cancels, k.cancelOrder)
	}

	cancelled := make(map[string]bool, len(cancels))
	for _, o := range cancels {
		cancelled[o.ID] = true
	}
	buyOrders = withoutCancelled(buyOrders, cancelled)
	sellOrders = withoutCancelled(sellOrders, cancelled)

	newOrders, missingBuy, missingSell := k.bands.NewOrders(
		buyOrders, sellOrders,
		snap.Balances[k.venueC.QuoteToken], snap.Balances[k.venueC.BaseToken],
		target,
	)
	if missingBuy.IsPositive() || missingSell.IsPositive() {
		k.logger.Warn("insufficient balance for full band coverage",
			slog.String("missing_buy", missingBuy.String()),
			slog.String("missing_sell", missingSell.String()),
		)
	}
	if len(newOrders) == 0 {
		return nil
	}

	places := make([]book.PlaceFn, 0, len(newOrders))
	for _, no := range newOrders {
		places = append(places, k.placeOrder(no))
	}
	k.book.PlaceOrders(ctx, places)
	return nil
}

func withoutCancelled(orders []domain.Order, cancelled map[string]bool) []domain.Order {
	out := orders[:0]
	for _, o := range orders {
		if !cancelled[o.ID] {
			out = append(out, o)
		}
	}
	return out
}

// placeOrder wraps one intent as a book placement. Confirm fires only after
// the venue accepted the order, so the throughput limiter charges real
// volume only.
func (k *Keeper) placeOrder(no domain.NewOrder) book.PlaceFn {
	return func(ctx context.Context) (*domain.Order, error) {
		placed, err := k.venue.PlaceOrder(ctx, no)
		if err == nil && placed != nil && no.Confirm != nil {
			no.Confirm()
		}
		return placed, err
	}
}

func (k *Keeper) cancelOrder(ctx context.Context, o domain.Order) (bool, error) {
	return k.venue.CancelOrder(ctx, o)
}

// reloadBands rebuilds the band engine when the bands file changed on disk.
func (k *Keeper) reloadBands() error {
	info, err := os.Stat(k.bandsPath)
	if err != nil {
		return err
	}
	if k.bands != nil && info.ModTime().Equal(k.bandsModTime) {
		return nil
	}

	doc, err := config.LoadBandsFile(k.bandsPath)
	if err != nil {
		return err
	}
	setup, err := doc.Setup()
	if err != nil {
		return err
	}
	bands, err := band.NewBands(setup, k.buyHistory, k.sellHistory, k.logger)
	if err != nil {
		return err
	}

	k.bands = bands
	k.bandsModTime = info.ModTime()
	k.logger.Info("bands loaded",
		slog.Int("buy_bands", len(doc.BuyBands)),
		slog.Int("sell_bands", len(doc.SellBands)),
	)
	return nil
}
