// Package book maintains a locally-cached, concurrently-refreshed view of
// remote order-book state. Placements and cancellations are optimistic: their
// effects are visible in the local view immediately and are confirmed or
// corrected by the next background refresh.
package book

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantshed/bandkeeper/internal/domain"
)

const (
	pollInitial = 50 * time.Millisecond
	pollMax     = time.Second
)

// PlaceFn performs the blocking venue call for one placement. A nil order
// with nil error means the venue rejected the placement.
type PlaceFn func(ctx context.Context) (*domain.Order, error)

// CancelFn performs the blocking venue call for one cancellation. true means
// the venue confirmed the cancel.
type CancelFn func(ctx context.Context, order domain.Order) (bool, error)

// orderState is the optimistic lifecycle of a tracked order ID. An ID is in
// at most one state; absence means the last refresh is authoritative.
type orderState int

const (
	statePlaced orderState = iota + 1
	stateCancelling
	stateCancelled
)

type tracked struct {
	state orderState
	order domain.Order
}

// Manager owns the lagging local view of venue orders and balances. All
// mutable state sits behind one mutex; critical sections never include the
// network call itself.
type Manager struct {
	venue       domain.VenueAdapter
	interval    time.Duration
	maxInFlight int
	logger      *slog.Logger

	sem chan struct{}

	mu                 sync.Mutex
	orders             []domain.Order
	balances           domain.Balances
	trackedOrders      map[string]tracked
	placementsInFly    int
	cancellationsInFly int
	refreshes          int64
	haveSnapshot       bool
}

// NewManager creates a Manager that refreshes from venue every interval.
// maxInFlight bounds concurrent venue calls during order storms; zero or
// negative means a default of 16.
func NewManager(venue domain.VenueAdapter, interval time.Duration, maxInFlight int, logger *slog.Logger) *Manager {
	if maxInFlight <= 0 {
		maxInFlight = 16
	}
	return &Manager{
		venue:         venue,
		interval:      interval,
		maxInFlight:   maxInFlight,
		logger:        logger.With(slog.String("component", "order_book")),
		sem:           make(chan struct{}, maxInFlight),
		trackedOrders: make(map[string]tracked),
	}
}

// Run executes the background refresh loop until ctx is cancelled. Fetch
// failures are logged and swallowed; the loop never stops on error.
func (m *Manager) Run(ctx context.Context) error {
	m.refreshOnce(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.refreshOnce(ctx)
		}
	}
}

// refreshOnce fetches orders and balances and reconciles the optimistic
// sets. Only entries that already existed before the fetch started are
// dropped; an order placed or cancelled during the fetch is not reflected in
// the fetched data and must survive until the next cycle.
func (m *Manager) refreshOnce(ctx context.Context) {
	m.mu.Lock()
	before := make(map[string]orderState, len(m.trackedOrders))
	for id, t := range m.trackedOrders {
		before[id] = t.state
	}
	m.mu.Unlock()

	orders, err := m.venue.GetOrders(ctx)
	if err != nil {
		m.logger.Warn("order refresh failed", slog.String("error", err.Error()))
		return
	}
	balances, err := m.venue.GetBalances(ctx)
	if err != nil {
		m.logger.Warn("balance refresh failed", slog.String("error", err.Error()))
		return
	}

	m.mu.Lock()
	m.orders = orders
	m.balances = balances
	for id, t := range m.trackedOrders {
		if before[id] != t.state {
			continue
		}
		switch t.state {
		case statePlaced, stateCancelled:
			delete(m.trackedOrders, id)
		}
	}
	m.refreshes++
	m.haveSnapshot = true
	m.mu.Unlock()

	m.logger.Debug("order book refreshed", slog.Int("orders", len(orders)))
}

// GetOrderBook returns the merged snapshot. On startup it polls with backoff
// until the first refresh has completed. It never mutates state.
func (m *Manager) GetOrderBook(ctx context.Context) (domain.Snapshot, error) {
	delay := pollInitial
	for {
		m.mu.Lock()
		if m.haveSnapshot {
			snap := m.snapshotLocked()
			m.mu.Unlock()
			return snap, nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.Snapshot{}, fmt.Errorf("book: %w: %w", domain.ErrNoSnapshot, ctx.Err())
		case <-time.After(delay):
		}
		if delay *= 2; delay > pollMax {
			delay = pollMax
		}
	}
}

// snapshotLocked merges refreshed state with the optimistic sets. Caller
// holds m.mu.
func (m *Manager) snapshotLocked() domain.Snapshot {
	seen := make(map[string]bool, len(m.orders))
	orders := make([]domain.Order, 0, len(m.orders))
	for _, o := range m.orders {
		t, ok := m.trackedOrders[o.ID]
		if ok && (t.state == stateCancelling || t.state == stateCancelled) {
			continue
		}
		seen[o.ID] = true
		orders = append(orders, o)
	}
	for id, t := range m.trackedOrders {
		if t.state == statePlaced && !seen[id] {
			orders = append(orders, t.order)
		}
	}
	return domain.Snapshot{
		Orders:               orders,
		Balances:             m.balances,
		OrdersBeingPlaced:    m.placementsInFly > 0,
		OrdersBeingCancelled: m.cancellationsInFly > 0,
	}
}

// PlaceOrder asynchronously submits one placement. The in-flight counter is
// bumped before dispatch so OrdersBeingPlaced flips immediately; on success
// the returned order joins the optimistic placed set, on failure nothing
// changes and the next refresh remains authoritative.
func (m *Manager) PlaceOrder(ctx context.Context, place PlaceFn) {
	m.mu.Lock()
	m.placementsInFly++
	m.mu.Unlock()

	go func() {
		m.sem <- struct{}{}
		defer func() { <-m.sem }()

		order, err := place(ctx)

		m.mu.Lock()
		m.placementsInFly--
		if err == nil && order != nil {
			m.trackedOrders[order.ID] = tracked{state: statePlaced, order: *order}
		}
		m.mu.Unlock()

		switch {
		case err != nil:
			m.logger.Warn("order placement failed", slog.String("error", err.Error()))
		case order == nil:
			m.logger.Warn("order placement rejected by venue")
		default:
			m.logger.Info("order placed", slog.String("order_id", order.ID))
		}
	}()
}

// PlaceOrders dispatches a batch of placements concurrently.
func (m *Manager) PlaceOrders(ctx context.Context, places []PlaceFn) {
	for _, p := range places {
		m.PlaceOrder(ctx, p)
	}
}

// CancelOrder marks the order as cancelling immediately, so it disappears
// from the next GetOrderBook even before the venue call completes, then
// performs the cancel asynchronously. On failure the mark is removed: the
// cancel may or may not have landed at the venue, and only the next refresh
// can resolve that ambiguity.
func (m *Manager) CancelOrder(ctx context.Context, order domain.Order, cancel CancelFn) {
	m.mu.Lock()
	m.trackedOrders[order.ID] = tracked{state: stateCancelling, order: order}
	m.cancellationsInFly++
	m.mu.Unlock()

	go func() {
		m.sem <- struct{}{}
		defer func() { <-m.sem }()

		ok, err := cancel(ctx, order)

		m.mu.Lock()
		m.cancellationsInFly--
		if err == nil && ok {
			m.trackedOrders[order.ID] = tracked{state: stateCancelled, order: order}
		} else if t, exists := m.trackedOrders[order.ID]; exists && t.state == stateCancelling {
			delete(m.trackedOrders, order.ID)
		}
		m.mu.Unlock()

		switch {
		case err != nil:
			m.logger.Warn("order cancel failed", slog.String("order_id", order.ID), slog.String("error", err.Error()))
		case !ok:
			m.logger.Warn("order cancel not confirmed", slog.String("order_id", order.ID))
		default:
			m.logger.Info("order cancelled", slog.String("order_id", order.ID))
		}
	}()
}

// CancelOrders dispatches a batch of cancellations concurrently.
func (m *Manager) CancelOrders(ctx context.Context, orders []domain.Order, cancel CancelFn) {
	for _, o := range orders {
		m.CancelOrder(ctx, o, cancel)
	}
}

// ReplaceOrders issues the cancellations and placements concurrently. There
// is no guarantee that cancels complete before placements start; the local
// view is the only coordination point.
func (m *Manager) ReplaceOrders(ctx context.Context, cancels []domain.Order, cancel CancelFn, places []PlaceFn) {
	m.CancelOrders(ctx, cancels, cancel)
	m.PlaceOrders(ctx, places)
}

// CancelAllOrders cancels until the book is empty and stays empty across two
// full refresh cycles. Two, not one: a refresh started concurrently with the
// cancellation may still reflect a stale mid-cancellation state. When
// finalWait is positive, it then sleeps that long and re-verifies once more,
// for venues where settlement can resurrect an order after apparent
// cancellation.
func (m *Manager) CancelAllOrders(ctx context.Context, cancel CancelFn, finalWait time.Duration) error {
	for {
		if err := m.cancelUntilEmpty(ctx, cancel); err != nil {
			return err
		}
		if finalWait <= 0 {
			return nil
		}

		m.logger.Info("order book empty, waiting before final verification",
			slog.Duration("wait", finalWait))
		select {
		case <-ctx.Done():
			return fmt.Errorf("book: cancel all: %w", ctx.Err())
		case <-time.After(finalWait):
		}

		snap, err := m.GetOrderBook(ctx)
		if err != nil {
			return err
		}
		if len(snap.Orders) == 0 {
			return nil
		}
		m.logger.Warn("orders reappeared after final wait, cancelling again",
			slog.Int("orders", len(snap.Orders)))
	}
}

func (m *Manager) cancelUntilEmpty(ctx context.Context, cancel CancelFn) error {
	for {
		snap, err := m.GetOrderBook(ctx)
		if err != nil {
			return err
		}
		if len(snap.Orders) == 0 {
			if err := m.waitForRefreshes(ctx, 2); err != nil {
				return err
			}
			snap, err = m.GetOrderBook(ctx)
			if err != nil {
				return err
			}
			if len(snap.Orders) == 0 {
				return nil
			}
			continue
		}

		m.logger.Info("cancelling all orders", slog.Int("orders", len(snap.Orders)))
		m.CancelOrders(ctx, snap.Orders, cancel)
		if err := m.waitForSettled(ctx); err != nil {
			return err
		}
		if err := m.waitForRefreshes(ctx, 2); err != nil {
			return err
		}
	}
}

// waitForSettled polls until no placement or cancellation is in flight.
func (m *Manager) waitForSettled(ctx context.Context) error {
	for {
		m.mu.Lock()
		settled := m.placementsInFly == 0 && m.cancellationsInFly == 0
		m.mu.Unlock()
		if settled {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("book: wait for settle: %w", ctx.Err())
		case <-time.After(pollInitial):
		}
	}
}

// waitForRefreshes polls until n further background refreshes complete.
func (m *Manager) waitForRefreshes(ctx context.Context, n int64) error {
	m.mu.Lock()
	until := m.refreshes + n
	m.mu.Unlock()
	for {
		m.mu.Lock()
		done := m.refreshes >= until
		m.mu.Unlock()
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("book: wait for refresh: %w", ctx.Err())
		case <-time.After(pollInitial):
		}
	}
}
