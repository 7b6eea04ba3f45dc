package band

import (
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantshed/bandkeeper/internal/domain"
	"github.com/quantshed/bandkeeper/internal/limiter"
)

// Setup is the structured band configuration for one decision cycle. It is
// rebuilt from the configuration file on every reload; the limiter histories
// are long-lived and passed in from outside so consumed volume survives.
type Setup struct {
	Buy  []Range
	Sell []Range

	BuyLimits  []limiter.Rule
	SellLimits []limiter.Rule
}

// Bands is the per-cycle band engine for both sides of the book. Immutable
// after construction.
type Bands struct {
	buy  []Band
	sell []Band

	buyLimits  *limiter.Limits
	sellLimits *limiter.Limits

	logger *slog.Logger
}

// NewBands validates and assembles the band engine. Malformed ranges are
// construction errors. Overlapping margin ranges on one side are a softer
// failure: that side degrades to zero bands, which stops new orders and lets
// CancellableOrders flatten it.
func NewBands(setup Setup, buyHistory, sellHistory *limiter.History, logger *slog.Logger) (*Bands, error) {
	log := logger.With(slog.String("component", "bands"))

	buy := make([]Band, 0, len(setup.Buy))
	for _, r := range setup.Buy {
		b, err := NewBuyBand(r)
		if err != nil {
			return nil, err
		}
		buy = append(buy, b)
	}
	sell := make([]Band, 0, len(setup.Sell))
	for _, r := range setup.Sell {
		b, err := NewSellBand(r)
		if err != nil {
			return nil, err
		}
		sell = append(sell, b)
	}

	if overlap(buy) {
		log.Warn("buy bands overlap, disabling buy side")
		buy = nil
	}
	if overlap(sell) {
		log.Warn("sell bands overlap, disabling sell side")
		sell = nil
	}

	return &Bands{
		buy:        buy,
		sell:       sell,
		buyLimits:  limiter.NewLimits(setup.BuyLimits, buyHistory),
		sellLimits: limiter.NewLimits(setup.SellLimits, sellHistory),
		logger:     log,
	}, nil
}

// overlap reports whether any two bands have intersecting margin ranges.
// Touching edges are fine; Includes is half-open at band boundaries.
func overlap(bands []Band) bool {
	if len(bands) < 2 {
		return false
	}
	sorted := make([]Band, len(bands))
	copy(sorted, bands)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Range().MinMargin.LessThan(sorted[j].Range().MinMargin)
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Range().MinMargin.LessThan(sorted[i-1].Range().MaxMargin) {
			return true
		}
	}
	return false
}

// CancellableOrders returns every order that should be cancelled: orders
// excessive within their band, orders matching no band, and, when a side has
// no target price, every order on that side.
func (b *Bands) CancellableOrders(buyOrders, sellOrders []domain.Order, target domain.TargetPrice) []domain.Order {
	out := b.cancellableSide(b.buy, buyOrders, target.BuyPrice, domain.SideBuy)
	out = append(out, b.cancellableSide(b.sell, sellOrders, target.SellPrice, domain.SideSell)...)
	return out
}

func (b *Bands) cancellableSide(bands []Band, orders []domain.Order, price *decimal.Decimal, side domain.Side) []domain.Order {
	if len(orders) == 0 {
		return nil
	}
	if price == nil {
		// No price means no confidence. Flatten the side.
		b.logger.Warn("no target price, cancelling all orders on side",
			slog.String("side", string(side)),
			slog.Int("orders", len(orders)),
		)
		return append([]domain.Order(nil), orders...)
	}

	var cancel []domain.Order
	claimed := make(map[string]bool, len(orders))
	for i, bd := range bands {
		var inBand []domain.Order
		for _, o := range orders {
			if !claimed[o.ID] && bd.Includes(o, *price) {
				claimed[o.ID] = true
				inBand = append(inBand, o)
			}
		}
		cancel = append(cancel, bd.ExcessiveOrders(inBand, *price, i == 0, i == len(bands)-1)...)
	}
	for _, o := range orders {
		if !claimed[o.ID] {
			cancel = append(cancel, o)
		}
	}
	return cancel
}

// NewOrders computes the orders needed to top every band up to its average
// amount, capped by the available balance and the side's throughput limit.
// The returned missing amounts are the balance shortfalls per side. Each
// NewOrder's Confirm closure charges the consumed amount to the limiter and
// must only run after the venue accepted the placement.
func (b *Bands) NewOrders(buyOrders, sellOrders []domain.Order, buyBalance, sellBalance decimal.Decimal, target domain.TargetPrice) ([]domain.NewOrder, decimal.Decimal, decimal.Decimal) {
	buys, missingBuy := b.newSide(b.buy, buyOrders, buyBalance, target.BuyPrice, b.buyLimits, domain.SideBuy)
	sells, missingSell := b.newSide(b.sell, sellOrders, sellBalance, target.SellPrice, b.sellLimits, domain.SideSell)
	return append(buys, sells...), missingBuy, missingSell
}

func (b *Bands) newSide(bands []Band, orders []domain.Order, balance decimal.Decimal, price *decimal.Decimal, limits *limiter.Limits, side domain.Side) ([]domain.NewOrder, decimal.Decimal) {
	missing := decimal.Zero
	if price == nil || len(bands) == 0 {
		return nil, missing
	}

	available := limits.AvailableLimit(time.Now())
	remaining := balance

	var out []domain.NewOrder
	for _, bd := range bands {
		r := bd.Range()

		total := decimal.Zero
		for _, o := range orders {
			if bd.Includes(o, *price) {
				total = total.Add(o.RemainingAmount)
			}
		}
		if total.GreaterThanOrEqual(r.MinAmount) {
			continue
		}

		p := bd.AvgPrice(*price)
		if !p.IsPositive() {
			continue
		}

		pay := r.AvgAmount.Sub(total)
		if pay.GreaterThan(available) {
			pay = available
		}
		if pay.GreaterThan(remaining) {
			missing = missing.Add(pay.Sub(remaining))
			pay = remaining
		}
		if !pay.IsPositive() || pay.LessThan(r.DustCutoff) {
			continue
		}

		var buyAmount decimal.Decimal
		if side == domain.SideBuy {
			buyAmount = pay.Div(p)
		} else {
			buyAmount = pay.Mul(p)
		}
		if !buyAmount.IsPositive() {
			continue
		}

		available = available.Sub(pay)
		remaining = remaining.Sub(pay)

		used := pay
		out = append(out, domain.NewOrder{
			Side:      side,
			Price:     p,
			PayAmount: pay,
			BuyAmount: buyAmount,
			Band:      bd,
			Confirm: func() {
				limits.UseLimit(time.Now(), used)
			},
		})

		b.logger.Info("band below minimum, creating order",
			slog.String("band", bd.String()),
			slog.String("price", p.String()),
			slog.String("pay_amount", pay.String()),
			slog.String("buy_amount", buyAmount.String()),
		)
	}
	return out, missing
}
