// Package band implements the margin/amount band engine: classifying open
// orders into bands, selecting excessive orders for cancellation, and sizing
// replacement orders subject to balance and throughput caps.
package band

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/quantshed/bandkeeper/internal/domain"
)

// Range holds the margin and amount bounds shared by both band sides.
type Range struct {
	MinMargin decimal.Decimal
	AvgMargin decimal.Decimal
	MaxMargin decimal.Decimal

	MinAmount  decimal.Decimal
	AvgAmount  decimal.Decimal
	MaxAmount  decimal.Decimal
	DustCutoff decimal.Decimal
}

// validate enforces the construction invariants. A violation means the
// configuration loader produced garbage and must be surfaced, not tolerated.
func (r Range) validate() error {
	if r.MinMargin.GreaterThan(r.AvgMargin) || r.AvgMargin.GreaterThan(r.MaxMargin) {
		return fmt.Errorf("band: margins must satisfy min <= avg <= max: %w", domain.ErrInvalidBand)
	}
	if !r.MinMargin.LessThan(r.MaxMargin) {
		return fmt.Errorf("band: min margin must be strictly below max margin: %w", domain.ErrInvalidBand)
	}
	if r.MinAmount.IsNegative() {
		return fmt.Errorf("band: amounts must be non-negative: %w", domain.ErrInvalidBand)
	}
	if r.MinAmount.GreaterThan(r.AvgAmount) || r.AvgAmount.GreaterThan(r.MaxAmount) {
		return fmt.Errorf("band: amounts must satisfy min <= avg <= max: %w", domain.ErrInvalidBand)
	}
	if r.DustCutoff.IsNegative() {
		return fmt.Errorf("band: dust cutoff must be non-negative: %w", domain.ErrInvalidBand)
	}
	return nil
}

// Band is one contiguous margin range on one side of the book. The two
// implementations share the excessive-order selection algorithm and differ
// only in membership testing and price direction.
type Band interface {
	domain.BandRef

	// Side reports which side of the book the band quotes.
	Side() domain.Side

	// Range returns the configured margin/amount bounds.
	Range() Range

	// Includes reports whether the order's price falls inside the band at
	// the given target price. Band edges are half-open so an order at an
	// exact edge is counted by exactly one band.
	Includes(order domain.Order, target decimal.Decimal) bool

	// AvgPrice is the price at which this band quotes new orders.
	AvgPrice(target decimal.Decimal) decimal.Decimal

	// ExcessiveOrders selects the subset of in-band orders to cancel so
	// that the retained total does not exceed MaxAmount. isFirst and
	// isLast pick the tie-break policy.
	ExcessiveOrders(orders []domain.Order, target decimal.Decimal, isFirst, isLast bool) []domain.Order
}

// BuyBand quotes below the target price; price decreases as margin grows.
type BuyBand struct {
	r Range
}

// SellBand quotes above the target price; price increases as margin grows.
type SellBand struct {
	r Range
}

// NewBuyBand validates r and returns a buy band.
func NewBuyBand(r Range) (BuyBand, error) {
	if err := r.validate(); err != nil {
		return BuyBand{}, err
	}
	return BuyBand{r: r}, nil
}

// NewSellBand validates r and returns a sell band.
func NewSellBand(r Range) (SellBand, error) {
	if err := r.validate(); err != nil {
		return SellBand{}, err
	}
	return SellBand{r: r}, nil
}

func (b BuyBand) Side() domain.Side  { return domain.SideBuy }
func (b SellBand) Side() domain.Side { return domain.SideSell }

func (b BuyBand) Range() Range  { return b.r }
func (b SellBand) Range() Range { return b.r }

func (b BuyBand) String() string {
	return fmt.Sprintf("buy band %s..%s", b.r.MinMargin, b.r.MaxMargin)
}

func (b SellBand) String() string {
	return fmt.Sprintf("sell band %s..%s", b.r.MinMargin, b.r.MaxMargin)
}

// buyPrice applies a buy margin: target * (1 - margin).
func buyPrice(target, margin decimal.Decimal) decimal.Decimal {
	return target.Mul(decimal.NewFromInt(1).Sub(margin))
}

// sellPrice applies a sell margin: target * (1 + margin).
func sellPrice(target, margin decimal.Decimal) decimal.Decimal {
	return target.Mul(decimal.NewFromInt(1).Add(margin))
}

func (b BuyBand) AvgPrice(target decimal.Decimal) decimal.Decimal {
	return buyPrice(target, b.r.AvgMargin)
}

func (b SellBand) AvgPrice(target decimal.Decimal) decimal.Decimal {
	return sellPrice(target, b.r.AvgMargin)
}

// Includes for a buy band: price in (priceAt(maxMargin), priceAt(minMargin)].
func (b BuyBand) Includes(order domain.Order, target decimal.Decimal) bool {
	floor := buyPrice(target, b.r.MaxMargin)
	ceil := buyPrice(target, b.r.MinMargin)
	return order.Price.GreaterThan(floor) && order.Price.LessThanOrEqual(ceil)
}

// Includes for a sell band: price in [priceAt(minMargin), priceAt(maxMargin)).
func (b SellBand) Includes(order domain.Order, target decimal.Decimal) bool {
	floor := sellPrice(target, b.r.MinMargin)
	ceil := sellPrice(target, b.r.MaxMargin)
	return order.Price.GreaterThanOrEqual(floor) && order.Price.LessThan(ceil)
}

func (b BuyBand) ExcessiveOrders(orders []domain.Order, target decimal.Decimal, isFirst, isLast bool) []domain.Order {
	// A buy order is closer to the target when its price is higher.
	distance := func(o domain.Order) decimal.Decimal { return target.Sub(o.Price) }
	return excessiveOrders(orders, b.r.MaxAmount, isFirst, isLast, distance)
}

func (b SellBand) ExcessiveOrders(orders []domain.Order, target decimal.Decimal, isFirst, isLast bool) []domain.Order {
	// A sell order is closer to the target when its price is lower.
	distance := func(o domain.Order) decimal.Decimal { return o.Price.Sub(target) }
	return excessiveOrders(orders, b.r.MaxAmount, isFirst, isLast, distance)
}

// excessiveOrders removes orders greedily, one at a time in cancel-priority
// order, until the retained total no longer exceeds maxAmount. The first
// band cancels nearest-to-target first (closest bands get filled first, so
// keep the far ones); the last band cancels furthest first; interior bands
// cancel the smallest orders first.
func excessiveOrders(orders []domain.Order, maxAmount decimal.Decimal, isFirst, isLast bool, distance func(domain.Order) decimal.Decimal) []domain.Order {
	total := decimal.Zero
	for _, o := range orders {
		total = total.Add(o.RemainingAmount)
	}
	if total.LessThanOrEqual(maxAmount) {
		return nil
	}

	sorted := make([]domain.Order, len(orders))
	copy(sorted, orders)
	switch {
	case isFirst:
		sort.SliceStable(sorted, func(i, j int) bool {
			return distance(sorted[i]).LessThan(distance(sorted[j]))
		})
	case isLast:
		sort.SliceStable(sorted, func(i, j int) bool {
			return distance(sorted[i]).GreaterThan(distance(sorted[j]))
		})
	default:
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].RemainingAmount.LessThan(sorted[j].RemainingAmount)
		})
	}

	var cancel []domain.Order
	for _, o := range sorted {
		if total.LessThanOrEqual(maxAmount) {
			break
		}
		cancel = append(cancel, o)
		total = total.Sub(o.RemainingAmount)
	}
	return cancel
}
