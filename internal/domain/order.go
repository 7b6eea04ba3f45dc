package domain

import (
	"github.com/shopspring/decimal"
)

// Side indicates whether an order buys or sells the base token.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Order is a read-only projection of an exchange-reported order. The keeper
// never mutates it; it only reads it to classify and aggregate. Price is the
// effective rate expressed in the band's own unit (sell-to-buy for buy
// orders, buy-to-sell for sell orders).
type Order struct {
	ID              string
	Side            Side
	Price           decimal.Decimal
	RemainingAmount decimal.Decimal
}

// IsBuy reports whether the order sits on the buy side of the book.
func (o Order) IsBuy() bool { return o.Side == SideBuy }

// BandRef identifies the band that produced a NewOrder. Used for logging.
type BandRef interface {
	String() string
}

// NewOrder is an order intent that has not been submitted yet. Confirm must
// be invoked exactly once, after the venue has accepted the order, so that
// throughput accounting only counts volume that was actually used.
type NewOrder struct {
	Side      Side
	Price     decimal.Decimal
	PayAmount decimal.Decimal
	BuyAmount decimal.Decimal
	Band      BandRef
	Confirm   func()
}

// TargetPrice is the fair-value reference supplied by an external feed. A nil
// side means the feed has no confidence in that side; the band engine reacts
// by flattening it.
type TargetPrice struct {
	BuyPrice  *decimal.Decimal
	SellPrice *decimal.Decimal
}

// Balances maps token symbols to available amounts. The order-book manager
// passes balances through uninterpreted; only the control loop reads them.
type Balances map[string]decimal.Decimal
