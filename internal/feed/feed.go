// Package feed supplies the target price from an external reference feed.
package feed

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantshed/bandkeeper/internal/domain"
)

// Source yields the current target price. A nil side means the feed has no
// usable price for that side right now.
type Source interface {
	TargetPrice(now time.Time) domain.TargetPrice
}

// priceState holds the most recent feed values behind a mutex. Values expire
// after the configured duration so a silent feed degrades to "no price"
// instead of quoting on stale data.
type priceState struct {
	mu        sync.Mutex
	buy       *decimal.Decimal
	sell      *decimal.Decimal
	updatedAt time.Time
	expiry    time.Duration
}

func (s *priceState) set(buy, sell *decimal.Decimal, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buy = buy
	s.sell = sell
	s.updatedAt = at
}

func (s *priceState) target(now time.Time) domain.TargetPrice {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updatedAt.IsZero() || now.Sub(s.updatedAt) > s.expiry {
		return domain.TargetPrice{}
	}
	return domain.TargetPrice{BuyPrice: s.buy, SellPrice: s.sell}
}

// Fixed is a Source that always returns the same price on both sides.
// Useful for tests and dry runs.
type Fixed struct {
	Price decimal.Decimal
}

func (f Fixed) TargetPrice(time.Time) domain.TargetPrice {
	p := f.Price
	return domain.TargetPrice{BuyPrice: &p, SellPrice: &p}
}
