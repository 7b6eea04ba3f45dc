package feed

import (
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestPriceState_ExpiresStalePrices(t *testing.T) {
	s := &priceState{expiry: time.Minute}
	now := time.Now()

	buy := decimal.NewFromInt(100)
	sell := decimal.NewFromInt(101)
	s.set(&buy, &sell, now)

	fresh := s.target(now.Add(30 * time.Second))
	if fresh.BuyPrice == nil || !fresh.BuyPrice.Equal(buy) {
		t.Errorf("fresh buy price = %v, want 100", fresh.BuyPrice)
	}
	if fresh.SellPrice == nil || !fresh.SellPrice.Equal(sell) {
		t.Errorf("fresh sell price = %v, want 101", fresh.SellPrice)
	}

	stale := s.target(now.Add(2 * time.Minute))
	if stale.BuyPrice != nil || stale.SellPrice != nil {
		t.Error("stale prices must degrade to nil on both sides")
	}
}

func TestPriceState_EmptyBeforeFirstUpdate(t *testing.T) {
	s := &priceState{expiry: time.Minute}
	got := s.target(time.Now())
	if got.BuyPrice != nil || got.SellPrice != nil {
		t.Error("no update yet, both sides must be nil")
	}
}

func TestPriceState_OneSidedUpdate(t *testing.T) {
	s := &priceState{expiry: time.Minute}
	now := time.Now()

	buy := decimal.NewFromInt(100)
	s.set(&buy, nil, now)

	got := s.target(now)
	if got.BuyPrice == nil {
		t.Error("buy price should be present")
	}
	if got.SellPrice != nil {
		t.Error("sell price was never delivered, must be nil")
	}
}

func TestWSFeed_HandleMessage(t *testing.T) {
	f := NewWSFeed("ws://unused", time.Minute, testLogger())

	f.handleMessage([]byte(`{"buyPrice":"99.5","sellPrice":"100.5"}`))

	got := f.TargetPrice(time.Now())
	if got.BuyPrice == nil || !got.BuyPrice.Equal(decimal.RequireFromString("99.5")) {
		t.Errorf("buy price = %v, want 99.5", got.BuyPrice)
	}
	if got.SellPrice == nil || !got.SellPrice.Equal(decimal.RequireFromString("100.5")) {
		t.Errorf("sell price = %v, want 100.5", got.SellPrice)
	}
}

func TestWSFeed_IgnoresBadMessages(t *testing.T) {
	f := NewWSFeed("ws://unused", time.Minute, testLogger())

	f.handleMessage([]byte(`not json`))
	f.handleMessage([]byte(`{}`))
	f.handleMessage([]byte(`{"buyPrice":"-5"}`))

	got := f.TargetPrice(time.Now())
	if got.BuyPrice != nil || got.SellPrice != nil {
		t.Error("malformed or non-positive prices must not update the state")
	}
}

func TestFixed_AlwaysReturnsPrice(t *testing.T) {
	f := Fixed{Price: decimal.NewFromInt(42)}
	got := f.TargetPrice(time.Now())
	if got.BuyPrice == nil || !got.BuyPrice.Equal(decimal.NewFromInt(42)) {
		t.Errorf("buy = %v, want 42", got.BuyPrice)
	}
	if got.SellPrice == nil || !got.SellPrice.Equal(decimal.NewFromInt(42)) {
		t.Errorf("sell = %v, want 42", got.SellPrice)
	}
}
