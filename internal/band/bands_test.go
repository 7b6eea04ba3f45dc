package band

import (
	"log/slog"
	"testing"
	"time"

	"github.com/quantshed/bandkeeper/internal/domain"
	"github.com/quantshed/bandkeeper/internal/limiter"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestBands(t *testing.T, setup Setup) *Bands {
	t.Helper()
	b, err := NewBands(setup, limiter.NewHistory(), limiter.NewHistory(), discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func target(buy, sell string) domain.TargetPrice {
	var tp domain.TargetPrice
	if buy != "" {
		p := dec(buy)
		tp.BuyPrice = &p
	}
	if sell != "" {
		p := dec(sell)
		tp.SellPrice = &p
	}
	return tp
}

func TestNewBands_InvalidRangeIsFatal(t *testing.T) {
	bad := testRange()
	bad.MinMargin = dec("0.99")

	_, err := NewBands(Setup{Buy: []Range{bad}}, limiter.NewHistory(), limiter.NewHistory(), discardLogger())
	if err == nil {
		t.Fatal("expected construction error for malformed band")
	}
}

func TestNewBands_OverlapDisablesSide(t *testing.T) {
	overlapping := Setup{
		Buy: []Range{
			{MinMargin: dec("0.01"), AvgMargin: dec("0.02"), MaxMargin: dec("0.03"),
				MinAmount: dec("50"), AvgAmount: dec("75"), MaxAmount: dec("100")},
			{MinMargin: dec("0.02"), AvgMargin: dec("0.04"), MaxMargin: dec("0.05"),
				MinAmount: dec("50"), AvgAmount: dec("75"), MaxAmount: dec("100")},
		},
	}
	b := newTestBands(t, overlapping)

	orders := []domain.Order{buyOrder("a", "97", "60")}
	tp := target("100", "100")

	got, _, _ := b.NewOrders(orders, nil, dec("1000"), dec("1000"), tp)
	if len(got) != 0 {
		t.Errorf("overlapping side should place nothing, got %d orders", len(got))
	}

	// With zero bands on the side, every order is unmatched and cancellable.
	cancels := b.CancellableOrders(orders, nil, tp)
	if len(cancels) != 1 || cancels[0].ID != "a" {
		t.Errorf("overlapping side should flatten, got %v", cancelIDs(cancels))
	}
}

func TestNewBands_TouchingEdgesAreNotOverlap(t *testing.T) {
	touching := Setup{
		Buy: []Range{
			{MinMargin: dec("0.01"), AvgMargin: dec("0.02"), MaxMargin: dec("0.03"),
				MinAmount: dec("50"), AvgAmount: dec("75"), MaxAmount: dec("100")},
			{MinMargin: dec("0.03"), AvgMargin: dec("0.04"), MaxMargin: dec("0.05"),
				MinAmount: dec("50"), AvgAmount: dec("75"), MaxAmount: dec("100")},
		},
	}
	b := newTestBands(t, touching)

	got, _, _ := b.NewOrders(nil, nil, dec("1000"), dec("1000"), target("100", "100"))
	if len(got) != 2 {
		t.Errorf("touching bands are valid, expected 2 new orders, got %d", len(got))
	}
}

func TestCancellableOrders_MissingPriceFlattensSide(t *testing.T) {
	b := newTestBands(t, Setup{Buy: []Range{testRange()}, Sell: []Range{testRange()}})

	buys := []domain.Order{buyOrder("b1", "97", "60"), buyOrder("b2", "96", "10")}
	sells := []domain.Order{sellOrder("s1", "104", "60")}

	cancels := b.CancellableOrders(buys, sells, target("", "100"))

	got := map[string]bool{}
	for _, o := range cancels {
		got[o.ID] = true
	}
	if !got["b1"] || !got["b2"] {
		t.Errorf("all buy orders should be cancelled without a buy price, got %v", cancelIDs(cancels))
	}
	if got["s1"] {
		t.Errorf("sell side has a price and its orders fit the band, s1 should stay")
	}
}

func TestCancellableOrders_UnmatchedOrdersAreCancelled(t *testing.T) {
	b := newTestBands(t, Setup{Buy: []Range{testRange()}})

	orders := []domain.Order{
		buyOrder("inband", "97", "60"),
		buyOrder("stray", "80", "10"),
	}
	cancels := b.CancellableOrders(orders, nil, target("100", "100"))
	if len(cancels) != 1 || cancels[0].ID != "stray" {
		t.Errorf("expected only the stray order cancelled, got %v", cancelIDs(cancels))
	}
}

func TestCancellableOrders_ExcessiveInBand(t *testing.T) {
	b := newTestBands(t, Setup{Buy: []Range{testRange()}})

	// 96 in band is fine; grown past max amount it becomes excessive.
	ok := b.CancellableOrders([]domain.Order{buyOrder("o", "96", "96")}, nil, target("100", ""))
	if len(ok) != 0 {
		t.Errorf("96 <= max 100, nothing to cancel, got %v", cancelIDs(ok))
	}

	grown := b.CancellableOrders([]domain.Order{buyOrder("o", "96", "101")}, nil, target("100", ""))
	if len(grown) != 1 || grown[0].ID != "o" {
		t.Errorf("101 > max 100, order should be cancelled, got %v", cancelIDs(grown))
	}
}

func TestNewOrders_SizesAndPricesBuyOrder(t *testing.T) {
	b := newTestBands(t, Setup{Buy: []Range{testRange()}})

	got, missingBuy, missingSell := b.NewOrders(nil, nil, dec("1000000"), dec("1000000"), target("100", ""))
	if len(got) != 1 {
		t.Fatalf("expected one new order, got %d", len(got))
	}

	o := got[0]
	if o.Side != domain.SideBuy {
		t.Errorf("side = %v, want buy", o.Side)
	}
	if !o.Price.Equal(dec("96")) {
		t.Errorf("price = %v, want 96", o.Price)
	}
	if !o.PayAmount.Equal(dec("75")) {
		t.Errorf("pay amount = %v, want 75", o.PayAmount)
	}
	if !o.BuyAmount.Equal(dec("0.78125")) {
		t.Errorf("buy amount = %v, want 0.78125", o.BuyAmount)
	}
	if !missingBuy.IsZero() || !missingSell.IsZero() {
		t.Errorf("no shortfall expected, got %v / %v", missingBuy, missingSell)
	}
	if o.Band == nil || o.Confirm == nil {
		t.Error("new order must carry its band and a confirm closure")
	}
}

func TestNewOrders_SufficientInventoryPlacesNothing(t *testing.T) {
	b := newTestBands(t, Setup{Buy: []Range{testRange()}})

	existing := []domain.Order{buyOrder("o", "96", "96")}
	got, _, _ := b.NewOrders(existing, nil, dec("1000000"), dec("1000000"), target("100", ""))
	if len(got) != 0 {
		t.Errorf("96 >= min 50, expected no new orders, got %d", len(got))
	}
}

func TestNewOrders_TopsUpToAverage(t *testing.T) {
	b := newTestBands(t, Setup{Buy: []Range{testRange()}})

	existing := []domain.Order{buyOrder("o", "96", "30")}
	got, _, _ := b.NewOrders(existing, nil, dec("1000000"), dec("1000000"), target("100", ""))
	if len(got) != 1 {
		t.Fatalf("30 < min 50, expected a top-up order, got %d", len(got))
	}
	if !got[0].PayAmount.Equal(dec("45")) {
		t.Errorf("top-up = %v, want 45 (avg 75 - total 30)", got[0].PayAmount)
	}
}

func TestNewOrders_DustCutoffSuppressesOrder(t *testing.T) {
	r := testRange()
	r.DustCutoff = dec("50")
	b := newTestBands(t, Setup{Buy: []Range{r}})

	// Top-up of 45 is below the dust cutoff.
	existing := []domain.Order{buyOrder("o", "96", "30")}
	got, _, _ := b.NewOrders(existing, nil, dec("1000000"), dec("1000000"), target("100", ""))
	if len(got) != 0 {
		t.Errorf("top-up below dust cutoff should be suppressed, got %d orders", len(got))
	}
}

func TestNewOrders_BalanceCapAndMissingAmount(t *testing.T) {
	b := newTestBands(t, Setup{Buy: []Range{testRange()}})

	got, missingBuy, _ := b.NewOrders(nil, nil, dec("20"), dec("0"), target("100", ""))
	if len(got) != 1 {
		t.Fatalf("expected one balance-capped order, got %d", len(got))
	}
	if !got[0].PayAmount.Equal(dec("20")) {
		t.Errorf("pay amount = %v, want 20 (capped by balance)", got[0].PayAmount)
	}
	if !missingBuy.Equal(dec("55")) {
		t.Errorf("missing buy = %v, want 55 (wanted 75, had 20)", missingBuy)
	}
}

func TestNewOrders_LimiterCapsAndConfirmCharges(t *testing.T) {
	setup := Setup{
		Buy:       []Range{testRange()},
		BuyLimits: []limiter.Rule{{MaxAmount: dec("30"), Window: time.Hour}},
	}
	history := limiter.NewHistory()
	b, err := NewBands(setup, history, limiter.NewHistory(), discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	got, _, _ := b.NewOrders(nil, nil, dec("1000000"), dec("0"), target("100", ""))
	if len(got) != 1 {
		t.Fatalf("expected one limiter-capped order, got %d", len(got))
	}
	if !got[0].PayAmount.Equal(dec("30")) {
		t.Errorf("pay amount = %v, want 30 (capped by limiter)", got[0].PayAmount)
	}

	// Until the placement is confirmed, the limiter is not charged.
	again, _, _ := b.NewOrders(nil, nil, dec("1000000"), dec("0"), target("100", ""))
	if len(again) != 1 || !again[0].PayAmount.Equal(dec("30")) {
		t.Fatal("unconfirmed computation must not consume limit")
	}

	got[0].Confirm()

	after, _, _ := b.NewOrders(nil, nil, dec("1000000"), dec("0"), target("100", ""))
	if len(after) != 0 {
		t.Errorf("limit exhausted after confirm, expected no orders, got %d", len(after))
	}
}

func TestNewOrders_Idempotent(t *testing.T) {
	b := newTestBands(t, Setup{Buy: []Range{testRange()}, Sell: []Range{testRange()}})

	tp := target("100", "100")
	first, mb1, ms1 := b.NewOrders(nil, nil, dec("500"), dec("500"), tp)
	second, mb2, ms2 := b.NewOrders(nil, nil, dec("500"), dec("500"), tp)

	if len(first) != len(second) {
		t.Fatalf("order counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Price.Equal(second[i].Price) || !first[i].PayAmount.Equal(second[i].PayAmount) {
			t.Errorf("order %d differs between identical calls", i)
		}
	}
	if !mb1.Equal(mb2) || !ms1.Equal(ms2) {
		t.Error("missing amounts differ between identical calls")
	}
}

func TestNewOrders_SellOrderCounterAmount(t *testing.T) {
	b := newTestBands(t, Setup{Sell: []Range{testRange()}})

	got, _, missingSell := b.NewOrders(nil, nil, dec("0"), dec("1000000"), target("", "100"))
	if len(got) != 1 {
		t.Fatalf("expected one sell order, got %d", len(got))
	}
	o := got[0]
	if o.Side != domain.SideSell {
		t.Errorf("side = %v, want sell", o.Side)
	}
	if !o.Price.Equal(dec("104")) {
		t.Errorf("price = %v, want 104", o.Price)
	}
	if !o.PayAmount.Equal(dec("75")) {
		t.Errorf("pay amount = %v, want 75", o.PayAmount)
	}
	if !o.BuyAmount.Equal(dec("7800")) {
		t.Errorf("buy amount = %v, want 7800 (75 * 104)", o.BuyAmount)
	}
	if !missingSell.IsZero() {
		t.Errorf("missing sell = %v, want 0", missingSell)
	}
}

func TestNewOrders_MissingPricePlacesNothing(t *testing.T) {
	b := newTestBands(t, Setup{Buy: []Range{testRange()}, Sell: []Range{testRange()}})

	got, _, _ := b.NewOrders(nil, nil, dec("1000"), dec("1000"), domain.TargetPrice{})
	if len(got) != 0 {
		t.Errorf("no price, expected no orders, got %d", len(got))
	}
}
