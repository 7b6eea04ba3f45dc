package domain

// Snapshot is a point-in-time merged view of the order book: the last
// refreshed venue state overlaid with optimistic local bookkeeping of
// in-flight placements and cancellations. An order ID appears at most once
// in Orders, and never while it is being cancelled.
type Snapshot struct {
	Orders               []Order
	Balances             Balances
	OrdersBeingPlaced    bool
	OrdersBeingCancelled bool
}

// BuyOrders returns the buy-side orders of the snapshot.
func (s Snapshot) BuyOrders() []Order {
	return s.sideOrders(SideBuy)
}

// SellOrders returns the sell-side orders of the snapshot.
func (s Snapshot) SellOrders() []Order {
	return s.sideOrders(SideSell)
}

func (s Snapshot) sideOrders(side Side) []Order {
	out := make([]Order, 0, len(s.Orders))
	for _, o := range s.Orders {
		if o.Side == side {
			out = append(out, o)
		}
	}
	return out
}
