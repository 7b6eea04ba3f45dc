package domain

import "context"

// VenueAdapter is the narrow surface the keeper consumes from an exchange.
// Implementations enforce their own request timeouts; the keeper never
// cancels an in-flight venue call.
type VenueAdapter interface {
	// GetOrders returns all of our open orders at the venue.
	GetOrders(ctx context.Context) ([]Order, error)

	// GetBalances returns the account balances, passed through to callers
	// uninterpreted.
	GetBalances(ctx context.Context) (Balances, error)

	// PlaceOrder submits the intent. A nil result with nil error means the
	// venue rejected the order; it was not placed.
	PlaceOrder(ctx context.Context, order NewOrder) (*Order, error)

	// CancelOrder requests cancellation. true means the venue confirmed the
	// cancel; false or an error leaves the outcome ambiguous until the next
	// order fetch.
	CancelOrder(ctx context.Context, order Order) (bool, error)
}
