package ports

import (
	"context"

	"github.com/alejandrodnm/updown/internal/domain"
)

// OrderExecutor is the exact venue surface the trader needs: submit,
// cancel-all, per-instrument balance, and order status. Nothing else.
type OrderExecutor interface {
	// PlaceOrder signs and submits a limit order to the venue.
	PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.PlacedOrder, error)

	// CancelAll cancels every open order for this wallet.
	CancelAll(ctx context.Context) error

	// TokenBalance returns the venue-reported share balance for a token.
	// This is ground truth — if > 0, a buy filled regardless of local state.
	TokenBalance(ctx context.Context, tokenID string) (float64, error)

	// OrderStatus polls the venue for the state of a submitted order.
	OrderStatus(ctx context.Context, venueID string) (domain.OrderStatus, error)
}
