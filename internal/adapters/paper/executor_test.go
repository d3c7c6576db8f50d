package paper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/updown/internal/domain"
)

func TestPlaceOrder_BuyFillsAndCreditsBalance(t *testing.T) {
	e := New(nil)
	ctx := context.Background()

	placed, err := e.PlaceOrder(ctx, domain.PlaceOrderRequest{
		TokenID: "tok", PriceCents: 45, SizeShares: 20, Action: domain.ActionBuy,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStateFilled, placed.State)
	assert.Equal(t, 20.0, placed.TakenShares)

	bal, err := e.TokenBalance(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, 20.0, bal)

	status, err := e.OrderStatus(ctx, placed.VenueID)
	require.NoError(t, err)
	assert.Equal(t, 45.0, status.AvgFillCents)
}

func TestPlaceOrder_SellCappedAtBalance(t *testing.T) {
	e := New(nil)
	e.SeedBalance("tok", 10)

	placed, err := e.PlaceOrder(context.Background(), domain.PlaceOrderRequest{
		TokenID: "tok", PriceCents: 50, SizeShares: 25, Action: domain.ActionSell,
	})
	require.NoError(t, err)
	assert.Equal(t, 10.0, placed.TakenShares)

	bal, _ := e.TokenBalance(context.Background(), "tok")
	assert.Equal(t, 0.0, bal)
}

func TestPlaceOrder_SellWithoutBalanceCancelled(t *testing.T) {
	e := New(nil)

	placed, err := e.PlaceOrder(context.Background(), domain.PlaceOrderRequest{
		TokenID: "tok", PriceCents: 50, SizeShares: 5, Action: domain.ActionSell,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStateCancelled, placed.State)
}

func TestPlaceOrder_RestsWhenOutOfMarket(t *testing.T) {
	mark := func(string) (float64, bool) { return 50, true }
	e := New(mark)
	ctx := context.Background()

	// Buy below market rests, buy above fills.
	resting, err := e.PlaceOrder(ctx, domain.PlaceOrderRequest{
		TokenID: "tok", PriceCents: 40, SizeShares: 10, Action: domain.ActionBuy,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStateOpen, resting.State)

	filled, err := e.PlaceOrder(ctx, domain.PlaceOrderRequest{
		TokenID: "tok", PriceCents: 52, SizeShares: 10, Action: domain.ActionBuy,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStateFilled, filled.State)
}

func TestCancelAll_CancelsRestingOnly(t *testing.T) {
	mark := func(string) (float64, bool) { return 50, true }
	e := New(mark)
	ctx := context.Background()

	resting, _ := e.PlaceOrder(ctx, domain.PlaceOrderRequest{
		TokenID: "tok", PriceCents: 40, SizeShares: 10, Action: domain.ActionBuy,
	})
	filled, _ := e.PlaceOrder(ctx, domain.PlaceOrderRequest{
		TokenID: "tok", PriceCents: 55, SizeShares: 10, Action: domain.ActionBuy,
	})

	require.NoError(t, e.CancelAll(ctx))

	st, _ := e.OrderStatus(ctx, resting.VenueID)
	assert.Equal(t, domain.OrderStateCancelled, st.State)
	st, _ = e.OrderStatus(ctx, filled.VenueID)
	assert.Equal(t, domain.OrderStateFilled, st.State)
}

func TestPlaceOrder_RejectsZeroSize(t *testing.T) {
	e := New(nil)
	_, err := e.PlaceOrder(context.Background(), domain.PlaceOrderRequest{
		TokenID: "tok", PriceCents: 50, Action: domain.ActionBuy,
	})
	assert.Error(t, err)
}
