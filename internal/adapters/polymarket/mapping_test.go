package polymarket

import (
	"testing"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugFor(t *testing.T) {
	ms, err := NewMarketService(NewClient("", ""), "bitcoin-up-or-down", 15*time.Minute)
	require.NoError(t, err)

	// 2026-08-25 19:45 UTC = 3:45pm ET (EDT).
	end := time.Date(2026, 8, 25, 19, 45, 0, 0, time.UTC)
	assert.Equal(t, "bitcoin-up-or-down-august-25-3-45pm-et", ms.slugFor(end))

	// On the hour the minute part is dropped.
	end = time.Date(2026, 8, 25, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, "bitcoin-up-or-down-august-25-4pm-et", ms.slugFor(end))

	// Midnight ET → 12am.
	end = time.Date(2026, 8, 25, 4, 15, 0, 0, time.UTC)
	assert.Equal(t, "bitcoin-up-or-down-august-25-12-15am-et", ms.slugFor(end))
}

func TestMapInstrumentPair(t *testing.T) {
	gm := gammaMarket{
		ConditionID:   "0xcond",
		ClobTokenIDs:  `["111", "222"]`,
		Outcomes:      `["Up", "Down"]`,
		OutcomePrices: `["0.58", "0.45"]`,
	}

	pair, err := mapInstrumentPair(gm)
	require.NoError(t, err)
	assert.Equal(t, "0xcond", pair.IntervalID)
	assert.Equal(t, "111", pair.Up.TokenID)
	assert.Equal(t, "222", pair.Down.TokenID)
	assert.InDelta(t, 58, pair.Up.QuotedCents, 0.001)
	assert.InDelta(t, 45, pair.Down.QuotedCents, 0.001)
	assert.InDelta(t, 103, pair.CombinedCents(), 0.001)
}

func TestMapInstrumentPair_RejectsMalformed(t *testing.T) {
	_, err := mapInstrumentPair(gammaMarket{
		ClobTokenIDs: `["only-one"]`,
		Outcomes:     `["Up"]`,
	})
	require.Error(t, err)

	_, err = mapInstrumentPair(gammaMarket{
		ClobTokenIDs: `["1", "2"]`,
		Outcomes:     `["Sideways", "Down"]`,
	})
	require.Error(t, err)
}

func TestMapOrderBooks_ConvertsToCentsAndSorts(t *testing.T) {
	raw := []orderBookResponse{{
		AssetID: "tok",
		Bids: []bookEntryRaw{
			{Price: "0.40", Size: "100"},
			{Price: "0.42", Size: "50"},
		},
		Asks: []bookEntryRaw{
			{Price: "0.45", Size: "80"},
			{Price: "0.44", Size: "30"},
		},
	}}

	books := mapOrderBooks(raw)
	book, ok := books["tok"]
	require.True(t, ok)

	// Bids mayor a menor, asks menor a mayor, en céntimos.
	assert.InDelta(t, 42, book.BestBid(), 0.001)
	assert.InDelta(t, 44, book.BestAsk(), 0.001)
	assert.InDelta(t, 43, book.Midpoint(), 0.001)
}

func TestMapOrderState(t *testing.T) {
	assert.Equal(t, domain.OrderStateFilled, mapOrderState("matched"))
	assert.Equal(t, domain.OrderStateFilled, mapOrderState("FILLED"))
	assert.Equal(t, domain.OrderStateOpen, mapOrderState("LIVE"))
	assert.Equal(t, domain.OrderStateCancelled, mapOrderState("cancelled"))
	assert.Equal(t, domain.OrderStateUnknown, mapOrderState("???"))
}

func TestDetectPricePrecision(t *testing.T) {
	assert.Equal(t, int64(100), detectPricePrecision(0.60))
	assert.Equal(t, int64(1000), detectPricePrecision(0.673))
	assert.Equal(t, int64(100), detectPricePrecision(0.5))
}

func TestParseMicroUnits(t *testing.T) {
	assert.InDelta(t, 1.0, parseMicroUnits("1000000"), 1e-9)
	assert.InDelta(t, 13.51, parseMicroUnits("13510000"), 1e-9)
	assert.Zero(t, parseMicroUnits(""))
}
