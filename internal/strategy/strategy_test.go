package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/updown/internal/domain"
)

func testConfig() Config {
	return Config{
		ForcedExitWindow:  time.Minute,
		MinEntryLead:      90 * time.Second,
		StopLossCents:     5,
		TakeProfitPct:     10,
		CombinedCapCents:  98,
		EntryFloorCents:   20,
		EntryCeilingCents: 80,
		MaxPositionShares: 100,
		OrderSizeShares:   20,
		MaxSlippageCents:  3,
		MinBookDepth:      10,
		FeeRatePct:        1,
	}
}

// deepBook is a single-level book with plenty of size on both sides, so the
// entry book gate passes unless a test says otherwise.
func deepBook(tokenID string, mid float64) domain.OrderBook {
	return domain.OrderBook{
		TokenID: tokenID,
		Bids:    []domain.BookEntry{{PriceCents: mid - 1, Size: 300}},
		Asks:    []domain.BookEntry{{PriceCents: mid + 1, Size: 300}},
	}
}

func testInput() Input {
	return Input{
		Snapshot: domain.MarketSnapshot{
			Current: domain.InstrumentPair{
				IntervalID: "cur",
				Up:         domain.Instrument{TokenID: "cur-up", Side: domain.SideUp, QuotedCents: 55},
				Down:       domain.Instrument{TokenID: "cur-down", Side: domain.SideDown, QuotedCents: 44},
			},
			Next: domain.InstrumentPair{
				IntervalID: "next",
				Up:         domain.Instrument{TokenID: "next-up", Side: domain.SideUp, QuotedCents: 48},
				Down:       domain.Instrument{TokenID: "next-down", Side: domain.SideDown, QuotedCents: 45},
			},
			TimeToStart: 5 * time.Minute,
			TimeToEnd:   5 * time.Minute,
		},
		Prices: map[string]float64{},
		Books: map[string]domain.OrderBook{
			"cur-up":    deepBook("cur-up", 55),
			"cur-down":  deepBook("cur-down", 44),
			"next-up":   deepBook("next-up", 48),
			"next-down": deepBook("next-down", 45),
		},
		Now: time.Date(2026, 8, 25, 15, 30, 0, 0, time.UTC),
	}
}

func held(tokenID string, side domain.Side, size, avgCost float64) domain.Position {
	return domain.Position{TokenID: tokenID, Side: side, SizeShares: size, AvgCostCents: avgCost}
}

func TestEvaluate_NoPositionsNoSignal(t *testing.T) {
	s := New(testConfig())

	intents, rule := s.Evaluate(testInput())
	assert.Empty(t, intents)
	assert.Empty(t, rule)
}

func TestOrphanCleanup_BeatsEverything(t *testing.T) {
	s := New(testConfig())
	in := testInput()
	in.Positions = []domain.Position{held("settled-token", domain.SideUp, 30, 40)}
	in.RecNext = domain.Recommendation{ShouldTrade: true, Side: domain.SideUp, SizeShares: 20}

	intents, rule := s.Evaluate(in)

	require.Len(t, intents, 1)
	assert.Equal(t, "orphan-cleanup", rule)
	assert.Equal(t, domain.ActionSell, intents[0].Action)
	assert.Equal(t, domain.ReasonOrphan, intents[0].Reason)
	assert.Equal(t, "settled-token", intents[0].TokenID)
}

func TestPreStartExit_LiquidatesCurrentPair(t *testing.T) {
	s := New(testConfig())
	in := testInput()
	in.Snapshot.TimeToStart = 30 * time.Second
	in.Positions = []domain.Position{
		held("cur-up", domain.SideUp, 30, 40),
		held("next-up", domain.SideUp, 10, 48), // pre-market position stays
	}

	intents, rule := s.Evaluate(in)

	require.Len(t, intents, 1)
	assert.Equal(t, "pre-start-exit", rule)
	assert.Equal(t, "cur-up", intents[0].TokenID)
	assert.Equal(t, domain.ReasonPreStart, intents[0].Reason)
}

func TestPreEndExit_LiquidatesEverything(t *testing.T) {
	s := New(testConfig())
	in := testInput()
	in.Snapshot.TimeToEnd = 45 * time.Second
	in.Positions = []domain.Position{
		held("cur-up", domain.SideUp, 30, 40),
		held("next-down", domain.SideDown, 10, 45),
	}

	intents, rule := s.Evaluate(in)

	require.Len(t, intents, 2)
	assert.Equal(t, "pre-end-exit", rule)
	for _, it := range intents {
		assert.Equal(t, domain.ReasonPreEnd, it.Reason)
	}
}

func TestStopLoss_CentsThreshold(t *testing.T) {
	s := New(testConfig())
	in := testInput()
	in.Positions = []domain.Position{held("cur-up", domain.SideUp, 30, 50)}
	in.Prices["cur-up"] = 44 // 6¢ under water, threshold 5

	intents, rule := s.Evaluate(in)

	require.Len(t, intents, 1)
	assert.Equal(t, "stop-loss", rule)
	assert.Equal(t, domain.ReasonStopLoss, intents[0].Reason)
	assert.Equal(t, 44.0, intents[0].LimitCents)
}

func TestStopLoss_UsesLastMarkWhenFeedSilent(t *testing.T) {
	s := New(testConfig())
	in := testInput()
	pos := held("cur-up", domain.SideUp, 30, 50)
	pos.LastMarkCents = 43
	in.Positions = []domain.Position{pos}
	// No fresh price for cur-up.

	intents, rule := s.Evaluate(in)

	require.Len(t, intents, 1)
	assert.Equal(t, "stop-loss", rule)
}

func TestStopLoss_SparesPreMarketPositions(t *testing.T) {
	s := New(testConfig())
	in := testInput()
	in.Positions = []domain.Position{held("next-up", domain.SideUp, 30, 50)}
	in.Prices["next-up"] = 40

	intents, _ := s.Evaluate(in)
	assert.Empty(t, intents)
}

func TestTakeProfit_PctThreshold(t *testing.T) {
	s := New(testConfig())
	in := testInput()
	in.Positions = []domain.Position{held("cur-up", domain.SideUp, 30, 40)}
	in.Prices["cur-up"] = 46 // +15%, threshold 10%

	intents, rule := s.Evaluate(in)

	require.Len(t, intents, 1)
	assert.Equal(t, "take-profit", rule)
	assert.Equal(t, domain.ReasonTakeProfit, intents[0].Reason)
}

func TestEntries_RecommendationBuysNextInterval(t *testing.T) {
	s := New(testConfig())
	in := testInput()
	in.RecNext = domain.Recommendation{ShouldTrade: true, Side: domain.SideUp, SizeShares: 25}

	intents, rule := s.Evaluate(in)

	require.Len(t, intents, 1)
	assert.Equal(t, "entries", rule)
	assert.Equal(t, domain.ActionBuy, intents[0].Action)
	assert.Equal(t, "next-up", intents[0].TokenID)
	assert.Equal(t, 48.0, intents[0].LimitCents)
	assert.Equal(t, 25.0, intents[0].SizeShares)
	assert.Equal(t, domain.ReasonEntry, intents[0].Reason)
}

func TestEntries_CombinedCapBlocks(t *testing.T) {
	s := New(testConfig())
	in := testInput()
	in.Snapshot.Next.Up.QuotedCents = 58
	in.Snapshot.Next.Down.QuotedCents = 45 // 103 > 98
	in.RecNext = domain.Recommendation{ShouldTrade: true, Side: domain.SideUp, SizeShares: 25}

	intents, _ := s.Evaluate(in)
	assert.Empty(t, intents)
}

func TestEntries_PriceBandBlocks(t *testing.T) {
	s := New(testConfig())

	in := testInput()
	in.Snapshot.Next.Up.QuotedCents = 15 // below floor
	in.Snapshot.Next.Down.QuotedCents = 60
	in.RecNext = domain.Recommendation{ShouldTrade: true, Side: domain.SideUp}
	intents, _ := s.Evaluate(in)
	assert.Empty(t, intents)

	in = testInput()
	in.Snapshot.Next.Up.QuotedCents = 85 // above ceiling
	in.Snapshot.Next.Down.QuotedCents = 10
	in.RecNext = domain.Recommendation{ShouldTrade: true, Side: domain.SideUp}
	intents, _ = s.Evaluate(in)
	assert.Empty(t, intents)
}

func TestEntries_TimeGateBlocksLateEntries(t *testing.T) {
	s := New(testConfig())
	in := testInput()
	in.Snapshot.TimeToStart = 70 * time.Second // past forced-exit window, inside lead
	in.Snapshot.TimeToEnd = 5 * time.Minute
	in.RecNext = domain.Recommendation{ShouldTrade: true, Side: domain.SideUp}

	intents, _ := s.Evaluate(in)
	assert.Empty(t, intents)
}

func TestEntries_OppositeSideHeldBlocks(t *testing.T) {
	s := New(testConfig())
	in := testInput()
	in.Positions = []domain.Position{held("next-down", domain.SideDown, 10, 45)}
	in.RecNext = domain.Recommendation{ShouldTrade: true, Side: domain.SideUp}

	intents, _ := s.Evaluate(in)
	assert.Empty(t, intents)
}

func TestEntries_CooldownBlocksSide(t *testing.T) {
	s := New(testConfig())
	in := testInput()
	in.RecNext = domain.Recommendation{ShouldTrade: true, Side: domain.SideUp}
	in.Streaks = map[domain.Side]domain.LossStreak{
		domain.SideUp: {Side: domain.SideUp, CooldownUntil: in.Now.Add(10 * time.Minute)},
	}

	intents, _ := s.Evaluate(in)
	assert.Empty(t, intents)

	// The other side is unaffected.
	in.RecNext.Side = domain.SideDown
	intents, _ = s.Evaluate(in)
	assert.Len(t, intents, 1)
}

func TestEntries_SizeCapClampsOrder(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositionShares = 40
	s := New(cfg)

	in := testInput()
	in.Positions = []domain.Position{held("next-up", domain.SideUp, 30, 48)}
	in.RecNext = domain.Recommendation{ShouldTrade: true, Side: domain.SideUp, SizeShares: 25}

	intents, _ := s.Evaluate(in)
	require.Len(t, intents, 1)
	assert.Equal(t, 10.0, intents[0].SizeShares)

	// At the cap nothing more is bought.
	in.Positions[0].SizeShares = 40
	intents, _ = s.Evaluate(in)
	assert.Empty(t, intents)
}

func TestEntries_ThinBookBlocks(t *testing.T) {
	s := New(testConfig())
	in := testInput()
	in.RecNext = domain.Recommendation{ShouldTrade: true, Side: domain.SideUp, SizeShares: 25}
	in.Books["next-up"] = domain.OrderBook{
		TokenID: "next-up",
		Asks:    []domain.BookEntry{{PriceCents: 49, Size: 5}}, // depth 5 < minimum 10
	}

	intents, _ := s.Evaluate(in)
	assert.Empty(t, intents)
}

func TestEntries_SlippageBlocks(t *testing.T) {
	s := New(testConfig())
	in := testInput()
	in.RecNext = domain.Recommendation{ShouldTrade: true, Side: domain.SideUp, SizeShares: 25}
	// 25 shares walk to 60¢: weighted average 57.8, 8.8¢ off best.
	in.Books["next-up"] = domain.OrderBook{
		TokenID: "next-up",
		Asks: []domain.BookEntry{
			{PriceCents: 49, Size: 5},
			{PriceCents: 60, Size: 300},
		},
	}

	intents, _ := s.Evaluate(in)
	assert.Empty(t, intents)
}

func TestEntries_MissingBookBlocks(t *testing.T) {
	s := New(testConfig())
	in := testInput()
	in.RecNext = domain.Recommendation{ShouldTrade: true, Side: domain.SideUp, SizeShares: 25}
	delete(in.Books, "next-up")

	intents, _ := s.Evaluate(in)
	assert.Empty(t, intents)
}

func TestEntries_MidIntervalDisabledByDefault(t *testing.T) {
	s := New(testConfig())
	in := testInput()
	in.RecCurrent = domain.Recommendation{ShouldTrade: true, Side: domain.SideDown}

	intents, _ := s.Evaluate(in)
	assert.Empty(t, intents)
}

func TestEntries_MidIntervalBuysCurrentPair(t *testing.T) {
	cfg := testConfig()
	cfg.MidIntervalEntry = true
	cfg.MidIntervalMinLead = time.Minute
	s := New(cfg)

	in := testInput()
	in.Snapshot.Current.Up.QuotedCents = 52
	in.Snapshot.Current.Down.QuotedCents = 44 // combined 96, under the cap
	in.RecCurrent = domain.Recommendation{ShouldTrade: true, Side: domain.SideDown, SizeShares: 15}

	intents, rule := s.Evaluate(in)

	require.Len(t, intents, 1)
	assert.Equal(t, "entries", rule)
	assert.Equal(t, "cur-down", intents[0].TokenID)
}

func TestLeaderOverride_BuysLeaderInsideBand(t *testing.T) {
	cfg := testConfig()
	cfg.LeaderOverride = true
	cfg.LeaderGapMinCents = 10
	cfg.LeaderGapMaxCents = 40
	s := New(cfg)

	in := testInput()
	in.Snapshot.Next.Up.QuotedCents = 62
	in.Snapshot.Next.Down.QuotedCents = 35 // gap 27, in band; combined 97
	// The model disagrees; the leader wins anyway.
	in.RecNext = domain.Recommendation{ShouldTrade: true, Side: domain.SideDown, SizeShares: 25}

	intents, _ := s.Evaluate(in)

	require.Len(t, intents, 1)
	assert.Equal(t, "next-up", intents[0].TokenID)
	assert.Equal(t, domain.ReasonLeader, intents[0].Reason)
	assert.Equal(t, 20.0, intents[0].SizeShares) // default size, not the model's
}

func TestLeaderOverride_BypassesCombinedCap(t *testing.T) {
	cfg := testConfig()
	cfg.LeaderOverride = true
	cfg.LeaderGapMinCents = 10
	cfg.LeaderGapMaxCents = 40
	s := New(cfg)

	in := testInput()
	in.Snapshot.Next.Up.QuotedCents = 70
	in.Snapshot.Next.Down.QuotedCents = 45 // combined 115, gap 25

	intents, _ := s.Evaluate(in)

	require.Len(t, intents, 1)
	assert.Equal(t, domain.ReasonLeader, intents[0].Reason)
}

func TestLeaderOverride_RespectsCooldown(t *testing.T) {
	cfg := testConfig()
	cfg.LeaderOverride = true
	cfg.LeaderGapMinCents = 10
	cfg.LeaderGapMaxCents = 40
	s := New(cfg)

	in := testInput()
	in.Snapshot.Next.Up.QuotedCents = 62
	in.Snapshot.Next.Down.QuotedCents = 35
	in.Streaks = map[domain.Side]domain.LossStreak{
		domain.SideUp: {Side: domain.SideUp, CooldownUntil: in.Now.Add(10 * time.Minute)},
	}

	intents, _ := s.Evaluate(in)
	assert.Empty(t, intents)
}

func TestLeaderOverride_GapOutsideBandFallsThrough(t *testing.T) {
	cfg := testConfig()
	cfg.LeaderOverride = true
	cfg.LeaderGapMinCents = 10
	cfg.LeaderGapMaxCents = 40
	s := New(cfg)

	in := testInput()
	in.Snapshot.Next.Up.QuotedCents = 49
	in.Snapshot.Next.Down.QuotedCents = 46 // gap 3, below band
	in.RecNext = domain.Recommendation{ShouldTrade: true, Side: domain.SideDown, SizeShares: 25}

	intents, _ := s.Evaluate(in)

	require.Len(t, intents, 1)
	assert.Equal(t, "next-down", intents[0].TokenID)
	assert.Equal(t, domain.ReasonEntry, intents[0].Reason)
}

func TestEvaluate_IsIdempotentPerTick(t *testing.T) {
	s := New(testConfig())
	in := testInput()
	in.Positions = []domain.Position{held("cur-up", domain.SideUp, 30, 40)}
	in.Prices["cur-up"] = 46

	first, firstRule := s.Evaluate(in)
	second, secondRule := s.Evaluate(in)

	assert.Equal(t, first, second)
	assert.Equal(t, firstRule, secondRule)
}
