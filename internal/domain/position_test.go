package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyBuy_WeightedAverage(t *testing.T) {
	p := Position{TokenID: "tok", Side: SideUp}

	p.ApplyBuy(40, 10)
	assert.Equal(t, 40.0, p.AvgCostCents)
	assert.Equal(t, 10.0, p.SizeShares)

	p.ApplyBuy(46, 10)
	assert.InDelta(t, 43, p.AvgCostCents, 0.001)
	assert.Equal(t, 20.0, p.SizeShares)

	p.ApplyBuy(50, 0) // no-op
	assert.InDelta(t, 43, p.AvgCostCents, 0.001)
}

func TestApplySell_NeverTouchesCostBasis(t *testing.T) {
	p := Position{TokenID: "tok", SizeShares: 20, AvgCostCents: 43}

	p.ApplySell(5)
	assert.Equal(t, 15.0, p.SizeShares)
	assert.Equal(t, 43.0, p.AvgCostCents)

	p.ApplySell(100) // oversell clamps at zero
	assert.Equal(t, 0.0, p.SizeShares)
	assert.Equal(t, 43.0, p.AvgCostCents)
}

func TestIsDust(t *testing.T) {
	assert.True(t, Position{SizeShares: 0.05}.IsDust())
	assert.True(t, Position{SizeShares: DustThreshold}.IsDust())
	assert.False(t, Position{SizeShares: 0.2}.IsDust())
}

func TestUnrealized(t *testing.T) {
	p := Position{SizeShares: 10, AvgCostCents: 40}

	assert.Equal(t, 6.0, p.UnrealizedCents(46))
	assert.InDelta(t, 15, p.UnrealizedPct(46), 0.001)
	assert.InDelta(t, -12.5, p.UnrealizedPct(35), 0.001)

	// No cost basis yet: percentage is undefined, report flat.
	assert.Equal(t, 0.0, Position{}.UnrealizedPct(50))
}

func TestTradeRecord_RealizedTotal(t *testing.T) {
	tr := TradeRecord{RealizedCents: 4, FilledSize: 50}
	assert.Equal(t, 200.0, tr.RealizedTotal())
}

func TestLossStreak_CooldownAfterLimit(t *testing.T) {
	now := time.Date(2026, 8, 25, 15, 0, 0, 0, time.UTC)
	ls := LossStreak{Side: SideUp}

	ls.RecordLoss(3, 30*time.Minute, now)
	ls.RecordLoss(3, 30*time.Minute, now)
	assert.Equal(t, 2, ls.ConsecutiveLosses)
	assert.False(t, ls.InCooldown(now))

	ls.RecordLoss(3, 30*time.Minute, now)
	assert.Equal(t, 0, ls.ConsecutiveLosses) // counter resets on trip
	assert.True(t, ls.InCooldown(now))
	assert.True(t, ls.InCooldown(now.Add(29*time.Minute)))
	assert.False(t, ls.InCooldown(now.Add(31*time.Minute)))
}

func TestLossStreak_WinResets(t *testing.T) {
	now := time.Now()
	ls := LossStreak{Side: SideDown}

	ls.RecordLoss(3, time.Hour, now)
	ls.RecordLoss(3, time.Hour, now)
	ls.RecordWin()

	assert.Equal(t, 0, ls.ConsecutiveLosses)
	assert.False(t, ls.InCooldown(now))
}

func TestReason_Forced(t *testing.T) {
	forced := []Reason{ReasonStopLoss, ReasonPreStart, ReasonPreEnd, ReasonOrphan}
	for _, r := range forced {
		assert.True(t, r.Forced(), string(r))
	}
	assert.False(t, ReasonEntry.Forced())
	assert.False(t, ReasonLeader.Forced())
	assert.False(t, ReasonTakeProfit.Forced())
}

func TestInstrumentPair_Leader(t *testing.T) {
	pair := InstrumentPair{
		Up:   Instrument{TokenID: "u", Side: SideUp, QuotedCents: 62},
		Down: Instrument{TokenID: "d", Side: SideDown, QuotedCents: 35},
	}

	leader, gap := pair.Leader()
	assert.Equal(t, SideUp, leader.Side)
	assert.Equal(t, 27.0, gap)

	pair.Up.QuotedCents = 30
	leader, gap = pair.Leader()
	assert.Equal(t, SideDown, leader.Side)
	assert.Equal(t, 5.0, gap)
}

func TestMarketSnapshot_PairLookup(t *testing.T) {
	snap := MarketSnapshot{
		Current: InstrumentPair{
			IntervalID: "cur",
			Up:         Instrument{TokenID: "cu"},
			Down:       Instrument{TokenID: "cd"},
		},
		Next: InstrumentPair{
			IntervalID: "next",
			Up:         Instrument{TokenID: "nu"},
			Down:       Instrument{TokenID: "nd"},
		},
	}

	pair, ok := snap.Pair("cd")
	assert.True(t, ok)
	assert.Equal(t, "cur", pair.IntervalID)

	pair, ok = snap.Pair("nu")
	assert.True(t, ok)
	assert.Equal(t, "next", pair.IntervalID)

	_, ok = snap.Pair("gone")
	assert.False(t, ok)

	assert.Equal(t, []string{"cu", "cd", "nu", "nd"}, snap.TokenIDs())
}
