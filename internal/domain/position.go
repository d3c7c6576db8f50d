package domain

import "time"

// DustThreshold is the share size below which a position is considered gone.
// Selling below it would only produce sub-minimum orders the venue rejects.
const DustThreshold = 0.1

// Position is the local belief about holdings in one instrument.
// Exactly one Position may exist per instrument; the trader additionally
// enforces a single-side invariant per settlement interval.
type Position struct {
	TokenID       string
	Side          Side
	SizeShares    float64
	AvgCostCents  float64 // weighted average entry, only BUY fills change it
	LastMarkCents float64 // latest observed price, refreshed on reconcile
	CostEstimated bool    // cost was seeded from reconciliation, not a fill
	OpenedAt      time.Time
}

// ApplyBuy folds a confirmed buy fill into the weighted average cost.
func (p *Position) ApplyBuy(priceCents, size float64) {
	if size <= 0 {
		return
	}
	total := p.SizeShares + size
	p.AvgCostCents = (p.AvgCostCents*p.SizeShares + priceCents*size) / total
	p.SizeShares = total
}

// ApplySell reduces size. Cost basis never changes on sells.
func (p *Position) ApplySell(size float64) {
	p.SizeShares -= size
	if p.SizeShares < 0 {
		p.SizeShares = 0
	}
}

// IsDust reports whether the position is too small to trade out of.
func (p Position) IsDust() bool {
	return p.SizeShares <= DustThreshold
}

// UnrealizedCents returns the per-share gain at the given mark price.
func (p Position) UnrealizedCents(markCents float64) float64 {
	return markCents - p.AvgCostCents
}

// UnrealizedPct returns the gain as a percentage of cost.
func (p Position) UnrealizedPct(markCents float64) float64 {
	if p.AvgCostCents <= 0 {
		return 0
	}
	return (markCents - p.AvgCostCents) / p.AvgCostCents * 100
}

// TradeRecord is an immutable entry in the append-only trade log.
type TradeRecord struct {
	ID             int64
	Timestamp      time.Time
	TokenID        string
	Side           Side
	Action         Action
	FilledCents    float64
	FilledSize     float64
	RealizedCents  float64 // per-share realized PnL, sells only
	CostBasisCents float64 // avg cost at time of trade
	Reason         Reason
}

// RealizedTotal returns the total realized PnL of the record in cents.
func (tr TradeRecord) RealizedTotal() float64 {
	return tr.RealizedCents * tr.FilledSize
}

// TradeStats aggregates the trade log for reporting.
type TradeStats struct {
	TotalTrades   int
	Sells         int
	Wins          int
	Losses        int
	WinRate       float64 // 0–100
	RealizedCents float64 // total realized PnL across all sells
}

// DailySummary is one day of the trade log, aggregated for reporting.
type DailySummary struct {
	Date          time.Time
	Trades        int
	Sells         int
	Wins          int
	Losses        int
	RealizedCents float64
}

// LossStreak gates new entries on a side after consecutive realized losses.
type LossStreak struct {
	Side              Side
	ConsecutiveLosses int
	CooldownUntil     time.Time
}

// RecordLoss bumps the streak; once limit is reached the side cools down
// and the counter resets.
func (ls *LossStreak) RecordLoss(limit int, cooldown time.Duration, now time.Time) {
	ls.ConsecutiveLosses++
	if limit > 0 && ls.ConsecutiveLosses >= limit {
		ls.CooldownUntil = now.Add(cooldown)
		ls.ConsecutiveLosses = 0
	}
}

// RecordWin resets the consecutive loss counter.
func (ls *LossStreak) RecordWin() {
	ls.ConsecutiveLosses = 0
}

// InCooldown reports whether entries on this side are currently blocked.
func (ls LossStreak) InCooldown(now time.Time) bool {
	return now.Before(ls.CooldownUntil)
}
