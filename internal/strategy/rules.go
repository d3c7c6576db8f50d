package strategy

import (
	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/risk"
)

// orphanCleanup flags positions whose instrument is not among the current
// or next interval's tokens: the interval settled or rotated without a
// timely exit, so the position must go immediately.
func orphanCleanup(_ Config, in Input) []domain.OrderIntent {
	var intents []domain.OrderIntent
	for _, pos := range in.Positions {
		if pos.SizeShares <= 0 || in.Snapshot.Knows(pos.TokenID) {
			continue
		}
		intents = append(intents, sellIntent(pos, markPrice(in, pos), domain.ReasonOrphan))
	}
	return intents
}

// preStartExit liquidates every position tied to the current interval once
// the next interval's start is inside the forced-exit window.
func preStartExit(cfg Config, in Input) []domain.OrderIntent {
	if in.Snapshot.TimeToStart > cfg.ForcedExitWindow {
		return nil
	}
	var intents []domain.OrderIntent
	for _, pos := range in.Positions {
		if pos.SizeShares <= 0 || !in.Snapshot.Current.Contains(pos.TokenID) {
			continue
		}
		intents = append(intents, sellIntent(pos, markPrice(in, pos), domain.ReasonPreStart))
	}
	return intents
}

// preEndExit liquidates every open position once the current interval's end
// is inside the forced-exit window. Covers positions opened mid-interval
// that preStartExit's current-pair filter would otherwise miss after a
// rotation glitch.
func preEndExit(cfg Config, in Input) []domain.OrderIntent {
	if in.Snapshot.TimeToEnd > cfg.ForcedExitWindow {
		return nil
	}
	var intents []domain.OrderIntent
	for _, pos := range in.Positions {
		if pos.SizeShares <= 0 {
			continue
		}
		intents = append(intents, sellIntent(pos, markPrice(in, pos), domain.ReasonPreEnd))
	}
	return intents
}

// stopLoss exits any running-interval position whose loss breaches either
// the cents or the percent threshold, whichever trips first. Pre-market
// positions (next interval) are excluded — there is no market to stop out
// into before the interval runs. A stale feed does not suspend this rule:
// last-known marks are used instead.
func stopLoss(cfg Config, in Input) []domain.OrderIntent {
	var intents []domain.OrderIntent
	for _, pos := range in.Positions {
		if pos.SizeShares <= 0 || in.Snapshot.Next.Contains(pos.TokenID) {
			continue
		}
		mark := markPrice(in, pos)
		lossCents := -pos.UnrealizedCents(mark)
		lossPct := -pos.UnrealizedPct(mark)

		tripped := (cfg.StopLossCents > 0 && lossCents >= cfg.StopLossCents) ||
			(cfg.StopLossPct > 0 && lossPct >= cfg.StopLossPct)
		if !tripped {
			continue
		}
		intents = append(intents, sellIntent(pos, mark, domain.ReasonStopLoss))
	}
	return intents
}

// takeProfit exits any position whose unrealized percentage gain meets the
// profit target.
func takeProfit(cfg Config, in Input) []domain.OrderIntent {
	if cfg.TakeProfitPct <= 0 {
		return nil
	}
	var intents []domain.OrderIntent
	for _, pos := range in.Positions {
		if pos.SizeShares <= 0 {
			continue
		}
		mark := markPrice(in, pos)
		if pos.UnrealizedPct(mark) >= cfg.TakeProfitPct {
			intents = append(intents, sellIntent(pos, mark, domain.ReasonTakeProfit))
		}
	}
	return intents
}

// entries evaluates the two independent entry contexts: pre-market on the
// next interval and (when enabled) mid-interval on the current one. Both
// may fire on the same tick.
func entries(cfg Config, in Input) []domain.OrderIntent {
	var intents []domain.OrderIntent

	gate := risk.TimeGate(
		in.Snapshot.TimeToStart.Milliseconds(),
		cfg.ForcedExitWindow.Milliseconds(),
		cfg.MinEntryLead.Milliseconds(),
	)
	if gate.Tradeable {
		intents = append(intents, preMarketEntry(cfg, in)...)
	}

	if cfg.MidIntervalEntry &&
		in.Snapshot.TimeToEnd > cfg.ForcedExitWindow+cfg.MidIntervalMinLead {
		intents = append(intents, enterPair(cfg, in, in.Snapshot.Current, in.RecCurrent)...)
	}

	return intents
}

// preMarketEntry handles the next interval: the leader override runs first
// and, within its price-gap band, replaces the recommendation signal.
func preMarketEntry(cfg Config, in Input) []domain.OrderIntent {
	pair := in.Snapshot.Next

	if cfg.LeaderOverride {
		leader, gap := pair.Leader()
		if gap >= cfg.LeaderGapMinCents && gap <= cfg.LeaderGapMaxCents {
			// Momentum persists into settlement often enough that the
			// higher-priced side is bought regardless of the model's
			// pick. Bypasses the combined-price cap and the entry band;
			// the loss-streak cooldown and size cap still apply.
			if intent, ok := buildEntry(cfg, in, pair, leader.Side, cfg.OrderSizeShares, domain.ReasonLeader); ok {
				return []domain.OrderIntent{intent}
			}
			return nil
		}
	}

	return enterPair(cfg, in, pair, in.RecNext)
}

// enterPair runs the general recommendation-driven entry path for a pair.
func enterPair(cfg Config, in Input, pair domain.InstrumentPair, rec domain.Recommendation) []domain.OrderIntent {
	if !rec.ShouldTrade || (rec.Side != domain.SideUp && rec.Side != domain.SideDown) {
		return nil
	}

	if cfg.CombinedCapCents > 0 && pair.CombinedCents() > cfg.CombinedCapCents {
		return nil // both sides overpriced relative to the $1 payout
	}

	quoted := pair.Token(rec.Side).QuotedCents
	if quoted < cfg.EntryFloorCents || (cfg.EntryCeilingCents > 0 && quoted > cfg.EntryCeilingCents) {
		return nil
	}

	size := rec.SizeShares
	if size <= 0 {
		size = cfg.OrderSizeShares
	}

	intent, ok := buildEntry(cfg, in, pair, rec.Side, size, domain.ReasonEntry)
	if !ok {
		return nil
	}
	return []domain.OrderIntent{intent}
}

// buildEntry applies the guards shared by both entry paths: the opposite
// side of the interval must not be held, the side must not be cooling down
// after a loss streak, the per-instrument size cap clamps the order, and the
// ask side of this tick's book must absorb the clamped size without
// breaching the slippage or depth limits. A missing book blocks the entry;
// exits never consult books, so a failed fetch only pauses buying.
func buildEntry(cfg Config, in Input, pair domain.InstrumentPair, side domain.Side, size float64, reason domain.Reason) (domain.OrderIntent, bool) {
	opposite := pair.Token(side.Opposite())
	for _, pos := range in.Positions {
		if pos.TokenID == opposite.TokenID && pos.SizeShares > 0 {
			return domain.OrderIntent{}, false // single-side invariant
		}
	}

	if ls, ok := in.Streaks[side]; ok && ls.InCooldown(in.Now) {
		return domain.OrderIntent{}, false
	}

	inst := pair.Token(side)
	held := 0.0
	for _, pos := range in.Positions {
		if pos.TokenID == inst.TokenID {
			held = pos.SizeShares
		}
	}
	if cfg.MaxPositionShares > 0 {
		if held >= cfg.MaxPositionShares {
			return domain.OrderIntent{}, false
		}
		if held+size > cfg.MaxPositionShares {
			size = cfg.MaxPositionShares - held
		}
	}
	if size <= 0 {
		return domain.OrderIntent{}, false
	}

	book, ok := in.Books[inst.TokenID]
	if !ok {
		return domain.OrderIntent{}, false
	}
	assess := risk.AssessBook(book, domain.ActionBuy, size,
		cfg.MaxSlippageCents, cfg.MinBookDepth, cfg.FeeRatePct)
	if !assess.Tradeable {
		return domain.OrderIntent{}, false
	}

	return domain.OrderIntent{
		Action:     domain.ActionBuy,
		TokenID:    inst.TokenID,
		Side:       side,
		LimitCents: inst.QuotedCents,
		SizeShares: size,
		Reason:     reason,
	}, true
}
