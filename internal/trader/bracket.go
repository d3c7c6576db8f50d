package trader

// bracket.go — take-profit orders plus the software stop-loss watch.
//
// The venue has no native stop-order type, so the "bracket" is a real
// take-profit limit order paired with a stop level held in memory and
// checked against live price samples every tick.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/risk"
)

// bracket is the armed exit pair for one held instrument.
type bracket struct {
	TokenID         string
	Side            domain.Side
	TakeProfitCents float64
	TPVenueID       string // empty when the TP order could not be placed
	StopWatchCents  float64
	ArmedAt         time.Time
}

// placeTakeProfit rests a protective sell at the minimum profitable price
// above cost. Caller holds t.mu. Failure only logs; the pre-settlement
// bracket pass retries.
func (t *Trader) placeTakeProfit(ctx context.Context, pos *domain.Position) {
	target := pos.AvgCostCents + risk.MinProfitableMove(
		pos.AvgCostCents, t.cfg.TargetNetProfitCents, pos.SizeShares, t.cfg.FeeRatePct)
	target = clampPrice(target)

	br := &bracket{
		TokenID:         pos.TokenID,
		Side:            pos.Side,
		TakeProfitCents: target,
		StopWatchCents:  t.stopLevel(pos.AvgCostCents),
		ArmedAt:         time.Now().UTC(),
	}

	placed, err := t.executor.PlaceOrder(ctx, domain.PlaceOrderRequest{
		TokenID:    pos.TokenID,
		PriceCents: target,
		SizeShares: pos.SizeShares,
		Action:     domain.ActionSell,
	})
	if err != nil {
		slog.Warn("trader: protective take-profit not placed",
			"token", shortToken(pos.TokenID), "err", err)
	} else {
		br.TPVenueID = placed.VenueID
		slog.Info("trader: take-profit armed",
			"token", shortToken(pos.TokenID),
			"target", fmt.Sprintf("%.1f¢", target),
			"stop_watch", fmt.Sprintf("%.1f¢", br.StopWatchCents),
		)
	}
	t.brackets[pos.TokenID] = br
}

func (t *Trader) stopLevel(avgCostCents float64) float64 {
	if t.cfg.StopLossCents <= 0 {
		return 0
	}
	return avgCostCents - t.cfg.StopLossCents
}

// PlaceBrackets runs in the narrow window before settlement: for every held
// position without a resting take-profit it places an exact TP limit sized
// to the reconciled sellable balance and arms the stop watch.
func (t *Trader) PlaceBrackets(ctx context.Context, snap domain.MarketSnapshot) {
	t.mu.Lock()
	held := make([]*domain.Position, 0, len(t.positions))
	for _, pos := range t.positions {
		if pos.SizeShares > 0 && snap.Current.Contains(pos.TokenID) {
			if br, ok := t.brackets[pos.TokenID]; !ok || br.TPVenueID == "" {
				held = append(held, pos)
			}
		}
	}
	t.mu.Unlock()

	for _, pos := range held {
		balance, err := t.executor.TokenBalance(ctx, pos.TokenID)
		if err != nil {
			slog.Warn("trader: bracket balance check failed",
				"token", shortToken(pos.TokenID), "err", err)
			continue
		}
		if balance <= balanceZeroTolerance {
			continue
		}

		t.mu.Lock()
		if cur, ok := t.positions[pos.TokenID]; ok {
			cur.SizeShares = balance
			t.placeTakeProfit(ctx, cur)
		}
		t.mu.Unlock()
	}
}

// CheckStopWatch compares armed stop levels against the latest price
// samples and force-liquidates any breach. Called once per tick with the
// fresh sample map; positions with no fresh sample fall back to their last
// known mark so a dead feed never leaves a stop unguarded.
func (t *Trader) CheckStopWatch(ctx context.Context, prices map[string]float64) {
	t.mu.Lock()
	type breach struct {
		tokenID string
		mark    float64
	}
	var breaches []breach
	for tokenID, br := range t.brackets {
		if br.StopWatchCents <= 0 {
			continue
		}
		pos, ok := t.positions[tokenID]
		if !ok || pos.SizeShares <= 0 {
			delete(t.brackets, tokenID)
			continue
		}
		mark, fresh := prices[tokenID]
		if !fresh {
			mark = pos.LastMarkCents
		}
		if mark > 0 && mark <= br.StopWatchCents {
			breaches = append(breaches, breach{tokenID, mark})
		}
	}
	t.mu.Unlock()

	for _, b := range breaches {
		slog.Warn("trader: stop watch breached, liquidating",
			"token", shortToken(b.tokenID),
			"mark", fmt.Sprintf("%.1f¢", b.mark),
		)
		t.ForceLiquidate(ctx, b.tokenID, b.mark)
	}
}
