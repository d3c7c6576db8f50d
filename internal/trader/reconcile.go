package trader

// reconcile.go — the periodic trust-but-verify pass against venue balances.

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
)

// Reconcile corrects local belief against venue-reported balances for every
// instrument in the snapshot. Missing positions are seeded from the best
// available cost estimate; vanished balances delete the local position; an
// existing position's cost basis is never overwritten — only size and mark
// price are refreshed.
func (t *Trader) Reconcile(ctx context.Context, snap domain.MarketSnapshot) error {
	var firstErr error

	for _, tokenID := range snap.TokenIDs() {
		balance, err := t.executor.TokenBalance(ctx, tokenID)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("trader.Reconcile: balance for %s: %w", shortToken(tokenID), err)
			}
			continue
		}
		t.reconcileToken(ctx, snap, tokenID, balance)
	}
	return firstErr
}

func (t *Trader) reconcileToken(ctx context.Context, snap domain.MarketSnapshot, tokenID string, balance float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, exists := t.positions[tokenID]
	inst, _ := snap.Lookup(tokenID)

	switch {
	case balance <= balanceZeroTolerance:
		if exists && pos.SizeShares > 0 {
			// Venue says gone: settled, sold elsewhere, or dust left over
			// from a partial fill. The venue wins.
			slog.Warn("trader: reconcile correction, venue balance gone",
				"token", shortToken(tokenID),
				"local", fmt.Sprintf("%.2f", pos.SizeShares),
				"balance", fmt.Sprintf("%.2f", balance),
			)
			t.dropPosition(ctx, tokenID)
		} else if exists && pos.SizeShares == 0 && !snap.Knows(tokenID) {
			// Size-0 cost hint for a rotated-out interval; nothing to keep.
			t.dropPosition(ctx, tokenID)
		}

	case !exists || pos.SizeShares == 0:
		seeded := t.seedPosition(ctx, tokenID, inst, balance, pos)
		slog.Warn("trader: reconcile correction, untracked venue balance",
			"token", shortToken(tokenID),
			"balance", fmt.Sprintf("%.2f", balance),
			"seed_cost", fmt.Sprintf("%.1f¢", seeded.AvgCostCents),
			"estimated", seeded.CostEstimated,
		)

	default:
		if math.Abs(pos.SizeShares-balance) > reconcileSizeTolerance {
			slog.Info("trader: reconcile size adjusted",
				"token", shortToken(tokenID),
				"local", fmt.Sprintf("%.2f", pos.SizeShares),
				"venue", fmt.Sprintf("%.2f", balance),
			)
			pos.SizeShares = balance
		}
		if inst.QuotedCents > 0 {
			pos.LastMarkCents = inst.QuotedCents
		}
		if pos.IsDust() {
			// Below the venue minimum forever; selling it would only
			// bounce. Write it off.
			slog.Info("trader: dust position cleaned up",
				"token", shortToken(tokenID), "size", fmt.Sprintf("%.3f", pos.SizeShares))
			t.dropPosition(ctx, tokenID)
		}
	}
}

// seedPosition creates a position for a venue balance the trader was not
// tracking. Cost estimate preference: last trade price for the instrument,
// then the persisted cost hint restored at startup, then the current quote.
// Everything but a real fill price is flagged as estimated. Caller holds t.mu.
func (t *Trader) seedPosition(ctx context.Context, tokenID string, inst domain.Instrument, balance float64, hint *domain.Position) *domain.Position {
	cost := 0.0
	estimated := true

	if last, ok, err := t.store.LastTradePrice(ctx, tokenID); err == nil && ok && last > 0 {
		cost = last
		estimated = false
	} else if hint != nil && hint.AvgCostCents > 0 {
		cost = hint.AvgCostCents
		estimated = hint.CostEstimated
	} else if inst.QuotedCents > 0 {
		cost = inst.QuotedCents
	}

	side := inst.Side
	if hint != nil && hint.Side != "" {
		side = hint.Side
	}

	pos := &domain.Position{
		TokenID:       tokenID,
		Side:          side,
		SizeShares:    balance,
		AvgCostCents:  cost,
		LastMarkCents: inst.QuotedCents,
		CostEstimated: estimated,
		OpenedAt:      time.Now().UTC(),
	}
	t.positions[tokenID] = pos
	t.saveCost(ctx, pos)
	return pos
}
