package trader

// exec.go — the BUY and SELL execution paths.
//
// State machine per instrument: Flat → PendingBuy → Held → PendingSell →
// Flat. Invariant checks run before any venue call so a rejected intent
// leaves no partial state behind.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/risk"
	"github.com/google/uuid"
)

// Buy executes a BUY intent. Refuses when the opposite side of the interval
// is held or has an in-flight order. Submits a marketable limit slightly
// above quote, then polls the venue balance for confirmation up to a bounded
// number of attempts. On confirmed fill the weighted-average cost is updated,
// a trade record appended, and a protective take-profit armed. On non-fill
// every speculative local change is rolled back.
func (t *Trader) Buy(ctx context.Context, snap domain.MarketSnapshot, intent domain.OrderIntent) (domain.TradeRecord, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pair, ok := snap.Pair(intent.TokenID)
	if !ok {
		return domain.TradeRecord{}, false, fmt.Errorf("trader.Buy: token not in snapshot")
	}
	opposite := pair.Token(intent.Side.Opposite())

	// Invariant checks, venue untouched until they all pass.
	if po, exists := t.pending[opposite.TokenID]; exists {
		return domain.TradeRecord{}, false,
			fmt.Errorf("trader.Buy: opposite side has in-flight order %s", po.ID)
	}
	if pos, exists := t.positions[opposite.TokenID]; exists && pos.SizeShares > 0 {
		return domain.TradeRecord{}, false,
			fmt.Errorf("trader.Buy: opposite side held (%.2f shares)", pos.SizeShares)
	}
	if po, exists := t.pending[intent.TokenID]; exists {
		return domain.TradeRecord{}, false,
			fmt.Errorf("trader.Buy: instrument already has in-flight order %s", po.ID)
	}

	baseline := 0.0
	if pos, exists := t.positions[intent.TokenID]; exists {
		baseline = pos.SizeShares
	}

	limit := clampPrice(intent.LimitCents + t.cfg.BuyBiasCents)
	placed, err := t.executor.PlaceOrder(ctx, domain.PlaceOrderRequest{
		TokenID:    intent.TokenID,
		PriceCents: limit,
		SizeShares: intent.SizeShares,
		Action:     domain.ActionBuy,
	})
	if err != nil {
		return domain.TradeRecord{}, false, fmt.Errorf("trader.Buy: place order: %w", err)
	}

	po := &domain.PendingOrder{
		ID:          uuid.New().String(),
		VenueID:     placed.VenueID,
		TokenID:     intent.TokenID,
		Side:        intent.Side,
		Action:      domain.ActionBuy,
		PriceCents:  limit,
		SizeShares:  intent.SizeShares,
		SubmittedAt: time.Now().UTC(),
	}
	t.pending[intent.TokenID] = po

	filled := t.awaitBuyFill(ctx, intent.TokenID, baseline, intent.SizeShares, placed)
	delete(t.pending, intent.TokenID)

	if filled <= 0 {
		// Non-fill: cancel whatever may still rest in the book and leave
		// local state exactly as before the submit.
		if cancelErr := t.executor.CancelAll(ctx); cancelErr != nil {
			slog.Warn("trader: cancel after unfilled buy failed", "err", cancelErr)
		}
		return domain.TradeRecord{}, false,
			fmt.Errorf("trader.Buy: no fill after %d polls", t.cfg.FillPollAttempts)
	}

	fillPrice := t.fillPrice(ctx, placed.VenueID, limit)

	pos, exists := t.positions[intent.TokenID]
	if !exists {
		pos = &domain.Position{
			TokenID:  intent.TokenID,
			Side:     intent.Side,
			OpenedAt: time.Now().UTC(),
		}
		t.positions[intent.TokenID] = pos
	}
	pos.ApplyBuy(fillPrice, filled)
	pos.LastMarkCents = fillPrice
	pos.CostEstimated = false
	t.saveCost(ctx, pos)

	tr := domain.TradeRecord{
		Timestamp:      time.Now().UTC(),
		TokenID:        intent.TokenID,
		Side:           intent.Side,
		Action:         domain.ActionBuy,
		FilledCents:    fillPrice,
		FilledSize:     filled,
		CostBasisCents: pos.AvgCostCents,
		Reason:         intent.Reason,
	}
	t.appendTrade(ctx, tr)

	slog.Info("trader: buy filled",
		"token", shortToken(intent.TokenID),
		"side", intent.Side,
		"price", fmt.Sprintf("%.1f¢", fillPrice),
		"size", fmt.Sprintf("%.1f", filled),
		"avg_cost", fmt.Sprintf("%.1f¢", pos.AvgCostCents),
		"reason", intent.Reason,
	)

	// Protective take-profit right after the fill. Failure is non-fatal;
	// the pre-settlement bracket pass retries.
	t.placeTakeProfit(ctx, pos)

	return tr, true, nil
}

// awaitBuyFill polls the venue balance until the expected size shows up or
// the attempt ceiling is hit. Returns the confirmed filled size. The venue
// balance is ground truth: if it grew, the buy filled no matter what the
// order status says.
func (t *Trader) awaitBuyFill(ctx context.Context, tokenID string, baseline, want float64, placed domain.PlacedOrder) float64 {
	if placed.State == domain.OrderStateFilled {
		return want
	}

	best := placed.TakenShares
	for attempt := 0; attempt < t.cfg.FillPollAttempts; attempt++ {
		t.sleep(ctx, t.cfg.FillPollInterval)
		if ctx.Err() != nil {
			break
		}

		balance, err := t.executor.TokenBalance(ctx, tokenID)
		if err != nil {
			slog.Warn("trader: balance poll failed",
				"attempt", attempt+1, "token", shortToken(tokenID), "err", err)
			continue
		}
		gained := balance - baseline
		if gained > best {
			best = gained
		}
		if gained >= want-reconcileSizeTolerance {
			return gained
		}
	}

	if best > balanceZeroTolerance {
		slog.Info("trader: partial buy fill accepted",
			"token", shortToken(tokenID),
			"filled", fmt.Sprintf("%.1f", best),
			"wanted", fmt.Sprintf("%.1f", want),
		)
		return best
	}
	return 0
}

// fillPrice asks the venue for the reported average fill price, falling back
// to the submitted limit when the status call fails or reports nothing.
func (t *Trader) fillPrice(ctx context.Context, venueID string, limit float64) float64 {
	if venueID == "" {
		return limit
	}
	status, err := t.executor.OrderStatus(ctx, venueID)
	if err != nil {
		slog.Debug("trader: order status unavailable, using limit price", "err", err)
		return limit
	}
	if status.AvgFillCents > 0 {
		return status.AvgFillCents
	}
	return limit
}

// Sell executes a SELL intent. Non-forced sells below the profit floor are
// refused (no edge after fees); forced exits always proceed. The planned
// size is reconciled against the venue balance before submitting, a resting
// take-profit for the same shares is cancelled first, and the fill is
// confirmed against the balance the same way Buy confirms: no trade record
// and no position mutation until shares actually left the wallet.
func (t *Trader) Sell(ctx context.Context, intent domain.OrderIntent) (domain.TradeRecord, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, exists := t.positions[intent.TokenID]
	if !exists || pos.SizeShares <= 0 {
		return domain.TradeRecord{}, false, fmt.Errorf("trader.Sell: no position")
	}
	if po, busy := t.pending[intent.TokenID]; busy {
		return domain.TradeRecord{}, false,
			fmt.Errorf("trader.Sell: instrument already has in-flight order %s", po.ID)
	}

	forced := intent.Reason.Forced()
	if !forced {
		floor := pos.AvgCostCents + risk.MinProfitableMove(
			pos.AvgCostCents, t.cfg.TargetNetProfitCents, pos.SizeShares, t.cfg.FeeRatePct)
		if intent.LimitCents < floor {
			return domain.TradeRecord{}, false,
				fmt.Errorf("trader.Sell: price %.1f¢ below profit floor %.1f¢", intent.LimitCents, floor)
		}
	}

	size := intent.SizeShares
	if size <= 0 || size > pos.SizeShares {
		size = pos.SizeShares
	}

	// Trust the venue on how much is actually sellable. The balance here is
	// also the baseline the fill confirmation measures against.
	baseline := pos.SizeShares
	if balance, err := t.executor.TokenBalance(ctx, intent.TokenID); err == nil {
		baseline = balance
		if balance < size {
			slog.Info("trader: sell size reduced to venue balance",
				"token", shortToken(intent.TokenID),
				"planned", fmt.Sprintf("%.1f", size),
				"balance", fmt.Sprintf("%.1f", balance),
			)
			size = balance
		}
	} else {
		slog.Warn("trader: pre-sell balance check failed, using local size", "err", err)
	}

	if size <= balanceZeroTolerance {
		// Nothing sellable: the position already settled or is dust.
		t.dropPosition(ctx, intent.TokenID)
		return domain.TradeRecord{}, false, fmt.Errorf("trader.Sell: venue balance empty, position cleared")
	}

	// A resting take-profit already claims these shares; it must go before
	// the replacement sell or the venue sees both orders at once.
	if br, armed := t.brackets[intent.TokenID]; armed && br.TPVenueID != "" {
		if err := t.executor.CancelAll(ctx); err != nil {
			return domain.TradeRecord{}, false,
				fmt.Errorf("trader.Sell: cancel resting take-profit: %w", err)
		}
		br.TPVenueID = ""
	}

	limit := clampPrice(intent.LimitCents)
	if size < t.cfg.MinOrderShares || forced {
		// Marketable price so the remainder (or forced exit) actually
		// crosses the spread instead of resting.
		limit = clampPrice(intent.LimitCents - aggressiveBiasCents)
	}

	placed, err := t.executor.PlaceOrder(ctx, domain.PlaceOrderRequest{
		TokenID:    intent.TokenID,
		PriceCents: limit,
		SizeShares: size,
		Action:     domain.ActionSell,
	})
	if err != nil {
		return domain.TradeRecord{}, false, fmt.Errorf("trader.Sell: place order: %w", err)
	}

	t.pending[intent.TokenID] = &domain.PendingOrder{
		ID:          uuid.New().String(),
		VenueID:     placed.VenueID,
		TokenID:     intent.TokenID,
		Side:        pos.Side,
		Action:      domain.ActionSell,
		PriceCents:  limit,
		SizeShares:  size,
		SubmittedAt: time.Now().UTC(),
	}

	filled := t.awaitSellFill(ctx, intent.TokenID, baseline, size, placed)
	delete(t.pending, intent.TokenID)

	if filled <= 0 {
		// Non-fill: the shares never moved. Cancel the resting order and
		// leave position, cost basis and streaks exactly as they were.
		if cancelErr := t.executor.CancelAll(ctx); cancelErr != nil {
			slog.Warn("trader: cancel after unfilled sell failed", "err", cancelErr)
		}
		return domain.TradeRecord{}, false,
			fmt.Errorf("trader.Sell: no fill after %d polls", t.cfg.FillPollAttempts)
	}

	fillPrice := t.fillPrice(ctx, placed.VenueID, limit)
	realized := fillPrice - pos.AvgCostCents

	tr := domain.TradeRecord{
		Timestamp:      time.Now().UTC(),
		TokenID:        intent.TokenID,
		Side:           pos.Side,
		Action:         domain.ActionSell,
		FilledCents:    fillPrice,
		FilledSize:     filled,
		RealizedCents:  realized,
		CostBasisCents: pos.AvgCostCents,
		Reason:         intent.Reason,
	}
	t.appendTrade(ctx, tr)
	t.recordStreak(ctx, pos.Side, realized, tr.Timestamp)

	pos.ApplySell(filled)
	pos.LastMarkCents = fillPrice
	if pos.IsDust() {
		t.dropPosition(ctx, intent.TokenID)
	} else {
		// Partial exit: the remainder stays guarded by the stop watch; the
		// pre-settlement bracket pass re-arms the take-profit.
		t.saveCost(ctx, pos)
	}

	slog.Info("trader: sell executed",
		"token", shortToken(intent.TokenID),
		"side", tr.Side,
		"price", fmt.Sprintf("%.1f¢", fillPrice),
		"size", fmt.Sprintf("%.1f", filled),
		"realized", fmt.Sprintf("%+.1f¢/sh", realized),
		"reason", intent.Reason,
	)
	return tr, true, nil
}

// awaitSellFill polls the venue balance until the planned size has left the
// wallet or the attempt ceiling is hit. Returns the confirmed sold size. The
// balance is ground truth: only shares that actually left count as a fill,
// no matter what the order status claims.
func (t *Trader) awaitSellFill(ctx context.Context, tokenID string, baseline, want float64, placed domain.PlacedOrder) float64 {
	if placed.State == domain.OrderStateFilled {
		return want
	}

	best := placed.MadeShares
	for attempt := 0; attempt < t.cfg.FillPollAttempts; attempt++ {
		t.sleep(ctx, t.cfg.FillPollInterval)
		if ctx.Err() != nil {
			break
		}

		balance, err := t.executor.TokenBalance(ctx, tokenID)
		if err != nil {
			slog.Warn("trader: balance poll failed",
				"attempt", attempt+1, "token", shortToken(tokenID), "err", err)
			continue
		}
		sold := baseline - balance
		if sold > best {
			best = sold
		}
		if sold >= want-reconcileSizeTolerance {
			return sold
		}
	}

	if best > balanceZeroTolerance {
		slog.Info("trader: partial sell fill accepted",
			"token", shortToken(tokenID),
			"filled", fmt.Sprintf("%.1f", best),
			"wanted", fmt.Sprintf("%.1f", want),
		)
		return best
	}
	return 0
}

// ForceLiquidate is the nuclear exit: best-effort cancel of open orders,
// then an aggressive marketable sell of the full reconciled balance. Local
// state is always cleared afterwards, venue errors included — a stuck local
// position blocking future entries is worse than a small accounting gap.
func (t *Trader) ForceLiquidate(ctx context.Context, tokenID string, priceCents float64) (domain.TradeRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.forceLiquidateLocked(ctx, tokenID, priceCents)
}

func (t *Trader) forceLiquidateLocked(ctx context.Context, tokenID string, priceCents float64) (domain.TradeRecord, bool) {
	pos := t.positions[tokenID]

	if err := t.executor.CancelAll(ctx); err != nil {
		slog.Warn("trader: cancel-all before liquidation failed", "err", err)
	}

	size := 0.0
	if balance, err := t.executor.TokenBalance(ctx, tokenID); err == nil {
		size = balance
	} else {
		slog.Warn("trader: liquidation balance check failed, using local size", "err", err)
		if pos != nil {
			size = pos.SizeShares
		}
	}

	var (
		tr   domain.TradeRecord
		sold bool
	)
	if size > balanceZeroTolerance {
		limit := clampPrice(priceCents - aggressiveBiasCents)
		placed, err := t.executor.PlaceOrder(ctx, domain.PlaceOrderRequest{
			TokenID:    tokenID,
			PriceCents: limit,
			SizeShares: size,
			Action:     domain.ActionSell,
		})
		if err != nil {
			slog.Error("trader: forced liquidation sell failed, clearing state anyway",
				"token", shortToken(tokenID), "err", err)
		} else {
			fillPrice := t.fillPrice(ctx, placed.VenueID, limit)
			avgCost := fillPrice
			side := domain.SideUp
			if pos != nil {
				avgCost = pos.AvgCostCents
				side = pos.Side
			}
			realized := fillPrice - avgCost
			tr = domain.TradeRecord{
				Timestamp:      time.Now().UTC(),
				TokenID:        tokenID,
				Side:           side,
				Action:         domain.ActionSell,
				FilledCents:    fillPrice,
				FilledSize:     size,
				RealizedCents:  realized,
				CostBasisCents: avgCost,
				Reason:         domain.ReasonStopLoss,
			}
			t.appendTrade(ctx, tr)
			t.recordStreak(ctx, side, realized, tr.Timestamp)
			sold = true
		}
	}

	t.dropPosition(ctx, tokenID)
	slog.Info("trader: forced liquidation complete",
		"token", shortToken(tokenID), "sold", sold)
	return tr, sold
}
