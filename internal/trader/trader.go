// Package trader is the authoritative position and order ledger.
//
// It owns the Position and PendingOrder maps exclusively: the strategy only
// proposes intents, the engine only reads copies. Every mutation goes through
// Buy, Sell, ForceLiquidate or Reconcile, which enforce the single-side and
// single-pending-order invariants at the mutation boundary.
package trader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
)

const (
	defaultBuyBiasCents    = 1.0 // marketable limit: bid this far above quote
	defaultFillPollLimit   = 6
	defaultFillPollSleep   = 2 * time.Second
	defaultMinOrderShares  = 5.0 // venue minimum order size
	aggressiveBiasCents    = 2.0 // forced sells undercut the quote by this
	maxSubmitPriceCents    = 99.5
	minSubmitPriceCents    = 0.5
	balanceZeroTolerance   = domain.DustThreshold
	reconcileSizeTolerance = 0.01
)

// Config holds the trader's execution parameters.
type Config struct {
	TargetNetProfitCents float64       // net profit per trade the brackets aim for
	FeeRatePct           float64       // venue taker fee, both legs
	BuyBiasCents         float64       // marketable-limit bias above quote
	FillPollAttempts     int           // bounded balance polls after a buy
	FillPollInterval     time.Duration // sleep between polls
	MinOrderShares       float64       // venue minimum; below it, market-sell remainder
	StopLossCents        float64       // stop-watch distance below avg cost
	LossStreakLimit      int           // consecutive losses before cooldown
	LossCooldown         time.Duration // entry block after a streak
}

func (c *Config) applyDefaults() {
	if c.BuyBiasCents <= 0 {
		c.BuyBiasCents = defaultBuyBiasCents
	}
	if c.FillPollAttempts <= 0 {
		c.FillPollAttempts = defaultFillPollLimit
	}
	if c.FillPollInterval <= 0 {
		c.FillPollInterval = defaultFillPollSleep
	}
	if c.MinOrderShares <= 0 {
		c.MinOrderShares = defaultMinOrderShares
	}
}

// Trader executes intents against the venue and reconciles local belief
// against venue-reported balances.
type Trader struct {
	cfg      Config
	executor ports.OrderExecutor
	store    ports.LedgerStorage

	// sleep is swapped out in tests so bounded polls don't wall-clock wait.
	sleep func(ctx context.Context, d time.Duration)

	mu        sync.Mutex
	positions map[string]*domain.Position     // tokenID → position
	pending   map[string]*domain.PendingOrder // tokenID → in-flight order
	brackets  map[string]*bracket             // tokenID → armed bracket
	streaks   map[domain.Side]domain.LossStreak
}

// New builds a trader. LoadState must be called before the first tick.
func New(cfg Config, executor ports.OrderExecutor, store ports.LedgerStorage) *Trader {
	cfg.applyDefaults()
	return &Trader{
		cfg:       cfg,
		executor:  executor,
		store:     store,
		sleep:     sleepCtx,
		positions: make(map[string]*domain.Position),
		pending:   make(map[string]*domain.PendingOrder),
		brackets:  make(map[string]*bracket),
		streaks:   make(map[domain.Side]domain.LossStreak),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// LoadState restores persisted cost basis and loss streaks. Positions are
// restored as size-0 cost hints; the first Reconcile pass fills in sizes
// from venue balances.
func (t *Trader) LoadState(ctx context.Context) error {
	costs, err := t.store.LoadCosts(ctx)
	if err != nil {
		return fmt.Errorf("trader.LoadState: load costs: %w", err)
	}
	streaks, err := t.store.LoadStreaks(ctx)
	if err != nil {
		return fmt.Errorf("trader.LoadState: load streaks: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, pos := range costs {
		p := pos
		p.SizeShares = 0
		t.positions[id] = &p
	}
	t.streaks = streaks
	if t.streaks == nil {
		t.streaks = make(map[domain.Side]domain.LossStreak)
	}
	slog.Info("trader: state loaded", "cost_hints", len(costs), "streaks", len(streaks))
	return nil
}

// Positions returns a copy of all positions with nonzero size.
func (t *Trader) Positions() []domain.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Position, 0, len(t.positions))
	for _, pos := range t.positions {
		if pos.SizeShares > 0 {
			out = append(out, *pos)
		}
	}
	return out
}

// Streaks returns a copy of the per-side loss streaks.
func (t *Trader) Streaks() map[domain.Side]domain.LossStreak {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[domain.Side]domain.LossStreak, len(t.streaks))
	for side, ls := range t.streaks {
		out[side] = ls
	}
	return out
}

// Execute runs a tick's intents in order. Each intent either completes or
// degrades to a logged skip; one failed intent never aborts the rest.
// Returns the trade records appended this tick.
func (t *Trader) Execute(ctx context.Context, snap domain.MarketSnapshot, intents []domain.OrderIntent) []domain.TradeRecord {
	var trades []domain.TradeRecord
	for _, intent := range intents {
		var (
			tr  domain.TradeRecord
			ok  bool
			err error
		)
		switch intent.Action {
		case domain.ActionBuy:
			tr, ok, err = t.Buy(ctx, snap, intent)
		case domain.ActionSell:
			tr, ok, err = t.Sell(ctx, intent)
		default:
			err = fmt.Errorf("trader.Execute: unknown action %q", intent.Action)
		}
		if err != nil {
			slog.Warn("trader: intent skipped",
				"action", intent.Action,
				"token", shortToken(intent.TokenID),
				"reason", intent.Reason,
				"err", err,
			)
			continue
		}
		if ok {
			trades = append(trades, tr)
		}
	}
	return trades
}

// clampPrice keeps a submit price inside the venue's valid band.
func clampPrice(cents float64) float64 {
	if cents > maxSubmitPriceCents {
		return maxSubmitPriceCents
	}
	if cents < minSubmitPriceCents {
		return minSubmitPriceCents
	}
	return cents
}

func shortToken(id string) string {
	if len(id) <= 10 {
		return id
	}
	return id[:10]
}

// recordStreak folds a realized result into the side's loss streak and
// persists it. Caller holds t.mu.
func (t *Trader) recordStreak(ctx context.Context, side domain.Side, realizedCents float64, now time.Time) {
	ls := t.streaks[side]
	ls.Side = side
	if realizedCents < 0 {
		ls.RecordLoss(t.cfg.LossStreakLimit, t.cfg.LossCooldown, now)
		if ls.InCooldown(now) {
			slog.Warn("trader: side entering cooldown",
				"side", side, "until", ls.CooldownUntil.Format(time.RFC3339))
		}
	} else {
		ls.RecordWin()
	}
	t.streaks[side] = ls

	if err := t.store.SaveStreak(ctx, ls); err != nil {
		slog.Warn("trader: could not persist streak", "side", side, "err", err)
	}
}

// appendTrade persists a trade record; persistence failure is logged, the
// in-memory result still counts.
func (t *Trader) appendTrade(ctx context.Context, tr domain.TradeRecord) {
	if err := t.store.AppendTrade(ctx, tr); err != nil {
		slog.Warn("trader: could not persist trade record",
			"token", shortToken(tr.TokenID), "err", err)
	}
}

// saveCost persists the position's average cost.
func (t *Trader) saveCost(ctx context.Context, pos *domain.Position) {
	if err := t.store.SaveCost(ctx, pos.TokenID, pos.Side, pos.AvgCostCents); err != nil {
		slog.Warn("trader: could not persist cost basis",
			"token", shortToken(pos.TokenID), "err", err)
	}
}

// dropPosition clears every trace of an instrument: position, pending order,
// bracket and persisted cost. Caller holds t.mu.
func (t *Trader) dropPosition(ctx context.Context, tokenID string) {
	delete(t.positions, tokenID)
	delete(t.pending, tokenID)
	delete(t.brackets, tokenID)
	if err := t.store.DeleteCost(ctx, tokenID); err != nil {
		slog.Warn("trader: could not delete persisted cost",
			"token", shortToken(tokenID), "err", err)
	}
}
