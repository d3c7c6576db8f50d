// Package engine drives the tick loop: one logical orchestration cycle per
// poll interval, no two ticks ever concurrent. Each tick pulls a market
// snapshot, evaluates the strategy against fresh prices, hands intents to
// the trader, reconciles, and reports.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/pricefeed"
	"github.com/alejandrodnm/updown/internal/ports"
	"github.com/alejandrodnm/updown/internal/strategy"
	"github.com/alejandrodnm/updown/internal/trader"
)

const (
	defaultTickInterval = 5 * time.Second
	defaultMaxPriceAge  = 10 * time.Second
	defaultStaleAge     = 30 * time.Second
	reportTradeLimit    = 15
)

// Config holds the orchestration parameters.
type Config struct {
	TickInterval  time.Duration // poll cadence
	MaxPriceAge   time.Duration // samples older than this are not fresh
	StaleAge      time.Duration // oldest sample age forcing a reconnect
	BracketWindow time.Duration // before settlement, place exact brackets
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.MaxPriceAge <= 0 {
		c.MaxPriceAge = defaultMaxPriceAge
	}
	if c.StaleAge <= 0 {
		c.StaleAge = defaultStaleAge
	}
}

// Engine wires the tracker, strategy and trader into the tick loop.
type Engine struct {
	cfg      Config
	markets  ports.MarketProvider
	books    ports.BookProvider
	rec      ports.Recommender
	notifier ports.Notifier
	store    ports.LedgerStorage

	tracker *pricefeed.Tracker
	feed    *pricefeed.Feed
	strat   *strategy.Strategy
	trader  *trader.Trader

	lastNextID string // detects interval rotation between ticks
}

// New assembles the engine. feed may be nil when prices only come from
// order-book polls (dry runs without a stream).
func New(
	cfg Config,
	markets ports.MarketProvider,
	books ports.BookProvider,
	rec ports.Recommender,
	notifier ports.Notifier,
	store ports.LedgerStorage,
	tracker *pricefeed.Tracker,
	feed *pricefeed.Feed,
	strat *strategy.Strategy,
	trd *trader.Trader,
) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:      cfg,
		markets:  markets,
		books:    books,
		rec:      rec,
		notifier: notifier,
		store:    store,
		tracker:  tracker,
		feed:     feed,
		strat:    strat,
		trader:   trd,
	}
}

// Run starts the feed and loops RunOnce until ctx is cancelled. Tick errors
// are logged and the loop continues; nothing in the cycle is fatal.
func (e *Engine) Run(ctx context.Context) error {
	snap, err := e.markets.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("engine.Run: initial snapshot: %w", err)
	}
	if e.feed != nil {
		e.feed.Start(ctx, snap.TokenIDs())
	}
	e.lastNextID = snap.Next.IntervalID

	if err := e.trader.LoadState(ctx); err != nil {
		return fmt.Errorf("engine.Run: %w", err)
	}
	if err := e.trader.Reconcile(ctx, snap); err != nil {
		slog.Warn("engine: startup reconcile incomplete", "err", err)
	}

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	slog.Info("engine: started",
		"tick", e.cfg.TickInterval,
		"max_price_age", e.cfg.MaxPriceAge,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("engine: stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := e.RunOnce(ctx); err != nil {
				slog.Error("engine: tick failed", "err", err)
			}
		}
	}
}

// RunOnce executes one full tick cycle.
func (e *Engine) RunOnce(ctx context.Context) error {
	started := time.Now()
	var warnings []string

	snap, err := e.markets.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("engine.RunOnce: snapshot: %w", err)
	}
	tokens := snap.TokenIDs()

	// Interval rotation: retrack the stream and forget rotated-out samples.
	if snap.Next.IntervalID != e.lastNextID {
		slog.Info("engine: interval rotated",
			"from", e.lastNextID, "to", snap.Next.IntervalID)
		e.lastNextID = snap.Next.IntervalID
		if e.feed != nil {
			e.feed.Retrack(tokens)
		}
	}

	// Staleness: a dead stream triggers a background reconnect but never
	// blocks the tick. Protective rules keep running on last-known marks.
	stale := e.tracker.MaxAge(tokens) > e.cfg.StaleAge
	if stale {
		warnings = append(warnings, "price feed stale, reconnecting")
		slog.Warn("engine: price samples stale",
			"max_age", e.tracker.MaxAge(tokens).Round(time.Second))
		if e.feed != nil {
			e.feed.ForceReconnect()
		}
		e.seedFromBooks(ctx, tokens)
	}

	books, err := e.books.FetchOrderBooks(ctx, tokens)
	if err != nil {
		warnings = append(warnings, "order books unavailable")
		slog.Warn("engine: book fetch failed", "err", err)
		books = map[string]domain.OrderBook{}
	}

	prices := e.tracker.Fresh(e.cfg.MaxPriceAge)

	recNext := e.recommend(ctx, snap.Next, books)
	var recCurrent domain.Recommendation
	if snap.Current.IntervalID != "" {
		recCurrent = e.recommend(ctx, snap.Current, books)
	}

	intents, ruleName := e.strat.Evaluate(strategy.Input{
		Snapshot:   snap,
		Positions:  e.trader.Positions(),
		Prices:     prices,
		Books:      books,
		RecNext:    recNext,
		RecCurrent: recCurrent,
		Streaks:    e.trader.Streaks(),
		Now:        time.Now(),
	})
	if len(intents) > 0 {
		slog.Info("engine: signal fired",
			"rule", ruleName, "intents", len(intents))
	}

	trades := e.trader.Execute(ctx, snap, intents)

	if err := e.trader.Reconcile(ctx, snap); err != nil {
		warnings = append(warnings, "reconcile incomplete")
		slog.Warn("engine: reconcile incomplete", "err", err)
	}

	e.trader.CheckStopWatch(ctx, prices)

	if e.cfg.BracketWindow > 0 && snap.TimeToEnd <= e.cfg.BracketWindow {
		e.trader.PlaceBrackets(ctx, snap)
	}

	e.report(ctx, snap, intents, trades, stale, warnings)

	slog.Debug("engine: tick done",
		"took", time.Since(started).Round(time.Millisecond),
		"rule", ruleName,
		"trades", len(trades),
	)
	return nil
}

// recommend queries the recommender, degrading to no-trade on error.
func (e *Engine) recommend(ctx context.Context, pair domain.InstrumentPair, books map[string]domain.OrderBook) domain.Recommendation {
	rec, err := e.rec.Recommend(ctx, pair, books)
	if err != nil {
		slog.Warn("engine: recommender failed, treating as no-trade",
			"interval", pair.IntervalID, "err", err)
		return domain.Recommendation{}
	}
	return rec
}

// seedFromBooks feeds order-book midpoints into the tracker while the
// stream is down. Inferior to streamed ticks but keeps stops guarded.
func (e *Engine) seedFromBooks(ctx context.Context, tokens []string) {
	books, err := e.books.FetchOrderBooks(ctx, tokens)
	if err != nil {
		slog.Warn("engine: stale-feed book seed failed", "err", err)
		return
	}
	for id, book := range books {
		if mid := book.Midpoint(); mid > 0 {
			e.tracker.Accept(id, mid, true)
		}
	}
}

// report assembles the read-only tick view for the presentation layer.
func (e *Engine) report(ctx context.Context, snap domain.MarketSnapshot, intents []domain.OrderIntent, trades []domain.TradeRecord, stale bool, warnings []string) {
	if e.notifier == nil {
		return
	}

	stats, err := e.store.GetStats(ctx)
	if err != nil {
		slog.Warn("engine: stats unavailable", "err", err)
	}
	recent, err := e.store.GetTrades(ctx, reportTradeLimit)
	if err != nil {
		recent = trades
	}
	dailies, err := e.store.GetDailies(ctx)
	if err != nil {
		slog.Warn("engine: daily summary unavailable", "err", err)
	}

	feedOK := !stale
	if e.feed != nil {
		feedOK = feedOK && e.feed.Healthy()
	}

	report := ports.TickReport{
		At:        time.Now(),
		Snapshot:  snap,
		Positions: e.trader.Positions(),
		Intents:   intents,
		Trades:    recent,
		Stats:     stats,
		Dailies:   dailies,
		PriceAges: e.tracker.Ages(),
		FeedOK:    feedOK,
		Warnings:  warnings,
	}
	if err := e.notifier.Notify(ctx, report); err != nil {
		slog.Warn("engine: notify failed", "err", err)
	}
}
