package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/updown/config"
	"github.com/alejandrodnm/updown/internal/adapters/notify"
	"github.com/alejandrodnm/updown/internal/adapters/paper"
	"github.com/alejandrodnm/updown/internal/adapters/polymarket"
	"github.com/alejandrodnm/updown/internal/adapters/recommend"
	"github.com/alejandrodnm/updown/internal/adapters/storage"
	"github.com/alejandrodnm/updown/internal/adapters/stream"
	"github.com/alejandrodnm/updown/internal/application/engine"
	"github.com/alejandrodnm/updown/internal/ports"
	"github.com/alejandrodnm/updown/internal/pricefeed"
	"github.com/alejandrodnm/updown/internal/strategy"
	"github.com/alejandrodnm/updown/internal/trader"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one tick cycle and exit")
	dryRun := flag.Bool("dry-run", false, "simulate fills in memory, no real orders")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full tables per tick (default: compact 1-line)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("updown starting",
		"config", *configPath,
		"series", cfg.Bot.SeriesSlug,
		"tick", cfg.TickInterval(),
		"dry_run", *dryRun,
		"once", *once,
	)

	client := polymarket.NewClient(cfg.API.CLOBBase, cfg.API.GammaBase)

	markets, err := polymarket.NewMarketService(client, cfg.Bot.SeriesSlug, cfg.SettlementInterval())
	if err != nil {
		slog.Error("failed to build market service", "err", err)
		os.Exit(1)
	}

	dsn := cfg.Storage.DSN
	if *dryRun {
		dsn = ":memory:"
	}
	store, err := storage.NewSQLiteStorage(dsn)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", dsn)
		os.Exit(1)
	}
	defer store.Close()

	tracker := pricefeed.NewTracker()

	executor, err := buildExecutor(cfg, tracker, *dryRun)
	if err != nil {
		slog.Error("failed to build executor", "err", err)
		os.Exit(1)
	}

	source := stream.NewWSSource(cfg.Feed.WSURL)
	feed := pricefeed.NewFeed(source, tracker, client, backoffPolicy(cfg.Feed))

	strat := strategy.New(strategyConfig(cfg))

	trd := trader.New(trader.Config{
		TargetNetProfitCents: cfg.Trading.TargetNetProfitCents,
		FeeRatePct:           cfg.Trading.FeeRatePct,
		BuyBiasCents:         cfg.Trading.BuyBiasCents,
		FillPollAttempts:     cfg.Trading.FillPollAttempts,
		FillPollInterval:     time.Duration(cfg.Trading.FillPollMillis) * time.Millisecond,
		MinOrderShares:       cfg.Trading.MinOrderShares,
		StopLossCents:        cfg.Strategy.StopLossCents,
		LossStreakLimit:      cfg.Trading.LossStreakLimit,
		LossCooldown:         time.Duration(cfg.Trading.LossCooldownMinutes) * time.Minute,
	}, executor, store)

	rec := recommend.NewRuleBased(recommend.Config{
		MinConfidence:  cfg.Strategy.MinConfidence,
		OrderSizeShare: cfg.Strategy.OrderSizeShares,
	})

	notifier := notify.NewConsole(*table)

	eng := engine.New(engine.Config{
		TickInterval:  cfg.TickInterval(),
		MaxPriceAge:   time.Duration(cfg.Feed.MaxPriceAgeSecs) * time.Second,
		StaleAge:      time.Duration(cfg.Feed.StaleAgeSecs) * time.Second,
		BracketWindow: cfg.BracketWindow(),
	}, markets, client, rec, notifier, store, tracker, feed, strat, trd)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *once {
		if err := trd.LoadState(ctx); err != nil {
			slog.Error("failed to load ledger state", "err", err)
			os.Exit(1)
		}
		if err := eng.RunOnce(ctx); err != nil {
			slog.Error("tick failed", "err", err)
			os.Exit(1)
		}
		return
	}

	if err := eng.Run(ctx); err != nil {
		slog.Error("engine exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("updown stopped cleanly")
}

// buildExecutor picks the real venue client or the in-memory simulator.
func buildExecutor(cfg *config.Config, tracker *pricefeed.Tracker, dryRun bool) (ports.OrderExecutor, error) {
	if dryRun {
		mark := func(tokenID string) (float64, bool) {
			price, _, ok := tracker.Last(tokenID)
			return price, ok
		}
		return paper.New(mark), nil
	}

	auth, err := polymarket.NewAuthClient(cfg.API.CLOBBase, cfg.API.GammaBase, cfg.Wallet.PrivateKey)
	if err != nil {
		return nil, err
	}
	return polymarket.NewTradingClient(auth, cfg.API.RPCURL)
}

func strategyConfig(cfg *config.Config) strategy.Config {
	return strategy.Config{
		ForcedExitWindow:   time.Duration(cfg.Strategy.ForcedExitSeconds) * time.Second,
		MinEntryLead:       time.Duration(cfg.Strategy.MinEntryLeadSecs) * time.Second,
		StopLossCents:      cfg.Strategy.StopLossCents,
		StopLossPct:        cfg.Strategy.StopLossPct,
		TakeProfitPct:      cfg.Strategy.TakeProfitPct,
		CombinedCapCents:   cfg.Strategy.CombinedCapCents,
		EntryFloorCents:    cfg.Strategy.EntryFloorCents,
		EntryCeilingCents:  cfg.Strategy.EntryCeilingCents,
		MaxPositionShares:  cfg.Strategy.MaxPositionShares,
		OrderSizeShares:    cfg.Strategy.OrderSizeShares,
		MaxSlippageCents:   cfg.Strategy.MaxSlippageCents,
		MinBookDepth:       cfg.Strategy.MinBookDepthShares,
		FeeRatePct:         cfg.Trading.FeeRatePct,
		MidIntervalEntry:   cfg.Strategy.MidIntervalEntry,
		MidIntervalMinLead: time.Duration(cfg.Strategy.MidIntervalLeadSec) * time.Second,
		LeaderOverride:     cfg.Strategy.LeaderOverride,
		LeaderGapMinCents:  cfg.Strategy.LeaderGapMinCents,
		LeaderGapMaxCents:  cfg.Strategy.LeaderGapMaxCents,
	}
}

func backoffPolicy(feed config.FeedConfig) pricefeed.BackoffPolicy {
	policy := pricefeed.DefaultBackoff
	if feed.BackoffBaseMs > 0 {
		policy.Base = time.Duration(feed.BackoffBaseMs) * time.Millisecond
	}
	if feed.BackoffMaxSecs > 0 {
		policy.Max = time.Duration(feed.BackoffMaxSecs) * time.Second
	}
	if feed.BackoffAttempts > 0 {
		policy.MaxAttempts = feed.BackoffAttempts
	}
	return policy
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
