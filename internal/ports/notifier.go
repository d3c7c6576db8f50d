package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
)

// TickReport is the read-only view handed to the presentation layer after
// each tick. Never a control path back into the trader.
type TickReport struct {
	At        time.Time
	Snapshot  domain.MarketSnapshot
	Positions []domain.Position
	Intents   []domain.OrderIntent
	Trades    []domain.TradeRecord // most recent first
	Stats     domain.TradeStats
	Dailies   []domain.DailySummary // oldest first, table mode only
	PriceAges map[string]time.Duration
	FeedOK    bool
	Warnings  []string
}

// Notifier presenta el estado del bot al usuario.
type Notifier interface {
	// Notify muestra posiciones, señales y PnL del tick.
	Notify(ctx context.Context, report TickReport) error
}
