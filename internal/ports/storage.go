package ports

import (
	"context"

	"github.com/alejandrodnm/updown/internal/domain"
)

// LedgerStorage persists trader state across restarts.
type LedgerStorage interface {
	// Cost basis — instrument → average cost map, durable across restarts.
	SaveCost(ctx context.Context, tokenID string, side domain.Side, avgCostCents float64) error
	DeleteCost(ctx context.Context, tokenID string) error
	LoadCosts(ctx context.Context) (map[string]domain.Position, error)

	// Trade log — append-only.
	AppendTrade(ctx context.Context, tr domain.TradeRecord) error
	GetTrades(ctx context.Context, limit int) ([]domain.TradeRecord, error)
	LastTradePrice(ctx context.Context, tokenID string) (float64, bool, error)
	GetStats(ctx context.Context) (domain.TradeStats, error)
	GetDailies(ctx context.Context) ([]domain.DailySummary, error)

	// Loss streaks.
	SaveStreak(ctx context.Context, ls domain.LossStreak) error
	LoadStreaks(ctx context.Context) (map[domain.Side]domain.LossStreak, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
