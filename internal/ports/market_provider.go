package ports

import (
	"context"

	"github.com/alejandrodnm/updown/internal/domain"
)

// MarketProvider resuelve el par de instrumentos actual y el siguiente.
type MarketProvider interface {
	// Snapshot devuelve la vista del mercado para este tick: par actual,
	// par siguiente y los tiempos hasta inicio/fin de intervalo.
	Snapshot(ctx context.Context) (domain.MarketSnapshot, error)
}
