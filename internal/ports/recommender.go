package ports

import (
	"context"

	"github.com/alejandrodnm/updown/internal/domain"
)

// Recommender produces an entry recommendation for an instrument pair.
// Rule-based and model-based engines sit behind this same interface; the
// strategy consumes whichever is wired without knowing which it got.
type Recommender interface {
	Recommend(ctx context.Context, pair domain.InstrumentPair, books map[string]domain.OrderBook) (domain.Recommendation, error)
}
