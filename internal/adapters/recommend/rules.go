// Package recommend contains the rule-based entry recommender. It is the
// fallback engine behind ports.Recommender; a model-based engine can be
// swapped in without the strategy noticing.
package recommend

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/updown/internal/domain"
)

const (
	defaultMinConfidence = 60.0
	maxConfidence        = 95.0
	depthLevels          = 5 // book levels considered per side
)

// Config tunes the rule-based signal.
type Config struct {
	MinConfidence  float64 // below this, ShouldTrade is false
	OrderSizeShare float64 // size attached to the recommendation
}

// RuleBased scores a pair from order-book imbalance: persistent bid-side
// pressure on one outcome is the only signal cheap enough to compute every
// tick without a model.
type RuleBased struct {
	cfg Config
}

// NewRuleBased builds the recommender.
func NewRuleBased(cfg Config) *RuleBased {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = defaultMinConfidence
	}
	return &RuleBased{cfg: cfg}
}

// Recommend implements ports.Recommender.
func (rb *RuleBased) Recommend(_ context.Context, pair domain.InstrumentPair, books map[string]domain.OrderBook) (domain.Recommendation, error) {
	upBook, upOK := books[pair.Up.TokenID]
	downBook, downOK := books[pair.Down.TokenID]
	if !upOK || !downOK {
		return domain.Recommendation{Reasons: []string{"missing order books"}}, nil
	}

	upPressure := buyPressure(upBook)
	downPressure := buyPressure(downBook)
	if upPressure == 0 && downPressure == 0 {
		return domain.Recommendation{Reasons: []string{"empty books"}}, nil
	}

	side := domain.SideUp
	edge := upPressure - downPressure
	if edge < 0 {
		side = domain.SideDown
		edge = -edge
	}

	confidence := 50 + edge*100
	if confidence > maxConfidence {
		confidence = maxConfidence
	}

	rec := domain.Recommendation{
		Side:       side,
		Confidence: confidence,
		SizeShares: rb.cfg.OrderSizeShare,
		Reasons: []string{
			fmt.Sprintf("bid pressure up=%.2f down=%.2f", upPressure, downPressure),
		},
	}
	if confidence >= rb.cfg.MinConfidence {
		rec.ShouldTrade = true
	} else {
		rec.Reasons = append(rec.Reasons,
			fmt.Sprintf("confidence %.0f below %.0f", confidence, rb.cfg.MinConfidence))
	}
	return rec, nil
}

// buyPressure returns the bid share of total visible liquidity in [0,1],
// using the top levels only. 0.5 is a balanced book.
func buyPressure(book domain.OrderBook) float64 {
	bid := topDepth(book.Bids)
	ask := topDepth(book.Asks)
	total := bid + ask
	if total == 0 {
		return 0
	}
	return bid / total
}

func topDepth(levels []domain.BookEntry) float64 {
	var total float64
	for i, lvl := range levels {
		if i >= depthLevels {
			break
		}
		total += lvl.Size
	}
	return total
}
