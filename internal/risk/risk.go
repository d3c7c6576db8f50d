package risk

import (
	"math"

	"github.com/alejandrodnm/updown/internal/domain"
)

// DefaultTickCents is the venue tick size for 15-minute binaries (1¢).
const DefaultTickCents = 1.0

// MinProfitableMove returns the per-share price move (in cents) required to
// realize targetNetProfitCents after taker fees on both legs.
//
// Solves x·size − feeRate·(2·entry + x)·size/100 = target for x:
//
//	x = (target/size + 2·entry·feeRate/100) / (1 − feeRate/100)
//
// rounded up to the instrument tick. A naive "+N¢ and sell" rule silently
// erodes to a loss once both taker fees are included.
func MinProfitableMove(entryCents, targetNetProfitCents, size, feeRatePct float64) float64 {
	if size <= 0 {
		return 0
	}
	denom := 1 - feeRatePct/100
	if denom <= 0 {
		return 0
	}
	x := (targetNetProfitCents/size + 2*entryCents*feeRatePct/100) / denom
	return roundUpToTick(x, DefaultTickCents)
}

// roundUpToTick rounds x up to the next multiple of tick.
func roundUpToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Ceil(x/tick-1e-9) * tick
}

// BookAssessment is the result of walking an order book for a planned fill.
type BookAssessment struct {
	Tradeable      bool
	Reason         string
	EffectiveCents float64 // liquidity-weighted average fill price
	EstFeeCents    float64 // estimated taker fee for the fill, total cents
}

// AssessBook walks the relevant side of the book accumulating liquidity
// until size is satisfied. Not tradeable when liquidity is insufficient,
// total depth is below minDepth, or the weighted average price deviates
// from the best level by more than maxSlippageCents.
func AssessBook(book domain.OrderBook, action domain.Action, size, maxSlippageCents, minDepth, feeRatePct float64) BookAssessment {
	levels := book.Asks
	depth := book.AskDepth()
	if action == domain.ActionSell {
		levels = book.Bids
		depth = book.BidDepth()
	}

	if len(levels) == 0 {
		return BookAssessment{Reason: "empty book"}
	}
	if depth < minDepth {
		return BookAssessment{Reason: "depth below minimum"}
	}

	best := levels[0].PriceCents
	var filled, cost float64
	for _, lvl := range levels {
		take := math.Min(lvl.Size, size-filled)
		filled += take
		cost += take * lvl.PriceCents
		if filled >= size {
			break
		}
	}
	if filled < size {
		return BookAssessment{Reason: "insufficient liquidity"}
	}

	avg := cost / size
	if math.Abs(avg-best) > maxSlippageCents {
		return BookAssessment{Reason: "slippage above limit"}
	}

	return BookAssessment{
		Tradeable:      true,
		EffectiveCents: avg,
		EstFeeCents:    cost * feeRatePct / 100,
	}
}

// Gate is a yes/no trading-window decision with a reason for the no.
type Gate struct {
	Tradeable bool
	Reason    string
}

// TimeGate rejects entries inside the forced-liquidation window (must be
// flat, not entering) and entries too close to interval start to expect a
// fill before the next window kicks in.
func TimeGate(timeToStartMs, forcedExitWindowMs, minEntryLeadMs int64) Gate {
	if timeToStartMs <= forcedExitWindowMs {
		return Gate{Reason: "inside forced-exit window"}
	}
	if timeToStartMs < minEntryLeadMs {
		return Gate{Reason: "too close to interval start"}
	}
	return Gate{Tradeable: true}
}
