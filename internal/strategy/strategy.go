package strategy

// strategy.go — the signal state machine.
//
// Each tick walks an ordered list of named rules; the first rule that emits
// intents wins and short-circuits everything below it. Priority:
//
//	orphan cleanup > pre-start exit > pre-end exit > stop-loss >
//	take-profit > new entries
//
// Entries are therefore never emitted on a tick where any protective rule
// fired. The rule list is fixed at construction so each rule is testable
// in isolation.

import (
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
)

// Config holds every threshold the rules consult. All prices in cents.
type Config struct {
	ForcedExitWindow time.Duration // flat inside this window before start/end
	MinEntryLead     time.Duration // no entries closer than this to start

	StopLossCents float64 // per-share loss triggering a stop
	StopLossPct   float64 // loss as % of cost triggering a stop
	TakeProfitPct float64 // unrealized % gain triggering an exit

	CombinedCapCents  float64 // max Up+Down quoted sum for entries
	EntryFloorCents   float64 // reject entries quoted below this
	EntryCeilingCents float64 // reject entries quoted above this
	MaxPositionShares float64 // per-instrument size cap
	OrderSizeShares   float64 // default size when the signal has none

	MaxSlippageCents float64 // entry book gate: max avg-fill deviation from best
	MinBookDepth     float64 // entry book gate: min total shares on the ask side
	FeeRatePct       float64 // taker fee used in the book assessment

	MidIntervalEntry   bool          // allow entries on the running interval
	MidIntervalMinLead time.Duration // required room before the pre-end window

	LeaderOverride    bool    // pre-market momentum override
	LeaderGapMinCents float64 // gap band lower bound
	LeaderGapMaxCents float64 // gap band upper bound
}

// Input is everything one tick of evaluation needs. The strategy holds no
// state between ticks — all of it arrives here.
type Input struct {
	Snapshot   domain.MarketSnapshot
	Positions  []domain.Position
	Prices     map[string]float64          // fresh samples, instrument → cents
	Books      map[string]domain.OrderBook // this tick's books, instrument → book
	RecNext    domain.Recommendation
	RecCurrent domain.Recommendation
	Streaks    map[domain.Side]domain.LossStreak
	Now        time.Time
}

// rule is one named priority level. Returning a non-empty intent list
// terminates evaluation for the tick.
type rule struct {
	name string
	eval func(cfg Config, in Input) []domain.OrderIntent
}

// Strategy converts market snapshots into ordered BUY/SELL intents.
type Strategy struct {
	cfg   Config
	rules []rule
}

// New builds the strategy with its fixed priority order.
func New(cfg Config) *Strategy {
	return &Strategy{
		cfg: cfg,
		rules: []rule{
			{"orphan-cleanup", orphanCleanup},
			{"pre-start-exit", preStartExit},
			{"pre-end-exit", preEndExit},
			{"stop-loss", stopLoss},
			{"take-profit", takeProfit},
			{"entries", entries},
		},
	}
}

// Evaluate runs the rules in priority order and returns the first match.
// Returns the winning rule's name for observability; empty when no rule fired.
func (s *Strategy) Evaluate(in Input) ([]domain.OrderIntent, string) {
	for _, r := range s.rules {
		if intents := r.eval(s.cfg, in); len(intents) > 0 {
			return intents, r.name
		}
	}
	return nil, ""
}

// markPrice resolves the best available mark for a position: fresh sample,
// then last known mark, then the quoted price from the snapshot.
func markPrice(in Input, pos domain.Position) float64 {
	if p, ok := in.Prices[pos.TokenID]; ok {
		return p
	}
	if pos.LastMarkCents > 0 {
		return pos.LastMarkCents
	}
	if inst, ok := in.Snapshot.Lookup(pos.TokenID); ok {
		return inst.QuotedCents
	}
	return pos.AvgCostCents
}

// sellIntent builds a full-size SELL for a position.
func sellIntent(pos domain.Position, limitCents float64, reason domain.Reason) domain.OrderIntent {
	return domain.OrderIntent{
		Action:     domain.ActionSell,
		TokenID:    pos.TokenID,
		Side:       pos.Side,
		LimitCents: limitCents,
		SizeShares: pos.SizeShares,
		Reason:     reason,
	}
}
