package domain

import "time"

// Side is one of the two outcomes of a settlement interval.
type Side string

const (
	SideUp   Side = "UP"
	SideDown Side = "DOWN"
)

// Opposite returns the other side of the interval.
func (s Side) Opposite() Side {
	if s == SideUp {
		return SideDown
	}
	return SideUp
}

// Instrument is one side (Up or Down) of one settlement interval.
// Immutable once issued by market discovery.
type Instrument struct {
	TokenID     string
	Side        Side
	QuotedCents float64 // implied probability, 0–100
}

// InstrumentPair holds both sides of one settlement interval.
type InstrumentPair struct {
	IntervalID string // venue condition identifier for the interval
	Up         Instrument
	Down       Instrument
}

// Token returns the instrument for the given side.
func (p InstrumentPair) Token(side Side) Instrument {
	if side == SideUp {
		return p.Up
	}
	return p.Down
}

// Contains reports whether tokenID belongs to this pair.
func (p InstrumentPair) Contains(tokenID string) bool {
	return tokenID != "" && (p.Up.TokenID == tokenID || p.Down.TokenID == tokenID)
}

// CombinedCents returns the sum of both quoted prices. Above 100 means the
// pair is priced richer than the $1 payout.
func (p InstrumentPair) CombinedCents() float64 {
	return p.Up.QuotedCents + p.Down.QuotedCents
}

// Leader returns the higher-priced side and the price gap between sides.
func (p InstrumentPair) Leader() (Instrument, float64) {
	gap := p.Up.QuotedCents - p.Down.QuotedCents
	if gap >= 0 {
		return p.Up, gap
	}
	return p.Down, -gap
}

// MarketSnapshot is the per-tick view delivered by market discovery.
// Read-only input: the strategy never mutates it.
type MarketSnapshot struct {
	Current     InstrumentPair // interval currently running
	Next        InstrumentPair // interval opening next
	TimeToStart time.Duration  // until Next starts
	TimeToEnd   time.Duration  // until Current settles
	TakenAt     time.Time
}

// TokenIDs returns all token IDs known to this snapshot, current pair first.
func (ms MarketSnapshot) TokenIDs() []string {
	ids := make([]string, 0, 4)
	for _, inst := range []Instrument{ms.Current.Up, ms.Current.Down, ms.Next.Up, ms.Next.Down} {
		if inst.TokenID != "" {
			ids = append(ids, inst.TokenID)
		}
	}
	return ids
}

// Knows reports whether tokenID belongs to the current or next interval.
func (ms MarketSnapshot) Knows(tokenID string) bool {
	return ms.Current.Contains(tokenID) || ms.Next.Contains(tokenID)
}

// Pair returns the interval pair a token belongs to.
func (ms MarketSnapshot) Pair(tokenID string) (InstrumentPair, bool) {
	if ms.Current.Contains(tokenID) {
		return ms.Current, true
	}
	if ms.Next.Contains(tokenID) {
		return ms.Next, true
	}
	return InstrumentPair{}, false
}

// Lookup finds the instrument for a token ID in either pair.
func (ms MarketSnapshot) Lookup(tokenID string) (Instrument, bool) {
	for _, inst := range []Instrument{ms.Current.Up, ms.Current.Down, ms.Next.Up, ms.Next.Down} {
		if inst.TokenID == tokenID {
			return inst, true
		}
	}
	return Instrument{}, false
}
