package pricefeed

import (
	"math"
	"sync"
	"time"
)

const (
	// Safety band — anything outside is clamped before storage. A 15-minute
	// binary never trades at true 0 or 100 before settlement.
	MinPriceCents = 0.5
	MaxPriceCents = 99.5

	// Updates closer than this to the stored value only refresh the
	// timestamp, they don't rewrite the price.
	priceEpsilon = 0.01

	// Books wider than this are treated as broken and never converted
	// to a midpoint.
	maxBookSpreadCents = 20.0
)

type sample struct {
	priceCents float64
	at         time.Time
}

// Tracker owns the latest price sample per tracked instrument. Ingestion
// happens only through Accept/AcceptBook; the tick loop reads through
// Fresh and Ages. No other component mutates the samples.
type Tracker struct {
	mu        sync.RWMutex
	samples   map[string]sample
	startedAt time.Time

	now func() time.Time // overridable in tests
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		samples:   make(map[string]sample),
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// Accept stores a price sample for an instrument, clamped into the safety
// band. Values within epsilon of the stored one only refresh the timestamp —
// a flat market is not a stale market. force always rewrites.
func (t *Tracker) Accept(tokenID string, priceCents float64, force bool) {
	if tokenID == "" || math.IsNaN(priceCents) || math.IsInf(priceCents, 0) {
		return
	}
	if priceCents < MinPriceCents {
		priceCents = MinPriceCents
	}
	if priceCents > MaxPriceCents {
		priceCents = MaxPriceCents
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.samples[tokenID]
	if ok && !force && math.Abs(prev.priceCents-priceCents) <= priceEpsilon {
		prev.at = t.now()
		t.samples[tokenID] = prev
		return
	}
	t.samples[tokenID] = sample{priceCents: priceCents, at: t.now()}
}

// AcceptBook converts a bid/ask pair to a midpoint sample. Locked, crossed,
// and absurdly wide books are dropped silently — best-effort feed.
func (t *Tracker) AcceptBook(tokenID string, bidCents, askCents float64) {
	spread := askCents - bidCents
	if bidCents <= 0 || askCents <= 0 || spread <= 0 || spread > maxBookSpreadCents {
		return
	}
	t.Accept(tokenID, (bidCents+askCents)/2, false)
}

// Fresh returns instrument → price for every sample younger than maxAge.
func (t *Tracker) Fresh(maxAge time.Duration) map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	out := make(map[string]float64, len(t.samples))
	for id, s := range t.samples {
		if now.Sub(s.at) <= maxAge {
			out[id] = s.priceCents
		}
	}
	return out
}

// Last returns the most recent sample for an instrument regardless of age.
// Used for protective stop evaluation when the feed has gone stale.
func (t *Tracker) Last(tokenID string) (priceCents float64, age time.Duration, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.samples[tokenID]
	if !ok {
		return 0, 0, false
	}
	return s.priceCents, t.now().Sub(s.at), true
}

// Ages returns instrument → sample age for diagnostics.
func (t *Tracker) Ages() map[string]time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	out := make(map[string]time.Duration, len(t.samples))
	for id, s := range t.samples {
		out[id] = now.Sub(s.at)
	}
	return out
}

// MaxAge returns the oldest sample age among the given instruments.
// An instrument never seen counts from tracker start, so a subscription
// that silently produced nothing still reads as stale.
func (t *Tracker) MaxAge(tokenIDs []string) time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	var max time.Duration
	for _, id := range tokenIDs {
		age := now.Sub(t.startedAt)
		if s, ok := t.samples[id]; ok {
			age = now.Sub(s.at)
		}
		if age > max {
			max = age
		}
	}
	return max
}

// Forget drops samples for instruments no longer tracked (interval rotation).
func (t *Tracker) Forget(keep map[string]bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id := range t.samples {
		if !keep[id] {
			delete(t.samples, id)
		}
	}
}
