package risk

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RequestLedger paces outbound venue requests: a per-minute ceiling plus a
// minimum inter-request interval. Exists purely so the venue never throttles
// or bans the client — it enforces nothing about trading logic.
//
// Two token buckets (golang.org/x/time/rate): the per-minute limiter with a
// small burst for the parallel book fetches at tick start, and a burst-1
// limiter for the spacing floor.
type RequestLedger struct {
	perMinute *rate.Limiter
	spacing   *rate.Limiter
}

// NewRequestLedger creates a ledger allowing at most perMinute requests per
// 60s with at least minInterval between consecutive requests.
func NewRequestLedger(perMinute int, minInterval time.Duration) *RequestLedger {
	if perMinute <= 0 {
		perMinute = 60
	}
	if minInterval <= 0 {
		minInterval = 100 * time.Millisecond
	}
	return &RequestLedger{
		perMinute: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 5),
		spacing:   rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

// Acquire blocks until a request slot is available or ctx expires. The
// caller bounds the wait via its context so a throttled minute can never
// stall the tick loop indefinitely.
func (rl *RequestLedger) Acquire(ctx context.Context) error {
	if err := rl.perMinute.Wait(ctx); err != nil {
		return fmt.Errorf("risk.Acquire: per-minute ceiling: %w", err)
	}
	if err := rl.spacing.Wait(ctx); err != nil {
		return fmt.Errorf("risk.Acquire: spacing: %w", err)
	}
	return nil
}

// TryAcquire reports whether a slot is immediately available, consuming it
// if so. Used by best-effort paths that prefer skipping over waiting.
func (rl *RequestLedger) TryAcquire() bool {
	if !rl.perMinute.Allow() {
		return false
	}
	if !rl.spacing.Allow() {
		// The minute token is lost here; one slot per contention is
		// noise at these rates.
		return false
	}
	return true
}
