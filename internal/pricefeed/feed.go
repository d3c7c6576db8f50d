package pricefeed

// feed.go — streaming ingestion with self-healing reconnect.
//
// The feed owns the tracker's write path: ticks from the stream go through
// Tracker.Accept, nothing else writes samples. Reconnection runs inside the
// feed's own goroutine with bounded exponential backoff, so the tick loop
// is never blocked on stream recovery.

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/updown/internal/ports"
)

// Tick is one price event from the stream. Either a traded price or a
// best bid/ask pair, converted to a midpoint by the tracker.
type Tick struct {
	TokenID    string
	PriceCents float64
	BidCents   float64
	AskCents   float64
	HasBook    bool
}

// Source is the underlying stream connection. Implemented by the websocket
// adapter; swapped for a fake in tests.
type Source interface {
	Connect(ctx context.Context) error
	Subscribe(tokenIDs []string) error
	Ticks() <-chan Tick
	Errors() <-chan error
	Close() error
}

// BackoffPolicy bounds the reconnect loop.
type BackoffPolicy struct {
	Base        time.Duration
	Multiplier  float64
	Max         time.Duration
	MaxAttempts int
}

// Wait returns the delay before the given attempt (0-based), capped at Max.
func (p BackoffPolicy) Wait(attempt int) time.Duration {
	d := p.Base
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// DefaultBackoff is the reconnect policy used when config leaves it unset.
var DefaultBackoff = BackoffPolicy{
	Base:        500 * time.Millisecond,
	Multiplier:  2,
	Max:         15 * time.Second,
	MaxAttempts: 8,
}

// Feed connects a Source to a Tracker and keeps the connection alive.
type Feed struct {
	source  Source
	tracker *Tracker
	books   ports.BookProvider
	policy  BackoffPolicy

	mu     sync.Mutex
	tokens []string

	healthy atomic.Bool
	kick    chan struct{}
	done    chan struct{}
}

// NewFeed wires a stream source to the tracker. books is the one-shot
// fallback used to seed midpoints right after a reconnect; may be nil.
func NewFeed(source Source, tracker *Tracker, books ports.BookProvider, policy BackoffPolicy) *Feed {
	if policy.Base <= 0 {
		policy = DefaultBackoff
	}
	return &Feed{
		source:  source,
		tracker: tracker,
		books:   books,
		policy:  policy,
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start connects, subscribes to the given instruments, and launches the
// ingestion loop. Returns once the initial connection attempt finished;
// a failed initial connect is handled by the reconnect path, not fatal.
func (f *Feed) Start(ctx context.Context, tokenIDs []string) {
	f.setTokens(tokenIDs)

	if err := f.source.Connect(ctx); err != nil {
		slog.Warn("pricefeed: initial connect failed, will retry", "err", err)
		f.requestReconnect()
	} else {
		if err := f.source.Subscribe(tokenIDs); err != nil {
			slog.Warn("pricefeed: initial subscribe failed", "err", err)
			f.requestReconnect()
		} else {
			f.healthy.Store(true)
		}
	}

	go f.run(ctx)
}

// Retrack replaces the tracked instrument set (interval rotation) and
// re-subscribes. Dropped instruments are forgotten by the tracker.
func (f *Feed) Retrack(tokenIDs []string) {
	f.setTokens(tokenIDs)

	keep := make(map[string]bool, len(tokenIDs))
	for _, id := range tokenIDs {
		keep[id] = true
	}
	f.tracker.Forget(keep)

	if err := f.source.Subscribe(tokenIDs); err != nil {
		slog.Warn("pricefeed: resubscribe failed", "err", err)
		f.requestReconnect()
	}
}

// Healthy reports whether the stream connection is believed alive.
func (f *Feed) Healthy() bool {
	return f.healthy.Load()
}

// ForceReconnect asks the ingestion loop to tear down and reconnect.
// Non-blocking; called by the tick loop when MaxAge exceeds the ceiling.
func (f *Feed) ForceReconnect() {
	f.requestReconnect()
}

// Done is closed when the ingestion loop exits.
func (f *Feed) Done() <-chan struct{} {
	return f.done
}

func (f *Feed) requestReconnect() {
	f.healthy.Store(false)
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

func (f *Feed) setTokens(tokenIDs []string) {
	f.mu.Lock()
	f.tokens = append([]string(nil), tokenIDs...)
	f.mu.Unlock()
}

func (f *Feed) currentTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...)
}

// run is the ingestion loop: consume ticks, watch for errors, reconnect
// on demand. Exits only when ctx is cancelled.
func (f *Feed) run(ctx context.Context) {
	defer close(f.done)
	defer f.source.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case <-f.kick:
			f.reconnect(ctx)

		case err, ok := <-f.source.Errors():
			if !ok {
				return
			}
			slog.Warn("pricefeed: stream error", "err", err)
			f.reconnect(ctx)

		case tick, ok := <-f.source.Ticks():
			if !ok {
				return
			}
			if tick.HasBook {
				f.tracker.AcceptBook(tick.TokenID, tick.BidCents, tick.AskCents)
			} else {
				f.tracker.Accept(tick.TokenID, tick.PriceCents, false)
			}
		}
	}
}

// reconnect tears the connection down and dials again with bounded backoff,
// then re-subscribes and seeds prices from order-book midpoints so the
// strategy is not blocked waiting for the first streamed tick.
func (f *Feed) reconnect(ctx context.Context) {
	f.healthy.Store(false)
	f.source.Close()

	for attempt := 0; attempt < f.policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.policy.Wait(attempt)):
		}

		if err := f.source.Connect(ctx); err != nil {
			slog.Warn("pricefeed: reconnect failed",
				"attempt", attempt+1,
				"max", f.policy.MaxAttempts,
				"err", err,
			)
			continue
		}

		tokens := f.currentTokens()
		if err := f.source.Subscribe(tokens); err != nil {
			slog.Warn("pricefeed: resubscribe after reconnect failed", "err", err)
			f.source.Close()
			continue
		}

		f.healthy.Store(true)
		slog.Info("pricefeed: reconnected", "attempt", attempt+1, "tokens", len(tokens))
		f.seedFromBooks(ctx, tokens)
		return
	}

	slog.Error("pricefeed: reconnect attempts exhausted, will retry on next staleness check",
		"attempts", f.policy.MaxAttempts)
}

// seedFromBooks polls order-book midpoints once and force-feeds them into
// the tracker. Clearly inferior to streamed ticks but immediately available.
func (f *Feed) seedFromBooks(ctx context.Context, tokenIDs []string) {
	if f.books == nil || len(tokenIDs) == 0 {
		return
	}

	books, err := f.books.FetchOrderBooks(ctx, tokenIDs)
	if err != nil {
		slog.Warn("pricefeed: fallback book seed failed", "err", err)
		return
	}

	seeded := 0
	for id, book := range books {
		if mid := book.Midpoint(); mid > 0 {
			f.tracker.Accept(id, mid, true)
			seeded++
		}
	}
	slog.Debug("pricefeed: seeded from books", "tokens", seeded)
}
