// Package paper simula el exchange en memoria para sesiones dry-run.
// El trader no distingue entre este ejecutor y el real.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/updown/internal/domain"
)

// MarkFunc devuelve el último precio conocido en centavos de un token.
// Si no hay precio, la orden se llena al límite.
type MarkFunc func(tokenID string) (float64, bool)

type paperOrder struct {
	req       domain.PlaceOrderRequest
	state     domain.OrderState
	filled    float64
	fillCents float64
	placedAt  time.Time
}

// Executor implementa ports.OrderExecutor sin tocar el venue. Las órdenes
// marketables se llenan al instante contra el último mark; las que quedan
// fuera de mercado descansan abiertas hasta CancelAll.
type Executor struct {
	mark MarkFunc

	mu       sync.Mutex
	balances map[string]float64
	orders   map[string]*paperOrder
}

// New crea un ejecutor simulado. mark puede ser nil.
func New(mark MarkFunc) *Executor {
	return &Executor{
		mark:     mark,
		balances: make(map[string]float64),
		orders:   make(map[string]*paperOrder),
	}
}

// PlaceOrder registra la orden y decide el fill contra el mark actual.
func (e *Executor) PlaceOrder(_ context.Context, req domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
	if req.SizeShares <= 0 {
		return domain.PlacedOrder{}, fmt.Errorf("paper.PlaceOrder: size %.2f", req.SizeShares)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ord := &paperOrder{req: req, state: domain.OrderStateOpen, placedAt: time.Now()}
	venueID := uuid.NewString()
	e.orders[venueID] = ord

	if e.marketable(req) {
		e.fillLocked(ord)
	}

	slog.Debug("paper: order placed",
		"venue_id", venueID,
		"action", req.Action,
		"price", req.PriceCents,
		"size", req.SizeShares,
		"state", ord.state,
	)

	return domain.PlacedOrder{
		VenueID:     venueID,
		State:       ord.state,
		TakenShares: ord.filled,
	}, nil
}

// marketable compara el límite con el mark. Sin mark asumimos que el límite
// ya venía sesgado para cruzar el libro.
func (e *Executor) marketable(req domain.PlaceOrderRequest) bool {
	if e.mark == nil {
		return true
	}
	mark, ok := e.mark(req.TokenID)
	if !ok {
		return true
	}
	if req.Action == domain.ActionBuy {
		return req.PriceCents >= mark
	}
	return req.PriceCents <= mark
}

func (e *Executor) fillLocked(ord *paperOrder) {
	size := ord.req.SizeShares
	if ord.req.Action == domain.ActionSell {
		held := e.balances[ord.req.TokenID]
		if size > held {
			size = held
		}
		if size <= 0 {
			ord.state = domain.OrderStateCancelled
			return
		}
		e.balances[ord.req.TokenID] = held - size
	} else {
		e.balances[ord.req.TokenID] += size
	}
	ord.state = domain.OrderStateFilled
	ord.filled = size
	ord.fillCents = ord.req.PriceCents
}

// CancelAll cancela todas las órdenes abiertas.
func (e *Executor) CancelAll(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ord := range e.orders {
		if ord.state == domain.OrderStateOpen || ord.state == domain.OrderStatePartial {
			ord.state = domain.OrderStateCancelled
		}
	}
	return nil
}

// TokenBalance devuelve el balance simulado del token.
func (e *Executor) TokenBalance(_ context.Context, tokenID string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balances[tokenID], nil
}

// OrderStatus devuelve el estado registrado de la orden.
func (e *Executor) OrderStatus(_ context.Context, venueID string) (domain.OrderStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ord, ok := e.orders[venueID]
	if !ok {
		return domain.OrderStatus{}, fmt.Errorf("paper.OrderStatus: unknown order %s", venueID)
	}
	return domain.OrderStatus{
		VenueID:      venueID,
		State:        ord.state,
		FilledShares: ord.filled,
		AvgFillCents: ord.fillCents,
	}, nil
}

// SeedBalance fija un balance inicial, útil para arrancar dry-run con
// posiciones ya abiertas.
func (e *Executor) SeedBalance(tokenID string, shares float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances[tokenID] = shares
}
