package domain

import "time"

// Action is the direction of an order intent.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Reason classifies why an intent was emitted. The trader uses it to pick
// the execution path (forced exits skip the profit-floor check).
type Reason string

const (
	ReasonEntry      Reason = "ENTRY"
	ReasonLeader     Reason = "LEADER_OVERRIDE"
	ReasonTakeProfit Reason = "TAKE_PROFIT"
	ReasonStopLoss   Reason = "STOP_LOSS"
	ReasonPreStart   Reason = "PRE_START_EXIT"
	ReasonPreEnd     Reason = "PRE_END_EXIT"
	ReasonOrphan     Reason = "ORPHAN_CLEANUP"
)

// Forced reports whether the reason mandates an exit regardless of price.
func (r Reason) Forced() bool {
	switch r {
	case ReasonStopLoss, ReasonPreStart, ReasonPreEnd, ReasonOrphan:
		return true
	}
	return false
}

// OrderIntent is produced by the strategy and consumed once by the trader.
type OrderIntent struct {
	Action     Action
	TokenID    string
	Side       Side
	LimitCents float64
	SizeShares float64
	Reason     Reason
}

// PendingOrder tracks an order awaiting fill confirmation.
// At most one may exist per instrument at a time.
type PendingOrder struct {
	ID          string // local uuid
	VenueID     string // venue order hash
	TokenID     string
	Side        Side
	Action      Action
	PriceCents  float64
	SizeShares  float64
	SubmittedAt time.Time
}

// OrderState is the venue-reported lifecycle of a submitted order.
type OrderState string

const (
	OrderStateOpen      OrderState = "OPEN"
	OrderStatePartial   OrderState = "PARTIAL"
	OrderStateFilled    OrderState = "FILLED"
	OrderStateCancelled OrderState = "CANCELLED"
	OrderStateUnknown   OrderState = "UNKNOWN"
)

// PlaceOrderRequest is sent to the venue order executor.
type PlaceOrderRequest struct {
	TokenID    string
	PriceCents float64
	SizeShares float64
	Action     Action
}

// PlacedOrder is the venue's response to a submission.
type PlacedOrder struct {
	VenueID     string
	State       OrderState
	TakenShares float64 // immediately matched portion
	MadeShares  float64 // resting in the book
}

// OrderStatus is the venue's answer to a status poll.
type OrderStatus struct {
	VenueID      string
	State        OrderState
	FilledShares float64
	AvgFillCents float64 // venue-reported average fill price
}
