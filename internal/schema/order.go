// Package schema defines the core domain types shared across the engine.
package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide identifies order direction.
type TradeSide string

const (
	// TradeSideBuy marks a buy order.
	TradeSideBuy TradeSide = "BUY"
	// TradeSideSell marks a sell order.
	TradeSideSell TradeSide = "SELL"
)

// Opposite returns the other side.
func (s TradeSide) Opposite() TradeSide {
	if s == TradeSideBuy {
		return TradeSideSell
	}
	return TradeSideBuy
}

// OrderType identifies the order pricing style.
type OrderType string

const (
	// OrderTypeMarket executes at the prevailing price.
	OrderTypeMarket OrderType = "MARKET"
	// OrderTypeLimit executes at the limit price or better.
	OrderTypeLimit OrderType = "LIMIT"
	// OrderTypeStopMarket is a stop-loss trigger order.
	OrderTypeStopMarket OrderType = "SL_MARKET"
)

// OrderState enumerates the managed order lifecycle.
type OrderState string

const (
	// OrderStateNew is the initial state of a freshly submitted request.
	OrderStateNew OrderState = "NEW"
	// OrderStateSent marks an order handed to the broker transport.
	OrderStateSent OrderState = "SENT"
	// OrderStateAcknowledged marks broker acceptance with an assigned id.
	OrderStateAcknowledged OrderState = "ACKNOWLEDGED"
	// OrderStatePartialFilled marks a partially executed order.
	OrderStatePartialFilled OrderState = "PARTIAL_FILLED"
	// OrderStateFilled marks complete execution. Terminal.
	OrderStateFilled OrderState = "FILLED"
	// OrderStateRejected marks broker or local rejection. Terminal.
	OrderStateRejected OrderState = "REJECTED"
	// OrderStateCancelled marks confirmed cancellation. Terminal.
	OrderStateCancelled OrderState = "CANCELLED"
)

// Terminal reports whether the state has no outgoing transitions.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateFilled, OrderStateRejected, OrderStateCancelled:
		return true
	default:
		return false
	}
}

// OrderRequest describes a caller's order submission.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Exchange      string
	Side          TradeSide
	Type          OrderType
	Quantity      int64
	Price         decimal.Decimal
	TriggerPrice  decimal.Decimal
	Product       string
	Tag           string
}

// Transition records one step of an order's lifecycle history.
type Transition struct {
	From   OrderState
	To     OrderState
	At     time.Time
	Reason string
}

// Order is a managed order as tracked by the state machine. The broker keeps
// its own record; the two are unified by ClientOrderID.
type Order struct {
	ClientOrderID string
	BrokerOrderID string
	Symbol        string
	Exchange      string
	Side          TradeSide
	Type          OrderType
	Quantity      int64
	FilledQty     int64
	RemainingQty  int64
	AvgFillPrice  decimal.Decimal
	State         OrderState
	RejectReason  string
	History       []Transition
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Clone returns a deep copy of the order, including its history.
func (o Order) Clone() Order {
	out := o
	out.History = make([]Transition, len(o.History))
	copy(out.History, o.History)
	return out
}
