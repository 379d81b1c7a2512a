// Package execution routes entries and exits to the live, paper, or backtest
// executor based on the session's declared mode, with risk and frequency
// gating applied before any order leaves the process.
package execution

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/quantfall/riskgate/internal/schema"
	"github.com/quantfall/riskgate/internal/session"
)

// EntryOrder describes an entry candidate. Lots is in exchange lots; the
// share quantity is Lots times the session's lot size.
type EntryOrder struct {
	Side       schema.TradeSide
	Type       schema.OrderType
	Lots       int64
	LimitPrice decimal.Decimal
	StopLoss   decimal.Decimal
	Target     decimal.Decimal
	// MarkPrice is the fill price for backtest mode, where no feed exists.
	MarkPrice decimal.Decimal
}

// ExitOrder describes an exit of the session's current trade.
type ExitOrder struct {
	Reason string
	// MarkPrice is the fill price for backtest mode.
	MarkPrice decimal.Decimal
}

// Result is the shared outcome contract of all three executors.
type Result struct {
	Success   bool
	OrderID   string
	TradeID   string
	FillPrice decimal.Decimal
	State     schema.OrderState
	Reason    string
}

// Executor fills entries and exits for one execution mode. Implementations
// mutate the passed session snapshot (current trade, balance); the router
// commits the snapshot back to the registry.
type Executor interface {
	ExecuteEntry(ctx context.Context, s *session.Session, req EntryOrder) (Result, error)
	ExecuteExit(ctx context.Context, s *session.Session, req ExitOrder) (Result, error)
}
