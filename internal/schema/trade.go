package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeOrigin records how a trade entered the system.
type TradeOrigin string

const (
	// TradeOriginStrategy marks a trade opened by a strategy entry.
	TradeOriginStrategy TradeOrigin = "STRATEGY"
	// TradeOriginReconciled marks a trade adopted from broker state during
	// reconciliation rather than opened locally.
	TradeOriginReconciled TradeOrigin = "RECONCILED"
)

// Trade is one open-or-closed position belonging to exactly one session.
type Trade struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"session_id"`
	Symbol       string          `json:"symbol"`
	Exchange     string          `json:"exchange"`
	Strategy     string          `json:"strategy"`
	Side         TradeSide       `json:"side"`
	Quantity     int64           `json:"quantity"`
	LotSize      int64           `json:"lot_size"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	ExitPrice    decimal.Decimal `json:"exit_price"`
	EntryTime    time.Time       `json:"entry_time"`
	ExitTime     time.Time       `json:"exit_time"`
	StopLoss     decimal.Decimal `json:"stop_loss"`
	Target       decimal.Decimal `json:"target"`
	GrossPnL     decimal.Decimal `json:"gross_pnl"`
	Charges      decimal.Decimal `json:"charges"`
	NetPnL       decimal.Decimal `json:"net_pnl"`
	ExitReason   string          `json:"exit_reason"`
	EntryOrderID string          `json:"entry_order_id,omitempty"`
	ExitOrderID  string          `json:"exit_order_id,omitempty"`
	StopOrderID  string          `json:"stop_order_id,omitempty"`
	Origin       TradeOrigin     `json:"origin"`
	Closed       bool            `json:"closed"`
}

// Open reports whether the trade still has an open position.
func (t *Trade) Open() bool {
	return t != nil && !t.Closed
}

// Direction returns +1 for long trades and -1 for short trades, used when
// converting a price move into P&L.
func (t Trade) Direction() decimal.Decimal {
	if t.Side == TradeSideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// PnLAt computes gross P&L for the trade if exited at the given price.
func (t Trade) PnLAt(exit decimal.Decimal) decimal.Decimal {
	move := exit.Sub(t.EntryPrice).Mul(t.Direction())
	return move.Mul(decimal.NewFromInt(t.Quantity))
}
