package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionMode selects which executor handles a session's orders.
type ExecutionMode string

const (
	// ModeLive routes orders to the real broker.
	ModeLive ExecutionMode = "LIVE"
	// ModePaper simulates fills against live quotes.
	ModePaper ExecutionMode = "PAPER"
	// ModeBacktest fills instantly at historical prices.
	ModeBacktest ExecutionMode = "BACKTEST"
)

// Valid reports whether the mode is one of the known executor modes.
func (m ExecutionMode) Valid() bool {
	switch m {
	case ModeLive, ModePaper, ModeBacktest:
		return true
	default:
		return false
	}
}

// Quote is a point-in-time market snapshot for one symbol.
type Quote struct {
	Symbol   string
	Exchange string
	Last     decimal.Decimal
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Bid      decimal.Decimal
	Ask      decimal.Decimal
	Volume   int64
	At       time.Time
}

// Spread returns the bid/ask spread as a fraction of the last price, or zero
// when the book or last price is unavailable.
func (q Quote) Spread() decimal.Decimal {
	if q.Last.IsZero() || q.Bid.IsZero() || q.Ask.IsZero() {
		return decimal.Zero
	}
	return q.Ask.Sub(q.Bid).Abs().Div(q.Last)
}

// DayRange returns the high/low range as a fraction of the last price, a
// cheap intraday volatility proxy when no order book is available.
func (q Quote) DayRange() decimal.Decimal {
	if q.Last.IsZero() || q.High.IsZero() || q.Low.IsZero() {
		return decimal.Zero
	}
	return q.High.Sub(q.Low).Abs().Div(q.Last)
}

// Candle is one historical OHLCV bar used by the backtest harness.
type Candle struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
}
