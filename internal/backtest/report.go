package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/riskgate/internal/schema"
)

// EquityPoint is one sample of the equity curve, taken once per candle.
type EquityPoint struct {
	Time   time.Time
	Equity decimal.Decimal
}

// Report captures the outcome of one replay run.
type Report struct {
	Trades      []schema.Trade
	Equity      []EquityPoint
	TotalTrades int
	Wins        int
	Losses      int
	WinRate     decimal.Decimal
	GrossPnL    decimal.Decimal
	Charges     decimal.Decimal
	NetPnL      decimal.Decimal
	MaxDrawdown decimal.Decimal
	FinalEquity decimal.Decimal

	peak decimal.Decimal
}

func newReport(initialEquity decimal.Decimal) *Report {
	return &Report{
		WinRate:     decimal.Zero,
		GrossPnL:    decimal.Zero,
		Charges:     decimal.Zero,
		NetPnL:      decimal.Zero,
		MaxDrawdown: decimal.Zero,
		FinalEquity: initialEquity,
		peak:        initialEquity,
	}
}

// markCandle appends an equity sample and updates the peak and drawdown.
func (r *Report) markCandle(at time.Time, equity decimal.Decimal) {
	r.Equity = append(r.Equity, EquityPoint{Time: at, Equity: equity})
	r.FinalEquity = equity
	if equity.GreaterThan(r.peak) {
		r.peak = equity
	}
	if dd := r.peak.Sub(equity); dd.GreaterThan(r.MaxDrawdown) {
		r.MaxDrawdown = dd
	}
}

// recordTrade folds one closed trade into the aggregates.
func (r *Report) recordTrade(t schema.Trade) {
	r.Trades = append(r.Trades, t)
	r.TotalTrades++
	if t.NetPnL.IsNegative() {
		r.Losses++
	} else {
		r.Wins++
	}
	r.GrossPnL = r.GrossPnL.Add(t.GrossPnL)
	r.Charges = r.Charges.Add(t.Charges)
	r.NetPnL = r.NetPnL.Add(t.NetPnL)
	if r.TotalTrades > 0 {
		r.WinRate = decimal.NewFromInt(int64(r.Wins)).
			DivRound(decimal.NewFromInt(int64(r.TotalTrades)), 4)
	}
}
