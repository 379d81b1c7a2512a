package backtest

import (
	"github.com/shopspring/decimal"

	"github.com/quantfall/riskgate/internal/schema"
)

// Signal is an entry instruction emitted by a strategy. Signal generation
// itself lives outside this engine; the harness only consumes the interface.
type Signal struct {
	Enter    bool
	Side     schema.TradeSide
	StopLoss decimal.Decimal
	Target   decimal.Decimal
}

// Strategy is the minimal surface the replay harness drives candles through.
type Strategy interface {
	// OnCandle is called for every candle while the session is flat and
	// may emit an entry signal.
	OnCandle(c schema.Candle) Signal
	// ShouldExit is called for every candle while a trade is open, before
	// stop and target checks, and may close the trade with a reason.
	ShouldExit(t schema.Trade, c schema.Candle) (bool, string)
}
