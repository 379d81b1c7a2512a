// Command backtest replays CSV candles through the full risk-gated execution
// path and prints a run report.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/riskgate/internal/backtest"
	"github.com/quantfall/riskgate/internal/execution"
	"github.com/quantfall/riskgate/internal/risk"
	"github.com/quantfall/riskgate/internal/schema"
	"github.com/quantfall/riskgate/internal/session"
)

// breakout is a deliberately small demo strategy: it buys the first candle
// that closes above the high of the previous one, with a fixed-percent stop
// and target. It exists so the CLI can exercise the harness end to end;
// real strategies implement backtest.Strategy elsewhere.
type breakout struct {
	stopPct   decimal.Decimal
	targetPct decimal.Decimal
	prevHigh  decimal.Decimal
	havePrev  bool
}

func (b *breakout) OnCandle(c schema.Candle) backtest.Signal {
	defer func() {
		b.prevHigh = c.High
		b.havePrev = true
	}()
	if !b.havePrev || c.Close.LessThanOrEqual(b.prevHigh) {
		return backtest.Signal{}
	}
	one := decimal.NewFromInt(1)
	return backtest.Signal{
		Enter:    true,
		Side:     schema.TradeSideBuy,
		StopLoss: c.Close.Mul(one.Sub(b.stopPct)),
		Target:   c.Close.Mul(one.Add(b.targetPct)),
	}
}

func (b *breakout) ShouldExit(schema.Trade, schema.Candle) (bool, string) {
	return false, ""
}

func main() {
	var (
		dataPath  = flag.String("data", "", "Path to the historical candle file (CSV: timestamp,open,high,low,close,volume)")
		symbol    = flag.String("symbol", "BANKNIFTY", "Instrument symbol")
		exchange  = flag.String("exchange", "NFO", "Exchange segment")
		capital   = flag.String("capital", "500000", "Starting capital")
		lotSize   = flag.Int64("lotSize", 25, "Contract lot size")
		stopPct   = flag.Float64("stopPct", 0.01, "Stop-loss distance as a fraction of entry")
		targetPct = flag.Float64("targetPct", 0.02, "Target distance as a fraction of entry")
	)
	flag.Parse()

	if *dataPath == "" {
		log.Fatal("data path is required")
	}

	feeder, err := backtest.NewCSVFeeder(*dataPath)
	if err != nil {
		log.Fatalf("create csv feeder: %v", err)
	}
	defer feeder.Close()

	startingCapital, err := decimal.NewFromString(*capital)
	if err != nil || !startingCapital.IsPositive() {
		log.Fatalf("invalid capital %q", *capital)
	}

	sess := session.New("backtest-1", *symbol, *exchange, schema.ModeBacktest, startingCapital, time.Now())
	sess.LotSize = *lotSize

	harness, err := backtest.New(backtest.Config{
		Session: sess,
		Strategy: &breakout{
			stopPct:   decimal.NewFromFloat(*stopPct),
			targetPct: decimal.NewFromFloat(*targetPct),
		},
		Limits:   risk.DefaultLimits(),
		Throttle: risk.DefaultThrottleConfig(),
		Fees:     execution.DefaultFeeConfig(),
	})
	if err != nil {
		log.Fatalf("build harness: %v", err)
	}

	report, err := harness.Run(context.Background(), feeder)
	if err != nil {
		log.Fatalf("backtest failed: %v", err)
	}

	printReport(report)
}

func printReport(r backtest.Report) {
	fmt.Printf("trades:        %d (%d wins / %d losses, win rate %s)\n",
		r.TotalTrades, r.Wins, r.Losses, r.WinRate.Mul(decimal.NewFromInt(100)).StringFixed(2)+"%")
	fmt.Printf("gross pnl:     %s\n", r.GrossPnL.StringFixed(2))
	fmt.Printf("charges:       %s\n", r.Charges.StringFixed(2))
	fmt.Printf("net pnl:       %s\n", r.NetPnL.StringFixed(2))
	fmt.Printf("max drawdown:  %s\n", r.MaxDrawdown.StringFixed(2))
	fmt.Printf("final equity:  %s\n", r.FinalEquity.StringFixed(2))
	for _, t := range r.Trades {
		fmt.Printf("  %s %s x%d @ %s -> %s  net %s (%s)\n",
			t.Side, t.Symbol, t.Quantity,
			t.EntryPrice.StringFixed(2), t.ExitPrice.StringFixed(2),
			t.NetPnL.StringFixed(2), t.ExitReason)
	}
}
