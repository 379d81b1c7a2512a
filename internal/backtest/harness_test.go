package backtest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/riskgate/internal/execution"
	"github.com/quantfall/riskgate/internal/risk"
	"github.com/quantfall/riskgate/internal/schema"
	"github.com/quantfall/riskgate/internal/session"
)

var btStart = time.Date(2025, 3, 14, 9, 15, 0, 0, time.UTC)

// onceLong enters long on the first candle it sees and then stays out.
type onceLong struct {
	stop    decimal.Decimal
	target  decimal.Decimal
	entered bool
}

func (s *onceLong) OnCandle(schema.Candle) Signal {
	if s.entered {
		return Signal{}
	}
	s.entered = true
	return Signal{Enter: true, Side: schema.TradeSideBuy, StopLoss: s.stop, Target: s.target}
}

func (s *onceLong) ShouldExit(schema.Trade, schema.Candle) (bool, string) {
	return false, ""
}

func candle(offsetMin int, o, h, l, c float64) schema.Candle {
	return schema.Candle{
		Time:   btStart.Add(time.Duration(offsetMin) * time.Minute),
		Open:   decimal.NewFromFloat(o),
		High:   decimal.NewFromFloat(h),
		Low:    decimal.NewFromFloat(l),
		Close:  decimal.NewFromFloat(c),
		Volume: 1000,
	}
}

func btConfig(strategy Strategy) Config {
	s := session.New("bt1", "BANKNIFTY", "NFO", schema.ModeBacktest,
		decimal.NewFromInt(500_000), btStart)
	s.LotSize = 25
	return Config{
		Session:  s,
		Strategy: strategy,
		Limits:   risk.DefaultLimits(),
		Fees:     execution.DefaultFeeConfig(),
	}
}

func TestHarnessTargetExit(t *testing.T) {
	strategy := &onceLong{stop: decimal.NewFromInt(96), target: decimal.NewFromInt(108)}
	h, err := New(btConfig(strategy))
	if err != nil {
		t.Fatalf("harness: %v", err)
	}

	report, err := h.Run(context.Background(), NewSliceFeeder([]schema.Candle{
		candle(0, 99, 101, 98, 100),
		candle(1, 100, 109, 99, 107),
	}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.TotalTrades != 1 || report.Wins != 1 {
		t.Fatalf("trades=%d wins=%d, want 1/1", report.TotalTrades, report.Wins)
	}
	tr := report.Trades[0]
	if tr.ExitReason != "TARGET" || !tr.ExitPrice.Equal(decimal.NewFromInt(108)) {
		t.Fatalf("exit = %s @ %s, want TARGET @ 108", tr.ExitReason, tr.ExitPrice)
	}
	// Risk sizing: 300 cap / (4 risk * 25 lot) = 3 lots = 75 units.
	if tr.Quantity != 75 {
		t.Fatalf("quantity = %d, want 75", tr.Quantity)
	}
	if !tr.GrossPnL.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("gross = %s, want 600", tr.GrossPnL)
	}
	if !report.WinRate.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("win rate = %s", report.WinRate)
	}
}

func TestHarnessStopLossExit(t *testing.T) {
	strategy := &onceLong{stop: decimal.NewFromInt(96), target: decimal.NewFromInt(120)}
	h, err := New(btConfig(strategy))
	if err != nil {
		t.Fatalf("harness: %v", err)
	}

	report, err := h.Run(context.Background(), NewSliceFeeder([]schema.Candle{
		candle(0, 99, 101, 98, 100),
		candle(1, 100, 101, 95, 97),
	}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.TotalTrades != 1 || report.Losses != 1 {
		t.Fatalf("trades=%d losses=%d, want 1/1", report.TotalTrades, report.Losses)
	}
	tr := report.Trades[0]
	if tr.ExitReason != "STOP_LOSS" || !tr.ExitPrice.Equal(decimal.NewFromInt(96)) {
		t.Fatalf("exit = %s @ %s, want STOP_LOSS @ 96", tr.ExitReason, tr.ExitPrice)
	}
	// Stop-out loss lands exactly on the per-trade cap.
	if !tr.GrossPnL.Equal(decimal.NewFromInt(-300)) {
		t.Fatalf("gross = %s, want -300", tr.GrossPnL)
	}
	if !report.MaxDrawdown.IsPositive() {
		t.Fatalf("drawdown not recorded")
	}

	// The realized loss flows into the session's risk state.
	s, _ := h.Session()
	if s.ConsecutiveLosses != 1 || s.DailyTradeCount != 1 {
		t.Fatalf("risk state not updated: %+v", s)
	}
}

func TestHarnessSquaresOffAtEnd(t *testing.T) {
	strategy := &onceLong{stop: decimal.NewFromInt(90), target: decimal.NewFromInt(200)}
	h, err := New(btConfig(strategy))
	if err != nil {
		t.Fatalf("harness: %v", err)
	}

	report, err := h.Run(context.Background(), NewSliceFeeder([]schema.Candle{
		candle(0, 99, 101, 98, 100),
		candle(1, 100, 103, 99, 102),
	}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.TotalTrades != 1 {
		t.Fatalf("open trade not squared off: %d", report.TotalTrades)
	}
	if report.Trades[0].ExitReason != "SESSION_END" {
		t.Fatalf("exit reason = %s", report.Trades[0].ExitReason)
	}
	s, _ := h.Session()
	if s.HasOpenTrade() {
		t.Fatalf("session still holds an open trade after the run")
	}
}

func TestHarnessDeterministic(t *testing.T) {
	candles := []schema.Candle{
		candle(0, 99, 101, 98, 100),
		candle(1, 100, 109, 99, 107),
		candle(2, 107, 108, 105, 106),
	}
	run := func() Report {
		h, err := New(btConfig(&onceLong{
			stop: decimal.NewFromInt(96), target: decimal.NewFromInt(108),
		}))
		if err != nil {
			t.Fatalf("harness: %v", err)
		}
		report, err := h.Run(context.Background(), NewSliceFeeder(candles))
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return report
	}

	first := run()
	second := run()
	if !first.NetPnL.Equal(second.NetPnL) || !first.FinalEquity.Equal(second.FinalEquity) {
		t.Fatalf("replays diverged: %s/%s vs %s/%s",
			first.NetPnL, first.FinalEquity, second.NetPnL, second.FinalEquity)
	}
	if len(first.Equity) != len(second.Equity) {
		t.Fatalf("equity curves diverged: %d vs %d points", len(first.Equity), len(second.Equity))
	}
	for i := range first.Equity {
		if !first.Equity[i].Equity.Equal(second.Equity[i].Equity) {
			t.Fatalf("equity point %d diverged", i)
		}
	}
}

func TestCSVFeederParsesCandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candles.csv")
	data := "timestamp,open,high,low,close,volume\n" +
		"1741942500,99,101,98,100,1000\n" +
		"1741942560,100,109,99,107,1500\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := NewCSVFeeder(path)
	if err != nil {
		t.Fatalf("open feeder: %v", err)
	}
	defer f.Close()

	first, err := f.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !first.Close.Equal(decimal.NewFromInt(100)) || first.Volume != 1000 {
		t.Fatalf("bad first candle: %+v", first)
	}
	if _, err := f.Next(); err != nil {
		t.Fatalf("second candle: %v", err)
	}
	if _, err := f.Next(); err == nil {
		t.Fatalf("expected EOF")
	}
}
