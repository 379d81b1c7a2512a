// Package backtest replays historical candles through the same risk and
// execution surfaces the live engine uses, with a virtual clock and no I/O
// during the replay loop.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"github.com/quantfall/riskgate/internal/execution"
	"github.com/quantfall/riskgate/internal/risk"
	"github.com/quantfall/riskgate/internal/schema"
	"github.com/quantfall/riskgate/internal/session"
)

// Feeder supplies candles in time order, returning io.EOF when exhausted.
type Feeder interface {
	Next() (schema.Candle, error)
}

// SliceFeeder replays an in-memory candle series.
type SliceFeeder struct {
	candles []schema.Candle
	next    int
}

// NewSliceFeeder wraps the candles in a Feeder.
func NewSliceFeeder(candles []schema.Candle) *SliceFeeder {
	return &SliceFeeder{candles: candles}
}

// Next returns the next candle or io.EOF.
func (f *SliceFeeder) Next() (schema.Candle, error) {
	if f.next >= len(f.candles) {
		return schema.Candle{}, io.EOF
	}
	c := f.candles[f.next]
	f.next++
	return c, nil
}

// Config assembles one replay run.
type Config struct {
	Session  session.Session
	Strategy Strategy
	Limits   risk.Limits
	Throttle risk.ThrottleConfig
	Fees     execution.FeeConfig
}

// Harness replays candles through the strategy, the risk engine, and the
// backtest executor, producing a deterministic report.
type Harness struct {
	registry  *session.Registry
	router    *execution.Router
	engine    *risk.Engine
	clock     *VirtualClock
	strategy  Strategy
	sessionID string
	report    *Report
}

// New builds a harness. The session's mode is forced to BACKTEST.
func New(cfg Config) (*Harness, error) {
	if cfg.Strategy == nil {
		return nil, errors.New("backtest: strategy required")
	}
	if cfg.Throttle.Slabs == nil {
		cfg.Throttle = risk.DefaultThrottleConfig()
	}
	throttle, err := risk.NewThrottle(cfg.Throttle)
	if err != nil {
		return nil, err
	}

	s := cfg.Session
	s.Mode = schema.ModeBacktest
	if s.Backtest == nil {
		s.Backtest = &session.BacktestDetails{Equity: s.Capital}
	}

	registry := session.NewRegistry()
	registry.Put(s)

	engine := risk.NewEngine(cfg.Limits)
	clock := NewVirtualClock(s.CreatedAt)

	executor := execution.NewBacktest(cfg.Fees)
	executor.SetClock(clock.Now)

	router := execution.NewRouter(registry, engine, throttle)
	router.SetClock(clock.Now)
	router.RegisterExecutor(schema.ModeBacktest, executor)

	h := &Harness{
		registry:  registry,
		router:    router,
		engine:    engine,
		clock:     clock,
		strategy:  cfg.Strategy,
		sessionID: s.ID,
		report:    newReport(s.Balance()),
	}
	router.SetHistory(reportHistory{report: h.report})
	return h, nil
}

type reportHistory struct {
	report *Report
}

func (r reportHistory) Append(_ context.Context, t schema.Trade) error {
	r.report.recordTrade(t)
	return nil
}

// Run replays the feed to exhaustion and returns the report. Any open trade
// is squared off at the final candle's close, intraday style.
func (h *Harness) Run(ctx context.Context, feed Feeder) (Report, error) {
	var last schema.Candle
	var seen bool
	for {
		candle, err := feed.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return *h.report, err
		}
		if err := ctx.Err(); err != nil {
			return *h.report, err
		}

		h.clock.AdvanceTo(candle.Time)
		if err := h.step(ctx, candle); err != nil {
			return *h.report, err
		}
		last = candle
		seen = true
	}

	if seen {
		if err := h.squareOff(ctx, last); err != nil {
			return *h.report, err
		}
	}
	return *h.report, nil
}

// step processes one candle: exits first, then entry signals when flat.
func (h *Harness) step(ctx context.Context, candle schema.Candle) error {
	s, ok := h.registry.Get(h.sessionID)
	if !ok {
		return fmt.Errorf("backtest: session %s disappeared", h.sessionID)
	}

	if s.HasOpenTrade() {
		if err := h.maybeExit(ctx, *s.CurrentTrade, candle); err != nil {
			return err
		}
	} else {
		if err := h.maybeEnter(ctx, s, candle); err != nil {
			return err
		}
	}

	s, _ = h.registry.Get(h.sessionID)
	h.report.markCandle(candle.Time, equityAt(s, candle))
	return nil
}

func (h *Harness) maybeExit(ctx context.Context, t schema.Trade, candle schema.Candle) error {
	price, reason, exit := h.exitDecision(t, candle)
	if !exit {
		return nil
	}
	_, err := h.router.ExecuteExit(ctx, h.sessionID, execution.ExitOrder{
		Reason:    reason,
		MarkPrice: price,
	})
	return err
}

// exitDecision asks the strategy first, then checks the stop and target
// against the candle's range.
func (h *Harness) exitDecision(t schema.Trade, candle schema.Candle) (decimal.Decimal, string, bool) {
	if exit, reason := h.strategy.ShouldExit(t, candle); exit {
		if reason == "" {
			reason = "STRATEGY_EXIT"
		}
		return candle.Close, reason, true
	}

	long := t.Side == schema.TradeSideBuy
	if t.StopLoss.IsPositive() {
		if (long && candle.Low.LessThanOrEqual(t.StopLoss)) ||
			(!long && candle.High.GreaterThanOrEqual(t.StopLoss)) {
			return t.StopLoss, "STOP_LOSS", true
		}
	}
	if t.Target.IsPositive() {
		if (long && candle.High.GreaterThanOrEqual(t.Target)) ||
			(!long && candle.Low.LessThanOrEqual(t.Target)) {
			return t.Target, "TARGET", true
		}
	}
	return decimal.Decimal{}, "", false
}

func (h *Harness) maybeEnter(ctx context.Context, s session.Session, candle schema.Candle) error {
	sig := h.strategy.OnCandle(candle)
	if !sig.Enter {
		return nil
	}

	lots, ok := h.engine.ValidateTrade(s.Balance(), candle.Close, sig.StopLoss, s.LotSize)
	if !ok {
		return nil
	}
	_, err := h.router.ExecuteEntry(ctx, h.sessionID, execution.EntryOrder{
		Side:      sig.Side,
		Type:      schema.OrderTypeMarket,
		Lots:      lots,
		StopLoss:  sig.StopLoss,
		Target:    sig.Target,
		MarkPrice: candle.Close,
	})
	return err
}

func (h *Harness) squareOff(ctx context.Context, last schema.Candle) error {
	s, ok := h.registry.Get(h.sessionID)
	if !ok || !s.HasOpenTrade() {
		return nil
	}
	if _, err := h.router.ExecuteExit(ctx, h.sessionID, execution.ExitOrder{
		Reason:    "SESSION_END",
		MarkPrice: last.Close,
	}); err != nil {
		return err
	}
	s, _ = h.registry.Get(h.sessionID)
	h.report.markCandle(last.Time, equityAt(s, last))
	return nil
}

// equityAt marks the session's balance plus any open position to the candle
// close.
func equityAt(s session.Session, candle schema.Candle) decimal.Decimal {
	equity := s.Balance()
	if s.HasOpenTrade() {
		equity = equity.Add(s.CurrentTrade.PnLAt(candle.Close))
	}
	return equity
}

// Session returns the final session state after a run.
func (h *Harness) Session() (session.Session, bool) {
	return h.registry.Get(h.sessionID)
}
