// Package session defines trading sessions, the unit of risk isolation, and
// the process-owned registry that guards all session mutation behind a single
// coarse lock.
package session

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/riskgate/internal/schema"
)

// Status reports whether a session may still trade.
type Status string

const (
	// StatusActive allows new entries, subject to risk checks.
	StatusActive Status = "ACTIVE"
	// StatusStopped blocks all new entries for the rest of the day.
	StatusStopped Status = "STOPPED"
)

// LiveDetails carries state only live sessions have.
type LiveDetails struct {
	BrokerAccount string `json:"broker_account"`
}

// PaperDetails carries state only paper sessions have.
type PaperDetails struct {
	VirtualBalance decimal.Decimal `json:"virtual_balance"`
}

// BacktestDetails carries state only backtest sessions have.
type BacktestDetails struct {
	Equity decimal.Decimal `json:"equity"`
}

// Session is one isolated trading context: one symbol, one execution mode,
// its own capital and risk counters, and at most one open trade. The mode
// tag selects which detail block is populated; risk-relevant fields live in
// the shared core so the risk engine never touches mode specifics.
type Session struct {
	ID       string               `json:"id"`
	Symbol   string               `json:"symbol"`
	Exchange string               `json:"exchange"`
	Strategy string               `json:"strategy"`
	Mode     schema.ExecutionMode `json:"mode"`
	LotSize  int64                `json:"lot_size"`

	Status     Status `json:"status"`
	StopReason string `json:"stop_reason,omitempty"`

	Capital decimal.Decimal `json:"capital"`

	// DailyPnL is the actual, unclamped stream. RiskCappedDailyPnL floors
	// each trade's loss contribution at the per-trade cap; both streams are
	// persisted and kept deliberately separate.
	DailyPnL           decimal.Decimal `json:"daily_pnl"`
	RiskCappedDailyPnL decimal.Decimal `json:"risk_capped_daily_pnl"`

	DailyTradeCount   int       `json:"daily_trade_count"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	CooldownUntil     time.Time `json:"cooldown_until"`
	HardStopUntil     time.Time `json:"hard_stop_until"`
	TradingDay        string    `json:"trading_day"`

	CurrentTrade *schema.Trade  `json:"current_trade,omitempty"`
	TradeTail    []schema.Trade `json:"trade_tail,omitempty"`

	Live     *LiveDetails     `json:"live,omitempty"`
	Paper    *PaperDetails    `json:"paper,omitempty"`
	Backtest *BacktestDetails `json:"backtest,omitempty"`

	// Recovered marks sessions synthesized by the reconciliation worker to
	// adopt a broker position with no local owner.
	Recovered bool      `json:"recovered,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New constructs an active session for the given mode. Paper sessions start
// with their virtual balance equal to capital.
func New(id, symbol, exchange string, mode schema.ExecutionMode, capital decimal.Decimal, now time.Time) Session {
	s := Session{
		ID:         id,
		Symbol:     symbol,
		Exchange:   exchange,
		Mode:       mode,
		LotSize:    1,
		Status:     StatusActive,
		Capital:    capital,
		TradingDay: TradingDay(now),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	switch mode {
	case schema.ModeLive:
		s.Live = &LiveDetails{}
	case schema.ModePaper:
		s.Paper = &PaperDetails{VirtualBalance: capital}
	case schema.ModeBacktest:
		s.Backtest = &BacktestDetails{Equity: capital}
	}
	return s
}

// TradingDay normalizes a timestamp to its calendar-day key.
func TradingDay(t time.Time) string {
	return t.Format("2006-01-02")
}

// Clone returns a deep copy; callers mutate copies and write them back
// through the registry, never aliases.
func (s Session) Clone() Session {
	out := s
	if s.CurrentTrade != nil {
		trade := *s.CurrentTrade
		out.CurrentTrade = &trade
	}
	if s.TradeTail != nil {
		out.TradeTail = make([]schema.Trade, len(s.TradeTail))
		copy(out.TradeTail, s.TradeTail)
	}
	if s.Live != nil {
		live := *s.Live
		out.Live = &live
	}
	if s.Paper != nil {
		paper := *s.Paper
		out.Paper = &paper
	}
	if s.Backtest != nil {
		backtest := *s.Backtest
		out.Backtest = &backtest
	}
	return out
}

// HasOpenTrade reports whether the session currently holds an open position.
func (s Session) HasOpenTrade() bool {
	return s.CurrentTrade.Open()
}

// Balance returns the session's working balance for its mode: virtual balance
// for paper, equity for backtest, capital otherwise.
func (s Session) Balance() decimal.Decimal {
	switch {
	case s.Mode == schema.ModePaper && s.Paper != nil:
		return s.Paper.VirtualBalance
	case s.Mode == schema.ModeBacktest && s.Backtest != nil:
		return s.Backtest.Equity
	default:
		return s.Capital
	}
}

// AdjustBalance applies a realized P&L delta to the mode-specific balance.
func (s *Session) AdjustBalance(delta decimal.Decimal) {
	switch {
	case s.Mode == schema.ModePaper && s.Paper != nil:
		s.Paper.VirtualBalance = s.Paper.VirtualBalance.Add(delta)
	case s.Mode == schema.ModeBacktest && s.Backtest != nil:
		s.Backtest.Equity = s.Backtest.Equity.Add(delta)
	}
}

// tradeTailCap bounds the in-session trade tail; full history lives in the
// trade store.
const tradeTailCap = 20

// RecordClosedTrade appends a closed trade to the session's trade tail,
// keeping only the most recent entries.
func (s *Session) RecordClosedTrade(t schema.Trade) {
	s.TradeTail = append(s.TradeTail, t)
	if len(s.TradeTail) > tradeTailCap {
		s.TradeTail = s.TradeTail[len(s.TradeTail)-tradeTailCap:]
	}
}

// RollDay resets daily counters when the calendar day has changed, and lifts
// an expired hard stop. Counters are monotonic within a single trading day.
func (s *Session) RollDay(now time.Time) {
	day := TradingDay(now)
	if s.TradingDay == day {
		return
	}
	s.TradingDay = day
	s.DailyPnL = decimal.Zero
	s.RiskCappedDailyPnL = decimal.Zero
	s.DailyTradeCount = 0
	s.ConsecutiveLosses = 0
	s.CooldownUntil = time.Time{}
	if !s.HardStopUntil.IsZero() && !now.Before(s.HardStopUntil) {
		s.HardStopUntil = time.Time{}
		if s.Status == StatusStopped {
			s.Status = StatusActive
			s.StopReason = ""
		}
	}
}
