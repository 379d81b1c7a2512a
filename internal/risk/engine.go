package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/riskgate/internal/observability"
	"github.com/quantfall/riskgate/internal/session"
)

// ReasonCode identifies why an entry was blocked or a session stopped.
type ReasonCode string

const (
	// ReasonDailyTradeCap marks the strict daily trade count ceiling.
	ReasonDailyTradeCap ReasonCode = "DAILY_TRADE_CAP"
	// ReasonHardStop marks three consecutive losses; session-terminal until
	// the next calendar day.
	ReasonHardStop ReasonCode = "CONSECUTIVE_LOSSES_HARD_STOP"
	// ReasonCooldown marks an active two-loss cooldown window.
	ReasonCooldown ReasonCode = "COOLDOWN_ACTIVE"
	// ReasonDailyLoss marks the daily loss ceiling.
	ReasonDailyLoss ReasonCode = "DAILY_LOSS_LIMIT"
	// ReasonEmergency marks a single-trade loss at or past twice the
	// per-trade cap.
	ReasonEmergency ReasonCode = "EMERGENCY_BREACH"
	// ReasonOpenTrade marks the one-open-trade-per-session invariant.
	ReasonOpenTrade ReasonCode = "TRADE_ALREADY_OPEN"
	// ReasonStopped marks a session already stopped for the day.
	ReasonStopped ReasonCode = "SESSION_STOPPED"
)

// Reason pairs a machine-readable code with the operator-facing specifics
// (cooldown minutes remaining, hard-stop-until date, cap values).
type Reason struct {
	Code   ReasonCode
	Detail string
}

func (r Reason) String() string {
	if r.Detail == "" {
		return string(r.Code)
	}
	return string(r.Code) + ": " + r.Detail
}

// Band classifies a closed trade's loss severity against the per-trade cap.
type Band string

const (
	// BandWithinRisk covers trades inside the per-trade loss cap.
	BandWithinRisk Band = "WITHIN_RISK_BAND"
	// BandSlippageBreach covers losses at or past 1.5x the cap.
	BandSlippageBreach Band = "SLIPPAGE_TOLERANCE_BREACH"
	// BandEmergencyBreach covers losses at or past 2x the cap; the session
	// is stopped immediately regardless of other counters.
	BandEmergencyBreach Band = "EMERGENCY_BREACH"
)

// Decision is the structured outcome of a risk check. A rejection is an
// expected, frequent result, not an error. Callers must persist Session even
// when Approved is false: cooldown windows and hard-stop markers are side
// effects that have to survive across calls.
type Decision struct {
	Approved bool
	Reasons  []Reason
	Band     Band
	Session  session.Session
}

func (d *Decision) reject(code ReasonCode, detail string) {
	d.Approved = false
	d.Reasons = append(d.Reasons, Reason{Code: code, Detail: detail})
}

// Engine evaluates entries and trade results against clamped limits. It
// carries no mutable state; all state lives in the session snapshots.
type Engine struct {
	limits Limits
}

// NewEngine clamps the supplied limits to the hard ceilings.
func NewEngine(limits Limits) *Engine {
	return &Engine{limits: limits.Clamped()}
}

// Limits returns the effective (clamped) limits.
func (e *Engine) Limits() Limits {
	return e.limits
}

// EvaluateEntry is the single pre-trade gate. Check order: strict daily
// trade cap, three-loss hard stop, two-loss cooldown, then the baseline
// daily-loss ceiling.
func (e *Engine) EvaluateEntry(s session.Session, now time.Time) Decision {
	s.RollDay(now)
	d := Decision{Approved: true, Band: BandWithinRisk}

	if s.DailyTradeCount >= e.limits.DailyTradeCap {
		s.Status = session.StatusStopped
		s.StopReason = string(ReasonDailyTradeCap)
		d.reject(ReasonDailyTradeCap,
			fmt.Sprintf("%d trades today, cap %d", s.DailyTradeCount, e.limits.DailyTradeCap))
	}

	if s.ConsecutiveLosses >= 3 {
		if s.HardStopUntil.IsZero() {
			s.HardStopUntil = nextTradingDay(now)
		}
		s.Status = session.StatusStopped
		s.StopReason = string(ReasonHardStop)
		d.reject(ReasonHardStop,
			fmt.Sprintf("%d consecutive losses, stopped until %s",
				s.ConsecutiveLosses, s.HardStopUntil.Format("2006-01-02")))
	} else if s.ConsecutiveLosses == 2 {
		switch {
		case s.CooldownUntil.IsZero():
			s.CooldownUntil = now.Add(e.limits.Cooldown)
			d.reject(ReasonCooldown,
				fmt.Sprintf("2 consecutive losses, cooling down %d minutes",
					int(e.limits.Cooldown.Minutes())))
		case now.Before(s.CooldownUntil):
			remaining := s.CooldownUntil.Sub(now).Round(time.Minute)
			d.reject(ReasonCooldown,
				fmt.Sprintf("cooldown active, %d minutes remaining",
					int(remaining.Minutes())))
		default:
			// Cooldown elapsed: the streak resets to zero so a fresh pair
			// of losses is required to re-trigger it. Deliberate policy,
			// not an oversight; see DESIGN.md.
			s.ConsecutiveLosses = 0
			s.CooldownUntil = time.Time{}
		}
	}

	if s.RiskCappedDailyPnL.LessThanOrEqual(e.limits.MaxDailyLoss.Neg()) {
		s.Status = session.StatusStopped
		s.StopReason = string(ReasonDailyLoss)
		d.reject(ReasonDailyLoss,
			fmt.Sprintf("daily loss %s at or past limit %s",
				s.RiskCappedDailyPnL.StringFixed(2), e.limits.MaxDailyLoss.StringFixed(2)))
	}

	if s.HasOpenTrade() {
		d.reject(ReasonOpenTrade, "session already holds an open trade")
	}

	if d.Approved && s.Status == session.StatusStopped {
		detail := s.StopReason
		if !s.HardStopUntil.IsZero() {
			detail = fmt.Sprintf("%s until %s", detail, s.HardStopUntil.Format("2006-01-02"))
		}
		d.reject(ReasonStopped, detail)
	}

	if !d.Approved {
		observability.Count(observability.MetricRiskRejections,
			map[string]string{"reason": string(d.Reasons[0].Code)})
	}

	d.Session = s
	return d
}

// RegisterTradeResult folds a closed trade's P&L into both streams, bands
// the loss, adjusts the streak, then re-runs the full entry evaluation so
// any freshly tripped limit takes effect immediately.
func (e *Engine) RegisterTradeResult(s session.Session, pnl decimal.Decimal, when time.Time) Decision {
	s.RollDay(when)

	s.DailyPnL = s.DailyPnL.Add(pnl)
	capped := pnl
	if capped.LessThan(e.limits.MaxLossPerTrade.Neg()) {
		capped = e.limits.MaxLossPerTrade.Neg()
	}
	s.RiskCappedDailyPnL = s.RiskCappedDailyPnL.Add(capped)

	band := e.classify(pnl)
	if band == BandEmergencyBreach {
		s.Status = session.StatusStopped
		s.StopReason = string(ReasonEmergency)
	}

	if pnl.IsNegative() {
		s.ConsecutiveLosses++
	} else {
		s.ConsecutiveLosses = 0
		s.CooldownUntil = time.Time{}
	}
	s.DailyTradeCount++

	d := e.EvaluateEntry(s, when)
	d.Band = band
	if band == BandEmergencyBreach {
		d.reject(ReasonEmergency,
			fmt.Sprintf("loss %s at or past 2x per-trade cap %s",
				pnl.StringFixed(2), e.limits.MaxLossPerTrade.StringFixed(2)))
	}
	return d
}

func (e *Engine) classify(pnl decimal.Decimal) Band {
	if !pnl.IsNegative() {
		return BandWithinRisk
	}
	loss := pnl.Neg()
	switch {
	case loss.GreaterThanOrEqual(e.limits.MaxLossPerTrade.Mul(decimal.NewFromInt(2))):
		return BandEmergencyBreach
	case loss.GreaterThanOrEqual(e.limits.MaxLossPerTrade.Mul(decimal.NewFromFloat(1.5))):
		return BandSlippageBreach
	default:
		return BandWithinRisk
	}
}

// ValidateTrade sizes an entry candidate: the lot count whose worst-case
// stop-out stays inside the per-trade loss cap and whose notional fits the
// capital. A zero lot count means the trade must not be taken.
func (e *Engine) ValidateTrade(capital, entry, stop decimal.Decimal, lotSize int64) (int64, bool) {
	if lotSize <= 0 || entry.LessThanOrEqual(decimal.Zero) {
		return 0, false
	}
	riskPerLot := entry.Sub(stop).Abs().Mul(decimal.NewFromInt(lotSize))
	if riskPerLot.LessThanOrEqual(decimal.Zero) {
		return 0, false
	}
	lots := e.limits.MaxLossPerTrade.Div(riskPerLot).IntPart()
	notionalPerLot := entry.Mul(decimal.NewFromInt(lotSize))
	if notionalPerLot.GreaterThan(decimal.Zero) {
		affordable := capital.Div(notionalPerLot).IntPart()
		if affordable < lots {
			lots = affordable
		}
	}
	if lots <= 0 {
		return 0, false
	}
	return lots, true
}

func nextTradingDay(now time.Time) time.Time {
	year, month, day := now.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
}
