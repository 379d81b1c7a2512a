package risk

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/riskgate/internal/schema"
	"github.com/quantfall/riskgate/internal/session"
)

var noon = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func newSession() session.Session {
	return session.New("s1", "BANKNIFTY", "NFO", schema.ModePaper, decimal.NewFromInt(100_000), noon)
}

func hasReason(d Decision, code ReasonCode) bool {
	for _, r := range d.Reasons {
		if r.Code == code {
			return true
		}
	}
	return false
}

func TestEvaluateEntryApprovesFreshSession(t *testing.T) {
	e := NewEngine(DefaultLimits())
	d := e.EvaluateEntry(newSession(), noon)
	if !d.Approved {
		t.Fatalf("fresh session rejected: %+v", d.Reasons)
	}
}

func TestDailyTradeCapStopsSession(t *testing.T) {
	e := NewEngine(DefaultLimits())
	s := newSession()
	s.DailyTradeCount = 20

	d := e.EvaluateEntry(s, noon)
	if d.Approved || !hasReason(d, ReasonDailyTradeCap) {
		t.Fatalf("expected DAILY_TRADE_CAP rejection, got %+v", d)
	}
	if d.Session.Status != session.StatusStopped {
		t.Fatalf("session not stopped")
	}
	if !strings.Contains(d.Reasons[0].Detail, "20") {
		t.Fatalf("detail should carry the cap: %q", d.Reasons[0].Detail)
	}
}

func TestConfiguredLimitsClampDownNeverUp(t *testing.T) {
	e := NewEngine(Limits{
		MaxLossPerTrade: decimal.NewFromInt(5_000),
		MaxDailyLoss:    decimal.NewFromInt(50_000),
		DailyTradeCap:   99,
		Cooldown:        time.Minute,
	})
	l := e.Limits()
	if !l.MaxLossPerTrade.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("per-trade cap = %s, want 300", l.MaxLossPerTrade)
	}
	if !l.MaxDailyLoss.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("daily cap = %s, want 3000", l.MaxDailyLoss)
	}
	if l.DailyTradeCap != 20 {
		t.Fatalf("trade cap = %d, want 20", l.DailyTradeCap)
	}
	if l.Cooldown != 15*time.Minute {
		t.Fatalf("cooldown = %v, want 15m", l.Cooldown)
	}
}

func TestTwoLossesOpenCooldownWindow(t *testing.T) {
	e := NewEngine(DefaultLimits())
	s := newSession()

	loss := decimal.NewFromInt(-100)
	d := e.RegisterTradeResult(s, loss, noon)
	if !d.Approved {
		t.Fatalf("one loss should not block: %+v", d.Reasons)
	}
	d = e.RegisterTradeResult(d.Session, loss, noon.Add(time.Minute))
	if d.Approved || !hasReason(d, ReasonCooldown) {
		t.Fatalf("second loss must open cooldown, got %+v", d)
	}
	if d.Session.CooldownUntil.IsZero() {
		t.Fatalf("cooldown deadline not persisted on rejection")
	}

	// Still inside the window 10 minutes later.
	d2 := e.EvaluateEntry(d.Session, noon.Add(11*time.Minute))
	if d2.Approved || !hasReason(d2, ReasonCooldown) {
		t.Fatalf("cooldown must hold for at least 15 minutes, got %+v", d2)
	}
	if !strings.Contains(d2.Reasons[0].Detail, "minutes") {
		t.Fatalf("cooldown detail should report remaining minutes: %q", d2.Reasons[0].Detail)
	}
}

func TestCooldownElapseResetsStreak(t *testing.T) {
	e := NewEngine(DefaultLimits())
	s := newSession()
	loss := decimal.NewFromInt(-100)

	d := e.RegisterTradeResult(s, loss, noon)
	d = e.RegisterTradeResult(d.Session, loss, noon.Add(time.Minute))

	// Once the window elapses the streak resets to zero, so a fresh pair of
	// losses is required before the next cooldown.
	after := e.EvaluateEntry(d.Session, noon.Add(20*time.Minute))
	if !after.Approved {
		t.Fatalf("elapsed cooldown must clear the gate: %+v", after.Reasons)
	}
	if after.Session.ConsecutiveLosses != 0 || !after.Session.CooldownUntil.IsZero() {
		t.Fatalf("streak not reset on elapse: %+v", after.Session)
	}

	d = e.RegisterTradeResult(after.Session, loss, noon.Add(21*time.Minute))
	if !d.Approved {
		t.Fatalf("single loss after reset must not re-trigger cooldown: %+v", d.Reasons)
	}
}

func TestThreeLossesHardStopUntilNextDay(t *testing.T) {
	e := NewEngine(DefaultLimits())
	s := newSession()
	loss := decimal.NewFromInt(-100)

	d := e.RegisterTradeResult(s, loss, noon)
	d = e.RegisterTradeResult(d.Session, loss, noon.Add(time.Minute))
	d = e.RegisterTradeResult(d.Session, loss, noon.Add(2*time.Minute))
	if d.Approved || !hasReason(d, ReasonHardStop) {
		t.Fatalf("third loss must hard-stop, got %+v", d)
	}

	// Hours later, same day: still stopped regardless of elapsed time.
	late := e.EvaluateEntry(d.Session, noon.Add(8*time.Hour))
	if late.Approved || !hasReason(late, ReasonHardStop) {
		t.Fatalf("hard stop must hold for the rest of the day, got %+v", late)
	}

	// Next calendar day: the stop lifts.
	nextDay := e.EvaluateEntry(late.Session, noon.Add(24*time.Hour))
	if !nextDay.Approved {
		t.Fatalf("hard stop must lift the next day: %+v", nextDay.Reasons)
	}
}

func TestDualStreamsAndLossCapping(t *testing.T) {
	e := NewEngine(DefaultLimits())
	s := newSession()

	// Three losses of 310 each exceed the 300 cap: the actual stream keeps
	// -310 per trade, the risk-capped stream floors each at -300.
	loss := decimal.NewFromInt(-310)
	d := e.RegisterTradeResult(s, loss, noon)
	d = e.RegisterTradeResult(d.Session, loss, noon.Add(time.Minute))
	d = e.RegisterTradeResult(d.Session, loss, noon.Add(2*time.Minute))

	if !d.Session.DailyPnL.Equal(decimal.NewFromInt(-930)) {
		t.Fatalf("actual stream = %s, want -930", d.Session.DailyPnL)
	}
	if !d.Session.RiskCappedDailyPnL.Equal(decimal.NewFromInt(-900)) {
		t.Fatalf("capped stream = %s, want -900", d.Session.RiskCappedDailyPnL)
	}
	if d.Session.RiskCappedDailyPnL.LessThan(d.Session.DailyPnL) {
		t.Fatalf("capped stream must never show a worse loss than actual")
	}
}

func TestRiskBands(t *testing.T) {
	e := NewEngine(DefaultLimits())
	cases := []struct {
		pnl  int64
		band Band
	}{
		{-100, BandWithinRisk},
		{-300, BandWithinRisk},
		{-450, BandSlippageBreach},
		{-599, BandSlippageBreach},
		{-600, BandEmergencyBreach},
		{-1200, BandEmergencyBreach},
		{250, BandWithinRisk},
	}
	for _, tc := range cases {
		d := e.RegisterTradeResult(newSession(), decimal.NewFromInt(tc.pnl), noon)
		if d.Band != tc.band {
			t.Fatalf("pnl %d: band = %s, want %s", tc.pnl, d.Band, tc.band)
		}
	}
}

func TestEmergencyBreachStopsImmediately(t *testing.T) {
	e := NewEngine(DefaultLimits())
	d := e.RegisterTradeResult(newSession(), decimal.NewFromInt(-700), noon)
	if d.Approved {
		t.Fatalf("emergency breach must reject")
	}
	if d.Session.Status != session.StatusStopped || d.Session.StopReason != string(ReasonEmergency) {
		t.Fatalf("session not stopped on emergency breach: %+v", d.Session)
	}
}

func TestWinResetsStreak(t *testing.T) {
	e := NewEngine(DefaultLimits())
	s := newSession()
	d := e.RegisterTradeResult(s, decimal.NewFromInt(-100), noon)
	d = e.RegisterTradeResult(d.Session, decimal.NewFromInt(500), noon.Add(time.Minute))
	if d.Session.ConsecutiveLosses != 0 {
		t.Fatalf("winning trade must reset the streak, got %d", d.Session.ConsecutiveLosses)
	}
	if !d.Approved {
		t.Fatalf("session should be tradable after a win: %+v", d.Reasons)
	}
}

func TestDailyLossLimit(t *testing.T) {
	e := NewEngine(DefaultLimits())
	s := newSession()
	s.RiskCappedDailyPnL = decimal.NewFromInt(-3000)
	s.DailyPnL = decimal.NewFromInt(-3400)

	d := e.EvaluateEntry(s, noon)
	if d.Approved || !hasReason(d, ReasonDailyLoss) {
		t.Fatalf("expected DAILY_LOSS_LIMIT, got %+v", d)
	}
}

func TestOpenTradeBlocksEntry(t *testing.T) {
	e := NewEngine(DefaultLimits())
	s := newSession()
	s.CurrentTrade = &schema.Trade{ID: "t1", Symbol: s.Symbol}

	d := e.EvaluateEntry(s, noon)
	if d.Approved || !hasReason(d, ReasonOpenTrade) {
		t.Fatalf("open trade must block entry, got %+v", d)
	}
}

func TestEvaluateEntryIdempotent(t *testing.T) {
	e := NewEngine(DefaultLimits())
	s := newSession()
	s.ConsecutiveLosses = 2

	first := e.EvaluateEntry(s, noon)
	second := e.EvaluateEntry(first.Session, noon)
	if first.Approved || second.Approved {
		t.Fatalf("both calls must reject")
	}
	if !first.Session.CooldownUntil.Equal(second.Session.CooldownUntil) {
		t.Fatalf("repeated evaluation moved the cooldown deadline")
	}
}

func TestValidateTradeSizing(t *testing.T) {
	e := NewEngine(DefaultLimits())
	capital := decimal.NewFromInt(500_000)

	// Risk per lot = |100-96| * 25 = 100; 300/100 = 3 lots.
	lots, ok := e.ValidateTrade(capital, decimal.NewFromInt(100), decimal.NewFromInt(96), 25)
	if !ok || lots != 3 {
		t.Fatalf("lots = %d ok=%v, want 3 true", lots, ok)
	}

	// Stop equal to entry: unsizable.
	if _, ok := e.ValidateTrade(capital, decimal.NewFromInt(100), decimal.NewFromInt(100), 25); ok {
		t.Fatalf("zero-risk trade must be rejected")
	}

	// Capital constrains the lot count below the risk-derived size.
	lots, ok = e.ValidateTrade(decimal.NewFromInt(4_000), decimal.NewFromInt(100), decimal.NewFromInt(99), 25)
	if !ok || lots != 1 {
		t.Fatalf("lots = %d ok=%v, want capital-bound 1 true", lots, ok)
	}
}
