package execution

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/riskgate/errs"
	"github.com/quantfall/riskgate/internal/quotes"
	"github.com/quantfall/riskgate/internal/risk"
	"github.com/quantfall/riskgate/internal/schema"
	"github.com/quantfall/riskgate/internal/session"
)

type memHistory struct {
	trades []schema.Trade
}

func (m *memHistory) Append(_ context.Context, t schema.Trade) error {
	m.trades = append(m.trades, t)
	return nil
}

// testRouter wires a paper executor behind the full gate chain with a one
// trade per hour throttle.
func testRouter(t *testing.T, feed *quotes.StaticFeed) (*Router, *memHistory) {
	t.Helper()
	cfg := risk.DefaultThrottleConfig()
	for i := range cfg.Slabs {
		cfg.Slabs[i].TradesPerHour = 1
	}
	throttle, err := risk.NewThrottle(cfg)
	if err != nil {
		t.Fatalf("throttle: %v", err)
	}

	reg := session.NewRegistry()
	engine := risk.NewEngine(risk.DefaultLimits())
	r := NewRouter(reg, engine, throttle)
	r.SetClock(func() time.Time { return paperNow })
	r.RegisterExecutor(schema.ModePaper, testPaper(feed, 300))

	hist := &memHistory{}
	r.SetHistory(hist)
	return r, hist
}

func TestRouterEntryExitRoundTrip(t *testing.T) {
	feed := quotes.NewStaticFeed()
	feed.Set(quoteAt(100))
	r, hist := testRouter(t, feed)
	r.registry.Put(paperSession(50))

	res, err := r.ExecuteEntry(context.Background(), "p1", EntryOrder{
		Side: schema.TradeSideBuy, Type: schema.OrderTypeMarket, Lots: 1,
	})
	if err != nil || !res.Success {
		t.Fatalf("entry: res=%+v err=%v", res, err)
	}
	s, _ := r.registry.Get("p1")
	if !s.HasOpenTrade() {
		t.Fatalf("open trade not committed to registry")
	}

	feed.Set(quoteAt(104))
	exit, err := r.ExecuteExit(context.Background(), "p1", ExitOrder{Reason: "TARGET"})
	if err != nil || !exit.Success {
		t.Fatalf("exit: res=%+v err=%v", exit, err)
	}

	s, _ = r.registry.Get("p1")
	if s.HasOpenTrade() {
		t.Fatalf("trade still open after exit")
	}
	if s.DailyTradeCount != 1 {
		t.Fatalf("daily trade count = %d, want 1", s.DailyTradeCount)
	}
	// (104-100)*50 gross minus friction: clearly profitable.
	if !s.DailyPnL.IsPositive() {
		t.Fatalf("daily pnl = %s, want positive", s.DailyPnL)
	}
	if len(hist.trades) != 1 || hist.trades[0].ExitReason != "TARGET" {
		t.Fatalf("history = %+v, want one TARGET record", hist.trades)
	}
	if len(s.TradeTail) != 1 || s.TradeTail[0].ID != hist.trades[0].ID {
		t.Fatalf("trade tail = %+v, want the closed trade", s.TradeTail)
	}
}

func TestRouterRiskRejectionPersistsGateState(t *testing.T) {
	feed := quotes.NewStaticFeed()
	feed.Set(quoteAt(100))
	r, _ := testRouter(t, feed)

	s := paperSession(50)
	s.ConsecutiveLosses = 2
	r.registry.Put(s)

	res, err := r.ExecuteEntry(context.Background(), "p1", EntryOrder{
		Side: schema.TradeSideBuy, Type: schema.OrderTypeMarket, Lots: 1,
	})
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if res.Success || !strings.Contains(res.Reason, string(risk.ReasonCooldown)) {
		t.Fatalf("expected cooldown rejection, got %+v", res)
	}
	// The cooldown deadline the gate opened must survive the rejection.
	stored, _ := r.registry.Get("p1")
	if stored.CooldownUntil.IsZero() {
		t.Fatalf("cooldown deadline not persisted")
	}
}

func TestRouterThrottlesSecondEntryWithinHour(t *testing.T) {
	feed := quotes.NewStaticFeed()
	feed.Set(quoteAt(100))
	r, _ := testRouter(t, feed)
	r.registry.Put(paperSession(50))

	if res, err := r.ExecuteEntry(context.Background(), "p1", EntryOrder{
		Side: schema.TradeSideBuy, Type: schema.OrderTypeMarket, Lots: 1,
	}); err != nil || !res.Success {
		t.Fatalf("first entry: res=%+v err=%v", res, err)
	}
	feed.Set(quoteAt(101))
	if _, err := r.ExecuteExit(context.Background(), "p1", ExitOrder{Reason: "TARGET"}); err != nil {
		t.Fatalf("exit: %v", err)
	}

	res, err := r.ExecuteEntry(context.Background(), "p1", EntryOrder{
		Side: schema.TradeSideBuy, Type: schema.OrderTypeMarket, Lots: 1,
	})
	if err != nil {
		t.Fatalf("second entry: %v", err)
	}
	if res.Success || !strings.Contains(res.Reason, "THROTTLED") {
		t.Fatalf("expected throttle rejection, got %+v", res)
	}
}

func TestRouterExitIdempotentAcrossCalls(t *testing.T) {
	feed := quotes.NewStaticFeed()
	feed.Set(quoteAt(100))
	r, hist := testRouter(t, feed)
	r.registry.Put(paperSession(50))

	if _, err := r.ExecuteEntry(context.Background(), "p1", EntryOrder{
		Side: schema.TradeSideBuy, Type: schema.OrderTypeMarket, Lots: 1,
	}); err != nil {
		t.Fatalf("entry: %v", err)
	}
	feed.Set(quoteAt(104))
	first, err := r.ExecuteExit(context.Background(), "p1", ExitOrder{Reason: "TARGET"})
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	before, _ := r.registry.Get("p1")

	second, err := r.ExecuteExit(context.Background(), "p1", ExitOrder{Reason: "TARGET"})
	if err != nil {
		t.Fatalf("repeat exit: %v", err)
	}
	if second.TradeID != first.TradeID || !second.FillPrice.Equal(first.FillPrice) {
		t.Fatalf("repeat exit differs: %+v vs %+v", second, first)
	}
	after, _ := r.registry.Get("p1")
	if after.DailyTradeCount != before.DailyTradeCount || !after.DailyPnL.Equal(before.DailyPnL) {
		t.Fatalf("repeat exit re-registered the trade result")
	}
	if len(hist.trades) != 1 {
		t.Fatalf("history has %d records, want 1", len(hist.trades))
	}
	if len(after.TradeTail) != 1 {
		t.Fatalf("trade tail has %d records after repeat exit, want 1", len(after.TradeTail))
	}
}

func TestRouterUnknownSession(t *testing.T) {
	feed := quotes.NewStaticFeed()
	r, _ := testRouter(t, feed)

	if _, err := r.ExecuteEntry(context.Background(), "ghost", EntryOrder{
		Side: schema.TradeSideBuy, Type: schema.OrderTypeMarket, Lots: 1,
	}); !errs.IsCode(err, errs.CodeNotFound) {
		t.Fatalf("entry: got %v", err)
	}
	if _, err := r.ExecuteExit(context.Background(), "ghost", ExitOrder{}); !errs.IsCode(err, errs.CodeNotFound) {
		t.Fatalf("exit: got %v", err)
	}
}

func TestRouterRequiresExecutorForMode(t *testing.T) {
	feed := quotes.NewStaticFeed()
	feed.Set(quoteAt(100))
	r, _ := testRouter(t, feed)

	s := session.New("live1", "BANKNIFTY", "NFO", schema.ModeLive,
		decimal.NewFromInt(100_000), paperNow)
	r.registry.Put(s)

	if _, err := r.ExecuteEntry(context.Background(), "live1", EntryOrder{
		Side: schema.TradeSideBuy, Type: schema.OrderTypeMarket, Lots: 1,
	}); !errs.IsCode(err, errs.CodeInvalidConfig) {
		t.Fatalf("got %v", err)
	}
}
