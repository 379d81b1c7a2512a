package execution

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/riskgate/internal/broker/fake"
	"github.com/quantfall/riskgate/internal/orders"
	"github.com/quantfall/riskgate/internal/schema"
	"github.com/quantfall/riskgate/internal/session"
)

func testLive(b *fake.Broker) *Live {
	cfg := DefaultLiveConfig()
	cfg.OrdersPerSecond = 1000
	cfg.PollInterval = time.Millisecond
	cfg.FillTimeout = 200 * time.Millisecond
	l := NewLive(cfg, orders.NewMachine(b))
	l.now = func() time.Time { return paperNow }
	return l
}

func liveSession(lotSize int64) session.Session {
	s := session.New("l1", "BANKNIFTY", "NFO", schema.ModeLive,
		decimal.NewFromInt(500_000), paperNow)
	s.LotSize = lotSize
	return s
}

func TestLiveEntryFillPlacesStop(t *testing.T) {
	b := fake.New()
	b.Statuses = []schema.StatusSnapshot{
		{Status: "COMPLETE", FilledQty: 50, AvgFillPrice: decimal.NewFromInt(100)},
	}
	l := testLive(b)
	s := liveSession(25)

	res, err := l.ExecuteEntry(context.Background(), &s, EntryOrder{
		Side:     schema.TradeSideBuy,
		Type:     schema.OrderTypeMarket,
		Lots:     2,
		StopLoss: decimal.NewFromInt(95),
	})
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if !res.Success || !res.FillPrice.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected result %+v", res)
	}

	tr := s.CurrentTrade
	if tr == nil || tr.Quantity != 50 || !tr.EntryPrice.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("trade not opened from broker fill: %+v", tr)
	}
	if tr.StopOrderID == "" {
		t.Fatalf("stop order not mirrored to broker")
	}
	if len(b.Placed) != 2 {
		t.Fatalf("placed %d orders, want entry + stop", len(b.Placed))
	}
	stop := b.Placed[1]
	if stop.Type != schema.OrderTypeStopMarket || stop.Side != schema.TradeSideSell ||
		!stop.TriggerPrice.Equal(decimal.NewFromInt(95)) {
		t.Fatalf("bad stop order: %+v", stop)
	}
}

func TestLiveEntryTimeoutCancelsOrder(t *testing.T) {
	b := fake.New()
	// Default scripted status is OPEN: the order never fills.
	l := testLive(b)
	l.cfg.FillTimeout = 10 * time.Millisecond
	s := liveSession(25)

	res, err := l.ExecuteEntry(context.Background(), &s, EntryOrder{
		Side: schema.TradeSideBuy, Type: schema.OrderTypeMarket, Lots: 1,
	})
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if res.Success {
		t.Fatalf("unfilled entry must not report success: %+v", res)
	}
	if s.CurrentTrade != nil {
		t.Fatalf("no trade should open without a fill")
	}
	if len(b.Cancelled) != 1 {
		t.Fatalf("unfilled order not cancelled: %v", b.Cancelled)
	}
}

func TestLiveEntryBrokerReject(t *testing.T) {
	b := fake.New()
	b.PlaceResults = []schema.PlaceResult{{Success: false, Error: "RMS: margin shortfall"}}
	l := testLive(b)
	s := liveSession(25)

	res, err := l.ExecuteEntry(context.Background(), &s, EntryOrder{
		Side: schema.TradeSideBuy, Type: schema.OrderTypeMarket, Lots: 1,
	})
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if res.Success || res.State != schema.OrderStateRejected {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Reason == "" {
		t.Fatalf("reject reason lost")
	}
}

func TestLiveExitCancelsStopAndCloses(t *testing.T) {
	b := fake.New()
	b.Statuses = []schema.StatusSnapshot{
		{Status: "COMPLETE", FilledQty: 50, AvgFillPrice: decimal.NewFromInt(100)},
		{Status: "COMPLETE", FilledQty: 50, AvgFillPrice: decimal.NewFromInt(110)},
	}
	l := testLive(b)
	s := liveSession(25)

	if _, err := l.ExecuteEntry(context.Background(), &s, EntryOrder{
		Side:     schema.TradeSideBuy,
		Type:     schema.OrderTypeMarket,
		Lots:     2,
		StopLoss: decimal.NewFromInt(95),
	}); err != nil {
		t.Fatalf("entry: %v", err)
	}

	res, err := l.ExecuteExit(context.Background(), &s, ExitOrder{Reason: "TARGET"})
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	if !res.Success || !res.FillPrice.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("unexpected result %+v", res)
	}

	tr := s.CurrentTrade
	if !tr.Closed || !tr.GrossPnL.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("trade not closed at broker fill: %+v", tr)
	}
	if !tr.NetPnL.Equal(tr.GrossPnL.Sub(tr.Charges)) {
		t.Fatalf("net/gross/charges inconsistent: %+v", tr)
	}
	if len(b.Cancelled) != 1 {
		t.Fatalf("stop order not cancelled on exit: %v", b.Cancelled)
	}
}
