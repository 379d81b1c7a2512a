package quotes

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/riskgate/errs"
	"github.com/quantfall/riskgate/internal/schema"
)

func TestStaticFeedServesStoredQuote(t *testing.T) {
	f := NewStaticFeed()
	f.Set(schema.Quote{
		Symbol:   "BANKNIFTY",
		Exchange: "NFO",
		Last:     decimal.NewFromInt(48_000),
		At:       time.Now(),
	})

	q, err := f.Quote(context.Background(), "BANKNIFTY", "NFO")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !q.Last.Equal(decimal.NewFromInt(48_000)) {
		t.Fatalf("last = %s", q.Last)
	}

	if _, err := f.Quote(context.Background(), "RELIANCE", "NSE"); !errs.IsCode(err, errs.CodeFeed) {
		t.Fatalf("missing instrument: got %v", err)
	}
}

func TestWSClientCachesAndRejectsStaleTicks(t *testing.T) {
	c := NewWSClient(context.Background(), WSConfig{URL: "ws://unused", StaleAfter: time.Minute})
	defer c.Stop()

	c.storeTick(wsTick{
		Symbol:   "BANKNIFTY",
		Exchange: "NFO",
		Last:     "48000.55",
		Bid:      "48000.00",
		Ask:      "48001.00",
		High:     "48200",
		Low:      "47800",
		Volume:   12345,
		Ts:       time.Now().UnixMilli(),
	})

	q, err := c.Quote(context.Background(), "BANKNIFTY", "NFO")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !q.Last.Equal(decimal.RequireFromString("48000.55")) || q.Volume != 12345 {
		t.Fatalf("bad cached quote: %+v", q)
	}
	if !q.Spread().IsPositive() {
		t.Fatalf("spread should derive from bid/ask")
	}

	// A tick older than the staleness bound must not be served.
	c.storeTick(wsTick{
		Symbol:   "RELIANCE",
		Exchange: "NSE",
		Last:     "2900",
		Ts:       time.Now().Add(-2 * time.Minute).UnixMilli(),
	})
	if _, err := c.Quote(context.Background(), "RELIANCE", "NSE"); !errs.IsCode(err, errs.CodeFeed) {
		t.Fatalf("stale tick served: %v", err)
	}

	if _, err := c.Quote(context.Background(), "GHOST", "NSE"); !errs.IsCode(err, errs.CodeFeed) {
		t.Fatalf("unknown instrument served: %v", err)
	}
}

func TestWSClientDedupesSubscriptions(t *testing.T) {
	c := NewWSClient(context.Background(), WSConfig{URL: "ws://unused"})
	defer c.Stop()

	// No connection yet: subscriptions queue for replay after connect.
	if err := c.Subscribe("BANKNIFTY", "NFO"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := c.Subscribe("BANKNIFTY", "NFO"); err != nil {
		t.Fatalf("duplicate subscribe: %v", err)
	}
	if len(c.subs) != 1 {
		t.Fatalf("subs = %d, want 1", len(c.subs))
	}
}
