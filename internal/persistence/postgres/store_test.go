package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/quantfall/riskgate/errs"
	"github.com/quantfall/riskgate/internal/schema"
	"github.com/quantfall/riskgate/internal/session"
)

var sess0Time = time.Date(2025, 3, 14, 9, 15, 0, 0, time.UTC)

func nullNumeric() pgtype.Numeric {
	return pgtype.Numeric{}
}

func TestTradeStoreNilPool(t *testing.T) {
	store := NewTradeStore(nil)
	ctx := context.Background()
	trade := schema.Trade{ID: "t1", SessionID: "s1", Symbol: "BANKNIFTY", Exchange: "NFO", Side: schema.TradeSideBuy}
	if err := store.Append(ctx, trade); !errs.IsCode(err, errs.CodeStorage) {
		t.Fatalf("expected storage error when pool nil, got %v", err)
	}
	if _, err := store.List(ctx, TradeQuery{SessionID: "s1"}); !errs.IsCode(err, errs.CodeStorage) {
		t.Fatalf("expected storage error when pool nil, got %v", err)
	}
	if _, err := store.Summary(ctx, "s1", "2025-03-14"); !errs.IsCode(err, errs.CodeStorage) {
		t.Fatalf("expected storage error when pool nil, got %v", err)
	}
}

func TestSessionStoreNilPool(t *testing.T) {
	store := NewSessionStore(nil)
	ctx := context.Background()
	sess := session.New("s1", "BANKNIFTY", "NFO", schema.ModePaper, decimal.NewFromInt(100000), sess0Time)
	if err := store.Save(ctx, sess); !errs.IsCode(err, errs.CodeStorage) {
		t.Fatalf("expected storage error when pool nil, got %v", err)
	}
	if _, err := store.Load(ctx, "s1"); !errs.IsCode(err, errs.CodeStorage) {
		t.Fatalf("expected storage error when pool nil, got %v", err)
	}
	if _, err := store.LoadAll(ctx); !errs.IsCode(err, errs.CodeStorage) {
		t.Fatalf("expected storage error when pool nil, got %v", err)
	}
	if err := store.Delete(ctx, "s1"); !errs.IsCode(err, errs.CodeStorage) {
		t.Fatalf("expected storage error when pool nil, got %v", err)
	}
}

func TestNumericRoundTrip(t *testing.T) {
	cases := []string{"0", "48123.55", "-300", "0.00000001", "1000000"}
	for _, raw := range cases {
		want, err := decimal.NewFromString(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		numeric, err := numericFromDecimal(want)
		if err != nil {
			t.Fatalf("numericFromDecimal(%q): %v", raw, err)
		}
		got, err := decimalFromNumeric(numeric)
		if err != nil {
			t.Fatalf("decimalFromNumeric(%q): %v", raw, err)
		}
		if !got.Equal(want) {
			t.Fatalf("round trip %q: got %s", raw, got)
		}
	}
}

func TestDecimalFromNumericNull(t *testing.T) {
	got, err := decimalFromNumeric(nullNumeric())
	if err != nil {
		t.Fatalf("null numeric: %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("expected zero for NULL numeric, got %s", got)
	}
}
