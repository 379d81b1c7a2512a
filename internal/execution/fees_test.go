package execution

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/quantfall/riskgate/internal/schema"
)

func TestBrokerageCapsPerLeg(t *testing.T) {
	fees := DefaultFeeConfig()

	// 500 * 2000 = 1,000,000 turnover: proportional brokerage would be 300,
	// the cap holds it at 20.
	small := fees.LegCharges(schema.TradeSideBuy, decimal.NewFromInt(2000), 10)
	large := fees.LegCharges(schema.TradeSideBuy, decimal.NewFromInt(2000), 500)

	// The large leg's brokerage component is capped, so charges grow far
	// slower than turnover.
	if large.GreaterThanOrEqual(small.Mul(decimal.NewFromInt(50))) {
		t.Fatalf("brokerage cap not applied: small=%s large=%s", small, large)
	}
	if !large.IsPositive() {
		t.Fatalf("charges must be positive")
	}
}

func TestSecuritiesTaxOnSellLegOnly(t *testing.T) {
	fees := DefaultFeeConfig()
	price := decimal.NewFromInt(100)

	buy := fees.LegCharges(schema.TradeSideBuy, price, 100)
	sell := fees.LegCharges(schema.TradeSideSell, price, 100)

	tax := price.Mul(decimal.NewFromInt(100)).Mul(fees.SecuritiesTaxRate)
	if !sell.Sub(buy).Equal(tax.Round(2)) {
		t.Fatalf("sell-buy charge delta = %s, want securities tax %s", sell.Sub(buy), tax.Round(2))
	}
}

func TestZeroTurnoverHasNoCharges(t *testing.T) {
	fees := DefaultFeeConfig()
	if got := fees.LegCharges(schema.TradeSideBuy, decimal.Zero, 100); !got.IsZero() {
		t.Fatalf("charges on zero turnover = %s", got)
	}
}

func TestRoundTripSumsBothLegs(t *testing.T) {
	fees := DefaultFeeConfig()
	entry := decimal.NewFromInt(100)
	exit := decimal.NewFromInt(110)

	want := fees.LegCharges(schema.TradeSideBuy, entry, 50).
		Add(fees.LegCharges(schema.TradeSideSell, exit, 50))
	if got := fees.RoundTripCharges(schema.TradeSideBuy, entry, exit, 50); !got.Equal(want) {
		t.Fatalf("round trip = %s, want %s", got, want)
	}
}
