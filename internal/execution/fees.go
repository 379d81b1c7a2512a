package execution

import (
	"github.com/shopspring/decimal"

	"github.com/quantfall/riskgate/internal/schema"
)

// FeeConfig models per-leg trading friction: brokerage proportional to
// turnover but capped per leg, proportional exchange/transaction charges, a
// securities tax levied on the sell leg only, and a VAT-style levy applied to
// brokerage plus transaction charges.
type FeeConfig struct {
	BrokerageRate     decimal.Decimal `yaml:"brokerageRate"`
	BrokerageCap      decimal.Decimal `yaml:"brokerageCap"`
	TransactionRate   decimal.Decimal `yaml:"transactionRate"`
	SecuritiesTaxRate decimal.Decimal `yaml:"securitiesTaxRate"`
	LevyRate          decimal.Decimal `yaml:"levyRate"`
}

// DefaultFeeConfig returns discount-broker style friction.
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		BrokerageRate:     decimal.NewFromFloat(0.0003),
		BrokerageCap:      decimal.NewFromInt(20),
		TransactionRate:   decimal.NewFromFloat(0.0000325),
		SecuritiesTaxRate: decimal.NewFromFloat(0.00025),
		LevyRate:          decimal.NewFromFloat(0.18),
	}
}

// LegCharges computes the total charges for one leg of a round trip.
func (c FeeConfig) LegCharges(side schema.TradeSide, price decimal.Decimal, quantity int64) decimal.Decimal {
	turnover := price.Mul(decimal.NewFromInt(quantity))
	if turnover.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	brokerage := turnover.Mul(c.BrokerageRate)
	if brokerage.GreaterThan(c.BrokerageCap) {
		brokerage = c.BrokerageCap
	}
	txn := turnover.Mul(c.TransactionRate)
	total := brokerage.Add(txn)
	total = total.Add(brokerage.Add(txn).Mul(c.LevyRate))
	if side == schema.TradeSideSell {
		total = total.Add(turnover.Mul(c.SecuritiesTaxRate))
	}
	return total.Round(2)
}

// RoundTripCharges computes entry plus exit charges for a position opened on
// the given side at the entry price and closed at the exit price.
func (c FeeConfig) RoundTripCharges(side schema.TradeSide, entry, exit decimal.Decimal, quantity int64) decimal.Decimal {
	return c.LegCharges(side, entry, quantity).Add(c.LegCharges(side.Opposite(), exit, quantity))
}
