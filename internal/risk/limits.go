// Package risk implements the capital-preservation gate. Every check is a
// pure function over session snapshots: it recomputes the full risk state
// from current data, returns a new snapshot, and never trusts cached fields,
// so repeated calls with the same input are idempotent.
package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// Hard, non-configurable ceilings. Configured values are clamped to these,
// never past them: loss and count limits clamp down, the cooldown clamps up.
var (
	hardMaxLossPerTrade = decimal.NewFromInt(300)
	hardMaxDailyLoss    = decimal.NewFromInt(3000)
)

const (
	hardDailyTradeCap = 20
	minCooldown       = 15 * time.Minute
)

// Limits holds the configured risk limits for a deployment.
type Limits struct {
	MaxLossPerTrade decimal.Decimal `yaml:"maxLossPerTrade"`
	MaxDailyLoss    decimal.Decimal `yaml:"maxDailyLoss"`
	DailyTradeCap   int             `yaml:"dailyTradeCap"`
	Cooldown        time.Duration   `yaml:"cooldown"`
}

// DefaultLimits returns the hard ceilings as the working configuration.
func DefaultLimits() Limits {
	return Limits{
		MaxLossPerTrade: hardMaxLossPerTrade,
		MaxDailyLoss:    hardMaxDailyLoss,
		DailyTradeCap:   hardDailyTradeCap,
		Cooldown:        minCooldown,
	}
}

// Clamped returns the limits forced inside the hard ceilings. Zero or
// negative values fall back to the ceiling itself.
func (l Limits) Clamped() Limits {
	out := l
	if out.MaxLossPerTrade.LessThanOrEqual(decimal.Zero) || out.MaxLossPerTrade.GreaterThan(hardMaxLossPerTrade) {
		out.MaxLossPerTrade = hardMaxLossPerTrade
	}
	if out.MaxDailyLoss.LessThanOrEqual(decimal.Zero) || out.MaxDailyLoss.GreaterThan(hardMaxDailyLoss) {
		out.MaxDailyLoss = hardMaxDailyLoss
	}
	if out.DailyTradeCap <= 0 || out.DailyTradeCap > hardDailyTradeCap {
		out.DailyTradeCap = hardDailyTradeCap
	}
	if out.Cooldown < minCooldown {
		out.Cooldown = minCooldown
	}
	return out
}
