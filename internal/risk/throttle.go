package risk

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/quantfall/riskgate/errs"
)

// ThrottleMode reports which regime produced the hourly trade limit.
type ThrottleMode string

const (
	// ThrottleNormal applies the capital tier's base rate.
	ThrottleNormal ThrottleMode = "NORMAL"
	// ThrottleReduced halves the base rate after the soft drawdown trigger.
	ThrottleReduced ThrottleMode = "REDUCED"
	// ThrottleHardLimit collapses the rate to one trade per hour.
	ThrottleHardLimit ThrottleMode = "HARD_LIMIT"
)

// Slab maps a capital range to a base hourly trade rate. MaxCapital zero
// marks an open-ended upper bound, allowed only on the last slab.
type Slab struct {
	MinCapital    decimal.Decimal `yaml:"minCapital"`
	MaxCapital    decimal.Decimal `yaml:"maxCapital"`
	TradesPerHour int             `yaml:"tradesPerHour"`
}

// ThrottleConfig drives the capital-tiered hourly trade cap.
type ThrottleConfig struct {
	Slabs            []Slab          `yaml:"slabs"`
	GlobalMaxPerHour int             `yaml:"globalMaxPerHour"`
	SoftDrawdownPct  decimal.Decimal `yaml:"softDrawdownPct"`
	HardDrawdownPct  decimal.Decimal `yaml:"hardDrawdownPct"`
}

// DefaultThrottleConfig returns the stock capital tiers: a soft 2% drawdown
// halves the rate, a hard 5% collapses it to one trade per hour.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		Slabs: []Slab{
			{MinCapital: decimal.Zero, MaxCapital: decimal.NewFromInt(50_000), TradesPerHour: 3},
			{MinCapital: decimal.NewFromInt(50_000), MaxCapital: decimal.NewFromInt(200_000), TradesPerHour: 4},
			{MinCapital: decimal.NewFromInt(200_000), MaxCapital: decimal.NewFromInt(1_000_000), TradesPerHour: 6},
			{MinCapital: decimal.NewFromInt(1_000_000), TradesPerHour: 8},
		},
		GlobalMaxPerHour: 10,
		SoftDrawdownPct:  decimal.NewFromFloat(0.02),
		HardDrawdownPct:  decimal.NewFromFloat(0.05),
	}
}

// Validate checks slab ordering and percentage ranges. A validation failure
// must never touch the active configuration; Throttle.Configure relies on
// that contract.
func (c ThrottleConfig) Validate() error {
	if len(c.Slabs) == 0 {
		return errs.New("throttle", errs.CodeInvalidConfig, errs.WithMessage("at least one capital slab required"))
	}
	if c.GlobalMaxPerHour < 1 {
		return errs.New("throttle", errs.CodeInvalidConfig, errs.WithMessage("globalMaxPerHour must be >= 1"))
	}
	for i, slab := range c.Slabs {
		if slab.TradesPerHour < 1 {
			return errs.New("throttle", errs.CodeInvalidConfig,
				errs.WithMessage(fmt.Sprintf("slab %d: tradesPerHour must be >= 1", i)))
		}
		if slab.MinCapital.IsNegative() {
			return errs.New("throttle", errs.CodeInvalidConfig,
				errs.WithMessage(fmt.Sprintf("slab %d: minCapital must be >= 0", i)))
		}
		open := slab.MaxCapital.IsZero()
		if open && i != len(c.Slabs)-1 {
			return errs.New("throttle", errs.CodeInvalidConfig,
				errs.WithMessage(fmt.Sprintf("slab %d: only the last slab may be open-ended", i)))
		}
		if !open && slab.MaxCapital.LessThanOrEqual(slab.MinCapital) {
			return errs.New("throttle", errs.CodeInvalidConfig,
				errs.WithMessage(fmt.Sprintf("slab %d: maxCapital must exceed minCapital", i)))
		}
		if i > 0 {
			prev := c.Slabs[i-1]
			if prev.MaxCapital.IsZero() || slab.MinCapital.LessThan(prev.MaxCapital) {
				return errs.New("throttle", errs.CodeInvalidConfig,
					errs.WithMessage(fmt.Sprintf("slab %d: overlaps or precedes slab %d", i, i-1)))
			}
		}
	}
	one := decimal.NewFromInt(1)
	for name, pct := range map[string]decimal.Decimal{
		"softDrawdownPct": c.SoftDrawdownPct,
		"hardDrawdownPct": c.HardDrawdownPct,
	} {
		if pct.LessThanOrEqual(decimal.Zero) || pct.GreaterThan(one) {
			return errs.New("throttle", errs.CodeInvalidConfig,
				errs.WithMessage(name+" must lie in (0, 1]"))
		}
	}
	if c.HardDrawdownPct.LessThanOrEqual(c.SoftDrawdownPct) {
		return errs.New("throttle", errs.CodeInvalidConfig,
			errs.WithMessage("hardDrawdownPct must exceed softDrawdownPct"))
	}
	return nil
}

// ThrottleDecision is the computed hourly trade allowance.
type ThrottleDecision struct {
	Mode          ThrottleMode
	TradesPerHour int
}

// Throttle computes the capital-tiered, drawdown-aware hourly trade cap.
type Throttle struct {
	mu  sync.RWMutex
	cfg ThrottleConfig
}

// NewThrottle validates and installs the initial configuration.
func NewThrottle(cfg ThrottleConfig) (*Throttle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Throttle{cfg: cfg}, nil
}

// Configure atomically swaps in a new configuration. An invalid config is
// rejected and the active one stays in force.
func (t *Throttle) Configure(cfg ThrottleConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()
	return nil
}

// Config returns the active configuration.
func (t *Throttle) Config() ThrottleConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg
}

// MaxTradesPerHour computes the allowed hourly rate for the given capital and
// today's P&L. The result is always at least one: frequency throttling slows
// a session down but never locks it out entirely.
func (t *Throttle) MaxTradesPerHour(capital, dailyPnL decimal.Decimal) ThrottleDecision {
	t.mu.RLock()
	cfg := t.cfg
	t.mu.RUnlock()

	base := cfg.Slabs[len(cfg.Slabs)-1].TradesPerHour
	for _, slab := range cfg.Slabs {
		if capital.LessThan(slab.MinCapital) {
			continue
		}
		if slab.MaxCapital.IsZero() || capital.LessThan(slab.MaxCapital) {
			base = slab.TradesPerHour
			break
		}
	}
	if base > cfg.GlobalMaxPerHour {
		base = cfg.GlobalMaxPerHour
	}

	decision := ThrottleDecision{Mode: ThrottleNormal, TradesPerHour: base}
	if capital.LessThanOrEqual(decimal.Zero) || !dailyPnL.IsNegative() {
		return decision
	}

	drawdown := dailyPnL.Neg().Div(capital)
	switch {
	case drawdown.GreaterThanOrEqual(cfg.HardDrawdownPct):
		decision.Mode = ThrottleHardLimit
		decision.TradesPerHour = 1
	case drawdown.GreaterThanOrEqual(cfg.SoftDrawdownPct):
		decision.Mode = ThrottleReduced
		decision.TradesPerHour = base / 2
		if decision.TradesPerHour < 1 {
			decision.TradesPerHour = 1
		}
	}
	return decision
}
