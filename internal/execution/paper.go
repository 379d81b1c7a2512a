package execution

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantfall/riskgate/errs"
	"github.com/quantfall/riskgate/internal/observability"
	"github.com/quantfall/riskgate/internal/quotes"
	"github.com/quantfall/riskgate/internal/schema"
	"github.com/quantfall/riskgate/internal/session"
)

// PaperConfig tunes the simulated friction of the paper executor.
type PaperConfig struct {
	MinLatency time.Duration `yaml:"minLatency"`
	MaxLatency time.Duration `yaml:"maxLatency"`
	// BaseSlippagePct is the floor slippage fraction applied to every
	// market fill; spread and day range widen it up to MaxSlippagePct.
	BaseSlippagePct  decimal.Decimal `yaml:"baseSlippagePct"`
	MaxSlippagePct   decimal.Decimal `yaml:"maxSlippagePct"`
	VolatilityFactor decimal.Decimal `yaml:"volatilityFactor"`
	// MaxLossPerTrade clamps the simulated exit so the realized gross loss
	// never exceeds the hard per-trade ceiling.
	MaxLossPerTrade decimal.Decimal `yaml:"maxLossPerTrade"`
	Fees            FeeConfig       `yaml:"fees"`
}

// DefaultPaperConfig returns mildly adverse friction defaults.
func DefaultPaperConfig(maxLossPerTrade decimal.Decimal) PaperConfig {
	return PaperConfig{
		MinLatency:       50 * time.Millisecond,
		MaxLatency:       400 * time.Millisecond,
		BaseSlippagePct:  decimal.NewFromFloat(0.0003),
		MaxSlippagePct:   decimal.NewFromFloat(0.003),
		VolatilityFactor: decimal.NewFromFloat(0.02),
		MaxLossPerTrade:  maxLossPerTrade,
		Fees:             DefaultFeeConfig(),
	}
}

// Paper simulates fills against a live quote feed with latency, directional
// slippage, partial fills, and a tiered fee model. It never touches a broker.
type Paper struct {
	cfg  PaperConfig
	feed quotes.Feed
	rng  *rand.Rand
	now  func() time.Time
}

// NewPaper builds a paper executor over the given feed.
func NewPaper(cfg PaperConfig, feed quotes.Feed) *Paper {
	return &Paper{
		cfg:  cfg,
		feed: feed,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		now:  time.Now,
	}
}

// ExecuteEntry opens a simulated position on the session.
func (p *Paper) ExecuteEntry(ctx context.Context, s *session.Session, req EntryOrder) (Result, error) {
	if s.CurrentTrade.Open() {
		return Result{}, errs.New("execution", errs.CodeConflict,
			errs.WithSessionID(s.ID), errs.WithMessage("session already holds an open trade"))
	}
	if req.Lots <= 0 {
		return Result{}, errs.New("execution", errs.CodeInvalidRequest,
			errs.WithSessionID(s.ID), errs.WithMessage("lot count must be positive"))
	}

	q, err := p.feed.Quote(ctx, s.Symbol, s.Exchange)
	if err != nil {
		return Result{}, err
	}
	if err := p.simulateLatency(ctx); err != nil {
		return Result{}, err
	}

	quantity := req.Lots * s.LotSize
	state := schema.OrderStateFilled
	var fillPrice decimal.Decimal
	switch req.Type {
	case schema.OrderTypeLimit:
		fillPrice = req.LimitPrice
		// Random partial fills mimic thin books on single-share
		// instruments. Derivative lots fill whole: lot integrity
		// matters more than realism there.
		if s.LotSize == 1 && quantity > 1 {
			filled := quantity/2 + p.rng.Int63n(quantity/2+1)
			if filled < quantity {
				quantity = filled
				state = schema.OrderStatePartialFilled
			}
		}
	default:
		fillPrice = p.slip(q, req.Side)
	}

	entryCharges := p.cfg.Fees.LegCharges(req.Side, fillPrice, quantity)
	now := p.now()
	trade := &schema.Trade{
		ID:           uuid.NewString(),
		SessionID:    s.ID,
		Symbol:       s.Symbol,
		Exchange:     s.Exchange,
		Strategy:     s.Strategy,
		Side:         req.Side,
		Quantity:     quantity,
		LotSize:      s.LotSize,
		EntryPrice:   fillPrice,
		EntryTime:    now,
		StopLoss:     req.StopLoss,
		Target:       req.Target,
		Charges:      entryCharges,
		EntryOrderID: paperOrderID(),
		Origin:       schema.TradeOriginStrategy,
	}
	s.CurrentTrade = trade
	s.AdjustBalance(entryCharges.Neg())
	s.UpdatedAt = now

	observability.Count(observability.MetricPaperFills, map[string]string{"leg": "entry"})
	return Result{
		Success:   true,
		OrderID:   trade.EntryOrderID,
		TradeID:   trade.ID,
		FillPrice: fillPrice,
		State:     state,
	}, nil
}

// ExecuteExit closes the session's current trade at a simulated price. A
// repeated exit returns the stored outcome without touching balances again.
func (p *Paper) ExecuteExit(ctx context.Context, s *session.Session, req ExitOrder) (Result, error) {
	t := s.CurrentTrade
	if t == nil {
		return Result{}, errs.New("execution", errs.CodeNotFound,
			errs.WithSessionID(s.ID), errs.WithMessage("no trade to exit"))
	}
	if t.Closed {
		return closedResult(t), nil
	}

	q, err := p.feed.Quote(ctx, s.Symbol, s.Exchange)
	if err != nil {
		return Result{}, err
	}
	if err := p.simulateLatency(ctx); err != nil {
		return Result{}, err
	}

	exitSide := t.Side.Opposite()
	exitPrice := p.slip(q, exitSide)

	gross := t.PnLAt(exitPrice)
	if maxLoss := p.cfg.MaxLossPerTrade; maxLoss.IsPositive() && gross.LessThan(maxLoss.Neg()) {
		// Clamp the simulated exit so the realized loss lands on the
		// per-trade ceiling. The per-unit move truncates toward zero so
		// that perUnit*qty never exceeds the cap when it does not divide
		// the quantity evenly.
		perUnit := maxLoss.Div(decimal.NewFromInt(t.Quantity)).RoundDown(8)
		exitPrice = t.EntryPrice.Sub(perUnit.Mul(t.Direction()))
		gross = t.PnLAt(exitPrice)
	}

	exitCharges := p.cfg.Fees.LegCharges(exitSide, exitPrice, t.Quantity)
	now := p.now()
	t.ExitPrice = exitPrice
	t.ExitTime = now
	t.GrossPnL = gross
	t.Charges = t.Charges.Add(exitCharges)
	t.NetPnL = t.GrossPnL.Sub(t.Charges)
	t.ExitReason = req.Reason
	t.ExitOrderID = paperOrderID()
	t.Closed = true

	s.AdjustBalance(gross.Sub(exitCharges))
	s.UpdatedAt = now

	observability.Count(observability.MetricPaperFills, map[string]string{"leg": "exit"})
	return closedResult(t), nil
}

// slip moves the quoted last price against the taker: buys fill above the
// quote, sells below. Magnitude grows with the spread and the day's range.
func (p *Paper) slip(q schema.Quote, side schema.TradeSide) decimal.Decimal {
	pct := p.cfg.BaseSlippagePct
	if half := q.Spread().Div(decimal.NewFromInt(2)); half.IsPositive() {
		pct = pct.Add(half)
	}
	if vol := q.DayRange().Mul(p.cfg.VolatilityFactor); vol.IsPositive() {
		pct = pct.Add(vol)
	}
	if pct.GreaterThan(p.cfg.MaxSlippagePct) {
		pct = p.cfg.MaxSlippagePct
	}
	// Jitter between half and full adverse slippage.
	jitter := decimal.NewFromFloat(0.5 + p.rng.Float64()/2)
	pct = pct.Mul(jitter)

	move := q.Last.Mul(pct)
	if side == schema.TradeSideBuy {
		return q.Last.Add(move)
	}
	return q.Last.Sub(move)
}

func (p *Paper) simulateLatency(ctx context.Context) error {
	if p.cfg.MaxLatency <= 0 {
		return nil
	}
	delay := p.cfg.MinLatency
	if span := p.cfg.MaxLatency - p.cfg.MinLatency; span > 0 {
		delay += time.Duration(p.rng.Int63n(int64(span)))
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func closedResult(t *schema.Trade) Result {
	return Result{
		Success:   true,
		OrderID:   t.ExitOrderID,
		TradeID:   t.ID,
		FillPrice: t.ExitPrice,
		State:     schema.OrderStateFilled,
	}
}

func paperOrderID() string {
	return "PAPER-" + uuid.NewString()
}
