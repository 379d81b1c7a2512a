package execution

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/quantfall/riskgate/errs"
	"github.com/quantfall/riskgate/internal/schema"
	"github.com/quantfall/riskgate/internal/session"
)

// Backtest fills instantly at the caller-provided mark price with
// proportional fees. No latency, no slippage, no I/O: replay determinism
// depends on it.
type Backtest struct {
	fees FeeConfig
	now  func() time.Time
}

// NewBacktest builds a backtest executor with the given fee model.
func NewBacktest(fees FeeConfig) *Backtest {
	return &Backtest{fees: fees, now: time.Now}
}

// SetClock installs the replay clock so trade timestamps track candle time.
func (b *Backtest) SetClock(now func() time.Time) {
	if now != nil {
		b.now = now
	}
}

// ExecuteEntry opens a trade at the mark price.
func (b *Backtest) ExecuteEntry(_ context.Context, s *session.Session, req EntryOrder) (Result, error) {
	if s.CurrentTrade.Open() {
		return Result{}, errs.New("execution", errs.CodeConflict,
			errs.WithSessionID(s.ID), errs.WithMessage("session already holds an open trade"))
	}
	if req.Lots <= 0 {
		return Result{}, errs.New("execution", errs.CodeInvalidRequest,
			errs.WithSessionID(s.ID), errs.WithMessage("lot count must be positive"))
	}
	if !req.MarkPrice.IsPositive() {
		return Result{}, errs.New("execution", errs.CodeInvalidRequest,
			errs.WithSessionID(s.ID), errs.WithMessage("mark price required in backtest mode"))
	}

	quantity := req.Lots * s.LotSize
	entryCharges := b.fees.LegCharges(req.Side, req.MarkPrice, quantity)
	now := b.now()
	trade := &schema.Trade{
		ID:           uuid.NewString(),
		SessionID:    s.ID,
		Symbol:       s.Symbol,
		Exchange:     s.Exchange,
		Strategy:     s.Strategy,
		Side:         req.Side,
		Quantity:     quantity,
		LotSize:      s.LotSize,
		EntryPrice:   req.MarkPrice,
		EntryTime:    now,
		StopLoss:     req.StopLoss,
		Target:       req.Target,
		Charges:      entryCharges,
		EntryOrderID: "BT-" + uuid.NewString(),
		Origin:       schema.TradeOriginStrategy,
	}
	s.CurrentTrade = trade
	s.AdjustBalance(entryCharges.Neg())
	s.UpdatedAt = now

	return Result{
		Success:   true,
		OrderID:   trade.EntryOrderID,
		TradeID:   trade.ID,
		FillPrice: req.MarkPrice,
		State:     schema.OrderStateFilled,
	}, nil
}

// ExecuteExit closes the current trade at the mark price.
func (b *Backtest) ExecuteExit(_ context.Context, s *session.Session, req ExitOrder) (Result, error) {
	t := s.CurrentTrade
	if t == nil {
		return Result{}, errs.New("execution", errs.CodeNotFound,
			errs.WithSessionID(s.ID), errs.WithMessage("no trade to exit"))
	}
	if t.Closed {
		return closedResult(t), nil
	}
	if !req.MarkPrice.IsPositive() {
		return Result{}, errs.New("execution", errs.CodeInvalidRequest,
			errs.WithSessionID(s.ID), errs.WithMessage("mark price required in backtest mode"))
	}

	exitSide := t.Side.Opposite()
	exitCharges := b.fees.LegCharges(exitSide, req.MarkPrice, t.Quantity)
	now := b.now()
	t.ExitPrice = req.MarkPrice
	t.ExitTime = now
	t.GrossPnL = t.PnLAt(req.MarkPrice)
	t.Charges = t.Charges.Add(exitCharges)
	t.NetPnL = t.GrossPnL.Sub(t.Charges)
	t.ExitReason = req.Reason
	t.ExitOrderID = "BT-" + uuid.NewString()
	t.Closed = true

	s.AdjustBalance(t.GrossPnL.Sub(exitCharges))
	s.UpdatedAt = now

	return closedResult(t), nil
}
