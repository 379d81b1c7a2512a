package execution

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/quantfall/riskgate/errs"
	"github.com/quantfall/riskgate/internal/observability"
	"github.com/quantfall/riskgate/internal/orders"
	"github.com/quantfall/riskgate/internal/schema"
	"github.com/quantfall/riskgate/internal/session"
)

// LiveConfig tunes real-broker execution.
type LiveConfig struct {
	// OrdersPerSecond bounds the broker order submission rate.
	OrdersPerSecond float64       `yaml:"ordersPerSecond"`
	PollInterval    time.Duration `yaml:"pollInterval"`
	FillTimeout     time.Duration `yaml:"fillTimeout"`
	Product         string        `yaml:"product"`
	Fees            FeeConfig     `yaml:"fees"`
}

// DefaultLiveConfig returns conservative live-execution settings.
func DefaultLiveConfig() LiveConfig {
	return LiveConfig{
		OrdersPerSecond: 2,
		PollInterval:    500 * time.Millisecond,
		FillTimeout:     30 * time.Second,
		Product:         "MIS",
		Fees:            DefaultFeeConfig(),
	}
}

// Live executes against a real broker through the order state machine,
// rate-limiting submissions and polling each order to a terminal state.
type Live struct {
	cfg     LiveConfig
	machine *orders.Machine
	limiter *rate.Limiter
	now     func() time.Time
}

// NewLive builds a live executor over the given order machine.
func NewLive(cfg LiveConfig, machine *orders.Machine) *Live {
	rps := cfg.OrdersPerSecond
	if rps <= 0 {
		rps = 1
	}
	return &Live{
		cfg:     cfg,
		machine: machine,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		now:     time.Now,
	}
}

// ExecuteEntry places the entry order, waits for a terminal state, and on a
// fill opens the trade and mirrors the stop-loss to the broker.
func (l *Live) ExecuteEntry(ctx context.Context, s *session.Session, req EntryOrder) (Result, error) {
	if s.CurrentTrade.Open() {
		return Result{}, errs.New("execution", errs.CodeConflict,
			errs.WithSessionID(s.ID), errs.WithMessage("session already holds an open trade"))
	}
	if req.Lots <= 0 {
		return Result{}, errs.New("execution", errs.CodeInvalidRequest,
			errs.WithSessionID(s.ID), errs.WithMessage("lot count must be positive"))
	}

	order, err := l.submit(ctx, schema.OrderRequest{
		Symbol:   s.Symbol,
		Exchange: s.Exchange,
		Side:     req.Side,
		Type:     req.Type,
		Quantity: req.Lots * s.LotSize,
		Price:    req.LimitPrice,
		Product:  l.cfg.Product,
		Tag:      s.ID,
	})
	if err != nil {
		return Result{}, err
	}
	if order.State == schema.OrderStateRejected || order.State == schema.OrderStateCancelled {
		return Result{
			OrderID: order.ClientOrderID,
			State:   order.State,
			Reason:  order.RejectReason,
		}, nil
	}
	if !order.State.Terminal() {
		// Fill window expired: pull the remainder back so no untracked
		// position can appear later, then act on whatever did fill.
		cancelled, cErr := l.machine.Cancel(ctx, order.ClientOrderID)
		if cErr != nil {
			observability.Log().Warn("live entry cancel failed",
				observability.F("client_order_id", order.ClientOrderID),
				observability.F("error", cErr.Error()))
		} else {
			order = cancelled
		}
	}
	if order.FilledQty == 0 {
		return Result{
			OrderID: order.ClientOrderID,
			State:   order.State,
			Reason:  "no fill before timeout",
		}, nil
	}

	now := l.now()
	trade := &schema.Trade{
		ID:           uuid.NewString(),
		SessionID:    s.ID,
		Symbol:       s.Symbol,
		Exchange:     s.Exchange,
		Strategy:     s.Strategy,
		Side:         req.Side,
		Quantity:     order.FilledQty,
		LotSize:      s.LotSize,
		EntryPrice:   order.AvgFillPrice,
		EntryTime:    now,
		StopLoss:     req.StopLoss,
		Target:       req.Target,
		Charges:      l.cfg.Fees.LegCharges(req.Side, order.AvgFillPrice, order.FilledQty),
		EntryOrderID: order.ClientOrderID,
		Origin:       schema.TradeOriginStrategy,
	}
	if req.StopLoss.IsPositive() {
		trade.StopOrderID = l.placeStop(ctx, s, trade)
	}
	s.CurrentTrade = trade
	s.UpdatedAt = now

	return Result{
		Success:   true,
		OrderID:   order.ClientOrderID,
		TradeID:   trade.ID,
		FillPrice: order.AvgFillPrice,
		State:     order.State,
	}, nil
}

// ExecuteExit cancels any resting stop, flattens the position with a market
// order, and closes the trade at the broker-reported fill price.
func (l *Live) ExecuteExit(ctx context.Context, s *session.Session, req ExitOrder) (Result, error) {
	t := s.CurrentTrade
	if t == nil {
		return Result{}, errs.New("execution", errs.CodeNotFound,
			errs.WithSessionID(s.ID), errs.WithMessage("no trade to exit"))
	}
	if t.Closed {
		return closedResult(t), nil
	}

	if t.StopOrderID != "" {
		if _, err := l.machine.Cancel(ctx, t.StopOrderID); err != nil {
			observability.Log().Warn("stop order cancel failed",
				observability.F("client_order_id", t.StopOrderID),
				observability.F("error", err.Error()))
		}
	}

	exitSide := t.Side.Opposite()
	order, err := l.submit(ctx, schema.OrderRequest{
		Symbol:   t.Symbol,
		Exchange: t.Exchange,
		Side:     exitSide,
		Type:     schema.OrderTypeMarket,
		Quantity: t.Quantity,
		Product:  l.cfg.Product,
		Tag:      s.ID,
	})
	if err != nil {
		return Result{}, err
	}
	if order.FilledQty == 0 {
		return Result{
			OrderID: order.ClientOrderID,
			State:   order.State,
			Reason:  "exit not filled",
		}, nil
	}

	exitCharges := l.cfg.Fees.LegCharges(exitSide, order.AvgFillPrice, order.FilledQty)
	now := l.now()
	t.ExitPrice = order.AvgFillPrice
	t.ExitTime = now
	t.GrossPnL = t.PnLAt(order.AvgFillPrice)
	t.Charges = t.Charges.Add(exitCharges)
	t.NetPnL = t.GrossPnL.Sub(t.Charges)
	t.ExitReason = req.Reason
	t.ExitOrderID = order.ClientOrderID
	t.Closed = true
	s.UpdatedAt = now

	return closedResult(t), nil
}

// submit rate-limits, places, and polls one order to a terminal state,
// returning the last-known order when the fill window expires.
func (l *Live) submit(ctx context.Context, req schema.OrderRequest) (schema.Order, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return schema.Order{}, err
	}
	order, err := l.machine.Submit(ctx, req)
	if err != nil {
		return schema.Order{}, err
	}
	if order.State.Terminal() {
		return order, nil
	}
	return l.machine.PollUntilTerminal(ctx, order.ClientOrderID, l.cfg.PollInterval, l.cfg.FillTimeout)
}

// placeStop mirrors the trade's stop-loss to the broker as a trigger order.
// A stop placement failure is logged, not fatal: the reconciler and the risk
// engine still bound the downside.
func (l *Live) placeStop(ctx context.Context, s *session.Session, t *schema.Trade) string {
	if err := l.limiter.Wait(ctx); err != nil {
		return ""
	}
	order, err := l.machine.Submit(ctx, schema.OrderRequest{
		Symbol:       t.Symbol,
		Exchange:     t.Exchange,
		Side:         t.Side.Opposite(),
		Type:         schema.OrderTypeStopMarket,
		Quantity:     t.Quantity,
		TriggerPrice: t.StopLoss,
		Product:      l.cfg.Product,
		Tag:          s.ID,
	})
	if err != nil || order.State == schema.OrderStateRejected {
		observability.Log().Warn("stop order placement failed",
			observability.F("session_id", s.ID),
			observability.F("symbol", t.Symbol),
			observability.F("stop", t.StopLoss.String()))
		return ""
	}
	return order.ClientOrderID
}
