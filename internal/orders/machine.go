// Package orders implements the managed order state machine. Orders are owned
// exclusively by the Machine and mutated only through its transition function;
// callers receive value snapshots.
package orders

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantfall/riskgate/errs"
	"github.com/quantfall/riskgate/internal/observability"
	"github.com/quantfall/riskgate/internal/schema"
)

// Machine tracks every managed order through the broker lifecycle. It holds
// its own lock over the order map, independent of the session lock: orders
// and sessions are different aggregates.
type Machine struct {
	broker BrokerCapability
	now    func() time.Time

	mu     sync.Mutex
	orders map[string]*schema.Order
}

// BrokerCapability is the subset of the broker interface the machine needs.
type BrokerCapability interface {
	PlaceOrder(ctx context.Context, req schema.OrderRequest) (schema.PlaceResult, error)
	GetOrderStatus(ctx context.Context, brokerOrderID string) (schema.StatusSnapshot, error)
	CancelOrder(ctx context.Context, brokerOrderID string) (schema.CancelResult, error)
}

// NewMachine constructs a state machine over the given broker capability.
func NewMachine(b BrokerCapability) *Machine {
	return &Machine{
		broker: b,
		now:    time.Now,
		orders: make(map[string]*schema.Order),
	}
}

// SetClock overrides the machine's time source, used by tests and backtests.
func (m *Machine) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Get returns a snapshot of the order with the given client order id.
func (m *Machine) Get(clientOrderID string) (schema.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[clientOrderID]
	if !ok {
		return schema.Order{}, false
	}
	return o.Clone(), true
}

// Submit validates and sends a new order to the broker. It never returns an
// error for broker-side failures: those surface as a REJECTED order with the
// captured reason. The only error paths are caller mistakes (duplicate id,
// zero quantity).
func (m *Machine) Submit(ctx context.Context, req schema.OrderRequest) (schema.Order, error) {
	if req.Quantity <= 0 {
		return schema.Order{}, errs.New("orders", errs.CodeConflict,
			errs.WithMessage("order quantity must be positive"))
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}

	now := m.now()
	m.mu.Lock()
	if _, exists := m.orders[req.ClientOrderID]; exists {
		m.mu.Unlock()
		return schema.Order{}, errs.New("orders", errs.CodeConflict,
			errs.WithOrderID(req.ClientOrderID),
			errs.WithMessage("duplicate client order id"))
	}
	o := &schema.Order{
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Exchange:      req.Exchange,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		RemainingQty:  req.Quantity,
		State:         schema.OrderStateNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.orders[req.ClientOrderID] = o
	if err := transition(o, schema.OrderStateSent, "submit", now); err != nil {
		m.mu.Unlock()
		return schema.Order{}, err
	}
	m.mu.Unlock()

	// Broker call happens outside the machine lock.
	result, err := m.broker.PlaceOrder(ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	at := m.now()
	switch {
	case err != nil:
		observability.Log().Warn("broker place failed",
			observability.F("client_order_id", o.ClientOrderID),
			observability.F("error", err.Error()))
		m.transitionOrDrift(o, schema.OrderStateRejected, err.Error(), at)
		observability.Count(observability.MetricOrdersRejected, map[string]string{"reason": "broker_comm"})
	case !result.Success || result.OrderID == "":
		reason := result.Error
		if reason == "" {
			reason = "broker rejected order"
		}
		m.transitionOrDrift(o, schema.OrderStateRejected, reason, at)
		observability.Count(observability.MetricOrdersRejected, map[string]string{"reason": "broker_reject"})
	default:
		o.BrokerOrderID = result.OrderID
		m.transitionOrDrift(o, schema.OrderStateAcknowledged, "broker ack "+result.OrderID, at)
		observability.Count(observability.MetricOrdersSubmitted, map[string]string{"symbol": o.Symbol})
	}
	return o.Clone(), nil
}

// transitionOrDrift folds a broker-call outcome into the order. A refusal
// means a concurrent local transition (typically a pre-ack Cancel) won the
// race while the broker call was in flight, so the order and broker disagree
// until the reconciler repairs it. The refusal is logged, not dropped.
func (m *Machine) transitionOrDrift(o *schema.Order, to schema.OrderState, reason string, at time.Time) {
	if err := transition(o, to, reason, at); err != nil {
		observability.Log().Warn("broker outcome discarded, order diverged locally",
			observability.F("client_order_id", o.ClientOrderID),
			observability.F("broker_order_id", o.BrokerOrderID),
			observability.F("state", string(o.State)),
			observability.F("refused", string(to)))
	}
}

// PollStatus fetches the broker's view of the order and folds it into the
// machine. Unknown broker status strings are logged and ignored. Broker
// communication failures are logged and leave the order unchanged.
func (m *Machine) PollStatus(ctx context.Context, clientOrderID string) (schema.Order, error) {
	m.mu.Lock()
	o, ok := m.orders[clientOrderID]
	if !ok {
		m.mu.Unlock()
		return schema.Order{}, errs.New("orders", errs.CodeNotFound,
			errs.WithOrderID(clientOrderID), errs.WithMessage("unknown order"))
	}
	if o.State.Terminal() || o.BrokerOrderID == "" {
		snapshot := o.Clone()
		m.mu.Unlock()
		return snapshot, nil
	}
	brokerID := o.BrokerOrderID
	m.mu.Unlock()

	snap, err := m.broker.GetOrderStatus(ctx, brokerID)
	if err != nil {
		observability.Log().Warn("broker status fetch failed",
			observability.F("client_order_id", clientOrderID),
			observability.F("error", err.Error()))
		current, _ := m.Get(clientOrderID)
		return current, nil
	}

	mapped, known := mapBrokerStatus(snap.Status)
	if !known {
		observability.Log().Warn("unknown broker status ignored",
			observability.F("client_order_id", clientOrderID),
			observability.F("status", snap.Status))
		current, _ := m.Get(clientOrderID)
		return current, nil
	}

	switch mapped {
	case schema.OrderStatePartialFilled, schema.OrderStateFilled:
		return m.ReconcileFill(clientOrderID, snap)
	case schema.OrderStateCancelled, schema.OrderStateRejected:
		m.mu.Lock()
		defer m.mu.Unlock()
		if o.State.Terminal() {
			return o.Clone(), nil
		}
		reason := snap.RejectReason
		if reason == "" {
			reason = "broker status " + snap.Status
		}
		if err := transition(o, mapped, reason, m.now()); err != nil {
			return o.Clone(), err
		}
		return o.Clone(), nil
	case schema.OrderStateAcknowledged:
		// Already acknowledged on submit; nothing to fold in.
		current, _ := m.Get(clientOrderID)
		return current, nil
	default:
		current, _ := m.Get(clientOrderID)
		return current, nil
	}
}

// ReconcileFill folds a broker fill snapshot into the order. Fill totals are
// clamped to the requested quantity, the average price is volume-weighted
// from individual fill events when present, and comparisons are monotonic so
// the call is idempotent for a repeated snapshot.
func (m *Machine) ReconcileFill(clientOrderID string, snap schema.StatusSnapshot) (schema.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[clientOrderID]
	if !ok {
		return schema.Order{}, errs.New("orders", errs.CodeNotFound,
			errs.WithOrderID(clientOrderID), errs.WithMessage("unknown order"))
	}
	if o.State == schema.OrderStateFilled {
		return o.Clone(), nil
	}

	filled := snap.FilledQty
	if len(snap.Fills) > 0 {
		filled = 0
		for _, f := range snap.Fills {
			filled += f.Quantity
		}
	}
	if filled > o.Quantity {
		// Broker over-reporting is clamped, never trusted past the request.
		observability.Log().Warn("broker over-reported fill clamped",
			observability.F("client_order_id", clientOrderID),
			observability.F("reported", filled),
			observability.F("requested", o.Quantity))
		filled = o.Quantity
	}
	if filled <= o.FilledQty {
		return o.Clone(), nil
	}

	avg := snap.AvgFillPrice
	if len(snap.Fills) > 0 {
		var notional decimal.Decimal
		var qty int64
		for _, f := range snap.Fills {
			notional = notional.Add(f.Price.Mul(decimal.NewFromInt(f.Quantity)))
			qty += f.Quantity
		}
		if qty > 0 {
			avg = notional.Div(decimal.NewFromInt(qty))
		}
	}

	o.FilledQty = filled
	o.RemainingQty = o.Quantity - filled
	if !avg.IsZero() {
		o.AvgFillPrice = avg
	}

	target := schema.OrderStatePartialFilled
	if filled == o.Quantity {
		target = schema.OrderStateFilled
	}
	if err := transition(o, target, "fill reconciled", m.now()); err != nil {
		return o.Clone(), err
	}
	return o.Clone(), nil
}

// Cancel is a no-op on terminal orders. Orders without a broker id are
// cancelled locally; otherwise the broker is asked and the order moves to
// CANCELLED only when the broker confirms. Broker failures are logged, not
// propagated.
func (m *Machine) Cancel(ctx context.Context, clientOrderID string) (schema.Order, error) {
	m.mu.Lock()
	o, ok := m.orders[clientOrderID]
	if !ok {
		m.mu.Unlock()
		return schema.Order{}, errs.New("orders", errs.CodeNotFound,
			errs.WithOrderID(clientOrderID), errs.WithMessage("unknown order"))
	}
	if o.State.Terminal() {
		snapshot := o.Clone()
		m.mu.Unlock()
		return snapshot, nil
	}
	if o.BrokerOrderID == "" {
		err := transition(o, schema.OrderStateCancelled, "cancelled locally", m.now())
		snapshot := o.Clone()
		m.mu.Unlock()
		return snapshot, err
	}
	brokerID := o.BrokerOrderID
	m.mu.Unlock()

	result, err := m.broker.CancelOrder(ctx, brokerID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		observability.Log().Warn("broker cancel failed",
			observability.F("client_order_id", clientOrderID),
			observability.F("error", err.Error()))
		return o.Clone(), nil
	}
	if !result.Cancelled {
		return o.Clone(), nil
	}
	if o.State.Terminal() {
		return o.Clone(), nil
	}
	if err := transition(o, schema.OrderStateCancelled, "broker confirmed cancel", m.now()); err != nil {
		return o.Clone(), err
	}
	return o.Clone(), nil
}

// PollUntilTerminal polls the broker until the order reaches a terminal
// state, the timeout elapses, or ctx is cancelled. Sleeps between polls are
// jittered. On timeout the best-known (possibly non-terminal) snapshot is
// returned rather than an error.
func (m *Machine) PollUntilTerminal(ctx context.Context, clientOrderID string, interval, timeout time.Duration) (schema.Order, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	deadline := m.now().Add(timeout)

	for {
		order, err := m.PollStatus(ctx, clientOrderID)
		if err != nil {
			return order, err
		}
		if order.State.Terminal() {
			return order, nil
		}
		if timeout > 0 && !m.now().Before(deadline) {
			return order, nil
		}

		select {
		case <-ctx.Done():
			return order, nil
		case <-time.After(jitter(interval)):
		}
	}
}

// jitter spreads an interval by ±20% so concurrent pollers do not align.
func jitter(interval time.Duration) time.Duration {
	spread := int64(interval) / 5
	if spread <= 0 {
		return interval
	}
	return interval - time.Duration(spread/2) + time.Duration(rand.Int63n(spread))
}
