// Package reconcile keeps local session state aligned with the broker's
// authoritative view of orders and positions.
package reconcile

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/quantfall/riskgate/internal/broker"
	"github.com/quantfall/riskgate/internal/observability"
	"github.com/quantfall/riskgate/internal/schema"
	"github.com/quantfall/riskgate/internal/session"
)

const (
	defaultBaseInterval = 5 * time.Second
	fetchAttempts       = 3
)

// Worker is the background reconciliation loop. One goroutine runs cycles at
// a jittered interval; the stop signal is honored only at loop top so a
// cycle always completes before shutdown.
type Worker struct {
	broker   broker.Broker
	registry *session.Registry
	interval time.Duration
	rng      *rand.Rand
	now      func() time.Time

	stop chan struct{}
	wg   conc.WaitGroup
}

// NewWorker builds a reconciliation worker over the broker and registry.
func NewWorker(b broker.Broker, reg *session.Registry) *Worker {
	return &Worker{
		broker:   b,
		registry: reg,
		interval: defaultBaseInterval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// SetInterval overrides the base cycle interval. Call before Start.
func (w *Worker) SetInterval(d time.Duration) {
	if d > 0 {
		w.interval = d
	}
}

// Start launches the background loop.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Go(func() { w.run(ctx) })
}

// Stop signals the loop to exit after its current cycle and waits for it.
func (w *Worker) Stop() {
	close(w.stop)
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := w.cycle(ctx); err != nil {
			// Cycle failures are retried on the next tick, never fatal.
			observability.Log().Error("reconcile cycle failed",
				observability.F("error", err.Error()))
		}
		observability.Count(observability.MetricReconcileCycles, nil)

		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(w.sleep()):
		}
	}
}

// sleep jitters the base interval up to twice its length, 5-10s by default.
func (w *Worker) sleep() time.Duration {
	return w.interval + time.Duration(w.rng.Int63n(int64(w.interval)))
}

// cycle fetches broker truth and repairs local state in two passes under the
// registry lock: first local trades the broker no longer backs, then broker
// positions no local session claims.
func (w *Worker) cycle(ctx context.Context) error {
	openOrders, positions, err := w.fetch(ctx)
	if err != nil {
		return err
	}

	w.registry.Transact(func(tx *session.Tx) {
		w.repairStaleTrades(tx, openOrders, positions)
		w.adoptOrphanPositions(tx, positions)
	})
	return nil
}

// fetch pulls open orders and positions concurrently, each with its own
// exponential backoff retry.
func (w *Worker) fetch(ctx context.Context) ([]schema.BrokerOrder, []schema.Position, error) {
	var (
		openOrders []schema.BrokerOrder
		positions  []schema.Position
		ordersErr  error
		posErr     error
	)
	var wg conc.WaitGroup
	wg.Go(func() {
		ordersErr = retry(ctx, func() error {
			var err error
			openOrders, err = w.broker.GetOpenOrders(ctx)
			return err
		})
	})
	wg.Go(func() {
		posErr = retry(ctx, func() error {
			var err error
			positions, err = w.broker.GetPositions(ctx)
			return err
		})
	})
	wg.Wait()

	if ordersErr != nil {
		return nil, nil, ordersErr
	}
	if posErr != nil {
		return nil, nil, posErr
	}
	return openOrders, positions, nil
}

func retry(ctx context.Context, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = time.Second

	var err error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		sleep := bo.NextBackOff()
		if sleep == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return err
}

// repairStaleTrades walks sessions holding open trades and checks each
// against broker truth. Broker state wins: a trade the broker does not back
// is cleared; quantity and entry price drift is patched from the broker
// side, never the reverse.
func (w *Worker) repairStaleTrades(tx *session.Tx, openOrders []schema.BrokerOrder, positions []schema.Position) {
	for _, s := range tx.List() {
		if s.Mode != schema.ModeLive || !s.HasOpenTrade() {
			continue
		}
		t := s.CurrentTrade

		pos, backed := findPosition(positions, t.Symbol, t.Exchange)
		if !backed {
			if hasWorkingOrder(openOrders, t) {
				// A stop or exit order is still in flight; the position
				// may be mid-transition. Leave it for the next cycle.
				continue
			}
			observability.Log().Warn("clearing stale trade",
				observability.F("session_id", s.ID),
				observability.F("trade_id", t.ID),
				observability.F("symbol", t.Symbol))
			s.CurrentTrade = nil
			s.UpdatedAt = w.now()
			tx.Put(s)
			observability.Count(observability.MetricReconcileRepairs, map[string]string{"kind": "stale_trade"})
			continue
		}

		brokerQty := abs64(pos.Quantity)
		if t.Quantity == brokerQty && t.EntryPrice.Equal(pos.AvgPrice) {
			continue
		}
		observability.Log().Warn("patching trade from broker position",
			observability.F("session_id", s.ID),
			observability.F("trade_id", t.ID),
			observability.F("local_qty", t.Quantity),
			observability.F("broker_qty", brokerQty))
		t.Quantity = brokerQty
		t.EntryPrice = pos.AvgPrice
		s.UpdatedAt = w.now()
		tx.Put(s)
		observability.Count(observability.MetricReconcileRepairs, map[string]string{"kind": "patched_trade"})
	}
}

// adoptOrphanPositions attaches broker positions no session claims to an
// idle session of the same instrument, or synthesizes a recovery session.
func (w *Worker) adoptOrphanPositions(tx *session.Tx, positions []schema.Position) {
	for _, pos := range positions {
		if pos.Quantity == 0 || claimed(tx, pos) {
			continue
		}

		trade := tradeFromPosition(pos, w.now())
		if idle, ok := findIdleSession(tx, pos); ok {
			trade.SessionID = idle.ID
			trade.Strategy = idle.Strategy
			idle.CurrentTrade = trade
			idle.UpdatedAt = w.now()
			tx.Put(idle)
			observability.Log().Warn("adopted orphan position",
				observability.F("session_id", idle.ID),
				observability.F("symbol", pos.Symbol),
				observability.F("quantity", pos.Quantity))
			observability.Count(observability.MetricReconcileRepairs, map[string]string{"kind": "adopted_position"})
			continue
		}

		notional := pos.AvgPrice.Mul(decimal.NewFromInt(abs64(pos.Quantity)))
		recovered := session.New("recovered-"+uuid.NewString()[:8],
			pos.Symbol, pos.Exchange, schema.ModeLive, notional, w.now())
		recovered.Recovered = true
		trade.SessionID = recovered.ID
		recovered.CurrentTrade = trade
		tx.Put(recovered)
		observability.Log().Warn("synthesized recovery session",
			observability.F("session_id", recovered.ID),
			observability.F("symbol", pos.Symbol),
			observability.F("quantity", pos.Quantity))
		observability.Count(observability.MetricReconcileRepairs, map[string]string{"kind": "recovered_session"})
	}
}

func tradeFromPosition(pos schema.Position, now time.Time) *schema.Trade {
	side := schema.TradeSideBuy
	if pos.Quantity < 0 {
		side = schema.TradeSideSell
	}
	return &schema.Trade{
		ID:         uuid.NewString(),
		Symbol:     pos.Symbol,
		Exchange:   pos.Exchange,
		Side:       side,
		Quantity:   abs64(pos.Quantity),
		LotSize:    1,
		EntryPrice: pos.AvgPrice,
		EntryTime:  now,
		Origin:     schema.TradeOriginReconciled,
	}
}

func findPosition(positions []schema.Position, symbol, exchange string) (schema.Position, bool) {
	for _, pos := range positions {
		if pos.Symbol == symbol && pos.Exchange == exchange && pos.Quantity != 0 {
			return pos, true
		}
	}
	return schema.Position{}, false
}

// hasWorkingOrder reports whether any of the trade's known broker order ids
// is still open at the broker.
func hasWorkingOrder(openOrders []schema.BrokerOrder, t *schema.Trade) bool {
	for _, o := range openOrders {
		if o.OrderID == "" {
			continue
		}
		if o.OrderID == t.StopOrderID || o.OrderID == t.ExitOrderID || o.OrderID == t.EntryOrderID {
			return true
		}
		if o.Symbol == t.Symbol && o.Exchange == t.Exchange {
			return true
		}
	}
	return false
}

func claimed(tx *session.Tx, pos schema.Position) bool {
	for _, s := range tx.List() {
		if s.Mode == schema.ModeLive && s.HasOpenTrade() &&
			s.CurrentTrade.Symbol == pos.Symbol && s.CurrentTrade.Exchange == pos.Exchange {
			return true
		}
	}
	return false
}

func findIdleSession(tx *session.Tx, pos schema.Position) (session.Session, bool) {
	for _, s := range tx.List() {
		if s.Mode == schema.ModeLive && s.Status == session.StatusActive &&
			!s.HasOpenTrade() && s.Symbol == pos.Symbol && s.Exchange == pos.Exchange {
			return s, true
		}
	}
	return session.Session{}, false
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
