package execution

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/quantfall/riskgate/errs"
	"github.com/quantfall/riskgate/internal/observability"
	"github.com/quantfall/riskgate/internal/risk"
	"github.com/quantfall/riskgate/internal/schema"
	"github.com/quantfall/riskgate/internal/session"
)

// TradeWriter appends one record per closed trade to durable history.
type TradeWriter interface {
	Append(ctx context.Context, t schema.Trade) error
}

// Router gates every entry through the risk engine and frequency throttle,
// then dispatches to the executor matching the session's mode. Broker and
// feed I/O happens on a session snapshot; the mutated snapshot is committed
// back to the registry afterwards.
type Router struct {
	registry  *session.Registry
	engine    *risk.Engine
	throttle  *risk.Throttle
	executors map[schema.ExecutionMode]Executor
	history   TradeWriter
	now       func() time.Time

	mu      sync.Mutex
	entries map[string][]time.Time
}

// NewRouter builds a router over the given registry and risk components.
func NewRouter(reg *session.Registry, engine *risk.Engine, throttle *risk.Throttle) *Router {
	return &Router{
		registry:  reg,
		engine:    engine,
		throttle:  throttle,
		executors: make(map[schema.ExecutionMode]Executor),
		now:       time.Now,
		entries:   make(map[string][]time.Time),
	}
}

// RegisterExecutor installs the executor for one mode.
func (r *Router) RegisterExecutor(mode schema.ExecutionMode, exec Executor) {
	r.executors[mode] = exec
}

// SetHistory installs the trade history sink. Nil disables persistence.
func (r *Router) SetHistory(w TradeWriter) {
	r.history = w
}

// SetClock overrides the wall clock, used by backtests.
func (r *Router) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// ExecuteEntry evaluates risk and frequency gates for the session and, when
// both approve, opens a position through the mode's executor. A gate
// rejection is a successful call with Success false, never an error.
func (r *Router) ExecuteEntry(ctx context.Context, sessionID string, req EntryOrder) (Result, error) {
	snap, ok := r.registry.Get(sessionID)
	if !ok {
		return Result{}, errs.New("execution", errs.CodeNotFound,
			errs.WithSessionID(sessionID), errs.WithMessage("unknown session"))
	}

	now := r.now()
	decision := r.engine.EvaluateEntry(snap, now)
	// Gate side effects (cooldown deadlines, stops, day rolls) persist even
	// on rejection.
	r.registry.Put(decision.Session)
	if !decision.Approved {
		observability.Count(observability.MetricOrdersRejected, map[string]string{"gate": "risk"})
		return Result{Reason: joinReasons(decision.Reasons)}, nil
	}

	allowance := r.throttle.MaxTradesPerHour(decision.Session.Capital, decision.Session.DailyPnL)
	if r.entriesInLastHour(sessionID, now) >= allowance.TradesPerHour {
		observability.Count(observability.MetricOrdersRejected, map[string]string{"gate": "throttle"})
		return Result{Reason: fmt.Sprintf("THROTTLED: %d trades/hour in %s mode",
			allowance.TradesPerHour, allowance.Mode)}, nil
	}

	exec, err := r.executor(decision.Session.Mode)
	if err != nil {
		return Result{}, err
	}

	s := decision.Session
	res, err := exec.ExecuteEntry(ctx, &s, req)
	if err != nil {
		return Result{}, err
	}
	if _, err := r.registry.Update(sessionID, func(session.Session) (session.Session, error) {
		return s, nil
	}); err != nil {
		return Result{}, err
	}
	if res.Success {
		r.recordEntry(sessionID, now)
		observability.Count(observability.MetricOrdersSubmitted, map[string]string{"mode": string(s.Mode)})
	} else {
		observability.Count(observability.MetricOrdersRejected, map[string]string{"gate": "broker"})
	}
	return res, nil
}

// ExecuteExit closes the session's current trade, folds the realized P&L
// into the risk engine, and appends the trade to history. Exiting an
// already-closed trade returns the stored result without re-mutating state.
func (r *Router) ExecuteExit(ctx context.Context, sessionID string, req ExitOrder) (Result, error) {
	snap, ok := r.registry.Get(sessionID)
	if !ok {
		return Result{}, errs.New("execution", errs.CodeNotFound,
			errs.WithSessionID(sessionID), errs.WithMessage("unknown session"))
	}
	if snap.CurrentTrade == nil {
		return Result{}, errs.New("execution", errs.CodeNotFound,
			errs.WithSessionID(sessionID), errs.WithMessage("no trade to exit"))
	}
	if snap.CurrentTrade.Closed {
		return closedResult(snap.CurrentTrade), nil
	}

	exec, err := r.executor(snap.Mode)
	if err != nil {
		return Result{}, err
	}

	s := snap
	res, err := exec.ExecuteExit(ctx, &s, req)
	if err != nil {
		return Result{}, err
	}
	if res.Success && s.CurrentTrade != nil && s.CurrentTrade.Closed {
		trade := *s.CurrentTrade
		s.RecordClosedTrade(trade)
		decision := r.engine.RegisterTradeResult(s, trade.NetPnL, r.now())
		s = decision.Session
		observability.Count(observability.MetricTradesClosed, map[string]string{"band": string(decision.Band)})
		if r.history != nil {
			if hErr := r.history.Append(ctx, trade); hErr != nil {
				observability.Log().Error("trade history append failed",
					observability.F("session_id", sessionID),
					observability.F("trade_id", trade.ID),
					observability.F("error", hErr.Error()))
			}
		}
	}
	if _, err := r.registry.Update(sessionID, func(session.Session) (session.Session, error) {
		return s, nil
	}); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (r *Router) executor(mode schema.ExecutionMode) (Executor, error) {
	exec, ok := r.executors[mode]
	if !ok {
		return nil, errs.New("execution", errs.CodeInvalidConfig,
			errs.WithMessage(fmt.Sprintf("no executor registered for mode %s", mode)))
	}
	return exec, nil
}

func (r *Router) entriesInLastHour(sessionID string, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := now.Add(-time.Hour)
	recent := r.entries[sessionID][:0]
	for _, at := range r.entries[sessionID] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	r.entries[sessionID] = recent
	return len(recent)
}

func (r *Router) recordEntry(sessionID string, at time.Time) {
	r.mu.Lock()
	r.entries[sessionID] = append(r.entries[sessionID], at)
	r.mu.Unlock()
}

func joinReasons(reasons []risk.Reason) string {
	parts := make([]string, 0, len(reasons))
	for _, reason := range reasons {
		parts = append(parts, reason.String())
	}
	return strings.Join(parts, "; ")
}
