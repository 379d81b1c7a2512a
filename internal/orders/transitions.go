package orders

import (
	"time"

	"github.com/quantfall/riskgate/errs"
	"github.com/quantfall/riskgate/internal/schema"
)

// allowedTransitions is the explicit, total transition table for managed
// orders. Any transition not present here is invalid and fatal to the order.
var allowedTransitions = map[schema.OrderState][]schema.OrderState{
	schema.OrderStateNew: {
		schema.OrderStateSent,
		schema.OrderStateRejected,
		schema.OrderStateCancelled,
	},
	schema.OrderStateSent: {
		schema.OrderStateAcknowledged,
		schema.OrderStateRejected,
		schema.OrderStateCancelled,
	},
	schema.OrderStateAcknowledged: {
		schema.OrderStatePartialFilled,
		schema.OrderStateFilled,
		schema.OrderStateRejected,
		schema.OrderStateCancelled,
	},
	schema.OrderStatePartialFilled: {
		schema.OrderStatePartialFilled,
		schema.OrderStateFilled,
		schema.OrderStateRejected,
		schema.OrderStateCancelled,
	},
	// Terminal states have no outgoing transitions.
	schema.OrderStateFilled:    {},
	schema.OrderStateRejected:  {},
	schema.OrderStateCancelled: {},
}

func transitionAllowed(from, to schema.OrderState) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// transition mutates the order in place after validating the step against the
// transition table, appending a history entry. Caller holds the machine lock.
func transition(o *schema.Order, to schema.OrderState, reason string, at time.Time) error {
	if !transitionAllowed(o.State, to) {
		return errs.New("orders", errs.CodeInvalidTransition,
			errs.WithOrderID(o.ClientOrderID),
			errs.WithMessage(string(o.State)+" -> "+string(to)+" not allowed"),
		)
	}
	o.History = append(o.History, schema.Transition{
		From:   o.State,
		To:     to,
		At:     at,
		Reason: reason,
	})
	o.State = to
	o.UpdatedAt = at
	if to == schema.OrderStateRejected && reason != "" {
		o.RejectReason = reason
	}
	return nil
}
