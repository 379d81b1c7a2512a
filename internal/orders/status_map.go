package orders

import (
	"strings"

	"github.com/quantfall/riskgate/internal/schema"
)

// brokerStatusMap is the fixed lookup table from broker status vocabulary to
// internal order states. Broker strings absent from this table are ignored
// and logged rather than crashed on; new broker vocabulary must be added here
// deliberately.
var brokerStatusMap = map[string]schema.OrderState{
	"OPEN":             schema.OrderStateAcknowledged,
	"PENDING":          schema.OrderStateAcknowledged,
	"TRIGGER PENDING":  schema.OrderStateAcknowledged,
	"VALIDATED":        schema.OrderStateAcknowledged,
	"PARTIAL":          schema.OrderStatePartialFilled,
	"PARTIALLY FILLED": schema.OrderStatePartialFilled,
	"COMPLETE":         schema.OrderStateFilled,
	"FILLED":           schema.OrderStateFilled,
	"CANCELLED":        schema.OrderStateCancelled,
	"CANCELED":         schema.OrderStateCancelled,
	"REJECTED":         schema.OrderStateRejected,
}

// mapBrokerStatus resolves a broker status string to an internal state. The
// second return reports whether the status is known.
func mapBrokerStatus(status string) (schema.OrderState, bool) {
	state, ok := brokerStatusMap[strings.ToUpper(strings.TrimSpace(status))]
	return state, ok
}
