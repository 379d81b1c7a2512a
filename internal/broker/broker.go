// Package broker abstracts the external broker behind a capability interface.
// No concrete wire protocol lives in the engine; adapters implement this
// interface per venue.
package broker

import (
	"context"

	"github.com/quantfall/riskgate/internal/schema"
)

// Broker is the consumed broker capability. Implementations are expected to
// return errors only for transport-level failures; business rejections are
// carried inside the result structs.
type Broker interface {
	PlaceOrder(ctx context.Context, req schema.OrderRequest) (schema.PlaceResult, error)
	GetOrderStatus(ctx context.Context, brokerOrderID string) (schema.StatusSnapshot, error)
	CancelOrder(ctx context.Context, brokerOrderID string) (schema.CancelResult, error)
	GetOpenOrders(ctx context.Context) ([]schema.BrokerOrder, error)
	GetPositions(ctx context.Context) ([]schema.Position, error)
}
