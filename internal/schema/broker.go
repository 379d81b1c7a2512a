package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlaceResult is the broker's answer to a place-order call.
type PlaceResult struct {
	Success bool
	OrderID string
	Error   string
}

// CancelResult is the broker's answer to a cancel-order call.
type CancelResult struct {
	Success   bool
	Cancelled bool
	Error     string
}

// Fill is one execution event reported by the broker.
type Fill struct {
	Quantity int64
	Price    decimal.Decimal
	At       time.Time
}

// StatusSnapshot is the broker's view of one order at a point in time. Status
// carries the broker's own vocabulary; the order machine maps it to an
// OrderState through a fixed lookup table.
type StatusSnapshot struct {
	Status       string
	FilledQty    int64
	AvgFillPrice decimal.Decimal
	RejectReason string
	Fills        []Fill
}

// BrokerOrder is an open order as reported by the broker.
type BrokerOrder struct {
	OrderID      string
	Symbol       string
	Exchange     string
	Side         TradeSide
	Type         OrderType
	Quantity     int64
	FilledQty    int64
	Price        decimal.Decimal
	TriggerPrice decimal.Decimal
	Status       string
}

// Position is a net position as reported by the broker.
type Position struct {
	Symbol   string
	Exchange string
	Quantity int64
	AvgPrice decimal.Decimal
	Product  string
}
