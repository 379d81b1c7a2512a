// Package fake provides a scripted in-memory broker for tests and development.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/quantfall/riskgate/internal/schema"
)

// Broker is a scripted Broker implementation. Responses are queued per call
// type; when a queue is empty a permissive default is returned so simple
// tests need no scripting at all.
type Broker struct {
	mu sync.Mutex

	nextID int

	PlaceResults  []schema.PlaceResult
	PlaceErrs     []error
	Statuses      []schema.StatusSnapshot
	StatusErrs    []error
	CancelResults []schema.CancelResult
	CancelErrs    []error

	OpenOrders []schema.BrokerOrder
	Positions  []schema.Position
	OrdersErr  error
	PosErr     error

	Placed    []schema.OrderRequest
	Cancelled []string
	Polled    []string
}

// New returns an empty scripted broker.
func New() *Broker {
	return &Broker{}
}

// PlaceOrder records the request and pops the next scripted place result.
func (b *Broker) PlaceOrder(_ context.Context, req schema.OrderRequest) (schema.PlaceResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Placed = append(b.Placed, req)

	if len(b.PlaceErrs) > 0 {
		err := b.PlaceErrs[0]
		b.PlaceErrs = b.PlaceErrs[1:]
		if err != nil {
			return schema.PlaceResult{}, err
		}
	}
	if len(b.PlaceResults) > 0 {
		res := b.PlaceResults[0]
		b.PlaceResults = b.PlaceResults[1:]
		return res, nil
	}
	b.nextID++
	return schema.PlaceResult{Success: true, OrderID: fmt.Sprintf("BRK-%06d", b.nextID)}, nil
}

// GetOrderStatus pops the next scripted status snapshot.
func (b *Broker) GetOrderStatus(_ context.Context, brokerOrderID string) (schema.StatusSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Polled = append(b.Polled, brokerOrderID)

	if len(b.StatusErrs) > 0 {
		err := b.StatusErrs[0]
		b.StatusErrs = b.StatusErrs[1:]
		if err != nil {
			return schema.StatusSnapshot{}, err
		}
	}
	if len(b.Statuses) > 0 {
		snap := b.Statuses[0]
		b.Statuses = b.Statuses[1:]
		return snap, nil
	}
	return schema.StatusSnapshot{Status: "OPEN"}, nil
}

// CancelOrder records the cancellation and pops the next scripted result.
func (b *Broker) CancelOrder(_ context.Context, brokerOrderID string) (schema.CancelResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Cancelled = append(b.Cancelled, brokerOrderID)

	if len(b.CancelErrs) > 0 {
		err := b.CancelErrs[0]
		b.CancelErrs = b.CancelErrs[1:]
		if err != nil {
			return schema.CancelResult{}, err
		}
	}
	if len(b.CancelResults) > 0 {
		res := b.CancelResults[0]
		b.CancelResults = b.CancelResults[1:]
		return res, nil
	}
	return schema.CancelResult{Success: true, Cancelled: true}, nil
}

// GetOpenOrders returns the scripted open order list.
func (b *Broker) GetOpenOrders(context.Context) ([]schema.BrokerOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.OrdersErr != nil {
		return nil, b.OrdersErr
	}
	out := make([]schema.BrokerOrder, len(b.OpenOrders))
	copy(out, b.OpenOrders)
	return out, nil
}

// GetPositions returns the scripted position list.
func (b *Broker) GetPositions(context.Context) ([]schema.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.PosErr != nil {
		return nil, b.PosErr
	}
	out := make([]schema.Position, len(b.Positions))
	copy(out, b.Positions)
	return out, nil
}

// SetPositions replaces the scripted position list.
func (b *Broker) SetPositions(positions []schema.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Positions = positions
}

// SetOpenOrders replaces the scripted open order list.
func (b *Broker) SetOpenOrders(orders []schema.BrokerOrder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.OpenOrders = orders
}
