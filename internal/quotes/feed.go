// Package quotes provides market quote access for the execution layer.
package quotes

import (
	"context"
	"fmt"
	"sync"

	"github.com/quantfall/riskgate/errs"
	"github.com/quantfall/riskgate/internal/schema"
)

// Feed serves the latest quote for an instrument.
type Feed interface {
	Quote(ctx context.Context, symbol, exchange string) (schema.Quote, error)
}

// StaticFeed is an in-memory feed for tests and backtests. Concurrency-safe.
type StaticFeed struct {
	mu     sync.RWMutex
	quotes map[string]schema.Quote
}

// NewStaticFeed returns an empty feed.
func NewStaticFeed() *StaticFeed {
	return &StaticFeed{quotes: make(map[string]schema.Quote)}
}

// Set installs or replaces the quote for the instrument.
func (f *StaticFeed) Set(q schema.Quote) {
	f.mu.Lock()
	f.quotes[feedKey(q.Symbol, q.Exchange)] = q
	f.mu.Unlock()
}

// Quote returns the stored quote or a feed error when none is loaded.
func (f *StaticFeed) Quote(_ context.Context, symbol, exchange string) (schema.Quote, error) {
	f.mu.RLock()
	q, ok := f.quotes[feedKey(symbol, exchange)]
	f.mu.RUnlock()
	if !ok {
		return schema.Quote{}, errs.New("quotes", errs.CodeFeed,
			errs.WithMessage(fmt.Sprintf("no quote for %s:%s", exchange, symbol)))
	}
	return q, nil
}

func feedKey(symbol, exchange string) string {
	return exchange + ":" + symbol
}
