package backtest

import (
	"sync"
	"time"
)

// VirtualClock is the replay time source. The harness advances it to each
// candle's timestamp; everything downstream reads time through it, so a run
// is fully deterministic.
type VirtualClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewVirtualClock initialises a clock starting at the provided timestamp.
func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{current: start}
}

// Now returns the current simulated time.
func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AdvanceTo moves the clock to the supplied timestamp if it is in the future.
func (c *VirtualClock) AdvanceTo(ts time.Time) {
	c.mu.Lock()
	if ts.After(c.current) {
		c.current = ts
	}
	c.mu.Unlock()
}
