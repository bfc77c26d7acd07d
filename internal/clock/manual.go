package clock

import (
	"sync"
	"time"
)

// Manual only moves when told to. Every Set and Advance counts as a
// discontinuity, so a scheduler waiting on a Manual clock wakes up on
// each change. Its rate is zero.
type Manual struct {
	mu  sync.Mutex
	now time.Time
	obs observers
}

// NewManual creates a clock reading start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current time.
func (c *Manual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Rate returns 0.
func (c *Manual) Rate() float64 { return 0 }

// Set moves the clock to t.
func (c *Manual) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
	c.obs.notify()
}

// Advance moves the clock forward by d and returns the new time.
func (c *Manual) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	c.obs.notify()
	return now
}

// OnDiscontinuity registers fn for every change.
func (c *Manual) OnDiscontinuity(fn func()) func() {
	return c.obs.add(fn)
}
