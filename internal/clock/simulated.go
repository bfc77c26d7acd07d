package clock

import (
	"log/slog"
	"sync"
	"time"
)

// Simulated is framework time derived from real time:
//
//	now = base + (real - realBase) * rate
//
// Jump and SetRate rebase the clock and notify observers.
//
// Thread-safety: safe for concurrent use.
type Simulated struct {
	source func() time.Time

	mu       sync.Mutex
	base     time.Time
	realBase time.Time
	rate     float64

	obs observers
}

// SimOption configures a Simulated clock.
type SimOption func(*Simulated)

// WithSource sets the real time source. Default: time.Now.
func WithSource(now func() time.Time) SimOption {
	return func(c *Simulated) {
		if now != nil {
			c.source = now
		}
	}
}

// NewSimulated starts a clock at start running at rate.
func NewSimulated(start time.Time, rate float64, opts ...SimOption) (*Simulated, error) {
	if rate < 0 {
		return nil, ErrInvalidRate
	}
	c := &Simulated{source: time.Now, rate: rate}
	for _, opt := range opts {
		opt(c)
	}
	c.base = start
	c.realBase = c.source()
	return c, nil
}

// Now returns the current framework time.
func (c *Simulated) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowLocked()
}

func (c *Simulated) nowLocked() time.Time {
	elapsed := c.source().Sub(c.realBase)
	return c.base.Add(time.Duration(float64(elapsed) * c.rate))
}

// Rate returns the current rate.
func (c *Simulated) Rate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// SetRate changes the rate from now on.
func (c *Simulated) SetRate(rate float64) error {
	if rate < 0 {
		return ErrInvalidRate
	}
	c.mu.Lock()
	c.base = c.nowLocked()
	c.realBase = c.source()
	c.rate = rate
	c.mu.Unlock()

	slog.Info("clock rate changed", "rate", rate)
	c.obs.notify()
	return nil
}

// Jump sets framework time to t. Time keeps running at the current rate
// from there.
func (c *Simulated) Jump(t time.Time) {
	c.mu.Lock()
	from := c.nowLocked()
	c.base = t
	c.realBase = c.source()
	c.mu.Unlock()

	slog.Info("clock jumped", "from", from, "to", t)
	c.obs.notify()
}

// OnDiscontinuity registers fn for jumps and rate changes.
func (c *Simulated) OnDiscontinuity(fn func()) func() {
	return c.obs.add(fn)
}
