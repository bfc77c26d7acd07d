// Package clock provides the framework clock timers are scheduled
// against.
//
// Framework time need not be wall time: a simulated clock may start at an
// arbitrary instant, run faster or slower than real time, and jump. Every
// change that breaks the continuity of a clock (a jump, a rate change, a
// manual set) is announced to OnDiscontinuity subscribers so waiting
// schedulers can recompute their deadlines.
package clock

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrInvalidRate is returned for a negative clock rate.
var ErrInvalidRate = errors.New("clock rate must not be negative")

// Clock is a source of framework time.
type Clock interface {
	// Now returns the current framework time.
	Now() time.Time

	// Rate is how many framework seconds pass per real second. Zero means
	// framework time only moves through explicit changes.
	Rate() float64

	// OnDiscontinuity registers fn to run after every jump or rate
	// change. The returned function cancels the registration.
	OnDiscontinuity(fn func()) (cancel func())
}

// System is wall-clock time. It never jumps.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time { return time.Now() }

// Rate returns 1.
func (System) Rate() float64 { return 1 }

// OnDiscontinuity never calls fn.
func (System) OnDiscontinuity(func()) func() { return func() {} }

// observers is a registry of discontinuity callbacks.
type observers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func()
}

func (o *observers) add(fn func()) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fns == nil {
		o.fns = make(map[int]func())
	}
	o.next++
	id := o.next
	o.fns[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.fns, id)
	}
}

// notify calls every callback in registration order, without holding
// any lock.
func (o *observers) notify() {
	o.mu.Lock()
	ids := make([]int, 0, len(o.fns))
	for id := range o.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, o.fns[id])
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
