package timer

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Listener is called on every fire of a timer it is attached to.
type Listener interface {
	TimerElapsed(t *Timer)
}

// FuncListener adapts a function to Listener with pointer identity.
type FuncListener struct {
	fn func(t *Timer)
}

// ListenerFunc wraps fn. Each call returns a distinct identity.
func ListenerFunc(fn func(t *Timer)) *FuncListener {
	return &FuncListener{fn: fn}
}

// TimerElapsed calls the wrapped function.
func (l *FuncListener) TimerElapsed(t *Timer) {
	l.fn(t)
}

type state int

const (
	stateRunning state = iota
	statePaused
	stateShutdown
)

func (st state) String() string {
	switch st {
	case stateRunning:
		return "running"
	case statePaused:
		return "paused"
	case stateShutdown:
		return "shutdown"
	}
	return fmt.Sprintf("state(%d)", int(st))
}

// Timer is a periodic schedule with an ordered list of listeners.
//
// Schedule, state, listeners and the busy flag are guarded by the
// scheduler's lock; mu serializes listener invocations.
type Timer struct {
	id    string
	s     *Scheduler
	order int64
	index int

	period    time.Duration
	next      time.Time
	state     state
	listeners []Listener
	busy      bool
	fires     int64
	skipped   int64

	mu sync.Mutex
}

// ID returns the timer identifier.
func (t *Timer) ID() string { return t.id }

// Stop pauses the timer. It stays scheduled but does not fire until
// Resume.
func (t *Timer) Stop() {
	s := t.s
	s.mu.Lock()
	if t.state != stateRunning {
		s.mu.Unlock()
		return
	}
	t.state = statePaused
	s.reschedule(t)
	s.mu.Unlock()
	s.signal()
}

// Resume restarts a stopped timer. The next fire is one period from now.
func (t *Timer) Resume() {
	s := t.s
	now := s.clock.Now()
	s.mu.Lock()
	if t.state != statePaused {
		s.mu.Unlock()
		return
	}
	t.state = stateRunning
	t.next = now.Add(t.period)
	s.reschedule(t)
	s.mu.Unlock()
	s.signal()
}

// IsRunning reports whether the timer fires.
func (t *Timer) IsRunning() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.state == stateRunning
}

// SetTimingInterval changes the period. The next fire is one new period
// from now.
func (t *Timer) SetTimingInterval(period time.Duration) error {
	if period <= 0 {
		return ErrInvalidPeriod
	}
	s := t.s
	now := s.clock.Now()
	s.mu.Lock()
	if t.state == stateShutdown {
		s.mu.Unlock()
		return ErrClosed
	}
	t.period = period
	t.next = now.Add(period)
	s.reschedule(t)
	s.mu.Unlock()
	s.signal()
	return nil
}

// TimingInterval returns the period.
func (t *Timer) TimingInterval() time.Duration {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.period
}

// NextRunTime returns when the timer is next due.
func (t *Timer) NextRunTime() time.Time {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.next
}

// Destroy shuts the timer down for good. An invocation already running
// completes. Idempotent.
func (t *Timer) Destroy() {
	s := t.s
	s.mu.Lock()
	if t.state == stateShutdown {
		s.mu.Unlock()
		return
	}
	t.state = stateShutdown
	t.listeners = nil
	if t.index >= 0 {
		heap.Remove(&s.heap, t.index)
	}
	delete(s.timers, t.id)
	s.mu.Unlock()
	s.signal()
	slog.Debug("timer destroyed", "timer", t.id)
}

// Listeners returns the attached listeners in call order.
func (t *Timer) Listeners() []Listener {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return append([]Listener(nil), t.listeners...)
}

// AddListener appends l. Adding a listener that is already attached, or
// adding to a destroyed timer, has no effect.
func (t *Timer) AddListener(l Listener) {
	if l == nil {
		return
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.state == stateShutdown {
		return
	}
	for _, have := range t.listeners {
		if same(have, l) {
			return
		}
	}
	t.listeners = append(t.listeners, l)
}

// RemoveListener detaches l and reports whether it was attached.
func (t *Timer) RemoveListener(l Listener) bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i, have := range t.listeners {
		if same(have, l) {
			t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Stats returns how many fires were submitted and how many were skipped
// because the previous invocation was still running.
func (t *Timer) Stats() (fires, skipped int64) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.fires, t.skipped
}

func (t *Timer) String() string {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return fmt.Sprintf("timer %s (%s, every %s)", t.id, t.state, t.period)
}

// fire runs listeners in order. Runs on the executor.
func (t *Timer) fire(listeners []Listener, due time.Time) {
	defer t.idle()
	t.mu.Lock()
	defer t.mu.Unlock()

	_, span := t.s.tracer.Start(context.Background(), "timer.fire",
		trace.WithAttributes(
			attribute.String("timer", t.id),
			attribute.Int("listeners", len(listeners)),
			attribute.String("due", due.Format(time.RFC3339Nano)),
		),
	)
	defer span.End()

	for _, l := range listeners {
		t.invoke(l, span)
	}
}

func (t *Timer) invoke(l Listener, span trace.Span) {
	defer func() {
		if r := recover(); r != nil {
			span.SetStatus(codes.Error, "listener panicked")
			slog.Error("timer listener panicked",
				"timer", t.id,
				"listener", fmt.Sprintf("%T", l),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	l.TimerElapsed(t)
}

// same compares listener identities. Listeners of a non-comparable type
// never match; wrap them with ListenerFunc to get an identity.
func same(a, b Listener) bool {
	if a == nil || b == nil {
		return a == b
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

func (t *Timer) idle() {
	t.s.mu.Lock()
	t.busy = false
	t.s.mu.Unlock()
}
