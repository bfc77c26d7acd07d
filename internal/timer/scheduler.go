package timer

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/roach88/resgraph/internal/clock"
	"github.com/roach88/resgraph/internal/executor"
	"github.com/roach88/resgraph/internal/ident"
)

var (
	// ErrInvalidPeriod is returned for a period that is not positive.
	ErrInvalidPeriod = errors.New("timer period must be positive")

	// ErrClosed is returned by CreateTimer after Close.
	ErrClosed = errors.New("scheduler closed")
)

// Scheduler dispatches timers.
//
// Thread-safety model:
//   - mu guards the heap and every timer's schedule, state, listener
//     list and busy flag. Any change to them signals the loop.
//   - Listeners are submitted to the executor after mu is released.
//   - A timer's invocations are serialized by its own lock, and a busy
//     timer is never submitted twice.
type Scheduler struct {
	clock  clock.Clock
	exec   executor.Executor
	tracer trace.Tracer
	ids    ident.Generator

	mu      sync.Mutex
	heap    timerHeap
	timers  map[string]*Timer
	created int64
	closed  bool

	wake        chan struct{}
	done        chan struct{}
	cancelClock func()
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTracer records one span per timer fire.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithIDs sets the timer identifier generator. Default: UUIDv7.
func WithIDs(gen ident.Generator) Option {
	return func(s *Scheduler) {
		if gen != nil {
			s.ids = gen
		}
	}
}

// NewScheduler creates a scheduler reading time from c and running
// listeners on exec. Call Run to start dispatching.
func NewScheduler(c clock.Clock, exec executor.Executor, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:  c,
		exec:   exec,
		tracer: noop.NewTracerProvider().Tracer(""),
		ids:    ident.UUIDv7{},
		timers: make(map[string]*Timer),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cancelClock = c.OnDiscontinuity(s.signal)
	return s
}

// signal wakes the loop without blocking.
func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Now returns the scheduler clock's current time.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// CreateTimer starts a running timer whose first fire is one period from
// now. l may be nil; listeners can be added later.
func (s *Scheduler) CreateTimer(period time.Duration, l Listener) (*Timer, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	now := s.clock.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.created++
	t := &Timer{
		id:     s.ids.Generate(),
		s:      s,
		period: period,
		next:   now.Add(period),
		state:  stateRunning,
		order:  s.created,
		index:  -1,
	}
	if l != nil {
		t.listeners = []Listener{l}
	}
	heap.Push(&s.heap, t)
	s.timers[t.id] = t
	s.mu.Unlock()

	s.signal()
	slog.Debug("timer created", "timer", t.id, "period", period)
	return t, nil
}

// Timers returns every timer not yet destroyed, in creation order.
func (s *Scheduler) Timers() []*Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Timer, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, t)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].order < out[j-1].order; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Run dispatches timers until ctx is done or the scheduler is closed.
// Only one Run may be active.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Debug("timer scheduler started")
	defer slog.Debug("timer scheduler stopped")

	wait := time.NewTimer(time.Hour)
	wait.Stop()
	defer wait.Stop()

	for {
		if _, popped := s.step(); popped {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.done:
				return nil
			default:
			}
			continue
		}

		d, ok := s.delay()
		var expired <-chan time.Time
		if ok {
			wait.Reset(d)
			expired = wait.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-s.wake:
		case <-expired:
		}
		wait.Stop()
	}
}

// delay is the real time until the earliest timer is due. ok is false
// when there is nothing to wait for but a wake: an empty heap, or a
// clock that does not run on its own.
func (s *Scheduler) delay() (time.Duration, bool) {
	now := s.clock.Now()
	rate := s.clock.Rate()

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.heap) == 0 || rate <= 0 {
		return 0, false
	}
	d := s.heap[0].next.Sub(now)
	if d <= 0 {
		return 0, true
	}
	return time.Duration(float64(d) / rate), true
}

// Poll processes every timer due at the clock's current time and returns
// how many fires were submitted. It runs on the caller's goroutine and
// is meant for manual clocks with an inline executor, where it makes
// dispatching deterministic.
func (s *Scheduler) Poll() int {
	fired := 0
	for {
		f, popped := s.step()
		if !popped {
			return fired
		}
		if f {
			fired++
		}
	}
}

// step pops at most one due timer and handles it according to its
// state. popped reports whether a timer was due.
func (s *Scheduler) step() (fired, popped bool) {
	now := s.clock.Now()

	s.mu.Lock()
	if s.closed || len(s.heap) == 0 || s.heap[0].next.After(now) {
		s.mu.Unlock()
		return false, false
	}
	t := heap.Pop(&s.heap).(*Timer)

	var (
		listeners []Listener
		due       time.Time
		submit    bool
	)
	switch t.state {
	case stateShutdown:
		s.mu.Unlock()
		return false, true
	case statePaused:
		t.next = t.next.Add(t.period)
		heap.Push(&s.heap, t)
	case stateRunning:
		due = t.next
		t.next = t.next.Add(t.period)
		heap.Push(&s.heap, t)
		switch {
		case t.busy:
			t.skipped++
			slog.Debug("timer fire skipped, previous invocation still running", "timer", t.id, "due", due)
		case len(t.listeners) > 0:
			t.busy = true
			t.fires++
			listeners = append([]Listener(nil), t.listeners...)
			submit = true
		}
	}
	s.mu.Unlock()

	if !submit {
		return false, true
	}
	if !s.exec.Submit(func() { t.fire(listeners, due) }) {
		slog.Warn("timer fire rejected by executor", "timer", t.id)
		t.idle()
		return false, true
	}
	return true, true
}

// Close stops the loop and shuts every timer down. Pending invocations
// still complete. Idempotent.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, t := range s.timers {
		t.state = stateShutdown
		t.listeners = nil
	}
	s.heap = nil
	s.timers = make(map[string]*Timer)
	s.mu.Unlock()

	s.cancelClock()
	close(s.done)
	slog.Debug("timer scheduler closed")
}

// reschedule restores the heap order after t's next run changed, or
// reinserts t if it had been popped. Caller holds mu.
func (s *Scheduler) reschedule(t *Timer) {
	if t.index >= 0 {
		heap.Fix(&s.heap, t.index)
	} else if !s.closed {
		heap.Push(&s.heap, t)
	}
}
