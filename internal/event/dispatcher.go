package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/roach88/resgraph/internal/executor"
)

// Handler receives compound events.
type Handler interface {
	// Deliver is called with the full ordered batch accumulated since the
	// previous delivery. Never called concurrently for one subscription.
	Deliver(batch []Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(batch []Event)

// Deliver calls f(batch).
func (f HandlerFunc) Deliver(batch []Event) { f(batch) }

// AfterDeliverer is implemented by handlers that need to run work after
// the read lock has been released (for example, user callbacks that may
// mutate the graph).
type AfterDeliverer interface {
	AfterDelivery()
}

// ReadLocker is the shared side of a reader/writer lock.
// *sync.RWMutex satisfies it.
type ReadLocker interface {
	RLock()
	RUnlock()
}

// Dispatcher creates subscriptions and runs their deliveries on an
// executor.
//
// With a synchronous executor and a read lock, a delivery submitted
// while another delivery holds the read lock is deferred until the
// holder releases it, then run by that holder. Running it nested would
// take the read lock recursively, which deadlocks once a writer queues
// between the two acquisitions.
type Dispatcher struct {
	exec   executor.Executor
	lock   ReadLocker
	tracer trace.Tracer
	name   string
	inline bool

	mu       sync.Mutex
	held     int
	deferred []*Subscription
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithReadLock makes every delivery hold l's shared lock while the
// handler runs.
func WithReadLock(l ReadLocker) Option {
	return func(d *Dispatcher) {
		d.lock = l
	}
}

// WithTracer records one span per delivery.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

// WithName labels the dispatcher in logs and spans.
func WithName(name string) Option {
	return func(d *Dispatcher) {
		d.name = name
	}
}

// NewDispatcher creates a dispatcher submitting deliveries to exec.
func NewDispatcher(exec executor.Executor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		exec:   exec,
		tracer: noop.NewTracerProvider().Tracer(""),
		name:   "events",
	}
	for _, opt := range opts {
		opt(d)
	}
	if s, ok := exec.(executor.Synchronous); ok && s.Synchronous() {
		d.inline = d.lock != nil
	}
	return d
}

// deferSubmit reports whether s must wait for the read lock holders to finish
// and queues it if so.
func (d *Dispatcher) deferSubmit(s *Subscription) bool {
	if !d.inline {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.held == 0 {
		return false
	}
	d.deferred = append(d.deferred, s)
	return true
}

func (d *Dispatcher) acquire() {
	d.lock.RLock()
	if d.inline {
		d.mu.Lock()
		d.held++
		d.mu.Unlock()
	}
}

// release drops the read lock and, for the last holder, returns the
// deliveries deferred meanwhile.
func (d *Dispatcher) release() []*Subscription {
	var ready []*Subscription
	if d.inline {
		d.mu.Lock()
		d.held--
		if d.held == 0 {
			ready, d.deferred = d.deferred, nil
		}
		d.mu.Unlock()
	}
	d.lock.RUnlock()
	return ready
}

// Subscribe creates a subscription for h. The label identifies the
// registration in logs when the handler fails.
func (d *Dispatcher) Subscribe(label string, h Handler) *Subscription {
	return &Subscription{
		d:       d,
		label:   label,
		handler: h,
	}
}

// Subscription is one subscriber's pending queue.
type Subscription struct {
	d       *Dispatcher
	label   string
	handler Handler

	mu        sync.Mutex
	pending   []Event
	scheduled bool
	closed    bool
}

// Label returns the identity used in logs.
func (s *Subscription) Label() string {
	return s.label
}

// post appends ev and reports whether the caller must schedule a delivery.
func (s *Subscription) post(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.pending = append(s.pending, ev)
	if s.scheduled {
		return false
	}
	s.scheduled = true
	return true
}

// Pending returns the number of undelivered events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close drops undelivered events and stops future deliveries.
// A delivery already running completes. Close is idempotent.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pending = nil
}

// Reopen undoes Close. Events dropped while closed stay dropped. A
// delivery still scheduled from before Close carries the events posted
// after Reopen, so deliveries stay one at a time.
func (s *Subscription) Reopen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
}

// Scheduled reports whether a delivery is queued or running.
func (s *Subscription) Scheduled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled
}

// Closed reports whether Close has been called.
func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Subscription) submit() {
	if s.d.deferSubmit(s) {
		return
	}
	if s.d.exec.Submit(s.deliver) {
		return
	}
	s.mu.Lock()
	dropped := len(s.pending)
	s.pending = nil
	s.scheduled = false
	s.mu.Unlock()
	slog.Warn("executor rejected delivery, events dropped",
		"dispatcher", s.d.name,
		"subscriber", s.label,
		"dropped", dropped,
	)
}

func (s *Subscription) deliver() {
	if s.d.lock != nil {
		s.d.acquire()
	}
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	closed := s.closed
	s.mu.Unlock()

	if !closed && len(batch) > 0 {
		s.invoke(batch)
	}
	if s.d.lock != nil {
		for _, ready := range s.d.release() {
			ready.submit()
		}
	}

	if after, ok := s.handler.(AfterDeliverer); ok && !closed {
		s.guard("after delivery", after.AfterDelivery)
	}

	s.mu.Lock()
	if len(s.pending) > 0 && !s.closed {
		s.mu.Unlock()
		s.submit()
		return
	}
	s.scheduled = false
	s.mu.Unlock()
}

func (s *Subscription) invoke(batch []Event) {
	_, span := s.d.tracer.Start(context.Background(), s.d.name+".deliver",
		trace.WithAttributes(
			attribute.String("subscriber", s.label),
			attribute.Int("batch_size", len(batch)),
			attribute.Int64("first_seq", batch[0].Seq),
		),
	)
	defer span.End()

	s.guard("delivery", func() { s.handler.Deliver(batch) })
}

// guard runs fn and recovers a panic, logging the registration identity.
func (s *Subscription) guard(phase string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("listener callback panicked",
				"dispatcher", s.d.name,
				"subscriber", s.label,
				"phase", phase,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}

// Outbox collects posts made while an exclusive lock is held and submits
// the resulting deliveries once Flush is called after unlocking.
//
// The zero value is ready to use. Not safe for concurrent use.
type Outbox struct {
	ready []*Subscription
}

// Post appends ev to s's pending queue.
func (o *Outbox) Post(s *Subscription, ev Event) {
	if s.post(ev) {
		o.ready = append(o.ready, s)
	}
}

// Len returns the number of subscriptions awaiting a delivery submit.
func (o *Outbox) Len() int {
	return len(o.ready)
}

// Flush submits one delivery per subscription that became scheduled.
func (o *Outbox) Flush() {
	ready := o.ready
	o.ready = nil
	for _, s := range ready {
		s.submit()
	}
}
