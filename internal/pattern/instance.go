package pattern

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/roach88/resgraph/internal/event"
	"github.com/roach88/resgraph/internal/graph"
	"github.com/roach88/resgraph/internal/ir"
)

// Listener receives availability transitions of an instance.
//
// Callbacks run after the graph's read lock has been released, one at a
// time per instance, so they may read and mutate the graph.
type Listener interface {
	Available(inst *Instance)
	Unavailable(inst *Instance)
}

// Callbacks adapts a pair of functions to Listener. Nil functions are
// skipped.
type Callbacks struct {
	OnAvailable   func(inst *Instance)
	OnUnavailable func(inst *Instance)
}

// Available calls OnAvailable.
func (c Callbacks) Available(inst *Instance) {
	if c.OnAvailable != nil {
		c.OnAvailable(inst)
	}
}

// Unavailable calls OnUnavailable.
func (c Callbacks) Unavailable(inst *Instance) {
	if c.OnUnavailable != nil {
		c.OnUnavailable(inst)
	}
}

// FieldChange is one value change of a field declared with NotifyValue.
type FieldChange struct {
	Field    string
	Location string
	Previous ir.Value
	Value    ir.Value
}

// ChangeListener receives the value changes of an available instance's
// NotifyValue fields, one call per delivered batch. It runs like
// Listener: outside the graph's read lock, serialized with the
// instance's transition callbacks.
type ChangeListener interface {
	PatternChanged(inst *Instance, changes []FieldChange)
}

// notice is a queued callback: a transition, or field changes when
// changes is set.
type notice struct {
	avail   bool
	changes []FieldChange
}

// Instance is a descriptor bound to a root.
//
// Thread-safety model:
//   - Re-evaluation has a single runner. A trigger arriving while a pass
//     runs (from another delivery or re-entrantly through an inline
//     executor) marks the runner to go again instead of running
//     concurrently.
//   - Binding state (watched set, pins, value listeners, claims) is owned
//     by the runner and needs no lock.
//   - Callbacks have a single drainer in the same way, so they never
//     overlap and arrive in transition order.
//   - mu guards the published snapshot, the runner and drainer flags,
//     the change listeners and the queue of callbacks awaiting delivery.
type Instance struct {
	id       string
	desc     *Descriptor
	root     string
	s        *graph.Session
	listener Listener
	m        *Manager

	// runner-owned
	watched map[string]bool
	pins    map[string]bool
	values  map[string]bool
	claims  map[string]claimReq

	mu          sync.Mutex
	running     bool
	again       bool
	destroyed   bool
	available   bool
	match       Match
	lastWatched []string
	changes     []ChangeListener
	pending     []notice
	draining    bool
}

func newInstance(m *Manager, id, owner string, d *Descriptor, root string, l Listener) *Instance {
	return &Instance{
		id:       id,
		desc:     d,
		root:     root,
		s:        m.g.Session(owner),
		listener: l,
		m:        m,
		watched:  make(map[string]bool),
		pins:     make(map[string]bool),
		values:   make(map[string]bool),
		claims:   make(map[string]claimReq),
		match:    newMatch(),
	}
}

// ID returns the instance identifier.
func (i *Instance) ID() string { return i.id }

// Root returns the path the instance is bound to.
func (i *Instance) Root() string { return i.root }

// Owner returns the owner the instance acts for.
func (i *Instance) Owner() string { return i.s.Owner() }

// Descriptor returns the bound descriptor.
func (i *Instance) Descriptor() *Descriptor { return i.desc }

// Available reports the current availability.
func (i *Instance) Available() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.available
}

// Match returns the bindings of the most recent evaluation.
func (i *Instance) Match() Match {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.match
}

// Destroyed reports whether Destroy has been called.
func (i *Instance) Destroyed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.destroyed
}

// Watched returns the sorted locations the most recent evaluation
// watches.
func (i *Instance) Watched() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.lastWatched...)
}

// AddChangeListener registers l for value changes of the NotifyValue
// fields. Changes are reported only while the instance is available
// before and after the batch that carries them. Adding l twice has no
// effect.
func (i *Instance) AddChangeListener(l ChangeListener) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, cur := range i.changes {
		if cur == l {
			return
		}
	}
	i.changes = append(i.changes, l)
}

// RemoveChangeListener unregisters l and reports whether it was
// registered. Changes already queued for l are still delivered.
func (i *Instance) RemoveChangeListener(l ChangeListener) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	for n, cur := range i.changes {
		if cur == l {
			i.changes = append(i.changes[:n:n], i.changes[n+1:]...)
			return true
		}
	}
	return false
}

// Deliver re-evaluates on every compound event touching the watched set
// and queues the batch's field value changes for the change listeners.
// Runs while the graph's read lock is held.
func (i *Instance) Deliver(batch []event.Event) {
	i.mu.Lock()
	before := i.available
	i.mu.Unlock()

	if err := i.evaluate(false); err != nil {
		slog.Warn("pattern re-evaluation failed", "pattern", i.desc.Name, "root", i.root, "error", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if !before || !i.available || i.destroyed || len(i.changes) == 0 {
		return
	}
	if changes := i.fieldChanges(batch); len(changes) > 0 {
		i.pending = append(i.pending, notice{changes: changes})
	}
}

// fieldChanges maps value events onto the NotifyValue fields bound to
// the changed location. Caller must hold mu.
func (i *Instance) fieldChanges(batch []event.Event) []FieldChange {
	var out []FieldChange
	for _, e := range batch {
		if e.Kind != event.KindValueChanged {
			continue
		}
		for _, name := range i.match.order {
			b := i.match.bindings[name]
			if b.notify && b.Resolved && b.Location == e.Changed {
				out = append(out, FieldChange{Field: name, Location: e.Changed, Previous: e.Previous, Value: e.Value})
			}
		}
	}
	return out
}

// AfterDelivery runs queued transition callbacks outside the read lock.
func (i *Instance) AfterDelivery() {
	i.drain()
}

// evaluate runs binder passes until no further trigger arrived. In
// strict mode the first failure is returned instead of logged.
func (i *Instance) evaluate(strict bool) error {
	i.mu.Lock()
	if i.destroyed {
		i.mu.Unlock()
		return nil
	}
	if i.running {
		i.again = true
		i.mu.Unlock()
		return nil
	}
	i.running = true

	for {
		i.again = false
		i.mu.Unlock()

		err := i.pass(strict)

		i.mu.Lock()
		if err != nil {
			i.running = false
			i.mu.Unlock()
			return err
		}
		if i.destroyed {
			i.running = false
			i.mu.Unlock()
			i.teardown()
			return nil
		}
		if !i.again {
			break
		}
	}
	i.running = false
	i.mu.Unlock()
	return nil
}

// pass is one binder run and the resulting diff.
func (i *Instance) pass(strict bool) error {
	b := newBinder(i.s, i.pins, strict, i.desc.Name)
	p, err := b.run(i.root, i.desc)
	if err != nil {
		for _, loc := range p.fresh {
			i.s.Unpin(loc)
		}
		return err
	}
	if err := i.apply(p, strict); err != nil {
		return err
	}

	for _, name := range p.match.order {
		fb := p.match.bindings[name]
		if fb.Real && fb.want > graph.ReadOnly {
			if mode, err := i.s.Access(fb.Location); err == nil {
				fb.Access = mode
				p.match.bindings[name] = fb
			}
		}
	}
	avail := p.available()

	watched := append([]string(nil), p.watched...)
	sort.Strings(watched)

	i.mu.Lock()
	i.match = p.match
	i.lastWatched = watched
	if avail != i.available && !i.destroyed {
		i.available = avail
		i.pending = append(i.pending, notice{avail: avail})
		slog.Debug("pattern availability changed",
			"pattern", i.desc.Name,
			"root", i.root,
			"instance", i.id,
			"available", avail,
		)
	}
	i.mu.Unlock()
	return nil
}

// apply moves the held registrations, pins and claims to the plan's.
func (i *Instance) apply(p *plan, strict bool) error {
	for loc := range p.pins {
		i.pins[loc] = true
	}
	for loc := range i.pins {
		if !p.pins[loc] {
			i.s.Unpin(loc)
			delete(i.pins, loc)
		}
	}

	for _, loc := range p.watched {
		if i.watched[loc] {
			continue
		}
		if err := i.s.AddStructureListener(loc, i); err != nil {
			if strict {
				return err
			}
			slog.Warn("pattern cannot watch location", "pattern", i.desc.Name, "location", loc, "error", err)
			continue
		}
		i.watched[loc] = true
	}
	want := make(map[string]bool, len(p.watched))
	for _, loc := range p.watched {
		want[loc] = true
	}
	for loc := range i.watched {
		if !want[loc] {
			i.s.RemoveStructureListener(loc, i)
			delete(i.watched, loc)
		}
	}

	for loc := range p.values {
		if i.values[loc] {
			continue
		}
		if err := i.s.AddValueListener(loc, i, graph.OnChange); err != nil {
			if strict {
				return err
			}
			slog.Warn("pattern cannot watch value", "pattern", i.desc.Name, "location", loc, "error", err)
			continue
		}
		i.values[loc] = true
	}
	for loc := range i.values {
		if !p.values[loc] {
			i.s.RemoveValueListener(loc, i)
			delete(i.values, loc)
		}
	}

	for loc, req := range p.claims {
		if cur, ok := i.claims[loc]; ok && cur == req {
			continue
		}
		if _, err := i.s.RequestAccess(loc, req.mode, req.priority); err != nil {
			if strict {
				return err
			}
			slog.Warn("pattern access claim denied", "pattern", i.desc.Name, "location", loc, "error", err)
			continue
		}
		i.claims[loc] = req
	}
	for loc := range i.claims {
		if _, ok := p.claims[loc]; !ok {
			i.s.ReleaseAccess(loc)
			delete(i.claims, loc)
		}
	}
	return nil
}

// teardown removes everything the instance installed in the graph.
// Only called when no runner is active.
func (i *Instance) teardown() {
	i.s.RemoveListener(i)
	for loc := range i.pins {
		i.s.Unpin(loc)
	}
	for loc := range i.claims {
		i.s.ReleaseAccess(loc)
	}
	i.watched = make(map[string]bool)
	i.pins = make(map[string]bool)
	i.values = make(map[string]bool)
	i.claims = make(map[string]claimReq)
}

// drain runs every queued callback, in order. A drain started while
// another is running (a callback mutating the graph through an inline
// executor, or a concurrent delivery) leaves its work to the running one.
func (i *Instance) drain() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.draining {
		return
	}
	i.draining = true
	for len(i.pending) > 0 && !i.destroyed {
		n := i.pending[0]
		i.pending = i.pending[1:]
		if n.changes != nil {
			listeners := append([]ChangeListener(nil), i.changes...)
			i.mu.Unlock()
			for _, l := range listeners {
				i.notifyChange(l, n.changes)
			}
		} else {
			i.mu.Unlock()
			i.notify(n.avail)
		}
		i.mu.Lock()
	}
	i.draining = false
}

func (i *Instance) notify(avail bool) {
	defer i.recoverListener()
	if avail {
		i.listener.Available(i)
	} else {
		i.listener.Unavailable(i)
	}
}

func (i *Instance) notifyChange(l ChangeListener, changes []FieldChange) {
	defer i.recoverListener()
	l.PatternChanged(i, changes)
}

func (i *Instance) recoverListener() {
	if r := recover(); r != nil {
		slog.Error("pattern listener panicked",
			"pattern", i.desc.Name,
			"root", i.root,
			"instance", i.id,
			"owner", i.s.Owner(),
			"panic", fmt.Sprint(r),
			"stack", string(debug.Stack()),
		)
	}
}

// Destroy withdraws the instance: every listener, pin and access claim it
// installed is removed. No callback is issued. Idempotent.
func (i *Instance) Destroy() {
	i.mu.Lock()
	if i.destroyed {
		i.mu.Unlock()
		return
	}
	i.destroyed = true
	i.pending = nil
	running := i.running
	i.mu.Unlock()

	if !running {
		i.teardown()
	}
	i.m.forget(i)
	slog.Debug("pattern instance destroyed", "pattern", i.desc.Name, "root", i.root, "instance", i.id)
}

// retire evaluates one last time so a final transition is reported, then
// destroys the instance.
func (i *Instance) retire() {
	if err := i.evaluate(false); err != nil {
		slog.Warn("pattern re-evaluation failed", "pattern", i.desc.Name, "root", i.root, "error", err)
	}
	i.drain()
	i.Destroy()
}

func (i *Instance) String() string {
	return fmt.Sprintf("%s@%s", i.desc.Name, i.root)
}
