package graph

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/roach88/resgraph/internal/event"
)

// Listener receives compound events: every event addressed to any of its
// registrations for one owner, batched in commit order.
//
// Listeners are compared by identity, so they must be comparable values
// (normally pointers).
type Listener = event.Handler

// FuncListener adapts a function to Listener with pointer identity.
type FuncListener struct {
	fn func(batch []event.Event)
}

// ListenerFunc wraps fn. Each call returns a distinct identity.
func ListenerFunc(fn func(batch []event.Event)) *FuncListener {
	return &FuncListener{fn: fn}
}

// Deliver calls the wrapped function.
func (l *FuncListener) Deliver(batch []event.Event) {
	l.fn(batch)
}

// ValueMode selects which value writes a value registration receives.
type ValueMode int

const (
	// EveryUpdate delivers every write, including writes of an equal value.
	EveryUpdate ValueMode = iota
	// OnChange delivers only writes that changed the value.
	OnChange
)

func (m ValueMode) String() string {
	if m == OnChange {
		return "on-change"
	}
	return "every-update"
}

type subKey struct {
	listener Listener
	owner    string
}

// subscriber is the shared delivery queue of one (listener, owner) pair
// across all of its registrations.
type subscriber struct {
	sub  *event.Subscription
	refs int
}

type registration struct {
	key  subKey
	mode ValueMode
}

// registry holds structure, value and type registrations. Registrations
// are keyed by location path and never by node, so they survive the node
// turning virtual, real or into a reference. Per key, registrations are
// kept in insertion order so deliveries are scheduled deterministically.
//
// A subscriber whose last registration goes while its delivery is still
// scheduled or running is kept as dormant, closed but not forgotten. A
// registration added back reopens it instead of creating a second queue
// that could deliver to the same listener concurrently.
//
// Guarded by Graph.mu.
type registry struct {
	subs      map[subKey]*subscriber
	dormant   map[subKey]*subscriber
	structure map[string][]registration
	values    map[string][]registration
	typed     map[string][]registration
}

func newRegistry() *registry {
	return &registry{
		subs:      make(map[subKey]*subscriber),
		dormant:   make(map[subKey]*subscriber),
		structure: make(map[string][]registration),
		values:    make(map[string][]registration),
		typed:     make(map[string][]registration),
	}
}

func (r *registry) add(d *event.Dispatcher, table map[string][]registration, key string, sk subKey, mode ValueMode) bool {
	for _, reg := range table[key] {
		if reg.key == sk {
			return false
		}
	}
	table[key] = append(table[key], registration{key: sk, mode: mode})

	s := r.subs[sk]
	if s == nil {
		if s = r.dormant[sk]; s != nil {
			delete(r.dormant, sk)
			s.sub.Reopen()
		} else {
			label := fmt.Sprintf("%s:%T", sk.owner, sk.listener)
			s = &subscriber{sub: d.Subscribe(label, sk.listener)}
		}
		r.subs[sk] = s
	}
	s.refs++
	r.sweep()
	return true
}

func (r *registry) remove(table map[string][]registration, key string, sk subKey) bool {
	regs := table[key]
	for i, reg := range regs {
		if reg.key != sk {
			continue
		}
		regs = append(regs[:i:i], regs[i+1:]...)
		if len(regs) == 0 {
			delete(table, key)
		} else {
			table[key] = regs
		}
		r.release(sk)
		return true
	}
	return false
}

func (r *registry) release(sk subKey) {
	s := r.subs[sk]
	if s == nil {
		return
	}
	s.refs--
	if s.refs <= 0 {
		s.sub.Close()
		delete(r.subs, sk)
		if s.sub.Scheduled() {
			r.dormant[sk] = s
		}
	}
	r.sweep()
}

// sweep forgets dormant subscribers whose delivery has finished.
func (r *registry) sweep() {
	for sk, s := range r.dormant {
		if !s.sub.Scheduled() {
			delete(r.dormant, sk)
		}
	}
}

// removeAll drops every registration of sk and returns how many there were.
func (r *registry) removeAll(sk subKey) int {
	removed := 0
	for _, table := range []map[string][]registration{r.structure, r.values, r.typed} {
		for key := range table {
			for r.remove(table, key, sk) {
				removed++
			}
		}
	}
	return removed
}

func (r *registry) closeAll() {
	for sk, s := range r.subs {
		s.sub.Close()
		delete(r.subs, sk)
	}
	r.dormant = make(map[subKey]*subscriber)
	r.structure = make(map[string][]registration)
	r.values = make(map[string][]registration)
	r.typed = make(map[string][]registration)
}

// post queues p for every registration it addresses.
func (r *registry) post(out *event.Outbox, types *TypeTable, p pending) {
	if p.ev.Kind == event.KindValueChanged {
		for _, reg := range r.values[p.ev.Source] {
			if reg.mode == OnChange && !p.changed {
				continue
			}
			out.Post(r.subs[reg.key].sub, p.ev)
		}
		return
	}

	for _, reg := range r.structure[p.ev.Source] {
		out.Post(r.subs[reg.key].sub, p.ev)
	}
	if !p.typed || !typeEventKind(p.ev.Kind) {
		return
	}
	tags := make([]string, 0, len(r.typed))
	for tag := range r.typed {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		if !types.Compatible(p.typ, tag) {
			continue
		}
		for _, reg := range r.typed[tag] {
			out.Post(r.subs[reg.key].sub, p.ev)
		}
	}
}

func typeEventKind(k event.Kind) bool {
	switch k {
	case event.KindCreated, event.KindDeleted, event.KindActivated, event.KindDeactivated:
		return true
	}
	return false
}

func checkListener(l Listener) error {
	if l == nil {
		return errInvalidArgument("", "nil listener")
	}
	if !reflect.TypeOf(l).Comparable() {
		return errInvalidArgument("", fmt.Sprintf("listener type %T is not comparable", l))
	}
	return nil
}

func (s *Session) addListener(table func(*registry) map[string][]registration, key, permitPath string, l Listener, mode ValueMode) error {
	if err := checkListener(l); err != nil {
		return err
	}
	if err := s.permit(permitPath, OpListen); err != nil {
		return err
	}
	g := s.g
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return errClosed
	}
	g.reg.add(g.dispatch, table(g.reg), key, subKey{listener: l, owner: s.owner}, mode)
	return nil
}

func (s *Session) removeListener(table func(*registry) map[string][]registration, key string, l Listener) bool {
	if checkListener(l) != nil {
		return false
	}
	g := s.g
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reg.remove(table(g.reg), key, subKey{listener: l, owner: s.owner})
}

func structureTable(r *registry) map[string][]registration { return r.structure }
func valueTable(r *registry) map[string][]registration     { return r.values }
func typeTable(r *registry) map[string][]registration      { return r.typed }

// AddStructureListener registers l for structural events at a location.
// The node does not need to exist. Registering the same listener twice
// has no further effect.
func (s *Session) AddStructureListener(path string, l Listener) error {
	if _, err := Split(path); err != nil {
		return err
	}
	return s.addListener(structureTable, path, path, l, EveryUpdate)
}

// RemoveStructureListener removes a structure registration and reports
// whether one existed.
func (s *Session) RemoveStructureListener(path string, l Listener) bool {
	return s.removeListener(structureTable, path, l)
}

// AddValueListener registers l for value writes at a location.
func (s *Session) AddValueListener(path string, l Listener, mode ValueMode) error {
	if _, err := Split(path); err != nil {
		return err
	}
	return s.addListener(valueTable, path, path, l, mode)
}

// RemoveValueListener removes a value registration and reports whether
// one existed.
func (s *Session) RemoveValueListener(path string, l Listener) bool {
	return s.removeListener(valueTable, path, l)
}

// AddTypeListener registers l for created, deleted, activated and
// deactivated events of every node whose type is compatible with tag.
func (s *Session) AddTypeListener(tag string, l Listener) error {
	if tag == "" {
		return errInvalidArgument("", "empty type tag")
	}
	return s.addListener(typeTable, tag, RootPath, l, EveryUpdate)
}

// RemoveTypeListener removes a type registration and reports whether one
// existed.
func (s *Session) RemoveTypeListener(tag string, l Listener) bool {
	return s.removeListener(typeTable, tag, l)
}

// RemoveListener drops every registration of l for this owner and returns
// how many were removed.
func (s *Session) RemoveListener(l Listener) int {
	if checkListener(l) != nil {
		return 0
	}
	g := s.g
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reg.removeAll(subKey{listener: l, owner: s.owner})
}
