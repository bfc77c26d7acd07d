package pattern

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/resgraph/internal/graph"
	"github.com/roach88/resgraph/internal/ident"
)

// Manager registers pattern instances and demands on one graph.
//
// Thread-safety: safe for concurrent use.
type Manager struct {
	g   *graph.Graph
	ids ident.Generator

	mu        sync.Mutex
	instances map[string]*Instance
	demands   map[string]*Demand
}

// Option configures a Manager.
type Option func(*Manager)

// WithIDs sets the identifier generator for instances and demands.
// Default: UUIDv7.
func WithIDs(gen ident.Generator) Option {
	return func(m *Manager) {
		if gen != nil {
			m.ids = gen
		}
	}
}

// NewManager creates a manager for g.
func NewManager(g *graph.Graph, opts ...Option) *Manager {
	m := &Manager{
		g:         g,
		ids:       ident.UUIDv7{},
		instances: make(map[string]*Instance),
		demands:   make(map[string]*Demand),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register binds d to root on behalf of owner.
//
// The initial binding is strict: a permission denial on any field, any
// watched location or any access claim is returned and nothing stays
// installed. When the pattern is available right away, the listener's
// Available is called before Register returns.
func (m *Manager) Register(owner string, d *Descriptor, root string, l Listener) (*Instance, error) {
	inst, err := m.register(owner, d, root, l)
	if err != nil {
		return nil, err
	}
	inst.drain()
	return inst, nil
}

// register binds without running callbacks; the caller drains.
func (m *Manager) register(owner string, d *Descriptor, root string, l Listener) (*Instance, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid descriptor: %w", err)
	}
	if l == nil {
		return nil, fmt.Errorf("register %s: nil listener", d.Name)
	}
	if _, err := graph.Split(root); err != nil {
		return nil, fmt.Errorf("register %s: %w", d.Name, err)
	}

	inst := newInstance(m, m.ids.Generate(), owner, d, root, l)
	if err := inst.evaluate(true); err != nil {
		inst.teardown()
		return nil, fmt.Errorf("register %s at %s: %w", d.Name, root, err)
	}

	m.mu.Lock()
	m.instances[inst.id] = inst
	m.mu.Unlock()

	slog.Debug("pattern registered",
		"pattern", d.Name,
		"root", root,
		"owner", owner,
		"instance", inst.id,
		"available", inst.Available(),
	)
	return inst, nil
}

func (m *Manager) forget(inst *Instance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, inst.id)
}

func (m *Manager) forgetDemand(d *Demand) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.demands, d.id)
}

// Instances returns the live instances, demand-driven ones included,
// ordered by root then ID.
func (m *Manager) Instances() []*Instance {
	m.mu.Lock()
	out := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].root != out[j].root {
			return out[i].root < out[j].root
		}
		return out[i].id < out[j].id
	})
	return out
}

// Close withdraws every demand and instance. No callbacks are issued.
func (m *Manager) Close() {
	m.mu.Lock()
	demands := make([]*Demand, 0, len(m.demands))
	for _, d := range m.demands {
		demands = append(demands, d)
	}
	m.mu.Unlock()
	for _, d := range demands {
		d.Remove()
	}

	for _, inst := range m.Instances() {
		inst.Destroy()
	}
}
