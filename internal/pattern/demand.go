package pattern

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/resgraph/internal/event"
	"github.com/roach88/resgraph/internal/graph"
)

// Demand instantiates a descriptor on every real node whose type is
// compatible with the descriptor's root type, following the graph's type
// events: a created node gets an instance, a deleted node's instance
// reports its final transition and is destroyed.
type Demand struct {
	id       string
	m        *Manager
	s        *graph.Session
	desc     *Descriptor
	listener Listener

	mu        sync.Mutex
	instances map[string]*Instance
	claimed   map[string]bool
	started   []*Instance
	retiring  []*Instance
	removed   bool
}

// AddDemand instantiates d for every existing and future node compatible
// with d.Type. Existing nodes the owner may not read are skipped.
func (m *Manager) AddDemand(owner string, d *Descriptor, l Listener) (*Demand, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid descriptor: %w", err)
	}
	if d.Type == "" {
		return nil, fmt.Errorf("demand %s: descriptor needs a root type", d.Name)
	}
	if l == nil {
		return nil, fmt.Errorf("demand %s: nil listener", d.Name)
	}

	dm := &Demand{
		id:        m.ids.Generate(),
		m:         m,
		s:         m.g.Session(owner),
		desc:      d,
		listener:  l,
		instances: make(map[string]*Instance),
		claimed:   make(map[string]bool),
	}
	if err := dm.s.AddTypeListener(d.Type, dm); err != nil {
		return nil, fmt.Errorf("demand %s: %w", d.Name, err)
	}

	m.mu.Lock()
	m.demands[dm.id] = dm
	m.mu.Unlock()

	types := m.g.Types()
	err := dm.s.Walk(graph.RootPath, graph.WalkOptions{}, func(info graph.NodeInfo) error {
		if info.Path != graph.RootPath && info.Reference == "" && types.Compatible(info.Type, d.Type) {
			dm.start(info.Location)
		}
		return nil
	})
	if err != nil {
		dm.Remove()
		return nil, fmt.Errorf("demand %s: %w", d.Name, err)
	}
	dm.AfterDelivery()

	slog.Debug("pattern demand added", "pattern", d.Name, "type", d.Type, "owner", owner, "demand", dm.id)
	return dm, nil
}

// ID returns the demand identifier.
func (dm *Demand) ID() string { return dm.id }

// Instances returns the demand's live instances ordered by root.
func (dm *Demand) Instances() []*Instance {
	dm.mu.Lock()
	out := make([]*Instance, 0, len(dm.instances))
	for _, inst := range dm.instances {
		out = append(out, inst)
	}
	dm.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].root < out[j].root })
	return out
}

// Deliver handles type events. Runs while the graph's read lock is held.
func (dm *Demand) Deliver(batch []event.Event) {
	for _, e := range batch {
		switch e.Kind {
		case event.KindCreated:
			if info, err := dm.s.Slot(e.Changed); err == nil && info.Reference != "" {
				continue
			}
			dm.start(e.Changed)
		case event.KindDeleted:
			dm.stop(e.Changed)
		}
	}
}

// AfterDelivery runs the callbacks of new instances and retires the
// instances of deleted nodes.
func (dm *Demand) AfterDelivery() {
	dm.mu.Lock()
	started, retiring := dm.started, dm.retiring
	dm.started, dm.retiring = nil, nil
	dm.mu.Unlock()

	for _, inst := range started {
		inst.drain()
	}
	for _, inst := range retiring {
		inst.retire()
	}
}

func (dm *Demand) start(loc string) {
	dm.mu.Lock()
	if dm.removed || dm.claimed[loc] {
		dm.mu.Unlock()
		return
	}
	dm.claimed[loc] = true
	dm.mu.Unlock()

	inst, err := dm.m.register(dm.s.Owner(), dm.desc, loc, dm.listener)

	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err != nil {
		delete(dm.claimed, loc)
		slog.Warn("pattern demand cannot bind node", "pattern", dm.desc.Name, "root", loc, "error", err)
		return
	}
	if dm.removed {
		inst.Destroy()
		return
	}
	dm.instances[loc] = inst
	dm.started = append(dm.started, inst)
}

func (dm *Demand) stop(loc string) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	inst, ok := dm.instances[loc]
	if !ok {
		return
	}
	delete(dm.instances, loc)
	delete(dm.claimed, loc)
	dm.retiring = append(dm.retiring, inst)
}

// Remove withdraws the demand and destroys its instances without
// callbacks. Idempotent.
func (dm *Demand) Remove() {
	dm.mu.Lock()
	if dm.removed {
		dm.mu.Unlock()
		return
	}
	dm.removed = true
	instances := make([]*Instance, 0, len(dm.instances)+len(dm.retiring))
	for _, inst := range dm.instances {
		instances = append(instances, inst)
	}
	instances = append(instances, dm.retiring...)
	dm.instances = make(map[string]*Instance)
	dm.started, dm.retiring = nil, nil
	dm.mu.Unlock()

	dm.s.RemoveTypeListener(dm.desc.Type, dm)
	for _, inst := range instances {
		inst.Destroy()
	}
	dm.m.forgetDemand(dm)
	slog.Debug("pattern demand removed", "pattern", dm.desc.Name, "demand", dm.id)
}
