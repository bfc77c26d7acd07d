package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/roach88/resgraph/internal/event"
	"github.com/roach88/resgraph/internal/executor"
)

// Graph is an independent resource graph context.
//
// Thread-safety model:
//   - Mutations take gate exclusively, so they wait for in-flight
//     deliveries (which hold gate shared) to drain and never interleave
//     with one another.
//   - Node state and registries are guarded by mu. Reads take only mu, so
//     listeners may read the graph while a delivery holds gate.
//   - Pinning virtual nodes, access claims and listener registration take
//     only mu and are safe to call from inside a delivery.
//   - Deliveries are submitted after gate is released, so an inline
//     executor never deadlocks against the committing mutator. A claim
//     made inside an inline delivery queues its deliveries until that
//     delivery releases gate, so gate is never taken shared twice on one
//     goroutine.
type Graph struct {
	gate sync.RWMutex
	mu   sync.RWMutex

	root   *node
	nodes  map[string]*node
	claims map[string]claimSet
	reg    *registry
	closed bool

	claimOrder int64

	types    *TypeTable
	oracle   Oracle
	persist  Persistence
	exec     executor.Executor
	tracer   trace.Tracer
	seq      *event.Sequence
	dispatch *event.Dispatcher
}

// Option configures a Graph.
type Option func(*Graph)

// WithOracle sets the permission oracle. Default: allow everything.
func WithOracle(o Oracle) Option {
	return func(g *Graph) {
		if o != nil {
			g.oracle = o
		}
	}
}

// WithTypes sets the type compatibility table.
func WithTypes(t *TypeTable) Option {
	return func(g *Graph) {
		if t != nil {
			g.types = t
		}
	}
}

// WithPersistence restores real nodes on Open and writes every commit
// through p.
func WithPersistence(p Persistence) Option {
	return func(g *Graph) {
		g.persist = p
	}
}

// WithExecutor sets the executor deliveries run on.
// Default: a goroutine per delivery.
func WithExecutor(e executor.Executor) Option {
	return func(g *Graph) {
		if e != nil {
			g.exec = e
		}
	}
}

// WithTracer records spans for commits and deliveries.
func WithTracer(t trace.Tracer) Option {
	return func(g *Graph) {
		if t != nil {
			g.tracer = t
		}
	}
}

// Open creates a graph. With persistence configured, the stored real
// nodes are restored before Open returns.
func Open(opts ...Option) (*Graph, error) {
	g := &Graph{
		nodes:  make(map[string]*node),
		claims: make(map[string]claimSet),
		reg:    newRegistry(),
		types:  NewTypeTable(),
		oracle: permitAll{},
		exec:   executor.Goroutine{},
		tracer: noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.root = newNode(RootPath, g.types.Base(), nil)
	g.root.real = true
	g.root.active = true
	g.nodes[RootPath] = g.root

	g.dispatch = event.NewDispatcher(g.exec,
		event.WithReadLock(&g.gate),
		event.WithTracer(g.tracer),
		event.WithName("graph"),
	)

	var last int64
	if g.persist != nil {
		records, err := g.persist.LoadNodes()
		if err != nil {
			return nil, fmt.Errorf("load nodes: %w", err)
		}
		last = g.restore(records)
		slog.Info("graph restored", "nodes", len(records), "seq", last)
	}
	g.seq = event.NewSequenceAt(last)
	return g, nil
}

// restore rebuilds real nodes from records and returns the highest
// sequence number seen.
func (g *Graph) restore(records []NodeRecord) int64 {
	sorted := make([]NodeRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		di, dj := strings.Count(sorted[i].Path, "/"), strings.Count(sorted[j].Path, "/")
		if di != dj {
			return di < dj
		}
		return sorted[i].Path < sorted[j].Path
	})

	var last int64
	for _, rec := range sorted {
		if _, err := Split(rec.Path); err != nil || rec.Path == RootPath {
			slog.Warn("skipping stored node with invalid path", "path", rec.Path)
			continue
		}
		n := g.ensureLocation(rec.Path)
		n.typ = rec.Type
		n.real = true
		n.active = rec.Active
		n.value = rec.Value
		n.seq = rec.Seq
		for p := n.parent; p != nil && !p.real; p = p.parent {
			slog.Warn("stored node missing ancestor, materializing", "path", rec.Path, "ancestor", p.loc)
			p.real = true
			p.active = true
			p.typ = g.types.Base()
		}
		if rec.Seq > last {
			last = rec.Seq
		}
	}
	for _, rec := range sorted {
		if rec.Reference == "" {
			continue
		}
		slot := g.nodes[rec.Path]
		if slot == nil {
			continue
		}
		target := g.ensureLocation(rec.Reference)
		slot.ref = target.loc
		target.inbound[slot.loc] = struct{}{}
	}
	return last
}

// ensureLocation returns the node at an ownership location, creating
// virtual nodes for missing segments. Caller must hold mu or be in Open.
func (g *Graph) ensureLocation(loc string) *node {
	if n := g.nodes[loc]; n != nil {
		return n
	}
	parent := g.ensureLocation(Parent(loc))
	n := newNode(loc, "", parent)
	parent.children[Base(loc)] = n
	g.nodes[loc] = n
	return n
}

// Types returns the graph's type table.
func (g *Graph) Types() *TypeTable {
	return g.types
}

// Seq returns the sequence number of the most recent event.
func (g *Graph) Seq() int64 {
	return g.seq.Current()
}

// Close ends the graph. Pending deliveries are dropped and every later
// operation fails with CLOSED. Close does not close the persistence.
func (g *Graph) Close() error {
	g.gate.Lock()
	defer g.gate.Unlock()
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	g.reg.closeAll()
	slog.Debug("graph closed", "nodes", len(g.nodes))
	return nil
}

// Session returns a handle issuing operations on behalf of owner.
func (g *Graph) Session(owner string) *Session {
	return &Session{g: g, owner: owner}
}

// resolution is the outcome of following a path through the graph.
type resolution struct {
	// node is the resolved node, nil when the path is missing.
	node *node

	// loc is node's location, or where the first missing segment would live.
	loc string

	// steps lists every location visited, reference slots and their
	// targets included, ending with loc.
	steps []string

	// parent owns the first missing segment; rest holds the missing
	// segments starting with that one.
	parent *node
	rest   []string
}

// resolve maps a path to a node. References on intermediate segments are
// always followed; a reference at the final segment only when follow is
// set. Caller must hold mu.
func (g *Graph) resolve(path string, follow bool) (resolution, error) {
	segs, err := Split(path)
	if err != nil {
		return resolution{}, err
	}

	var r resolution
	cur := g.root
	for i, seg := range segs {
		if cur, err = g.deref(cur, &r.steps); err != nil {
			return resolution{}, err
		}
		child := cur.children[seg]
		if child == nil {
			r.parent = cur
			r.loc = Join(cur.loc, seg)
			r.steps = append(r.steps, r.loc)
			r.rest = segs[i:]
			return r, nil
		}
		r.steps = append(r.steps, child.loc)
		cur = child
	}
	if follow {
		if cur, err = g.deref(cur, &r.steps); err != nil {
			return resolution{}, err
		}
	}
	r.node = cur
	r.loc = cur.loc
	return r, nil
}

// deref follows a chain of reference slots to the first non-reference
// node, appending each target to steps.
func (g *Graph) deref(n *node, steps *[]string) (*node, error) {
	var visited map[string]bool
	for n.ref != "" {
		if visited == nil {
			visited = make(map[string]bool)
		}
		if visited[n.loc] {
			return nil, errInvalidPath(n.loc, "reference cycle")
		}
		visited[n.loc] = true
		target := g.nodes[n.ref]
		if target == nil {
			return nil, errNotFound(n.ref)
		}
		n = target
		*steps = append(*steps, n.loc)
	}
	return n, nil
}

// commit runs fn as one atomic mutation. On error, or when persistence
// rejects the write set, every change fn made is undone and no event is
// published.
func (g *Graph) commit(op, path string, fn func(tx *txn) error) error {
	_, span := g.tracer.Start(context.Background(), "graph."+op,
		trace.WithAttributes(attribute.String("path", path)),
	)
	defer span.End()

	var out event.Outbox
	g.gate.Lock()
	g.mu.Lock()
	err := g.commitLocked(&out, fn)
	g.mu.Unlock()
	g.gate.Unlock()
	out.Flush()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int64("seq", g.seq.Current()))
	return nil
}

func (g *Graph) commitLocked(out *event.Outbox, fn func(tx *txn) error) error {
	if g.closed {
		return errClosed
	}
	tx := newTxn(g)
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	tx.stamp()

	if g.persist != nil {
		if changes := tx.changes(); !changes.Empty() {
			if err := g.persist.Apply(changes); err != nil {
				tx.rollback()
				slog.Warn("persistence rejected commit, rolled back",
					"saves", len(changes.Saves),
					"deletes", len(changes.Deletes),
					"error", err,
				)
				return fmt.Errorf("persist: %w", err)
			}
		}
	}

	for _, p := range tx.events {
		g.reg.post(out, g.types, p)
	}
	return nil
}
