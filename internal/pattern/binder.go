package pattern

import (
	"log/slog"

	"github.com/roach88/resgraph/internal/graph"
)

type claimReq struct {
	mode     graph.AccessMode
	priority int
}

// level is one descriptor in the nesting, with the binding name prefix
// its fields carry.
type level struct {
	desc     *Descriptor
	prefix   string
	root     Binding
	required bool
}

// plan is the outcome of one binder pass: what the instance should hold
// and what it resolved.
type plan struct {
	match   Match
	levels  []level
	watched []string
	pins    map[string]bool
	values  map[string]bool
	claims  map[string]claimReq

	// fresh lists pins taken during this pass.
	fresh []string
}

// binder interprets a descriptor against the graph. It is driven by one
// goroutine at a time (the instance's runner).
type binder struct {
	s      *graph.Session
	types  *graph.TypeTable
	held   map[string]bool
	strict bool
	name   string

	// dry binds without pinning and ignores requested access, for
	// one-shot queries.
	dry bool

	p    *plan
	seen map[string]bool
}

func newBinder(s *graph.Session, held map[string]bool, strict bool, name string) *binder {
	return &binder{
		s:      s,
		types:  s.Graph().Types(),
		held:   held,
		strict: strict,
		name:   name,
		p: &plan{
			match:  newMatch(),
			pins:   make(map[string]bool),
			values: make(map[string]bool),
			claims: make(map[string]claimReq),
		},
		seen: make(map[string]bool),
	}
}

func (b *binder) watch(locs ...string) {
	for _, loc := range locs {
		if !b.seen[loc] {
			b.seen[loc] = true
			b.p.watched = append(b.p.watched, loc)
		}
	}
}

// run binds the root and every field of d.
func (b *binder) run(root string, d *Descriptor) (*plan, error) {
	rb, err := b.resolve("", root, d.Type, true, graph.ReadOnly, 0, false)
	if err != nil {
		return b.p, err
	}
	b.p.match.Root = rb
	if rb.Resolved {
		if err := b.bindLevel(d, root, "", rb, true); err != nil {
			return b.p, err
		}
	}
	return b.p, nil
}

func (b *binder) bindLevel(d *Descriptor, base, prefix string, root Binding, required bool) error {
	b.p.levels = append(b.p.levels, level{desc: d, prefix: prefix, root: root, required: required})
	for _, f := range d.Fields {
		path := graph.Join(base, f.Path)
		name := prefix + f.Name
		fb, err := b.resolve(name, path, f.Type, required && f.Required, f.Access, f.Priority, f.NotifyValue)
		if err != nil {
			return err
		}
		b.p.match.add(fb)
		if f.Nested != nil && fb.Resolved {
			if err := b.bindLevel(f.Nested, path, name+".", fb, required && f.Required); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolve binds one path. A denied or failed resolution is returned in
// strict mode and otherwise logged, leaving the field unresolved.
func (b *binder) resolve(name, path, typ string, required bool, mode graph.AccessMode, priority int, notify bool) (Binding, error) {
	fb := Binding{Name: name, Path: path, required: required, want: mode, notify: notify}
	if !required || b.dry {
		fb.want = graph.ReadOnly
	}

	res, err := b.s.Resolve(path)
	if err != nil {
		return fb, b.fail(name, path, err)
	}
	b.watch(res.Steps...)

	if res.Node == nil {
		if !required || b.dry {
			return fb, nil
		}
		if _, err := b.pin(path, typ); err != nil {
			return fb, b.fail(name, path, err)
		}
		if res, err = b.s.Resolve(path); err != nil {
			return fb, b.fail(name, path, err)
		}
		b.watch(res.Steps...)
		if res.Node == nil {
			return fb, nil
		}
	} else if required && !b.dry {
		if _, err := b.pin(path, typ); err != nil {
			return fb, b.fail(name, path, err)
		}
	}

	n := res.Node
	fb.Location = n.Location
	fb.Resolved = true
	fb.Real = n.Real
	fb.Active = n.Active
	fb.Type = n.Type
	fb.Value = n.Value
	fb.Conflict = n.Real && !b.types.Compatible(n.Type, typ)

	if n.Real && notify {
		b.p.values[n.Location] = true
	}
	if n.Real && mode > graph.ReadOnly {
		b.p.claims[n.Location] = claimReq{mode: mode, priority: priority}
	}
	return fb, nil
}

// pin records that the instance needs path, taking a graph pin only when
// the location is not already held.
func (b *binder) pin(path, typ string) (string, error) {
	res, err := b.s.Resolve(path)
	if err == nil && res.Node != nil && (b.held[res.Node.Location] || b.p.pins[res.Node.Location]) {
		b.p.pins[res.Node.Location] = true
		return res.Node.Location, nil
	}
	loc, err := b.s.Pin(path, typ)
	if err != nil {
		return "", err
	}
	if b.held[loc] || b.p.pins[loc] {
		// Raced with another pin of the same location in this pass.
		b.s.Unpin(loc)
	} else {
		b.p.fresh = append(b.p.fresh, loc)
	}
	b.p.pins[loc] = true
	return loc, nil
}

func (b *binder) fail(name, path string, err error) error {
	if b.strict {
		return err
	}
	slog.Warn("pattern field unbound",
		"pattern", b.name,
		"field", name,
		"path", path,
		"error", err,
	)
	return nil
}

// available evaluates the plan after access claims have been applied.
func (p *plan) available() bool {
	if !p.match.Root.satisfied() {
		return false
	}
	for _, name := range p.match.order {
		b := p.match.bindings[name]
		if b.required && !b.satisfied() {
			return false
		}
	}
	for _, lv := range p.levels {
		if !lv.required || lv.desc.Accept == nil {
			continue
		}
		if !accept(lv.desc, p.match.scope(lv.prefix, lv.root)) {
			return false
		}
	}
	return true
}

// accept runs a predicate, treating a panic as a veto.
func accept(d *Descriptor, m Match) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("pattern predicate panicked",
				"pattern", d.Name,
				"root", m.Root.Location,
				"panic", r,
			)
			ok = false
		}
	}()
	return d.Accept(m)
}
