package graph

import (
	"sort"

	"github.com/roach88/resgraph/internal/event"
	"github.com/roach88/resgraph/internal/ir"
)

// pending is an event waiting for its commit to succeed.
type pending struct {
	ev event.Event

	// typ is the changed node's type, for type registrations.
	typ string

	// typed marks self events that type registrations receive.
	typed bool

	// changed is false for value writes that stored an equal value.
	changed bool
}

// txn records the changes of one commit so they can be undone.
// Every mutation of node state inside a commit goes through a txn.
type txn struct {
	g      *Graph
	undo   []func()
	dirty  map[string]struct{}
	events []pending
}

func newTxn(g *Graph) *txn {
	return &txn{g: g, dirty: make(map[string]struct{})}
}

func (tx *txn) onUndo(fn func()) {
	tx.undo = append(tx.undo, fn)
}

func (tx *txn) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.events = nil
}

func (tx *txn) touch(n *node) {
	tx.dirty[n.loc] = struct{}{}
}

// stamp assigns sequence numbers in emission order and records the last
// one on every touched node.
func (tx *txn) stamp() {
	if len(tx.events) == 0 && len(tx.dirty) == 0 {
		return
	}
	var last int64
	for i := range tx.events {
		last = tx.g.seq.Next()
		tx.events[i].ev.Seq = last
	}
	if last == 0 {
		last = tx.g.seq.Next()
	}
	for loc := range tx.dirty {
		if n := tx.g.nodes[loc]; n != nil {
			old := n.seq
			n.seq = last
			tx.onUndo(func() { n.seq = old })
		}
	}
}

// changes returns the write set, sorted by location.
func (tx *txn) changes() Changes {
	locs := make([]string, 0, len(tx.dirty))
	for loc := range tx.dirty {
		locs = append(locs, loc)
	}
	sort.Strings(locs)

	var c Changes
	for _, loc := range locs {
		if n := tx.g.nodes[loc]; n != nil && n.real {
			c.Saves = append(c.Saves, n.record())
			continue
		}
		c.Deletes = append(c.Deletes, loc)
	}
	return c
}

func (tx *txn) emit(kind event.Kind, source string, n *node) {
	tx.events = append(tx.events, pending{
		ev:    event.Event{Kind: kind, Source: source, Changed: n.loc},
		typ:   n.typ,
		typed: source == n.loc,
	})
}

func (tx *txn) emitValue(n *node, prev, next ir.Value, changed bool) {
	tx.events = append(tx.events, pending{
		ev: event.Event{
			Kind:     event.KindValueChanged,
			Source:   n.loc,
			Changed:  n.loc,
			Previous: prev,
			Value:    next,
		},
		typ:     n.typ,
		changed: changed,
	})
}

// attach links n under parent and indexes it.
func (tx *txn) attach(parent, n *node) {
	name := Base(n.loc)
	parent.children[name] = n
	tx.g.nodes[n.loc] = n
	tx.onUndo(func() {
		delete(parent.children, name)
		delete(tx.g.nodes, n.loc)
	})
}

// detach unlinks n from its parent and the index.
func (tx *txn) detach(n *node) {
	parent := n.parent
	name := Base(n.loc)
	delete(parent.children, name)
	delete(tx.g.nodes, n.loc)
	tx.touch(n)
	tx.onUndo(func() {
		parent.children[name] = n
		tx.g.nodes[n.loc] = n
	})
}

func (tx *txn) setReal(n *node, real bool) {
	old := n.real
	n.real = real
	tx.touch(n)
	tx.onUndo(func() { n.real = old })
}

func (tx *txn) setActive(n *node, active bool) {
	old := n.active
	n.active = active
	tx.touch(n)
	tx.onUndo(func() { n.active = old })
}

func (tx *txn) setType(n *node, typ string) {
	old := n.typ
	n.typ = typ
	tx.touch(n)
	tx.onUndo(func() { n.typ = old })
}

func (tx *txn) setValue(n *node, v ir.Value) {
	old := n.value
	n.value = v
	tx.touch(n)
	tx.onUndo(func() { n.value = old })
}

func (tx *txn) setRef(n *node, target string) {
	old := n.ref
	n.ref = target
	tx.touch(n)
	tx.onUndo(func() { n.ref = old })
}

func (tx *txn) addInbound(target *node, slot string) {
	target.inbound[slot] = struct{}{}
	tx.onUndo(func() { delete(target.inbound, slot) })
}

func (tx *txn) removeInbound(target *node, slot string) {
	delete(target.inbound, slot)
	tx.onUndo(func() { target.inbound[slot] = struct{}{} })
}

// collect removes n and then its ancestors for as long as they are
// virtual and no longer needed.
func (tx *txn) collect(n *node) {
	for n != nil && n != tx.g.root && !n.needed() {
		if tx.g.nodes[n.loc] != n {
			return
		}
		parent := n.parent
		tx.detach(n)
		n = parent
	}
}

// realize makes n real, materializing virtual ancestors first. A real
// node must satisfy typ.
func (tx *txn) realize(n *node, typ string) error {
	if n.real {
		if !tx.g.types.Compatible(n.typ, typ) {
			return errTypeConflict(n.loc, n.typ, typ)
		}
		return nil
	}
	if err := tx.realize(n.parent, ""); err != nil {
		return err
	}
	switch {
	case typ != "":
		tx.setType(n, typ)
	case n.typ == "":
		tx.setType(n, tx.g.types.Base())
	}
	tx.makeReal(n)
	return nil
}

// makeReal flips a virtual node to real and active.
func (tx *txn) makeReal(n *node) {
	tx.setReal(n, true)
	tx.setActive(n, true)
	tx.emit(event.KindCreated, n.loc, n)
	tx.emit(event.KindSubresourceAdded, n.parent.loc, n)
	for _, h := range n.holders() {
		tx.emit(event.KindActivated, h, n)
	}
}

// create builds the missing segments of a resolution as real nodes.
// The last segment gets typ, the others the base type.
func (tx *txn) create(r resolution, typ string) error {
	if err := tx.realize(r.parent, ""); err != nil {
		return err
	}
	if typ == "" {
		typ = tx.g.types.Base()
	}
	cur := r.parent
	for i, seg := range r.rest {
		t := tx.g.types.Base()
		if i == len(r.rest)-1 {
			t = typ
		}
		n := newNode(Join(cur.loc, seg), t, cur)
		tx.attach(cur, n)
		tx.makeReal(n)
		cur = n
	}
	return nil
}

func (tx *txn) activate(n *node, active bool) {
	if n.active == active {
		return
	}
	tx.setActive(n, active)
	if active {
		tx.emit(event.KindActivated, n.loc, n)
	} else {
		tx.emit(event.KindDeactivated, n.loc, n)
	}
}

// unlink drops the reference edge held by slot.
func (tx *txn) unlink(slot *node) {
	target := tx.g.nodes[slot.ref]
	if target == nil {
		tx.setRef(slot, "")
		return
	}
	tx.emit(event.KindReferenceRemoved, slot.loc, target)
	tx.emit(event.KindReferenceRemoved, target.loc, slot)
	tx.removeInbound(target, slot.loc)
	tx.setRef(slot, "")
	tx.collect(target)
}

// link makes slot a reference to target.
func (tx *txn) link(slot, target *node) {
	tx.setType(slot, target.typ)
	tx.setRef(slot, target.loc)
	tx.addInbound(target, slot.loc)
	if !slot.real {
		tx.makeReal(slot)
	}
	tx.emit(event.KindReferenceAdded, slot.loc, target)
	tx.emit(event.KindReferenceAdded, target.loc, slot)
}

// deleteTree deletes n and its owned descendants, children first.
// References are never followed.
func (tx *txn) deleteTree(n *node) {
	var order []*node
	tx.g.walkFrom(n, n.loc, false, true, func(x *node, _ string) bool {
		order = append(order, x)
		return true
	})
	for i := len(order) - 1; i >= 0; i-- {
		tx.deleteOne(order[i])
	}
}

// deleteOne ends the real existence of x. x stays as a virtual node while
// something still needs it and is removed otherwise.
func (tx *txn) deleteOne(x *node) {
	if x.real {
		if x.ref != "" {
			tx.unlink(x)
		}
		if x.active {
			tx.setActive(x, false)
			tx.emit(event.KindDeactivated, x.loc, x)
		}
		for _, h := range x.holders() {
			tx.emit(event.KindDeactivated, h, x)
		}
		tx.setReal(x, false)
		tx.setValue(x, nil)
		tx.emit(event.KindDeleted, x.loc, x)
		tx.emit(event.KindSubresourceRemoved, x.parent.loc, x)
	}
	tx.collect(x)
}
