package graph

import (
	"github.com/roach88/resgraph/internal/ir"
)

// Session issues graph operations on behalf of one owner. Every
// operation is checked against the graph's permission oracle.
//
// Sessions are cheap; create one per owner and share it freely.
type Session struct {
	g     *Graph
	owner string
}

// Owner returns the owner operations are issued for.
func (s *Session) Owner() string {
	return s.owner
}

// Graph returns the session's graph.
func (s *Session) Graph() *Graph {
	return s.g
}

func (s *Session) permit(path string, op Operation) error {
	if !s.g.oracle.Permit(s.owner, path, op) {
		return errAccessDenied(s.owner, path, op)
	}
	return nil
}

// CreateNode makes the node at path real with type typ.
//
// Missing and virtual ancestors become real as well. A virtual node at
// path is upgraded in place, keeping its registrations. Creating a node
// that is already real is a no-op when its type satisfies typ and fails
// with TYPE_CONFLICT otherwise. References along the path, including a
// reference at path itself, are followed.
func (s *Session) CreateNode(path, typ string) error {
	return s.g.commit("create", path, func(tx *txn) error {
		r, err := s.g.resolve(path, true)
		if err != nil {
			return err
		}
		if r.node == s.g.root {
			return errInvalidPath(path, "cannot create the root")
		}
		if err := s.permit(r.loc, OpCreate); err != nil {
			return err
		}
		if r.node != nil {
			return tx.realize(r.node, typ)
		}
		return tx.create(r, typ)
	})
}

// DeleteNode deletes the node at path and its owned subtree.
//
// References inside the subtree are dropped, never followed. A deleted
// node that is still the target of a reference, pinned by a pattern, or
// the ancestor of such a node stays behind as a virtual node; holders of
// references to it observe a deactivated event. Deleting a virtual node
// is a no-op. A reference at path is removed, not its target.
func (s *Session) DeleteNode(path string) error {
	return s.g.commit("delete", path, func(tx *txn) error {
		r, err := s.g.resolve(path, false)
		if err != nil {
			return err
		}
		if r.node == nil {
			return errNotFound(r.loc)
		}
		if r.node == s.g.root {
			return errInvalidPath(path, "cannot delete the root")
		}
		if err := s.permit(r.loc, OpDelete); err != nil {
			return err
		}
		if !r.node.real {
			return nil
		}
		tx.deleteTree(r.node)
		return nil
	})
}

// AddReference makes the slot at from a reference to the node at target.
//
// The target must be real and the slot's parent must be real. An
// existing owned node at from is deleted first; an existing reference is
// replaced. Both ends receive a reference-added event.
func (s *Session) AddReference(from, target string) error {
	return s.g.commit("reference", from, func(tx *txn) error {
		g := s.g
		tr, err := g.resolve(target, true)
		if err != nil {
			return err
		}
		if tr.node == nil {
			return errNotFound(tr.loc)
		}
		if !tr.node.real {
			return errVirtual(tr.loc)
		}
		fr, err := g.resolve(from, false)
		if err != nil {
			return err
		}
		if fr.node == g.root {
			return errInvalidPath(from, "root cannot be a reference")
		}
		if fr.node == nil && len(fr.rest) > 1 {
			return errNotFound(Parent(fr.loc))
		}
		parent := fr.parent
		if fr.node != nil {
			parent = fr.node.parent
		}
		if !parent.real {
			return errVirtual(parent.loc)
		}
		if err := s.permit(fr.loc, OpReference); err != nil {
			return err
		}
		if err := s.permit(tr.loc, OpRead); err != nil {
			return err
		}
		t := tr.node
		if IsWithin(t.loc, fr.loc) {
			return errInvalidArgument(from, "reference target lies inside the slot")
		}

		slot := fr.node
		if slot != nil && slot.real {
			if slot.ref == t.loc {
				return nil
			}
			if slot.ref != "" {
				tx.unlink(slot)
			} else {
				if !g.types.Compatible(t.typ, slot.typ) {
					return errTypeConflict(fr.loc, t.typ, slot.typ)
				}
				tx.deleteTree(slot)
			}
		}
		slot = parent.children[Base(fr.loc)]
		if slot == nil {
			slot = newNode(fr.loc, t.typ, parent)
			tx.attach(parent, slot)
		}
		tx.link(slot, t)
		return nil
	})
}

// RemoveReference deletes the reference slot at from. The former target
// is untouched.
func (s *Session) RemoveReference(from string) error {
	return s.g.commit("unreference", from, func(tx *txn) error {
		r, err := s.g.resolve(from, false)
		if err != nil {
			return err
		}
		if r.node == nil {
			return errNotFound(r.loc)
		}
		if r.node.ref == "" {
			return errInvalidArgument(from, "not a reference")
		}
		if err := s.permit(r.loc, OpReference); err != nil {
			return err
		}
		tx.deleteTree(r.node)
		return nil
	})
}

// SetActive sets the active flag of the real node at path.
func (s *Session) SetActive(path string, active bool) error {
	return s.g.commit("activate", path, func(tx *txn) error {
		n, err := s.realNode(path, OpActivate)
		if err != nil {
			return err
		}
		tx.activate(n, active)
		return nil
	})
}

// SetActiveRecursive sets the active flag of the node at path and of
// every real node in its owned subtree. References are not followed. The
// change is all or nothing: a denied node aborts the whole operation.
func (s *Session) SetActiveRecursive(path string, active bool) error {
	return s.g.commit("activate", path, func(tx *txn) error {
		n, err := s.realNode(path, OpActivate)
		if err != nil {
			return err
		}
		var denied error
		s.g.walkFrom(n, n.loc, false, false, func(x *node, _ string) bool {
			if denied != nil {
				return false
			}
			if err := s.permit(x.loc, OpActivate); err != nil {
				denied = err
				return false
			}
			tx.activate(x, active)
			return true
		})
		return denied
	})
}

// SetValue writes the value of the real node at path. Writes are denied
// while another owner holds exclusive access to the node.
func (s *Session) SetValue(path string, v ir.Value) error {
	return s.g.commit("write", path, func(tx *txn) error {
		n, err := s.realNode(path, OpWrite)
		if err != nil {
			return err
		}
		if holder := s.g.claims[n.loc].exclusiveHolder(); holder != "" && holder != s.owner {
			e := errAccessDenied(s.owner, n.loc, OpWrite)
			e.Message = "exclusive access held by " + holder
			return e
		}
		if v == nil {
			v = ir.Null{}
		}
		prev := n.value
		if prev == nil {
			prev = ir.Null{}
		}
		changed := !ir.Equal(prev, v)
		if changed {
			tx.setValue(n, v)
		}
		tx.emitValue(n, prev, v, changed)
		return nil
	})
}

// realNode resolves path for a mutation on a real node. Caller holds mu.
func (s *Session) realNode(path string, op Operation) (*node, error) {
	r, err := s.g.resolve(path, true)
	if err != nil {
		return nil, err
	}
	if r.node == nil {
		return nil, errNotFound(r.loc)
	}
	if err := s.permit(r.loc, op); err != nil {
		return nil, err
	}
	if !r.node.real {
		return nil, errVirtual(r.loc)
	}
	return r.node, nil
}

// read runs fn with mu held shared after resolving path.
func (s *Session) read(path string, follow bool, fn func(r resolution) error) error {
	g := s.g
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return errClosed
	}
	r, err := g.resolve(path, follow)
	if err != nil {
		return err
	}
	if err := s.permit(r.loc, OpRead); err != nil {
		return err
	}
	return fn(r)
}

// Node returns the node at path, following references. Virtual nodes are
// returned with Real unset.
func (s *Session) Node(path string) (NodeInfo, error) {
	var info NodeInfo
	err := s.read(path, true, func(r resolution) error {
		if r.node == nil {
			return errNotFound(r.loc)
		}
		info = r.node.info(path)
		return nil
	})
	return info, err
}

// Slot returns the node at path without following a reference at the
// final segment. A reference slot reports its target in Reference.
func (s *Session) Slot(path string) (NodeInfo, error) {
	var info NodeInfo
	err := s.read(path, false, func(r resolution) error {
		if r.node == nil {
			return errNotFound(r.loc)
		}
		info = r.node.info(path)
		return nil
	})
	return info, err
}

// Exists reports whether path resolves to a real node.
func (s *Session) Exists(path string) (bool, error) {
	var exists bool
	err := s.read(path, true, func(r resolution) error {
		exists = r.node != nil && r.node.real
		return nil
	})
	return exists, err
}

// ListChildren returns the paths of the real children of the node at
// path, sorted by name.
func (s *Session) ListChildren(path string) ([]string, error) {
	var out []string
	err := s.read(path, true, func(r resolution) error {
		if r.node == nil {
			return errNotFound(r.loc)
		}
		if !r.node.real {
			return errVirtual(r.loc)
		}
		for _, name := range r.node.childNames(true) {
			out = append(out, Join(path, name))
		}
		return nil
	})
	return out, err
}

// Value returns the value of the real node at path.
func (s *Session) Value(path string) (ir.Value, error) {
	var v ir.Value
	err := s.read(path, true, func(r resolution) error {
		if r.node == nil {
			return errNotFound(r.loc)
		}
		if !r.node.real {
			return errVirtual(r.loc)
		}
		v = r.node.info(path).Value
		return nil
	})
	return v, err
}

// Resolution describes how a path resolves.
type Resolution struct {
	Path string

	// Location is the resolved node's location, or where the first
	// missing segment would live.
	Location string

	// Steps lists every location visited on the way, reference slots and
	// their targets included, ending with Location.
	Steps []string

	// Node is nil when the path does not resolve.
	Node *NodeInfo
}

// Resolve follows path, references included, and reports every location
// it passed through.
func (s *Session) Resolve(path string) (Resolution, error) {
	res := Resolution{Path: path}
	err := s.read(path, true, func(r resolution) error {
		res.Location = r.loc
		res.Steps = r.steps
		if r.node != nil {
			info := r.node.info(path)
			res.Node = &info
		}
		return nil
	})
	return res, err
}

// Pin keeps the node at path from being removed while the pin is held,
// creating it (and any missing ancestors) as a virtual node of type typ
// when absent. Pinning a real node makes a later delete revert it to
// virtual instead of removing it. Returns the pinned node's location.
//
// Pin takes no part in commits and is safe to call during a delivery.
func (s *Session) Pin(path, typ string) (string, error) {
	g := s.g
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return "", errClosed
	}
	r, err := g.resolve(path, true)
	if err != nil {
		return "", err
	}
	if err := s.permit(r.loc, OpRead); err != nil {
		return "", err
	}
	n := r.node
	if n == nil {
		cur := r.parent
		for i, seg := range r.rest {
			child := newNode(Join(cur.loc, seg), "", cur)
			if i == len(r.rest)-1 {
				child.typ = typ
			}
			cur.children[seg] = child
			g.nodes[child.loc] = child
			cur = child
		}
		n = cur
	}
	n.pins++
	return n.loc, nil
}

// Unpin releases one pin on the node at location loc and removes the
// node if it is virtual and nothing else needs it. Reports whether a pin
// was held.
func (s *Session) Unpin(loc string) bool {
	g := s.g
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.nodes[loc]
	if n == nil || n.pins == 0 {
		return false
	}
	n.pins--
	for n != g.root && !n.needed() {
		parent := n.parent
		delete(parent.children, Base(n.loc))
		delete(g.nodes, n.loc)
		n = parent
	}
	return true
}
