package graph

import (
	"sort"

	"github.com/roach88/resgraph/internal/ir"
)

// node is the in-memory state of one location.
//
// A node is real once created and virtual while it only exists because
// something still needs the location: an inbound reference, a pattern
// pin, or a virtual descendant. Reference slots carry the location of
// their target in ref; resolution continues at the target.
type node struct {
	loc      string
	typ      string
	parent   *node
	children map[string]*node
	ref      string
	inbound  map[string]struct{} // locations of reference slots targeting this node
	real     bool
	active   bool
	value    ir.Value
	pins     int
	seq      int64
}

func newNode(loc, typ string, parent *node) *node {
	return &node{
		loc:      loc,
		typ:      typ,
		parent:   parent,
		children: make(map[string]*node),
		inbound:  make(map[string]struct{}),
	}
}

// needed reports whether a virtual node must be kept.
func (n *node) needed() bool {
	return n.real || n.pins > 0 || len(n.inbound) > 0 || len(n.children) > 0
}

func (n *node) childNames(realOnly bool) []string {
	names := make([]string, 0, len(n.children))
	for name, c := range n.children {
		if realOnly && !c.real {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (n *node) holders() []string {
	out := make([]string, 0, len(n.inbound))
	for loc := range n.inbound {
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}

// NodeInfo is a snapshot of a node.
type NodeInfo struct {
	// Path is the path the node was addressed by.
	Path string

	// Location is the node's canonical location after following references.
	Location string

	Type   string
	Real   bool
	Active bool

	// Reference is the target location when the addressed slot is a
	// reference that was not followed.
	Reference string

	// Value is the node's value; Null when never written or virtual.
	Value ir.Value

	// Pinned reports whether any pattern binding holds the node.
	Pinned bool

	// Seq is the event sequence of the node's last committed change.
	Seq int64
}

func (n *node) info(path string) NodeInfo {
	v := n.value
	if v == nil {
		v = ir.Null{}
	}
	return NodeInfo{
		Path:      path,
		Location:  n.loc,
		Type:      n.typ,
		Real:      n.real,
		Active:    n.active,
		Reference: n.ref,
		Value:     v,
		Pinned:    n.pins > 0,
		Seq:       n.seq,
	}
}
