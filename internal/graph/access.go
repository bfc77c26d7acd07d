package graph

import (
	"fmt"

	"github.com/roach88/resgraph/internal/event"
)

// AccessMode is the strength of an access claim on a node.
type AccessMode int

const (
	// ReadOnly never blocks others and is always granted.
	ReadOnly AccessMode = iota
	// Shared allows writing alongside other shared claimants.
	Shared
	// Exclusive allows writing and denies writes by everyone else.
	Exclusive
)

func (m AccessMode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case Shared:
		return "shared"
	case Exclusive:
		return "exclusive"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Satisfies reports whether a granted mode meets a requested one.
func (m AccessMode) Satisfies(want AccessMode) bool {
	return m >= want
}

type claim struct {
	owner    string
	mode     AccessMode
	priority int
	order    int64
}

// claimSet is every claim on one location.
//
// Arbitration: among the Shared and Exclusive claims, the one with the
// highest priority wins, the earliest claim breaking ties. When the
// winner is Exclusive, its owner is granted Exclusive and everyone else
// ReadOnly. Otherwise every writing claimant is granted Shared.
type claimSet []claim

func (cs claimSet) winner() (claim, bool) {
	var best claim
	found := false
	for _, c := range cs {
		if c.mode == ReadOnly {
			continue
		}
		if !found || c.priority > best.priority || (c.priority == best.priority && c.order < best.order) {
			best = c
			found = true
		}
	}
	return best, found
}

func (cs claimSet) find(owner string) (claim, bool) {
	for _, c := range cs {
		if c.owner == owner {
			return c, true
		}
	}
	return claim{}, false
}

func (cs claimSet) granted(owner string) AccessMode {
	c, ok := cs.find(owner)
	if !ok || c.mode == ReadOnly {
		return ReadOnly
	}
	w, _ := cs.winner()
	if w.mode == Exclusive {
		if w.owner == owner {
			return Exclusive
		}
		return ReadOnly
	}
	return Shared
}

// exclusiveHolder returns the owner granted Exclusive, or "".
func (cs claimSet) exclusiveHolder() string {
	if w, ok := cs.winner(); ok && w.mode == Exclusive {
		return w.owner
	}
	return ""
}

func (cs claimSet) grants() map[string]AccessMode {
	out := make(map[string]AccessMode, len(cs))
	for _, c := range cs {
		out[c.owner] = cs.granted(c.owner)
	}
	return out
}

func grantsChanged(before, after map[string]AccessMode) bool {
	if len(before) != len(after) {
		return true
	}
	for owner, m := range before {
		if after[owner] != m {
			return true
		}
	}
	return false
}

// RequestAccess places or updates this owner's claim on the node at path
// and returns the mode currently granted. The oracle is consulted when
// the claim is made. Structure listeners at the location receive an
// access-changed event whenever the granted modes change.
func (s *Session) RequestAccess(path string, mode AccessMode, priority int) (AccessMode, error) {
	if mode < ReadOnly || mode > Exclusive {
		return ReadOnly, errInvalidArgument(path, fmt.Sprintf("unknown access mode %d", int(mode)))
	}
	op := OpClaim
	if mode == ReadOnly {
		op = OpRead
	}

	g := s.g
	var out event.Outbox
	defer out.Flush()
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ReadOnly, errClosed
	}
	r, err := g.resolve(path, true)
	if err != nil {
		return ReadOnly, err
	}
	if r.node == nil {
		return ReadOnly, errNotFound(r.loc)
	}
	if !g.oracle.Permit(s.owner, r.loc, op) {
		return ReadOnly, errAccessDenied(s.owner, r.loc, op)
	}

	cs := g.claims[r.loc]
	before := cs.grants()
	if i := cs.index(s.owner); i >= 0 {
		cs[i].mode = mode
		cs[i].priority = priority
	} else {
		g.claimOrder++
		cs = append(cs, claim{owner: s.owner, mode: mode, priority: priority, order: g.claimOrder})
	}
	g.claims[r.loc] = cs
	g.postAccessChange(&out, r.node, before, cs.grants())
	return cs.granted(s.owner), nil
}

func (cs claimSet) index(owner string) int {
	for i, c := range cs {
		if c.owner == owner {
			return i
		}
	}
	return -1
}

// ReleaseAccess drops this owner's claim on path and reports whether one
// existed.
func (s *Session) ReleaseAccess(path string) bool {
	g := s.g
	var out event.Outbox
	defer out.Flush()
	g.mu.Lock()
	defer g.mu.Unlock()

	loc := path
	var n *node
	if r, err := g.resolve(path, true); err == nil && r.node != nil {
		loc, n = r.loc, r.node
	}
	cs := g.claims[loc]
	i := cs.index(s.owner)
	if i < 0 {
		return false
	}
	before := cs.grants()
	cs = append(cs[:i:i], cs[i+1:]...)
	if len(cs) == 0 {
		delete(g.claims, loc)
	} else {
		g.claims[loc] = cs
	}
	if n != nil && !g.closed {
		g.postAccessChange(&out, n, before, cs.grants())
	}
	return true
}

// Access returns the mode granted to this owner on path. Without a claim
// the owner holds ReadOnly.
func (s *Session) Access(path string) (AccessMode, error) {
	g := s.g
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return ReadOnly, errClosed
	}
	r, err := g.resolve(path, true)
	if err != nil {
		return ReadOnly, err
	}
	return g.claims[r.loc].granted(s.owner), nil
}

// postAccessChange emits one access-changed event at n when any grant
// differs. Caller must hold mu.
func (g *Graph) postAccessChange(out *event.Outbox, n *node, before, after map[string]AccessMode) {
	if !grantsChanged(before, after) {
		return
	}
	g.reg.post(out, g.types, pending{
		ev: event.Event{
			Seq:     g.seq.Next(),
			Kind:    event.KindAccessChanged,
			Source:  n.loc,
			Changed: n.loc,
		},
		typ: n.typ,
	})
}
