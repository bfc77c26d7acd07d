package graph

import (
	"sort"
	"sync"
)

// DefaultBaseType is the type given to ancestors materialized without a
// more specific type.
const DefaultBaseType = "resource"

// TypeTable maps type tags to capability sets.
//
// A tag always carries itself as a capability; Define adds the
// capabilities of parent tags, which gives single or multiple
// "inheritance" without a nominal hierarchy. A node of type have
// satisfies a requirement want when have's capabilities include all of
// want's.
//
// Thread-safety: safe for concurrent use.
type TypeTable struct {
	mu   sync.RWMutex
	base string
	caps map[string]map[string]struct{}
}

// NewTypeTable creates a table whose base type is DefaultBaseType.
func NewTypeTable() *TypeTable {
	t := &TypeTable{
		base: DefaultBaseType,
		caps: make(map[string]map[string]struct{}),
	}
	t.Define(DefaultBaseType)
	return t
}

// Base returns the base type tag.
func (t *TypeTable) Base() string {
	return t.base
}

// Define registers tag with the capabilities of itself, the base type
// and every parent. Parents must be defined first. Undefined tags behave
// as if defined with no parents.
func (t *TypeTable) Define(tag string, parents ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := map[string]struct{}{tag: {}, t.base: {}}
	for _, p := range parents {
		for c := range t.capsLocked(p) {
			set[c] = struct{}{}
		}
	}
	t.caps[tag] = set
}

func (t *TypeTable) capsLocked(tag string) map[string]struct{} {
	if set, ok := t.caps[tag]; ok {
		return set
	}
	return map[string]struct{}{tag: {}, t.base: {}}
}

// Compatible reports whether a node of type have can serve where want is
// required. The empty want matches anything.
func (t *TypeTable) Compatible(have, want string) bool {
	if want == "" || have == want {
		return true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	haveCaps := t.capsLocked(have)
	for c := range t.capsLocked(want) {
		if _, ok := haveCaps[c]; !ok {
			return false
		}
	}
	return true
}

// Capabilities returns the sorted capability set of tag.
func (t *TypeTable) Capabilities(tag string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set := t.capsLocked(tag)
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
