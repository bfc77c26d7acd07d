package pattern

import (
	"sort"
	"strings"

	"github.com/roach88/resgraph/internal/graph"
	"github.com/roach88/resgraph/internal/ir"
)

// Binding is the resolved state of one field.
type Binding struct {
	// Name is qualified with the names of enclosing fields, e.g.
	// "heater.setpoint".
	Name string

	// Path is the path the field was resolved from.
	Path string

	// Location is the resolved node's location; empty when unresolved.
	Location string

	Resolved bool
	Real     bool
	Active   bool
	Type     string
	Value    ir.Value

	// Conflict is set when a real node's type does not satisfy the field.
	Conflict bool

	// Access is the mode currently granted on the node.
	Access graph.AccessMode

	required bool
	want     graph.AccessMode
	notify   bool
}

// satisfied reports whether the binding meets a required field's
// conditions.
func (b Binding) satisfied() bool {
	return b.Resolved && b.Real && b.Active && !b.Conflict && b.Access.Satisfies(b.want)
}

// Match is a snapshot of an instance's bindings, handed to acceptance
// predicates and exposed on Instance.
type Match struct {
	Root     Binding
	bindings map[string]Binding
	order    []string
}

func newMatch() Match {
	return Match{bindings: make(map[string]Binding)}
}

func (m *Match) add(b Binding) {
	if _, ok := m.bindings[b.Name]; !ok {
		m.order = append(m.order, b.Name)
	}
	m.bindings[b.Name] = b
}

// Field returns the binding of a field.
func (m Match) Field(name string) (Binding, bool) {
	b, ok := m.bindings[name]
	return b, ok
}

// Resolved reports whether a field resolved to a node.
func (m Match) Resolved(name string) bool {
	return m.bindings[name].Resolved
}

// Value returns a field's value, Null when unresolved or virtual.
func (m Match) Value(name string) ir.Value {
	b, ok := m.bindings[name]
	if !ok || b.Value == nil {
		return ir.Null{}
	}
	return b.Value
}

// Fields returns every binding in declaration order.
func (m Match) Fields() []Binding {
	out := make([]Binding, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.bindings[name])
	}
	return out
}

// Locations returns the sorted locations of all resolved fields.
func (m Match) Locations() []string {
	var out []string
	for _, b := range m.bindings {
		if b.Resolved {
			out = append(out, b.Location)
		}
	}
	sort.Strings(out)
	return out
}

// scope returns the bindings below prefix with the prefix stripped, as
// seen by a nested descriptor rooted at root.
func (m Match) scope(prefix string, root Binding) Match {
	if prefix == "" {
		return m
	}
	out := newMatch()
	out.Root = root
	for _, name := range m.order {
		if rest, ok := strings.CutPrefix(name, prefix); ok {
			b := m.bindings[name]
			b.Name = rest
			out.add(b)
		}
	}
	return out
}
