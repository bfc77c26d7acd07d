package pattern

import (
	"fmt"
	"strings"

	"github.com/roach88/resgraph/internal/graph"
)

// Field declares one node a pattern needs.
type Field struct {
	// Name identifies the field in a Match. Unique within its descriptor.
	Name string

	// Path is relative to the descriptor's root, e.g. "settings/setpoint".
	Path string

	// Type is the required type tag; empty accepts any type.
	Type string

	// Required fields must be real, active, type compatible and granted
	// the requested access for the pattern to be available. Missing
	// required fields are created as virtual nodes.
	Required bool

	// Access is claimed on the node once it is real. ReadOnly places no
	// claim.
	Access   graph.AccessMode
	Priority int

	// NotifyValue re-evaluates the pattern when the node's value changes.
	NotifyValue bool

	// Nested fields resolve relative to this field's node.
	Nested *Descriptor
}

// Descriptor is a declarative pattern.
type Descriptor struct {
	Name string

	// Type is the type the root must satisfy. Demands instantiate the
	// pattern on every node compatible with it.
	Type string

	Fields []Field

	// Accept may veto availability once every required field is bound.
	// A nil Accept always accepts. A panic counts as a veto.
	Accept func(m Match) bool
}

// Validate checks field names and paths, recursing into nested
// descriptors.
func (d *Descriptor) Validate() error {
	if d == nil {
		return fmt.Errorf("nil descriptor")
	}
	seen := make(map[string]bool, len(d.Fields))
	for i, f := range d.Fields {
		if f.Name == "" {
			return fmt.Errorf("%s: field %d has no name", d.Name, i)
		}
		if strings.Contains(f.Name, ".") {
			return fmt.Errorf("%s: field name %q must not contain '.'", d.Name, f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("%s: duplicate field %q", d.Name, f.Name)
		}
		seen[f.Name] = true
		if strings.Trim(f.Path, "/") == "" {
			return fmt.Errorf("%s.%s: empty path", d.Name, f.Name)
		}
		if _, err := graph.Split(graph.Join(graph.RootPath, f.Path)); err != nil {
			return fmt.Errorf("%s.%s: %w", d.Name, f.Name, err)
		}
		if f.Access < graph.ReadOnly || f.Access > graph.Exclusive {
			return fmt.Errorf("%s.%s: unknown access mode %d", d.Name, f.Name, int(f.Access))
		}
		if f.Nested != nil {
			if err := f.Nested.Validate(); err != nil {
				return fmt.Errorf("%s.%s: %w", d.Name, f.Name, err)
			}
		}
	}
	return nil
}
