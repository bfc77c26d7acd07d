package pattern

import (
	"fmt"
	"log/slog"

	"github.com/roach88/resgraph/internal/graph"
)

// Create makes root real with d's type, together with every required
// field and, with createOptional, every optional one. Nested descriptors
// are created below their field. Nodes that are already real are kept,
// so Create also completes a partial structure. New nodes are real and
// active as CreateNode leaves them; Deactivate takes the structure
// offline until it is filled in.
//
// Each node is a separate commit. On failure the nodes created so far
// stay in place.
func (m *Manager) Create(owner string, d *Descriptor, root string, createOptional bool) (Match, error) {
	if err := checkTarget(d, root); err != nil {
		return Match{}, fmt.Errorf("create: %w", err)
	}
	s := m.g.Session(owner)
	if err := s.CreateNode(root, d.Type); err != nil {
		return Match{}, fmt.Errorf("create %s at %s: %w", d.Name, root, err)
	}
	if err := createFields(s, d, root, createOptional); err != nil {
		return Match{}, fmt.Errorf("create %s at %s: %w", d.Name, root, err)
	}
	match, _, err := query(s, d, root)
	if err != nil {
		return Match{}, err
	}
	slog.Debug("pattern structure created", "pattern", d.Name, "root", root, "owner", owner, "optional", createOptional)
	return match, nil
}

func createFields(s *graph.Session, d *Descriptor, base string, all bool) error {
	for _, f := range d.Fields {
		if !f.Required && !all {
			continue
		}
		path := graph.Join(base, f.Path)
		typ := f.Type
		if typ == "" && f.Nested != nil {
			typ = f.Nested.Type
		}
		if err := s.CreateNode(path, typ); err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		if f.Nested != nil {
			if err := createFields(s, f.Nested, path, all); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
		}
	}
	return nil
}

// Activate activates root and every resolved real field of d at root.
// Fields go first, so listeners see the root's activation last.
func (m *Manager) Activate(owner string, d *Descriptor, root string) error {
	if err := checkTarget(d, root); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	return setActive(m.g.Session(owner), d, root, true)
}

// Deactivate deactivates root and every resolved real field of d at
// root, fields first.
func (m *Manager) Deactivate(owner string, d *Descriptor, root string) error {
	if err := checkTarget(d, root); err != nil {
		return fmt.Errorf("deactivate: %w", err)
	}
	return setActive(m.g.Session(owner), d, root, false)
}

// SetActive activates or deactivates the nodes the instance is bound to
// with the instance's owner.
func (i *Instance) SetActive(active bool) error {
	return setActive(i.s, i.desc, i.root, active)
}

func setActive(s *graph.Session, d *Descriptor, root string, active bool) error {
	match, _, err := query(s, d, root)
	if err != nil {
		return err
	}
	if !match.Root.Real {
		// Reports NOT_FOUND or VIRTUAL for the root.
		return s.SetActive(root, active)
	}

	done := make(map[string]bool)
	for _, b := range match.Fields() {
		if !b.Real || b.Active == active || done[b.Location] || b.Location == match.Root.Location {
			continue
		}
		done[b.Location] = true
		if err := s.SetActive(b.Location, active); err != nil {
			return fmt.Errorf("field %s: %w", b.Name, err)
		}
	}
	if match.Root.Active != active {
		if err := s.SetActive(match.Root.Location, active); err != nil {
			return err
		}
	}
	return nil
}
