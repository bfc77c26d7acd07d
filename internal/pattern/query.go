package pattern

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/resgraph/internal/graph"
)

// Query binds d to root once on behalf of owner and reports whether the
// pattern is satisfied right now. Nothing is pinned, claimed or watched,
// so missing required fields stay unresolved. A query places no access
// claims: field access modes are left out of the verdict and
// Binding.Access shows the mode owner currently holds.
func (m *Manager) Query(owner string, d *Descriptor, root string) (Match, bool, error) {
	if err := checkTarget(d, root); err != nil {
		return Match{}, false, fmt.Errorf("query: %w", err)
	}
	return query(m.g.Session(owner), d, root)
}

// Satisfied is Query without the match.
func (m *Manager) Satisfied(owner string, d *Descriptor, root string) (bool, error) {
	_, ok, err := m.Query(owner, d, root)
	return ok, err
}

// Find returns the satisfied matches of d rooted at the real nodes below
// under whose type is compatible with d.Type, ordered by root location.
// under itself is not a candidate, nor are reference slots. Without
// recursive only direct children are considered. Candidates owner may
// not read are skipped. Like Query, Find installs nothing in the graph.
func (m *Manager) Find(owner string, d *Descriptor, under string, recursive bool) ([]Match, error) {
	if err := checkTarget(d, under); err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	s := m.g.Session(owner)
	types := m.g.Types()

	var candidates []string
	err := s.Walk(under, graph.WalkOptions{}, func(info graph.NodeInfo) error {
		if info.Path == under {
			return nil
		}
		if info.Reference == "" && types.Compatible(info.Type, d.Type) {
			candidates = append(candidates, info.Location)
		}
		if !recursive {
			return graph.SkipChildren
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find %s under %s: %w", d.Name, under, err)
	}
	sort.Strings(candidates)

	var out []Match
	for _, root := range candidates {
		match, ok, err := query(s, d, root)
		if err != nil {
			slog.Debug("pattern candidate skipped", "pattern", d.Name, "root", root, "error", err)
			continue
		}
		if ok {
			out = append(out, match)
		}
	}
	return out, nil
}

func query(s *graph.Session, d *Descriptor, root string) (Match, bool, error) {
	b := newBinder(s, nil, true, d.Name)
	b.dry = true
	p, err := b.run(root, d)
	if err != nil {
		return Match{}, false, fmt.Errorf("%s at %s: %w", d.Name, root, err)
	}
	for _, name := range p.match.order {
		fb := p.match.bindings[name]
		if !fb.Real {
			continue
		}
		if mode, err := s.Access(fb.Location); err == nil {
			fb.Access = mode
			p.match.bindings[name] = fb
		}
	}
	return p.match, p.available(), nil
}

func checkTarget(d *Descriptor, root string) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid descriptor: %w", err)
	}
	if _, err := graph.Split(root); err != nil {
		return fmt.Errorf("%s: %w", d.Name, err)
	}
	return nil
}
