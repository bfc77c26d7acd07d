package graph

import (
	"errors"
	"strings"
)

// SkipChildren is returned by a Walk callback to skip the descendants of
// the node just visited.
var SkipChildren = errors.New("skip children")

// WalkOptions control Walk.
type WalkOptions struct {
	// FollowReferences descends into reference targets. Each location is
	// still visited at most once.
	FollowReferences bool

	// IncludeVirtual also visits virtual nodes.
	IncludeVirtual bool
}

// walkFrom visits start and its descendants depth-first with children in
// name order. Reference slots are entered only when follow is set.
//
// Every recursive traversal of the graph goes through walkFrom. It keeps
// a visited set keyed by location, so a reference to an ancestor cannot
// make it loop. visit returns false to skip a node's children.
// Caller must hold mu.
func (g *Graph) walkFrom(start *node, startPath string, follow, includeVirtual bool, visit func(n *node, path string) bool) {
	visited := make(map[string]bool)

	var rec func(n *node, path string)
	rec = func(n *node, path string) {
		if follow && n.ref != "" {
			var steps []string
			target, err := g.deref(n, &steps)
			if err != nil {
				return
			}
			n = target
		}
		if visited[n.loc] {
			return
		}
		visited[n.loc] = true
		if !n.real && !includeVirtual {
			return
		}
		if !visit(n, path) {
			return
		}
		for _, name := range n.childNames(false) {
			rec(n.children[name], Join(path, name))
		}
	}
	rec(start, startPath)
}

// Walk calls fn for path and every node beneath it, parents before
// children. The callback runs without internal locks held and may read
// the graph. Nodes the owner may not read are skipped silently.
func (s *Session) Walk(path string, opts WalkOptions, fn func(NodeInfo) error) error {
	g := s.g
	g.mu.RLock()
	if g.closed {
		g.mu.RUnlock()
		return errClosed
	}
	r, err := g.resolve(path, true)
	if err != nil {
		g.mu.RUnlock()
		return err
	}
	if r.node == nil {
		g.mu.RUnlock()
		return errNotFound(r.loc)
	}
	var infos []NodeInfo
	g.walkFrom(r.node, path, opts.FollowReferences, opts.IncludeVirtual, func(n *node, p string) bool {
		if !g.oracle.Permit(s.owner, n.loc, OpRead) {
			return false
		}
		infos = append(infos, n.info(p))
		return true
	})
	g.mu.RUnlock()

	skip := ""
	for _, info := range infos {
		if skip != "" && strings.HasPrefix(info.Path, skip) {
			continue
		}
		skip = ""
		err := fn(info)
		if errors.Is(err, SkipChildren) {
			skip = strings.TrimSuffix(info.Path, "/") + "/"
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}
