package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectWalk(t *testing.T, s *Session, path string, opts WalkOptions) []string {
	t.Helper()
	var out []string
	require.NoError(t, s.Walk(path, opts, func(info NodeInfo) error {
		out = append(out, info.Path)
		return nil
	}))
	return out
}

func TestWalk_ReferenceCycleTerminates(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")
	require.NoError(t, s.CreateNode("/a/b", ""))
	require.NoError(t, s.AddReference("/a/b/up", "/a"))

	assert.Equal(t, []string{"/a", "/a/b", "/a/b/up"}, collectWalk(t, s, "/a", WalkOptions{}))
	assert.Equal(t, []string{"/a", "/a/b"}, collectWalk(t, s, "/a", WalkOptions{FollowReferences: true}))

	// Paths through the cycle still resolve.
	info, err := s.Node("/a/b/up/b/up/b")
	require.NoError(t, err)
	assert.Equal(t, "/a/b", info.Location)
}

func TestWalk_FollowsReferencesIntoTargets(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")
	require.NoError(t, s.CreateNode("/sensors/t1/unit", ""))
	require.NoError(t, s.CreateNode("/room", ""))
	require.NoError(t, s.AddReference("/room/temp", "/sensors/t1"))

	var locs []string
	require.NoError(t, s.Walk("/room", WalkOptions{FollowReferences: true}, func(info NodeInfo) error {
		locs = append(locs, info.Path+"="+info.Location)
		return nil
	}))
	assert.Equal(t, []string{
		"/room=/room",
		"/room/temp=/sensors/t1",
		"/room/temp/unit=/sensors/t1/unit",
	}, locs)
}

func TestWalk_SkipChildrenAndVirtual(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")
	require.NoError(t, s.CreateNode("/a/b/c", ""))
	require.NoError(t, s.CreateNode("/a/bb", ""))
	_, err := s.Pin("/a/v", "")
	require.NoError(t, err)

	var seen []string
	require.NoError(t, s.Walk(RootPath, WalkOptions{}, func(info NodeInfo) error {
		seen = append(seen, info.Path)
		if info.Path == "/a/b" {
			return SkipChildren
		}
		return nil
	}))
	assert.Equal(t, []string{"/", "/a", "/a/b", "/a/bb"}, seen)

	withVirtual := collectWalk(t, s, "/a", WalkOptions{IncludeVirtual: true})
	assert.Contains(t, withVirtual, "/a/v")
}

func TestWalk_HidesUnreadableNodes(t *testing.T) {
	oracle := OracleFunc(func(owner, path string, op Operation) bool {
		return !(owner == "guest" && op == OpRead && IsWithin(path, "/secret"))
	})
	g := openTestGraph(t, WithOracle(oracle))
	require.NoError(t, g.Session("admin").CreateNode("/secret/key", ""))
	require.NoError(t, g.Session("admin").CreateNode("/public", ""))

	assert.Equal(t, []string{"/", "/public"}, collectWalk(t, g.Session("guest"), RootPath, WalkOptions{}))
}
