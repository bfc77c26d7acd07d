package graph

import (
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/resgraph/internal/ir"
)

// memoryPersistence keeps records in a map and can be told to fail.
type memoryPersistence struct {
	mu      sync.Mutex
	records map[string]NodeRecord
	fail    bool
	applies int
}

func newMemoryPersistence() *memoryPersistence {
	return &memoryPersistence{records: make(map[string]NodeRecord)}
}

func (m *memoryPersistence) LoadNodes() ([]NodeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]NodeRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *memoryPersistence) Apply(c Changes) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.applies++
	for _, r := range c.Saves {
		m.records[r.Path] = r
	}
	for _, p := range c.Deletes {
		delete(m.records, p)
	}
	return nil
}

func TestPersistence_WritesThrough(t *testing.T) {
	mem := newMemoryPersistence()
	g := openTestGraph(t, WithPersistence(mem))
	s := g.Session("app")

	require.NoError(t, s.CreateNode("/room/t", "sensor"))
	require.NoError(t, s.SetValue("/room/t", ir.Float(19.5)))
	require.NoError(t, s.AddReference("/alias", "/room/t"))

	require.Contains(t, mem.records, "/room/t")
	rec := mem.records["/room/t"]
	assert.Equal(t, "sensor", rec.Type)
	assert.Equal(t, ir.Float(19.5), rec.Value)
	assert.True(t, rec.Active)
	assert.Equal(t, "/room/t", mem.records["/alias"].Reference)

	require.NoError(t, s.DeleteNode("/alias"))
	assert.NotContains(t, mem.records, "/alias")
}

func TestPersistence_VirtualNodesAreNotStored(t *testing.T) {
	mem := newMemoryPersistence()
	g := openTestGraph(t, WithPersistence(mem))
	s := g.Session("app")

	_, err := s.Pin("/v/w", "")
	require.NoError(t, err)
	require.NoError(t, s.CreateNode("/v/w", ""))
	require.NoError(t, s.DeleteNode("/v"))

	assert.Empty(t, mem.records)
}

func TestPersistence_Restore(t *testing.T) {
	mem := newMemoryPersistence()
	g1 := openTestGraph(t, WithPersistence(mem))
	s1 := g1.Session("app")
	require.NoError(t, s1.CreateNode("/room/t", "sensor"))
	require.NoError(t, s1.SetValue("/room/t", ir.Int(7)))
	require.NoError(t, s1.SetActive("/room", false))
	require.NoError(t, s1.AddReference("/alias", "/room/t"))
	last := g1.Seq()
	require.NoError(t, g1.Close())

	g2 := openTestGraph(t, WithPersistence(mem))
	s2 := g2.Session("app")

	v, err := s2.Value("/alias")
	require.NoError(t, err)
	assert.Equal(t, ir.Int(7), v)
	room, err := s2.Node("/room")
	require.NoError(t, err)
	assert.False(t, room.Active)
	assert.Equal(t, last, g2.Seq(), "sequence resumes from stored state")

	// The restored reference keeps the target alive as virtual on delete.
	require.NoError(t, s2.DeleteNode("/room/t"))
	info, err := s2.Node("/room/t")
	require.NoError(t, err)
	assert.False(t, info.Real)
}

func TestPersistence_FailureRollsBack(t *testing.T) {
	mem := newMemoryPersistence()
	g := openTestGraph(t, WithPersistence(mem))
	s := g.Session("app")
	require.NoError(t, s.CreateNode("/a", ""))
	rec := &recorder{}
	require.NoError(t, s.AddStructureListener("/a", rec))

	mem.fail = true
	err := s.CreateNode("/a/b/c", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	_, err = s.Node("/a/b")
	assert.True(t, IsNotFound(err))
	assert.Empty(t, rec.events, "no events for an aborted commit")

	require.Error(t, s.DeleteNode("/a"))
	ok, err := s.Exists("/a")
	require.NoError(t, err)
	assert.True(t, ok)

	mem.fail = false
	require.NoError(t, s.CreateNode("/a/b/c", ""))
	assert.Contains(t, mem.records, "/a/b/c")
}
