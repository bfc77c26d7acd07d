package graph

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/resgraph/internal/event"
	"github.com/roach88/resgraph/internal/executor"
	"github.com/roach88/resgraph/internal/ir"
)

func openTestGraph(t *testing.T, opts ...Option) *Graph {
	t.Helper()
	g, err := Open(append([]Option{WithExecutor(executor.Inline{})}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

// recorder collects delivered events.
type recorder struct {
	mu      sync.Mutex
	events  []event.Event
	batches int
	onBatch func([]event.Event)
}

func (r *recorder) Deliver(batch []event.Event) {
	r.mu.Lock()
	r.events = append(r.events, batch...)
	r.batches++
	fn := r.onBatch
	r.mu.Unlock()
	if fn != nil {
		fn(batch)
	}
}

// lines renders events without sequence numbers.
func (r *recorder) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, fmt.Sprintf("%s %s@%s", e.Kind, e.Changed, e.Source))
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.batches = 0
}

func TestCreateNode_MaterializesAncestors(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")

	require.NoError(t, s.CreateNode("/room/thermostat", "thermostat"))

	for _, p := range []string{"/room", "/room/thermostat"} {
		ok, err := s.Exists(p)
		require.NoError(t, err)
		assert.True(t, ok, p)
	}
	room, err := s.Node("/room")
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseType, room.Type)
	assert.True(t, room.Active, "created nodes start active")

	children, err := s.ListChildren("/room")
	require.NoError(t, err)
	assert.Equal(t, []string{"/room/thermostat"}, children)
}

func TestCreateNode_Idempotent(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")
	rec := &recorder{}
	require.NoError(t, s.AddStructureListener("/a", rec))

	require.NoError(t, s.CreateNode("/a", "sensor"))
	require.NoError(t, s.CreateNode("/a", "sensor"))
	require.NoError(t, s.CreateNode("/a", ""))

	assert.Equal(t, []string{"created /a@/a"}, rec.lines())
}

func TestCreateNode_TypeConflict(t *testing.T) {
	g := openTestGraph(t)
	g.Types().Define("sensor")
	g.Types().Define("temperature-sensor", "sensor")
	s := g.Session("app")

	require.NoError(t, s.CreateNode("/t", "temperature-sensor"))
	assert.NoError(t, s.CreateNode("/t", "sensor"), "subtype satisfies the requested type")

	require.NoError(t, s.CreateNode("/p", "sensor"))
	err := s.CreateNode("/p", "temperature-sensor")
	require.Error(t, err)
	assert.True(t, IsTypeConflict(err))
}

func TestCreateNode_Events(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")
	root, a := &recorder{}, &recorder{}
	require.NoError(t, s.AddStructureListener(RootPath, root))
	require.NoError(t, s.AddStructureListener("/a", a))

	require.NoError(t, s.CreateNode("/a/b", ""))

	assert.Equal(t, []string{"subresource-added /a@/"}, root.lines())
	assert.Equal(t, []string{"created /a@/a", "subresource-added /a/b@/a"}, a.lines())
	assert.Equal(t, 1, a.batches, "one commit, one compound event")
}

func TestInvalidPaths(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")

	for _, p := range []string{"", "a", "/a//b", "/a/", "/a/./b", "/../a"} {
		err := s.CreateNode(p, "")
		require.Error(t, err, p)
		assert.True(t, IsInvalidPath(err), p)
	}
	assert.True(t, IsInvalidPath(s.CreateNode(RootPath, "")))
	assert.True(t, IsInvalidPath(s.DeleteNode(RootPath)))
}

func TestDeleteNode_Recursive(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")
	require.NoError(t, s.CreateNode("/a/b/c", ""))
	require.NoError(t, s.CreateNode("/a/d", ""))
	rec := &recorder{}
	require.NoError(t, s.AddStructureListener("/a", rec))

	require.NoError(t, s.DeleteNode("/a"))

	for _, p := range []string{"/a", "/a/b", "/a/b/c", "/a/d"} {
		_, err := s.Node(p)
		assert.True(t, IsNotFound(err), "%s should be removed entirely", p)
	}
	assert.Equal(t, []string{
		"subresource-removed /a/d@/a",
		"subresource-removed /a/b@/a",
		"deactivated /a@/a",
		"deleted /a@/a",
	}, rec.lines())
}

func TestDeleteNode_NotFound(t *testing.T) {
	g := openTestGraph(t)
	err := g.Session("app").DeleteNode("/missing")
	assert.True(t, IsNotFound(err))
}

func TestDeleteNode_ReferencedTargetRevertsToVirtual(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")
	require.NoError(t, s.CreateNode("/a/b", ""))
	require.NoError(t, s.CreateNode("/x", ""))
	require.NoError(t, s.AddReference("/x/r", "/a/b"))

	holder := &recorder{}
	require.NoError(t, s.AddStructureListener("/x/r", holder))

	require.NoError(t, s.DeleteNode("/a/b"))

	info, err := s.Node("/a/b")
	require.NoError(t, err, "referenced node must not vanish")
	assert.False(t, info.Real)
	ok, err := s.Exists("/x/r")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"deactivated /a/b@/x/r"}, holder.lines())

	holder.reset()
	require.NoError(t, s.CreateNode("/a/b", ""))
	ok, err = s.Exists("/x/r")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"activated /a/b@/x/r"}, holder.lines())
}

func TestDeleteNode_NeverFollowsReferences(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")
	require.NoError(t, s.CreateNode("/target/leaf", ""))
	require.NoError(t, s.CreateNode("/a", ""))
	require.NoError(t, s.AddReference("/a/r", "/target"))

	require.NoError(t, s.DeleteNode("/a"))

	ok, err := s.Exists("/target/leaf")
	require.NoError(t, err)
	assert.True(t, ok)
	info, err := s.Node("/target")
	require.NoError(t, err)
	assert.True(t, info.Real)
}

func TestDeleteNode_ThroughReferencePathRemovesSlot(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")
	require.NoError(t, s.CreateNode("/target", ""))
	require.NoError(t, s.AddReference("/r", "/target"))

	require.NoError(t, s.DeleteNode("/r"))

	_, err := s.Slot("/r")
	assert.True(t, IsNotFound(err))
	ok, err := s.Exists("/target")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAddReference(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")
	require.NoError(t, s.CreateNode("/sensors/t1", "sensor"))
	require.NoError(t, s.CreateNode("/room", ""))
	require.NoError(t, s.SetValue("/sensors/t1", ir.Float(21.5)))

	slot, target := &recorder{}, &recorder{}
	require.NoError(t, s.AddStructureListener("/room/temp", slot))
	require.NoError(t, s.AddStructureListener("/sensors/t1", target))

	require.NoError(t, s.AddReference("/room/temp", "/sensors/t1"))

	v, err := s.Value("/room/temp")
	require.NoError(t, err)
	assert.Equal(t, ir.Float(21.5), v)

	info, err := s.Slot("/room/temp")
	require.NoError(t, err)
	assert.Equal(t, "/sensors/t1", info.Reference)
	assert.Equal(t, "sensor", info.Type)

	assert.Equal(t, []string{"created /room/temp@/room/temp", "reference-added /sensors/t1@/room/temp"}, slot.lines())
	assert.Equal(t, []string{"reference-added /room/temp@/sensors/t1"}, target.lines())

	// Resolution continues through the reference.
	require.NoError(t, s.CreateNode("/room/temp/unit", ""))
	ok, err := s.Exists("/sensors/t1/unit")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAddReference_Validation(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")
	require.NoError(t, s.CreateNode("/a/b", ""))

	assert.True(t, IsNotFound(s.AddReference("/r", "/missing")))
	assert.True(t, IsNotFound(s.AddReference("/no/parent/r", "/a")))
	assert.True(t, IsInvalidArgument(s.AddReference("/a", "/a/b")), "target inside the slot")

	_, err := s.Pin("/v", "")
	require.NoError(t, err)
	assert.True(t, IsVirtual(s.AddReference("/r", "/v")))
	assert.True(t, IsVirtual(s.AddReference("/v/r", "/a")))
}

func TestAddReference_ReplacesOwnedSubtree(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")
	require.NoError(t, s.CreateNode("/a/slot/child", ""))
	require.NoError(t, s.CreateNode("/t", ""))

	require.NoError(t, s.AddReference("/a/slot", "/t"))

	_, err := s.Node("/a/slot/child")
	assert.True(t, IsNotFound(err), "resolution now goes through /t")
	info, err := s.Slot("/a/slot")
	require.NoError(t, err)
	assert.Equal(t, "/t", info.Reference)
}

func TestRemoveReference(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")
	require.NoError(t, s.CreateNode("/t", ""))
	require.NoError(t, s.AddReference("/r", "/t"))
	target := &recorder{}
	require.NoError(t, s.AddStructureListener("/t", target))

	require.NoError(t, s.RemoveReference("/r"))

	_, err := s.Slot("/r")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, []string{"reference-removed /r@/t"}, target.lines())
	assert.True(t, IsInvalidArgument(s.RemoveReference("/t")))
}

func TestRemoveReference_CollectsVirtualTarget(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")
	require.NoError(t, s.CreateNode("/a/b", ""))
	require.NoError(t, s.AddReference("/r", "/a/b"))
	require.NoError(t, s.DeleteNode("/a"))

	_, err := s.Node("/a/b")
	require.NoError(t, err, "kept virtual for the reference")

	require.NoError(t, s.RemoveReference("/r"))

	_, err = s.Node("/a/b")
	assert.True(t, IsNotFound(err))
	_, err = s.Node("/a")
	assert.True(t, IsNotFound(err), "virtual ancestor collected too")
}

func TestSetActive(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")
	require.NoError(t, s.CreateNode("/a", ""))
	rec := &recorder{}
	require.NoError(t, s.AddStructureListener("/a", rec))

	require.NoError(t, s.SetActive("/a", false))
	require.NoError(t, s.SetActive("/a", false))
	require.NoError(t, s.SetActive("/a", true))

	assert.Equal(t, []string{"deactivated /a@/a", "activated /a@/a"}, rec.lines())

	_, err := s.Pin("/v", "")
	require.NoError(t, err)
	assert.True(t, IsVirtual(s.SetActive("/v", true)))
}

func TestSetActiveRecursive(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")
	require.NoError(t, s.CreateNode("/a/b/c", ""))
	require.NoError(t, s.CreateNode("/other", ""))
	require.NoError(t, s.AddReference("/a/r", "/other"))

	require.NoError(t, s.SetActiveRecursive("/a", false))

	for _, p := range []string{"/a", "/a/b", "/a/b/c"} {
		info, err := s.Node(p)
		require.NoError(t, err)
		assert.False(t, info.Active, p)
	}
	other, err := s.Node("/other")
	require.NoError(t, err)
	assert.True(t, other.Active, "references are not followed")
}

func TestSetActiveRecursive_DeniedNodeAbortsAll(t *testing.T) {
	oracle := OracleFunc(func(owner, path string, op Operation) bool {
		return !(op == OpActivate && path == "/a/b/c")
	})
	g := openTestGraph(t, WithOracle(oracle))
	s := g.Session("app")
	require.NoError(t, s.CreateNode("/a/b/c", ""))

	err := s.SetActiveRecursive("/a", false)
	require.Error(t, err)
	assert.True(t, IsAccessDenied(err))

	info, err := s.Node("/a")
	require.NoError(t, err)
	assert.True(t, info.Active, "rolled back")
}

func TestValues(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")
	require.NoError(t, s.CreateNode("/t", ""))

	v, err := s.Value("/t")
	require.NoError(t, err)
	assert.Equal(t, ir.Null{}, v)

	every, onChange := &recorder{}, &recorder{}
	require.NoError(t, s.AddValueListener("/t", every, EveryUpdate))
	require.NoError(t, s.AddValueListener("/t", onChange, OnChange))

	require.NoError(t, s.SetValue("/t", ir.Float(20)))
	require.NoError(t, s.SetValue("/t", ir.Float(20)))
	require.NoError(t, s.SetValue("/t", ir.Float(21)))

	assert.Len(t, every.events, 3)
	require.Len(t, onChange.events, 2)
	assert.Equal(t, ir.Null{}, onChange.events[0].Previous)
	assert.Equal(t, ir.Float(20), onChange.events[0].Value)
	assert.Equal(t, ir.Float(20), onChange.events[1].Previous)
	assert.Equal(t, ir.Float(21), onChange.events[1].Value)

	_, err = s.Pin("/v", "")
	require.NoError(t, err)
	assert.True(t, IsVirtual(s.SetValue("/v", ir.Int(1))))
	_, err = s.Value("/v")
	assert.True(t, IsVirtual(err))
}

func TestSequenceIsMonotonic(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")
	rec := &recorder{}
	require.NoError(t, s.AddStructureListener("/a", rec))

	require.NoError(t, s.CreateNode("/a/b", ""))
	require.NoError(t, s.SetActive("/a", false))
	require.NoError(t, s.DeleteNode("/a/b"))

	var last int64
	for _, e := range rec.events {
		assert.Greater(t, e.Seq, last)
		last = e.Seq
	}
	assert.Equal(t, last, g.Seq())
}

func TestPinAndUnpin(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")

	loc, err := s.Pin("/a/b/c", "sensor")
	require.NoError(t, err)
	assert.Equal(t, "/a/b/c", loc)

	info, err := s.Node("/a/b/c")
	require.NoError(t, err)
	assert.False(t, info.Real)
	assert.True(t, info.Pinned)
	assert.Equal(t, "sensor", info.Type)

	require.NoError(t, s.CreateNode("/a/b/c", ""))
	info, err = s.Node("/a/b/c")
	require.NoError(t, err)
	assert.Equal(t, "sensor", info.Type, "virtual type kept when create names none")

	require.NoError(t, s.DeleteNode("/a"))
	info, err = s.Node("/a/b/c")
	require.NoError(t, err, "pinned node reverts to virtual")
	assert.False(t, info.Real)

	assert.True(t, s.Unpin("/a/b/c"))
	assert.False(t, s.Unpin("/a/b/c"))
	_, err = s.Node("/a")
	assert.True(t, IsNotFound(err), "unneeded virtual chain removed")
}

func TestRegistrationSurvivesMaterialization(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")
	rec := &recorder{}
	require.NoError(t, s.AddStructureListener("/later", rec))

	_, err := s.Pin("/later", "")
	require.NoError(t, err)
	require.NoError(t, s.CreateNode("/later", ""))
	require.NoError(t, s.DeleteNode("/later"))
	require.NoError(t, s.CreateNode("/later", ""))

	assert.Equal(t, []string{
		"created /later@/later",
		"deactivated /later@/later",
		"deleted /later@/later",
		"created /later@/later",
	}, rec.lines())
}

func TestRegistrationIdempotent(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")
	rec := &recorder{}

	require.NoError(t, s.AddStructureListener("/a", rec))
	require.NoError(t, s.AddStructureListener("/a", rec))
	require.NoError(t, s.CreateNode("/a", ""))
	assert.Len(t, rec.events, 1)

	assert.True(t, s.RemoveStructureListener("/a", rec))
	assert.False(t, s.RemoveStructureListener("/a", rec))
	assert.False(t, s.RemoveValueListener("/a", rec))

	rec.reset()
	require.NoError(t, s.SetActive("/a", false))
	assert.Empty(t, rec.events)
}

func TestRegistrationPerOwner(t *testing.T) {
	g := openTestGraph(t)
	rec := &recorder{}
	require.NoError(t, g.Session("one").AddStructureListener("/a", rec))
	require.NoError(t, g.Session("two").AddStructureListener("/a", rec))

	require.NoError(t, g.Session("one").CreateNode("/a", ""))
	assert.Len(t, rec.events, 2, "one event per registration")

	assert.True(t, g.Session("two").RemoveStructureListener("/a", rec))
	assert.False(t, g.Session("two").RemoveStructureListener("/a", rec))
}

func TestSharedSubscriptionBatchesAcrossRegistrations(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")
	rec := &recorder{}
	require.NoError(t, s.AddStructureListener("/a", rec))
	require.NoError(t, s.AddStructureListener("/a/b", rec))

	require.NoError(t, s.CreateNode("/a/b", ""))

	assert.Equal(t, 1, rec.batches)
	assert.Equal(t, []string{
		"created /a@/a",
		"created /a/b@/a/b",
		"subresource-added /a/b@/a",
	}, rec.lines())

	assert.Equal(t, 2, s.RemoveListener(rec))
	assert.Equal(t, 0, s.RemoveListener(rec))
}

func TestTypeListener(t *testing.T) {
	g := openTestGraph(t)
	g.Types().Define("sensor")
	g.Types().Define("temperature-sensor", "sensor")
	s := g.Session("app")
	rec := &recorder{}
	require.NoError(t, s.AddTypeListener("sensor", rec))

	require.NoError(t, s.CreateNode("/room/t", "temperature-sensor"))
	require.NoError(t, s.CreateNode("/room/light", "switch"))
	require.NoError(t, s.SetActive("/room/t", false))
	require.NoError(t, s.DeleteNode("/room"))

	assert.Equal(t, []string{
		"created /room/t@/room/t",
		"deactivated /room/t@/room/t",
		"deleted /room/t@/room/t",
	}, rec.lines())
}

func TestListenerMustBeComparable(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")

	err := s.AddStructureListener("/a", event.HandlerFunc(func([]event.Event) {}))
	require.Error(t, err)
	assert.True(t, IsInvalidArgument(err))

	assert.NoError(t, s.AddStructureListener("/a", ListenerFunc(func([]event.Event) {})))
}

func TestListenerCanReadDuringDelivery(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")
	var seen []bool
	rec := &recorder{onBatch: func([]event.Event) {
		ok, err := s.Exists("/a")
		require.NoError(t, err)
		seen = append(seen, ok)
	}}
	require.NoError(t, s.AddStructureListener("/a", rec))

	require.NoError(t, s.CreateNode("/a", ""))
	assert.Equal(t, []bool{true}, seen)
}

// reRegistering drops and restores its only registration during its
// first delivery, then lingers in AfterDelivery.
type reRegistering struct {
	s    *Session
	path string
	once sync.Once

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delivered   atomic.Int32
}

func (l *reRegistering) Deliver(batch []event.Event) {
	n := l.inFlight.Add(1)
	for {
		cur := l.maxInFlight.Load()
		if n <= cur || l.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	l.once.Do(func() {
		l.s.RemoveStructureListener(l.path, l)
		_ = l.s.AddStructureListener(l.path, l)
	})
	l.delivered.Add(int32(len(batch)))
}

func (l *reRegistering) AfterDelivery() {
	time.Sleep(50 * time.Millisecond)
	l.inFlight.Add(-1)
}

func TestReRegisteringDuringDeliveryKeepsOneInFlight(t *testing.T) {
	g := openTestGraph(t, WithExecutor(executor.Goroutine{}))
	s := g.Session("app")
	require.NoError(t, s.CreateNode("/a", ""))

	l := &reRegistering{s: s, path: "/a"}
	require.NoError(t, s.AddStructureListener("/a", l))
	g.mu.RLock()
	first := g.reg.subs[subKey{listener: l, owner: "app"}].sub
	g.mu.RUnlock()

	require.NoError(t, s.SetActive("/a", false))
	require.Eventually(t, func() bool { return l.delivered.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, s.SetActive("/a", true))
	require.Eventually(t, func() bool { return l.delivered.Load() == 2 }, 2*time.Second, time.Millisecond)

	assert.Equal(t, int32(1), l.maxInFlight.Load())
	g.mu.RLock()
	again := g.reg.subs[subKey{listener: l, owner: "app"}].sub
	g.mu.RUnlock()
	assert.Same(t, first, again, "re-added registration reuses the queue")
}

func TestRemovedIdleSubscriptionIsForgotten(t *testing.T) {
	g := openTestGraph(t)
	s := g.Session("app")
	rec := &recorder{}
	require.NoError(t, s.AddStructureListener("/a", rec))
	require.True(t, s.RemoveStructureListener("/a", rec))

	g.mu.RLock()
	defer g.mu.RUnlock()
	assert.Empty(t, g.reg.subs)
	assert.Empty(t, g.reg.dormant)
}

func TestAccessDenied(t *testing.T) {
	oracle := OracleFunc(func(owner, path string, op Operation) bool {
		if owner == "guest" {
			return op == OpRead
		}
		return true
	})
	g := openTestGraph(t, WithOracle(oracle))
	require.NoError(t, g.Session("admin").CreateNode("/a", ""))

	guest := g.Session("guest")
	err := guest.CreateNode("/a/b", "")
	require.Error(t, err)
	assert.True(t, IsAccessDenied(err))

	var ge *Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "guest", ge.Owner)
	assert.Equal(t, OpCreate, ge.Op)

	assert.True(t, IsAccessDenied(guest.SetValue("/a", ir.Int(1))))
	assert.True(t, IsAccessDenied(guest.DeleteNode("/a")))
	assert.True(t, IsAccessDenied(guest.AddStructureListener("/a", &recorder{})))

	ok, err := guest.Exists("/a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClose(t *testing.T) {
	g, err := Open(WithExecutor(executor.Inline{}))
	require.NoError(t, err)
	s := g.Session("app")
	require.NoError(t, s.CreateNode("/a", ""))

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())

	assert.True(t, IsClosed(s.CreateNode("/b", "")))
	_, err = s.Node("/a")
	assert.True(t, IsClosed(err))
	assert.True(t, IsClosed(s.AddStructureListener("/a", &recorder{})))
}

func TestErrorString(t *testing.T) {
	err := errAccessDenied("guest", "/a", OpWrite)
	assert.Equal(t, "ACCESS_DENIED: write not permitted (path=/a, owner=guest)", err.Error())
	assert.Equal(t, "NOT_FOUND: no such node (path=/x)", errNotFound("/x").Error())
	assert.Equal(t, "CLOSED: graph is closed", errClosed.Error())

	wrapped := fmt.Errorf("binding: %w", errVirtual("/v"))
	assert.True(t, IsVirtual(wrapped))
	assert.False(t, IsNotFound(wrapped))
}
