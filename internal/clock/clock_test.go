package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.UnixMilli(0).UTC()

// fakeSource is a controllable real-time source.
type fakeSource struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeSource) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeSource) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestSystem(t *testing.T) {
	var c Clock = System{}
	assert.Equal(t, 1.0, c.Rate())
	assert.WithinDuration(t, time.Now(), c.Now(), time.Second)
	assert.NotPanics(t, func() { c.OnDiscontinuity(func() {})() })
}

func TestSimulated_Rate(t *testing.T) {
	src := &fakeSource{now: time.Unix(1_000_000, 0)}
	c, err := NewSimulated(epoch, 10, WithSource(src.Now))
	require.NoError(t, err)

	assert.Equal(t, epoch, c.Now())
	src.advance(time.Second)
	assert.Equal(t, epoch.Add(10*time.Second), c.Now())

	require.NoError(t, c.SetRate(0.5))
	src.advance(2 * time.Second)
	assert.Equal(t, epoch.Add(11*time.Second), c.Now(), "rate change keeps elapsed time")
	assert.Equal(t, 0.5, c.Rate())

	assert.ErrorIs(t, c.SetRate(-1), ErrInvalidRate)
	_, err = NewSimulated(epoch, -2)
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestSimulated_JumpNotifies(t *testing.T) {
	src := &fakeSource{now: time.Unix(1_000_000, 0)}
	c, err := NewSimulated(epoch, 1, WithSource(src.Now))
	require.NoError(t, err)

	var calls []string
	cancelA := c.OnDiscontinuity(func() { calls = append(calls, "a") })
	c.OnDiscontinuity(func() { calls = append(calls, "b") })

	c.Jump(epoch.Add(5 * time.Second))
	assert.Equal(t, epoch.Add(5*time.Second), c.Now())
	src.advance(time.Second)
	assert.Equal(t, epoch.Add(6*time.Second), c.Now())
	assert.Equal(t, []string{"a", "b"}, calls)

	cancelA()
	require.NoError(t, c.SetRate(2))
	assert.Equal(t, []string{"a", "b", "b"}, calls)
}

func TestManual(t *testing.T) {
	c := NewManual(epoch)
	assert.Equal(t, 0.0, c.Rate())

	notified := 0
	cancel := c.OnDiscontinuity(func() { notified++ })

	assert.Equal(t, epoch.Add(time.Minute), c.Advance(time.Minute))
	c.Set(epoch.Add(time.Hour))
	assert.Equal(t, epoch.Add(time.Hour), c.Now())
	assert.Equal(t, 2, notified)

	cancel()
	c.Advance(time.Second)
	assert.Equal(t, 2, notified)
}
