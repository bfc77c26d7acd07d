package event

import "sync/atomic"

// Sequence is a monotonic logical clock for event ordering.
//
// Every event committed by a graph is stamped with Next(), so Seq reflects
// commit order regardless of which goroutine later delivers the event.
//
// Thread-safety: safe for concurrent use (atomic operations).
type Sequence struct {
	seq atomic.Int64
}

// NewSequence creates a sequence starting at 0.
func NewSequence() *Sequence {
	return &Sequence{}
}

// NewSequenceAt creates a sequence starting at a specific value.
// Used when a graph is restored from persistence.
func NewSequenceAt(start int64) *Sequence {
	s := &Sequence{}
	s.seq.Store(start)
	return s
}

// Next returns the next sequence number and increments the clock.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
