// Package ident generates identifiers for pattern instances, demands and
// timers.
package ident

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Generator produces unique identifiers.
// Implemented by UUIDv7 (production) and Sequence (tests).
type Generator interface {
	Generate() string
}

// UUIDv7 generates time-sortable UUIDv7 identifiers, which keeps log
// output ordered by creation time.
//
// Thread-safety: UUIDv7 is stateless and safe for concurrent use.
type UUIDv7 struct{}

// Generate creates a new UUIDv7 as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Sequence returns "<prefix>-1", "<prefix>-2", ... for deterministic
// traces and golden files.
//
// Thread-safety: safe for concurrent use via internal mutex.
type Sequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequence creates a sequence generator with the given prefix.
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// Generate returns the next identifier in the sequence.
func (s *Sequence) Generate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", s.prefix, s.n)
}
