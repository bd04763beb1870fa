// Package timeline holds the ordered, capacity-bounded collection of
// renderable feed messages. Ordering is: all system messages first in
// insertion order, then user messages in arrival/confirmation order. The
// capacity cap applies to non-system entries only; system messages are
// never evicted.
package timeline

import (
	"sync"

	"chatfeed/pkg/models"
	"chatfeed/pkg/telemetry"
)

// DefaultCapacity is the non-system history cap used when none is configured.
const DefaultCapacity = 50

// Store is safe for concurrent use. Every mutation runs as one atomic step
// under the store lock; the change hook fires after the lock is released so
// observers can read back a consistent snapshot.
type Store struct {
	mu       sync.Mutex
	msgs     []models.Message
	capacity int
	onChange func()
}

// New creates a Store with the given non-system capacity. Zero or negative
// capacity falls back to DefaultCapacity.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: capacity}
}

// SetOnChange installs a hook invoked after every mutation that changed the
// store. The hook runs outside the store lock and must not assume any
// particular goroutine.
func (s *Store) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Append inserts a message, keeping system entries ahead of user entries
// and evicting the oldest non-system entries once the cap is exceeded.
func (s *Store) Append(m models.Message) {
	s.mu.Lock()
	if m.System() {
		// insert after the last system entry so notices keep insertion order
		i := s.systemCount()
		s.msgs = append(s.msgs, models.Message{})
		copy(s.msgs[i+1:], s.msgs[i:])
		s.msgs[i] = m
	} else {
		s.msgs = append(s.msgs, m)
		s.evictLocked()
	}
	telemetry.Timeline.Set(float64(len(s.msgs)))
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Mutate applies patch to the first message matching match, in place.
// Returns true if a message was patched.
func (s *Store) Mutate(match func(*models.Message) bool, patch func(*models.Message)) bool {
	s.mu.Lock()
	var hit bool
	for i := range s.msgs {
		if match(&s.msgs[i]) {
			patch(&s.msgs[i])
			hit = true
			break
		}
	}
	fn := s.onChange
	s.mu.Unlock()
	if hit && fn != nil {
		fn()
	}
	return hit
}

// All returns a copy of the current ordered sequence.
func (s *Store) All() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len returns the total number of entries, system included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// Capacity returns the configured non-system cap.
func (s *Store) Capacity() int { return s.capacity }

// systemCount counts system entries; callers must hold s.mu. System
// entries are contiguous at the head by construction.
func (s *Store) systemCount() int {
	n := 0
	for _, m := range s.msgs {
		if m.System() {
			n++
		}
	}
	return n
}

// evictLocked drops the oldest non-system entries until the non-system
// count fits the cap. Callers must hold s.mu.
func (s *Store) evictLocked() {
	over := len(s.msgs) - s.systemCount() - s.capacity
	for ; over > 0; over-- {
		for i := range s.msgs {
			if !s.msgs[i].System() {
				s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
				telemetry.Evictions.Inc()
				break
			}
		}
	}
}
