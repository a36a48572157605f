package ordering

import (
	"errors"
	"runtime"
	"sync/atomic"
)

// DefaultMaxAttempts bounds the compare-and-swap loop of Sequencer.Next.
const DefaultMaxAttempts = 1024

// ErrContended is returned when Next could not win the compare-and-swap
// within its attempt bound.
var ErrContended = errors.New("ordering: sequencer contended")

// Assignment is a global position and resolved ord handed out together.
type Assignment struct {
	GlobalPosition uint64
	Ord            uint64
}

// Sequencer hands out global positions and ords without a lock.
//
// Both values advance in one compare-and-swap, so an ord is always greater than
// the ord of every lower global position.
type Sequencer struct {
	state       atomic.Pointer[Assignment]
	maxAttempts int
}

// NewSequencer returns a sequencer positioned after last.
func NewSequencer(last Assignment) *Sequencer {
	s := &Sequencer{maxAttempts: DefaultMaxAttempts}
	s.Restore(last)
	return s
}

// Restore moves the sequencer to last. It is meant for open-time recovery.
func (s *Sequencer) Restore(last Assignment) {
	next := last
	s.state.Store(&next)
}

// Last returns the most recent assignment.
func (s *Sequencer) Last() Assignment {
	return *s.state.Load()
}

// Next resolves provisional against the running maximum and reserves the next
// global position.
func (s *Sequencer) Next(provisional int64) (Assignment, error) {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		cur := s.state.Load()
		next := &Assignment{
			GlobalPosition: cur.GlobalPosition + 1,
			Ord:            Resolve(provisional, cur.Ord),
		}
		if s.state.CompareAndSwap(cur, next) {
			return *next, nil
		}
		runtime.Gosched()
	}
	return Assignment{}, ErrContended
}
