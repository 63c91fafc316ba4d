package taskqueue

import (
	"math/rand/v2"
)

// Set holds one Queue per worker.
type Set struct {
	queues []*Queue
}

// NewSet creates n queues with the given deque capacity.
func NewSet(n, capacity int) *Set {
	s := &Set{queues: make([]*Queue, n)}
	for i := range s.queues {
		s.queues[i] = NewQueue(capacity)
	}
	return s
}

// Len returns the number of queues.
func (s *Set) Len() int { return len(s.queues) }

// Queue returns worker i's queue.
func (s *Set) Queue(i int) *Queue { return s.queues[i] }

// NewRand returns the victim-selection source for worker i.
func NewRand(i int) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(i)+1, 0x9E3779B97F4A7C15))
}

// Steal tries to take a task from another worker's queue.
//
// Algorithm (best of two):
//  1. Pick two distinct random victims other than self
//  2. Steal from the one holding more tasks
//  3. Repeat up to 2*n times before giving up
//
// A false return does not mean every queue is empty; the caller offers
// termination, which rechecks.
func (s *Set) Steal(self int, rng *rand.Rand) (Task, bool) {
	n := len(s.queues)
	switch n {
	case 1:
		return Task{}, false
	case 2:
		for attempt := 0; attempt < 2*n; attempt++ {
			if t, ok := s.queues[1-self].Steal(); ok {
				return t, true
			}
		}
		return Task{}, false
	}
	for attempt := 0; attempt < 2*n; attempt++ {
		a := s.randomVictim(self, rng)
		b := s.randomVictim(self, rng)
		victim := a
		if s.queues[b].Size() > s.queues[a].Size() {
			victim = b
		}
		if t, ok := s.queues[victim].Steal(); ok {
			return t, true
		}
	}
	return Task{}, false
}

func (s *Set) randomVictim(self int, rng *rand.Rand) int {
	v := rng.IntN(len(s.queues) - 1)
	if v >= self {
		v++
	}
	return v
}

// HasWork reports whether any queue looked non-empty.
func (s *Set) HasWork() bool {
	for _, q := range s.queues {
		if !q.IsEmpty() {
			return true
		}
	}
	return false
}

// Stats sums the counters of all queues.
func (s *Set) Stats() Stats {
	var total Stats
	for _, q := range s.queues {
		st := q.Stats()
		total.Pushes += st.Pushes
		total.Pops += st.Pops
		total.Steals += st.Steals
		total.Overflows += st.Overflows
	}
	return total
}

// ResetStats zeroes every queue's counters.
func (s *Set) ResetStats() {
	for _, q := range s.queues {
		q.ResetStats()
	}
}
