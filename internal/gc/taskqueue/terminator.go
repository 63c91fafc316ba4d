package taskqueue

import (
	"runtime"
	"sync/atomic"
	"time"
)

const (
	spinRounds  = 64
	yieldRounds = 32
	sleepPeriod = 50 * time.Microsecond
)

// Terminator detects when all workers of a drain phase ran out of work.
//
// A worker with an empty queue and a failed steal calls Offer. Offer
// returns true once all n workers offered at the same time: nobody holds
// work then and nobody can create more. While waiting, a worker that sees
// any queue non-empty withdraws its offer and returns false to go steal.
//
// Thread Safety: Offer is safe for concurrent use. Reset must be called
// between phases, never during one.
type Terminator struct {
	n       int32
	set     *Set
	offered atomic.Int32
	rounds  atomic.Uint64
}

// NewTerminator creates a terminator for the workers of set.
func NewTerminator(set *Set) *Terminator {
	return &Terminator{n: int32(set.Len()), set: set}
}

// Offer blocks until either every worker offered (true) or work showed up
// somewhere (false).
//
// Backoff: spin, then yield the processor, then sleep in short periods.
func (t *Terminator) Offer() bool {
	t.rounds.Add(1)
	if t.offered.Add(1) == t.n {
		return true
	}
	for i := 0; ; i++ {
		if t.offered.Load() == t.n {
			return true
		}
		if t.set.HasWork() && t.withdraw() {
			return false
		}
		switch {
		case i < spinRounds:
		case i < spinRounds+yieldRounds:
			runtime.Gosched()
		default:
			time.Sleep(sleepPeriod)
		}
	}
}

// withdraw takes back an offer unless termination was already reached.
func (t *Terminator) withdraw() bool {
	for {
		c := t.offered.Load()
		if c == t.n {
			return false
		}
		if t.offered.CompareAndSwap(c, c-1) {
			return true
		}
	}
}

// Terminated reports whether the last Offer round completed.
func (t *Terminator) Terminated() bool {
	return t.offered.Load() == t.n
}

// Rounds returns the number of offers made since the last Reset.
func (t *Terminator) Rounds() uint64 {
	return t.rounds.Load()
}

// Reset prepares the terminator for the next phase.
func (t *Terminator) Reset() {
	t.offered.Store(0)
	t.rounds.Store(0)
}
