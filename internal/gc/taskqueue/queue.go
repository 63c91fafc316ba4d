package taskqueue

import (
	"sync/atomic"
)

// DefaultCapacity is the deque capacity used when none is configured.
const DefaultCapacity = 1 << 13

// slot stores one packed task in two atomic words. A steal may read a slot
// the owner is overwriting after wrap-around; the CAS on top then fails and
// the torn value is discarded.
type slot struct {
	w0 atomic.Uint64
	w1 atomic.Uint64
}

// Stats counts queue operations.
type Stats struct {
	Pushes    uint64
	Pops      uint64
	Steals    uint64
	Overflows uint64
}

// Queue is one worker's task queue.
//
// Layout:
//   - deque: bounded circular array indexed by the monotonically increasing
//     counters top (steal end) and bottom (owner end)
//   - overflow: unbounded owner-only stack taking pushes while the deque is full
//
// Thread Safety: Push and Pop may only be called by the owning worker.
// Steal, Size and IsEmpty are safe from any worker.
type Queue struct {
	top    atomic.Int64
	_      [56]byte
	bottom atomic.Int64
	_      [56]byte

	mask  int64
	slots []slot

	overflow    []Task
	overflowLen atomic.Int64

	pushes    atomic.Uint64
	pops      atomic.Uint64
	steals    atomic.Uint64
	overflows atomic.Uint64
}

// NewQueue creates a queue whose deque holds capacity tasks. capacity is
// rounded up to a power of two.
func NewQueue(capacity int) *Queue {
	if capacity < 2 {
		capacity = 2
	}
	n := 1
	for n < capacity {
		n <<= 1
	}
	return &Queue{
		mask:  int64(n - 1),
		slots: make([]slot, n),
	}
}

// Capacity returns the deque capacity.
func (q *Queue) Capacity() int {
	return len(q.slots)
}

// Push adds a task at the owner end. A full deque spills into the overflow
// stack, so Push never drops work.
func (q *Queue) Push(t Task) {
	q.pushes.Add(1)
	if q.pushLocal(t) {
		return
	}
	q.overflows.Add(1)
	q.overflow = append(q.overflow, t)
	q.overflowLen.Store(int64(len(q.overflow)))
}

func (q *Queue) pushLocal(t Task) bool {
	b := q.bottom.Load()
	top := q.top.Load()
	if b-top >= int64(len(q.slots)) {
		return false
	}
	w0, w1 := t.pack()
	s := &q.slots[b&q.mask]
	s.w0.Store(w0)
	s.w1.Store(w1)
	q.bottom.Store(b + 1)
	return true
}

// Pop removes the most recently pushed task. The deque is preferred; when
// it is empty the overflow stack refills it.
//
// Algorithm (owner side of Chase-Lev):
//  1. Publish bottom-1, then read top
//  2. More than one element left: take bottom without synchronization
//  3. Exactly one element: race stealers for it with a CAS on top
//  4. Empty: restore bottom and fall back to the overflow stack
func (q *Queue) Pop() (Task, bool) {
	if t, ok := q.popLocal(); ok {
		q.pops.Add(1)
		return t, true
	}
	if len(q.overflow) == 0 {
		return Task{}, false
	}
	q.refill()
	if t, ok := q.popLocal(); ok {
		q.pops.Add(1)
		return t, true
	}
	return Task{}, false
}

func (q *Queue) popLocal() (Task, bool) {
	b := q.bottom.Load() - 1
	q.bottom.Store(b)
	t := q.top.Load()
	if t > b {
		q.bottom.Store(t)
		return Task{}, false
	}
	s := &q.slots[b&q.mask]
	task := unpack(s.w0.Load(), s.w1.Load())
	if t < b {
		return task, true
	}
	won := q.top.CompareAndSwap(t, t+1)
	q.bottom.Store(t + 1)
	return task, won
}

// refill moves tasks from the overflow stack into the empty deque, keeping
// the most recently spilled task on top for the owner.
func (q *Queue) refill() {
	n := len(q.overflow)
	take := n
	if limit := len(q.slots) / 2; take > limit {
		take = limit
	}
	// The deque is empty and only the owner pushes, so every push fits.
	for _, t := range q.overflow[n-take:] {
		q.pushLocal(t)
	}
	q.overflow = q.overflow[:n-take]
	q.overflowLen.Store(int64(n - take))
}

// Steal removes the oldest task of the deque. It fails when the deque is
// empty or when another worker won the race for the same task; callers
// retry elsewhere. The overflow stack is never stolen from.
func (q *Queue) Steal() (Task, bool) {
	t := q.top.Load()
	b := q.bottom.Load()
	if t >= b {
		return Task{}, false
	}
	s := &q.slots[t&q.mask]
	task := unpack(s.w0.Load(), s.w1.Load())
	if !q.top.CompareAndSwap(t, t+1) {
		return Task{}, false
	}
	q.steals.Add(1)
	return task, true
}

// Size returns an estimate of the number of queued tasks, including overflow.
func (q *Queue) Size() int {
	n := q.bottom.Load() - q.top.Load()
	if n < 0 {
		n = 0
	}
	return int(n + q.overflowLen.Load())
}

// IsEmpty reports whether the queue looked empty at the time of the call.
func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}

// Stats returns the operation counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Pushes:    q.pushes.Load(),
		Pops:      q.pops.Load(),
		Steals:    q.steals.Load(),
		Overflows: q.overflows.Load(),
	}
}

// ResetStats zeroes the operation counters. Not safe for concurrent use.
func (q *Queue) ResetStats() {
	q.pushes.Store(0)
	q.pops.Store(0)
	q.steals.Store(0)
	q.overflows.Store(0)
}
