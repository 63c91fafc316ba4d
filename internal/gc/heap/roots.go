package heap

import "sync"

// RootProvider enumerates the references a collection starts from.
//
// Strong roots are split into partitions that workers claim one at a time,
// so each partition is visited by exactly one worker per phase. Root slots
// live outside the heap and are passed as pointers the collector may update.
type RootProvider interface {
	// StrongPartitions returns the number of strong root partitions.
	StrongPartitions() int

	// VisitStrong calls visit for every root slot of partition p.
	VisitStrong(p int, visit func(slot *Address))

	// VisitWeak calls visit for every weak root slot. A weak slot whose
	// referent does not survive is cleared by the collector.
	VisitWeak(visit func(slot *Address))
}

// RootHandle identifies one slot in a RootSet.
type RootHandle struct {
	partition int
	index     int
	weak      bool
}

// RootSet is a RootProvider holding per-thread stacks, a globals
// partition and a weak set. Partition i < threads is thread i's stack; the
// last partition holds the globals.
type RootSet struct {
	mu      sync.Mutex
	threads [][]Address
	globals []Address
	weak    []Address
}

// NewRootSet creates a root set with the given number of thread stacks.
func NewRootSet(threads int) *RootSet {
	if threads < 1 {
		threads = 1
	}
	return &RootSet{threads: make([][]Address, threads)}
}

// Threads returns the number of thread stacks.
func (r *RootSet) Threads() int { return len(r.threads) }

// AddLocal pushes a reference onto thread's stack.
func (r *RootSet) AddLocal(thread int, a Address) RootHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads[thread] = append(r.threads[thread], a)
	return RootHandle{partition: thread, index: len(r.threads[thread]) - 1}
}

// AddGlobal adds a global reference.
func (r *RootSet) AddGlobal(a Address) RootHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.globals = append(r.globals, a)
	return RootHandle{partition: len(r.threads), index: len(r.globals) - 1}
}

// AddWeak adds a weak reference.
func (r *RootSet) AddWeak(a Address) RootHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.weak = append(r.weak, a)
	return RootHandle{index: len(r.weak) - 1, weak: true}
}

func (r *RootSet) slot(h RootHandle) *Address {
	switch {
	case h.weak:
		return &r.weak[h.index]
	case h.partition == len(r.threads):
		return &r.globals[h.index]
	default:
		return &r.threads[h.partition][h.index]
	}
}

// Get returns the current value of a root slot.
func (r *RootSet) Get(h RootHandle) Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.slot(h)
}

// Set overwrites a root slot.
func (r *RootSet) Set(h RootHandle, a Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.slot(h) = a
}

// Clear nulls a root slot, dropping the reference it held.
func (r *RootSet) Clear(h RootHandle) {
	r.Set(h, Null)
}

// StrongPartitions implements RootProvider.
func (r *RootSet) StrongPartitions() int {
	return len(r.threads) + 1
}

// VisitStrong implements RootProvider.
func (r *RootSet) VisitStrong(p int, visit func(slot *Address)) {
	r.mu.Lock()
	var slots []Address
	if p == len(r.threads) {
		slots = r.globals
	} else {
		slots = r.threads[p]
	}
	r.mu.Unlock()
	for i := range slots {
		visit(&slots[i])
	}
}

// VisitWeak implements RootProvider.
func (r *RootSet) VisitWeak(visit func(slot *Address)) {
	r.mu.Lock()
	slots := r.weak
	r.mu.Unlock()
	for i := range slots {
		visit(&slots[i])
	}
}
