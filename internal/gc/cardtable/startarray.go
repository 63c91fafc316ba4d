package cardtable

import (
	"sync/atomic"

	"github.com/kolkov/gcengine/internal/gc/heap"
)

// StartArray records, per card, the lowest object start inside the card.
//
// It lets card scanning find the object containing an arbitrary address
// without parsing the region from its bottom. Entries exist only for old,
// humongous and archive regions; collectors reset a region's entries when
// the region is freed and rebuild them after objects move.
type StartArray struct {
	base   heap.Address
	starts []atomic.Uint64
}

// NewStartArray creates an empty index covering the same cards as t.
func NewStartArray(t *Table) *StartArray {
	return &StartArray{base: t.base, starts: make([]atomic.Uint64, t.cards)}
}

func (s *StartArray) card(a heap.Address) int {
	return int((a - s.base) / CardBytes)
}

// Record notes that an object starts at obj. Safe for concurrent use.
func (s *StartArray) Record(obj heap.Address) {
	p := &s.starts[s.card(obj)]
	for {
		old := p.Load()
		if old != 0 && old <= uint64(obj) {
			return
		}
		if p.CompareAndSwap(old, uint64(obj)) {
			return
		}
	}
}

// FirstStart returns the lowest recorded start in the card containing a.
func (s *StartArray) FirstStart(a heap.Address) (heap.Address, bool) {
	v := s.starts[s.card(a)].Load()
	return heap.Address(v), v != 0
}

// Reset forgets the entries of every card overlapping [from, to).
func (s *StartArray) Reset(from, to heap.Address) {
	if from >= to {
		return
	}
	last := s.card(to - 1)
	for i := s.card(from); i <= last; i++ {
		s.starts[i].Store(0)
	}
}

// Rebuild resets the entries of [bottom, end) and records every object in
// [bottom, top).
func (s *StartArray) Rebuild(h *heap.Heap, bottom, top, end heap.Address) {
	s.Reset(bottom, end)
	h.WalkObjects(bottom, top, func(obj heap.Address, _ int) bool {
		s.Record(obj)
		return true
	})
}

// ObjectStart returns the start of the object containing a. floor is an
// object start at or below a, normally the bottom of the region or of the
// humongous run; the search never looks below it.
//
// Algorithm:
//  1. Walk cards backwards from a's card to a card whose lowest start is <= a
//  2. Fall back to floor when no such card exists
//  3. Walk objects forward until the one covering a
func (s *StartArray) ObjectStart(h *heap.Heap, a, floor heap.Address) heap.Address {
	cur := floor
	for c := s.card(a); c >= s.card(floor); c-- {
		v := heap.Address(s.starts[c].Load())
		if v != 0 && v <= a && v >= floor {
			cur = v
			break
		}
	}
	for {
		next := cur.Plus(h.SizeOf(cur))
		if next > a {
			return cur
		}
		cur = next
	}
}
