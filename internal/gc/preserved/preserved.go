// Package preserved keeps object headers that a collection overwrites with
// forwarding pointers but must reinstate afterwards.
//
// Each worker pushes onto its own Stack, so pushes need no synchronization.
// After objects have moved the entries are adjusted to the new object
// addresses, and once the collection is done the saved headers are
// written back.
package preserved

import (
	"github.com/kolkov/gcengine/internal/gc/heap"
)

// Mark is one saved header.
type Mark struct {
	Obj    heap.Address
	Header heap.Header
}

// Stack holds one worker's preserved marks. Not safe for concurrent use.
type Stack struct {
	marks []Mark
}

// Push records hd as the header to restore on obj.
func (s *Stack) Push(obj heap.Address, hd heap.Header) {
	s.marks = append(s.marks, Mark{Obj: obj, Header: hd})
}

// PushIfNecessary records hd when it carries state worth preserving and
// reports whether it did.
func (s *Stack) PushIfNecessary(obj heap.Address, hd heap.Header) bool {
	if !hd.MustBePreserved() {
		return false
	}
	s.Push(obj, hd)
	return true
}

// Len returns the number of saved headers.
func (s *Stack) Len() int { return len(s.marks) }

// Marks returns the saved headers. The slice must not be retained.
func (s *Stack) Marks() []Mark { return s.marks }

// Adjust rewrites every entry's object address through relocate.
func (s *Stack) Adjust(relocate func(heap.Address) heap.Address) {
	for i := range s.marks {
		s.marks[i].Obj = relocate(s.marks[i].Obj)
	}
}

// Restore writes the saved headers back and empties the stack.
func (s *Stack) Restore(h *heap.Heap) {
	for _, m := range s.marks {
		h.StoreHeader(m.Obj, m.Header)
	}
	s.marks = s.marks[:0]
}

// Set holds one Stack per worker.
type Set struct {
	stacks []Stack
}

// NewSet creates n empty stacks.
func NewSet(n int) *Set {
	return &Set{stacks: make([]Stack, n)}
}

// Stack returns worker i's stack.
func (s *Set) Stack(i int) *Stack { return &s.stacks[i] }

// Len returns the number of stacks.
func (s *Set) Len() int { return len(s.stacks) }

// Total returns the number of saved headers across all stacks.
func (s *Set) Total() int {
	n := 0
	for i := range s.stacks {
		n += s.stacks[i].Len()
	}
	return n
}

// Restore writes back the headers of every stack.
func (s *Set) Restore(h *heap.Heap) {
	for i := range s.stacks {
		s.stacks[i].Restore(h)
	}
}
