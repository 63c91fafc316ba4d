// Package promotion evacuates live young objects during a scavenge.
//
// Each worker owns a Manager with two local allocation buffers, one in
// the survivor space and one in the tenured space. Copies are published by
// CAS on the original object's header, so exactly one worker's copy wins
// and every other worker adopts it.
package promotion

import (
	"github.com/kolkov/gcengine/internal/gc/cardtable"
	"github.com/kolkov/gcengine/internal/gc/heap"
)

// LAB is a worker-local bump allocation buffer carved out of a space.
// Not safe for concurrent use.
type LAB struct {
	start heap.Address
	top   heap.Address
	end   heap.Address
}

// Reset makes [start, end) the buffer's free range.
func (l *LAB) Reset(start, end heap.Address) {
	l.start, l.top, l.end = start, start, end
}

// Allocate bumps the buffer by words, returning Null when they do not fit.
func (l *LAB) Allocate(words int) heap.Address {
	if l.top == heap.Null {
		return heap.Null
	}
	next := l.top.Plus(words)
	if next > l.end {
		return heap.Null
	}
	a := l.top
	l.top = next
	return a
}

// Undo gives back the most recent allocation of words at a. It reports
// false when a was not the last allocation.
func (l *LAB) Undo(a heap.Address, words int) bool {
	if a.Plus(words) != l.top {
		return false
	}
	l.top = a
	return true
}

// Remaining returns the free words left.
func (l *LAB) Remaining() int {
	if l.top == heap.Null {
		return 0
	}
	return l.top.WordsTo(l.end)
}

// Used returns the words handed out since Reset.
func (l *LAB) Used() int {
	if l.start == heap.Null {
		return 0
	}
	return l.start.WordsTo(l.top)
}

// Retire plugs the free tail with a filler so the region stays parsable,
// recording the filler in starts when starts is not nil, and empties the
// buffer.
func (l *LAB) Retire(h *heap.Heap, starts *cardtable.StartArray) {
	if n := l.Remaining(); n > 0 {
		h.FillWithFiller(l.top, n)
		if starts != nil {
			starts.Record(l.top)
		}
	}
	*l = LAB{}
}
