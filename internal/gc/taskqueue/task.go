// Package taskqueue implements the work-stealing task queues shared by the
// tracing marker and the promotion manager.
//
// Each worker owns one Queue: a bounded Chase-Lev deque plus an unbounded
// overflow stack. The owner pushes and pops at the bottom of the deque in
// LIFO order; other workers steal from the top. A Set groups the queues of
// one collection and picks steal victims. A Terminator decides when every
// worker has run out of work.
package taskqueue

import (
	"fmt"

	"github.com/kolkov/gcengine/internal/gc/heap"
)

// Kind is the type of work a Task describes.
type Kind uint8

const (
	// KindObject asks for all reference fields of an object to be scanned.
	KindObject Kind = iota + 1
	// KindSlot asks for the reference stored at a heap slot to be processed
	// and the slot updated (young collections).
	KindSlot
	// KindPartialArray asks for the next chunk of a large reference array
	// to be scanned, starting at element Index.
	KindPartialArray
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindSlot:
		return "slot"
	case KindPartialArray:
		return "partial-array"
	default:
		return "invalid"
	}
}

// Task is one unit of collector work.
type Task struct {
	Kind  Kind
	Addr  heap.Address
	Index int
}

// ObjectTask returns a task scanning obj.
func ObjectTask(obj heap.Address) Task {
	return Task{Kind: KindObject, Addr: obj}
}

// SlotTask returns a task processing the reference at slot.
func SlotTask(slot heap.Address) Task {
	return Task{Kind: KindSlot, Addr: slot}
}

// PartialArrayTask returns a task scanning array from element index.
func PartialArrayTask(array heap.Address, index int) Task {
	return Task{Kind: KindPartialArray, Addr: array, Index: index}
}

// String formats the task for logs and test failures.
func (t Task) String() string {
	if t.Kind == KindPartialArray {
		return fmt.Sprintf("%s(%s@%d)", t.Kind, t.Addr, t.Index)
	}
	return fmt.Sprintf("%s(%s)", t.Kind, t.Addr)
}

// pack folds the kind into the low bits of the word-aligned address.
func (t Task) pack() (uint64, uint64) {
	return uint64(t.Addr) | uint64(t.Kind), uint64(t.Index)
}

func unpack(w0, w1 uint64) Task {
	return Task{
		Kind:  Kind(w0 & 0b111),
		Addr:  heap.Address(w0 &^ 0b111),
		Index: int(w1),
	}
}
