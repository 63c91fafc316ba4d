// Package cardtable implements the card table: one byte per 512-byte card
// of the heap, recording which cards may hold references into the young
// generation.
//
// The write barrier dirties the card of every updated slot. Young
// collections scan the non-clean cards of old regions to find old-to-young
// references, clear the cards they fully own, and mark cards Youngergen
// when they store a young reference into an old object.
//
// Four card bytes are packed into one atomic.Uint32 so byte updates can
// use CAS without tearing neighbouring cards.
package cardtable

import (
	"sync/atomic"

	"github.com/kolkov/gcengine/internal/gc/heap"
)

// CardBytes is the number of heap bytes covered by one card.
const CardBytes = 512

// CardWords is the number of heap words covered by one card.
const CardWords = CardBytes / heap.WordSize

// Value is the state of one card.
type Value uint8

const (
	// Dirty cards were written by the mutator since the last scan.
	Dirty Value = 0x00
	// Youngergen cards were found or made to hold young references by a
	// collection.
	Youngergen Value = 0x11
	// Verify marks cards during heap verification.
	Verify Value = 0x13
	// Clean cards hold no references of interest.
	Clean Value = 0xFF
)

// String returns the value name.
func (v Value) String() string {
	switch v {
	case Dirty:
		return "dirty"
	case Youngergen:
		return "youngergen"
	case Verify:
		return "verify"
	case Clean:
		return "clean"
	default:
		return "unknown"
	}
}

// Table covers the heap [base, base + cards*CardBytes).
type Table struct {
	base   heap.Address
	cards  int
	packed []atomic.Uint32
}

// New creates a table covering [base, end) with every card clean.
func New(base, end heap.Address) *Table {
	cards := (base.WordsTo(end) + CardWords - 1) / CardWords
	t := &Table{
		base:   base,
		cards:  cards,
		packed: make([]atomic.Uint32, (cards+3)/4),
	}
	t.ClearAll()
	return t
}

// ForHeap creates a clean table covering h.
func ForHeap(h *heap.Heap) *Table {
	return New(h.Base(), h.End())
}

// Len returns the number of cards.
func (t *Table) Len() int { return t.cards }

// CardIndex returns the card containing a.
func (t *Table) CardIndex(a heap.Address) int {
	return int((a - t.base) / CardBytes)
}

// CardStart returns the first address of card i.
func (t *Table) CardStart(i int) heap.Address {
	return t.base + heap.Address(i*CardBytes)
}

// CardEnd returns the address just past card i.
func (t *Table) CardEnd(i int) heap.Address {
	return t.CardStart(i + 1)
}

// Get returns the value of card i.
func (t *Table) Get(i int) Value {
	shift := uint(i%4) * 8
	return Value(t.packed[i/4].Load() >> shift)
}

// Set stores v into card i.
func (t *Table) Set(i int, v Value) {
	w := &t.packed[i/4]
	shift := uint(i%4) * 8
	mask := uint32(0xFF) << shift
	for {
		old := w.Load()
		next := old&^mask | uint32(v)<<shift
		if old == next || w.CompareAndSwap(old, next) {
			return
		}
	}
}

// Value returns the value of the card containing a.
func (t *Table) Value(a heap.Address) Value {
	return t.Get(t.CardIndex(a))
}

// IsClean reports whether card i is clean.
func (t *Table) IsClean(i int) bool {
	return t.Get(i) == Clean
}

// Dirty is the post write barrier: it dirties the card holding slot.
func (t *Table) Dirty(slot heap.Address) {
	t.Set(t.CardIndex(slot), Dirty)
}

// MarkYoungergen records that the card holding slot now references the
// young generation.
func (t *Table) MarkYoungergen(slot heap.Address) {
	i := t.CardIndex(slot)
	if t.Get(i) != Youngergen {
		t.Set(i, Youngergen)
	}
}

// SetRange stores v into every card overlapping [from, to).
func (t *Table) SetRange(from, to heap.Address, v Value) {
	if from >= to {
		return
	}
	last := t.CardIndex(to - 1)
	for i := t.CardIndex(from); i <= last; i++ {
		t.Set(i, v)
	}
}

// ClearRange cleans every card overlapping [from, to).
func (t *Table) ClearRange(from, to heap.Address) {
	t.SetRange(from, to, Clean)
}

// ClearAll cleans the whole table. Not safe for concurrent use with Set.
func (t *Table) ClearAll() {
	for i := range t.packed {
		t.packed[i].Store(0xFFFFFFFF)
	}
}

// CountNonClean returns the number of non-clean cards overlapping [from, to).
func (t *Table) CountNonClean(from, to heap.Address) int {
	if from >= to {
		return 0
	}
	n := 0
	last := t.CardIndex(to - 1)
	for i := t.CardIndex(from); i <= last; i++ {
		if !t.IsClean(i) {
			n++
		}
	}
	return n
}
