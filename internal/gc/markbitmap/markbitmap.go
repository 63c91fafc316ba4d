// Package markbitmap implements the reachability bitmap: one bit per heap
// word, set when a live object starts at that word.
package markbitmap

import (
	"math/bits"
	"sync/atomic"

	"github.com/kolkov/gcengine/internal/gc/heap"
)

// Bitmap covers the word range [base, base + words*8).
//
// Thread Safety: Mark, IsMarked and the iteration helpers are safe for
// concurrent use. Clear and ClearAll must not race with Mark on the same
// range.
type Bitmap struct {
	base  heap.Address
	words int
	bits  []uint64
}

// New creates a cleared bitmap covering the heap [base, end).
func New(base, end heap.Address) *Bitmap {
	words := base.WordsTo(end)
	return &Bitmap{
		base:  base,
		words: words,
		bits:  make([]uint64, (words+63)/64),
	}
}

// ForHeap creates a cleared bitmap covering h.
func ForHeap(h *heap.Heap) *Bitmap {
	return New(h.Base(), h.End())
}

func (b *Bitmap) bitIndex(a heap.Address) int {
	return int((a - b.base) / heap.WordSize)
}

func (b *Bitmap) addrOf(bit int) heap.Address {
	return b.base.Plus(bit)
}

// Mark sets the bit for a.
//
// Algorithm:
//  1. Load the containing 64-bit word
//  2. If the bit is already set, another caller won: return false
//  3. CAS in the word with the bit set; retry from 1 on contention
//
// Exactly one of any number of concurrent callers for the same address
// observes true.
func (b *Bitmap) Mark(a heap.Address) bool {
	i := b.bitIndex(a)
	p := &b.bits[i/64]
	mask := uint64(1) << (uint(i) % 64)
	for {
		old := atomic.LoadUint64(p)
		if old&mask != 0 {
			return false
		}
		if atomic.CompareAndSwapUint64(p, old, old|mask) {
			return true
		}
	}
}

// IsMarked reports whether the bit for a is set.
func (b *Bitmap) IsMarked(a heap.Address) bool {
	i := b.bitIndex(a)
	return atomic.LoadUint64(&b.bits[i/64])&(uint64(1)<<(uint(i)%64)) != 0
}

// Clear clears the bits for [from, to).
func (b *Bitmap) Clear(from, to heap.Address) {
	lo, hi := b.bitIndex(from), b.bitIndex(to)
	for i := lo; i < hi; {
		if i%64 == 0 && i+64 <= hi {
			atomic.StoreUint64(&b.bits[i/64], 0)
			i += 64
			continue
		}
		p := &b.bits[i/64]
		mask := uint64(1) << (uint(i) % 64)
		for {
			old := atomic.LoadUint64(p)
			if atomic.CompareAndSwapUint64(p, old, old&^mask) {
				break
			}
		}
		i++
	}
}

// ClearAll clears every bit.
func (b *Bitmap) ClearAll() {
	for i := range b.bits {
		atomic.StoreUint64(&b.bits[i], 0)
	}
}

// NextMarked returns the lowest marked address in [from, to), or (Null, false).
func (b *Bitmap) NextMarked(from, to heap.Address) (heap.Address, bool) {
	if from >= to {
		return heap.Null, false
	}
	i, hi := b.bitIndex(from), b.bitIndex(to)
	for i < hi {
		w := atomic.LoadUint64(&b.bits[i/64]) >> (uint(i) % 64)
		if w == 0 {
			i = (i/64 + 1) * 64
			continue
		}
		i += bits.TrailingZeros64(w)
		if i >= hi {
			break
		}
		return b.addrOf(i), true
	}
	return heap.Null, false
}

// Iterate visits the marked addresses of [from, to) in ascending order.
// When size is non-nil the walk skips past each visited object's span.
// Iteration stops when visit returns false.
func (b *Bitmap) Iterate(from, to heap.Address, size func(heap.Address) int, visit func(heap.Address) bool) {
	for a := from; a < to; {
		next, ok := b.NextMarked(a, to)
		if !ok {
			return
		}
		if !visit(next) {
			return
		}
		if size != nil {
			a = next.Plus(size(next))
		} else {
			a = next.Plus(1)
		}
	}
}

// CountInRange returns the number of marked addresses in [from, to).
func (b *Bitmap) CountInRange(from, to heap.Address) int {
	n := 0
	b.Iterate(from, to, nil, func(heap.Address) bool {
		n++
		return true
	})
	return n
}
