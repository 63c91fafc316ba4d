// Package refcodec converts object addresses to and from the representation
// stored in reference slots.
//
// With compressed references enabled a slot holds a 32-bit narrow value
// computed as (addr - base) >> shift, where shift is the log2 of the object
// alignment. The base sits one alignment unit below the heap start so that
// no valid object encodes to 0 and null stays 0 in both forms.
//
// Invariant: Decode(Encode(a)) == a for every aligned a inside the heap, and
// Encode(Null) == 0.
package refcodec

import (
	"fmt"

	"github.com/kolkov/gcengine/internal/gc/heap"
)

// DefaultShift is the alignment shift for 8-byte object alignment.
const DefaultShift = 3

// MaxNarrowSpan is the largest heap, in bytes, addressable with 32-bit
// narrow references at DefaultShift.
const MaxNarrowSpan = uint64(1) << (32 + DefaultShift)

// Codec encodes references. The zero value stores full-width addresses.
type Codec struct {
	base       heap.Address
	shift      uint
	compressed bool
}

// Full returns a codec storing raw addresses.
func Full() Codec {
	return Codec{}
}

// Compressed returns a codec producing 32-bit narrow references for a heap
// spanning [heapStart, heapEnd).
func Compressed(heapStart, heapEnd heap.Address, shift uint) (Codec, error) {
	unit := heap.Address(1) << shift
	if heapStart < unit {
		return Codec{}, fmt.Errorf("refcodec: heap start %s below alignment unit %d", heapStart, unit)
	}
	base := heapStart - unit
	if uint64(heapEnd-base)>>shift > uint64(^uint32(0)) {
		return Codec{}, fmt.Errorf("refcodec: heap [%s, %s) too large for narrow references", heapStart, heapEnd)
	}
	return Codec{base: base, shift: shift, compressed: true}, nil
}

// IsCompressed reports whether the codec produces narrow references.
func (c Codec) IsCompressed() bool { return c.compressed }

// Base returns the narrow-reference base.
func (c Codec) Base() heap.Address { return c.base }

// Shift returns the narrow-reference shift.
func (c Codec) Shift() uint { return c.shift }

// Encode returns the slot representation of a.
func (c Codec) Encode(a heap.Address) uint64 {
	if !c.compressed || a == heap.Null {
		return uint64(a)
	}
	return uint64(uint32((a - c.base) >> c.shift))
}

// Decode returns the address stored as v.
func (c Codec) Decode(v uint64) heap.Address {
	if !c.compressed || v == 0 {
		return heap.Address(v)
	}
	return c.base + heap.Address(uint32(v))<<c.shift
}
