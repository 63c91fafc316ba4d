package heap

import "fmt"

// WordSize is the size of a heap word in bytes.
const WordSize = 8

// Address is a byte address inside the simulated heap.
//
// The zero value is the null reference. Valid object addresses are always
// word aligned.
type Address uint64

// Null is the null reference.
const Null Address = 0

// IsNull reports whether a is the null reference.
func (a Address) IsNull() bool {
	return a == Null
}

// Plus returns the address words heap words past a.
func (a Address) Plus(words int) Address {
	return a + Address(words*WordSize)
}

// Minus returns the address words heap words before a.
func (a Address) Minus(words int) Address {
	return a - Address(words*WordSize)
}

// WordsTo returns the number of words between a and the higher address b.
func (a Address) WordsTo(b Address) int {
	return int((b - a) / WordSize)
}

// IsAligned reports whether a is word aligned.
func (a Address) IsAligned() bool {
	return a%WordSize == 0
}

// String formats the address as hex.
func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}
