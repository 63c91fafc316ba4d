package heap

// Header is the first word of every object.
//
// The low two bits select the lock state. While an object is not forwarded
// the header also carries its age and identity hash:
//
//	bits 0-1   lock state (LockLocked, LockUnlocked, LockMonitor, LockForwarded)
//	bits 3-6   age (number of young collections survived, saturating at MaxAge)
//	bits 8-38  identity hash (0 means "no hash assigned")
//
// In the forwarded state the header holds the forwardee address with the low
// two bits set to LockForwarded. Addresses are word aligned, so the tag never
// collides with address bits.
//
// A header is a plain value. Installing or replacing one in the heap goes
// through Heap.LoadHeader, Heap.StoreHeader and Heap.CASHeader.
type Header uint64

// Lock states stored in the low two header bits. LockLocked is zero, so the
// zero Header reads as locked; new objects must start from Prototype.
const (
	LockLocked    uint64 = 0b00
	LockUnlocked  uint64 = 0b01
	LockMonitor   uint64 = 0b10
	LockForwarded uint64 = 0b11
)

const (
	lockMask = uint64(0b11)

	ageShift = 3
	ageBits  = uint64(0xF)

	hashShift = 8
	hashBits  = uint64(0x7FFFFFFF)
)

// MaxAge is the largest age a header can record.
const MaxAge = int(ageBits)

// Prototype is the header of a freshly allocated object: unlocked, age 0, no hash.
const Prototype = Header(LockUnlocked)

// ForwardingHeader returns the header recording that an object moved to dst.
func ForwardingHeader(dst Address) Header {
	return Header(uint64(dst) | LockForwarded)
}

// LockState returns the low two header bits. It is LockLocked, not
// LockUnlocked, for the zero Header.
func (h Header) LockState() uint64 {
	return uint64(h) & lockMask
}

// IsForwarded reports whether the header holds a forwarding pointer.
func (h Header) IsForwarded() bool {
	return h.LockState() == LockForwarded
}

// Forwardee returns the forwarding address and true when the header is
// forwarded, or (Null, false) otherwise.
func (h Header) Forwardee() (Address, bool) {
	if !h.IsForwarded() {
		return Null, false
	}
	return Address(uint64(h) &^ lockMask), true
}

// IsSelfForwarded reports whether the header forwards obj to itself, the
// marker for an object that failed promotion.
func (h Header) IsSelfForwarded(obj Address) bool {
	fwd, ok := h.Forwardee()
	return ok && fwd == obj
}

// IsLocked reports whether the object is held by a lock or monitor.
func (h Header) IsLocked() bool {
	s := h.LockState()
	return s == LockLocked || s == LockMonitor
}

// WithLockState returns h with the lock bits replaced.
func (h Header) WithLockState(state uint64) Header {
	return Header(uint64(h)&^lockMask | state&lockMask)
}

// Age returns the object age.
func (h Header) Age() int {
	return int((uint64(h) >> ageShift) & ageBits)
}

// WithAge returns h with its age set, saturating at MaxAge.
func (h Header) WithAge(age int) Header {
	if age > MaxAge {
		age = MaxAge
	}
	if age < 0 {
		age = 0
	}
	cleared := uint64(h) &^ (ageBits << ageShift)
	return Header(cleared | uint64(age)<<ageShift)
}

// IncrementAge returns h with its age increased by one, saturating at MaxAge.
func (h Header) IncrementAge() Header {
	return h.WithAge(h.Age() + 1)
}

// Hash returns the identity hash, 0 when none has been assigned.
func (h Header) Hash() uint32 {
	return uint32((uint64(h) >> hashShift) & hashBits)
}

// WithHash returns h carrying the identity hash. Only the low 31 bits are kept.
func (h Header) WithHash(hash uint32) Header {
	cleared := uint64(h) &^ (hashBits << hashShift)
	return Header(cleared | (uint64(hash)&hashBits)<<hashShift)
}

// MustBePreserved reports whether the header carries state that would be
// lost if it were overwritten with a forwarding pointer or the prototype.
func (h Header) MustBePreserved() bool {
	if h.IsForwarded() {
		return false
	}
	return h.IsLocked() || h.Hash() != 0
}
