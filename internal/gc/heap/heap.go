package heap

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrOutOfMemory is returned when no free region can satisfy a request.
	ErrOutOfMemory = errors.New("heap: out of memory")

	// ErrInvalidConfig is returned by New for unusable geometry.
	ErrInvalidConfig = errors.New("heap: invalid configuration")

	// ErrCorrupt is the panic value wrapped by consistency failures.
	ErrCorrupt = errors.New("heap: corruption detected")
)

// DefaultBase is the address of the first heap word when Config.Base is zero.
const DefaultBase Address = 0x10000

// RefCoder converts between addresses and the representation stored in
// reference slots.
type RefCoder interface {
	Encode(a Address) uint64
	Decode(v uint64) Address
}

type identityCoder struct{}

func (identityCoder) Encode(a Address) uint64 { return uint64(a) }
func (identityCoder) Decode(v uint64) Address { return Address(v) }

// Config describes the heap geometry.
type Config struct {
	// Base is the address of the first heap word. Zero selects DefaultBase.
	Base Address

	// Regions is the number of regions.
	Regions int

	// RegionWords is the size of every region in words. It must be a
	// positive multiple of 64.
	RegionWords int

	// Coder encodes references stored in heap slots. Nil stores raw addresses.
	Coder RefCoder
}

// Heap is the simulated heap: a word arena split into regions.
type Heap struct {
	base        Address
	end         Address
	regionWords int
	regionShift int

	words   []uint64
	regions []*Region
	types   *Registry
	coder   RefCoder

	// mu serializes region state transitions (claiming and freeing).
	mu sync.Mutex
}

// New creates a heap with every region free.
func New(cfg Config, types *Registry) (*Heap, error) {
	if cfg.Regions <= 0 {
		return nil, fmt.Errorf("%w: region count %d", ErrInvalidConfig, cfg.Regions)
	}
	if cfg.RegionWords <= 0 || cfg.RegionWords%64 != 0 {
		return nil, fmt.Errorf("%w: region size %d words is not a positive multiple of 64", ErrInvalidConfig, cfg.RegionWords)
	}
	if cfg.RegionWords&(cfg.RegionWords-1) != 0 {
		return nil, fmt.Errorf("%w: region size %d words is not a power of two", ErrInvalidConfig, cfg.RegionWords)
	}
	base := cfg.Base
	if base == Null {
		base = DefaultBase
	}
	if !base.IsAligned() {
		return nil, fmt.Errorf("%w: base %s is not word aligned", ErrInvalidConfig, base)
	}
	if types == nil {
		types = NewRegistry()
	}
	coder := cfg.Coder
	if coder == nil {
		coder = identityCoder{}
	}

	total := cfg.Regions * cfg.RegionWords
	h := &Heap{
		base:        base,
		end:         base.Plus(total),
		regionWords: cfg.RegionWords,
		words:       make([]uint64, total),
		regions:     make([]*Region, cfg.Regions),
		types:       types,
		coder:       coder,
	}
	for s := cfg.RegionWords * WordSize; s > 1; s >>= 1 {
		h.regionShift++
	}
	for i := range h.regions {
		h.regions[i] = newRegion(i, base.Plus(i*cfg.RegionWords), cfg.RegionWords)
	}
	return h, nil
}

// Base returns the first heap address.
func (h *Heap) Base() Address { return h.base }

// End returns the address just past the heap.
func (h *Heap) End() Address { return h.end }

// RegionWords returns the region size in words.
func (h *Heap) RegionWords() int { return h.regionWords }

// NumRegions returns the number of regions.
func (h *Heap) NumRegions() int { return len(h.regions) }

// Region returns region i.
func (h *Heap) Region(i int) *Region { return h.regions[i] }

// Regions returns all regions in address order. The slice must not be modified.
func (h *Heap) Regions() []*Region { return h.regions }

// Types returns the type registry.
func (h *Heap) Types() *Registry { return h.types }

// Coder returns the reference coder.
func (h *Heap) Coder() RefCoder { return h.coder }

// Contains reports whether a lies inside the heap.
func (h *Heap) Contains(a Address) bool { return a >= h.base && a < h.end }

// RegionIndex returns the index of the region containing a. The address must
// lie inside the heap.
func (h *Heap) RegionIndex(a Address) int {
	return int((a - h.base) >> h.regionShift)
}

// RegionFor returns the region containing a, or nil outside the heap.
func (h *Heap) RegionFor(a Address) *Region {
	if !h.Contains(a) {
		return nil
	}
	return h.regions[h.RegionIndex(a)]
}

func (h *Heap) wordIndex(a Address) int {
	return int((a - h.base) / WordSize)
}

func (h *Heap) checkAddr(a Address) {
	if !h.Contains(a) || !a.IsAligned() {
		panic(fmt.Errorf("%w: address %s outside heap [%s, %s)", ErrCorrupt, a, h.base, h.end))
	}
}

// LoadWord atomically reads the word at a.
func (h *Heap) LoadWord(a Address) uint64 {
	h.checkAddr(a)
	return atomic.LoadUint64(&h.words[h.wordIndex(a)])
}

// StoreWord atomically writes the word at a.
func (h *Heap) StoreWord(a Address, v uint64) {
	h.checkAddr(a)
	atomic.StoreUint64(&h.words[h.wordIndex(a)], v)
}

// CASWord atomically replaces the word at a when it still holds old.
func (h *Heap) CASWord(a Address, old, v uint64) bool {
	h.checkAddr(a)
	return atomic.CompareAndSwapUint64(&h.words[h.wordIndex(a)], old, v)
}

// LoadHeader reads the header of obj.
func (h *Heap) LoadHeader(obj Address) Header { return Header(h.LoadWord(obj)) }

// StoreHeader overwrites the header of obj.
func (h *Heap) StoreHeader(obj Address, hd Header) { h.StoreWord(obj, uint64(hd)) }

// CASHeader replaces the header of obj when it still equals old.
func (h *Heap) CASHeader(obj Address, old, hd Header) bool {
	return h.CASWord(obj, uint64(old), uint64(hd))
}

// TypeWord returns the type id and array length of obj.
func (h *Heap) TypeWord(obj Address) (TypeID, int) {
	v := h.LoadWord(obj.Plus(1))
	return TypeID(uint32(v)), int(v >> 32)
}

func typeWord(id TypeID, length int) uint64 {
	return uint64(id) | uint64(uint32(length))<<32
}

// TypeOf returns the type of obj and its array length.
func (h *Heap) TypeOf(obj Address) (*Type, int, error) {
	id, length := h.TypeWord(obj)
	t, ok := h.types.Lookup(id)
	if !ok {
		return nil, 0, fmt.Errorf("%w: id %d at %s", ErrUnknownType, id, obj)
	}
	return t, length, nil
}

// SizeOf returns the size of obj in words. An unknown type is a fatal
// consistency failure.
func (h *Heap) SizeOf(obj Address) int {
	t, length, err := h.TypeOf(obj)
	if err != nil {
		panic(fmt.Errorf("%w: %v", ErrCorrupt, err))
	}
	return t.SizeWords(length)
}

// IterateRefs calls visit for every reference slot of obj.
func (h *Heap) IterateRefs(obj Address, visit func(slot Address)) {
	t, length, err := h.TypeOf(obj)
	if err != nil {
		panic(fmt.Errorf("%w: %v", ErrCorrupt, err))
	}
	t.Iterator().Refs(obj, length, visit)
}

// IterateArrayRefs calls visit for the reference slots of elements
// [from, to) of the array obj.
func (h *Heap) IterateArrayRefs(obj Address, from, to int, visit func(slot Address)) {
	t, _, err := h.TypeOf(obj)
	if err != nil {
		panic(fmt.Errorf("%w: %v", ErrCorrupt, err))
	}
	t.Iterator().RefsInRange(obj, from, to, visit)
}

// RefArrayLength returns the length of obj when it is a reference array
// and false otherwise.
func (h *Heap) RefArrayLength(obj Address) (int, bool) {
	t, length, err := h.TypeOf(obj)
	if err != nil || t.Kind != KindRefArray {
		return 0, false
	}
	return length, true
}

// LoadRef decodes the reference stored at slot.
func (h *Heap) LoadRef(slot Address) Address {
	return h.coder.Decode(h.LoadWord(slot))
}

// StoreRef encodes and stores a reference at slot.
func (h *Heap) StoreRef(slot, ref Address) {
	h.StoreWord(slot, h.coder.Encode(ref))
}

// FieldSlot returns the address of payload word field of obj.
func FieldSlot(obj Address, field int) Address {
	return obj.Plus(HeaderWords + field)
}

// InitObject writes a fresh object of the given type and length at a,
// zeroing its payload. size must equal the type's size for length.
func (h *Heap) InitObject(a Address, id TypeID, length, size int) {
	h.StoreWord(a, uint64(Prototype))
	h.StoreWord(a.Plus(1), typeWord(id, length))
	for i := HeaderWords; i < size; i++ {
		h.StoreWord(a.Plus(i), 0)
	}
}

// FillWithFiller turns [a, a+words) into a single filler object. words must
// be an even count of at least HeaderWords.
func (h *Heap) FillWithFiller(a Address, words int) {
	if words < HeaderWords || words%2 != 0 {
		panic(fmt.Errorf("%w: cannot fill %d words at %s", ErrCorrupt, words, a))
	}
	h.StoreWord(a, uint64(Prototype))
	h.StoreWord(a.Plus(1), typeWord(FillerTypeID, words-HeaderWords))
}

// IsFiller reports whether obj is a filler object.
func (h *Heap) IsFiller(obj Address) bool {
	id, _ := h.TypeWord(obj)
	return id == FillerTypeID
}

// CopyWords copies n words from src to dst in ascending order, so
// overlapping ranges are safe when dst < src.
func (h *Heap) CopyWords(src, dst Address, n int) {
	if src == dst {
		return
	}
	for i := 0; i < n; i++ {
		h.StoreWord(dst.Plus(i), h.LoadWord(src.Plus(i)))
	}
}

// WalkObjects visits the objects in [from, to) in address order. from must
// be an object start. The walk stops early when visit returns false.
func (h *Heap) WalkObjects(from, to Address, visit func(obj Address, size int) bool) {
	for a := from; a < to; {
		size := h.SizeOf(a)
		if !visit(a, size) {
			return
		}
		a = a.Plus(size)
	}
}

// ClaimFreeRegion turns the lowest free region into kind and returns it, or
// nil when no region is free.
func (h *Heap) ClaimFreeRegion(kind RegionKind) *Region {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.regions {
		if r.IsFree() {
			r.SetKind(kind)
			return r
		}
	}
	return nil
}

// FreeRegion returns r to the free list. Freeing a humongous start region
// frees its whole run.
func (h *Heap) FreeRegion(r *Region) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r.Kind() == RegionHumongousStart {
		for i := r.index + 1; i < len(h.regions); i++ {
			c := h.regions[i]
			if c.Kind() != RegionHumongousCont || c.humongousStart != r.index {
				break
			}
			c.reset()
		}
	}
	r.reset()
}

// HumongousWords is the smallest object size allocated as a humongous object.
func (h *Heap) HumongousWords() int {
	return h.regionWords/2 + 1
}

// AllocateHumongous places an object of words words at the bottom of a run
// of contiguous free regions and returns its address, or Null when no run is
// long enough.
func (h *Heap) AllocateHumongous(words int) Address {
	n := (words + h.regionWords - 1) / h.regionWords
	h.mu.Lock()
	defer h.mu.Unlock()
	run := 0
	for i, r := range h.regions {
		if !r.IsFree() {
			run = 0
			continue
		}
		run++
		if run < n {
			continue
		}
		first := i - n + 1
		remaining := words
		for j := first; j <= i; j++ {
			reg := h.regions[j]
			kind := RegionHumongousCont
			if j == first {
				kind = RegionHumongousStart
			}
			reg.SetKind(kind)
			reg.humongousStart = first
			used := remaining
			if used > h.regionWords {
				used = h.regionWords
			}
			reg.SetTop(reg.bottom.Plus(used))
			remaining -= used
		}
		return h.regions[first].bottom
	}
	return Null
}

// HumongousRun returns the regions of the humongous object starting in r.
func (h *Heap) HumongousRun(r *Region) []*Region {
	if r.Kind() != RegionHumongousStart {
		return nil
	}
	end := r.index + 1
	for end < len(h.regions) {
		c := h.regions[end]
		if c.Kind() != RegionHumongousCont || c.humongousStart != r.index {
			break
		}
		end++
	}
	return h.regions[r.index:end]
}

// Usage counts regions per kind.
func (h *Heap) Usage() map[RegionKind]int {
	out := make(map[RegionKind]int)
	for _, r := range h.regions {
		out[r.Kind()]++
	}
	return out
}

// FreeRegions returns the number of free regions.
func (h *Heap) FreeRegions() int {
	n := 0
	for _, r := range h.regions {
		if r.IsFree() {
			n++
		}
	}
	return n
}

// UsedWords returns the number of words below top across all regions.
func (h *Heap) UsedWords() int {
	n := 0
	for _, r := range h.regions {
		n += r.UsedWords()
	}
	return n
}

// Claimer hands out region indexes in ascending order to concurrent
// workers. Each index is returned exactly once.
type Claimer struct {
	next atomic.Int64
	n    int64
}

// NewClaimer creates a claimer over the indexes [0, n).
func NewClaimer(n int) *Claimer {
	return &Claimer{n: int64(n)}
}

// Claim returns the next unclaimed index.
func (c *Claimer) Claim() (int, bool) {
	i := c.next.Add(1) - 1
	if i >= c.n {
		return 0, false
	}
	return int(i), true
}
