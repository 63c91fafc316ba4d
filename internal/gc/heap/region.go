package heap

import "sync/atomic"

// RegionKind is the role a region currently plays in the heap.
type RegionKind uint32

const (
	RegionFree RegionKind = iota
	RegionEden
	RegionSurvivor
	RegionOld
	RegionHumongousStart
	RegionHumongousCont
	RegionArchive
)

// String returns the kind name.
func (k RegionKind) String() string {
	switch k {
	case RegionFree:
		return "free"
	case RegionEden:
		return "eden"
	case RegionSurvivor:
		return "survivor"
	case RegionOld:
		return "old"
	case RegionHumongousStart:
		return "humongous-start"
	case RegionHumongousCont:
		return "humongous-cont"
	case RegionArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// Region is a fixed-capacity slice of the heap.
//
// Allocation bumps top with CAS, so a region can be shared by several
// allocating workers. The remaining fields are owned by whichever phase is
// running: the collectors only touch them between gang barriers, or
// through the atomic accessors.
type Region struct {
	index  int
	bottom Address
	end    Address

	kind   atomic.Uint32
	top    atomic.Uint64
	live   atomic.Uint64
	pinned atomic.Bool
	inCSet atomic.Bool
	failed atomic.Bool

	// compactionTop is the next free address for objects forwarded into
	// this region during a full collection.
	compactionTop Address

	// scanTop is the top snapshot taken at the start of a young
	// collection. Card scanning never looks above it.
	scanTop Address

	// humongousStart is the index of the first region of the humongous
	// run this region belongs to.
	humongousStart int
}

func newRegion(index int, bottom Address, words int) *Region {
	r := &Region{
		index:  index,
		bottom: bottom,
		end:    bottom.Plus(words),
	}
	r.top.Store(uint64(bottom))
	r.compactionTop = bottom
	r.scanTop = bottom
	r.humongousStart = -1
	return r
}

// Index returns the region's position in the heap.
func (r *Region) Index() int { return r.index }

// Bottom returns the first address of the region.
func (r *Region) Bottom() Address { return r.bottom }

// End returns the address just past the region.
func (r *Region) End() Address { return r.end }

// CapacityWords returns the region size in words.
func (r *Region) CapacityWords() int { return r.bottom.WordsTo(r.end) }

// Top returns the allocation top.
func (r *Region) Top() Address { return Address(r.top.Load()) }

// SetTop sets the allocation top.
func (r *Region) SetTop(a Address) { r.top.Store(uint64(a)) }

// UsedWords returns the number of words below top.
func (r *Region) UsedWords() int { return r.bottom.WordsTo(r.Top()) }

// FreeWords returns the number of words above top.
func (r *Region) FreeWords() int { return r.Top().WordsTo(r.end) }

// Contains reports whether a lies within [bottom, end).
func (r *Region) Contains(a Address) bool { return a >= r.bottom && a < r.end }

// Kind returns the region kind.
func (r *Region) Kind() RegionKind { return RegionKind(r.kind.Load()) }

// SetKind changes the region kind.
func (r *Region) SetKind(k RegionKind) { r.kind.Store(uint32(k)) }

// IsFree reports whether the region holds no objects.
func (r *Region) IsFree() bool { return r.Kind() == RegionFree }

// IsYoung reports whether the region belongs to the young generation.
func (r *Region) IsYoung() bool {
	k := r.Kind()
	return k == RegionEden || k == RegionSurvivor
}

// IsOld reports whether the region belongs to the old generation. Humongous
// and archive regions count as old.
func (r *Region) IsOld() bool {
	switch r.Kind() {
	case RegionOld, RegionHumongousStart, RegionHumongousCont, RegionArchive:
		return true
	}
	return false
}

// IsHumongous reports whether the region is part of a humongous object.
func (r *Region) IsHumongous() bool {
	k := r.Kind()
	return k == RegionHumongousStart || k == RegionHumongousCont
}

// IsArchive reports whether the region holds archived objects.
func (r *Region) IsArchive() bool { return r.Kind() == RegionArchive }

// IsPinned reports whether the region's objects must not move.
func (r *Region) IsPinned() bool { return r.pinned.Load() }

// SetPinned marks the region as pinned or unpinned.
func (r *Region) SetPinned(p bool) { r.pinned.Store(p) }

// IsCompactable reports whether a full collection may move objects in or out
// of this region. Pinned, archive and humongous regions never take part.
func (r *Region) IsCompactable() bool {
	if r.IsPinned() {
		return false
	}
	switch r.Kind() {
	case RegionEden, RegionSurvivor, RegionOld:
		return true
	}
	return false
}

// HumongousStart returns the index of the first region of the humongous run
// containing this region, or -1 for non-humongous regions.
func (r *Region) HumongousStart() int { return r.humongousStart }

// LiveWords returns the live-word count gathered by the last marking.
func (r *Region) LiveWords() int { return int(r.live.Load()) }

// AddLiveWords adds to the live-word count.
func (r *Region) AddLiveWords(words int) { r.live.Add(uint64(words)) }

// SetLiveWords overwrites the live-word count.
func (r *Region) SetLiveWords(words int) { r.live.Store(uint64(words)) }

// CompactionTop returns the next free address for forwarded objects.
func (r *Region) CompactionTop() Address { return r.compactionTop }

// SetCompactionTop sets the compaction top.
func (r *Region) SetCompactionTop(a Address) { r.compactionTop = a }

// ScanTop returns the top snapshot taken for the running young collection.
func (r *Region) ScanTop() Address { return r.scanTop }

// SetScanTop records the top snapshot.
func (r *Region) SetScanTop(a Address) { r.scanTop = a }

// InCollectionSet reports whether the region is being evacuated.
func (r *Region) InCollectionSet() bool { return r.inCSet.Load() }

// SetInCollectionSet adds or removes the region from the collection set.
func (r *Region) SetInCollectionSet(in bool) { r.inCSet.Store(in) }

// EvacuationFailed reports whether an object in the region failed promotion.
func (r *Region) EvacuationFailed() bool { return r.failed.Load() }

// SetEvacuationFailed records or clears an evacuation failure.
func (r *Region) SetEvacuationFailed(f bool) { r.failed.Store(f) }

// Allocate bumps top by words and returns the old top, or Null when the
// region cannot fit the request. Safe for concurrent use.
func (r *Region) Allocate(words int) Address {
	for {
		top := r.top.Load()
		next := Address(top).Plus(words)
		if next > r.end {
			return Null
		}
		if r.top.CompareAndSwap(top, uint64(next)) {
			return Address(top)
		}
	}
}

// reset returns the region to the free state.
func (r *Region) reset() {
	r.SetKind(RegionFree)
	r.top.Store(uint64(r.bottom))
	r.live.Store(0)
	r.pinned.Store(false)
	r.inCSet.Store(false)
	r.failed.Store(false)
	r.compactionTop = r.bottom
	r.scanTop = r.bottom
	r.humongousStart = -1
}
