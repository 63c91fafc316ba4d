package compact

import (
	"github.com/kolkov/gcengine/internal/gc/heap"
	"github.com/kolkov/gcengine/internal/gc/markbitmap"
)

// Mover copies forwarded objects to their new addresses.
type Mover struct {
	heap    *heap.Heap
	bitmap  *markbitmap.Bitmap
	planner *Planner
}

// NewMover creates a mover for planner's points.
func NewMover(h *heap.Heap, bm *markbitmap.Bitmap, planner *Planner) *Mover {
	return &Mover{heap: h, bitmap: bm, planner: planner}
}

// CompactWorker moves the objects of worker w's point, region by region in
// queue order.
func (m *Mover) CompactWorker(w int) int {
	moved := 0
	for _, r := range m.planner.Point(w).Regions() {
		moved += m.compactRegion(r)
	}
	return moved
}

// CompactSerial moves the objects of the serial point. It must run after
// every CompactWorker returned.
func (m *Mover) CompactSerial() int {
	sp := m.planner.Serial()
	if sp == nil {
		return 0
	}
	moved := 0
	for _, r := range sp.Regions() {
		moved += m.compactRegion(r)
	}
	return moved
}

// compactRegion slides the live objects of r in ascending order. The size
// of each object is read before it is copied because the copy may
// overwrite its own type word.
func (m *Mover) compactRegion(r *heap.Region) int {
	moved := 0
	top := r.Top()
	for cur := r.Bottom(); ; {
		obj, ok := m.bitmap.NextMarked(cur, top)
		if !ok {
			return moved
		}
		size := m.heap.SizeOf(obj)
		if fwd, ok := m.heap.LoadHeader(obj).Forwardee(); ok {
			m.heap.CopyWords(obj.Plus(1), fwd.Plus(1), size-1)
			m.heap.StoreHeader(fwd, heap.Prototype)
			moved++
		}
		cur = obj.Plus(size)
	}
}

// Finish sets each compacted region's top to its compaction top and
// returns the regions that ended up empty.
func (m *Mover) Finish() []*heap.Region {
	var empty []*heap.Region
	finish := func(r *heap.Region) {
		r.SetTop(r.CompactionTop())
		r.SetLiveWords(r.UsedWords())
		if r.Top() == r.Bottom() {
			empty = append(empty, r)
		}
	}
	for w := range m.planner.points {
		for _, r := range m.planner.Point(w).Regions() {
			finish(r)
		}
	}
	if sp := m.planner.Serial(); sp != nil {
		for _, r := range sp.Regions() {
			finish(r)
		}
	}
	return empty
}
