package compact

import (
	"github.com/kolkov/gcengine/internal/gc/heap"
	"github.com/kolkov/gcengine/internal/gc/markbitmap"
	"github.com/kolkov/gcengine/internal/gc/preserved"
)

// Adjuster rewrites every reference to a forwarded object.
//
// It runs strictly after planning: every forwarding header must be in
// place and no object may have moved yet.
type Adjuster struct {
	heap    *heap.Heap
	bitmap  *markbitmap.Bitmap
	planner *Planner
	marks   *preserved.Set

	roots       heap.RootProvider
	rootClaimer *heap.Claimer
	regClaimer  *heap.Claimer
}

// NewAdjuster creates an adjuster resolving forwarding through planner's
// decisions.
func NewAdjuster(h *heap.Heap, bm *markbitmap.Bitmap, planner *Planner, marks *preserved.Set) *Adjuster {
	return &Adjuster{heap: h, bitmap: bm, planner: planner, marks: marks}
}

// Start prepares an adjustment pass over roots.
func (a *Adjuster) Start(roots heap.RootProvider) {
	a.roots = roots
	a.rootClaimer = heap.NewClaimer(roots.StrongPartitions())
	a.regClaimer = heap.NewClaimer(a.heap.NumRegions())
}

// Relocate returns the address ref will have after compaction.
//
// Only referents inside compacting regions are looked up; everything else
// stays where it is.
func (a *Adjuster) Relocate(ref heap.Address) heap.Address {
	if ref == heap.Null {
		return ref
	}
	r := a.heap.RegionFor(ref)
	if r == nil || !a.planner.IsCompacting(r.Index()) {
		return ref
	}
	if fwd, ok := a.heap.LoadHeader(ref).Forwardee(); ok {
		return fwd
	}
	return ref
}

// Run adjusts the roots and regions claimed by w, and w's preserved marks.
// Worker 0 also adjusts the weak roots.
func (a *Adjuster) Run(w int) {
	for {
		p, ok := a.rootClaimer.Claim()
		if !ok {
			break
		}
		a.roots.VisitStrong(p, func(slot *heap.Address) {
			*slot = a.Relocate(*slot)
		})
	}
	if w == 0 {
		a.roots.VisitWeak(func(slot *heap.Address) {
			*slot = a.Relocate(*slot)
		})
	}
	for {
		i, ok := a.regClaimer.Claim()
		if !ok {
			break
		}
		a.adjustRegion(a.heap.Region(i))
	}
	if w < a.marks.Len() {
		a.marks.Stack(w).Adjust(a.Relocate)
	}
}

func (a *Adjuster) adjustRegion(r *heap.Region) {
	switch a.planner.State(r.Index()) {
	case StateUntouched, StateFree:
		return
	}
	top := r.Top()
	if r.Kind() == heap.RegionHumongousStart {
		// The object extends past this region; only its start is marked.
		a.adjustObject(r.Bottom())
		return
	}
	for cur := r.Bottom(); ; {
		obj, ok := a.bitmap.NextMarked(cur, top)
		if !ok {
			return
		}
		a.adjustObject(obj)
		cur = obj.Plus(a.heap.SizeOf(obj))
	}
}

func (a *Adjuster) adjustObject(obj heap.Address) {
	a.heap.IterateRefs(obj, func(slot heap.Address) {
		ref := a.heap.LoadRef(slot)
		if moved := a.Relocate(ref); moved != ref {
			a.heap.StoreRef(slot, moved)
		}
	})
}
