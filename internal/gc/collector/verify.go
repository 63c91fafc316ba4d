package collector

import (
	"fmt"

	"github.com/kolkov/gcengine/internal/gc/heap"
)

// verify panics when VerifyHeap is set and the heap is corrupt.
func (c *Collector) verify(when string) {
	if !c.opts.VerifyHeap {
		return
	}
	if err := c.Check(); err != nil {
		panic(fmt.Errorf("%s: %w", when, err))
	}
}

// Verify checks the heap and panics on the first inconsistency. Must not
// run concurrently with a collection or mutator.
func (c *Collector) Verify() {
	if err := c.Check(); err != nil {
		panic(err)
	}
}

// Check walks the heap and reports the first inconsistency as an error
// wrapping heap.ErrCorrupt.
//
// Checked:
//   - every used region parses into objects of registered types up to top
//   - no header is left forwarded
//   - every reference, from the heap or a root, is null or an object start
//   - every old slot referencing a young object sits on a non-clean card
func (c *Collector) Check() error {
	h := c.heap
	starts := make(map[heap.Address]bool)
	var objs []heap.Address

	for _, r := range h.Regions() {
		kind := r.Kind()
		if kind == heap.RegionFree || kind == heap.RegionHumongousCont {
			continue
		}
		top := r.Top()
		for a := r.Bottom(); a < top; {
			t, length, err := h.TypeOf(a)
			if err != nil {
				return fmt.Errorf("%w: region %d (%s): %v", heap.ErrCorrupt, r.Index(), kind, err)
			}
			if hd := h.LoadHeader(a); hd.IsForwarded() {
				return fmt.Errorf("%w: object %s in region %d still forwarded", heap.ErrCorrupt, a, r.Index())
			}
			starts[a] = true
			if t.ID != heap.FillerTypeID {
				objs = append(objs, a)
			}
			if kind == heap.RegionHumongousStart {
				break
			}
			size := t.SizeWords(length)
			if a.Plus(size) > top {
				return fmt.Errorf("%w: object %s of %d words overruns region %d top %s", heap.ErrCorrupt, a, size, r.Index(), top)
			}
			a = a.Plus(size)
		}
	}

	var bad error
	for _, obj := range objs {
		oldObj := !h.RegionFor(obj).IsYoung()
		h.IterateRefs(obj, func(slot heap.Address) {
			if bad != nil {
				return
			}
			ref := h.LoadRef(slot)
			if ref == heap.Null {
				return
			}
			if !starts[ref] {
				bad = fmt.Errorf("%w: slot %s of %s references %s, not an object", heap.ErrCorrupt, slot, obj, ref)
				return
			}
			if oldObj && h.RegionFor(ref).IsYoung() && c.cards.IsClean(c.cards.CardIndex(slot)) {
				bad = fmt.Errorf("%w: old slot %s references young %s on a clean card", heap.ErrCorrupt, slot, ref)
			}
		})
		if bad != nil {
			return bad
		}
	}

	checkRoot := func(slot *heap.Address) {
		if bad == nil && *slot != heap.Null && !starts[*slot] {
			bad = fmt.Errorf("%w: root references %s, not an object", heap.ErrCorrupt, *slot)
		}
	}
	for p := 0; p < c.roots.StrongPartitions(); p++ {
		c.roots.VisitStrong(p, checkRoot)
	}
	c.roots.VisitWeak(checkRoot)
	return bad
}
