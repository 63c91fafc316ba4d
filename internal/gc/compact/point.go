// Package compact implements the planning, pointer adjustment and object
// movement steps of a full collection.
//
// Planning assigns every live object of a compacting region a new address
// by bumping through the compaction point of the worker that claimed the
// region. The new address is recorded as a forwarding header. Adjustment
// then rewrites every reference to a moved object, and the mover slides
// the objects to their new homes.
package compact

import (
	"fmt"

	"github.com/kolkov/gcengine/internal/gc/heap"
	"github.com/kolkov/gcengine/internal/gc/preserved"
)

// Point is a queue of target regions and a bump cursor into the current one.
//
// Regions are appended in the order a worker claims them, which is
// ascending address order. Objects only ever move to the same or an
// earlier region of the queue, and to a lower address within their own
// region, so copying the queue in order never overwrites a live object
// that has not moved yet.
type Point struct {
	heap     *heap.Heap
	marks    *preserved.Stack
	regions  []*heap.Region
	current  int
	forwards int
}

// NewPoint creates an empty compaction point saving headers into marks.
func NewPoint(h *heap.Heap, marks *preserved.Stack) *Point {
	return &Point{heap: h, marks: marks}
}

// Add appends r as a target, resetting its compaction top to its bottom.
func (p *Point) Add(r *heap.Region) {
	r.SetCompactionTop(r.Bottom())
	p.regions = append(p.regions, r)
}

// AddPrepared appends r keeping its current compaction top, for a region
// whose objects were already forwarded.
func (p *Point) AddPrepared(r *heap.Region) {
	p.regions = append(p.regions, r)
}

// Regions returns the queued regions in order.
func (p *Point) Regions() []*heap.Region { return p.regions }

// HasRegions reports whether any region is queued.
func (p *Point) HasRegions() bool { return len(p.regions) > 0 }

// Current returns the region objects are currently forwarded into.
func (p *Point) Current() *heap.Region {
	if len(p.regions) == 0 {
		return nil
	}
	return p.regions[p.current]
}

// Last returns the last queued region.
func (p *Point) Last() *heap.Region {
	if len(p.regions) == 0 {
		return nil
	}
	return p.regions[len(p.regions)-1]
}

// RemoveLast pops the last queued region.
func (p *Point) RemoveLast() *heap.Region {
	r := p.Last()
	if r == nil {
		return nil
	}
	p.regions = p.regions[:len(p.regions)-1]
	if p.current >= len(p.regions) && p.current > 0 {
		p.current = len(p.regions) - 1
	}
	return r
}

// Forwards returns the number of objects that got a new address.
func (p *Point) Forwards() int { return p.forwards }

// Forward assigns obj its new address.
//
// Algorithm:
//  1. Advance to the next queued region while obj does not fit
//  2. Save the header if it carries state (first visit only)
//  3. If the new address differs, install a forwarding header; otherwise
//     drop any forwarding left by an earlier pass
//  4. Bump the region's compaction top
func (p *Point) Forward(obj heap.Address, size int) {
	p.forward(obj, size, true)
}

// Reforward is Forward for an object that was already visited once; its
// header has been saved if needed.
func (p *Point) Reforward(obj heap.Address, size int) {
	p.forward(obj, size, false)
}

func (p *Point) forward(obj heap.Address, size int, preserve bool) {
	for p.regions[p.current].CompactionTop().Plus(size) > p.regions[p.current].End() {
		p.current++
		if p.current == len(p.regions) {
			panic(fmt.Errorf("%w: no compaction target fits object %s of %d words", heap.ErrCorrupt, obj, size))
		}
	}
	target := p.regions[p.current]
	dst := target.CompactionTop()

	hd := p.heap.LoadHeader(obj)
	if preserve && !hd.IsForwarded() {
		p.marks.PushIfNecessary(obj, hd)
	}
	if dst != obj {
		p.heap.StoreHeader(obj, heap.ForwardingHeader(dst))
		p.forwards++
	} else if hd.IsForwarded() {
		p.heap.StoreHeader(obj, heap.Prototype)
	}
	target.SetCompactionTop(dst.Plus(size))
}
