package compact

import (
	"github.com/kolkov/gcengine/internal/gc/heap"
	"github.com/kolkov/gcengine/internal/gc/markbitmap"
	"github.com/kolkov/gcengine/internal/gc/preserved"
)

// DefaultDeadRatio is the percentage of dead space a region may keep
// without being compacted.
const DefaultDeadRatio = 5

// RegionState is the planning decision for one region.
type RegionState uint8

const (
	// StateUntouched regions are free or humongous continuations.
	StateUntouched RegionState = iota
	// StateCompacting regions take part in compaction.
	StateCompacting
	// StateSkip regions are dense enough to stay as they are.
	StateSkip
	// StateFixed regions never move: pinned, archive and live humongous.
	StateFixed
	// StateFree regions hold no live object and are freed after compaction.
	StateFree
)

// String returns the state name.
func (s RegionState) String() string {
	switch s {
	case StateUntouched:
		return "untouched"
	case StateCompacting:
		return "compacting"
	case StateSkip:
		return "skip"
	case StateFixed:
		return "fixed"
	case StateFree:
		return "free"
	default:
		return "unknown"
	}
}

// PlanStats summarizes a finished plan.
type PlanStats struct {
	Compacting int
	Skipped    int
	Fixed      int
	Freed      int
	Serial     int
	Forwarded  int
}

// Planner decides, per region, whether it is compacted, skipped, kept or
// freed, and computes forwarding addresses for the compacted ones.
//
// Thread Safety: Prepare runs on every worker concurrently; each region is
// claimed by exactly one worker, which owns its state. PrepareSerial and the
// accessors run between phases.
type Planner struct {
	heap      *heap.Heap
	bitmap    *markbitmap.Bitmap
	marks     *preserved.Set
	deadRatio int

	claimer *heap.Claimer
	states  []RegionState
	points  []*Point
	serial  *Point
}

// NewPlanner creates a planner for workers workers. deadRatio is the
// percentage of dead space tolerated in a region before it is compacted.
func NewPlanner(h *heap.Heap, bm *markbitmap.Bitmap, marks *preserved.Set, deadRatio int) *Planner {
	if deadRatio < 0 || deadRatio > 100 {
		deadRatio = DefaultDeadRatio
	}
	return &Planner{
		heap:      h,
		bitmap:    bm,
		marks:     marks,
		deadRatio: deadRatio,
		states:    make([]RegionState, h.NumRegions()),
		points:    make([]*Point, marks.Len()),
	}
}

// Start resets the planner for a new collection.
func (p *Planner) Start() {
	p.claimer = heap.NewClaimer(p.heap.NumRegions())
	clear(p.states)
	for i := range p.points {
		p.points[i] = NewPoint(p.heap, p.marks.Stack(i))
	}
	p.serial = nil
}

// State returns the decision taken for region i.
func (p *Planner) State(i int) RegionState { return p.states[i] }

// IsCompacting reports whether objects of region i may have moved.
func (p *Planner) IsCompacting(i int) bool { return p.states[i] == StateCompacting }

// Point returns worker w's compaction point.
func (p *Planner) Point(w int) *Point { return p.points[w] }

// Serial returns the serial compaction point, nil when serial compaction
// was not needed.
func (p *Planner) Serial() *Point { return p.serial }

// dense reports whether r holds so little dead space that moving its
// objects is not worth it.
func (p *Planner) dense(r *heap.Region) bool {
	return r.LiveWords()*100 > r.CapacityWords()*(100-p.deadRatio)
}

// Prepare claims regions until none are left and plans each of them.
func (p *Planner) Prepare(w int) {
	for {
		i, ok := p.claimer.Claim()
		if !ok {
			return
		}
		p.prepareRegion(w, p.heap.Region(i))
	}
}

func (p *Planner) prepareRegion(w int, r *heap.Region) {
	i := r.Index()
	switch r.Kind() {
	case heap.RegionFree, heap.RegionHumongousCont:
		return
	case heap.RegionHumongousStart:
		if p.bitmap.IsMarked(r.Bottom()) || r.IsPinned() {
			p.states[i] = StateFixed
		} else {
			p.states[i] = StateFree
		}
		return
	}

	switch {
	case !r.IsCompactable():
		p.states[i] = StateFixed
		p.fillDeadGaps(r)
	case r.LiveWords() == 0:
		p.states[i] = StateFree
	case p.dense(r):
		p.states[i] = StateSkip
		p.fillDeadGaps(r)
	default:
		p.states[i] = StateCompacting
		pt := p.points[w]
		pt.Add(r)
		p.forEachLive(r, func(obj heap.Address, size int) {
			pt.Forward(obj, size)
		})
	}
}

// forEachLive visits the marked objects of r in address order.
func (p *Planner) forEachLive(r *heap.Region, visit func(obj heap.Address, size int)) {
	for a := r.Bottom(); ; {
		obj, ok := p.bitmap.NextMarked(a, r.Top())
		if !ok {
			return
		}
		size := p.heap.SizeOf(obj)
		visit(obj, size)
		a = obj.Plus(size)
	}
}

// fillDeadGaps turns every unmarked run of r into a filler object so the
// region holds no stale references once other regions are compacted.
func (p *Planner) fillDeadGaps(r *heap.Region) {
	cursor := r.Bottom()
	p.forEachLive(r, func(obj heap.Address, size int) {
		if obj > cursor {
			p.heap.FillWithFiller(cursor, cursor.WordsTo(obj))
		}
		cursor = obj.Plus(size)
	})
	if top := r.Top(); cursor < top {
		p.heap.FillWithFiller(cursor, cursor.WordsTo(top))
	}
}

// PrepareSerial moves the last region of every compaction point into one
// serial point when more than one point ends in a partially filled region,
// and re-plans those regions so their free tails are consolidated.
//
// The first moved region keeps its plan. Every further region is reset to
// empty and its objects that stayed inside it are forwarded again through
// the serial point; objects already forwarded into an earlier region keep
// their address. Returns whether serial compaction is needed.
func (p *Planner) PrepareSerial() bool {
	partial := 0
	for _, pt := range p.points {
		if last := pt.Last(); last != nil && last.CompactionTop() > last.Bottom() {
			partial++
		}
	}
	if partial < 2 {
		return false
	}

	serial := NewPoint(p.heap, p.marks.Stack(0))
	first := true
	for _, pt := range p.points {
		r := pt.RemoveLast()
		if r == nil {
			continue
		}
		if first {
			serial.AddPrepared(r)
			first = false
			continue
		}
		serial.Add(r)
		p.forEachLive(r, func(obj heap.Address, size int) {
			hd := p.heap.LoadHeader(obj)
			if fwd, ok := hd.Forwardee(); ok && !r.Contains(fwd) {
				return
			}
			serial.Reforward(obj, size)
		})
	}
	p.serial = serial
	return true
}

// Stats counts the planning decisions.
func (p *Planner) Stats() PlanStats {
	var s PlanStats
	for _, st := range p.states {
		switch st {
		case StateCompacting:
			s.Compacting++
		case StateSkip:
			s.Skipped++
		case StateFixed:
			s.Fixed++
		case StateFree:
			s.Freed++
		}
	}
	for _, pt := range p.points {
		s.Forwarded += pt.Forwards()
	}
	if p.serial != nil {
		s.Serial = len(p.serial.Regions())
		s.Forwarded += p.serial.Forwards()
	}
	return s
}
