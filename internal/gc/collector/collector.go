// Package collector composes the marker, compactor and promotion managers
// into full and young collections over one heap.
//
// A Collector owns every piece of collection state: the mark bitmap, the
// card table and its object-start index, the task queues and the worker
// gang. Nothing is shared between collectors, so several heaps can be
// collected independently in one process.
//
// Collections are stop-the-world: the caller guarantees that no mutator
// touches the heap while FullCollect or Scavenge runs. Allocation and
// WriteRef are safe for concurrent use between collections.
package collector

import (
	"fmt"
	"sync"

	"github.com/kolkov/gcengine/internal/config"
	"github.com/kolkov/gcengine/internal/gc/cardtable"
	"github.com/kolkov/gcengine/internal/gc/compact"
	"github.com/kolkov/gcengine/internal/gc/heap"
	"github.com/kolkov/gcengine/internal/gc/markbitmap"
	"github.com/kolkov/gcengine/internal/gc/marker"
	"github.com/kolkov/gcengine/internal/gc/preserved"
	"github.com/kolkov/gcengine/internal/gc/promotion"
	"github.com/kolkov/gcengine/internal/gc/taskqueue"
	"github.com/kolkov/gcengine/internal/gc/workers"
	"github.com/kolkov/gcengine/internal/logging"
	"github.com/kolkov/gcengine/internal/metrics"
)

// Options tunes a Collector.
type Options struct {
	Workers int

	// EdenRegions bounds the regions mutators allocate young objects in.
	// Zero means unbounded.
	EdenRegions int

	DeadRatio        int
	SerialCompaction bool

	// TenuringThreshold is the survivor age promoted to the old generation.
	// Zero tenures every survivor.
	TenuringThreshold int

	LABWords           int
	DirectAllocDivisor int
	MaxSurvivorRegions int
	ChunkThreshold     int
	ChunkStride        int
	QueueCapacity      int
	StripeCards        int

	// FullOnPromotionFailure runs a full collection right after a young
	// collection that could not evacuate every live object.
	FullOnPromotionFailure bool

	// VerifyHeap checks the heap before and after every collection and
	// panics on corruption.
	VerifyHeap bool
}

// DefaultOptions returns the options of config.Default.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}

// OptionsFromConfig extracts the collector options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	c := cfg.Collector
	return Options{
		Workers:                c.Workers,
		EdenRegions:            cfg.Heap.EdenRegions,
		DeadRatio:              c.DeadRatioPercent,
		SerialCompaction:       c.SerialCompaction,
		TenuringThreshold:      c.TenuringThreshold,
		LABWords:               c.LABWords,
		DirectAllocDivisor:     c.DirectAllocDivisor,
		MaxSurvivorRegions:     c.MaxSurvivorRegions,
		ChunkThreshold:         c.ChunkThreshold,
		ChunkStride:            c.ChunkStride,
		QueueCapacity:          c.QueueCapacity,
		StripeCards:            c.StripeCards,
		FullOnPromotionFailure: c.FullOnPromotionFailure,
		VerifyHeap:             c.VerifyHeap,
	}
}

// Collector collects one heap.
type Collector struct {
	heap    *heap.Heap
	roots   heap.RootProvider
	opts    Options
	log     *logging.Logger
	metrics *metrics.CollectorMetrics

	bitmap  *markbitmap.Bitmap
	cards   *cardtable.Table
	starts  *cardtable.StartArray
	scanner *cardtable.Scanner
	set     *taskqueue.Set
	term    *taskqueue.Terminator
	gang    *workers.Gang
	marks   *preserved.Set

	marker   *marker.Marker
	planner  *compact.Planner
	adjuster *compact.Adjuster
	mover    *compact.Mover
	promo    *promotion.Managers

	eden    *heap.Space
	old     *heap.Space
	archive *heap.Space

	mu    sync.Mutex
	stats Stats
}

// New creates a collector for h and roots. log and m may be nil, selecting
// the global logger and no metrics.
func New(h *heap.Heap, roots heap.RootProvider, opts Options, log *logging.Logger, m *metrics.CollectorMetrics) *Collector {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueCapacity < 2 {
		opts.QueueCapacity = taskqueue.DefaultCapacity
	}
	if log == nil {
		log = logging.Global()
	}
	log = log.With(map[string]any{"component": "collector"})

	c := &Collector{
		heap:    h,
		roots:   roots,
		opts:    opts,
		log:     log,
		metrics: m,
		bitmap:  markbitmap.ForHeap(h),
		cards:   cardtable.ForHeap(h),
		marks:   preserved.NewSet(opts.Workers),
		set:     taskqueue.NewSet(opts.Workers, opts.QueueCapacity),
		gang:    workers.New(opts.Workers, log),
		eden:    h.NewSpace(heap.RegionEden, opts.EdenRegions),
		old:     h.NewSpace(heap.RegionOld, 0),
		archive: h.NewSpace(heap.RegionArchive, 0),
	}
	c.starts = cardtable.NewStartArray(c.cards)
	c.scanner = cardtable.NewScanner(h, c.cards, c.starts, opts.StripeCards)
	c.term = taskqueue.NewTerminator(c.set)

	c.marker = marker.New(h, c.bitmap, c.set, c.term, marker.Config{
		ChunkThreshold: opts.ChunkThreshold,
		ChunkStride:    opts.ChunkStride,
	})
	c.planner = compact.NewPlanner(h, c.bitmap, c.marks, opts.DeadRatio)
	c.adjuster = compact.NewAdjuster(h, c.bitmap, c.planner, c.marks)
	c.mover = compact.NewMover(h, c.bitmap, c.planner)
	tenuring := opts.TenuringThreshold
	if tenuring == 0 {
		tenuring = promotion.TenureAll
	}
	c.promo = promotion.NewManagers(h, c.cards, c.starts, c.bitmap, c.marks, c.set, c.term, promotion.Config{
		TenuringThreshold:  tenuring,
		LABWords:           opts.LABWords,
		DirectAllocDivisor: opts.DirectAllocDivisor,
		ChunkThreshold:     opts.ChunkThreshold,
		ChunkStride:        opts.ChunkStride,
	})
	return c
}

// Heap returns the collected heap.
func (c *Collector) Heap() *heap.Heap { return c.heap }

// Options returns the collector's options.
func (c *Collector) Options() Options { return c.opts }

// Cards returns the card table mutators' write barrier dirties.
func (c *Collector) Cards() *cardtable.Table { return c.cards }

// Stats returns the accumulated collection statistics.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Allocate places a young object of type id, or a humongous object when it
// is too large for a region half. It fails with heap.ErrOutOfMemory when
// eden is exhausted; a young collection usually makes room.
func (c *Collector) Allocate(id heap.TypeID, length int) (heap.Address, error) {
	t, size, err := c.sizeOf(id, length)
	if err != nil {
		return heap.Null, err
	}
	if size >= c.heap.HumongousWords() {
		return c.allocateHumongous(t, length, size)
	}
	a := c.eden.Allocate(size)
	if a == heap.Null {
		return heap.Null, fmt.Errorf("%w: eden exhausted allocating %d words of %s", heap.ErrOutOfMemory, size, t.Name)
	}
	c.heap.InitObject(a, id, length, size)
	return a, nil
}

// AllocateOld places an object of type id directly in the old generation.
func (c *Collector) AllocateOld(id heap.TypeID, length int) (heap.Address, error) {
	t, size, err := c.sizeOf(id, length)
	if err != nil {
		return heap.Null, err
	}
	if size >= c.heap.HumongousWords() {
		return c.allocateHumongous(t, length, size)
	}
	return c.allocateIn(c.old, t, length, size)
}

// AllocateArchive places an immortal object in an archive region. Archive
// objects are never moved or freed and everything they reference stays
// alive.
func (c *Collector) AllocateArchive(id heap.TypeID, length int) (heap.Address, error) {
	t, size, err := c.sizeOf(id, length)
	if err != nil {
		return heap.Null, err
	}
	return c.allocateIn(c.archive, t, length, size)
}

func (c *Collector) allocateIn(s *heap.Space, t *heap.Type, length, size int) (heap.Address, error) {
	a := s.Allocate(size)
	if a == heap.Null {
		return heap.Null, fmt.Errorf("%w: no %s region for %d words of %s", heap.ErrOutOfMemory, s.Kind(), size, t.Name)
	}
	c.heap.InitObject(a, t.ID, length, size)
	c.starts.Record(a)
	return a, nil
}

func (c *Collector) allocateHumongous(t *heap.Type, length, size int) (heap.Address, error) {
	a := c.heap.AllocateHumongous(size)
	if a == heap.Null {
		return heap.Null, fmt.Errorf("%w: no run of free regions for humongous %s of %d words", heap.ErrOutOfMemory, t.Name, size)
	}
	c.heap.InitObject(a, t.ID, length, size)
	c.starts.Record(a)
	return a, nil
}

func (c *Collector) sizeOf(id heap.TypeID, length int) (*heap.Type, int, error) {
	t, ok := c.heap.Types().Lookup(id)
	if !ok || id == heap.FillerTypeID {
		return nil, 0, fmt.Errorf("%w: %d", heap.ErrUnknownType, id)
	}
	if length < 0 || (!t.IsArray() && length != 0) {
		return nil, 0, fmt.Errorf("collector: invalid length %d for %s", length, t.Name)
	}
	return t, t.SizeWords(length), nil
}

// WriteRef stores value into payload word field of obj and runs the post
// write barrier: a store into an object outside the young generation
// dirties the slot's card.
func (c *Collector) WriteRef(obj heap.Address, field int, value heap.Address) {
	slot := heap.FieldSlot(obj, field)
	c.heap.StoreRef(slot, value)
	if value == heap.Null {
		return
	}
	if r := c.heap.RegionFor(obj); r != nil && !r.IsYoung() {
		c.cards.Dirty(slot)
	}
}

// freeRegion returns r, or the whole humongous run starting at r, to the
// free list together with its cards and object starts.
func (c *Collector) freeRegion(r *heap.Region) int {
	end := r.End()
	n := 1
	if run := c.heap.HumongousRun(r); len(run) > 0 {
		end = run[len(run)-1].End()
		n = len(run)
	}
	c.cards.ClearRange(r.Bottom(), end)
	c.starts.Reset(r.Bottom(), end)
	c.heap.FreeRegion(r)
	return n
}

// recordHeap publishes the heap occupancy after a collection.
func (c *Collector) recordHeap() {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordHeap(uint64(c.heap.UsedWords())*heap.WordSize, c.heap.FreeRegions())
	qs := c.set.Stats()
	c.metrics.RecordQueues(qs.Steals, qs.Overflows)
}

func (c *Collector) recordPhases(timings []workers.Timing) {
	if c.metrics == nil {
		return
	}
	for _, t := range timings {
		c.metrics.RecordPhase(t.Name, t.Duration)
	}
}
