// Package marker implements the parallel tracing phase of a full
// collection: it sets a mark bit on every object reachable from the roots
// and accounts the live words of every region.
package marker

import (
	"math/rand/v2"
	"sync/atomic"

	"github.com/kolkov/gcengine/internal/gc/heap"
	"github.com/kolkov/gcengine/internal/gc/markbitmap"
	"github.com/kolkov/gcengine/internal/gc/taskqueue"
)

// Config tunes array chunking.
type Config struct {
	// ChunkThreshold is the reference-array length above which the array is
	// scanned in chunks.
	ChunkThreshold int

	// ChunkStride is the number of elements per chunk.
	ChunkStride int
}

func (c Config) withDefaults() Config {
	if c.ChunkStride < 1 {
		c.ChunkStride = taskqueue.DefaultChunkStride
	}
	if c.ChunkThreshold < c.ChunkStride {
		c.ChunkThreshold = taskqueue.DefaultChunkThreshold
		if c.ChunkThreshold < c.ChunkStride {
			c.ChunkThreshold = c.ChunkStride
		}
	}
	return c
}

// worker is the per-worker marking state.
type worker struct {
	rng *rand.Rand

	// live caches live words per region until FlushLiveWords.
	live []uint64

	marked uint64
	words  uint64
	_      [40]byte
}

// Marker traces the object graph.
//
// Usage per collection:
//  1. Start(roots) on one goroutine
//  2. MarkRoots, MarkArchives then Drain on every worker, in one phase
//  3. FlushLiveWords on every worker
//  4. ProcessWeakRoots on one goroutine
//
// Invariant after Drain: every object reachable from a strong root has its
// mark bit set, and no bit is set except at object starts.
type Marker struct {
	heap   *heap.Heap
	bitmap *markbitmap.Bitmap
	set    *taskqueue.Set
	term   *taskqueue.Terminator
	cfg    Config

	roots    heap.RootProvider
	claimer  *heap.Claimer
	archives *heap.Claimer
	workers  []worker

	weakCleared atomic.Uint64
}

// New creates a marker over the queues of set.
func New(h *heap.Heap, bm *markbitmap.Bitmap, set *taskqueue.Set, term *taskqueue.Terminator, cfg Config) *Marker {
	m := &Marker{
		heap:    h,
		bitmap:  bm,
		set:     set,
		term:    term,
		cfg:     cfg.withDefaults(),
		workers: make([]worker, set.Len()),
	}
	for i := range m.workers {
		m.workers[i].rng = taskqueue.NewRand(i)
		m.workers[i].live = make([]uint64, h.NumRegions())
	}
	return m
}

// Start prepares a marking cycle over roots. Not safe for concurrent use.
func (m *Marker) Start(roots heap.RootProvider) {
	m.roots = roots
	m.claimer = heap.NewClaimer(roots.StrongPartitions())
	m.archives = heap.NewClaimer(m.heap.NumRegions())
	m.term.Reset()
	m.weakCleared.Store(0)
	for _, r := range m.heap.Regions() {
		r.SetLiveWords(0)
	}
	for i := range m.workers {
		w := &m.workers[i]
		clear(w.live)
		w.marked = 0
		w.words = 0
	}
}

// MarkRoots marks the referents of the strong root partitions claimed by w.
func (m *Marker) MarkRoots(w int) {
	for {
		p, ok := m.claimer.Claim()
		if !ok {
			return
		}
		m.roots.VisitStrong(p, func(slot *heap.Address) {
			if *slot != heap.Null {
				m.markAndPush(w, *slot)
			}
		})
	}
}

// MarkArchives treats every object of the archive regions claimed by w as
// a root. Archive objects are never freed, so whatever they reference must
// survive as well.
func (m *Marker) MarkArchives(w int) {
	for {
		i, ok := m.archives.Claim()
		if !ok {
			return
		}
		r := m.heap.Region(i)
		if !r.IsArchive() {
			continue
		}
		m.heap.WalkObjects(r.Bottom(), r.Top(), func(obj heap.Address, _ int) bool {
			if !m.heap.IsFiller(obj) {
				m.markAndPush(w, obj)
			}
			return true
		})
	}
}

// Drain processes tasks until every worker ran out of work.
func (m *Marker) Drain(w int) {
	taskqueue.Drain(m.set, m.term, w, m.workers[w].rng, func(t taskqueue.Task) {
		m.process(w, t)
	})
}

// markAndPush marks obj and, when this worker won the mark, accounts its
// size and queues it for scanning.
func (m *Marker) markAndPush(w int, obj heap.Address) {
	if !m.bitmap.Mark(obj) {
		return
	}
	size := m.heap.SizeOf(obj)
	st := &m.workers[w]
	st.live[m.heap.RegionIndex(obj)] += uint64(size)
	st.marked++
	st.words += uint64(size)
	m.set.Queue(w).Push(taskqueue.ObjectTask(obj))
}

func (m *Marker) process(w int, t taskqueue.Task) {
	switch t.Kind {
	case taskqueue.KindObject:
		m.scanObject(w, t.Addr)
	case taskqueue.KindPartialArray:
		m.scanChunk(w, t.Addr, t.Index)
	}
}

func (m *Marker) scanObject(w int, obj heap.Address) {
	if length, ok := m.heap.RefArrayLength(obj); ok && length > m.cfg.ChunkThreshold {
		m.scanChunk(w, obj, 0)
		return
	}
	m.heap.IterateRefs(obj, func(slot heap.Address) {
		m.markSlot(w, slot)
	})
}

// scanChunk scans one chunk of a large array, queueing the continuation
// first so other workers can steal it.
func (m *Marker) scanChunk(w int, arr heap.Address, start int) {
	length, _ := m.heap.RefArrayLength(arr)
	end, more := taskqueue.NextChunk(start, length, m.cfg.ChunkStride)
	if more {
		m.set.Queue(w).Push(taskqueue.PartialArrayTask(arr, end))
	}
	m.heap.IterateArrayRefs(arr, start, end, func(slot heap.Address) {
		m.markSlot(w, slot)
	})
}

func (m *Marker) markSlot(w int, slot heap.Address) {
	if ref := m.heap.LoadRef(slot); ref != heap.Null {
		m.markAndPush(w, ref)
	}
}

// FlushLiveWords adds w's cached live words to the regions.
func (m *Marker) FlushLiveWords(w int) {
	live := m.workers[w].live
	for i, n := range live {
		if n != 0 {
			m.heap.Region(i).AddLiveWords(int(n))
			live[i] = 0
		}
	}
}

// ProcessWeakRoots clears weak root slots whose referent was not marked.
func (m *Marker) ProcessWeakRoots() {
	m.roots.VisitWeak(func(slot *heap.Address) {
		if *slot != heap.Null && !m.bitmap.IsMarked(*slot) {
			*slot = heap.Null
			m.weakCleared.Add(1)
		}
	})
}

// Stats summarizes a finished marking.
type Stats struct {
	MarkedObjects uint64
	LiveWords     uint64
	WeakCleared   uint64
}

// Stats returns totals across workers. Call after all workers finished.
func (m *Marker) Stats() Stats {
	var s Stats
	for i := range m.workers {
		s.MarkedObjects += m.workers[i].marked
		s.LiveWords += m.workers[i].words
	}
	s.WeakCleared = m.weakCleared.Load()
	return s
}
