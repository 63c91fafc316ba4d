package promotion

import (
	"math/rand/v2"
	"sync/atomic"

	"github.com/kolkov/gcengine/internal/gc/cardtable"
	"github.com/kolkov/gcengine/internal/gc/heap"
	"github.com/kolkov/gcengine/internal/gc/markbitmap"
	"github.com/kolkov/gcengine/internal/gc/preserved"
	"github.com/kolkov/gcengine/internal/gc/taskqueue"
)

// Default tuning values.
const (
	DefaultTenuringThreshold  = 7
	TenureAll                 = -1
	DefaultLABWords           = 256
	DefaultDirectAllocDivisor = 4
)

// Config tunes evacuation.
type Config struct {
	// TenuringThreshold is the age from which survivors are copied to the
	// tenured space. Zero selects DefaultTenuringThreshold, TenureAll (any
	// negative value) tenures every survivor and anything above heap.MaxAge
	// never tenures by age.
	TenuringThreshold int

	// LABWords is the size of a freshly claimed LAB.
	LABWords int

	// DirectAllocDivisor selects direct allocation for objects larger than
	// LABWords/DirectAllocDivisor once the LAB cannot hold them.
	DirectAllocDivisor int

	ChunkThreshold int
	ChunkStride    int
}

func (c Config) withDefaults() Config {
	switch {
	case c.TenuringThreshold == 0:
		c.TenuringThreshold = DefaultTenuringThreshold
	case c.TenuringThreshold < 0:
		c.TenuringThreshold = 0
	}
	if c.LABWords < heap.HeaderWords {
		c.LABWords = DefaultLABWords
	}
	c.LABWords = heap.AlignSize(c.LABWords)
	if c.DirectAllocDivisor < 1 {
		c.DirectAllocDivisor = DefaultDirectAllocDivisor
	}
	if c.ChunkStride < 1 {
		c.ChunkStride = taskqueue.DefaultChunkStride
	}
	if c.ChunkThreshold < c.ChunkStride {
		c.ChunkThreshold = max(taskqueue.DefaultChunkThreshold, c.ChunkStride)
	}
	return c
}

// Stats counts the work of one or all managers during a scavenge.
type Stats struct {
	SurvivorObjects uint64
	SurvivorWords   uint64
	TenuredObjects  uint64
	TenuredWords    uint64
	Failures        uint64
	FailedWords     uint64
	LostRaces       uint64
}

func (s *Stats) add(o Stats) {
	s.SurvivorObjects += o.SurvivorObjects
	s.SurvivorWords += o.SurvivorWords
	s.TenuredObjects += o.TenuredObjects
	s.TenuredWords += o.TenuredWords
	s.Failures += o.Failures
	s.FailedWords += o.FailedWords
	s.LostRaces += o.LostRaces
}

// Managers holds the per-worker promotion state of one collector.
//
// Usage per scavenge:
//  1. Start with the survivor and tenured spaces of this cycle
//  2. Roots, card scan and Drain on every worker
//  3. Flush, then ProcessWeakRoots
type Managers struct {
	heap     *heap.Heap
	cards    *cardtable.Table
	starts   *cardtable.StartArray
	failures *markbitmap.Bitmap
	marks    *preserved.Set
	set      *taskqueue.Set
	term     *taskqueue.Terminator
	cfg      Config

	survivor *heap.Space
	tenured  *heap.Space

	managers []Manager
	failed   atomic.Bool
}

// NewManagers creates one Manager per queue of set. failures receives a
// bit for every object that could not be copied; marks receives their
// original headers.
func NewManagers(h *heap.Heap, cards *cardtable.Table, starts *cardtable.StartArray,
	failures *markbitmap.Bitmap, marks *preserved.Set,
	set *taskqueue.Set, term *taskqueue.Terminator, cfg Config) *Managers {
	ms := &Managers{
		heap:     h,
		cards:    cards,
		starts:   starts,
		failures: failures,
		marks:    marks,
		set:      set,
		term:     term,
		cfg:      cfg.withDefaults(),
		managers: make([]Manager, set.Len()),
	}
	for i := range ms.managers {
		ms.managers[i] = Manager{id: i, ms: ms, rng: taskqueue.NewRand(i)}
	}
	return ms
}

// Config returns the effective configuration.
func (ms *Managers) Config() Config { return ms.cfg }

// Len returns the number of managers.
func (ms *Managers) Len() int { return len(ms.managers) }

// Manager returns worker w's manager.
func (ms *Managers) Manager(w int) *Manager { return &ms.managers[w] }

// Start prepares a scavenge copying into survivor and tenured.
func (ms *Managers) Start(survivor, tenured *heap.Space) {
	ms.survivor = survivor
	ms.tenured = tenured
	ms.failed.Store(false)
	ms.term.Reset()
	for i := range ms.managers {
		m := &ms.managers[i]
		m.survivorLAB = LAB{}
		m.tenuredLAB = LAB{}
		m.stats = Stats{}
	}
}

// Flush retires every LAB. Call after all workers finished draining.
func (ms *Managers) Flush() {
	for i := range ms.managers {
		ms.managers[i].Flush()
	}
}

// PromotionFailed reports whether any object could not be copied.
func (ms *Managers) PromotionFailed() bool { return ms.failed.Load() }

// Stats sums the statistics of all managers.
func (ms *Managers) Stats() Stats {
	var s Stats
	for i := range ms.managers {
		s.add(ms.managers[i].stats)
	}
	return s
}

// inCSet reports whether obj lies in a region being evacuated.
func (ms *Managers) inCSet(obj heap.Address) bool {
	r := ms.heap.RegionFor(obj)
	return r != nil && r.InCollectionSet()
}

// ProcessWeakRoots updates weak roots into the collection set: copied
// referents are replaced by their copy, failed ones stay and all others
// are cleared. Returns the number of cleared slots.
func (ms *Managers) ProcessWeakRoots(roots heap.RootProvider) int {
	cleared := 0
	roots.VisitWeak(func(slot *heap.Address) {
		ref := *slot
		if ref == heap.Null || !ms.inCSet(ref) {
			return
		}
		hd := ms.heap.LoadHeader(ref)
		switch fwd, ok := hd.Forwardee(); {
		case !ok:
			*slot = heap.Null
			cleared++
		case fwd != ref:
			*slot = fwd
		}
	})
	return cleared
}

// Manager is one worker's evacuation state.
//
// Thread Safety: a Manager is used by its own worker only. Objects are
// shared with other workers through the header CAS and the task queues.
type Manager struct {
	id  int
	ms  *Managers
	rng *rand.Rand

	survivorLAB LAB
	tenuredLAB  LAB
	stats       Stats
	_           [40]byte
}

// Stats returns this manager's counters.
func (m *Manager) Stats() Stats { return m.stats }

// ProcessRoot evacuates the referent of a root slot when it is in the
// collection set and updates the slot.
func (m *Manager) ProcessRoot(slot *heap.Address) {
	if ref := *slot; ref != heap.Null && m.ms.inCSet(ref) {
		*slot = m.CopyToSurvivorSpace(ref)
	}
}

// ScanOldObject queues the reference slots of an old object that point
// into the collection set. It is the visitor of the card scan.
func (m *Manager) ScanOldObject(obj heap.Address) {
	if m.ms.heap.IsFiller(obj) {
		return
	}
	m.scanObject(obj)
}

// Drain processes tasks until every worker ran out of work.
func (m *Manager) Drain() {
	taskqueue.Drain(m.ms.set, m.ms.term, m.id, m.rng, m.process)
}

// Flush retires both LABs.
func (m *Manager) Flush() {
	m.survivorLAB.Retire(m.ms.heap, nil)
	m.tenuredLAB.Retire(m.ms.heap, m.ms.starts)
}

func (m *Manager) push(t taskqueue.Task) {
	m.ms.set.Queue(m.id).Push(t)
}

func (m *Manager) process(t taskqueue.Task) {
	switch t.Kind {
	case taskqueue.KindSlot:
		m.processSlot(t.Addr)
	case taskqueue.KindObject:
		m.scanObject(t.Addr)
	case taskqueue.KindPartialArray:
		m.scanChunk(t.Addr, t.Index)
	}
}

// processSlot evacuates the referent of a heap slot and updates the slot.
// A slot in an old region left pointing at a young object gets its card
// marked so the next scavenge finds it.
func (m *Manager) processSlot(slot heap.Address) {
	h := m.ms.heap
	ref := h.LoadRef(slot)
	if ref == heap.Null || !m.ms.inCSet(ref) {
		return
	}
	moved := m.CopyToSurvivorSpace(ref)
	if moved != ref {
		h.StoreRef(slot, moved)
	}
	if sr := h.RegionFor(slot); sr != nil && !sr.IsYoung() {
		if nr := h.RegionFor(moved); nr != nil && nr.IsYoung() {
			m.ms.cards.MarkYoungergen(slot)
		}
	}
}

func (m *Manager) scanObject(obj heap.Address) {
	h := m.ms.heap
	if length, ok := h.RefArrayLength(obj); ok && length > m.ms.cfg.ChunkThreshold {
		m.scanChunk(obj, 0)
		return
	}
	h.IterateRefs(obj, m.pushSlot)
}

// scanChunk queues the slots of one chunk of a large array after queueing
// the continuation.
func (m *Manager) scanChunk(arr heap.Address, start int) {
	h := m.ms.heap
	length, _ := h.RefArrayLength(arr)
	end, more := taskqueue.NextChunk(start, length, m.ms.cfg.ChunkStride)
	if more {
		m.push(taskqueue.PartialArrayTask(arr, end))
	}
	h.IterateArrayRefs(arr, start, end, m.pushSlot)
}

func (m *Manager) pushSlot(slot heap.Address) {
	if ref := m.ms.heap.LoadRef(slot); ref != heap.Null && m.ms.inCSet(ref) {
		m.push(taskqueue.SlotTask(slot))
	}
}

// CopyToSurvivorSpace evacuates obj and returns its new address. If
// another worker already evacuated obj, its copy is returned. When no
// space is left obj is forwarded to itself and stays in place.
//
// Algorithm:
//  1. Read the header once; a forwarded header means the work is done
//  2. Pick the tenured space when the age reached the threshold, else the
//     survivor space falling back to tenured
//  3. Copy everything but the header, then write the new header (age+1
//     for survivor copies)
//  4. CAS the forwarding header into the original; a loser gives its copy
//     back and adopts the winner's
func (m *Manager) CopyToSurvivorSpace(obj heap.Address) heap.Address {
	h := m.ms.heap
	hd := h.LoadHeader(obj)
	if fwd, ok := hd.Forwardee(); ok {
		return fwd
	}
	size := h.SizeOf(obj)

	tenured := hd.Age() >= m.ms.cfg.TenuringThreshold
	var dst heap.Address
	var fromLAB bool
	if !tenured {
		dst, fromLAB = m.allocate(&m.survivorLAB, m.ms.survivor, size, false)
		if dst == heap.Null {
			tenured = true
		}
	}
	if tenured {
		dst, fromLAB = m.allocate(&m.tenuredLAB, m.ms.tenured, size, true)
	}
	if dst == heap.Null {
		return m.promotionFailed(obj, hd, size)
	}

	h.CopyWords(obj.Plus(1), dst.Plus(1), size-1)
	if tenured {
		h.StoreHeader(dst, hd)
	} else {
		h.StoreHeader(dst, hd.IncrementAge())
	}

	if !h.CASHeader(obj, hd, heap.ForwardingHeader(dst)) {
		m.stats.LostRaces++
		m.discard(dst, size, fromLAB, tenured)
		fwd, _ := h.LoadHeader(obj).Forwardee()
		return fwd
	}

	if tenured {
		m.ms.starts.Record(dst)
		m.stats.TenuredObjects++
		m.stats.TenuredWords += uint64(size)
	} else {
		m.stats.SurvivorObjects++
		m.stats.SurvivorWords += uint64(size)
	}
	if length, ok := h.RefArrayLength(dst); ok && length > m.ms.cfg.ChunkThreshold {
		m.push(taskqueue.PartialArrayTask(dst, 0))
	} else {
		m.push(taskqueue.ObjectTask(dst))
	}
	return dst
}

// allocate finds room for words in lab, refilling it from space, or in
// space directly for objects too large for a LAB refill to pay off.
func (m *Manager) allocate(lab *LAB, space *heap.Space, words int, tenured bool) (heap.Address, bool) {
	if space == nil {
		return heap.Null, false
	}
	if a := lab.Allocate(words); a != heap.Null {
		return a, true
	}
	cfg := m.ms.cfg
	if words > cfg.LABWords/cfg.DirectAllocDivisor {
		return space.Allocate(words), false
	}

	var starts *cardtable.StartArray
	if tenured {
		starts = m.ms.starts
	}
	lab.Retire(m.ms.heap, starts)
	if chunk := space.Allocate(cfg.LABWords); chunk != heap.Null {
		lab.Reset(chunk, chunk.Plus(cfg.LABWords))
		return lab.Allocate(words), true
	}
	return space.Allocate(words), false
}

// discard returns a losing copy: undone when it is the LAB's last
// allocation, otherwise turned into a filler.
func (m *Manager) discard(dst heap.Address, size int, fromLAB, tenured bool) {
	lab := &m.survivorLAB
	if tenured {
		lab = &m.tenuredLAB
	}
	if fromLAB && lab.Undo(dst, size) {
		return
	}
	m.ms.heap.FillWithFiller(dst, size)
	if tenured {
		m.ms.starts.Record(dst)
	}
}

// promotionFailed forwards obj to itself so exactly one worker owns the
// failure, saves the original header and queues obj so its referents are
// still evacuated.
func (m *Manager) promotionFailed(obj heap.Address, hd heap.Header, size int) heap.Address {
	h := m.ms.heap
	if !h.CASHeader(obj, hd, heap.ForwardingHeader(obj)) {
		fwd, _ := h.LoadHeader(obj).Forwardee()
		return fwd
	}
	m.ms.marks.Stack(m.id).PushIfNecessary(obj, hd)
	m.ms.failures.Mark(obj)
	h.RegionFor(obj).SetEvacuationFailed(true)
	m.ms.failed.Store(true)
	m.stats.Failures++
	m.stats.FailedWords += uint64(size)
	m.push(taskqueue.ObjectTask(obj))
	return obj
}
