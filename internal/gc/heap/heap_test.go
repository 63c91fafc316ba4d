package heap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHeap(t *testing.T, regions int) (*Heap, TypeID) {
	t.Helper()
	types := NewRegistry()
	node, err := types.RegisterInstance("node", 2, 0)
	require.NoError(t, err)
	h, err := New(Config{Regions: regions, RegionWords: 64}, types)
	require.NoError(t, err)
	return h, node
}

// ============================================================================
// Header Tests
// ============================================================================

func TestHeader_Forwarding(t *testing.T) {
	obj := DefaultBase.Plus(16)
	hd := ForwardingHeader(obj)

	fwd, ok := hd.Forwardee()
	if !ok || fwd != obj {
		t.Fatalf("Forwardee() = (%s, %v), want (%s, true)", fwd, ok, obj)
	}
	if !hd.IsSelfForwarded(obj) {
		t.Error("IsSelfForwarded should hold for a header forwarding to obj")
	}
	if _, ok := Prototype.Forwardee(); ok {
		t.Error("prototype header must not be forwarded")
	}
}

func TestHeader_AgeSaturates(t *testing.T) {
	hd := Prototype
	for i := 0; i < 20; i++ {
		hd = hd.IncrementAge()
	}
	assert.Equal(t, MaxAge, hd.Age())
	assert.Equal(t, LockUnlocked, hd.LockState())
}

func TestHeader_MustBePreserved(t *testing.T) {
	tests := []struct {
		name string
		hd   Header
		want bool
	}{
		{"prototype", Prototype, false},
		{"aged", Prototype.WithAge(3), false},
		{"hashed", Prototype.WithHash(0x1234), true},
		{"locked", Prototype.WithLockState(LockLocked), true},
		{"monitor", Prototype.WithLockState(LockMonitor), true},
		{"forwarded", ForwardingHeader(DefaultBase), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.hd.MustBePreserved())
		})
	}
}

func TestHeader_ZeroValueIsLocked(t *testing.T) {
	var zero Header
	assert.Equal(t, LockLocked, zero.LockState())
	assert.True(t, zero.IsLocked())
	assert.False(t, zero.IsForwarded())

	assert.Equal(t, LockUnlocked, Prototype.LockState())
	assert.False(t, Prototype.IsLocked())
}

func TestHeader_FieldsIndependent(t *testing.T) {
	hd := Prototype.WithHash(0x7FFFFFFF).WithAge(5).WithLockState(LockMonitor)
	assert.Equal(t, uint32(0x7FFFFFFF), hd.Hash())
	assert.Equal(t, 5, hd.Age())
	assert.Equal(t, LockMonitor, hd.LockState())
}

// ============================================================================
// Type Registry Tests
// ============================================================================

func TestRegistry_Sizes(t *testing.T) {
	r := NewRegistry()
	pair, err := r.RegisterInstance("pair", 2, 0, 1)
	require.NoError(t, err)
	odd, err := r.RegisterInstance("odd", 3)
	require.NoError(t, err)
	arr := r.RegisterRefArray("refs")

	pt, _ := r.Lookup(pair)
	ot, _ := r.Lookup(odd)
	at, _ := r.Lookup(arr)

	assert.Equal(t, 4, pt.SizeWords(0))
	assert.Equal(t, 6, ot.SizeWords(0), "odd sizes round up to two words")
	assert.Equal(t, 2, at.SizeWords(0))
	assert.Equal(t, 12, at.SizeWords(9))
}

func TestRegistry_RejectsBadOffsets(t *testing.T) {
	r := NewRegistry()
	_, err := r.RegisterInstance("bad", 2, 2)
	assert.Error(t, err)
}

func TestRegistry_SameNameSameID(t *testing.T) {
	r := NewRegistry()
	a := r.RegisterRefArray("refs")
	b := r.RegisterRefArray("refs")
	assert.Equal(t, a, b)
	assert.Equal(t, 2, r.Len())
}

// ============================================================================
// Heap Tests
// ============================================================================

func TestNew_RejectsBadGeometry(t *testing.T) {
	_, err := New(Config{Regions: 4, RegionWords: 100}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(Config{Regions: 0, RegionWords: 64}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(Config{Regions: 2, RegionWords: 192}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestHeap_RegionFor(t *testing.T) {
	h, _ := newTestHeap(t, 4)

	assert.Nil(t, h.RegionFor(Null))
	assert.Equal(t, 0, h.RegionFor(h.Base()).Index())
	assert.Equal(t, 1, h.RegionFor(h.Base().Plus(64)).Index())
	assert.Equal(t, 3, h.RegionFor(h.End().Minus(1)).Index())
	assert.Nil(t, h.RegionFor(h.End()))
}

func TestHeap_InitObjectAndRefs(t *testing.T) {
	h, node := newTestHeap(t, 2)
	r := h.ClaimFreeRegion(RegionEden)
	require.NotNil(t, r)

	a := r.Allocate(4)
	b := r.Allocate(4)
	h.InitObject(a, node, 0, 4)
	h.InitObject(b, node, 0, 4)
	h.StoreRef(FieldSlot(a, 0), b)

	assert.Equal(t, 4, h.SizeOf(a))
	assert.Equal(t, b, h.LoadRef(FieldSlot(a, 0)))
	assert.Equal(t, Prototype, h.LoadHeader(a))

	var slots []Address
	h.IterateRefs(a, func(slot Address) { slots = append(slots, slot) })
	assert.Equal(t, []Address{FieldSlot(a, 0)}, slots)
}

func TestHeap_FillerKeepsRegionParsable(t *testing.T) {
	h, node := newTestHeap(t, 1)
	r := h.ClaimFreeRegion(RegionOld)

	a := r.Allocate(4)
	h.InitObject(a, node, 0, 4)
	gap := r.Allocate(10)
	h.FillWithFiller(gap, 10)
	c := r.Allocate(4)
	h.InitObject(c, node, 0, 4)

	var seen []Address
	h.WalkObjects(r.Bottom(), r.Top(), func(obj Address, size int) bool {
		seen = append(seen, obj)
		return true
	})
	assert.Equal(t, []Address{a, gap, c}, seen)
	assert.True(t, h.IsFiller(gap))
}

func TestHeap_CopyWordsOverlapping(t *testing.T) {
	h, _ := newTestHeap(t, 1)
	base := h.Base()
	for i := 0; i < 8; i++ {
		h.StoreWord(base.Plus(2+i), uint64(i+1))
	}
	h.CopyWords(base.Plus(2), base, 8)
	for i := 0; i < 8; i++ {
		assert.Equal(t, uint64(i+1), h.LoadWord(base.Plus(i)))
	}
}

func TestHeap_HumongousRun(t *testing.T) {
	h, _ := newTestHeap(t, 6)
	h.ClaimFreeRegion(RegionEden)

	a := h.AllocateHumongous(150)
	require.NotEqual(t, Null, a)

	start := h.RegionFor(a)
	run := h.HumongousRun(start)
	require.Len(t, run, 3)
	assert.Equal(t, RegionHumongousStart, run[0].Kind())
	assert.Equal(t, RegionHumongousCont, run[2].Kind())
	assert.Equal(t, 22, run[2].UsedWords())

	h.FreeRegion(start)
	for _, r := range run {
		assert.True(t, r.IsFree())
	}
}

func TestHeap_HumongousNoRun(t *testing.T) {
	h, _ := newTestHeap(t, 3)
	h.ClaimFreeRegion(RegionEden)
	assert.Equal(t, Null, h.AllocateHumongous(64*3))
}

// ============================================================================
// Region and Space Tests
// ============================================================================

func TestRegion_AllocateConcurrent(t *testing.T) {
	h, _ := newTestHeap(t, 1)
	r := h.ClaimFreeRegion(RegionEden)

	const goroutines = 8
	var wg sync.WaitGroup
	results := make(chan Address, 64)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				a := r.Allocate(2)
				if a == Null {
					return
				}
				results <- a
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[Address]bool)
	for a := range results {
		assert.False(t, seen[a], "address %s handed out twice", a)
		seen[a] = true
	}
	assert.Len(t, seen, 32)
	assert.Equal(t, r.End(), r.Top())
}

func TestSpace_RespectsLimit(t *testing.T) {
	h, _ := newTestHeap(t, 4)
	s := h.NewSpace(RegionSurvivor, 2)

	n := 0
	for s.Allocate(32) != Null {
		n++
	}
	assert.Equal(t, 4, n)
	assert.True(t, s.Exhausted())
	assert.Len(t, s.Regions(), 2)
	assert.Equal(t, 2, h.FreeRegions())
}

func TestSpace_RejectsOversized(t *testing.T) {
	h, _ := newTestHeap(t, 2)
	s := h.NewSpace(RegionEden, 0)
	assert.Equal(t, Null, s.Allocate(65))
}

func TestClaimer_EachIndexOnce(t *testing.T) {
	c := NewClaimer(100)
	var mu sync.Mutex
	seen := make(map[int]int)
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i, ok := c.Claim()
				if !ok {
					return
				}
				mu.Lock()
				seen[i]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 100)
	for i, n := range seen {
		assert.Equal(t, 1, n, "index %d", i)
	}
}

// ============================================================================
// Root Set Tests
// ============================================================================

func TestRootSet_Partitions(t *testing.T) {
	rs := NewRootSet(2)
	a := rs.AddLocal(0, DefaultBase)
	g := rs.AddGlobal(DefaultBase.Plus(4))
	w := rs.AddWeak(DefaultBase.Plus(8))

	assert.Equal(t, 3, rs.StrongPartitions())

	var globals []Address
	rs.VisitStrong(2, func(slot *Address) { globals = append(globals, *slot) })
	assert.Equal(t, []Address{DefaultBase.Plus(4)}, globals)

	rs.VisitStrong(0, func(slot *Address) { *slot = DefaultBase.Plus(2) })
	assert.Equal(t, DefaultBase.Plus(2), rs.Get(a))
	assert.Equal(t, DefaultBase.Plus(4), rs.Get(g))

	rs.VisitWeak(func(slot *Address) { *slot = Null })
	assert.Equal(t, Null, rs.Get(w))
}
