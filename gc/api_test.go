package gc_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/gcengine/gc"
	"github.com/kolkov/gcengine/internal/config"
	"github.com/kolkov/gcengine/internal/logging"
)

func smallConfig() *gc.Config {
	cfg := gc.DefaultConfig()
	cfg.Heap.Regions = 16
	cfg.Heap.RegionWords = 256
	cfg.Heap.EdenRegions = 2
	cfg.Heap.Threads = 2
	cfg.Collector.Workers = 2
	cfg.Collector.LABWords = 32
	cfg.Collector.QueueCapacity = 256
	cfg.Collector.MaxSurvivorRegions = 4
	cfg.Collector.VerifyHeap = true
	return cfg
}

func newRuntime(t *testing.T, cfg *gc.Config, opts ...gc.Option) (*gc.Runtime, gc.TypeID) {
	t.Helper()
	opts = append([]gc.Option{gc.WithLogger(logging.Discard())}, opts...)
	rt, err := gc.NewRuntime(cfg, opts...)
	require.NoError(t, err)
	node, err := rt.RegisterType("node", 2, 0)
	require.NoError(t, err)
	return rt, node
}

// pushList prepends a fresh node carrying v to the list rooted at h.
func pushList(t *testing.T, rt *gc.Runtime, node gc.TypeID, h gc.RootHandle, v uint64) {
	t.Helper()
	n, err := rt.New(node)
	require.NoError(t, err)
	rt.StoreRef(n, 0, rt.Root(h))
	rt.Store(n, 1, v)
	rt.SetRoot(h, n)
}

func listValues(rt *gc.Runtime, h gc.RootHandle) []uint64 {
	var out []uint64
	for n := rt.Root(h); n != gc.Null; n = rt.LoadRef(n, 0) {
		out = append(out, rt.Load(n, 1))
	}
	return out
}

func TestNewRuntime_RejectsInvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.Heap.RegionWords = 100
	_, err := gc.NewRuntime(cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestRuntime_CollectionsKeepList(t *testing.T) {
	rt, node := newRuntime(t, smallConfig())
	ctx := context.Background()
	head := rt.AddRoot(0, gc.Null)

	var want []uint64
	for i := 0; i < 50; i++ {
		pushList(t, rt, node, head, uint64(i))
		want = append([]uint64{uint64(i)}, want...)
		_, err := rt.New(node) // garbage
		require.NoError(t, err)
	}

	_, err := rt.CollectYoung(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, listValues(rt, head))

	_, err = rt.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, listValues(rt, head))
	require.NoError(t, rt.Verify())

	u := rt.Usage()
	assert.Equal(t, 50*4, u.UsedWords)
	assert.Zero(t, u.ByKind["eden"])
}

func TestRuntime_AllocationTriggersCollection(t *testing.T) {
	rt, node := newRuntime(t, smallConfig())
	head := rt.AddRoot(1, gc.Null)

	var want []uint64
	for i := 0; i < 5000; i++ {
		if i%25 == 0 {
			pushList(t, rt, node, head, uint64(i))
			want = append([]uint64{uint64(i)}, want...)
			continue
		}
		_, err := rt.New(node)
		require.NoError(t, err)
	}
	assert.Equal(t, want, listValues(rt, head))
	assert.Positive(t, rt.Stats().YoungCycles)
}

func TestRuntime_AllocationMovesUnrootedAddresses(t *testing.T) {
	rt, node := newRuntime(t, smallConfig())
	obj, err := rt.New(node)
	require.NoError(t, err)
	rt.Store(obj, 1, 77)
	h := rt.AddRoot(0, obj)

	for i := 0; i < 1000 && rt.Stats().YoungCycles == 0; i++ {
		_, err := rt.New(node)
		require.NoError(t, err)
	}
	require.Positive(t, rt.Stats().YoungCycles)

	moved := rt.Root(h)
	assert.NotEqual(t, obj, moved, "the saved address is stale after the collection")
	assert.Equal(t, uint64(77), rt.Load(moved, 1))
	require.NoError(t, rt.Verify())
}

func TestRuntime_OutOfMemory(t *testing.T) {
	cfg := smallConfig()
	cfg.Heap.Regions = 8
	cfg.Heap.RegionWords = 64
	rt, node := newRuntime(t, cfg)

	var err error
	for i := 0; i < 1000 && err == nil; i++ {
		var a gc.Address
		if a, err = rt.New(node); err == nil {
			rt.AddGlobal(a)
		}
	}
	require.ErrorIs(t, err, gc.ErrOutOfMemory)
	assert.Positive(t, rt.Stats().FullCycles)
	require.NoError(t, rt.Verify())
}

func TestRuntime_UnknownType(t *testing.T) {
	rt, _ := newRuntime(t, smallConfig())
	_, err := rt.New(gc.TypeID(77))
	assert.ErrorIs(t, err, gc.ErrUnknownType)
}

func TestRuntime_CompressedRefs(t *testing.T) {
	cfg := smallConfig()
	cfg.Heap.CompressedRefs = true
	rt, node := newRuntime(t, cfg)
	head := rt.AddRoot(0, gc.Null)
	for i := 0; i < 10; i++ {
		pushList(t, rt, node, head, uint64(i))
	}

	_, err := rt.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{9, 8, 7, 6, 5, 4, 3, 2, 1, 0}, listValues(rt, head))
}

func TestRuntime_HashAndWeakRoots(t *testing.T) {
	rt, node := newRuntime(t, smallConfig())
	ctx := context.Background()
	a, err := rt.New(node)
	require.NoError(t, err)
	b, err := rt.New(node)
	require.NoError(t, err)

	h := rt.AddRoot(0, a)
	hash := rt.Hash(a, 0xdead)
	assert.Equal(t, hash, rt.Hash(a, 1), "hash is assigned once")
	live := rt.AddWeak(a)
	dead := rt.AddWeak(b)

	_, err = rt.CollectYoung(ctx)
	require.NoError(t, err)
	_, err = rt.Collect(ctx)
	require.NoError(t, err)

	assert.Equal(t, rt.Root(h), rt.Root(live))
	assert.Equal(t, gc.Null, rt.Root(dead))
	assert.Equal(t, hash, rt.Hash(rt.Root(h), 0))
	name, err := rt.TypeName(rt.Root(h))
	require.NoError(t, err)
	assert.Equal(t, "node", name)
}

func TestRuntime_Arrays(t *testing.T) {
	rt, node := newRuntime(t, smallConfig())
	refs := rt.RegisterRefArray("refs")
	words := rt.RegisterDataArray("words")

	arr, err := rt.NewArray(refs, 20)
	require.NoError(t, err)
	h := rt.AddRoot(0, arr)
	for i := 0; i < 20; i++ {
		n, err := rt.New(node)
		require.NoError(t, err)
		rt.Store(n, 1, uint64(i))
		rt.StoreRef(rt.Root(h), i, n)
	}
	data, err := rt.NewOld(words, 8)
	require.NoError(t, err)
	rt.Store(data, 7, 99)
	dh := rt.AddGlobal(data)

	_, err = rt.CollectYoung(context.Background())
	require.NoError(t, err)

	arr = rt.Root(h)
	assert.Equal(t, 20, rt.Length(arr))
	for i := 0; i < 20; i++ {
		assert.Equal(t, uint64(i), rt.Load(rt.LoadRef(arr, i), 1))
	}
	assert.Equal(t, uint64(99), rt.Load(rt.Root(dh), 7))
}

func TestRuntime_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	rt, node := newRuntime(t, smallConfig(), gc.WithRegistry(reg))
	_, err := rt.New(node)
	require.NoError(t, err)

	_, err = rt.CollectYoung(context.Background())
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "gcengine_collector_cycles_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetInfo(t *testing.T) {
	info := gc.GetInfo()
	assert.Equal(t, gc.Version, info.Version)
	assert.True(t, info.Parallel)
	assert.Len(t, info.Collectors, 2)
}
