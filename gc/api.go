// Package gc provides the public API of the collector engine.
//
// See doc.go for detailed documentation and examples.
package gc

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kolkov/gcengine/internal/config"
	"github.com/kolkov/gcengine/internal/gc/collector"
	"github.com/kolkov/gcengine/internal/gc/heap"
	"github.com/kolkov/gcengine/internal/gc/refcodec"
	"github.com/kolkov/gcengine/internal/logging"
	"github.com/kolkov/gcengine/internal/metrics"
)

type (
	// Address is a simulated heap address. Null is the zero address.
	Address = heap.Address
	// TypeID identifies a registered object type.
	TypeID = heap.TypeID
	// RootHandle identifies a root slot.
	RootHandle = heap.RootHandle
	// Config is the runtime configuration.
	Config = config.Config
	// FullResult describes a full collection.
	FullResult = collector.FullResult
	// YoungResult describes a young collection.
	YoungResult = collector.YoungResult
	// Stats accumulates collection counts.
	Stats = collector.Stats
)

// Null is the null reference.
const Null = heap.Null

var (
	// ErrOutOfMemory is returned when an allocation fails even after a
	// young and a full collection.
	ErrOutOfMemory = heap.ErrOutOfMemory

	// ErrUnknownType is returned for allocations of unregistered types.
	ErrUnknownType = heap.ErrUnknownType
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads a YAML configuration file, applies GCENGINE_*
// environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Option customizes a Runtime.
type Option func(*options)

type options struct {
	logger   *logging.Logger
	registry prometheus.Registerer
}

// WithLogger replaces the logger built from the observability config.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegistry registers the runtime's metrics with reg. Without it no
// metrics are recorded.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

// Runtime is one managed heap together with its roots and collector.
//
// Thread Safety: allocation, field access and root updates may be called
// concurrently from mutator goroutines. Collect and CollectYoung stop the
// world; callers must ensure no mutator touches the heap while they run.
type Runtime struct {
	cfg   *Config
	heap  *heap.Heap
	roots *heap.RootSet
	coll  *collector.Collector
	log   *logging.Logger
}

// NewRuntime builds a heap and its collector from cfg. A nil cfg selects
// DefaultConfig.
func NewRuntime(cfg *Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	log := o.logger
	if log == nil {
		log = logging.New(logging.Config{
			Level:  logging.ParseLevel(cfg.Observability.LogLevel),
			Format: logging.ParseFormat(cfg.Observability.LogFormat),
		})
	}

	hcfg := heap.Config{
		Base:        heap.Address(cfg.Heap.Base),
		Regions:     cfg.Heap.Regions,
		RegionWords: cfg.Heap.RegionWords,
	}
	if cfg.Heap.CompressedRefs {
		base := hcfg.Base
		if base == heap.Null {
			base = heap.DefaultBase
		}
		codec, err := refcodec.Compressed(base, base.Plus(hcfg.Regions*hcfg.RegionWords), refcodec.DefaultShift)
		if err != nil {
			return nil, fmt.Errorf("gc: %w", err)
		}
		hcfg.Coder = codec
	}
	h, err := heap.New(hcfg, heap.NewRegistry())
	if err != nil {
		return nil, err
	}

	var m *metrics.CollectorMetrics
	if o.registry != nil {
		m = metrics.NewCollectorMetricsWithRegistry(o.registry)
	}
	roots := heap.NewRootSet(cfg.Heap.Threads)
	return &Runtime{
		cfg:   cfg,
		heap:  h,
		roots: roots,
		coll:  collector.New(h, roots, collector.OptionsFromConfig(cfg), log, m),
		log:   log,
	}, nil
}

// Config returns the configuration the runtime was built from.
func (r *Runtime) Config() *Config { return r.cfg }

// ============================================================================
// Types
// ============================================================================

// RegisterType registers a fixed-size type with payloadWords payload words,
// of which those at refOffsets hold references.
func (r *Runtime) RegisterType(name string, payloadWords int, refOffsets ...int) (TypeID, error) {
	return r.heap.Types().RegisterInstance(name, payloadWords, refOffsets...)
}

// RegisterRefArray registers an array type whose elements are references.
func (r *Runtime) RegisterRefArray(name string) TypeID {
	return r.heap.Types().RegisterRefArray(name)
}

// RegisterDataArray registers an array type of raw words.
func (r *Runtime) RegisterDataArray(name string) TypeID {
	return r.heap.Types().RegisterDataArray(name)
}

// TypeName returns the name of obj's type.
func (r *Runtime) TypeName(obj Address) (string, error) {
	t, _, err := r.heap.TypeOf(obj)
	if err != nil {
		return "", err
	}
	return t.Name, nil
}

// ============================================================================
// Allocation
// ============================================================================

// New allocates a young object of a fixed-size type. When eden is full it
// runs a young collection and, if that is not enough, a full collection
// before giving up with ErrOutOfMemory. Those collections stop the world
// like Collect does, so concurrent mutators must be paused around
// allocations that may fill eden. They also move objects: an Address not
// held in a root may be stale once New returns.
func (r *Runtime) New(id TypeID) (Address, error) {
	return r.allocate(r.coll.Allocate, id, 0)
}

// NewArray allocates a young array of length elements. Like New it may
// collect, so addresses not held in roots may be stale afterwards.
func (r *Runtime) NewArray(id TypeID, length int) (Address, error) {
	return r.allocate(r.coll.Allocate, id, length)
}

// NewOld allocates an object directly in the old generation. When the
// heap is full it collects like New, so addresses not held in roots may be
// stale afterwards.
func (r *Runtime) NewOld(id TypeID, length int) (Address, error) {
	return r.allocate(r.coll.AllocateOld, id, length)
}

// NewArchive allocates an immortal object. Everything it references stays
// alive.
func (r *Runtime) NewArchive(id TypeID, length int) (Address, error) {
	return r.coll.AllocateArchive(id, length)
}

func (r *Runtime) allocate(alloc func(heap.TypeID, int) (heap.Address, error), id TypeID, length int) (Address, error) {
	a, err := alloc(id, length)
	if !errors.Is(err, heap.ErrOutOfMemory) {
		return a, err
	}
	ctx := context.Background()
	if _, cerr := r.coll.Scavenge(ctx); cerr != nil {
		return heap.Null, cerr
	}
	if a, err = alloc(id, length); !errors.Is(err, heap.ErrOutOfMemory) {
		return a, err
	}
	r.log.Debugf("young collection did not free enough space", map[string]any{"type": id, "length": length})
	if _, cerr := r.coll.FullCollect(ctx); cerr != nil {
		return heap.Null, cerr
	}
	return alloc(id, length)
}

// ============================================================================
// Field Access
// ============================================================================

// Load reads payload word field of obj.
func (r *Runtime) Load(obj Address, field int) uint64 {
	return r.heap.LoadWord(heap.FieldSlot(obj, field))
}

// Store writes a raw value into payload word field of obj. Reference
// fields must be written with StoreRef.
func (r *Runtime) Store(obj Address, field int, v uint64) {
	r.heap.StoreWord(heap.FieldSlot(obj, field), v)
}

// LoadRef reads the reference in payload word field of obj.
func (r *Runtime) LoadRef(obj Address, field int) Address {
	return r.heap.LoadRef(heap.FieldSlot(obj, field))
}

// StoreRef writes a reference into payload word field of obj through the
// write barrier.
func (r *Runtime) StoreRef(obj Address, field int, v Address) {
	r.coll.WriteRef(obj, field, v)
}

// Length returns the element count of an array, 0 for other objects.
func (r *Runtime) Length(obj Address) int {
	_, length := r.heap.TypeWord(obj)
	return length
}

const hashMask = 1<<31 - 1

// Hash returns obj's identity hash, assigning one from seed on first use.
// The hash survives every collection.
func (r *Runtime) Hash(obj Address, seed uint32) uint32 {
	for {
		hd := r.heap.LoadHeader(obj)
		if h := hd.Hash(); h != 0 {
			return h
		}
		if seed &= hashMask; seed == 0 {
			seed = 1
		}
		if r.heap.CASHeader(obj, hd, hd.WithHash(seed)) {
			return r.heap.LoadHeader(obj).Hash()
		}
	}
}

// ============================================================================
// Roots
// ============================================================================

// AddRoot pushes obj onto thread's root stack.
func (r *Runtime) AddRoot(thread int, obj Address) RootHandle {
	return r.roots.AddLocal(thread, obj)
}

// AddGlobal adds a global root.
func (r *Runtime) AddGlobal(obj Address) RootHandle {
	return r.roots.AddGlobal(obj)
}

// AddWeak adds a weak root. It is cleared when its referent dies.
func (r *Runtime) AddWeak(obj Address) RootHandle {
	return r.roots.AddWeak(obj)
}

// Root returns the current referent of a root. Collections update roots
// when they move objects.
func (r *Runtime) Root(h RootHandle) Address { return r.roots.Get(h) }

// SetRoot replaces the referent of a root.
func (r *Runtime) SetRoot(h RootHandle, obj Address) { r.roots.Set(h, obj) }

// ClearRoot nulls a root.
func (r *Runtime) ClearRoot(h RootHandle) { r.roots.Clear(h) }

// ============================================================================
// Collection
// ============================================================================

// Collect runs a full collection.
func (r *Runtime) Collect(ctx context.Context) (FullResult, error) {
	return r.coll.FullCollect(ctx)
}

// CollectYoung runs a young collection.
func (r *Runtime) CollectYoung(ctx context.Context) (YoungResult, error) {
	return r.coll.Scavenge(ctx)
}

// Stats returns the accumulated collection statistics.
func (r *Runtime) Stats() Stats { return r.coll.Stats() }

// Verify checks the heap and returns the first inconsistency found.
func (r *Runtime) Verify() error { return r.coll.Check() }

// Usage describes heap occupancy.
type Usage struct {
	UsedWords   int
	FreeRegions int
	Regions     int
	ByKind      map[string]int
}

// Usage returns the current heap occupancy.
func (r *Runtime) Usage() Usage {
	u := Usage{
		UsedWords:   r.heap.UsedWords(),
		FreeRegions: r.heap.FreeRegions(),
		Regions:     r.heap.NumRegions(),
		ByKind:      make(map[string]int),
	}
	for k, n := range r.heap.Usage() {
		u.ByKind[k.String()] = n
	}
	return u
}
