// Package heaptest provides helpers for building object graphs in a
// simulated heap and comparing them across collections.
package heaptest

import (
	"fmt"
	"sort"
	"testing"

	"github.com/kolkov/gcengine/internal/gc/heap"
)

// Builder allocates objects of a few stock types.
type Builder struct {
	T     testing.TB
	Heap  *heap.Heap
	Roots *heap.RootSet

	// Node has two reference fields and two data words (6 words).
	Node heap.TypeID
	// Leaf has two data words and no references (4 words).
	Leaf heap.TypeID
	// Refs is a reference array type.
	Refs heap.TypeID
	// Words is a data array type.
	Words heap.TypeID
}

// NodeWords is the size of a Node object.
const NodeWords = 6

// LeafWords is the size of a Leaf object.
const LeafWords = 4

// New creates a heap with the stock types registered.
func New(t testing.TB, cfg heap.Config, threads int) *Builder {
	t.Helper()
	types := heap.NewRegistry()
	node, err := types.RegisterInstance("node", 4, 0, 1)
	if err != nil {
		t.Fatalf("register node: %v", err)
	}
	leaf, err := types.RegisterInstance("leaf", 2)
	if err != nil {
		t.Fatalf("register leaf: %v", err)
	}
	h, err := heap.New(cfg, types)
	if err != nil {
		t.Fatalf("heap.New: %v", err)
	}
	return &Builder{
		T:     t,
		Heap:  h,
		Roots: heap.NewRootSet(threads),
		Node:  node,
		Leaf:  leaf,
		Refs:  types.RegisterRefArray("refs"),
		Words: types.RegisterDataArray("words"),
	}
}

// Claim takes a free region of kind.
func (b *Builder) Claim(kind heap.RegionKind) *heap.Region {
	b.T.Helper()
	r := b.Heap.ClaimFreeRegion(kind)
	if r == nil {
		b.T.Fatalf("no free region for %s", kind)
	}
	return r
}

// Alloc places an object of type id in r.
func (b *Builder) Alloc(r *heap.Region, id heap.TypeID, length int) heap.Address {
	b.T.Helper()
	t, ok := b.Heap.Types().Lookup(id)
	if !ok {
		b.T.Fatalf("unknown type %d", id)
	}
	size := t.SizeWords(length)
	a := r.Allocate(size)
	if a == heap.Null {
		b.T.Fatalf("region %d full allocating %d words", r.Index(), size)
	}
	b.Heap.InitObject(a, id, length, size)
	return a
}

// AllocIn places an object in space s.
func (b *Builder) AllocIn(s *heap.Space, id heap.TypeID, length int) heap.Address {
	b.T.Helper()
	t, _ := b.Heap.Types().Lookup(id)
	size := t.SizeWords(length)
	a := s.Allocate(size)
	if a == heap.Null {
		b.T.Fatalf("space full allocating %d words", size)
	}
	b.Heap.InitObject(a, id, length, size)
	return a
}

// Fill plugs the rest of r with a dead filler, if any room is left.
func (b *Builder) Fill(r *heap.Region) {
	if n := r.FreeWords(); n >= heap.HeaderWords {
		b.Heap.FillWithFiller(r.Allocate(n), n)
	}
}

// Link stores target into payload word field of obj.
func (b *Builder) Link(obj heap.Address, field int, target heap.Address) {
	b.Heap.StoreRef(heap.FieldSlot(obj, field), target)
}

// SetData stores a raw value into payload word field of obj.
func (b *Builder) SetData(obj heap.Address, field int, v uint64) {
	b.Heap.StoreWord(heap.FieldSlot(obj, field), v)
}

// Data reads payload word field of obj.
func (b *Builder) Data(obj heap.Address, field int) uint64 {
	return b.Heap.LoadWord(heap.FieldSlot(obj, field))
}

// Ref reads the reference in payload word field of obj.
func (b *Builder) Ref(obj heap.Address, field int) heap.Address {
	return b.Heap.LoadRef(heap.FieldSlot(obj, field))
}

// Reachable returns every object reachable from the strong roots.
func Reachable(h *heap.Heap, roots heap.RootProvider) map[heap.Address]bool {
	seen := make(map[heap.Address]bool)
	var stack []heap.Address
	for p := 0; p < roots.StrongPartitions(); p++ {
		roots.VisitStrong(p, func(slot *heap.Address) {
			if *slot != heap.Null && !seen[*slot] {
				seen[*slot] = true
				stack = append(stack, *slot)
			}
		})
	}
	for len(stack) > 0 {
		obj := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		h.IterateRefs(obj, func(slot heap.Address) {
			ref := h.LoadRef(slot)
			if ref != heap.Null && !seen[ref] {
				seen[ref] = true
				stack = append(stack, ref)
			}
		})
	}
	return seen
}

// Object is the address-independent description of one reachable object.
type Object struct {
	Type   heap.TypeID
	Length int
	Hash   uint32
	Lock   uint64
	// Words holds payload words; reference slots hold the target's graph
	// index plus one, or zero for null.
	Words []uint64
}

// Graph is the address-independent shape of the reachable heap, with
// objects numbered in root-first depth-first order.
type Graph struct {
	Objects []Object
	// Roots holds the graph index of every strong root slot, -1 for null.
	Roots []int
}

// Capture describes the graph reachable from roots. Two captures of the
// same logical heap are equal no matter where the collectors moved objects.
// Addresses of every captured object are returned in graph order.
func Capture(h *heap.Heap, roots heap.RootProvider) (Graph, []heap.Address) {
	index := make(map[heap.Address]int)
	var order []heap.Address
	var visit func(a heap.Address) int
	visit = func(a heap.Address) int {
		if i, ok := index[a]; ok {
			return i
		}
		index[a] = len(order)
		order = append(order, a)
		h.IterateRefs(a, func(slot heap.Address) {
			if ref := h.LoadRef(slot); ref != heap.Null {
				visit(ref)
			}
		})
		return index[a]
	}

	var g Graph
	for p := 0; p < roots.StrongPartitions(); p++ {
		roots.VisitStrong(p, func(slot *heap.Address) {
			if *slot == heap.Null {
				g.Roots = append(g.Roots, -1)
				return
			}
			g.Roots = append(g.Roots, visit(*slot))
		})
	}

	for _, a := range order {
		t, length, err := h.TypeOf(a)
		if err != nil {
			panic(fmt.Sprintf("heaptest: %v", err))
		}
		hd := h.LoadHeader(a)
		o := Object{Type: t.ID, Length: length, Hash: hd.Hash(), Lock: hd.LockState()}
		refSlots := make(map[heap.Address]bool)
		h.IterateRefs(a, func(slot heap.Address) { refSlots[slot] = true })
		payload := length
		if !t.IsArray() {
			payload = t.PayloadWords
		}
		for i := 0; i < payload; i++ {
			slot := heap.FieldSlot(a, i)
			if refSlots[slot] {
				ref := h.LoadRef(slot)
				if ref == heap.Null {
					o.Words = append(o.Words, 0)
				} else {
					o.Words = append(o.Words, uint64(index[ref]+1))
				}
				continue
			}
			o.Words = append(o.Words, h.LoadWord(slot))
		}
		g.Objects = append(g.Objects, o)
	}
	return g, order
}

// ObjectsIn returns the addresses of objects in [from, to) sorted ascending.
func ObjectsIn(addrs []heap.Address, from, to heap.Address) []heap.Address {
	var out []heap.Address
	for _, a := range addrs {
		if a >= from && a < to {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
