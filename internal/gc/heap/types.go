package heap

import (
	"errors"
	"fmt"
	"sync"
)

// HeaderWords is the number of words preceding the payload of every object.
const HeaderWords = 2

// TypeID identifies an object type in the registry.
type TypeID uint32

// FillerTypeID is the type of filler objects plugged into dead gaps.
const FillerTypeID TypeID = 0

// TypeKind describes how an object's payload is laid out.
type TypeKind uint8

const (
	// KindInstance objects have a fixed number of payload words, some of
	// which hold references.
	KindInstance TypeKind = iota
	// KindRefArray objects are arrays whose every element is a reference.
	KindRefArray
	// KindDataArray objects are arrays of raw words with no references.
	KindDataArray
)

// String returns the kind name.
func (k TypeKind) String() string {
	switch k {
	case KindInstance:
		return "instance"
	case KindRefArray:
		return "ref-array"
	case KindDataArray:
		return "data-array"
	default:
		return "unknown"
	}
}

// ErrUnknownType is returned when a type id is not registered.
var ErrUnknownType = errors.New("heap: unknown type")

// FieldIterator enumerates the reference slots of objects of one type.
//
// Slots are passed as heap addresses so the caller can both load and
// update the reference stored there.
type FieldIterator interface {
	// Refs calls visit for every reference slot of obj.
	Refs(obj Address, length int, visit func(slot Address))

	// RefsInRange calls visit for the reference slots of elements
	// [from, to) of an array. Non-array iterators visit nothing.
	RefsInRange(obj Address, from, to int, visit func(slot Address))
}

// Type describes one registered object type.
type Type struct {
	ID   TypeID
	Name string
	Kind TypeKind

	// PayloadWords is the payload size of instances. Unused for arrays.
	PayloadWords int

	// RefOffsets lists the payload word indexes of an instance that hold references.
	RefOffsets []int

	iter FieldIterator
}

// Iterator returns the field iterator selected for this type.
func (t *Type) Iterator() FieldIterator {
	return t.iter
}

// IsArray reports whether objects of this type carry a length.
func (t *Type) IsArray() bool {
	return t.Kind != KindInstance
}

// SizeWords returns the object size for the given array length, rounded up
// to an even number of words.
func (t *Type) SizeWords(length int) int {
	payload := t.PayloadWords
	if t.IsArray() {
		payload = length
	}
	return AlignSize(HeaderWords + payload)
}

// AlignSize rounds a word count up to the object alignment of two words.
func AlignSize(words int) int {
	return (words + 1) &^ 1
}

type instanceIterator struct {
	offsets []int
}

func (it instanceIterator) Refs(obj Address, _ int, visit func(slot Address)) {
	for _, off := range it.offsets {
		visit(obj.Plus(HeaderWords + off))
	}
}

func (it instanceIterator) RefsInRange(Address, int, int, func(slot Address)) {}

type refArrayIterator struct{}

func (refArrayIterator) Refs(obj Address, length int, visit func(slot Address)) {
	for i := 0; i < length; i++ {
		visit(obj.Plus(HeaderWords + i))
	}
}

func (refArrayIterator) RefsInRange(obj Address, from, to int, visit func(slot Address)) {
	for i := from; i < to; i++ {
		visit(obj.Plus(HeaderWords + i))
	}
}

type noRefsIterator struct{}

func (noRefsIterator) Refs(Address, int, func(slot Address))             {}
func (noRefsIterator) RefsInRange(Address, int, int, func(slot Address)) {}

// Registry maps type ids to type descriptors.
//
// Types are registered before collections run. Lookups are safe for
// concurrent use with each other and with registration.
type Registry struct {
	mu    sync.RWMutex
	types []*Type
	names map[string]TypeID
}

// NewRegistry creates a registry holding only the filler type.
func NewRegistry() *Registry {
	r := &Registry{names: make(map[string]TypeID)}
	r.add(&Type{Name: "filler", Kind: KindDataArray, iter: noRefsIterator{}})
	return r
}

func (r *Registry) add(t *Type) TypeID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.names[t.Name]; ok {
		return id
	}
	t.ID = TypeID(len(r.types))
	r.types = append(r.types, t)
	r.names[t.Name] = t.ID
	return t.ID
}

// RegisterInstance registers a fixed-size type with payloadWords payload
// words, of which the words at refOffsets hold references. Registering an
// existing name returns the existing id.
func (r *Registry) RegisterInstance(name string, payloadWords int, refOffsets ...int) (TypeID, error) {
	if payloadWords < 0 {
		return 0, fmt.Errorf("heap: type %q: negative payload size %d", name, payloadWords)
	}
	offsets := make([]int, 0, len(refOffsets))
	seen := make(map[int]bool, len(refOffsets))
	for _, off := range refOffsets {
		if off < 0 || off >= payloadWords {
			return 0, fmt.Errorf("heap: type %q: reference offset %d outside payload of %d words", name, off, payloadWords)
		}
		if seen[off] {
			continue
		}
		seen[off] = true
		offsets = append(offsets, off)
	}
	var iter FieldIterator = noRefsIterator{}
	if len(offsets) > 0 {
		iter = instanceIterator{offsets: offsets}
	}
	return r.add(&Type{
		Name:         name,
		Kind:         KindInstance,
		PayloadWords: payloadWords,
		RefOffsets:   offsets,
		iter:         iter,
	}), nil
}

// RegisterRefArray registers an array type whose elements are references.
func (r *Registry) RegisterRefArray(name string) TypeID {
	return r.add(&Type{Name: name, Kind: KindRefArray, iter: refArrayIterator{}})
}

// RegisterDataArray registers an array type of raw words.
func (r *Registry) RegisterDataArray(name string) TypeID {
	return r.add(&Type{Name: name, Kind: KindDataArray, iter: noRefsIterator{}})
}

// Lookup returns the type registered under id.
func (r *Registry) Lookup(id TypeID) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.types) {
		return nil, false
	}
	return r.types[id], true
}

// ByName returns the type registered under name.
func (r *Registry) ByName(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.names[name]
	if !ok {
		return nil, false
	}
	return r.types[id], true
}

// Len returns the number of registered types including the filler.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}
