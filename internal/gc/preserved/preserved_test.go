package preserved

import (
	"testing"

	"github.com/kolkov/gcengine/internal/gc/heap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStack_PushIfNecessary(t *testing.T) {
	var s Stack
	obj := heap.DefaultBase

	assert.False(t, s.PushIfNecessary(obj, heap.Prototype))
	assert.False(t, s.PushIfNecessary(obj, heap.Prototype.WithAge(4)))
	assert.True(t, s.PushIfNecessary(obj, heap.Prototype.WithHash(99)))
	assert.Equal(t, 1, s.Len())
}

func TestSet_AdjustAndRestore(t *testing.T) {
	types := heap.NewRegistry()
	id, err := types.RegisterInstance("cell", 2)
	require.NoError(t, err)
	h, err := heap.New(heap.Config{Regions: 1, RegionWords: 64}, types)
	require.NoError(t, err)
	r := h.ClaimFreeRegion(heap.RegionOld)

	from := r.Allocate(4)
	to := r.Allocate(4)
	h.InitObject(from, id, 0, 4)
	h.InitObject(to, id, 0, 4)

	hashed := heap.Prototype.WithHash(0xBEEF)
	set := NewSet(2)
	set.Stack(1).Push(from, hashed)
	assert.Equal(t, 1, set.Total())

	set.Stack(1).Adjust(func(a heap.Address) heap.Address {
		if a == from {
			return to
		}
		return a
	})
	set.Restore(h)

	assert.Equal(t, hashed, h.LoadHeader(to))
	assert.Equal(t, heap.Prototype, h.LoadHeader(from))
	assert.Equal(t, 0, set.Total())
}
