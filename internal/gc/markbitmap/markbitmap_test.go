package markbitmap

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kolkov/gcengine/internal/gc/heap"
)

// ============================================================================
// Mark Tests
// ============================================================================

func TestBitmap_MarkOnce(t *testing.T) {
	b := New(heap.DefaultBase, heap.DefaultBase.Plus(256))
	a := heap.DefaultBase.Plus(70)

	if !b.Mark(a) {
		t.Fatal("first Mark should win")
	}
	if b.Mark(a) {
		t.Fatal("second Mark should lose")
	}
	if !b.IsMarked(a) {
		t.Error("IsMarked should report the marked address")
	}
	if b.IsMarked(a.Plus(1)) {
		t.Error("neighbour must stay unmarked")
	}
}

// TestBitmap_ConcurrentMarkSingleWinner checks that among concurrent
// markers of one address exactly one observes success, for every address.
func TestBitmap_ConcurrentMarkSingleWinner(t *testing.T) {
	const (
		words      = 512
		goroutines = 8
	)
	b := New(heap.DefaultBase, heap.DefaultBase.Plus(words))
	wins := make([]atomic.Int32, words)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < words; i++ {
				if b.Mark(heap.DefaultBase.Plus(i)) {
					wins[i].Add(1)
				}
			}
		}()
	}
	wg.Wait()

	for i := range wins {
		if n := wins[i].Load(); n != 1 {
			t.Fatalf("word %d: %d winners, want 1", i, n)
		}
	}
}

// ============================================================================
// Iteration Tests
// ============================================================================

func TestBitmap_IterateAscendingWithSkip(t *testing.T) {
	b := New(heap.DefaultBase, heap.DefaultBase.Plus(256))
	marked := []int{0, 4, 6, 63, 64, 130, 200}
	for _, w := range marked {
		b.Mark(heap.DefaultBase.Plus(w))
	}

	var got []int
	b.Iterate(heap.DefaultBase, heap.DefaultBase.Plus(256), nil, func(a heap.Address) bool {
		got = append(got, heap.DefaultBase.WordsTo(a))
		return true
	})
	if len(got) != len(marked) {
		t.Fatalf("Iterate visited %v, want %v", got, marked)
	}
	for i := range marked {
		if got[i] != marked[i] {
			t.Fatalf("Iterate visited %v, want %v", got, marked)
		}
	}

	// A four-word size skips the bit at 6, which lies inside the object at 4.
	got = got[:0]
	size := func(heap.Address) int { return 4 }
	b.Iterate(heap.DefaultBase, heap.DefaultBase.Plus(256), size, func(a heap.Address) bool {
		got = append(got, heap.DefaultBase.WordsTo(a))
		return true
	})
	want := []int{0, 4, 63, 130, 200}
	if len(got) != len(want) {
		t.Fatalf("Iterate with skip visited %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Iterate with skip visited %v, want %v", got, want)
		}
	}
}

func TestBitmap_ClearRange(t *testing.T) {
	b := New(heap.DefaultBase, heap.DefaultBase.Plus(256))
	for i := 0; i < 256; i += 2 {
		b.Mark(heap.DefaultBase.Plus(i))
	}
	b.Clear(heap.DefaultBase.Plus(10), heap.DefaultBase.Plus(200))

	if n := b.CountInRange(heap.DefaultBase, heap.DefaultBase.Plus(256)); n != 5+28 {
		t.Errorf("CountInRange = %d, want %d", n, 5+28)
	}
	if b.IsMarked(heap.DefaultBase.Plus(64)) {
		t.Error("bit inside cleared range survived")
	}
	if !b.IsMarked(heap.DefaultBase.Plus(8)) {
		t.Error("bit below cleared range was lost")
	}

	b.ClearAll()
	if _, ok := b.NextMarked(heap.DefaultBase, heap.DefaultBase.Plus(256)); ok {
		t.Error("ClearAll left bits set")
	}
}

func TestBitmap_NextMarkedStopsAtLimit(t *testing.T) {
	b := New(heap.DefaultBase, heap.DefaultBase.Plus(128))
	b.Mark(heap.DefaultBase.Plus(100))
	if _, ok := b.NextMarked(heap.DefaultBase, heap.DefaultBase.Plus(100)); ok {
		t.Error("NextMarked must not return bits at or beyond the limit")
	}
	if a, ok := b.NextMarked(heap.DefaultBase.Plus(65), heap.DefaultBase.Plus(128)); !ok || a != heap.DefaultBase.Plus(100) {
		t.Errorf("NextMarked = (%s, %v), want bit 100", a, ok)
	}
}
