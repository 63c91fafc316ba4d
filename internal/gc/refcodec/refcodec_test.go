package refcodec

import (
	"testing"

	"github.com/kolkov/gcengine/internal/gc/heap"
)

func TestCodec_NullStaysNull(t *testing.T) {
	c, err := Compressed(heap.DefaultBase, heap.DefaultBase.Plus(1024), DefaultShift)
	if err != nil {
		t.Fatalf("Compressed() error = %v", err)
	}
	if got := c.Encode(heap.Null); got != 0 {
		t.Errorf("Encode(Null) = %d, want 0", got)
	}
	if got := c.Decode(0); got != heap.Null {
		t.Errorf("Decode(0) = %s, want null", got)
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	start := heap.DefaultBase
	end := start.Plus(4096)
	compressed, err := Compressed(start, end, DefaultShift)
	if err != nil {
		t.Fatalf("Compressed() error = %v", err)
	}

	for _, c := range []Codec{Full(), compressed} {
		for a := start; a < end; a = a.Plus(7) {
			v := c.Encode(a)
			if c.IsCompressed() && (v == 0 || v > uint64(^uint32(0))) {
				t.Fatalf("Encode(%s) = %d, want non-zero 32-bit value", a, v)
			}
			if got := c.Decode(v); got != a {
				t.Fatalf("compressed=%v: Decode(Encode(%s)) = %s", c.IsCompressed(), a, got)
			}
		}
	}
}

func TestCodec_FirstWordEncodesToOne(t *testing.T) {
	c, err := Compressed(heap.DefaultBase, heap.DefaultBase.Plus(64), DefaultShift)
	if err != nil {
		t.Fatalf("Compressed() error = %v", err)
	}
	if got := c.Encode(heap.DefaultBase); got != 1 {
		t.Errorf("Encode(heap start) = %d, want 1", got)
	}
}

func TestCompressed_RejectsOversizedHeap(t *testing.T) {
	start := heap.DefaultBase
	if _, err := Compressed(start, start+heap.Address(MaxNarrowSpan), DefaultShift); err == nil {
		t.Error("expected error for heap wider than narrow range")
	}
	if _, err := Compressed(0, 64, DefaultShift); err == nil {
		t.Error("expected error for heap start below alignment unit")
	}
}
