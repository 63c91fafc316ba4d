package taskqueue

// DefaultChunkThreshold is the array length above which scanning is split
// into chunks.
const DefaultChunkThreshold = 256

// DefaultChunkStride is the number of elements scanned per chunk.
const DefaultChunkStride = 128

// NextChunk returns the end of the chunk starting at start in an array of
// length elements, and whether a continuation remains.
//
// Callers push PartialArrayTask(array, end) before scanning
// [start, end) when more is true, so idle workers can steal the tail while
// the chunk is being scanned. Following continuations from start 0
// covers [0, length) exactly once.
func NextChunk(start, length, stride int) (end int, more bool) {
	if stride < 1 {
		stride = 1
	}
	end = start + stride
	if end >= length {
		return length, false
	}
	return end, true
}
