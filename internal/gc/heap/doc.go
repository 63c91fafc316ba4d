// Package heap implements the simulated managed heap the collectors operate on.
//
// Go owns its own memory, so the managed heap is modelled as a word arena
// ([]uint64, one element per 8-byte heap word) addressed by synthetic byte
// addresses. Address 0 is null and the arena starts at a configurable,
// non-zero base so that null never aliases a real object.
//
// Object layout (all sizes in words):
//
//	word 0   header    lock state, age, identity hash, or forwarding pointer
//	word 1   type word type id (low 32 bits), array length (high 32 bits)
//	word 2.. payload   instance fields or array elements
//
// Object sizes are rounded up to an even number of words. Every gap left
// behind by the collectors is at least two words long and can therefore be
// turned into a filler object, which keeps regions parsable from bottom to top.
//
// The heap is divided into fixed-size regions. Regions carry a kind (free,
// eden, survivor, old, humongous start/continuation, archive), a pinned flag,
// an allocation top, a compaction top and a live-word count.
//
// Every heap word is read and written with sync/atomic. Collector workers run
// concurrently and only the phase barriers order their accesses; routing all
// accesses through atomics keeps the simulation clean under the race detector.
//
// The package also provides the collaborators a collector consumes at its
// boundary: the type registry with per-type field iterators, the root set and
// the region allocators used by mutators and by promotion.
package heap
