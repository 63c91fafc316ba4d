// Package gc provides a parallel generational garbage collector over a
// simulated managed heap.
//
// The heap is a word-addressed arena split into fixed-size regions. Young
// objects are allocated in eden regions and evacuated by young collections
// into survivor regions or, once old enough, into old regions. A full
// collection marks the whole heap from the roots and slides live objects
// toward the bottom of their regions.
//
// # Quick Start
//
//	rt, err := gc.NewRuntime(gc.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	node, _ := rt.RegisterType("node", 2, 0) // word 0 is a reference
//
//	a, _ := rt.New(node)
//	b, _ := rt.New(node)
//	rt.StoreRef(a, 0, b)
//	root := rt.AddRoot(0, a)
//
//	if _, err := rt.CollectYoung(ctx); err != nil {
//		log.Fatal(err)
//	}
//	a = rt.Root(root) // a has moved
//
// # API Overview
//
// The package provides functions for:
//   - Construction: [NewRuntime], [DefaultConfig], [LoadConfig]
//   - Types: [Runtime.RegisterType], [Runtime.RegisterRefArray], [Runtime.RegisterDataArray]
//   - Allocation: [Runtime.New], [Runtime.NewArray], [Runtime.NewOld], [Runtime.NewArchive]
//   - Field access: [Runtime.Load], [Runtime.Store], [Runtime.LoadRef], [Runtime.StoreRef]
//   - Roots: [Runtime.AddRoot], [Runtime.AddGlobal], [Runtime.AddWeak], [Runtime.Root]
//   - Collection: [Runtime.Collect], [Runtime.CollectYoung], [Runtime.Stats], [Runtime.Verify]
//   - Version information: [GetInfo], [Version]
//
// # Addresses
//
// Objects move. An Address held outside the heap is only valid until the
// next collection; hold objects across collections through root handles
// and re-read them with [Runtime.Root]. Reference fields must be written
// with [Runtime.StoreRef], which runs the write barrier young collections
// depend on to find old-to-young references.
//
// # Collections
//
// Young collections copy live young objects in parallel, each worker
// copying into its own allocation buffer and claiming objects with a
// compare-and-swap on their header. When no space is left for a copy the
// object stays in place, its region becomes an old region and the result
// reports PromotionFailed; Config.Collector.FullOnPromotionFailure turns
// that into an immediate full collection.
//
// Full collections run four parallel phases: mark, prepare (compute new
// addresses), adjust (rewrite references) and compact (move). Regions that
// are almost entirely live are left in place.
//
// Allocation runs collections on its own: when eden is full [Runtime.New]
// tries a young collection, then a full one, and only then returns
// [ErrOutOfMemory].
//
// # Configuration
//
// Configuration is YAML with GCENGINE_* environment overrides:
//
//	heap:
//	  regions: 64
//	  regionWords: 4096
//	  edenRegions: 16
//	collector:
//	  workers: 4
//	  tenuringThreshold: 7
//	observability:
//	  logLevel: info
//	  logFormat: json
//
// # Observability
//
// Every collection logs a summary tagged with a per-cycle id. Pass
// [WithRegistry] to record Prometheus metrics for cycles, pauses, phases,
// copied bytes and promotion failures.
package gc
