package heap

import (
	"sync"
	"sync/atomic"
)

// Space allocates from a growing set of regions of one kind.
//
// Allocation first bumps the current region with CAS. When the current
// region is full the allocator claims another free region under a mutex,
// up to a configurable region budget. Promotion uses one Space for
// survivors and one for tenured objects; mutators use one for eden and
// one for direct old allocation.
//
// Thread Safety: Allocate is safe for concurrent use. Reset and Regions
// must not race with Allocate.
type Space struct {
	heap  *Heap
	kind  RegionKind
	limit int

	current atomic.Pointer[Region]

	mu      sync.Mutex
	regions []*Region
}

// NewSpace creates an allocator that claims regions of kind. limit bounds
// the number of regions it may claim; zero or less means unbounded.
func (h *Heap) NewSpace(kind RegionKind, limit int) *Space {
	return &Space{heap: h, kind: kind, limit: limit}
}

// Kind returns the kind of the regions this space claims.
func (s *Space) Kind() RegionKind { return s.kind }

// Allocate returns the address of words fresh words, or Null when the
// current region is full and no further region can be claimed. Requests
// larger than a region always fail.
func (s *Space) Allocate(words int) Address {
	if words > s.heap.regionWords {
		return Null
	}
	if r := s.current.Load(); r != nil {
		if a := r.Allocate(words); a != Null {
			return a
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another worker may have installed a fresh region meanwhile.
	if r := s.current.Load(); r != nil {
		if a := r.Allocate(words); a != Null {
			return a
		}
	}
	if s.limit > 0 && len(s.regions) >= s.limit {
		return Null
	}
	r := s.heap.ClaimFreeRegion(s.kind)
	if r == nil {
		return Null
	}
	s.regions = append(s.regions, r)
	s.current.Store(r)
	return r.Allocate(words)
}

// Adopt makes r part of the space without claiming it, so later
// allocations continue in its free tail.
func (s *Space) Adopt(r *Region) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions = append(s.regions, r)
	s.current.Store(r)
}

// Regions returns the regions claimed since the last Reset.
func (s *Space) Regions() []*Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Region, len(s.regions))
	copy(out, s.regions)
	return out
}

// Exhausted reports whether the space reached its region budget.
func (s *Space) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit > 0 && len(s.regions) >= s.limit
}

// Reset forgets the claimed regions. The regions themselves are untouched.
func (s *Space) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions = nil
	s.current.Store(nil)
}
