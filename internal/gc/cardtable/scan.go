package cardtable

import (
	"github.com/kolkov/gcengine/internal/gc/heap"
)

// DefaultStripeCards is the stripe size used when none is configured.
const DefaultStripeCards = 16

// Scanner splits the card scan of an old space among workers.
//
// The space [bottom, top) is cut into slices of stripeCards*workers cards;
// worker w takes stripe w of every slice. An object belongs to the stripe
// its start address falls in, so every object has exactly one owner even
// when it spans several stripes.
type Scanner struct {
	heap        *heap.Heap
	cards       *Table
	starts      *StartArray
	stripeCards int
}

// NewScanner creates a scanner. stripeCards below one selects DefaultStripeCards.
func NewScanner(h *heap.Heap, cards *Table, starts *StartArray, stripeCards int) *Scanner {
	if stripeCards < 1 {
		stripeCards = DefaultStripeCards
	}
	return &Scanner{heap: h, cards: cards, starts: starts, stripeCards: stripeCards}
}

// StripeCards returns the stripe size in cards.
func (s *Scanner) StripeCards() int { return s.stripeCards }

// ScanStripes visits the objects of worker's stripes in [bottom, top) that
// overlap a non-clean card. bottom must be an object start.
//
// visit runs after the card bookkeeping for its stripe, so it may mark
// cards Youngergen without the mark being lost.
func (s *Scanner) ScanStripes(bottom, top heap.Address, worker, workers int, visit func(obj heap.Address)) {
	if bottom >= top {
		return
	}
	stripeBytes := heap.Address(s.stripeCards * CardBytes)
	slice := stripeBytes * heap.Address(workers)
	for start := bottom + stripeBytes*heap.Address(worker); start < top; start += slice {
		end := start + stripeBytes
		if end > top {
			end = top
		}
		s.scanStripe(bottom, top, start, end, visit)
	}
}

// scanStripe handles the objects starting in [start, end).
//
// Algorithm:
//  1. Find the owned objects: first start >= start, last start < end
//  2. Snapshot the card values covering the owned span
//  3. Clear non-clean cards lying wholly inside the owned span; no other
//     worker reads them. Cards shared with a neighbour stripe are never
//     cleared, only downgraded to Youngergen.
//  4. Visit every owned object overlapping a non-clean card in the snapshot
func (s *Scanner) scanStripe(floor, top, start, end heap.Address, visit func(obj heap.Address)) {
	first := s.starts.ObjectStart(s.heap, start, floor)
	if first < start {
		first = first.Plus(s.heap.SizeOf(first))
	}
	if first >= end {
		return
	}

	var owned []heap.Address
	ownEnd := first
	for obj := first; obj < end; {
		owned = append(owned, obj)
		ownEnd = obj.Plus(s.heap.SizeOf(obj))
		obj = ownEnd
	}
	if ownEnd > top {
		ownEnd = top
	}

	firstCard := s.cards.CardIndex(first)
	lastCard := s.cards.CardIndex(ownEnd - 1)
	snapshot := make([]Value, lastCard-firstCard+1)
	anyDirty := false
	for i := range snapshot {
		snapshot[i] = s.cards.Get(firstCard + i)
		if snapshot[i] != Clean {
			anyDirty = true
		}
	}
	if !anyDirty {
		return
	}

	for i, v := range snapshot {
		if v == Clean {
			continue
		}
		c := firstCard + i
		exclusive := s.cards.CardStart(c) >= first && (s.cards.CardEnd(c) <= ownEnd || ownEnd == top)
		if exclusive {
			s.cards.Set(c, Clean)
		} else {
			s.cards.Set(c, Youngergen)
		}
	}

	for _, obj := range owned {
		objEnd := obj.Plus(s.heap.SizeOf(obj))
		if objEnd > top {
			objEnd = top
		}
		lo := s.cards.CardIndex(obj) - firstCard
		hi := s.cards.CardIndex(objEnd-1) - firstCard
		for i := lo; i <= hi; i++ {
			if snapshot[i] != Clean {
				visit(obj)
				break
			}
		}
	}
}
