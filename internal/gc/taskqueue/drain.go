package taskqueue

import "math/rand/v2"

// Drain runs worker's side of a drain phase: it processes its own queue
// until empty, then steals, and returns once the terminator reports that
// every worker ran out of work. process may push new tasks onto the
// worker's queue.
func Drain(set *Set, term *Terminator, worker int, rng *rand.Rand, process func(Task)) {
	q := set.Queue(worker)
	for {
		for {
			t, ok := q.Pop()
			if !ok {
				break
			}
			process(t)
		}
		if t, ok := set.Steal(worker, rng); ok {
			process(t)
			continue
		}
		if term.Offer() {
			return
		}
	}
}
