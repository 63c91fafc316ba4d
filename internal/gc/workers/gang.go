// Package workers runs collector phases on a fixed gang of worker
// goroutines.
//
// A phase starts one goroutine per worker and returns when all of them
// finished, which is the barrier between phases: everything a worker wrote
// during a phase is visible to every worker of the next one.
package workers

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kolkov/gcengine/internal/logging"
)

// PhaseFunc is the body a worker runs during one phase.
type PhaseFunc func(worker int) error

// Timing records how long one phase took.
type Timing struct {
	Name     string
	Duration time.Duration
}

// Gang runs phases on n workers.
type Gang struct {
	n       int
	log     *logging.Logger
	timings []Timing
}

// New creates a gang of n workers. n below one is treated as one.
func New(n int, log *logging.Logger) *Gang {
	if n < 1 {
		n = 1
	}
	if log == nil {
		log = logging.Global()
	}
	return &Gang{n: n, log: log}
}

// Size returns the number of workers.
func (g *Gang) Size() int { return g.n }

// Run executes fn on every worker and waits for all of them. A worker panic
// is not recovered; heap corruption is fatal.
//
// ctx only carries log correlation; phases are not cancellable.
func (g *Gang) Run(ctx context.Context, name string, fn PhaseFunc) error {
	start := time.Now()
	var eg errgroup.Group
	for w := 0; w < g.n; w++ {
		eg.Go(func() error {
			return fn(w)
		})
	}
	err := eg.Wait()
	elapsed := time.Since(start)
	g.timings = append(g.timings, Timing{Name: name, Duration: elapsed})

	logging.ContextLogger(ctx, g.log).Debugf("phase finished", map[string]any{
		"phase":    name,
		"workers":  g.n,
		"duration": elapsed.String(),
	})
	if err != nil {
		return fmt.Errorf("phase %s: %w", name, err)
	}
	return nil
}

// RunSerial executes fn on the calling goroutine as worker 0, recorded like
// a phase.
func (g *Gang) RunSerial(ctx context.Context, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	g.timings = append(g.timings, Timing{Name: name, Duration: elapsed})
	logging.ContextLogger(ctx, g.log).Debugf("phase finished", map[string]any{
		"phase":    name,
		"workers":  1,
		"duration": elapsed.String(),
	})
	if err != nil {
		return fmt.Errorf("phase %s: %w", name, err)
	}
	return nil
}

// Timings returns the phase timings recorded since the last ResetTimings.
func (g *Gang) Timings() []Timing {
	out := make([]Timing, len(g.timings))
	copy(out, g.timings)
	return out
}

// ResetTimings forgets recorded timings.
func (g *Gang) ResetTimings() {
	g.timings = g.timings[:0]
}
