package collector

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kolkov/gcengine/internal/gc/compact"
	"github.com/kolkov/gcengine/internal/gc/heap"
	"github.com/kolkov/gcengine/internal/logging"
	"github.com/kolkov/gcengine/internal/metrics"
)

// FullCollect marks the whole heap and slides live objects together.
//
// Phases, each ending at a gang barrier:
//  1. mark: trace from the roots and archive regions
//  2. prepare: plan every region and compute forwarding addresses
//  3. adjust: rewrite roots and heap references to moved objects
//  4. compact: move objects, per worker and then serially
//  5. post: reset region tops, free empty regions, restore headers and
//     rebuild the card table state
//
// After a full collection the young generation is empty.
func (c *Collector) FullCollect(ctx context.Context) (FullResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fullLocked(ctx)
}

func (c *Collector) fullLocked(ctx context.Context) (FullResult, error) {
	res := FullResult{Cycle: uuid.NewString(), UsedWordsBefore: c.heap.UsedWords()}
	ctx = logging.WithCycleID(ctx, res.Cycle)
	log := logging.ContextLogger(ctx, c.log)
	start := time.Now()

	c.verify("before full collection")
	c.gang.ResetTimings()
	c.set.ResetStats()
	c.bitmap.ClearAll()

	c.marker.Start(c.roots)
	if err := c.gang.Run(ctx, "mark", func(w int) error {
		c.marker.MarkRoots(w)
		c.marker.MarkArchives(w)
		c.marker.Drain(w)
		c.marker.FlushLiveWords(w)
		return nil
	}); err != nil {
		return res, err
	}
	if err := c.gang.RunSerial(ctx, "weak-roots", func() error {
		c.marker.ProcessWeakRoots()
		return nil
	}); err != nil {
		return res, err
	}
	ms := c.marker.Stats()
	res.MarkedObjects, res.LiveWords, res.WeakCleared = ms.MarkedObjects, ms.LiveWords, ms.WeakCleared

	c.planner.Start()
	if err := c.gang.Run(ctx, "prepare", func(w int) error {
		c.planner.Prepare(w)
		return nil
	}); err != nil {
		return res, err
	}
	serial := false
	if c.opts.SerialCompaction {
		serial = c.planner.PrepareSerial()
	}
	res.Plan = c.planner.Stats()

	c.adjuster.Start(c.roots)
	if err := c.gang.Run(ctx, "adjust", func(w int) error {
		c.adjuster.Run(w)
		return nil
	}); err != nil {
		return res, err
	}

	moved := make([]int, c.gang.Size())
	if err := c.gang.Run(ctx, "compact", func(w int) error {
		moved[w] = c.mover.CompactWorker(w)
		return nil
	}); err != nil {
		return res, err
	}
	for _, n := range moved {
		res.Moved += n
	}
	if serial {
		if err := c.gang.RunSerial(ctx, "serial-compact", func() error {
			res.Moved += c.mover.CompactSerial()
			return nil
		}); err != nil {
			return res, err
		}
	}

	if err := c.gang.RunSerial(ctx, "post-compact", func() error {
		res.RegionsFreed = c.postCompact()
		return nil
	}); err != nil {
		return res, err
	}

	res.Duration = time.Since(start)
	res.UsedWordsAfter = c.heap.UsedWords()
	res.Phases = c.gang.Timings()
	c.verify("after full collection")

	c.stats.FullCycles++
	c.stats.TotalPause += res.Duration
	last := res
	c.stats.LastFull = &last

	if c.metrics != nil {
		c.metrics.RecordCycle(metrics.KindFull, res.Duration)
		c.metrics.RecordRegionsFreed(metrics.KindFull, res.RegionsFreed)
		c.metrics.RecordLive(res.LiveWords * heap.WordSize)
		c.recordPhases(res.Phases)
		c.recordHeap()
	}
	log.Infof("full collection finished", map[string]any{
		"duration":      res.Duration.String(),
		"marked":        res.MarkedObjects,
		"liveWords":     res.LiveWords,
		"compacting":    res.Plan.Compacting,
		"skipped":       res.Plan.Skipped,
		"serialRegions": res.Plan.Serial,
		"moved":         res.Moved,
		"regionsFreed":  res.RegionsFreed,
		"usedBefore":    res.UsedWordsBefore,
		"usedAfter":     res.UsedWordsAfter,
	})
	return res, nil
}

// postCompact finishes a full collection and returns the number of regions
// freed.
func (c *Collector) postCompact() int {
	freed := 0
	for _, r := range c.mover.Finish() {
		freed += c.freeRegion(r)
	}
	for _, r := range c.heap.Regions() {
		if c.planner.State(r.Index()) == compact.StateFree && !r.IsFree() {
			freed += c.freeRegion(r)
		}
	}

	c.bitmap.ClearAll()
	c.marks.Restore(c.heap)
	c.cards.ClearAll()

	for _, r := range c.heap.Regions() {
		if r.IsYoung() {
			r.SetKind(heap.RegionOld)
		}
		switch r.Kind() {
		case heap.RegionOld, heap.RegionArchive, heap.RegionHumongousStart:
			c.starts.Rebuild(c.heap, r.Bottom(), r.Top(), r.End())
		case heap.RegionFree:
			c.starts.Reset(r.Bottom(), r.End())
		}
	}
	c.eden.Reset()
	c.old.Reset()
	return freed
}
