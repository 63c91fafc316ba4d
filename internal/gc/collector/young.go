package collector

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kolkov/gcengine/internal/gc/cardtable"
	"github.com/kolkov/gcengine/internal/gc/heap"
	"github.com/kolkov/gcengine/internal/logging"
	"github.com/kolkov/gcengine/internal/metrics"
)

// Scavenge evacuates the live objects of every eden and survivor region
// and frees those regions.
//
// Phases, each ending at a gang barrier:
//  1. roots: copy the referents of the strong roots
//  2. card-scan: visit old objects on non-clean cards, queueing their
//     references into the young generation
//  3. evacuate: drain the queues with stealing
//
// Objects that cannot be copied for lack of space stay where they are;
// their regions are kept as old regions and PromotionFailed is set.
func (c *Collector) Scavenge(ctx context.Context) (YoungResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.scavengeLocked(ctx)
	if err != nil || !res.PromotionFailed || !c.opts.FullOnPromotionFailure {
		return res, err
	}
	full, err := c.fullLocked(ctx)
	if err != nil {
		return res, err
	}
	res.FollowUp = &full
	return res, nil
}

// scanSet is the snapshot of the old regions a scavenge scans.
type scanSet struct {
	old       []*heap.Region
	humongous []*heap.Region
}

func (c *Collector) scavengeLocked(ctx context.Context) (YoungResult, error) {
	res := YoungResult{Cycle: uuid.NewString(), UsedWordsBefore: c.heap.UsedWords()}
	ctx = logging.WithCycleID(ctx, res.Cycle)
	log := logging.ContextLogger(ctx, c.log)
	start := time.Now()

	c.verify("before young collection")
	c.gang.ResetTimings()
	c.set.ResetStats()

	cset, scan := c.selectCollectionSet()
	res.CollectionSet = len(cset)

	survivor := c.heap.NewSpace(heap.RegionSurvivor, c.opts.MaxSurvivorRegions)
	tenured := c.heap.NewSpace(heap.RegionOld, 0)
	c.promo.Start(survivor, tenured)

	rootClaimer := heap.NewClaimer(c.roots.StrongPartitions())
	if err := c.gang.Run(ctx, "scavenge-roots", func(w int) error {
		m := c.promo.Manager(w)
		for {
			p, ok := rootClaimer.Claim()
			if !ok {
				return nil
			}
			c.roots.VisitStrong(p, m.ProcessRoot)
		}
	}); err != nil {
		return res, err
	}

	humClaimer := heap.NewClaimer(len(scan.humongous))
	if err := c.gang.Run(ctx, "card-scan", func(w int) error {
		m := c.promo.Manager(w)
		n := c.gang.Size()
		for _, r := range scan.old {
			c.scanner.ScanStripes(r.Bottom(), r.ScanTop(), w, n, m.ScanOldObject)
		}
		for {
			i, ok := humClaimer.Claim()
			if !ok {
				return nil
			}
			c.scanHumongous(scan.humongous[i], m.ScanOldObject)
		}
	}); err != nil {
		return res, err
	}

	if err := c.gang.Run(ctx, "evacuate", func(w int) error {
		c.promo.Manager(w).Drain()
		return nil
	}); err != nil {
		return res, err
	}

	if err := c.gang.RunSerial(ctx, "post-evacuate", func() error {
		c.postEvacuate(cset, &res)
		return nil
	}); err != nil {
		return res, err
	}

	res.Duration = time.Since(start)
	res.UsedWordsAfter = c.heap.UsedWords()
	res.Phases = c.gang.Timings()
	c.verify("after young collection")

	c.stats.YoungCycles++
	c.stats.TotalPause += res.Duration
	if res.PromotionFailed {
		c.stats.PromotionFailures++
	}
	last := res
	c.stats.LastYoung = &last

	ps := res.Promotion
	if c.metrics != nil {
		c.metrics.RecordCycle(metrics.KindYoung, res.Duration)
		c.metrics.RecordCopy(ps.SurvivorWords*heap.WordSize, ps.TenuredWords*heap.WordSize, ps.Failures)
		c.metrics.RecordRegionsFreed(metrics.KindYoung, res.RegionsFreed)
		c.recordPhases(res.Phases)
		c.recordHeap()
	}
	fields := map[string]any{
		"duration":      res.Duration.String(),
		"collectionSet": res.CollectionSet,
		"survivors":     ps.SurvivorObjects,
		"tenured":       ps.TenuredObjects,
		"regionsFreed":  res.RegionsFreed,
		"usedBefore":    res.UsedWordsBefore,
		"usedAfter":     res.UsedWordsAfter,
	}
	if res.PromotionFailed {
		fields["failedObjects"] = ps.Failures
		fields["failedRegions"] = res.FailedRegions
		log.Warnf("promotion failed", fields)
	} else {
		log.Infof("young collection finished", fields)
	}
	return res, nil
}

// selectCollectionSet flags every young region as evacuated and snapshots
// the scan limits of the old regions.
func (c *Collector) selectCollectionSet() ([]*heap.Region, scanSet) {
	var cset []*heap.Region
	var scan scanSet
	for _, r := range c.heap.Regions() {
		r.SetInCollectionSet(false)
		r.SetEvacuationFailed(false)
		switch {
		case r.IsYoung():
			r.SetInCollectionSet(true)
			cset = append(cset, r)
		case r.Kind() == heap.RegionOld, r.Kind() == heap.RegionArchive:
			r.SetScanTop(r.Top())
			if r.Top() > r.Bottom() {
				scan.old = append(scan.old, r)
			}
		case r.Kind() == heap.RegionHumongousStart:
			scan.humongous = append(scan.humongous, r)
		}
	}
	return cset, scan
}

// scanHumongous visits the humongous object at r's bottom when any card it
// spans is not clean. The whole object has a single owner, so its cards
// are simply cleared before the visit.
func (c *Collector) scanHumongous(r *heap.Region, visit func(obj heap.Address)) {
	obj := r.Bottom()
	end := obj.Plus(c.heap.SizeOf(obj))
	if c.cards.CountNonClean(obj, end) == 0 {
		return
	}
	c.cards.ClearRange(obj, end)
	visit(obj)
}

// postEvacuate retires LABs, updates weak roots, keeps regions holding
// objects that failed to move and frees the rest of the collection set.
func (c *Collector) postEvacuate(cset []*heap.Region, res *YoungResult) {
	c.promo.Flush()
	res.WeakCleared = c.promo.ProcessWeakRoots(c.roots)
	res.Promotion = c.promo.Stats()
	res.PromotionFailed = c.promo.PromotionFailed()

	for _, r := range cset {
		r.SetInCollectionSet(false)
		if r.EvacuationFailed() {
			c.retainFailedRegion(r)
			res.FailedRegions++
			continue
		}
		res.RegionsFreed += c.freeRegion(r)
	}
	if res.PromotionFailed {
		c.marks.Restore(c.heap)
		c.bitmap.ClearAll()
	}
	c.eden.Reset()
}

// retainFailedRegion turns a region holding self-forwarded objects into an
// old region: the failed objects get a plain header back (their saved
// headers are restored afterwards), everything between them becomes filler
// and every card is marked Youngergen since the survivors may still
// reference young objects.
func (c *Collector) retainFailedRegion(r *heap.Region) {
	h := c.heap
	top := r.Top()
	cursor := r.Bottom()
	live := 0
	for {
		obj, ok := c.bitmap.NextMarked(cursor, top)
		if !ok {
			break
		}
		if obj > cursor {
			h.FillWithFiller(cursor, cursor.WordsTo(obj))
		}
		size := h.SizeOf(obj)
		h.StoreHeader(obj, heap.Prototype)
		live += size
		cursor = obj.Plus(size)
	}
	if cursor < top {
		h.FillWithFiller(cursor, cursor.WordsTo(top))
	}

	r.SetKind(heap.RegionOld)
	r.SetEvacuationFailed(false)
	r.SetLiveWords(live)
	c.cards.SetRange(r.Bottom(), top, cardtable.Youngergen)
	c.starts.Rebuild(h, r.Bottom(), top, r.End())
}
