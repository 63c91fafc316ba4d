package collector

import (
	"time"

	"github.com/kolkov/gcengine/internal/gc/compact"
	"github.com/kolkov/gcengine/internal/gc/promotion"
	"github.com/kolkov/gcengine/internal/gc/workers"
)

// FullResult describes one full collection.
type FullResult struct {
	Cycle    string
	Duration time.Duration

	MarkedObjects uint64
	LiveWords     uint64
	WeakCleared   uint64

	Plan         compact.PlanStats
	Moved        int
	RegionsFreed int

	UsedWordsBefore int
	UsedWordsAfter  int

	Phases []workers.Timing
}

// YoungResult describes one young collection.
type YoungResult struct {
	Cycle    string
	Duration time.Duration

	CollectionSet int
	Promotion     promotion.Stats
	WeakCleared   int

	// PromotionFailed is set when some live objects could not be copied
	// and stayed in place. Their regions were retained as old regions.
	PromotionFailed bool
	FailedRegions   int
	RegionsFreed    int

	UsedWordsBefore int
	UsedWordsAfter  int

	Phases []workers.Timing

	// FollowUp is the full collection triggered by a promotion failure,
	// nil when none ran.
	FollowUp *FullResult
}

// Stats accumulates collection counts over the collector's life.
type Stats struct {
	YoungCycles       uint64
	FullCycles        uint64
	PromotionFailures uint64
	TotalPause        time.Duration

	LastYoung *YoungResult
	LastFull  *FullResult
}
