// Package metrics exposes Prometheus metrics for the collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "gcengine"
	subsystem = "collector"
)

// Cycle kinds used as label values.
const (
	KindYoung = "young"
	KindFull  = "full"
)

// CollectorMetrics holds the metrics of one collected heap.
type CollectorMetrics struct {
	// Cycles counts finished collections by kind.
	Cycles *prometheus.CounterVec

	// PauseSeconds observes the duration of whole collections by kind.
	PauseSeconds *prometheus.HistogramVec

	// PhaseSeconds observes the duration of individual phases.
	PhaseSeconds *prometheus.HistogramVec

	// PromotionFailures counts objects that could be neither copied to
	// survivor space nor tenured.
	PromotionFailures prometheus.Counter

	// CopiedBytes counts bytes copied by young collections, by destination.
	CopiedBytes *prometheus.CounterVec

	// RegionsFreed counts regions returned to the free list, by cycle kind.
	RegionsFreed *prometheus.CounterVec

	// LiveBytes is the live data found by the last full collection.
	LiveBytes prometheus.Gauge

	// UsedBytes is the heap occupancy after the last collection.
	UsedBytes prometheus.Gauge

	// FreeRegions is the number of free regions after the last collection.
	FreeRegions prometheus.Gauge

	// Steals counts tasks taken from other workers' queues.
	Steals prometheus.Counter

	// Overflows counts tasks spilled to overflow stacks.
	Overflows prometheus.Counter
}

// NewCollectorMetrics creates metrics registered with the default registry.
func NewCollectorMetrics() *CollectorMetrics {
	return newCollectorMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewCollectorMetricsWithRegistry creates metrics registered with reg.
// Useful for tests and for running several heaps in one process.
func NewCollectorMetricsWithRegistry(reg prometheus.Registerer) *CollectorMetrics {
	return newCollectorMetrics(promauto.With(reg))
}

func newCollectorMetrics(f promauto.Factory) *CollectorMetrics {
	return &CollectorMetrics{
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cycles_total",
			Help:      "Number of finished collections by kind.",
		}, []string{"kind"}),
		PauseSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pause_seconds",
			Help:      "Duration of whole collections by kind.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 16),
		}, []string{"kind"}),
		PhaseSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "phase_seconds",
			Help:      "Duration of collection phases.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 16),
		}, []string{"phase"}),
		PromotionFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "promotion_failures_total",
			Help:      "Objects left in place because neither survivor nor tenured space had room.",
		}),
		CopiedBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "copied_bytes_total",
			Help:      "Bytes copied by young collections by destination (survivor, tenured).",
		}, []string{"destination"}),
		RegionsFreed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "regions_freed_total",
			Help:      "Regions returned to the free list by cycle kind.",
		}, []string{"kind"}),
		LiveBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "live_bytes",
			Help:      "Live data found by the last full collection.",
		}),
		UsedBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "used_bytes",
			Help:      "Heap occupancy after the last collection.",
		}),
		FreeRegions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "free_regions",
			Help:      "Free regions after the last collection.",
		}),
		Steals: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "steals_total",
			Help:      "Tasks stolen from other workers' queues.",
		}),
		Overflows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_overflows_total",
			Help:      "Tasks spilled to overflow stacks.",
		}),
	}
}

// RecordCycle records a finished collection.
func (m *CollectorMetrics) RecordCycle(kind string, d time.Duration) {
	m.Cycles.WithLabelValues(kind).Inc()
	m.PauseSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordPhase records the duration of one phase.
func (m *CollectorMetrics) RecordPhase(phase string, d time.Duration) {
	m.PhaseSeconds.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordCopy records bytes copied to survivor and tenured space and the
// number of promotion failures of a young collection.
func (m *CollectorMetrics) RecordCopy(survivorBytes, tenuredBytes uint64, failures uint64) {
	m.CopiedBytes.WithLabelValues("survivor").Add(float64(survivorBytes))
	m.CopiedBytes.WithLabelValues("tenured").Add(float64(tenuredBytes))
	m.PromotionFailures.Add(float64(failures))
}

// RecordRegionsFreed records regions freed by a collection.
func (m *CollectorMetrics) RecordRegionsFreed(kind string, n int) {
	m.RegionsFreed.WithLabelValues(kind).Add(float64(n))
}

// RecordHeap records heap occupancy after a collection.
func (m *CollectorMetrics) RecordHeap(usedBytes uint64, freeRegions int) {
	m.UsedBytes.Set(float64(usedBytes))
	m.FreeRegions.Set(float64(freeRegions))
}

// RecordLive records the live data found by a full collection.
func (m *CollectorMetrics) RecordLive(liveBytes uint64) {
	m.LiveBytes.Set(float64(liveBytes))
}

// RecordQueues records work-stealing activity.
func (m *CollectorMetrics) RecordQueues(steals, overflows uint64) {
	m.Steals.Add(float64(steals))
	m.Overflows.Add(float64(overflows))
}
