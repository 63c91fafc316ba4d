package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

func TestNewCollectorMetrics_Registered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCollectorMetricsWithRegistry(reg)

	// Vectors only show up once a label set exists.
	m.RecordCycle(KindYoung, time.Millisecond)
	m.RecordPhase("mark", time.Millisecond)
	m.RecordCopy(1, 1, 0)
	m.RecordRegionsFreed(KindFull, 1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	expected := map[string]bool{
		"gcengine_collector_cycles_total":             false,
		"gcengine_collector_pause_seconds":            false,
		"gcengine_collector_phase_seconds":            false,
		"gcengine_collector_promotion_failures_total": false,
		"gcengine_collector_copied_bytes_total":       false,
		"gcengine_collector_regions_freed_total":      false,
		"gcengine_collector_live_bytes":               false,
		"gcengine_collector_used_bytes":               false,
		"gcengine_collector_free_regions":             false,
		"gcengine_collector_steals_total":             false,
		"gcengine_collector_queue_overflows_total":    false,
	}
	for _, f := range families {
		if _, ok := expected[f.GetName()]; ok {
			expected[f.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("expected metric %s to be registered", name)
		}
	}
}

func TestCollectorMetrics_RecordCycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCollectorMetricsWithRegistry(reg)

	m.RecordCycle(KindFull, 2*time.Millisecond)
	m.RecordCycle(KindFull, 3*time.Millisecond)
	m.RecordCycle(KindYoung, time.Millisecond)

	if got := testutil.ToFloat64(m.Cycles.WithLabelValues(KindFull)); got != 2 {
		t.Errorf("full cycles = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Cycles.WithLabelValues(KindYoung)); got != 1 {
		t.Errorf("young cycles = %v, want 1", got)
	}

	h := getHistogram(t, reg, "gcengine_collector_pause_seconds", KindFull)
	if h.GetSampleCount() != 2 {
		t.Errorf("full pause samples = %d, want 2", h.GetSampleCount())
	}
}

func TestCollectorMetrics_RecordCopy(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCollectorMetricsWithRegistry(reg)

	m.RecordCopy(4096, 512, 3)

	if got := testutil.ToFloat64(m.CopiedBytes.WithLabelValues("survivor")); got != 4096 {
		t.Errorf("survivor bytes = %v, want 4096", got)
	}
	if got := testutil.ToFloat64(m.CopiedBytes.WithLabelValues("tenured")); got != 512 {
		t.Errorf("tenured bytes = %v, want 512", got)
	}
	if got := testutil.ToFloat64(m.PromotionFailures); got != 3 {
		t.Errorf("promotion failures = %v, want 3", got)
	}
}

func TestCollectorMetrics_Gauges(t *testing.T) {
	m := NewCollectorMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordHeap(1<<20, 12)
	m.RecordLive(4096)

	if got := testutil.ToFloat64(m.UsedBytes); got != 1<<20 {
		t.Errorf("used bytes = %v, want %v", got, 1<<20)
	}
	if got := testutil.ToFloat64(m.FreeRegions); got != 12 {
		t.Errorf("free regions = %v, want 12", got)
	}
	if got := testutil.ToFloat64(m.LiveBytes); got != 4096 {
		t.Errorf("live bytes = %v, want 4096", got)
	}
}

func getHistogram(t *testing.T, reg *prometheus.Registry, name, kind string) *io_prometheus_client.Histogram {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "kind" && lp.GetValue() == kind {
					return m.GetHistogram()
				}
			}
		}
	}
	t.Fatalf("histogram %s{kind=%q} not found", name, kind)
	return nil
}
