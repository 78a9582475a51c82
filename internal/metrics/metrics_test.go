package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/hitoshi/listingsweep/internal/model"
)

// findMetric はレジストリから名前とラベルが一致するメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

func TestRecordItem_CountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordItem(OutcomeAvailable)
	c.RecordItem(OutcomeAvailable)
	c.RecordItem(OutcomeFailed)

	if v := findMetric(t, reg, "listingsweep_items_processed_total", map[string]string{"outcome": "available"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("available = %v, want 2", v)
	}
	if v := findMetric(t, reg, "listingsweep_items_processed_total", map[string]string{"outcome": "failed"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("failed = %v, want 1", v)
	}
}

func TestRecordFlush(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFlush(true, 3, 7)
	c.RecordFlush(false, 5, 5)

	if v := findMetric(t, reg, "listingsweep_flushes_total", map[string]string{"result": "success"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("success flushes = %v, want 1", v)
	}
	if v := findMetric(t, reg, "listingsweep_flushes_total", map[string]string{"result": "failure"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("failed flushes = %v, want 1", v)
	}
	if v := findMetric(t, reg, "listingsweep_items_updated_total", nil).GetCounter().GetValue(); v != 3 {
		t.Errorf("updated = %v, want 3 (failed flush must not be credited)", v)
	}
	if v := findMetric(t, reg, "listingsweep_points_deleted_total", nil).GetCounter().GetValue(); v != 7 {
		t.Errorf("deleted = %v, want 7", v)
	}
}

func TestSetCursor(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetCursor("availability3_all", 4)
	c.SetCursor("availability3_all", 0)

	if v := findMetric(t, reg, "listingsweep_job_cursor", map[string]string{"job_id": "availability3_all"}).GetGauge().GetValue(); v != 0 {
		t.Errorf("cursor = %v, want 0", v)
	}
}

func TestObserveResolveAndStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveResolve("page", 150*time.Millisecond)
	c.ObserveHTTPStatus("page", 404)
	c.ObserveHTTPStatus("page", 404)

	h := findMetric(t, reg, "listingsweep_resolve_latency_seconds", map[string]string{"source": "page"}).GetHistogram()
	if h.GetSampleCount() != 1 {
		t.Errorf("latency samples = %d, want 1", h.GetSampleCount())
	}
	if v := findMetric(t, reg, "listingsweep_http_status_total", map[string]string{"source": "page", "status_code": "404"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("404 count = %v, want 2", v)
	}
}

func TestRecordRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRun(&model.RunStats{Processed: 4, Succeeded: 3}, 2*time.Minute)

	if v := findMetric(t, reg, "listingsweep_last_run_success_rate", nil).GetGauge().GetValue(); v != 0.75 {
		t.Errorf("success rate = %v, want 0.75", v)
	}
	if v := findMetric(t, reg, "listingsweep_last_run_timestamp_seconds", nil).GetGauge().GetValue(); v <= 0 {
		t.Errorf("last run timestamp = %v, want > 0", v)
	}
}
