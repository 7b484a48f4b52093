package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestJobMetricsObserveRun(t *testing.T) {
	m := newJobMetrics(prometheus.NewRegistry())

	m.ObserveRun("overdue_sweep", JobOutcomeSuccess, 20*time.Millisecond, 3)
	m.ObserveRun("overdue_sweep", JobOutcomeSuccess, 10*time.Millisecond, 0)
	m.ObserveRun("overdue_sweep", JobOutcomeError, time.Millisecond, 0)

	if got := testutil.ToFloat64(m.runs.WithLabelValues("overdue_sweep", JobOutcomeSuccess)); got != 2 {
		t.Fatalf("expected 2 successful runs, got %v", got)
	}
	if got := testutil.ToFloat64(m.affected.WithLabelValues("overdue_sweep")); got != 3 {
		t.Fatalf("expected 3 affected rows, got %v", got)
	}
}

func TestHTTPMetricsReuseRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := newHTTPMetrics(reg)
	if err != nil {
		t.Fatalf("first register: %v", err)
	}
	second, err := newHTTPMetrics(reg)
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if first.requests != second.requests {
		t.Fatalf("expected existing collector to be reused")
	}
}
