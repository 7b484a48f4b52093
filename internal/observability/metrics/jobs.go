package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	JobOutcomeSuccess = "success"
	JobOutcomeError   = "error"
	JobOutcomeSkipped = "skipped"
)

// JobMetrics tracks scheduled job runs.
type JobMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	affected *prometheus.CounterVec
}

var (
	jobMetricsOnce sync.Once
	jobMetrics     *JobMetrics
)

// Jobs returns the process-wide job metrics registered on the default registry.
func Jobs() *JobMetrics {
	jobMetricsOnce.Do(func() {
		jobMetrics = newJobMetrics(prometheus.DefaultRegisterer)
	})
	return jobMetrics
}

func newJobMetrics(registerer prometheus.Registerer) *JobMetrics {
	m := &JobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentwise_job_runs_total",
			Help: "Scheduled job runs by outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rentwise_job_duration_seconds",
			Help:    "Scheduled job duration.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"job"}),
		affected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentwise_job_rows_affected_total",
			Help: "Payment records changed by scheduled jobs.",
		}, []string{"job"}),
	}
	if registerer != nil {
		m.runs, _ = registerOrExisting(registerer, m.runs)
		m.duration, _ = registerOrExisting(registerer, m.duration)
		m.affected, _ = registerOrExisting(registerer, m.affected)
	}
	return m
}

func (m *JobMetrics) ObserveRun(job, outcome string, elapsed time.Duration, affected int64) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(job, outcome).Inc()
	m.duration.WithLabelValues(job).Observe(elapsed.Seconds())
	if affected > 0 {
		m.affected.WithLabelValues(job).Add(float64(affected))
	}
}
