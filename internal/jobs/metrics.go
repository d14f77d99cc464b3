package jobmetrics

import (
	"context"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	retries     *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	now         func() time.Time
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against registerer, or the default
// Prometheus registerer when nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker instruments a single task execution.
type Tracker struct {
	metrics *Metrics
	task    string
	start   time.Time
	retried bool
}

// Track starts timing task. Redelivered tasks, as reported by asynq in ctx,
// are counted as retries.
func (m *Metrics) Track(ctx context.Context, task string) *Tracker {
	retried := false
	if n, ok := asynq.GetRetryCount(ctx); ok && n > 0 {
		retried = true
	}
	if m == nil {
		return &Tracker{task: task, start: time.Now(), retried: retried}
	}
	return &Tracker{metrics: m, task: task, start: m.now(), retried: retried}
}

// End records the outcome and returns err untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.task == "" {
		return err
	}
	m := t.metrics
	now := m.now()
	status := "success"
	if err != nil {
		status = "failure"
		m.failures.WithLabelValues(t.task).Inc()
	} else {
		m.lastSuccess.WithLabelValues(t.task).Set(float64(now.Unix()))
	}
	if t.retried {
		m.retries.WithLabelValues(t.task).Inc()
	}
	m.runs.WithLabelValues(t.task, status).Inc()
	m.duration.WithLabelValues(t.task).Observe(now.Sub(t.start).Seconds())
	return err
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roleguard_jobs_total",
		Help: "Task executions by task type and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roleguard_jobs_failures_total",
		Help: "Failed task executions by task type.",
	}, []string{"job"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roleguard_jobs_retries_total",
		Help: "Executions that were redeliveries of an earlier failed attempt.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roleguard_job_duration_seconds",
		Help:    "Task execution time in seconds.",
		Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
	}, []string{"job"})
	lastSuccess := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "roleguard_job_last_success_timestamp_seconds",
		Help: "Unix time of the last successful execution per task type.",
	}, []string{"job"})
	registerer.MustRegister(runs, failures, retries, duration, lastSuccess)
	return &Metrics{
		runs:        runs,
		failures:    failures,
		retries:     retries,
		duration:    duration,
		lastSuccess: lastSuccess,
		now:         time.Now,
	}
}
