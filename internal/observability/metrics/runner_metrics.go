package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// Config carries the constant labels stamped on every runner metric.
type Config struct {
	ServiceName string
	Environment string
}

const (
	RunnerJobReasonDeadlineExceeded     = "deadline_exceeded"
	RunnerJobReasonLockHeld             = "lock_held"
	RunnerJobReasonSerializationFailure = "serialization_failure"
	RunnerJobReasonUniqueViolation      = "unique_violation"
	RunnerJobReasonExternalService      = "external_service"
	RunnerJobReasonValidation           = "validation"
	RunnerJobReasonNotFound             = "not_found"
	RunnerJobReasonUnknown              = "unknown"
)

// RunnerMetrics captures batch runner health signals.
type RunnerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	unitsProcessed *prometheus.CounterVec
	unitFailures   *prometheus.CounterVec
	lockContended  *prometheus.CounterVec
	runLoopLag     prometheus.Observer
}

var (
	runnerMetricsOnce sync.Once
	runnerMetrics     *RunnerMetrics
)

// Runner returns the singleton runner metrics registry.
func Runner() *RunnerMetrics {
	return RunnerWithConfig(Config{})
}

// RunnerWithConfig returns the singleton runner metrics registry using config labels.
func RunnerWithConfig(cfg Config) *RunnerMetrics {
	runnerMetricsOnce.Do(func() {
		runnerMetrics = newRunnerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return runnerMetrics
}

// ResetRunnerMetricsForTest resets the runner metrics singleton for tests.
func ResetRunnerMetricsForTest() {
	runnerMetricsOnce = sync.Once{}
	runnerMetrics = nil
}

func newRunnerMetrics(registerer prometheus.Registerer, cfg Config) *RunnerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "billingcore"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billingcore_runner_job_runs_total",
		Help:        "Runner job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "billingcore_runner_job_duration_seconds",
		Help:        "Runner job latency to protect billing batch freshness.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billingcore_runner_job_timeouts_total",
		Help:        "Runner job timeouts that threaten collection and billing SLAs.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billingcore_runner_job_errors_total",
		Help:        "Runner job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	unitsProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billingcore_runner_units_processed_total",
		Help:        "Runner units processed to gauge billing throughput.",
		ConstLabels: constLabels,
	}, []string{"job", "resource"})
	unitFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billingcore_runner_unit_failures_total",
		Help:        "Runner units that failed after the unit-level retry.",
		ConstLabels: constLabels,
	}, []string{"job"})
	lockContended := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billingcore_runner_lock_contended_total",
		Help:        "Run-lock acquisitions that found the lock already held.",
		ConstLabels: constLabels,
	}, []string{"job"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "billingcore_runner_runloop_lag_seconds",
		Help:        "Runner loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})

	collectors := []prometheus.Collector{
		jobRuns, jobDuration, jobTimeouts, jobErrors,
		unitsProcessed, unitFailures, lockContended, runLoopLag,
	}
	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				panic(err)
			}
		}
	}

	return &RunnerMetrics{
		jobRuns:        jobRuns,
		jobDuration:    jobDuration,
		jobTimeouts:    jobTimeouts,
		jobErrors:      jobErrors,
		unitsProcessed: unitsProcessed,
		unitFailures:   unitFailures,
		lockContended:  lockContended,
		runLoopLag:     runLoopLag,
	}
}

func (m *RunnerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *RunnerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *RunnerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *RunnerMetrics) IncJobError(job string, err error) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

func (m *RunnerMetrics) AddUnitsProcessed(job, resource string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.unitsProcessed.WithLabelValues(job, resource).Add(float64(count))
}

func (m *RunnerMetrics) IncUnitFailure(job string) {
	if m == nil {
		return
	}
	m.unitFailures.WithLabelValues(job).Inc()
}

func (m *RunnerMetrics) IncLockContended(job string) {
	if m == nil {
		return
	}
	m.lockContended.WithLabelValues(job).Inc()
}

func (m *RunnerMetrics) ObserveRunLoopLag(lag time.Duration) {
	if m == nil {
		return
	}
	m.runLoopLag.Observe(lag.Seconds())
}

// ClassifyJobReason maps an error to a low-cardinality label value.
func ClassifyJobReason(err error) string {
	if err == nil {
		return RunnerJobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return RunnerJobReasonDeadlineExceeded
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RunnerJobReasonNotFound
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "could not serialize access") || strings.Contains(msg, "deadlock detected"):
		return RunnerJobReasonSerializationFailure
	case strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed"):
		return RunnerJobReasonUniqueViolation
	default:
		return RunnerJobReasonUnknown
	}
}
