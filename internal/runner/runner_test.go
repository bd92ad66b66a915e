package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	automationdomain "github.com/permitwise/billingcore/internal/automation/domain"
	billingscheduledomain "github.com/permitwise/billingcore/internal/billingschedule/domain"
	"github.com/permitwise/billingcore/internal/clock"
	invoicingdomain "github.com/permitwise/billingcore/internal/invoicing/domain"
	obsmetrics "github.com/permitwise/billingcore/internal/observability/metrics"
	promisedomain "github.com/permitwise/billingcore/internal/promise/domain"
	"github.com/permitwise/billingcore/internal/runlock"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEvaluator struct {
	fired []automationdomain.FiredRule
	err   error
	calls int
}

func (f *fakeEvaluator) Evaluate(context.Context, snowflake.ID, time.Time) ([]automationdomain.FiredRule, error) {
	f.calls++
	return f.fired, f.err
}

type fakeDispatcher struct {
	dispatched []automationdomain.FiredRule
	failFirst  bool
}

func (f *fakeDispatcher) Dispatch(_ context.Context, fired automationdomain.FiredRule) (*automationdomain.AutomationLog, error) {
	if f.failFirst && len(f.dispatched) == 0 {
		f.dispatched = append(f.dispatched, fired)
		return nil, errors.New("dispatch blew up")
	}
	f.dispatched = append(f.dispatched, fired)
	return &automationdomain.AutomationLog{
		ID:     snowflake.ID(int64(len(f.dispatched))),
		Result: automationdomain.LogResultPendingReview,
	}, nil
}

func (f *fakeDispatcher) Approve(context.Context, snowflake.ID, snowflake.ID, string) (*automationdomain.AutomationLog, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDispatcher) Reject(context.Context, snowflake.ID, snowflake.ID) (*automationdomain.AutomationLog, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDispatcher) MarkSent(context.Context, snowflake.ID, snowflake.ID) (*automationdomain.AutomationLog, error) {
	return nil, errors.New("not implemented")
}

type fakeScheduleService struct {
	results []billingscheduledomain.ProcessedSchedule
	err     error
	calls   int
}

func (f *fakeScheduleService) CreateSchedule(context.Context, billingscheduledomain.CreateScheduleRequest) (*billingscheduledomain.BillingSchedule, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeScheduleService) GetSchedule(context.Context, snowflake.ID, snowflake.ID) (*billingscheduledomain.BillingSchedule, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeScheduleService) ListSchedules(context.Context, snowflake.ID) ([]billingscheduledomain.BillingSchedule, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeScheduleService) DeactivateSchedule(context.Context, snowflake.ID, snowflake.ID) error {
	return errors.New("not implemented")
}

func (f *fakeScheduleService) RunDue(context.Context, time.Time) ([]billingscheduledomain.ProcessedSchedule, error) {
	f.calls++
	return f.results, f.err
}

type fakePromiseService struct {
	result *promisedomain.SweepResult
	err    error
	calls  int
}

func (f *fakePromiseService) RecordPromise(context.Context, promisedomain.RecordPromiseRequest) (*promisedomain.PaymentPromise, error) {
	return nil, errors.New("not implemented")
}

func (f *fakePromiseService) GetPromise(context.Context, snowflake.ID, snowflake.ID) (*promisedomain.PaymentPromise, error) {
	return nil, errors.New("not implemented")
}

func (f *fakePromiseService) ListPromises(context.Context, snowflake.ID, promisedomain.PromiseStatus) ([]promisedomain.PaymentPromise, error) {
	return nil, errors.New("not implemented")
}

func (f *fakePromiseService) Reconcile(context.Context, snowflake.ID, snowflake.ID, time.Time, int64) (*promisedomain.PaymentPromise, error) {
	return nil, errors.New("not implemented")
}

func (f *fakePromiseService) Reschedule(context.Context, snowflake.ID, snowflake.ID, time.Time) (*promisedomain.PaymentPromise, error) {
	return nil, errors.New("not implemented")
}

func (f *fakePromiseService) Sweep(context.Context, snowflake.ID, time.Time) (*promisedomain.SweepResult, error) {
	f.calls++
	return f.result, f.err
}

type testDeps struct {
	evaluator  *fakeEvaluator
	dispatcher *fakeDispatcher
	schedules  *fakeScheduleService
	promises   *fakePromiseService
	locker     *runlock.LocalLocker
}

func newTestRunner(t *testing.T, cfg Config) (*Runner, *testDeps) {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	deps := &testDeps{
		evaluator:  &fakeEvaluator{},
		dispatcher: &fakeDispatcher{},
		schedules:  &fakeScheduleService{},
		promises:   &fakePromiseService{result: &promisedomain.SweepResult{}},
		locker:     runlock.NewLocalLocker(),
	}
	if cfg.OrgID == 0 {
		cfg.OrgID = 100
	}

	runner, err := New(Params{
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clock.NewFakeClock(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)),
		Locker:     deps.locker,
		Evaluator:  deps.evaluator,
		Dispatcher: deps.dispatcher,
		Schedules:  deps.schedules,
		Promises:   deps.promises,
		Config:     cfg,
	})
	require.NoError(t, err)
	return runner, deps
}

func firedRule(ruleID, invoiceID snowflake.ID) automationdomain.FiredRule {
	return automationdomain.FiredRule{
		Rule:        automationdomain.AutomationRule{ID: ruleID},
		Invoice:     invoicingdomain.Invoice{ID: invoiceID},
		DaysOverdue: 35,
		Tone:        "firm",
	}
}

func TestRunOnceExecutesAllJobs(t *testing.T) {
	runner, deps := newTestRunner(t, Config{})
	deps.evaluator.fired = []automationdomain.FiredRule{firedRule(1, 10)}
	deps.schedules.results = []billingscheduledomain.ProcessedSchedule{
		{ScheduleID: 5, Outcome: billingscheduledomain.OutcomeBilled},
	}
	deps.promises.result = &promisedomain.SweepResult{Kept: 2, Broken: 1}

	require.NoError(t, runner.RunOnce(context.Background()))
	require.Equal(t, 1, deps.evaluator.calls)
	require.Equal(t, 1, deps.schedules.calls)
	require.Equal(t, 1, deps.promises.calls)
	require.Len(t, deps.dispatcher.dispatched, 1)
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	runner, deps := newTestRunner(t, Config{EnabledJobs: []string{"evaluate_rules"}})

	require.NoError(t, runner.RunOnce(context.Background()))
	require.Equal(t, 1, deps.evaluator.calls)
	require.Equal(t, 0, deps.schedules.calls)
	require.Equal(t, 0, deps.promises.calls)
}

func TestRunJobSkipsWhenLockHeld(t *testing.T) {
	runner, deps := newTestRunner(t, Config{EnabledJobs: []string{"run_schedules"}})

	_, ok, err := deps.locker.TryLock(context.Background(), "runner:run_schedules", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, runner.RunOnce(context.Background()))
	require.Equal(t, 0, deps.schedules.calls)
}

func TestRunJobReleasesLock(t *testing.T) {
	runner, deps := newTestRunner(t, Config{EnabledJobs: []string{"run_schedules"}})

	require.NoError(t, runner.RunOnce(context.Background()))
	require.Equal(t, 1, deps.schedules.calls)

	// the lock is free again for the next run
	require.NoError(t, runner.RunOnce(context.Background()))
	require.Equal(t, 2, deps.schedules.calls)
}

func TestDispatchFailureDoesNotAbortBatch(t *testing.T) {
	runner, deps := newTestRunner(t, Config{EnabledJobs: []string{"evaluate_rules"}})
	deps.evaluator.fired = []automationdomain.FiredRule{firedRule(1, 10), firedRule(2, 11)}
	deps.dispatcher.failFirst = true

	err := runner.RunOnce(context.Background())
	require.Error(t, err)
	require.Len(t, deps.dispatcher.dispatched, 2)
}

func TestEvaluateErrorSurfaces(t *testing.T) {
	runner, deps := newTestRunner(t, Config{EnabledJobs: []string{"evaluate_rules"}})
	deps.evaluator.err = errors.New("rules table unavailable")

	err := runner.RunOnce(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "rules table unavailable")
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetRunnerMetricsForTest()
	obsmetrics.RunnerWithConfig(obsmetrics.Config{
		ServiceName: "billingcore",
		Environment: "test",
	})

	runner, _ := newTestRunner(t, Config{})
	err := runner.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{
		"service": "billingcore",
		"env":     "test",
		"job":     "timeout_job",
	}
	require.Equal(t, 1.0, getCounterValue(t, registry, "billingcore_runner_job_runs_total", labels))
	require.Equal(t, 1.0, getCounterValue(t, registry, "billingcore_runner_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "billingcore",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.RunnerJobReasonDeadlineExceeded,
	}
	require.Equal(t, 1.0, getCounterValue(t, registry, "billingcore_runner_job_errors_total", errorLabels))
}

func TestRunOnceRecordsUnitMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetRunnerMetricsForTest()
	obsmetrics.RunnerWithConfig(obsmetrics.Config{
		ServiceName: "billingcore",
		Environment: "test",
	})

	runner, deps := newTestRunner(t, Config{EnabledJobs: []string{"evaluate_rules"}})
	deps.evaluator.fired = []automationdomain.FiredRule{firedRule(1, 10), firedRule(2, 11)}
	deps.dispatcher.failFirst = true

	require.Error(t, runner.RunOnce(context.Background()))

	jobLabels := map[string]string{
		"service": "billingcore",
		"env":     "test",
		"job":     "evaluate_rules",
	}
	require.Equal(t, 1.0, getCounterValue(t, registry, "billingcore_runner_job_runs_total", jobLabels))
	require.Equal(t, 1.0, getCounterValue(t, registry, "billingcore_runner_unit_failures_total", jobLabels))

	processedLabels := map[string]string{
		"service":  "billingcore",
		"env":      "test",
		"job":      "evaluate_rules",
		"resource": "fired_rules",
	}
	require.Equal(t, 1.0, getCounterValue(t, registry, "billingcore_runner_units_processed_total", processedLabels))
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetRunnerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
