// Package runner drives the recurring batch work: rule evaluation, due
// schedule billing and promise reconciliation. Every job runs under a
// run-lock so overlapping invocations across instances never double-process.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	automationdomain "github.com/permitwise/billingcore/internal/automation/domain"
	billingscheduledomain "github.com/permitwise/billingcore/internal/billingschedule/domain"
	"github.com/permitwise/billingcore/internal/clock"
	obsmetrics "github.com/permitwise/billingcore/internal/observability/metrics"
	"github.com/permitwise/billingcore/internal/orgcontext"
	promisedomain "github.com/permitwise/billingcore/internal/promise/domain"
	"github.com/permitwise/billingcore/internal/runlock"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("runner: missing dependency")

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Locker     runlock.Locker
	Evaluator  automationdomain.Evaluator
	Dispatcher automationdomain.Dispatcher
	Schedules  billingscheduledomain.Service
	Promises   promisedomain.Service
	Config     Config `optional:"true"`
}

type Runner struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	locker     runlock.Locker
	evaluator  automationdomain.Evaluator
	dispatcher automationdomain.Dispatcher
	schedules  billingscheduledomain.Service
	promises   promisedomain.Service
}

func New(p Params) (*Runner, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Locker == nil ||
		p.Evaluator == nil || p.Dispatcher == nil || p.Schedules == nil || p.Promises == nil {
		return nil, ErrInvalidConfig
	}
	return &Runner{
		log:        p.Log.Named("runner").With(zap.String("component", "runner")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		locker:     p.Locker,
		evaluator:  p.Evaluator,
		dispatcher: p.Dispatcher,
		schedules:  p.Schedules,
		promises:   p.Promises,
	}, nil
}

func (r *Runner) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := r.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	metrics := obsmetrics.Runner()

	lockKey := "runner:" + name
	token, ok, err := r.locker.TryLock(ctx, lockKey, r.cfg.LockTTL)
	if err != nil {
		metrics.IncJobError(name, err)
		return fmt.Errorf("%s: acquire run lock: %w", name, err)
	}
	if !ok {
		// another instance is already running this job
		metrics.IncLockContended(name)
		r.log.Debug("runner.job.lock_held", zap.String("job", name))
		return nil
	}
	defer func() {
		if releaseErr := r.locker.Release(context.WithoutCancel(ctx), lockKey, token); releaseErr != nil {
			r.log.Warn("runner.lock.release_failed",
				zap.String("job", name),
				zap.Error(releaseErr),
			)
		}
	}()

	ctx = orgcontext.WithOrgID(ctx, int64(r.cfg.OrgID))
	ctx, run, owner := r.ensureJobRun(ctx, name)
	if owner {
		r.logJobStart(run)
	}
	metrics.IncJobRun(name)

	err = fn(ctx)
	metrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		r.logJobFinish(run)
	}
	if err == nil {
		return nil
	}

	// a deadline past is a soft timeout, not a run failure
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		metrics.IncJobTimeout(name)
	}
	metrics.IncJobError(name, err)
	if isTimeout {
		r.log.Warn("runner.job.timeout",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (r *Runner) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"run_schedules", r.isJobEnabled("run_schedules"), func(ctx context.Context) error {
			return r.runJob(ctx, "run_schedules", r.cfg.JobTimeout, r.RunSchedulesJob)
		}},
		{"evaluate_rules", r.isJobEnabled("evaluate_rules"), func(ctx context.Context) error {
			return r.runJob(ctx, "evaluate_rules", r.cfg.JobTimeout, r.EvaluateRulesJob)
		}},
		{"reconcile_promises", r.isJobEnabled("reconcile_promises"), func(ctx context.Context) error {
			return r.runJob(ctx, "reconcile_promises", r.cfg.JobTimeout, r.ReconcilePromisesJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (r *Runner) RunForever(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := r.clock.Now().Add(r.cfg.RunInterval)
	metrics := obsmetrics.Runner()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			metrics.ObserveRunLoopLag(runLag)
		}
		if err := r.RunOnce(ctx); err != nil {
			r.log.Warn("runner.run_failed", zap.Error(err))
		}
		nextRun = nextRun.Add(r.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Runner) isJobEnabled(jobName string) bool {
	// an empty list enables every job (single-process mode)
	if len(r.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range r.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
