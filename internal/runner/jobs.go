package runner

import (
	"context"
	"errors"

	billingscheduledomain "github.com/permitwise/billingcore/internal/billingschedule/domain"
	obsmetrics "github.com/permitwise/billingcore/internal/observability/metrics"
	"go.uber.org/zap"
)

// EvaluateRulesJob runs the collection rule evaluator over every overdue
// invoice and dispatches each fired rule. Evaluation is read-only; a dispatch
// failure on one fired rule never blocks the rest.
func (r *Runner) EvaluateRulesJob(ctx context.Context) error {
	ctx, run, owner := r.ensureJobRun(ctx, "evaluate_rules")
	if owner {
		r.logJobStart(run)
		defer r.logJobFinish(run)
	}
	orgID := r.cfg.OrgID
	if orgID == 0 {
		r.log.Debug("runner.no_default_org", zap.String("job", "evaluate_rules"))
		return nil
	}

	now := r.clock.Now()
	fired, err := r.evaluator.Evaluate(ctx, orgID, now)
	if err != nil {
		r.logRunnerError(run, "runner.evaluate.failed", "evaluate_rules", orgID, err)
		if len(fired) == 0 {
			return err
		}
	}

	metrics := obsmetrics.Runner()
	var jobErr error
	if err != nil {
		jobErr = err
	}
	for _, hit := range fired {
		if ctx.Err() != nil {
			jobErr = errors.Join(jobErr, ctx.Err())
			break
		}
		entry, dispatchErr := r.dispatcher.Dispatch(ctx, hit)
		if dispatchErr != nil {
			jobErr = errors.Join(jobErr, dispatchErr)
			metrics.IncUnitFailure("evaluate_rules")
			r.logRunnerError(run, "runner.dispatch.failed", "evaluate_rules", orgID, dispatchErr,
				zap.String("rule_id", hit.Rule.ID.String()),
				zap.String("invoice_id", hit.Invoice.ID.String()),
			)
			continue
		}
		run.AddProcessed(1)
		r.log.Debug("runner.rule.dispatched",
			zap.String("rule_id", hit.Rule.ID.String()),
			zap.String("invoice_id", hit.Invoice.ID.String()),
			zap.String("log_id", entry.ID.String()),
			zap.String("result", string(entry.Result)),
		)
	}

	metrics.AddUnitsProcessed("evaluate_rules", "fired_rules", run.processedCount)
	return jobErr
}

// RunSchedulesJob bills every schedule whose next_bill_date has arrived.
func (r *Runner) RunSchedulesJob(ctx context.Context) error {
	ctx, run, owner := r.ensureJobRun(ctx, "run_schedules")
	if owner {
		r.logJobStart(run)
		defer r.logJobFinish(run)
	}

	now := r.clock.Now()
	results, err := r.schedules.RunDue(ctx, now)
	if err != nil {
		r.logRunnerError(run, "runner.schedules.failed", "run_schedules", r.cfg.OrgID, err)
	}

	metrics := obsmetrics.Runner()
	billed := 0
	for _, result := range results {
		switch result.Outcome {
		case billingscheduledomain.OutcomeBilled, billingscheduledomain.OutcomeDeactivated:
			run.AddProcessed(1)
			if result.Outcome == billingscheduledomain.OutcomeBilled {
				billed++
			}
		case billingscheduledomain.OutcomeError:
			metrics.IncUnitFailure("run_schedules")
		}
	}
	metrics.AddUnitsProcessed("run_schedules", "schedules", run.processedCount)

	if billed > 0 {
		r.log.Info("runner.schedules.billed",
			zap.Int("billed", billed),
			zap.Int("processed", run.processedCount),
		)
	}
	return err
}

// ReconcilePromisesJob resolves pending payment promises against recorded
// payments and breaks the ones past their tolerance window.
func (r *Runner) ReconcilePromisesJob(ctx context.Context) error {
	ctx, run, owner := r.ensureJobRun(ctx, "reconcile_promises")
	if owner {
		r.logJobStart(run)
		defer r.logJobFinish(run)
	}
	orgID := r.cfg.OrgID
	if orgID == 0 {
		r.log.Debug("runner.no_default_org", zap.String("job", "reconcile_promises"))
		return nil
	}

	result, err := r.promises.Sweep(ctx, orgID, r.clock.Now())
	if err != nil {
		r.logRunnerError(run, "runner.promises.failed", "reconcile_promises", orgID, err)
	}
	if result != nil {
		run.AddProcessed(result.Kept + result.Broken)
		obsmetrics.Runner().AddUnitsProcessed("reconcile_promises", "promises", result.Kept+result.Broken)
	}
	return err
}
