package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	automationdomain "github.com/permitwise/billingcore/internal/automation/domain"
	"github.com/permitwise/billingcore/internal/config"
	invoicingdomain "github.com/permitwise/billingcore/internal/invoicing/domain"
	"github.com/permitwise/billingcore/internal/providers/riskscore"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const riskScoreTimeout = 5 * time.Second

type EvaluatorParams struct {
	fx.In

	Repo        automationdomain.Repository
	Invoices    invoicingdomain.Repository
	Risk        riskscore.Provider
	Collections *config.CollectionsConfigHolder
	Log         *zap.Logger
}

// Evaluator walks enabled rules against the overdue invoice snapshot and
// returns the fires in dispatch order. It performs no writes.
type Evaluator struct {
	repo        automationdomain.Repository
	invoices    invoicingdomain.Repository
	risk        riskscore.Provider
	collections *config.CollectionsConfigHolder
	log         *zap.Logger
}

func NewEvaluator(p EvaluatorParams) automationdomain.Evaluator {
	return &Evaluator{
		repo:        p.Repo,
		invoices:    p.Invoices,
		risk:        p.Risk,
		collections: p.Collections,
		log:         p.Log.Named("automation.evaluator"),
	}
}

func (s *Evaluator) Evaluate(ctx context.Context, orgID snowflake.ID, now time.Time) ([]automationdomain.FiredRule, error) {
	if orgID == 0 {
		return nil, automationdomain.ErrInvalidOrganization
	}

	rules, err := s.repo.FindEnabledRules(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, nil
	}

	invoices, err := s.invoices.FindOverdueInvoices(ctx, orgID, minTriggerValue(rules), now)
	if err != nil {
		return nil, fmt.Errorf("load overdue invoices: %w", err)
	}
	if len(invoices) == 0 {
		return nil, nil
	}

	snap := &evalSnapshot{
		analytics: make(map[snowflake.ID]*invoicingdomain.ClientPaymentAnalytics),
		scores:    make(map[snowflake.ID]*float64),
	}
	policy := s.collections.Get()

	var fired []automationdomain.FiredRule
	var unitErrs []error
	for _, rule := range rules {
		if rule.TriggerType != automationdomain.TriggerTypeDaysOverdue {
			s.log.Warn("automation.rule.unsupported_trigger",
				zap.String("rule_id", rule.ID.String()),
				zap.String("trigger_type", string(rule.TriggerType)),
			)
			continue
		}

		for _, invoice := range invoices {
			fire, err := s.evaluatePair(ctx, rule, invoice, now, policy, snap)
			if err != nil {
				unitErrs = append(unitErrs, fmt.Errorf("rule %s invoice %s: %w", rule.ID, invoice.ID, err))
				continue
			}
			if fire != nil {
				fired = append(fired, *fire)
			}
		}
	}
	return fired, errors.Join(unitErrs...)
}

// evaluatePair decides one (rule, invoice) unit. A nil FiredRule with nil
// error means the pair did not qualify.
func (s *Evaluator) evaluatePair(
	ctx context.Context,
	rule automationdomain.AutomationRule,
	invoice invoicingdomain.Invoice,
	now time.Time,
	policy config.CollectionsConfig,
	snap *evalSnapshot,
) (*automationdomain.FiredRule, error) {
	daysOverdue := invoice.DaysOverdue(now)
	if daysOverdue < rule.TriggerValue {
		return nil, nil
	}

	analytics, err := s.clientAnalytics(ctx, invoice.OrgID, invoice.ClientID, snap)
	if err != nil {
		return nil, err
	}

	conditions := rule.Conditions.Data()
	var risk *float64
	if conditions.NeedsRiskScore() {
		risk = s.riskScore(ctx, invoice, daysOverdue, analytics, snap)
		if risk == nil {
			// scoring unavailable: skip only rules that condition on risk
			return nil, nil
		}
	}
	if !conditionsMatch(conditions, invoice, daysOverdue, analytics, risk) {
		return nil, nil
	}

	if rule.CooldownHours > 0 {
		since := now.Add(-time.Duration(rule.CooldownHours) * time.Hour)
		recent, err := s.repo.FindRecentLogs(ctx, rule.ID, invoice.ID, since)
		if err != nil {
			return nil, err
		}
		if len(recent) > 0 {
			return nil, nil
		}
	}
	if rule.MaxExecutions != nil {
		count, err := s.repo.CountFires(ctx, rule.ID, invoice.ID)
		if err != nil {
			return nil, err
		}
		if count >= int64(*rule.MaxExecutions) {
			return nil, nil
		}
	}

	tone := policy.ToneForDaysOverdue(daysOverdue)
	if override := rule.ActionConfig.Data().Tone; override != "" {
		tone = override
	}

	return &automationdomain.FiredRule{
		Rule:        rule,
		Invoice:     invoice,
		Analytics:   analytics,
		DaysOverdue: daysOverdue,
		Tone:        tone,
		RiskScore:   risk,
	}, nil
}

type evalSnapshot struct {
	analytics  map[snowflake.ID]*invoicingdomain.ClientPaymentAnalytics
	scores     map[snowflake.ID]*float64
	riskFailed bool
}

func (s *Evaluator) clientAnalytics(ctx context.Context, orgID, clientID snowflake.ID, snap *evalSnapshot) (*invoicingdomain.ClientPaymentAnalytics, error) {
	if cached, ok := snap.analytics[clientID]; ok {
		return cached, nil
	}
	analytics, err := s.invoices.FindClientAnalytics(ctx, orgID, clientID)
	if err != nil {
		return nil, err
	}
	snap.analytics[clientID] = analytics
	return analytics, nil
}

// riskScore returns the cached or freshly fetched score for the invoice, or
// nil when the provider is unavailable this run. Scores are cached per
// invoice: the input carries invoice facts (amount due, days overdue), so two
// invoices of the same client score differently.
func (s *Evaluator) riskScore(ctx context.Context, invoice invoicingdomain.Invoice, daysOverdue int, analytics *invoicingdomain.ClientPaymentAnalytics, snap *evalSnapshot) *float64 {
	if snap.riskFailed {
		return nil
	}
	if cached, ok := snap.scores[invoice.ID]; ok {
		return cached
	}

	in := riskscore.Input{
		AmountDueCents: invoice.TotalDue,
		DaysOverdue:    daysOverdue,
	}
	if analytics != nil {
		in.AvgDaysToPay = analytics.AvgDaysToPay
		in.OnTimeRate = analytics.OnTimeRate
		in.OutstandingBalance = analytics.OutstandingBalance
		in.LatePayments = analytics.LatePayments
	}

	callCtx, cancel := context.WithTimeout(ctx, riskScoreTimeout)
	defer cancel()
	score, err := s.risk.ScoreInvoice(callCtx, in)
	if err != nil {
		s.log.Warn("automation.riskscore_unavailable", zap.Error(err))
		snap.riskFailed = true
		return nil
	}

	value := score.RiskScore
	snap.scores[invoice.ID] = &value
	return &value
}

func conditionsMatch(
	cond automationdomain.RuleConditions,
	invoice invoicingdomain.Invoice,
	daysOverdue int,
	analytics *invoicingdomain.ClientPaymentAnalytics,
	risk *float64,
) bool {
	if cond.MinAmountDue != nil && invoice.TotalDue < *cond.MinAmountDue {
		return false
	}
	if cond.MaxAmountDue != nil && invoice.TotalDue > *cond.MaxAmountDue {
		return false
	}
	if cond.MinDaysOverdue != nil && daysOverdue < *cond.MinDaysOverdue {
		return false
	}
	if cond.MinRiskScore != nil {
		if risk == nil || *risk < *cond.MinRiskScore {
			return false
		}
	}
	if cond.MaxOnTimeRate != nil {
		if analytics == nil || analytics.OnTimeRate > *cond.MaxOnTimeRate {
			return false
		}
	}
	if cond.MinOutstandingBalance != nil {
		if analytics == nil || analytics.OutstandingBalance < *cond.MinOutstandingBalance {
			return false
		}
	}
	return true
}

func minTriggerValue(rules []automationdomain.AutomationRule) int {
	min := -1
	for _, rule := range rules {
		if rule.TriggerType != automationdomain.TriggerTypeDaysOverdue {
			continue
		}
		if min < 0 || rule.TriggerValue < min {
			min = rule.TriggerValue
		}
	}
	if min < 0 {
		return 0
	}
	return min
}
