package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	automationdomain "github.com/permitwise/billingcore/internal/automation/domain"
	"github.com/permitwise/billingcore/internal/clock"
	"github.com/permitwise/billingcore/internal/config"
	invoicingdomain "github.com/permitwise/billingcore/internal/invoicing/domain"
	"github.com/permitwise/billingcore/internal/providers/textgen"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const textgenTimeout = 15 * time.Second

type DispatcherParams struct {
	fx.In

	Repo        automationdomain.Repository
	Invoices    invoicingdomain.Repository
	Textgen     textgen.Provider
	Collections *config.CollectionsConfigHolder
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
}

// Dispatcher executes fired rules. Every dispatch appends exactly one
// AutomationLog; client-facing sends happen only after Approve.
type Dispatcher struct {
	repo        automationdomain.Repository
	invoices    invoicingdomain.Repository
	textgen     textgen.Provider
	collections *config.CollectionsConfigHolder
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
}

func NewDispatcher(p DispatcherParams) automationdomain.Dispatcher {
	return &Dispatcher{
		repo:        p.Repo,
		invoices:    p.Invoices,
		textgen:     p.Textgen,
		collections: p.Collections,
		log:         p.Log.Named("automation.dispatcher"),
		genID:       p.GenID,
		clock:       p.Clock,
	}
}

func (s *Dispatcher) Dispatch(ctx context.Context, fired automationdomain.FiredRule) (*automationdomain.AutomationLog, error) {
	now := s.clock.Now()
	entry := &automationdomain.AutomationLog{
		ID:          s.genID.Generate(),
		OrgID:       fired.Rule.OrgID,
		RuleID:      fired.Rule.ID,
		InvoiceID:   fired.Invoice.ID,
		ClientID:    fired.Invoice.ClientID,
		ActionTaken: fired.Rule.ActionType,
		Result:      automationdomain.LogResultPendingReview,
		Metadata:    datatypes.JSONMap{},
		CreatedAt:   now,
	}
	entry.Metadata["days_overdue"] = fired.DaysOverdue
	entry.Metadata["tone"] = fired.Tone
	if fired.RiskScore != nil {
		entry.Metadata["risk_score"] = *fired.RiskScore
	}

	actionCfg := fired.Rule.ActionConfig.Data()
	switch fired.Rule.ActionType {
	case automationdomain.ActionTypeGenerateMessage:
		s.generateMessage(ctx, fired, entry)
	case automationdomain.ActionTypeEscalate:
		if actionCfg.EscalateTo == "" {
			s.markSkipped(entry, "escalate action requires escalate_to")
		} else {
			entry.EscalatedTo = actionCfg.EscalateTo
		}
	case automationdomain.ActionTypeApplyFee:
		fee, err := computeFee(actionCfg, fired.Invoice.TotalDue, s.collections.Get().MaxFeeCents)
		if err != nil {
			s.markSkipped(entry, err.Error())
		} else {
			entry.Metadata["fee_cents"] = fee
		}
	case automationdomain.ActionTypeCreateTask:
		if actionCfg.TaskTitle == "" {
			s.markSkipped(entry, "create_task action requires task_title")
		} else {
			entry.Metadata["task_title"] = actionCfg.TaskTitle
			entry.Metadata["task_due_date"] = now.AddDate(0, 0, actionCfg.TaskDueDays).Format("2006-01-02")
		}
	default:
		s.markSkipped(entry, fmt.Sprintf("unknown action type %q", fired.Rule.ActionType))
	}

	if err := s.repo.SaveAutomationLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("save automation log: %w", err)
	}

	s.log.Info("automation.dispatched",
		zap.String("rule_id", fired.Rule.ID.String()),
		zap.String("invoice_id", fired.Invoice.ID.String()),
		zap.String("action", string(fired.Rule.ActionType)),
		zap.String("result", string(entry.Result)),
	)
	return entry, nil
}

// generateMessage drafts the collection email. Provider failure falls back to
// the deterministic template; the draft still requires review either way.
func (s *Dispatcher) generateMessage(ctx context.Context, fired automationdomain.FiredRule, entry *automationdomain.AutomationLog) {
	clientName := "Client"
	if client, err := s.invoices.GetClient(ctx, fired.Invoice.OrgID, fired.Invoice.ClientID); err == nil {
		clientName = client.CompanyName
	}

	req := textgen.Request{
		ClientName:     clientName,
		InvoiceNumber:  fired.Invoice.InvoiceNumber,
		AmountDueCents: fired.Invoice.TotalDue,
		DueDate:        fired.Invoice.DueAt,
		DaysOverdue:    fired.DaysOverdue,
		Tone:           fired.Tone,
		PaymentHistory: summarizeHistory(fired.Analytics),
	}

	callCtx, cancel := context.WithTimeout(ctx, textgenTimeout)
	defer cancel()
	msg, err := s.textgen.GenerateCollectionMessage(callCtx, req)
	if err != nil {
		s.log.Warn("automation.textgen_fallback",
			zap.String("invoice_id", fired.Invoice.ID.String()),
			zap.Error(err),
		)
		entry.Metadata["textgen_error"] = err.Error()
		fallback := textgen.RenderTemplate(req)
		msg = &fallback
	}
	entry.GeneratedSubject = msg.Subject
	entry.GeneratedBody = msg.Body
}

func (s *Dispatcher) markSkipped(entry *automationdomain.AutomationLog, note string) {
	entry.Result = automationdomain.LogResultSkipped
	entry.Metadata["error"] = note
}

func computeFee(cfg automationdomain.ActionConfig, amountDue, maxFeeCents int64) (int64, error) {
	if (cfg.FeeCents > 0) == (cfg.FeeBasisPoints > 0) {
		return 0, fmt.Errorf("apply_fee requires exactly one of fee_cents or fee_basis_points: %w", automationdomain.ErrInvalidRuleConfig)
	}
	fee := cfg.FeeCents
	if cfg.FeeBasisPoints > 0 {
		fee = amountDue * cfg.FeeBasisPoints / 10_000
	}
	if maxFeeCents > 0 && fee > maxFeeCents {
		fee = maxFeeCents
	}
	return fee, nil
}

func summarizeHistory(analytics *invoicingdomain.ClientPaymentAnalytics) string {
	if analytics == nil {
		return ""
	}
	return fmt.Sprintf("pays in %.0f days on average, %.0f%% on time, %d late payments",
		analytics.AvgDaysToPay, analytics.OnTimeRate*100, analytics.LatePayments)
}

func (s *Dispatcher) Approve(ctx context.Context, orgID, logID snowflake.ID, approverID string) (*automationdomain.AutomationLog, error) {
	return s.transition(ctx, orgID, logID, automationdomain.LogResultPendingReview, func(entry *automationdomain.AutomationLog) {
		now := s.clock.Now()
		entry.Result = automationdomain.LogResultApproved
		entry.ApprovedBy = approverID
		entry.ApprovedAt = &now
	})
}

func (s *Dispatcher) Reject(ctx context.Context, orgID, logID snowflake.ID) (*automationdomain.AutomationLog, error) {
	return s.transition(ctx, orgID, logID, automationdomain.LogResultPendingReview, func(entry *automationdomain.AutomationLog) {
		entry.Result = automationdomain.LogResultSkipped
	})
}

func (s *Dispatcher) MarkSent(ctx context.Context, orgID, logID snowflake.ID) (*automationdomain.AutomationLog, error) {
	return s.transition(ctx, orgID, logID, automationdomain.LogResultApproved, func(entry *automationdomain.AutomationLog) {
		entry.Result = automationdomain.LogResultSent
	})
}

func (s *Dispatcher) transition(ctx context.Context, orgID, logID snowflake.ID, from automationdomain.LogResult, apply func(*automationdomain.AutomationLog)) (*automationdomain.AutomationLog, error) {
	entry, err := s.repo.GetLog(ctx, orgID, logID)
	if err != nil {
		return nil, err
	}
	if entry.Result != from {
		return nil, fmt.Errorf("log %s is %s: %w", logID, entry.Result, automationdomain.ErrInvalidTransition)
	}
	apply(entry)
	if err := s.repo.UpdateLogReview(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
