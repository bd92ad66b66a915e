package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	automationdomain "github.com/permitwise/billingcore/internal/automation/domain"
	"github.com/permitwise/billingcore/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type RuleAdminParams struct {
	fx.In

	Repo  automationdomain.Repository
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

// RuleAdmin is the operator surface for rule management and log review.
type RuleAdmin struct {
	repo  automationdomain.Repository
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewRuleAdmin(p RuleAdminParams) automationdomain.RuleAdmin {
	return &RuleAdmin{
		repo:  p.Repo,
		log:   p.Log.Named("automation.rules"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *RuleAdmin) CreateRule(ctx context.Context, req automationdomain.CreateRuleRequest) (*automationdomain.AutomationRule, error) {
	if req.OrgID == 0 {
		return nil, automationdomain.ErrInvalidOrganization
	}
	if err := validateRule(req); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	rule := &automationdomain.AutomationRule{
		ID:            s.genID.Generate(),
		OrgID:         req.OrgID,
		Name:          strings.TrimSpace(req.Name),
		RuleType:      req.RuleType,
		TriggerType:   req.TriggerType,
		TriggerValue:  req.TriggerValue,
		ActionType:    req.ActionType,
		ActionConfig:  datatypes.NewJSONType(req.ActionConfig),
		Conditions:    datatypes.NewJSONType(req.Conditions),
		IsEnabled:     true,
		Priority:      req.Priority,
		MaxExecutions: req.MaxExecutions,
		CooldownHours: req.CooldownHours,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateRule(ctx, rule); err != nil {
		return nil, err
	}

	s.log.Info("automation.rule.created",
		zap.String("rule_id", rule.ID.String()),
		zap.String("name", rule.Name),
		zap.String("action", string(rule.ActionType)),
	)
	return rule, nil
}

func validateRule(req automationdomain.CreateRuleRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("rule name is required: %w", automationdomain.ErrInvalidRuleConfig)
	}
	if req.RuleType != automationdomain.RuleTypeOverdueInvoice {
		return fmt.Errorf("unknown rule type %q: %w", req.RuleType, automationdomain.ErrInvalidRuleConfig)
	}
	if req.TriggerType != automationdomain.TriggerTypeDaysOverdue {
		return fmt.Errorf("unknown trigger type %q: %w", req.TriggerType, automationdomain.ErrInvalidRuleConfig)
	}
	if req.TriggerValue < 0 {
		return fmt.Errorf("trigger value must be >= 0: %w", automationdomain.ErrInvalidRuleConfig)
	}
	if req.CooldownHours < 0 {
		return fmt.Errorf("cooldown hours must be >= 0: %w", automationdomain.ErrInvalidRuleConfig)
	}
	if req.MaxExecutions != nil && *req.MaxExecutions < 1 {
		return fmt.Errorf("max executions must be >= 1: %w", automationdomain.ErrInvalidRuleConfig)
	}

	switch req.ActionType {
	case automationdomain.ActionTypeGenerateMessage:
	case automationdomain.ActionTypeEscalate:
		if strings.TrimSpace(req.ActionConfig.EscalateTo) == "" {
			return fmt.Errorf("escalate action requires escalate_to: %w", automationdomain.ErrInvalidRuleConfig)
		}
	case automationdomain.ActionTypeApplyFee:
		if (req.ActionConfig.FeeCents > 0) == (req.ActionConfig.FeeBasisPoints > 0) {
			return fmt.Errorf("apply_fee requires exactly one of fee_cents or fee_basis_points: %w", automationdomain.ErrInvalidRuleConfig)
		}
	case automationdomain.ActionTypeCreateTask:
		if strings.TrimSpace(req.ActionConfig.TaskTitle) == "" {
			return fmt.Errorf("create_task action requires task_title: %w", automationdomain.ErrInvalidRuleConfig)
		}
	default:
		return fmt.Errorf("unknown action type %q: %w", req.ActionType, automationdomain.ErrInvalidRuleConfig)
	}
	return nil
}

func (s *RuleAdmin) ListRules(ctx context.Context, orgID snowflake.ID) ([]automationdomain.AutomationRule, error) {
	if orgID == 0 {
		return nil, automationdomain.ErrInvalidOrganization
	}
	return s.repo.ListRules(ctx, orgID)
}

func (s *RuleAdmin) SetRuleEnabled(ctx context.Context, orgID, ruleID snowflake.ID, enabled bool) error {
	if orgID == 0 {
		return automationdomain.ErrInvalidOrganization
	}
	if err := s.repo.UpdateRuleEnabled(ctx, orgID, ruleID, enabled, s.clock.Now()); err != nil {
		return err
	}
	s.log.Info("automation.rule.toggled",
		zap.String("rule_id", ruleID.String()),
		zap.Bool("enabled", enabled),
	)
	return nil
}

func (s *RuleAdmin) ListPendingLogs(ctx context.Context, orgID snowflake.ID) ([]automationdomain.AutomationLog, error) {
	if orgID == 0 {
		return nil, automationdomain.ErrInvalidOrganization
	}
	return s.repo.ListLogsByResult(ctx, orgID, automationdomain.LogResultPendingReview)
}
