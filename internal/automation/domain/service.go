package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicingdomain "github.com/permitwise/billingcore/internal/invoicing/domain"
)

var (
	ErrInvalidOrganization = errors.New("invalid organization")
	ErrInvalidRuleConfig   = errors.New("invalid rule configuration")
	ErrRuleNotFound        = errors.New("automation rule not found")
	ErrLogNotFound         = errors.New("automation log not found")
	ErrInvalidTransition   = errors.New("invalid log result transition")
)

// FiredRule pairs a rule with one invoice it fired against, plus the
// parameters the dispatcher needs. Produced by Evaluate in dispatch order.
type FiredRule struct {
	Rule        AutomationRule
	Invoice     invoicingdomain.Invoice
	Analytics   *invoicingdomain.ClientPaymentAnalytics
	DaysOverdue int
	Tone        string
	RiskScore   *float64
}

// CreateRuleRequest describes an operator-created rule.
type CreateRuleRequest struct {
	OrgID         snowflake.ID
	Name          string
	RuleType      RuleType
	TriggerType   TriggerType
	TriggerValue  int
	ActionType    ActionType
	ActionConfig  ActionConfig
	Conditions    RuleConditions
	Priority      int
	MaxExecutions *int
	CooldownHours int
}

// Evaluator decides which rules fire. It is a pure decision function over a
// loaded snapshot: no writes, safe to re-invoke.
type Evaluator interface {
	Evaluate(ctx context.Context, orgID snowflake.ID, now time.Time) ([]FiredRule, error)
}

// Dispatcher executes fired rules and manages the approval pipeline on the
// resulting logs.
type Dispatcher interface {
	Dispatch(ctx context.Context, fired FiredRule) (*AutomationLog, error)
	Approve(ctx context.Context, orgID, logID snowflake.ID, approverID string) (*AutomationLog, error)
	Reject(ctx context.Context, orgID, logID snowflake.ID) (*AutomationLog, error)
	MarkSent(ctx context.Context, orgID, logID snowflake.ID) (*AutomationLog, error)
}

// RuleAdmin is the operator surface for managing rules and reviewing logs.
type RuleAdmin interface {
	CreateRule(ctx context.Context, req CreateRuleRequest) (*AutomationRule, error)
	ListRules(ctx context.Context, orgID snowflake.ID) ([]AutomationRule, error)
	SetRuleEnabled(ctx context.Context, orgID, ruleID snowflake.ID, enabled bool) error
	ListPendingLogs(ctx context.Context, orgID snowflake.ID) ([]AutomationLog, error)
}
