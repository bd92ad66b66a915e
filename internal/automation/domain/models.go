// Package domain defines collection automation rules and their immutable
// audit log. Rules watch overdue invoices and fire graduated collection
// actions; nothing client-facing leaves the system without a recorded human
// approval.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// RuleType categorizes the concern a rule watches.
type RuleType string

const (
	RuleTypeOverdueInvoice RuleType = "overdue_invoice"
)

// TriggerType selects the candidate set a rule evaluates against.
type TriggerType string

const (
	TriggerTypeDaysOverdue TriggerType = "days_overdue"
)

// ActionType names the collection action a fired rule performs.
type ActionType string

const (
	ActionTypeGenerateMessage ActionType = "generate_message"
	ActionTypeEscalate        ActionType = "escalate"
	ActionTypeApplyFee        ActionType = "apply_fee"
	ActionTypeCreateTask      ActionType = "create_task"
)

// LogResult is the review state of an automation log entry. pending_review,
// approved and sent form the approval pipeline; skipped is terminal.
type LogResult string

const (
	LogResultPendingReview LogResult = "pending_review"
	LogResultApproved      LogResult = "approved"
	LogResultSent          LogResult = "sent"
	LogResultSkipped       LogResult = "skipped"
)

// ActionConfig carries the action-specific parameters, one closed variant per
// ActionType. Unused fields stay zero for other action types.
type ActionConfig struct {
	// generate_message
	Tone string `json:"tone,omitempty"` // overrides the days-overdue derived tone

	// escalate
	EscalateTo string `json:"escalate_to,omitempty"`

	// apply_fee: exactly one of the two must be set
	FeeCents       int64 `json:"fee_cents,omitempty"`
	FeeBasisPoints int64 `json:"fee_basis_points,omitempty"` // of the invoice amount due

	// create_task
	TaskTitle   string `json:"task_title,omitempty"`
	TaskDueDays int    `json:"task_due_days,omitempty"`
}

// RuleConditions is a closed set of range predicates over invoice and
// client-analytics fields. Nil pointers mean "no constraint".
type RuleConditions struct {
	MinAmountDue          *int64   `json:"min_amount_due,omitempty"`
	MaxAmountDue          *int64   `json:"max_amount_due,omitempty"`
	MinDaysOverdue        *int     `json:"min_days_overdue,omitempty"`
	MinRiskScore          *float64 `json:"min_risk_score,omitempty"`
	MaxOnTimeRate         *float64 `json:"max_on_time_rate,omitempty"`
	MinOutstandingBalance *int64   `json:"min_outstanding_balance,omitempty"`
}

// NeedsRiskScore reports whether evaluating the conditions requires a risk
// scoring call.
func (c RuleConditions) NeedsRiskScore() bool {
	return c.MinRiskScore != nil
}

// AutomationRule is an operator-defined collection rule. Lower priority fires
// first; ties break by creation time.
type AutomationRule struct {
	ID            snowflake.ID                       `gorm:"primaryKey"`
	OrgID         snowflake.ID                       `gorm:"not null;index"`
	Name          string                             `gorm:"type:text;not null"`
	RuleType      RuleType                           `gorm:"type:text;not null"`
	TriggerType   TriggerType                        `gorm:"type:text;not null"`
	TriggerValue  int                                `gorm:"not null"`
	ActionType    ActionType                         `gorm:"type:text;not null"`
	ActionConfig  datatypes.JSONType[ActionConfig]   `gorm:"type:jsonb"`
	Conditions    datatypes.JSONType[RuleConditions] `gorm:"type:jsonb"`
	IsEnabled     bool                               `gorm:"not null;default:true"`
	Priority      int                                `gorm:"not null;default:100"`
	MaxExecutions *int                               `gorm:""`
	CooldownHours int                                `gorm:"not null;default:0"`
	CreatedAt     time.Time                          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time                          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AutomationRule) TableName() string { return "automation_rules" }

// AutomationLog is the append-only audit record of one rule firing against one
// invoice. Rows are created exactly once; only the review fields change.
type AutomationLog struct {
	ID               snowflake.ID      `gorm:"primaryKey"`
	OrgID            snowflake.ID      `gorm:"not null;index"`
	RuleID           snowflake.ID      `gorm:"not null;index:idx_automation_logs_rule_invoice,priority:1"`
	InvoiceID        snowflake.ID      `gorm:"not null;index:idx_automation_logs_rule_invoice,priority:2"`
	ClientID         snowflake.ID      `gorm:"not null;index"`
	ActionTaken      ActionType        `gorm:"type:text;not null"`
	Result           LogResult         `gorm:"type:text;not null;index"`
	GeneratedSubject string            `gorm:"type:text"`
	GeneratedBody    string            `gorm:"type:text"`
	EscalatedTo      string            `gorm:"type:text"`
	ApprovedBy       string            `gorm:"type:text"`
	ApprovedAt       *time.Time        `gorm:""`
	Metadata         datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
}

// TableName sets the database table name.
func (AutomationLog) TableName() string { return "automation_logs" }
