package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Repository persists rules and logs.
type Repository interface {
	CreateRule(ctx context.Context, rule *AutomationRule) error
	GetRule(ctx context.Context, orgID, ruleID snowflake.ID) (*AutomationRule, error)
	ListRules(ctx context.Context, orgID snowflake.ID) ([]AutomationRule, error)
	// FindEnabledRules returns enabled rules ordered by priority ascending,
	// then created_at ascending.
	FindEnabledRules(ctx context.Context, orgID snowflake.ID) ([]AutomationRule, error)
	UpdateRuleEnabled(ctx context.Context, orgID, ruleID snowflake.ID, enabled bool, now time.Time) error

	SaveAutomationLog(ctx context.Context, log *AutomationLog) error
	GetLog(ctx context.Context, orgID, logID snowflake.ID) (*AutomationLog, error)
	// FindRecentLogs returns logs for the (rule, invoice) pair created at or
	// after since, newest first. Skipped logs are excluded: they represent
	// fires that never happened and count toward neither cooldown nor caps.
	FindRecentLogs(ctx context.Context, ruleID, invoiceID snowflake.ID, since time.Time) ([]AutomationLog, error)
	// CountFires counts all non-skipped logs for the (rule, invoice) pair.
	CountFires(ctx context.Context, ruleID, invoiceID snowflake.ID) (int64, error)
	ListLogsByResult(ctx context.Context, orgID snowflake.ID, result LogResult) ([]AutomationLog, error)
	UpdateLogReview(ctx context.Context, log *AutomationLog) error
}
