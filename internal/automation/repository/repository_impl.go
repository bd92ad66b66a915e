package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/permitwise/billingcore/internal/automation/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

// NewRepository returns the gorm-backed automation store.
func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) CreateRule(ctx context.Context, rule *domain.AutomationRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

func (r *repository) GetRule(ctx context.Context, orgID, ruleID snowflake.ID) (*domain.AutomationRule, error) {
	var rule domain.AutomationRule
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, ruleID).
		First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *repository) ListRules(ctx context.Context, orgID snowflake.ID) ([]domain.AutomationRule, error) {
	var rules []domain.AutomationRule
	err := r.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("priority ASC, created_at ASC").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *repository) FindEnabledRules(ctx context.Context, orgID snowflake.ID) ([]domain.AutomationRule, error) {
	var rules []domain.AutomationRule
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND is_enabled = ?", orgID, true).
		Order("priority ASC, created_at ASC").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *repository) UpdateRuleEnabled(ctx context.Context, orgID, ruleID snowflake.ID, enabled bool, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&domain.AutomationRule{}).
		Where("org_id = ? AND id = ?", orgID, ruleID).
		Updates(map[string]any{
			"is_enabled": enabled,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrRuleNotFound
	}
	return nil
}

func (r *repository) SaveAutomationLog(ctx context.Context, log *domain.AutomationLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *repository) GetLog(ctx context.Context, orgID, logID snowflake.ID) (*domain.AutomationLog, error) {
	var log domain.AutomationLog
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, logID).
		First(&log).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrLogNotFound
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (r *repository) FindRecentLogs(ctx context.Context, ruleID, invoiceID snowflake.ID, since time.Time) ([]domain.AutomationLog, error) {
	var logs []domain.AutomationLog
	err := r.db.WithContext(ctx).
		Where("rule_id = ? AND invoice_id = ?", ruleID, invoiceID).
		Where("result <> ?", domain.LogResultSkipped).
		Where("created_at >= ?", since).
		Order("created_at DESC").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *repository) CountFires(ctx context.Context, ruleID, invoiceID snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.AutomationLog{}).
		Where("rule_id = ? AND invoice_id = ?", ruleID, invoiceID).
		Where("result <> ?", domain.LogResultSkipped).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) ListLogsByResult(ctx context.Context, orgID snowflake.ID, result domain.LogResult) ([]domain.AutomationLog, error) {
	var logs []domain.AutomationLog
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND result = ?", orgID, result).
		Order("created_at ASC").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *repository) UpdateLogReview(ctx context.Context, log *domain.AutomationLog) error {
	result := r.db.WithContext(ctx).
		Model(&domain.AutomationLog{}).
		Where("org_id = ? AND id = ?", log.OrgID, log.ID).
		Updates(map[string]any{
			"result":      log.Result,
			"approved_by": log.ApprovedBy,
			"approved_at": log.ApprovedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrLogNotFound
	}
	return nil
}
