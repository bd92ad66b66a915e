package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	billingscheduledomain "github.com/permitwise/billingcore/internal/billingschedule/domain"
	"github.com/permitwise/billingcore/internal/clock"
	invoicingdomain "github.com/permitwise/billingcore/internal/invoicing/domain"
	"github.com/permitwise/billingcore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const unitRetryBackoff = 200 * time.Millisecond

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) billingscheduledomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("billingschedule.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) CreateSchedule(ctx context.Context, req billingscheduledomain.CreateScheduleRequest) (*billingscheduledomain.BillingSchedule, error) {
	if req.OrgID == 0 {
		return nil, billingscheduledomain.ErrInvalidOrganization
	}
	if err := validateSchedule(req); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	schedule := &billingscheduledomain.BillingSchedule{
		ID:                 s.genID.Generate(),
		OrgID:              req.OrgID,
		ProjectID:          req.ProjectID,
		ClientID:           req.ClientID,
		ServiceDescription: strings.TrimSpace(req.ServiceDescription),
		BillingMethod:      req.BillingMethod,
		BillingValue:       req.BillingValue,
		Frequency:          req.Frequency,
		NextBillDate:       req.FirstBillDate.UTC(),
		IsActive:           true,
		AutoApprove:        req.AutoApprove,
		MaxOccurrences:     req.MaxOccurrences,
		EndDate:            req.EndDate,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.db.WithContext(ctx).Create(schedule).Error; err != nil {
		return nil, err
	}

	s.log.Info("billingschedule.created",
		zap.String("schedule_id", schedule.ID.String()),
		zap.String("project_id", req.ProjectID.String()),
		zap.String("frequency", string(req.Frequency)),
	)
	return schedule, nil
}

func validateSchedule(req billingscheduledomain.CreateScheduleRequest) error {
	if req.ProjectID == 0 || req.ClientID == 0 {
		return fmt.Errorf("project and client are required: %w", billingscheduledomain.ErrInvalidSchedule)
	}
	if strings.TrimSpace(req.ServiceDescription) == "" {
		return fmt.Errorf("service description is required: %w", billingscheduledomain.ErrInvalidSchedule)
	}
	switch req.BillingMethod {
	case billingscheduledomain.BillingMethodFlat, billingscheduledomain.BillingMethodPercentage:
	default:
		return fmt.Errorf("unknown billing method %q: %w", req.BillingMethod, billingscheduledomain.ErrInvalidSchedule)
	}
	if req.BillingValue <= 0 {
		return fmt.Errorf("billing value must be positive: %w", billingscheduledomain.ErrInvalidSchedule)
	}
	switch req.Frequency {
	case billingscheduledomain.FrequencyWeekly, billingscheduledomain.FrequencyBiweekly,
		billingscheduledomain.FrequencyMonthly, billingscheduledomain.FrequencyQuarterly:
	default:
		return fmt.Errorf("unknown frequency %q: %w", req.Frequency, billingscheduledomain.ErrInvalidSchedule)
	}
	if req.FirstBillDate.IsZero() {
		return fmt.Errorf("first bill date is required: %w", billingscheduledomain.ErrInvalidSchedule)
	}
	if req.MaxOccurrences != nil && *req.MaxOccurrences < 1 {
		return fmt.Errorf("max occurrences must be >= 1: %w", billingscheduledomain.ErrInvalidSchedule)
	}
	return nil
}

func (s *Service) GetSchedule(ctx context.Context, orgID, scheduleID snowflake.ID) (*billingscheduledomain.BillingSchedule, error) {
	if orgID == 0 {
		return nil, billingscheduledomain.ErrInvalidOrganization
	}
	var schedule billingscheduledomain.BillingSchedule
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, scheduleID).
		First(&schedule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, billingscheduledomain.ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

func (s *Service) ListSchedules(ctx context.Context, orgID snowflake.ID) ([]billingscheduledomain.BillingSchedule, error) {
	if orgID == 0 {
		return nil, billingscheduledomain.ErrInvalidOrganization
	}
	var schedules []billingscheduledomain.BillingSchedule
	err := s.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("created_at ASC").
		Find(&schedules).Error
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

func (s *Service) DeactivateSchedule(ctx context.Context, orgID, scheduleID snowflake.ID) error {
	if orgID == 0 {
		return billingscheduledomain.ErrInvalidOrganization
	}
	result := s.db.WithContext(ctx).
		Model(&billingscheduledomain.BillingSchedule{}).
		Where("org_id = ? AND id = ?", orgID, scheduleID).
		Updates(map[string]any{
			"is_active":  false,
			"updated_at": s.clock.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return billingscheduledomain.ErrScheduleNotFound
	}
	return nil
}

// RunDue walks active schedules whose next_bill_date has arrived. Each unit
// runs in its own transaction under a SKIP LOCKED claim; a still-past-due date
// after advancing is picked up by the next run, so missed periods catch up one
// run at a time and never double-bill within a run.
func (s *Service) RunDue(ctx context.Context, now time.Time) ([]billingscheduledomain.ProcessedSchedule, error) {
	var ids []snowflake.ID
	err := s.db.WithContext(ctx).
		Model(&billingscheduledomain.BillingSchedule{}).
		Where("is_active = ? AND next_bill_date <= ?", true, now).
		Order("next_bill_date ASC, id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("find due schedules: %w", err)
	}

	results := make([]billingscheduledomain.ProcessedSchedule, 0, len(ids))
	var unitErrs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			unitErrs = append(unitErrs, ctx.Err())
			break
		}

		result, err := s.processOne(ctx, id, now)
		if err != nil && db.IsTransientErr(err) {
			time.Sleep(unitRetryBackoff)
			result, err = s.processOne(ctx, id, now)
		}
		if err != nil {
			s.log.Error("billingschedule.unit_failed",
				zap.String("schedule_id", id.String()),
				zap.Error(err),
			)
			results = append(results, billingscheduledomain.ProcessedSchedule{
				ScheduleID: id,
				Outcome:    billingscheduledomain.OutcomeError,
				Err:        err.Error(),
			})
			unitErrs = append(unitErrs, fmt.Errorf("schedule %s: %w", id, err))
			continue
		}
		if result != nil {
			results = append(results, *result)
		}
	}
	return results, errors.Join(unitErrs...)
}

// processOne claims and bills one schedule. A nil result with nil error means
// another worker claimed the row first.
func (s *Service) processOne(ctx context.Context, id snowflake.ID, now time.Time) (*billingscheduledomain.ProcessedSchedule, error) {
	var result *billingscheduledomain.ProcessedSchedule
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var schedule billingscheduledomain.BillingSchedule
		claim := tx.Raw(
			`SELECT * FROM billing_schedules
			 WHERE id = ? AND is_active = ? AND next_bill_date <= ?
			 FOR UPDATE SKIP LOCKED`,
			id, true, now,
		).Scan(&schedule)
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected == 0 {
			return nil
		}

		if schedule.Exhausted(now) {
			if err := tx.Model(&billingscheduledomain.BillingSchedule{}).
				Where("id = ?", schedule.ID).
				Updates(map[string]any{
					"is_active":  false,
					"updated_at": now,
				}).Error; err != nil {
				return err
			}
			result = &billingscheduledomain.ProcessedSchedule{
				ScheduleID: schedule.ID,
				Outcome:    billingscheduledomain.OutcomeDeactivated,
			}
			s.log.Info("billingschedule.deactivated", zap.String("schedule_id", schedule.ID.String()))
			return nil
		}

		amount, err := s.billedAmount(tx, schedule)
		if err != nil {
			return err
		}

		request := &billingscheduledomain.BillingRequest{
			ID:          s.genID.Generate(),
			OrgID:       schedule.OrgID,
			ScheduleID:  schedule.ID,
			ProjectID:   schedule.ProjectID,
			ClientID:    schedule.ClientID,
			Amount:      amount,
			Description: schedule.ServiceDescription,
			Status:      billingscheduledomain.BillingRequestStatusPending,
			PeriodDate:  schedule.NextBillDate,
			CreatedAt:   now,
		}
		if schedule.AutoApprove {
			request.Status = billingscheduledomain.BillingRequestStatusApproved
		}
		if err := tx.Create(request).Error; err != nil {
			return err
		}

		var invoiceID snowflake.ID
		if schedule.AutoApprove {
			requestID := request.ID
			invoice := &invoicingdomain.Invoice{
				ID:               s.genID.Generate(),
				OrgID:            schedule.OrgID,
				ClientID:         schedule.ClientID,
				ProjectID:        &schedule.ProjectID,
				BillingRequestID: &requestID,
				InvoiceNumber:    fmt.Sprintf("INV-%s", s.genID.Generate()),
				Status:           invoicingdomain.InvoiceStatusReady,
				TotalDue:         amount,
				DueAt:            now.AddDate(0, 0, 30),
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if err := tx.Create(invoice).Error; err != nil {
				return err
			}
			invoiceID = invoice.ID
		}

		// advance from the previous next_bill_date, never from now, so a late
		// run does not compound drift
		next := advanceDate(schedule.NextBillDate, schedule.Frequency)
		if err := tx.Model(&billingscheduledomain.BillingSchedule{}).
			Where("id = ?", schedule.ID).
			Updates(map[string]any{
				"next_bill_date":        next,
				"last_billed_at":        now,
				"occurrences_completed": gorm.Expr("occurrences_completed + 1"),
				"updated_at":            now,
			}).Error; err != nil {
			return err
		}

		result = &billingscheduledomain.ProcessedSchedule{
			ScheduleID:       schedule.ID,
			Outcome:          billingscheduledomain.OutcomeBilled,
			BillingRequestID: request.ID,
			InvoiceID:        invoiceID,
		}
		s.log.Info("billingschedule.billed",
			zap.String("schedule_id", schedule.ID.String()),
			zap.Int64("amount", amount),
			zap.Time("next_bill_date", next),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) billedAmount(tx *gorm.DB, schedule billingscheduledomain.BillingSchedule) (int64, error) {
	switch schedule.BillingMethod {
	case billingscheduledomain.BillingMethodFlat:
		return schedule.BillingValue, nil
	case billingscheduledomain.BillingMethodPercentage:
		var project invoicingdomain.Project
		err := tx.Where("org_id = ? AND id = ?", schedule.OrgID, schedule.ProjectID).
			First(&project).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("project %s not found: %w", schedule.ProjectID, billingscheduledomain.ErrInvalidSchedule)
		}
		if err != nil {
			return 0, err
		}
		amount := project.ContractValue * schedule.BillingValue / 10_000
		if amount <= 0 {
			return 0, fmt.Errorf("computed amount is not positive: %w", billingscheduledomain.ErrInvalidSchedule)
		}
		return amount, nil
	default:
		return 0, fmt.Errorf("unknown billing method %q: %w", schedule.BillingMethod, billingscheduledomain.ErrInvalidSchedule)
	}
}

func advanceDate(prev time.Time, freq billingscheduledomain.Frequency) time.Time {
	switch freq {
	case billingscheduledomain.FrequencyWeekly:
		return prev.AddDate(0, 0, 7)
	case billingscheduledomain.FrequencyBiweekly:
		return prev.AddDate(0, 0, 14)
	case billingscheduledomain.FrequencyQuarterly:
		return addMonthsClamped(prev, 3)
	default:
		return addMonthsClamped(prev, 1)
	}
}

// addMonthsClamped adds calendar months, clamping the day to the end of the
// target month. time.AddDate would roll Jan 31 into Mar 2.
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	// day 0 of the month after the target is the target month's last day
	lastDay := time.Date(year, month+time.Month(months)+1, 0, 0, 0, 0, 0, t.Location()).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month+time.Month(months), day, hour, min, sec, t.Nanosecond(), t.Location())
}
