package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/permitwise/billingcore/internal/clock"
	"github.com/permitwise/billingcore/internal/config"
	invoicingdomain "github.com/permitwise/billingcore/internal/invoicing/domain"
	promisedomain "github.com/permitwise/billingcore/internal/promise/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Collections *config.CollectionsConfigHolder
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	collections *config.CollectionsConfigHolder
}

func NewService(p Params) promisedomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("promise.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		collections: p.Collections,
	}
}

func (s *Service) RecordPromise(ctx context.Context, req promisedomain.RecordPromiseRequest) (*promisedomain.PaymentPromise, error) {
	if req.OrgID == 0 {
		return nil, promisedomain.ErrInvalidOrganization
	}
	if req.InvoiceID == 0 || req.ClientID == 0 {
		return nil, promisedomain.ErrInvalidPromise
	}
	if req.PromisedAmount <= 0 || req.PromisedDate.IsZero() {
		return nil, promisedomain.ErrInvalidPromise
	}

	now := s.clock.Now()
	promise := &promisedomain.PaymentPromise{
		ID:             s.genID.Generate(),
		OrgID:          req.OrgID,
		InvoiceID:      req.InvoiceID,
		ClientID:       req.ClientID,
		PromisedAmount: req.PromisedAmount,
		PromisedDate:   req.PromisedDate.UTC(),
		Status:         promisedomain.PromiseStatusPending,
		CaptureSource:  req.CaptureSource,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(promise).Error; err != nil {
		return nil, err
	}

	s.log.Info("promise.recorded",
		zap.String("promise_id", promise.ID.String()),
		zap.String("invoice_id", req.InvoiceID.String()),
		zap.Time("promised_date", promise.PromisedDate),
	)
	return promise, nil
}

func (s *Service) GetPromise(ctx context.Context, orgID, promiseID snowflake.ID) (*promisedomain.PaymentPromise, error) {
	if orgID == 0 {
		return nil, promisedomain.ErrInvalidOrganization
	}
	var promise promisedomain.PaymentPromise
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, promiseID).
		First(&promise).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, promisedomain.ErrPromiseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &promise, nil
}

func (s *Service) ListPromises(ctx context.Context, orgID snowflake.ID, status promisedomain.PromiseStatus) ([]promisedomain.PaymentPromise, error) {
	if orgID == 0 {
		return nil, promisedomain.ErrInvalidOrganization
	}
	query := s.db.WithContext(ctx).Where("org_id = ?", orgID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var promises []promisedomain.PaymentPromise
	if err := query.Order("promised_date ASC").Find(&promises).Error; err != nil {
		return nil, err
	}
	return promises, nil
}

func (s *Service) Reconcile(ctx context.Context, orgID, promiseID snowflake.ID, actualDate time.Time, actualAmount int64) (*promisedomain.PaymentPromise, error) {
	if orgID == 0 {
		return nil, promisedomain.ErrInvalidOrganization
	}

	tolerance := s.collections.Get().PromiseToleranceDays
	var updated *promisedomain.PaymentPromise
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		promise, err := s.lockPromise(tx, orgID, promiseID)
		if err != nil {
			return err
		}

		status := promisedomain.PromiseStatusBroken
		if promiseKept(*promise, actualDate, actualAmount, tolerance) {
			status = promisedomain.PromiseStatusKept
		}

		now := s.clock.Now()
		actualDate = actualDate.UTC()
		if err := tx.Model(&promisedomain.PaymentPromise{}).
			Where("id = ?", promise.ID).
			Updates(map[string]any{
				"status":              status,
				"actual_payment_date": actualDate,
				"actual_amount":       actualAmount,
				"updated_at":          now,
			}).Error; err != nil {
			return err
		}

		promise.Status = status
		promise.ActualPaymentDate = &actualDate
		promise.ActualAmount = &actualAmount
		promise.UpdatedAt = now
		updated = promise
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("promise.reconciled",
		zap.String("promise_id", promiseID.String()),
		zap.String("status", string(updated.Status)),
	)
	return updated, nil
}

// promiseKept applies the tolerance policy: payment must land no later than
// the promised date plus tolerance days, and must cover the promised amount.
func promiseKept(promise promisedomain.PaymentPromise, actualDate time.Time, actualAmount int64, toleranceDays int) bool {
	deadline := promise.PromisedDate.AddDate(0, 0, toleranceDays)
	if actualDate.After(deadline) {
		return false
	}
	return actualAmount >= promise.PromisedAmount
}

func (s *Service) Reschedule(ctx context.Context, orgID, promiseID snowflake.ID, newDate time.Time) (*promisedomain.PaymentPromise, error) {
	if orgID == 0 {
		return nil, promisedomain.ErrInvalidOrganization
	}
	if newDate.IsZero() {
		return nil, promisedomain.ErrInvalidPromise
	}

	var fresh *promisedomain.PaymentPromise
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		promise, err := s.lockPromise(tx, orgID, promiseID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		if err := tx.Model(&promisedomain.PaymentPromise{}).
			Where("id = ?", promise.ID).
			Updates(map[string]any{
				"status":     promisedomain.PromiseStatusRescheduled,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		from := promise.ID
		fresh = &promisedomain.PaymentPromise{
			ID:                s.genID.Generate(),
			OrgID:             orgID,
			InvoiceID:         promise.InvoiceID,
			ClientID:          promise.ClientID,
			PromisedAmount:    promise.PromisedAmount,
			PromisedDate:      newDate.UTC(),
			Status:            promisedomain.PromiseStatusPending,
			CaptureSource:     promise.CaptureSource,
			RescheduledFromID: &from,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		return tx.Create(fresh).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("promise.rescheduled",
		zap.String("old_promise_id", promiseID.String()),
		zap.String("new_promise_id", fresh.ID.String()),
		zap.Time("new_date", fresh.PromisedDate),
	)
	return fresh, nil
}

// lockPromise loads a pending promise for update; terminal promises reject.
func (s *Service) lockPromise(tx *gorm.DB, orgID, promiseID snowflake.ID) (*promisedomain.PaymentPromise, error) {
	var promise promisedomain.PaymentPromise
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("org_id = ? AND id = ?", orgID, promiseID).
		First(&promise).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, promisedomain.ErrPromiseNotFound
	}
	if err != nil {
		return nil, err
	}
	if promise.Status != promisedomain.PromiseStatusPending {
		return nil, promisedomain.ErrPromiseTerminal
	}
	return &promise, nil
}

// Sweep resolves pending promises without operator input: promises whose
// invoice shows a payment reconcile against it, and promises past their
// deadline with no payment break.
func (s *Service) Sweep(ctx context.Context, orgID snowflake.ID, now time.Time) (*promisedomain.SweepResult, error) {
	if orgID == 0 {
		return nil, promisedomain.ErrInvalidOrganization
	}

	pending, err := s.ListPromises(ctx, orgID, promisedomain.PromiseStatusPending)
	if err != nil {
		return nil, err
	}

	tolerance := s.collections.Get().PromiseToleranceDays
	result := &promisedomain.SweepResult{}
	var sweepErrs []error
	for _, promise := range pending {
		if ctx.Err() != nil {
			sweepErrs = append(sweepErrs, ctx.Err())
			break
		}

		var invoice invoicingdomain.Invoice
		err := s.db.WithContext(ctx).
			Where("org_id = ? AND id = ?", orgID, promise.InvoiceID).
			First(&invoice).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			sweepErrs = append(sweepErrs, err)
			continue
		}

		if err == nil && invoice.PaidAt != nil {
			resolved, err := s.Reconcile(ctx, orgID, promise.ID, *invoice.PaidAt, invoice.TotalDue)
			if err != nil {
				sweepErrs = append(sweepErrs, err)
				continue
			}
			if resolved.Status == promisedomain.PromiseStatusKept {
				result.Kept++
			} else {
				result.Broken++
			}
			continue
		}

		deadline := promise.PromisedDate.AddDate(0, 0, tolerance)
		if now.After(deadline) {
			if err := s.db.WithContext(ctx).
				Model(&promisedomain.PaymentPromise{}).
				Where("id = ? AND status = ?", promise.ID, promisedomain.PromiseStatusPending).
				Updates(map[string]any{
					"status":     promisedomain.PromiseStatusBroken,
					"updated_at": s.clock.Now(),
				}).Error; err != nil {
				sweepErrs = append(sweepErrs, err)
				continue
			}
			result.Broken++
		}
	}

	s.log.Info("promise.sweep",
		zap.Int("kept", result.Kept),
		zap.Int("broken", result.Broken),
	)
	return result, errors.Join(sweepErrs...)
}
