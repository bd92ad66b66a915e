package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/permitwise/billingcore/internal/clock"
	retainerdomain "github.com/permitwise/billingcore/internal/retainer/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

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

func NewService(p Params) retainerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("retainer.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) CreateRetainer(ctx context.Context, req retainerdomain.CreateRetainerRequest) (*retainerdomain.Retainer, error) {
	if req.OrgID == 0 {
		return nil, retainerdomain.ErrInvalidOrganization
	}
	if req.ClientID == 0 {
		return nil, retainerdomain.ErrInvalidClient
	}
	if req.Amount <= 0 {
		return nil, retainerdomain.ErrInvalidAmount
	}

	now := s.clock.Now()
	retainer := &retainerdomain.Retainer{
		ID:             s.genID.Generate(),
		OrgID:          req.OrgID,
		ClientID:       req.ClientID,
		OriginalAmount: req.Amount,
		CurrentBalance: req.Amount,
		Status:         retainerdomain.RetainerStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(retainer).Error; err != nil {
			return err
		}
		txn := &retainerdomain.RetainerTransaction{
			ID:           s.genID.Generate(),
			OrgID:        req.OrgID,
			RetainerID:   retainer.ID,
			Type:         retainerdomain.TransactionTypeDeposit,
			Amount:       req.Amount,
			BalanceAfter: req.Amount,
			Description:  strings.TrimSpace(req.Description),
			Actor:        strings.TrimSpace(req.Actor),
			CreatedAt:    now,
		}
		return tx.Create(txn).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("retainer.created",
		zap.String("retainer_id", retainer.ID.String()),
		zap.String("client_id", req.ClientID.String()),
		zap.Int64("amount", req.Amount),
	)
	return retainer, nil
}

func (s *Service) Deposit(ctx context.Context, req retainerdomain.MovementRequest) (*retainerdomain.Retainer, error) {
	return s.applyMovement(ctx, req, retainerdomain.TransactionTypeDeposit)
}

func (s *Service) Draw(ctx context.Context, req retainerdomain.MovementRequest) (*retainerdomain.Retainer, error) {
	if req.InvoiceID == nil || *req.InvoiceID == 0 {
		return nil, retainerdomain.ErrInvalidInvoice
	}
	return s.applyMovement(ctx, req, retainerdomain.TransactionTypeDrawDown)
}

func (s *Service) Refund(ctx context.Context, req retainerdomain.MovementRequest) (*retainerdomain.Retainer, error) {
	return s.applyMovement(ctx, req, retainerdomain.TransactionTypeRefund)
}

func (s *Service) Adjust(ctx context.Context, req retainerdomain.MovementRequest) (*retainerdomain.Retainer, error) {
	return s.applyMovement(ctx, req, retainerdomain.TransactionTypeAdjustment)
}

// applyMovement locks the retainer row, derives the new balance and status,
// and appends the ledger row in the same transaction. Concurrent draws against
// the same retainer serialize on the row lock, so the insufficient-balance
// check can never be raced past.
func (s *Service) applyMovement(ctx context.Context, req retainerdomain.MovementRequest, movement retainerdomain.TransactionType) (*retainerdomain.Retainer, error) {
	if req.OrgID == 0 {
		return nil, retainerdomain.ErrInvalidOrganization
	}
	if req.RetainerID == 0 {
		return nil, retainerdomain.ErrRetainerNotFound
	}
	if movement == retainerdomain.TransactionTypeAdjustment {
		if req.Amount == 0 {
			return nil, retainerdomain.ErrInvalidAmount
		}
	} else if req.Amount <= 0 {
		return nil, retainerdomain.ErrInvalidAmount
	}

	var updated *retainerdomain.Retainer
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var retainer retainerdomain.Retainer
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("org_id = ? AND id = ?", req.OrgID, req.RetainerID).
			First(&retainer).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return retainerdomain.ErrRetainerNotFound
			}
			return err
		}
		if retainer.Status == retainerdomain.RetainerStatusRefunded ||
			retainer.Status == retainerdomain.RetainerStatusCancelled {
			return retainerdomain.ErrRetainerClosed
		}

		newBalance, newStatus, err := nextState(retainer, movement, req.Amount)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		if err := tx.Model(&retainerdomain.Retainer{}).
			Where("id = ?", retainer.ID).
			Updates(map[string]any{
				"current_balance": newBalance,
				"status":          newStatus,
				"updated_at":      now,
			}).Error; err != nil {
			return err
		}

		txn := &retainerdomain.RetainerTransaction{
			ID:           s.genID.Generate(),
			OrgID:        req.OrgID,
			RetainerID:   retainer.ID,
			InvoiceID:    req.InvoiceID,
			Type:         movement,
			Amount:       req.Amount,
			BalanceAfter: newBalance,
			Description:  strings.TrimSpace(req.Description),
			Actor:        strings.TrimSpace(req.Actor),
			CreatedAt:    now,
		}
		if len(req.Metadata) > 0 {
			txn.Metadata = datatypes.JSONMap(req.Metadata)
		}
		if err := tx.Create(txn).Error; err != nil {
			return err
		}

		retainer.CurrentBalance = newBalance
		retainer.Status = newStatus
		retainer.UpdatedAt = now
		updated = &retainer
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("retainer.movement",
		zap.String("retainer_id", req.RetainerID.String()),
		zap.String("type", string(movement)),
		zap.Int64("amount", req.Amount),
		zap.Int64("balance_after", updated.CurrentBalance),
	)
	return updated, nil
}

func nextState(retainer retainerdomain.Retainer, movement retainerdomain.TransactionType, amount int64) (int64, retainerdomain.RetainerStatus, error) {
	switch movement {
	case retainerdomain.TransactionTypeDeposit:
		return retainer.CurrentBalance + amount, retainerdomain.RetainerStatusActive, nil
	case retainerdomain.TransactionTypeDrawDown:
		if amount > retainer.CurrentBalance {
			return 0, "", retainerdomain.ErrInsufficientBalance
		}
		balance := retainer.CurrentBalance - amount
		status := retainerdomain.RetainerStatusActive
		if balance == 0 {
			status = retainerdomain.RetainerStatusDepleted
		}
		return balance, status, nil
	case retainerdomain.TransactionTypeRefund:
		if amount > retainer.CurrentBalance {
			return 0, "", retainerdomain.ErrInsufficientBalance
		}
		balance := retainer.CurrentBalance - amount
		status := retainerdomain.RetainerStatusActive
		if balance == 0 {
			status = retainerdomain.RetainerStatusRefunded
		}
		return balance, status, nil
	case retainerdomain.TransactionTypeAdjustment:
		balance := retainer.CurrentBalance + amount
		if balance < 0 {
			return 0, "", retainerdomain.ErrInsufficientBalance
		}
		status := retainer.Status
		if balance == 0 {
			status = retainerdomain.RetainerStatusDepleted
		} else {
			status = retainerdomain.RetainerStatusActive
		}
		return balance, status, nil
	default:
		return 0, "", retainerdomain.ErrInvalidAmount
	}
}

func (s *Service) Cancel(ctx context.Context, orgID, retainerID snowflake.ID, actor string) error {
	if orgID == 0 {
		return retainerdomain.ErrInvalidOrganization
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var retainer retainerdomain.Retainer
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("org_id = ? AND id = ?", orgID, retainerID).
			First(&retainer).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return retainerdomain.ErrRetainerNotFound
			}
			return err
		}
		if retainer.Status == retainerdomain.RetainerStatusRefunded ||
			retainer.Status == retainerdomain.RetainerStatusCancelled {
			return retainerdomain.ErrRetainerClosed
		}

		now := s.clock.Now()
		if err := tx.Model(&retainerdomain.Retainer{}).
			Where("id = ?", retainer.ID).
			Updates(map[string]any{
				"status":     retainerdomain.RetainerStatusCancelled,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		s.log.Info("retainer.cancelled",
			zap.String("retainer_id", retainerID.String()),
			zap.String("actor", actor),
		)
		return nil
	})
}

func (s *Service) GetRetainer(ctx context.Context, orgID, retainerID snowflake.ID) (*retainerdomain.Retainer, error) {
	if orgID == 0 {
		return nil, retainerdomain.ErrInvalidOrganization
	}
	var retainer retainerdomain.Retainer
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, retainerID).
		First(&retainer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, retainerdomain.ErrRetainerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &retainer, nil
}

func (s *Service) ListTransactions(ctx context.Context, orgID, retainerID snowflake.ID) ([]retainerdomain.RetainerTransaction, error) {
	if orgID == 0 {
		return nil, retainerdomain.ErrInvalidOrganization
	}
	var txns []retainerdomain.RetainerTransaction
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND retainer_id = ?", orgID, retainerID).
		Order("created_at ASC, id ASC").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

// ReplayBalance folds the transaction log from zero and compares the result
// against the stored balance.
func (s *Service) ReplayBalance(ctx context.Context, orgID, retainerID snowflake.ID) (*retainerdomain.ReplayResult, error) {
	retainer, err := s.GetRetainer(ctx, orgID, retainerID)
	if err != nil {
		return nil, err
	}
	txns, err := s.ListTransactions(ctx, orgID, retainerID)
	if err != nil {
		return nil, err
	}

	var replayed int64
	for _, txn := range txns {
		switch txn.Type {
		case retainerdomain.TransactionTypeDeposit:
			replayed += txn.Amount
		case retainerdomain.TransactionTypeDrawDown, retainerdomain.TransactionTypeRefund:
			replayed -= txn.Amount
		case retainerdomain.TransactionTypeAdjustment:
			replayed += txn.Amount
		}
	}

	result := &retainerdomain.ReplayResult{
		RetainerID:      retainerID,
		StoredBalance:   retainer.CurrentBalance,
		ReplayedBalance: replayed,
		Transactions:    len(txns),
		Consistent:      replayed == retainer.CurrentBalance,
	}
	if !result.Consistent {
		s.log.Error("retainer.balance_mismatch",
			zap.String("retainer_id", retainerID.String()),
			zap.Int64("stored", retainer.CurrentBalance),
			zap.Int64("replayed", replayed),
		)
	}
	return result, nil
}
