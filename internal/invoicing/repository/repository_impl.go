package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/permitwise/billingcore/internal/invoicing/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

// NewRepository returns the gorm-backed invoicing store.
func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) GetInvoice(ctx context.Context, orgID, invoiceID snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, invoiceID).
		First(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) CreateInvoice(ctx context.Context, invoice *domain.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) FindOverdueInvoices(ctx context.Context, orgID snowflake.ID, minDaysOverdue int, now time.Time) ([]domain.Invoice, error) {
	if minDaysOverdue < 0 {
		minDaysOverdue = 0
	}
	cutoff := now.Add(-time.Duration(minDaysOverdue) * 24 * time.Hour)

	var invoices []domain.Invoice
	err := r.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Where("status IN ?", []domain.InvoiceStatus{domain.InvoiceStatusSent, domain.InvoiceStatusOverdue}).
		Where("due_at <= ?", cutoff).
		Order("due_at ASC").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repository) GetClient(ctx context.Context, orgID, clientID snowflake.ID) (*domain.Client, error) {
	var client domain.Client
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, clientID).
		First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

func (r *repository) GetProject(ctx context.Context, orgID, projectID snowflake.ID) (*domain.Project, error) {
	var project domain.Project
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, projectID).
		First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (r *repository) FindClientAnalytics(ctx context.Context, orgID, clientID snowflake.ID) (*domain.ClientPaymentAnalytics, error) {
	var analytics domain.ClientPaymentAnalytics
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND client_id = ?", orgID, clientID).
		First(&analytics).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &analytics, nil
}
