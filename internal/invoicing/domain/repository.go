package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrClientNotFound  = errors.New("client not found")
	ErrProjectNotFound = errors.New("project not found")
)

// Repository reads invoices, clients, projects and payment analytics from the
// shared store, and writes invoices produced by auto-approved billing.
type Repository interface {
	GetInvoice(ctx context.Context, orgID, invoiceID snowflake.ID) (*Invoice, error)
	CreateInvoice(ctx context.Context, invoice *Invoice) error
	// FindOverdueInvoices returns unpaid invoices whose due date is at least
	// minDaysOverdue days before now, oldest due date first.
	FindOverdueInvoices(ctx context.Context, orgID snowflake.ID, minDaysOverdue int, now time.Time) ([]Invoice, error)
	GetClient(ctx context.Context, orgID, clientID snowflake.ID) (*Client, error)
	GetProject(ctx context.Context, orgID, projectID snowflake.ID) (*Project, error)
	FindClientAnalytics(ctx context.Context, orgID, clientID snowflake.ID) (*ClientPaymentAnalytics, error)
}
