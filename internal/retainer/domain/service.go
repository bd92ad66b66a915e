package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidOrganization = errors.New("invalid organization")
	ErrInvalidClient       = errors.New("invalid client")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidInvoice      = errors.New("invalid invoice")
	ErrRetainerNotFound    = errors.New("retainer not found")
	ErrRetainerClosed      = errors.New("retainer is refunded or cancelled")
	ErrInsufficientBalance = errors.New("insufficient retainer balance")
)

// CreateRetainerRequest opens a retainer seeded with an initial deposit
// recorded as the first transaction.
type CreateRetainerRequest struct {
	OrgID       snowflake.ID
	ClientID    snowflake.ID
	Amount      int64
	Description string
	Actor       string
}

// MovementRequest applies a deposit, draw-down, refund or adjustment against a
// retainer. InvoiceID links draw-downs to the invoice they pay toward.
type MovementRequest struct {
	OrgID       snowflake.ID
	RetainerID  snowflake.ID
	InvoiceID   *snowflake.ID
	Amount      int64
	Description string
	Actor       string
	Metadata    map[string]any
}

// ReplayResult reports a ledger replay against the stored balance.
type ReplayResult struct {
	RetainerID      snowflake.ID
	StoredBalance   int64
	ReplayedBalance int64
	Transactions    int
	Consistent      bool
}

// Service manages retainer balances. Every balance change happens inside a
// single database transaction together with its appended ledger row, with the
// retainer row locked for the duration.
type Service interface {
	CreateRetainer(ctx context.Context, req CreateRetainerRequest) (*Retainer, error)
	Deposit(ctx context.Context, req MovementRequest) (*Retainer, error)
	Draw(ctx context.Context, req MovementRequest) (*Retainer, error)
	Refund(ctx context.Context, req MovementRequest) (*Retainer, error)
	Adjust(ctx context.Context, req MovementRequest) (*Retainer, error)
	Cancel(ctx context.Context, orgID, retainerID snowflake.ID, actor string) error
	GetRetainer(ctx context.Context, orgID, retainerID snowflake.ID) (*Retainer, error)
	ListTransactions(ctx context.Context, orgID, retainerID snowflake.ID) ([]RetainerTransaction, error)
	ReplayBalance(ctx context.Context, orgID, retainerID snowflake.ID) (*ReplayResult, error)
}
