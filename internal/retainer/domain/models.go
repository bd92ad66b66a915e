package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// RetainerStatus represents the lifecycle of a retainer account.
type RetainerStatus string

const (
	RetainerStatusActive    RetainerStatus = "active"
	RetainerStatusDepleted  RetainerStatus = "depleted"
	RetainerStatusRefunded  RetainerStatus = "refunded"
	RetainerStatusCancelled RetainerStatus = "cancelled"
)

// TransactionType classifies a retainer ledger movement.
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeDrawDown   TransactionType = "draw_down"
	TransactionTypeRefund     TransactionType = "refund"
	TransactionTypeAdjustment TransactionType = "adjustment"
)

// Retainer is a client's prepaid balance held against future work. Amounts are
// integer cents and the balance only ever changes together with an appended
// transaction row.
type Retainer struct {
	ID             snowflake.ID   `gorm:"primaryKey"`
	OrgID          snowflake.ID   `gorm:"not null;index"`
	ClientID       snowflake.ID   `gorm:"not null;index"`
	OriginalAmount int64          `gorm:"not null;default:0"`
	CurrentBalance int64          `gorm:"not null;default:0"`
	Status         RetainerStatus `gorm:"type:text;not null;default:'active'"`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Retainer) TableName() string { return "retainers" }

// RetainerTransaction is an immutable ledger row. BalanceAfter snapshots the
// retainer balance immediately after this movement was applied; replaying the
// log in creation order must reproduce CurrentBalance exactly.
type RetainerTransaction struct {
	ID           snowflake.ID      `gorm:"primaryKey"`
	OrgID        snowflake.ID      `gorm:"not null;index"`
	RetainerID   snowflake.ID      `gorm:"not null;index"`
	InvoiceID    *snowflake.ID     `gorm:"index"`
	Type         TransactionType   `gorm:"type:text;not null"`
	Amount       int64             `gorm:"not null"`
	BalanceAfter int64             `gorm:"not null"`
	Description  string            `gorm:"type:text"`
	Actor        string            `gorm:"type:text"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (RetainerTransaction) TableName() string { return "retainer_transactions" }
