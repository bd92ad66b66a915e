// Package domain contains the entities owned by the surrounding
// business-management system that the billing core reads and, for invoices,
// writes. All monetary amounts are integer cents.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// InvoiceStatus represents lifecycle states for an invoice.
type InvoiceStatus string

const (
	InvoiceStatusDraft   InvoiceStatus = "draft"
	InvoiceStatusReady   InvoiceStatus = "ready"
	InvoiceStatusSent    InvoiceStatus = "sent"
	InvoiceStatusOverdue InvoiceStatus = "overdue"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusVoid    InvoiceStatus = "void"
)

// Invoice is owned by the external store; the core reads it for collection
// decisions and creates rows for auto-approved billing requests.
type Invoice struct {
	ID               snowflake.ID  `gorm:"primaryKey"`
	OrgID            snowflake.ID  `gorm:"not null;index"`
	ClientID         snowflake.ID  `gorm:"not null;index"`
	ProjectID        *snowflake.ID `gorm:"index"`
	BillingRequestID *snowflake.ID `gorm:"index"`
	InvoiceNumber    string        `gorm:"type:text;not null"`
	Status           InvoiceStatus `gorm:"type:text;not null;index"`
	TotalDue         int64         `gorm:"not null"`
	DueAt            time.Time     `gorm:"not null;index"`
	PaidAt           *time.Time    `gorm:""`
	CreatedAt        time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// DaysOverdue returns whole days elapsed since the due date, zero when not due.
func (i Invoice) DaysOverdue(now time.Time) int {
	if !now.After(i.DueAt) {
		return 0
	}
	return int(now.Sub(i.DueAt).Hours() / 24)
}

// Client mirrors the fields the core reads from the external client record.
type Client struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	OrgID       snowflake.ID `gorm:"not null;index"`
	CompanyName string       `gorm:"type:text;not null"`
	Email       string       `gorm:"type:text"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Client) TableName() string { return "clients" }

// Project mirrors the fields the core reads from the external project record.
// ContractValue is the base for percentage billing schedules.
type Project struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	OrgID         snowflake.ID `gorm:"not null;index"`
	ClientID      snowflake.ID `gorm:"not null;index"`
	Name          string       `gorm:"type:text;not null"`
	ContractValue int64        `gorm:"not null;default:0"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Project) TableName() string { return "projects" }

// ClientPaymentAnalytics is recomputed by a separate analysis job and consumed
// read-only by rule conditions and risk scoring.
type ClientPaymentAnalytics struct {
	ID                 snowflake.ID `gorm:"primaryKey"`
	OrgID              snowflake.ID `gorm:"not null;index"`
	ClientID           snowflake.ID `gorm:"not null;uniqueIndex"`
	AvgDaysToPay       float64      `gorm:"not null;default:0"`
	OnTimeRate         float64      `gorm:"not null;default:0"` // 0..1
	TotalBilled        int64        `gorm:"not null;default:0"`
	TotalPaid          int64        `gorm:"not null;default:0"`
	OutstandingBalance int64        `gorm:"not null;default:0"`
	LatePayments       int          `gorm:"not null;default:0"`
	ComputedAt         time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (ClientPaymentAnalytics) TableName() string { return "client_payment_analytics" }
