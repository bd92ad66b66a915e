// Package domain defines payment promises captured during collection activity.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// PromiseStatus tracks a promise from capture to resolution. kept, broken and
// rescheduled are terminal; a promise never reverts to pending.
type PromiseStatus string

const (
	PromiseStatusPending     PromiseStatus = "pending"
	PromiseStatusKept        PromiseStatus = "kept"
	PromiseStatusBroken      PromiseStatus = "broken"
	PromiseStatusRescheduled PromiseStatus = "rescheduled"
)

// PaymentPromise records a client's commitment to pay an invoice by a date.
type PaymentPromise struct {
	ID                snowflake.ID  `gorm:"primaryKey"`
	OrgID             snowflake.ID  `gorm:"not null;index"`
	InvoiceID         snowflake.ID  `gorm:"not null;index"`
	ClientID          snowflake.ID  `gorm:"not null;index"`
	PromisedAmount    int64         `gorm:"not null"`
	PromisedDate      time.Time     `gorm:"not null;index"`
	Status            PromiseStatus `gorm:"type:text;not null;index"`
	CaptureSource     string        `gorm:"type:text"`
	ActualPaymentDate *time.Time    `gorm:""`
	ActualAmount      *int64        `gorm:""`
	RescheduledFromID *snowflake.ID `gorm:"index"`
	CreatedAt         time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PaymentPromise) TableName() string { return "payment_promises" }
