// Package domain defines standing recurring billing arrangements and the
// billing requests they materialize.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// BillingMethod selects how the billed amount is computed.
type BillingMethod string

const (
	// BillingMethodFlat bills BillingValue cents each period.
	BillingMethodFlat BillingMethod = "flat"
	// BillingMethodPercentage bills BillingValue basis points of the project
	// contract value each period.
	BillingMethodPercentage BillingMethod = "percentage"
)

// Frequency is the billing cadence.
type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyBiweekly  Frequency = "biweekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
)

// BillingRequestStatus is the review state of a materialized billing line.
type BillingRequestStatus string

const (
	BillingRequestStatusPending  BillingRequestStatus = "pending"
	BillingRequestStatusApproved BillingRequestStatus = "approved"
)

// BillingSchedule is a standing arrangement that periodically produces billing
// requests. Exhausted or expired schedules are deactivated, never deleted.
type BillingSchedule struct {
	ID                   snowflake.ID  `gorm:"primaryKey"`
	OrgID                snowflake.ID  `gorm:"not null;index"`
	ProjectID            snowflake.ID  `gorm:"not null;index"`
	ClientID             snowflake.ID  `gorm:"not null;index"`
	ServiceDescription   string        `gorm:"type:text;not null"`
	BillingMethod        BillingMethod `gorm:"type:text;not null"`
	BillingValue         int64         `gorm:"not null"`
	Frequency            Frequency     `gorm:"type:text;not null"`
	NextBillDate         time.Time     `gorm:"not null;index"`
	LastBilledAt         *time.Time    `gorm:""`
	IsActive             bool          `gorm:"not null;default:true;index"`
	AutoApprove          bool          `gorm:"not null;default:false"`
	MaxOccurrences       *int          `gorm:""`
	OccurrencesCompleted int           `gorm:"not null;default:0"`
	EndDate              *time.Time    `gorm:""`
	CreatedAt            time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt            time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingSchedule) TableName() string { return "billing_schedules" }

// Exhausted reports whether the schedule has no billing left to produce.
func (s BillingSchedule) Exhausted(now time.Time) bool {
	if s.MaxOccurrences != nil && s.OccurrencesCompleted >= *s.MaxOccurrences {
		return true
	}
	if s.EndDate != nil && s.EndDate.Before(now) {
		return true
	}
	return false
}

// BillingRequest is an unapproved billing line produced by one schedule
// period. Auto-approved schedules also get an invoice in ready status.
type BillingRequest struct {
	ID          snowflake.ID         `gorm:"primaryKey"`
	OrgID       snowflake.ID         `gorm:"not null;index"`
	ScheduleID  snowflake.ID         `gorm:"not null;index"`
	ProjectID   snowflake.ID         `gorm:"not null;index"`
	ClientID    snowflake.ID         `gorm:"not null;index"`
	Amount      int64                `gorm:"not null"`
	Description string               `gorm:"type:text"`
	Status      BillingRequestStatus `gorm:"type:text;not null"`
	PeriodDate  time.Time            `gorm:"not null"`
	CreatedAt   time.Time            `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingRequest) TableName() string { return "billing_requests" }
