package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidOrganization = errors.New("invalid organization")
	ErrInvalidSchedule     = errors.New("invalid schedule configuration")
	ErrScheduleNotFound    = errors.New("billing schedule not found")
)

// Outcome classifies what RunDue did with one claimed schedule.
type Outcome string

const (
	OutcomeBilled      Outcome = "billed"
	OutcomeDeactivated Outcome = "deactivated"
	OutcomeError       Outcome = "error"
)

// ProcessedSchedule is the per-unit result of one RunDue pass.
type ProcessedSchedule struct {
	ScheduleID       snowflake.ID
	Outcome          Outcome
	BillingRequestID snowflake.ID
	InvoiceID        snowflake.ID
	Err              string
}

// CreateScheduleRequest describes an operator-created schedule.
type CreateScheduleRequest struct {
	OrgID              snowflake.ID
	ProjectID          snowflake.ID
	ClientID           snowflake.ID
	ServiceDescription string
	BillingMethod      BillingMethod
	BillingValue       int64
	Frequency          Frequency
	FirstBillDate      time.Time
	AutoApprove        bool
	MaxOccurrences     *int
	EndDate            *time.Time
}

// Service materializes billing from standing schedules. RunDue is idempotent:
// re-running after a partial failure never re-bills committed units because
// claimed rows advance next_bill_date in the same transaction that bills them.
type Service interface {
	CreateSchedule(ctx context.Context, req CreateScheduleRequest) (*BillingSchedule, error)
	GetSchedule(ctx context.Context, orgID, scheduleID snowflake.ID) (*BillingSchedule, error)
	ListSchedules(ctx context.Context, orgID snowflake.ID) ([]BillingSchedule, error)
	DeactivateSchedule(ctx context.Context, orgID, scheduleID snowflake.ID) error
	// RunDue processes every active schedule with next_bill_date <= now. Each
	// schedule is its own transaction; one failure never aborts the batch.
	RunDue(ctx context.Context, now time.Time) ([]ProcessedSchedule, error)
}
