package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidOrganization = errors.New("invalid organization")
	ErrInvalidPromise      = errors.New("invalid promise")
	ErrPromiseNotFound     = errors.New("payment promise not found")
	ErrPromiseTerminal     = errors.New("payment promise already resolved")
)

// RecordPromiseRequest captures a new promise.
type RecordPromiseRequest struct {
	OrgID          snowflake.ID
	InvoiceID      snowflake.ID
	ClientID       snowflake.ID
	PromisedAmount int64
	PromisedDate   time.Time
	CaptureSource  string
}

// SweepResult summarizes one auto-reconciliation pass.
type SweepResult struct {
	Kept   int
	Broken int
}

// Service records and reconciles payment promises. A promise is kept when the
// actual payment lands within the configured tolerance of the promised date
// and covers at least the promised amount.
type Service interface {
	RecordPromise(ctx context.Context, req RecordPromiseRequest) (*PaymentPromise, error)
	GetPromise(ctx context.Context, orgID, promiseID snowflake.ID) (*PaymentPromise, error)
	ListPromises(ctx context.Context, orgID snowflake.ID, status PromiseStatus) ([]PaymentPromise, error)
	Reconcile(ctx context.Context, orgID, promiseID snowflake.ID, actualDate time.Time, actualAmount int64) (*PaymentPromise, error)
	// Reschedule terminally marks the old promise and returns a fresh pending
	// promise for the new date linked to it.
	Reschedule(ctx context.Context, orgID, promiseID snowflake.ID, newDate time.Time) (*PaymentPromise, error)
	// Sweep auto-reconciles pending promises whose invoice has been paid and
	// breaks pending promises past their promised date plus tolerance.
	Sweep(ctx context.Context, orgID snowflake.ID, now time.Time) (*SweepResult, error)
}
