package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/permitwise/billingcore/internal/clock"
	"github.com/permitwise/billingcore/internal/config"
	invoicingdomain "github.com/permitwise/billingcore/internal/invoicing/domain"
	promisedomain "github.com/permitwise/billingcore/internal/promise/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	// SQLite support hack: drop row-locking clauses it cannot parse
	err = db.Callback().Query().Before("gorm:query").Register("sqlite_no_for_update", func(d *gorm.DB) {
		delete(d.Statement.Clauses, "FOR")
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&promisedomain.PaymentPromise{},
		&invoicingdomain.Invoice{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	svc := &Service{
		db:          db,
		log:         zap.NewNop(),
		genID:       node,
		clock:       fake,
		collections: config.NewStaticCollectionsHolder(config.DefaultCollectionsConfig()),
	}
	return svc, db, fake
}

func recordPromise(t *testing.T, svc *Service, promisedDate time.Time) *promisedomain.PaymentPromise {
	t.Helper()
	promise, err := svc.RecordPromise(context.Background(), promisedomain.RecordPromiseRequest{
		OrgID:          100,
		InvoiceID:      300,
		ClientID:       200,
		PromisedAmount: 50_000,
		PromisedDate:   promisedDate,
		CaptureSource:  "phone call",
	})
	require.NoError(t, err)
	require.Equal(t, promisedomain.PromiseStatusPending, promise.Status)
	return promise
}

func TestReconcileWithinTolerance(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	promisedDate := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

	// paid two days late but inside the default two-day tolerance
	promise := recordPromise(t, svc, promisedDate)
	got, err := svc.Reconcile(ctx, 100, promise.ID, promisedDate.AddDate(0, 0, 2), 50_000)
	require.NoError(t, err)
	require.Equal(t, promisedomain.PromiseStatusKept, got.Status)
	require.NotNil(t, got.ActualPaymentDate)

	// three days late is broken
	promise = recordPromise(t, svc, promisedDate)
	got, err = svc.Reconcile(ctx, 100, promise.ID, promisedDate.AddDate(0, 0, 3), 50_000)
	require.NoError(t, err)
	require.Equal(t, promisedomain.PromiseStatusBroken, got.Status)

	// short payment is broken even when on time
	promise = recordPromise(t, svc, promisedDate)
	got, err = svc.Reconcile(ctx, 100, promise.ID, promisedDate, 40_000)
	require.NoError(t, err)
	require.Equal(t, promisedomain.PromiseStatusBroken, got.Status)
}

func TestReconcileTerminalPromiseRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	promisedDate := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

	promise := recordPromise(t, svc, promisedDate)
	_, err := svc.Reconcile(ctx, 100, promise.ID, promisedDate, 50_000)
	require.NoError(t, err)

	// a resolved promise never reverts to pending
	_, err = svc.Reconcile(ctx, 100, promise.ID, promisedDate, 50_000)
	require.ErrorIs(t, err, promisedomain.ErrPromiseTerminal)
}

func TestRescheduleCreatesLinkedPromise(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	promise := recordPromise(t, svc, time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC))
	newDate := time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC)

	fresh, err := svc.Reschedule(ctx, 100, promise.ID, newDate)
	require.NoError(t, err)
	require.Equal(t, promisedomain.PromiseStatusPending, fresh.Status)
	require.Equal(t, newDate, fresh.PromisedDate)
	require.NotNil(t, fresh.RescheduledFromID)
	require.Equal(t, promise.ID, *fresh.RescheduledFromID)

	old, err := svc.GetPromise(ctx, 100, promise.ID)
	require.NoError(t, err)
	require.Equal(t, promisedomain.PromiseStatusRescheduled, old.Status)

	// rescheduled is terminal for the old promise
	_, err = svc.Reschedule(ctx, 100, promise.ID, newDate.AddDate(0, 0, 7))
	require.ErrorIs(t, err, promisedomain.ErrPromiseTerminal)
}

func TestSweepResolvesPaidAndExpiredPromises(t *testing.T) {
	svc, db, fake := newTestService(t)
	ctx := context.Background()

	// promise whose invoice was paid on time
	paidAt := time.Date(2026, 5, 9, 0, 0, 0, 0, time.UTC)
	paidInvoice := invoicingdomain.Invoice{
		ID:            401,
		OrgID:         100,
		ClientID:      200,
		InvoiceNumber: "INV-401",
		Status:        invoicingdomain.InvoiceStatusPaid,
		TotalDue:      50_000,
		DueAt:         time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC),
		PaidAt:        &paidAt,
	}
	require.NoError(t, db.Create(&paidInvoice).Error)

	keptPromise, err := svc.RecordPromise(ctx, promisedomain.RecordPromiseRequest{
		OrgID:          100,
		InvoiceID:      paidInvoice.ID,
		ClientID:       200,
		PromisedAmount: 50_000,
		PromisedDate:   time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	// promise past its deadline with no payment on record
	expiredPromise := recordPromise(t, svc, time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC))

	// promise still inside its window stays pending
	openPromise := recordPromise(t, svc, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))

	fake.Set(time.Date(2026, 5, 15, 9, 0, 0, 0, time.UTC))
	result, err := svc.Sweep(ctx, 100, fake.Now())
	require.NoError(t, err)
	require.Equal(t, 1, result.Kept)
	require.Equal(t, 1, result.Broken)

	got, err := svc.GetPromise(ctx, 100, keptPromise.ID)
	require.NoError(t, err)
	require.Equal(t, promisedomain.PromiseStatusKept, got.Status)

	got, err = svc.GetPromise(ctx, 100, expiredPromise.ID)
	require.NoError(t, err)
	require.Equal(t, promisedomain.PromiseStatusBroken, got.Status)

	got, err = svc.GetPromise(ctx, 100, openPromise.ID)
	require.NoError(t, err)
	require.Equal(t, promisedomain.PromiseStatusPending, got.Status)
}

func TestRecordPromiseValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordPromise(ctx, promisedomain.RecordPromiseRequest{
		InvoiceID: 1, ClientID: 2, PromisedAmount: 100, PromisedDate: time.Now(),
	})
	require.ErrorIs(t, err, promisedomain.ErrInvalidOrganization)

	_, err = svc.RecordPromise(ctx, promisedomain.RecordPromiseRequest{
		OrgID: 1, ClientID: 2, PromisedAmount: 100, PromisedDate: time.Now(),
	})
	require.ErrorIs(t, err, promisedomain.ErrInvalidPromise)

	_, err = svc.RecordPromise(ctx, promisedomain.RecordPromiseRequest{
		OrgID: 1, InvoiceID: 1, ClientID: 2, PromisedDate: time.Now(),
	})
	require.ErrorIs(t, err, promisedomain.ErrInvalidPromise)
}
