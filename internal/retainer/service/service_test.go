package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/permitwise/billingcore/internal/clock"
	retainerdomain "github.com/permitwise/billingcore/internal/retainer/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *clock.FakeClock) {
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

	require.NoError(t, db.AutoMigrate(&retainerdomain.Retainer{}, &retainerdomain.RetainerTransaction{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := &Service{
		db:    db,
		log:   zap.NewNop(),
		genID: node,
		clock: fake,
	}
	return svc, fake
}

func invoiceRef(id int64) *snowflake.ID {
	sid := snowflake.ID(id)
	return &sid
}

func TestRetainerDrawDownScenario(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()
	orgID := snowflake.ID(100)

	retainer, err := svc.CreateRetainer(ctx, retainerdomain.CreateRetainerRequest{
		OrgID:       orgID,
		ClientID:    snowflake.ID(200),
		Amount:      1_000_000, // $10,000
		Description: "opening retainer",
		Actor:       "ops@permitwise.test",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), retainer.CurrentBalance)
	require.Equal(t, int64(1_000_000), retainer.OriginalAmount)
	require.Equal(t, retainerdomain.RetainerStatusActive, retainer.Status)

	fake.Advance(time.Hour)
	got, err := svc.Draw(ctx, retainerdomain.MovementRequest{
		OrgID:       orgID,
		RetainerID:  retainer.ID,
		InvoiceID:   invoiceRef(301),
		Amount:      400_000,
		Description: "permit filing, invoice A",
	})
	require.NoError(t, err)
	require.Equal(t, int64(600_000), got.CurrentBalance)
	require.Equal(t, retainerdomain.RetainerStatusActive, got.Status)

	fake.Advance(time.Hour)
	got, err = svc.Draw(ctx, retainerdomain.MovementRequest{
		OrgID:      orgID,
		RetainerID: retainer.ID,
		InvoiceID:  invoiceRef(302),
		Amount:     600_000,
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), got.CurrentBalance)
	require.Equal(t, retainerdomain.RetainerStatusDepleted, got.Status)

	// rejected draws leave no trace: balance unchanged, no transaction row
	_, err = svc.Draw(ctx, retainerdomain.MovementRequest{
		OrgID:      orgID,
		RetainerID: retainer.ID,
		InvoiceID:  invoiceRef(303),
		Amount:     1,
	})
	require.ErrorIs(t, err, retainerdomain.ErrInsufficientBalance)

	got, err = svc.GetRetainer(ctx, orgID, retainer.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), got.CurrentBalance)

	txns, err := svc.ListTransactions(ctx, orgID, retainer.ID)
	require.NoError(t, err)
	require.Len(t, txns, 3)
	require.Equal(t, retainerdomain.TransactionTypeDeposit, txns[0].Type)
	require.Equal(t, int64(600_000), txns[1].BalanceAfter)
	require.Equal(t, int64(0), txns[2].BalanceAfter)

	replay, err := svc.ReplayBalance(ctx, orgID, retainer.ID)
	require.NoError(t, err)
	require.True(t, replay.Consistent)
	require.Equal(t, int64(0), replay.ReplayedBalance)
}

func TestRetainerDepositReactivates(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()
	orgID := snowflake.ID(100)

	retainer, err := svc.CreateRetainer(ctx, retainerdomain.CreateRetainerRequest{
		OrgID:    orgID,
		ClientID: snowflake.ID(200),
		Amount:   5_000,
	})
	require.NoError(t, err)

	_, err = svc.Draw(ctx, retainerdomain.MovementRequest{
		OrgID:      orgID,
		RetainerID: retainer.ID,
		InvoiceID:  invoiceRef(301),
		Amount:     5_000,
	})
	require.NoError(t, err)

	fake.Advance(24 * time.Hour)
	got, err := svc.Deposit(ctx, retainerdomain.MovementRequest{
		OrgID:      orgID,
		RetainerID: retainer.ID,
		Amount:     2_500,
	})
	require.NoError(t, err)
	require.Equal(t, int64(2_500), got.CurrentBalance)
	require.Equal(t, retainerdomain.RetainerStatusActive, got.Status)
}

func TestRetainerRefundAndCancelAreTerminal(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	orgID := snowflake.ID(100)

	retainer, err := svc.CreateRetainer(ctx, retainerdomain.CreateRetainerRequest{
		OrgID:    orgID,
		ClientID: snowflake.ID(200),
		Amount:   5_000,
	})
	require.NoError(t, err)

	got, err := svc.Refund(ctx, retainerdomain.MovementRequest{
		OrgID:      orgID,
		RetainerID: retainer.ID,
		Amount:     5_000,
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), got.CurrentBalance)
	require.Equal(t, retainerdomain.RetainerStatusRefunded, got.Status)

	_, err = svc.Deposit(ctx, retainerdomain.MovementRequest{
		OrgID:      orgID,
		RetainerID: retainer.ID,
		Amount:     1_000,
	})
	require.ErrorIs(t, err, retainerdomain.ErrRetainerClosed)

	other, err := svc.CreateRetainer(ctx, retainerdomain.CreateRetainerRequest{
		OrgID:    orgID,
		ClientID: snowflake.ID(201),
		Amount:   3_000,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, orgID, other.ID, "ops@permitwise.test"))
	_, err = svc.Draw(ctx, retainerdomain.MovementRequest{
		OrgID:      orgID,
		RetainerID: other.ID,
		InvoiceID:  invoiceRef(305),
		Amount:     1_000,
	})
	require.ErrorIs(t, err, retainerdomain.ErrRetainerClosed)
}

func TestRetainerAdjustment(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	orgID := snowflake.ID(100)

	retainer, err := svc.CreateRetainer(ctx, retainerdomain.CreateRetainerRequest{
		OrgID:    orgID,
		ClientID: snowflake.ID(200),
		Amount:   5_000,
	})
	require.NoError(t, err)

	got, err := svc.Adjust(ctx, retainerdomain.MovementRequest{
		OrgID:       orgID,
		RetainerID:  retainer.ID,
		Amount:      -1_500,
		Description: "billing correction",
	})
	require.NoError(t, err)
	require.Equal(t, int64(3_500), got.CurrentBalance)

	_, err = svc.Adjust(ctx, retainerdomain.MovementRequest{
		OrgID:      orgID,
		RetainerID: retainer.ID,
		Amount:     -10_000,
	})
	require.ErrorIs(t, err, retainerdomain.ErrInsufficientBalance)

	replay, err := svc.ReplayBalance(ctx, orgID, retainer.ID)
	require.NoError(t, err)
	require.True(t, replay.Consistent)
	require.Equal(t, int64(3_500), replay.ReplayedBalance)
}

func TestRetainerValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateRetainer(ctx, retainerdomain.CreateRetainerRequest{ClientID: 1, Amount: 100})
	require.ErrorIs(t, err, retainerdomain.ErrInvalidOrganization)

	_, err = svc.CreateRetainer(ctx, retainerdomain.CreateRetainerRequest{OrgID: 1, Amount: 100})
	require.ErrorIs(t, err, retainerdomain.ErrInvalidClient)

	_, err = svc.CreateRetainer(ctx, retainerdomain.CreateRetainerRequest{OrgID: 1, ClientID: 2})
	require.ErrorIs(t, err, retainerdomain.ErrInvalidAmount)

	_, err = svc.Draw(ctx, retainerdomain.MovementRequest{OrgID: 1, RetainerID: 2, Amount: 100})
	require.ErrorIs(t, err, retainerdomain.ErrInvalidInvoice)

	_, err = svc.Draw(ctx, retainerdomain.MovementRequest{OrgID: 1, RetainerID: 2, InvoiceID: invoiceRef(3), Amount: 0})
	require.ErrorIs(t, err, retainerdomain.ErrInvalidAmount)

	_, err = svc.Draw(ctx, retainerdomain.MovementRequest{OrgID: 1, RetainerID: 2, InvoiceID: invoiceRef(3), Amount: 100})
	require.ErrorIs(t, err, retainerdomain.ErrRetainerNotFound)
}
