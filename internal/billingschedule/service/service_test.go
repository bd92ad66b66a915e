package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	billingscheduledomain "github.com/permitwise/billingcore/internal/billingschedule/domain"
	"github.com/permitwise/billingcore/internal/clock"
	invoicingdomain "github.com/permitwise/billingcore/internal/invoicing/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	// SQLite support hack: remove FOR UPDATE clauses from the claim query
	err = db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked", func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&billingscheduledomain.BillingSchedule{},
		&billingscheduledomain.BillingRequest{},
		&invoicingdomain.Invoice{},
		&invoicingdomain.Project{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC))
	svc := &Service{
		db:    db,
		log:   zap.NewNop(),
		genID: node,
		clock: fake,
	}
	return svc, db, fake
}

func createSchedule(t *testing.T, svc *Service, req billingscheduledomain.CreateScheduleRequest) *billingscheduledomain.BillingSchedule {
	t.Helper()
	if req.OrgID == 0 {
		req.OrgID = 100
	}
	if req.ProjectID == 0 {
		req.ProjectID = 300
	}
	if req.ClientID == 0 {
		req.ClientID = 200
	}
	if req.ServiceDescription == "" {
		req.ServiceDescription = "monthly permit monitoring"
	}
	schedule, err := svc.CreateSchedule(context.Background(), req)
	require.NoError(t, err)
	return schedule
}

func TestRunDueMonthlyClampsToMonthEnd(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	schedule := createSchedule(t, svc, billingscheduledomain.CreateScheduleRequest{
		BillingMethod: billingscheduledomain.BillingMethodFlat,
		BillingValue:  50_000,
		Frequency:     billingscheduledomain.FrequencyMonthly,
		FirstBillDate: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	})

	now := time.Date(2024, 2, 5, 6, 0, 0, 0, time.UTC)
	results, err := svc.RunDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, billingscheduledomain.OutcomeBilled, results[0].Outcome)

	var got billingscheduledomain.BillingSchedule
	require.NoError(t, db.First(&got, "id = ?", schedule.ID).Error)
	// Jan 31 + 1 month lands on the leap-year Feb 29, never skips into March
	require.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), got.NextBillDate.UTC())
	require.Equal(t, 1, got.OccurrencesCompleted)
	require.NotNil(t, got.LastBilledAt)
}

func TestRunDueLateWeeklyRunDoesNotDrift(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	schedule := createSchedule(t, svc, billingscheduledomain.CreateScheduleRequest{
		BillingMethod: billingscheduledomain.BillingMethodFlat,
		BillingValue:  25_000,
		Frequency:     billingscheduledomain.FrequencyWeekly,
		FirstBillDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})

	// run four days late
	now := time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC)
	results, err := svc.RunDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, billingscheduledomain.OutcomeBilled, results[0].Outcome)

	var got billingscheduledomain.BillingSchedule
	require.NoError(t, db.First(&got, "id = ?", schedule.ID).Error)
	// advances from the old next_bill_date: 03-08, not 03-12
	require.Equal(t, time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), got.NextBillDate.UTC())

	var requests []billingscheduledomain.BillingRequest
	require.NoError(t, db.Find(&requests, "schedule_id = ?", schedule.ID).Error)
	require.Len(t, requests, 1)
	require.Equal(t, int64(25_000), requests[0].Amount)
}

func TestRunDueExhaustedScheduleDeactivates(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	max := 3
	schedule := createSchedule(t, svc, billingscheduledomain.CreateScheduleRequest{
		BillingMethod:  billingscheduledomain.BillingMethodFlat,
		BillingValue:   10_000,
		Frequency:      billingscheduledomain.FrequencyWeekly,
		FirstBillDate:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		MaxOccurrences: &max,
	})
	require.NoError(t, db.Model(&billingscheduledomain.BillingSchedule{}).
		Where("id = ?", schedule.ID).
		Update("occurrences_completed", 3).Error)

	results, err := svc.RunDue(ctx, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, billingscheduledomain.OutcomeDeactivated, results[0].Outcome)

	var got billingscheduledomain.BillingSchedule
	require.NoError(t, db.First(&got, "id = ?", schedule.ID).Error)
	require.False(t, got.IsActive)
	require.Equal(t, 3, got.OccurrencesCompleted)

	var count int64
	require.NoError(t, db.Model(&billingscheduledomain.BillingRequest{}).
		Where("schedule_id = ?", schedule.ID).Count(&count).Error)
	require.Zero(t, count)

	// deactivated schedules are never picked up again
	results, err = svc.RunDue(ctx, time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestRunDueAutoApproveCreatesReadyInvoice(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	schedule := createSchedule(t, svc, billingscheduledomain.CreateScheduleRequest{
		BillingMethod: billingscheduledomain.BillingMethodFlat,
		BillingValue:  75_000,
		Frequency:     billingscheduledomain.FrequencyMonthly,
		FirstBillDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		AutoApprove:   true,
	})

	results, err := svc.RunDue(ctx, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotZero(t, results[0].InvoiceID)

	var request billingscheduledomain.BillingRequest
	require.NoError(t, db.First(&request, "schedule_id = ?", schedule.ID).Error)
	require.Equal(t, billingscheduledomain.BillingRequestStatusApproved, request.Status)

	var invoice invoicingdomain.Invoice
	require.NoError(t, db.First(&invoice, "id = ?", results[0].InvoiceID).Error)
	require.Equal(t, invoicingdomain.InvoiceStatusReady, invoice.Status)
	require.Equal(t, int64(75_000), invoice.TotalDue)
	require.NotNil(t, invoice.BillingRequestID)
	require.Equal(t, request.ID, *invoice.BillingRequestID)
}

func TestRunDuePercentageOfContractValue(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	project := invoicingdomain.Project{
		ID:            300,
		OrgID:         100,
		ClientID:      200,
		Name:          "warehouse expansion",
		ContractValue: 10_000_000, // $100,000
		CreatedAt:     time.Now(),
	}
	require.NoError(t, db.Create(&project).Error)

	schedule := createSchedule(t, svc, billingscheduledomain.CreateScheduleRequest{
		BillingMethod: billingscheduledomain.BillingMethodPercentage,
		BillingValue:  500, // 5%
		Frequency:     billingscheduledomain.FrequencyQuarterly,
		FirstBillDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	results, err := svc.RunDue(ctx, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, results, 1)

	var request billingscheduledomain.BillingRequest
	require.NoError(t, db.First(&request, "schedule_id = ?", schedule.ID).Error)
	require.Equal(t, int64(500_000), request.Amount)

	var got billingscheduledomain.BillingSchedule
	require.NoError(t, db.First(&got, "id = ?", schedule.ID).Error)
	require.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), got.NextBillDate.UTC())
}

func TestRunDueMissedPeriodsCatchUpOnePerRun(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	schedule := createSchedule(t, svc, billingscheduledomain.CreateScheduleRequest{
		BillingMethod: billingscheduledomain.BillingMethodFlat,
		BillingValue:  10_000,
		Frequency:     billingscheduledomain.FrequencyWeekly,
		FirstBillDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	// three periods behind: each run produces exactly one request
	now := time.Date(2024, 1, 21, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		results, err := svc.RunDue(ctx, now)
		require.NoError(t, err)
		require.Len(t, results, 1)
		require.Equal(t, billingscheduledomain.OutcomeBilled, results[0].Outcome)
	}

	var count int64
	require.NoError(t, db.Model(&billingscheduledomain.BillingRequest{}).
		Where("schedule_id = ?", schedule.ID).Count(&count).Error)
	require.Equal(t, int64(3), count)

	// caught up: next_bill_date is now in the future, nothing more fires
	results, err := svc.RunDue(ctx, now)
	require.NoError(t, err)
	require.Empty(t, results)

	var got billingscheduledomain.BillingSchedule
	require.NoError(t, db.First(&got, "id = ?", schedule.ID).Error)
	require.Equal(t, time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC), got.NextBillDate.UTC())
}

func TestRunDueFailedUnitDoesNotAbortBatch(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	// percentage schedule without a project row fails its unit
	createSchedule(t, svc, billingscheduledomain.CreateScheduleRequest{
		ProjectID:     999,
		BillingMethod: billingscheduledomain.BillingMethodPercentage,
		BillingValue:  500,
		Frequency:     billingscheduledomain.FrequencyMonthly,
		FirstBillDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	healthy := createSchedule(t, svc, billingscheduledomain.CreateScheduleRequest{
		BillingMethod: billingscheduledomain.BillingMethodFlat,
		BillingValue:  10_000,
		Frequency:     billingscheduledomain.FrequencyWeekly,
		FirstBillDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	results, err := svc.RunDue(ctx, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	require.Len(t, results, 2)

	outcomes := map[snowflake.ID]billingscheduledomain.Outcome{}
	for _, r := range results {
		outcomes[r.ScheduleID] = r.Outcome
	}
	require.Equal(t, billingscheduledomain.OutcomeBilled, outcomes[healthy.ID])

	var count int64
	require.NoError(t, db.Model(&billingscheduledomain.BillingRequest{}).
		Where("schedule_id = ?", healthy.ID).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestAddMonthsClamped(t *testing.T) {
	cases := []struct {
		in     time.Time
		months int
		want   time.Time
	}{
		{time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 11, 30, 0, 0, 0, 0, time.UTC), 3, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC), 1, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, addMonthsClamped(tc.in, tc.months), "in=%s months=%d", tc.in, tc.months)
	}
}
