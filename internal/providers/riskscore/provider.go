// Package riskscore predicts payment risk for an overdue invoice. Scores are
// consumed read-only by rule conditions and reporting; they never mutate
// ledger state.
package riskscore

import (
	"context"
)

// Input is the snapshot the scorer sees for one invoice.
type Input struct {
	AmountDueCents     int64   `json:"amount_due_cents"`
	DaysOverdue        int     `json:"days_overdue"`
	AvgDaysToPay       float64 `json:"avg_days_to_pay"`
	OnTimeRate         float64 `json:"on_time_rate"` // 0..1
	OutstandingBalance int64   `json:"outstanding_balance"`
	LatePayments       int     `json:"late_payments"`
	RecentFollowUps    int     `json:"recent_follow_ups"`
}

// Score is the provider's assessment.
type Score struct {
	RiskScore         float64  `json:"risk_score"` // 0..100
	PredictedDaysLate int      `json:"predicted_days_late"`
	ConfidenceLevel   float64  `json:"confidence_level"` // 0..1
	Factors           []string `json:"factors"`
}

// Provider scores one invoice.
type Provider interface {
	ScoreInvoice(ctx context.Context, in Input) (*Score, error)
}
