package riskscore

import (
	"context"
	"fmt"
)

// HeuristicProvider scores invoices from client analytics alone. Used when no
// scoring endpoint is configured; deterministic so rule evaluation stays
// reproducible under test.
type HeuristicProvider struct{}

func NewHeuristicProvider() *HeuristicProvider {
	return &HeuristicProvider{}
}

func (p *HeuristicProvider) ScoreInvoice(_ context.Context, in Input) (*Score, error) {
	score := 0.0
	factors := make([]string, 0, 4)

	// late-payment track record dominates
	if in.OnTimeRate < 1 {
		pts := (1 - in.OnTimeRate) * 40
		score += pts
		factors = append(factors, fmt.Sprintf("on-time rate %.0f%%", in.OnTimeRate*100))
	}

	switch {
	case in.DaysOverdue > 60:
		score += 30
		factors = append(factors, fmt.Sprintf("%d days overdue", in.DaysOverdue))
	case in.DaysOverdue > 30:
		score += 20
		factors = append(factors, fmt.Sprintf("%d days overdue", in.DaysOverdue))
	case in.DaysOverdue > 0:
		score += 10
	}

	if in.OutstandingBalance > 0 && in.AmountDueCents > 0 &&
		in.OutstandingBalance > in.AmountDueCents*2 {
		score += 15
		factors = append(factors, "high outstanding balance across invoices")
	}

	if in.LatePayments >= 3 {
		score += 15
		factors = append(factors, fmt.Sprintf("%d prior late payments", in.LatePayments))
	}

	if score > 100 {
		score = 100
	}

	predicted := in.DaysOverdue
	if in.AvgDaysToPay > float64(predicted) {
		predicted = int(in.AvgDaysToPay)
	}

	return &Score{
		RiskScore:         score,
		PredictedDaysLate: predicted,
		ConfidenceLevel:   0.5, // heuristic, not a model
		Factors:           factors,
	}, nil
}
