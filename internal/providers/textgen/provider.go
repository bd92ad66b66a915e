// Package textgen drafts collection messages. The provider is treated as
// fallible: callers fall back to the deterministic template on any error, and
// drafted messages always land in review before anything is sent.
package textgen

import (
	"context"
	"time"
)

// Tones recognized by both providers.
const (
	ToneFriendly = "friendly"
	ToneFirm     = "firm"
	ToneUrgent   = "urgent"
)

// Request carries the invoice facts and client history the draft is built from.
type Request struct {
	ClientName       string
	InvoiceNumber    string
	AmountDueCents   int64
	DueDate          time.Time
	DaysOverdue      int
	Tone             string
	PaymentHistory   string
	OfferPaymentPlan bool
}

// Message is a drafted collection email.
type Message struct {
	Subject string
	Body    string
}

// Provider drafts a collection message for one overdue invoice.
type Provider interface {
	GenerateCollectionMessage(ctx context.Context, req Request) (*Message, error)
}
