package textgen

import (
	"context"
	"fmt"
	"strings"
)

// TemplateProvider renders a deterministic collection message. It is the
// default when no API key is configured and the fallback when the model call
// fails.
type TemplateProvider struct{}

func NewTemplateProvider() *TemplateProvider {
	return &TemplateProvider{}
}

func (p *TemplateProvider) GenerateCollectionMessage(_ context.Context, req Request) (*Message, error) {
	msg := RenderTemplate(req)
	return &msg, nil
}

// RenderTemplate builds the templated message without any external call.
func RenderTemplate(req Request) Message {
	amount := formatCents(req.AmountDueCents)
	var subject string
	var b strings.Builder

	switch req.Tone {
	case ToneUrgent:
		subject = fmt.Sprintf("Urgent: invoice %s is %d days past due", req.InvoiceNumber, req.DaysOverdue)
		fmt.Fprintf(&b, "Dear %s,\n\n", req.ClientName)
		fmt.Fprintf(&b, "Invoice %s for %s was due on %s and is now %d days past due. ",
			req.InvoiceNumber, amount, req.DueDate.Format("January 2, 2006"), req.DaysOverdue)
		b.WriteString("Please arrange payment immediately to avoid interruption of permit services on your active projects.")
	case ToneFirm:
		subject = fmt.Sprintf("Past due: invoice %s (%s)", req.InvoiceNumber, amount)
		fmt.Fprintf(&b, "Dear %s,\n\n", req.ClientName)
		fmt.Fprintf(&b, "Our records show invoice %s for %s, due %s, remains unpaid (%d days past due). ",
			req.InvoiceNumber, amount, req.DueDate.Format("January 2, 2006"), req.DaysOverdue)
		b.WriteString("Please remit payment at your earliest convenience or let us know when we can expect it.")
	default:
		subject = fmt.Sprintf("Friendly reminder: invoice %s", req.InvoiceNumber)
		fmt.Fprintf(&b, "Hi %s,\n\n", req.ClientName)
		fmt.Fprintf(&b, "Just a friendly reminder that invoice %s for %s was due on %s. ",
			req.InvoiceNumber, amount, req.DueDate.Format("January 2, 2006"))
		b.WriteString("If payment is already on its way, please disregard this note.")
	}

	if req.OfferPaymentPlan {
		b.WriteString("\n\nIf it would help, we are happy to discuss a payment plan.")
	}
	b.WriteString("\n\nThank you,\nPermitwise Billing")

	return Message{Subject: subject, Body: b.String()}
}

func formatCents(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
