package textgen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

const systemPrompt = `You draft short collection emails for Permitwise, a permit-expediting firm.
Write in the requested tone. Never invent amounts, dates or terms beyond the facts given.
Reply with exactly one line "Subject: <subject>", then a blank line, then the email body.`

var errEmptyCompletion = errors.New("empty completion")

// AnthropicProvider drafts messages through the Anthropic API.
type AnthropicProvider struct {
	client sdk.Client
	model  string
	log    *zap.Logger
}

func NewAnthropicProvider(apiKey, model string, log *zap.Logger) *AnthropicProvider {
	return &AnthropicProvider{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		log:    log.Named("textgen.anthropic"),
	}
}

func (p *AnthropicProvider) GenerateCollectionMessage(ctx context.Context, req Request) (*Message, error) {
	msg, err := p.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: 1024,
		System: []sdk.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(buildPrompt(req))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic message: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	parsed, err := parseCompletion(text.String())
	if err != nil {
		return nil, err
	}

	p.log.Debug("textgen.completion",
		zap.String("model", p.model),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
	)
	return parsed, nil
}

func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Client: %s\n", req.ClientName)
	fmt.Fprintf(&b, "Invoice: %s\n", req.InvoiceNumber)
	fmt.Fprintf(&b, "Amount due: %s\n", formatCents(req.AmountDueCents))
	fmt.Fprintf(&b, "Due date: %s\n", req.DueDate.Format("2006-01-02"))
	fmt.Fprintf(&b, "Days overdue: %d\n", req.DaysOverdue)
	fmt.Fprintf(&b, "Tone: %s\n", req.Tone)
	if req.PaymentHistory != "" {
		fmt.Fprintf(&b, "Payment history: %s\n", req.PaymentHistory)
	}
	if req.OfferPaymentPlan {
		b.WriteString("Offer a payment plan.\n")
	}
	return b.String()
}

func parseCompletion(raw string) (*Message, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errEmptyCompletion
	}

	subject := ""
	body := raw
	if idx := strings.Index(raw, "\n"); idx > 0 {
		first := strings.TrimSpace(raw[:idx])
		if rest, ok := strings.CutPrefix(first, "Subject:"); ok {
			subject = strings.TrimSpace(rest)
			body = strings.TrimSpace(raw[idx+1:])
		}
	}
	if subject == "" {
		return nil, fmt.Errorf("completion missing subject line")
	}
	if body == "" {
		return nil, errEmptyCompletion
	}
	return &Message{Subject: subject, Body: body}, nil
}
