package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voyagehq/concierge-agent/internal/mailer"
)

// Email is the result of send_email.
type Email struct {
	ID             string `json:"id"`
	To             string `json:"to"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	Status         string `json:"status"`
	SentAt         string `json:"sentAt"`
	DeliveryStatus string `json:"deliveryStatus,omitempty"`
}

// handleSendEmail delivers through the configured SMTP server, or
// queues a simulated message when none is set up. Either way the
// request is validated first so approval prompts never gate garbage.
func (r *Registry) handleSendEmail(ctx context.Context, args map[string]any) (any, error) {
	to := stringArg(args, "to")
	subject := stringArg(args, "subject")
	body := stringArg(args, "body")

	if !strings.Contains(to, "@") {
		return nil, fmt.Errorf("Invalid recipient email address")
	}
	if strings.TrimSpace(subject) == "" {
		return nil, fmt.Errorf("Email subject cannot be empty")
	}
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("Email body cannot be empty")
	}

	result := Email{
		ID:      "email_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14],
		To:      to,
		Subject: subject,
		Body:    body,
		SentAt:  time.Now().UTC().Format(time.RFC3339),
	}

	if !r.deps.SMTP.Configured() {
		result.Status = "queued"
		result.DeliveryStatus = "pending"
		return result, nil
	}

	msg, err := mailer.Compose(mailer.ComposeOptions{
		From:    r.deps.SMTP.From,
		To:      []string{to},
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		return nil, fmt.Errorf("compose email: %w", err)
	}
	if err := mailer.Send(ctx, r.deps.SMTP, []string{to}, msg); err != nil {
		return nil, fmt.Errorf("send email: %w", err)
	}

	result.Status = "sent"
	result.DeliveryStatus = "delivered"
	return result, nil
}
