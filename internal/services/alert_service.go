package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// EmailAlertService emails operators when a lockout fires, using AWS SES.
// Its Notify method satisfies LockoutHandler.
type EmailAlertService struct {
	sesClient   *ses.Client
	fromAddress string
	toAddresses []string
	logger      *slog.Logger
}

// NewEmailAlertService creates an SES-backed lockout alert sender.
func NewEmailAlertService(region, fromAddress string, toAddresses []string, logger *slog.Logger) (*EmailAlertService, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &EmailAlertService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		toAddresses: toAddresses,
		logger:      logger,
	}, nil
}

// Notify sends the lockout alert email. Delivery failures are logged and
// swallowed so they never reach the verdict path.
func (s *EmailAlertService) Notify(ctx context.Context, event LockoutEvent) {
	subject := fmt.Sprintf("Login lockout: %s", describeIdentity(event))

	textBody := fmt.Sprintf(`A login identity has been locked out.

Username:        %s
IP address:      %s
Scope:           %s (%s)
Failed attempts: %d
Locked at:       %s
Lock lapses at:  %s

The lock lifts on its own once the cooloff passes, or an operator can reset
it early through the admin API.
`,
		orDash(event.Username),
		orDash(event.IPAddress),
		event.ScopeKey,
		event.ScopeKind,
		event.FailureCount,
		event.LockedAt.UTC().Format(time.RFC3339),
		event.ExpiresAt.UTC().Format(time.RFC3339))

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
    <h2>Login lockout</h2>
    <table cellpadding="4">
        <tr><td><strong>Username</strong></td><td>%s</td></tr>
        <tr><td><strong>IP address</strong></td><td>%s</td></tr>
        <tr><td><strong>Scope</strong></td><td>%s (%s)</td></tr>
        <tr><td><strong>Failed attempts</strong></td><td>%d</td></tr>
        <tr><td><strong>Locked at</strong></td><td>%s</td></tr>
        <tr><td><strong>Lock lapses at</strong></td><td>%s</td></tr>
    </table>
    <p>The lock lifts on its own once the cooloff passes, or an operator can
    reset it early through the admin API.</p>
</body>
</html>`,
		orDash(event.Username),
		orDash(event.IPAddress),
		event.ScopeKey,
		event.ScopeKind,
		event.FailureCount,
		event.LockedAt.UTC().Format(time.RFC3339),
		event.ExpiresAt.UTC().Format(time.RFC3339))

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: s.toAddresses,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send lockout alert email",
			slog.String("event_id", event.ID.String()),
			slog.Any("error", err))
		return
	}

	s.logger.Info("lockout alert email sent",
		slog.String("event_id", event.ID.String()),
		slog.String("message_id", *result.MessageId))
}

// WebhookAlertService POSTs lockout events as JSON to a configured URL,
// typically a chat integration or a SIEM collector. Its Notify method
// satisfies LockoutHandler.
type WebhookAlertService struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookAlertService creates a webhook lockout alert sender.
func NewWebhookAlertService(url string, logger *slog.Logger) *WebhookAlertService {
	return &WebhookAlertService{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Notify posts the event. Delivery failures are logged and swallowed.
func (s *WebhookAlertService) Notify(ctx context.Context, event LockoutEvent) {
	if s.url == "" {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"text": fmt.Sprintf("Login lockout: %s after %d failed attempts",
			describeIdentity(event), event.FailureCount),
		"event": event,
	})
	if err != nil {
		s.logger.Error("failed to marshal lockout webhook payload",
			slog.Any("error", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		s.logger.Error("failed to build lockout webhook request",
			slog.Any("error", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("lockout webhook request failed",
			slog.Any("error", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		s.logger.Error("lockout webhook rejected",
			slog.String("event_id", event.ID.String()),
			slog.Int("status", resp.StatusCode))
		return
	}

	s.logger.Debug("lockout webhook delivered",
		slog.String("event_id", event.ID.String()))
}

func describeIdentity(event LockoutEvent) string {
	switch {
	case event.Username != "" && event.IPAddress != "":
		return fmt.Sprintf("%s from %s", event.Username, event.IPAddress)
	case event.Username != "":
		return event.Username
	case event.IPAddress != "":
		return event.IPAddress
	default:
		return event.ScopeKey
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
