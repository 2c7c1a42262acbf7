// Package notify delivers the end-of-run summary to billing staff by email.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/responsibility-agent/pkg/logging"
)

// DefaultFromName is used when no sender name is configured.
const DefaultFromName = "Responsibility Agent"

// CategoryRunSummary tags summary emails in the provider's analytics.
const CategoryRunSummary = "run-summary"

var errNoRecipients = errors.New("notify: message has no recipients")

// EmailSender delivers one message to all of its recipients.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is one outgoing email. Text is required; HTML is optional.
type EmailMessage struct {
	To       []string
	Subject  string
	Text     string
	HTML     string
	Category string
}

type sendgridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridSender sends through the SendGrid v3 API.
type SendGridSender struct {
	client    sendgridClient
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = DefaultFromName
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

// Send addresses every recipient in a single personalization.
func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return errors.New("notify: sendgrid client not configured")
	}
	if len(msg.To) == 0 {
		return errNoRecipients
	}

	p := mail.NewPersonalization()
	for _, to := range msg.To {
		p.AddTos(mail.NewEmail("", to))
	}
	m := mail.NewV3Mail().
		SetFrom(mail.NewEmail(s.fromName, s.fromEmail)).
		AddPersonalizations(p).
		AddContent(mail.NewContent("text/plain", msg.Text))
	m.Subject = msg.Subject
	if msg.HTML != "" {
		m.AddContent(mail.NewContent("text/html", msg.HTML))
	}
	if msg.Category != "" {
		m.AddCategories(msg.Category)
	}

	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		s.logger.Error("sendgrid rejected summary", "status", resp.StatusCode, "body", resp.Body)
		return fmt.Errorf("notify: sendgrid returned status %d", resp.StatusCode)
	}
	s.logger.Info("summary email sent", "provider", "sendgrid", "recipients", len(msg.To), "status", resp.StatusCode)
	return nil
}

// StubEmailSender records messages instead of sending them.
type StubEmailSender struct {
	logger *logging.Logger
	Sent   []EmailMessage
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	if len(msg.To) == 0 {
		return errNoRecipients
	}
	s.Sent = append(s.Sent, msg)
	s.logger.Info("stub email sender: summary not sent", "to", strings.Join(msg.To, ","), "subject", msg.Subject)
	return nil
}
