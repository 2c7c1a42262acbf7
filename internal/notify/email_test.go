package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

func summaryMessage() EmailMessage {
	return EmailMessage{
		To:       []string{"billing@example.com", "ops@example.com"},
		Subject:  "Run",
		Text:     "report",
		HTML:     "<pre>report</pre>",
		Category: CategoryRunSummary,
	}
}

func TestNewSendGridSender(t *testing.T) {
	if s := NewSendGridSender(SendGridConfig{FromEmail: "agent@example.com"}, nil); s != nil {
		t.Error("expected nil sender when API key is empty")
	}
	s := NewSendGridSender(SendGridConfig{APIKey: "k", FromEmail: "agent@example.com"}, nil)
	if s == nil {
		t.Fatal("expected non-nil sender")
	}
	if s.fromName != DefaultFromName {
		t.Errorf("expected default from name %q, got %q", DefaultFromName, s.fromName)
	}
}

type fakeSendGrid struct {
	status int
	err    error
	got    *mail.SGMailV3
}

func (f *fakeSendGrid) SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	f.got = email
	if f.err != nil {
		return nil, f.err
	}
	return &rest.Response{StatusCode: f.status}, nil
}

func TestSendGridSender_Send(t *testing.T) {
	client := &fakeSendGrid{status: 202}
	sender := NewSendGridSender(SendGridConfig{APIKey: "k", FromEmail: "agent@example.com"}, nil)
	sender.client = client

	if err := sender.Send(context.Background(), summaryMessage()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := client.got
	if got == nil || got.Subject != "Run" {
		t.Fatalf("expected message with subject, got %+v", got)
	}
	if got.From.Address != "agent@example.com" {
		t.Errorf("unexpected from: %s", got.From.Address)
	}
	if len(got.Personalizations) != 1 || len(got.Personalizations[0].To) != 2 {
		t.Fatalf("expected one personalization with two recipients, got %+v", got.Personalizations)
	}
	if len(got.Content) != 2 || got.Content[0].Type != "text/plain" || got.Content[1].Type != "text/html" {
		t.Errorf("expected text then html content, got %+v", got.Content)
	}
	if len(got.Categories) != 1 || got.Categories[0] != CategoryRunSummary {
		t.Errorf("unexpected categories %v", got.Categories)
	}
}

func TestSendGridSender_SendErrors(t *testing.T) {
	for _, client := range []*fakeSendGrid{{status: 401}, {err: errors.New("dial tcp: timeout")}} {
		sender := NewSendGridSender(SendGridConfig{APIKey: "k", FromEmail: "agent@example.com"}, nil)
		sender.client = client
		if err := sender.Send(context.Background(), summaryMessage()); err == nil {
			t.Errorf("expected error for %+v", client)
		}
	}

	if err := (&SendGridSender{}).Send(context.Background(), summaryMessage()); err == nil {
		t.Error("expected error when client is nil")
	}
	sender := NewSendGridSender(SendGridConfig{APIKey: "k"}, nil)
	sender.client = &fakeSendGrid{status: 202}
	if err := sender.Send(context.Background(), EmailMessage{Subject: "Run"}); !errors.Is(err, errNoRecipients) {
		t.Errorf("expected no recipients error, got %v", err)
	}
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESSender_Send(t *testing.T) {
	client := &fakeSES{}
	sender := NewSESSender(client, SESConfig{FromEmail: "agent@example.com"}, nil)

	if err := sender.Send(context.Background(), summaryMessage()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	in := client.input
	if got := aws.ToString(in.FromEmailAddress); got != "Responsibility Agent <agent@example.com>" {
		t.Errorf("unexpected from: %s", got)
	}
	if got := in.Destination.ToAddresses; len(got) != 2 || got[0] != "billing@example.com" {
		t.Errorf("unexpected to: %v", got)
	}
	if in.Content.Simple.Body.Html == nil || in.Content.Simple.Body.Text == nil {
		t.Error("expected both text and html bodies")
	}
	if len(in.EmailTags) != 1 || aws.ToString(in.EmailTags[0].Value) != CategoryRunSummary {
		t.Errorf("unexpected tags %+v", in.EmailTags)
	}
}

func TestSESSender_TextOnly(t *testing.T) {
	client := &fakeSES{}
	sender := NewSESSender(client, SESConfig{FromEmail: "agent@example.com", FromName: "Billing Bot"}, nil)

	if err := sender.Send(context.Background(), EmailMessage{To: []string{"billing@example.com"}, Subject: "Run", Text: "report"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.input.Content.Simple.Body.Html != nil {
		t.Error("html body should be omitted")
	}
	if client.input.EmailTags != nil {
		t.Error("tags should be omitted without a category")
	}
	if got := aws.ToString(client.input.FromEmailAddress); got != "Billing Bot <agent@example.com>" {
		t.Errorf("unexpected from: %s", got)
	}
}

func TestSESSender_SendError(t *testing.T) {
	rejected := errors.New("MessageRejected")
	sender := NewSESSender(&fakeSES{err: rejected}, SESConfig{FromEmail: "agent@example.com"}, nil)
	if err := sender.Send(context.Background(), summaryMessage()); !errors.Is(err, rejected) {
		t.Errorf("expected wrapped error, got %v", err)
	}
	if s := NewSESSender(nil, SESConfig{}, nil); s != nil {
		t.Error("expected nil sender without client")
	}
}

func TestStubEmailSender_Send(t *testing.T) {
	sender := NewStubEmailSender(nil)

	if err := sender.Send(context.Background(), summaryMessage()); err != nil {
		t.Errorf("stub sender should not return error, got: %v", err)
	}
	if len(sender.Sent) != 1 {
		t.Errorf("expected stub to record the message")
	}
	if err := sender.Send(context.Background(), EmailMessage{}); err == nil {
		t.Error("expected error without recipients")
	}
}
