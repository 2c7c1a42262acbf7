package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/wolfman30/responsibility-agent/internal/summary"
	"github.com/wolfman30/responsibility-agent/pkg/logging"
)

// SummaryNotifier emails the end-of-run report. It implements summary.Publisher.
type SummaryNotifier struct {
	email         EmailSender
	recipients    []string
	onlyOnFailure bool
	logger        *logging.Logger
}

// NewSummaryNotifier returns nil when there is no sender or no recipient.
func NewSummaryNotifier(email EmailSender, recipients []string, logger *logging.Logger) *SummaryNotifier {
	var to []string
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			to = append(to, r)
		}
	}
	if email == nil || len(to) == 0 {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SummaryNotifier{email: email, recipients: to, logger: logger}
}

// OnlyOnFailure limits emails to runs that aborted or have records needing follow-up.
func (n *SummaryNotifier) OnlyOnFailure(v bool) *SummaryNotifier {
	n.onlyOnFailure = v
	return n
}

func (n *SummaryNotifier) Name() string { return "email" }

// Publish sends the report as a single message to all recipients.
func (n *SummaryNotifier) Publish(ctx context.Context, sum *summary.Summary) error {
	if sum == nil {
		return errors.New("notify: summary is nil")
	}
	if n.onlyOnFailure && sum.Completed() && sum.Failed() == 0 {
		n.logger.Debug("run clean; summary email skipped", "run_id", sum.RunID)
		return nil
	}

	report := sum.Report()
	msg := EmailMessage{
		To:       n.recipients,
		Subject:  Subject(sum),
		Text:     report,
		HTML:     "<pre style=\"font-family:monospace\">" + html.EscapeString(report) + "</pre>",
		Category: CategoryRunSummary,
	}
	if err := n.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: send summary for run %s: %w", sum.RunID, err)
	}
	return nil
}

// Subject summarises the run in one line.
func Subject(sum *summary.Summary) string {
	prefix := "[responsibility-agent]"
	if sum.DryRun {
		prefix += " [dry run]"
	}
	if !sum.Completed() {
		return fmt.Sprintf("%s Run %s ABORTED", prefix, shortID(sum.RunID))
	}
	return fmt.Sprintf("%s %d memos posted, %d need follow-up", prefix, sum.Succeeded(), sum.Failed())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
