// Package eligibility drives one eligibility request from submission to a
// terminal state with a bounded number of polls.
package eligibility

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/responsibility-agent/internal/emr"
	"github.com/wolfman30/responsibility-agent/pkg/logging"
)

var tracer = otel.Tracer("responsibility.internal.eligibility")

const (
	defaultAttempts = 5
	defaultInterval = 2 * time.Second
)

// State is the lifecycle of one eligibility request.
type State string

const (
	StateSubmitted State = "submitted"
	StatePolling   State = "polling"
	StateResolved  State = "resolved"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether no further polls will happen.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateFailed || s == StateTimedOut
}

// Outcome is the terminal result of Check.
type Outcome struct {
	State     State
	RequestID string
	Coverage  *emr.Coverage // Set when State is resolved
	Reason    string        // Set when State is failed or timed out
	Polls     int
}

// Client is the subset of the PM client the poller uses.
type Client interface {
	SubmitEligibility(ctx context.Context, patientID, insuranceID string) (string, error)
	PollEligibility(ctx context.Context, requestID string) (*emr.EligibilityResult, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Poller submits an eligibility request and polls it to a terminal state.
type Poller struct {
	client   Client
	logger   *logging.Logger
	attempts int
	interval time.Duration
	sleep    SleepFunc
}

// NewPoller creates a poller with five attempts two seconds apart.
func NewPoller(client Client, logger *logging.Logger) *Poller {
	if logger == nil {
		logger = logging.Default()
	}
	return &Poller{
		client:   client,
		logger:   logger,
		attempts: defaultAttempts,
		interval: defaultInterval,
		sleep:    sleepContext,
	}
}

// WithAttempts sets the poll budget.
func (p *Poller) WithAttempts(n int) *Poller {
	if n > 0 {
		p.attempts = n
	}
	return p
}

// WithInterval sets the wait before each poll.
func (p *Poller) WithInterval(d time.Duration) *Poller {
	if d >= 0 {
		p.interval = d
	}
	return p
}

// WithSleep replaces the wait, mainly for tests.
func (p *Poller) WithSleep(fn SleepFunc) *Poller {
	if fn != nil {
		p.sleep = fn
	}
	return p
}

// Check submits an eligibility request for the pair and polls until it
// resolves, is rejected or the attempt budget runs out. Per-request problems
// come back as an Outcome; the error is reserved for an unrecoverable
// session or a cancelled context.
func (p *Poller) Check(ctx context.Context, patientID, insuranceID string) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "eligibility.check")
	defer span.End()
	span.SetAttributes(
		attribute.String("responsibility.patient_id", patientID),
		attribute.String("responsibility.insurance_id", insuranceID),
	)

	log := p.logger.With("patient_id", patientID, "insurance_id", insuranceID)

	requestID, err := p.client.SubmitEligibility(ctx, patientID, insuranceID)
	if err != nil {
		if fatal := fatalError(ctx, err); fatal != nil {
			return Outcome{}, fatal
		}
		log.Warn("eligibility submit failed", "error", err)
		return Outcome{State: StateFailed, Reason: fmt.Sprintf("submit: %v", err)}, nil
	}

	outcome := Outcome{State: StateSubmitted, RequestID: requestID}
	var lastErr error
	for outcome.Polls < p.attempts {
		if err := p.sleep(ctx, p.interval); err != nil {
			return outcome, err
		}
		outcome.State = StatePolling
		outcome.Polls++

		result, err := p.client.PollEligibility(ctx, requestID)
		if err != nil {
			if fatal := fatalError(ctx, err); fatal != nil {
				return outcome, fatal
			}
			lastErr = err
			log.Debug("eligibility poll error", "request_id", requestID, "poll", outcome.Polls, "error", err)
			continue
		}

		switch result.Status {
		case emr.EligibilityResolved:
			outcome.State = StateResolved
			outcome.Coverage = result.Coverage
			if outcome.Coverage == nil {
				outcome.Coverage = &emr.Coverage{}
			}
		case emr.EligibilityRejected:
			outcome.State = StateFailed
			outcome.Reason = result.Reason
			if outcome.Reason == "" {
				outcome.Reason = "eligibility rejected"
			}
		}
		if outcome.State.Terminal() {
			break
		}
	}

	if !outcome.State.Terminal() {
		outcome.State = StateTimedOut
		outcome.Reason = fmt.Sprintf("still pending after %d polls", outcome.Polls)
		if lastErr != nil {
			outcome.Reason = fmt.Sprintf("%s; last error: %v", outcome.Reason, lastErr)
		}
	}

	span.SetAttributes(
		attribute.String("eligibility.state", string(outcome.State)),
		attribute.Int("eligibility.polls", outcome.Polls),
	)
	log.Info("eligibility check finished", "request_id", requestID, "state", outcome.State, "polls", outcome.Polls)
	return outcome, nil
}

func fatalError(ctx context.Context, err error) error {
	if emr.IsAuthError(err) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
