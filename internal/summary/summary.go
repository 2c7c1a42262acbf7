// Package summary aggregates per-record outcomes of one run into the
// operator-facing report.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/wolfman30/responsibility-agent/internal/responsibility"
	"github.com/wolfman30/responsibility-agent/internal/serviceline"
)

// Outcome is the terminal result of one patient or insurance record.
type Outcome string

const (
	OutcomeSucceeded                Outcome = "succeeded"
	OutcomeSkippedNoAppointment     Outcome = "skipped-no-appointment"
	OutcomeSkippedNoInsurance       Outcome = "skipped-no-insurance"
	OutcomeSkippedInactiveInsurance Outcome = "skipped-inactive-insurance"
	OutcomeSkippedDuplicate         Outcome = "skipped-duplicate"
	OutcomeAppointmentLookupFailed  Outcome = "appointment-lookup-failed"
	OutcomeEligibilityFailed        Outcome = "eligibility-failed"
	OutcomeEligibilityTimedOut      Outcome = "eligibility-timed-out"
	OutcomeUnresolved               Outcome = "unresolved-responsibility"
	OutcomePostFailed               Outcome = "post-failed"
)

// Outcomes lists every outcome in report order.
var Outcomes = []Outcome{
	OutcomeSucceeded,
	OutcomeSkippedNoAppointment,
	OutcomeSkippedNoInsurance,
	OutcomeSkippedInactiveInsurance,
	OutcomeSkippedDuplicate,
	OutcomeAppointmentLookupFailed,
	OutcomeEligibilityFailed,
	OutcomeEligibilityTimedOut,
	OutcomeUnresolved,
	OutcomePostFailed,
}

// Skipped reports whether the record was filtered out rather than attempted.
func (o Outcome) Skipped() bool {
	return strings.HasPrefix(string(o), "skipped-")
}

// Failed reports whether the record needs operator attention.
func (o Outcome) Failed() bool {
	return o != OutcomeSucceeded && !o.Skipped()
}

// Record is the result for one patient (filter outcomes) or one insurance record.
type Record struct {
	PatientID    string  `json:"patient_id"`
	PatientName  string  `json:"patient_name,omitempty"`
	InsuranceID  string  `json:"insurance_id,omitempty"`
	CarrierName  string  `json:"carrier_name,omitempty"`
	PayerType    string  `json:"payer_type,omitempty"`
	Outcome      Outcome `json:"outcome"`
	Step         string  `json:"step,omitempty"`
	Reason       string  `json:"reason,omitempty"`
	ServiceLine  string  `json:"service_line,omitempty"`
	LookupFailed bool    `json:"lookup_failed,omitempty"`
	AmountCents  int64   `json:"amount_cents,omitempty"`
	Basis        string  `json:"basis,omitempty"`
	Memo         string  `json:"memo,omitempty"`
	DryRun       bool    `json:"dry_run,omitempty"`
}

// Summary is the result of one run. It is mutated only by the pipeline
// goroutine and read after Finalize.
type Summary struct {
	RunID           string          `json:"run_id"`
	StartedAt       time.Time       `json:"started_at"`
	EndedAt         time.Time       `json:"ended_at"`
	LookbackHours   int             `json:"lookback_hours"`
	DryRun          bool            `json:"dry_run"`
	PatientsFetched int             `json:"patients_fetched"`
	PatientsQueued  int             `json:"patients_queued"`
	Counts          map[Outcome]int `json:"counts"`
	LookupFailures  int             `json:"lookup_failures"`
	Records         []Record        `json:"records"`
	FatalError      string          `json:"fatal_error,omitempty"`
}

// New starts an empty summary.
func New(runID string, startedAt time.Time) *Summary {
	return &Summary{
		RunID:     runID,
		StartedAt: startedAt,
		Counts:    make(map[Outcome]int, len(Outcomes)),
		Records:   make([]Record, 0),
	}
}

// Add folds one record into the counters.
func (s *Summary) Add(r Record) {
	s.Counts[r.Outcome]++
	if r.LookupFailed {
		s.LookupFailures++
	}
	s.Records = append(s.Records, r)
}

// Count returns the number of records with the outcome.
func (s *Summary) Count(o Outcome) int {
	return s.Counts[o]
}

// Succeeded returns the number of memos posted.
func (s *Summary) Succeeded() int {
	return s.Counts[OutcomeSucceeded]
}

// Skipped returns the number of records filtered out.
func (s *Summary) Skipped() int {
	total := 0
	for o, n := range s.Counts {
		if o.Skipped() {
			total += n
		}
	}
	return total
}

// Failed returns the number of records that need follow-up.
func (s *Summary) Failed() int {
	total := 0
	for o, n := range s.Counts {
		if o.Failed() {
			total += n
		}
	}
	return total
}

// Total returns the number of records.
func (s *Summary) Total() int {
	return len(s.Records)
}

// Finalize stamps the end time and the fatal error, if any.
func (s *Summary) Finalize(endedAt time.Time, fatal error) {
	s.EndedAt = endedAt
	if fatal != nil {
		s.FatalError = fatal.Error()
	}
}

// Completed reports whether the run reached the end of the batch.
func (s *Summary) Completed() bool {
	return s.FatalError == ""
}

// Duration returns the wall time of a finalized run.
func (s *Summary) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Report renders the human-readable end-of-run report.
func (s *Summary) Report() string {
	var b strings.Builder
	status := "completed"
	if !s.Completed() {
		status = "aborted"
	}
	fmt.Fprintf(&b, "Run %s %s in %s\n", s.RunID, status, s.Duration().Round(time.Millisecond))
	if s.DryRun {
		b.WriteString("Dry run: memos were not posted\n")
	}
	fmt.Fprintf(&b, "Patients fetched: %d, queued for processing: %d\n", s.PatientsFetched, s.PatientsQueued)
	fmt.Fprintf(&b, "Succeeded: %d  Skipped: %d  Failed: %d\n", s.Succeeded(), s.Skipped(), s.Failed())
	for _, o := range Outcomes {
		if n := s.Counts[o]; n > 0 {
			fmt.Fprintf(&b, "  %-28s %d\n", o, n)
		}
	}
	if s.LookupFailures > 0 {
		fmt.Fprintf(&b, "Service-line lookups failed (continued with placeholder %q): %d\n", serviceline.Placeholder, s.LookupFailures)
	}
	if posted := s.PostedByPayerType(); len(posted) > 0 {
		types := make([]string, 0, len(posted))
		for t := range posted {
			types = append(types, t)
		}
		sort.Strings(types)
		b.WriteString("Posted by payer type:\n")
		for _, t := range types {
			fmt.Fprintf(&b, "  %-28s %d\n", t, posted[t])
		}
	}

	var failures []Record
	for _, r := range s.Records {
		if r.Outcome.Failed() {
			failures = append(failures, r)
		}
	}
	if len(failures) > 0 {
		sort.SliceStable(failures, func(i, j int) bool { return failures[i].Outcome < failures[j].Outcome })
		b.WriteString("Needs follow-up:\n")
		for _, r := range failures {
			fmt.Fprintf(&b, "  [%s] patient=%s insurance=%s step=%s: %s", r.Outcome, r.PatientID, r.InsuranceID, r.Step, r.Reason)
			if r.PayerType != "" {
				fmt.Fprintf(&b, " (payer type %s)", r.PayerType)
			}
			b.WriteByte('\n')
		}
	}
	if s.FatalError != "" {
		fmt.Fprintf(&b, "Fatal: %s\n", s.FatalError)
	}
	return b.String()
}

// LogValue implements slog.LogValuer with the counters only.
func (s *Summary) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("run_id", s.RunID),
		slog.Int("patients_fetched", s.PatientsFetched),
		slog.Int("succeeded", s.Succeeded()),
		slog.Int("skipped", s.Skipped()),
		slog.Int("failed", s.Failed()),
		slog.Int("lookup_failures", s.LookupFailures),
		slog.Duration("duration", s.Duration()),
	}
	for _, o := range Outcomes {
		if n := s.Counts[o]; n > 0 {
			attrs = append(attrs, slog.Int(string(o), n))
		}
	}
	if s.FatalError != "" {
		attrs = append(attrs, slog.String("fatal_error", s.FatalError))
	}
	return slog.GroupValue(attrs...)
}

// AmountTotalCents sums the responsibility posted in succeeded records.
func (s *Summary) AmountTotalCents() int64 {
	var total int64
	for _, r := range s.Records {
		if r.Outcome == OutcomeSucceeded {
			total += r.AmountCents
		}
	}
	return total
}

// PostedByPayerType counts succeeded records per payer type.
func (s *Summary) PostedByPayerType() map[string]int {
	counts := make(map[string]int)
	for _, r := range s.Records {
		if r.Outcome == OutcomeSucceeded && r.PayerType != "" {
			counts[r.PayerType]++
		}
	}
	return counts
}

// AmountTotal renders AmountTotalCents as dollars.
func (s *Summary) AmountTotal() string {
	return responsibility.FormatCents(s.AmountTotalCents())
}

// Publisher delivers a finalized summary somewhere outside the process.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, s *Summary) error
}
