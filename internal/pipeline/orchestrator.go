// Package pipeline runs the daily responsibility batch: fetch updated
// patients, filter them, and walk each insurance record through eligibility,
// service-line lookup, calculation and memo post.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/responsibility-agent/internal/eligibility"
	"github.com/wolfman30/responsibility-agent/internal/emr"
	"github.com/wolfman30/responsibility-agent/internal/progress"
	"github.com/wolfman30/responsibility-agent/internal/responsibility"
	"github.com/wolfman30/responsibility-agent/internal/serviceline"
	"github.com/wolfman30/responsibility-agent/internal/summary"
	"github.com/wolfman30/responsibility-agent/pkg/logging"
)

var tracer = otel.Tracer("responsibility.internal.pipeline")

// Step names used in logs, metrics and the summary.
const (
	StepAuthenticate = "authenticate"
	StepFetch        = "fetch_patients"
	StepFilter       = "filter"
	StepAppointments = "appointments"
	StepEligibility  = "eligibility"
	StepLookup       = "service_line"
	StepCalculate    = "calculate"
	StepPostMemo     = "post_memo"
)

// PMClient is the subset of the PM session client the orchestrator drives.
type PMClient interface {
	Authenticate(ctx context.Context) error
	GetUpdatedPatients(ctx context.Context, lookbackHours int) ([]emr.Patient, error)
	GetAppointments(ctx context.Context, patientID string) ([]emr.Appointment, error)
	PostMemo(ctx context.Context, memo emr.Memo) (*emr.MemoAck, error)
}

// EligibilityChecker runs one eligibility request to a terminal state.
type EligibilityChecker interface {
	Check(ctx context.Context, patientID, insuranceID string) (eligibility.Outcome, error)
}

// ServiceLineLookup resolves the service line for a patient.
type ServiceLineLookup interface {
	Lookup(ctx context.Context, patientName string) (string, error)
}

// Recorder receives run metrics. *metrics.PipelineMetrics satisfies it.
type Recorder interface {
	ObserveRecord(outcome string)
	ObserveStep(step string, err error, seconds float64)
	ObserveEligibilityPolls(polls int)
	ObserveLookupFailure()
	ObserveRun(completed bool, seconds float64, completedAt float64)
}

// MemoAuditor keeps the audit trail of memo decisions. *compliance.AuditService satisfies it.
type MemoAuditor interface {
	LogMemoPosted(ctx context.Context, runID string, memo emr.Memo, dryRun bool) error
	LogMemoFailed(ctx context.Context, runID string, memo emr.Memo, reason string) error
	LogMemoWithheld(ctx context.Context, runID string, memo emr.Memo, reason string) error
}

// Config holds the run parameters.
type Config struct {
	LookbackHours        int
	DryRun               bool
	ReferenceChargeCents int64
	MedicaidIndicators   []string
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.metrics = r
		}
	}
}

// WithProgress sets the progress reporter.
func WithProgress(r progress.Reporter) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.progress = r
		}
	}
}

// WithAuditor sets the memo audit trail.
func WithAuditor(a MemoAuditor) Option {
	return func(o *Orchestrator) {
		o.auditor = a
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRunIDs replaces the run id generator.
func WithRunIDs(next func() string) Option {
	return func(o *Orchestrator) {
		if next != nil {
			o.newRunID = next
		}
	}
}

// Orchestrator runs one batch at a time. It is not safe for concurrent Run
// calls; Runner serialises them.
type Orchestrator struct {
	pm         PMClient
	checker    EligibilityChecker
	lookup     ServiceLineLookup
	cfg        Config
	calculator responsibility.Calculator
	medicaid   responsibility.MedicaidMatcher
	logger     *logging.Logger
	metrics    Recorder
	progress   progress.Reporter
	auditor    MemoAuditor
	now        func() time.Time
	newRunID   func() string
}

// New creates an orchestrator.
func New(pm PMClient, checker EligibilityChecker, lookup ServiceLineLookup, cfg Config, logger *logging.Logger, opts ...Option) (*Orchestrator, error) {
	if pm == nil {
		return nil, errors.New("pipeline: pm client is required")
	}
	if checker == nil {
		return nil, errors.New("pipeline: eligibility checker is required")
	}
	if lookup == nil {
		return nil, errors.New("pipeline: service line lookup is required")
	}
	if cfg.LookbackHours <= 0 {
		return nil, fmt.Errorf("pipeline: lookback hours must be positive, got %d", cfg.LookbackHours)
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.ReferenceChargeCents <= 0 {
		cfg.ReferenceChargeCents = responsibility.DefaultReferenceChargeCents
	}
	o := &Orchestrator{
		pm:         pm,
		checker:    checker,
		lookup:     lookup,
		cfg:        cfg,
		calculator: responsibility.NewCalculator(cfg.ReferenceChargeCents),
		medicaid:   responsibility.NewMedicaidMatcher(cfg.MedicaidIndicators),
		logger:     logger,
		metrics:    nopRecorder{},
		progress:   &progress.NoopReporter{},
		now:        time.Now,
		newRunID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes one batch. The summary is always returned, finalized; the
// error is non-nil only when the run aborted (authentication, patient fetch,
// an unrenewable session, or a cancelled context).
func (o *Orchestrator) Run(ctx context.Context) (*summary.Summary, error) {
	runID := o.newRunID()
	sum := summary.New(runID, o.now())
	sum.LookbackHours = o.cfg.LookbackHours
	sum.DryRun = o.cfg.DryRun

	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("responsibility.run_id", runID),
		attribute.Int("responsibility.lookback_hours", o.cfg.LookbackHours),
		attribute.Bool("responsibility.dry_run", o.cfg.DryRun),
	))
	defer span.End()

	log := o.logger.With("run_id", runID)
	log.Info("responsibility run started", "lookback_hours", o.cfg.LookbackHours, "dry_run", o.cfg.DryRun)

	err := o.run(ctx, log, sum)
	sum.Finalize(o.now(), err)
	o.metrics.ObserveRun(sum.Completed(), sum.Duration().Seconds(), float64(sum.EndedAt.Unix()))

	span.SetAttributes(
		attribute.Int("responsibility.succeeded", sum.Succeeded()),
		attribute.Int("responsibility.failed", sum.Failed()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run aborted")
		log.Error("responsibility run aborted", "summary", sum, "error", err)
		return sum, err
	}
	log.Info("responsibility run completed", "summary", sum)
	return sum, nil
}

func (o *Orchestrator) run(ctx context.Context, log *logging.Logger, sum *summary.Summary) error {
	start := o.now()
	err := o.pm.Authenticate(ctx)
	o.metrics.ObserveStep(StepAuthenticate, err, o.since(start))
	if err != nil {
		return fmt.Errorf("pipeline: authenticate: %w", err)
	}

	start = o.now()
	patients, err := o.pm.GetUpdatedPatients(ctx, o.cfg.LookbackHours)
	o.metrics.ObserveStep(StepFetch, err, o.since(start))
	if err != nil {
		return fmt.Errorf("pipeline: fetch updated patients: %w", err)
	}
	sum.PatientsFetched = len(patients)
	log.Info("fetched updated patients", "count", len(patients))

	queued, err := o.filter(ctx, log, sum, patients)
	if err != nil {
		return err
	}
	sum.PatientsQueued = len(queued)
	log.Info("patients queued for processing", "count", len(queued))

	o.progress.Start(len(queued))
	defer o.progress.Finish()

	attempted := make(map[string]struct{})
	for _, patient := range queued {
		last, err := o.processPatient(ctx, log, sum, patient, attempted)
		if err != nil {
			return err
		}
		o.progress.Advance(patient.ID, string(last))
	}
	return nil
}

// filter drops patients without insurance or without an upcoming appointment.
func (o *Orchestrator) filter(ctx context.Context, log *logging.Logger, sum *summary.Summary, patients []emr.Patient) ([]emr.Patient, error) {
	now := o.now()
	queued := make([]emr.Patient, 0, len(patients))
	for _, patient := range patients {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("pipeline: filter: %w", err)
		}
		rec := summary.Record{PatientID: patient.ID, PatientName: patient.DisplayName(), Step: StepFilter}

		if len(patient.Insurances) == 0 {
			rec.Outcome = summary.OutcomeSkippedNoInsurance
			o.add(sum, rec)
			continue
		}

		start := o.now()
		appts, err := o.pm.GetAppointments(ctx, patient.ID)
		o.metrics.ObserveStep(StepAppointments, err, o.since(start))
		if err != nil {
			if fatal := abortError(ctx, err); fatal != nil {
				return nil, fmt.Errorf("pipeline: appointments for %s: %w", patient.ID, fatal)
			}
			log.Warn("appointment lookup failed", "patient_id", patient.ID, "step", StepAppointments, "error", err)
			rec.Outcome = summary.OutcomeAppointmentLookupFailed
			rec.Reason = err.Error()
			o.add(sum, rec)
			continue
		}

		if !hasUpcoming(appts, now) {
			rec.Outcome = summary.OutcomeSkippedNoAppointment
			o.add(sum, rec)
			continue
		}
		queued = append(queued, patient)
	}
	return queued, nil
}

// hasUpcoming reports whether any appointment is not cancelled and starts at
// or after now. A missing start time counts as upcoming; an unparseable one
// does not.
func hasUpcoming(appts []emr.Appointment, now time.Time) bool {
	for _, a := range appts {
		if a.Cancelled() || a.StartUnparseable {
			continue
		}
		if a.StartTime.IsZero() || !a.StartTime.Before(now) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) processPatient(ctx context.Context, log *logging.Logger, sum *summary.Summary, patient emr.Patient, attempted map[string]struct{}) (summary.Outcome, error) {
	ctx, span := tracer.Start(ctx, "pipeline.patient", trace.WithAttributes(
		attribute.String("responsibility.patient_id", patient.ID),
		attribute.Int("responsibility.insurances", len(patient.Insurances)),
	))
	defer span.End()

	var last summary.Outcome
	for _, ins := range patient.Insurances {
		rec, err := o.processRecord(ctx, log, sum.RunID, patient, ins, attempted)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "record aborted run")
			return last, err
		}
		o.add(sum, rec)
		last = rec.Outcome
	}
	return last, nil
}

// processRecord runs one insurance record to an outcome. A returned error
// aborts the run; every other failure is folded into the record.
func (o *Orchestrator) processRecord(ctx context.Context, log *logging.Logger, runID string, patient emr.Patient, ins emr.Insurance, attempted map[string]struct{}) (summary.Record, error) {
	rec := summary.Record{
		PatientID:   patient.ID,
		PatientName: patient.DisplayName(),
		InsuranceID: ins.ID,
		CarrierName: ins.CarrierName,
		PayerType:   string(responsibility.ClassifyPayer(o.medicaid, ins.CarrierCode, ins.CarrierName)),
	}
	log = log.With("patient_id", patient.ID, "insurance_id", ins.ID)

	if !ins.Active {
		rec.Outcome = summary.OutcomeSkippedInactiveInsurance
		return rec, nil
	}
	key := patient.ID + "|" + ins.ID
	if _, seen := attempted[key]; seen {
		rec.Outcome = summary.OutcomeSkippedDuplicate
		return rec, nil
	}
	attempted[key] = struct{}{}

	// Eligibility.
	start := o.now()
	elig, err := o.checker.Check(ctx, patient.ID, ins.ID)
	if err != nil {
		o.metrics.ObserveStep(StepEligibility, err, o.since(start))
		return rec, fmt.Errorf("pipeline: eligibility for %s/%s: %w", patient.ID, ins.ID, err)
	}
	o.metrics.ObserveEligibilityPolls(elig.Polls)
	switch elig.State {
	case eligibility.StateResolved:
		o.metrics.ObserveStep(StepEligibility, nil, o.since(start))
	case eligibility.StateTimedOut:
		o.metrics.ObserveStep(StepEligibility, errors.New(elig.Reason), o.since(start))
		return o.fail(log, rec, summary.OutcomeEligibilityTimedOut, StepEligibility, elig.Reason), nil
	default:
		o.metrics.ObserveStep(StepEligibility, errors.New(elig.Reason), o.since(start))
		return o.fail(log, rec, summary.OutcomeEligibilityFailed, StepEligibility, elig.Reason), nil
	}

	// Service line is best-effort.
	start = o.now()
	label, err := o.lookup.Lookup(ctx, patient.DisplayName())
	o.metrics.ObserveStep(StepLookup, err, o.since(start))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return rec, fmt.Errorf("pipeline: service line for %s: %w", patient.ID, ctxErr)
		}
		log.Warn("service line lookup failed; using placeholder", "step", StepLookup, "error", err)
		o.metrics.ObserveLookupFailure()
		rec.LookupFailed = true
		label = serviceline.Placeholder
	}
	rec.ServiceLine = label

	payer := ins.CarrierName
	if payer == "" && elig.Coverage != nil {
		payer = elig.Coverage.PayerName
		rec.PayerType = string(responsibility.ClassifyPayer(o.medicaid, ins.CarrierCode, payer))
	}

	// Calculation.
	in := o.calculationInput(ins, elig.Coverage)
	if in.Medicaid {
		rec.PayerType = string(responsibility.PayerMedicaid)
	}
	result, err := o.calculator.Calculate(in)
	rec.Basis = string(result.Basis)
	if err != nil {
		rec = o.fail(log, rec, summary.OutcomeUnresolved, StepCalculate, err.Error())
		withheld := emr.Memo{PatientID: patient.ID, InsuranceID: ins.ID, PayerType: rec.PayerType}
		o.audit(ctx, log, func(ctx context.Context, a MemoAuditor) error {
			return a.LogMemoWithheld(ctx, runID, withheld, err.Error())
		})
		return rec, nil
	}
	rec.AmountCents = result.AmountCents

	memo := emr.Memo{
		PatientID:   patient.ID,
		InsuranceID: ins.ID,
		Text:        responsibility.FormatMemo(responsibility.PayerAbbreviation(payer), serviceline.Abbreviation(label), result),
		AmountCents: result.AmountCents,
		PayerType:   rec.PayerType,
	}
	rec.Memo = memo.Text

	// Memo post.
	start = o.now()
	ack, err := o.pm.PostMemo(ctx, memo)
	o.metrics.ObserveStep(StepPostMemo, err, o.since(start))
	if err != nil {
		if fatal := abortError(ctx, err); fatal != nil {
			return rec, fmt.Errorf("pipeline: post memo for %s/%s: %w", patient.ID, ins.ID, fatal)
		}
		rec = o.fail(log, rec, summary.OutcomePostFailed, StepPostMemo, err.Error())
		o.audit(ctx, log, func(ctx context.Context, a MemoAuditor) error {
			return a.LogMemoFailed(ctx, runID, memo, err.Error())
		})
		return rec, nil
	}

	rec.Outcome = summary.OutcomeSucceeded
	rec.DryRun = ack != nil && ack.DryRun
	log.Info("memo posted", "memo", memo.Text, "amount_cents", memo.AmountCents, "basis", result.Basis, "payer_type", rec.PayerType, "dry_run", rec.DryRun)
	o.audit(ctx, log, func(ctx context.Context, a MemoAuditor) error {
		return a.LogMemoPosted(ctx, runID, memo, rec.DryRun)
	})
	return rec, nil
}

// calculationInput prefers the eligibility coverage and falls back to the
// values recorded on the PM insurance record.
func (o *Orchestrator) calculationInput(ins emr.Insurance, cov *emr.Coverage) responsibility.Input {
	in := responsibility.Input{
		CopayCents:      ins.CopayCents,
		CoinsuranceRate: ins.CoinsuranceRate,
	}
	names := []string{ins.CarrierCode, ins.CarrierName}
	if cov != nil {
		if cov.CopayCents != nil {
			in.CopayCents = cov.CopayCents
		}
		if cov.CoinsuranceRate != nil {
			in.CoinsuranceRate = cov.CoinsuranceRate
		}
		names = append(names, cov.PlanType, cov.PlanName, cov.PayerName)
	}
	in.Medicaid = o.medicaid.Match(names...)
	return in
}

func (o *Orchestrator) fail(log *logging.Logger, rec summary.Record, outcome summary.Outcome, step, reason string) summary.Record {
	rec.Outcome = outcome
	rec.Step = step
	rec.Reason = reason
	log.Warn("record failed", "step", step, "outcome", outcome, "error", reason)
	return rec
}

func (o *Orchestrator) add(sum *summary.Summary, rec summary.Record) {
	sum.Add(rec)
	o.metrics.ObserveRecord(string(rec.Outcome))
}

// audit writes to the audit trail; a failed write is logged and never
// changes the record outcome.
func (o *Orchestrator) audit(ctx context.Context, log *logging.Logger, write func(context.Context, MemoAuditor) error) {
	if o.auditor == nil {
		return
	}
	if err := write(ctx, o.auditor); err != nil {
		log.Error("memo audit write failed", "error", err)
	}
}

func (o *Orchestrator) since(start time.Time) float64 {
	return o.now().Sub(start).Seconds()
}

// abortError returns the error that must stop the run, or nil when err is
// scoped to the current record.
func abortError(ctx context.Context, err error) error {
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

type nopRecorder struct{}

func (nopRecorder) ObserveRecord(string)               {}
func (nopRecorder) ObserveStep(string, error, float64) {}
func (nopRecorder) ObserveEligibilityPolls(int)        {}
func (nopRecorder) ObserveLookupFailure()              {}
func (nopRecorder) ObserveRun(bool, float64, float64)  {}
