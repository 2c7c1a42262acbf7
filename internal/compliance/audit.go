// Package compliance keeps the immutable audit trail of what was written to
// patient records.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/responsibility-agent/internal/emr"
)

// AuditEventType represents the type of memo audit event.
type AuditEventType string

const (
	// EventMemoPosted is logged when the PM system acknowledged a memo.
	EventMemoPosted AuditEventType = "memo.posted"
	// EventMemoDryRun is logged when a memo was built but not sent.
	EventMemoDryRun AuditEventType = "memo.dry_run"
	// EventMemoPostFailed is logged when the memo post was rejected or failed.
	EventMemoPostFailed AuditEventType = "memo.post_failed"
	// EventMemoWithheld is logged when no memo was posted because the
	// responsibility could not be determined.
	EventMemoWithheld AuditEventType = "memo.withheld"
)

// AuditEvent represents an immutable memo audit record.
type AuditEvent struct {
	ID          string          `json:"id"`
	EventType   AuditEventType  `json:"event_type"`
	RunID       string          `json:"run_id"`
	PatientID   string          `json:"patient_id"`
	InsuranceID string          `json:"insurance_id,omitempty"`
	MemoText    string          `json:"memo_text,omitempty"`
	AmountCents int64           `json:"amount_cents"`
	Details     json.RawMessage `json:"details,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AuditDetails contains event-specific details.
type AuditDetails struct {
	Reason    string `json:"reason,omitempty"`
	DryRun    bool   `json:"dry_run,omitempty"`
	PayerType string `json:"payer_type,omitempty"`
}

func memoDetails(memo emr.Memo, reason string, dryRun bool) json.RawMessage {
	d := AuditDetails{Reason: reason, DryRun: dryRun, PayerType: memo.PayerType}
	if d == (AuditDetails{}) {
		return nil
	}
	raw, _ := json.Marshal(d)
	return raw
}

// AuditService handles memo audit logging.
type AuditService struct {
	db  *sql.DB
	now func() time.Time
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db, now: time.Now}
}

// LogEvent records a memo audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}

	query := `
		INSERT INTO memo_audit_events (
			id, event_type, run_id, patient_id, insurance_id,
			memo_text, amount_cents, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.RunID,
		event.PatientID,
		nullString(event.InsuranceID),
		nullString(event.MemoText),
		event.AmountCents,
		nullJSON(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}

	return nil
}

// LogMemoPosted logs an acknowledged (or dry-run) memo.
func (s *AuditService) LogMemoPosted(ctx context.Context, runID string, memo emr.Memo, dryRun bool) error {
	eventType := EventMemoPosted
	if dryRun {
		eventType = EventMemoDryRun
	}
	return s.LogEvent(ctx, AuditEvent{
		EventType:   eventType,
		RunID:       runID,
		PatientID:   memo.PatientID,
		InsuranceID: memo.InsuranceID,
		MemoText:    memo.Text,
		AmountCents: memo.AmountCents,
		Details:     memoDetails(memo, "", dryRun),
	})
}

// LogMemoFailed logs a memo the PM system did not accept.
func (s *AuditService) LogMemoFailed(ctx context.Context, runID string, memo emr.Memo, reason string) error {
	return s.LogEvent(ctx, AuditEvent{
		EventType:   EventMemoPostFailed,
		RunID:       runID,
		PatientID:   memo.PatientID,
		InsuranceID: memo.InsuranceID,
		MemoText:    memo.Text,
		AmountCents: memo.AmountCents,
		Details:     memoDetails(memo, reason, false),
	})
}

// LogMemoWithheld logs a record left for operator follow-up. The memo carries
// the patient, insurance and payer type; it has no text.
func (s *AuditService) LogMemoWithheld(ctx context.Context, runID string, memo emr.Memo, reason string) error {
	return s.LogEvent(ctx, AuditEvent{
		EventType:   EventMemoWithheld,
		RunID:       runID,
		PatientID:   memo.PatientID,
		InsuranceID: memo.InsuranceID,
		Details:     memoDetails(memo, reason, false),
	})
}

// QueryEvents retrieves audit events with filters.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, run_id, patient_id, insurance_id,
			   memo_text, amount_cents, details, created_at
		FROM memo_audit_events
		WHERE 1 = 1
	`
	var args []interface{}
	argIdx := 1

	if filter.RunID != "" {
		query += fmt.Sprintf(" AND run_id = $%d", argIdx)
		args = append(args, filter.RunID)
		argIdx++
	}
	if filter.PatientID != "" {
		query += fmt.Sprintf(" AND patient_id = $%d", argIdx)
		args = append(args, filter.PatientID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var insuranceID, memoText sql.NullString
		var details []byte
		err := rows.Scan(
			&e.ID, &e.EventType, &e.RunID, &e.PatientID, &insuranceID,
			&memoText, &e.AmountCents, &details, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.InsuranceID = insuranceID.String
		e.MemoText = memoText.String
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compliance: failed to iterate audit events: %w", err)
	}

	return events, nil
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	RunID     string
	PatientID string
	EventType AuditEventType
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
