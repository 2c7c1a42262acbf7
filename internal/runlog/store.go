// Package runlog records every run, completed or aborted, in Postgres.
package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/responsibility-agent/internal/summary"
)

const (
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
)

type db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Run is one row of agent_runs.
type Run struct {
	ID               string         `json:"id"`
	StartedAt        time.Time      `json:"started_at"`
	EndedAt          time.Time      `json:"ended_at"`
	Status           string         `json:"status"`
	DryRun           bool           `json:"dry_run"`
	PatientsFetched  int            `json:"patients_fetched"`
	Succeeded        int            `json:"succeeded"`
	Skipped          int            `json:"skipped"`
	Failed           int            `json:"failed"`
	LookupFailures   int            `json:"lookup_failures"`
	AmountTotalCents int64          `json:"amount_total_cents"`
	Counts           map[string]int `json:"counts"`
	ErrorMessage     string         `json:"error_message,omitempty"`
}

// Store persists run summaries. It implements summary.Publisher.
type Store struct {
	db db
}

// NewStore creates a store over a pgx pool (or anything with the same methods).
func NewStore(db db) *Store {
	if db == nil {
		panic("runlog: db required")
	}
	return &Store{db: db}
}

func (s *Store) Name() string { return "runlog" }

// Publish writes the run and the records that need follow-up in one transaction.
func (s *Store) Publish(ctx context.Context, sum *summary.Summary) error {
	if sum == nil {
		return errors.New("runlog: summary is nil")
	}
	counts, err := json.Marshal(sum.Counts)
	if err != nil {
		return fmt.Errorf("runlog: encode counts: %w", err)
	}
	status := StatusCompleted
	if !sum.Completed() {
		status = StatusAborted
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("runlog: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO agent_runs (
			id, started_at, ended_at, status, lookback_hours, dry_run,
			patients_fetched, succeeded, skipped, failed, lookup_failures,
			amount_total_cents, counts, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING
	`,
		sum.RunID, sum.StartedAt, sum.EndedAt, status, sum.LookbackHours, sum.DryRun,
		sum.PatientsFetched, sum.Succeeded(), sum.Skipped(), sum.Failed(), sum.LookupFailures,
		sum.AmountTotalCents(), counts, nullIfEmpty(sum.FatalError),
	)
	if err != nil {
		return fmt.Errorf("runlog: insert run: %w", err)
	}

	for _, rec := range sum.Records {
		if !rec.Outcome.Failed() {
			continue
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO agent_run_failures (run_id, patient_id, insurance_id, outcome, step, reason)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, sum.RunID, rec.PatientID, nullIfEmpty(rec.InsuranceID), string(rec.Outcome), nullIfEmpty(rec.Step), nullIfEmpty(rec.Reason))
		if err != nil {
			return fmt.Errorf("runlog: insert failure for %s: %w", rec.PatientID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("runlog: commit: %w", err)
	}
	return nil
}

// Recent returns the latest runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, started_at, ended_at, status, dry_run, patients_fetched,
		       succeeded, skipped, failed, lookup_failures, amount_total_cents,
		       counts, COALESCE(error_message, '')
		FROM agent_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("runlog: query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0, limit)
	for rows.Next() {
		var r Run
		var counts []byte
		if err := rows.Scan(
			&r.ID, &r.StartedAt, &r.EndedAt, &r.Status, &r.DryRun, &r.PatientsFetched,
			&r.Succeeded, &r.Skipped, &r.Failed, &r.LookupFailures, &r.AmountTotalCents,
			&counts, &r.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("runlog: scan run: %w", err)
		}
		if len(counts) > 0 {
			if err := json.Unmarshal(counts, &r.Counts); err != nil {
				return nil, fmt.Errorf("runlog: decode counts for %s: %w", r.ID, err)
			}
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runlog: iterate runs: %w", err)
	}
	return runs, nil
}

// PurgeBefore deletes runs older than cutoff and returns how many went.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM agent_runs WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("runlog: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
