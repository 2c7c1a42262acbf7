// Package archive stores run reports in S3 so operators can review past runs.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wolfman30/responsibility-agent/internal/summary"
	"github.com/wolfman30/responsibility-agent/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ErrReportNotFound is returned by LoadReport when no report exists for the run.
var ErrReportNotFound = errors.New("archive: report not found")

// Store archives run reports to S3. It implements summary.Publisher.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
	now      func() time.Time
}

// NewStore creates an archive Store. If bucket is empty, all operations are no-ops.
func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger, now: time.Now}
}

// Enabled returns true if archival is configured (bucket is set).
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

func (s *Store) Name() string { return "s3-archive" }

// ReportKey returns the object key for a run started at startedAt.
func ReportKey(runID string, startedAt time.Time) string {
	startedAt = startedAt.UTC()
	return fmt.Sprintf("runs/v1/by-date/%d/%02d/%02d/%s.json",
		startedAt.Year(), startedAt.Month(), startedAt.Day(), runID)
}

// ManifestKey returns the monthly manifest key.
func ManifestKey(at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("runs/v1/manifests/%d-%02d.jsonl", at.Year(), at.Month())
}

// Publish writes the redacted report and appends it to the monthly manifest.
func (s *Store) Publish(ctx context.Context, sum *summary.Summary) error {
	if !s.Enabled() {
		return nil
	}
	if sum == nil {
		return errors.New("archive: summary is nil")
	}

	now := s.now().UTC()
	report := RunReport{
		Version:    ReportVersion,
		ArchivedAt: now,
		Text:       sum.Report(),
		Summary:    Redact(sum),
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("archive: marshal report: %w", err)
	}

	key := ReportKey(sum.RunID, sum.StartedAt)
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", key, err)
	}
	s.logger.Info("archived run report to S3", "run_id", sum.RunID, "s3_key", key)

	status := "completed"
	if !sum.Completed() {
		status = "aborted"
	}
	entry := ManifestEntry{
		RunID:            sum.RunID,
		S3Key:            key,
		Status:           status,
		ArchivedAt:       now.Format(time.RFC3339),
		Succeeded:        sum.Succeeded(),
		Skipped:          sum.Skipped(),
		Failed:           sum.Failed(),
		AmountTotalCents: sum.AmountTotalCents(),
		DryRun:           sum.DryRun,
	}
	if err := s.AppendManifest(ctx, entry); err != nil {
		// The report itself is stored.
		s.logger.Warn("failed to append manifest", "error", err, "run_id", sum.RunID)
	}
	return nil
}

// AppendManifest appends a JSONL line to the monthly manifest file.
// S3 has no append, so this is a read-modify-write.
func (s *Store) AppendManifest(ctx context.Context, entry ManifestEntry) error {
	if !s.Enabled() {
		return nil
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}

	manifestKey := ManifestKey(s.now())

	var existing []byte
	getResp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(manifestKey),
	})
	switch {
	case err == nil:
		existing, err = io.ReadAll(getResp.Body)
		getResp.Body.Close()
		if err != nil {
			return fmt.Errorf("archive: read manifest: %w", err)
		}
	case isNotFound(err):
		s.logger.Debug("manifest not found, creating new", "key", manifestKey)
	default:
		return fmt.Errorf("archive: s3 get manifest: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(manifestKey),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

// LoadReport reads an archived report back.
func (s *Store) LoadReport(ctx context.Context, runID string, startedAt time.Time) (*RunReport, error) {
	if !s.Enabled() {
		return nil, errors.New("archive: not configured")
	}
	key := ReportKey(runID, startedAt)
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("archive: %s: %w", key, ErrReportNotFound)
		}
		return nil, fmt.Errorf("archive: s3 get %s: %w", key, err)
	}
	defer resp.Body.Close()

	var report RunReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("archive: decode %s: %w", key, err)
	}
	return &report, nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "404") || strings.Contains(msg, "not found")
}
