package archive

import (
	"time"

	"github.com/wolfman30/responsibility-agent/internal/summary"
)

// ReportVersion is bumped when the archived report layout changes.
const ReportVersion = "1.0"

// RunReport is the document archived to S3 for each run.
type RunReport struct {
	Version    string           `json:"version"`
	ArchivedAt time.Time        `json:"archived_at"`
	Text       string           `json:"text"` // human-readable report
	Summary    *summary.Summary `json:"summary"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	RunID            string `json:"run_id"`
	S3Key            string `json:"s3_key"`
	Status           string `json:"status"`
	ArchivedAt       string `json:"archived_at"`
	Succeeded        int    `json:"succeeded"`
	Skipped          int    `json:"skipped"`
	Failed           int    `json:"failed"`
	AmountTotalCents int64  `json:"amount_total_cents"`
	DryRun           bool   `json:"dry_run"`
}
