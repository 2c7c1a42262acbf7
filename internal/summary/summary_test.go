package summary

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSummary() *Summary {
	start := time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)
	s := New("run-1", start)
	s.PatientsFetched = 4
	s.PatientsQueued = 2
	s.Add(Record{PatientID: "p1", InsuranceID: "c1", PayerType: "Commercial", Outcome: OutcomeSucceeded, AmountCents: 2500})
	s.Add(Record{PatientID: "p2", InsuranceID: "c2", PayerType: "Medicare Advantage", Outcome: OutcomeSucceeded, AmountCents: 8000, LookupFailed: true})
	s.Add(Record{PatientID: "p3", Outcome: OutcomeSkippedNoAppointment})
	s.Add(Record{PatientID: "p4", Outcome: OutcomeSkippedNoInsurance})
	s.Add(Record{PatientID: "p2", InsuranceID: "c3", PayerType: "Medicaid", Outcome: OutcomeEligibilityTimedOut, Step: "eligibility", Reason: "still pending after 5 polls"})
	s.Finalize(start.Add(90*time.Second), nil)
	return s
}

func TestSummary_Counters(t *testing.T) {
	s := sampleSummary()
	assert.Equal(t, 2, s.Succeeded())
	assert.Equal(t, 2, s.Skipped())
	assert.Equal(t, 1, s.Failed())
	assert.Equal(t, 5, s.Total())
	assert.Equal(t, 1, s.Count(OutcomeEligibilityTimedOut))
	assert.Equal(t, 1, s.LookupFailures)
	assert.Equal(t, int64(10500), s.AmountTotalCents())
	assert.Equal(t, "$105.00", s.AmountTotal())
	assert.Equal(t, map[string]int{"Commercial": 1, "Medicare Advantage": 1}, s.PostedByPayerType())
	assert.True(t, s.Completed())
	assert.Equal(t, 90*time.Second, s.Duration())
}

func TestOutcomeCategories(t *testing.T) {
	for _, o := range Outcomes {
		if o == OutcomeSucceeded {
			assert.False(t, o.Skipped())
			assert.False(t, o.Failed())
			continue
		}
		assert.NotEqual(t, o.Skipped(), o.Failed(), "outcome %s must be exactly one of skipped or failed", o)
	}
	assert.True(t, OutcomeUnresolved.Failed())
	assert.True(t, OutcomeSkippedDuplicate.Skipped())
}

func TestSummary_Report(t *testing.T) {
	report := sampleSummary().Report()
	assert.Contains(t, report, "Run run-1 completed in 1m30s")
	assert.Contains(t, report, "Succeeded: 2  Skipped: 2  Failed: 1")
	assert.Contains(t, report, "eligibility-timed-out")
	assert.Contains(t, report, "patient=p2 insurance=c3 step=eligibility: still pending after 5 polls (payer type Medicaid)")
	assert.Contains(t, report, `Service-line lookups failed (continued with placeholder "NA"): 1`)
	assert.NotContains(t, report, "memo posted with")
	assert.Contains(t, report, "Posted by payer type:")
	assert.Regexp(t, `Commercial\s+1`, report)
	assert.Regexp(t, `Medicare Advantage\s+1`, report)
	assert.NotContains(t, report, "Fatal")
}

func TestSummary_FatalRun(t *testing.T) {
	s := New("run-2", time.Now())
	s.Finalize(time.Now(), errors.New("emr: authentication failed: bad password"))
	assert.False(t, s.Completed())
	assert.Contains(t, s.Report(), "aborted")
	assert.Contains(t, s.Report(), "Fatal: emr: authentication failed")
}

func TestSummary_LogValue(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("run finished", "summary", sampleSummary())

	var entry struct {
		Summary map[string]any `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "run-1", entry.Summary["run_id"])
	assert.EqualValues(t, 2, entry.Summary["succeeded"])
	assert.EqualValues(t, 1, entry.Summary["eligibility-timed-out"])
	assert.NotContains(t, entry.Summary, "records")
}
