package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/responsibility-agent/internal/summary"
)

func TestHashName_Normalizes(t *testing.T) {
	assert.Equal(t, HashName("DOE,JANE"), HashName("  doe,jane "))
	assert.NotEqual(t, HashName("DOE,JANE"), HashName("DOE,JOHN"))
	assert.Len(t, HashName("x"), 64)
}

func TestRedact_LeavesOriginalUntouched(t *testing.T) {
	sum := summary.New("run-1", time.Now())
	sum.Add(summary.Record{PatientID: "p1", PatientName: "Jane Doe", Outcome: summary.OutcomeSucceeded})
	sum.Add(summary.Record{PatientID: "p2", Outcome: summary.OutcomeSkippedNoInsurance})

	red := Redact(sum)
	assert.Equal(t, HashName("Jane Doe"), red.Records[0].PatientName)
	assert.Empty(t, red.Records[1].PatientName)
	assert.Equal(t, "p1", red.Records[0].PatientID)
	assert.Equal(t, "Jane Doe", sum.Records[0].PatientName)
	assert.Equal(t, 1, red.Count(summary.OutcomeSucceeded))
	assert.Nil(t, Redact(nil))
}
