package archive

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/wolfman30/responsibility-agent/internal/summary"
)

// HashName returns the hex-encoded SHA-256 of a normalized patient name, so
// archived reports can be correlated without storing the name.
func HashName(name string) string {
	h := sha256.Sum256([]byte(strings.ToUpper(strings.TrimSpace(name))))
	return fmt.Sprintf("%x", h)
}

// Redact returns a copy of the summary with patient names replaced by their
// hash. Patient and insurance ids are kept for follow-up in the PM system.
func Redact(s *summary.Summary) *summary.Summary {
	if s == nil {
		return nil
	}
	out := *s
	out.Counts = make(map[summary.Outcome]int, len(s.Counts))
	for k, v := range s.Counts {
		out.Counts[k] = v
	}
	out.Records = make([]summary.Record, len(s.Records))
	for i, r := range s.Records {
		if r.PatientName != "" {
			r.PatientName = HashName(r.PatientName)
		}
		out.Records[i] = r
	}
	return &out
}
