package emr

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("boom")

	upstream := &UpstreamError{Op: "get updated patients", StatusCode: 502, Err: cause}
	assert.ErrorIs(t, upstream, cause)
	assert.Contains(t, upstream.Error(), "status 502")

	post := &PostError{PatientID: "p1", InsuranceID: "i1", Err: cause}
	assert.ErrorIs(t, post, cause)
	assert.Contains(t, post.Error(), "patient=p1")

	wrapped := fmt.Errorf("pipeline: %w", &AuthError{Err: ErrAuthExpired})
	assert.True(t, IsAuthError(wrapped))
	assert.ErrorIs(t, wrapped, ErrAuthExpired)
	assert.False(t, IsAuthError(upstream))
}

func TestPatientDisplayName(t *testing.T) {
	assert.Equal(t, "Jane Doe", Patient{Name: "DOE,JANE", FirstName: "Jane", LastName: "Doe"}.DisplayName())
	assert.Equal(t, "DOE", Patient{Name: " DOE "}.DisplayName())
}

func TestAppointmentCancelled(t *testing.T) {
	assert.True(t, Appointment{Status: "Cancelled"}.Cancelled())
	assert.True(t, Appointment{Status: "canceled by patient"}.Cancelled())
	assert.False(t, Appointment{Status: "Scheduled", StartTime: time.Now()}.Cancelled())
}
