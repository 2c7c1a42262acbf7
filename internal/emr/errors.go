package emr

import (
	"errors"
	"fmt"
)

// ErrAuthExpired signals that the PM system rejected the session token.
var ErrAuthExpired = errors.New("emr: session expired")

// AuthError reports a failed login or a session that could not be renewed.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("emr: authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// UpstreamError reports a transport failure, non-2xx status or malformed payload.
type UpstreamError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("emr: %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("emr: %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// PostError reports a memo that the PM system did not accept.
type PostError struct {
	PatientID   string
	InsuranceID string
	Err         error
}

func (e *PostError) Error() string {
	return fmt.Sprintf("emr: post memo patient=%s insurance=%s: %v", e.PatientID, e.InsuranceID, e.Err)
}

func (e *PostError) Unwrap() error { return e.Err }

// IsAuthError reports whether err carries an *AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
