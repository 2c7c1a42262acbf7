package emr

import (
	"context"
	"strings"
	"time"
)

// Client defines the practice-management calls the responsibility pipeline depends on.
type Client interface {
	// Authenticate opens a session; every other call reuses its token.
	Authenticate(ctx context.Context) error

	// GetUpdatedPatients returns patients changed within the trailing window.
	GetUpdatedPatients(ctx context.Context, lookbackHours int) ([]Patient, error)

	// GetAppointments returns the scheduler entries for one patient.
	GetAppointments(ctx context.Context, patientID string) ([]Appointment, error)

	// SubmitEligibility starts an eligibility request for a patient coverage.
	SubmitEligibility(ctx context.Context, patientID, insuranceID string) (string, error)

	// PollEligibility checks a submitted request; a pending result means poll again.
	PollEligibility(ctx context.Context, requestID string) (*EligibilityResult, error)

	// PostMemo writes a memo to the patient record.
	PostMemo(ctx context.Context, memo Memo) (*MemoAck, error)
}

// Patient represents a patient record returned by the updated-patients query.
type Patient struct {
	ID          string    // PM patient identifier
	Name        string    // PM display name, "LAST,FIRST"
	FirstName   string    // Parsed from Name
	LastName    string    // Parsed from Name
	DateOfBirth string    // As reported by the PM system (MM/DD/YYYY)
	Gender      string    // PM sex code
	State       string    // Address state code
	ChangedAt   time.Time // Last change in the PM system
	Insurances  []Insurance
}

// DisplayName returns "First Last" when the name could be split, otherwise the raw name.
func (p Patient) DisplayName() string {
	if p.FirstName == "" && p.LastName == "" {
		return strings.TrimSpace(p.Name)
	}
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Insurance represents one coverage attached to a patient.
type Insurance struct {
	ID              string   // Coverage identifier, used for eligibility and memo correlation
	CarrierCode     string   // PM carrier code
	CarrierName     string   // PM carrier name
	SubscriberID    string   // Member id on the card
	Active          bool     // Only active coverages are checked
	CopayCents      *int64   // PM copay dollar amount, nil when not recorded
	CoinsuranceRate *float64 // PM copay percentage as a fraction, nil when not recorded
}

// Appointment represents a scheduler entry for a patient.
type Appointment struct {
	ID        string
	PatientID string
	StartTime time.Time // Zero when the scheduler omitted it or sent an unknown format
	// StartUnparseable marks a start time that was present but not understood.
	StartUnparseable bool
	Status           string
}

// Cancelled reports whether the scheduler marked the appointment as cancelled.
func (a Appointment) Cancelled() bool {
	status := strings.ToLower(strings.TrimSpace(a.Status))
	return strings.Contains(status, "cancel") || status == "deleted" || status == "no show"
}

// Coverage is the cost-sharing snapshot from a resolved eligibility response.
type Coverage struct {
	PlanName        string
	PlanType        string
	PayerName       string
	CopayCents      *int64
	CoinsuranceRate *float64
	DeductibleCents *int64
}

// EligibilityStatus is the state reported by an eligibility poll.
type EligibilityStatus string

const (
	EligibilityPending  EligibilityStatus = "pending"
	EligibilityResolved EligibilityStatus = "resolved"
	EligibilityRejected EligibilityStatus = "rejected"
)

// EligibilityResult is one poll response.
type EligibilityResult struct {
	RequestID string
	Status    EligibilityStatus
	Coverage  *Coverage // Set when Status is resolved
	Reason    string    // Set when Status is rejected
}

// Memo is the responsibility note written back to the patient record.
type Memo struct {
	PatientID   string
	InsuranceID string
	Text        string
	AmountCents int64
	// PayerType is kept for the audit trail; only Text is posted.
	PayerType string
}

// MemoAck confirms a memo post.
type MemoAck struct {
	PatientID   string
	InsuranceID string
	PostedAt    time.Time
	DryRun      bool
}
