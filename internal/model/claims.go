package model

import "time"

// ClaimType categorizes the billing origin of a claim entry
type ClaimType string

const (
	ClaimTypeMedical  ClaimType = "medical"  // Professional/facility medical claims
	ClaimTypePharmacy ClaimType = "pharmacy" // Retail/mail-order pharmacy claims
)

// KnownClaimTypes lists the claim types the engine understands.
// Anything else in a cohort definition is a configuration error.
var KnownClaimTypes = []ClaimType{ClaimTypeMedical, ClaimTypePharmacy}

// ClaimEntry is one claim header row. Loaded once per run, never mutated.
type ClaimEntry struct {
	ClaimID     string    `json:"claim_id"`
	MemberID    string    `json:"member_id"`
	ServiceDate time.Time `json:"service_date"`
	ClaimType   ClaimType `json:"claim_type"`
}

// Diagnosis is one diagnosis code attached to a claim entry.
// Codes use the hierarchical dotted format (e.g. "I10.9").
type Diagnosis struct {
	ClaimID string `json:"claim_id"`
	Code    string `json:"code"`
}

// Procedure is one procedure code attached to a claim entry.
type Procedure struct {
	ClaimID string `json:"claim_id"`
	Code    string `json:"code"`
}

// DrugClaim is one dispensed medication attached to a claim entry.
// ProductName is free-text medication identity, matched exactly
// (case-insensitive), never by prefix.
type DrugClaim struct {
	ClaimID     string `json:"claim_id"`
	ProductName string `json:"product_name"`
}

// Member is reference demographic data, one row per patient.
type Member struct {
	MemberID       string     `json:"member_id"`
	FirstName      string     `json:"first_name,omitempty"`
	LastName       string     `json:"last_name,omitempty"`
	DateOfBirth    *time.Time `json:"date_of_birth,omitempty"`
	Gender         string     `json:"gender,omitempty"`
	ExternalUserID string     `json:"external_user_id,omitempty"`

	// Coverage period, used by the optional enrollment filter.
	// A nil TerminationDate means coverage is still active.
	EnrollmentDate  *time.Time `json:"enrollment_date,omitempty"`
	TerminationDate *time.Time `json:"termination_date,omitempty"`
}

// MemberDate is a (member, service date) pair, the unit the temporal
// qualifier consumes. Batch store queries return these in bulk.
type MemberDate struct {
	MemberID    string
	ServiceDate time.Time
}

// Window bounds the claims history considered for one evaluation.
// A zero Start means unbounded on the left.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether d falls inside the window (inclusive).
func (w Window) Contains(d time.Time) bool {
	if !w.Start.IsZero() && d.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && d.After(w.End) {
		return false
	}
	return true
}

// IsZero reports whether the window is unbounded on both sides.
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}
