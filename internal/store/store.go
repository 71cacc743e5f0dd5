// Package store provides batched, read-only access to the claims
// dataset. Every operation works over a full candidate set in one
// call; the engine never issues per-patient round trips.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/claimsight/cohortctl/internal/match"
	"github.com/claimsight/cohortctl/internal/model"
)

// MemberSet is a batch membership answer.
type MemberSet map[string]struct{}

// Has reports whether the member is in the set.
func (s MemberSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts a member id.
func (s MemberSet) Add(id string) { s[id] = struct{}{} }

// DataGapError marks a required source relation as absent or empty.
// It is fatal only for cohorts that depend on that axis.
type DataGapError struct {
	Relation string
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("required relation %q is absent or empty", e.Relation)
}

// Store is the tabular access layer the engine evaluates against.
// Implementations are safe for concurrent read-only use.
type Store interface {
	// DiagnosisClaims returns (member, service date) pairs for claims
	// carrying a diagnosis covered by pat, optionally restricted to
	// claim types and a service date window. Both slices may be
	// large; rows come back unordered.
	DiagnosisClaims(ctx context.Context, pat *match.Matcher, types []model.ClaimType, w model.Window) ([]model.MemberDate, error)

	// DiagnosisDatesFor returns matching diagnosis claim dates for
	// the given members only. Used where the caller applies a
	// per-member window (exclusion scoping around index dates).
	DiagnosisDatesFor(ctx context.Context, members []string, pat *match.Matcher) ([]model.MemberDate, error)

	// MembersWithDiagnosis returns the subset of members having at
	// least one diagnosis claim covered by pat.
	MembersWithDiagnosis(ctx context.Context, members []string, pat *match.Matcher) (MemberSet, error)

	// MembersWithProcedure returns the subset of members having at
	// least one procedure claim covered by pat inside the window.
	MembersWithProcedure(ctx context.Context, members []string, pat *match.Matcher, w model.Window) (MemberSet, error)

	// MembersWithMedication returns the subset of members having at
	// least one pharmacy claim for a named product inside the window.
	MembersWithMedication(ctx context.Context, members []string, names *match.NameSet, w model.Window) (MemberSet, error)

	// Members returns demographic rows for the given ids. Missing
	// members are simply absent from the result.
	Members(ctx context.Context, ids []string) ([]model.Member, error)

	// LatestServiceDate anchors lookback windows when no analysis
	// date is configured. Returns a DataGapError when the claims
	// relation is empty.
	LatestServiceDate(ctx context.Context) (time.Time, error)

	// HasProcedureData / HasMedicationData report whether the
	// corresponding support axis has any rows at all.
	HasProcedureData(ctx context.Context) (bool, error)
	HasMedicationData(ctx context.Context) (bool, error)
}
