package model

import (
	"sort"
	"time"
)

// CohortRow is one accepted patient in one cohort: the engine's sole
// per-patient output. Tags carry optional boolean flags computed from
// configured tag code sets.
type CohortRow struct {
	MemberID  string          `json:"member_id" parquet:"member_id"`
	IndexDate time.Time       `json:"index_date" parquet:"index_date"`
	Cohort    string          `json:"cohort" parquet:"cohort"`
	Tags      map[string]bool `json:"tags,omitempty" parquet:"-"`
}

// CohortResult is the terminal artifact of one cohort's evaluation.
// Rows are sorted by member id; a member appears at most once.
type CohortResult struct {
	Cohort string      `json:"cohort"`
	Rows   []CohortRow `json:"rows"`
	Funnel Funnel      `json:"funnel"`
}

// Members returns the member ids in the result, in row order.
func (r *CohortResult) Members() []string {
	ids := make([]string, len(r.Rows))
	for i, row := range r.Rows {
		ids[i] = row.MemberID
	}
	return ids
}

// SortRows orders rows by member id so identical inputs always
// produce byte-identical output files.
func (r *CohortResult) SortRows() {
	sort.Slice(r.Rows, func(i, j int) bool {
		return r.Rows[i].MemberID < r.Rows[j].MemberID
	})
}

// Funnel counts patients surviving each evaluation stage. The stages
// mirror the candidate lifecycle: code match, temporal qualification,
// support confirmation, exclusion, acceptance.
type Funnel struct {
	CodeMatched         int `json:"code_matched"`
	TemporallyQualified int `json:"temporally_qualified"`
	SupportConfirmed    int `json:"support_confirmed"`
	Excluded            int `json:"excluded"`
	Accepted            int `json:"accepted"`
}

// CombinedRow is one row of the cross-cohort table: a cohort result
// row enriched with member demographics. Demographic fields stay
// empty when no member record exists; the row is never dropped.
type CombinedRow struct {
	MemberID       string    `csv:"member_id" json:"member_id" parquet:"member_id"`
	IndexDate      time.Time `csv:"index_date" json:"index_date" parquet:"index_date"`
	Cohort         string    `csv:"cohort" json:"cohort" parquet:"cohort"`
	FirstName      string    `csv:"first_name" json:"first_name,omitempty" parquet:"first_name,optional"`
	LastName       string    `csv:"last_name" json:"last_name,omitempty" parquet:"last_name,optional"`
	DateOfBirth    string    `csv:"date_of_birth" json:"date_of_birth,omitempty" parquet:"date_of_birth,optional"`
	Gender         string    `csv:"gender" json:"gender,omitempty" parquet:"gender,optional"`
	ExternalUserID string    `csv:"external_user_id" json:"external_user_id,omitempty" parquet:"external_user_id,optional"`
}

// HierarchyFinding reports one sensitive/conservative pair check: the
// sensitive variant of a condition is expected to accept at least as
// many patients as its conservative counterpart. A violation is a
// data-quality signal, not an evaluation error.
type HierarchyFinding struct {
	Sensitive            string `json:"sensitive"`
	Conservative         string `json:"conservative"`
	SensitiveCount       int    `json:"sensitive_count"`
	ConservativeCount    int    `json:"conservative_count"`
	Holds                bool   `json:"holds"`
	ConservativeIsSubset bool   `json:"conservative_is_subset"`
}

// RunStats summarizes one complete run across all cohorts.
type RunStats struct {
	CohortCounts  map[string]int     `json:"cohort_counts"`
	TotalRows     int                `json:"total_rows"`
	UniqueMembers int                `json:"unique_members"`
	// OverlapDistribution maps "number of cohorts a member belongs
	// to" to "number of such members".
	OverlapDistribution map[int]int        `json:"overlap_distribution"`
	Hierarchy           []HierarchyFinding `json:"hierarchy,omitempty"`
	EarliestIndexDate   *time.Time         `json:"earliest_index_date,omitempty"`
	LatestIndexDate     *time.Time         `json:"latest_index_date,omitempty"`
}

// RunReport ties together everything one run produced.
type RunReport struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	AsOf       time.Time       `json:"as_of"`
	Results    []*CohortResult `json:"-"`
	Combined   []CombinedRow   `json:"-"`
	Stats      RunStats        `json:"stats"`
	// Failures maps cohort name to the error that stopped it. Other
	// cohorts keep their results; an entry here never implies a
	// global failure.
	Failures map[string]string `json:"failures,omitempty"`
}

// CohortMeta is the per-cohort metadata document written next to each
// cohort output file.
type CohortMeta struct {
	Cohort    string    `json:"cohort"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	NRecords  int       `json:"n_records"`
	Funnel    Funnel    `json:"funnel"`
	Inclusion any       `json:"inclusion,omitempty"`
	Exclusion any       `json:"exclusion,omitempty"`
	Tags      any       `json:"tags,omitempty"`
}
