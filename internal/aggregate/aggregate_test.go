package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/claimsight/cohortctl/internal/config"
	"github.com/claimsight/cohortctl/internal/model"
	"github.com/claimsight/cohortctl/internal/store"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func result(cohort string, members ...string) *model.CohortResult {
	r := &model.CohortResult{Cohort: cohort}
	for _, id := range members {
		r.Rows = append(r.Rows, model.CohortRow{MemberID: id, IndexDate: day("2024-03-01"), Cohort: cohort})
	}
	return r
}

func TestCombineLeftJoinKeepsUnknownMembers(t *testing.T) {
	dob := day("1960-05-02")
	st := store.NewMemory(nil, nil, nil, nil, []model.Member{
		{MemberID: "m1", FirstName: "Ada", LastName: "Byrne", Gender: "F", DateOfBirth: &dob, ExternalUserID: "ext-1"},
	})

	rows, err := Combine(context.Background(), st, []*model.CohortResult{
		result("diabetes", "m1", "m2"),
	})
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].MemberID != "m1" || rows[0].FirstName != "Ada" || rows[0].DateOfBirth != "1960-05-02" {
		t.Errorf("m1 demographics not joined: %+v", rows[0])
	}
	if rows[1].MemberID != "m2" {
		t.Fatalf("unknown member dropped: %+v", rows[1])
	}
	if rows[1].FirstName != "" || rows[1].DateOfBirth != "" {
		t.Errorf("unknown member should have empty demographics: %+v", rows[1])
	}
}

func TestCombineOrdersByCohortThenMember(t *testing.T) {
	st := store.NewMemory(nil, nil, nil, nil, nil)
	rows, err := Combine(context.Background(), st, []*model.CohortResult{
		result("hypertension", "m3", "m1"),
		result("diabetes", "m2"),
	})
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	var got []string
	for _, r := range rows {
		got = append(got, r.Cohort+"/"+r.MemberID)
	}
	want := []string{"diabetes/m2", "hypertension/m1", "hypertension/m3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("row order %v, want %v", got, want)
		}
	}
}

func TestStatsOverlapDistribution(t *testing.T) {
	stats := Stats([]*model.CohortResult{
		result("a", "m1", "m2"),
		result("b", "m1"),
		result("c", "m1"),
	}, nil)

	if stats.TotalRows != 4 {
		t.Errorf("TotalRows = %d, want 4", stats.TotalRows)
	}
	if stats.UniqueMembers != 2 {
		t.Errorf("UniqueMembers = %d, want 2", stats.UniqueMembers)
	}
	if stats.OverlapDistribution[1] != 1 || stats.OverlapDistribution[3] != 1 {
		t.Errorf("OverlapDistribution = %v", stats.OverlapDistribution)
	}
	if stats.CohortCounts["a"] != 2 || stats.CohortCounts["b"] != 1 {
		t.Errorf("CohortCounts = %v", stats.CohortCounts)
	}
}

func TestStatsHierarchyFindings(t *testing.T) {
	pairs := []config.HierarchyPair{
		{Sensitive: "ckd_sensitive", Conservative: "ckd_conservative"},
		{Sensitive: "missing", Conservative: "ckd_conservative"},
	}

	stats := Stats([]*model.CohortResult{
		result("ckd_sensitive", "m1", "m2", "m3"),
		result("ckd_conservative", "m1", "m2"),
	}, pairs)

	if len(stats.Hierarchy) != 1 {
		t.Fatalf("got %d findings, want 1 (pair with missing cohort skipped)", len(stats.Hierarchy))
	}
	f := stats.Hierarchy[0]
	if !f.Holds || !f.ConservativeIsSubset {
		t.Errorf("expected hierarchy to hold with subset, got %+v", f)
	}
	if f.SensitiveCount != 3 || f.ConservativeCount != 2 {
		t.Errorf("counts = %d/%d, want 3/2", f.SensitiveCount, f.ConservativeCount)
	}
}

func TestStatsHierarchyViolation(t *testing.T) {
	pairs := []config.HierarchyPair{{Sensitive: "s", Conservative: "c"}}

	stats := Stats([]*model.CohortResult{
		result("s", "m1"),
		result("c", "m2", "m3"),
	}, pairs)

	f := stats.Hierarchy[0]
	if f.Holds {
		t.Error("conservative larger than sensitive should not hold")
	}
	if f.ConservativeIsSubset {
		t.Error("disjoint conservative set reported as subset")
	}
}

func TestStatsIndexDateRange(t *testing.T) {
	r := &model.CohortResult{Cohort: "a", Rows: []model.CohortRow{
		{MemberID: "m1", IndexDate: day("2023-06-01"), Cohort: "a"},
		{MemberID: "m2", IndexDate: day("2024-01-15"), Cohort: "a"},
	}}
	stats := Stats([]*model.CohortResult{r}, nil)
	if stats.EarliestIndexDate == nil || !stats.EarliestIndexDate.Equal(day("2023-06-01")) {
		t.Errorf("EarliestIndexDate = %v", stats.EarliestIndexDate)
	}
	if stats.LatestIndexDate == nil || !stats.LatestIndexDate.Equal(day("2024-01-15")) {
		t.Errorf("LatestIndexDate = %v", stats.LatestIndexDate)
	}

	empty := Stats(nil, nil)
	if empty.EarliestIndexDate != nil {
		t.Error("empty run should have no index date range")
	}
}
