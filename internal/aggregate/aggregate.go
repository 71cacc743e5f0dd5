// Package aggregate merges independently produced cohort results into
// the combined, demographic-enriched table and computes the run's
// validation statistics. It is an explicit reduce over immutable
// per-cohort results; nothing here mutates engine output.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/claimsight/cohortctl/internal/config"
	"github.com/claimsight/cohortctl/internal/model"
	"github.com/claimsight/cohortctl/internal/store"
)

const dateLayout = "2006-01-02"

// Combine unions all cohort results into one table tagged with the
// cohort name and left-joins member demographics. Members without a
// demographic record keep their row with empty fields.
func Combine(ctx context.Context, st store.Store, results []*model.CohortResult) ([]model.CombinedRow, error) {
	unique := make(map[string]struct{})
	for _, r := range results {
		for _, row := range r.Rows {
			unique[row.MemberID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(unique))
	for id := range unique {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	members, err := st.Members(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("combine: load members: %w", err)
	}
	byID := make(map[string]model.Member, len(members))
	for _, m := range members {
		byID[m.MemberID] = m
	}

	var combined []model.CombinedRow
	for _, r := range results {
		for _, row := range r.Rows {
			cr := model.CombinedRow{
				MemberID:  row.MemberID,
				IndexDate: row.IndexDate,
				Cohort:    row.Cohort,
			}
			if m, ok := byID[row.MemberID]; ok {
				cr.FirstName = m.FirstName
				cr.LastName = m.LastName
				cr.Gender = m.Gender
				cr.ExternalUserID = m.ExternalUserID
				if m.DateOfBirth != nil {
					cr.DateOfBirth = m.DateOfBirth.Format(dateLayout)
				}
			}
			combined = append(combined, cr)
		}
	}

	sort.Slice(combined, func(i, j int) bool {
		if combined[i].Cohort != combined[j].Cohort {
			return combined[i].Cohort < combined[j].Cohort
		}
		return combined[i].MemberID < combined[j].MemberID
	})
	return combined, nil
}

// Stats computes per-cohort counts, overlap distribution and the
// hierarchy findings for the configured sensitive/conservative pairs.
func Stats(results []*model.CohortResult, hierarchy []config.HierarchyPair) model.RunStats {
	stats := model.RunStats{
		CohortCounts:        make(map[string]int, len(results)),
		OverlapDistribution: make(map[int]int),
	}

	memberCohorts := make(map[string]int)
	membersByCohort := make(map[string]store.MemberSet, len(results))
	var earliest, latest time.Time

	for _, r := range results {
		stats.CohortCounts[r.Cohort] = len(r.Rows)
		stats.TotalRows += len(r.Rows)
		set := make(store.MemberSet, len(r.Rows))
		for _, row := range r.Rows {
			memberCohorts[row.MemberID]++
			set.Add(row.MemberID)
			if earliest.IsZero() || row.IndexDate.Before(earliest) {
				earliest = row.IndexDate
			}
			if row.IndexDate.After(latest) {
				latest = row.IndexDate
			}
		}
		membersByCohort[r.Cohort] = set
	}

	stats.UniqueMembers = len(memberCohorts)
	for _, n := range memberCohorts {
		stats.OverlapDistribution[n]++
	}
	if !earliest.IsZero() {
		stats.EarliestIndexDate = &earliest
		stats.LatestIndexDate = &latest
	}

	for _, pair := range hierarchy {
		sens, sensOK := membersByCohort[pair.Sensitive]
		cons, consOK := membersByCohort[pair.Conservative]
		if !sensOK || !consOK {
			continue // one side failed or was not run
		}
		finding := model.HierarchyFinding{
			Sensitive:            pair.Sensitive,
			Conservative:         pair.Conservative,
			SensitiveCount:       len(sens),
			ConservativeCount:    len(cons),
			Holds:                len(sens) >= len(cons),
			ConservativeIsSubset: isSubset(cons, sens),
		}
		stats.Hierarchy = append(stats.Hierarchy, finding)
	}
	return stats
}

func isSubset(sub, super store.MemberSet) bool {
	for id := range sub {
		if !super.Has(id) {
			return false
		}
	}
	return true
}
