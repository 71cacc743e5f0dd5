package engine

import (
	"context"
	"time"

	"github.com/claimsight/cohortctl/internal/config"
	"github.com/claimsight/cohortctl/internal/model"
	"github.com/claimsight/cohortctl/internal/store"
)

// applyExclusions returns the members removed by the cohort's
// exclusion rules. Matching runs over the inclusion window unless the
// cohort configures its own window, in which case a claim within
// window_days on either side of the member's index date excludes.
// Exclusion is unconditional: there is no partial-exclusion state.
func (e *Evaluator) applyExclusions(ctx context.Context, def *config.Compiled, cands map[string]*candidate, members []string, w model.Window) (store.MemberSet, error) {
	excluded := make(store.MemberSet)
	if def.ExcludeCodes == nil {
		return excluded, nil
	}

	dates, err := e.store.DiagnosisDatesFor(ctx, members, def.ExcludeCodes)
	if err != nil {
		return nil, err
	}

	for _, md := range dates {
		c, ok := cands[md.MemberID]
		if !ok || excluded.Has(md.MemberID) {
			continue
		}
		if def.ExclusionWindowDays > 0 {
			if withinDays(md.ServiceDate, c.index, def.ExclusionWindowDays) {
				excluded.Add(md.MemberID)
			}
		} else if w.Contains(md.ServiceDate) {
			excluded.Add(md.MemberID)
		}
	}
	return excluded, nil
}

// applyCleanPeriod removes members with a prior inclusion-matching
// claim in the N days before their first accepted claim: qualifying
// episodes must be incident, not a continuation of earlier care.
func (e *Evaluator) applyCleanPeriod(ctx context.Context, def *config.Compiled, cands map[string]*candidate, members []string) (store.MemberSet, error) {
	removed := make(store.MemberSet)
	days := def.Inclusion.CleanPeriodDays
	if days <= 0 {
		return removed, nil
	}

	// Full history, not just the lookback window: prior claims are by
	// definition outside it.
	dates, err := e.store.DiagnosisDatesFor(ctx, members, def.IncludeCodes)
	if err != nil {
		return nil, err
	}

	for _, md := range dates {
		c, ok := cands[md.MemberID]
		if !ok || removed.Has(md.MemberID) {
			continue
		}
		onset := c.accepted[0]
		if md.ServiceDate.Before(onset) && !md.ServiceDate.Before(onset.AddDate(0, 0, -days)) {
			removed.Add(md.MemberID)
		}
	}
	return removed, nil
}

// applyEnrollment removes members without continuous coverage from
// index−lookback through index+lookahead. A missing member record or
// missing enrollment date fails the check; an open-ended termination
// counts as active coverage.
func (e *Evaluator) applyEnrollment(ctx context.Context, def *config.Compiled, cands map[string]*candidate, members []string) (store.MemberSet, error) {
	removed := make(store.MemberSet)
	if def.Enrollment == nil {
		return removed, nil
	}

	rows, err := e.store.Members(ctx, members)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Member, len(rows))
	for _, m := range rows {
		byID[m.MemberID] = m
	}

	for _, id := range members {
		c := cands[id]
		m, ok := byID[id]
		if !ok || m.EnrollmentDate == nil {
			removed.Add(id)
			continue
		}
		needStart := c.index.AddDate(0, 0, -def.Enrollment.LookbackDays)
		needEnd := c.index.AddDate(0, 0, def.Enrollment.LookaheadDays)
		if m.EnrollmentDate.After(needStart) {
			removed.Add(id)
			continue
		}
		if m.TerminationDate != nil && m.TerminationDate.Before(needEnd) {
			removed.Add(id)
		}
	}
	return removed, nil
}

// withinDays reports whether a and b are at most days apart in either
// direction.
func withinDays(a, b time.Time, days int) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return int(diff.Hours()/24) <= days
}
