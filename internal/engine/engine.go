// Package engine turns one cohort definition into a deterministic
// per-patient membership decision and index date. Evaluation is a
// pure function of (store, definition, as-of date); cohorts can run
// in parallel against the same store with no shared mutable state.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/claimsight/cohortctl/internal/cache"
	"github.com/claimsight/cohortctl/internal/config"
	"github.com/claimsight/cohortctl/internal/model"
	"github.com/claimsight/cohortctl/internal/qualify"
	"github.com/claimsight/cohortctl/internal/store"
)

// Evaluator evaluates cohort definitions against a claims store.
type Evaluator struct {
	store store.Store
	sets  *cache.MemberSets
	log   zerolog.Logger
}

// New creates an evaluator. sets may be nil to disable memoization.
func New(st store.Store, sets *cache.MemberSets, log zerolog.Logger) *Evaluator {
	return &Evaluator{store: st, sets: sets, log: log}
}

// Window computes the claims window for a definition anchored at
// asOf. Months are approximated as 30 days, matching the source
// dataset's conventions.
func Window(def *config.Compiled, asOf time.Time) model.Window {
	w := model.Window{End: asOf}
	if def.Inclusion.LookbackMonths > 0 {
		w.Start = asOf.AddDate(0, 0, -def.Inclusion.LookbackMonths*30)
	}
	return w
}

// Evaluate runs the full pipeline for one cohort: code matching,
// temporal qualification, support resolution, exclusion and the
// optional clean-period/enrollment filters. An empty result is valid
// output, not an error.
func (e *Evaluator) Evaluate(ctx context.Context, def *config.Compiled, asOf time.Time) (*model.CohortResult, error) {
	w := Window(def, asOf)
	log := e.log.With().Str("cohort", def.Name).Logger()

	if err := e.checkAxes(ctx, def); err != nil {
		return nil, err
	}

	// Tag qualifying rows: one batched scan of the diagnosis
	// relation, grouped by member.
	rows, err := e.store.DiagnosisClaims(ctx, def.IncludeCodes, def.ClaimTypes, w)
	if err != nil {
		return nil, fmt.Errorf("cohort %q: inclusion claims: %w", def.Name, err)
	}

	cands := make(map[string]*candidate)
	for _, md := range rows {
		c, ok := cands[md.MemberID]
		if !ok {
			c = &candidate{memberID: md.MemberID, state: StateCodeMatched}
			cands[md.MemberID] = c
		}
		c.dates = append(c.dates, md.ServiceDate)
	}

	funnel := model.Funnel{CodeMatched: len(cands)}

	// Per-patient temporal qualification.
	inc := def.Inclusion
	for _, c := range cands {
		if inc.WithinMonths > 0 && !qualify.SpanWithin(c.dates, inc.WithinMonths) {
			continue
		}
		dec := qualify.Evaluate(c.dates, inc.MinClaims, inc.MinDaysBetweenClaims, def.Policy)
		if !dec.Qualifies {
			continue
		}
		c.index = dec.IndexDate
		c.accepted = dec.Accepted
		c.state = StateTemporallyQualified
	}

	qualified := membersInState(cands, StateTemporallyQualified)
	funnel.TemporallyQualified = len(qualified)

	// Support resolution over the whole candidate set at once.
	supported, active, err := e.resolveSupport(ctx, def, qualified, w)
	if err != nil {
		return nil, fmt.Errorf("cohort %q: support: %w", def.Name, err)
	}
	for _, id := range qualified {
		if !active || supported.Has(id) {
			cands[id].state = StateSupportConfirmed
		}
	}

	confirmed := membersInState(cands, StateSupportConfirmed)
	funnel.SupportConfirmed = len(confirmed)

	// Removal passes. Each is a batched set operation; exclusion is
	// strictly dominant over any inclusion strength.
	excluded, err := e.applyExclusions(ctx, def, cands, confirmed, w)
	if err != nil {
		return nil, fmt.Errorf("cohort %q: exclusion: %w", def.Name, err)
	}
	clean, err := e.applyCleanPeriod(ctx, def, cands, confirmed)
	if err != nil {
		return nil, fmt.Errorf("cohort %q: clean period: %w", def.Name, err)
	}
	enrollment, err := e.applyEnrollment(ctx, def, cands, confirmed)
	if err != nil {
		return nil, fmt.Errorf("cohort %q: enrollment: %w", def.Name, err)
	}

	for _, id := range confirmed {
		c := cands[id]
		if excluded.Has(id) || clean.Has(id) || enrollment.Has(id) {
			c.state = StateExcluded
		} else {
			c.state = StateAccepted
		}
	}

	accepted := membersInState(cands, StateAccepted)
	funnel.Excluded = len(confirmed) - len(accepted)
	funnel.Accepted = len(accepted)

	tags, err := e.computeTags(ctx, def, accepted)
	if err != nil {
		return nil, fmt.Errorf("cohort %q: tags: %w", def.Name, err)
	}

	result := &model.CohortResult{Cohort: def.Name, Funnel: funnel}
	for _, id := range accepted {
		row := model.CohortRow{MemberID: id, IndexDate: cands[id].index, Cohort: def.Name}
		if len(tags) > 0 {
			row.Tags = make(map[string]bool, len(tags))
			for tag, set := range tags {
				row.Tags[tag] = set.Has(id)
			}
		}
		result.Rows = append(result.Rows, row)
	}
	result.SortRows()

	log.Info().
		Int("code_matched", funnel.CodeMatched).
		Int("temporally_qualified", funnel.TemporallyQualified).
		Int("support_confirmed", funnel.SupportConfirmed).
		Int("excluded", funnel.Excluded).
		Int("accepted", funnel.Accepted).
		Msg("cohort evaluated")

	return result, nil
}

// checkAxes verifies that every source relation the definition needs
// actually has data. Failures are per-cohort: a missing procedure
// relation only stops cohorts with a procedure axis.
func (e *Evaluator) checkAxes(ctx context.Context, def *config.Compiled) error {
	if def.Inclusion.AllowProcedure {
		ok, err := e.store.HasProcedureData(ctx)
		if err != nil {
			return fmt.Errorf("cohort %q: %w", def.Name, err)
		}
		if !ok {
			return fmt.Errorf("cohort %q: %w", def.Name, &store.DataGapError{Relation: "claims_procedures"})
		}
	}
	if def.Inclusion.AllowMedication && !def.Medications.Empty() {
		ok, err := e.store.HasMedicationData(ctx)
		if err != nil {
			return fmt.Errorf("cohort %q: %w", def.Name, err)
		}
		if !ok {
			return fmt.Errorf("cohort %q: %w", def.Name, &store.DataGapError{Relation: "claims_drugs"})
		}
	}
	return nil
}

// computeTags evaluates each configured tag as one batch query.
func (e *Evaluator) computeTags(ctx context.Context, def *config.Compiled, members []string) (map[string]store.MemberSet, error) {
	if len(def.Tags) == 0 || len(members) == 0 {
		return nil, nil
	}
	out := make(map[string]store.MemberSet, len(def.Tags))
	for tag, matcher := range def.Tags {
		m := matcher
		set, err := e.cachedMembers(ctx, "tag:"+tag, members, m.LikeTerms(), model.Window{},
			func(ctx context.Context) (store.MemberSet, error) {
				return e.store.MembersWithDiagnosis(ctx, members, m)
			})
		if err != nil {
			return nil, err
		}
		out[tag] = set
	}
	return out, nil
}

// membersInState returns candidates in the given state, sorted for
// deterministic downstream batches.
func membersInState(cands map[string]*candidate, s State) []string {
	var out []string
	for id, c := range cands {
		if c.state == s {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
