package engine

import (
	"context"
	"strings"

	"github.com/claimsight/cohortctl/internal/cache"
	"github.com/claimsight/cohortctl/internal/config"
	"github.com/claimsight/cohortctl/internal/model"
	"github.com/claimsight/cohortctl/internal/store"
)

// resolveSupport determines, in one batched pass, which candidates
// have the corroborating procedure and/or medication evidence the
// cohort requires. The second return value is false when neither
// axis is enabled, in which case the resolver is a no-op and every
// candidate counts as supported.
func (e *Evaluator) resolveSupport(ctx context.Context, def *config.Compiled, members []string, w model.Window) (store.MemberSet, bool, error) {
	inc := def.Inclusion
	if !inc.AllowProcedure && !inc.AllowMedication {
		return nil, false, nil
	}

	var procSet, medSet store.MemberSet

	if inc.AllowProcedure {
		set, err := e.cachedMembers(ctx, "procedure_support", members, def.ProcedureCodes.LikeTerms(), w,
			func(ctx context.Context) (store.MemberSet, error) {
				return e.store.MembersWithProcedure(ctx, members, def.ProcedureCodes, w)
			})
		if err != nil {
			return nil, true, err
		}
		procSet = set
	}

	if inc.AllowMedication {
		if len(inc.MedicationCategories) > 0 {
			// Category resolution needs a pharmacologic class mapping
			// this build does not have. Fail closed: categories
			// contribute no evidence.
			e.log.Warn().
				Str("cohort", def.Name).
				Strs("categories", inc.MedicationCategories).
				Msg("medication categories are not resolvable without a mapping table; treating as unsupported")
		}
		medSet = store.MemberSet{}
		if !def.Medications.Empty() {
			names := def.Medications.Names()
			set, err := e.cachedMembers(ctx, "medication_support", members, names, w,
				func(ctx context.Context) (store.MemberSet, error) {
					return e.store.MembersWithMedication(ctx, members, def.Medications, w)
				})
			if err != nil {
				return nil, true, err
			}
			medSet = set
		}
	}

	supported := make(store.MemberSet)
	for _, id := range members {
		inProc := procSet.Has(id)
		inMed := medSet.Has(id)
		switch {
		case inc.AllowProcedure && inc.AllowMedication && inc.RequireBoth:
			if inProc && inMed {
				supported.Add(id)
			}
		case inc.AllowProcedure && inc.AllowMedication:
			if inProc || inMed {
				supported.Add(id)
			}
		case inc.AllowProcedure:
			if inProc {
				supported.Add(id)
			}
		default:
			if inMed {
				supported.Add(id)
			}
		}
	}
	return supported, true, nil
}

// cachedMembers memoizes a batch membership lookup for the run.
func (e *Evaluator) cachedMembers(ctx context.Context, op string, members, terms []string, w model.Window, fetch func(context.Context) (store.MemberSet, error)) (store.MemberSet, error) {
	if e.sets == nil {
		return fetch(ctx)
	}
	key := cache.Key(op,
		strings.Join(terms, ","),
		cache.WindowKey(w.Start),
		cache.WindowKey(w.End),
		memberDigest(members),
	)
	if set, ok := e.sets.Get(key); ok {
		return set, nil
	}
	set, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	e.sets.Set(key, set)
	return set, nil
}

// memberDigest collapses a candidate list into a key component.
// Members arrive sorted from the evaluator, so the join is stable.
func memberDigest(members []string) string {
	return strings.Join(members, ",")
}
