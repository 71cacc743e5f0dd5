package store

import (
	"context"
	"time"

	"github.com/claimsight/cohortctl/internal/match"
	"github.com/claimsight/cohortctl/internal/model"
)

// Memory is an immutable in-memory Store. Tables are indexed once at
// construction; all operations are pure lookups after that, so the
// store is safe for concurrent use by parallel cohort evaluations.
type Memory struct {
	claims  map[string]model.ClaimEntry // claim id -> entry
	members map[string]model.Member

	diagnosesByClaim  map[string][]string // claim id -> diagnosis codes
	proceduresByClaim map[string][]string
	drugsByClaim      map[string][]string

	claimsByMember map[string][]string // member id -> claim ids
	latest         time.Time
	hasProcedures  bool
	hasDrugs       bool
}

// NewMemory builds a Memory store from loaded relations.
func NewMemory(claims []model.ClaimEntry, diagnoses []model.Diagnosis, procedures []model.Procedure, drugs []model.DrugClaim, members []model.Member) *Memory {
	m := &Memory{
		claims:            make(map[string]model.ClaimEntry, len(claims)),
		members:           make(map[string]model.Member, len(members)),
		diagnosesByClaim:  make(map[string][]string, len(diagnoses)),
		proceduresByClaim: make(map[string][]string, len(procedures)),
		drugsByClaim:      make(map[string][]string, len(drugs)),
		claimsByMember:    make(map[string][]string),
	}
	for _, c := range claims {
		m.claims[c.ClaimID] = c
		m.claimsByMember[c.MemberID] = append(m.claimsByMember[c.MemberID], c.ClaimID)
		if c.ServiceDate.After(m.latest) {
			m.latest = c.ServiceDate
		}
	}
	for _, d := range diagnoses {
		m.diagnosesByClaim[d.ClaimID] = append(m.diagnosesByClaim[d.ClaimID], d.Code)
	}
	for _, p := range procedures {
		m.proceduresByClaim[p.ClaimID] = append(m.proceduresByClaim[p.ClaimID], p.Code)
	}
	for _, d := range drugs {
		m.drugsByClaim[d.ClaimID] = append(m.drugsByClaim[d.ClaimID], d.ProductName)
	}
	for _, mem := range members {
		m.members[mem.MemberID] = mem
	}
	m.hasProcedures = len(procedures) > 0
	m.hasDrugs = len(drugs) > 0
	return m
}

func (m *Memory) DiagnosisClaims(ctx context.Context, pat *match.Matcher, types []model.ClaimType, w model.Window) ([]model.MemberDate, error) {
	var out []model.MemberDate
	for claimID, codes := range m.diagnosesByClaim {
		entry, ok := m.claims[claimID]
		if !ok {
			continue
		}
		if !claimTypeAllowed(entry.ClaimType, types) || !w.Contains(entry.ServiceDate) {
			continue
		}
		for _, code := range codes {
			if pat.Matches(code) {
				out = append(out, model.MemberDate{MemberID: entry.MemberID, ServiceDate: entry.ServiceDate})
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) DiagnosisDatesFor(ctx context.Context, members []string, pat *match.Matcher) ([]model.MemberDate, error) {
	var out []model.MemberDate
	for _, id := range members {
		for _, claimID := range m.claimsByMember[id] {
			entry := m.claims[claimID]
			for _, code := range m.diagnosesByClaim[claimID] {
				if pat.Matches(code) {
					out = append(out, model.MemberDate{MemberID: id, ServiceDate: entry.ServiceDate})
					break
				}
			}
		}
	}
	return out, nil
}

func (m *Memory) MembersWithDiagnosis(ctx context.Context, members []string, pat *match.Matcher) (MemberSet, error) {
	set := make(MemberSet)
	for _, id := range members {
		for _, claimID := range m.claimsByMember[id] {
			if matchAny(m.diagnosesByClaim[claimID], pat) {
				set.Add(id)
				break
			}
		}
	}
	return set, nil
}

func (m *Memory) MembersWithProcedure(ctx context.Context, members []string, pat *match.Matcher, w model.Window) (MemberSet, error) {
	set := make(MemberSet)
	for _, id := range members {
		for _, claimID := range m.claimsByMember[id] {
			entry := m.claims[claimID]
			if !w.Contains(entry.ServiceDate) {
				continue
			}
			if matchAny(m.proceduresByClaim[claimID], pat) {
				set.Add(id)
				break
			}
		}
	}
	return set, nil
}

func (m *Memory) MembersWithMedication(ctx context.Context, members []string, names *match.NameSet, w model.Window) (MemberSet, error) {
	set := make(MemberSet)
	if names.Empty() {
		return set, nil
	}
	for _, id := range members {
		for _, claimID := range m.claimsByMember[id] {
			entry := m.claims[claimID]
			if entry.ClaimType != model.ClaimTypePharmacy || !w.Contains(entry.ServiceDate) {
				continue
			}
			for _, product := range m.drugsByClaim[claimID] {
				if names.Contains(product) {
					set.Add(id)
					break
				}
			}
			if set.Has(id) {
				break
			}
		}
	}
	return set, nil
}

func (m *Memory) Members(ctx context.Context, ids []string) ([]model.Member, error) {
	out := make([]model.Member, 0, len(ids))
	for _, id := range ids {
		if mem, ok := m.members[id]; ok {
			out = append(out, mem)
		}
	}
	return out, nil
}

func (m *Memory) LatestServiceDate(ctx context.Context) (time.Time, error) {
	if len(m.claims) == 0 {
		return time.Time{}, &DataGapError{Relation: "claims_entries"}
	}
	return m.latest, nil
}

func (m *Memory) HasProcedureData(ctx context.Context) (bool, error) {
	return m.hasProcedures, nil
}

func (m *Memory) HasMedicationData(ctx context.Context) (bool, error) {
	return m.hasDrugs, nil
}

func claimTypeAllowed(ct model.ClaimType, allowed []model.ClaimType) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if ct == a {
			return true
		}
	}
	return false
}

func matchAny(codes []string, pat *match.Matcher) bool {
	if pat.Empty() {
		return len(codes) > 0
	}
	for _, c := range codes {
		if pat.Matches(c) {
			return true
		}
	}
	return false
}
