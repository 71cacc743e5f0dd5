// Package qualify decides, from one patient's ordered claim dates,
// whether count/spacing thresholds are met and which date anchors the
// qualification (the index date).
package qualify

import (
	"fmt"
	"sort"
	"time"
)

// IndexPolicy selects which accepted claim date becomes the index date.
type IndexPolicy string

const (
	// PolicyFirstClaim anchors on the first accepted claim.
	PolicyFirstClaim IndexPolicy = "first_claim"
	// PolicySecondClaim anchors on the claim at which the threshold
	// was reached (the nth accepted claim for min_claims = n).
	PolicySecondClaim IndexPolicy = "second_claim"
	// PolicyLastClaim anchors on the most recent qualifying claim
	// inside the lookback window.
	PolicyLastClaim IndexPolicy = "last_claim"
)

// ParsePolicy validates a configured index date policy string.
func ParsePolicy(s string) (IndexPolicy, error) {
	switch IndexPolicy(s) {
	case PolicyFirstClaim, PolicySecondClaim, PolicyLastClaim:
		return IndexPolicy(s), nil
	case "":
		// Unset defaults to the threshold claim, matching the most
		// common clinical convention (second qualifying visit).
		return PolicySecondClaim, nil
	default:
		return "", fmt.Errorf("unknown index_date policy %q (expected first_claim, second_claim or last_claim)", s)
	}
}

// Decision is the outcome for one patient.
type Decision struct {
	Qualifies bool
	IndexDate time.Time
	// Accepted holds the dates that passed the spacing rule, in
	// chronological order, up to the qualification threshold.
	Accepted []time.Time
}

// Evaluate runs the greedy acceptance algorithm over one patient's
// claim dates. Dates need not be sorted; the input slice is not
// modified. A claim is accepted if it is the first claim or falls at
// least minGapDays after the last accepted claim; the patient
// qualifies once minClaims claims are accepted.
func Evaluate(dates []time.Time, minClaims, minGapDays int, policy IndexPolicy) Decision {
	if minClaims < 1 {
		minClaims = 1
	}
	if len(dates) < minClaims {
		return Decision{}
	}

	sorted := make([]time.Time, len(dates))
	copy(sorted, dates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	accepted := make([]time.Time, 0, minClaims)
	for _, d := range sorted {
		if len(accepted) == 0 || gapDays(accepted[len(accepted)-1], d) >= minGapDays {
			accepted = append(accepted, d)
			if len(accepted) == minClaims {
				break
			}
		}
	}
	if len(accepted) < minClaims {
		return Decision{}
	}

	dec := Decision{Qualifies: true, Accepted: accepted}
	switch policy {
	case PolicyFirstClaim:
		dec.IndexDate = accepted[0]
	case PolicyLastClaim:
		// The most recent qualifying claim, not merely the most
		// recent accepted one.
		dec.IndexDate = sorted[len(sorted)-1]
	default: // PolicySecondClaim and unset
		dec.IndexDate = accepted[len(accepted)-1]
	}
	return dec
}

// SpanWithin reports whether all dates fall inside a rolling window
// of months*30 days, measured first to last claim.
func SpanWithin(dates []time.Time, months int) bool {
	if months <= 0 || len(dates) < 2 {
		return true
	}
	min, max := dates[0], dates[0]
	for _, d := range dates[1:] {
		if d.Before(min) {
			min = d
		}
		if d.After(max) {
			max = d
		}
	}
	return gapDays(min, max) <= months*30
}

// gapDays returns whole days from a to b (b after a).
func gapDays(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}
