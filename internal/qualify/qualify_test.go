package qualify

import (
	"testing"
	"time"
)

func d(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestEvaluate_TwoClaimsThirtyDaysApart(t *testing.T) {
	// 01-01 accepted, 01-10 skipped (gap 9), 02-15 accepted (gap 45).
	dates := []time.Time{d("2024-01-01"), d("2024-01-10"), d("2024-02-15")}

	dec := Evaluate(dates, 2, 30, PolicySecondClaim)
	if !dec.Qualifies {
		t.Fatal("expected patient to qualify")
	}
	if !dec.IndexDate.Equal(d("2024-02-15")) {
		t.Errorf("expected index date 2024-02-15, got %s", dec.IndexDate.Format("2006-01-02"))
	}
	if len(dec.Accepted) != 2 {
		t.Errorf("expected 2 accepted claims, got %d", len(dec.Accepted))
	}
}

func TestEvaluate_GapTooShort(t *testing.T) {
	dates := []time.Time{d("2024-01-01"), d("2024-01-20")}

	dec := Evaluate(dates, 2, 30, PolicySecondClaim)
	if dec.Qualifies {
		t.Error("expected patient not to qualify: gap is 19 days")
	}
	if !dec.IndexDate.IsZero() {
		t.Error("non-qualifying decision must not carry an index date")
	}
}

func TestEvaluate_Policies(t *testing.T) {
	dates := []time.Time{d("2024-01-01"), d("2024-02-15"), d("2024-03-20")}

	cases := []struct {
		policy IndexPolicy
		want   string
	}{
		{PolicyFirstClaim, "2024-01-01"},
		{PolicySecondClaim, "2024-02-15"},
		{PolicyLastClaim, "2024-03-20"},
	}
	for _, tc := range cases {
		dec := Evaluate(dates, 2, 30, tc.policy)
		if !dec.Qualifies {
			t.Fatalf("%s: expected qualification", tc.policy)
		}
		if got := dec.IndexDate.Format("2006-01-02"); got != tc.want {
			t.Errorf("%s: expected index %s, got %s", tc.policy, tc.want, got)
		}
	}
}

func TestEvaluate_SingleClaimThreshold(t *testing.T) {
	dates := []time.Time{d("2024-03-05")}

	dec := Evaluate(dates, 1, 30, PolicyFirstClaim)
	if !dec.Qualifies {
		t.Fatal("min_claims=1 must qualify on a single claim")
	}
	if !dec.IndexDate.Equal(d("2024-03-05")) {
		t.Errorf("expected the single claim date as index, got %s", dec.IndexDate)
	}

	// Spacing is irrelevant at threshold 1: earliest claim wins.
	dec = Evaluate([]time.Time{d("2024-05-01"), d("2024-05-02")}, 1, 90, PolicyFirstClaim)
	if !dec.Qualifies || !dec.IndexDate.Equal(d("2024-05-01")) {
		t.Errorf("expected earliest date 2024-05-01, got %v", dec.IndexDate)
	}
}

func TestEvaluate_FewerClaimsThanThreshold(t *testing.T) {
	dec := Evaluate([]time.Time{d("2024-01-01")}, 2, 30, PolicySecondClaim)
	if dec.Qualifies {
		t.Error("one claim cannot satisfy min_claims=2")
	}
}

func TestEvaluate_UnsortedInput(t *testing.T) {
	dates := []time.Time{d("2024-02-15"), d("2024-01-01"), d("2024-01-10")}

	dec := Evaluate(dates, 2, 30, PolicySecondClaim)
	if !dec.Qualifies {
		t.Fatal("expected qualification regardless of input order")
	}
	if !dec.IndexDate.Equal(d("2024-02-15")) {
		t.Errorf("expected index 2024-02-15, got %s", dec.IndexDate)
	}
	// Input must be left untouched.
	if !dates[0].Equal(d("2024-02-15")) {
		t.Error("Evaluate must not reorder the caller's slice")
	}
}

func TestEvaluate_SubsequenceProperty(t *testing.T) {
	// Three claims, pairwise gaps 20 and 20: no two claims are 30
	// days apart consecutively under greedy acceptance, but first and
	// last are 40 apart, which greedy finds.
	dates := []time.Time{d("2024-01-01"), d("2024-01-21"), d("2024-02-10")}

	dec := Evaluate(dates, 2, 30, PolicySecondClaim)
	if !dec.Qualifies {
		t.Fatal("expected greedy to accept 01-01 and 02-10")
	}
	if !dec.IndexDate.Equal(d("2024-02-10")) {
		t.Errorf("expected index 2024-02-10, got %s", dec.IndexDate)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	dates := []time.Time{d("2024-01-01"), d("2024-03-01"), d("2024-05-01")}
	first := Evaluate(dates, 3, 30, PolicySecondClaim)
	for i := 0; i < 5; i++ {
		again := Evaluate(dates, 3, 30, PolicySecondClaim)
		if again.Qualifies != first.Qualifies || !again.IndexDate.Equal(first.IndexDate) {
			t.Fatal("repeated evaluation must be identical")
		}
	}
}

func TestParsePolicy(t *testing.T) {
	if _, err := ParsePolicy("nth_claim"); err == nil {
		t.Error("expected error for unknown policy")
	}
	p, err := ParsePolicy("")
	if err != nil || p != PolicySecondClaim {
		t.Errorf("expected empty policy to default to second_claim, got %q (%v)", p, err)
	}
	if _, err := ParsePolicy("last_claim"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSpanWithin(t *testing.T) {
	dates := []time.Time{d("2024-01-01"), d("2024-03-01")}
	if !SpanWithin(dates, 3) {
		t.Error("60-day span fits inside 3 months")
	}
	if SpanWithin(dates, 1) {
		t.Error("60-day span exceeds 1 month")
	}
	if !SpanWithin(dates, 0) {
		t.Error("zero months means no constraint")
	}
}
