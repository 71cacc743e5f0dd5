package match

import "testing"

func TestCompilePattern_Prefix(t *testing.T) {
	p, err := CompilePattern("I10.*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.prefix {
		t.Error("expected prefix pattern")
	}
	if p.text != "I10." {
		t.Errorf("expected stripped text I10., got %q", p.text)
	}
}

func TestCompilePattern_Invalid(t *testing.T) {
	cases := []string{"", "   ", "*", "I*10"}
	for _, raw := range cases {
		if _, err := CompilePattern(raw); err == nil {
			t.Errorf("expected error for pattern %q", raw)
		}
	}
}

func TestMatcher_PrefixAndExact(t *testing.T) {
	m := MustCompile("I10.*", "E11.9")

	cases := []struct {
		code string
		want bool
	}{
		{"I10.1", true},
		{"I10.9", true},
		{"i10.1", true}, // case normalized
		{"I10", false},  // prefix requires the dot
		{"I100", false},
		{"E11.9", true},
		{"E11.91", false}, // exact pattern does not prefix-match
		{"Z99.9", false},
	}
	for _, tc := range cases {
		if got := m.Matches(tc.code); got != tc.want {
			t.Errorf("Matches(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestMatcher_EmptyMeansNoFilter(t *testing.T) {
	m, err := Compile(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Empty() {
		t.Error("expected empty matcher")
	}
	if !m.Matches("ANYTHING") {
		t.Error("empty matcher must cover every code")
	}

	var nilMatcher *Matcher
	if !nilMatcher.Matches("X") {
		t.Error("nil matcher must cover every code")
	}
}

func TestMatcher_LikeTerms(t *testing.T) {
	m := MustCompile("I10.*", "E11.9")
	terms := m.LikeTerms()
	if len(terms) != 2 {
		t.Fatalf("expected 2 terms, got %d", len(terms))
	}
	if terms[0] != "I10.%" {
		t.Errorf("expected I10.%%, got %q", terms[0])
	}
	if terms[1] != "E11.9" {
		t.Errorf("expected E11.9, got %q", terms[1])
	}
}

func TestNameSet_ExactCaseInsensitive(t *testing.T) {
	s := NewNameSet([]string{"Metformin HCL", "  Insulin Glargine "})

	if !s.Contains("metformin hcl") {
		t.Error("expected case-insensitive match")
	}
	if !s.Contains("INSULIN GLARGINE") {
		t.Error("expected trimmed, case-insensitive match")
	}
	if s.Contains("metformin") {
		t.Error("medication names must not prefix-match")
	}
}

func TestNameSet_EmptyMatchesNothing(t *testing.T) {
	s := NewNameSet(nil)
	if !s.Empty() {
		t.Error("expected empty set")
	}
	if s.Contains("anything") {
		t.Error("empty name set must match nothing")
	}
}
