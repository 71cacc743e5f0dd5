package match

import (
	"fmt"
	"strings"
)

// Pattern is one compiled diagnosis/procedure code pattern. A
// trailing "*" in the source denotes prefix matching: "I10.*" covers
// any code starting with "I10." and "I10*" covers "I10", "I100",
// "I10.9". Matching is case-normalized.
type Pattern struct {
	text   string
	prefix bool
}

// String returns the pattern as configured.
func (p Pattern) String() string {
	if p.prefix {
		return p.text + "*"
	}
	return p.text
}

// CompilePattern parses a single code pattern. Empty patterns and a
// bare "*" are rejected: an unfiltered axis is expressed by an empty
// pattern list, never by a match-everything pattern.
func CompilePattern(raw string) (Pattern, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return Pattern{}, fmt.Errorf("empty code pattern")
	}
	prefix := strings.HasSuffix(s, "*")
	if prefix {
		s = strings.TrimSuffix(s, "*")
	}
	if s == "" {
		return Pattern{}, fmt.Errorf("pattern %q matches everything; leave the code list empty instead", raw)
	}
	if strings.Contains(s, "*") {
		return Pattern{}, fmt.Errorf("pattern %q: wildcard is only allowed as a trailing marker", raw)
	}
	return Pattern{text: s, prefix: prefix}, nil
}

// Matcher is a compiled set of code patterns. The zero-length matcher
// means "no filter on this axis" and covers every code; callers that
// need to distinguish that case use Empty.
type Matcher struct {
	patterns []Pattern
}

// Compile compiles a list of raw code patterns into a Matcher.
func Compile(raw []string) (*Matcher, error) {
	m := &Matcher{patterns: make([]Pattern, 0, len(raw))}
	for _, r := range raw {
		p, err := CompilePattern(r)
		if err != nil {
			return nil, err
		}
		m.patterns = append(m.patterns, p)
	}
	return m, nil
}

// MustCompile is Compile for known-good literals in tests.
func MustCompile(raw ...string) *Matcher {
	m, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return m
}

// Empty reports whether no patterns are configured.
func (m *Matcher) Empty() bool {
	return m == nil || len(m.patterns) == 0
}

// Matches reports whether code is covered. An empty matcher covers
// everything (no filter configured).
func (m *Matcher) Matches(code string) bool {
	if m.Empty() {
		return true
	}
	c := strings.ToUpper(strings.TrimSpace(code))
	for _, p := range m.patterns {
		if p.prefix {
			if strings.HasPrefix(c, p.text) {
				return true
			}
		} else if c == p.text {
			return true
		}
	}
	return false
}

// Patterns returns the compiled patterns in configured order.
func (m *Matcher) Patterns() []Pattern {
	if m == nil {
		return nil
	}
	return m.patterns
}

// LikeTerms renders the patterns as SQL LIKE operands for set-based
// store queries: prefix patterns become "PREFIX%", exact patterns
// stay literal. The caller decides the column and quoting.
func (m *Matcher) LikeTerms() []string {
	if m.Empty() {
		return nil
	}
	terms := make([]string, len(m.patterns))
	for i, p := range m.patterns {
		if p.prefix {
			terms[i] = p.text + "%"
		} else {
			terms[i] = p.text
		}
	}
	return terms
}

// NameSet matches free-text medication product names: exact,
// case-insensitive equality, no wildcard semantics. Medication
// identifiers are product names, not a coded hierarchy.
type NameSet struct {
	names map[string]struct{}
}

// NewNameSet builds a NameSet from configured product names.
func NewNameSet(names []string) *NameSet {
	s := &NameSet{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			s.names[n] = struct{}{}
		}
	}
	return s
}

// Empty reports whether no names are configured.
func (s *NameSet) Empty() bool {
	return s == nil || len(s.names) == 0
}

// Contains reports whether name is one of the configured products.
// Unlike Matcher, an empty NameSet matches nothing: medication
// evidence must be named to count.
func (s *NameSet) Contains(name string) bool {
	if s.Empty() {
		return false
	}
	_, ok := s.names[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Names returns the normalized names in unspecified order.
func (s *NameSet) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	return out
}
