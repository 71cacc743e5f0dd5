// Package config loads and validates cohort definitions. Validation
// is a single upfront pass: every malformed cohort is reported before
// any evaluation starts, and one bad cohort never blocks the others.
package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/claimsight/cohortctl/internal/match"
	"github.com/claimsight/cohortctl/internal/model"
	"github.com/claimsight/cohortctl/internal/qualify"
)

// Error is a configuration error tied to one cohort and field.
type Error struct {
	Cohort string
	Field  string
	Reason string
}

func (e *Error) Error() string {
	if e.Cohort == "" {
		return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("cohort %q: %s: %s", e.Cohort, e.Field, e.Reason)
}

// Definitions is the parsed cohort definitions file.
type Definitions struct {
	Cohorts map[string]*Cohort `yaml:"cohorts"`

	// Hierarchy lists sensitive/conservative cohort pairs whose
	// relative counts the aggregator checks after a run.
	Hierarchy []HierarchyPair `yaml:"hierarchy,omitempty"`
}

// HierarchyPair names a looser (sensitive) and stricter (conservative)
// variant of the same condition rule.
type HierarchyPair struct {
	Sensitive    string `yaml:"sensitive"`
	Conservative string `yaml:"conservative"`
}

// Cohort is one named rule set.
type Cohort struct {
	Inclusion  Inclusion           `yaml:"inclusion"`
	Exclusion  *Exclusion          `yaml:"exclusion,omitempty"`
	Enrollment *Enrollment         `yaml:"enrollment,omitempty"`
	Tags       map[string][]string `yaml:"tags,omitempty"`
}

// Inclusion holds the qualification rules for a cohort.
type Inclusion struct {
	Codes                []string `yaml:"codes"`
	ClaimTypes           []string `yaml:"claim_types,omitempty"`
	MinClaims            int      `yaml:"min_claims"`
	MinDaysBetweenClaims int      `yaml:"min_days_between_claims,omitempty"`
	IndexDate            string   `yaml:"index_date,omitempty"`
	LookbackMonths       int      `yaml:"lookback_months,omitempty"`
	WithinMonths         int      `yaml:"within_months,omitempty"`
	CleanPeriodDays      int      `yaml:"clean_period_days,omitempty"`

	AllowProcedure bool     `yaml:"allow_procedure,omitempty"`
	ProcedureCodes []string `yaml:"procedure_codes,omitempty"`

	AllowMedication bool     `yaml:"allow_medication,omitempty"`
	MedicationNames []string `yaml:"medication_names,omitempty"`
	// MedicationCategories is accepted but fails closed: no category
	// mapping collaborator exists yet, so category evidence never
	// counts. Kept in the schema so definitions written against the
	// future mapping do not error out.
	MedicationCategories []string `yaml:"medication_categories,omitempty"`

	RequireBoth bool `yaml:"require_both_procedure_and_medication,omitempty"`
}

// Exclusion removes otherwise qualified patients. WindowDays narrows
// matching to +/- N days around the index date; zero means the whole
// inclusion lookback window.
type Exclusion struct {
	Codes      []string `yaml:"codes"`
	WindowDays int      `yaml:"window_days,omitempty"`
}

// Enrollment requires continuous coverage around the index date.
type Enrollment struct {
	LookbackDays  int `yaml:"lookback_days"`
	LookaheadDays int `yaml:"lookahead_days"`
}

// Load reads and strictly decodes a definitions file: unknown fields
// are an error rather than silently ignored.
func Load(path string) (*Definitions, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open definitions: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var defs Definitions
	if err := dec.Decode(&defs); err != nil {
		return nil, fmt.Errorf("parse definitions %s: %w", path, err)
	}
	if len(defs.Cohorts) == 0 {
		return nil, &Error{Field: "cohorts", Reason: "no cohorts defined"}
	}
	return &defs, nil
}

// Names returns cohort names in sorted order for deterministic runs.
func (d *Definitions) Names() []string {
	names := make([]string, 0, len(d.Cohorts))
	for name := range d.Cohorts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compiled is a validated cohort definition with its code patterns
// compiled and its policy resolved. This is what the engine consumes;
// it never touches raw YAML fields during evaluation.
type Compiled struct {
	Name      string
	Inclusion Inclusion
	Policy    qualify.IndexPolicy

	IncludeCodes   *match.Matcher
	ProcedureCodes *match.Matcher
	Medications    *match.NameSet
	ClaimTypes     []model.ClaimType

	ExcludeCodes        *match.Matcher
	ExclusionWindowDays int

	Enrollment *Enrollment
	Tags       map[string]*match.Matcher

	// Raw keeps the source definition for output metadata.
	Raw *Cohort
}

// Compile validates one cohort and compiles its patterns. All
// problems are reported as *Error naming the cohort and field.
func Compile(name string, c *Cohort) (*Compiled, error) {
	if c == nil {
		return nil, &Error{Cohort: name, Field: "inclusion", Reason: "missing required inclusion block"}
	}
	inc := c.Inclusion
	if len(inc.Codes) == 0 {
		return nil, &Error{Cohort: name, Field: "inclusion.codes", Reason: "at least one diagnosis code pattern is required"}
	}
	if inc.MinClaims < 1 {
		return nil, &Error{Cohort: name, Field: "inclusion.min_claims", Reason: "must be at least 1"}
	}
	if inc.MinDaysBetweenClaims < 0 {
		return nil, &Error{Cohort: name, Field: "inclusion.min_days_between_claims", Reason: "must not be negative"}
	}

	policy, err := qualify.ParsePolicy(inc.IndexDate)
	if err != nil {
		return nil, &Error{Cohort: name, Field: "inclusion.index_date", Reason: err.Error()}
	}

	cc := &Compiled{
		Name:      name,
		Inclusion: inc,
		Policy:    policy,
		Raw:       c,
	}

	if cc.IncludeCodes, err = match.Compile(inc.Codes); err != nil {
		return nil, &Error{Cohort: name, Field: "inclusion.codes", Reason: err.Error()}
	}

	for _, ct := range inc.ClaimTypes {
		known := false
		for _, k := range model.KnownClaimTypes {
			if model.ClaimType(ct) == k {
				known = true
				break
			}
		}
		if !known {
			return nil, &Error{Cohort: name, Field: "inclusion.claim_types", Reason: fmt.Sprintf("unknown claim type %q", ct)}
		}
		cc.ClaimTypes = append(cc.ClaimTypes, model.ClaimType(ct))
	}

	if inc.AllowProcedure {
		if len(inc.ProcedureCodes) == 0 {
			return nil, &Error{Cohort: name, Field: "inclusion.procedure_codes", Reason: "allow_procedure is set but no procedure codes are listed"}
		}
		if cc.ProcedureCodes, err = match.Compile(inc.ProcedureCodes); err != nil {
			return nil, &Error{Cohort: name, Field: "inclusion.procedure_codes", Reason: err.Error()}
		}
	}
	if inc.AllowMedication {
		if len(inc.MedicationNames) == 0 && len(inc.MedicationCategories) == 0 {
			return nil, &Error{Cohort: name, Field: "inclusion.medication_names", Reason: "allow_medication is set but no medication names or categories are listed"}
		}
		cc.Medications = match.NewNameSet(inc.MedicationNames)
	}
	if inc.RequireBoth && (!inc.AllowProcedure || !inc.AllowMedication) {
		return nil, &Error{Cohort: name, Field: "inclusion.require_both_procedure_and_medication", Reason: "requires both allow_procedure and allow_medication"}
	}

	if c.Exclusion != nil {
		if len(c.Exclusion.Codes) == 0 {
			return nil, &Error{Cohort: name, Field: "exclusion.codes", Reason: "exclusion block present but empty"}
		}
		if cc.ExcludeCodes, err = match.Compile(c.Exclusion.Codes); err != nil {
			return nil, &Error{Cohort: name, Field: "exclusion.codes", Reason: err.Error()}
		}
		if c.Exclusion.WindowDays < 0 {
			return nil, &Error{Cohort: name, Field: "exclusion.window_days", Reason: "must not be negative"}
		}
		cc.ExclusionWindowDays = c.Exclusion.WindowDays
	}

	if c.Enrollment != nil {
		if c.Enrollment.LookbackDays < 0 || c.Enrollment.LookaheadDays < 0 {
			return nil, &Error{Cohort: name, Field: "enrollment", Reason: "lookback_days and lookahead_days must not be negative"}
		}
		cc.Enrollment = c.Enrollment
	}

	if len(c.Tags) > 0 {
		cc.Tags = make(map[string]*match.Matcher, len(c.Tags))
		for tag, codes := range c.Tags {
			if len(codes) == 0 {
				return nil, &Error{Cohort: name, Field: "tags." + tag, Reason: "tag has no code patterns"}
			}
			m, err := match.Compile(codes)
			if err != nil {
				return nil, &Error{Cohort: name, Field: "tags." + tag, Reason: err.Error()}
			}
			cc.Tags[tag] = m
		}
	}

	return cc, nil
}

// CompileAll compiles every cohort, returning the valid ones plus the
// per-cohort errors. Validation failures are isolated: one malformed
// cohort never blocks compilation of its siblings.
func (d *Definitions) CompileAll() (map[string]*Compiled, map[string]error) {
	compiled := make(map[string]*Compiled, len(d.Cohorts))
	failed := make(map[string]error)
	for name, c := range d.Cohorts {
		cc, err := Compile(name, c)
		if err != nil {
			failed[name] = err
			continue
		}
		compiled[name] = cc
	}
	return compiled, failed
}

// ValidateHierarchy checks that hierarchy pairs reference defined
// cohorts.
func (d *Definitions) ValidateHierarchy() error {
	for _, p := range d.Hierarchy {
		if _, ok := d.Cohorts[p.Sensitive]; !ok {
			return &Error{Field: "hierarchy.sensitive", Reason: fmt.Sprintf("unknown cohort %q", p.Sensitive)}
		}
		if _, ok := d.Cohorts[p.Conservative]; !ok {
			return &Error{Field: "hierarchy.conservative", Reason: fmt.Sprintf("unknown cohort %q", p.Conservative)}
		}
	}
	return nil
}
