package output

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/claimsight/cohortctl/internal/model"
)

// RenderSummary prints the human-readable run recap. Structured
// results go to files; this is operator feedback only.
func RenderSummary(w io.Writer, report *model.RunReport) {
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "  Cohort Evaluation Complete\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  Run ID:          %s\n", report.RunID)
	fmt.Fprintf(w, "  Analysis date:   %s\n", report.AsOf.Format("2006-01-02"))
	fmt.Fprintf(w, "  Duration:        %v\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "\n")

	names := make([]string, 0, len(report.Stats.CohortCounts))
	for name := range report.Stats.CohortCounts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  ✓ %-28s %d patients\n", name, report.Stats.CohortCounts[name])
	}

	failed := make([]string, 0, len(report.Failures))
	for name := range report.Failures {
		failed = append(failed, name)
	}
	sort.Strings(failed)
	for _, name := range failed {
		fmt.Fprintf(w, "  ✗ %-28s %s\n", name, report.Failures[name])
	}

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  Total rows:      %d\n", report.Stats.TotalRows)
	fmt.Fprintf(w, "  Unique patients: %d\n", report.Stats.UniqueMembers)

	if len(report.Stats.OverlapDistribution) > 0 {
		counts := make([]int, 0, len(report.Stats.OverlapDistribution))
		for n := range report.Stats.OverlapDistribution {
			counts = append(counts, n)
		}
		sort.Ints(counts)
		fmt.Fprintf(w, "  Overlap:        ")
		for _, n := range counts {
			fmt.Fprintf(w, " %d-cohort: %d", n, report.Stats.OverlapDistribution[n])
		}
		fmt.Fprintf(w, "\n")
	}

	for _, f := range report.Stats.Hierarchy {
		mark := "✓"
		if !f.Holds {
			mark = "⚠"
		}
		fmt.Fprintf(w, "  %s hierarchy %s ≥ %s (%d vs %d)\n", mark, f.Sensitive, f.Conservative, f.SensitiveCount, f.ConservativeCount)
	}

	fmt.Fprintf(w, "\n")
}
