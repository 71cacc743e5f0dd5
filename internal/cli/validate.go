package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/claimsight/cohortctl/internal/config"
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate <definitions.yaml>",
	Short: "Validate a cohort definitions file without running it",
	Long: `Parses and compiles every cohort in the definitions file and reports
each problem with the cohort and field it belongs to. Exits non-zero
if any cohort is malformed.

Example:
  cohortctl validate cohorts.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	defs, err := config.Load(args[0])
	if err != nil {
		return err
	}
	if err := defs.ValidateHierarchy(); err != nil {
		return err
	}

	compiled, failed := defs.CompileAll()

	for _, name := range defs.Names() {
		if cerr, ok := failed[name]; ok {
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", name, cerr)
			continue
		}
		def := compiled[name]
		extras := describeCohort(def)
		fmt.Fprintf(os.Stderr, "✓ %s%s\n", name, extras)
	}

	if len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for name := range failed {
			names = append(names, name)
		}
		sort.Strings(names)
		return fmt.Errorf("%d of %d cohorts are malformed: %v", len(failed), len(defs.Cohorts), names)
	}

	fmt.Fprintf(os.Stderr, "\n%d cohorts valid\n", len(compiled))
	return nil
}

func describeCohort(def *config.Compiled) string {
	out := fmt.Sprintf(" (min_claims=%d", def.Inclusion.MinClaims)
	if def.Inclusion.MinDaysBetweenClaims > 0 {
		out += fmt.Sprintf(", gap=%dd", def.Inclusion.MinDaysBetweenClaims)
	}
	if def.Inclusion.AllowProcedure {
		out += ", procedure"
	}
	if def.Inclusion.AllowMedication {
		out += ", medication"
	}
	if def.ExcludeCodes != nil {
		out += ", exclusion"
	}
	if def.Enrollment != nil {
		out += ", enrollment"
	}
	return out + ")"
}
