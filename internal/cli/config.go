package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/claimsight/cohortctl/internal/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage cohortctl configuration",
	Long: `Manage cohortctl configuration files and settings.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (COHORTCTL_*)
3. Config file (~/.cohortctl/config.yaml)
4. Defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show <definitions.yaml>",
	Short: "Show a definitions file as the engine sees it",
	Long:  `Parses the definitions file and prints the normalized YAML, making defaults and normalization visible.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defs, err := config.Load(args[0])
		if err != nil {
			return err
		}

		configFile := viper.ConfigFileUsed()
		if configFile != "" {
			fmt.Fprintf(os.Stderr, "Configuration file: %s\n\n", configFile)
		}

		fmt.Println("═══════════════════════════════════════════════════════════")
		fmt.Printf("  Cohort Definitions (%d cohorts)\n", len(defs.Cohorts))
		fmt.Println("═══════════════════════════════════════════════════════════")
		fmt.Println()

		yamlData, err := yaml.Marshal(defs)
		if err != nil {
			return fmt.Errorf("error marshaling definitions: %w", err)
		}
		fmt.Println(string(yamlData))

		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter definitions file",
	Long:  `Create a commented starter cohort definitions file in the current directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		const path = "cohorts.yaml"
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("definitions file already exists: %s\nDelete it first to recreate", path)
		}

		if err := os.WriteFile(path, []byte(starterDefinitions), 0o644); err != nil {
			return fmt.Errorf("error creating definitions file: %w", err)
		}

		fmt.Printf("✓ Created starter definitions: %s\n", path)
		fmt.Printf("\nValidate with:\n")
		fmt.Printf("  cohortctl validate %s\n", path)
		fmt.Printf("\nRun with:\n")
		fmt.Printf("  cohortctl run --definitions %s --claims-dir ./claims\n", path)
		fmt.Printf("\n")

		return nil
	},
}

const starterDefinitions = `# cohortctl cohort definitions
#
# Each cohort names its inclusion rules; exclusion, enrollment and tags
# are optional. Code patterns support a trailing "*" for prefix match.

cohorts:
  diabetes:
    inclusion:
      codes: ["E11.*"]
      min_claims: 2
      min_days_between_claims: 30
      index_date: second_claim
      lookback_months: 24
    tags:
      hypertensive: ["I10*"]

  diabetes_treated:
    inclusion:
      codes: ["E11.*"]
      min_claims: 2
      min_days_between_claims: 30
      allow_medication: true
      medication_names: ["Metformin HCL"]
    exclusion:
      codes: ["E10.*"]
      window_days: 365

hierarchy:
  - sensitive: diabetes
    conservative: diabetes_treated
`

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
