package cli

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/claimsight/cohortctl/internal/aggregate"
	"github.com/claimsight/cohortctl/internal/cache"
	"github.com/claimsight/cohortctl/internal/config"
	"github.com/claimsight/cohortctl/internal/engine"
	"github.com/claimsight/cohortctl/internal/llm"
	"github.com/claimsight/cohortctl/internal/model"
	"github.com/claimsight/cohortctl/internal/output"
	"github.com/claimsight/cohortctl/internal/store"
	"github.com/claimsight/cohortctl/internal/worker"
)

var (
	definitionsPath string
	cohortNames     []string
	claimsDir       string
	postgresDSN     string
	outputDir       string
	outputFormat    string
	asOfFlag        string
	concurrency     int
	combinedOnly    bool
	noCache         bool
	queriesPerSec   float64
	runTimeout      time.Duration

	llmEnabled  bool
	llmProvider string
	llmModel    string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate cohort definitions and write result files",
	Long: `Evaluates every cohort in the definitions file in parallel:
- Load and validate definitions up front; malformed cohorts are
  reported and skipped, valid ones still run
- Evaluate each cohort independently against the claims source
- Write per-cohort result files with metadata sidecars
- Write the combined, demographics-enriched cross-cohort table

Example:
  cohortctl run --definitions cohorts.yaml --claims-dir ./claims
  cohortctl run --definitions cohorts.yaml --postgres-dsn $DSN --cohorts diabetes,hypertension
  cohortctl run --definitions cohorts.yaml --claims-dir ./claims --as-of 2024-12-31 --format csv`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&definitionsPath, "definitions", "", "cohort definitions YAML file (required)")
	_ = runCmd.MarkFlagRequired("definitions")
	runCmd.Flags().StringSliceVar(&cohortNames, "cohorts", nil, "evaluate only these cohorts (default: all)")
	runCmd.Flags().StringVar(&claimsDir, "claims-dir", "", "directory of claims CSV files")
	runCmd.Flags().StringVar(&postgresDSN, "postgres-dsn", "", "PostgreSQL DSN for the claims warehouse")
	runCmd.Flags().StringVar(&outputDir, "output-dir", "./cohort-results", "output directory for result files")
	runCmd.Flags().StringVar(&outputFormat, "format", "parquet", "per-cohort output format (csv, json, parquet)")
	runCmd.Flags().StringVar(&asOfFlag, "as-of", "", "analysis date YYYY-MM-DD (default: latest service date in the data)")
	runCmd.Flags().IntVar(&concurrency, "concurrency", runtime.NumCPU(), "number of cohorts evaluated in parallel")
	runCmd.Flags().BoolVar(&combinedOnly, "combined-only", false, "skip per-cohort files, write only the combined table")
	runCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable in-run memoization of batch queries")
	runCmd.Flags().Float64Var(&queriesPerSec, "qps", 10, "max queries per second per source relation (postgres only)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 30*time.Minute, "total timeout for the run")

	// LLM flags
	runCmd.Flags().BoolVar(&llmEnabled, "llm", false, "enable LLM run narrative")
	runCmd.Flags().StringVar(&llmProvider, "llm-provider", "openai", "LLM provider (openai, anthropic, ollama)")
	runCmd.Flags().StringVar(&llmModel, "llm-model", "gpt-4o-mini", "LLM model name")
}

// cohortJob evaluates one cohort on the worker pool.
type cohortJob struct {
	def  *config.Compiled
	ev   *engine.Evaluator
	asOf time.Time
}

type cohortJobResult struct {
	name   string
	result *model.CohortResult
	err    error
}

func (r cohortJobResult) GetError() error { return r.err }

func (j cohortJob) Execute(ctx context.Context) worker.Result {
	res, err := j.ev.Evaluate(ctx, j.def, j.asOf)
	return cohortJobResult{name: j.def.Name, result: res, err: err}
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	log := newLogger()

	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return err
	}

	defs, err := config.Load(definitionsPath)
	if err != nil {
		return err
	}
	if err := defs.ValidateHierarchy(); err != nil {
		return err
	}

	compiled, compileFailures := defs.CompileAll()
	selected, err := selectCohorts(compiled, compileFailures, cohortNames)
	if err != nil {
		return err
	}

	st, closeStore, err := openStore(ctx, log)
	if err != nil {
		return err
	}
	defer closeStore()

	asOf, err := resolveAsOf(ctx, st)
	if err != nil {
		return err
	}

	var sets *cache.MemberSets
	if !noCache {
		sets = cache.NewMemberSets(runTimeout, runTimeout)
	}
	ev := engine.New(st, sets, log)

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  cohortctl Run\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Definitions:  %s\n", definitionsPath)
	fmt.Fprintf(os.Stderr, "  Cohorts:      %d\n", len(selected))
	fmt.Fprintf(os.Stderr, "  Analysis:     %s\n", asOf.Format("2006-01-02"))
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", concurrency)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", outputDir)
	if llmEnabled {
		fmt.Fprintf(os.Stderr, "  LLM:          %s/%s\n", llmProvider, llmModel)
	}
	fmt.Fprintf(os.Stderr, "\n")

	report := &model.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		AsOf:      asOf,
		Failures:  make(map[string]string),
	}
	for name, cerr := range compileFailures {
		report.Failures[name] = cerr.Error()
		fmt.Fprintf(os.Stderr, "✗ %s: %v\n", name, cerr)
	}

	pool := worker.NewPool(concurrency)
	pool.Start()
	for _, def := range selected {
		pool.Submit(cohortJob{def: def, ev: ev, asOf: asOf})
	}

	byName := make(map[string]*model.CohortResult, len(selected))
	for _, res := range pool.Wait() {
		jr := res.(cohortJobResult)
		if jr.err != nil {
			report.Failures[jr.name] = jr.err.Error()
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", jr.name, jr.err)
			continue
		}
		byName[jr.name] = jr.result
		fmt.Fprintf(os.Stderr, "✓ %s (%d patients)\n", jr.name, len(jr.result.Rows))
	}

	// Deterministic result order regardless of worker scheduling.
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		report.Results = append(report.Results, byName[name])
	}

	report.Combined, err = aggregate.Combine(ctx, st, report.Results)
	if err != nil {
		return err
	}
	report.Stats = aggregate.Stats(report.Results, defs.Hierarchy)
	report.FinishedAt = time.Now().UTC()

	if err := writeArtifacts(report, compiled, format); err != nil {
		return err
	}

	output.RenderSummary(os.Stderr, report)

	if llmEnabled {
		narrate(ctx, report)
	}

	if len(report.Failures) > 0 {
		return fmt.Errorf("%d of %d cohorts failed", len(report.Failures), len(defs.Cohorts))
	}
	return nil
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

// selectCohorts narrows the compiled set to the requested names. A
// requested cohort that failed compilation is not an unknown name; its
// compile error already explains the problem.
func selectCohorts(compiled map[string]*config.Compiled, failed map[string]error, names []string) ([]*config.Compiled, error) {
	if len(names) == 0 {
		out := make([]*config.Compiled, 0, len(compiled))
		keys := make([]string, 0, len(compiled))
		for name := range compiled {
			keys = append(keys, name)
		}
		sort.Strings(keys)
		for _, name := range keys {
			out = append(out, compiled[name])
		}
		return out, nil
	}

	var out []*config.Compiled
	for _, name := range names {
		name = strings.TrimSpace(name)
		if def, ok := compiled[name]; ok {
			out = append(out, def)
			continue
		}
		if _, ok := failed[name]; ok {
			continue
		}
		return nil, fmt.Errorf("unknown cohort %q", name)
	}
	return out, nil
}

func openStore(ctx context.Context, log zerolog.Logger) (store.Store, func(), error) {
	switch {
	case postgresDSN != "" && claimsDir != "":
		return nil, nil, fmt.Errorf("--claims-dir and --postgres-dsn are mutually exclusive")
	case postgresDSN != "":
		limiter := worker.NewLimiter(queriesPerSec, int(queriesPerSec))
		pg, err := store.NewPostgres(ctx, postgresDSN, limiter, log)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	case claimsDir != "":
		mem, err := store.LoadCSVDir(claimsDir)
		if err != nil {
			return nil, nil, err
		}
		return mem, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("either --claims-dir or --postgres-dsn is required")
	}
}

func resolveAsOf(ctx context.Context, st store.Store) (time.Time, error) {
	if asOfFlag != "" {
		t, err := time.Parse("2006-01-02", asOfFlag)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --as-of date %q: %w", asOfFlag, err)
		}
		return t, nil
	}
	return st.LatestServiceDate(ctx)
}

func writeArtifacts(report *model.RunReport, compiled map[string]*config.Compiled, format output.Format) error {
	w, err := output.NewWriter(outputDir, format)
	if err != nil {
		return err
	}

	if !combinedOnly {
		for _, res := range report.Results {
			meta := model.CohortMeta{
				Cohort:    res.Cohort,
				RunID:     report.RunID,
				Timestamp: report.FinishedAt,
				NRecords:  len(res.Rows),
				Funnel:    res.Funnel,
			}
			if def, ok := compiled[res.Cohort]; ok && def.Raw != nil {
				meta.Inclusion = def.Raw.Inclusion
				meta.Exclusion = def.Raw.Exclusion
				meta.Tags = def.Raw.Tags
			}
			if _, err := w.WriteCohort(res, meta); err != nil {
				return err
			}
		}
	}

	if _, err := w.WriteCombined(report.Combined); err != nil {
		return err
	}
	if _, err := w.WriteRunMeta(report); err != nil {
		return err
	}
	return nil
}

// narrate asks the configured LLM for a prose recap. Failures here are
// reported and swallowed: the narrative never gates a run.
func narrate(ctx context.Context, report *model.RunReport) {
	cfg := llm.DefaultConfig()
	cfg.Provider = llmProvider
	cfg.Model = llmModel

	switch llmProvider {
	case "openai":
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		if cfg.APIKey == "" {
			fmt.Fprintf(os.Stderr, "⚠ OPENAI_API_KEY not set, skipping narrative\n")
			return
		}
	case "anthropic", "claude":
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		if cfg.APIKey == "" {
			fmt.Fprintf(os.Stderr, "⚠ ANTHROPIC_API_KEY not set, skipping narrative\n")
			return
		}
	case "ollama":
		if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
			cfg.BaseURL = baseURL
		}
	}

	provider, err := llm.NewProvider(cfg)
	if err != nil || provider == nil {
		if err != nil {
			fmt.Fprintf(os.Stderr, "⚠ LLM narrative unavailable: %v\n", err)
		}
		return
	}

	resp, err := provider.Narrate(ctx, llm.NarrateRequest{Report: report})
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠ LLM narrative failed: %v\n", err)
		return
	}
	fmt.Fprintf(os.Stderr, "── Run narrative (%s) ─────────────────────────────────────\n", resp.Model)
	fmt.Fprintf(os.Stderr, "%s\n\n", resp.Narrative)
}
