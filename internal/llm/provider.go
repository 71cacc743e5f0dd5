// Package llm generates an optional prose narrative of a finished run.
// The narrative is advisory output only: providers see the run
// statistics after evaluation completes and can never influence which
// patients a cohort accepts.
package llm

import (
	"context"
	"fmt"
	"sort"

	"github.com/claimsight/cohortctl/internal/model"
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Narrate generates a prose summary of a finished run
	Narrate(ctx context.Context, req NarrateRequest) (*NarrateResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// NarrateRequest contains the input for narrative generation
type NarrateRequest struct {
	// Report is the finished run to narrate
	Report *model.RunReport

	// Prompt is an optional custom prompt (if empty, use default)
	Prompt string

	// Model is the specific model to use (provider-specific)
	Model string

	// MaxTokens limits the response length
	MaxTokens int
}

// NarrateResponse contains the LLM's narrative output
type NarrateResponse struct {
	// Narrative is the generated text
	Narrative string

	// Model is the model that generated the response
	Model string

	// TokensUsed tracks token consumption
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "ollama", ""
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI/Anthropic
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama)
	BaseURL string

	// Timeout for API requests
	Timeout int // seconds

	// MaxTokens for response generation
	MaxTokens int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:  "", // Disabled by default
		Model:     "",
		Timeout:   30,
		MaxTokens: 1000,
	}
}

const systemPrompt = "You are a helpful assistant that narrates claims cohort evaluation runs. You describe the counts you are given and never draw clinical conclusions."

// BuildPrompt constructs the default prompt for run narration. Every
// number comes from the run report; the model is asked to restate, not
// to interpret.
func BuildPrompt(report *model.RunReport) string {
	prompt := fmt.Sprintf(`You are narrating a claims cohort evaluation run. The run is finished; your text is a readable recap of the numbers below and nothing more.

CRITICAL RULES:
1. Use ONLY the counts listed here. Do not invent cohorts, counts or dates.
2. Do not draw clinical conclusions about any patient population.
3. If a hierarchy check failed or a cohort failed, state that plainly.

Run Summary:
- Run ID: %s
- Analysis date: %s
- Cohorts evaluated: %d
- Total rows: %d
- Unique patients: %d

Cohort counts:
`, report.RunID, report.AsOf.Format("2006-01-02"), len(report.Stats.CohortCounts), report.Stats.TotalRows, report.Stats.UniqueMembers)

	names := make([]string, 0, len(report.Stats.CohortCounts))
	for name := range report.Stats.CohortCounts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		prompt += fmt.Sprintf("- %s: %d patients\n", name, report.Stats.CohortCounts[name])
	}

	for _, f := range report.Stats.Hierarchy {
		status := "holds"
		if !f.Holds {
			status = "VIOLATED"
		}
		prompt += fmt.Sprintf("\nHierarchy %s >= %s: %s (%d vs %d)", f.Sensitive, f.Conservative, status, f.SensitiveCount, f.ConservativeCount)
	}

	if len(report.Failures) > 0 {
		prompt += "\n\nFailed cohorts:"
		failed := make([]string, 0, len(report.Failures))
		for name := range report.Failures {
			failed = append(failed, name)
		}
		sort.Strings(failed)
		for _, name := range failed {
			prompt += fmt.Sprintf("\n- %s: %s", name, report.Failures[name])
		}
	}

	prompt += "\n\nProvide a 3-4 sentence recap of the run."
	return prompt
}
