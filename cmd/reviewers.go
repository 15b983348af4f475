package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/conftool-helper/internal/config"
	"github.com/sells-group/conftool-helper/internal/cost"
	"github.com/sells-group/conftool-helper/internal/oracle"
	"github.com/sells-group/conftool-helper/internal/pipeline"
	anthropicpkg "github.com/sells-group/conftool-helper/pkg/anthropic"
	geminipkg "github.com/sells-group/conftool-helper/pkg/gemini"
)

var reviewersOverwrite bool

var reviewersCmd = &cobra.Command{
	Use:   "mandatory-reviewers",
	Short: "Normalize mandatory reviewers and drop program committee members",
	Long: "Deduplicates the raw mandatory reviewer export, resolves each entry to name, institution and email " +
		"through the configured LLM in batches, and writes the reviewers that are not yet on the program committee. " +
		"Extraction is skipped when its outputs already exist unless --overwrite is given.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("reviewers"); err != nil {
			return err
		}

		st := openLedger(ctx)
		defer st.Close() //nolint:errcheck

		// Without credentials the pipeline can still resume past extraction.
		var o pipeline.Oracle
		if cfg.ValidateCredentials() == nil {
			gw, err := initOracle(ctx, cfg)
			if err != nil {
				return err
			}
			o = gw
		}

		p := pipeline.New(pipelineConfig(cfg), o, st, pipeline.WithExtractionCheck(cfg.ValidateCredentials))
		result, err := p.Run(ctx, pipeline.RunOptions{Overwrite: reviewersOverwrite})
		if err != nil {
			return eris.Wrap(err, "mandatory reviewers")
		}

		zap.L().Info("mandatory reviewers complete",
			zap.String("run_id", result.RunID),
			zap.Int("final", result.Summary.Final),
			zap.Int("oracle_calls", result.Summary.OracleCalls),
			zap.Float64("estimated_cost_usd", result.Summary.Cost),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	reviewersCmd.Flags().BoolVar(&reviewersOverwrite, "overwrite", false, "re-run extraction even if its output files exist")
	rootCmd.AddCommand(reviewersCmd)
}

// initOracle builds the provider named by oracle.provider behind a gateway.
func initOracle(ctx context.Context, c *config.Config) (*oracle.Gateway, error) {
	var provider oracle.Provider
	switch c.Oracle.Provider {
	case config.ProviderAnthropic:
		client := anthropicpkg.NewClient(c.Anthropic.Key, c.Anthropic.BaseURL)
		provider = oracle.NewAnthropicProvider(client, oracle.AnthropicOptions{
			Model:       c.Anthropic.Model,
			MaxTokens:   c.Anthropic.MaxTokens,
			CacheSystem: c.Anthropic.CacheSystem,
		})
	case config.ProviderGemini:
		client, err := geminipkg.NewClient(ctx, c.Gemini.Key, c.Gemini.BaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "init gemini")
		}
		provider = oracle.NewGeminiProvider(client, oracle.GeminiOptions{
			Model:     c.Gemini.Model,
			MaxTokens: c.Gemini.MaxTokens,
		})
	default:
		return nil, eris.Errorf("unsupported oracle provider: %s", c.Oracle.Provider)
	}

	return oracle.NewGateway(provider,
		oracle.WithRequestsPerMinute(c.Oracle.RequestsPerMinute),
		oracle.WithCalculator(cost.NewCalculator(c.Pricing.Rates())),
	), nil
}

// pipelineConfig maps the configuration onto the pipeline's file layout.
func pipelineConfig(c *config.Config) pipeline.Config {
	r := c.Reviewers
	return pipeline.Config{
		Paths: pipeline.Paths{
			Raw:           c.InputPath(r.RawFile),
			Users:         c.InputPath(r.UsersFile),
			Submissions:   c.InputPath(r.SubmissionsFile),
			Roster:        c.InputPath(r.RosterFile),
			SystemPrompt:  c.Prompts.SystemFile,
			UserPrompt:    c.Prompts.UserFile,
			Parsed:        c.OutputPath(r.ParsedFile),
			Failed:        c.OutputPath(r.FailedFile),
			Reconciled:    c.OutputPath(r.ReconciledFile),
			Final:         c.OutputPath(r.FinalFile),
			Conversations: c.OutputPath(r.ConversationsDir),
		},
		PaperIDColumn: r.PaperIDColumn,
		EmailColumn:   r.EmailColumn,
		Extract: pipeline.ExtractConfig{
			BatchSize:    r.BatchSize,
			MaxAttempts:  r.MaxAttempts,
			RetryBackoff: time.Duration(r.RetryBackoffMS) * time.Millisecond,
			Step:         pipeline.StepMandatoryReviewers,
		},
	}
}
