package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/conftool-helper/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "conftool-helper",
	Short: "Conference management helper for ConfTool exports",
	Long:  "Normalizes free-text mandatory reviewer entries from ConfTool exports into structured records via an LLM and removes reviewers already on the program committee.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
