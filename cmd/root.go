package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geolens/geo-audit/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "geo-audit",
	Short: "Brand visibility audits across AI answer engines",
	Long:  "Probes LLM answer engines with brand-relevant queries, extracts structured brand mentions, and computes a weighted 0-100 GEO score with confidence bounds.",
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
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
