package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/geolens/geo-audit/internal/model"
)

var (
	runBrand       string
	runTargetBrand string
	runKeywords    []string
	runWebsite     string
	runCompetitors []string
	runFactsFile   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single audit and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initAudit(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		req := model.AuditRequest{
			BrandName:     runBrand,
			TargetBrand:   runTargetBrand,
			Keywords:      runKeywords,
			TargetWebsite: runWebsite,
			Competitors:   runCompetitors,
		}

		if runFactsFile != "" {
			facts, err := loadGroundTruth(runFactsFile)
			if err != nil {
				return err
			}
			req.GroundTruth = facts
		}

		rec, err := env.Service.Create(ctx, req)
		if err != nil {
			return err
		}
		zap.L().Info("audit started", zap.String("audit_id", rec.ID))

		env.Service.Wait()

		final, err := env.Service.Get(ctx, rec.ID)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(final); err != nil {
			return eris.Wrap(err, "encode result")
		}
		if final.Status == model.AuditStatusFailed {
			return eris.Errorf("audit failed: %s", final.Error)
		}
		return nil
	},
}

// loadGroundTruth reads a flat YAML map of brand facts, e.g.
//
//	founded: "2015"
//	headquarters: Austin
func loadGroundTruth(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read ground truth %s", path)
	}
	var facts map[string]string
	if err := yaml.Unmarshal(data, &facts); err != nil {
		return nil, eris.Wrapf(err, "parse ground truth %s", path)
	}
	return facts, nil
}

func init() {
	runCmd.Flags().StringVar(&runBrand, "brand", "", "brand name to audit (required)")
	runCmd.Flags().StringVar(&runTargetBrand, "target-brand", "", "canonical brand name if it differs from --brand")
	runCmd.Flags().StringSliceVar(&runKeywords, "keywords", nil, "keywords to probe (required)")
	runCmd.Flags().StringVar(&runWebsite, "website", "", "official website URL for citation classification")
	runCmd.Flags().StringSliceVar(&runCompetitors, "competitors", nil, "competitor brands for comparison probes")
	runCmd.Flags().StringVar(&runFactsFile, "ground-truth", "", "YAML file of brand facts for accuracy checking")
	_ = runCmd.MarkFlagRequired("brand")
	_ = runCmd.MarkFlagRequired("keywords")
	rootCmd.AddCommand(runCmd)
}
