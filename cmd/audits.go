package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/geolens/geo-audit/internal/model"
	"github.com/geolens/geo-audit/internal/store"
)

var (
	auditsSkip   int
	auditsLimit  int
	auditsStatus string
	auditsBrand  string
)

var auditsCmd = &cobra.Command{
	Use:   "audits",
	Short: "Inspect stored audits",
}

var auditsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audits",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		items, total, err := st.ListAudits(cmd.Context(), store.ListFilter{
			Skip:   auditsSkip,
			Limit:  auditsLimit,
			Status: model.AuditStatus(auditsStatus),
			Brand:  auditsBrand,
		})
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tBRAND\tSTATUS\tSCORE\tSTARTED")
		for _, a := range items {
			score := "-"
			if a.GeoScore != nil {
				score = fmt.Sprintf("%.1f", a.GeoScore.OverallScore)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				a.ID, a.BrandName, a.Status, score, a.StartedAt.Format("2006-01-02 15:04"))
		}
		tw.Flush()
		fmt.Printf("\n%d of %d audits\n", len(items), total)
		return nil
	},
}

var auditsGetCmd = &cobra.Command{
	Use:   "get <audit-id>",
	Short: "Show one audit as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		rec, err := st.GetAudit(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

var auditsDeleteCmd = &cobra.Command{
	Use:   "delete <audit-id>",
	Short: "Delete an audit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.DeleteAudit(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

var auditsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate audit statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.Stats(cmd.Context())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	auditsListCmd.Flags().IntVar(&auditsSkip, "skip", 0, "records to skip")
	auditsListCmd.Flags().IntVar(&auditsLimit, "limit", 20, "max records to return")
	auditsListCmd.Flags().StringVar(&auditsStatus, "status", "", "filter by status")
	auditsListCmd.Flags().StringVar(&auditsBrand, "brand", "", "filter by brand name")

	auditsCmd.AddCommand(auditsListCmd, auditsGetCmd, auditsDeleteCmd, auditsStatsCmd)
	rootCmd.AddCommand(auditsCmd)
}
