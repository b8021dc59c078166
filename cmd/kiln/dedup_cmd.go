package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilnhq/kiln/internal/dedup"
)

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Report block deduplication across the kiln",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		s, err := openStores()
		if err != nil {
			return err
		}
		defer s.Close()

		minOccurrences, _ := cmd.Flags().GetInt("min")
		asMarkdown, _ := cmd.Flags().GetBool("markdown")

		detector := dedup.NewDetector(s.blocks, dedup.Config{})
		ctx := cmd.Context()

		stats, err := detector.GetAllDeduplicationStats(ctx)
		if err != nil {
			return err
		}
		duplicates, err := detector.FindDuplicateBlocks(ctx, minOccurrences)
		if err != nil {
			return err
		}

		report := dedup.BuildReport(stats, duplicates)
		if asMarkdown {
			fmt.Print(report.Markdown())
		} else {
			fmt.Print(report.Text())
		}
		return nil
	},
}

func init() {
	dedupCmd.Flags().Int("min", 2, "minimum occurrence count to report")
	dedupCmd.Flags().Bool("markdown", false, "render the report as markdown")
	rootCmd.AddCommand(dedupCmd)
}
