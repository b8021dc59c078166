package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Scan the kiln and persist trees, hashes and block index for changed files",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		s, err := openStores()
		if err != nil {
			return err
		}
		defer s.Close()

		engine, err := newEngine(s)
		if err != nil {
			return err
		}

		result, err := engine.Sync(cmd.Context())
		if err != nil {
			return err
		}

		if !result.Changes.HasChanges {
			fmt.Println(green("Everything up to date."))
			return nil
		}
		fmt.Printf("%s %s\n", green("Synced:"), result.Changes.String())
		fmt.Printf("  trees stored: %d, updated: %d, sections written: %d, removed: %d\n",
			result.TreesStored, result.TreesUpdated, result.SectionsWritten, result.DocumentsRemoved)
		fmt.Printf("  %d files in %s (%.0f files/s)\n",
			result.Metrics.FilesScanned, result.Metrics.Duration, result.Metrics.FilesPerSecond)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
