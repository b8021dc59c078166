package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what a sync would do, without writing anything",
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

		detection, err := engine.Status(cmd.Context())
		if err != nil {
			return err
		}
		changes := detection.Changes

		if !changes.HasChanges() {
			fmt.Println(green("Nothing to do."))
			return nil
		}
		for _, f := range changes.New {
			fmt.Printf("  %s %s\n", green("new:"), f.RelPath)
		}
		for _, f := range changes.Changed {
			fmt.Printf("  %s %s\n", cyan("changed:"), f.RelPath)
		}
		for _, p := range changes.Deleted {
			fmt.Printf("  %s %s\n", red("deleted:"), p)
		}
		fmt.Printf("\n%s\n", changes.Summary().String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
