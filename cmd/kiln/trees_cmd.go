package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var treesCmd = &cobra.Command{
	Use:   "trees",
	Short: "List stored document trees, most recently updated first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		s, err := openStores()
		if err != nil {
			return err
		}
		defer s.Close()

		metas, err := s.trees.ListTrees(cmd.Context())
		if err != nil {
			return err
		}
		if len(metas) == 0 {
			fmt.Println("No trees stored. Run 'kiln sync' first.")
			return nil
		}

		for _, meta := range metas {
			line := fmt.Sprintf("%s  sections=%d blocks=%d  updated %s",
				meta.ID, meta.SectionCount, meta.TotalBlocks,
				humanize.Time(meta.UpdatedAt))
			if meta.Virtualized {
				line += fmt.Sprintf("  (virtualized: %d sections)", meta.VirtualSectionCount)
			}
			fmt.Println(line)
		}
		fmt.Printf("\n%d trees\n", len(metas))
		return nil
	},
}

var treeShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one stored tree's sections",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		s, err := openStores()
		if err != nil {
			return err
		}
		defer s.Close()

		tree, err := s.trees.Retrieve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		meta, err := s.trees.GetMetadata(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%s\n", cyan(args[0]))
		fmt.Printf("  root:    %s\n", tree.RootHash.Hex())
		fmt.Printf("  algo:    %s\n", tree.Algorithm)
		fmt.Printf("  created: %s\n", meta.CreatedAt.Format(time.RFC3339))
		fmt.Printf("  updated: %s\n", meta.UpdatedAt.Format(time.RFC3339))
		for i, sec := range tree.Sections {
			marker := ""
			if sec.Virtual {
				marker = " (virtual)"
			}
			fmt.Printf("  [%d] %s  blocks=%d  %s%s\n", i, sec.Heading, sec.BlockCount, sec.Hash.Hex(), marker)
		}
		return nil
	},
}

func init() {
	treesCmd.AddCommand(treeShowCmd)
	rootCmd.AddCommand(treesCmd)
}
