package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	batchTable  string
	batchOffset int
	batchSize   int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Copy a single batch of one entity",
	Long: `Copy one batch of rows starting at --offset. The batch size defaults to the
configured size for the entity. Nothing is checkpointed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, cleanup, err := openEngine(cmd.Context(), os.Stderr)
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := eng.MigrateBatch(cmd.Context(), batchTable, batchOffset, batchSize)
		if err != nil {
			return fmt.Errorf("migrating batch: %w", err)
		}

		fmt.Printf("%s offset %d: read %d, migrated %d, errors %d, truncated %d\n",
			res.Entity, res.Offset, res.RowsRead, res.Migrated, res.Errors, res.Truncated)
		for _, e := range res.RowErrors {
			fmt.Printf("  - %s\n", e)
		}
		if res.Completed {
			fmt.Printf("No more %s after this batch.\n", res.Entity)
		} else {
			fmt.Printf("Next offset: %d\n", res.Offset+res.BatchSize)
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchTable, "table", "", "entity to copy (projects, conversations, messages)")
	batchCmd.Flags().IntVar(&batchOffset, "offset", 0, "row offset to start from")
	batchCmd.Flags().IntVar(&batchSize, "batch-size", 0, "rows per batch (default: configured size)")
	batchCmd.MarkFlagRequired("table")
	rootCmd.AddCommand(batchCmd)
}
