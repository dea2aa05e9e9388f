package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chatmirror/chatmirror/internal/mapping"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show row counts for the source and destination",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, cleanup, err := openEngine(cmd.Context(), os.Stderr)
		if err != nil {
			return err
		}
		defer cleanup()

		snap, err := eng.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("collecting stats: %w", err)
		}

		pending := snap.Pending()
		fmt.Printf("  %-15s %12s %12s %12s\n", "ENTITY", "SOURCE", "DESTINATION", "PENDING")
		for _, name := range mapping.Names() {
			fmt.Printf("  %-15s %12d %12d %12d\n", name, snap.Source[name], snap.Destination[name], pending[name])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
