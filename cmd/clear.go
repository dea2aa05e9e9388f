package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var clearYes bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all migrated data from the destination",
	Long: `Delete every migrated row from the destination and drop the saved
migration checkpoint. Requires --yes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearYes {
			return fmt.Errorf("refusing to clear the destination without --yes")
		}

		eng, _, cleanup, err := openEngine(cmd.Context(), os.Stderr)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := eng.ClearDestination(cmd.Context()); err != nil {
			return fmt.Errorf("clearing destination: %w", err)
		}
		fmt.Printf("Destination %s cleared.\n", eng.Config.Target.Type)
		return nil
	},
}

func init() {
	clearCmd.Flags().BoolVar(&clearYes, "yes", false, "confirm deleting destination data")
	rootCmd.AddCommand(clearCmd)
}
