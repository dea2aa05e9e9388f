package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Test the source and destination connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, cleanup, err := openEngine(cmd.Context(), os.Stderr)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(cmd.Context(), eng.Config.Pool.ConnectionTimeout)
		defer cancel()
		res := eng.CheckConnection(ctx)

		fmt.Printf("  [%s] Source (MySQL %s:%d/%s)\n", mark(res.SourceConnected),
			eng.Config.Source.Host, eng.Config.Source.Port, eng.Config.Source.Database)
		if res.SourceError != "" {
			fmt.Printf("       %s\n", res.SourceError)
		}
		fmt.Printf("  [%s] Destination (%s)\n", mark(res.DestinationConnected), eng.Config.Target.Type)
		if res.DestinationError != "" {
			fmt.Printf("       %s\n", res.DestinationError)
		}
		fmt.Println()
		fmt.Println(res.Message)

		if !res.SourceConnected || !res.DestinationConnected {
			return fmt.Errorf("connection check failed")
		}
		return nil
	},
}

func mark(ok bool) string {
	if ok {
		return "OK"
	}
	return "!!"
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
