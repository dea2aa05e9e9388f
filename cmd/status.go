package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chatmirror/chatmirror/internal/lock"
	"github.com/chatmirror/chatmirror/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved migration checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		held, pid, err := lock.IsHeld("")
		if err != nil {
			return fmt.Errorf("checking lock: %w", err)
		}
		if held {
			fmt.Printf("A migration is running (PID %d).\n\n", pid)
		}

		st, err := state.Load("")
		if err != nil {
			return fmt.Errorf("loading state: %w", err)
		}
		if st.Job == nil {
			fmt.Println("No migration has been started.")
			return nil
		}

		printJob(st.Job)
		if !st.LastUpdated.IsZero() {
			fmt.Printf("Last checkpoint: %s\n", st.LastUpdated.Format("2006-01-02 15:04:05"))
		}
		if !held && !st.Job.Phase.Terminal() {
			fmt.Println("Run `chatmirror migrate --resume` to continue.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
