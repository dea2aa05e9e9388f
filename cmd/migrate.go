package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/chatmirror/chatmirror/internal/engine"
	"github.com/chatmirror/chatmirror/internal/lock"
	"github.com/chatmirror/chatmirror/internal/migration"
	"github.com/chatmirror/chatmirror/internal/tui"
)

var (
	migrateTUI    bool
	migrateClear  bool
	migrateResume bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate every project, conversation and message",
	Long: `Copy all entities in dependency order, checkpointing after every batch.

Interrupting the command (Ctrl+C, or p/q in the terminal UI) pauses the run
after the current batch. Continue it later with --resume.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := lock.Acquire(""); err != nil {
			return err
		}
		defer lock.Release("")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// The terminal UI owns stdout, so log records only go to the file.
		var logOut io.Writer = os.Stderr
		if migrateTUI {
			logOut = io.Discard
		}
		eng, _, cleanup, err := openEngine(ctx, logOut)
		if err != nil {
			return err
		}
		defer cleanup()

		opts := engine.RunOptions{
			ClearDestination: migrateClear || eng.Config.Migration.ClearBeforeRun,
			Resume:           migrateResume,
		}

		var job *migration.Job
		if migrateTUI {
			job, err = runWithTUI(ctx, eng, opts)
		} else {
			job, err = runWithProgress(ctx, eng, opts)
		}
		if job != nil {
			printJob(job)
		}
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		if job != nil && job.Phase == migration.PhasePaused {
			fmt.Println("Paused. Run `chatmirror migrate --resume` to continue.")
		}
		return nil
	},
}

func runWithProgress(ctx context.Context, eng *engine.Engine, opts engine.RunOptions) (*migration.Job, error) {
	eng.OnStatus(func(st *migration.Status) {
		lb := st.LastBatch
		if lb == nil {
			return
		}
		fmt.Printf("[%3d%%] %s offset %d: %d migrated, %d errors\n",
			st.Percent, lb.Entity, lb.Offset, lb.Migrated, lb.Errors)
	})
	return eng.MigrateAll(ctx, opts)
}

func runWithTUI(ctx context.Context, eng *engine.Engine, opts engine.RunOptions) (*migration.Job, error) {
	runCtx, pause := context.WithCancel(ctx)
	defer pause()

	p := tea.NewProgram(tui.NewProgressModel(pause))
	eng.OnStatus(func(st *migration.Status) {
		p.Send(tui.StatusMsg{Status: st})
	})

	type result struct {
		job *migration.Job
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		job, err := eng.MigrateAll(runCtx, opts)
		resCh <- result{job, err}
		p.Send(tui.DoneMsg{Job: job, Err: err})
	}()

	if _, err := p.Run(); err != nil {
		pause()
		<-resCh
		return nil, fmt.Errorf("running terminal UI: %w", err)
	}
	// The UI may quit before the run returns; the cancelled context pauses it.
	pause()
	res := <-resCh
	return res.job, res.err
}

func printJob(job *migration.Job) {
	fmt.Println()
	fmt.Printf("Job %s: %s (%d%%)\n", job.ID, job.Phase, job.Percent())
	for _, t := range job.Tasks {
		fmt.Printf("  %-15s %7d / %-7d  errors %d  truncated %d\n",
			t.Name, t.Migrated, t.TotalRows, t.Errors, t.Truncated)
	}
	if job.Error != "" {
		fmt.Printf("Error: %s\n", job.Error)
	}
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateTUI, "tui", false, "show an interactive progress view")
	migrateCmd.Flags().BoolVar(&migrateClear, "clear", false, "clear the destination before copying")
	migrateCmd.Flags().BoolVar(&migrateResume, "resume", false, "continue the saved paused migration")
	rootCmd.AddCommand(migrateCmd)
}
