package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatmirror/chatmirror/internal/api"
	"github.com/chatmirror/chatmirror/internal/engine"
	"github.com/chatmirror/chatmirror/internal/ws"
)

const shutdownTimeout = 5 * time.Second

var (
	servePort    int
	serveDevMode bool
	serveStatic  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and WebSocket progress server",
	Long: `Start the JSON API on localhost. Migrations started through the API run in
the background and stream progress to WebSocket clients on /api/ws.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		eng, logger, cleanup, err := openEngine(ctx, os.Stderr)
		if err != nil {
			return err
		}
		defer cleanup()

		hub := ws.NewHub(logger)
		hub.SetStateProvider(func() ([]byte, error) {
			st, err := eng.MigrationStatus()
			if errors.Is(err, engine.ErrNoMigration) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return json.Marshal(st)
		})
		go hub.Run(ctx)
		eng.OnStatus(hub.Publish)

		opts := []api.Option{
			api.WithHub(hub),
			api.WithDevMode(serveDevMode),
		}
		if serveStatic != "" {
			opts = append(opts, api.WithStaticFS(os.DirFS(serveStatic)))
		}
		srv := api.New(eng, logger, servePort, opts...)

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		fmt.Fprintf(os.Stderr, "chatmirror API: http://localhost:%d/api\n", servePort)

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
			logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown: %w", err)
			}
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8230, "port for the API server")
	serveCmd.Flags().BoolVar(&serveDevMode, "dev", false, "enable CORS for development mode")
	serveCmd.Flags().StringVar(&serveStatic, "static", "", "directory of a built web UI to serve at /")
	rootCmd.AddCommand(serveCmd)
}
