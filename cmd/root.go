package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chatmirror/chatmirror/internal/config"
	"github.com/chatmirror/chatmirror/internal/engine"
	"github.com/chatmirror/chatmirror/internal/logging"
)

var (
	cfgFile  string
	logLevel string
	version  = "dev"
	commit   = "none"
	date     = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "chatmirror",
	Short: "chatmirror: copy chat history from MySQL to PostgreSQL or MongoDB",
	Long: `chatmirror copies projects, conversations and messages out of a MySQL
chat database into PostgreSQL or MongoDB in small throttled batches.

Migrations checkpoint after every batch and can be paused and resumed from
the CLI, the terminal UI or the web API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.chatmirror/chatmirror.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if rootCmd.PersistentFlags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// openEngine loads the config, sets up logging to w and the log directory,
// and connects the engine. The returned func closes everything.
func openEngine(ctx context.Context, w io.Writer) (*engine.Engine, *slog.Logger, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	logger, logFile, err := logging.Setup(cfg.Logging.Level, cfg.Logging.Directory, w)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("setting up logging: %w", err)
	}

	eng, err := engine.Open(ctx, cfg, logger)
	if err != nil {
		logFile.Close()
		return nil, nil, nil, err
	}

	cleanup := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := eng.Close(closeCtx); err != nil {
			logger.Warn("closing engine", "error", err)
		}
		logFile.Close()
	}
	return eng, logger, cleanup, nil
}
