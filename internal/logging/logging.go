package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chatmirror/chatmirror/internal/config"
)

// Setup initializes the logger writing text records to w and to a dated log
// file under directory. A nil w means stdout.
func Setup(level, directory string, w io.Writer) (*slog.Logger, io.Closer, error) {
	if directory == "" {
		directory = "~/.chatmirror/logs/"
	}
	directory = config.ExpandHome(directory)

	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	filename := fmt.Sprintf("chatmirror-%s.log", time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(directory, filename), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewTextHandler(io.MultiWriter(w, file), &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(handler), file, nil
}

// ParseLevel maps a config level name to a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
