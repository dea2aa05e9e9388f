package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/chatmirror/chatmirror/internal/copier"
	"github.com/chatmirror/chatmirror/internal/engine"
	"github.com/chatmirror/chatmirror/internal/mapping"
	"github.com/chatmirror/chatmirror/internal/migration"
	"github.com/chatmirror/chatmirror/internal/pool"
	"github.com/chatmirror/chatmirror/internal/source"
)

// jsonResponse writes a JSON response.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("writing json response", "error", err)
	}
}

// errorResponse writes an error JSON response.
func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, ErrorResponse{Error: message})
}

// statusFor maps an engine error to an HTTP status.
func statusFor(err error) int {
	var searchErr *source.InvalidSearchTypeError
	var connErr *pool.ConnectionError
	var readErr *copier.PageReadError
	switch {
	case errors.Is(err, engine.ErrMigrationRunning), errors.Is(err, migration.ErrJobFinished):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNoMigration):
		return http.StatusNotFound
	case errors.Is(err, mapping.ErrUnknownEntity),
		errors.Is(err, source.ErrConversationRequired),
		errors.As(err, &searchErr):
		return http.StatusBadRequest
	case errors.As(err, &connErr), errors.As(err, &readErr), errors.Is(err, pool.ErrPoolClosed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// requestLogger is middleware that logs HTTP requests.
func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
