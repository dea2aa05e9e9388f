package api

import (
	"github.com/chatmirror/chatmirror/internal/copier"
	"github.com/chatmirror/chatmirror/internal/migration"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse acknowledges a request with no other result.
type StatusResponse struct {
	Status string `json:"status"`
}

// ClearRequest is the body of POST /api/destination/clear. Confirm must be
// true.
type ClearRequest struct {
	Confirm bool `json:"confirm"`
}

// BatchRequest is the body of POST /api/migration/batch. A zero batch size
// uses the configured size for the table.
type BatchRequest struct {
	Table     string `json:"table"`
	Offset    int    `json:"offset"`
	BatchSize int    `json:"batch_size"`
}

// BatchResponse wraps a batch result. Error is set when the page read failed.
type BatchResponse struct {
	*copier.BatchResult
	Error string `json:"error,omitempty"`
}

// MigrationRequest is the body of POST /api/migration/{all,start}.
type MigrationRequest struct {
	Clear  bool `json:"clear"`
	Resume bool `json:"resume"`
}

// MigrationResponse reports a full run. On failure Error is set and Job keeps
// the partial totals.
type MigrationResponse struct {
	Job      *migration.Job `json:"job"`
	Percent  int            `json:"percent"`
	Summary  map[string]int `json:"summary"`
	Migrated int            `json:"migrated"`
	Errors   int            `json:"errors"`
	Error    string         `json:"error,omitempty"`
}

func newMigrationResponse(job *migration.Job, err error) MigrationResponse {
	resp := MigrationResponse{Job: job}
	if job != nil {
		resp.Percent = job.Percent()
		resp.Summary = job.Summary()
		resp.Migrated, resp.Errors = job.Totals()
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// ActionRequest is the body of POST /api/action. Field names follow the
// action-style clients.
type ActionRequest struct {
	Action         string `json:"action"`
	Limit          int    `json:"limit"`
	Offset         int    `json:"offset"`
	ProjectName    string `json:"project_name"`
	ConversationID string `json:"conversation_id"`
	SearchTerm     string `json:"searchTerm"`
	SearchType     string `json:"searchType"`
	Table          string `json:"table"`
	BatchOffset    int    `json:"batchOffset"`
	BatchLimit     int    `json:"batchLimit"`
	Clear          bool   `json:"clear"`
	Resume         bool   `json:"resume"`
}
