package api

import (
	"encoding/json"
	"net/http"

	"github.com/chatmirror/chatmirror/internal/source"
)

// handleAction dispatches {"action": ...} bodies to the engine. It serves
// clients written against the single-endpoint action API.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("action request", "action", req.Action)

	q := source.PageQuery{
		Limit:          req.Limit,
		Offset:         req.Offset,
		ProjectName:    req.ProjectName,
		ConversationID: req.ConversationID,
	}
	switch req.Action {
	case "check_connection":
		s.handleCheckConnection(w, r)
	case "get_stats":
		s.handleStats(w, r)
	case "pool_status":
		s.handlePoolStatus(w, r)
	case "get_projects":
		s.writePage(w, func() (*source.Page, error) { return s.engine.Projects(r.Context(), q) })
	case "get_conversations":
		s.writePage(w, func() (*source.Page, error) { return s.engine.Conversations(r.Context(), q) })
	case "get_messages":
		s.writePage(w, func() (*source.Page, error) { return s.engine.Messages(r.Context(), q) })
	case "search":
		res, err := s.engine.Search(r.Context(), req.SearchTerm, req.SearchType, req.Limit)
		if err != nil {
			errorResponse(w, statusFor(err), err.Error())
			return
		}
		jsonResponse(w, http.StatusOK, res)
	case "clear_destination_data", "clear_data":
		s.clearDestination(w, r)
	case "migrate_batch":
		s.migrateBatch(w, r, BatchRequest{Table: req.Table, Offset: req.BatchOffset, BatchSize: req.BatchLimit})
	case "migrate_all":
		s.migrateAll(w, r, MigrationRequest{Clear: req.Clear, Resume: req.Resume})
	case "":
		errorResponse(w, http.StatusBadRequest, "action is required")
	default:
		errorResponse(w, http.StatusBadRequest, "unknown action: "+req.Action)
	}
}
