package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/chatmirror/chatmirror/internal/engine"
	"github.com/chatmirror/chatmirror/internal/source"
)

func (s *Server) handleCheckConnection(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.engine.CheckConnection(r.Context()))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Stats(r.Context())
	if err != nil {
		errorResponse(w, statusFor(err), err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, snap)
}

func (s *Server) handlePoolStatus(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.engine.PoolStatus())
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	q, ok := pageQuery(w, r)
	if !ok {
		return
	}
	s.writePage(w, func() (*source.Page, error) { return s.engine.Projects(r.Context(), q) })
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	q, ok := pageQuery(w, r)
	if !ok {
		return
	}
	s.writePage(w, func() (*source.Page, error) { return s.engine.Conversations(r.Context(), q) })
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	q, ok := pageQuery(w, r)
	if !ok {
		return
	}
	s.writePage(w, func() (*source.Page, error) { return s.engine.Messages(r.Context(), q) })
}

func (s *Server) writePage(w http.ResponseWriter, fn func() (*source.Page, error)) {
	page, err := fn()
	if err != nil {
		errorResponse(w, statusFor(err), err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, page)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	limit, err := intParam(v.Get("limit"))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid limit")
		return
	}
	term := v.Get("q")
	if term == "" {
		term = v.Get("searchTerm")
	}
	typ := v.Get("type")
	if typ == "" {
		typ = v.Get("searchType")
	}
	res, err := s.engine.Search(r.Context(), term, typ, limit)
	if err != nil {
		errorResponse(w, statusFor(err), err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, res)
}

func (s *Server) handleClearDestination(w http.ResponseWriter, r *http.Request) {
	var req ClearRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Confirm {
		errorResponse(w, http.StatusBadRequest, "clearing the destination requires confirm: true")
		return
	}
	s.clearDestination(w, r)
}

func (s *Server) clearDestination(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ClearDestination(r.Context()); err != nil {
		errorResponse(w, statusFor(err), err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, StatusResponse{Status: "cleared"})
}

func (s *Server) handleMigrateBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.migrateBatch(w, r, req)
}

func (s *Server) migrateBatch(w http.ResponseWriter, r *http.Request, req BatchRequest) {
	res, err := s.engine.MigrateBatch(r.Context(), req.Table, req.Offset, req.BatchSize)
	if err != nil {
		if res == nil {
			errorResponse(w, statusFor(err), err.Error())
			return
		}
		jsonResponse(w, statusFor(err), BatchResponse{BatchResult: res, Error: err.Error()})
		return
	}
	jsonResponse(w, http.StatusOK, BatchResponse{BatchResult: res})
}

func (s *Server) handleMigrateAll(w http.ResponseWriter, r *http.Request) {
	req, ok := migrationRequest(w, r)
	if !ok {
		return
	}
	s.migrateAll(w, r, req)
}

func (s *Server) migrateAll(w http.ResponseWriter, r *http.Request, req MigrationRequest) {
	job, err := s.engine.MigrateAll(r.Context(), engine.RunOptions{ClearDestination: req.Clear, Resume: req.Resume})
	if err != nil {
		if job == nil {
			errorResponse(w, statusFor(err), err.Error())
			return
		}
		jsonResponse(w, statusFor(err), newMigrationResponse(job, err))
		return
	}
	jsonResponse(w, http.StatusOK, newMigrationResponse(job, nil))
}

func (s *Server) handleStartMigration(w http.ResponseWriter, r *http.Request) {
	req, ok := migrationRequest(w, r)
	if !ok {
		return
	}
	if err := s.engine.StartMigration(engine.RunOptions{ClearDestination: req.Clear, Resume: req.Resume}); err != nil {
		errorResponse(w, statusFor(err), err.Error())
		return
	}
	jsonResponse(w, http.StatusAccepted, StatusResponse{Status: "started"})
}

func (s *Server) handlePauseMigration(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.PauseMigration(); err != nil {
		errorResponse(w, statusFor(err), err.Error())
		return
	}
	jsonResponse(w, http.StatusAccepted, StatusResponse{Status: "pausing"})
}

func (s *Server) handleResumeMigration(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ResumeMigration(); err != nil {
		errorResponse(w, statusFor(err), err.Error())
		return
	}
	jsonResponse(w, http.StatusAccepted, StatusResponse{Status: "resumed"})
}

func (s *Server) handleMigrationStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.MigrationStatus()
	if err != nil {
		errorResponse(w, statusFor(err), err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, st)
}

func pageQuery(w http.ResponseWriter, r *http.Request) (source.PageQuery, bool) {
	v := r.URL.Query()
	limit, err := intParam(v.Get("limit"))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid limit")
		return source.PageQuery{}, false
	}
	offset, err := intParam(v.Get("offset"))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid offset")
		return source.PageQuery{}, false
	}
	return source.PageQuery{
		Limit:          limit,
		Offset:         offset,
		ProjectName:    v.Get("project_name"),
		ConversationID: v.Get("conversation_id"),
	}, true
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// migrationRequest decodes an optional body; an empty body means defaults.
func migrationRequest(w http.ResponseWriter, r *http.Request) (MigrationRequest, bool) {
	var req MigrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	return req, true
}
