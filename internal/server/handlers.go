package server

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/notebook"
)

// Notebook write modes accepted by PUT /api/v1/notebook.
const (
	WriteModeWrite   = "write"
	WriteModeAppend  = "append"
	WriteModeReplace = "replace"
)

type notebookWriteRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Mode    string `json:"mode,omitempty"`
	Heading string `json:"heading,omitempty"`
}

type dailyLogRequest struct {
	Text string `json:"text"`
}

type setPluginRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := &models.RecallQuery{Query: q.Get("q")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		query.MaxResults = n
	}
	if v := q.Get("min_score"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			s.respondError(w, http.StatusBadRequest, "min_score must be a non-negative number")
			return
		}
		query.MinScore = &f
	}
	s.logger.Debug("recall request", zap.String("query", query.Query), zap.Int("limit", query.MaxResults))
	resp, err := s.recall.Recall(r.Context(), query)
	if err != nil {
		s.respondErr(w, "recall failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.sync.Status(r.Context())
	if err != nil {
		s.respondErr(w, "status failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	partial, _ := strconv.ParseBool(r.URL.Query().Get("partial"))
	files, err := s.sync.ListFiles(r.Context(), partial)
	if err != nil {
		s.respondErr(w, "list files failed", err)
		return
	}
	if files == nil {
		files = []*models.FileRecord{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"files": files, "total": len(files)})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("sync request")
	res, err := s.sync.FullSync(r.Context())
	if err != nil {
		s.respondErr(w, "sync failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleNotebookRead(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, errFrom := atoiDefault(q.Get("from"))
	to, errTo := atoiDefault(q.Get("to"))
	if errFrom != nil || errTo != nil {
		s.respondError(w, http.StatusBadRequest, "from and to must be integers")
		return
	}
	ex, err := s.notebook.Read(q.Get("path"), from, to)
	if err != nil {
		s.respondErr(w, "notebook read failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, ex)
}

func (s *Server) handleNotebookWrite(w http.ResponseWriter, r *http.Request) {
	var req notebookWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("notebook write request", zap.String("path", req.Path), zap.String("mode", req.Mode))
	var (
		res *notebook.WriteResult
		err error
	)
	switch req.Mode {
	case "", WriteModeWrite:
		res, err = s.notebook.WriteFile(r.Context(), req.Path, req.Content)
	case WriteModeAppend:
		res, err = s.notebook.AppendSection(r.Context(), req.Path, req.Heading, req.Content)
	case WriteModeReplace:
		res, err = s.notebook.ReplaceSection(r.Context(), req.Path, req.Heading, req.Content)
	default:
		s.respondError(w, http.StatusBadRequest, "mode must be write, append or replace")
		return
	}
	if err != nil {
		s.respondErr(w, "notebook write failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleDailyLog(w http.ResponseWriter, r *http.Request) {
	var req dailyLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.notebook.DailyLog(r.Context(), req.Text)
	if err != nil {
		s.respondErr(w, "daily log failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"plugins": s.plugins.Describe(r.Context(), s.health),
	})
}

func (s *Server) handleSetActivePlugin(w http.ResponseWriter, r *http.Request) {
	var req setPluginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Info("switching embedding plugin", zap.String("plugin", req.ID))
	res, err := s.sync.SwitchPlugin(r.Context(), req.ID)
	if err != nil {
		s.respondErr(w, "switch plugin failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"active": req.ID, "sync": res})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func atoiDefault(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrEmptyQuery),
		errors.Is(err, models.ErrInvalidPath),
		errors.Is(err, models.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrPluginNotFound),
		errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
