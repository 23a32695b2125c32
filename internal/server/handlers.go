package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/hyperjump/shiori/internal/errs"
	"github.com/hyperjump/shiori/internal/models"
	"go.uber.org/zap"
)

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req models.AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("answer request", zap.String("request_id", RequestID(r.Context())), zap.String("question", req.Question))
	answer, err := s.answers.Answer(r.Context(), req.Question)
	if err != nil {
		s.fail(w, r, "answer failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, answer)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := &models.SearchQuery{Query: q.Get("q")}
	if k := q.Get("k"); k != "" {
		n, err := strconv.Atoi(k)
		if err != nil {
			s.respondError(w, r, http.StatusBadRequest, "k must be an integer")
			return
		}
		query.K = n
	}
	s.logger.Debug("search request", zap.String("request_id", RequestID(r.Context())), zap.String("query", query.Query), zap.Int("k", query.K))
	response, err := s.answers.Search(r.Context(), query)
	if err != nil {
		s.fail(w, r, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("rebuild requested", zap.String("request_id", RequestID(r.Context())))
	ctx, done := s.detached(r)
	defer done()
	report, err := s.index.Build(ctx)
	if err != nil {
		s.fail(w, r, "build failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Paths) == 0 {
		s.respondError(w, r, http.StatusBadRequest, "paths is required")
		return
	}
	s.logger.Debug("update request", zap.String("request_id", RequestID(r.Context())), zap.Strings("paths", req.Paths))
	ctx, done := s.detached(r)
	defer done()
	report, err := s.index.Update(ctx, req.Paths)
	if err != nil {
		s.fail(w, r, "update failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

// detached returns a context that keeps the request's values but is cancelled
// only with the server, so a client disconnect does not abort an index write.
func (s *Server) detached(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	stop := context.AfterFunc(s.base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.index.Status())
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, r, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

// StatusFor maps engine errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrIndexNotReady), errors.Is(err, errs.ErrEmptyCorpus):
		return http.StatusConflict
	case errors.Is(err, errs.ErrProviderTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, errs.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.String("request_id", RequestID(r.Context())), zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.String("request_id", RequestID(r.Context())), zap.Error(err))
	}
	s.respondError(w, r, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message, "request_id": RequestID(r.Context())})
}
